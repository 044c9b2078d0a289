package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/suprememoocow/textronics-monitor/pkg/channel"
	"github.com/suprememoocow/textronics-monitor/pkg/config"
	"github.com/suprememoocow/textronics-monitor/pkg/metrics"
	"github.com/suprememoocow/textronics-monitor/pkg/observer"
	"github.com/suprememoocow/textronics-monitor/pkg/permission"
	"github.com/suprememoocow/textronics-monitor/pkg/pubsub"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	setLogLevel(cfg.LogLevel)

	clientID := cfg.ClientID()
	m := metrics.New(clientID, nil)

	log.WithField("address", cfg.ListenAddress).Info("textronics_monitor listening")

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(cfg.ListenAddress, nil)
		if err != nil {
			log.WithField("address", cfg.ListenAddress).WithError(err).Fatal("failed to listen on address")
		}
	}()

	granted, err := cfg.GrantedCapabilities()
	if err != nil {
		log.WithError(err).Fatal("invalid capability list")
	}

	logger := log.StandardLogger()
	updates := channel.New(logger)
	defer updates.Close()

	manager := pubsub.New(clientID, pubsub.Config{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		Secure:    cfg.MQTT.Secure,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		KeepAlive: cfg.MQTT.KeepAlive,
	}, m, updates, logger)

	obs := observer.New(observer.Config{
		Channel:     updates,
		Worker:      manager,
		Permissions: permission.NewHostRequester(granted),
		Logger:      logger,
		OnIgnored:   m.NotificationIgnored,
	})
	obs.InstallStatusHandlers(m)

	obs.Activate(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	obs.Deactivate(ctx)
	if ctx.Err() != nil {
		log.Fatal("graceful shutdown timed out")
	}
}

func setLogLevel(level int) {
	switch level {
	case 0:
		log.SetLevel(log.DebugLevel)
	case 1:
		log.SetLevel(log.InfoLevel)
	case 2:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}
