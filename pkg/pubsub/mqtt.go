package pubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/suprememoocow/textronics-monitor/pkg/channel"
	"github.com/suprememoocow/textronics-monitor/pkg/parser"
	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

const bleStateTopic = "textronics/ble/+/state"
const keepAliveTopicTemplate = "textronics/keepalive/%s"
const defaultKeepAlivePeriod = 10 * time.Second
const disconnectQuiesceMillis = 250

func tokenToErr(t mqtt.Token) error {
	return tokenToErrContext(context.Background(), t)
}

func tokenToErrContext(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTLSConfig() *tls.Config {
	return &tls.Config{
		// The bridge broker uses a self signed certificate.
		InsecureSkipVerify: true, //nolint:gosec
	}
}

type Config struct {
	Host      string
	Port      int
	Secure    bool
	Username  string
	Password  string
	KeepAlive time.Duration
}

// Manager is the TexTronics manager worker. It keeps an MQTT session open,
// turns BLE bridge messages into notifications and reports its own MQTT
// link state on the same channel.
type Manager struct {
	clientID string
	config   Config
	observer types.Observer
	updates  *channel.Broadcaster
	log      logrus.FieldLogger

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	client    mqtt.Client
	running   bool
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(clientID string, config Config, observer types.Observer, updates *channel.Broadcaster, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = defaultKeepAlivePeriod
	}
	return &Manager{
		clientID:  clientID,
		config:    config,
		observer:  observer,
		updates:   updates,
		log:       log.WithField("client_id", clientID),
		newClient: mqtt.NewClient,
	}
}

// Start connects in the background. Calling Start on a running manager does
// nothing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	m.log.WithFields(logrus.Fields{
		"host": m.config.Host,
		"port": m.config.Port,
	}).Debug("connecting to mqtt")

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.client = m.newClient(m.createClientOptions())

	client := m.client
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := connectWait(runCtx, client); err != nil && !errors.Is(err, context.Canceled) {
			m.log.WithError(err).Error("failed to establish mqtt connection")
		}
	}()
	go m.keepAliver(runCtx, client)
}

// Stop disconnects and waits for background work, bounded by ctx. A
// disconnect notification is emitted if the session was up.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	client := m.client
	cancel := m.cancel
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	cancel()
	client.Disconnect(disconnectQuiesceMillis)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.WithError(ctx.Err()).Warn("mqtt shutdown timed out")
	}

	if wasConnected {
		m.observer.SetConnectionStatus(false)
		m.publish(types.NewMQTTNotification(types.MqttDisconnected))
	}
	m.log.Info("textronics manager stopped")
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) publish(n types.Notification) {
	if m.updates == nil {
		return
	}
	m.updates.Publish(channel.UpdateCategory, n)
}

// setConnected reports whether the state changed. Transitions after Stop
// are dropped.
func (m *Manager) setConnected(connected bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.connected == connected {
		return false
	}
	m.connected = connected
	return true
}

func connectWait(ctx context.Context, client mqtt.Client) error {
	err := tokenToErrContext(ctx, client.Connect())
	if err != nil {
		return fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	return nil
}

func (m *Manager) onConnect(client mqtt.Client) {
	m.log.Info("mqtt connected, subscribing to topics...")
	if m.setConnected(true) {
		m.observer.SetConnectionStatus(true)
		m.publish(types.NewMQTTNotification(types.MqttConnected))
	}

	// Subscriptions do not survive a reconnect with a clean session.
	err := tokenToErr(client.Subscribe(bleStateTopic, 1, mqttBLEStateHandler(m.observer, m.publish, m.log)))
	if err != nil {
		m.log.WithError(err).Error("failed to subscribe to ble state")
	}
}

func (m *Manager) onConnectionLost(_ mqtt.Client, e error) {
	m.log.WithError(e).Error("mqtt connection lost")
	if m.setConnected(false) {
		m.observer.SetConnectionStatus(false)
		m.publish(types.NewMQTTNotification(types.MqttDisconnected))
	}
}

func (m *Manager) createClientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetWriteTimeout(5 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(m.onConnectionLost)
	opts.SetOnConnectHandler(m.onConnect)

	if m.config.Secure {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", m.config.Host, m.config.Port))
		opts.SetTLSConfig(newTLSConfig())
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Host, m.config.Port))
	}

	if m.config.Username != "" {
		opts.SetUsername(m.config.Username)
	}

	if m.config.Password != "" {
		opts.SetPassword(m.config.Password)
	}

	opts.SetClientID(m.clientID)
	opts.SetCleanSession(true)

	return opts
}

func mqttBLEStateHandler(observer types.Observer, publish func(types.Notification), log logrus.FieldLogger) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		observer.SubscriptionReceived()
		n, err := parser.ParseBLEState(msg.Topic(), msg.Payload())
		if err != nil {
			observer.SubscriptionIgnored()
			log.WithError(err).WithFields(logrus.Fields{
				"topic":   msg.Topic(),
				"payload": string(msg.Payload()),
			}).Error("Could not parse ble state")
			return
		}

		publish(n)
	}
}

func (m *Manager) keepAliver(ctx context.Context, client mqtt.Client) {
	defer m.wg.Done()
	t := time.NewTicker(m.config.KeepAlive)
	defer t.Stop()
	topic := fmt.Sprintf(keepAliveTopicTemplate, m.clientID)
	for {
		select {
		case <-t.C:
			if !client.IsConnectionOpen() {
				continue
			}
			err := tokenToErrContext(ctx, client.Publish(topic, 1, false, ""))
			if err != nil && !errors.Is(err, context.Canceled) {
				m.log.WithError(err).Error("mqtt publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
