package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/suprememoocow/textronics-monitor/pkg/permission"
	"gopkg.in/yaml.v3"
)

var ErrMissingHost = errors.New("mqtt host is required")

type Config struct {
	ListenAddress string           `yaml:"listen_address"`
	LogLevel      int              `yaml:"log_level"`
	ShutdownGrace time.Duration    `yaml:"shutdown_grace"`
	MQTT          MQTTConfig       `yaml:"mqtt"`
	Permissions   PermissionConfig `yaml:"permissions"`
}

type MQTTConfig struct {
	ClientPrefix string        `yaml:"client_prefix"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Secure       bool          `yaml:"secure"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	KeepAlive    time.Duration `yaml:"keepalive_interval"`
}

type PermissionConfig struct {
	// Granted is a comma separated capability list, or "all".
	Granted string `yaml:"granted"`
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() Config {
	return Config{
		ListenAddress: getEnv("LISTEN_ADDR", "127.0.0.1:9227"),
		LogLevel:      getIntEnv("LOG_LEVEL", 2),
		ShutdownGrace: getDurationEnv("SHUTDOWN_GRACE", 10*time.Second),
		MQTT: MQTTConfig{
			ClientPrefix: getEnv("MQTT_CLIENT_PREFIX", "textronics_monitor"),
			Host:         getEnv("MQTT_HOST", ""),
			Port:         getIntEnv("MQTT_PORT", 8883),
			Secure:       getBoolEnv("MQTT_SECURE", true),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			KeepAlive:    getDurationEnv("KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Permissions: PermissionConfig{
			Granted: getEnv("GRANTED_CAPABILITIES", "all"),
		},
	}
}

func (c *Config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.ListenAddress, "web.listen-address", c.ListenAddress,
		"Address on which to expose metrics.")
	fs.IntVar(&c.LogLevel, "log.level", c.LogLevel,
		"Log level: 0=debug, 1=info, 2=warn, 3=error")
	fs.DurationVar(&c.ShutdownGrace, "shutdown.grace", c.ShutdownGrace,
		"Time allowed for a graceful shutdown")
	fs.StringVar(&c.MQTT.ClientPrefix, "mqtt.client_prefix", c.MQTT.ClientPrefix,
		"Prefix for MQTT clientID")
	fs.StringVar(&c.MQTT.Host, "mqtt.host", c.MQTT.Host,
		"MQTT broker IP address or hostname")
	fs.IntVar(&c.MQTT.Port, "mqtt.port", c.MQTT.Port,
		"MQTT broker port")
	fs.BoolVar(&c.MQTT.Secure, "mqtt.secure", c.MQTT.Secure,
		"SSL-enabled communication")
	fs.StringVar(&c.MQTT.Username, "mqtt.username", c.MQTT.Username,
		"MQTT username")
	fs.StringVar(&c.MQTT.Password, "mqtt.password", c.MQTT.Password,
		"MQTT password")
	fs.DurationVar(&c.MQTT.KeepAlive, "textronics.keepalive_interval", c.MQTT.KeepAlive,
		"Keep-alive publish interval")
	fs.StringVar(&c.Permissions.Granted, "permissions.granted", c.Permissions.Granted,
		"Capabilities the host grants, comma separated, or \"all\"")
}

// Parse resolves the configuration from defaults, the environment, an
// optional YAML file given by -config, and finally the command line.
func Parse(name string, args []string) (Config, error) {
	cfg := FromEnv()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", getEnv("CONFIG_FILE", ""), "Path to a YAML config file")
	cfg.register(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *path == "" {
		return cfg, cfg.Validate()
	}

	loaded, err := Load(*path, FromEnv())
	if err != nil {
		return Config{}, err
	}

	// Flags given on the command line win over the file.
	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", "", "")
	loaded.register(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return loaded, loaded.Validate()
}

// Load overlays the YAML file at path onto base.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.MQTT.Host == "" {
		return ErrMissingHost
	}
	if _, err := c.GrantedCapabilities(); err != nil {
		return err
	}
	return nil
}

// ClientID returns a unique MQTT client ID built from the configured prefix.
func (c Config) ClientID() string {
	return fmt.Sprintf("%s-%s", c.MQTT.ClientPrefix, uuid.NewString())
}

func (c Config) GrantedCapabilities() ([]permission.Capability, error) {
	return permission.ParseList(c.Permissions.Granted)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
