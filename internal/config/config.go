package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joshp123/rointe-golang/rointe"
)

const (
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultPollInterval = 30 * time.Second
	DefaultMQTTTopic    = "rointe"
	DefaultLogLevel     = "info"
)

// MQTT configures the optional state publisher. An empty broker disables it.
type MQTT struct {
	Broker   string
	Username string
	Password string
	Topic    string
}

// Config is the bridge daemon configuration. Values come from a config file
// when one exists, overridden by ROINTE_* environment variables.
type Config struct {
	Username     string
	Password     string
	Backend      rointe.Backend
	Installation string

	HTTPAddr     string
	PollInterval time.Duration
	LogLevel     string

	MQTT MQTT
}

// Load reads the configuration. path may be empty, in which case only the
// default search path and environment are consulted.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROINTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend", string(rointe.BackendAuto))
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("/etc/rointe-bridge")
		v.AddConfigPath(".")
		// Missing file is fine here: env vars can carry everything.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Username:     v.GetString("username"),
		Password:     v.GetString("password"),
		Backend:      rointe.Backend(v.GetString("backend")),
		Installation: v.GetString("installation"),
		HTTPAddr:     v.GetString("http_addr"),
		PollInterval: v.GetDuration("poll_interval"),
		LogLevel:     v.GetString("log_level"),
		MQTT: MQTT{
			Broker:   v.GetString("mqtt.broker"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
			Topic:    v.GetString("mqtt.topic"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("config: username and password are required")
	}
	switch c.Backend {
	case rointe.BackendAuto, rointe.BackendRointe, rointe.BackendNexa:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("config: poll_interval %s too small", c.PollInterval)
	}
	return nil
}
