package main

import (
	"flag"
	"os"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	// MQTTHost is the broker host (e.g. "localhost")
	MQTTHost string
	// MQTTPort is the broker TCP port
	MQTTPort int
	// QoS for all publishes; -1 selects 0 against localhost, 1 otherwise
	QoS int
	// Iface is the wpa_supplicant interface to control
	Iface string
	// SocketDir overrides the control-socket directory
	SocketDir string
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// NoAPBgscan sets bgscan="" on new AP/mesh networks
	NoAPBgscan bool
	// NoPlainPSK derives plaintext passphrases into PBKDF2 keys
	NoPlainPSK bool
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.MQTTHost = "localhost"
		c.MQTTPort = 1883
		c.QoS = -1
		c.Iface = "wlan0"
		c.LogLevel = "info"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if host := os.Getenv("MQTT_HOST"); host != "" {
			c.MQTTHost = host
		}

		if port := os.Getenv("MQTT_PORT"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				c.MQTTPort = p
			}
		}

		if iface := os.Getenv("WPA_IFACE"); iface != "" {
			c.Iface = iface
		}

		if dir := os.Getenv("WPA_SOCKET_DIR"); dir != "" {
			c.SocketDir = dir
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "host":
				c.MQTTHost = f.Value.String()
			case "port":
				if p, err := strconv.Atoi(f.Value.String()); err == nil {
					c.MQTTPort = p
				}
			case "qos":
				if q, err := strconv.Atoi(f.Value.String()); err == nil {
					c.QoS = q
				}
			case "iface":
				c.Iface = f.Value.String()
			case "socket-dir":
				c.SocketDir = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "no-ap-bgscan":
				c.NoAPBgscan = f.Value.String() == "true"
			case "no-plain-psk":
				c.NoPlainPSK = f.Value.String() == "true"
			}
		})
		return nil
	}
}
