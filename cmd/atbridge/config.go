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
	// Prefix is the MQTT topic prefix; empty derives net/<tty>/
	Prefix string
	// Device is the modem tty path (e.g. "/dev/ttyUSB0")
	Device string
	// BaudRate for serial communication with the modem
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// QueryCallEnd requests the call-end cause after NO CARRIER
	QueryCallEnd bool
	// Poll selects the periodic pollers, comma separated
	// (csq,creg,cgreg,cops,cnti)
	Poll string
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
		c.Device = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.Poll = "csq,creg,cgreg"
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

		if prefix := os.Getenv("MQTT_PREFIX"); prefix != "" {
			c.Prefix = prefix
		}

		if device := os.Getenv("AT_DEVICE"); device != "" {
			c.Device = device
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
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
			case "prefix":
				c.Prefix = f.Value.String()
			case "device":
				c.Device = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "query-call-end":
				c.QueryCallEnd = f.Value.String() == "true"
			case "poll":
				c.Poll = f.Value.String()
			}
		})
		return nil
	}
}
