package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"i4.energy/across/linebridge/at"
	"i4.energy/across/linebridge/core"
)

func main() {
	flag.String("host", "localhost", "MQTT broker host")
	flag.Int("port", 1883, "MQTT broker TCP port")
	flag.Int("qos", -1, "MQTT QoS (-1: 0 against localhost, 1 otherwise)")
	flag.String("prefix", "", "MQTT topic prefix (default: net/<tty>/)")
	flag.String("device", "/dev/ttyUSB0", "Modem tty device")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Bool("query-call-end", false, "Request the call-end cause after NO CARRIER")
	flag.String("poll", "csq,creg,cgreg", "Periodic pollers (csq,creg,cgreg,cops,cnti)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(config.LogLevel),
	}))

	ctx := context.Background()

	transport, err := at.SerialDialer{
		PortName: config.Device,
		BaudRate: config.BaudRate,
	}.Dial(ctx)
	if err != nil {
		logger.Error("Failed to open modem", "device", config.Device, "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	sess, err := core.ConnectMQTT(logger.With("component", "mqtt"), core.MQTTConfig{
		Host:     config.MQTTHost,
		Port:     config.MQTTPort,
		ClientID: fmt.Sprintf("attomqtt-%d", os.Getpid()),
		QoS:      config.QoS,
	})
	if err != nil {
		logger.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer sess.Disconnect()

	bridge := at.New(
		logger.With("component", "bridge"),
		at.Config{
			Device:       config.Device,
			Prefix:       config.Prefix,
			QueryCallEnd: config.QueryCallEnd,
			Pollers:      parsePollers(config.Poll),
		},
		core.NewScheduler(),
		core.NewPublisher(logger.With("component", "publish"), sess.Publish),
		transport,
		sess,
	)

	logger.Info("Starting AT bridge", "device", config.Device)
	if err := bridge.Run(ctx); err != nil {
		logger.Error("Bridge terminated", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parsePollers(list string) at.Pollers {
	var p at.Pollers
	for _, name := range strings.Split(list, ",") {
		switch strings.TrimSpace(name) {
		case "csq":
			p.CSQ = true
		case "creg":
			p.CREG = true
		case "cgreg":
			p.CGREG = true
		case "cops":
			p.COPS = true
		case "cnti":
			p.CNTI = true
		}
	}
	return p
}
