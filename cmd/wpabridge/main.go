package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"i4.energy/across/linebridge/core"
	"i4.energy/across/linebridge/wpa"
)

func main() {
	flag.String("host", "localhost", "MQTT broker host")
	flag.Int("port", 1883, "MQTT broker TCP port")
	flag.Int("qos", -1, "MQTT QoS (-1: 0 against localhost, 1 otherwise)")
	flag.String("iface", "wlan0", "wpa_supplicant interface")
	flag.String("socket-dir", "", "wpa_supplicant control socket directory")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Bool("no-ap-bgscan", false, "Emit empty bgscan for AP/mesh networks")
	flag.Bool("no-plain-psk", false, "Store derived PBKDF2 keys instead of plaintext passphrases")
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

	transport, err := wpa.SocketDialer{
		Iface:     config.Iface,
		SocketDir: config.SocketDir,
	}.Dial(ctx)
	if err != nil {
		logger.Error("Failed to open control socket", "iface", config.Iface, "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	sess, err := core.ConnectMQTT(logger.With("component", "mqtt"), core.MQTTConfig{
		Host:     config.MQTTHost,
		Port:     config.MQTTPort,
		ClientID: fmt.Sprintf("wpatomqtt-%d", os.Getpid()),
		QoS:      config.QoS,
	})
	if err != nil {
		logger.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer sess.Disconnect()

	bridge := wpa.New(
		logger.With("component", "bridge"),
		wpa.Config{
			Iface:      config.Iface,
			SocketDir:  config.SocketDir,
			NoAPBgscan: config.NoAPBgscan,
			NoPlainPSK: config.NoPlainPSK,
		},
		core.NewScheduler(),
		core.NewPublisher(logger.With("component", "publish"), sess.Publish),
		transport,
		sess,
	)

	logger.Info("Starting supplicant bridge", "iface", config.Iface)
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
