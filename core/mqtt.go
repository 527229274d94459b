package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// SelfSyncTopic carries the shutdown barrier token. It is shared by all
// bridges against one broker; each process matches only its own token.
const SelfSyncTopic = "tmp/selfsync"

// Message is an inbound MQTT message, funneled into the event loop.
type Message struct {
	Topic   string
	Payload string
}

// MQTTConfig describes the broker session.
type MQTTConfig struct {
	// Host and Port locate the broker.
	Host string
	Port int
	// ClientID is the session's client identifier, typically
	// "<name>-<pid>".
	ClientID string
	// QoS for all publishes and subscriptions. Negative selects the
	// default: 0 against localhost, 1 otherwise.
	QoS int
	// Keepalive for the MQTT session itself.
	Keepalive time.Duration
}

// EffectiveQoS resolves the configured QoS, applying the
// localhost-gets-0 default.
func (c MQTTConfig) EffectiveQoS() byte {
	if c.QoS >= 0 {
		return byte(c.QoS)
	}
	if c.Host == "localhost" || c.Host == "127.0.0.1" || c.Host == "::1" {
		return 0
	}
	return 1
}

// Session wraps one connection to the MQTT broker. The paho client runs
// its own network goroutines; the Session funnels inbound messages and
// the connection-lost signal into channels so the bridge event loop
// remains the only consumer of broker events.
type Session struct {
	log      *slog.Logger
	cli      mqtt.Client
	qos      byte
	messages chan Message
	lost     chan error
}

// ConnectMQTT establishes the broker session. The connection is not
// auto-reconnecting: a lost broker surfaces on Lost and the process
// exits, matching the bridge failure policy.
func ConnectMQTT(log *slog.Logger, cfg MQTTConfig) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		log:      log,
		qos:      cfg.EffectiveQoS(),
		messages: make(chan Message, 64),
		lost:     make(chan error, 1),
	}

	keepalive := cfg.Keepalive
	if keepalive == 0 {
		keepalive = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetKeepAlive(keepalive).
		SetAutoReconnect(false).
		SetOrderMatters(true).
		SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case s.lost <- err:
		default:
		}
	})
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		s.messages <- Message{Topic: m.Topic(), Payload: string(m.Payload())}
	})

	s.cli = mqtt.NewClient(opts)
	if token := s.cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s:%d: %w", cfg.Host, cfg.Port, token.Error())
	}
	return s, nil
}

// Messages returns the inbound message channel. Subscribed messages are
// delivered in broker order.
func (s *Session) Messages() <-chan Message {
	return s.messages
}

// Lost returns a channel that receives the error once the broker
// connection drops.
func (s *Session) Lost() <-chan error {
	return s.lost
}

// QoS returns the session's effective QoS.
func (s *Session) QoS() byte {
	return s.qos
}

// Subscribe registers the given topic filters. Inbound messages arrive
// on Messages.
func (s *Session) Subscribe(filters ...string) error {
	for _, f := range filters {
		token := s.cli.Subscribe(f, s.qos, nil)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", f, token.Error())
		}
	}
	return nil
}

// Publish sends one message. Delivery errors are reported
// asynchronously through the log; the event loop never blocks on the
// broker.
func (s *Session) Publish(topic, payload string, retain bool) error {
	token := s.cli.Publish(topic, s.qos, retain, []byte(payload))
	go func() {
		if token.Wait() && token.Error() != nil {
			s.log.Warn("publish failed", "topic", topic, "error", token.Error())
		}
	}()
	return nil
}

// SelfSync performs the shutdown barrier: it publishes a process-unique
// token to the self-sync topic and blocks until the broker echoes it
// back, guaranteeing every previously queued publish has been committed.
func (s *Session) SelfSync(ctx context.Context) error {
	token := fmt.Sprintf("%d-%d-%d", os.Getpid(), time.Now().Unix(), rand.Int31())
	echoed := make(chan struct{}, 1)

	sub := s.cli.Subscribe(SelfSyncTopic, s.qos, func(_ mqtt.Client, m mqtt.Message) {
		if string(m.Payload()) == token {
			select {
			case echoed <- struct{}{}:
			default:
			}
		}
	})
	if sub.Wait() && sub.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", SelfSyncTopic, sub.Error())
	}
	pub := s.cli.Publish(SelfSyncTopic, s.qos, false, []byte(token))
	if pub.Wait() && pub.Error() != nil {
		return fmt.Errorf("publish %s: %w", SelfSyncTopic, pub.Error())
	}

	select {
	case <-echoed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("self-sync: %w", ctx.Err())
	}
}

// Disconnect closes the broker session, allowing a short drain for
// in-flight packets.
func (s *Session) Disconnect() {
	s.cli.Disconnect(250)
}
