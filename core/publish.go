package core

import (
	"log/slog"
	"sort"
)

// PublishFunc sends one MQTT message. It is the seam between the
// publisher cache and the broker session, mocked out in tests.
type PublishFunc func(topic, payload string, retain bool) error

// Publisher owns the derived-state cache: for every retained topic it
// remembers the last payload the broker received, and suppresses
// publishes that would not change it. Raw passthrough topics bypass the
// cache and are never retained.
type Publisher struct {
	log   *slog.Logger
	send  PublishFunc
	cache map[string]string
}

// NewPublisher returns a Publisher delivering through send.
func NewPublisher(log *slog.Logger, send PublishFunc) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		log:   log,
		send:  send,
		cache: make(map[string]string),
	}
}

// Publish sends value retained on topic, unless the cache already holds
// that exact value. The cache is updated only after a successful send so
// it always equals what the broker last received.
func (p *Publisher) Publish(topic, value string) {
	if cur, ok := p.cache[topic]; ok && cur == value {
		return
	}
	if err := p.send(topic, value, true); err != nil {
		p.log.Error("publish failed", "topic", topic, "error", err)
		return
	}
	p.cache[topic] = value
}

// PublishRaw sends value non-retained on topic, unconditionally.
func (p *Publisher) PublishRaw(topic, value string) {
	if err := p.send(topic, value, false); err != nil {
		p.log.Error("publish failed", "topic", topic, "error", err)
	}
}

// Cached returns the last value published retained on topic.
func (p *Publisher) Cached(topic string) string {
	return p.cache[topic]
}

// ClearAll publishes the empty payload to every retained topic whose
// cache is non-empty, wiping the broker's last-value state for this
// session. Used on clean shutdown, before the self-sync barrier.
func (p *Publisher) ClearAll() {
	topics := make([]string, 0, len(p.cache))
	for t, v := range p.cache {
		if v != "" {
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	for _, t := range topics {
		p.Publish(t, "")
	}
}
