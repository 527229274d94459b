package at

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"i4.energy/across/linebridge/core"
)

const (
	keyKeepalive  core.Key = "at-keepalive"
	keyPollCSQ    core.Key = "at-poll-csq"
	keyPollCREG   core.Key = "at-poll-creg"
	keyPollCGREG  core.Key = "at-poll-cgreg"
	keyPollCOPS   core.Key = "at-poll-cops"
	keyPollCNTI   core.Key = "at-poll-cnti"
	maxBodyLines           = 32
	readChunkSize          = 1024
)

// Pollers selects which periodic state refreshes run.
type Pollers struct {
	CSQ   bool
	CREG  bool
	CGREG bool
	COPS  bool
	CNTI  bool
}

// Config holds the modem bridge settings.
type Config struct {
	// Device is the modem tty path, used for logging and the default
	// prefix.
	Device string
	// Prefix is the MQTT topic prefix, trailing slash included.
	Prefix string
	// QueryCallEnd requests AT+CEER after an unsolicited NO CARRIER.
	QueryCallEnd bool
	// Pollers enables the periodic refreshes.
	Pollers Pollers
	// CommandTimeout is the default per-command deadline; operator and
	// network scans get their own, longer ones.
	CommandTimeout time.Duration
	// Keepalive probes the modem after this much write silence.
	Keepalive time.Duration
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix(c.Device)
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.Keepalive == 0 {
		c.Keepalive = 5 * time.Second
	}
}

// DefaultPrefix derives the topic prefix from the device path:
// /dev/ttyUSB0 becomes "net/ttyUSB0/".
func DefaultPrefix(device string) string {
	base := device
	if i := strings.LastIndexByte(device, '/'); i >= 0 {
		base = device[i+1:]
	}
	return "net/" + base + "/"
}

// Bridge connects one AT modem tty to an MQTT session. All mutable
// state is owned by the Run loop; producer goroutines only feed its
// channels.
type Bridge struct {
	log       *slog.Logger
	cfg       Config
	sched     *core.Scheduler
	queue     *core.Queue
	pub       *core.Publisher
	sess      *core.Session
	transport core.Transport

	lineBuf *core.LineBuffer
	body    []string

	notify map[string]func(rest string)

	operators OperatorTable
	imsi      string
	simop     string
	brand     string
	model     string
	quirks    Quirk

	// source-priority bookkeeping for properties carried by several
	// reply kinds
	src map[string]source

	fatal error
}

// New assembles a modem bridge over an established transport. The
// session may be nil when the bridge is driven directly (tests).
func New(log *slog.Logger, cfg Config, sched *core.Scheduler, pub *core.Publisher, transport core.Transport, sess *core.Session) *Bridge {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:       log,
		cfg:       cfg,
		sched:     sched,
		pub:       pub,
		sess:      sess,
		transport: transport,
		lineBuf:   core.NewLineBuffer(0),
		src:       make(map[string]source),
	}
	b.initNotify()
	b.queue = core.NewQueue(core.QueueConfig{
		Log:   log,
		Sched: sched,
		Write: func(cmd string) error {
			b.log.Debug("> " + cmd)
			_, err := transport.Write([]byte(cmd + "\r"))
			return err
		},
		TimeoutFor: b.timeoutFor,
		OnTimeout: func(cmd string) {
			b.failf("%s: timeout", cmd)
		},
		OnLost: func(err error) {
			if b.fatal == nil {
				b.fatal = err
			}
		},
		OnWrite: func(string) {
			b.sched.AddTimeout(keyKeepalive, b.cfg.Keepalive, b.keepalive)
		},
	})
	return b
}

// timeoutFor picks the response deadline from the command text: scans
// take far longer than ordinary status queries.
func (b *Bridge) timeoutFor(cmd string) time.Duration {
	c := strings.ToUpper(cmd)
	switch {
	case strings.HasPrefix(c, "AT+COPS=?"):
		// operator scan
		return 60 * time.Second
	case strings.HasPrefix(c, "AT+CNETSCAN"):
		// full network scan
		return 180 * time.Second
	}
	return b.cfg.CommandTimeout
}

// Run drives the bridge until the context is cancelled, a termination
// signal arrives, or the transport or broker is lost.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.sess.Subscribe(
		b.cfg.Prefix+"raw/send",
		b.cfg.Prefix+"at/set",
		b.cfg.Prefix+"ops/scan",
	); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	data, readErrs := core.ReadPump(b.transport, readChunkSize)

	// wake-up, echo off, verbose errors, then identification; the
	// +CPIN reply kicks off the SIM batch
	b.queue.Enqueue("AT")
	b.queue.Enqueue("ATE0")
	b.queue.Enqueue("AT+CMEE=2")
	b.queue.Enqueue("AT+CGMI")
	b.queue.Enqueue("AT+CGMM")
	b.queue.Enqueue("AT+CGMR")
	b.queue.Enqueue("AT+CGSN")
	b.queue.Enqueue("AT+CPIN?")
	b.startPollers()

	for {
		b.sched.Flush(time.Now())
		if b.fatal != nil {
			b.log.Error("modem lost", "device", b.cfg.Device, "error", b.fatal)
			b.drain(ctx)
			return fmt.Errorf("%s: %w", b.cfg.Device, b.fatal)
		}

		var wake <-chan time.Time
		var timer *time.Timer
		if d, ok := b.sched.WaitTime(time.Now()); ok {
			timer = time.NewTimer(d)
			wake = timer.C
		}

		select {
		case chunk, ok := <-data:
			if !ok {
				b.log.Warn("modem EOF", "device", b.cfg.Device)
				b.drain(ctx)
				return core.ErrTransportLost
			}
			if err := b.handleChunk(chunk); err != nil {
				b.log.Error("parse failed", "error", err)
				b.drain(ctx)
				return err
			}
		case err := <-readErrs:
			b.log.Warn("modem read failed", "error", err)
			b.drain(ctx)
			return fmt.Errorf("%s: %w", b.cfg.Device, core.ErrTransportLost)
		case msg := <-b.sess.Messages():
			b.onMessage(msg)
		case err := <-b.sess.Lost():
			// broker unreachable, no point draining
			return fmt.Errorf("%w: %v", core.ErrBrokerLost, err)
		case s := <-sig:
			b.log.Info("terminating", "signal", s)
			b.drain(ctx)
			return nil
		case <-ctx.Done():
			b.drain(context.Background())
			return ctx.Err()
		case <-wake:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// handleChunk feeds raw tty bytes through the sliding buffer and
// processes every completed record.
func (b *Bridge) handleChunk(chunk []byte) error {
	if err := b.lineBuf.Append(chunk); err != nil {
		return err
	}
	for {
		rec, ok := b.lineBuf.Next()
		if !ok {
			return nil
		}
		b.handleRecord(rec)
	}
}

// handleRecord routes one record: URC, response terminator, or
// response body.
func (b *Bridge) handleRecord(rec string) {
	inFlight := b.queue.Len() > 0
	switch Classify(rec, inFlight) {
	case KindURC:
		b.handleURC(rec)
	case KindTerminator:
		b.finishResponse(rec)
	case KindBody:
		b.appendBody(rec)
	}
}

// appendBody collects one intermediate response line. The collection is
// bounded; an overrun collapses the tail into a single ellipsis entry.
func (b *Bridge) appendBody(rec string) {
	if len(b.body) < maxBodyLines-1 {
		b.body = append(b.body, rec)
		return
	}
	if len(b.body) == maxBodyLines-1 {
		b.body = append(b.body, "...")
		return
	}
	b.body[maxBodyLines-1] = "..."
}

// finishResponse completes the in-flight command: the reconstructed
// response goes out raw, the head's handler digests the body, and the
// queue advances.
func (b *Bridge) finishResponse(term string) {
	head, _ := b.queue.Head()
	body := b.body
	b.body = nil

	raw := strings.Join(append(append([]string{}, body...), term), "\n")
	b.pub.PublishRaw(b.cfg.Prefix+"raw/at", raw)

	b.queue.ResponseDone()
	if term == OK {
		b.dispatchResponse(head, body)
	} else {
		b.log.Warn("command failed", "cmd", head, "status", term)
		b.failf("%s: %s", head, term)
	}
}

// handleURC processes an unsolicited record.
func (b *Bridge) handleURC(rec string) {
	switch rec {
	case Ring:
		b.pub.PublishRaw(b.cfg.Prefix+"raw/at", rec)
		// a ring burst must not starve the in-flight command
		b.queue.TouchTimeout()
		return
	case PbDone, SmsDone:
		// vendor quirk: phonebook / SMS subsystem finished loading,
		// SIM data is now trustworthy
		b.log.Info("SIM setup finalized", "marker", rec)
		b.queue.TouchTimeout()
		return
	case NoCarrier:
		b.pub.PublishRaw(b.cfg.Prefix+"raw/at", rec)
		if b.cfg.QueryCallEnd {
			b.queue.EnqueueUnique("AT+CEER")
		}
		return
	}
	b.handleNotification(rec, false)
}

// keepalive enqueues a no-op probe when the line has been silent for
// the keepalive interval.
func (b *Bridge) keepalive() {
	if b.queue.Len() == 0 {
		b.queue.EnqueueUnique("AT")
	}
}

func (b *Bridge) startPollers() {
	type poller struct {
		key      core.Key
		enabled  bool
		cmd      string
		interval time.Duration
	}
	pollers := []poller{
		{keyPollCSQ, b.cfg.Pollers.CSQ, "AT+CSQ", 10 * time.Second},
		{keyPollCREG, b.cfg.Pollers.CREG, "AT+CREG?", 30 * time.Second},
		{keyPollCGREG, b.cfg.Pollers.CGREG, "AT+CGREG?", 30 * time.Second},
		{keyPollCOPS, b.cfg.Pollers.COPS, "AT+COPS?", 60 * time.Second},
		{keyPollCNTI, b.cfg.Pollers.CNTI, "AT*CNTI=0", 30 * time.Second},
	}
	for _, p := range pollers {
		if !p.enabled {
			continue
		}
		var fire func()
		fire = func() {
			b.queue.EnqueueUnique(p.cmd)
			b.sched.AddTimeout(p.key, p.interval, fire)
		}
		b.sched.AddTimeout(p.key, p.interval, fire)
	}
}

// onMessage routes one inbound MQTT message.
func (b *Bridge) onMessage(msg core.Message) {
	if !strings.HasPrefix(msg.Topic, b.cfg.Prefix) {
		return
	}
	switch msg.Topic[len(b.cfg.Prefix):] {
	case "raw/send", "at/set":
		cmd := strings.TrimRight(msg.Payload, "\r\n")
		if cmd != "" {
			b.queue.Enqueue(cmd)
		}
	case "ops/scan":
		if b.quirks&QuirkDetachedScan != 0 {
			b.queue.EnqueueUnique("AT+COPS=2")
		}
		b.queue.EnqueueUnique("AT+COPS=?")
	}
}

// drain publishes the empty payload on every non-empty retained topic
// and waits for the broker to acknowledge via the self-sync barrier.
func (b *Bridge) drain(ctx context.Context) {
	b.pub.ClearAll()
	if b.sess == nil {
		return
	}
	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.sess.SelfSync(syncCtx); err != nil {
		b.log.Warn("self-sync failed", "error", err)
	}
}

func (b *Bridge) failf(format string, args ...any) {
	b.pub.PublishRaw(b.cfg.Prefix+"fail", fmt.Sprintf(format, args...))
}

func (b *Bridge) warnf(format string, args ...any) {
	b.pub.PublishRaw(b.cfg.Prefix+"warn", fmt.Sprintf(format, args...))
}
