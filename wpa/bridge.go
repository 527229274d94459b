package wpa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"i4.energy/across/linebridge/core"
)

const (
	keyKeepalive core.Key = "wpa-keepalive"

	// datagrams carry complete multi-line replies
	readBufSize = 16 * 1024
)

// Config holds the supplicant bridge settings.
type Config struct {
	// Iface is the wpa_supplicant interface to control.
	Iface string
	// SocketDir overrides the control-socket directory.
	SocketDir string
	// NoAPBgscan sets bgscan="" on new AP and mesh networks, avoiding
	// warnings on chipsets that cannot scan while in AP/mesh mode.
	NoAPBgscan bool
	// NoPlainPSK derives quoted plaintext passphrases into PBKDF2 hex
	// keys instead of handing them to the supplicant verbatim.
	NoPlainPSK bool
	// CommandTimeout is the per-command response deadline.
	CommandTimeout time.Duration
	// Keepalive is the idle interval after which a no-op command probes
	// the supplicant.
	Keepalive time.Duration
}

func (c *Config) setDefaults() {
	if c.Iface == "" {
		c.Iface = "wlan0"
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 3 * time.Second
	}
	if c.Keepalive == 0 {
		c.Keepalive = 5 * time.Second
	}
}

// Bridge connects one wpa_supplicant control socket to an MQTT session:
// supplicant state flows out as retained topics, inbound MQTT commands
// become control requests. All mutable state is owned by the Run loop;
// producer goroutines only feed its channels.
type Bridge struct {
	log       *slog.Logger
	cfg       Config
	sched     *core.Scheduler
	queue     *core.Queue
	pub       *core.Publisher
	sess      *core.Session
	transport core.Transport

	networks NetworkSet
	bsss     BSSSet

	createSeq  int
	lastAPID   int
	lastMeshID int

	currMode  int
	currBSSID string
	currLevel int
	nStations int
	realState string
	statePub  bool
	selMode   int
	bssEvents bool

	fatal error
}

// New assembles a supplicant bridge over an established transport. The
// session may be nil when the bridge is driven directly (tests); then
// only the publisher seam carries output.
func New(log *slog.Logger, cfg Config, sched *core.Scheduler, pub *core.Publisher, transport core.Transport, sess *core.Session) *Bridge {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:        log,
		cfg:        cfg,
		sched:      sched,
		pub:        pub,
		sess:       sess,
		transport:  transport,
		lastAPID:   -1,
		lastMeshID: -1,
		selMode:    -1,
	}
	b.queue = core.NewQueue(core.QueueConfig{
		Log:   log,
		Sched: sched,
		Write: func(cmd string) error {
			b.log.Debug("> " + cmd)
			_, err := transport.Write([]byte(cmd))
			return err
		},
		TimeoutFor: func(string) time.Duration { return b.cfg.CommandTimeout },
		OnTimeout: func(cmd string) {
			b.failf("'%s': timeout", firstWord(cmd))
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

// Run drives the bridge until the context is cancelled, a termination
// signal arrives, or the transport or broker is lost. On every exit path
// except a lost broker the retained state is cleared and the self-sync
// barrier run before returning.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.sess.Subscribe(
		b.topic("ssid", "+"),
		b.topic("ssid", "config", "+"),
		b.topic("wifi", "config", "+"),
		b.topic("wifistate", "set"),
	); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	data, readErrs := core.ReadPump(b.transport, readBufSize)

	b.queue.Enqueue("ATTACH")

	for {
		b.sched.Flush(time.Now())
		if b.fatal != nil {
			b.log.Error("supplicant lost", "error", b.fatal)
			b.drain(ctx)
			return fmt.Errorf("%s: %w", b.cfg.Iface, b.fatal)
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
				b.log.Warn("supplicant EOF", "iface", b.cfg.Iface)
				b.drain(ctx)
				return core.ErrTransportLost
			}
			b.handleDatagram(chunk)
		case err := <-readErrs:
			b.log.Warn("supplicant read failed", "error", err)
			b.drain(ctx)
			return fmt.Errorf("%s: %w", b.cfg.Iface, core.ErrTransportLost)
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

// handleDatagram processes one record from the control socket: either
// an unsolicited "<level>EVENT ..." notification or the reply to the
// head-of-queue command.
func (b *Bridge) handleDatagram(data []byte) {
	text := strings.TrimSuffix(string(data), "\n")
	if rest, ok := eventRecord(text); ok {
		b.pub.PublishRaw("tmp/"+b.cfg.Iface+"/wpa", rest)
		b.handleEvent(rest)
		return
	}
	head, ok := b.queue.Head()
	if !ok {
		b.log.Warn("unsolicited response", "line", firstLine(text))
		return
	}
	b.log.Debug("< " + firstLine(text))
	b.queue.ResponseDone()
	b.handleResponse(head, text)
}

// eventRecord reports whether line is an unsolicited event, returning
// the record with its "<level>" sigil stripped.
func eventRecord(line string) (string, bool) {
	if len(line) >= 3 && line[0] == '<' && line[2] == '>' && line[1] >= '2' && line[1] <= '4' {
		return line[3:], true
	}
	return "", false
}

// keepalive probes the supplicant when no command was written for the
// keepalive interval. In station mode it doubles as the signal poller.
func (b *Bridge) keepalive() {
	if b.currMode == ModeStation {
		b.queue.EnqueueUnique("SIGNAL_POLL")
	}
	if b.currMode == ModeStation && b.currBSSID != "" {
		b.queue.EnqueueUnique("BSS " + b.currBSSID)
	} else {
		b.queue.EnqueueUnique("PING")
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

func (b *Bridge) topic(parts ...string) string {
	return "net/" + b.cfg.Iface + "/" + strings.Join(parts, "/")
}

func (b *Bridge) failf(format string, args ...any) {
	b.pub.PublishRaw(b.topic("fail"), fmt.Sprintf(format, args...))
}

// send enqueues a control command.
func (b *Bridge) send(format string, args ...any) {
	b.queue.Enqueue(fmt.Sprintf(format, args...))
}

// publishInt publishes a numeric property, normalizing the textual form
// so the publish-on-change cache compares values, not spellings.
func (b *Bridge) publishInt(topic, raw string) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return
	}
	b.pub.Publish(topic, strconv.Itoa(n))
}

// hideBSS clears the four retained topics of a vanished cell.
func (b *Bridge) hideBSS(bssid string) {
	b.pub.Publish(b.topic("bss", bssid, "freq"), "")
	b.pub.Publish(b.topic("bss", bssid, "level"), "")
	b.pub.Publish(b.topic("bss", bssid, "flags"), "")
	b.pub.Publish(b.topic("bss", bssid, "ssid"), "")
}

// setStations publishes the connected-station count; negative means
// "not acting as AP/mesh" and clears the topic.
func (b *Bridge) setStations(n int) {
	b.nStations = n
	if n < 0 {
		b.pub.Publish(b.topic("stations"), "")
		return
	}
	b.pub.Publish(b.topic("stations"), strconv.Itoa(n))
}

// isModeOff reports whether every network eligible under the selected
// mode filter is disabled.
func (b *Bridge) isModeOff() bool {
	var nnet, ndis int
	for _, net := range b.networks.All() {
		if b.selMode >= 0 && net.Mode != b.selMode {
			continue
		}
		nnet++
		if net.disabled() {
			ndis++
		}
	}
	return nnet > 0 && ndis >= nnet
}

// setWifiState publishes the aggregate wifi state. Entering station
// mode retires the AP-era speed/rssi values; a fully disabled network
// set reads as "off" regardless of the supplicant's own state.
func (b *Bridge) setWifiState(state string) {
	b.realState = state
	if state == "station" {
		b.pub.Publish(b.topic("speed"), "")
		b.pub.Publish(b.topic("rssi"), "")
	}
	if b.isModeOff() {
		state = "off"
	}
	if b.pub.Cached(b.topic("wifistate")) != state {
		b.log.Info("wifi state", "state", state)
	}
	b.pub.Publish(b.topic("wifistate"), state)
	b.statePub = true
}

// netsEnabledChanged re-derives the published state after networks were
// enabled or disabled.
func (b *Bridge) netsEnabledChanged() {
	b.setWifiState(b.realState)
}

// networkChanged propagates a network mutation: BSS flag strings of
// matching cells are refreshed, and the lastAP/lastmesh trackers
// recomputed.
func (b *Bridge) networkChanged(net *Network, removing bool) {
	for _, bss := range b.bsss.All() {
		if bss.SSID == "" || bss.SSID != net.SSID {
			continue
		}
		before := bss.Flags
		if removing {
			bss.setNetworkFlags(nil)
		} else {
			bss.setNetworkFlags(net)
		}
		if before != bss.Flags {
			b.pub.Publish(b.topic("bss", bss.BSSID, "flags"), bss.FlagsString())
		}
	}

	var exclude *Network
	if removing {
		exclude = net
	}
	lastAP := b.networks.LastOfMode(ModeAP, exclude)
	id := -1
	if lastAP != nil {
		id = lastAP.ID
	}
	if id != b.lastAPID {
		b.lastAPID = id
		ssid := ""
		if lastAP != nil {
			ssid = lastAP.SSID
		}
		b.pub.Publish(b.topic("lastAP"), ssid)
	}

	lastMesh := b.networks.LastOfMode(ModeMesh, exclude)
	id = -1
	if lastMesh != nil {
		id = lastMesh.ID
	}
	if id != b.lastMeshID {
		b.lastMeshID = id
		ssid := ""
		if lastMesh != nil {
			ssid = lastMesh.SSID
		}
		b.pub.Publish(b.topic("lastmesh"), ssid)
	}
}

// saveConfig requests SAVE_CONFIG once no further network mutations are
// queued, batching one save behind a burst of changes.
func (b *Bridge) saveConfig() {
	if b.queue.ContainsPrefix(
		"SET_NETWORK", "ENABLE_NETWORK", "DISABLE_NETWORK",
		"SELECT_NETWORK", "REMOVE_NETWORK", "ADD_NETWORK",
	) {
		return
	}
	b.queue.Enqueue("SAVE_CONFIG")
}

// findOrCreate returns the network for ssid, creating a pending entry
// and requesting ADD_NETWORK when it does not exist yet.
func (b *Bridge) findOrCreate(ssid string) *Network {
	if ssid == "" {
		return nil
	}
	if net := b.networks.BySSID(ssid); net != nil {
		return net
	}
	b.send("ADD_NETWORK")
	net := b.networks.Add(-1, ssid)
	b.createSeq++
	net.createSeq = b.createSeq
	return net
}

// addNetworkConfig applies one configuration key to a network, queuing
// it when the network's id is still pending.
func (b *Bridge) addNetworkConfig(net *Network, key, value string) {
	if net == nil {
		return
	}
	if net.ID >= 0 {
		b.send("SET_NETWORK %d %s %s", net.ID, key, value)
		return
	}
	net.addPending(key, value)
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
