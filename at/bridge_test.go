package at

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"i4.energy/across/linebridge/core"
)

type captured struct {
	topic   string
	payload string
	retain  bool
}

// scriptTransport records writes; reads are never issued because the
// fixtures feed received bytes straight into the parser.
type scriptTransport struct {
	writes *[]string
}

func (s *scriptTransport) Read(p []byte) (int, error) {
	select {}
}

func (s *scriptTransport) Write(p []byte) (int, error) {
	*s.writes = append(*s.writes, strings.TrimSuffix(string(p), "\r"))
	return len(p), nil
}

func (s *scriptTransport) Close() error { return nil }

type atFixture struct {
	t      *testing.T
	b      *Bridge
	writes []string
	msgs   []captured
}

func newATFixture(t *testing.T, cfg Config) *atFixture {
	t.Helper()
	f := &atFixture{t: t}
	if cfg.Prefix == "" {
		cfg.Prefix = "net/ttyM0/"
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := core.NewPublisher(logger, func(topic, payload string, retain bool) error {
		f.msgs = append(f.msgs, captured{topic, payload, retain})
		return nil
	})
	f.b = New(logger, cfg, core.NewScheduler(), pub, &scriptTransport{writes: &f.writes}, nil)
	return f
}

func (f *atFixture) feed(s string) {
	f.t.Helper()
	if err := f.b.handleChunk([]byte(s)); err != nil {
		f.t.Fatalf("handleChunk: %v", err)
	}
}

// retained returns the last retained payload seen on topic, or ok=false.
func (f *atFixture) retained(topic string) (string, bool) {
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].topic == topic && f.msgs[i].retain {
			return f.msgs[i].payload, true
		}
	}
	return "", false
}

func (f *atFixture) wrote(cmd string) bool {
	for _, w := range f.writes {
		if w == cmd {
			return true
		}
	}
	return false
}

func TestSignalPoll(t *testing.T) {
	t.Run("CSQ reply publishes rssi and ber", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+CSQ")
		if len(f.writes) != 1 || f.writes[0] != "AT+CSQ" {
			t.Fatalf("expected AT+CSQ written, got %v", f.writes)
		}

		f.feed("+CSQ: 17,2\r\n\r\nOK\r\n")

		if got, _ := f.retained("net/ttyM0/rssi"); got != "-79" {
			t.Errorf("expected rssi -79, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/ber"); got != "0.1% -- 0.5%" {
			t.Errorf("expected ber bucket, got %q", got)
		}
		if f.b.queue.Len() != 0 {
			t.Errorf("queue should be empty, has %d", f.b.queue.Len())
		}
	})

	t.Run("raw value 99 is the no-value sentinel", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+CSQ")
		f.feed("+CSQ: 99,99\r\nOK\r\n")

		if got, ok := f.retained("net/ttyM0/rssi"); !ok || got != "" {
			t.Errorf("expected empty rssi publish, got %q (%v)", got, ok)
		}
		if got, ok := f.retained("net/ttyM0/ber"); !ok || got != "" {
			t.Errorf("expected empty ber publish, got %q (%v)", got, ok)
		}
	})
}

func TestRegistration(t *testing.T) {
	t.Run("CREG reply decodes lac, cellid and technology", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+CREG?")
		f.feed("+CREG: 0,1,\"001F\",\"ABCD1234\",7\r\nOK\r\n")

		if got, _ := f.retained("net/ttyM0/reg"); got != "registered" {
			t.Errorf("expected registered, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/lac"); got != "31" {
			t.Errorf("expected lac 31, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/cellid"); got != "2882343476" {
			t.Errorf("expected cellid 2882343476, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/nt"); got != "4g" {
			t.Errorf("expected nt 4g, got %q", got)
		}
		if !f.b.queue.Contains("AT+COPS?") {
			t.Error("registration should chase the current operator")
		}
	})

	t.Run("GPRS registration updates the greg cache", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+CGREG?")
		f.feed("+CGREG: 0,5\r\nOK\r\n")

		if got, _ := f.retained("net/ttyM0/greg"); got != "roaming" {
			t.Errorf("expected greg roaming, got %q", got)
		}
		if _, ok := f.retained("net/ttyM0/reg"); ok {
			t.Error("CGREG must not touch the general registration")
		}
	})

	t.Run("unsolicited CREG is handled without a queued command", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.feed("+CREG: 2\r\n")

		if got, _ := f.retained("net/ttyM0/reg"); got != "searching" {
			t.Errorf("expected searching, got %q", got)
		}
	})
}

func TestSourcePriority(t *testing.T) {
	f := newATFixture(t, Config{})

	// CGREG claims nt at the highest priority
	f.b.queue.Enqueue("AT+CGREG?")
	f.feed("+CGREG: 0,1,\"0001\",\"00000001\",7\r\nOK\r\n")
	if got, _ := f.retained("net/ttyM0/nt"); got != "4g" {
		t.Fatalf("expected nt 4g, got %q", got)
	}

	// a COPS report carrying an older technology may not overwrite it
	f.b.queue.Enqueue("AT+COPS?")
	f.feed("+COPS: 0,0,\"Proximus\",2\r\nOK\r\n")
	if got, _ := f.retained("net/ttyM0/nt"); got != "4g" {
		t.Errorf("lower-priority source overwrote nt: %q", got)
	}

	// nor may it clear the value it does not own
	f.b.queue.Enqueue("AT+COPS?")
	f.feed("+COPS: 2\r\nOK\r\n")
	if got, _ := f.retained("net/ttyM0/nt"); got != "4g" {
		t.Errorf("lower-priority source cleared nt: %q", got)
	}

	// the owning source may clear
	f.b.queue.Enqueue("AT+CGREG?")
	f.feed("+CGREG: 0,0\r\nOK\r\n")
	if got, _ := f.retained("net/ttyM0/nt"); got != "" {
		t.Errorf("owning source failed to clear nt: %q", got)
	}
}

func TestOperators(t *testing.T) {
	t.Run("operator scan publishes stat,name,id rows", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+COPS=?")
		f.feed("+COPS: (2,\"Proximus\",\"PROXI\",\"20601\",7),(1,\"BASE\",\"BASE\",\"20620\",2),,(0,1,2,3,4),(0,1,2)\r\nOK\r\n")

		var ops string
		for _, m := range f.msgs {
			if m.topic == "net/ttyM0/ops" && !m.retain {
				ops = m.payload
			}
		}
		if ops != "2,Proximus,20601\n1,BASE,20620" {
			t.Errorf("unexpected scan rows: %q", ops)
		}
	})

	t.Run("current operator resolves against the table", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+COPN")
		f.feed("+COPN: \"20601\",\"Proximus\"\r\nOK\r\n")

		f.b.queue.Enqueue("AT+COPS?")
		f.feed("+COPS: 0,2,\"20601\",7\r\nOK\r\n")

		if got, _ := f.retained("net/ttyM0/op"); got != "Proximus" {
			t.Errorf("expected op Proximus, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/opid"); got != "20601" {
			t.Errorf("expected opid 20601, got %q", got)
		}
	})

	t.Run("IMSI prefix match derives the SIM operator", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+CIMI")
		f.feed("206011234567890\r\nOK\r\n")
		f.b.queue.Enqueue("AT+COPN")
		f.feed("+COPN: \"20601\",\"Proximus\"\r\nOK\r\n")

		if got, _ := f.retained("net/ttyM0/imsi"); got != "206011234567890" {
			t.Errorf("expected imsi published, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/simopid"); got != "20601" {
			t.Errorf("expected simopid 20601, got %q", got)
		}
		if got, _ := f.retained("net/ttyM0/simop"); got != "Proximus" {
			t.Errorf("expected simop Proximus, got %q", got)
		}
	})
}

func TestSIMLifecycle(t *testing.T) {
	t.Run("SIM ready kicks off the identification batch", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.feed("+CPIN: READY\r\n")

		for _, cmd := range []string{"AT+CSPN?", "AT+CCID", "AT+CIMI", "AT+CNUM", "AT+COPN"} {
			if !f.b.queue.Contains(cmd) && !f.wrote(cmd) {
				t.Errorf("expected %s queued", cmd)
			}
		}
	})

	t.Run("SIM removal clears the derived topics and the operator table", func(t *testing.T) {
		f := newATFixture(t, Config{})

		f.b.queue.Enqueue("AT+CIMI")
		f.feed("206011234567890\r\nOK\r\n")
		f.b.queue.Enqueue("AT+COPN")
		f.feed("+COPN: \"20601\",\"Proximus\"\r\nOK\r\n")

		f.feed("+SIMCARD: NOT AVAILABLE\r\n")

		for _, name := range []string{"imsi", "simop", "simopid"} {
			if got, _ := f.retained("net/ttyM0/" + name); got != "" {
				t.Errorf("%s should be cleared, got %q", name, got)
			}
		}
		if f.b.operators.Len() != 0 {
			t.Errorf("operator table should be cleared, has %d", f.b.operators.Len())
		}
	})
}

func TestVendorQuirks(t *testing.T) {
	f := newATFixture(t, Config{})

	f.b.queue.Enqueue("AT+CGMI")
	f.feed("SIMCOM INCORPORATED\r\nOK\r\n")

	if f.b.quirks&QuirkDetachedScan == 0 {
		t.Fatal("SIMCOM brand should enable the detached-scan quirk")
	}
	if got, _ := f.retained("net/ttyM0/brand"); got != "SIMCOM INCORPORATED" {
		t.Errorf("expected brand published, got %q", got)
	}

	f.b.onMessage(core.Message{Topic: "net/ttyM0/ops/scan"})

	if !f.wrote("AT+COPS=2") && !f.b.queue.Contains("AT+COPS=2") {
		t.Error("detached scan should detach first")
	}
	if !f.b.queue.Contains("AT+COPS=?") {
		t.Error("scan command should be queued")
	}
}

func TestURCNeverAdvancesQueue(t *testing.T) {
	f := newATFixture(t, Config{})

	f.b.queue.Enqueue("AT+CSQ")
	f.feed("RING\r\n")
	f.feed("+CMTI: \"SM\",3\r\n")

	if f.b.queue.Len() != 1 {
		t.Errorf("URCs must not move the queue, has %d", f.b.queue.Len())
	}

	f.feed("+CSQ: 17,2\r\nOK\r\n")
	if f.b.queue.Len() != 0 {
		t.Errorf("response should complete the command, has %d", f.b.queue.Len())
	}
}

func TestCommandFailure(t *testing.T) {
	f := newATFixture(t, Config{})

	f.b.queue.Enqueue("AT+CPIN?")
	f.feed("+CME ERROR: SIM not inserted\r\n")

	var fails []string
	for _, m := range f.msgs {
		if m.topic == "net/ttyM0/fail" {
			fails = append(fails, m.payload)
		}
	}
	if len(fails) != 1 || !strings.Contains(fails[0], "AT+CPIN?") || !strings.Contains(fails[0], "+CME ERROR") {
		t.Errorf("expected a fail publish with echo and terminator, got %v", fails)
	}
	if f.b.queue.Len() != 0 {
		t.Errorf("failed command should be dequeued, has %d", f.b.queue.Len())
	}
}

func TestRawIngress(t *testing.T) {
	f := newATFixture(t, Config{})

	f.b.onMessage(core.Message{Topic: "net/ttyM0/raw/send", Payload: "AT+CFUN=1\n"})

	if len(f.writes) != 1 || f.writes[0] != "AT+CFUN=1" {
		t.Errorf("expected verbatim enqueue, got %v", f.writes)
	}
}

func TestBodyOverflow(t *testing.T) {
	f := newATFixture(t, Config{})

	f.b.queue.Enqueue("AT+COPN")
	for i := 0; i < 40; i++ {
		f.feed("+COPN: \"20601\",\"Proximus\"\r\n")
	}
	f.feed("OK\r\n")

	// the raw echo carries at most the bounded body plus the ellipsis
	var raw string
	for _, m := range f.msgs {
		if m.topic == "net/ttyM0/raw/at" {
			raw = m.payload
		}
	}
	lines := strings.Split(raw, "\n")
	if len(lines) != maxBodyLines+1 {
		t.Errorf("expected %d echo lines, got %d", maxBodyLines+1, len(lines))
	}
	if lines[maxBodyLines-1] != "..." {
		t.Errorf("expected collapsed tail, got %q", lines[maxBodyLines-1])
	}
}
