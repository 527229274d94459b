package at

import (
	"strconv"
	"strings"
)

// source ranks the reply kinds that can carry nt, lac and cellid. A
// lower-ranked source may not overwrite a value set by a higher-ranked
// one, and only the source that set a value may clear it.
type source int

const (
	srcNone source = iota
	srcCNTI
	srcCOPS
	srcCREG
	srcCGREG
)

var regStatus = map[int]string{
	0: "not registered",
	1: "registered",
	2: "searching",
	3: "denied",
	4: "unknown",
	5: "roaming",
}

// accessTechName maps the 3GPP <AcT> value to a network-technology
// label.
var accessTechName = map[int]string{
	0:  "2g",
	1:  "2g",
	2:  "3g",
	3:  "2.75g",
	4:  "3.5g",
	5:  "3.5g",
	6:  "3.75g",
	7:  "4g",
	8:  "2g",
	9:  "4g",
	10: "5g",
	11: "5g",
	12: "5g",
	13: "5g",
}

// cntiTechName maps *CNTI technology names to the same labels.
var cntiTechName = map[string]string{
	"GSM":   "2g",
	"GPRS":  "2.5g",
	"EDGE":  "2.75g",
	"UMTS":  "3g",
	"HSDPA": "3.5g",
	"HSUPA": "3.5g",
	"HSPA":  "3.5g",
	"LTE":   "4g",
	"NR":    "5g",
}

var berBuckets = []string{
	"<0.01%",
	"0.01% -- 0.1%",
	"0.1% -- 0.5%",
	"0.5% -- 1%",
	"1% -- 2%",
	"2% -- 4%",
	"4% -- 8%",
	">8%",
}

// initNotify builds the notification dispatch table. The same parsers
// serve unsolicited records and solicited response bodies; both arrive
// as "+TAG: rest" lines.
func (b *Bridge) initNotify() {
	b.notify = map[string]func(rest string){
		"+CSQ":     b.onCSQ,
		"+CREG":    func(rest string) { b.onReg(rest, "reg", srcCREG) },
		"+CGREG":   func(rest string) { b.onReg(rest, "greg", srcCGREG) },
		"+COPS":    b.onCOPS,
		"+COPN":    b.onCOPN,
		"+CSPN":    b.onCSPN,
		"+CCID":    func(rest string) { b.pub.Publish(b.cfg.Prefix+"iccid", unquote(rest)) },
		"+ICCID":   func(rest string) { b.pub.Publish(b.cfg.Prefix+"iccid", unquote(rest)) },
		"+CNUM":    b.onCNUM,
		"+CPIN":    b.onCPIN,
		"+SIMCARD": b.onSIMCard,
		"+CEER":    func(rest string) { b.warnf("call ended: %s", rest) },
		"*CNTI":    b.onCNTI,
	}
}

// handleNotification parses one "+TAG: rest" record. Unknown tags on
// the unsolicited path are forwarded raw and never fatal; on the
// solicited path the full response echo already went out, so unknown
// body lines are simply skipped.
func (b *Bridge) handleNotification(rec string, solicited bool) {
	tag, rest, ok := strings.Cut(rec, ":")
	if ok {
		if h, found := b.notify[strings.ToUpper(strings.TrimSpace(tag))]; found {
			h(strings.TrimSpace(rest))
			return
		}
	}
	if !solicited {
		b.pub.PublishRaw(b.cfg.Prefix+"raw/at", rec)
	}
}

// publishBySource publishes a property that several reply kinds carry,
// honoring the source ranking.
func (b *Bridge) publishBySource(name, value string, src source) {
	cur := b.src[name]
	if value == "" {
		if src != cur {
			return
		}
		b.src[name] = srcNone
		b.pub.Publish(b.cfg.Prefix+name, "")
		return
	}
	if src < cur {
		return
	}
	b.src[name] = src
	b.pub.Publish(b.cfg.Prefix+name, value)
}

// onCSQ publishes signal strength: rssi in dBm and the bit-error-rate
// bucket. The raw value 99 is the "no value" sentinel and clears both.
func (b *Bridge) onCSQ(rest string) {
	f := splitArgs(rest)
	if len(f) < 1 {
		return
	}
	rssiRaw, err := strconv.Atoi(f[0].val)
	if err != nil {
		return
	}
	rssi := ""
	if rssiRaw != 99 {
		rssi = strconv.Itoa(-113 + 2*rssiRaw)
	}
	b.pub.Publish(b.cfg.Prefix+"rssi", rssi)

	ber := ""
	if len(f) >= 2 {
		if n, err := strconv.Atoi(f[1].val); err == nil && n >= 0 && n < len(berBuckets) {
			ber = berBuckets[n]
		}
	}
	b.pub.Publish(b.cfg.Prefix+"ber", ber)
}

// onReg digests a +CREG / +CGREG record, in both its unsolicited form
// (<stat>[,<lac>,<ci>[,<AcT>]]) and its query-response form with the
// leading <n> mode. GPRS registration updates the greg cache, general
// registration the reg cache.
func (b *Bridge) onReg(rest, topic string, src source) {
	f := splitArgs(rest)
	if len(f) == 0 {
		return
	}
	i := 0
	if len(f) >= 2 && !f[0].quoted && !f[1].quoted {
		// query response: skip the unsolicited-mode setting
		i = 1
	}
	stat, err := strconv.Atoi(f[i].val)
	if err != nil {
		return
	}
	status := regStatus[stat]
	if status == "" {
		status = f[i].val
	}
	b.pub.Publish(b.cfg.Prefix+topic, status)
	i++

	lac, cellid, nt := "", "", ""
	if i < len(f) && f[i].quoted {
		if v, err := strconv.ParseUint(f[i].val, 16, 32); err == nil {
			lac = strconv.FormatUint(v, 10)
		}
		i++
	}
	if i < len(f) && f[i].quoted {
		if v, err := strconv.ParseUint(f[i].val, 16, 32); err == nil {
			cellid = strconv.FormatUint(v, 10)
		}
		i++
	}
	if i < len(f) && !f[i].quoted {
		if act, err := strconv.Atoi(f[i].val); err == nil {
			nt = accessTechName[act]
		}
	}
	b.publishBySource("lac", lac, src)
	b.publishBySource("cellid", cellid, src)
	b.publishBySource("nt", nt, src)

	switch stat {
	case 1, 3, 5:
		// registered, denied or roaming: learn who we ended up with
		b.queue.EnqueueUnique("AT+COPS?")
	}
}

// onCOPS handles both +COPS shapes: the parenthesised operator-scan
// listing and the current-operator report.
func (b *Bridge) onCOPS(rest string) {
	if strings.HasPrefix(rest, "(") {
		b.onOperatorScan(rest)
		return
	}
	f := splitArgs(rest)
	if len(f) < 3 {
		// detached or no registration: only the mode is reported
		b.pub.Publish(b.cfg.Prefix+"op", "")
		b.pub.Publish(b.cfg.Prefix+"opid", "")
		b.publishBySource("nt", "", srcCOPS)
		return
	}
	oper := f[2].val
	op, opid := oper, ""
	if f[1].val == "2" {
		// numeric format
		opid = oper
		op = b.operators.NameByID(oper)
	} else {
		opid = b.operators.IDByName(oper)
	}
	b.pub.Publish(b.cfg.Prefix+"op", op)
	b.pub.Publish(b.cfg.Prefix+"opid", opid)
	if len(f) >= 4 {
		if act, err := strconv.Atoi(f[3].val); err == nil {
			b.publishBySource("nt", accessTechName[act], srcCOPS)
		}
	}
}

// onOperatorScan renders an operator-scan listing as "stat,name,id"
// rows. The trailing capability groups carry no quoted name and are
// skipped.
func (b *Bridge) onOperatorScan(rest string) {
	var rows []string
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '(')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open:], ')')
		if closing < 0 {
			break
		}
		group := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		f := splitArgs(group)
		if len(f) >= 4 && f[1].quoted {
			rows = append(rows, f[0].val+","+f[1].val+","+f[3].val)
		}
	}
	b.pub.PublishRaw(b.cfg.Prefix+"ops", strings.Join(rows, "\n"))
}

// onCOPN adds one operator-name table entry.
func (b *Bridge) onCOPN(rest string) {
	f := splitArgs(rest)
	if len(f) < 2 {
		return
	}
	b.operators.Add(f[0].val, f[1].val)
	b.updateSIMOperator()
}

// onCSPN publishes the SIM-stored service-provider name.
func (b *Bridge) onCSPN(rest string) {
	f := splitArgs(rest)
	if len(f) < 1 {
		return
	}
	b.simop = f[0].val
	b.pub.Publish(b.cfg.Prefix+"simop", b.simop)
}

// onCNUM publishes the subscriber's own number.
func (b *Bridge) onCNUM(rest string) {
	f := splitArgs(rest)
	if len(f) < 2 {
		return
	}
	b.pub.Publish(b.cfg.Prefix+"number", f[1].val)
}

// onCPIN reacts to SIM readiness by collecting the SIM identity batch.
func (b *Bridge) onCPIN(rest string) {
	if rest != "READY" {
		b.log.Info("SIM state", "state", rest)
		return
	}
	b.queue.EnqueueUnique("AT+CSPN?")
	b.queue.EnqueueUnique("AT+CCID")
	b.queue.EnqueueUnique("AT+CIMI")
	b.queue.EnqueueUnique("AT+CNUM")
	b.queue.EnqueueUnique("AT+COPN")
}

// onSIMCard clears all SIM-derived state when the card disappears.
func (b *Bridge) onSIMCard(rest string) {
	if !strings.Contains(rest, "NOT AVAILABLE") {
		return
	}
	b.log.Warn("SIM card removed")
	b.imsi = ""
	b.simop = ""
	b.operators.Clear()
	for _, name := range []string{"imsi", "iccid", "number", "simop", "simopid"} {
		b.pub.Publish(b.cfg.Prefix+name, "")
	}
}

// onCNTI publishes the currently used network technology. CNTI ranks
// below every registration report.
func (b *Bridge) onCNTI(rest string) {
	f := splitArgs(rest)
	if len(f) < 2 {
		return
	}
	b.publishBySource("nt", cntiTechName[strings.ToUpper(f[1].val)], srcCNTI)
}

// updateSIMOperator re-derives simop/simopid from the IMSI and the
// operator table.
func (b *Bridge) updateSIMOperator() {
	op, ok := b.operators.MatchIMSI(b.imsi)
	if !ok {
		return
	}
	b.pub.Publish(b.cfg.Prefix+"simopid", op.ID)
	if b.simop == "" {
		// no SIM-stored provider name, fall back to the table's
		b.pub.Publish(b.cfg.Prefix+"simop", op.Name)
	}
}

// arg is one comma-separated argument of an AT record, with its quoting
// preserved for disambiguation.
type arg struct {
	val    string
	quoted bool
}

// splitArgs splits an AT argument list on commas, stripping quotes but
// remembering them.
func splitArgs(s string) []arg {
	var out []arg
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		a := arg{val: part}
		if len(part) >= 2 && part[0] == '"' && part[len(part)-1] == '"' {
			a.val = part[1 : len(part)-1]
			a.quoted = true
		}
		out = append(out, a)
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
