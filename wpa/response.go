package wpa

import (
	"fmt"
	"strconv"
	"strings"
)

// handleResponse correlates one reply with the command it answers. The
// command string itself is the correlation key: ids and property names
// are re-parsed out of it.
func (b *Bridge) handleResponse(head, text string) {
	if text == "FAIL" || text == "UNKNOWN COMMAND" {
		if head == "STA-FIRST" || strings.HasPrefix(head, "STA-NEXT ") {
			// station discovery fails on end-of-list
			return
		}
		b.log.Warn("command failed", "cmd", head, "reply", firstLine(text))
		b.failf("'%s': %.30s", firstWord(head), text)
		return
	}
	if text == "" {
		b.log.Info("empty response", "cmd", head)
		return
	}

	switch {
	case head == "ATTACH":
		b.log.Info("supplicant connected", "iface", b.cfg.Iface)
		b.send("LIST_NETWORKS")
		b.send("SCAN_RESULTS")
		b.send("STATUS")
		b.send("SCAN")

	case strings.HasPrefix(head, "GET_NETWORK "):
		b.onGetNetwork(head, text)

	case strings.HasPrefix(head, "SET_NETWORK "):
		b.onSetNetwork(head)

	case head == "LIST_NETWORKS":
		b.onListNetworks(text)

	case head == "SCAN_RESULTS":
		b.onScanResults(text)

	case strings.HasPrefix(head, "BSS "):
		b.onBSS(text)

	case head == "SIGNAL_POLL":
		b.onSignalPoll(text)

	case head == "STATUS":
		b.onStatus(text)

	case head == "STA-FIRST":
		b.setStations(1)
		b.send("STA-NEXT %s", firstLine(text))

	case strings.HasPrefix(head, "STA-NEXT"):
		b.setStations(b.nStations + 1)
		b.send("STA-NEXT %s", firstLine(text))

	case strings.HasPrefix(head, "ADD_NETWORK"):
		b.onAddNetwork(text)

	case head == "ENABLE_NETWORK all":
		for _, net := range b.networks.All() {
			if net.disabled() {
				net.Flags &^= bfDisabled
				b.networkChanged(net, false)
			}
		}
		b.saveConfig()
		b.netsEnabledChanged()

	case head == "DISABLE_NETWORK all":
		for _, net := range b.networks.All() {
			if !net.disabled() {
				net.Flags |= bfDisabled
				b.networkChanged(net, false)
			}
		}
		b.saveConfig()
		b.netsEnabledChanged()

	case strings.HasPrefix(head, "ENABLE_NETWORK "):
		if net := b.networks.ByID(argInt(head, 1)); net != nil {
			net.Flags &^= bfDisabled
			b.networkChanged(net, false)
			b.saveConfig()
			b.netsEnabledChanged()
		}

	case strings.HasPrefix(head, "DISABLE_NETWORK "):
		if net := b.networks.ByID(argInt(head, 1)); net != nil {
			net.Flags |= bfDisabled
			b.networkChanged(net, false)
			b.saveConfig()
			b.netsEnabledChanged()
		}

	case strings.HasPrefix(head, "REMOVE_NETWORK "):
		b.saveConfig()

	case strings.HasPrefix(head, "SELECT_NETWORK "):
		id := argInt(head, 1)
		for _, net := range b.networks.All() {
			if net.ID == id {
				net.Flags &^= bfDisabled
			} else {
				net.Flags |= bfDisabled
			}
			b.networkChanged(net, false)
		}
		b.saveConfig()
		b.netsEnabledChanged()

	case head == "PING":
		// pong

	case strings.HasPrefix(head, "SET "):
		b.saveConfig()

	default:
		b.log.Debug("command ok", "cmd", firstWord(head))
	}
}

// argInt returns the n-th whitespace-delimited argument of cmd as an
// integer, or -1.
func argInt(cmd string, n int) int {
	fields := strings.Fields(cmd)
	if n >= len(fields) {
		return -1
	}
	v, err := strconv.Atoi(fields[n])
	if err != nil {
		return -1
	}
	return v
}

func (b *Bridge) onGetNetwork(head, text string) {
	fields := strings.Fields(head)
	if len(fields) < 3 {
		return
	}
	id, _ := strconv.Atoi(fields[1])
	net := b.networks.ByID(id)
	if net == nil {
		return
	}
	value := firstLine(text)
	switch fields[2] {
	case "mode":
		net.Mode, _ = strconv.Atoi(value)
		b.networkChanged(net, false)
	case "disabled":
		if value != "0" {
			net.Flags |= bfDisabled
		} else {
			net.Flags &^= bfDisabled
		}
		b.netsEnabledChanged()
		b.networkChanged(net, false)
	}
}

func (b *Bridge) onSetNetwork(head string) {
	fields := strings.Fields(head)
	if len(fields) < 4 {
		return
	}
	id, _ := strconv.Atoi(fields[1])
	net := b.networks.ByID(id)
	if net == nil {
		b.saveConfig()
		return
	}
	switch fields[2] {
	case "mode":
		net.Mode, _ = strconv.Atoi(fields[3])
		b.networkChanged(net, false)
	case "disabled":
		if fields[3] == "1" {
			net.Flags |= bfDisabled
		} else {
			net.Flags &^= bfDisabled
		}
		b.netsEnabledChanged()
		b.networkChanged(net, false)
	}
	b.saveConfig()
}

// onListNetworks rebuilds the network set from a LIST_NETWORKS reply.
// Two configured entries sharing an SSID break the unique-key invariant;
// the duplicate is removed from the supplicant.
func (b *Bridge) onListNetworks(text string) {
	b.networks.Clear()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "network id") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			continue
		}
		id, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		ssid := cols[1]
		if b.networks.BySSID(ssid) != nil {
			b.log.Warn("removing duplicate ssid", "ssid", ssid, "id", id)
			b.send("REMOVE_NETWORK %d", id)
			continue
		}
		b.networks.Add(id, ssid)
		b.send("GET_NETWORK %d disabled", id)
		b.send("GET_NETWORK %d mode", id)
	}
}

// onScanResults reconciles the cell set against a full scan listing:
// every listed cell is marked present and refreshed via a BSS request;
// cells that stayed unmarked have vanished and their retained topics are
// cleared.
func (b *Bridge) onScanResults(text string) {
	for _, bss := range b.bsss.All() {
		bss.Flags &^= bfPresent
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "bssid") {
			continue
		}
		bssid := line
		if i := strings.IndexByte(line, '\t'); i >= 0 {
			bssid = line[:i]
		}
		b.send("BSS %s", bssid)
		if bss := b.bsss.ByBSSID(bssid); bss != nil {
			bss.Flags |= bfPresent
		}
	}
	stale := make([]*BSS, 0)
	for _, bss := range b.bsss.All() {
		if bss.Flags&bfPresent == 0 {
			stale = append(stale, bss)
		}
	}
	for _, bss := range stale {
		b.hideBSS(bss.BSSID)
		b.bsss.Remove(bss)
	}
}

// onBSS ingests one per-cell detail reply (key=value lines).
func (b *Bridge) onBSS(text string) {
	var bssid, ssid, flags string
	var freq, level int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "bssid":
			bssid = value
		case "freq":
			freq, _ = strconv.Atoi(value)
		case "level":
			level, _ = strconv.Atoi(value)
		case "flags":
			flags = value
		case "ssid":
			ssid = value
		}
	}
	if strings.HasPrefix(ssid, `\x00`) {
		// hidden ssid
		return
	}
	if bssid == "" {
		return
	}

	bss := b.bsss.ByBSSID(bssid)
	if bss != nil {
		bss.Freq = freq
		bss.Level = level
		b.pub.Publish(b.topic("bss", bssid, "freq"), fmtFreq(freq))
		b.pub.Publish(b.topic("bss", bssid, "level"), strconv.Itoa(level))
		bss.setSecurityFlags(flags)
		b.pub.Publish(b.topic("bss", bssid, "flags"), bss.FlagsString())
	} else {
		bss = b.bsss.Add(bssid, freq, level, ssid)
		b.pub.Publish(b.topic("bss", bssid, "ssid"), ssid)
		b.pub.Publish(b.topic("bss", bssid, "freq"), fmtFreq(freq))
		b.pub.Publish(b.topic("bss", bssid, "level"), strconv.Itoa(level))
		bss.setSecurityFlags(flags)
		if bss.SSID != "" {
			bss.setNetworkFlags(b.networks.BySSID(bss.SSID))
		}
		// flags last, so subscribers see a complete cell
		b.pub.Publish(b.topic("bss", bssid, "flags"), bss.FlagsString())
	}

	if b.currMode == ModeStation && b.currBSSID == bssid {
		if level != b.currLevel {
			b.pub.Publish(b.topic("level"), strconv.Itoa(level))
		}
		b.currLevel = level
	}
}

func (b *Bridge) onSignalPoll(text string) {
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "rssi":
			b.publishInt(b.topic("rssi"), value)
		case "linkspeed":
			b.publishInt(b.topic("speed"), value)
		}
	}
}

// onStatus ingests a STATUS reply, fixing up the current mode and wifi
// state on the very first one after attach.
func (b *Bridge) onStatus(text string) {
	var ssid, mode, wpaState string
	var freq int

	b.currBSSID = ""
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		switch key {
		case "bssid":
			b.currBSSID = value
		case "ssid":
			ssid = value
		case "freq":
			freq, _ = strconv.Atoi(value)
		case "mode":
			mode = value
		case "wpa_state":
			wpaState = value
		}
	}
	if b.currBSSID == "00:00:00:00:00:00" {
		b.currBSSID = ""
	}

	if !b.statePub {
		// first status after attach: adopt whatever mode the
		// supplicant is already in
		switch mode {
		case "AP":
			b.currMode = ModeAP
		case "mesh":
			b.currMode = ModeMesh
		}
		switch {
		case b.currMode == ModeAP:
			b.setWifiState("AP")
			b.send("STA-FIRST")
			b.setStations(0)
		case b.currMode == ModeMesh:
			b.setWifiState("mesh")
		case wpaState == "COMPLETED" && mode == "station":
			b.setWifiState("station")
			b.pub.Publish(b.topic("stations"), "")
		default:
			b.setWifiState("none")
		}
	}

	b.pub.Publish(b.topic("bssid"), b.currBSSID)
	switch {
	case freq != 0 && b.currMode != ModeStation:
		b.pub.Publish(b.topic("freq"), fmtFreq(freq))
		b.pub.Publish(b.topic("level"), "")
		b.pub.Publish(b.topic("ssid"), ssid)
	case freq != 0 && b.currBSSID != "":
		b.pub.Publish(b.topic("freq"), fmtFreq(freq))
		if bss := b.bsss.ByBSSID(b.currBSSID); bss != nil {
			if b.currLevel != bss.Level {
				b.pub.Publish(b.topic("level"), strconv.Itoa(bss.Level))
			}
			b.currLevel = bss.Level
		}
		b.pub.Publish(b.topic("ssid"), ssid)
	default:
		b.pub.Publish(b.topic("freq"), "")
		b.pub.Publish(b.topic("level"), "")
		b.pub.Publish(b.topic("ssid"), "")
		b.currLevel = 0
	}
}

// onAddNetwork pairs the assigned id with the oldest id-less network
// and drains its pending requests, in order.
func (b *Bridge) onAddNetwork(text string) {
	id, err := strconv.Atoi(firstLine(text))
	if err != nil {
		return
	}
	net, npending := b.networks.OldestPending()
	if npending <= 1 {
		// reset the counter, avoiding eventual overflow
		b.createSeq = 0
	}
	if net == nil {
		return
	}
	net.ID = id

	if net.netFlags&nfRemove != 0 {
		b.send("REMOVE_NETWORK %d", id)
		b.networkChanged(net, true)
		b.networks.Remove(net)
		b.netsEnabledChanged()
		return
	}

	b.send("SET_NETWORK %d ssid \"%s\"", id, net.SSID)
	for i := 0; i+1 < len(net.pending); i += 2 {
		b.send("SET_NETWORK %d %s %s", id, net.pending[i], net.pending[i+1])
	}
	net.clearPending()

	if net.netFlags&nfSelect != 0 {
		b.send("SELECT_NETWORK %d", id)
	} else if !net.disabled() {
		// enable station-mode networks automatically
		b.send("ENABLE_NETWORK %d", id)
	}
	b.netsEnabledChanged()
}

// fmtFreq renders a MHz channel frequency as gigahertz, e.g. "2.412G".
func fmtFreq(mhz int) string {
	return fmt.Sprintf("%.3fG", float64(mhz)*1e-3)
}
