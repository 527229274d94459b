package wpa

import "strings"

// handleEvent dispatches one unsolicited supplicant event by its first
// token. Unknown events have already been forwarded raw; they are never
// fatal.
func (b *Bridge) handleEvent(rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "CTRL-EVENT-CONNECTED":
		if b.currMode == ModeStation {
			// only report station when not acting as AP
			b.setWifiState("station")
			b.send("SIGNAL_POLL")
		}
		b.send("STATUS")

	case "CTRL-EVENT-DISCONNECTED":
		b.send("STATUS")
		b.setWifiState("none")

	case "AP-ENABLED":
		b.currMode = ModeAP
		b.setWifiState("AP")
		b.setStations(0)

	case "AP-DISABLED":
		b.currMode = ModeStation
		// refresh the scan view right away
		b.send("SCAN")
		b.setStations(-1)

	case "AP-STA-CONNECTED":
		b.setStations(b.nStations + 1)
	case "AP-STA-DISCONNECTED":
		b.setStations(b.nStations - 1)

	case "MESH-GROUP-STARTED":
		b.currMode = ModeMesh
		b.setWifiState("mesh")
		b.setStations(0)
	case "MESH-GROUP-REMOVED":
		b.currMode = ModeStation
		b.setStations(-1)

	case "MESH-PEER-CONNECTED":
		b.setStations(b.nStations + 1)
	case "MESH-PEER-DISCONNECTED":
		b.setStations(b.nStations - 1)

	case "CTRL-EVENT-BSS-ADDED":
		if len(fields) >= 3 {
			b.send("BSS %s", fields[2])
			b.bssEvents = true
		}

	case "CTRL-EVENT-BSS-REMOVED":
		if len(fields) >= 3 {
			bssid := fields[2]
			if bss := b.bsss.ByBSSID(bssid); bss != nil {
				b.bsss.Remove(bss)
			}
			b.hideBSS(bssid)
			b.bssEvents = true
		}

	case "CTRL-EVENT-SCAN-RESULTS":
		// per-BSS events carry the same information with less churn;
		// only fall back to a full listing when they never showed up
		if !b.bssEvents {
			b.send("SCAN_RESULTS")
		}
	}
}
