package wpa

import (
	"strings"

	"i4.energy/across/linebridge/core"
)

var modeNames = map[int]string{
	ModeStation: "station",
	ModeAP:      "AP",
	ModeMesh:    "mesh",
}

// onMessage routes one inbound MQTT message by its topic path.
func (b *Bridge) onMessage(msg core.Message) {
	toks := strings.Split(msg.Topic, "/")
	if len(toks) < 4 || toks[0] != "net" || toks[1] != b.cfg.Iface {
		return
	}

	switch {
	case toks[2] == "ssid" && len(toks) == 4:
		b.onSSIDCommand(toks[3], msg.Payload)
	case toks[2] == "ssid" && len(toks) == 5 && toks[3] == "config":
		b.onSSIDConfig(toks[4], msg.Payload)
	case toks[2] == "wifi" && len(toks) == 5 && toks[3] == "config":
		b.send("SET %s %s", toks[4], msg.Payload)
	case toks[2] == "wifistate" && len(toks) == 4 && toks[3] == "set":
		b.onWifiStateSet(msg.Payload)
	}
}

func (b *Bridge) onSSIDCommand(op, payload string) {
	switch op {
	case "set":
		switch payload {
		case "", "none":
			b.send("DISABLE_NETWORK all")
			b.selMode = -1
		case "all":
			b.send("ENABLE_NETWORK all")
			b.selMode = -1
		default:
			net := b.networks.BySSID(payload)
			switch {
			case net != nil && net.ID >= 0:
				b.send("SELECT_NETWORK %d", net.ID)
			case net != nil:
				net.netFlags |= nfSelect
			default:
				b.log.Info("selected unknown network", "ssid", payload)
			}
		}

	case "enable":
		net := b.networks.BySSID(payload)
		switch {
		case net != nil && net.ID >= 0:
			b.send("ENABLE_NETWORK %d", net.ID)
		case net != nil:
			net.Flags &^= bfDisabled
		}
		b.selMode = -1

	case "disable":
		net := b.networks.BySSID(payload)
		switch {
		case net != nil && net.ID >= 0:
			b.send("DISABLE_NETWORK %d", net.ID)
		case net != nil:
			net.Flags |= bfDisabled
		}
		b.selMode = -1

	case "remove":
		net := b.networks.BySSID(payload)
		switch {
		case net != nil && net.ID >= 0:
			b.send("REMOVE_NETWORK %d", net.ID)
			b.networkChanged(net, true)
			b.networks.Remove(net)
			b.netsEnabledChanged()
		case net != nil:
			net.netFlags |= nfRemove
		}

	case "psk":
		ssid, psk, ok := twoLines(payload)
		if !ok {
			return
		}
		if b.cfg.NoPlainPSK {
			psk = derivePSK(ssid, psk)
		}
		b.addNetworkConfig(b.findOrCreate(ssid), "psk", psk)

	case "ap":
		net := b.findOrCreate(payload)
		if net == nil {
			return
		}
		b.addNetworkConfig(net, "mode", "2")
		if b.cfg.NoAPBgscan {
			b.addNetworkConfig(net, "bgscan", `""`)
		}
		net.Mode = ModeAP
		if net.ID < 0 {
			// leave the new AP network for explicit enablement
			net.Flags |= bfDisabled
		}

	case "mesh":
		net := b.findOrCreate(payload)
		if net == nil {
			return
		}
		b.addNetworkConfig(net, "mode", "5")
		if b.cfg.NoAPBgscan {
			b.addNetworkConfig(net, "bgscan", `""`)
		}
		net.Mode = ModeMesh
		if net.ID < 0 {
			b.addNetworkConfig(net, "key_mgmt", "NONE")
			b.addNetworkConfig(net, "frequency", "2437")
			// leave the new mesh network for explicit enablement
			net.Flags |= bfDisabled
		}

	case "create":
		b.findOrCreate(payload)
	}
}

func (b *Bridge) onSSIDConfig(key, payload string) {
	ssid, value, ok := twoLines(payload)
	if !ok {
		return
	}
	b.addNetworkConfig(b.findOrCreate(ssid), key, value)
}

// onWifiStateSet applies the requested aggregate mode: off disables
// everything, any enables everything, and a mode name enables exactly
// the networks of that mode.
func (b *Bridge) onWifiStateSet(payload string) {
	switch payload {
	case "off":
		b.send("DISABLE_NETWORK all")
		b.selMode = -1
		return
	case "any":
		b.send("ENABLE_NETWORK all")
		b.selMode = -1
		return
	}

	mode := -1
	for m, name := range modeNames {
		if strings.EqualFold(name, payload) {
			mode = m
			break
		}
	}
	if mode < 0 {
		b.log.Info("selected unknown wifi mode", "mode", payload)
		return
	}
	b.selMode = mode
	b.log.Info("selected wifi mode", "mode", payload)

	for _, net := range b.networks.All() {
		switch {
		case net.ID < 0:
			if net.Mode == mode {
				net.Flags &^= bfDisabled
			} else {
				net.Flags |= bfDisabled
			}
		case net.Mode == mode && net.disabled():
			b.send("ENABLE_NETWORK %d", net.ID)
		case net.Mode != mode && !net.disabled():
			b.send("DISABLE_NETWORK %d", net.ID)
		}
	}
	// clear the current SSID before acknowledging the new state
	b.pub.Publish(b.topic("ssid"), "")
	b.setWifiState(modeNames[mode])
}

// twoLines splits an "SSID\nvalue" payload.
func twoLines(payload string) (first, second string, ok bool) {
	first, second, ok = strings.Cut(payload, "\n")
	first = strings.TrimRight(first, "\r")
	second = strings.TrimRight(strings.TrimRight(second, "\n"), "\r")
	return first, second, ok && first != "" && second != ""
}
