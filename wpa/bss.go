package wpa

import (
	"sort"
	"strings"
)

// BSS capability flags. The first five render into the fixed-position
// flag string; bfPresent is a transient mark used only during scan
// reconciliation.
const (
	bfWPA      = 0x01 // 'w'
	bfWEP      = 0x02 // 'W'
	bfEAP      = 0x04 // 'e'
	bfKnown    = 0x08 // 'k'
	bfDisabled = 0x10 // 'd'
	bfPresent  = 0x40
)

const bssFlagIndicators = "wWekd"

// BSS is one scan-observed radio cell, keyed by its BSSID.
type BSS struct {
	BSSID string
	SSID  string
	Freq  int // MHz
	Level int // dBm
	Flags int
}

// FlagsString renders the capability flags as a fixed-position mask,
// e.g. "w--k-" for a known WPA cell.
func (b *BSS) FlagsString() string {
	var sb strings.Builder
	for i, ind := range []byte(bssFlagIndicators) {
		if b.Flags&(1<<i) != 0 {
			sb.WriteByte(ind)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// setSecurityFlags recomputes the WPA/WEP/EAP bits from a scan flags
// string like "[WPA2-PSK-CCMP][ESS]".
func (b *BSS) setSecurityFlags(flags string) {
	b.Flags &^= bfWPA | bfWEP | bfEAP
	if strings.Contains(flags, "WPA") {
		b.Flags |= bfWPA
	}
	if strings.Contains(flags, "WEP") {
		b.Flags |= bfWEP
	}
	if strings.Contains(flags, "EAP") {
		b.Flags |= bfEAP
	}
}

// setNetworkFlags recomputes the KNOWN/DISABLED bits against the
// configured network carrying the same SSID, or clears them when net is
// nil.
func (b *BSS) setNetworkFlags(net *Network) {
	b.Flags &^= bfKnown | bfDisabled
	if net != nil {
		b.Flags |= net.Flags | bfKnown
	}
}

// BSSSet holds the observed cells sorted by BSSID for binary search.
type BSSSet struct {
	cells []*BSS
}

// ByBSSID returns the cell with the given BSSID, or nil.
func (s *BSSSet) ByBSSID(bssid string) *BSS {
	i := sort.Search(len(s.cells), func(i int) bool {
		return s.cells[i].BSSID >= bssid
	})
	if i < len(s.cells) && s.cells[i].BSSID == bssid {
		return s.cells[i]
	}
	return nil
}

// Add inserts a new cell and keeps the set sorted.
func (s *BSSSet) Add(bssid string, freq, level int, ssid string) *BSS {
	b := &BSS{BSSID: bssid, SSID: ssid, Freq: freq, Level: level}
	s.cells = append(s.cells, b)
	s.sort()
	return b
}

// Remove deletes b from the set.
func (s *BSSSet) Remove(b *BSS) {
	for i, cur := range s.cells {
		if cur == b {
			s.cells = append(s.cells[:i], s.cells[i+1:]...)
			return
		}
	}
}

// All returns the cells in BSSID order. The returned slice is the set's
// own backing store; callers iterate, they do not mutate.
func (s *BSSSet) All() []*BSS {
	return s.cells
}

// Len returns the number of cells.
func (s *BSSSet) Len() int {
	return len(s.cells)
}

func (s *BSSSet) sort() {
	sort.Slice(s.cells, func(i, j int) bool {
		return s.cells[i].BSSID < s.cells[j].BSSID
	})
}
