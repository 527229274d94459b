package wpa

import (
	"sort"
)

// Network modes as wpa_supplicant encodes them in the "mode" property.
const (
	ModeStation = 0
	ModeAP      = 2
	ModeMesh    = 5
)

// Pending request flags on a Network whose supplicant id has not been
// assigned yet.
const (
	nfSelect = 1 << iota // SELECT_NETWORK once the id arrives
	nfRemove             // REMOVE_NETWORK once the id arrives
)

// Network is one configured wpa_supplicant entry. While an ADD_NETWORK
// is outstanding the id is -1 and mutations queue up in pending; the id
// reply drains them in order.
type Network struct {
	ID    int
	SSID  string
	Mode  int
	Flags int // bf* flags, bfDisabled only

	netFlags  int
	createSeq int

	// pending key/value configuration, applied on id assignment
	pending []string
}

func (n *Network) disabled() bool {
	return n.Flags&bfDisabled != 0
}

// addPending queues one SET_NETWORK key/value for id assignment.
func (n *Network) addPending(key, value string) {
	n.pending = append(n.pending, key, value)
}

func (n *Network) clearPending() {
	n.pending = nil
}

// NetworkSet holds the configured networks sorted by SSID, the unique
// key, so lookups can binary-search.
type NetworkSet struct {
	nets []*Network
}

// BySSID returns the network with the given SSID.
func (s *NetworkSet) BySSID(ssid string) *Network {
	i := sort.Search(len(s.nets), func(i int) bool {
		return s.nets[i].SSID >= ssid
	})
	if i < len(s.nets) && s.nets[i].SSID == ssid {
		return s.nets[i]
	}
	return nil
}

// ByID returns the network with the given supplicant id, or nil.
func (s *NetworkSet) ByID(id int) *Network {
	for _, n := range s.nets {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Add inserts a new network and keeps the set sorted.
func (s *NetworkSet) Add(id int, ssid string) *Network {
	n := &Network{ID: id, SSID: ssid}
	s.nets = append(s.nets, n)
	s.sort()
	return n
}

// Remove deletes n from the set.
func (s *NetworkSet) Remove(n *Network) {
	for i, cur := range s.nets {
		if cur == n {
			s.nets = append(s.nets[:i], s.nets[i+1:]...)
			return
		}
	}
}

// Clear empties the set.
func (s *NetworkSet) Clear() {
	s.nets = nil
}

// All returns the networks in SSID order. The returned slice is the
// set's own backing store; callers iterate, they do not mutate.
func (s *NetworkSet) All() []*Network {
	return s.nets
}

// Len returns the number of networks.
func (s *NetworkSet) Len() int {
	return len(s.nets)
}

// LastOfMode returns the network of the given mode with the highest id,
// skipping exclude. Used to track lastAP and lastmesh.
func (s *NetworkSet) LastOfMode(mode int, exclude *Network) *Network {
	var best *Network
	for _, n := range s.nets {
		if n == exclude || n.Mode != mode {
			continue
		}
		if best == nil || n.ID > best.ID {
			best = n
		}
	}
	return best
}

// OldestPending returns the id-less network with the lowest creation
// sequence, pairing it with the next ADD_NETWORK reply, plus the count
// of id-less networks still waiting.
func (s *NetworkSet) OldestPending() (net *Network, npending int) {
	for _, n := range s.nets {
		if n.ID != -1 {
			continue
		}
		npending++
		if net == nil || n.createSeq < net.createSeq {
			net = n
		}
	}
	return net, npending
}

func (s *NetworkSet) sort() {
	sort.Slice(s.nets, func(i, j int) bool {
		return s.nets[i].SSID < s.nets[j].SSID
	})
}
