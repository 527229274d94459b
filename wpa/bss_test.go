package wpa

import "testing"

func TestFlagsString(t *testing.T) {
	tests := []struct {
		name     string
		flags    int
		expected string
	}{
		{"no flags", 0, "-----"},
		{"wpa only", bfWPA, "w----"},
		{"known wpa", bfWPA | bfKnown, "w--k-"},
		{"known disabled wep", bfWEP | bfKnown | bfDisabled, "-W-kd"},
		{"present mark is not rendered", bfWPA | bfPresent, "w----"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &BSS{Flags: tt.flags}
			if got := b.FlagsString(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSetSecurityFlags(t *testing.T) {
	b := &BSS{Flags: bfKnown}

	b.setSecurityFlags("[WPA2-PSK-CCMP][ESS]")
	if b.Flags != bfWPA|bfKnown {
		t.Errorf("expected WPA+KNOWN, got %#x", b.Flags)
	}

	// recomputation drops stale security bits, keeps network bits
	b.setSecurityFlags("[ESS]")
	if b.Flags != bfKnown {
		t.Errorf("expected KNOWN only, got %#x", b.Flags)
	}
}

func TestSetNetworkFlags(t *testing.T) {
	b := &BSS{Flags: bfWPA}

	b.setNetworkFlags(&Network{Flags: bfDisabled})
	if b.Flags != bfWPA|bfKnown|bfDisabled {
		t.Errorf("expected WPA+KNOWN+DISABLED, got %#x", b.Flags)
	}

	b.setNetworkFlags(nil)
	if b.Flags != bfWPA {
		t.Errorf("expected WPA only after removal, got %#x", b.Flags)
	}
}

func TestBSSSet(t *testing.T) {
	var set BSSSet
	set.Add("cc:cc:cc:cc:cc:cc", 2462, -70, "c")
	set.Add("aa:aa:aa:aa:aa:aa", 2412, -55, "a")

	if bss := set.ByBSSID("aa:aa:aa:aa:aa:aa"); bss == nil || bss.Level != -55 {
		t.Errorf("expected level -55, got %+v", bss)
	}
	set.Remove(set.ByBSSID("aa:aa:aa:aa:aa:aa"))
	if set.ByBSSID("aa:aa:aa:aa:aa:aa") != nil {
		t.Error("removed cell still present")
	}
	if set.Len() != 1 {
		t.Errorf("expected 1 cell, got %d", set.Len())
	}
}
