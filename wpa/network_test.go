package wpa

import "testing"

func TestNetworkSet(t *testing.T) {
	t.Run("lookup by ssid after inserts stays sorted", func(t *testing.T) {
		var set NetworkSet
		set.Add(2, "zeta")
		set.Add(0, "alpha")
		set.Add(1, "mid")

		if net := set.BySSID("mid"); net == nil || net.ID != 1 {
			t.Errorf("expected mid with id 1, got %+v", net)
		}
		if set.BySSID("missing") != nil {
			t.Error("unexpected match for missing ssid")
		}
	})

	t.Run("lookup by id", func(t *testing.T) {
		var set NetworkSet
		set.Add(7, "seven")

		if net := set.ByID(7); net == nil || net.SSID != "seven" {
			t.Errorf("expected seven, got %+v", net)
		}
		if set.ByID(3) != nil {
			t.Error("unexpected match for missing id")
		}
	})

	t.Run("remove keeps the order", func(t *testing.T) {
		var set NetworkSet
		a := set.Add(0, "a")
		set.Add(1, "b")
		set.Remove(a)

		if set.Len() != 1 || set.BySSID("b") == nil {
			t.Errorf("expected only b left, have %d", set.Len())
		}
	})
}

func TestLastOfMode(t *testing.T) {
	var set NetworkSet
	ap1 := set.Add(1, "ap-one")
	ap1.Mode = ModeAP
	ap2 := set.Add(4, "ap-two")
	ap2.Mode = ModeAP
	sta := set.Add(9, "home")
	sta.Mode = ModeStation

	if net := set.LastOfMode(ModeAP, nil); net == nil || net.SSID != "ap-two" {
		t.Errorf("expected ap-two (highest id), got %+v", net)
	}
	if net := set.LastOfMode(ModeAP, ap2); net == nil || net.SSID != "ap-one" {
		t.Errorf("excluding ap-two should yield ap-one, got %+v", net)
	}
	if net := set.LastOfMode(ModeMesh, nil); net != nil {
		t.Errorf("no mesh network expected, got %+v", net)
	}
}

func TestOldestPending(t *testing.T) {
	var set NetworkSet
	first := set.Add(-1, "first")
	first.createSeq = 1
	second := set.Add(-1, "second")
	second.createSeq = 2
	set.Add(3, "born")

	net, npending := set.OldestPending()
	if npending != 2 {
		t.Errorf("expected 2 pending, got %d", npending)
	}
	if net == nil || net.SSID != "first" {
		t.Errorf("expected the oldest pending network, got %+v", net)
	}
}
