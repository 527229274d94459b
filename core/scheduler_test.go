package core_test

import (
	"testing"
	"time"

	"i4.energy/across/linebridge/core"
)

func TestSchedulerReplace(t *testing.T) {
	t.Run("same key replaces instead of duplicating", func(t *testing.T) {
		s := core.NewScheduler()
		now := time.Now()

		fired := 0
		s.AddTimeoutAt("keepalive", now.Add(time.Second), func() { fired++ })
		s.AddTimeoutAt("keepalive", now.Add(2*time.Second), func() { fired++ })

		s.Flush(now.Add(3 * time.Second))
		if fired != 1 {
			t.Errorf("expected 1 firing, got %d", fired)
		}
	})

	t.Run("replacing postpones the deadline", func(t *testing.T) {
		s := core.NewScheduler()
		now := time.Now()

		fired := false
		s.AddTimeoutAt("cmd", now.Add(time.Second), func() { fired = true })
		s.AddTimeoutAt("cmd", now.Add(10*time.Second), func() { fired = true })

		s.Flush(now.Add(5 * time.Second))
		if fired {
			t.Error("postponed timer should not have fired")
		}
		if !s.Pending("cmd") {
			t.Error("timer should still be pending")
		}
	})
}

func TestSchedulerOrdering(t *testing.T) {
	s := core.NewScheduler()
	now := time.Now()

	var order []string
	s.AddTimeoutAt("c", now.Add(3*time.Second), func() { order = append(order, "c") })
	s.AddTimeoutAt("a", now.Add(time.Second), func() { order = append(order, "a") })
	s.AddTimeoutAt("b", now.Add(time.Second), func() { order = append(order, "b") })

	s.Flush(now.Add(5 * time.Second))

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %d firings, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("firing %d: expected %q, got %q", i, want[i], order[i])
		}
	}
}

func TestSchedulerFlushLeavesFuture(t *testing.T) {
	s := core.NewScheduler()
	now := time.Now()

	fired := false
	s.AddTimeoutAt("later", now.Add(time.Minute), func() { fired = true })

	s.Flush(now)
	if fired {
		t.Error("future timer fired early")
	}
}

func TestSchedulerRemove(t *testing.T) {
	s := core.NewScheduler()
	now := time.Now()

	fired := false
	s.AddTimeoutAt("cmd", now.Add(time.Second), func() { fired = true })
	s.RemoveTimeout("cmd")

	if s.Pending("cmd") {
		t.Error("removed timer still pending")
	}
	s.Flush(now.Add(2 * time.Second))
	if fired {
		t.Error("removed timer fired")
	}
}

func TestSchedulerWaitTime(t *testing.T) {
	s := core.NewScheduler()
	now := time.Now()

	if _, ok := s.WaitTime(now); ok {
		t.Error("empty scheduler should report no wait")
	}

	s.AddTimeoutAt("a", now.Add(3*time.Second), func() {})
	s.AddTimeoutAt("b", now.Add(time.Second), func() {})

	d, ok := s.WaitTime(now)
	if !ok {
		t.Fatal("expected a pending wait")
	}
	if d != time.Second {
		t.Errorf("expected 1s wait, got %v", d)
	}

	if d, _ := s.WaitTime(now.Add(2 * time.Second)); d != 0 {
		t.Errorf("overdue timer should report zero wait, got %v", d)
	}
}
