package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/kiosk-presence/kiosk/internal/presence"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func live(id string) presence.State {
	return presence.State{Mode: presence.Live, SessionID: id, Adapter: "socket"}
}

func TestNewStore(t *testing.T) {
	s := NewStore(0)
	if s.limit != DefaultLimit {
		t.Errorf("limit = %d, want %d", s.limit, DefaultLimit)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if _, ok := s.Current(); ok {
		t.Error("empty store reports a current session")
	}
}

func TestObserveLifecycle(t *testing.T) {
	s := NewStore(10)

	s.Observe(live("a"), t0)
	ready := live("a")
	ready.Ready = true
	s.Observe(ready, t0.Add(2*time.Second))
	s.Observe(presence.State{Mode: presence.Idle, LastReason: presence.ReasonInactivity}, t0.Add(30*time.Second))

	rec, ok := s.Get("a")
	if !ok {
		t.Fatal("record a not found")
	}
	if rec.Adapter != "socket" {
		t.Errorf("adapter = %q", rec.Adapter)
	}
	if rec.ReadyAt == nil || !rec.ReadyAt.Equal(t0.Add(2*time.Second)) {
		t.Errorf("readyAt = %v", rec.ReadyAt)
	}
	if !rec.IsTerminal() {
		t.Fatal("expected ended record")
	}
	if rec.Reason != presence.ReasonInactivity {
		t.Errorf("reason = %q", rec.Reason)
	}
	if d := rec.Duration(time.Time{}); d != 30*time.Second {
		t.Errorf("duration = %v, want 30s", d)
	}
	if _, ok := s.Current(); ok {
		t.Error("current session after idle")
	}
}

func TestObserveProvisioningFailure(t *testing.T) {
	s := NewStore(10)
	s.Observe(live("a"), t0)
	s.Observe(presence.State{
		Mode:       presence.Idle,
		LastReason: presence.ReasonProvisioning,
		LastError:  "provisioning failed: auth rejected",
	}, t0.Add(time.Second))

	rec, _ := s.Get("a")
	if rec.Error != "provisioning failed: auth rejected" {
		t.Errorf("error = %q", rec.Error)
	}
	if rec.ReadyAt != nil {
		t.Error("failed session marked ready")
	}
}

func TestObserveCountsWarningEdges(t *testing.T) {
	s := NewStore(10)
	warn := live("a")
	warn.Warning = true

	s.Observe(live("a"), t0)
	s.Observe(warn, t0.Add(time.Second))
	s.Observe(warn, t0.Add(2*time.Second)) // still warned
	s.Observe(live("a"), t0.Add(3*time.Second))
	s.Observe(warn, t0.Add(4*time.Second))

	rec, _ := s.Current()
	if rec.Warnings != 2 {
		t.Errorf("warnings = %d, want 2", rec.Warnings)
	}
}

func TestIdleWithoutSessionIsNoop(t *testing.T) {
	s := NewStore(10)
	s.Observe(presence.State{Mode: presence.Idle}, t0)
	s.Observe(presence.State{Mode: presence.Live}, t0) // no handle yet
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestNewSessionEndsPrevious(t *testing.T) {
	s := NewStore(10)
	s.Observe(live("a"), t0)
	s.Observe(live("b"), t0.Add(time.Second))

	a, _ := s.Get("a")
	if !a.IsTerminal() {
		t.Error("previous session left running")
	}
	cur, ok := s.Current()
	if !ok || cur.ID != "b" {
		t.Errorf("current = %+v", cur)
	}
}

func TestGetAllNewestFirst(t *testing.T) {
	s := NewStore(10)
	for i, id := range []string{"a", "b", "c"} {
		at := t0.Add(time.Duration(i) * time.Minute)
		s.Observe(live(id), at)
		s.Observe(presence.State{Mode: presence.Idle}, at.Add(time.Second))
	}

	all := s.GetAll()
	if len(all) != 3 {
		t.Fatalf("GetAll() len = %d, want 3", len(all))
	}
	for i, want := range []string{"c", "b", "a"} {
		if all[i].ID != want {
			t.Errorf("all[%d] = %q, want %q", i, all[i].ID, want)
		}
	}
}

func TestLimitEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := range 5 {
		id := fmt.Sprintf("s%d", i)
		s.Observe(live(id), t0.Add(time.Duration(i)*time.Minute))
		s.Observe(presence.State{Mode: presence.Idle}, t0.Add(time.Duration(i)*time.Minute+time.Second))
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if _, ok := s.Get("s0"); ok {
		t.Error("s0 should have been evicted")
	}
	if _, ok := s.Get("s4"); !ok {
		t.Error("s4 missing")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore(10)
	s.Observe(live("a"), t0)
	s.Observe(presence.State{Mode: presence.Idle}, t0.Add(time.Second))

	got, _ := s.Get("a")
	got.Adapter = "modified"
	*got.EndedAt = t0.Add(time.Hour)

	again, _ := s.Get("a")
	if again.Adapter != "socket" {
		t.Error("Get returned a reference, not a copy")
	}
	if !again.EndedAt.Equal(t0.Add(time.Second)) {
		t.Error("EndedAt shared between copies")
	}
}
