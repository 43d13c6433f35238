package stage

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kiosk-presence/kiosk/internal/delivery"
)

func TestMountRejectsDuplicateID(t *testing.T) {
	s := New()

	unmount, err := s.Mount(Element{ID: "am-container", Tag: "div"})
	if err != nil {
		t.Fatalf("Mount() error: %v", err)
	}
	if _, err := s.Mount(Element{ID: "am-container", Tag: "div"}); err == nil {
		t.Fatal("second Mount() with same id succeeded")
	}

	unmount()
	unmount()
	if n := len(s.Elements()); n != 0 {
		t.Fatalf("Elements() = %d after unmount, want 0", n)
	}

	if _, err := s.Mount(Element{ID: "am-container", Tag: "div"}); err != nil {
		t.Fatalf("Mount() after unmount error: %v", err)
	}
}

func TestUnmountRemovesChildren(t *testing.T) {
	s := New()
	unmount, _ := s.Mount(Element{ID: "parent", Tag: "div"})
	s.Mount(Element{ID: "child", Tag: "script", Parent: "parent"})
	s.Mount(Element{ID: "other", Tag: "div"})

	unmount()

	els := s.Elements()
	if len(els) != 1 || els[0].ID != "other" {
		t.Fatalf("Elements() = %+v, want only other", els)
	}
}

func TestElementsAreCopies(t *testing.T) {
	s := New()
	s.Mount(Element{ID: "x", Tag: "div", Attrs: map[string]string{"a": "1"}})

	els := s.Elements()
	els[0].Attrs["a"] = "2"

	if got := s.Elements()[0].Attrs["a"]; got != "1" {
		t.Errorf("stored attr mutated through copy: %q", got)
	}
}

func TestOffStopsDelivery(t *testing.T) {
	s := New()
	var calls atomic.Int32
	off := s.On("click", func(Message) { calls.Add(1) })

	s.Dispatch(Message{Event: "click"})
	off()
	off()
	s.Dispatch(Message{Event: "click"})

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if n := s.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() = %d, want 0", n)
	}
}

func TestOffWaitsForInFlightCall(t *testing.T) {
	s := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	off := s.On("touchstart", func(Message) {
		close(entered)
		<-release
		finished.Store(true)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Dispatch(Message{Event: "touchstart"})
	}()
	<-entered

	offDone := make(chan struct{})
	go func() {
		off()
		close(offDone)
	}()

	select {
	case <-offDone:
		t.Fatal("off returned while listener was running")
	default:
	}

	close(release)
	<-offDone
	if !finished.Load() {
		t.Fatal("off returned before in-flight call finished")
	}
	wg.Wait()
}

func TestOnActivityMapsInputEvents(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var got []delivery.Signal
	off := s.OnActivity(func(sig delivery.Signal) {
		mu.Lock()
		got = append(got, sig)
		mu.Unlock()
	})

	for _, ev := range []string{"mousemove", "touchend", "keydown", "scroll"} {
		s.Dispatch(Message{Event: ev})
	}
	off()
	s.Dispatch(Message{Event: "click"})

	want := []delivery.Signal{delivery.SignalPointer, delivery.SignalTouch, delivery.SignalKey}
	if len(got) != len(want) {
		t.Fatalf("signals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if n := s.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() after off = %d, want 0", n)
	}
}

func TestSendReportsSink(t *testing.T) {
	s := New()
	if s.Send(Command{Target: "arcane-player", Name: "emitUIEvent"}) {
		t.Error("Send() with no sink = true")
	}

	var got Command
	off := s.Sink(func(c Command) { got = c })
	if !s.Send(Command{Target: "arcane-player", Name: "emitUIEvent"}) {
		t.Error("Send() with sink = false")
	}
	if got.Name != "emitUIEvent" {
		t.Errorf("sink got %+v", got)
	}
	off()
}

func TestWatchNotifiesOnChange(t *testing.T) {
	s := New()
	var n atomic.Int32
	off := s.Watch(func() { n.Add(1) })
	defer off()

	unmount, _ := s.Mount(Element{ID: "a", Tag: "div"})
	unmount()

	if n.Load() != 2 {
		t.Errorf("watch calls = %d, want 2", n.Load())
	}
}
