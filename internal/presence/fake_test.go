package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiosk-presence/kiosk/internal/delivery"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// fakeSession keeps every subscriber it was ever given, even after the
// subscription is released, so tests can fire stale callbacks.
type fakeSession struct {
	mu           sync.Mutex
	provisionErr error
	block        chan struct{}
	provisions   int
	teardowns    int
	subscribers  []func(delivery.Event)
	sent         []delivery.UIEvent
}

func (s *fakeSession) Provision(ctx context.Context) error {
	s.mu.Lock()
	s.provisions++
	block := s.block
	err := s.provisionErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSession) Subscribe(fn func(delivery.Event)) func() {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
	return func() {}
}

func (s *fakeSession) Send(ev delivery.UIEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ev)
	return true
}

func (s *fakeSession) Teardown() error {
	s.mu.Lock()
	s.teardowns++
	s.mu.Unlock()
	return nil
}

// fire calls every subscriber ever registered, torn down or not.
func (s *fakeSession) fire(ev delivery.Event) {
	s.mu.Lock()
	fns := append([]func(delivery.Event){}, s.subscribers...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSession) teardownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardowns
}

func (s *fakeSession) sentEvents() []delivery.UIEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.UIEvent(nil), s.sent...)
}

type fakeAdapter struct {
	mu       sync.Mutex
	sessions []*fakeSession
	// failures is how many of the next sessions fail to provision.
	failures int
	failErr  error
	block    chan struct{}
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) NewSession() delivery.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := &fakeSession{block: a.block}
	if a.failures > 0 {
		a.failures--
		s.provisionErr = a.failErr
	}
	a.sessions = append(a.sessions, s)
	return s
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *fakeAdapter) session(i int) *fakeSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[i]
}
