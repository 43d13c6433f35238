// Package session keeps a bounded history of live presentations, built
// from the controller's state stream.
package session

import (
	"sync"
	"time"

	"github.com/kiosk-presence/kiosk/internal/presence"
)

// DefaultLimit is the number of records kept when NewStore is given zero.
const DefaultLimit = 100

type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // oldest first
	limit   int

	current string
	warned  bool
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		records: make(map[string]*Record),
		limit:   limit,
	}
}

// Observe folds a controller state change into the history. It is meant to
// be registered with Controller.Subscribe, which delivers states in order.
func (s *Store) Observe(st presence.State, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Mode == presence.Idle {
		if rec, ok := s.records[s.current]; ok && !rec.IsTerminal() {
			ended := now
			rec.EndedAt = &ended
			rec.Reason = st.LastReason
			rec.Error = st.LastError
		}
		s.current = ""
		s.warned = false
		return
	}

	if st.SessionID == "" {
		return
	}
	if st.SessionID != s.current {
		if prev, ok := s.records[s.current]; ok && !prev.IsTerminal() {
			ended := now
			prev.EndedAt = &ended
		}
		s.add(&Record{ID: st.SessionID, Adapter: st.Adapter, StartedAt: now})
		s.current = st.SessionID
		s.warned = false
	}

	rec := s.records[s.current]
	if st.Ready && rec.ReadyAt == nil {
		ready := now
		rec.ReadyAt = &ready
	}
	if st.Warning && !s.warned {
		rec.Warnings++
	}
	s.warned = st.Warning
}

// add stores rec and evicts the oldest ended records past the limit.
func (s *Store) add(rec *Record) {
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	for len(s.order) > s.limit {
		oldest := s.order[0]
		if oldest == s.current {
			break
		}
		delete(s.records, oldest)
		s.order = s.order[1:]
	}
}

func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// GetAll returns copies of every record, newest first.
func (s *Store) GetAll() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		result = append(result, s.records[s.order[i]].clone())
	}
	return result
}

// Current returns the running session, if any.
func (s *Store) Current() (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[s.current]
	if !ok || rec.IsTerminal() {
		return nil, false
	}
	return rec.clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
