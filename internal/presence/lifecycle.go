package presence

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kiosk-presence/kiosk/internal/delivery"
)

// SessionHandle is the live session resource. At most one exists at a time
// and it only exists while the controller is Live.
type SessionHandle struct {
	ID        string
	StartedAt time.Time

	session  delivery.Session
	ctx      context.Context
	cancel   context.CancelFunc
	releases []func()
	ready    bool
}

// lifecycle owns the session handle and everything acquired on its behalf.
// It is loop-owned like the rest of the controller state.
type lifecycle struct {
	adapter delivery.Adapter
	handle  *SessionHandle
}

// provision creates the handle. With a handle already present it returns
// that handle and false, creating nothing.
func (l *lifecycle) provision(now time.Time) (*SessionHandle, bool) {
	if l.handle != nil {
		return l.handle, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.handle = &SessionHandle{
		ID:        uuid.NewString(),
		StartedAt: now,
		session:   l.adapter.NewSession(),
		ctx:       ctx,
		cancel:    cancel,
	}
	return l.handle, true
}

// current reports whether h is the live handle.
func (l *lifecycle) current(h *SessionHandle) bool {
	return h != nil && l.handle == h
}

// acquire ties release to h: it runs at teardown, or right away if h is no
// longer live.
func (l *lifecycle) acquire(h *SessionHandle, release func()) {
	if !l.current(h) {
		release()
		return
	}
	h.releases = append(h.releases, release)
}

// teardown releases every acquisition in reverse order, cancels any
// provisioning still in flight and tears the session down. It returns nil
// when nothing was provisioned.
func (l *lifecycle) teardown() *SessionHandle {
	h := l.handle
	if h == nil {
		return nil
	}
	l.handle = nil

	h.cancel()
	for i := len(h.releases) - 1; i >= 0; i-- {
		h.releases[i]()
	}
	h.releases = nil
	if err := h.session.Teardown(); err != nil {
		log.Printf("presence: teardown session %s: %v", h.ID, err)
	}
	return h
}
