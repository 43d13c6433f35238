package delivery

import "sync"

// Listeners is the subscriber set every Session implementation embeds.
// Once closed it never calls a subscriber again, and Emit is serialised
// with Close so a subscriber cannot run after Close returns.
type Listeners struct {
	mu     sync.Mutex
	next   uint64
	fns    map[uint64]func(Event)
	closed bool
}

// Add registers fn and returns its release func. Adding to a closed set
// returns a no-op release.
func (l *Listeners) Add(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	if l.fns == nil {
		l.fns = make(map[uint64]func(Event))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Emit delivers ev to every subscriber. Subscribers must not block or
// release themselves.
func (l *Listeners) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for _, fn := range l.fns {
		fn(ev)
	}
}

// Close drops every subscriber.
func (l *Listeners) Close() {
	l.mu.Lock()
	l.closed = true
	l.fns = nil
	l.mu.Unlock()
}

// Len returns the number of live subscribers.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}
