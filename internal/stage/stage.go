// Package stage models the page surface the kiosk renders: the elements a
// delivery adapter mounts, and the ambient listeners that receive events
// the page forwards back. It stands in for the document and window
// globals the embed SDK would otherwise reach into.
package stage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kiosk-presence/kiosk/internal/delivery"
)

// Page events with a fixed meaning.
const (
	// EventPlayerLoaded is raised on the window once the embed script has
	// installed its player object.
	EventPlayerLoaded = "ArcanePlayerLoaded"
	// EventPlayer carries a player event: {"name": ..., "payload": ...}.
	EventPlayer = "player"
	// EventMessage carries a window postMessage payload and its origin.
	EventMessage = "message"
)

var activityEvents = map[string]delivery.Signal{
	"mousemove":  delivery.SignalPointer,
	"click":      delivery.SignalPointer,
	"touchstart": delivery.SignalTouch,
	"touchmove":  delivery.SignalTouch,
	"touchend":   delivery.SignalTouch,
	"keydown":    delivery.SignalKey,
}

// ActivitySignal maps a page event name to the input signal it represents.
func ActivitySignal(event string) (delivery.Signal, bool) {
	s, ok := activityEvents[event]
	return s, ok
}

// Element is a node mounted on the page.
type Element struct {
	ID     string            `json:"id"`
	Tag    string            `json:"tag"`
	Parent string            `json:"parent,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Message is an event forwarded by the page.
type Message struct {
	Event  string          `json:"event"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// PlayerPayload is the data of an EventPlayer message.
type PlayerPayload struct {
	Name    delivery.EventType `json:"name"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

// Command is an instruction for the page, such as calling emitUIEvent on
// the player object or posting a message into a frame.
type Command struct {
	Target string          `json:"target"`
	Name   string          `json:"name"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// listener serialises calls to fn with its own removal: once off returns,
// fn is never entered again.
type listener struct {
	mu   sync.Mutex
	dead bool
	fn   func(Message)
}

func (l *listener) call(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead {
		return
	}
	l.fn(msg)
}

func (l *listener) kill() {
	l.mu.Lock()
	l.dead = true
	l.mu.Unlock()
}

type Stage struct {
	mu        sync.Mutex
	elements  []Element
	listeners map[string]map[uint64]*listener
	watchers  map[uint64]func()
	sinks     map[uint64]func(Command)
	next      uint64
}

func New() *Stage {
	return &Stage{
		listeners: make(map[string]map[uint64]*listener),
		watchers:  make(map[uint64]func()),
		sinks:     make(map[uint64]func(Command)),
	}
}

// Mount appends el to the page. It fails if an element with the same ID is
// already mounted. The returned func removes the element; calling it again
// is a no-op.
func (s *Stage) Mount(el Element) (func(), error) {
	if el.ID == "" {
		return nil, fmt.Errorf("mount %s: element id required", el.Tag)
	}

	s.mu.Lock()
	for _, existing := range s.elements {
		if existing.ID == el.ID {
			s.mu.Unlock()
			return nil, fmt.Errorf("mount %s: id %q already mounted", el.Tag, el.ID)
		}
	}
	s.elements = append(s.elements, cloneElement(el))
	s.mu.Unlock()
	s.notify()

	var once sync.Once
	return func() {
		once.Do(func() { s.unmount(el.ID) })
	}, nil
}

func (s *Stage) unmount(id string) {
	s.mu.Lock()
	removed := false
	kept := s.elements[:0]
	for _, el := range s.elements {
		// Children go with their parent.
		if el.ID == id || el.Parent == id {
			removed = true
			continue
		}
		kept = append(kept, el)
	}
	s.elements = kept
	s.mu.Unlock()
	if removed {
		s.notify()
	}
}

// Elements returns a copy of the mounted elements in mount order.
func (s *Stage) Elements() []Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Element, len(s.elements))
	for i, el := range s.elements {
		out[i] = cloneElement(el)
	}
	return out
}

// On registers fn for page messages named event. The returned func removes
// the listener and waits for any in-flight call to finish.
func (s *Stage) On(event string, fn func(Message)) func() {
	l := &listener{fn: fn}

	s.mu.Lock()
	id := s.next
	s.next++
	if s.listeners[event] == nil {
		s.listeners[event] = make(map[uint64]*listener)
	}
	s.listeners[event][id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners[event], id)
			if len(s.listeners[event]) == 0 {
				delete(s.listeners, event)
			}
			s.mu.Unlock()
			l.kill()
		})
	}
}

// OnActivity registers fn for every page input event that counts as user
// activity.
func (s *Stage) OnActivity(fn func(delivery.Signal)) func() {
	offs := make([]func(), 0, len(activityEvents))
	for event, sig := range activityEvents {
		sig := sig
		offs = append(offs, s.On(event, func(Message) { fn(sig) }))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Dispatch delivers msg to the listeners registered for msg.Event.
func (s *Stage) Dispatch(msg Message) {
	s.mu.Lock()
	targets := make([]*listener, 0, len(s.listeners[msg.Event]))
	for _, l := range s.listeners[msg.Event] {
		targets = append(targets, l)
	}
	s.mu.Unlock()

	for _, l := range targets {
		l.call(msg)
	}
}

// ListenerCount returns the number of registered listeners across all
// events.
func (s *Stage) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.listeners {
		n += len(set)
	}
	return n
}

// Watch registers fn to run after every element change.
func (s *Stage) Watch(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Sink registers fn to receive commands addressed to the page.
func (s *Stage) Sink(fn func(Command)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.sinks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.sinks, id)
		s.mu.Unlock()
	}
}

// Send hands cmd to every sink. It reports whether any sink was there to
// take it; delivery to the page itself is not confirmed.
func (s *Stage) Send(cmd Command) bool {
	s.mu.Lock()
	fns := make([]func(Command), 0, len(s.sinks))
	for _, fn := range s.sinks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(cmd)
	}
	return len(fns) > 0
}

func (s *Stage) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func cloneElement(el Element) Element {
	if el.Attrs != nil {
		attrs := make(map[string]string, len(el.Attrs))
		for k, v := range el.Attrs {
			attrs[k] = v
		}
		el.Attrs = attrs
	}
	return el
}
