// Package delivery defines the capability an embedded streaming player must
// offer the presence controller, and the event vocabulary shared between
// the player, the page and the controller. Concrete mechanisms live in the
// script, iframe and socket subpackages.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrOriginMismatch marks an inbound payload whose origin is not trusted.
	ErrOriginMismatch = errors.New("origin mismatch")
	// ErrMalformedPayload marks an inbound payload that failed to parse.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNotProvisioned is returned by operations that need a live session.
	ErrNotProvisioned = errors.New("session not provisioned")
)

// EventType names an event reported by the embedded player.
type EventType string

const (
	EventLoading              EventType = "loading"
	EventReady                EventType = "ready"
	EventAFKWarning           EventType = "afkWarning"
	EventAFKWarningDeactivate EventType = "afkWarningDeactivate"
	EventAFKTimedOut          EventType = "afkTimedOut"
	EventDisconnected         EventType = "disconnected"
	EventInteraction          EventType = "interaction"
	EventFileProgress         EventType = "fileProgress"
	EventFileReceived         EventType = "fileReceived"
	EventUIEventResponse      EventType = "CustomUIEventResponse"
)

// Terminal reports whether the event ends the session immediately.
func (t EventType) Terminal() bool {
	return t == EventAFKTimedOut || t == EventDisconnected
}

// Activity reports whether the event is evidence that someone is still
// using the session.
func (t EventType) Activity() bool {
	switch t {
	case EventLoading, EventReady, EventAFKWarningDeactivate, EventInteraction:
		return true
	}
	return false
}

// Known reports whether t belongs to the vocabulary.
func (t EventType) Known() bool {
	switch t {
	case EventLoading, EventReady, EventAFKWarning, EventAFKWarningDeactivate,
		EventAFKTimedOut, EventDisconnected, EventInteraction,
		EventFileProgress, EventFileReceived, EventUIEventResponse:
		return true
	}
	return false
}

// Event is one message from the embedded player.
type Event struct {
	Type   EventType       `json:"type"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// UIEvent is an application-defined event forwarded to the player, the
// {event, data} descriptor accepted by emitUIEvent.
type UIEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Signal classifies an input signal observed on the page.
type Signal string

const (
	SignalPointer  Signal = "pointer"
	SignalTouch    Signal = "touch"
	SignalKey      Signal = "key"
	SignalExternal Signal = "external"
)

// Session is one embedded-player instance. A Session is provisioned at most
// once and must not dispatch to any subscriber after Teardown returns.
type Session interface {
	// Provision creates the external resource. It blocks until the player
	// is usable, ctx is done, or provisioning fails.
	Provision(ctx context.Context) error
	// Subscribe registers fn for every event the player reports.
	Subscribe(fn func(Event)) (unsubscribe func())
	// Send forwards ev to the player. The result is advisory.
	Send(ev UIEvent) bool
	// Teardown removes everything Provision created. It is a no-op when
	// nothing was provisioned and safe to call more than once.
	Teardown() error
}

// Adapter builds sessions for one delivery mechanism.
type Adapter interface {
	Name() string
	NewSession() Session
}
