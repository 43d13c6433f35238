package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProvisioning wraps every failure to bring up a session.
	ErrProvisioning = errors.New("provisioning failed")
	// ErrDisposed is returned by operations on a closed controller.
	ErrDisposed = errors.New("controller disposed")
)

// Mode is what the kiosk is showing.
type Mode int

const (
	// Idle shows the looping video.
	Idle Mode = iota
	// Live shows the embedded session.
	Live
)

var modeNames = map[Mode]string{
	Idle: "idle",
	Live: "live",
}

var modeFromName = map[string]Mode{
	"idle": Idle,
	"live": Live,
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := modeFromName[s]
	if !ok {
		return fmt.Errorf("unknown mode %q", s)
	}
	*m = v
	return nil
}

// Reason says why a session ended.
type Reason string

const (
	ReasonRequested    Reason = "requested"
	ReasonInactivity   Reason = "inactivity"
	ReasonAFKTimedOut  Reason = "afk_timed_out"
	ReasonDisconnected Reason = "disconnected"
	ReasonProvisioning Reason = "provisioning_failed"
	ReasonDisposed     Reason = "disposed"
)

// State is a point-in-time view of the controller.
type State struct {
	Mode           Mode       `json:"mode"`
	SessionID      string     `json:"sessionId,omitempty"`
	Adapter        string     `json:"adapter"`
	Ready          bool       `json:"ready"`
	Warning        bool       `json:"warning"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	LastReason     Reason     `json:"lastReason,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}
