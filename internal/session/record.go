package session

import (
	"time"

	"github.com/kiosk-presence/kiosk/internal/presence"
)

// Record is one live presentation, from activation until the kiosk returned
// to idle.
type Record struct {
	ID        string          `json:"id"`
	Adapter   string          `json:"adapter"`
	StartedAt time.Time       `json:"startedAt"`
	ReadyAt   *time.Time      `json:"readyAt,omitempty"`
	EndedAt   *time.Time      `json:"endedAt,omitempty"`
	Reason    presence.Reason `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
	Warnings  int             `json:"warnings"`
}

// IsTerminal reports whether the session has ended.
func (r *Record) IsTerminal() bool {
	return r.EndedAt != nil
}

// Duration is the time the session was live, measured to now while it is
// still running.
func (r *Record) Duration(now time.Time) time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

func (r *Record) clone() *Record {
	c := *r
	if r.ReadyAt != nil {
		t := *r.ReadyAt
		c.ReadyAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}
