// Package events keeps the recent player and connection events shown on the
// live screen.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/kiosk-presence/kiosk/internal/tui/theme"
)

const maxEntries = 200

// Entry is one line in the log.
type Entry struct {
	Time   time.Time
	Kind   string // player event type, or "ws", "api", "err"
	Detail string
}

type Model struct {
	Entries []Entry
}

func New() Model {
	return Model{}
}

// Add appends an entry and caps the buffer.
func (m *Model) Add(at time.Time, kind, detail string) {
	m.Entries = append(m.Entries, Entry{Time: at, Kind: kind, Detail: detail})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
}

// View renders the newest entries that fit in height lines.
func (m Model) View(width, height int) string {
	if height < 1 {
		height = 1
	}
	if len(m.Entries) == 0 {
		return theme.StyleDimmed.Render("  No events yet.")
	}

	start := len(m.Entries) - height
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, len(m.Entries)-start)
	for _, e := range m.Entries[start:] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(22).Render(e.Kind)
		detail := e.Detail
		if room := width - 33; room > 3 && len(detail) > room {
			detail = detail[:room-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, detail))
	}
	return strings.Join(lines, "\n")
}

func kindColor(kind string) lipgloss.Color {
	switch kind {
	case "err":
		return theme.ColorDanger
	case "ws", "api":
		return theme.ColorAccent
	default:
		return theme.EventColor(kind)
	}
}
