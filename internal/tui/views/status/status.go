package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/kiosk-presence/kiosk/internal/tui/client"
	"github.com/kiosk-presence/kiosk/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	State     client.State
	Now       time.Time
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// Remaining returns the time left before the inactivity watchdog fires, or
// false when no deadline is set.
func (m Model) Remaining() (time.Duration, bool) {
	if m.State.Deadline == nil || m.Now.IsZero() {
		return 0, false
	}
	d := m.State.Deadline.Sub(m.Now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	mode := m.State.Mode.String()
	modeStr := lipgloss.NewStyle().Bold(true).Foreground(theme.ModeColor(mode)).Render(mode)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + modeStr
	if m.State.Adapter != "" {
		content += " " + theme.StyleDimmed.Render("via "+m.State.Adapter)
	}

	if mode == "live" {
		switch {
		case m.State.Warning:
			content += sep + theme.StyleWarning.Render("still there?")
		case m.State.Ready:
			content += sep + lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("ready")
		default:
			content += sep + theme.StyleDimmed.Render("loading")
		}
		if left, ok := m.Remaining(); ok {
			content += sep + fmt.Sprintf("idle in %ds", int(left.Round(time.Second).Seconds()))
		}
	} else if m.State.LastReason != "" {
		content += sep + theme.StyleDimmed.Render("last ended: "+string(m.State.LastReason))
	}

	if m.State.LastError != "" {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(m.State.LastError)
	}

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)

	return bar
}
