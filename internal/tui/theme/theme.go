// Package theme provides the Lip Gloss color palette and reusable styles
// for the kiosk TUI. It is a leaf package with no internal imports to avoid
// import cycles.
package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Mode colors.
var (
	ColorIdle = lipgloss.Color("#6b7280")
	ColorLive = lipgloss.Color("#22c55e")
)

// Player event colors.
var (
	ColorLifecycle = lipgloss.Color("#2563eb")
	ColorAFK       = lipgloss.Color("#d97706")
	ColorEnded     = lipgloss.Color("#dc2626")
	ColorTransfer  = lipgloss.Color("#7c3aed")
	ColorCustom    = lipgloss.Color("#06b6d4")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#a855f7")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// ModeColor returns the color for a presentation mode name.
func ModeColor(mode string) lipgloss.Color {
	if mode == "live" {
		return ColorLive
	}
	return ColorIdle
}

// EventColor returns the color for a player event type.
func EventColor(event string) lipgloss.Color {
	switch event {
	case "loading", "ready", "interaction":
		return ColorLifecycle
	case "afkWarning", "afkWarningDeactivate":
		return ColorAFK
	case "afkTimedOut", "disconnected":
		return ColorEnded
	case "fileProgress", "fileReceived":
		return ColorTransfer
	case "CustomUIEventResponse":
		return ColorCustom
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleWarning = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWarning)
)

// Blend returns a hex color t of the way from a to b, for fades. t is
// clamped to [0, 1].
func Blend(a, b [3]uint8, t float64) lipgloss.Color {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", mix(a[0], b[0]), mix(a[1], b[1]), mix(a[2], b[2])))
}
