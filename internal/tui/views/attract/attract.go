// Package attract renders the idle attract screen: a markdown card and a
// start prompt that springs in when someone touches the kiosk and fades out
// again when they walk away.
package attract

import (
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"github.com/kiosk-presence/kiosk/internal/tui/theme"
)

// FrameInterval is the animation tick the overlay spring is tuned for.
const FrameInterval = time.Second / 60

// Hold is how long the start prompt stays up after the last input.
const Hold = 3 * time.Second

const settled = 0.01

// DefaultMarkdown is the attract card shown when none is configured.
const DefaultMarkdown = `# Welcome

Step up and take the controls.

* Press **Enter** to start a session
* The session ends on its own when nobody is playing
`

var (
	promptDark  = [3]uint8{0x11, 0x18, 0x27}
	promptLight = [3]uint8{0xf9, 0xfa, 0xfb}
)

type Model struct {
	markdown string
	rendered string
	width    int
	height   int

	spring   harmonica.Spring
	opacity  float64
	velocity float64
	target   float64
	hideAt   time.Time
}

func New(markdown string) Model {
	if strings.TrimSpace(markdown) == "" {
		markdown = DefaultMarkdown
	}
	return Model{
		markdown: markdown,
		spring:   harmonica.NewSpring(harmonica.FPS(60), 6.0, 1.0),
	}
}

// SetSize re-renders the markdown card for the new terminal size.
func (m *Model) SetSize(width, height int) {
	m.width, m.height = width, height
	wrap := width - 8
	if wrap < 20 {
		wrap = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.rendered = m.markdown
		return
	}
	out, err := r.Render(m.markdown)
	if err != nil {
		m.rendered = m.markdown
		return
	}
	m.rendered = strings.TrimRight(out, "\n")
}

// Show raises the start prompt and keeps it up for Hold after now.
func (m *Model) Show(now time.Time) {
	m.target = 1
	m.hideAt = now.Add(Hold)
}

// Hide drops the prompt immediately.
func (m *Model) Hide() {
	m.target = 0
	m.opacity = 0
	m.velocity = 0
	m.hideAt = time.Time{}
}

// Tick advances the spring one frame. It reports whether another frame is
// needed.
func (m *Model) Tick(now time.Time) bool {
	if m.target > 0 && !m.hideAt.IsZero() && !now.Before(m.hideAt) {
		m.target = 0
	}
	m.opacity, m.velocity = m.spring.Update(m.opacity, m.velocity, m.target)
	if m.target == 0 && m.opacity < settled && m.velocity <= 0 {
		m.opacity, m.velocity = 0, 0
		return false
	}
	return m.target > 0 || m.opacity > 0
}

// Opacity is the prompt's current visibility in [0, 1].
func (m Model) Opacity() float64 {
	return clamp(m.opacity)
}

func (m Model) View() string {
	card := theme.StyleBorder.Padding(0, 2).Render(m.rendered)

	prompt := ""
	if o := m.Opacity(); o > settled {
		prompt = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.Blend(promptDark, promptLight, o)).
			Render("▶  Press Enter to start")
	}

	content := lipgloss.JoinVertical(lipgloss.Center, card, "", prompt)
	if m.width == 0 || m.height == 0 {
		return content
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
