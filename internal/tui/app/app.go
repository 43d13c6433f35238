package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/tui/client"
	"github.com/kiosk-presence/kiosk/internal/tui/theme"
	"github.com/kiosk-presence/kiosk/internal/tui/views/attract"
	"github.com/kiosk-presence/kiosk/internal/tui/views/events"
	"github.com/kiosk-presence/kiosk/internal/tui/views/status"
)

// EmitEvent is the custom UI event sent with the emit key.
const EmitEvent = "kioskPing"

// frameMsg advances the attract prompt animation.
type frameMsg time.Time

// clockMsg refreshes the idle countdown once a second.
type clockMsg time.Time

// apiResultMsg reports the outcome of a REST call.
type apiResultMsg struct {
	action string
	state  *client.State
	err    error
}

// sendErrMsg reports a failed page event write.
type sendErrMsg struct{ err error }

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int
	now    func() time.Time

	state     client.State
	elements  []client.Element
	connected bool
	animating bool
	showLog   bool

	statusBar status.Model
	attract   attract.Model
	events    events.Model
}

// New creates the root model. markdown is the attract card; empty uses the
// default card.
func New(ws *client.WSClient, http *client.HTTPClient, markdown string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		now:       time.Now,
		statusBar: status.New(),
		attract:   attract.New(markdown),
		events:    events.New(),
	}
}

// Init starts the WebSocket connection and the countdown clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), clockTick())
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func frameTick() tea.Cmd {
	return tea.Tick(attract.FrameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.attract.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case frameMsg:
		m.animating = m.attract.Tick(time.Time(msg))
		if m.animating {
			return m, frameTick()
		}
		return m, nil

	case clockMsg:
		m.statusBar.Now = time.Time(msg)
		return m, clockTick()

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.log("ws", "connected")
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.log("ws", "disconnected: "+msg.Err.Error())
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSSnapshotMsg:
		m.setState(msg.Payload.State)
		m.elements = msg.Payload.Elements
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSStateMsg:
		m.setState(msg.State)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSStageMsg:
		m.elements = msg.Elements
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSEventMsg:
		m.log(string(msg.Event.Type), compact(msg.Event.Data))
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSCommandMsg:
		m.log("ws", fmt.Sprintf("command %s → %s", msg.Command.Name, msg.Command.Target))
		return m, m.ws.ReadLoop(m.ctx)

	case apiResultMsg:
		if msg.err != nil {
			m.log("err", fmt.Sprintf("%s: %v", msg.action, msg.err))
			return m, nil
		}
		m.log("api", msg.action)
		if msg.state != nil {
			m.setState(*msg.state)
		}
		return m, nil

	case sendErrMsg:
		m.log("err", msg.err.Error())
		return m, nil
	}

	return m, nil
}

func (m *Model) setState(st client.State) {
	if st.Mode != m.state.Mode {
		m.log("ws", "mode "+st.Mode.String())
	}
	m.state = st
	m.statusBar.State = st
	if st.Mode == presence.Live {
		m.attract.Hide()
	}
}

func (m *Model) log(kind, detail string) {
	m.events.Add(m.now(), kind, detail)
}

func (m Model) live() bool {
	return m.state.Mode == presence.Live
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	// Every key press is input, whatever else it does.
	cmds := []tea.Cmd{m.sendPage("keydown")}

	switch {
	case key.Matches(msg, m.keys.Events):
		m.showLog = !m.showLog

	case !m.live() && key.Matches(msg, m.keys.Start):
		cmds = append(cmds, m.activate())

	case m.live() && key.Matches(msg, m.keys.Stop):
		cmds = append(cmds, m.deactivate())

	case m.live() && key.Matches(msg, m.keys.Emit):
		cmds = append(cmds, m.emit())
	}

	cmds = append(cmds, m.wake())
	return m, tea.Batch(cmds...)
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	event := "mousemove"
	if msg.Action == tea.MouseActionPress {
		event = "click"
	}
	return m, tea.Batch(m.sendPage(event), m.wake())
}

// wake raises the start prompt on the idle screen and starts the animation
// if it is not already running.
func (m *Model) wake() tea.Cmd {
	if m.live() {
		return nil
	}
	m.attract.Show(m.now())
	if m.animating {
		return nil
	}
	m.animating = true
	return frameTick()
}

func (m Model) sendPage(event string) tea.Cmd {
	ws := m.ws
	return func() tea.Msg {
		if err := ws.SendPage(client.PageMessage{Event: event}); err != nil && !errors.Is(err, client.ErrNotConnected) {
			return sendErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) activate() tea.Cmd {
	http := m.http
	return func() tea.Msg {
		st, err := http.Activate()
		return apiResultMsg{action: "activate", state: st, err: err}
	}
}

func (m Model) deactivate() tea.Cmd {
	http := m.http
	return func() tea.Msg {
		st, err := http.Deactivate()
		return apiResultMsg{action: "deactivate", state: st, err: err}
	}
}

func (m Model) emit() tea.Cmd {
	http := m.http
	data, _ := json.Marshal(map[string]any{"at": m.now().Unix()})
	return func() tea.Msg {
		err := http.Emit(client.UIEvent{Event: EmitEvent, Data: data})
		return apiResultMsg{action: "emit " + EmitEvent, err: err}
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	body := m.liveView()
	if !m.live() {
		body = m.attract.View()
	}
	if m.showLog {
		body = theme.StyleBorder.Width(m.width - 2).Render(m.events.View(m.width-4, m.height-8))
	}

	sections := []string{m.statusBar.View(), body}
	if !m.connected {
		sections = append(sections, m.disconnectBanner())
	}
	sections = append(sections, m.helpLine())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) liveView() string {
	var lines []string
	lines = append(lines, theme.StyleHeader.Render("SESSION "+shortID(m.state.SessionID)))
	if len(m.elements) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  nothing mounted"))
	}
	for _, el := range m.elements {
		indent := "  "
		if el.Parent != "" {
			indent = "    "
		}
		lines = append(lines, fmt.Sprintf("%s<%s id=%q>", indent, el.Tag, el.ID))
	}
	lines = append(lines, "", theme.StyleHeader.Render("EVENTS"))
	lines = append(lines, m.events.View(m.width-2, 8))
	return theme.StyleBorder.Width(m.width - 2).Render(strings.Join(lines, "\n"))
}

func (m Model) disconnectBanner() string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorDanger).
		Render("  DISCONNECTED  Reconnecting to kioskd...")
}

func (m Model) helpLine() string {
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	return theme.StyleDimmed.Render("  " + strings.Join(parts, "  "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "(starting)"
	}
	return id
}

func compact(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	return strings.Join(strings.Fields(string(data)), " ")
}
