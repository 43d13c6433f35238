package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keys with a meaning of their own. Every other key is
// forwarded to the daemon as input activity.
type KeyMap struct {
	Start  key.Binding
	Stop   key.Binding
	Emit   key.Binding
	Events key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Start: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "start session"),
		),
		Stop: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "end session"),
		),
		Emit: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "send UI event"),
		),
		Events: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "toggle event log"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp lists the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Emit, k.Events, k.Quit}
}
