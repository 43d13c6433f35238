// Package script delivers the player by injecting the vendor embed script
// and its placeholder element into the page, then waiting for the page to
// report that the ambient player object is loaded.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
	"github.com/kiosk-presence/kiosk/internal/stage"
)

const (
	ContainerID = "am-container"
	PlayerID    = "arcane-player"
	ScriptID    = "arcane-player-script"
)

// PlayerOptions become data-* attributes on the player placeholder.
type PlayerOptions struct {
	IdleTimeout       int
	CaptureMouse      bool
	EventsPassthrough bool
	HideUIControls    bool
	Autoplay          bool
}

type Options struct {
	// EmbedURL is the project embed base, e.g. https://embed.example.com/<uuid>.
	EmbedURL   string
	ProjectID  string
	ProjectKey string
	Player     PlayerOptions
}

type Adapter struct {
	stage *stage.Stage
	opts  Options
}

func New(st *stage.Stage, opts Options) *Adapter {
	return &Adapter{stage: st, opts: opts}
}

func (a *Adapter) Name() string { return "script" }

func (a *Adapter) NewSession() delivery.Session {
	return &Session{stage: a.stage, opts: a.opts}
}

type Session struct {
	stage *stage.Stage
	opts  Options

	listeners delivery.Listeners

	mu          sync.Mutex
	provisioned bool
	torn        bool
	releases    []func()
}

// Provision mounts the container, the player placeholder and the embed
// script, then blocks until the page raises ArcanePlayerLoaded.
func (s *Session) Provision(ctx context.Context) error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return delivery.ErrNotProvisioned
	}
	if s.provisioned {
		s.mu.Unlock()
		return nil
	}
	s.provisioned = true

	loaded := make(chan struct{})
	var loadedOnce sync.Once
	s.releases = append(s.releases,
		s.stage.On(stage.EventPlayerLoaded, func(stage.Message) {
			loadedOnce.Do(func() { close(loaded) })
		}),
		s.stage.On(stage.EventPlayer, s.onPlayer),
	)

	for _, el := range s.elements() {
		unmount, err := s.stage.Mount(el)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("script provision: %w", err)
		}
		s.releases = append(s.releases, unmount)
	}
	s.mu.Unlock()

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s: %w", stage.EventPlayerLoaded, ctx.Err())
	}
}

func (s *Session) elements() []stage.Element {
	p := s.opts.Player
	return []stage.Element{
		{ID: ContainerID, Tag: "div"},
		{
			ID:     PlayerID,
			Tag:    "div",
			Parent: ContainerID,
			Attrs: map[string]string{
				"data-project-id":                s.opts.ProjectID,
				"data-project-key":               s.opts.ProjectKey,
				"data-idle-timeout":              strconv.Itoa(p.IdleTimeout),
				"data-capture-mouse":             strconv.FormatBool(p.CaptureMouse),
				"data-enable-events-passthrough": strconv.FormatBool(p.EventsPassthrough),
				"data-hide-ui-controls":          strconv.FormatBool(p.HideUIControls),
				"data-autoplay":                  strconv.FormatBool(p.Autoplay),
			},
		},
		{
			ID:     ScriptID,
			Tag:    "script",
			Parent: ContainerID,
			Attrs:  map[string]string{"src": strings.TrimRight(s.opts.EmbedURL, "/") + "/e"},
		},
	}
}

func (s *Session) onPlayer(msg stage.Message) {
	var p stage.PlayerPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		metrics.DroppedMessages.WithLabelValues(metrics.ReasonMalformed).Inc()
		log.Printf("script: dropping player event: %v: %v", delivery.ErrMalformedPayload, err)
		return
	}
	if !p.Name.Known() {
		metrics.DroppedMessages.WithLabelValues(metrics.ReasonUnknown).Inc()
		log.Printf("script: ignoring unknown player event %q", p.Name)
		return
	}
	s.listeners.Emit(delivery.Event{Type: p.Name, Data: p.Payload})
}

func (s *Session) Subscribe(fn func(delivery.Event)) func() {
	return s.listeners.Add(fn)
}

// Send asks the page to call emitUIEvent on the player object.
func (s *Session) Send(ev delivery.UIEvent) bool {
	s.mu.Lock()
	live := s.provisioned && !s.torn
	s.mu.Unlock()
	if !live {
		return false
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return s.stage.Send(stage.Command{Target: PlayerID, Name: "emitUIEvent", Data: data})
}

// Teardown unmounts everything Provision mounted and drops every listener.
func (s *Session) Teardown() error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return nil
	}
	s.torn = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	s.listeners.Close()
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
	return nil
}
