// Package iframe delivers the player as a bare iframe. The page forwards
// every window postMessage to the daemon; only messages whose origin is the
// embed origin are trusted.
package iframe

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"

	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
	"github.com/kiosk-presence/kiosk/internal/stage"
)

const FrameID = "arcane-player-frame"

type Options struct {
	EmbedURL string
	// Key is passed through as the ?key= query parameter unmodified.
	Key   string
	Allow string
}

type Adapter struct {
	stage *stage.Stage
	opts  Options
}

func New(st *stage.Stage, opts Options) *Adapter {
	if opts.Allow == "" {
		opts.Allow = "fullscreen; microphone"
	}
	return &Adapter{stage: st, opts: opts}
}

func (a *Adapter) Name() string { return "iframe" }

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

// Provision mounts the frame. The frame is usable as soon as it is on the
// page, so Provision does not wait for a readiness message.
func (s *Session) Provision(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.src()
	if err != nil {
		return fmt.Errorf("iframe provision: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return delivery.ErrNotProvisioned
	}
	if s.provisioned {
		return nil
	}
	s.provisioned = true

	s.releases = append(s.releases, s.stage.On(stage.EventMessage, s.onMessage))
	unmount, err := s.stage.Mount(stage.Element{
		ID:  FrameID,
		Tag: "iframe",
		Attrs: map[string]string{
			"src":             src,
			"allow":           s.opts.Allow,
			"allowfullscreen": "true",
			"frameborder":     "0",
		},
	})
	if err != nil {
		return fmt.Errorf("iframe provision: %w", err)
	}
	s.releases = append(s.releases, unmount)
	return nil
}

func (s *Session) src() (string, error) {
	u, err := url.Parse(s.opts.EmbedURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("embed url %q has no host", s.opts.EmbedURL)
	}
	if s.opts.Key != "" {
		q := u.Query()
		q.Set("key", s.opts.Key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Session) onMessage(msg stage.Message) {
	if !delivery.SameOrigin(s.opts.EmbedURL, msg.Origin) {
		metrics.DroppedMessages.WithLabelValues(metrics.ReasonOrigin).Inc()
		log.Printf("iframe: dropping message from %q: %v", msg.Origin, delivery.ErrOriginMismatch)
		return
	}

	var ev delivery.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		metrics.DroppedMessages.WithLabelValues(metrics.ReasonMalformed).Inc()
		log.Printf("iframe: dropping message: %v: %v", delivery.ErrMalformedPayload, err)
		return
	}
	if !ev.Type.Known() {
		metrics.DroppedMessages.WithLabelValues(metrics.ReasonUnknown).Inc()
		return
	}
	ev.Origin = msg.Origin
	s.listeners.Emit(ev)
}

func (s *Session) Subscribe(fn func(delivery.Event)) func() {
	return s.listeners.Add(fn)
}

// Send posts ev into the frame, targeted at the embed origin.
func (s *Session) Send(ev delivery.UIEvent) bool {
	s.mu.Lock()
	live := s.provisioned && !s.torn
	s.mu.Unlock()
	if !live {
		return false
	}
	data, err := json.Marshal(struct {
		TargetOrigin string           `json:"targetOrigin"`
		Message      delivery.UIEvent `json:"message"`
	}{delivery.Origin(s.opts.EmbedURL), ev})
	if err != nil {
		return false
	}
	return s.stage.Send(stage.Command{Target: FrameID, Name: "postMessage", Data: data})
}

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
