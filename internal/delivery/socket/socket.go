// Package socket delivers the session over a WebSocket to the streaming
// endpoint. The connection is authenticated with the project credentials
// and every frame after the handshake is a player event.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
)

// Frame types outside the player event vocabulary.
const (
	FrameAuth          = "auth"
	FrameAuthenticated = "authenticated"
	FrameError         = "error"
	FrameUIEvent       = "uiEvent"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId,omitempty"`
	Key       string          `json:"key,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	URL          string
	ProjectID    string
	ProjectKey   string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

type Adapter struct {
	opts Options
}

func New(opts Options) *Adapter {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return "socket" }

func (a *Adapter) NewSession() delivery.Session {
	return &Session{opts: a.opts}
}

type Session struct {
	opts Options

	listeners delivery.Listeners

	mu          sync.Mutex
	writeMu     sync.Mutex // serialises data frames; control frames go through WriteControl
	conn        *websocket.Conn
	provisioned bool
	torn        bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Provision dials the endpoint and performs the auth handshake. It returns
// once the endpoint has acknowledged the credentials.
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
	s.mu.Unlock()

	conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}

	if err := s.handshake(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	if s.torn {
		// Torn down while the handshake was in flight.
		s.mu.Unlock()
		conn.Close()
		return delivery.ErrNotProvisioned
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.wg.Add(2)
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.pingLoop(loopCtx, conn)
	return nil
}

func (s *Session) handshake(ctx context.Context, conn *websocket.Conn) error {
	// Unblock the read below if ctx ends first. ctx.Err is set by then.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	auth := Frame{Type: FrameAuth, ProjectID: s.opts.ProjectID, Key: s.opts.ProjectKey}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", contextErr(ctx, err))
	}

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read auth reply: %w", contextErr(ctx, err))
		}
		switch f.Type {
		case FrameAuthenticated:
			if !stop() {
				// Lost the race with ctx; the conn is already closed.
				return ctx.Err()
			}
			return nil
		case FrameError:
			return fmt.Errorf("auth rejected: %s", string(f.Data))
		default:
			// Events before the ack are not ours to act on yet.
			log.Printf("socket: ignoring %q frame before auth ack", f.Type)
		}
	}
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			torn := s.torn
			s.mu.Unlock()
			if !torn {
				log.Printf("socket: connection lost: %v", err)
				s.listeners.Emit(delivery.Event{Type: delivery.EventDisconnected})
			}
			return
		}
		// Any frame proves the peer is alive.
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.DroppedMessages.WithLabelValues(metrics.ReasonMalformed).Inc()
			log.Printf("socket: dropping frame: %v: %v", delivery.ErrMalformedPayload, err)
			continue
		}
		t := delivery.EventType(f.Type)
		if !t.Known() {
			metrics.DroppedMessages.WithLabelValues(metrics.ReasonUnknown).Inc()
			continue
		}
		s.listeners.Emit(delivery.Event{Type: t, Data: f.Data})
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Session) Subscribe(fn func(delivery.Event)) func() {
	return s.listeners.Add(fn)
}

func (s *Session) Send(ev delivery.UIEvent) bool {
	s.mu.Lock()
	conn := s.conn
	torn := s.torn
	s.mu.Unlock()
	if conn == nil || torn {
		return false
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteJSON(Frame{Type: FrameUIEvent, Data: data}); err != nil {
		log.Printf("socket: send %s: %v", ev.Event, err)
		return false
	}
	return true
}

// Teardown closes the connection and waits for the read and ping loops to
// exit, so nothing from this session runs after it returns.
func (s *Session) Teardown() error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return nil
	}
	s.torn = true
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.mu.Unlock()

	s.listeners.Close()
	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = fmt.Errorf("send close: %w", werr)
		}
		conn.Close()
	}
	s.wg.Wait()
	return err
}
