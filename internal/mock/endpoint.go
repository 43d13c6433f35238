// Package mock provides a local stand-in for the streaming endpoint. It
// speaks the socket delivery protocol: an auth handshake, then loading and
// ready, AFK warnings after silence, and a response for every UI event.
package mock

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/delivery/socket"
)

const authTimeout = 5 * time.Second

type EndpointConfig struct {
	// ProjectKey, when set, must match the key in the auth frame.
	ProjectKey string
	// LoadingDelay is the gap between the auth ack and the ready event.
	LoadingDelay time.Duration
	// AFKWarningAfter and AFKTimeoutAfter are measured from the last UI
	// event the endpoint received. Zero disables each.
	AFKWarningAfter time.Duration
	AFKTimeoutAfter time.Duration
}

type Endpoint struct {
	cfg      EndpointConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]bool
}

func NewEndpoint(cfg EndpointConfig) *Endpoint {
	return &Endpoint{
		cfg:   cfg,
		conns: make(map[*conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) send(f socket.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(f)
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mock: upgrade error: %v", err)
		return
	}
	c := &conn{ws: ws}

	e.mu.Lock()
	e.conns[c] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.conns, c)
		e.mu.Unlock()
		ws.Close()
	}()

	if !e.authenticate(c) {
		return
	}
	e.serve(c)
}

func (e *Endpoint) authenticate(c *conn) bool {
	c.ws.SetReadDeadline(time.Now().Add(authTimeout))
	var auth socket.Frame
	if err := c.ws.ReadJSON(&auth); err != nil {
		return false
	}
	c.ws.SetReadDeadline(time.Time{})

	if auth.Type != socket.FrameAuth || (e.cfg.ProjectKey != "" && auth.Key != e.cfg.ProjectKey) {
		reason, _ := json.Marshal("invalid credentials")
		c.send(socket.Frame{Type: socket.FrameError, Data: reason})
		return false
	}
	return c.send(socket.Frame{Type: socket.FrameAuthenticated}) == nil
}

func (e *Endpoint) serve(c *conn) {
	events := make(chan socket.Frame, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(events)
		for {
			var f socket.Frame
			if err := c.ws.ReadJSON(&f); err != nil {
				return
			}
			select {
			case events <- f:
			case <-done:
				return
			}
		}
	}()

	if err := c.send(event(delivery.EventLoading, nil)); err != nil {
		return
	}
	loaded := time.NewTimer(e.cfg.LoadingDelay)
	defer loaded.Stop()

	warn := newOptionalTimer(e.cfg.AFKWarningAfter)
	defer warn.stop()
	timeout := newOptionalTimer(e.cfg.AFKTimeoutAfter)
	defer timeout.stop()
	warned := false

	for {
		select {
		case <-loaded.C:
			if c.send(event(delivery.EventReady, nil)) != nil {
				return
			}
		case f, ok := <-events:
			if !ok {
				return
			}
			if f.Type != socket.FrameUIEvent {
				continue
			}
			warn.reset()
			timeout.reset()
			if warned {
				warned = false
				if c.send(event(delivery.EventAFKWarningDeactivate, nil)) != nil {
					return
				}
			}
			if c.send(event(delivery.EventUIEventResponse, f.Data)) != nil {
				return
			}
		case <-warn.c():
			warned = true
			if c.send(event(delivery.EventAFKWarning, nil)) != nil {
				return
			}
		case <-timeout.c():
			c.send(event(delivery.EventAFKTimedOut, nil))
			return
		}
	}
}

func event(t delivery.EventType, data json.RawMessage) socket.Frame {
	return socket.Frame{Type: string(t), Data: data}
}

// ConnCount returns the number of open sessions.
func (e *Endpoint) ConnCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Drop closes every open session without a close frame, as an outage would.
func (e *Endpoint) Drop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.conns {
		c.ws.NetConn().Close()
	}
}

// optionalTimer is a time.Timer that never fires when d is zero.
type optionalTimer struct {
	d time.Duration
	t *time.Timer
}

func newOptionalTimer(d time.Duration) *optionalTimer {
	ot := &optionalTimer{d: d}
	if d > 0 {
		ot.t = time.NewTimer(d)
	}
	return ot
}

func (ot *optionalTimer) c() <-chan time.Time {
	if ot.t == nil {
		return nil
	}
	return ot.t.C
}

func (ot *optionalTimer) reset() {
	if ot.t != nil {
		ot.t.Reset(ot.d)
	}
}

func (ot *optionalTimer) stop() {
	if ot.t != nil {
		ot.t.Stop()
	}
}
