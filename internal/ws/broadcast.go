package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/stage"
)

var ErrTooManyConnections = errors.New("too many renderer connections")

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer func() {
		c.conn.Close()
		c.b.RemoveClient(c)
	}()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcaster fans presentation state and stage changes out to every
// connected renderer. State and stage changes are coalesced over the
// throttle window; commands and player events go out immediately.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	snapshot       func() SnapshotPayload
	throttle       time.Duration
	snapshotTicker *time.Ticker
	done           chan struct{}
	stopOnce       sync.Once

	flushMu      sync.Mutex
	pendingState *presence.State
	pendingStage bool
	flushTimer   *time.Timer
}

// NewBroadcaster starts the periodic snapshot loop. maxConns <= 0 means no
// limit.
func NewBroadcaster(snapshot func() SnapshotPayload, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		maxConns:       maxConns,
		snapshot:       snapshot,
		throttle:       throttle,
		snapshotTicker: time.NewTicker(snapshotInterval),
		done:           make(chan struct{}),
	}
	go b.snapshotLoop()
	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, 64)}

	// The snapshot goes first so no broadcast can overtake it.
	if data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: b.snapshot()}); err == nil {
		c.send <- data
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()
	metrics.Renderers.Set(float64(n))

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()
	metrics.Renderers.Set(float64(n))
}

// QueueState schedules st for the next flush. Only the latest state queued
// within a throttle window is sent.
func (b *Broadcaster) QueueState(st presence.State) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.pendingState = &st
	b.armFlush()
}

// QueueStage schedules the current element list for the next flush.
func (b *Broadcaster) QueueStage() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.pendingStage = true
	b.armFlush()
}

func (b *Broadcaster) armFlush() {
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// SendCommand forwards a page command to every renderer.
func (b *Broadcaster) SendCommand(cmd stage.Command) {
	b.broadcast(WSMessage{Type: MsgCommand, Payload: cmd})
}

// SendEvent forwards a player event to every renderer.
func (b *Broadcaster) SendEvent(ev delivery.Event) {
	b.broadcast(WSMessage{Type: MsgEvent, Payload: ev})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	st := b.pendingState
	stageChanged := b.pendingStage
	b.pendingState = nil
	b.pendingStage = false
	b.flushTimer = nil
	b.flushMu.Unlock()

	if stageChanged {
		b.broadcast(WSMessage{Type: MsgStage, Payload: StagePayload{Elements: b.snapshot().Elements}})
	}
	if st != nil {
		b.broadcast(WSMessage{Type: MsgState, Payload: *st})
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(WSMessage{Type: MsgSnapshot, Payload: b.snapshot()})
		}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		// Hold the read lock so RemoveClient cannot close c.send mid-send.
		b.mu.RLock()
		slow := false
		if b.clients[c] {
			select {
			case c.send <- data:
			default:
				slow = true
			}
		}
		b.mu.RUnlock()
		if slow {
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the snapshot loop and disconnects every renderer.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.snapshotTicker.Stop()

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
		metrics.Renderers.Set(0)
	})
}
