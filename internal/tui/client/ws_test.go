package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/kiosk-presence/kiosk/internal/ws"
)

// startDaemon serves a renderer socket backed by a real broadcaster and
// collects the page messages renderers send back.
func startDaemon(t *testing.T, token string) (*ws.Broadcaster, string, <-chan PageMessage) {
	t.Helper()

	b := ws.NewBroadcaster(func() ws.SnapshotPayload {
		return ws.SnapshotPayload{
			State:        presence.State{Mode: presence.Idle, Adapter: "socket"},
			IdleVideoURL: "https://cdn.example.com/loop.mp4",
		}
	}, 10*time.Millisecond, time.Hour, 4)
	t.Cleanup(b.Stop)

	pages := make(chan PageMessage, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c, err := b.AddClient(conn)
		if err != nil {
			conn.Close()
			return
		}
		defer b.RemoveClient(c)
		for {
			var msg PageMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			pages <- msg
		}
	}))
	t.Cleanup(srv.Close)

	return b, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", pages
}

// await runs cmd with a deadline so a broken read loop fails the test
// rather than hanging it.
func await(t *testing.T, fn func() any) any {
	t.Helper()
	ch := make(chan any, 1)
	go func() { ch <- fn() }()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func connect(t *testing.T, ctx context.Context, c *WSClient) {
	t.Helper()
	msg := await(t, func() any { return c.Listen(ctx)() })
	if _, ok := msg.(WSConnectedMsg); !ok {
		t.Fatalf("Listen returned %T, want WSConnectedMsg", msg)
	}
}

func TestWSClientReceivesSnapshotFirst(t *testing.T) {
	_, url, _ := startDaemon(t, "secret")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewWSClient(url, "secret")
	defer c.Close()
	connect(t, ctx, c)

	msg := await(t, func() any { return c.ReadLoop(ctx)() })
	snap, ok := msg.(WSSnapshotMsg)
	if !ok {
		t.Fatalf("got %T, want WSSnapshotMsg", msg)
	}
	if snap.Payload.State.Adapter != "socket" {
		t.Errorf("adapter = %q, want socket", snap.Payload.State.Adapter)
	}
	if snap.Payload.IdleVideoURL == "" {
		t.Error("snapshot missing idle video URL")
	}
}

func TestWSClientDispatchesBroadcasts(t *testing.T) {
	b, url, _ := startDaemon(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewWSClient(url, "")
	defer c.Close()
	connect(t, ctx, c)
	await(t, func() any { return c.ReadLoop(ctx)() }) // snapshot

	b.SendEvent(delivery.Event{Type: delivery.EventFileProgress, Data: json.RawMessage(`{"progress":0.5}`)})
	msg := await(t, func() any { return c.ReadLoop(ctx)() })
	ev, ok := msg.(WSEventMsg)
	if !ok {
		t.Fatalf("got %T, want WSEventMsg", msg)
	}
	if ev.Event.Type != delivery.EventFileProgress {
		t.Errorf("event type = %q", ev.Event.Type)
	}

	b.SendCommand(stage.Command{Target: "arcane-player", Name: "emitUIEvent"})
	msg = await(t, func() any { return c.ReadLoop(ctx)() })
	cmd, ok := msg.(WSCommandMsg)
	if !ok {
		t.Fatalf("got %T, want WSCommandMsg", msg)
	}
	if cmd.Command.Name != "emitUIEvent" {
		t.Errorf("command = %q", cmd.Command.Name)
	}

	b.QueueState(presence.State{Mode: presence.Live, SessionID: "abc"})
	msg = await(t, func() any { return c.ReadLoop(ctx)() })
	st, ok := msg.(WSStateMsg)
	if !ok {
		t.Fatalf("got %T, want WSStateMsg", msg)
	}
	if st.State.Mode != presence.Live {
		t.Errorf("mode = %v, want live", st.State.Mode)
	}
}

func TestWSClientSendPage(t *testing.T) {
	_, url, pages := startDaemon(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewWSClient(url, "")
	defer c.Close()
	connect(t, ctx, c)

	if err := c.SendPage(PageMessage{Event: "keydown"}); err != nil {
		t.Fatalf("SendPage: %v", err)
	}
	select {
	case msg := <-pages:
		if msg.Event != "keydown" {
			t.Errorf("event = %q, want keydown", msg.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("page message not received")
	}
}

func TestWSClientNotConnected(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/ws", "")

	if err := c.SendPage(PageMessage{Event: "click"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendPage err = %v, want ErrNotConnected", err)
	}
	msg := c.ReadLoop(context.Background())()
	disc, ok := msg.(WSDisconnectedMsg)
	if !ok || !errors.Is(disc.Err, ErrNotConnected) {
		t.Errorf("ReadLoop = %#v, want disconnected", msg)
	}
}

func TestWSClientListenStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewWSClient("ws://127.0.0.1:1/ws", "")
	if msg := await(t, func() any { return c.Listen(ctx)() }); msg != nil {
		t.Errorf("Listen after cancel = %#v, want nil", msg)
	}
}

func TestWSClientCloseDisconnects(t *testing.T) {
	_, url, _ := startDaemon(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewWSClient(url, "")
	connect(t, ctx, c)
	c.Close()

	if err := c.SendPage(PageMessage{Event: "keydown"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendPage after Close = %v, want ErrNotConnected", err)
	}
}

func TestNewWSClientAddsToken(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:8080/ws", "s3cret")
	if !strings.Contains(c.url, "token=s3cret") {
		t.Errorf("url = %q, want token query", c.url)
	}
	if c := NewWSClient("ws://127.0.0.1:8080/ws", ""); strings.Contains(c.url, "token") {
		t.Errorf("url = %q, want no token", c.url)
	}
}

func TestDispatchIgnoresUnknownAndMalformed(t *testing.T) {
	if msg := dispatch(WSMessage{Type: "mystery", Payload: json.RawMessage(`{}`)}); msg != nil {
		t.Errorf("unknown type dispatched %#v", msg)
	}
	if msg := dispatch(WSMessage{Type: ws.MsgState, Payload: json.RawMessage(`"nope"`)}); msg != nil {
		t.Errorf("malformed state dispatched %#v", msg)
	}
}
