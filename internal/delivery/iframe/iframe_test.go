package iframe

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const embedURL = "https://embed.example.com/p/42"

func newSession(t *testing.T, st *stage.Stage) delivery.Session {
	t.Helper()
	s := New(st, Options{EmbedURL: embedURL, Key: "a b+c"}).NewSession()
	require.NoError(t, s.Provision(context.Background()))
	t.Cleanup(func() { s.Teardown() })
	return s
}

func postMessage(origin string, ev delivery.Event) stage.Message {
	data, _ := json.Marshal(ev)
	return stage.Message{Event: stage.EventMessage, Origin: origin, Data: data}
}

func TestProvisionMountsFrameWithKey(t *testing.T) {
	st := stage.New()
	newSession(t, st)

	els := st.Elements()
	require.Len(t, els, 1)
	assert.Equal(t, "iframe", els[0].Tag)
	assert.Equal(t, "fullscreen; microphone", els[0].Attrs["allow"])

	src, err := url.Parse(els[0].Attrs["src"])
	require.NoError(t, err)
	assert.Equal(t, "embed.example.com", src.Host)
	assert.Equal(t, "a b+c", src.Query().Get("key"))
}

func TestProvisionRejectsHostlessURL(t *testing.T) {
	st := stage.New()
	s := New(st, Options{EmbedURL: "/local"}).NewSession()
	require.Error(t, s.Provision(context.Background()))
	assert.Empty(t, st.Elements())
}

func TestTrustedMessagesForwarded(t *testing.T) {
	st := stage.New()
	s := newSession(t, st)

	var got []delivery.Event
	s.Subscribe(func(ev delivery.Event) { got = append(got, ev) })

	st.Dispatch(postMessage("https://embed.example.com", delivery.Event{Type: delivery.EventReady}))
	require.Len(t, got, 1)
	assert.Equal(t, delivery.EventReady, got[0].Type)
	assert.Equal(t, "https://embed.example.com", got[0].Origin)
}

func TestForeignOriginDropped(t *testing.T) {
	st := stage.New()
	s := newSession(t, st)

	calls := 0
	s.Subscribe(func(delivery.Event) { calls++ })

	dropped := metrics.DroppedMessages.WithLabelValues(metrics.ReasonOrigin)
	before := testutil.ToFloat64(dropped)

	st.Dispatch(postMessage("https://evil.example.com", delivery.Event{Type: delivery.EventAFKTimedOut}))
	st.Dispatch(postMessage("", delivery.Event{Type: delivery.EventAFKTimedOut}))

	assert.Zero(t, calls)
	assert.Equal(t, before+2, testutil.ToFloat64(dropped))
}

func TestMalformedMessageDropped(t *testing.T) {
	st := stage.New()
	s := newSession(t, st)

	calls := 0
	s.Subscribe(func(delivery.Event) { calls++ })
	st.Dispatch(stage.Message{Event: stage.EventMessage, Origin: "https://embed.example.com", Data: json.RawMessage(`"ready"`)})
	st.Dispatch(postMessage("https://embed.example.com", delivery.Event{Type: "somethingElse"}))
	assert.Zero(t, calls)
}

func TestSendPostsToEmbedOrigin(t *testing.T) {
	st := stage.New()
	var cmds []stage.Command
	st.Sink(func(c stage.Command) { cmds = append(cmds, c) })
	s := newSession(t, st)

	require.True(t, s.Send(delivery.UIEvent{Event: "ping"}))
	require.Len(t, cmds, 1)
	assert.Equal(t, FrameID, cmds[0].Target)
	assert.Equal(t, "postMessage", cmds[0].Name)
	assert.JSONEq(t, `{"targetOrigin":"https://embed.example.com","message":{"event":"ping"}}`, string(cmds[0].Data))
}

func TestTeardownDetaches(t *testing.T) {
	st := stage.New()
	s := New(st, Options{EmbedURL: embedURL}).NewSession()
	require.NoError(t, s.Provision(context.Background()))

	calls := 0
	s.Subscribe(func(delivery.Event) { calls++ })
	require.NoError(t, s.Teardown())

	st.Dispatch(postMessage("https://embed.example.com", delivery.Event{Type: delivery.EventAFKTimedOut}))
	assert.Zero(t, calls)
	assert.Empty(t, st.Elements())
	assert.Zero(t, st.ListenerCount())
	assert.False(t, s.Send(delivery.UIEvent{Event: "ping"}))
}
