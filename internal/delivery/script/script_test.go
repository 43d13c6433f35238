package script

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		EmbedURL:   "https://embed.example.com/5b0e1f2a/",
		ProjectID:  "proj-1",
		ProjectKey: "key-1",
		Player:     PlayerOptions{IdleTimeout: 200, CaptureMouse: true, Autoplay: true},
	}
}

func playerMessage(t *testing.T, name delivery.EventType) stage.Message {
	t.Helper()
	data, err := json.Marshal(stage.PlayerPayload{Name: name})
	require.NoError(t, err)
	return stage.Message{Event: stage.EventPlayer, Data: data}
}

// provision runs Provision in the background and raises the loaded event
// once the script element is on the page.
func provision(t *testing.T, st *stage.Stage, s delivery.Session) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Provision(context.Background()) }()

	require.Eventually(t, func() bool { return hasElement(st, ScriptID) }, time.Second, time.Millisecond)
	st.Dispatch(stage.Message{Event: stage.EventPlayerLoaded})

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Provision did not return after ArcanePlayerLoaded")
	}
}

func hasElement(st *stage.Stage, id string) bool {
	for _, el := range st.Elements() {
		if el.ID == id {
			return true
		}
	}
	return false
}

func TestProvisionMountsPlayer(t *testing.T) {
	st := stage.New()
	s := New(st, testOptions()).NewSession()
	provision(t, st, s)

	els := st.Elements()
	require.Len(t, els, 3)
	assert.Equal(t, ContainerID, els[0].ID)

	player := els[1]
	assert.Equal(t, PlayerID, player.ID)
	assert.Equal(t, ContainerID, player.Parent)
	assert.Equal(t, "proj-1", player.Attrs["data-project-id"])
	assert.Equal(t, "key-1", player.Attrs["data-project-key"])
	assert.Equal(t, "200", player.Attrs["data-idle-timeout"])
	assert.Equal(t, "true", player.Attrs["data-capture-mouse"])
	assert.Equal(t, "false", player.Attrs["data-hide-ui-controls"])

	assert.Equal(t, "https://embed.example.com/5b0e1f2a/e", els[2].Attrs["src"])
}

func TestPlayerEventsReachSubscribers(t *testing.T) {
	st := stage.New()
	s := New(st, testOptions()).NewSession()
	provision(t, st, s)

	var got []delivery.EventType
	s.Subscribe(func(ev delivery.Event) { got = append(got, ev.Type) })

	st.Dispatch(playerMessage(t, delivery.EventReady))
	st.Dispatch(playerMessage(t, delivery.EventAFKWarning))
	assert.Equal(t, []delivery.EventType{delivery.EventReady, delivery.EventAFKWarning}, got)
}

func TestMalformedAndUnknownEventsDropped(t *testing.T) {
	st := stage.New()
	s := New(st, testOptions()).NewSession()
	provision(t, st, s)

	calls := 0
	s.Subscribe(func(delivery.Event) { calls++ })

	malformed := metrics.DroppedMessages.WithLabelValues(metrics.ReasonMalformed)
	unknown := metrics.DroppedMessages.WithLabelValues(metrics.ReasonUnknown)
	beforeMalformed := testutil.ToFloat64(malformed)
	beforeUnknown := testutil.ToFloat64(unknown)

	st.Dispatch(stage.Message{Event: stage.EventPlayer, Data: json.RawMessage(`{"name":`)})
	st.Dispatch(playerMessage(t, "bogus"))

	assert.Zero(t, calls)
	assert.Equal(t, beforeMalformed+1, testutil.ToFloat64(malformed))
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(unknown))
}

func TestTeardownRemovesEverything(t *testing.T) {
	st := stage.New()
	s := New(st, testOptions()).NewSession()
	provision(t, st, s)

	calls := 0
	s.Subscribe(func(delivery.Event) { calls++ })

	require.NoError(t, s.Teardown())
	require.NoError(t, s.Teardown())

	assert.Empty(t, st.Elements())
	assert.Zero(t, st.ListenerCount())

	st.Dispatch(playerMessage(t, delivery.EventReady))
	assert.Zero(t, calls)
	assert.False(t, s.Send(delivery.UIEvent{Event: "x"}))
}

func TestProvisionTimesOutWithoutLoadedEvent(t *testing.T) {
	st := stage.New()
	s := New(st, testOptions()).NewSession()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Provision(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	require.NoError(t, s.Teardown())
	assert.Empty(t, st.Elements())
	assert.Zero(t, st.ListenerCount())
}

func TestProvisionFailsWhenContainerTaken(t *testing.T) {
	st := stage.New()
	_, err := st.Mount(stage.Element{ID: ContainerID, Tag: "div"})
	require.NoError(t, err)

	s := New(st, testOptions()).NewSession()
	require.Error(t, s.Provision(context.Background()))
	require.NoError(t, s.Teardown())
	assert.Zero(t, st.ListenerCount())
}

func TestSendIssuesEmitCommand(t *testing.T) {
	st := stage.New()
	var cmds []stage.Command
	st.Sink(func(c stage.Command) { cmds = append(cmds, c) })

	s := New(st, testOptions()).NewSession()
	provision(t, st, s)

	ok := s.Send(delivery.UIEvent{Event: "restart", Data: json.RawMessage(`{"level":2}`)})
	require.True(t, ok)
	require.Len(t, cmds, 1)
	assert.Equal(t, PlayerID, cmds[0].Target)
	assert.Equal(t, "emitUIEvent", cmds[0].Name)
	assert.JSONEq(t, `{"event":"restart","data":{"level":2}}`, string(cmds[0].Data))
}
