package main

import (
	"bytes"
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/kiosk-presence/kiosk/internal/config"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/delivery/socket"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapterFollowsDelivery(t *testing.T) {
	for _, mode := range []string{config.DeliveryScript, config.DeliveryIframe, config.DeliverySocket} {
		cfg, err := config.LoadOrDefault("/nonexistent/config.yaml")
		require.NoError(t, err)
		cfg.Session.Delivery = mode

		assert.Equal(t, mode, newAdapter(cfg, stage.New()).Name())
	}
}

func TestSignalsFor(t *testing.T) {
	assert.Nil(t, signalsFor(config.DeviceDesktop))
	assert.Equal(t, []delivery.Signal{delivery.SignalTouch, delivery.SignalKey}, signalsFor(config.DeviceTouch))
}

func TestMockEndpointProvisionsSocketSession(t *testing.T) {
	cfg, err := config.LoadOrDefault("/nonexistent/config.yaml")
	require.NoError(t, err)
	cfg.Session.ProjectKey = "mock-key"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := startMockEndpoint(ctx, cfg)
	require.NoError(t, err)

	sess := socket.New(socket.Options{URL: "ws://" + addr + "/", ProjectID: "p", ProjectKey: "mock-key"}).NewSession()
	events := make(chan delivery.Event, 8)
	unsubscribe := sess.Subscribe(func(ev delivery.Event) { events <- ev })
	defer unsubscribe()

	pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
	defer pcancel()
	require.NoError(t, sess.Provision(pctx))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == delivery.EventReady {
				require.NoError(t, sess.Teardown())
				return
			}
		case <-deadline:
			t.Fatal("mock endpoint never reported ready")
		}
	}
}

func TestPrintTokenWritesDotenvLine(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, printToken(&a))
	require.NoError(t, printToken(&b))

	assert.Regexp(t, regexp.MustCompile(`^KIOSK_AUTH_TOKEN=[0-9a-f]{32}\n$`), a.String())
	assert.NotEqual(t, a.String(), b.String())
}
