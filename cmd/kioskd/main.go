package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kiosk-presence/kiosk/internal/config"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/delivery/iframe"
	"github.com/kiosk-presence/kiosk/internal/delivery/script"
	"github.com/kiosk-presence/kiosk/internal/delivery/socket"
	"github.com/kiosk-presence/kiosk/internal/downloads"
	"github.com/kiosk-presence/kiosk/internal/frontend"
	"github.com/kiosk-presence/kiosk/internal/mock"
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/session"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/kiosk-presence/kiosk/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Stream from a local mock endpoint instead of the configured one")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	envPath := flag.String("env", ".env", "Optional dotenv file with credentials")
	port := flag.Int("port", 0, "Override server port")
	genToken := flag.Bool("gen-token", false, "Print a random KIOSK_AUTH_TOKEN line and exit")
	flag.Parse()

	if *genToken {
		if err := printToken(os.Stdout); err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(*envPath); err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *mockMode {
		addr, err := startMockEndpoint(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to start mock endpoint: %v", err)
		}
		log.Printf("Starting in mock mode (endpoint %s)", addr)
		cfg.Session.Delivery = config.DeliverySocket
		cfg.Session.SocketURL = "ws://" + addr + "/"
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	st := stage.New()
	adapter := newAdapter(cfg, st)
	log.Printf("Delivery: %s, inactivity timeout %s, device %s", adapter.Name(), cfg.Watchdog.Timeout, cfg.Watchdog.Device)

	ctl := presence.New(adapter, st, presence.Options{
		Timeout:          cfg.Watchdog.Timeout,
		Debounce:         cfg.Watchdog.Debounce,
		ProvisionTimeout: cfg.Session.ProvisionTimeout,
		Signals:          signalsFor(cfg.Watchdog.Device),
	})

	broadcaster := ws.NewBroadcaster(func() ws.SnapshotPayload {
		return ws.SnapshotPayload{
			State:        ctl.State(),
			Elements:     st.Elements(),
			IdleVideoURL: cfg.Idle.VideoURL,
		}
	}, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Server.MaxConnections)

	ctl.Subscribe(broadcaster.QueueState)

	history := session.NewStore(0)
	ctl.Subscribe(func(state presence.State) { history.Observe(state, time.Now()) })
	st.Watch(broadcaster.QueueStage)
	st.Sink(broadcaster.SendCommand)

	var saver *downloads.Saver
	if cfg.Session.DownloadDir != "" {
		saver = downloads.NewSaver(cfg.Session.DownloadDir)
	}
	ctl.OnEvent(func(ev delivery.Event) {
		switch ev.Type {
		case delivery.EventFileReceived:
			if saver != nil {
				saver.Handle(ev)
			}
		case delivery.EventFileProgress, delivery.EventUIEventResponse:
			log.Printf("player: %s %s", ev.Type, ev.Data)
			broadcaster.SendEvent(ev)
		default:
			if cfg.Log.Debug() {
				log.Printf("player: %s", ev.Type)
			}
		}
	})

	frontendDir := ""
	if *devMode {
		cwd, _ := os.Getwd()
		frontendDir = filepath.Join(cwd, "internal", "frontend", "static")
	}

	// Embedded frontend handler: when built with -tags embed, serves from binary.
	// Otherwise falls back to serving from the filesystem.
	var embeddedHandler http.Handler
	if !*devMode {
		embeddedHandler = frontend.Handler()
		if embeddedHandler == nil {
			cwd, _ := os.Getwd()
			fallback := filepath.Join(cwd, "internal", "frontend", "static")
			if _, err := os.Stat(fallback); err == nil {
				log.Printf("No embedded frontend, falling back to: %s", fallback)
				embeddedHandler = http.FileServer(http.Dir(fallback))
			}
		}
	}

	server := ws.NewServer(cfg, ctl, st, broadcaster, frontendDir, *devMode, embeddedHandler)
	server.SetHistory(history)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	err = ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, mux)
	log.Println("Shutting down...")
	ctl.Close()
	broadcaster.Stop()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}

// printToken writes a dotenv line with a fresh auth token.
func printToken(w io.Writer) error {
	tok, err := config.GenerateToken()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "KIOSK_AUTH_TOKEN=%s\n", tok)
	return err
}

func newAdapter(cfg *config.Config, st *stage.Stage) delivery.Adapter {
	s := cfg.Session
	switch s.Delivery {
	case config.DeliveryIframe:
		return iframe.New(st, iframe.Options{EmbedURL: s.EmbedURL, Key: s.ProjectKey})
	case config.DeliverySocket:
		return socket.New(socket.Options{URL: s.SocketURL, ProjectID: s.ProjectID, ProjectKey: s.ProjectKey})
	default:
		return script.New(st, script.Options{
			EmbedURL:   s.EmbedURL,
			ProjectID:  s.ProjectID,
			ProjectKey: s.ProjectKey,
			Player: script.PlayerOptions{
				IdleTimeout:       s.Player.IdleTimeout,
				CaptureMouse:      s.Player.CaptureMouse,
				EventsPassthrough: s.Player.EventsPassthrough,
				HideUIControls:    s.Player.HideUIControls,
				Autoplay:          s.Player.Autoplay,
			},
		})
	}
}

// signalsFor returns the input kinds that count as activity on a device.
// Touch kiosks have no hover-capable pointer, so stray pointer events do
// not keep a session alive.
func signalsFor(device string) []delivery.Signal {
	if device == config.DeviceTouch {
		return []delivery.Signal{delivery.SignalTouch, delivery.SignalKey}
	}
	return nil
}

// startMockEndpoint serves a mock streaming endpoint on a loopback port and
// returns its address.
func startMockEndpoint(ctx context.Context, cfg *config.Config) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	ep := mock.NewEndpoint(mock.EndpointConfig{
		ProjectKey:      cfg.Session.ProjectKey,
		LoadingDelay:    time.Second,
		AFKWarningAfter: cfg.Watchdog.Timeout * 2,
		AFKTimeoutAfter: cfg.Watchdog.Timeout * 3,
	})
	srv := &http.Server{Handler: ep, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		ep.Drop()
		srv.Close()
	}()
	return ln.Addr().String(), nil
}
