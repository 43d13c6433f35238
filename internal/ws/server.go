package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiosk-presence/kiosk/internal/config"
	"github.com/kiosk-presence/kiosk/internal/delivery"
	"github.com/kiosk-presence/kiosk/internal/metrics"
	"github.com/kiosk-presence/kiosk/internal/presence"
	"github.com/kiosk-presence/kiosk/internal/session"
	"github.com/kiosk-presence/kiosk/internal/stage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	maxFrameBytes = 1 << 20
	maxBodyBytes  = 64 << 10
)

// Presence is the controller surface the server drives.
type Presence interface {
	State() presence.State
	Activate() error
	Deactivate()
	RecordActivity(sig delivery.Signal)
	EmitUIEvent(ev delivery.UIEvent) bool
}

type Server struct {
	config          *config.Config
	presence        Presence
	stage           *stage.Stage
	broadcaster     *Broadcaster
	frontendDir     string
	dev             bool
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string
	started         time.Time
	history         *session.Store
}

func NewServer(cfg *config.Config, p Presence, st *stage.Stage, broadcaster *Broadcaster, frontendDir string, dev bool, embeddedHandler http.Handler) *Server {
	s := &Server{
		config:          cfg,
		presence:        p,
		stage:           st,
		broadcaster:     broadcaster,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       cfg.Server.AuthToken,
		started:         time.Now(),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetHistory configures the store behind /api/sessions. Must be called
// before SetupRoutes.
func (s *Server) SetHistory(h *session.Store) {
	s.history = h
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/activate", s.handleActivate)
	mux.HandleFunc("/api/deactivate", s.handleDeactivate)
	mux.HandleFunc("/api/activity", s.handleActivity)
	mux.HandleFunc("/api/emit", s.handleEmit)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.Handle("/metrics", promhttp.Handler())

	if s.dev {
		log.Printf("Serving frontend from filesystem: %s", s.frontendDir)
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		log.Println("Serving embedded frontend")
		mux.Handle("/", s.embeddedHandler)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("ws rejecting %s: %v", r.RemoteAddr, err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Printf("WebSocket renderer connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket renderer disconnected: %s", r.RemoteAddr)
		}()
		conn.SetReadLimit(maxFrameBytes)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleFrame(data)
		}
	}()
}

// handleFrame dispatches one page message from a renderer onto the stage.
func (s *Server) handleFrame(data []byte) {
	var msg stage.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
		metrics.DroppedMessages.WithLabelValues(metrics.ReasonMalformed).Inc()
		log.Printf("ws: dropping renderer frame: %v", delivery.ErrMalformedPayload)
		return
	}
	if s.config.Log.Debug() {
		log.Printf("ws: page event %s origin=%q", msg.Event, msg.Origin)
	}
	s.stage.Dispatch(msg)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.presence.State())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if !s.post(w, r) {
		return
	}
	if err := s.presence.Activate(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, presence.ErrDisposed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, s.presence.State())
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if !s.post(w, r) {
		return
	}
	s.presence.Deactivate()
	writeJSON(w, http.StatusOK, s.presence.State())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if !s.post(w, r) {
		return
	}
	var req ActivityRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	sig := delivery.SignalExternal
	if req.Signal != "" {
		sig = delivery.Signal(req.Signal)
	}
	s.presence.RecordActivity(sig)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	if !s.post(w, r) {
		return
	}
	var ev delivery.UIEvent
	if err := decodeBody(r, &ev); err != nil || ev.Event == "" {
		http.Error(w, "body must be {\"event\": ..., \"data\": ...}", http.StatusBadRequest)
		return
	}
	if !s.presence.EmitUIEvent(ev) {
		http.Error(w, "no ready session", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.history == nil {
		http.Error(w, "session history not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.history.GetAll())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.history == nil {
		http.Error(w, "session history not available", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	rec, ok := s.history.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h := HealthPayload{
		Mode:      s.presence.State().Mode,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Renderers: s.broadcaster.ClientCount(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			h.RSSBytes = mem.RSS
		}
		if n, err := p.NumThreads(); err == nil {
			h.Threads = n
		}
	}
	writeJSON(w, http.StatusOK, h)
}

// post checks auth and method for a mutating endpoint.
func (s *Server) post(w http.ResponseWriter, r *http.Request) bool {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Kiosk-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
