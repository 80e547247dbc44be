// Package httpapi exposes the controller over HTTP: wake and sleep
// triggers, a server-sent-events status stream and a journal listing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"lullaby/internal/hub"
	"lullaby/internal/liveness"
	"lullaby/internal/store"
)

// DefaultKeepalive is the interval between SSE comment frames.
const DefaultKeepalive = 5 * time.Second

const defaultHistoryLimit = 50

// Controller is what the HTTP layer drives.
type Controller interface {
	RequestWake()
	RequestSleep()
	StatusStream(ctx context.Context) *hub.Subscription
	Snapshot() liveness.Snapshot
}

// History lists journaled transitions, newest first.
type History interface {
	Recent(limit int) ([]store.Record, error)
}

// Server holds the handlers.
type Server struct {
	ctrl      Controller
	history   History
	keepalive time.Duration
	log       zerolog.Logger
}

// New returns a Server. history may be nil, in which case /api/history
// answers 404.
func New(ctrl Controller, history History, keepalive time.Duration, log zerolog.Logger) *Server {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Server{
		ctrl:      ctrl,
		history:   history,
		keepalive: keepalive,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wake", s.handleWake)
	mux.HandleFunc("GET /api/sleep", s.handleSleep)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// with a short grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx, which closes status streams.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	s.ctrl.RequestWake()
	writeOK(w)
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	s.ctrl.RequestSleep()
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	sub := s.ctrl.StatusStream(ctx)
	defer sub.Close()

	s.log.Debug().Str("sub_id", sub.ID.String()).Str("remote", r.RemoteAddr).Msg("Status stream opened")
	defer s.log.Debug().Str("sub_id", sub.ID.String()).Msg("Status stream closed")

	heartbeat := time.NewTicker(s.keepalive)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case status, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: status-update\ndata: %s\n\n", status)
			flusher.Flush()
		}
	}
}

// StateResponse is the /api/state body.
type StateResponse struct {
	Status     liveness.Status `json:"status"`
	ChangedAt  time.Time       `json:"changed_at"`
	LastBeacon *time.Time      `json:"last_beacon,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	resp := StateResponse{Status: snap.Status, ChangedAt: snap.ChangedAt}
	if !snap.LastBeacon.IsZero() {
		resp.LastBeacon = &snap.LastBeacon
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read journal")
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	s.writeJSON(w, records)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}
