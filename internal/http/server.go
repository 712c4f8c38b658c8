// Package http serves the daemon's local status API: a liveness probe on
// /healthz and a small operational snapshot on /api/status.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ChannelReporter reports the running state of each configured channel.
type ChannelReporter interface {
	Status() map[string]bool
}

// ScheduleReporter lists the ids of the schedules currently registered.
type ScheduleReporter interface {
	Registered() []string
}

// Server is the loopback HTTP listener. It carries no mutating endpoints;
// all writes go through the chat pipeline.
type Server struct {
	addr      string
	version   string
	started   time.Time
	channels  ChannelReporter
	schedules ScheduleReporter

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer creates a status server. Either reporter may be nil; the
// corresponding status fields are then omitted.
func NewServer(addr, version string, channels ChannelReporter, schedules ScheduleReporter) *Server {
	return &Server{
		addr:      addr,
		version:   version,
		started:   time.Now(),
		channels:  channels,
		schedules: schedules,
	}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux = mux
	return mux
}

// Start begins listening and blocks until the listener fails or ctx is
// cancelled. Callers that need ordered shutdown use Shutdown instead and
// pass a background context here.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.BuildMux()}

	slog.Info("http: status listener starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("status listener: %w", err)
	}
	return nil
}

// Shutdown stops the listener, waiting up to the context deadline for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","version":%q}`, s.version)
}

type statusResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	StartedAt time.Time       `json:"startedAt"`
	Channels  map[string]bool `json:"channels,omitempty"`
	Schedules int             `json:"schedules"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:    "ok",
		Version:   s.version,
		Uptime:    strings.TrimSpace(humanize.RelTime(s.started, time.Now(), "", "")),
		StartedAt: s.started,
	}
	if s.channels != nil {
		resp.Channels = s.channels.Status()
	}
	if s.schedules != nil {
		resp.Schedules = len(s.schedules.Registered())
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
