// Package web serves the optional HTTP status endpoint: a health
// check for container orchestration and a JSON snapshot of what the
// monitor has seen lately.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mtholden/henwatch/internal/buildinfo"
	"github.com/mtholden/henwatch/internal/connwatch"
	"github.com/mtholden/henwatch/internal/mqtt"
)

// Server is the status HTTP server.
type Server struct {
	addr    string
	counts  *mqtt.Counts
	connMgr *connwatch.Manager
	logger  *slog.Logger
	httpSrv *http.Server
}

// NewServer creates a status server bound to address:port. connMgr may
// be nil if connection watching is disabled.
func NewServer(address string, port int, counts *mqtt.Counts, connMgr *connwatch.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    net.JoinHostPort(address, fmt.Sprintf("%d", port)),
		counts:  counts,
		connMgr: connMgr,
		logger:  logger,
	}
}

// Handler returns the status mux. Exposed separately from Start so
// tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	Version  string                             `json:"version"`
	Uptime   string                             `json:"uptime"`
	Counts   mqtt.CountsSnapshot                `json:"counts"`
	Services map[string]connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: buildinfo.Version,
		Uptime:  buildinfo.Uptime().String(),
		Counts:  s.counts.Snapshot(),
	}
	if s.connMgr != nil {
		resp.Services = s.connMgr.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}
