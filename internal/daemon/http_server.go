package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"streamhost/internal/config"
	"streamhost/internal/health"
	"streamhost/internal/logging"
)

// httpServer serves Prometheus metrics and a read-only JSON API. A nil
// *httpServer is valid and does nothing.
type httpServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newHTTPServer(cfg config.Metrics, d *Daemon, logger *slog.Logger) *httpServer {
	srv := &httpServer{
		bind:   cfg.Bind,
		logger: logging.NewComponentLogger(logger, "http"),
		daemon: d,
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, d.collector.Handler())
	mux.HandleFunc("/api/status", authMiddleware(cfg.Token, srv.handleStatus))
	mux.HandleFunc("/api/health", authMiddleware(cfg.Token, srv.handleHealth))
	mux.HandleFunc("/api/history", authMiddleware(cfg.Token, srv.handleHistory))

	srv.handler = mux
	return srv
}

func (s *httpServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	// A closed http.Server cannot be reused, so each start gets its own.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logging.Error(err))
		}
	}()

	s.logger.Info("http server listening",
		logging.String(logging.FieldEventType, "http_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *httpServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *httpServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

// handleHealth answers 503 for a critical report so load balancers and
// uptime probes can use it directly.
func (s *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report := s.daemon.Health(r.Context())
	status := http.StatusOK
	if report.Severity == health.SeverityCritical {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *httpServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	entries, err := s.daemon.History(r.Context(), limit, r.URL.Query().Get("session"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *httpServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *httpServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
