package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/john/livechat/internal/youtube"
)

// SessionReporter exposes the state of running chat sessions
type SessionReporter interface {
	Sessions() map[string]youtube.Status
}

// Server provides health, metrics and session status endpoints
type Server struct {
	server *http.Server
}

// New creates a new status server. sessions may be nil when no YouTube
// sessions are configured.
func New(addr string, sessions SessionReporter) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(sessions),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler builds the status server's routes
func Handler(sessions SessionReporter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		out := map[string]youtube.Status{}
		if sessions != nil {
			out = sessions.Sessions()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	return mux
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	slog.Info("status server listening", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down status server")
	return s.server.Shutdown(ctx)
}
