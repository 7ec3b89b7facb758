package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/listener"
)

// RoomLister reports the listeners currently registered.
type RoomLister interface {
	Snapshot() []listener.Status
}

// Server provides the health, metrics and room status endpoints
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// New creates a new health check server. rooms may be nil, in which case
// /rooms always lists nothing.
func New(addr string, rooms RoomLister, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: Router(rooms),
		},
		logger: logger,
	}
}

// Router builds the HTTP routes.
func Router(rooms RoomLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/rooms", func(w http.ResponseWriter, r *http.Request) {
		statuses := []listener.Status{}
		if rooms != nil {
			statuses = append(statuses, rooms.Snapshot()...)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
	})
	return r
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Health check server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down health check server...")
	return s.server.Shutdown(ctx)
}
