// Package http provides the HTTP transport layer for remindq.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	POST   /reminders
//	GET    /reminders[?author_id=N]
//	GET    /authors/{id}/reminders
//	GET    /ws[?author_id=N]
//	GET    /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/remindq/internal/config"
	"github.com/snehjoshi/remindq/internal/metrics"
	"github.com/snehjoshi/remindq/internal/reminder"
)

// Server wraps the stdlib HTTP server with remindq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server around svc. ws serves the live feed and may be nil, in
// which case /ws is not mounted; reg may be nil to disable /metrics and the
// request counters.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(svc *reminder.Service, ws http.Handler, cfg *config.Config, reg *metrics.Registry) *Server {
	h := &Handler{svc: svc, driver: cfg.Storage.Driver, now: time.Now}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("POST /reminders", h.createReminder)
	mux.HandleFunc("GET /reminders", h.listReminders)
	mux.HandleFunc("GET /authors/{id}/reminders", h.authorReminders)

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	mws := []func(http.Handler) http.Handler{
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware(reg),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
	}
	if cfg.RateLimit.Enabled {
		mws = append(mws, RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	return &Server{
		inner: &http.Server{
			Handler:      chain(mux, mws...),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish. Hijacked websocket connections are not
// tracked here; close them through the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
