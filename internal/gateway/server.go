// Package gateway runs the inbound HTTP listener and mounts the webhook
// channels onto it.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sawitlab/tanya/internal/channels"
	"github.com/sawitlab/tanya/internal/config"
)

// Server is the inbound HTTP server for webhook channels.
type Server struct {
	cfg         config.GatewayConfig
	mux         *http.ServeMux
	rateLimiter *RateLimiter
	httpServer  *http.Server
	healthCheck func(context.Context) error
}

// NewServer creates a gateway server.
func NewServer(cfg config.GatewayConfig) *Server {
	return &Server{
		cfg:         cfg,
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(cfg.RateLimitRPM, 5),
	}
}

// SetHealthCheck wires a dependency probe into /healthz. A failing probe turns
// the endpoint into a 503 so load balancers stop routing to this instance.
func (s *Server) SetHealthCheck(check func(context.Context) error) {
	s.healthCheck = check
}

// Register mounts a webhook channel's route on the mux.
func (s *Server) Register(ch channels.WebhookChannel) {
	slog.Info("channel route registered", "channel", ch.Name(), "route", ch.Route())
	s.mux.Handle(ch.Route(), s.limit(ch.Handler()))
}

// limit wraps a handler with the per-caller rate limit. The key is the remote
// host: webhook providers call from a small address pool, so this protects
// against floods without starving legitimate retries.
func (s *Server) limit(next http.Handler) http.Handler {
	if !s.rateLimiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.rateLimiter.Allow(host) {
			slog.Warn("security.rate_limited", "remote", host, "path", r.URL.Path)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening and blocks until ctx is cancelled or the listener
// fails. Shutdown drains in-flight requests for up to 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.healthCheck(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"degraded"}`)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
