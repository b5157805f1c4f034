// Package gateway serves the HTTP surface: health, stats, webhook intake,
// error records and configuration.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/internal/config"
	httpapi "github.com/nextlevelbuilder/inboxd/internal/http"
	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

// Deps are the collaborators the HTTP handlers need.
type Deps struct {
	Channels httpapi.ChannelLookup
	Stores   *store.Stores
	Events   bus.EventPublisher
	Stats    func() protocol.StatsSnapshot
}

// Server is the gateway HTTP server.
type Server struct {
	cfg  config.GatewayConfig
	deps Deps

	rateLimiter *channels.WebhookRateLimiter
	httpServer  *http.Server
	mux         *http.ServeMux
}

// NewServer creates a new gateway server.
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	return &Server{
		cfg:         cfg,
		deps:        deps,
		rateLimiter: channels.NewWebhookRateLimiter(cfg.RateLimitRPM),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+protocol.RouteHealth, s.handleHealth)

	if s.deps.Channels != nil {
		httpapi.NewWebhookHandler(s.deps.Channels, s.cfg.Token, s.rateLimiter, s.cfg.MaxBodyBytes).RegisterRoutes(mux)
	}
	if s.deps.Stats != nil {
		httpapi.NewStatsHandler(s.deps.Stats, s.cfg.Token).RegisterRoutes(mux)
	}
	if s.deps.Stores != nil {
		httpapi.NewErrorsHandler(s.deps.Stores.Errors, s.cfg.Token).RegisterRoutes(mux)
		httpapi.NewChannelConfigsHandler(s.deps.Stores.Configs, s.cfg.Token, s.deps.Events).RegisterRoutes(mux)
	}

	s.mux = mux
	return mux
}

// Start listens on the configured address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleHealth returns a simple health check response. In managed mode it
// also pings the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.deps.Stores != nil {
		if p, ok := s.deps.Stores.Messages.(store.Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"degraded","protocol":%d}`, protocol.ProtocolVersion)
				return
			}
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}
