// Package server implements the controller's internal HTTP surface: the
// session-validation endpoint consumed by newts, the agent WebSocket
// endpoints, and a health probe.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/warren/internal/auth"
	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/ratelimit"
)

// AgentStore is the slice of the storage layer the server needs for agent
// authentication and health probes.
type AgentStore interface {
	GetNewt(ctx context.Context, newtID string) (model.Newt, error)
	GetOlm(ctx context.Context, olmID string) (model.Olm, error)
	Ping(ctx context.Context) error
}

// SessionValidator resolves session tokens.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (auth.ValidationResult, error)
}

// Server is the controller HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	Store     AgentStore
	Validator SessionValidator
	Bus       *bus.Bus
	Limiter   ratelimit.Limiter
	Logger    *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates an HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &handlers{
		store:     cfg.Store,
		validator: cfg.Validator,
		logger:    cfg.Logger,
		version:   cfg.Version,
	}

	validateRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)

	mux := http.NewServeMux()

	mux.Handle("GET /api/v1/auth/session/validate", validateRL(http.HandlerFunc(h.HandleValidateSession)))

	mux.Handle("GET /api/v1/ws/newt", cfg.Bus.WSHandler(model.KindNewt, agentAuthenticator(cfg.Store), cfg.Logger))
	mux.Handle("GET /api/v1/ws/olm", cfg.Bus.WSHandler(model.KindOlm, agentAuthenticator(cfg.Store), cfg.Logger))

	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID -> tracing -> logging -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// agentAuthenticator verifies X-Agent-ID/X-Agent-Secret against the stored
// argon2id hash. Unknown agents burn a dummy hash so timing does not reveal
// whether the ID exists.
func agentAuthenticator(store AgentStore) bus.Authenticator {
	return func(r *http.Request, kind model.AgentKind, agentID, secret string) error {
		var hash string
		switch kind {
		case model.KindNewt:
			newt, err := store.GetNewt(r.Context(), agentID)
			if err != nil {
				auth.DummyVerify()
				return fmt.Errorf("server: unknown newt %s: %w", agentID, err)
			}
			hash = newt.SecretHash
		case model.KindOlm:
			olm, err := store.GetOlm(r.Context(), agentID)
			if err != nil {
				auth.DummyVerify()
				return fmt.Errorf("server: unknown olm %s: %w", agentID, err)
			}
			hash = olm.SecretHash
		default:
			return fmt.Errorf("server: unsupported agent kind %s", kind)
		}

		ok, err := auth.VerifySecret(secret, hash)
		if err != nil {
			return fmt.Errorf("server: verify secret for %s: %w", agentID, err)
		}
		if !ok {
			return fmt.Errorf("server: bad secret for %s", agentID)
		}
		return nil
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
