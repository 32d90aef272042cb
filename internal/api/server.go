// Package api serves convoy's HTTP admin surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/convoy/internal/auth"
	"github.com/mattjoyce/convoy/internal/chat"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/state"
)

// Dispatcher is the part of the dispatcher the API reads and feeds.
type Dispatcher interface {
	State() dispatch.State
	Plugins() []dispatch.PluginStatus
	Conversations() []string
	Enabled(conv chat.ConversationID) []string
	HandleInbound(ctx context.Context, ev chat.Event) error
}

// MessageLister reads the message log.
type MessageLister interface {
	List(ctx context.Context, conversation string, limit int) ([]state.Entry, error)
}

// EventSource is the read side of the event hub.
type EventSource interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens are scoped bearer tokens.
	Tokens []auth.TokenConfig
	// HookSecret enables POST /hooks/inbound, authenticated by an
	// HMAC-SHA256 signature of the body instead of a bearer token.
	HookSecret string
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	auth       *auth.Authenticator
	dispatcher Dispatcher
	messages   MessageLister
	events     EventSource
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a server. messages may be nil, in which case /messages
// answers 503.
func New(config Config, d Dispatcher, messages MessageLister, hub EventSource, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		auth:       auth.NewAuthenticator(config.APIKey, config.Tokens),
		dispatcher: d,
		messages:   messages,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.config.HookSecret != "" {
		r.Post("/hooks/inbound", s.handleHook)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopePluginsRead)).Get("/plugins", s.handlePlugins)
		r.With(s.requireScopes(auth.ScopePluginsRead)).Get("/conversations", s.handleConversations)
		r.With(s.requireScopes(auth.ScopeMessagesRead)).Get("/messages", s.handleMessages)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeInboundWrite)).Post("/inbound", s.handleInbound)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, ok := s.auth.Authenticate(token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFromContext(r.Context())
			if !p.Scopes.Allows(scopes...) {
				s.logger.Debug("scope denied", "principal", p.Name, "path", r.URL.Path)
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
