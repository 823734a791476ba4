// Package server hosts the HTTP surface of the bridge.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultRequestTimeout = 15 * time.Minute

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout bounds each request's context. A bridged call is held
// open for its whole observation window, so this must exceed that window.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithOperationName sets the span name used by the HTTP instrumentation.
func WithOperationName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.operation = name
		}
	}
}

// WithBaseContext derives every request context from ctx, so cancelling it
// ends in-flight calls.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

type Server struct {
	Router *chi.Mux
	Port   int

	requestTimeout time.Duration
	operation      string
	baseCtx        context.Context
	logger         *slog.Logger
	httpServer     *http.Server
}

func New(port int, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		Router:         chi.NewRouter(),
		Port:           port,
		requestTimeout: DefaultRequestTimeout,
		operation:      "callbridge",
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(s.requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, s.operation)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.baseCtx != nil {
		base := s.baseCtx
		s.httpServer.BaseContext = func(net.Listener) context.Context { return base }
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve serves on ln. It returns nil after a graceful Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
