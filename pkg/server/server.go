package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/getmockd/gqlproxy/pkg/metrics"
	"github.com/getmockd/gqlproxy/pkg/proxy"
	"github.com/getmockd/gqlproxy/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults.
const (
	DefaultPath            = "/graphql"
	DefaultMaxBodySize     = 1 << 20
	DefaultShutdownTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// Path is where persisted operations are served. Defaults to "/graphql".
	Path string
	// MaxBodySize caps request bodies. Defaults to 1MB.
	MaxBodySize int64
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer
	// Limiter throttles persisted operation requests per client when set.
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
}

// Server is the HTTP front end of a proxy.Proxy.
type Server struct {
	proxy  *proxy.Proxy
	router chi.Router
	opts   Options
	logger *slog.Logger
}

// New creates a Server for p.
func New(p *proxy.Proxy, opts Options) *Server {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		proxy:  p,
		opts:   opts,
		logger: logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.opts.Limiter))
		r.Get(s.opts.Path, s.handlePersistedGet)
		r.Post(s.opts.Path, s.handlePersistedPost)
		r.Get(s.opts.Path+"/{hash}", s.handleHash)
		r.Post(s.opts.Path+"/{hash}", s.handleHash)
	})

	r.Get("/operations", s.handleOperations)
	r.Post("/operations/validate", s.handleValidate)
	r.Get("/operations/{hash}", s.handleOperation)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.opts.Gatherer))
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String(), "path", s.opts.Path)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", s.opts.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
