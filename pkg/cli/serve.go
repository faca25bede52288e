package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getmockd/gqlproxy/pkg/config"
	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/getmockd/gqlproxy/pkg/metrics"
	"github.com/getmockd/gqlproxy/pkg/ratelimit"
	"github.com/getmockd/gqlproxy/pkg/server"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the wait for in-flight upstream requests on exit.
const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	listen      string
	cacheTTL    string
	check       bool
	maxBodySize int64
	noMetrics   bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve persisted operations over HTTP",
		Long: `Start the HTTP front end. Clients send persisted operation hashes, either as
{"id": "<hash>"}, as an Apollo persistedQuery extension, or in the path
(/graphql/<hash>). Query results are cached; mutations and subscriptions are
always forwarded.`,
		Example: `  # Serve with a config file
  gqlproxy serve --config gqlproxy.yaml

  # Everything on the command line
  gqlproxy serve --origin http://localhost:8080 --operations ops.json --cache-ttl 30s

  # Refuse to start when an operation no longer matches the backend schema
  gqlproxy serve --config gqlproxy.yaml --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, g, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.listen, "listen", "l", "", "Listen address (default "+config.DefaultListen+")")
	fl.StringVar(&f.cacheTTL, "cache-ttl", "", "Cache lifetime for queries without a cache directive, e.g. 30s")
	fl.BoolVar(&f.check, "check", false, "Validate operations against the backend schema before serving")
	fl.Int64Var(&f.maxBodySize, "max-body-size", server.DefaultMaxBodySize, "Maximum request body size in bytes")
	fl.BoolVar(&f.noMetrics, "no-metrics", false, "Do not expose /metrics")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalFlags, f *serveFlags) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.cacheTTL != "" {
		ttl, err := config.ParseDuration(f.cacheTTL)
		if err != nil {
			return fmt.Errorf("--cache-ttl: %w", err)
		}
		cfg.CacheTTL = ttl
	}

	logger, flush := logging.Setup(cfg.Log, cmd.ErrOrStderr())
	defer func() { _ = flush() }()

	registry := metrics.NewRegistry()
	p, err := buildProxy(cfg, logger, metrics.NewCollector(registry))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = p.Close(ctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.check {
		errs, err := p.Validate(ctx)
		if err != nil {
			return fmt.Errorf("schema check: %w", err)
		}
		for _, e := range errs {
			logger.Error("operation does not match backend schema", "hash", e.Extensions["hash"], "error", e.Message)
		}
		if len(errs) > 0 {
			return ErrValidationFailed
		}
	}

	opts := server.Options{
		Path:        cfg.GraphQLPath,
		MaxBodySize: f.maxBodySize,
		Logger:      logger,
	}
	if !f.noMetrics {
		opts.Gatherer = registry
	}
	if cfg.RateLimit.Enabled() {
		opts.Limiter = ratelimit.New(cfg.RateLimit.Config())
		defer opts.Limiter.Stop()
	}
	return server.New(p, opts).ListenAndServe(ctx, cfg.Listen)
}
