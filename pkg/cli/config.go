package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/getmockd/gqlproxy/pkg/config"
	"github.com/getmockd/gqlproxy/pkg/metrics"
	"github.com/getmockd/gqlproxy/pkg/proxy"
)

// loadConfig resolves the effective configuration: defaults, file,
// environment, then flags.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, err
	}

	path := g.configFile
	if path == "" {
		path = config.ConfigFileFromEnv()
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
		// operations in a config file are relative to that file
		if ops := cfg.OperationsFile; ops != "" && !filepath.IsAbs(ops) {
			cfg.OperationsFile = filepath.Join(filepath.Dir(path), ops)
		}
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if g.origin != "" {
		cfg.Origin = g.origin
	}
	if g.operations != "" {
		cfg.OperationsFile = g.operations
	}
	if h := g.introspectionHeaders.Header(); len(h) > 0 {
		if cfg.IntrospectionHeaders == nil {
			cfg.IntrospectionHeaders = make(map[string]string, len(h))
		}
		for name, values := range h {
			cfg.IntrospectionHeaders[name] = strings.Join(values, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildProxy loads the operations file and creates the proxy.
func buildProxy(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*proxy.Proxy, error) {
	ops, err := config.LoadOperations(cfg.OperationsFile)
	if err != nil {
		return nil, err
	}
	return proxy.New(cfg.Origin, ops, proxy.Options{
		CacheTTL:            cfg.CacheTTL.Std(),
		CacheDirective:      cfg.CacheDirective,
		GraphQLPath:         cfg.GraphQLPath,
		Pool:                cfg.Pool.Options(),
		IntrospectionHeader: cfg.IntrospectionHeader(),
		Logger:              logger,
		Metrics:             collector,
	})
}
