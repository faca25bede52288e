package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvConfig          = "GQLPROXY_CONFIG"
	EnvOrigin          = "GQLPROXY_ORIGIN"
	EnvGraphQLPath     = "GQLPROXY_GRAPHQL_PATH"
	EnvListen          = "GQLPROXY_LISTEN"
	EnvCacheTTL        = "GQLPROXY_CACHE_TTL"
	EnvCacheDirective  = "GQLPROXY_CACHE_DIRECTIVE"
	EnvOperations      = "GQLPROXY_OPERATIONS"
	EnvConnections     = "GQLPROXY_CONNECTIONS"
	EnvPipelining      = "GQLPROXY_PIPELINING"
	EnvUpstreamTimeout = "GQLPROXY_UPSTREAM_TIMEOUT"
	EnvLogLevel        = "GQLPROXY_LOG_LEVEL"
	EnvLogFormat       = "GQLPROXY_LOG_FORMAT"
	EnvLokiURL         = "GQLPROXY_LOKI_URL"
	EnvRateLimit       = "GQLPROXY_RATE_LIMIT"
	EnvRateLimitBurst  = "GQLPROXY_RATE_LIMIT_BURST"

	// EnvIntrospectionHeaderPrefix names introspection headers:
	// GQLPROXY_INTROSPECTION_HEADER_X_HASURA_ADMIN_SECRET sets
	// X-Hasura-Admin-Secret.
	EnvIntrospectionHeaderPrefix = "GQLPROXY_INTROSPECTION_HEADER_"
)

// ApplyEnv overrides cfg with the GQLPROXY_* variables that are set. All
// malformed values are reported together.
func ApplyEnv(cfg *Config) error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", name, v))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid number %q", name, v))
				return
			}
			*dst = f
		}
	}
	setDuration := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	setString(EnvOrigin, &cfg.Origin)
	setString(EnvGraphQLPath, &cfg.GraphQLPath)
	setString(EnvListen, &cfg.Listen)
	setDuration(EnvCacheTTL, &cfg.CacheTTL)
	setString(EnvCacheDirective, &cfg.CacheDirective)
	setString(EnvOperations, &cfg.OperationsFile)
	setInt(EnvConnections, &cfg.Pool.Connections)
	setInt(EnvPipelining, &cfg.Pool.Pipelining)
	setDuration(EnvUpstreamTimeout, &cfg.Pool.Timeout)
	setFloat(EnvRateLimit, &cfg.RateLimit.Rate)
	setInt(EnvRateLimitBurst, &cfg.RateLimit.Burst)
	setString(EnvLogLevel, &cfg.Log.Level)
	setString(EnvLogFormat, &cfg.Log.Format)
	setString(EnvLokiURL, &cfg.Log.Loki)

	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		suffix, ok := strings.CutPrefix(name, EnvIntrospectionHeaderPrefix)
		if !ok || suffix == "" || value == "" {
			continue
		}
		if cfg.IntrospectionHeaders == nil {
			cfg.IntrospectionHeaders = map[string]string{}
		}
		cfg.IntrospectionHeaders[strings.ReplaceAll(suffix, "_", "-")] = value
	}

	return errors.Join(errs...)
}

// ConfigFileFromEnv returns the config file named by GQLPROXY_CONFIG.
func ConfigFileFromEnv() string {
	return os.Getenv(EnvConfig)
}
