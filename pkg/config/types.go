package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/getmockd/gqlproxy/pkg/graphql"
	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/getmockd/gqlproxy/pkg/ratelimit"
	"github.com/getmockd/gqlproxy/pkg/upstream"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListen         = ":4000"
	DefaultGraphQLPath    = "/graphql"
	DefaultCacheDirective = graphql.DefaultCacheDirective
)

// Config is the gqlproxy configuration.
type Config struct {
	// Origin is the backend base URL; GraphQLPath is appended to it.
	Origin      string `json:"origin" yaml:"origin"`
	GraphQLPath string `json:"graphqlPath,omitempty" yaml:"graphqlPath,omitempty"`
	// Listen is the address the HTTP front end binds.
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`

	// CacheTTL applies to query operations without a cache directive.
	CacheTTL       Duration `json:"cacheTtl,omitempty" yaml:"cacheTtl,omitempty"`
	CacheDirective string   `json:"cacheDirective,omitempty" yaml:"cacheDirective,omitempty"`

	Pool PoolConfig `json:"pool" yaml:"pool"`

	// OperationsFile holds the persisted operations, see LoadOperations.
	OperationsFile string `json:"operations" yaml:"operations"`

	// IntrospectionHeaders are sent with the schema introspection query,
	// e.g. an admin secret.
	IntrospectionHeaders map[string]string `json:"introspectionHeaders,omitempty" yaml:"introspectionHeaders,omitempty"`

	// RateLimit throttles clients of the HTTP front end. Disabled when
	// Rate is zero.
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`

	Log logging.Options `json:"log" yaml:"log"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Rate           float64  `json:"rate,omitempty" yaml:"rate,omitempty"`
	Burst          int      `json:"burst,omitempty" yaml:"burst,omitempty"`
	TrustedProxies []string `json:"trustedProxies,omitempty" yaml:"trustedProxies,omitempty"`
}

// Enabled reports whether rate limiting is configured.
func (r RateLimitConfig) Enabled() bool {
	return r.Rate > 0
}

// Config converts the settings for the ratelimit package.
func (r RateLimitConfig) Config() ratelimit.Config {
	return ratelimit.Config{
		Rate:           r.Rate,
		Burst:          r.Burst,
		TrustedProxies: r.TrustedProxies,
	}
}

// PoolConfig bounds the upstream connection pool.
type PoolConfig struct {
	Connections      int      `json:"connections,omitempty" yaml:"connections,omitempty"`
	Pipelining       int      `json:"pipelining,omitempty" yaml:"pipelining,omitempty"`
	KeepAliveTimeout Duration `json:"keepAliveTimeout,omitempty" yaml:"keepAliveTimeout,omitempty"`
	Timeout          Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DialTimeout      Duration `json:"dialTimeout,omitempty" yaml:"dialTimeout,omitempty"`
}

// Options converts the pool settings for the upstream package.
func (p PoolConfig) Options() upstream.PoolOptions {
	return upstream.PoolOptions{
		Connections:      p.Connections,
		Pipelining:       p.Pipelining,
		KeepAliveTimeout: p.KeepAliveTimeout.Std(),
		Timeout:          p.Timeout.Std(),
		DialTimeout:      p.DialTimeout.Std(),
	}
}

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		GraphQLPath:    DefaultGraphQLPath,
		Listen:         DefaultListen,
		CacheDirective: DefaultCacheDirective,
		Pool: PoolConfig{
			Connections:      upstream.DefaultConnections,
			Pipelining:       upstream.DefaultPipelining,
			KeepAliveTimeout: Duration(upstream.DefaultKeepAliveTimeout),
			DialTimeout:      Duration(upstream.DefaultDialTimeout),
		},
		Log: logging.Options{Level: "info", Format: "text"},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if u, err := url.Parse(c.Origin); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin must be an http(s) URL, got %q", c.Origin))
	}
	if c.OperationsFile == "" {
		errs = append(errs, errors.New("operations file is required"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cacheTtl must not be negative, got %s", c.CacheTTL))
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rateLimit rate and burst must not be negative"))
	}
	if c.Pool.Connections < 0 || c.Pool.Pipelining < 0 {
		errs = append(errs, errors.New("pool connections and pipelining must not be negative"))
	}
	return errors.Join(errs...)
}

// IntrospectionHeader returns IntrospectionHeaders as an http.Header.
func (c *Config) IntrospectionHeader() http.Header {
	h := make(http.Header, len(c.IntrospectionHeaders))
	for k, v := range c.IntrospectionHeaders {
		h.Set(k, v)
	}
	return h
}

// Duration is a time.Duration that reads from a Go duration string or a
// number of seconds and writes as a duration string.
type Duration time.Duration

// ParseDuration parses "30s", "1m" or a plain number of seconds such as "30"
// or "0.5".
func ParseDuration(s string) (Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
		return nil
	case string:
		parsed, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}
