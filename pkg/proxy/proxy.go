package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/gqlproxy/pkg/cache"
	"github.com/getmockd/gqlproxy/pkg/graphql"
	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/getmockd/gqlproxy/pkg/metrics"
	"github.com/getmockd/gqlproxy/pkg/upstream"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Defaults.
const (
	DefaultGraphQLPath   = "/graphql"
	DefaultSweepInterval = time.Minute
)

// Options configures a Proxy.
type Options struct {
	// CacheTTL is the lifetime of cached query results for operations
	// without a cache directive. Zero disables reuse; concurrent identical
	// calls are still coalesced.
	CacheTTL time.Duration

	// CacheKey serializes a call into its cache key. Defaults to
	// cache.DefaultKey.
	CacheKey cache.KeyFunc

	// CacheDirective is the name of the proxy-local TTL directive, without
	// the "@". Defaults to "pcached".
	CacheDirective string

	// GraphQLPath is appended to the origin URL. Defaults to "/graphql".
	GraphQLPath string

	// Pool bounds the upstream connection pool.
	Pool upstream.PoolOptions

	// IntrospectionHeader is sent with the introspection query used by
	// Validate, e.g. an admin secret.
	IntrospectionHeader http.Header

	// SweepInterval is how often expired cache entries are dropped.
	// Negative disables sweeping.
	SweepInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Clock replaces time.Now for cache expiry.
	Clock func() time.Time
}

// Response is the result of a call. Responses served from the cache are
// shared between callers and must not be modified.
type Response struct {
	// StatusCode is the backend status, or zero for override results.
	StatusCode int
	// Header holds Content-Type and Content-Encoding as sent by the backend.
	Header http.Header
	// Body is the raw backend body, possibly compressed.
	Body []byte
	// Data is the override result, nil for backend responses.
	Data any
}

// Proxy resolves persisted operations against a GraphQL backend.
type Proxy struct {
	registry  *registry
	cache     *cache.Group[*Response]
	transport *upstream.Transport
	checker   *Checker
	keyFunc   cache.KeyFunc
	directive string
	logger    *slog.Logger
	metrics   *metrics.Collector

	// mu serializes hook changes with their cache purge
	mu     sync.Mutex
	closed atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// New builds the registry from operations, a map of hash to document text,
// and prepares the connection pool to originURL. No request is made.
func New(originURL string, operations map[string]string, opts Options) (*Proxy, error) {
	if opts.CacheDirective == "" {
		opts.CacheDirective = graphql.DefaultCacheDirective
	}
	if opts.GraphQLPath == "" {
		opts.GraphQLPath = DefaultGraphQLPath
	}
	if opts.CacheKey == nil {
		opts.CacheKey = cache.DefaultKey
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.CacheTTL < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative, got %s", opts.CacheTTL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	endpoint, err := url.JoinPath(originURL, opts.GraphQLPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrigin, err)
	}

	reg, err := newRegistry(operations, opts.CacheTTL, opts.CacheDirective)
	if err != nil {
		return nil, err
	}

	transport, err := upstream.New(endpoint, upstream.Options{
		Pool:    opts.Pool,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrigin, err)
	}

	cacheOpts := []cache.Option{
		cache.WithObserver(func(_ string, event cache.Event) {
			opts.Metrics.ObserveCacheEvent(string(event))
		}),
	}
	if opts.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Clock))
	}

	p := &Proxy{
		registry:  reg,
		cache:     cache.New[*Response](cacheOpts...),
		transport: transport,
		checker:   NewChecker(transport, opts.IntrospectionHeader, logger),
		keyFunc:   opts.CacheKey,
		directive: opts.CacheDirective,
		logger:    logger,
		metrics:   opts.Metrics,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	cached := 0
	for _, def := range reg.all() {
		logger.Debug("registered operation",
			"hash", def.Hash,
			"type", def.Type,
			"name", def.Name,
			"ttl", def.DefaultTTL,
			"directiveTtl", def.DirectiveTTL)
		if def.Cacheable() && def.DefaultTTL > 0 {
			cached++
		}
	}
	logger.Info("operation registry built",
		"operations", reg.size(),
		"cachedOperations", cached,
		"endpoint", endpoint)

	if cached > 0 && opts.SweepInterval > 0 {
		go p.sweep(opts.SweepInterval)
	} else {
		close(p.done)
	}

	return p, nil
}

// Request runs the persisted operation registered under hash.
//
// The installed validator runs first. If an override is installed it
// answers the call; otherwise the operation is sent upstream, through the
// cache for query operations.
func (p *Proxy) Request(ctx context.Context, hash string, variables map[string]any, header http.Header) (*Response, error) {
	if p.closed.Load() {
		p.metrics.ObserveRequest(hash, "", metrics.OutcomeClosed)
		return nil, ErrClosed
	}

	def, ok := p.registry.get(hash)
	if !ok {
		p.metrics.ObserveRequest("", "", metrics.OutcomeNotFound)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}

	resp, outcome, err := p.resolve(ctx, def, variables, header)
	p.metrics.ObserveRequest(def.Hash, string(def.Type), outcome)
	return resp, err
}

func (p *Proxy) resolve(ctx context.Context, def *Definition, variables map[string]any, header http.Header) (*Response, string, error) {
	h := def.hooks.Load()

	if h.validator != nil {
		if err := h.validator(ctx, variables, def); err != nil {
			return nil, metrics.OutcomeInvalid, asValidationError(def.Hash, err)
		}
	}

	if h.override != nil {
		data, err := h.override(ctx, variables, header)
		if err != nil {
			return nil, metrics.OutcomeError, err
		}
		resp, err := overrideResponse(data)
		if err != nil {
			return nil, metrics.OutcomeError, fmt.Errorf("encode override result for %s: %w", def.Hash, err)
		}
		return resp, metrics.OutcomeOverride, nil
	}

	fetch := func(ctx context.Context) (*Response, error) {
		return p.send(ctx, def.Query, variables, header)
	}

	var (
		resp *Response
		err  error
	)
	if def.Cacheable() {
		key := p.keyFunc(cache.KeyInput{Hash: def.Hash, Variables: variables, Header: header})
		// a custom key may leave the hash out
		resp, err = p.cache.Do(ctx, def.Hash, def.Hash+"\x00"+key, def.DefaultTTL, fetch)
	} else {
		resp, err = fetch(ctx)
	}
	if err != nil {
		return nil, metrics.OutcomeError, err
	}
	return resp, metrics.OutcomeOK, nil
}

// RawRequest sends query straight to the backend, bypassing the registry,
// hooks and cache.
func (p *Proxy) RawRequest(ctx context.Context, query string, variables map[string]any, header http.Header) (*Response, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return p.send(ctx, query, variables, header)
}

func (p *Proxy) send(ctx context.Context, query string, variables map[string]any, header http.Header) (*Response, error) {
	resp, err := p.transport.Do(ctx, upstream.Request{
		Query:     query,
		Variables: variables,
		Header:    header,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// AddValidation installs fn as the validator of the operation ref names.
// ref is a hash or the operation's document text.
func (p *Proxy) AddValidation(ref string, fn Validator) error {
	if fn == nil {
		return p.RemoveValidation(ref)
	}
	return p.changeHooks(ref, setValidator(fn))
}

// AddOverride installs fn as the override of the operation ref names.
func (p *Proxy) AddOverride(ref string, fn Override) error {
	if fn == nil {
		return p.RemoveOverride(ref)
	}
	return p.changeHooks(ref, setOverride(fn))
}

// RemoveValidation removes the validator of the operation ref names.
func (p *Proxy) RemoveValidation(ref string) error {
	return p.changeHooks(ref, clearValidator)
}

// RemoveOverride removes the override of the operation ref names.
func (p *Proxy) RemoveOverride(ref string) error {
	return p.changeHooks(ref, clearOverride)
}

// changeHooks is the only place hooks change. Every change purges the
// cached and in-flight state of the affected hashes, and only theirs.
func (p *Proxy) changeHooks(ref string, change hookChange) error {
	defs, err := p.registry.resolve(ref, p.directive)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, def := range defs {
		next := change.apply(*def.hooks.Load())
		def.hooks.Store(&next)
		purged := p.cache.Purge(def.Hash)
		p.metrics.AddCacheEvents(metrics.EventPurged, purged)

		p.logger.Info("operation hooks changed",
			"hash", def.Hash,
			"action", change.action,
			"hooks", next.state(),
			"purged", purged)
	}
	return nil
}

// Validate checks every operation without an override against the
// backend's schema and returns all errors found. It makes no request when
// there is nothing to check.
func (p *Proxy) Validate(ctx context.Context) ([]*gqlerror.Error, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return p.checker.Check(ctx, p.registry.all())
}

// Operations returns every definition, sorted by hash.
func (p *Proxy) Operations() []*Definition {
	return p.registry.all()
}

// Operation returns the definition registered under hash.
func (p *Proxy) Operation(hash string) (*Definition, bool) {
	return p.registry.get(hash)
}

// CacheStats returns cache counters.
func (p *Proxy) CacheStats() cache.Stats {
	return p.cache.Stats()
}

// Endpoint returns the backend URL.
func (p *Proxy) Endpoint() string {
	return p.transport.Endpoint()
}

// Close drops all cached state and shuts the connection pool down, waiting
// for in-flight requests until ctx ends. Later calls fail with ErrClosed.
// Close is idempotent and does not report teardown failures.
func (p *Proxy) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(p.stop)
	<-p.done

	purged := p.cache.PurgeAll()
	p.metrics.AddCacheEvents(metrics.EventPurged, purged)

	if err := p.transport.Close(ctx); err != nil {
		p.logger.Debug("transport close", "error", err)
	}

	p.logger.Info("proxy closed", "purged", purged)
	return nil
}

func (p *Proxy) sweep(interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if n := p.cache.Sweep(); n > 0 {
				p.logger.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}
