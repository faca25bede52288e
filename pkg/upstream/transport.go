package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/getmockd/gqlproxy/pkg/graphql"
	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/getmockd/gqlproxy/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// Pool defaults.
const (
	DefaultConnections      = 10
	DefaultPipelining       = 1
	DefaultKeepAliveTimeout = 30 * time.Second
	DefaultDialTimeout      = 10 * time.Second
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("upstream: transport closed")

// PoolOptions bounds the connection pool to the origin.
type PoolOptions struct {
	// Connections is the maximum number of connections to the origin.
	Connections int
	// Pipelining is the number of requests allowed in flight per connection.
	// HTTP/1.1 connections serve one request at a time, so values above one
	// only raise the number of requests admitted before queueing.
	Pipelining int
	// KeepAliveTimeout closes idle connections after this long.
	KeepAliveTimeout time.Duration
	// Timeout bounds a whole round trip, body included. Zero means no limit.
	Timeout time.Duration
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Connections <= 0 {
		o.Connections = DefaultConnections
	}
	if o.Pipelining <= 0 {
		o.Pipelining = DefaultPipelining
	}
	if o.KeepAliveTimeout <= 0 {
		o.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}

// Capacity is the number of requests admitted at once; the rest queue.
func (o PoolOptions) Capacity() int64 {
	o = o.withDefaults()
	return int64(o.Connections) * int64(o.Pipelining)
}

// Options configures a Transport.
type Options struct {
	Pool    PoolOptions
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Request is one GraphQL call to the backend.
type Request struct {
	Query     string
	Variables map[string]any
	Header    http.Header
}

// Response is the backend's reply. Body is never decoded.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a backend reply outside the 2xx and 3xx range.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Transport sends GraphQL requests to a single origin over a bounded,
// keep-alive connection pool.
type Transport struct {
	endpoint string
	client   *http.Client
	pool     *http.Transport
	sem      *semaphore.Weighted
	capacity int64
	closed   atomic.Bool
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// New creates a Transport posting to endpoint, an absolute http(s) URL.
func New(endpoint string, opts Options) (*Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid endpoint %q: %w", endpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("upstream: invalid endpoint %q: want an absolute http or https URL", endpoint)
	}

	pool := opts.Pool.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	dialer := &net.Dialer{
		Timeout:   pool.DialTimeout,
		KeepAlive: pool.KeepAliveTimeout,
	}
	rt := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     pool.Connections,
		MaxIdleConns:        pool.Connections,
		MaxIdleConnsPerHost: pool.Connections,
		IdleConnTimeout:     pool.KeepAliveTimeout,
		TLSHandshakeTimeout: pool.DialTimeout,
		// bodies are relayed as received, compressed or not
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}

	capacity := pool.Capacity()
	return &Transport{
		endpoint: u.String(),
		pool:     rt,
		client: &http.Client{
			Transport: rt,
			Timeout:   pool.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Endpoint returns the URL requests are posted to.
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// Do posts req to the backend. When the pool is at capacity the call waits
// for a slot, giving up only if ctx ends first.
func (t *Transport) Do(ctx context.Context, req Request) (*Response, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	body, err := json.Marshal(graphql.GraphQLRequest{Query: req.Query, Variables: req.Variables})
	if err != nil {
		return nil, fmt.Errorf("upstream: encode request: %w", err)
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)

	if t.closed.Load() {
		return nil, ErrClosed
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	httpReq.Header = forwardHeaders(req.Header)
	httpReq.Header.Set("Content-Type", "application/json")

	done := t.metrics.UpstreamStarted()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		done(0)
		t.logger.Warn("upstream request failed", "endpoint", t.endpoint, "error", err)
		return nil, fmt.Errorf("upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	done(resp.StatusCode)
	if err != nil {
		t.logger.Warn("upstream response read failed", "endpoint", t.endpoint, "status", resp.StatusCode, "error", err)
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		t.logger.Warn("upstream returned error status", "endpoint", t.endpoint, "status", resp.StatusCode)
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Header:     relayHeaders(resp.Header),
			Body:       raw,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     relayHeaders(resp.Header),
		Body:       raw,
	}, nil
}

// Close stops accepting requests, waits for in-flight ones until ctx ends,
// then closes idle connections. It is safe to call more than once and never
// fails on connection teardown.
func (t *Transport) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	// holding every slot means nothing is in flight
	if err := t.sem.Acquire(ctx, t.capacity); err == nil {
		t.sem.Release(t.capacity)
	} else {
		t.logger.Debug("upstream close did not wait for in-flight requests", "error", err)
	}

	t.pool.CloseIdleConnections()
	return nil
}
