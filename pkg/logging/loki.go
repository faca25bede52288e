package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Loki defaults.
const (
	DefaultLokiBatchSize     = 100
	DefaultLokiFlushInterval = 5 * time.Second
)

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

// lokiSink owns the batch shared by a LokiHandler and every handler derived
// from it with WithAttrs or WithGroup.
type lokiSink struct {
	url       string
	labels    map[string]string
	client    *http.Client
	batchSize int
	interval  time.Duration

	mu     sync.Mutex
	batch  [][2]string
	timer  *time.Timer
	closed bool
}

// LokiHandler is a slog.Handler that batches records as JSON lines and
// pushes them to a Loki endpoint.
type LokiHandler struct {
	sink   *lokiSink
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// LokiOption configures a LokiHandler.
type LokiOption func(*LokiHandler)

// WithLokiLabels adds stream labels.
func WithLokiLabels(labels map[string]string) LokiOption {
	return func(h *LokiHandler) {
		maps.Copy(h.sink.labels, labels)
	}
}

// WithLokiLevel sets the minimum level shipped.
func WithLokiLevel(level slog.Leveler) LokiOption {
	return func(h *LokiHandler) {
		h.level = level
	}
}

// WithLokiBatchSize sets the number of buffered records that triggers a push.
func WithLokiBatchSize(size int) LokiOption {
	return func(h *LokiHandler) {
		if size > 0 {
			h.sink.batchSize = size
		}
	}
}

// WithLokiFlushInterval sets how often a partial batch is pushed.
func WithLokiFlushInterval(d time.Duration) LokiOption {
	return func(h *LokiHandler) {
		if d > 0 {
			h.sink.interval = d
		}
	}
}

// WithLokiClient replaces the HTTP client used for pushes.
func WithLokiClient(c *http.Client) LokiOption {
	return func(h *LokiHandler) {
		h.sink.client = c
	}
}

// NewLokiHandler creates a handler pushing to url, a Loki push endpoint such
// as http://localhost:3100/loki/api/v1/push.
func NewLokiHandler(url string, opts ...LokiOption) *LokiHandler {
	h := &LokiHandler{
		sink: &lokiSink{
			url:       url,
			labels:    map[string]string{"job": "gqlproxy"},
			client:    &http.Client{Timeout: 5 * time.Second},
			batchSize: DefaultLokiBatchSize,
			interval:  DefaultLokiFlushInterval,
		},
		level: slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(h)
	}

	s := h.sink
	s.mu.Lock()
	s.timer = time.AfterFunc(s.interval, s.tick)
	s.mu.Unlock()
	return h
}

// Enabled implements slog.Handler.
func (h *LokiHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *LokiHandler) Handle(_ context.Context, r slog.Record) error {
	line, err := h.format(r)
	if err != nil {
		return err
	}
	entry := [2]string{strconv.FormatInt(r.Time.UnixNano(), 10), line}

	s := h.sink
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.batch = append(s.batch, entry)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		go func() { _ = s.flush() }()
	}
	return nil
}

func (h *LokiHandler) format(r slog.Record) (string, error) {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
		"time":  r.Time.Format(time.RFC3339Nano),
	}
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, h.prefix, a)
		return true
	})

	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode log record: %w", err)
	}
	return string(b), nil
}

// addAttr flattens groups into dotted keys.
func addAttr(data map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(data, prefix, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	v := a.Value.Any()
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	data[prefix+a.Key] = v
}

// WithAttrs implements slog.Handler.
func (h *LokiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (h *LokiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + strings.TrimSuffix(name, ".") + "."
	return &next
}

// Flush pushes all buffered records.
func (h *LokiHandler) Flush() error {
	return h.sink.flush()
}

// Close stops the flush timer and pushes what is left. Records handled
// afterwards are dropped.
func (h *LokiHandler) Close() error {
	s := h.sink
	s.mu.Lock()
	s.closed = true
	s.timer.Stop()
	s.mu.Unlock()
	return s.flush()
}

func (s *lokiSink) tick() {
	_ = s.flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.timer.Reset(s.interval)
	}
}

func (s *lokiSink) flush() error {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(lokiPush{
		Streams: []lokiStream{{Stream: s.labels, Values: batch}},
	})
	if err != nil {
		return fmt.Errorf("encode loki push: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push logs to loki: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loki returned status %d", resp.StatusCode)
	}
	return nil
}
