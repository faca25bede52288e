package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getmockd/gqlproxy/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIntrospection describes a schema with a single field, test: String!.
const testIntrospection = `{"data": {"__schema": {
  "queryType": {"name": "Query"},
  "mutationType": null,
  "subscriptionType": null,
  "types": [
    {"kind": "OBJECT", "name": "Query", "fields": [
      {"name": "test", "args": [], "type": {"kind": "NON_NULL", "name": null, "ofType": {"kind": "SCALAR", "name": "String", "ofType": null}}}
    ], "inputFields": null, "interfaces": [], "enumValues": null, "possibleTypes": null},
    {"kind": "SCALAR", "name": "String", "fields": null, "inputFields": null, "interfaces": null, "enumValues": null, "possibleTypes": null}
  ],
  "directives": []
}}}`

// backend is a GraphQL origin returning a fresh counter value per call.
type backend struct {
	srv *httptest.Server

	calls         atomic.Int64
	introspection atomic.Int64
	status        atomic.Int64

	mu      sync.Mutex
	paths   []string
	queries []string
	headers []http.Header
	gate    chan struct{}
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(payload.Query, "__schema") {
		b.introspection.Add(1)
		_, _ = w.Write([]byte(testIntrospection))
		return
	}

	n := b.calls.Add(1)
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.queries = append(b.queries, payload.Query)
	b.headers = append(b.headers, r.Header.Clone())
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if status := int(b.status.Load()); status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"errors":[{"message":"backend failure"}]}`))
		return
	}
	_, _ = fmt.Fprintf(w, `{"data":{"n":%d}}`, n)
}

// hold makes calls block until the returned function is called.
func (b *backend) hold() func() {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.gate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

func (b *backend) lastQuery() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queries) == 0 {
		return ""
	}
	return b.queries[len(b.queries)-1]
}

func newProxy(t *testing.T, origin string, operations map[string]string, opts Options) *Proxy {
	t.Helper()
	p, err := New(origin, operations, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testOperations = map[string]string{
	"me":       `query me { me { id } }`,
	"cached":   `query cached @pcached(ttl: 10) { me { id } }`,
	"save":     `mutation save($name: String) { save(name: $name) }`,
	"onChange": `subscription onChange { changed }`,
}

func TestNew(t *testing.T) {
	p := newProxy(t, "http://localhost:8080", testOperations, Options{CacheTTL: 5 * time.Second})

	ops := p.Operations()
	require.Len(t, ops, 4)
	assert.Equal(t, "cached", ops[0].Hash)
	assert.Equal(t, "save", ops[3].Hash)

	me, ok := p.Operation("me")
	require.True(t, ok)
	assert.True(t, me.Cacheable())
	assert.Equal(t, 5*time.Second, me.DefaultTTL)
	assert.False(t, me.DirectiveTTL)
	assert.Equal(t, HooksNone, me.HookState())

	cached, _ := p.Operation("cached")
	assert.Equal(t, 10*time.Second, cached.DefaultTTL)
	assert.True(t, cached.DirectiveTTL)
	assert.NotContains(t, cached.Query, "pcached")

	save, _ := p.Operation("save")
	assert.False(t, save.Cacheable())

	sub, _ := p.Operation("onChange")
	assert.False(t, sub.Cacheable())

	assert.Equal(t, "http://localhost:8080/graphql", p.Endpoint())
}

func TestNew_Errors(t *testing.T) {
	_, err := New("http://localhost", map[string]string{
		"ok":       `{ me }`,
		"fragment": `fragment F on User { id }`,
		"broken":   `query {`,
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fragment")
	assert.Contains(t, err.Error(), "broken")
	assert.NotContains(t, err.Error(), "operation ok")

	_, err = New("not a url", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidOrigin)

	_, err = New("http://localhost", nil, Options{CacheTTL: -time.Second})
	assert.Error(t, err)
}

func TestNew_CustomPathAndDirective(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, map[string]string{
		"h": `query q @cached(ttl: 3) { me }`,
	}, Options{GraphQLPath: "/v1/graphql", CacheDirective: "cached"})

	def, _ := p.Operation("h")
	assert.Equal(t, 3*time.Second, def.DefaultTTL)

	_, err := p.Request(context.Background(), "h", nil, nil)
	require.NoError(t, err)
	b.mu.Lock()
	assert.Equal(t, []string{"/v1/graphql"}, b.paths)
	b.mu.Unlock()
	assert.NotContains(t, b.lastQuery(), "@cached")
}

func TestRequest_NotFound(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})

	_, err := p.Request(context.Background(), "missing", nil, nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Zero(t, b.calls.Load())
}

func TestRequest_Dedup(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})
	release := b.hold()
	defer release()

	header := http.Header{"Authorization": {"Bearer a"}, "X-Hasura-Role": {"user"}}
	vars := map[string]any{"id": "1"}

	const n = 5
	results := make([]*Response, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	call := func(i int) {
		defer wg.Done()
		results[i], errs[i] = p.Request(context.Background(), "me", vars, header)
	}

	wg.Add(1)
	go call(0)
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, time.Millisecond)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go call(i)
	}
	require.Eventually(t, func() bool { return p.CacheStats().Shared == n-1 }, time.Second, time.Millisecond)

	release()
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int64(1), b.calls.Load())
	assert.JSONEq(t, `{"data":{"n":1}}`, string(results[0].Body))
}

func TestRequest_DistinctKeysNeverShare(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})
	release := b.hold()
	defer release()

	base := http.Header{"Authorization": {"Bearer a"}, "X-Hasura-Role": {"user"}}
	calls := []struct {
		vars   map[string]any
		header http.Header
	}{
		{map[string]any{"id": "1"}, base},
		{map[string]any{"id": "1"}, http.Header{"Authorization": {"Bearer b"}, "X-Hasura-Role": {"user"}}},
		{map[string]any{"id": "1"}, http.Header{"Authorization": {"Bearer a"}, "X-Hasura-Role": {"admin"}}},
		{map[string]any{"id": "2"}, base},
	}

	results := make([]*Response, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, vars map[string]any, header http.Header) {
			defer wg.Done()
			resp, err := p.Request(context.Background(), "me", vars, header)
			assert.NoError(t, err)
			results[i] = resp
		}(i, c.vars, c.header)
	}
	require.Eventually(t, func() bool { return b.calls.Load() == int64(len(calls)) }, time.Second, time.Millisecond)
	release()
	wg.Wait()

	seen := map[string]bool{}
	for _, r := range results {
		require.NotNil(t, r)
		seen[string(r.Body)] = true
	}
	assert.Len(t, seen, len(calls))
	assert.Zero(t, p.CacheStats().Shared)
}

func TestRequest_IrrelevantHeadersShare(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})

	first, err := p.Request(context.Background(), "me", nil, http.Header{"Authorization": {"t"}, "User-Agent": {"a"}})
	require.NoError(t, err)
	second, err := p.Request(context.Background(), "me", nil, http.Header{"authorization": {"t"}, "User-Agent": {"b"}})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), b.calls.Load())
}

func TestRequest_MutationNeverDedups(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})
	release := b.hold()
	defer release()

	vars := map[string]any{"name": "x"}
	results := make([]*Response, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := p.Request(context.Background(), "save", vars, nil)
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}
	require.Eventually(t, func() bool { return b.calls.Load() == 2 }, time.Second, time.Millisecond)
	release()
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, string(results[0].Body), string(results[1].Body))
	assert.Zero(t, p.CacheStats().Entries)

	// and never caches
	_, err := p.Request(context.Background(), "save", vars, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.calls.Load())
}

func TestRequest_TTLExpiry(t *testing.T) {
	b := newBackend(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := newProxy(t, b.srv.URL, testOperations, Options{Clock: clock.Now})

	first, err := p.Request(context.Background(), "cached", nil, nil)
	require.NoError(t, err)

	clock.Advance(9 * time.Second)
	again, err := p.Request(context.Background(), "cached", nil, nil)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int64(1), b.calls.Load())

	clock.Advance(time.Second)
	fresh, err := p.Request(context.Background(), "cached", nil, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.JSONEq(t, `{"data":{"n":2}}`, string(fresh.Body))
}

func TestRequest_NoTTLAlwaysFetches(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})

	for i := 0; i < 3; i++ {
		_, err := p.Request(context.Background(), "me", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), b.calls.Load())
}

func TestRequest_DirectiveStripped(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})

	_, err := p.Request(context.Background(), "cached", nil, nil)
	require.NoError(t, err)

	sent := b.lastQuery()
	assert.NotContains(t, sent, "pcached")
	assert.Contains(t, sent, "query cached")
	assert.Contains(t, sent, "me")
}

func TestRequest_ForwardsHeadersAndRelaysResponse(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})

	resp, err := p.Request(context.Background(), "save", nil, http.Header{
		"Authorization": {"Bearer t"},
		"Connection":    {"close"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Nil(t, resp.Data)

	b.mu.Lock()
	sent := b.headers[0]
	b.mu.Unlock()
	assert.Equal(t, "Bearer t", sent.Get("Authorization"))
}

func TestRequest_UpstreamFailureNotCached(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})

	b.status.Store(http.StatusInternalServerError)
	_, err := p.Request(context.Background(), "me", nil, nil)
	require.Error(t, err)
	var statusErr *upstream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))

	b.status.Store(0)
	resp, err := p.Request(context.Background(), "me", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"n":2}}`, string(resp.Body))
}

func TestRequest_UpstreamFailureSharedInFlight(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})
	b.status.Store(http.StatusBadGateway)
	release := b.hold()
	defer release()

	errs := make([]error, 3)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = p.Request(context.Background(), "me", nil, nil)
	}()
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, time.Millisecond)
	for i := 1; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Request(context.Background(), "me", nil, nil)
		}(i)
	}
	require.Eventually(t, func() bool { return p.CacheStats().Shared == 2 }, time.Second, time.Millisecond)
	release()
	wg.Wait()

	for _, err := range errs {
		var statusErr *upstream.StatusError
		assert.ErrorAs(t, err, &statusErr)
	}
	assert.Equal(t, int64(1), b.calls.Load())
}

func TestOverride_Precedence(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})

	cached, err := p.Request(context.Background(), "me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CacheStats().Entries)

	var seen http.Header
	require.NoError(t, p.AddOverride("me", func(_ context.Context, vars map[string]any, header http.Header) (any, error) {
		seen = header
		return map[string]any{"me": map[string]any{"id": "local"}}, nil
	}))
	assert.Zero(t, p.CacheStats().Entries)

	def, _ := p.Operation("me")
	assert.Equal(t, HooksOverridden, def.HookState())

	for i := 0; i < 3; i++ {
		resp, err := p.Request(context.Background(), "me", nil, http.Header{"X-Hasura-Role": {"user"}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":{"me":{"id":"local"}}}`, string(resp.Body))
		assert.Equal(t, map[string]any{"me": map[string]any{"id": "local"}}, resp.Data)
		assert.Empty(t, resp.Header)
		assert.Zero(t, resp.StatusCode)
	}
	assert.Equal(t, "user", seen.Get("X-Hasura-Role"))
	assert.Equal(t, int64(1), b.calls.Load())
	assert.Zero(t, p.CacheStats().Entries)

	require.NoError(t, p.RemoveOverride("me"))
	assert.Equal(t, HooksNone, def.HookState())

	fresh, err := p.Request(context.Background(), "me", nil, nil)
	require.NoError(t, err)
	assert.NotSame(t, cached, fresh)
	assert.Equal(t, int64(2), b.calls.Load())
}

func TestOverride_NilData(t *testing.T) {
	p := newProxy(t, "http://localhost:1", testOperations, Options{})
	require.NoError(t, p.AddOverride("save", func(context.Context, map[string]any, http.Header) (any, error) {
		return nil, nil
	}))

	resp, err := p.Request(context.Background(), "save", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":null}`, string(resp.Body))
}

func TestOverride_Error(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{})
	boom := errors.New("handler failed")
	require.NoError(t, p.AddOverride("me", func(context.Context, map[string]any, http.Header) (any, error) {
		return nil, boom
	}))

	_, err := p.Request(context.Background(), "me", nil, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Zero(t, b.calls.Load())
}

func TestValidation_ShortCircuit(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})

	var validated, overridden atomic.Int64
	var gotDef *Definition
	require.NoError(t, p.AddValidation("me", func(_ context.Context, vars map[string]any, def *Definition) error {
		validated.Add(1)
		gotDef = def
		if vars["id"] == "bad" {
			return NewValidationError("id %q is not allowed", vars["id"])
		}
		return nil
	}))
	require.NoError(t, p.AddOverride("me", func(context.Context, map[string]any, http.Header) (any, error) {
		overridden.Add(1)
		return "ok", nil
	}))

	def, _ := p.Operation("me")
	assert.Equal(t, HooksValidatedAndOverridden, def.HookState())

	_, err := p.Request(context.Background(), "me", map[string]any{"id": "bad"}, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "me", ve.Hash)
	assert.Contains(t, ve.Message, `"bad"`)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, int64(1), validated.Load())
	assert.Zero(t, overridden.Load())
	assert.Zero(t, b.calls.Load())
	assert.Same(t, def, gotDef)

	_, err = p.Request(context.Background(), "me", map[string]any{"id": "good"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), validated.Load())
	assert.Equal(t, int64(1), overridden.Load())

	require.NoError(t, p.RemoveOverride("me"))
	_, err = p.Request(context.Background(), "me", map[string]any{"id": "bad"}, nil)
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, b.calls.Load())
	assert.Equal(t, int64(3), validated.Load())
}

func TestValidation_PlainErrorBecomesValidationError(t *testing.T) {
	p := newProxy(t, "http://localhost:1", testOperations, Options{})
	require.NoError(t, p.AddValidation("save", func(context.Context, map[string]any, *Definition) error {
		return errors.New("name is required")
	}))

	_, err := p.Request(context.Background(), "save", nil, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name is required", ve.Message)
	assert.Equal(t, "validation failed for save: name is required", err.Error())
}

func TestValidation_RunsOnCacheHits(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})

	_, err := p.Request(context.Background(), "me", nil, nil)
	require.NoError(t, err)

	var validated atomic.Int64
	require.NoError(t, p.AddValidation("me", func(context.Context, map[string]any, *Definition) error {
		validated.Add(1)
		return nil
	}))

	for i := 0; i < 3; i++ {
		_, err := p.Request(context.Background(), "me", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), validated.Load())
	// the validator change purged, then one refetch served the rest
	assert.Equal(t, int64(2), b.calls.Load())

	require.NoError(t, p.RemoveValidation("me"))
	def, _ := p.Operation("me")
	assert.Equal(t, HooksNone, def.HookState())
}

func TestHooks_PurgeOnlyTargetHash(t *testing.T) {
	b := newBackend(t)
	ops := map[string]string{
		"a": `query a { me { id } }`,
		"b": `query b { me { name } }`,
	}
	p := newProxy(t, b.srv.URL, ops, Options{CacheTTL: time.Minute})

	a1, err := p.Request(context.Background(), "a", nil, nil)
	require.NoError(t, err)
	b1, err := p.Request(context.Background(), "b", nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.AddValidation("a", func(context.Context, map[string]any, *Definition) error { return nil }))

	a2, err := p.Request(context.Background(), "a", nil, nil)
	require.NoError(t, err)
	b2, err := p.Request(context.Background(), "b", nil, nil)
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
	assert.Same(t, b1, b2)
	assert.Equal(t, int64(3), b.calls.Load())
}

func TestHooks_DocumentReference(t *testing.T) {
	p := newProxy(t, "http://localhost:1", testOperations, Options{})

	// formatting differences and the cache directive do not matter
	require.NoError(t, p.AddOverride(`query   cached
		{ me { id } }`, func(context.Context, map[string]any, http.Header) (any, error) {
		return 1, nil
	}))
	def, _ := p.Operation("cached")
	assert.Equal(t, HooksOverridden, def.HookState())

	require.NoError(t, p.AddValidation(`query me @pcached(ttl: 1) { me { id } }`, func(context.Context, map[string]any, *Definition) error {
		return nil
	}))
	me, _ := p.Operation("me")
	assert.Equal(t, HooksValidated, me.HookState())

	err := p.AddOverride(`query other { nothing }`, func(context.Context, map[string]any, http.Header) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrNotFound)

	err = p.AddValidation("no-such-hash", func(context.Context, map[string]any, *Definition) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHooks_NilRemoves(t *testing.T) {
	p := newProxy(t, "http://localhost:1", testOperations, Options{})
	require.NoError(t, p.AddOverride("me", func(context.Context, map[string]any, http.Header) (any, error) { return nil, nil }))
	require.NoError(t, p.AddOverride("me", nil))

	def, _ := p.Operation("me")
	assert.Equal(t, HooksNone, def.HookState())
}

func TestHooks_ConcurrentChangesAndRequests(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})

	override := func(context.Context, map[string]any, http.Header) (any, error) { return "local", nil }

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := p.Request(context.Background(), "me", nil, nil)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, p.AddOverride("me", override))
				assert.NoError(t, p.RemoveOverride("me"))
			}
		}()
	}
	wg.Wait()

	def, _ := p.Operation("me")
	assert.Equal(t, HooksNone, def.HookState())
}

func TestRawRequest(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, testOperations, Options{CacheTTL: time.Minute})
	require.NoError(t, p.AddValidation("me", func(context.Context, map[string]any, *Definition) error {
		return errors.New("never called")
	}))

	for i := 0; i < 2; i++ {
		resp, err := p.RawRequest(context.Background(), `query me { me { id } }`, nil, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Body)
	}
	assert.Equal(t, int64(2), b.calls.Load())
	assert.Equal(t, `query me { me { id } }`, b.lastQuery())
}

func TestValidate(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, map[string]string{
		"hash1": `query test { me }`,
	}, Options{})

	errs, err := p.Validate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, `"me"`)
	assert.Equal(t, "hash1", errs[0].Extensions["hash"])
	assert.Equal(t, int64(1), b.introspection.Load())
	assert.Zero(t, b.calls.Load())
}

func TestValidate_ValidOperations(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, map[string]string{
		"a": `query a { test }`,
		"b": `query b @pcached(ttl: 60) { test }`,
	}, Options{})

	errs, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestValidate_EmptyRegistryMakesNoRequest(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, map[string]string{}, Options{})

	errs, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, errs)
	assert.Empty(t, errs)
	assert.Zero(t, b.introspection.Load())
}

func TestValidate_SkipsOverridden(t *testing.T) {
	b := newBackend(t)
	p := newProxy(t, b.srv.URL, map[string]string{
		"hash1": `query test { me }`,
		"hash2": `query other { missing }`,
	}, Options{})

	override := func(context.Context, map[string]any, http.Header) (any, error) { return nil, nil }
	require.NoError(t, p.AddOverride("hash1", override))

	errs, err := p.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "hash2", errs[0].Extensions["hash"])

	require.NoError(t, p.AddOverride("hash2", override))
	introspections := b.introspection.Load()
	errs, err = p.Validate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, introspections, b.introspection.Load())
}

func TestValidate_IntrospectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newProxy(t, srv.URL, map[string]string{"h": `{ test }`}, Options{})
	_, err := p.Validate(context.Background())
	var statusErr *upstream.StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestValidate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var (
		release = make(chan struct{})
		once    sync.Once
		calls   atomic.Int64
	)
	unblock := func() { once.Do(func() { close(release) }) }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(testIntrospection))
	}))
	defer srv.Close()
	defer unblock()

	p := newProxy(t, srv.URL, map[string]string{"h": `{ test }`}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Validate(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		errs, err := p.Validate(context.Background())
		if err == nil && len(errs) != 0 {
			err = fmt.Errorf("unexpected validation errors: %v", errs)
		}
		second <- err
	}()
	// let the second caller join the running flight
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	unblock()
	require.NoError(t, <-second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestValidate_SendsIntrospectionHeader(t *testing.T) {
	var secret atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret.Store(r.Header.Get("X-Hasura-Admin-Secret"))
		_, _ = w.Write([]byte(testIntrospection))
	}))
	defer srv.Close()

	p := newProxy(t, srv.URL, map[string]string{"h": `{ test }`}, Options{
		IntrospectionHeader: http.Header{"X-Hasura-Admin-Secret": {"s3cret"}},
	})
	_, err := p.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret.Load())
}

func TestClose(t *testing.T) {
	b := newBackend(t)
	p, err := New(b.srv.URL, testOperations, Options{CacheTTL: time.Minute})
	require.NoError(t, err)

	_, err = p.Request(context.Background(), "me", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CacheStats().Entries)

	require.NoError(t, p.Close(context.Background()))
	assert.Zero(t, p.CacheStats().Entries)
	require.NoError(t, p.Close(context.Background()))

	_, err = p.Request(context.Background(), "me", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))

	_, err = p.RawRequest(context.Background(), "{ me }", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = p.Validate(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int64(1), b.calls.Load())
}

func TestClose_WithoutSweeper(t *testing.T) {
	p, err := New("http://localhost:1", map[string]string{"m": `mutation { x }`}, Options{})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		_ = p.Close(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", fmt.Errorf("%w: x", ErrNotFound), http.StatusNotFound},
		{"validation", &ValidationError{Message: "bad"}, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("call: %w", NewValidationError("bad")), http.StatusBadRequest},
		{"upstream status", &upstream.StatusError{StatusCode: 500}, http.StatusBadGateway},
		{"closed", ErrClosed, http.StatusServiceUnavailable},
		{"transport closed", upstream.ErrClosed, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestHookState_String(t *testing.T) {
	assert.Equal(t, "none", HooksNone.String())
	assert.Equal(t, "validated", HooksValidated.String())
	assert.Equal(t, "overridden", HooksOverridden.String())
	assert.Equal(t, "validated+overridden", HooksValidatedAndOverridden.String())

	b, err := json.Marshal(DefinitionInfo{Hooks: HooksValidated})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"hooks":"validated"`)
}
