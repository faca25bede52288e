package cache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKey_Stable(t *testing.T) {
	a := KeyInput{
		Hash:      "h",
		Variables: map[string]any{"a": 1, "b": []any{"x", "y"}, "c": map[string]any{"z": true, "y": nil}},
		Header:    http.Header{"Authorization": {"Bearer t"}, "X-Hasura-Role": {"user"}},
	}
	b := KeyInput{
		Hash:      "h",
		Variables: map[string]any{"c": map[string]any{"y": nil, "z": true}, "b": []any{"x", "y"}, "a": 1},
		Header:    http.Header{"x-hasura-role": {"user"}, "authorization": {"Bearer t"}},
	}

	assert.Equal(t, DefaultKey(a), DefaultKey(b))
}

func TestDefaultKey_IgnoresOtherHeaders(t *testing.T) {
	base := KeyInput{Hash: "h", Header: http.Header{"Authorization": {"t"}}}
	noisy := KeyInput{Hash: "h", Header: http.Header{
		"Authorization":   {"t"},
		"User-Agent":      {"curl"},
		"X-Request-Id":    {"abc"},
		"Cookie":          {"s=1"},
	}}

	assert.Equal(t, DefaultKey(base), DefaultKey(noisy))
}

func TestDefaultKey_NilAndEmptyVariables(t *testing.T) {
	assert.Equal(t,
		DefaultKey(KeyInput{Hash: "h"}),
		DefaultKey(KeyInput{Hash: "h", Variables: map[string]any{}}),
	)
}

func TestDefaultKey_Distinct(t *testing.T) {
	base := KeyInput{
		Hash:      "h",
		Variables: map[string]any{"id": "1"},
		Header:    http.Header{"Authorization": {"Bearer a"}, "X-Hasura-User-Id": {"1"}},
	}

	tests := []struct {
		name string
		in   KeyInput
	}{
		{"hash", KeyInput{Hash: "other", Variables: base.Variables, Header: base.Header}},
		{"variable value", KeyInput{Hash: "h", Variables: map[string]any{"id": "2"}, Header: base.Header}},
		{"variable type", KeyInput{Hash: "h", Variables: map[string]any{"id": 1}, Header: base.Header}},
		{"extra variable", KeyInput{Hash: "h", Variables: map[string]any{"id": "1", "x": nil}, Header: base.Header}},
		{"authorization", KeyInput{Hash: "h", Variables: base.Variables, Header: http.Header{
			"Authorization": {"Bearer b"}, "X-Hasura-User-Id": {"1"},
		}}},
		{"missing authorization", KeyInput{Hash: "h", Variables: base.Variables, Header: http.Header{
			"X-Hasura-User-Id": {"1"},
		}}},
		{"hasura header value", KeyInput{Hash: "h", Variables: base.Variables, Header: http.Header{
			"Authorization": {"Bearer a"}, "X-Hasura-User-Id": {"2"},
		}}},
		{"accept encoding", KeyInput{Hash: "h", Variables: base.Variables, Header: http.Header{
			"Authorization": {"Bearer a"}, "X-Hasura-User-Id": {"1"}, "Accept-Encoding": {"gzip"},
		}}},
		{"extra hasura header", KeyInput{Hash: "h", Variables: base.Variables, Header: http.Header{
			"Authorization": {"Bearer a"}, "X-Hasura-User-Id": {"1"}, "X-Hasura-Role": {"admin"},
		}}},
	}

	key := DefaultKey(base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, key, DefaultKey(tt.in))
		})
	}
}

func TestKeyInput_Components(t *testing.T) {
	in := KeyInput{
		Hash: "h",
		Header: http.Header{
			"AUTHORIZATION":  {"Bearer t"},
			"X-Hasura-Role":  {"user"},
			"x-hasura-role":  {"admin"},
			"X-Hasura-Multi": {"a", "b"},
			"Cookie":         {"s=1"},
		},
	}

	c := in.Components()
	assert.Equal(t, "h", c["hash"])
	assert.Equal(t, "Bearer t", c["authorization"])
	assert.Equal(t, "", c["accept-encoding"])
	assert.Equal(t, map[string]any{}, c["variables"])

	headers, ok := c["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"x-hasura-role":  "admin,user",
		"x-hasura-multi": "a,b",
	}, headers)
}

func TestDefaultKey_HeaderSpellingsMerge(t *testing.T) {
	in := KeyInput{Hash: "h", Header: http.Header{
		"authorization":   {"a"},
		"Authorization":   {"b"},
		"accept-encoding": {"br"},
		"Accept-Encoding": {"gzip"},
	}}

	// map iteration order varies between calls
	keys := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		keys[DefaultKey(in)] = struct{}{}
	}
	assert.Len(t, keys, 1)

	c := in.Components()
	assert.Equal(t, "a,b", c["authorization"])
	assert.Equal(t, "br,gzip", c["accept-encoding"])
}
