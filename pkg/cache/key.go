package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HasuraHeaderPrefix selects the session headers that take part in cache keys.
const HasuraHeaderPrefix = "x-hasura-"

// KeyInput holds everything a cache key may depend on.
type KeyInput struct {
	Hash      string
	Variables map[string]any
	Header    http.Header
}

// KeyFunc serializes a KeyInput. Equal inputs must produce equal keys and
// inputs differing in any component must not.
type KeyFunc func(KeyInput) string

// Components returns the canonical key components: the hash, the
// variables, the authorization and accept-encoding headers and every
// x-hasura-* header. Header names are matched case-insensitively and
// lowercased.
func (in KeyInput) Components() map[string]any {
	var (
		authorization []string
		encoding      []string
		session       = map[string][]string{}
	)
	for name, values := range in.Header {
		lower := strings.ToLower(name)
		joined := strings.Join(values, ",")
		switch {
		case lower == "authorization":
			authorization = append(authorization, joined)
		case lower == "accept-encoding":
			encoding = append(encoding, joined)
		case strings.HasPrefix(lower, HasuraHeaderPrefix):
			session[lower] = append(session[lower], joined)
		}
	}

	headers := make(map[string]string, len(session))
	for name, spellings := range session {
		headers[name] = mergeSpellings(spellings)
	}

	variables := in.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	return map[string]any{
		"hash":            in.Hash,
		"variables":       variables,
		"authorization":   mergeSpellings(authorization),
		"accept-encoding": mergeSpellings(encoding),
		"headers":         headers,
	}
}

// mergeSpellings joins the values sent under differently cased spellings of
// one header. They are collected in map order, so they are sorted first.
func mergeSpellings(spellings []string) string {
	if len(spellings) > 1 {
		sort.Strings(spellings)
	}
	return strings.Join(spellings, ",")
}

// DefaultKey serializes the components as JSON. encoding/json writes map
// keys in sorted order, so the result does not depend on map iteration or
// on the order the client sent variables in.
func DefaultKey(in KeyInput) string {
	b, err := json.Marshal(in.Components())
	if err != nil {
		// unmarshalable variables still need a stable, distinct key
		return fmt.Sprintf("%s:%#v", in.Hash, in.Components())
	}
	return string(b)
}
