// Package flags provides reusable flag types for CLI commands.
package flags

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Header implements pflag.Value for repeatable "Name: value" flags.
type Header struct {
	h http.Header
}

// String returns the headers as a comma-separated list of Name: value pairs.
func (f *Header) String() string {
	if f == nil || len(f.h) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(f.h))
	for name, values := range f.h {
		for _, v := range values {
			pairs = append(pairs, name+": "+v)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

// Set parses "Name: value" or "Name=value" and adds it.
func (f *Header) Set(value string) error {
	name, v, ok := KeyValue(value, ':', '=')
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid header %q, want Name: value", value)
	}
	if f.h == nil {
		f.h = http.Header{}
	}
	f.h.Add(name, strings.TrimSpace(v))
	return nil
}

// Type specifies the type label for Cobra flags.
func (f *Header) Type() string {
	return "header"
}

// Header returns the parsed headers, nil if none were set.
func (f *Header) Header() http.Header {
	return f.h
}

// KeyValue splits s at the first of delimiters.
func KeyValue(s string, delimiters ...rune) (key, value string, ok bool) {
	i := strings.IndexFunc(s, func(r rune) bool {
		for _, d := range delimiters {
			if r == d {
				return true
			}
		}
		return false
	})
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
