package proxy

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/getmockd/gqlproxy/pkg/graphql"
	"github.com/vektah/gqlparser/v2/ast"
)

// Definition is one registered operation. Everything but its hooks is fixed
// at construction.
type Definition struct {
	// Hash is the registry key.
	Hash string
	// Type is the operation type; only queries are cached.
	Type graphql.OperationType
	// Name is the operation name, if any.
	Name string
	// Document is the parsed original text.
	Document *ast.QueryDocument
	// UpstreamDocument is Document minus the cache directive.
	UpstreamDocument *ast.QueryDocument
	// Query is the printed UpstreamDocument, sent to the backend.
	Query string
	// DefaultTTL is the cache lifetime: the directive's ttl when present,
	// otherwise the proxy-wide default.
	DefaultTTL time.Duration
	// DirectiveTTL reports whether DefaultTTL came from the directive.
	DirectiveTTL bool

	hooks atomic.Pointer[hooks]
}

// Cacheable reports whether calls go through the cache.
func (d *Definition) Cacheable() bool {
	return d.Type == graphql.OperationQuery
}

// HookState returns the hooks currently installed.
func (d *Definition) HookState() HookState {
	return d.hooks.Load().state()
}

// DefinitionInfo is the JSON view of a Definition.
type DefinitionInfo struct {
	Hash         string    `json:"hash"`
	Type         string    `json:"type"`
	Name         string    `json:"name,omitempty"`
	Query        string    `json:"query"`
	TTLSeconds   float64   `json:"ttlSeconds"`
	DirectiveTTL bool      `json:"directiveTtl"`
	Hooks        HookState `json:"hooks"`
}

// Info returns a snapshot for diagnostics.
func (d *Definition) Info() DefinitionInfo {
	return DefinitionInfo{
		Hash:         d.Hash,
		Type:         string(d.Type),
		Name:         d.Name,
		Query:        d.Query,
		TTLSeconds:   d.DefaultTTL.Seconds(),
		DirectiveTTL: d.DirectiveTTL,
		Hooks:        d.HookState(),
	}
}

// registry maps hashes to definitions. The maps are never written after
// newRegistry returns.
type registry struct {
	byHash map[string]*Definition
	// printed document text -> hashes registered with that document
	byText map[string][]string
	hashes []string
}

func newRegistry(operations map[string]string, defaultTTL time.Duration, directive string) (*registry, error) {
	r := &registry{
		byHash: make(map[string]*Definition, len(operations)),
		byText: make(map[string][]string, len(operations)),
		hashes: make([]string, 0, len(operations)),
	}
	for hash := range operations {
		r.hashes = append(r.hashes, hash)
	}
	sort.Strings(r.hashes)

	var errs []error
	for _, hash := range r.hashes {
		parsed, err := graphql.ParseOperation(hash, operations[hash], directive)
		if err != nil {
			errs = append(errs, fmt.Errorf("operation %s: %w", hash, err))
			continue
		}

		def := &Definition{
			Hash:             hash,
			Type:             parsed.Type,
			Name:             parsed.Name,
			Document:         parsed.Document,
			UpstreamDocument: parsed.UpstreamDocument,
			Query:            parsed.Query,
			DefaultTTL:       defaultTTL,
		}
		if parsed.HasCacheTTL {
			def.DefaultTTL = parsed.CacheTTL
			def.DirectiveTTL = true
		}
		def.hooks.Store(noHooks)
		r.byHash[hash] = def

		original := graphql.PrintDocument(parsed.Document)
		r.byText[original] = append(r.byText[original], hash)
		if parsed.Query != original {
			r.byText[parsed.Query] = append(r.byText[parsed.Query], hash)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func (r *registry) get(hash string) (*Definition, bool) {
	def, ok := r.byHash[hash]
	return def, ok
}

// resolve finds the definitions ref names. ref is either a registered hash
// or a document; documents match on their printed form, so formatting and
// the cache directive do not matter.
func (r *registry) resolve(ref string, directive string) ([]*Definition, error) {
	if def, ok := r.byHash[ref]; ok {
		return []*Definition{def}, nil
	}

	parsed, err := graphql.ParseOperation("ref", ref, directive)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is neither a registered hash nor a valid document", ErrNotFound, ref)
	}

	hashes := r.byText[graphql.PrintDocument(parsed.Document)]
	if len(hashes) == 0 {
		hashes = r.byText[parsed.Query]
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("%w: no operation registered for document", ErrNotFound)
	}

	defs := make([]*Definition, len(hashes))
	for i, hash := range hashes {
		defs[i] = r.byHash[hash]
	}
	return defs, nil
}

func (r *registry) all() []*Definition {
	out := make([]*Definition, len(r.hashes))
	for i, hash := range r.hashes {
		out[i] = r.byHash[hash]
	}
	return out
}

func (r *registry) size() int {
	return len(r.hashes)
}
