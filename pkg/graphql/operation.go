package graphql

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// DefaultCacheDirective is the name of the proxy-local directive that carries
// a per-operation cache TTL, e.g. `query me @pcached(ttl: 30) { me { id } }`.
const DefaultCacheDirective = "pcached"

// maxTTLSeconds is the largest ttl that fits in a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// Operation parse errors.
var (
	ErrNoOperation           = errors.New("document contains no operation definition")
	ErrMultipleOperations    = errors.New("document contains more than one operation definition")
	ErrInvalidCacheDirective = errors.New("invalid cache directive")
)

// OperationType is the GraphQL operation kind of a persisted document.
type OperationType = ast.Operation

// Operation types.
const (
	OperationQuery        = ast.Query
	OperationMutation     = ast.Mutation
	OperationSubscription = ast.Subscription
)

// ParsedOperation is the immutable parse result of one persisted document.
type ParsedOperation struct {
	// Hash is the stable identifier the document was registered under.
	Hash string
	// Type is the kind of the sole operation in the document.
	Type OperationType
	// Name is the operation name, empty for anonymous operations.
	Name string
	// Document is the AST of the original text, cache directive included.
	Document *ast.QueryDocument
	// UpstreamDocument is the AST actually sent to the backend.
	UpstreamDocument *ast.QueryDocument
	// Query is the printed form of UpstreamDocument.
	Query string
	// CacheTTL is the ttl taken from the cache directive.
	CacheTTL time.Duration
	// HasCacheTTL reports whether the document carried the cache directive.
	HasCacheTTL bool
}

// ParseOperation parses a persisted document. For query operations the cache
// directive named by directive is located, its ttl captured and the directive
// removed from the document forwarded upstream.
func ParseOperation(hash, text, directive string) (*ParsedOperation, error) {
	doc, err := parseDocument(hash, text)
	if err != nil {
		return nil, err
	}

	switch len(doc.Operations) {
	case 0:
		return nil, ErrNoOperation
	case 1:
	default:
		return nil, ErrMultipleOperations
	}

	op := doc.Operations[0]
	parsed := &ParsedOperation{
		Hash:             hash,
		Type:             op.Operation,
		Name:             op.Name,
		Document:         doc,
		UpstreamDocument: doc,
	}

	if op.Operation == ast.Query && directive != "" {
		ttl, found, err := FindDirectiveTTL(doc, directive)
		if err != nil {
			return nil, err
		}
		if found {
			stripped, err := StripDirective(hash, text, directive)
			if err != nil {
				return nil, err
			}
			parsed.UpstreamDocument = stripped
			parsed.CacheTTL = ttl
			parsed.HasCacheTTL = true
		}
	}

	parsed.Query = PrintDocument(parsed.UpstreamDocument)
	return parsed, nil
}

// FindDirectiveTTL walks the whole document and returns the ttl argument of
// the first directive called name. The document is not modified.
func FindDirectiveTTL(doc *ast.QueryDocument, name string) (time.Duration, bool, error) {
	var found *ast.Directive
	visitDirectives(doc, func(d *ast.Directive) bool {
		if d.Name == name {
			found = d
			return false
		}
		return true
	})
	if found == nil {
		return 0, false, nil
	}

	arg := found.Arguments.ForName("ttl")
	if arg == nil || arg.Value == nil {
		return 0, true, fmt.Errorf("%w: @%s requires a ttl argument", ErrInvalidCacheDirective, name)
	}
	if arg.Value.Kind != ast.IntValue {
		return 0, true, fmt.Errorf("%w: @%s ttl must be an integer, got %s", ErrInvalidCacheDirective, name, arg.Value.String())
	}
	seconds, err := strconv.ParseInt(arg.Value.Raw, 10, 64)
	if err != nil || seconds < 0 {
		return 0, true, fmt.Errorf("%w: @%s ttl must be a non-negative integer, got %s", ErrInvalidCacheDirective, name, arg.Value.Raw)
	}
	if seconds > maxTTLSeconds {
		return 0, true, fmt.Errorf("%w: @%s ttl must be at most %d seconds, got %s", ErrInvalidCacheDirective, name, maxTTLSeconds, arg.Value.Raw)
	}
	return time.Duration(seconds) * time.Second, true, nil
}

// StripDirective parses text into a fresh document and removes every
// directive called name from it.
func StripDirective(hash, text, name string) (*ast.QueryDocument, error) {
	doc, err := parseDocument(hash, text)
	if err != nil {
		return nil, err
	}

	for _, op := range doc.Operations {
		op.Directives = withoutDirective(op.Directives, name)
		stripSelectionSet(op.SelectionSet, name)
	}
	for _, frag := range doc.Fragments {
		frag.Directives = withoutDirective(frag.Directives, name)
		stripSelectionSet(frag.SelectionSet, name)
	}
	return doc, nil
}

// PrintDocument renders a document in canonical form.
func PrintDocument(doc *ast.QueryDocument) string {
	var sb strings.Builder
	formatter.NewFormatter(&sb).FormatQueryDocument(doc)
	return strings.TrimSpace(sb.String())
}

func parseDocument(name, text string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL document: %w", err)
	}
	return doc, nil
}

func stripSelectionSet(set ast.SelectionSet, name string) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			s.Directives = withoutDirective(s.Directives, name)
			stripSelectionSet(s.SelectionSet, name)
		case *ast.InlineFragment:
			s.Directives = withoutDirective(s.Directives, name)
			stripSelectionSet(s.SelectionSet, name)
		case *ast.FragmentSpread:
			s.Directives = withoutDirective(s.Directives, name)
		}
	}
}

func withoutDirective(list ast.DirectiveList, name string) ast.DirectiveList {
	if list.ForName(name) == nil {
		return list
	}
	out := make(ast.DirectiveList, 0, len(list))
	for _, d := range list {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}

// visitDirectives calls fn for each directive in document order until fn
// returns false.
func visitDirectives(doc *ast.QueryDocument, fn func(*ast.Directive) bool) {
	var walkList func(ast.DirectiveList) bool
	walkList = func(list ast.DirectiveList) bool {
		for _, d := range list {
			if !fn(d) {
				return false
			}
		}
		return true
	}

	var walkSet func(ast.SelectionSet) bool
	walkSet = func(set ast.SelectionSet) bool {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if !walkList(s.Directives) || !walkSet(s.SelectionSet) {
					return false
				}
			case *ast.InlineFragment:
				if !walkList(s.Directives) || !walkSet(s.SelectionSet) {
					return false
				}
			case *ast.FragmentSpread:
				if !walkList(s.Directives) {
					return false
				}
			}
		}
		return true
	}

	for _, op := range doc.Operations {
		if !walkList(op.Directives) || !walkSet(op.SelectionSet) {
			return
		}
	}
	for _, frag := range doc.Fragments {
		if !walkList(frag.Directives) || !walkSet(frag.SelectionSet) {
			return
		}
	}
}
