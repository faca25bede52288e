package graphql

import (
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// Schema is a loaded GraphQL schema that persisted documents are checked
// against.
type Schema struct {
	ast *ast.Schema
}

// ParseSchema parses a GraphQL SDL string and returns a Schema.
func ParseSchema(sdl string) (*Schema, error) {
	source := &ast.Source{
		Name:  "schema",
		Input: sdl,
	}

	schema, err := gqlparser.LoadSchema(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema: %w", err)
	}

	return &Schema{ast: schema}, nil
}

// ValidateDocument runs the standard GraphQL validation rules for doc
// against the schema. Validation annotates doc with schema definitions, so
// callers sharing a document across goroutines should validate a copy.
func (s *Schema) ValidateDocument(doc *ast.QueryDocument) gqlerror.List {
	return validator.ValidateWithRules(s.ast, doc, nil)
}

// ValidateQuery parses text and validates it against the schema.
func (s *Schema) ValidateQuery(name, text string) gqlerror.List {
	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: text})
	if err != nil {
		return gqlerror.List{gqlerror.WrapIfUnwrapped(err)}
	}
	return s.ValidateDocument(doc)
}
