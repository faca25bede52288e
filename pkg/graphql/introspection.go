package graphql

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// IntrospectionQuery is the standard introspection query used to fetch a
// backend schema.
const IntrospectionQuery = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    subscriptionType { name }
    types { ...FullType }
    directives {
      name
      isRepeatable
      locations
      args { ...InputValue }
    }
  }
}

fragment FullType on __Type {
  kind
  name
  fields(includeDeprecated: true) {
    name
    args { ...InputValue }
    type { ...TypeRef }
  }
  inputFields { ...InputValue }
  interfaces { ...TypeRef }
  enumValues(includeDeprecated: true) { name }
  possibleTypes { ...TypeRef }
}

fragment InputValue on __InputValue {
  name
  type { ...TypeRef }
  defaultValue
}

fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
            ofType {
              kind
              name
              ofType { kind name }
            }
          }
        }
      }
    }
  }
}`

// ErrIntrospection is returned when an introspection payload cannot be used
// to build a schema.
var ErrIntrospection = errors.New("invalid introspection result")

// IntrospectionResult is the top-level response to IntrospectionQuery.
type IntrospectionResult struct {
	Data   *IntrospectionData `json:"data"`
	Errors []GraphQLError     `json:"errors,omitempty"`
}

// IntrospectionData holds the __schema field.
type IntrospectionData struct {
	Schema *IntrospectionSchema `json:"__schema"`
}

// IntrospectionSchema describes a schema as reported by introspection.
type IntrospectionSchema struct {
	QueryType        *TypeRef    `json:"queryType"`
	MutationType     *TypeRef    `json:"mutationType"`
	SubscriptionType *TypeRef    `json:"subscriptionType"`
	Types            []FullType  `json:"types"`
	Directives       []Directive `json:"directives"`
}

// FullType is a complete named type.
type FullType struct {
	Kind          string       `json:"kind"`
	Name          string       `json:"name"`
	Fields        []Field      `json:"fields"`
	InputFields   []InputValue `json:"inputFields"`
	Interfaces    []TypeRef    `json:"interfaces"`
	EnumValues    []EnumValue  `json:"enumValues"`
	PossibleTypes []TypeRef    `json:"possibleTypes"`
}

// Field is an output field of an object or interface type.
type Field struct {
	Name string       `json:"name"`
	Args []InputValue `json:"args"`
	Type TypeRef      `json:"type"`
}

// InputValue is an argument or input object field.
type InputValue struct {
	Name         string  `json:"name"`
	Type         TypeRef `json:"type"`
	DefaultValue *string `json:"defaultValue"`
}

// TypeRef references a type, wrapping it in LIST or NON_NULL via OfType.
type TypeRef struct {
	Kind   string   `json:"kind"`
	Name   string   `json:"name"`
	OfType *TypeRef `json:"ofType"`
}

// EnumValue is a single enum member.
type EnumValue struct {
	Name string `json:"name"`
}

// Directive is a directive definition.
type Directive struct {
	Name         string       `json:"name"`
	IsRepeatable bool         `json:"isRepeatable"`
	Locations    []string     `json:"locations"`
	Args         []InputValue `json:"args"`
}

// SchemaFromIntrospection builds a Schema from an introspection response
// body. Both {"data":{"__schema":...}} and a bare {"__schema":...} are accepted.
func SchemaFromIntrospection(body []byte) (*Schema, error) {
	var result IntrospectionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospection, err)
	}

	if result.Data == nil || result.Data.Schema == nil {
		var bare IntrospectionData
		if err := json.Unmarshal(body, &bare); err == nil && bare.Schema != nil {
			result.Data = &bare
		}
	}
	if result.Data == nil || result.Data.Schema == nil {
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrIntrospection, result.Errors[0].Message)
		}
		return nil, fmt.Errorf("%w: missing __schema", ErrIntrospection)
	}

	sdl, err := result.Data.Schema.SDL()
	if err != nil {
		return nil, err
	}
	return ParseSchema(sdl)
}

// SDL renders the introspected schema as SDL, omitting introspection types
// and the built-in definitions gqlparser already provides.
func (s *IntrospectionSchema) SDL() (string, error) {
	if s.QueryType == nil || s.QueryType.Name == "" {
		return "", fmt.Errorf("%w: schema has no query type", ErrIntrospection)
	}

	builtinTypes, builtinDirectives := preludeNames()

	var sb strings.Builder

	if !isDefaultRoots(s) {
		sb.WriteString("schema {\n")
		fmt.Fprintf(&sb, "  query: %s\n", s.QueryType.Name)
		if s.MutationType != nil && s.MutationType.Name != "" {
			fmt.Fprintf(&sb, "  mutation: %s\n", s.MutationType.Name)
		}
		if s.SubscriptionType != nil && s.SubscriptionType.Name != "" {
			fmt.Fprintf(&sb, "  subscription: %s\n", s.SubscriptionType.Name)
		}
		sb.WriteString("}\n\n")
	}

	types := append([]FullType(nil), s.Types...)
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })

	for _, t := range types {
		if t.Name == "" || strings.HasPrefix(t.Name, "__") || builtinTypes[t.Name] {
			continue
		}
		if err := writeType(&sb, t); err != nil {
			return "", err
		}
		sb.WriteString("\n")
	}

	for _, d := range s.Directives {
		if builtinDirectives[d.Name] || len(d.Locations) == 0 {
			continue
		}
		args, err := formatArgs(d.Args)
		if err != nil {
			return "", err
		}
		repeatable := ""
		if d.IsRepeatable {
			repeatable = " repeatable"
		}
		fmt.Fprintf(&sb, "directive @%s%s%s on %s\n\n", d.Name, args, repeatable, strings.Join(d.Locations, " | "))
	}

	return sb.String(), nil
}

func isDefaultRoots(s *IntrospectionSchema) bool {
	if s.QueryType.Name != "Query" {
		return false
	}
	if s.MutationType != nil && s.MutationType.Name != "" && s.MutationType.Name != "Mutation" {
		return false
	}
	if s.SubscriptionType != nil && s.SubscriptionType.Name != "" && s.SubscriptionType.Name != "Subscription" {
		return false
	}
	return true
}

func writeType(sb *strings.Builder, t FullType) error {
	switch t.Kind {
	case "SCALAR":
		fmt.Fprintf(sb, "scalar %s\n", t.Name)
	case "OBJECT", "INTERFACE":
		keyword := "type"
		if t.Kind == "INTERFACE" {
			keyword = "interface"
		}
		fmt.Fprintf(sb, "%s %s", keyword, t.Name)
		if len(t.Interfaces) > 0 {
			names := make([]string, 0, len(t.Interfaces))
			for _, iface := range t.Interfaces {
				names = append(names, iface.Name)
			}
			fmt.Fprintf(sb, " implements %s", strings.Join(names, " & "))
		}
		if len(t.Fields) == 0 {
			return fmt.Errorf("%w: type %s has no fields", ErrIntrospection, t.Name)
		}
		sb.WriteString(" {\n")
		for _, f := range t.Fields {
			ref, err := typeRefString(&f.Type)
			if err != nil {
				return err
			}
			args, err := formatArgs(f.Args)
			if err != nil {
				return err
			}
			fmt.Fprintf(sb, "  %s%s: %s\n", f.Name, args, ref)
		}
		sb.WriteString("}\n")
	case "UNION":
		names := make([]string, 0, len(t.PossibleTypes))
		for _, pt := range t.PossibleTypes {
			names = append(names, pt.Name)
		}
		fmt.Fprintf(sb, "union %s = %s\n", t.Name, strings.Join(names, " | "))
	case "ENUM":
		fmt.Fprintf(sb, "enum %s {\n", t.Name)
		for _, v := range t.EnumValues {
			fmt.Fprintf(sb, "  %s\n", v.Name)
		}
		sb.WriteString("}\n")
	case "INPUT_OBJECT":
		fmt.Fprintf(sb, "input %s {\n", t.Name)
		for _, f := range t.InputFields {
			v, err := inputValueString(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(sb, "  %s\n", v)
		}
		sb.WriteString("}\n")
	default:
		return fmt.Errorf("%w: unknown kind %q for type %s", ErrIntrospection, t.Kind, t.Name)
	}
	return nil
}

func formatArgs(args []InputValue) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		v, err := inputValueString(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, v)
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func inputValueString(v InputValue) (string, error) {
	ref, err := typeRefString(&v.Type)
	if err != nil {
		return "", err
	}
	s := v.Name + ": " + ref
	if v.DefaultValue != nil {
		s += " = " + *v.DefaultValue
	}
	return s, nil
}

func typeRefString(t *TypeRef) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: missing type reference", ErrIntrospection)
	}
	switch t.Kind {
	case "NON_NULL":
		inner, err := typeRefString(t.OfType)
		if err != nil {
			return "", err
		}
		return inner + "!", nil
	case "LIST":
		inner, err := typeRefString(t.OfType)
		if err != nil {
			return "", err
		}
		return "[" + inner + "]", nil
	default:
		if t.Name == "" {
			return "", fmt.Errorf("%w: unnamed %s type reference", ErrIntrospection, t.Kind)
		}
		return t.Name, nil
	}
}

// preludeNames returns the type and directive names gqlparser declares in its
// prelude; redeclaring them would fail schema loading.
func preludeNames() (map[string]bool, map[string]bool) {
	types := map[string]bool{}
	directives := map[string]bool{}

	doc, err := parser.ParseSchema(validator.Prelude)
	if err != nil {
		return types, directives
	}
	for _, def := range doc.Definitions {
		types[def.Name] = true
	}
	for _, dir := range doc.Directives {
		directives[dir.Name] = true
	}
	return types, directives
}
