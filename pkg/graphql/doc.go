// Package graphql provides the GraphQL document handling used by the
// operation proxy.
//
// It parses persisted operation documents with gqlparser, determines their
// operation type, extracts and strips the proxy-local cache directive, and
// prints the canonical text that is forwarded to the backend:
//
//	op, err := graphql.ParseOperation("abc123", `
//	    query me @pcached(ttl: 30) {
//	        me { id name }
//	    }
//	`, graphql.DefaultCacheDirective)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	op.Type     // "query"
//	op.CacheTTL // 30s
//	op.Query    // the document without @pcached
//
// The package also builds a Schema from a standard introspection response so
// registered documents can be validated against a live backend:
//
//	schema, err := graphql.SchemaFromIntrospection(body)
//	errs := schema.ValidateQuery(op.Hash, op.Query)
package graphql
