package graphql

import "encoding/json"

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Locations indicates where in the query the error occurred.
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	// Path is the response field path where the error occurred.
	Path []interface{} `json:"path,omitempty"`
	// Extensions contains additional error metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLErrorLocation represents a location in the GraphQL query where an error occurred.
type GraphQLErrorLocation struct {
	// Line is the line number (1-indexed).
	Line int `json:"line"`
	// Column is the column number (1-indexed).
	Column int `json:"column"`
}

// GraphQLRequest is the JSON body POSTed to a GraphQL backend.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName is the name of the operation to execute (for multi-operation documents).
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL response.
type GraphQLResponse struct {
	// Data contains the result of the query execution.
	Data interface{} `json:"data,omitempty"`
	// Errors contains any errors that occurred during execution.
	Errors []GraphQLError `json:"errors,omitempty"`
	// Extensions contains additional response metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// PersistedRequest is a client request that references a persisted
// operation instead of carrying query text.
//
// Two shapes are understood: {"id": "<hash>"} and the Apollo automatic
// persisted query form {"extensions": {"persistedQuery": {"sha256Hash": "<hash>"}}}.
type PersistedRequest struct {
	ID            string                 `json:"id,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    *PersistedExtensions   `json:"extensions,omitempty"`
}

// PersistedExtensions carries the persistedQuery extension.
type PersistedExtensions struct {
	PersistedQuery *PersistedQuery `json:"persistedQuery,omitempty"`
}

// PersistedQuery identifies a document by hash.
type PersistedQuery struct {
	Version    int    `json:"version,omitempty"`
	SHA256Hash string `json:"sha256Hash"`
}

// Hash returns the operation hash referenced by the request, or "".
func (r *PersistedRequest) Hash() string {
	if r.ID != "" {
		return r.ID
	}
	if r.Extensions != nil && r.Extensions.PersistedQuery != nil {
		return r.Extensions.PersistedQuery.SHA256Hash
	}
	return ""
}

// DataEnvelope wraps a locally produced result in the GraphQL response shape.
func DataEnvelope(data interface{}) ([]byte, error) {
	return json.Marshal(struct {
		Data interface{} `json:"data"`
	}{Data: data})
}
