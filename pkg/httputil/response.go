// Package httputil provides shared HTTP utilities for consistent response handling.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/getmockd/gqlproxy/pkg/graphql"
)

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response with the given status code.
// The error response includes an error code and a human-readable message.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   errCode,
		"message": message,
	})
}

// WriteOK writes a 200 OK response with data.
func WriteOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteNotFound writes a 404 Not Found error response.
func WriteNotFound(w http.ResponseWriter, errCode, message string) {
	WriteError(w, http.StatusNotFound, errCode, message)
}

// WriteGraphQLError writes a GraphQL response carrying a single error, with
// code placed in extensions.code as GraphQL clients expect.
func WriteGraphQLError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, graphql.GraphQLResponse{
		Errors: []graphql.GraphQLError{{
			Message:    message,
			Extensions: map[string]interface{}{"code": code},
		}},
	})
}

// WriteRaw relays a body produced elsewhere. Only Content-Type and
// Content-Encoding are copied from header; Content-Type defaults to
// application/json.
func WriteRaw(w http.ResponseWriter, status int, header http.Header, body []byte) {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if encoding := header.Get("Content-Encoding"); encoding != "" {
		w.Header().Set("Content-Encoding", encoding)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
