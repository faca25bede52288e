// Package server exposes a proxy.Proxy over HTTP.
//
// # Routes
//
//	GET|POST /graphql          persisted operation by id or Apollo persistedQuery extension
//	GET|POST /graphql/{hash}   persisted operation by path
//	GET      /operations       registry and cache diagnostics
//	GET      /operations/{hash}
//	POST     /operations/validate  schema check against the backend
//	GET      /healthz
//	GET      /metrics          when a Prometheus gatherer is configured
//
// Successful responses relay the backend body and its Content-Type and
// Content-Encoding untouched. Backend error replies are relayed with their
// original status. Other failures are answered as GraphQL errors with a
// code in extensions.code.
package server
