// Package proxy resolves persisted GraphQL operations against a backend.
//
// A Proxy is built from a map of hash to document text. Each document is
// parsed once into a Definition; query documents may carry a proxy-local
// cache directive, @pcached(ttl: <seconds>), which sets that operation's
// cache lifetime and is removed before the document is sent upstream.
//
// # Request pipeline
//
// Request(ctx, hash, variables, header) runs, in order:
//
//  1. the operation's Validator, if installed; a rejection fails the call
//     with *ValidationError and nothing else runs
//  2. the operation's Override, if installed; its result is answered as
//     {"data": result} and neither the cache nor the backend is used
//  3. the backend call, through the cache for query operations
//
// Concurrent query calls with the same hash, variables, Authorization and
// x-hasura-* headers share one backend request. With a TTL the result is
// then reused until it expires. Mutations and subscriptions always reach
// the backend.
//
// Installing or removing a hook purges the cached state of that operation
// only.
//
// # Schema check
//
// Validate fetches the backend's introspection and validates every operation
// without an override against it, for use at startup or in CI.
//
// # Errors
//
// StatusCode maps errors to HTTP statuses: ErrNotFound is 404,
// *ValidationError 400, *upstream.StatusError 502 and ErrClosed 503.
package proxy
