// Package upstream sends GraphQL requests to the backend over a bounded,
// keep-alive HTTP connection pool.
//
// Each request is a POST of {"query", "variables"} with the caller's headers,
// hop-by-hop headers removed. The reply body is returned as raw bytes along
// with its Content-Type and Content-Encoding, so a compressed backend reply
// reaches the client exactly as sent. Replies outside 2xx and 3xx fail with
// *StatusError.
//
// When Connections*Pipelining requests are in flight, further calls queue
// until a slot frees up or their context ends.
package upstream
