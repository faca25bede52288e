// Package metrics exposes Prometheus collectors for the GraphQL proxy.
//
// # Metrics
//
//   - gqlproxy_requests_total: persisted operation calls (labels: hash, type, outcome)
//   - gqlproxy_cache_events_total: cache activity (labels: event)
//   - gqlproxy_upstream_requests_total: backend round trips (labels: status)
//   - gqlproxy_upstream_duration_seconds: backend latency histogram
//   - gqlproxy_upstream_inflight: requests currently holding a pool slot
//
// # Label Conventions
//
// All label values are lowercase:
//
//   - type: query, mutation, subscription
//   - outcome: ok, not_found, invalid, override, error, closed
//   - event: hit, miss, shared, expired, purged
//   - status: numeric HTTP code, or "error" when no response was received
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg)
//	http.Handle("/metrics", metrics.Handler(reg))
//
// A nil *Collector is valid and records nothing.
package metrics
