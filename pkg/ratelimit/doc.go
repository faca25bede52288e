// Package ratelimit limits requests per client with token buckets from
// golang.org/x/time/rate.
//
// Clients are identified by IP. X-Forwarded-For and X-Real-IP are honoured
// only when the direct peer is a trusted proxy. Idle clients are forgotten
// after EntryTTL.
package ratelimit
