// Package cache provides the response cache used for persisted query
// operations: a keyed, TTL-based, single-flight Group.
//
// # Usage
//
//	group := cache.New[*upstream.Response]()
//
//	key := cache.DefaultKey(cache.KeyInput{
//	    Hash:      hash,
//	    Variables: variables,
//	    Header:    header,
//	})
//	resp, err := group.Do(ctx, hash, key, 30*time.Second, fetch)
//
// Calls that arrive while a fetch for the same key is running wait for it and
// receive the same value. A successful result is then served from memory
// until its TTL elapses. Errors are never cached: the callers waiting on a
// failed fetch all see the error, and the next call starts a new fetch.
//
// Purge(hash) drops every entry of one operation, PurgeAll drops everything.
package cache
