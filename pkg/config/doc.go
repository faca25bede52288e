// Package config loads gqlproxy configuration and persisted operation
// manifests.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Defaults (Default)
//  2. A JSON or YAML file (Load), format chosen by extension
//  3. GQLPROXY_* environment variables (ApplyEnv), optionally read from a
//     .env file first (LoadDotEnv)
//
// A minimal YAML file:
//
//	origin: http://localhost:8080
//	operations: operations.json
//	cacheTtl: 30s
//	pool:
//	  connections: 20
//	log:
//	  level: debug
//
// Durations accept Go duration strings ("1m30s") or a number of seconds.
//
// Operation files (LoadOperations) are either a flat {hash: document} map or
// an Apollo persisted query manifest:
//
//	{
//	  "format": "apollo-persisted-query-manifest",
//	  "version": 1,
//	  "operations": [{"id": "ab12...", "name": "me", "type": "query", "body": "query me { me { id } }"}]
//	}
package config
