// Package cli implements the gqlproxy command line.
//
// Configuration is resolved from defaults, a config file (--config or
// GQLPROXY_CONFIG), GQLPROXY_* environment variables (optionally read from
// a .env file) and finally flags.
package cli
