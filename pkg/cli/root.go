package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/getmockd/gqlproxy/pkg/cli/internal/flags"
	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// ErrValidationFailed is returned when persisted operations do not match
// the backend schema.
var ErrValidationFailed = errors.New("persisted operations failed schema validation")

// globalFlags are the persistent flags shared by all subcommands.
type globalFlags struct {
	configFile           string
	envFile              string
	origin               string
	operations           string
	introspectionHeaders flags.Header
	jsonOutput           bool
}

// NewRootCmd builds the gqlproxy command tree.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "gqlproxy",
		Short: "gqlproxy serves persisted GraphQL operations in front of a GraphQL backend",
		Long: `gqlproxy resolves persisted operation hashes to GraphQL documents, forwards them
to a backend, and caches query results per variables and session headers.

Configuration can be provided via a config file, GQLPROXY_* environment
variables (optionally from a .env file), or flags. Flags win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "Config file, JSON or YAML (default: $GQLPROXY_CONFIG)")
	pf.StringVar(&g.envFile, "env-file", "", "Load environment variables from this file (default: .env if present)")
	pf.StringVar(&g.origin, "origin", "", "Backend base URL")
	pf.StringVarP(&g.operations, "operations", "o", "", "Persisted operations file")
	pf.Var(&g.introspectionHeaders, "introspection-header", "Header sent with the schema introspection query, repeatable (Name: value)")
	pf.BoolVar(&g.jsonOutput, "json", false, "Output command results in JSON format")

	root.AddCommand(
		newServeCmd(g),
		newValidateCmd(g),
		newOperationsCmd(g),
		newInitCmd(g),
		newVersionCmd(g),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
