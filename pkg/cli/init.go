package cli

import (
	"fmt"
	"os"

	"github.com/getmockd/gqlproxy/pkg/config"
	"github.com/spf13/cobra"
)

func newInitCmd(g *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Create a starter config file",
		Long: `Write a config file with every setting at its default. The format follows the
extension: .yaml/.yml for YAML, anything else for JSON.`,
		Example: `  gqlproxy init
  gqlproxy init gqlproxy.json --origin https://api.example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "gqlproxy.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			cfg.Origin = "http://localhost:8080"
			if g.origin != "" {
				cfg.Origin = g.origin
			}
			cfg.OperationsFile = "operations.json"
			if g.operations != "" {
				cfg.OperationsFile = g.operations
			}

			if err := config.SaveToFile(path, cfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return g.printResult(out, map[string]string{"path": path}, func() {
				fmt.Fprintf(out, "Created %s\n", path)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
