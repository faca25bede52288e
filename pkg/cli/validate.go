package cli

import (
	"fmt"

	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ValidateOutput is the JSON result of the validate command.
type ValidateOutput struct {
	Valid      bool              `json:"valid"`
	Operations int               `json:"operations"`
	Errors     []*gqlerror.Error `json:"errors"`
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check persisted operations against the backend schema",
		Long: `Fetch the backend schema by introspection and validate every persisted
operation against it. Exits non-zero when any operation is invalid, so it can
gate deployments in CI.`,
		Example: `  gqlproxy validate --config gqlproxy.yaml
  gqlproxy validate --origin http://localhost:8080 -o ops.json \
    --introspection-header "X-Hasura-Admin-Secret: $SECRET" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, flush := logging.Setup(cfg.Log, cmd.ErrOrStderr())
			defer func() { _ = flush() }()

			p, err := buildProxy(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(cmd.Context()) }()

			errs, err := p.Validate(cmd.Context())
			if err != nil {
				return fmt.Errorf("schema check: %w", err)
			}

			out := cmd.OutOrStdout()
			result := ValidateOutput{
				Valid:      len(errs) == 0,
				Operations: len(p.Operations()),
				Errors:     errs,
			}
			err = g.printResult(out, result, func() {
				for _, e := range errs {
					fmt.Fprintf(out, "%s: %s\n", e.Extensions["hash"], formatLocation(e))
				}
				if result.Valid {
					fmt.Fprintf(out, "All %d operations are valid\n", result.Operations)
				} else {
					fmt.Fprintf(out, "%d errors in %d operations\n", len(errs), result.Operations)
				}
			})
			if err != nil {
				return err
			}
			if !result.Valid {
				return ErrValidationFailed
			}
			return nil
		},
	}
}

func formatLocation(e *gqlerror.Error) string {
	if len(e.Locations) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d:%d: %s", e.Locations[0].Line, e.Locations[0].Column, e.Message)
}
