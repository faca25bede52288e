package cli

import (
	"fmt"

	"github.com/getmockd/gqlproxy/pkg/cli/internal/output"
	"github.com/getmockd/gqlproxy/pkg/proxy"
	"github.com/spf13/cobra"
)

func newOperationsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "operations",
		Aliases: []string{"ops"},
		Short:   "List persisted operations and their cache settings",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			p, err := buildProxy(cfg, nil, nil)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close(cmd.Context()) }()

			defs := p.Operations()
			infos := make([]proxy.DefinitionInfo, len(defs))
			for i, def := range defs {
				infos[i] = def.Info()
			}

			out := cmd.OutOrStdout()
			return g.printResult(out, infos, func() {
				tw := output.Table(out)
				fmt.Fprintln(tw, "HASH\tTYPE\tNAME\tTTL")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Hash, info.Type, orDash(info.Name), ttlColumn(info))
				}
				_ = tw.Flush()
			})
		},
	}
}

func ttlColumn(info proxy.DefinitionInfo) string {
	if info.Type != "query" {
		return "-"
	}
	ttl := fmt.Sprintf("%gs", info.TTLSeconds)
	if info.DirectiveTTL {
		ttl += " (directive)"
	}
	return ttl
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
