package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/platform"
)

func newDetectFlagsCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect-flags",
		Short: "Print the CPU feature flags of this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			flags, err := platform.DetectCPUFlags(ctx)
			if err != nil {
				return fmt.Errorf("detect cpu flags: %w", err)
			}
			g.log.Debug("detected cpu flags", "count", len(flags))
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(flags, " "))
			return nil
		},
	}
}
