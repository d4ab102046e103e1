package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/recipe"
)

func newUninstallCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [formula]",
		Short: "Remove the files an install put in place",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			p, err := g.resolvePaths()
			if err != nil {
				return err
			}

			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			name, err := formulaName(ctx, arg)
			if err != nil {
				return formatError(err, g.verbose)
			}

			installer, err := recipe.NewInstaller(recipe.Config{BinDir: p.Bin, LibDir: p.Lib, StateDir: p.State, Logger: g.log})
			if err != nil {
				return err
			}

			removed, err := installer.Uninstall(ctx, name)
			if err != nil {
				return fmt.Errorf("uninstall %s: %w", name, err)
			}
			for _, path := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "  removed %s\n", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", name)
			return nil
		},
	}
}
