package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/recipe"
)

func newTestCommand(g *globalOptions) *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "test [formula]",
		Short: "Re-run the smoke test of an installed formula",
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
			extra, err := parseVars(vars)
			if err != nil {
				return err
			}

			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			f, _, err := loadInstalledFormula(ctx, p, arg, extra)
			if err != nil {
				return formatError(err, g.verbose)
			}

			installer, err := recipe.NewInstaller(recipe.Config{BinDir: p.Bin, LibDir: p.Lib, StateDir: p.State, Logger: g.log})
			if err != nil {
				return err
			}

			out, err := installer.Test(ctx, f)
			if err != nil {
				return fmt.Errorf("test %s: %w", f.Name, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: smoke test passed\n", f.Name)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "set", nil, "template value for the formula (key=value, repeatable)")
	return cmd
}
