package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/shell"
)

func newShellenvCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shellenv [bash|zsh|fish]",
		Short: "Print the shell setup that puts the bin directory on PATH",
		Long: `Shellenv prints commands that export the install prefix and put the bin
directory on PATH. Add this to your shell rc file:

  eval "$(tslinstall shellenv)"`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.resolvePaths()
			if err != nil {
				return err
			}

			sh := shell.DetectShell()
			if len(args) > 0 {
				if sh, err = shell.Parse(args[0]); err != nil {
					return err
				}
			}
			if !sh.IsValid() {
				return fmt.Errorf("could not detect shell from $SHELL; pass one of %v", shell.GetSupportedShells())
			}

			script, err := shell.Render(sh, shell.Env{Prefix: p.Prefix, BinDir: p.Bin, LibDir: p.Lib})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), script)
			return nil
		},
	}
}
