package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/flavor"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/platform"
)

func newSelectFlavorCommand(g *globalOptions) *cobra.Command {
	var (
		targets      string
		folderPrefix string
		flags        string
	)

	cmd := &cobra.Command{
		Use:   "select-flavor",
		Short: "Print the TSL flavor folder that best matches this CPU",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			catalog, err := flavor.Load(targets, folderPrefix)
			if err != nil {
				return err
			}

			var cpuFlags []string
			if cmd.Flags().Changed("flags") {
				cpuFlags = strings.Fields(flags)
			} else {
				cpuFlags, err = platform.DetectCPUFlags(ctx)
				if err != nil {
					return fmt.Errorf("detect cpu flags: %w", err)
				}
			}

			folder, matched := catalog.Select(cpuFlags)
			if matched == nil {
				g.log.Info("no flavor matched, using fallback", "folder", folder)
			} else {
				g.log.Debug("selected flavor", "folder", folder, "flags", strings.Join(matched, " "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), folder)
			return nil
		},
	}

	cmd.Flags().StringVar(&targets, "targets", "", "targets spec JSON file")
	cmd.Flags().StringVar(&folderPrefix, "folder-prefix", flavor.DefaultPrefix, "prefix of the flavor folders")
	cmd.Flags().StringVar(&flags, "flags", "", "space separated CPU flags to use instead of detecting them")
	_ = cmd.MarkFlagRequired("targets")

	return cmd
}
