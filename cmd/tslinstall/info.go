package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/formula"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/receipt"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Width(10)
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newInfoCommand(g *globalOptions) *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "info [formula]",
		Short: "Show formula metadata and install state",
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

			f, rec, err := loadInstalledFormula(ctx, p, arg, extra)
			if errors.Is(err, receipt.ErrNotInstalled) {
				f, err = loadFormula(ctx, arg, extra)
			}
			if err != nil {
				return formatError(err, g.verbose)
			}

			renderInfo(cmd.OutOrStdout(), f, rec)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "set", nil, "template value for the formula (key=value, repeatable)")
	return cmd
}

func renderInfo(w io.Writer, f *formula.Formula, rec *receipt.Receipt) {
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s %s\n", styleLabel.Render(label), value)
		}
	}

	fmt.Fprintln(w, styleTitle.Render(f.Name+" "+f.Version))
	row("desc", f.Description)
	row("homepage", f.Homepage)
	row("license", f.License)
	row("url", f.URL)
	row("sha256", strings.ToLower(f.SHA256))
	row("bin", strings.Join(f.Install.Bin, ", "))
	row("lib", strings.Join(f.Install.Lib, ", "))
	row("test", strings.TrimSpace(f.Test.Command+" "+strings.Join(f.Test.Args, " ")))

	if rec == nil {
		row("state", "not installed")
		return
	}

	state := styleOK.Render(string(rec.State))
	if rec.State != receipt.StateInstalled {
		state = styleFailed.Render(string(rec.State))
	}
	row("state", fmt.Sprintf("%s %s (%s)", state, rec.FormulaVersion, humanize.Time(rec.InstalledAt)))

	var total int64
	for _, file := range rec.Files {
		total += file.Size
		row("", fmt.Sprintf("%s %s %s", file.Mode, humanize.IBytes(uint64(file.Size)), file.Path))
	}
	row("size", humanize.IBytes(uint64(total)))
}
