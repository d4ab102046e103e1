package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/fetch"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/formula"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/recipe"
)

type installOptions struct {
	vars        []string
	keyring     string
	rollback    bool
	skipTest    bool
	testTimeout time.Duration
	noProgress  bool
}

func newInstallCommand(g *globalOptions) *cobra.Command {
	opts := &installOptions{}

	cmd := &cobra.Command{
		Use:   "install [formula]",
		Short: "Verify and install a formula (default libtsl-dev)",
		Long: `Install resolves the formula's source archive, verifies its checksum,
copies the bin members into the bin directory and the lib members into the
lib directory, and runs the formula's smoke test.

The formula is either a built-in name or a path to a .lua or .toml file.
Template values such as the checksum of the built-in libtsl-dev formula are
passed with --set:

  tslinstall install --set sha256=<hex> --set version=1.0.0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, g, opts, args)
		},
	}

	cmd.Flags().StringArrayVar(&opts.vars, "set", nil, "template value for the formula (key=value, repeatable)")
	cmd.Flags().StringVar(&opts.keyring, "keyring", "", "OpenPGP keyring for formulas that declare a signature")
	cmd.Flags().BoolVar(&opts.rollback, "rollback", false, "remove installed files when the smoke test fails")
	cmd.Flags().BoolVar(&opts.skipTest, "skip-test", false, "do not run the smoke test")
	cmd.Flags().DurationVar(&opts.testTimeout, "test-timeout", recipe.DefaultTestTimeout, "smoke test timeout")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "hide the download progress bar")

	return cmd
}

func runInstall(cmd *cobra.Command, g *globalOptions, opts *installOptions, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := g.resolvePaths()
	if err != nil {
		return err
	}

	vars, err := parseVars(opts.vars)
	if err != nil {
		return err
	}

	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	f, err := loadFormula(ctx, arg, vars)
	if err != nil {
		return formatError(err, g.verbose)
	}

	for _, dir := range []string{p.Bin, p.Lib} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fetchOpts := fetch.Options{CacheDir: p.Cache, Logger: g.log}
	if !opts.noProgress {
		fetchOpts.Progress = cmd.ErrOrStderr()
	}
	downloader := fetch.NewDownloader(fetchOpts)

	source, err := downloader.Resolve(ctx, f.URL, f.Name, f.Version)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", f.Name, err)
	}

	installOpts := recipe.Options{SkipTest: opts.skipTest}
	if f.Signature != "" {
		installOpts.SignaturePath, err = downloader.Resolve(ctx, f.Signature, f.Name, f.Version)
		if err != nil {
			return fmt.Errorf("fetch signature for %s: %w", f.Name, err)
		}
	}

	installer, err := recipe.NewInstaller(recipe.Config{
		BinDir:      p.Bin,
		LibDir:      p.Lib,
		StateDir:    p.State,
		KeyringPath: opts.keyring,
		Rollback:    opts.rollback,
		TestTimeout: opts.testTimeout,
		Logger:      g.log,
	})
	if err != nil {
		return err
	}

	result, err := installer.Install(ctx, f, source, installOpts)
	if err != nil {
		if recipe.IsIntegrityError(err) {
			// A corrupt cached download must not poison the next attempt.
			if evictErr := downloader.Evict(source); evictErr != nil {
				g.log.Warn("could not evict cached source", "path", source, "error", evictErr)
			}
		}
		return fmt.Errorf("install %s: %w", f.Name, err)
	}

	printInstallResult(cmd, f, result)
	return nil
}

func printInstallResult(cmd *cobra.Command, f *formula.Formula, result *recipe.Result) {
	out := cmd.OutOrStdout()
	for _, file := range result.Receipt.Files {
		fmt.Fprintf(out, "  %s\n", file.Path)
	}
	for _, stale := range result.Removed {
		fmt.Fprintf(out, "  removed %s\n", stale)
	}
	fmt.Fprintf(out, "Installed %s %s (%d files)\n", f.Name, f.Version, len(result.Receipt.Files))
}
