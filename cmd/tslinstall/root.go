package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tslinstall/internal/logging"
	"github.com/ZebulonRouseFrantzich/tslinstall/internal/shell"
)

const (
	envPrefix   = shell.EnvPrefix
	envCacheDir = "TSLINSTALL_CACHE_DIR"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	prefix   string
	binDir   string
	libDir   string
	cacheDir string
	verbose  bool

	log  logging.Logger
	sync func() error
}

// paths are the resolved install locations.
type paths struct {
	Prefix string
	Bin    string
	Lib    string
	Cache  string
	State  string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{log: logging.Nop()}

	rootCmd := &cobra.Command{
		Use:   "tslinstall",
		Short: "Install the prebuilt TSL developer bundle",
		Long: `tslinstall installs package formulas such as libtsl-dev: it verifies the
source archive, copies the helper scripts into the bin directory and the
TSL bundle into the lib directory, and smoke-tests the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, sync, err := logging.New(opts.verbose)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			opts.log, opts.sync = log, sync
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.sync != nil {
				_ = opts.sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.prefix, "prefix", "", "install prefix (default $"+envPrefix+" or ~/.local/share/tslinstall)")
	flags.StringVar(&opts.binDir, "bin-dir", "", "binary directory (default <prefix>/bin)")
	flags.StringVar(&opts.libDir, "lib-dir", "", "library directory (default <prefix>/lib)")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "download cache (default $"+envCacheDir+" or the user cache directory)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newInstallCommand(opts),
		newTestCommand(opts),
		newInfoCommand(opts),
		newUninstallCommand(opts),
		newDetectFlagsCommand(opts),
		newSelectFlavorCommand(opts),
		newShellenvCommand(opts),
		newVersionCommand(),
	)

	return rootCmd
}

// resolvePaths applies flags, then environment, then defaults.
func (o *globalOptions) resolvePaths() (paths, error) {
	prefix := o.prefix
	if prefix == "" {
		prefix = os.Getenv(envPrefix)
	}
	if prefix == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return paths{}, fmt.Errorf("get home directory: %w", err)
		}
		prefix = filepath.Join(home, ".local", "share", "tslinstall")
	}

	cache := o.cacheDir
	if cache == "" {
		cache = os.Getenv(envCacheDir)
	}
	if cache == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return paths{}, fmt.Errorf("get cache directory: %w", err)
		}
		cache = filepath.Join(userCache, "tslinstall")
	}

	p := paths{
		Prefix: prefix,
		Bin:    o.binDir,
		Lib:    o.libDir,
		Cache:  cache,
		State:  filepath.Join(prefix, "var", "tslinstall"),
	}
	if p.Bin == "" {
		p.Bin = filepath.Join(prefix, "bin")
	}
	if p.Lib == "" {
		p.Lib = filepath.Join(prefix, "lib")
	}
	return p, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tslinstall %s\n", Version)
		},
	}
}
