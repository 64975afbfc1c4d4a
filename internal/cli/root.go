package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version string // semantic version (e.g., "v1.2.3")
	commit  string // git commit SHA
	date    string // build timestamp
)

// SetVersion sets the version information displayed by --version. This is
// typically called by the main package with values injected via ldflags.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the pylock CLI and returns an error if any command fails.
//
// The root command wires the --verbose flag into a context logger that all
// subcommands share. Cancelling ctx aborts in-flight resolution.
func Execute(ctx context.Context) error {
	var verbose bool

	root := &cobra.Command{
		Use:          "pylock",
		Short:        "pylock pins Python requirements into a reproducible lockfile",
		Long:         `pylock resolves the loose requirements of a manifest against a package index and writes an exact, hash-verified lockfile that installs the same way everywhere.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			ctx := withLogger(cmd.Context(), newLogger(os.Stderr, level))
			cmd.SetContext(ctx)
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("pylock %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newLockCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newCacheCmd())

	return root.ExecuteContext(ctx)
}
