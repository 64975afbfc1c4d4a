package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	pylock "github.com/pydeps/pylock"
	"github.com/pydeps/pylock/depcache"
	"github.com/pydeps/pylock/lockfile"
	"github.com/pydeps/pylock/pipfile"
)

// newLockCmd creates the "lock" command: resolve the manifest and write
// the lockfile.
func newLockCmd() *cobra.Command {
	var (
		manifestPath string
		outputPath   string
		indexURL     string
		pre          bool
		clear        bool
		skipDev      bool
		checkOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Resolve the manifest and write the lockfile",
		Long: `Lock resolves every package in the manifest, default and development
categories alike, to an exact version with artifact hashes, and writes
the result next to the manifest. With --check, no file is written; the
command instead reports whether the existing lockfile is current and
exits non-zero when it is not.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			tracker := newProgress(logger)

			manifest, err := pipfile.Load(manifestPath)
			if err != nil {
				return err
			}
			if outputPath == "" {
				outputPath = lockfile.DefaultPath(filepath.Dir(manifestPath))
			}

			opts, err := resolveOptions(cmd, pre, clear)
			if err != nil {
				return err
			}

			repo := pylock.NewPyPIRepository(indexURL)

			defRes, err := resolveCategory(cmd, repo, manifest, lockfile.CategoryDefault, opts)
			if err != nil {
				return err
			}
			var devRes *pylock.Resolution
			if !skipDev {
				devRes, err = resolveCategory(cmd, repo, manifest, lockfile.CategoryDevelop, opts)
				if err != nil {
					return err
				}
			}

			lf, err := lockfile.Build(defRes, devRes, manifest.LockOptions())
			if err != nil {
				return err
			}

			if checkOnly {
				return checkLockfile(cmd, outputPath, lf)
			}

			if err := lf.WriteFile(outputPath); err != nil {
				return fmt.Errorf("write lockfile: %w", err)
			}
			locked := len(lf.Default) + len(lf.Develop)
			tracker.done(fmt.Sprintf("Locked %d packages to %s", locked, outputPath))
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", pipfile.DefaultName, "manifest file to resolve")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "lockfile path (default: next to the manifest)")
	cmd.Flags().StringVar(&indexURL, "index-url", "", "package index base URL")
	cmd.Flags().BoolVar(&pre, "pre", false, "allow pre-release versions everywhere")
	cmd.Flags().BoolVar(&clear, "clear", false, "drop caches before resolving")
	cmd.Flags().BoolVar(&skipDev, "skip-dev", false, "skip the development category")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "verify the lockfile is current instead of writing it")

	return cmd
}

// resolveOptions assembles resolver options shared by both categories.
func resolveOptions(cmd *cobra.Command, pre, clear bool) ([]pylock.Option, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, fmt.Errorf("get cache dir: %w", err)
	}

	opts := []pylock.Option{
		pylock.WithLogger(slogFromContext(cmd.Context())),
		pylock.WithDependencyCache(depcache.New(depcache.DefaultPath(dir, "default"))),
	}
	if pre {
		opts = append(opts, pylock.WithPrereleases(true))
	}
	if clear {
		opts = append(opts, pylock.WithClearCaches())
	}
	return opts, nil
}

func resolveCategory(cmd *cobra.Command, repo pylock.PackageRepository, manifest *pipfile.Manifest, category string, opts []pylock.Option) (*pylock.Resolution, error) {
	logger := loggerFromContext(cmd.Context())

	reqs, err := manifest.Requirements(category)
	if err != nil {
		return nil, err
	}
	logger.Debug("resolving category", "category", category, "requirements", len(reqs))

	res, err := pylock.Resolve(cmd.Context(), repo, reqs, opts...)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", category, err)
	}
	for _, warning := range res.Warnings {
		logger.Warn(warning)
	}
	for _, skipped := range res.Unsafe {
		logger.Debug("excluded unsafe package", "package", skipped.Key())
	}
	return res, nil
}

// checkLockfile diffs the freshly built document against the one on disk.
func checkLockfile(cmd *cobra.Command, path string, built *lockfile.Lockfile) error {
	logger := loggerFromContext(cmd.Context())

	if !lockfile.Exists(path) {
		return fmt.Errorf("lockfile %s does not exist", path)
	}
	existing, err := lockfile.ReadFile(path)
	if err != nil {
		return err
	}

	diff := lockfile.Compare(existing, built)
	if diff.IsEmpty() {
		logger.Info("lockfile is up to date", "path", path)
		return nil
	}

	for _, added := range diff.Added {
		fmt.Fprintf(os.Stderr, "missing: %s\n", added)
	}
	for _, removed := range diff.Removed {
		fmt.Fprintf(os.Stderr, "stale: %s\n", removed)
	}
	for _, change := range diff.Changed {
		fmt.Fprintf(os.Stderr, "outdated: %s/%s %s -> %s\n",
			change.Category, change.Name, change.Old, change.New)
	}
	return fmt.Errorf("lockfile %s is out of date", path)
}
