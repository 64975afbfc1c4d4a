package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pydeps/pylock/depcache"
)

// newCacheCmd creates the cache management command.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the dependency cache",
	}

	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCachePathCmd())

	return cmd
}

// newCacheClearCmd creates the "cache clear" subcommand.
func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the cached dependency metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			dir, err := cacheDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			path := depcache.DefaultPath(dir, "default")

			if _, err := os.Stat(path); os.IsNotExist(err) {
				logger.Info("cache is empty")
				return nil
			}

			cache := depcache.New(path)
			entries := cache.Len()
			if err := cache.Clear(); err != nil {
				return err
			}
			logger.Info("cleared dependency cache", "entries", entries, "path", path)
			return nil
		},
	}
}

// newCachePathCmd creates the "cache path" subcommand.
func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the dependency cache path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cacheDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Println(depcache.DefaultPath(dir, "default"))
			return nil
		},
	}
}
