package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	pylock "github.com/pydeps/pylock"
	"github.com/pydeps/pylock/graph"
	"github.com/pydeps/pylock/lockfile"
	"github.com/pydeps/pylock/pipfile"
)

// newGraphCmd creates the "graph" command: resolve the manifest and show
// the dependency graph.
func newGraphCmd() *cobra.Command {
	var (
		manifestPath string
		indexURL     string
		format       string
		skipDev      bool
	)

	cmd := &cobra.Command{
		Use:   "graph [package]",
		Short: "Show the resolved dependency graph",
		Long: `Graph resolves the manifest and prints the dependency graph: which
package pulled in which. With a package argument it instead explains
every requirement chain leading to that package.

Resolution reuses the dependency cache, so after a lock this is mostly
an offline operation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := pipfile.Load(manifestPath)
			if err != nil {
				return err
			}

			opts, err := resolveOptions(cmd, false, false)
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

			g := graph.FromResolution(defRes, devRes)

			if len(args) == 1 {
				text, err := g.ExplainText(args[0])
				if err != nil {
					return err
				}
				cmd.Print(text)
				return nil
			}

			switch format {
			case "text":
				cmd.Print(g.ToText())
			case "dot":
				cmd.Print(g.ToDOT())
			case "json":
				data, err := g.ToJSON()
				if err != nil {
					return err
				}
				cmd.Println(string(data))
			default:
				return fmt.Errorf("unknown graph format %q (supported: text, dot, json)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", pipfile.DefaultName, "manifest file to resolve")
	cmd.Flags().StringVar(&indexURL, "index-url", "", "package index base URL")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, dot or json")
	cmd.Flags().BoolVar(&skipDev, "skip-dev", false, "skip the development category")

	return cmd
}
