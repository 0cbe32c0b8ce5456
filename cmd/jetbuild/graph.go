package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/build"
	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/internal/graph"
)

func graphCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph",
		Long: `Print the dependency graph declared by the build rules.

The graph is declared while the build runs, so this command runs a build
first. With a warm cache that only checks fingerprints.

Examples:
  jetbuild graph
  jetbuild graph --format=dot | dot -Tsvg > graph.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "dot" {
				return errors.New("E201").WithDetail("Unknown graph format " + format + " (want text or dot)")
			}
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			result, err := build.New(cfg, build.Options{Logger: flags.logger()}).Build(ctx)
			if err != nil {
				return err
			}

			if format == "dot" {
				return result.Graph.WriteDOT(os.Stdout)
			}
			return writeGraphText(os.Stdout, result.Graph)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or dot")

	return cmd
}

// writeGraphText prints every node followed by its dependencies, in build
// order.
func writeGraphText(w io.Writer, g *graph.Graph) error {
	order, err := g.Order()
	if err != nil {
		return err
	}
	for _, node := range order {
		if _, err := fmt.Fprintln(w, node); err != nil {
			return err
		}
		for _, dep := range g.Deps(node) {
			if _, err := fmt.Fprintf(w, "  <- %s\n", dep); err != nil {
				return err
			}
		}
	}
	return nil
}
