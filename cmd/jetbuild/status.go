package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/build"
	"github.com/jetbuild/jetbuild/internal/fingerprint"
)

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List cached artifacts",
		Long: `List the entries of the artifact cache: the logical path, the written
path, the content hash, the size and when each output was built. Entries
whose last build attempt failed are marked stale.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			builder := build.New(cfg, build.Options{Logger: flags.logger()})
			entries, err := builder.Status(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				info("Cache is empty (%s)", cfg.Cache.Path)
				return nil
			}

			sort.Slice(entries, func(i, j int) bool {
				return entries[i].LogicalPath < entries[j].LogicalPath
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OUTPUT\tWRITTEN AS\tHASH\tSIZE\tBUILT\t")
			var stale int
			for _, e := range entries {
				mark := ""
				if e.Stale {
					mark = "stale"
					stale++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.LogicalPath,
					e.ActualPath,
					fingerprint.Short(e.ContentHash, 12),
					formatBytes(e.Size),
					e.BuiltAt.Local().Format(time.DateTime),
					mark,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println()
			info("%d entries in %s (%s)", len(entries), cfg.Cache.Path, cfg.Cache.Driver)
			if stale > 0 {
				warn("%d entries are stale and will be rebuilt", stale)
			}
			return nil
		},
	}
}
