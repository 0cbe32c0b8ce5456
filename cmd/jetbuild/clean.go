package main

import (
	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/build"
)

func cleanCmd(flags *globalFlags) *cobra.Command {
	var cache bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build output",
		Long: `Remove the build output directory. With --cache, also remove the
artifact cache so the next build regenerates every output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			builder := build.New(cfg, build.Options{Logger: flags.logger()})
			if err := builder.Clean(); err != nil {
				return err
			}
			success("Removed %s", cfg.OutputRel())

			if cache {
				if err := builder.CleanCache(); err != nil {
					return err
				}
				success("Removed %s", cfg.Cache.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cache, "cache", false, "Also remove the artifact cache")

	return cmd
}
