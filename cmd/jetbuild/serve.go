package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/build"
	"github.com/jetbuild/jetbuild/internal/dev"
	"github.com/jetbuild/jetbuild/internal/engine"
	"github.com/jetbuild/jetbuild/internal/errors"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		bf       buildFlags
		port     int
		host     string
		noReload bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"dev"},
		Short:   "Start the development server",
		Long: `Build the project, serve the output directory and rebuild on change.

Connected browsers reload after every rebuild and show build errors in an
overlay. Prometheus metrics are served on /metrics.

Examples:
  jetbuild serve
  jetbuild serve --port=8080
  jetbuild serve --host=0.0.0.0 --no-reload`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			opts := bf.apply(cmd, cfg)
			if port > 0 {
				cfg.Dev.Port = port
			}
			if host != "" {
				cfg.Dev.Host = host
			}
			if noReload {
				cfg.Dev.HotReload = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			opts.Metrics = engine.NewMetrics(engine.WithRegistry(registry))

			fmt.Println("  jetbuild serve")
			fmt.Println()

			server := dev.NewServer(dev.ServerOptions{
				Config:   cfg,
				Build:    opts,
				Logger:   flags.logger(),
				Registry: registry,
				OnBuildComplete: func(result *build.Result, err error) {
					if err != nil {
						errorMsg("Build failed")
						errors.PrintError(cmd.ErrOrStderr(), err)
						return
					}
					success("Built in %s (%d built, %d cached)",
						result.Duration.Round(time.Millisecond), result.Stats.Built, result.Stats.Cached)
				},
				OnReload: func(clients int) {
					success("Reloaded %d browsers", clients)
				},
			})

			ctx, cancel := signalContext()
			defer cancel()

			info("Serving %s on %s", cfg.OutputRel(), cfg.DevURL())
			if err := server.Start(ctx); err != nil {
				return err
			}
			fmt.Println("\n  Shutting down...")
			return nil
		},
	}

	bf.register(cmd)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to run on (default from the project file)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from the project file)")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "Do not reload browsers after a rebuild")

	return cmd
}
