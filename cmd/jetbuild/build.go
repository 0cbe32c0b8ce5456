package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/build"
	"github.com/jetbuild/jetbuild/internal/config"
	"github.com/jetbuild/jetbuild/internal/engine"
)

// buildFlags override the project file for one run.
type buildFlags struct {
	output     string
	minify     bool
	sourceMaps bool
	target     string
	jobs       int
	force      bool
	noBust     bool
	clean      bool
}

func (b *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&b.output, "output", "o", "", "Output directory (default from the project file)")
	cmd.Flags().BoolVar(&b.minify, "minify", false, "Minify output (default from the project file)")
	cmd.Flags().BoolVar(&b.sourceMaps, "sourcemaps", false, "Inline source maps into the app bundle")
	cmd.Flags().StringVar(&b.target, "target", "", "JavaScript target (e.g., es2017)")
	cmd.Flags().IntVarP(&b.jobs, "jobs", "j", 0, "Number of artifacts built in parallel")
	cmd.Flags().BoolVarP(&b.force, "force", "f", false, "Rebuild every artifact regardless of the cache")
	cmd.Flags().BoolVar(&b.noBust, "no-bust", false, "Write outputs under their logical names")
}

// apply writes the overrides into cfg and returns the builder options.
func (b *buildFlags) apply(cmd *cobra.Command, cfg *config.Config) build.Options {
	if b.output != "" {
		cfg.Build.Output = b.output
	}
	if cmd.Flags().Changed("minify") {
		cfg.Build.Minify = b.minify
	}
	if b.noBust {
		cfg.Build.Bust = false
	}
	if b.jobs > 0 {
		cfg.Build.Jobs = b.jobs
	}
	return build.Options{
		Minify:     cfg.Build.Minify,
		SourceMaps: b.sourceMaps,
		Target:     b.target,
		Jobs:       cfg.Build.Jobs,
		Force:      b.force,
	}
}

func buildCmd(flags *globalFlags) *cobra.Command {
	var bf buildFlags

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the project",
		Long: `Build every asset of the project.

This command:
  • Generates the shader module
  • Copies images with cache-busting names
  • Wraps vendor scripts as named modules
  • Bundles the app with esbuild
  • Renders the index page and the asset manifest

Unchanged outputs are taken from the artifact cache.

Examples:
  jetbuild build
  jetbuild build --jobs=8
  jetbuild build --force --no-bust`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			opts := bf.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBuild(flags, cfg, opts, bf.clean)
		},
	}

	bf.register(cmd)
	cmd.Flags().BoolVar(&bf.clean, "clean", false, "Clean output directory before build")

	return cmd
}

func runBuild(flags *globalFlags, cfg *config.Config, opts build.Options, clean bool) error {
	registry := prometheus.NewRegistry()
	opts.Metrics = engine.NewMetrics(engine.WithRegistry(registry))
	opts.Logger = flags.logger()
	opts.OnProgress = func(step string) {
		info("%s", step)
	}

	fmt.Println("  Building...")
	fmt.Println()

	builder := build.New(cfg, opts)

	if clean {
		info("Cleaning output directory...")
		if err := builder.Clean(); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := builder.Build(ctx)
	if path := cfg.MetricsPath(); path != "" {
		if werr := prometheus.WriteToTextfile(path, registry); werr != nil {
			warn("Could not write metrics to %s: %v", path, werr)
		}
	}
	if err != nil {
		return err
	}

	printResult(cfg, result)
	return nil
}

func printResult(cfg *config.Config, result *build.Result) {
	fmt.Println()
	success("Build complete in %s", result.Duration.Round(time.Millisecond))
	info("%d built, %d cached", result.Stats.Built, result.Stats.Cached)
	fmt.Println()
	fmt.Println("  Output:")
	fmt.Printf("    %s/\n", cfg.OutputRel())

	var total int64
	for _, a := range result.Artifacts {
		total += a.Size
		marker := " "
		if !a.Cached {
			marker = "*"
		}
		fmt.Printf("    %s %-48s %10s\n", marker, a.ActualPath, formatBytes(a.Size))
	}
	fmt.Println()
	info("Version %s, %s total", result.Version, formatBytes(total))
	fmt.Println()
}
