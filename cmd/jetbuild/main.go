package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/config"
	"github.com/jetbuild/jetbuild/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	dir     string
	verbose bool
	noColor bool
	json    bool
}

func main() {
	flags := &globalFlags{}
	if err := newRootCmd(flags).Execute(); err != nil {
		reportError(os.Stderr, err, flags.json)
		os.Exit(1)
	}
}

// reportError prints err for a person, or as one JSON object per line for
// editors and CI.
func reportError(w io.Writer, err error, asJSON bool) {
	if !asJSON {
		errors.PrintError(w, err)
		return
	}
	fmt.Fprintln(w, errors.FromError(err, "E210").FormatJSON())
}

func newRootCmd(flags *globalFlags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jetbuild",
		Short: "Incremental asset builder for browser games",
		Long: `jetbuild builds the static assets of a browser game.

Every output is cached under the hash of its inputs, so a rebuild only
regenerates what changed. Features include:

  • Shader module generation
  • esbuild bundling and minification
  • Cache-busting file names and an asset manifest
  • Development server with hot reload
  • Publishing to S3 with immutable cache headers`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor || flags.json || os.Getenv("NO_COLOR") != "" {
				errors.DisableColors()
			} else {
				errors.EnableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.dir, "dir", "C", "", "Project directory (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log every step")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print errors as JSON")

	rootCmd.AddCommand(
		buildCmd(flags),
		serveCmd(flags),
		publishCmd(flags),
		statusCmd(flags),
		graphCmd(flags),
		cleanCmd(flags),
		errorsCmd(),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig loads and validates the project file.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	if f.dir == "" {
		return config.LoadFromWorkingDir()
	}
	root, err := config.FindProjectRoot(f.dir)
	if err != nil {
		return nil, err
	}
	return config.Load(root)
}

// logger returns a text logger on stderr.
func (f *globalFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
