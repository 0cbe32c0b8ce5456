package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/internal/publish"
	"github.com/jetbuild/jetbuild/pkg/assets"
)

func publishCmd(flags *globalFlags) *cobra.Command {
	var (
		bf          buildFlags
		bucket      string
		prefix      string
		concurrency int
		dryRun      bool
		skipBuild   bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload the build output to S3",
		Long: `Build the project and upload the output directory to S3.

Fingerprinted files are uploaded first with an immutable Cache-Control,
then other files, then the HTML pages and the manifest. Objects whose
stored content hash matches the local file are skipped.

Credentials are read from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
AWS_SESSION_TOKEN.

Examples:
  jetbuild publish --bucket=games --prefix=jetpack
  jetbuild publish --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			opts := bf.apply(cmd, cfg)
			if bucket != "" {
				cfg.Publish.Bucket = bucket
			}
			if prefix != "" {
				cfg.Publish.Prefix = prefix
			}
			if concurrency > 0 {
				cfg.Publish.Concurrency = concurrency
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if !skipBuild {
				if err := runBuild(flags, cfg, opts, false); err != nil {
					return err
				}
			}

			manifestPath := filepath.Join(cfg.OutputPath(), assets.FileName)
			manifest, err := assets.Load(manifestPath)
			if err != nil {
				return errors.New("E207").
					WithDetail("Could not read " + manifestPath).
					WithSuggestion("Run jetbuild build first").
					Wrap(err)
			}

			alg, err := fingerprint.ParseAlgorithm(cfg.Build.Hash)
			if err != nil {
				return errors.New("E201").WithDetail(err.Error())
			}

			ctx, cancel := signalContext()
			defer cancel()

			p := publish.New(publish.NewClient(cfg.Publish), publish.Options{
				Bucket:      cfg.Publish.Bucket,
				Prefix:      cfg.Publish.Prefix,
				Concurrency: cfg.Publish.Concurrency,
				Algorithm:   alg,
				Force:       force,
				DryRun:      dryRun,
				Logger:      flags.logger(),
			})
			report, err := p.Publish(ctx, cfg.OutputPath(), manifest)
			if err != nil {
				return err
			}

			verb := "Uploaded"
			if dryRun {
				verb = "Would upload"
			}
			success("%s %d objects (%s), %d unchanged", verb, len(report.Uploaded), formatBytes(report.Bytes), len(report.Skipped))
			for _, key := range report.Uploaded {
				info("s3://%s/%s", cfg.Publish.Bucket, key)
			}
			return nil
		},
	}

	bf.register(cmd)
	cmd.Flags().StringVar(&bucket, "bucket", "", "Destination bucket (default from the project file)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix (default from the project file)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel uploads (default from the project file)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compare with the bucket without uploading")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Upload the existing output without building")
	cmd.Flags().BoolVar(&force, "force-upload", false, "Upload objects even when their stored hash matches")

	return cmd
}
