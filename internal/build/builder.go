package build

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/jetbuild/jetbuild/internal/config"
	"github.com/jetbuild/jetbuild/internal/engine"
	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/internal/graph"
	"github.com/jetbuild/jetbuild/internal/store"
	"github.com/jetbuild/jetbuild/internal/transform"
	"github.com/jetbuild/jetbuild/pkg/assets"
)

// Result contains the build output.
type Result struct {
	// Duration is how long the build took.
	Duration time.Duration

	// Version is the version string rendered into the page.
	Version string

	// Index is the root-relative path of the written index page.
	Index string

	// Artifacts lists every resolved artifact in rule order.
	Artifacts []*engine.Artifact

	// Manifest maps output-relative logical names to written names.
	Manifest *assets.Manifest

	// Stats counts built, cached and failed artifacts.
	Stats engine.Stats

	// Graph is the dependency graph declared by the run.
	Graph *graph.Graph
}

// Options configures the builder.
type Options struct {
	// Minify enables minification.
	Minify bool

	// SourceMaps enables inline source maps in the app bundle.
	SourceMaps bool

	// Target is the JavaScript language target (e.g., "es2017").
	Target string

	// Jobs is the number of artifacts built in parallel.
	Jobs int

	// Force rebuilds every artifact regardless of the cache.
	Force bool

	// Store, if set, is used instead of opening the configured cache. The
	// builder does not close it.
	Store store.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *engine.Metrics

	// OnProgress is called with progress updates.
	OnProgress func(step string)
}

// Builder runs the project's build rules.
type Builder struct {
	config  *config.Config
	options Options
	logger  *slog.Logger
}

// New creates a new builder.
func New(cfg *config.Config, options Options) *Builder {
	// Apply config defaults to options
	if !options.Minify && cfg.Build.Minify {
		options.Minify = true
	}
	if !options.SourceMaps && cfg.Build.SourceMaps {
		options.SourceMaps = true
	}
	if options.Target == "" && cfg.Build.Target != "" {
		options.Target = cfg.Build.Target
	}
	if options.Jobs <= 0 {
		options.Jobs = cfg.Build.Jobs
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		config:  cfg,
		options: options,
		logger:  logger,
	}
}

// Build resolves every rule. Unchanged artifacts are taken from the cache.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()

	alg, err := fingerprint.ParseAlgorithm(b.config.Build.Hash)
	if err != nil {
		return nil, errors.New("E201").WithDetail(err.Error())
	}
	if _, err := transform.ParseTarget(b.options.Target); err != nil {
		return nil, errors.New("E201").WithDetail(err.Error())
	}

	st, err := b.openStore()
	if err != nil {
		return nil, err
	}
	if b.options.Store == nil {
		defer st.Close()
	}

	eng, err := engine.New(engine.Options{
		Root:        b.config.Dir(),
		Store:       st,
		Algorithm:   alg,
		HashLength:  b.config.Build.HashLength,
		Precompress: b.config.Build.Precompress,
		Force:       b.options.Force,
		Logger:      b.logger,
		Metrics:     b.options.Metrics,
	})
	if err != nil {
		return nil, errors.New("E201").Wrap(err)
	}

	r := &run{
		config: b.config,
		engine: eng,
		out:    b.config.OutputRel(),
		transform: transform.Options{
			Minify:     b.options.Minify,
			SourceMaps: b.options.SourceMaps,
			Target:     b.options.Target,
		},
		manifest: assets.NewManifest(),
	}

	b.progress("Collecting sources...")
	src, err := r.collect()
	if err != nil {
		return nil, err
	}

	plan := eng.NewPlan()
	if err := plan.Add(r.sourceRequests(src)...); err != nil {
		return nil, errors.New("E201").Wrap(err)
	}

	b.progress(fmt.Sprintf("Building %d artifacts...", plan.Len()))
	artifacts, err := plan.Run(ctx, b.options.Jobs)
	if err != nil {
		return nil, coded(eng.Root(), err)
	}
	for _, a := range artifacts {
		r.publish(a)
	}

	b.progress("Writing asset info...")
	info, err := r.assetInfo(src.images)
	if err != nil {
		return nil, err
	}
	assetsJS, err := eng.Build(ctx, r.assetsRequest(info, src.images))
	if err != nil {
		return nil, coded(eng.Root(), err)
	}
	r.publish(assetsJS)
	artifacts = append(artifacts, assetsJS)

	b.progress("Rendering index page...")
	version := b.version(ctx)
	scripts := make([]string, 0, len(b.config.Vendor)+2)
	for _, v := range b.config.Vendor {
		a, _ := eng.Lookup(v.Output)
		scripts = append(scripts, a.ActualPath)
	}
	app, _ := eng.Lookup(r.appOutput())
	scripts = append(scripts, app.ActualPath, assetsJS.ActualPath)

	index, err := eng.Build(ctx, r.indexRequest(scripts, version))
	if err != nil {
		return nil, coded(eng.Root(), err)
	}
	r.publish(index)
	artifacts = append(artifacts, index)

	b.progress("Writing manifest...")
	manifest, err := eng.Build(ctx, r.manifestRequest())
	if err != nil {
		return nil, coded(eng.Root(), err)
	}
	artifacts = append(artifacts, manifest)

	return &Result{
		Duration:  time.Since(start),
		Version:   version,
		Index:     index.ActualPath,
		Artifacts: artifacts,
		Manifest:  r.manifest,
		Stats:     eng.Stats(),
		Graph:     eng.Graph(),
	}, nil
}

// Status lists the cache entries of the configured store.
func (b *Builder) Status(ctx context.Context) ([]store.Entry, error) {
	st, err := b.openStore()
	if err != nil {
		return nil, err
	}
	if b.options.Store == nil {
		defer st.Close()
	}

	entries, err := st.List(ctx)
	if err != nil {
		return nil, errors.New("E202").Wrap(err)
	}
	return entries, nil
}

// Clean removes the build output directory.
func (b *Builder) Clean() error {
	if err := os.RemoveAll(b.config.OutputPath()); err != nil {
		return errors.New("E206").WithOutput(b.config.OutputRel()).Wrap(err)
	}
	return nil
}

// CleanCache removes the artifact cache. The next build regenerates every
// artifact.
func (b *Builder) CleanCache() error {
	if err := os.RemoveAll(b.config.CachePath()); err != nil {
		return errors.New("E202").Wrap(err)
	}
	return nil
}

func (b *Builder) openStore() (store.Store, error) {
	if b.options.Store != nil {
		return b.options.Store, nil
	}
	st, err := store.Open(store.Options{
		Driver: b.config.Cache.Driver,
		Path:   b.config.CachePath(),
		Logger: b.logger,
	})
	if err != nil {
		return nil, errors.New("E202").
			WithDetail("Could not open " + b.config.CachePath()).
			Wrap(err)
	}
	return st, nil
}

// version returns the configured version, or the git description of the
// project directory.
func (b *Builder) version(ctx context.Context) string {
	if b.config.Version != "" {
		return b.config.Version
	}

	cmd := exec.CommandContext(ctx, "git", "describe", "--always", "--dirty")
	cmd.Dir = b.config.Dir()

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		b.logger.Debug("git describe failed", "error", err)
		return "unknown"
	}
	return strings.TrimSpace(stdout.String())
}

// progress reports build progress.
func (b *Builder) progress(step string) {
	if b.options.OnProgress != nil {
		b.options.OnProgress(step)
	}
}

// run holds the state of one Build call.
type run struct {
	config    *config.Config
	engine    *engine.Engine
	out       string
	transform transform.Options
	manifest  *assets.Manifest
}

// publish records an artifact in the manifest if it lives under the output
// directory.
func (r *run) publish(a *engine.Artifact) {
	logical, ok := r.rel(a.LogicalPath)
	if !ok {
		return
	}
	actual, _ := r.rel(a.ActualPath)
	r.manifest.Set(logical, actual)
}

// rel returns p relative to the output directory.
func (r *run) rel(p string) (string, bool) {
	prefix := r.out + "/"
	if r.out == "." {
		return p, true
	}
	if !strings.HasPrefix(p, prefix) {
		return p, false
	}
	return strings.TrimPrefix(p, prefix), true
}

// output joins name onto the output directory.
func (r *run) output(name string) string {
	return path.Join(r.out, name)
}
