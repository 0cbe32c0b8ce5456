package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/internal/graph"
	"github.com/jetbuild/jetbuild/internal/store"
)

// DefaultModuleRegistry is the global object BuildModule registers into.
const DefaultModuleRegistry = "__modules"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Options configures an Engine.
type Options struct {
	// Root is the directory relative paths are resolved against.
	// Defaults to the working directory.
	Root string

	// Store holds cache entries. Required.
	Store store.Store

	// Algorithm fingerprints outputs and inputs. Defaults to SHA-256.
	Algorithm fingerprint.Algorithm

	// HashLength is how many hex characters of the content hash go into a
	// busted filename. Defaults to fingerprint.DefaultShortLength.
	HashLength int

	// Precompress lists sibling encodings written next to compressible
	// outputs: "gzip", "zstd".
	Precompress []string

	// ModuleRegistry is the global object name used by BuildModule.
	// Defaults to DefaultModuleRegistry.
	ModuleRegistry string

	// Force rebuilds every output once per run regardless of cache state.
	Force bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer

	// Metrics is optional.
	Metrics *Metrics
}

// Stats counts outcomes for one run.
type Stats struct {
	Built  int
	Cached int
	Failed int
}

// Engine resolves build requests against the artifact store. It is safe for
// concurrent use; one Engine corresponds to one build run.
type Engine struct {
	root        string
	store       store.Store
	alg         fingerprint.Algorithm
	hashLength  int
	precompress []encoding
	registry    string
	force       bool
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *Metrics
	runID       string
	graph       *graph.Graph

	mu      sync.Mutex
	results map[string]*Artifact
	files   map[string]fileStamp
	stats   Stats
}

type fileStamp struct {
	modTime time.Time
	size    int64
	hash    string
}

// New creates an engine for one build run.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}

	root := opts.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve root: %w", err)
	}

	alg := opts.Algorithm
	if alg == "" {
		alg = fingerprint.SHA256
	}
	if _, err := fingerprint.ParseAlgorithm(string(alg)); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	hashLength := opts.HashLength
	if hashLength <= 0 {
		hashLength = fingerprint.DefaultShortLength
	}

	encodings, err := parseEncodings(opts.Precompress)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	registry := opts.ModuleRegistry
	if registry == "" {
		registry = DefaultModuleRegistry
	}
	if !identifierPattern.MatchString(registry) {
		return nil, fmt.Errorf("engine: module registry %q is not a JavaScript identifier", registry)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/jetbuild/jetbuild/internal/engine")
	}

	runID := uuid.NewString()
	return &Engine{
		root:        root,
		store:       opts.Store,
		alg:         alg,
		hashLength:  hashLength,
		precompress: encodings,
		registry:    registry,
		force:       opts.Force,
		logger:      logger.With("run", runID),
		tracer:      tracer,
		metrics:     opts.Metrics,
		runID:       runID,
		graph:       graph.New(),
		results:     make(map[string]*Artifact),
		files:       make(map[string]fileStamp),
	}, nil
}

// Root returns the absolute root directory.
func (e *Engine) Root() string { return e.root }

// RunID identifies this run in logs and cache entries.
func (e *Engine) RunID() string { return e.runID }

// Graph returns the dependency graph declared so far.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Store returns the artifact store.
func (e *Engine) Store() store.Store { return e.store }

// Stats returns outcome counts for this run.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Abs resolves a root-relative path to an absolute filesystem path.
func (e *Engine) Abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.root, filepath.FromSlash(path))
}

// Lookup returns the artifact resolved for logical in this run.
func (e *Engine) Lookup(logical string) (*Artifact, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.results[logical]
	return a, ok
}

// Invalidate marks the cache entry for logical stale so the next Build of it
// runs its generator.
func (e *Engine) Invalidate(ctx context.Context, logical string) error {
	e.mu.Lock()
	delete(e.results, logical)
	e.mu.Unlock()
	return e.store.MarkStale(ctx, logical, "invalidated")
}

// Build resolves one request, running its generator only when the output is
// missing or out of date. Build sees only the requests made so far, so a
// cycle is reported before any generator runs only when the requests go
// through Plan.Run.
func (e *Engine) Build(ctx context.Context, req Request) (art *Artifact, err error) {
	if req.Output == "" {
		return nil, errors.New("engine: request has no output path")
	}
	if req.Generator == nil {
		return nil, fmt.Errorf("engine: request %s has no generator", req.Output)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "jetbuild.build",
		trace.WithAttributes(attribute.String("jetbuild.output", req.Output)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("jetbuild.actual", art.ActualPath),
				attribute.Bool("jetbuild.cached", art.Cached),
			)
		}
		span.End()
	}()

	deps := e.classify(req.Deps, e.graph.Has)
	if err := e.declare(req.Output, deps); err != nil {
		return nil, err
	}

	snapshot, err := e.snapshot(ctx, req, deps)
	if err != nil {
		e.recordFailure()
		return nil, err
	}

	entry, err := e.store.Load(ctx, req.Output)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		entry = nil
	default:
		var corrupt *store.CorruptionError
		if !errors.As(err, &corrupt) {
			e.recordFailure()
			return nil, &FilesystemError{Output: req.Output, Op: "load cache entry", Path: req.Output, Err: err}
		}
		e.logger.Warn("discarding corrupt cache entry", "output", req.Output, "error", err)
		entry = nil
	}

	reason := e.staleReason(req, entry, snapshot)
	if reason == "" {
		art := &Artifact{
			LogicalPath: entry.LogicalPath,
			ActualPath:  entry.ActualPath,
			ContentHash: entry.ContentHash,
			Deps:        entry.Deps,
			Size:        entry.Size,
			Cached:      true,
		}
		e.record(art)
		e.metrics.observe(outcomeCached, 0)
		e.logger.Debug("artifact up to date", "output", req.Output, "actual", art.ActualPath)
		return art, nil
	}

	return e.generate(ctx, req, snapshot, reason)
}

// BuildModule builds output from gen and wraps it so that, once loaded in a
// page, its exports are registered under module in the module registry.
func (e *Engine) BuildModule(ctx context.Context, output, module string, gen Generator, deps ...Dep) (*Artifact, error) {
	return e.Build(ctx, ModuleRequest(output, module, gen, deps...))
}

// Copy builds output as a byte-for-byte copy of source.
func (e *Engine) Copy(ctx context.Context, output, source string, bust bool) (*Artifact, error) {
	return e.Build(ctx, e.CopyRequest(output, source, bust))
}

// ModuleRequest returns the request BuildModule resolves.
func ModuleRequest(output, module string, gen Generator, deps ...Dep) Request {
	return Request{
		Output:    output,
		Generator: gen,
		Deps:      deps,
		Module:    module,
	}
}

// CopyRequest returns the request Copy resolves. The source file is its only
// dependency.
func (e *Engine) CopyRequest(output, source string, bust bool) Request {
	abs := e.Abs(source)
	return Request{
		Output: output,
		Generator: GeneratorFunc(func(ctx context.Context) ([]byte, error) {
			return os.ReadFile(abs)
		}),
		Deps: []Dep{File(source)},
		Bust: bust,
	}
}

// fail marks output stale so the next run retries it, whatever the previous
// entry and the file on disk now hold.
func (e *Engine) fail(ctx context.Context, output string, start time.Time, err error) error {
	if markErr := e.store.MarkStale(ctx, output, err.Error()); markErr != nil {
		e.logger.Warn("could not mark cache entry stale", "output", output, "error", markErr)
	}
	e.recordFailure()
	e.metrics.observe(outcomeFailed, time.Since(start))
	return err
}

func (e *Engine) generate(ctx context.Context, req Request, snapshot map[string]string, reason string) (*Artifact, error) {
	start := time.Now()
	e.logger.Debug("rebuilding artifact", "output", req.Output, "reason", reason)

	data, err := req.Generator.Generate(ctx)
	if err != nil {
		return nil, e.fail(ctx, req.Output, start, &GenerationError{Output: req.Output, Err: err})
	}

	if req.Module != "" {
		data = WrapModule(e.registry, req.Module, data)
	}

	digest := fingerprint.Sum(e.alg, data)
	hash := digest.Hex()
	actual := store.ResolveActualPath(req.Output, hash, req.Bust, e.hashLength)

	if err := e.write(actual, data); err != nil {
		return nil, e.fail(ctx, req.Output, start, &FilesystemError{Output: req.Output, Op: "write", Path: actual, Err: err})
	}

	entry := store.Entry{
		LogicalPath: req.Output,
		ActualPath:  actual,
		ContentHash: hash,
		Algorithm:   string(e.alg),
		Deps:        snapshot,
		Size:        int64(len(data)),
		BuiltAt:     time.Now().UTC(),
		RunID:       e.runID,
	}
	if err := e.store.Save(ctx, entry); err != nil {
		return nil, e.fail(ctx, req.Output, start, &FilesystemError{Output: req.Output, Op: "save cache entry", Path: req.Output, Err: err})
	}

	art := &Artifact{
		LogicalPath: req.Output,
		ActualPath:  actual,
		ContentHash: hash,
		Deps:        snapshot,
		Size:        int64(len(data)),
	}
	e.record(art)
	e.metrics.observe(outcomeBuilt, time.Since(start))
	e.metrics.addBytes(len(data))
	e.logger.Info("built artifact",
		"output", req.Output,
		"actual", actual,
		"hash", fingerprint.Short(hash, e.hashLength),
		"bytes", len(data),
		"reason", reason,
		"duration", time.Since(start),
	)
	return art, nil
}

// classify resolves DepAuto entries. known reports whether a path is the
// output of a declared rule.
func (e *Engine) classify(deps []Dep, known func(string) bool) []Dep {
	out := make([]Dep, len(deps))
	for i, d := range deps {
		if d.Kind == DepAuto {
			if known(d.Path) || e.resolved(d.Path) {
				d.Kind = DepOutput
			} else {
				d.Kind = DepFile
			}
		}
		out[i] = d
	}
	return out
}

// declare records output's edges in the run graph.
func (e *Engine) declare(output string, deps []Dep) error {
	paths := make([]string, len(deps))
	for i, d := range deps {
		paths[i] = d.Path
	}
	if err := e.graph.Declare(output, paths); err != nil {
		var ce *graph.CycleError
		if errors.As(err, &ce) {
			return &DependencyCycleError{Output: output, Cycle: ce.Path}
		}
		return err
	}
	return nil
}

func (e *Engine) resolved(logical string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.results[logical]
	return ok
}

func (e *Engine) record(a *Artifact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[a.LogicalPath] = a
	if a.Cached {
		e.stats.Cached++
	} else {
		e.stats.Built++
	}
}

func (e *Engine) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Failed++
}
