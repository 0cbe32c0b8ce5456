package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Generator produces the bytes of one artifact.
type Generator interface {
	Generate(ctx context.Context) ([]byte, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context) ([]byte, error)

// Generate calls f(ctx).
func (f GeneratorFunc) Generate(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Parameterized is implemented by generators whose bound arguments should be
// part of the cache key. A change in Params forces a rebuild even when no
// dependency changed.
type Parameterized interface {
	Params() ([]byte, error)
}

// Bind binds arg to fn at registration time. The argument is JSON-encoded
// into the cache key, so it must be JSON-serializable.
func Bind[A any](fn func(ctx context.Context, arg A) ([]byte, error), arg A) Generator {
	return &boundGenerator[A]{fn: fn, arg: arg}
}

type boundGenerator[A any] struct {
	fn  func(ctx context.Context, arg A) ([]byte, error)
	arg A
}

func (g *boundGenerator[A]) Generate(ctx context.Context) ([]byte, error) {
	return g.fn(ctx, g.arg)
}

func (g *boundGenerator[A]) Params() ([]byte, error) {
	data, err := json.Marshal(g.arg)
	if err != nil {
		return nil, fmt.Errorf("encode generator arguments: %w", err)
	}
	return data, nil
}

// DepKind says how a dependency is fingerprinted.
type DepKind int

const (
	// DepAuto is resolved when the request is evaluated: an output if the
	// engine knows a rule for the path, a file otherwise.
	DepAuto DepKind = iota

	// DepFile is a raw input file hashed from its current bytes.
	DepFile

	// DepOutput is another rule's output, identified by its logical path.
	DepOutput
)

func (k DepKind) String() string {
	switch k {
	case DepFile:
		return "file"
	case DepOutput:
		return "output"
	default:
		return "auto"
	}
}

// Dep is one declared dependency.
type Dep struct {
	Path string
	Kind DepKind
}

// File declares a raw input file.
func File(path string) Dep {
	return Dep{Path: path, Kind: DepFile}
}

// Files declares raw input files.
func Files(paths ...string) []Dep {
	deps := make([]Dep, len(paths))
	for i, p := range paths {
		deps[i] = File(p)
	}
	return deps
}

// Output declares a dependency on another rule's output.
func Output(logical string) Dep {
	return Dep{Path: logical, Kind: DepOutput}
}

// Outputs declares dependencies on other rules' outputs.
func Outputs(logicals ...string) []Dep {
	deps := make([]Dep, len(logicals))
	for i, p := range logicals {
		deps[i] = Output(p)
	}
	return deps
}

// Paths declares dependencies whose kind is decided by the engine.
func Paths(paths ...string) []Dep {
	deps := make([]Dep, len(paths))
	for i, p := range paths {
		deps[i] = Dep{Path: p, Kind: DepAuto}
	}
	return deps
}

// Request is one build rule.
type Request struct {
	// Output is the logical output path, relative to the engine root.
	Output string

	// Generator produces the output bytes.
	Generator Generator

	// Deps are the declared dependencies, in order.
	Deps []Dep

	// Bust embeds the content hash in the written filename.
	Bust bool

	// Module, when set, wraps the generated bytes so they register under
	// this name in the module registry. The name is part of the cache key.
	Module string
}

// Artifact is a resolved build output.
type Artifact struct {
	// LogicalPath is the path the rule asked for.
	LogicalPath string

	// ActualPath is where the bytes were written.
	ActualPath string

	// ContentHash is the full hex fingerprint of the bytes.
	ContentHash string

	// Deps is the dependency snapshot the artifact was built against.
	Deps map[string]string

	// Size is the output size in bytes.
	Size int64

	// Cached is true when the generator did not run in this call.
	Cached bool
}
