package engine

import (
	"fmt"
	"strings"
)

// GenerationError reports a failing generator.
type GenerationError struct {
	Output string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Output, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// DependencyCycleError reports a cycle reachable from Output.
type DependencyCycleError struct {
	Output string
	Cycle  []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("build %s: dependency cycle: %s", e.Output, strings.Join(e.Cycle, " -> "))
}

// FilesystemError reports an I/O failure while building Output. Path is the
// file that could not be read or written.
type FilesystemError struct {
	Output string
	Op     string
	Path   string
	Err    error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("build %s: %s %s: %v", e.Output, e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// MissingDependencyError reports a declared dependency that does not exist:
// an input file that is absent, or an output no rule has produced.
type MissingDependencyError struct {
	Output string
	Dep    Dep
	Err    error
}

func (e *MissingDependencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build %s: missing %s dependency %s: %v", e.Output, e.Dep.Kind, e.Dep.Path, e.Err)
	}
	return fmt.Sprintf("build %s: missing %s dependency %s", e.Output, e.Dep.Kind, e.Dep.Path)
}

func (e *MissingDependencyError) Unwrap() error {
	return e.Err
}
