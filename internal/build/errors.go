package build

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"

	"github.com/jetbuild/jetbuild/internal/engine"
	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/internal/transform"
)

// coded maps an engine error to the coded error shown to the user. root is
// the directory esbuild locations are relative to.
func coded(root string, err error) error {
	if err == nil {
		return nil
	}

	var (
		already *errors.Error
		cycle   *engine.DependencyCycleError
		gen     *engine.GenerationError
		missing *engine.MissingDependencyError
		fsErr   *engine.FilesystemError
	)
	switch {
	case stderrors.As(err, &already):
		return already
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.New("E209").Wrap(err)
	case stderrors.As(err, &cycle):
		return errors.New("E203").
			WithOutput(cycle.Output).
			WithDetail(strings.Join(cycle.Cycle, " -> "))
	case stderrors.As(err, &missing):
		return errors.New("E205").
			WithOutput(missing.Output).
			WithDetail("Declared " + missing.Dep.Kind.String() + " dependency " + missing.Dep.Path + " does not exist").
			Wrap(missing.Err)
	case stderrors.As(err, &fsErr):
		return errors.New("E206").
			WithOutput(fsErr.Output).
			WithDetail("Could not " + fsErr.Op + " " + fsErr.Path).
			Wrap(fsErr.Err)
	case stderrors.As(err, &gen):
		e := errors.New("E204").WithOutput(gen.Output).Wrap(gen.Err)
		var terr *transform.Error
		if stderrors.As(gen.Err, &terr) && terr.File != "" {
			file := terr.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(root, file)
			}
			e = e.WithLocation(file, terr.Line, terr.Column)
		}
		return e
	}
	return err
}
