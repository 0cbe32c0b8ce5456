package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/internal/store"
)

// Snapshot keys. A snapshot maps each key to a hex fingerprint, except for
// the module key which holds the module name.
const (
	keyFile   = "file:"
	keyOutput = "output:"
	keyParams      = "params"
	keyModule      = "module"
	keyPrecompress = "precompress"
)

// snapshot fingerprints everything the output of req depends on.
func (e *Engine) snapshot(ctx context.Context, req Request, deps []Dep) (map[string]string, error) {
	snap := make(map[string]string, len(deps)+2)

	for _, d := range deps {
		switch d.Kind {
		case DepOutput:
			hash, err := e.outputHash(ctx, req.Output, d)
			if err != nil {
				return nil, err
			}
			snap[keyOutput+d.Path] = hash
		default:
			hash, err := e.fileHash(req.Output, d)
			if err != nil {
				return nil, err
			}
			snap[keyFile+d.Path] = hash
		}
	}

	if p, ok := req.Generator.(Parameterized); ok {
		data, err := p.Params()
		if err != nil {
			return nil, &GenerationError{Output: req.Output, Err: err}
		}
		snap[keyParams] = fingerprint.Sum(e.alg, data).Hex()
	}
	if req.Module != "" {
		snap[keyModule] = e.registry + "." + req.Module
	}
	if encs := e.encodingsFor(req.Output); len(encs) > 0 {
		names := make([]string, len(encs))
		for i, enc := range encs {
			names[i] = enc.name
		}
		snap[keyPrecompress] = strings.Join(names, ",")
	}
	return snap, nil
}

// outputHash returns the content hash of another rule's output. A hash
// computed earlier in this run wins over the stored one.
func (e *Engine) outputHash(ctx context.Context, output string, d Dep) (string, error) {
	if a, ok := e.Lookup(d.Path); ok {
		return a.ContentHash, nil
	}

	entry, err := e.store.Load(ctx, d.Path)
	if err == nil {
		return entry.ContentHash, nil
	}
	var corrupt *store.CorruptionError
	if errors.Is(err, store.ErrNotFound) || errors.As(err, &corrupt) {
		return "", &MissingDependencyError{Output: output, Dep: d}
	}
	return "", &FilesystemError{Output: output, Op: "load cache entry", Path: d.Path, Err: err}
}

// fileHash fingerprints an input file, reusing the digest from earlier in
// the run while its size and modification time are unchanged.
func (e *Engine) fileHash(output string, d Dep) (string, error) {
	path := e.Abs(d.Path)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &MissingDependencyError{Output: output, Dep: d, Err: err}
		}
		return "", &FilesystemError{Output: output, Op: "stat", Path: d.Path, Err: err}
	}
	if info.IsDir() {
		return "", &FilesystemError{Output: output, Op: "read", Path: d.Path, Err: fmt.Errorf("is a directory")}
	}

	e.mu.Lock()
	stamp, ok := e.files[path]
	e.mu.Unlock()
	if ok && stamp.size == info.Size() && stamp.modTime.Equal(info.ModTime()) {
		return stamp.hash, nil
	}

	digest, err := fingerprint.SumFile(e.alg, path)
	if err != nil {
		return "", &FilesystemError{Output: output, Op: "read", Path: d.Path, Err: err}
	}
	hash := digest.Hex()

	e.mu.Lock()
	e.files[path] = fileStamp{modTime: info.ModTime(), size: info.Size(), hash: hash}
	e.mu.Unlock()
	return hash, nil
}

// staleReason returns why output must be rebuilt, or "" when the stored
// entry is still valid for snapshot.
func (e *Engine) staleReason(req Request, entry *store.Entry, snapshot map[string]string) string {
	output := req.Output
	switch {
	case entry == nil:
		return "no cache entry"
	case entry.Stale:
		if entry.StaleReason != "" {
			return "previous attempt failed: " + entry.StaleReason
		}
		return "marked stale"
	case entry.Algorithm != string(e.alg):
		return "hash algorithm changed"
	case e.force && !e.resolved(output):
		return "forced"
	}

	if _, err := os.Stat(e.Abs(entry.ActualPath)); err != nil {
		return "output missing"
	}
	if store.ResolveActualPath(output, entry.ContentHash, req.Bust, e.hashLength) != entry.ActualPath {
		return "output name changed"
	}
	for _, enc := range e.encodingsFor(output) {
		if _, err := os.Stat(e.Abs(entry.ActualPath) + enc.suffix); err != nil {
			return enc.name + " sibling missing"
		}
	}

	return diffSnapshot(entry.Deps, snapshot)
}

// diffSnapshot describes the first difference between two snapshots in key
// order, or returns "" when they are equal.
func diffSnapshot(old, cur map[string]string) string {
	keys := make([]string, 0, len(old)+len(cur))
	for k := range old {
		keys = append(keys, k)
	}
	for k := range cur {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		was, hadOld := old[k]
		now, hasCur := cur[k]
		switch {
		case !hadOld:
			return "dependency added: " + k
		case !hasCur:
			return "dependency removed: " + k
		case was != now:
			return "dependency changed: " + k
		}
	}
	return ""
}
