package dev

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ChangeType represents the type of file change.
type ChangeType int

const (
	ChangeScript ChangeType = iota
	ChangeStyle
	ChangeShader
	ChangeTemplate
	ChangeConfig
	ChangeAsset
)

func (t ChangeType) String() string {
	switch t {
	case ChangeScript:
		return "script"
	case ChangeStyle:
		return "style"
	case ChangeShader:
		return "shader"
	case ChangeTemplate:
		return "template"
	case ChangeConfig:
		return "config"
	default:
		return "asset"
	}
}

// Change represents a detected file change.
type Change struct {
	Path string
	Type ChangeType
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are the files and directories to watch.
	Paths []string

	// Ignore patterns to skip (names, path segments or globs).
	Ignore []string

	// Skip, if set, reports paths to leave out in addition to Ignore. It is
	// consulted on every poll, so the set it describes may change.
	Skip func(path string) bool

	// Interval is the polling interval.
	Interval time.Duration
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".jetbuild",
	"*.tmp",
	"*.swp",
	"*~",
	".DS_Store",
}

// Watcher polls files for changes.
type Watcher struct {
	config      WatcherConfig
	onChange    func(Change)
	mu          sync.Mutex
	running     bool
	initialized bool
	stopCh      chan struct{}
	timestamps  map[string]stamp
}

// stamp identifies one version of a file.
type stamp struct {
	modTime time.Time
	size    int64
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Interval <= 0 {
		config.Interval = 300 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}

	return &Watcher{
		config:     config,
		timestamps: make(map[string]stamp),
	}
}

// OnChange sets the callback for file changes.
func (w *Watcher) OnChange(fn func(Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	w.scanInitial()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

// scanInitial records the current state without reporting anything.
func (w *Watcher) scanInitial() {
	w.walk(func(p string, info os.FileInfo) {
		w.mu.Lock()
		w.timestamps[p] = stamp{modTime: info.ModTime(), size: info.Size()}
		w.mu.Unlock()
	})

	w.mu.Lock()
	w.initialized = true
	w.mu.Unlock()
}

// checkForChanges scans for new, modified and deleted files.
func (w *Watcher) checkForChanges() {
	w.mu.Lock()
	callback := w.onChange
	initialized := w.initialized
	w.mu.Unlock()

	if callback == nil {
		return
	}

	var changes []Change
	seen := make(map[string]bool)

	w.walk(func(p string, info os.FileInfo) {
		seen[p] = true
		current := stamp{modTime: info.ModTime(), size: info.Size()}

		w.mu.Lock()
		last, exists := w.timestamps[p]
		if !exists || current != last {
			w.timestamps[p] = current
		}
		w.mu.Unlock()

		if (exists && current != last) || (!exists && initialized) {
			changes = append(changes, Change{Path: p, Type: classifyChange(p)})
		}
	})

	w.mu.Lock()
	for p := range w.timestamps {
		if !seen[p] {
			delete(w.timestamps, p)
			changes = append(changes, Change{Path: p, Type: classifyChange(p)})
		}
	}
	w.mu.Unlock()

	// Report the first change of each type; the receiver rebuilds
	// everything anyway.
	reported := make(map[ChangeType]bool)
	for _, change := range changes {
		if !reported[change.Type] {
			reported[change.Type] = true
			callback(change)
		}
	}
}

// walk calls fn for every watched file that is not ignored. Watched paths
// may be files or directories; missing ones are skipped.
func (w *Watcher) walk(fn func(p string, info os.FileInfo)) {
	for _, root := range w.config.Paths {
		filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				if p != root && w.shouldIgnore(p) {
					return filepath.SkipDir
				}
				return nil
			}
			if !w.shouldIgnore(p) {
				fn(p, info)
			}
			return nil
		})
	}
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	if w.config.Skip != nil && w.config.Skip(fullPath) {
		return true
	}

	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(fullPath)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if name == pattern {
			return true
		}

		hasPathSep := strings.Contains(pattern, "/") || strings.Contains(pattern, "\\")
		hasGlob := strings.ContainsAny(pattern, "*?[")

		if hasGlob {
			if hasPathSep {
				if matched, _ := path.Match(filepath.ToSlash(pattern), normalized); matched {
					return true
				}
			} else if matched, _ := filepath.Match(pattern, name); matched {
				return true
			}
			continue
		}

		if hasPathSep {
			if pathMatchesSegments(normalized, filepath.ToSlash(pattern)) {
				return true
			}
			continue
		}

		if pathHasSegment(normalized, pattern) {
			return true
		}
	}

	return false
}

func pathHasSegment(path, segment string) bool {
	for _, part := range splitPathSegments(path) {
		if part == segment {
			return true
		}
	}
	return false
}

func pathMatchesSegments(path, pattern string) bool {
	pathParts := splitPathSegments(path)
	patternParts := splitPathSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}

	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}

	return false
}

func splitPathSegments(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}

// classifyChange determines the type of change from the file name.
func classifyChange(p string) ChangeType {
	name := strings.ToLower(filepath.Base(p))
	if strings.HasPrefix(name, "jetbuild.") {
		return ChangeConfig
	}
	switch filepath.Ext(name) {
	case ".js", ".mjs", ".cjs":
		return ChangeScript
	case ".css":
		return ChangeStyle
	case ".vert", ".frag", ".glsl":
		return ChangeShader
	case ".html", ".tmpl", ".gohtml":
		return ChangeTemplate
	default:
		return ChangeAsset
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
