package dev

import (
	"path/filepath"

	"github.com/jetbuild/jetbuild/internal/config"
)

// CollectWatchPaths returns the deduplicated absolute paths to poll: the
// configured source locations, the project file, vendor sources and any
// entries in dev.watch.
func CollectWatchPaths(cfg *config.Config) []string {
	projectDir := cfg.Dir()
	s := cfg.Sources
	paths := []string{
		cfg.Path(),
		resolvePath(projectDir, s.Shaders),
		resolvePath(projectDir, s.Images),
		resolvePath(projectDir, s.Font),
		resolvePath(projectDir, s.Scripts),
		resolvePath(projectDir, s.Entry),
		resolvePath(projectDir, s.Template),
		resolvePath(projectDir, s.Style),
		resolvePath(projectDir, s.Loader),
	}

	for _, v := range cfg.Vendor {
		paths = append(paths, resolvePath(projectDir, v.Source))
	}

	for _, path := range cfg.Dev.Watch {
		paths = append(paths, resolvePath(projectDir, path))
	}

	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		clean := filepath.Clean(path)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		unique = append(unique, clean)
	}

	return unique
}

func resolvePath(projectDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectDir, filepath.FromSlash(path))
}
