// Package assets provides resolution of fingerprinted asset paths.
//
// Every build writes manifest.json to the output directory, mapping each
// artifact's logical name to the name it was written under. Both sides are
// relative to the output directory and use forward slashes:
//
//	{
//	  "app.js": "app.3f9a0c1e5b7d2468.js",
//	  "assets/images/ship.png": "assets/images/ship.7c21d04ab9e35f10.png",
//	  "index.html": "index.html"
//	}
//
// The dev server and the publisher load the manifest to decide which files
// are content-addressed and may be cached forever:
//
//	manifest, _ := assets.Load("build/manifest.json")
//	resolver := assets.NewResolver(manifest, "/")
//	resolver.Asset("app.js") // "/app.3f9a0c1e5b7d2468.js"
package assets

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the manifest's name inside the output directory.
const FileName = "manifest.json"

// Manifest holds the mapping from logical asset paths to fingerprinted paths.
// It is safe for concurrent use.
type Manifest struct {
	entries map[string]string
	mu      sync.RWMutex
}

// NewManifest creates an empty manifest.
// Use Load() to create a manifest from a JSON file.
func NewManifest() *Manifest {
	return &Manifest{
		entries: make(map[string]string),
	}
}

// Load reads a manifest.json file and returns a Manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]string)
	}

	return &Manifest{entries: entries}, nil
}

// Resolve returns the fingerprinted path for the given logical path.
// If not found, returns the original path unchanged.
func (m *Manifest) Resolve(logical string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if resolved, ok := m.entries[logical]; ok {
		return resolved
	}
	return logical
}

// Has returns true if the manifest contains the given logical path.
func (m *Manifest) Has(logical string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[logical]
	return ok
}

// Fingerprinted reports whether resolved is the busted name of some entry,
// that is, a path whose content can never change.
func (m *Manifest) Fingerprinted(resolved string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for logical, r := range m.entries {
		if r == resolved && r != logical {
			return true
		}
	}
	return false
}

// Set adds or updates an entry in the manifest.
func (m *Manifest) Set(logical, resolved string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[logical] = resolved
}

// Len returns the number of entries in the manifest.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// All returns a copy of all manifest entries.
func (m *Manifest) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		result[k] = v
	}
	return result
}

// MarshalJSON encodes the manifest with sorted keys and two-space indent, so
// identical manifests encode to identical bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.All()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the manifest to path, replacing any previous file in a
// single rename.
func (m *Manifest) WriteFile(path string) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
