package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	entryExt = ".json"
	staleExt = ".stale"
)

// FileStore keeps one JSON record per logical path.
//
// Layout:
//
//	{Dir}/
//	  entries/
//	    {sha256(logical)}.json   entry record
//	    {sha256(logical)}.stale  failure reason, present only after a failed attempt
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, "entries"), 0755); err != nil {
		return nil, fmt.Errorf("store: create cache directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Load reads the entry for a logical path.
func (s *FileStore) Load(ctx context.Context, logical string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.entryPath(logical)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read entry for %s: %w", logical, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &CorruptionError{LogicalPath: logical, Location: path, Err: err}
	}
	if e.LogicalPath != logical {
		return nil, &CorruptionError{
			LogicalPath: logical,
			Location:    path,
			Err:         fmt.Errorf("record belongs to %q", e.LogicalPath),
		}
	}
	if e.Deps == nil {
		e.Deps = map[string]string{}
	}

	reason, err := os.ReadFile(s.stalePath(logical))
	switch {
	case err == nil:
		e.Stale = true
		e.StaleReason = string(reason)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("store: read stale mark for %s: %w", logical, err)
	}

	return &e, nil
}

// Save writes the record atomically, then removes any stale mark. A crash
// between the two leaves the new entry marked stale, which only costs a
// rebuild.
func (s *FileStore) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.LogicalPath == "" {
		return errors.New("store: entry has no logical path")
	}

	e.Stale = false
	e.StaleReason = ""
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode entry for %s: %w", e.LogicalPath, err)
	}
	data = append(data, '\n')

	if err := WriteFileAtomic(s.entryPath(e.LogicalPath), data, 0644); err != nil {
		return fmt.Errorf("store: write entry for %s: %w", e.LogicalPath, err)
	}
	if err := os.Remove(s.stalePath(e.LogicalPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: clear stale mark for %s: %w", e.LogicalPath, err)
	}
	return nil
}

// MarkStale writes the stale marker next to the entry.
func (s *FileStore) MarkStale(ctx context.Context, logical, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := WriteFileAtomic(s.stalePath(logical), []byte(reason), 0644); err != nil {
		return fmt.Errorf("store: mark %s stale: %w", logical, err)
	}
	return nil
}

// List returns all readable entries. Unreadable records are logged and skipped.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	dir := filepath.Join(s.dir, "entries")
	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}

	var entries []Entry
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), entryExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(dir, info.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("store: read %s: %w", path, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || e.LogicalPath == "" {
			s.logger.Warn("skipping unreadable cache entry", "path", path, "error", err)
			continue
		}
		if reason, err := os.ReadFile(s.stalePath(e.LogicalPath)); err == nil {
			e.Stale = true
			e.StaleReason = string(reason)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LogicalPath < entries[j].LogicalPath
	})
	return entries, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) key(logical string) string {
	sum := sha256.Sum256([]byte(logical))
	return hex.EncodeToString(sum[:])
}

func (s *FileStore) entryPath(logical string) string {
	return filepath.Join(s.dir, "entries", s.key(logical)+entryExt)
}

func (s *FileStore) stalePath(logical string) string {
	return filepath.Join(s.dir, "entries", s.key(logical)+staleExt)
}

// WriteFileAtomic writes data to a temp file in the destination directory,
// syncs it and renames it over path. Readers observe either the old or the
// new content, never a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
