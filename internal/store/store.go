package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Backend drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ErrNotFound is returned by Load when no entry exists for a logical path.
var ErrNotFound = errors.New("store: entry not found")

// Entry is the persisted record of the last successful build of one output.
type Entry struct {
	// LogicalPath is the path the build rule asked for.
	LogicalPath string `json:"logical_path"`

	// ActualPath is where the bytes live. Equal to LogicalPath unless busted.
	ActualPath string `json:"actual_path"`

	// ContentHash is the full hex fingerprint of the output bytes.
	ContentHash string `json:"content_hash"`

	// Algorithm is the fingerprint algorithm used for ContentHash and Deps.
	Algorithm string `json:"algorithm"`

	// Deps maps each dependency key to its fingerprint at generation time.
	Deps map[string]string `json:"deps"`

	// Size is the output size in bytes.
	Size int64 `json:"size"`

	// BuiltAt is when the output was written.
	BuiltAt time.Time `json:"built_at"`

	// RunID identifies the engine run that produced the output.
	RunID string `json:"run_id,omitempty"`

	// Stale is set when a later build attempt failed. Not persisted in the
	// record itself.
	Stale bool `json:"-"`

	// StaleReason is the failure message recorded by MarkStale.
	StaleReason string `json:"-"`
}

// Store is the artifact metadata store.
type Store interface {
	// Load returns the entry for a logical path, ErrNotFound, or a
	// *CorruptionError when the record cannot be decoded.
	Load(ctx context.Context, logical string) (*Entry, error)

	// Save atomically replaces the entry for e.LogicalPath and clears any
	// stale mark.
	Save(ctx context.Context, e Entry) error

	// MarkStale records a failed attempt without modifying the entry.
	MarkStale(ctx context.Context, logical, reason string) error

	// List returns all readable entries ordered by logical path.
	List(ctx context.Context) ([]Entry, error)

	// Close releases resources held by the store.
	Close() error
}

// CorruptionError reports an unreadable record.
type CorruptionError struct {
	LogicalPath string
	Location    string
	Err         error
}

func (e *CorruptionError) Error() string {
	if e.LogicalPath != "" {
		return fmt.Sprintf("store: corrupt entry for %s at %s: %v", e.LogicalPath, e.Location, e.Err)
	}
	return fmt.Sprintf("store: corrupt data at %s: %v", e.Location, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Options configures Open.
type Options struct {
	// Driver is DriverFile (default) or DriverSQLite.
	Driver string

	// Path is the cache directory for the file driver or the database file
	// for the sqlite driver.
	Path string

	// Logger receives recovery warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Open opens the configured backend.
func Open(opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Path == "" {
		return nil, errors.New("store: path is required")
	}

	switch opts.Driver {
	case "", DriverFile:
		return NewFileStore(opts.Path, logger)
	case DriverSQLite:
		return OpenSQLite(opts.Path, logger)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}

// ResolveActualPath returns the path an artifact is written to.
//
// Without bust the logical path is returned unchanged. With bust the first
// hashLength characters of contentHash are inserted before the final
// extension: "build/app.js" becomes "build/app.<hash>.js". Identical content
// therefore always maps to the same name and different content to a
// different one.
func ResolveActualPath(logical, contentHash string, bust bool, hashLength int) string {
	if !bust {
		return logical
	}

	short := contentHash
	if hashLength > 0 && hashLength < len(contentHash) {
		short = contentHash[:hashLength]
	}

	dir, base := filepath.Split(logical)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// Dotfiles such as ".htaccess" have no stem; append instead.
		return dir + base + "." + short
	}
	return dir + stem + "." + short + ext
}
