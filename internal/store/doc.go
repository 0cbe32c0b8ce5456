// Package store persists build artifact metadata across runs.
//
// Each logical output path owns exactly one Entry: the path the bytes were
// actually written to (hash-qualified when cache busting is on), the content
// hash of those bytes, and the fingerprint of every declared dependency at the
// time the artifact was generated. The engine compares that snapshot with the
// current state of the dependencies to decide whether to regenerate.
//
// # Backends
//
//   - file: one JSON record per logical path under <dir>/entries, written with
//     temp file + fsync + rename so a crash never leaves a half-written record.
//   - sqlite: a single database file in WAL mode; each Save is one upsert in a
//     transaction.
//
// Both backends support updating one entry without touching any other.
//
// # Stale marks
//
// When a generator fails the engine calls MarkStale. The entry keeps reporting
// the last successful actual path and hash, but Load sets Entry.Stale so the
// next build regenerates instead of trusting it. Save clears the mark.
//
// # Corruption
//
// An unreadable record yields a *CorruptionError. Callers treat it as a
// missing entry and rebuild. A SQLite file that is not a database is moved
// aside by Open and replaced with an empty one.
package store
