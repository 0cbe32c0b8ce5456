// Package publish uploads a build output directory to S3.
//
// Uploads run in three phases so a reader of the bucket never sees a page
// that references a missing file: fingerprinted files first, with an
// immutable Cache-Control, then other files, then HTML pages and the
// manifest, which are revalidated on every request. Each object carries the
// content hash of its file in metadata; objects whose stored hash matches
// are skipped.
package publish
