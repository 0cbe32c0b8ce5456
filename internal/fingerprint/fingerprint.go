// Package fingerprint computes content fingerprints for build artifacts.
//
// A fingerprint is a fixed-length lowercase hex digest. It is used both for
// change detection (the store compares fingerprints of dependencies between
// runs) and for cache busting (a prefix of the fingerprint is embedded in the
// output filename).
//
//	d := fingerprint.Sum(fingerprint.SHA256, data)
//	name := fingerprint.Short(d.Hex(), 16)
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Algorithm names a digest function.
type Algorithm string

const (
	// SHA256 is the default algorithm.
	SHA256 Algorithm = "sha256"

	// BLAKE3 is faster on large inputs and produces the same digest width.
	BLAKE3 Algorithm = "blake3"
)

// DefaultShortLength is the number of hex characters used in busted filenames.
const DefaultShortLength = 16

// Digest is a 32-byte content digest together with the algorithm that made it.
type Digest struct {
	Algorithm Algorithm
	Sum       [32]byte
}

// Hex returns the lowercase hex form of the digest. It is always 64 characters
// and safe to embed in a filename.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Sum[:])
}

// String returns "algorithm:hex".
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex()
}

// ParseAlgorithm validates an algorithm name. The empty string selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q (want %q or %q)", name, SHA256, BLAKE3)
	}
}

// New returns a streaming hasher for the algorithm.
func New(alg Algorithm) hash.Hash {
	if alg == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Sum fingerprints a byte payload. It has no side effects.
func Sum(alg Algorithm, data []byte) Digest {
	d := Digest{Algorithm: alg}
	switch alg {
	case BLAKE3:
		d.Sum = blake3.Sum256(data)
	default:
		d.Algorithm = SHA256
		d.Sum = sha256.Sum256(data)
	}
	return d
}

// SumReader fingerprints everything read from r.
func SumReader(alg Algorithm, r io.Reader) (Digest, error) {
	h := New(alg)
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	if alg != BLAKE3 {
		alg = SHA256
	}
	d := Digest{Algorithm: alg}
	copy(d.Sum[:], h.Sum(nil))
	return d, nil
}

// SumFile fingerprints the current contents of a file.
func SumFile(alg Algorithm, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	return SumReader(alg, f)
}

// Short truncates a hex digest to n characters. Values of n outside
// (0, len(hex)] return the full digest.
func Short(hexDigest string, n int) string {
	if n <= 0 || n >= len(hexDigest) {
		return hexDigest
	}
	return hexDigest[:n]
}

// IsHex reports whether s is non-empty and made only of hex digits.
func IsHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
