package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/jetbuild/jetbuild/internal/store"
)

// Precompression encodings accepted in Options.Precompress.
const (
	EncodingGzip = "gzip"
	EncodingZstd = "zstd"
)

type encoding struct {
	name   string
	suffix string
	encode func([]byte) ([]byte, error)
}

// compressible lists extensions worth shipping precompressed. Images and
// fonts are already compressed.
var compressible = map[string]bool{
	".css":  true,
	".html": true,
	".js":   true,
	".json": true,
	".map":  true,
	".mjs":  true,
	".svg":  true,
	".txt":  true,
	".xml":  true,
}

func parseEncodings(names []string) ([]encoding, error) {
	var out []encoding
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case EncodingGzip:
			out = append(out, encoding{name: name, suffix: ".gz", encode: gzipBytes})
		case EncodingZstd:
			out = append(out, encoding{name: name, suffix: ".zst", encode: zstdBytes})
		default:
			return nil, fmt.Errorf("unknown precompression encoding %q", name)
		}
	}
	return out, nil
}

// write stores data at the root-relative path actual, then writes any
// precompressed siblings.
func (e *Engine) write(actual string, data []byte) error {
	path := e.Abs(actual)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := store.WriteFileAtomic(path, data, 0644); err != nil {
		return err
	}

	for _, enc := range e.encodingsFor(actual) {
		packed, err := enc.encode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", enc.name, err)
		}
		if err := store.WriteFileAtomic(path+enc.suffix, packed, 0644); err != nil {
			return err
		}
	}
	return nil
}

// encodingsFor returns the precompressed siblings written next to name.
func (e *Engine) encodingsFor(name string) []encoding {
	if !compressible[strings.ToLower(filepath.Ext(name))] {
		return nil
	}
	return e.precompress
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zstdBytes(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}
