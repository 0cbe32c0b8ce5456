package dev

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/pkg/assets"
)

// staticHandler serves the build output directory.
type staticHandler struct {
	dir string

	// manifest returns the manifest of the last successful build, or nil.
	manifest func() *assets.Manifest

	// inject adds DevClientScript to HTML responses.
	inject bool
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	urlPath := r.URL.Path
	if strings.HasSuffix(urlPath, "/") {
		urlPath += "index.html"
	}
	rel, ok := staticRelPath(urlPath)
	if !ok {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(h.dir, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	h.applyCacheHeaders(w, rel)

	if path.Ext(rel) == ".html" && h.inject {
		h.serveHTML(w, r, full, info)
		return
	}

	if enc, suffix := precompressed(r, full); enc != "" {
		f, err := os.Open(full + suffix)
		if err == nil {
			defer f.Close()
			w.Header().Set("Content-Encoding", enc)
			w.Header().Add("Vary", "Accept-Encoding")
			if ct := mimeType(rel); ct != "" {
				w.Header().Set("Content-Type", ct)
			}
			http.ServeContent(w, r, rel, info.ModTime(), f)
			return
		}
	}

	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, rel, info.ModTime(), f)
}

// serveHTML serves an HTML page with the reload client inserted before the
// closing body tag.
func (h *staticHandler) serveHTML(w http.ResponseWriter, r *http.Request, full string, info os.FileInfo) {
	body, err := os.ReadFile(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	body = injectScript(body, DevClientScript)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.Copy(w, bytes.NewReader(body))
	}
}

// applyCacheHeaders marks busted names immutable. Everything else is
// revalidated on every request so edits show up after a reload.
func (h *staticHandler) applyCacheHeaders(w http.ResponseWriter, rel string) {
	var m *assets.Manifest
	if h.manifest != nil {
		m = h.manifest()
	}
	if m != nil && m.Len() > 0 {
		if m.Fingerprinted(rel) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			return
		}
	} else if isFingerprinted(rel) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
}

// staticRelPath returns a sanitized relative path for a request path. It
// rejects traversal and absolute-path tricks so serving cannot escape the
// output directory.
func staticRelPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" {
		return "", false
	}

	// Reject NUL early (can appear via %00).
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}
	if strings.Contains(rel, "\\") {
		return "", false
	}
	// A leading "/" after trimming means "//etc/passwd".
	if strings.HasPrefix(rel, "/") {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}

	clean := path.Clean(rel)
	if clean == "." || clean == "" || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", false
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}

	return clean, true
}

// isFingerprinted reports whether a name carries a hex hash segment before
// its extension, e.g. "app.3f9a0c1e5b7d2468.js". It is used before the first
// build has produced a manifest.
func isFingerprinted(filePath string) bool {
	parts := strings.Split(path.Base(filePath), ".")
	if len(parts) < 3 {
		return false
	}
	hash := parts[len(parts)-2]
	return len(hash) >= 8 && fingerprint.IsHex(hash)
}

// precompressed picks a precompressed sibling of full that the client
// accepts, preferring zstd.
func precompressed(r *http.Request, full string) (encoding, suffix string) {
	accept := r.Header.Get("Accept-Encoding")
	if accept == "" {
		return "", ""
	}
	for _, c := range []struct{ enc, suffix string }{{"zstd", ".zst"}, {"gzip", ".gz"}} {
		if !strings.Contains(accept, c.enc) {
			continue
		}
		if _, err := os.Stat(full + c.suffix); err == nil {
			return c.enc, c.suffix
		}
	}
	return "", ""
}

// mimeType returns the content type for a file name, as ServeContent would
// pick it for the uncompressed file.
func mimeType(name string) string {
	switch path.Ext(name) {
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json", ".map":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".html":
		return "text/html; charset=utf-8"
	}
	return ""
}

// injectScript inserts script before the last closing body or html tag, or
// appends it.
func injectScript(body []byte, script string) []byte {
	for _, tag := range []string{"</body>", "</html>"} {
		if idx := bytes.LastIndex(body, []byte(tag)); idx != -1 {
			out := make([]byte, 0, len(body)+len(script))
			out = append(out, body[:idx]...)
			out = append(out, script...)
			return append(out, body[idx:]...)
		}
	}
	return append(body, script...)
}
