package assets

// Resolver provides asset path resolution.
// It combines manifest lookup with path prefixing.
type Resolver interface {
	// Asset resolves a logical asset path to its full URL path.
	// This includes any configured prefix and fingerprinted filename.
	//
	// Example:
	//   resolver.Asset("app.js") → "/app.3f9a0c1e5b7d2468.js"
	Asset(logical string) string
}

// manifestResolver wraps a Manifest to implement Resolver.
type manifestResolver struct {
	manifest *Manifest
	prefix   string
}

// NewResolver creates a Resolver from a Manifest with an optional path prefix.
//
// The prefix is prepended to all resolved paths. The index page uses an
// empty prefix so that links stay relative to the output directory; the dev
// server uses "/".
func NewResolver(m *Manifest, prefix string) Resolver {
	return &manifestResolver{
		manifest: m,
		prefix:   prefix,
	}
}

func (r *manifestResolver) Asset(logical string) string {
	return r.prefix + r.manifest.Resolve(logical)
}
