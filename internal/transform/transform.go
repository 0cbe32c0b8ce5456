// Package transform holds the source transformations used by build rules:
// JavaScript bundling and minification and CSS minification through esbuild,
// and HTML minification through tdewolff/minify.
package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

// Options controls JavaScript and CSS output.
type Options struct {
	// Minify enables whitespace, identifier and syntax minification.
	Minify bool

	// SourceMaps appends an inline source map to bundles.
	SourceMaps bool

	// Target is the ECMAScript level, e.g. "es2017". Empty means esnext.
	Target string

	// GlobalName, if set, exposes the bundle's exports under this global.
	GlobalName string
}

var targets = map[string]api.Target{
	"":       api.ESNext,
	"esnext": api.ESNext,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es6":    api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

// ParseTarget maps a target name to an esbuild target.
func ParseTarget(name string) (api.Target, error) {
	t, ok := targets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return api.DefaultTarget, fmt.Errorf("unknown JavaScript target %q", name)
	}
	return t, nil
}

// Error carries esbuild diagnostics. File, Line and Column locate the first
// message when esbuild reported a source position; Column is 1-based.
type Error struct {
	Op       string
	Messages []string
	File     string
	Line     int
	Column   int
}

func (e *Error) Error() string {
	return e.Op + ": " + strings.Join(e.Messages, "\n")
}

// Bundle resolves entry and its imports into one IIFE script. Paths are
// resolved relative to dir, which must be absolute.
func Bundle(ctx context.Context, dir, entry string, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}

	build := api.BuildOptions{
		AbsWorkingDir:     dir,
		EntryPoints:       []string{entry},
		Bundle:            true,
		Write:             false,
		Format:            api.FormatIIFE,
		GlobalName:        opts.GlobalName,
		Platform:          api.PlatformBrowser,
		Target:            target,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		LogLevel:          api.LogLevelSilent,
	}
	if opts.SourceMaps {
		build.Sourcemap = api.SourceMapInline
	}

	result := api.Build(build)
	if len(result.Errors) > 0 {
		return nil, newError("bundle "+entry, result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("bundle %s: no output", entry)
	}
	return result.OutputFiles[0].Contents, nil
}

// JS minifies a standalone script. Without opts.Minify it only lowers
// syntax to opts.Target.
func JS(src []byte, opts Options) ([]byte, error) {
	return transform("javascript", src, api.LoaderJS, opts)
}

// CSS minifies a stylesheet.
func CSS(src []byte, opts Options) ([]byte, error) {
	return transform("css", src, api.LoaderCSS, opts)
}

func transform(kind string, src []byte, loader api.Loader, opts Options) ([]byte, error) {
	target, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	result := api.Transform(string(src), api.TransformOptions{
		Loader:            loader,
		Target:            target,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		LogLevel:          api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, newError("transform "+kind, result.Errors)
	}
	return result.Code, nil
}

var htmlMinifier = func() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return m
}()

// HTML minifies a document. Inline scripts and styles are left as they are;
// minify them with JS and CSS before templating.
func HTML(src []byte) ([]byte, error) {
	out, err := htmlMinifier.Bytes("text/html", src)
	if err != nil {
		return nil, fmt.Errorf("minify html: %w", err)
	}
	return out, nil
}

func newError(op string, msgs []api.Message) *Error {
	e := &Error{
		Op:       op,
		Messages: api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: api.ErrorMessage}),
	}
	if loc := msgs[0].Location; loc != nil && loc.File != "" && loc.File != "<stdin>" {
		e.File = loc.File
		e.Line = loc.Line
		e.Column = loc.Column + 1
	}
	return e
}
