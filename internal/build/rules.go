package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jetbuild/jetbuild/internal/engine"
	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/internal/transform"
	"github.com/jetbuild/jetbuild/pkg/assets"
)

// scriptsPlaceholder is replaced in the loader with the list of scripts to
// load, in order.
const scriptsPlaceholder = "var SCRIPTS = [];"

// sources are the input files found under the project root, as sorted
// root-relative slash paths.
type sources struct {
	shaders []string
	images  []string
	scripts []string
}

// image is one copied image.
type image struct {
	source string
	output string
}

func (r *run) collect() (*sources, error) {
	s := r.config.Sources
	var src sources
	var err error
	if src.shaders, err = r.files(s.Shaders, ".vert", ".frag"); err != nil {
		return nil, err
	}
	if src.images, err = r.files(s.Images, ".png", ".jpg"); err != nil {
		return nil, err
	}
	if src.scripts, err = r.files(s.Scripts, ".js"); err != nil {
		return nil, err
	}
	return &src, nil
}

// files lists the files under dir with one of exts. A missing directory
// has no files.
func (r *run) files(dir string, exts ...string) ([]string, error) {
	root := r.engine.Abs(dir)
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !hasExt(p, exts) {
			return nil
		}
		rel, err := filepath.Rel(r.engine.Root(), p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.New("E206").
			WithDetail("Could not list " + dir).
			Wrap(err)
	}
	return out, nil
}

func hasExt(p string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// sourceRequests returns the rules that depend only on source files and on
// each other: the shader module, image copies, vendor modules and the app
// bundle.
func (r *run) sourceRequests(src *sources) []engine.Request {
	reqs := []engine.Request{{
		Output:    r.shaderOutput(),
		Generator: engine.Bind(r.shaderModule, src.shaders),
		Deps:      engine.Files(src.shaders...),
	}}

	for _, img := range src.images {
		reqs = append(reqs, r.engine.CopyRequest(r.imageOutput(img), img, r.config.Build.Bust))
	}

	for _, v := range r.config.Vendor {
		reqs = append(reqs, engine.ModuleRequest(v.Output, v.Name, r.readFile(v.Source), engine.File(v.Source)))
	}

	deps := append([]string{}, src.scripts...)
	entry := filepath.ToSlash(r.config.Sources.Entry)
	if !contains(deps, entry) {
		deps = append(deps, entry)
	}
	deps = append(deps, r.shaderOutput())
	reqs = append(reqs, engine.Request{
		Output:    r.appOutput(),
		Generator: engine.GeneratorFunc(r.appBundle),
		Deps:      engine.Paths(deps...),
		Bust:      r.config.Build.Bust,
	})

	return reqs
}

func (r *run) shaderOutput() string {
	return path.Join(filepath.ToSlash(r.config.Sources.Shaders), "all.js")
}

func (r *run) appOutput() string {
	return r.output("app.js")
}

// imageOutput maps an image source to its logical output, keeping its path
// below the project root.
func (r *run) imageOutput(source string) string {
	return r.output(source)
}

// shaderModule renders the shader sources as a CommonJS module mapping each
// file name to its text.
func (r *run) shaderModule(ctx context.Context, paths []string) ([]byte, error) {
	dir := filepath.ToSlash(r.config.Sources.Shaders)
	shaders := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(r.engine.Abs(p))
		if err != nil {
			return nil, err
		}
		shaders[strings.TrimPrefix(p, dir+"/")] = string(data)
	}

	body, err := marshalIndent(shaders)
	if err != nil {
		return nil, err
	}
	return []byte("module.exports = " + body + ";\n"), nil
}

func (r *run) readFile(source string) engine.Generator {
	abs := r.engine.Abs(source)
	return engine.GeneratorFunc(func(ctx context.Context) ([]byte, error) {
		return os.ReadFile(abs)
	})
}

func (r *run) appBundle(ctx context.Context) ([]byte, error) {
	entry := "./" + filepath.ToSlash(r.config.Sources.Entry)
	return transform.Bundle(ctx, r.engine.Root(), entry, r.transform)
}

// assetInfo renders the asset description the game reads at startup: the
// bitmap font and a map from image name to its written path below the
// image output directory.
func (r *run) assetInfo(imageSources []string) (string, error) {
	imagesDir := filepath.ToSlash(r.config.Sources.Images)
	outDir := r.imageOutput(imagesDir) + "/"

	images := make(map[string]string, len(imageSources))
	for _, src := range imageSources {
		a, ok := r.engine.Lookup(r.imageOutput(src))
		if !ok {
			continue
		}
		name := strings.TrimPrefix(src, imagesDir+"/")
		name = strings.TrimSuffix(name, path.Ext(name))
		images[name] = strings.TrimPrefix(a.ActualPath, outDir)
	}

	info := map[string]any{
		path.Base(imagesDir): images,
	}

	font, err := os.ReadFile(r.engine.Abs(r.config.Sources.Font))
	switch {
	case err == nil:
		if !json.Valid(font) {
			return "", errors.New("E201").
				WithOutput(r.output("assets.js")).
				WithDetail(r.config.Sources.Font + " is not valid JSON")
		}
		info["Font"] = json.RawMessage(font)
	case os.IsNotExist(err):
	default:
		return "", errors.New("E206").WithOutput(r.output("assets.js")).Wrap(err)
	}

	return marshalIndent(info)
}

func (r *run) assetsRequest(info string, imageSources []string) engine.Request {
	deps := make([]engine.Dep, len(imageSources))
	for i, src := range imageSources {
		deps[i] = engine.Output(r.imageOutput(src))
	}
	return engine.Request{
		Output:    r.output("assets.js"),
		Generator: engine.Bind(r.assetsScript, info),
		Deps:      deps,
		Bust:      r.config.Build.Bust,
	}
}

func (r *run) assetsScript(ctx context.Context, info string) ([]byte, error) {
	return transform.JS([]byte("window.AssetInfo = "+info+"\n"), r.transform)
}

// indexArgs are bound into the index page rule. Scripts are root-relative
// written paths, in load order.
type indexArgs struct {
	Scripts []string          `json:"scripts"`
	Version string            `json:"version"`
	Assets  map[string]string `json:"assets"`
}

// indexData is the template context of the index page.
type indexData struct {
	Name    string
	Version string
	Scripts []string
	CSS     template.CSS
	JS      template.JS
}

func (r *run) indexRequest(scripts []string, version string) engine.Request {
	s := r.config.Sources
	deps := engine.Files(s.Template, s.Style, s.Loader)
	for _, v := range r.config.Vendor {
		deps = append(deps, engine.Output(v.Output))
	}
	deps = append(deps, engine.Outputs(r.appOutput(), r.output("assets.js"))...)

	return engine.Request{
		Output: r.output("index.html"),
		Generator: engine.Bind(r.indexPage, indexArgs{
			Scripts: scripts,
			Version: version,
			Assets:  r.manifest.All(),
		}),
		Deps: deps,
	}
}

// indexPage renders the entry page with the stylesheet and the script
// loader inlined.
func (r *run) indexPage(ctx context.Context, args indexArgs) ([]byte, error) {
	s := r.config.Sources
	tmplSrc, err := os.ReadFile(r.engine.Abs(s.Template))
	if err != nil {
		return nil, err
	}
	style, err := os.ReadFile(r.engine.Abs(s.Style))
	if err != nil {
		return nil, err
	}
	loader, err := os.ReadFile(r.engine.Abs(s.Loader))
	if err != nil {
		return nil, err
	}

	relpath := func(p string) string {
		rel, _ := r.rel(p)
		return rel
	}
	scripts := make([]string, len(args.Scripts))
	for i, p := range args.Scripts {
		scripts[i] = relpath(p)
	}

	css, err := transform.CSS(style, r.transform)
	if err != nil {
		return nil, err
	}

	list, err := json.Marshal(scripts)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(loader, []byte(scriptsPlaceholder)) {
		return nil, fmt.Errorf("%s has no %q line to fill in", s.Loader, scriptsPlaceholder)
	}
	loader = bytes.Replace(loader, []byte(scriptsPlaceholder), []byte("var SCRIPTS = "+string(list)+";"), 1)
	js, err := transform.JS(loader, r.transform)
	if err != nil {
		return nil, err
	}

	manifest := assets.NewManifest()
	for k, v := range args.Assets {
		manifest.Set(k, v)
	}
	resolver := assets.NewResolver(manifest, "")

	tmpl, err := template.New(filepath.Base(s.Template)).
		Funcs(template.FuncMap{
			"relpath": relpath,
			"asset":   resolver.Asset,
		}).
		Parse(string(tmplSrc))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, indexData{
		Name:    r.config.Name,
		Version: args.Version,
		Scripts: scripts,
		CSS:     template.CSS(css),
		JS:      template.JS(js),
	})
	if err != nil {
		return nil, err
	}

	if !r.transform.Minify {
		return buf.Bytes(), nil
	}
	return transform.HTML(buf.Bytes())
}

func (r *run) manifestRequest() engine.Request {
	return engine.Request{
		Output: r.output(assets.FileName),
		Generator: engine.Bind(func(ctx context.Context, entries map[string]string) ([]byte, error) {
			m := assets.NewManifest()
			for k, v := range entries {
				m.Set(k, v)
			}
			return m.MarshalJSON()
		}, r.manifest.All()),
	}
}

// marshalIndent encodes v with sorted keys, two-space indent and no HTML
// escaping, without a trailing newline.
func marshalIndent(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
