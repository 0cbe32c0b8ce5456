package build

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jetbuild/jetbuild/internal/config"
	"github.com/jetbuild/jetbuild/internal/engine"
	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/pkg/assets"
)

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
<title>{{.Name}}</title>
<style>{{.CSS}}</style>
</head>
<body>
<p class="version">{{.Version}}</p>
<link rel="preload" href="{{asset "app.js"}}">
<script>{{.JS}}</script>
</body>
</html>
`

const loaderScript = `var SCRIPTS = [];
SCRIPTS.forEach(function (src) {
  var el = document.createElement('script');
  el.src = src;
  document.body.appendChild(el);
});
`

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func mustReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// writeProject lays out a small game project and returns its config.
func writeProject(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"shader/sprite.vert":      "attribute vec2 Position;\nvoid main() {}\n",
		"shader/sprite.frag":      "void main() { gl_FragColor = vec4(1.0); }\n",
		"assets/images/ship.png":  "png ship v1",
		"assets/images/ui/ok.jpg": "jpg ok",
		"assets/images/Font.json": `{"size": 16, "glyphs": "ABC"}`,
		"src/app.js": `'use strict';
var util = require('./util');
var shaders = require('../shader/all');
console.log(util.name, Object.keys(shaders).length);
`,
		"src/util.js":            "exports.name = 'util';\n",
		"vendor/lib.js":          "module.exports = { version: '1.0' };\n",
		"static/index.html.tmpl": indexTemplate,
		"static/style.css":       "body {\n  margin: 0px;\n  background: #000000;\n}\n",
		"static/load.js":         loaderScript,
	}
	for name, content := range files {
		mustWriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), content)
	}

	cfg := config.New()
	cfg.Name = "Test Game"
	cfg.Version = "1.2.3"
	cfg.Vendor = []config.VendorModule{
		{Name: "lib", Output: "build/lib.js", Source: "vendor/lib.js"},
	}
	if err := cfg.SaveTo(filepath.Join(dir, config.ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newBuilder(cfg *config.Config, opts Options) *Builder {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, opts)
}

func mustBuild(t *testing.T, cfg *config.Config, opts Options) *Result {
	t.Helper()
	result, err := newBuilder(cfg, opts).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return result
}

func artifact(t *testing.T, result *Result, logical string) *engine.Artifact {
	t.Helper()
	for _, a := range result.Artifacts {
		if a.LogicalPath == logical {
			return a
		}
	}
	t.Fatalf("no artifact for %s", logical)
	return nil
}

func TestNew(t *testing.T) {
	cfg := config.New()
	cfg.Build.Minify = true
	cfg.Build.Target = "es2017"
	cfg.Build.Jobs = 3

	builder := New(cfg, Options{})

	if !builder.options.Minify {
		t.Error("Minify should be true from config")
	}
	if builder.options.Target != "es2017" {
		t.Errorf("Target = %q, want es2017", builder.options.Target)
	}
	if builder.options.Jobs != 3 {
		t.Errorf("Jobs = %d, want 3", builder.options.Jobs)
	}
}

func TestNew_OptionsOverride(t *testing.T) {
	cfg := config.New()
	cfg.Build.Minify = false

	builder := New(cfg, Options{
		Minify: true,
		Target: "es2020",
		Jobs:   8,
	})

	if !builder.options.Minify {
		t.Error("Minify should be true from options")
	}
	if builder.options.Target != "es2020" || builder.options.Jobs != 8 {
		t.Errorf("options = %+v", builder.options)
	}
}

func TestBuild_EndToEnd(t *testing.T) {
	cfg := writeProject(t)
	root := cfg.Dir()

	var steps []string
	result := mustBuild(t, cfg, Options{OnProgress: func(s string) { steps = append(steps, s) }})

	if len(result.Artifacts) != 8 {
		t.Fatalf("got %d artifacts, want 8", len(result.Artifacts))
	}
	if result.Stats.Built != 8 || result.Stats.Cached != 0 {
		t.Errorf("Stats = %+v", result.Stats)
	}
	if len(steps) == 0 {
		t.Error("OnProgress was never called")
	}

	shaders := mustReadFile(t, filepath.Join(root, "shader", "all.js"))
	if !strings.HasPrefix(shaders, "module.exports = {\n") || !strings.Contains(shaders, `"sprite.frag": `) {
		t.Errorf("shader module = %q", shaders)
	}
	if strings.Index(shaders, "sprite.frag") > strings.Index(shaders, "sprite.vert") {
		t.Error("shader names should be sorted")
	}

	ship := artifact(t, result, "build/assets/images/ship.png")
	if !strings.HasPrefix(ship.ActualPath, "build/assets/images/ship.") || ship.ActualPath == ship.LogicalPath {
		t.Errorf("image not busted: %s", ship.ActualPath)
	}
	if got := mustReadFile(t, filepath.Join(root, ship.ActualPath)); got != "png ship v1" {
		t.Errorf("copied image = %q", got)
	}

	lib := artifact(t, result, "build/lib.js")
	if lib.ActualPath != "build/lib.js" {
		t.Errorf("vendor module should not be busted: %s", lib.ActualPath)
	}
	if !strings.Contains(mustReadFile(t, filepath.Join(root, "build", "lib.js")), `["lib"]`) {
		t.Error("vendor module should register under its name")
	}

	app := artifact(t, result, "build/app.js")
	bundle := mustReadFile(t, filepath.Join(root, app.ActualPath))
	if !strings.Contains(bundle, "sprite.vert") {
		t.Error("app bundle should include the shader module")
	}

	info := mustReadFile(t, filepath.Join(root, artifact(t, result, "build/assets.js").ActualPath))
	if !strings.Contains(info, "window.AssetInfo") {
		t.Errorf("assets.js = %q", info)
	}
	shipName := strings.TrimPrefix(ship.ActualPath, "build/assets/images/")
	if !strings.Contains(info, shipName) || !strings.Contains(info, "ui/ok") || !strings.Contains(info, "glyphs") {
		t.Errorf("assets.js should list images and the font: %q", info)
	}

	if result.Index != "build/index.html" {
		t.Errorf("Index = %q", result.Index)
	}
	index := mustReadFile(t, filepath.Join(root, "build", "index.html"))
	appName := strings.TrimPrefix(app.ActualPath, "build/")
	for _, want := range []string{"Test Game", "1.2.3", appName, "lib.js", "margin:0"} {
		if !strings.Contains(index, want) {
			t.Errorf("index.html should contain %q:\n%s", want, index)
		}
	}
	if strings.Contains(index, "var SCRIPTS = [];") {
		t.Error("loader placeholder was not filled in")
	}
	if !strings.Contains(index, `"lib.js","`+appName+`"`) {
		t.Error("vendor modules should load before the app")
	}

	manifest, err := assets.Load(filepath.Join(root, "build", assets.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Resolve("app.js") != appName {
		t.Errorf("manifest app.js = %q, want %q", manifest.Resolve("app.js"), appName)
	}
	if manifest.Resolve("index.html") != "index.html" || manifest.Has("shader/all.js") {
		t.Errorf("manifest = %v", manifest.All())
	}
	if !manifest.Fingerprinted(appName) {
		t.Error("app bundle should be fingerprinted")
	}
}

func TestBuild_SecondRunIsCached(t *testing.T) {
	cfg := writeProject(t)
	first := mustBuild(t, cfg, Options{})
	second := mustBuild(t, cfg, Options{})

	if second.Stats.Built != 0 || second.Stats.Cached != len(second.Artifacts) {
		t.Errorf("Stats = %+v", second.Stats)
	}
	for i, a := range second.Artifacts {
		if a.ActualPath != first.Artifacts[i].ActualPath {
			t.Errorf("%s moved from %s to %s", a.LogicalPath, first.Artifacts[i].ActualPath, a.ActualPath)
		}
	}
}

func TestBuild_ScriptChangeRebuildsDependents(t *testing.T) {
	cfg := writeProject(t)
	first := mustBuild(t, cfg, Options{})

	mustWriteFile(t, filepath.Join(cfg.Dir(), "src", "util.js"), "exports.name = 'changed';\n")
	second := mustBuild(t, cfg, Options{})

	built := map[string]bool{}
	for _, a := range second.Artifacts {
		if !a.Cached {
			built[a.LogicalPath] = true
		}
	}
	for _, want := range []string{"build/app.js", "build/index.html", "build/manifest.json"} {
		if !built[want] {
			t.Errorf("%s should rebuild", want)
		}
	}
	for _, cached := range []string{"shader/all.js", "build/assets.js", "build/lib.js", "build/assets/images/ship.png"} {
		if built[cached] {
			t.Errorf("%s should stay cached", cached)
		}
	}
	if artifact(t, second, "build/app.js").ActualPath == artifact(t, first, "build/app.js").ActualPath {
		t.Error("changed bundle should get a new name")
	}
}

func TestBuild_ImageChangeRebuildsAssetInfo(t *testing.T) {
	cfg := writeProject(t)
	mustBuild(t, cfg, Options{})

	mustWriteFile(t, filepath.Join(cfg.Dir(), "assets", "images", "ship.png"), "png ship v2")
	result := mustBuild(t, cfg, Options{})

	if artifact(t, result, "build/assets.js").Cached {
		t.Error("assets.js should rebuild when an image name changes")
	}
	if !artifact(t, result, "build/app.js").Cached {
		t.Error("app.js does not depend on images")
	}
	if result.Stats.Built != 4 {
		t.Errorf("Stats = %+v, want 4 built", result.Stats)
	}
}

func TestBuild_NoBust(t *testing.T) {
	cfg := writeProject(t)
	cfg.Build.Bust = false
	result := mustBuild(t, cfg, Options{})

	for _, a := range result.Artifacts {
		if a.ActualPath != a.LogicalPath {
			t.Errorf("%s written as %s", a.LogicalPath, a.ActualPath)
		}
	}
	if !strings.Contains(mustReadFile(t, filepath.Join(cfg.Dir(), "build", "index.html")), `"app.js"`) {
		t.Error("index should load app.js")
	}
}

func TestBuild_ParallelMatchesSerial(t *testing.T) {
	cfg := writeProject(t)
	serial := mustBuild(t, cfg, Options{Force: true})
	parallel := mustBuild(t, cfg, Options{Force: true, Jobs: 4})

	if parallel.Stats.Built != len(parallel.Artifacts) {
		t.Errorf("Force should rebuild everything: %+v", parallel.Stats)
	}
	for i, a := range parallel.Artifacts {
		if a.ContentHash != serial.Artifacts[i].ContentHash {
			t.Errorf("%s differs between serial and parallel builds", a.LogicalPath)
		}
	}
}

func TestBuild_SQLiteCache(t *testing.T) {
	cfg := writeProject(t)
	cfg.Cache.Driver = "sqlite"
	cfg.Cache.Path = ".jetbuild/cache.db"

	mustBuild(t, cfg, Options{})
	result := mustBuild(t, cfg, Options{})
	if result.Stats.Built != 0 {
		t.Errorf("Stats = %+v", result.Stats)
	}
}

func TestBuild_SyntaxError(t *testing.T) {
	cfg := writeProject(t)
	mustWriteFile(t, filepath.Join(cfg.Dir(), "src", "util.js"), "exports.name = = 1;\n")

	_, err := newBuilder(cfg, Options{}).Build(context.Background())
	var coded *errors.Error
	if !stderrors.As(err, &coded) {
		t.Fatalf("err = %v, want *errors.Error", err)
	}
	if coded.Code != "E204" || coded.Output != "build/app.js" {
		t.Errorf("err = %v", coded)
	}
	if coded.Location == nil || !strings.HasSuffix(coded.Location.File, "util.js") || coded.Location.Line != 1 {
		t.Errorf("Location = %+v", coded.Location)
	}

	mustWriteFile(t, filepath.Join(cfg.Dir(), "src", "util.js"), "exports.name = 'fixed';\n")
	result := mustBuild(t, cfg, Options{})
	if artifact(t, result, "build/app.js").Cached {
		t.Error("failed step should run again")
	}
}

func TestBuild_MissingVendorSource(t *testing.T) {
	cfg := writeProject(t)
	cfg.Vendor = append(cfg.Vendor, config.VendorModule{Name: "gone", Output: "build/gone.js", Source: "vendor/gone.js"})

	_, err := newBuilder(cfg, Options{}).Build(context.Background())
	var coded *errors.Error
	if !stderrors.As(err, &coded) || coded.Code != "E205" || coded.Output != "build/gone.js" {
		t.Fatalf("err = %v, want E205 for build/gone.js", err)
	}
}

func TestBuild_MissingPlaceholder(t *testing.T) {
	cfg := writeProject(t)
	mustWriteFile(t, filepath.Join(cfg.Dir(), "static", "load.js"), "console.log('no list');\n")

	_, err := newBuilder(cfg, Options{}).Build(context.Background())
	var coded *errors.Error
	if !stderrors.As(err, &coded) || coded.Code != "E204" || coded.Output != "build/index.html" {
		t.Fatalf("err = %v, want E204 for build/index.html", err)
	}
}

func TestBuild_InvalidTarget(t *testing.T) {
	cfg := writeProject(t)
	_, err := newBuilder(cfg, Options{Target: "es1999"}).Build(context.Background())
	var coded *errors.Error
	if !stderrors.As(err, &coded) || coded.Code != "E201" {
		t.Fatalf("err = %v, want E201", err)
	}
}

func TestBuild_Canceled(t *testing.T) {
	cfg := writeProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBuilder(cfg, Options{}).Build(ctx)
	var coded *errors.Error
	if !stderrors.As(err, &coded) || coded.Code != "E209" {
		t.Fatalf("err = %v, want E209", err)
	}
}

func TestStatusAndClean(t *testing.T) {
	cfg := writeProject(t)
	result := mustBuild(t, cfg, Options{})
	builder := newBuilder(cfg, Options{})

	entries, err := builder.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(result.Artifacts) {
		t.Errorf("Status() = %d entries, want %d", len(entries), len(result.Artifacts))
	}

	if err := builder.Clean(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.OutputPath()); !os.IsNotExist(err) {
		t.Error("output directory should be removed")
	}

	rebuilt := mustBuild(t, cfg, Options{})
	if rebuilt.Stats.Built == 0 {
		t.Error("missing outputs should be rebuilt")
	}

	if err := builder.CleanCache(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.CachePath()); !os.IsNotExist(err) {
		t.Error("cache should be removed")
	}
}

func TestCoded(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"cycle", &engine.DependencyCycleError{Output: "a", Cycle: []string{"a", "b", "a"}}, "E203"},
		{"generation", &engine.GenerationError{Output: "a", Err: io.EOF}, "E204"},
		{"missing", &engine.MissingDependencyError{Output: "a", Dep: engine.File("x")}, "E205"},
		{"filesystem", &engine.FilesystemError{Output: "a", Op: "write", Path: "a", Err: io.ErrShortWrite}, "E206"},
		{"canceled", context.Canceled, "E209"},
		{"coded", errors.New("E202"), "E202"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *errors.Error
			if !stderrors.As(coded("/root", tt.err), &got) {
				t.Fatalf("coded(%v) is not *errors.Error", tt.err)
			}
			if got.Code != tt.code {
				t.Errorf("Code = %s, want %s", got.Code, tt.code)
			}
		})
	}

	plain := io.EOF
	if coded("/root", plain) != plain {
		t.Error("unknown errors should pass through")
	}
}
