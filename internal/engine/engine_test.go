package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/internal/store"
)

type fixture struct {
	t     *testing.T
	root  string
	store store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	st, err := store.NewFileStore(filepath.Join(root, ".jetbuild", "cache"), quietLogger())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &fixture{t: t, root: root, store: st}
}

// run starts a new build run over the same root and store.
func (f *fixture) run(opts ...func(*Options)) *Engine {
	f.t.Helper()
	o := Options{Root: f.root, Store: f.store, Logger: quietLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	eng, err := New(o)
	if err != nil {
		f.t.Fatalf("New: %v", err)
	}
	return eng
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		f.t.Fatal(err)
	}
	return string(data)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// counting returns a generator that counts its invocations.
func counting(calls *int32, fn func() ([]byte, error)) Generator {
	return GeneratorFunc(func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(calls, 1)
		return fn()
	})
}

func constant(s string) func() ([]byte, error) {
	return func() ([]byte, error) { return []byte(s), nil }
}

// fromFile returns a generator body that upper-cases a source file.
func fromFile(f *fixture, rel string) func() ([]byte, error) {
	return func() ([]byte, error) {
		return []byte(strings.ToUpper(f.read(rel))), nil
	}
}

func mustBuild(t *testing.T, eng *Engine, req Request) *Artifact {
	t.Helper()
	a, err := eng.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build(%s): %v", req.Output, err)
	}
	return a
}

func TestNew_Validation(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts Options
	}{
		{"no store", Options{}},
		{"bad algorithm", Options{Store: st, Algorithm: "md5"}},
		{"bad encoding", Options{Store: st, Precompress: []string{"brotli"}}},
		{"bad registry", Options{Store: st, ModuleRegistry: "not-an-ident"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New should fail")
			}
		})
	}
}

func TestBuild_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.write("src/a.txt", "hello")

	var calls int32
	req := Request{
		Output:    "build/a.txt",
		Generator: counting(&calls, fromFile(f, "src/a.txt")),
		Deps:      Files("src/a.txt"),
	}

	eng := f.run()
	first := mustBuild(t, eng, req)
	second := mustBuild(t, eng, req)
	third := mustBuild(t, f.run(), req)

	if calls != 1 {
		t.Errorf("generator ran %d times, want 1", calls)
	}
	if first.Cached || !second.Cached || !third.Cached {
		t.Errorf("Cached = %v,%v,%v, want false,true,true", first.Cached, second.Cached, third.Cached)
	}
	if first.ActualPath != third.ActualPath || first.ContentHash != third.ContentHash {
		t.Errorf("cached artifact differs: %+v vs %+v", first, third)
	}
	if got := f.read("build/a.txt"); got != "HELLO" {
		t.Errorf("output = %q", got)
	}
}

func TestBuild_RebuildsOnInputChange(t *testing.T) {
	f := newFixture(t)
	f.write("src/a.txt", "one")

	var calls int32
	req := Request{
		Output:    "build/a.txt",
		Generator: counting(&calls, fromFile(f, "src/a.txt")),
		Deps:      Files("src/a.txt"),
	}

	before := mustBuild(t, f.run(), req)
	f.write("src/a.txt", "two")
	after := mustBuild(t, f.run(), req)

	if calls != 2 {
		t.Errorf("generator ran %d times, want 2", calls)
	}
	if before.ContentHash == after.ContentHash {
		t.Error("content hash should change")
	}
	if got := f.read("build/a.txt"); got != "TWO" {
		t.Errorf("output = %q", got)
	}
}

func TestBuild_ChangePropagatesThroughOutputs(t *testing.T) {
	f := newFixture(t)
	f.write("shader/a.vert", "void main() {}")

	var aCalls, bCalls int32
	reqA := Request{
		Output:    "shader/all.js",
		Generator: counting(&aCalls, fromFile(f, "shader/a.vert")),
		Deps:      Files("shader/a.vert"),
	}
	reqB := Request{
		Output: "build/app.js",
		Generator: counting(&bCalls, func() ([]byte, error) {
			return []byte("app:" + f.read("shader/all.js")), nil
		}),
		Deps: Outputs("shader/all.js"),
		Bust: true,
	}

	eng := f.run()
	mustBuild(t, eng, reqA)
	b1 := mustBuild(t, eng, reqB)

	// Unchanged inputs: nothing runs.
	eng = f.run()
	mustBuild(t, eng, reqA)
	mustBuild(t, eng, reqB)
	if aCalls != 1 || bCalls != 1 {
		t.Fatalf("calls = %d,%d, want 1,1", aCalls, bCalls)
	}

	// Changing the leaf rebuilds both.
	f.write("shader/a.vert", "void main() { discard; }")
	eng = f.run()
	a2 := mustBuild(t, eng, reqA)
	b2 := mustBuild(t, eng, reqB)
	if aCalls != 2 || bCalls != 2 {
		t.Fatalf("calls = %d,%d, want 2,2", aCalls, bCalls)
	}
	if b2.Deps["output:shader/all.js"] != a2.ContentHash {
		t.Errorf("B snapshot = %v, want A's new hash %s", b2.Deps, a2.ContentHash)
	}
	if b1.ActualPath == b2.ActualPath {
		t.Error("busted path should change with content")
	}
}

func TestBuild_PropagationStopsWhenOutputUnchanged(t *testing.T) {
	f := newFixture(t)
	f.write("src/a.txt", "x")

	var bCalls int32
	reqA := Request{
		Output:    "build/a.txt",
		Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return []byte("fixed"), nil }),
		Deps:      Files("src/a.txt"),
	}
	reqB := Request{
		Output:    "build/b.txt",
		Generator: counting(&bCalls, constant("b")),
		Deps:      Outputs("build/a.txt"),
	}

	eng := f.run()
	mustBuild(t, eng, reqA)
	mustBuild(t, eng, reqB)

	f.write("src/a.txt", "y")
	eng = f.run()
	a := mustBuild(t, eng, reqA)
	b := mustBuild(t, eng, reqB)

	if a.Cached {
		t.Error("A should rebuild after its input changed")
	}
	if !b.Cached || bCalls != 1 {
		t.Errorf("B should stay cached when A's bytes are unchanged (calls=%d)", bCalls)
	}
}

func TestBuild_SameRunFreshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	version := "v1"
	var bCalls int32
	reqA := Request{
		Output:    "build/a.js",
		Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return []byte(version), nil }),
	}
	reqB := Request{
		Output:    "build/b.js",
		Generator: counting(&bCalls, constant("b")),
		Deps:      Outputs("build/a.js"),
	}

	eng := f.run()
	a1 := mustBuild(t, eng, reqA)
	mustBuild(t, eng, reqB)

	version = "v2"
	if err := eng.Invalidate(ctx, "build/a.js"); err != nil {
		t.Fatal(err)
	}
	a2 := mustBuild(t, eng, reqA)
	if a2.Cached || a2.ContentHash == a1.ContentHash {
		t.Fatalf("A should rebuild with new content: %+v", a2)
	}

	b := mustBuild(t, eng, reqB)
	if b.Cached || bCalls != 2 {
		t.Errorf("B should rebuild against A's fresh hash (cached=%v calls=%d)", b.Cached, bCalls)
	}
	if b.Deps["output:build/a.js"] != a2.ContentHash {
		t.Errorf("B snapshot = %v, want %s", b.Deps, a2.ContentHash)
	}
}

func TestBuild_BustNaming(t *testing.T) {
	f := newFixture(t)
	eng := f.run(func(o *Options) { o.HashLength = 8 })

	a := mustBuild(t, eng, Request{Output: "build/app.js", Generator: GeneratorFunc(func(context.Context) ([]byte, error) {
		return []byte("console.log(1)"), nil
	}), Bust: true})

	want := "build/app." + a.ContentHash[:8] + ".js"
	if a.ActualPath != want {
		t.Errorf("ActualPath = %q, want %q", a.ActualPath, want)
	}
	if f.read(want) != "console.log(1)" {
		t.Error("busted file has wrong content")
	}
	if _, err := os.Stat(filepath.Join(f.root, "build", "app.js")); !os.IsNotExist(err) {
		t.Error("unbusted path should not be written")
	}

	same := mustBuild(t, f.run(func(o *Options) { o.HashLength = 8 }), Request{
		Output:    "build/other.js",
		Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return []byte("console.log(1)"), nil }),
		Bust:      true,
	})
	if !strings.Contains(same.ActualPath, a.ContentHash[:8]) {
		t.Errorf("identical content should carry the same hash: %s", same.ActualPath)
	}
}

func TestBuild_NamingChangeRebuilds(t *testing.T) {
	f := newFixture(t)

	var calls int32
	req := Request{Output: "build/a.js", Generator: counting(&calls, constant("var a;"))}

	plain := mustBuild(t, f.run(), req)
	if plain.ActualPath != "build/a.js" {
		t.Fatalf("ActualPath = %q, want build/a.js", plain.ActualPath)
	}

	req.Bust = true
	busted := mustBuild(t, f.run(), req)
	if busted.Cached {
		t.Error("turning busting on should rebuild")
	}
	if want := "build/a." + busted.ContentHash[:16] + ".js"; busted.ActualPath != want {
		t.Errorf("ActualPath = %q, want %q", busted.ActualPath, want)
	}

	longer := mustBuild(t, f.run(func(o *Options) { o.HashLength = 32 }), req)
	if longer.Cached {
		t.Error("changing the hash length should rebuild")
	}
	if want := "build/a." + longer.ContentHash[:32] + ".js"; longer.ActualPath != want {
		t.Errorf("ActualPath = %q, want %q", longer.ActualPath, want)
	}

	req.Bust = false
	again := mustBuild(t, f.run(), req)
	if again.Cached || again.ActualPath != "build/a.js" {
		t.Errorf("turning busting off should rebuild under the logical name, got %+v", again)
	}

	if cached := mustBuild(t, f.run(), req); !cached.Cached {
		t.Error("unchanged naming should stay cached")
	}
	if calls != 4 {
		t.Errorf("generator ran %d times, want 4", calls)
	}
}

func TestBuild_FailedGeneratorKeepsEntryAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write("src/a.txt", "good")

	fail := false
	var calls int32
	req := Request{
		Output: "build/a.txt",
		Generator: counting(&calls, func() ([]byte, error) {
			if fail {
				return nil, errors.New("compiler exploded")
			}
			return []byte("GOOD"), nil
		}),
		Deps: Files("src/a.txt"),
	}

	first := mustBuild(t, f.run(), req)

	fail = true
	f.write("src/a.txt", "changed")
	_, err := f.run().Build(ctx, req)
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Output != "build/a.txt" {
		t.Fatalf("err = %v, want *GenerationError", err)
	}

	entry, err := f.store.Load(ctx, "build/a.txt")
	if err != nil {
		t.Fatalf("Load after failure: %v", err)
	}
	if entry.ContentHash != first.ContentHash || !entry.Stale {
		t.Errorf("entry = %+v, want previous hash marked stale", entry)
	}
	if f.read("build/a.txt") != "GOOD" {
		t.Error("previous output should be untouched")
	}

	// Inputs match the stored snapshot again, but the failed attempt forces
	// a retry.
	fail = false
	f.write("src/a.txt", "good")
	again := mustBuild(t, f.run(), req)
	if again.Cached || calls != 3 {
		t.Errorf("expected a retry after failure (cached=%v calls=%d)", again.Cached, calls)
	}

	entry, _ = f.store.Load(ctx, "build/a.txt")
	if entry.Stale {
		t.Error("successful build should clear the stale mark")
	}
}

func TestBuild_FailedWriteMarksStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gzipOn := func(o *Options) { o.Precompress = []string{"gzip"} }

	content := "v1"
	req := Request{
		Output: "build/a.js",
		Generator: GeneratorFunc(func(context.Context) ([]byte, error) {
			return []byte(content), nil
		}),
	}
	mustBuild(t, f.run(gzipOn), req)

	// The output is gone, and its gzip sibling cannot be replaced.
	for _, rel := range []string{"build/a.js", "build/a.js.gz"} {
		if err := os.Remove(filepath.Join(f.root, filepath.FromSlash(rel))); err != nil {
			t.Fatal(err)
		}
	}
	f.write("build/a.js.gz/keep", "x")

	content = "v2"
	_, err := f.run(gzipOn).Build(ctx, req)
	var fsErr *FilesystemError
	if !errors.As(err, &fsErr) || fsErr.Output != "build/a.js" {
		t.Fatalf("err = %v, want *FilesystemError", err)
	}

	entry, err := f.store.Load(ctx, "build/a.js")
	if err != nil {
		t.Fatalf("Load after failure: %v", err)
	}
	if !entry.Stale || entry.StaleReason == "" {
		t.Errorf("entry = %+v, want marked stale", entry)
	}

	if err := os.RemoveAll(filepath.Join(f.root, "build", "a.js.gz")); err != nil {
		t.Fatal(err)
	}
	a := mustBuild(t, f.run(gzipOn), req)
	if a.Cached {
		t.Error("failed write should be retried")
	}
	disk := fingerprint.Sum(fingerprint.SHA256, []byte(f.read("build/a.js"))).Hex()
	if a.ContentHash != disk {
		t.Errorf("recorded hash %s does not match the file on disk %s", a.ContentHash, disk)
	}
}

func TestBuild_MissingDependencies(t *testing.T) {
	f := newFixture(t)
	eng := f.run()
	ctx := context.Background()

	var calls int32
	_, err := eng.Build(ctx, Request{
		Output:    "build/a.txt",
		Generator: counting(&calls, constant("a")),
		Deps:      Files("src/nope.txt"),
	})
	var missing *MissingDependencyError
	if !errors.As(err, &missing) || missing.Dep.Path != "src/nope.txt" {
		t.Errorf("err = %v, want *MissingDependencyError for file", err)
	}

	_, err = eng.Build(ctx, Request{
		Output:    "build/b.txt",
		Generator: counting(&calls, constant("b")),
		Deps:      Outputs("build/never.js"),
	})
	if !errors.As(err, &missing) || missing.Dep.Kind != DepOutput {
		t.Errorf("err = %v, want *MissingDependencyError for output", err)
	}

	if calls != 0 {
		t.Errorf("generators ran %d times", calls)
	}
}

func TestBuild_AutoDeps(t *testing.T) {
	f := newFixture(t)
	f.write("src/a.txt", "a")

	eng := f.run()
	a := mustBuild(t, eng, Request{Output: "build/a.txt", Generator: GeneratorFunc(func(context.Context) ([]byte, error) {
		return []byte("A"), nil
	})})
	b := mustBuild(t, eng, Request{
		Output:    "build/b.txt",
		Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return []byte("B"), nil }),
		Deps:      Paths("build/a.txt", "src/a.txt"),
	})

	if b.Deps["output:build/a.txt"] != a.ContentHash {
		t.Errorf("declared output should be tracked as output: %v", b.Deps)
	}
	if _, ok := b.Deps["file:src/a.txt"]; !ok {
		t.Errorf("plain path should be tracked as file: %v", b.Deps)
	}
}

func TestBuild_ParamsAreCacheKey(t *testing.T) {
	f := newFixture(t)

	var calls int32
	gen := func(ctx context.Context, name string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("hello " + name), nil
	}

	mustBuild(t, f.run(), Request{Output: "build/hi.txt", Generator: Bind(gen, "alice")})
	mustBuild(t, f.run(), Request{Output: "build/hi.txt", Generator: Bind(gen, "alice")})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	mustBuild(t, f.run(), Request{Output: "build/hi.txt", Generator: Bind(gen, "bob")})
	if calls != 2 {
		t.Errorf("changed argument should rebuild (calls=%d)", calls)
	}
	if f.read("build/hi.txt") != "hello bob" {
		t.Error("output not refreshed")
	}
}

func TestBuild_RebuildsMissingOutput(t *testing.T) {
	f := newFixture(t)

	var calls int32
	req := Request{Output: "build/a.txt", Generator: counting(&calls, constant("a")), Bust: true}
	a := mustBuild(t, f.run(), req)

	if err := os.Remove(filepath.Join(f.root, filepath.FromSlash(a.ActualPath))); err != nil {
		t.Fatal(err)
	}
	again := mustBuild(t, f.run(), req)
	if again.Cached || calls != 2 {
		t.Error("deleted output should be regenerated")
	}
}

func TestBuild_AlgorithmChangeRebuilds(t *testing.T) {
	f := newFixture(t)

	var calls int32
	req := Request{Output: "build/a.txt", Generator: counting(&calls, constant("a"))}
	mustBuild(t, f.run(), req)
	a := mustBuild(t, f.run(func(o *Options) { o.Algorithm = fingerprint.BLAKE3 }), req)

	if a.Cached || calls != 2 {
		t.Error("switching algorithms should rebuild")
	}
	if a.ContentHash != fingerprint.Sum(fingerprint.BLAKE3, []byte("a")).Hex() {
		t.Error("hash should use the new algorithm")
	}
}

func TestBuild_Force(t *testing.T) {
	f := newFixture(t)

	var calls int32
	req := Request{Output: "build/a.txt", Generator: counting(&calls, constant("a"))}
	mustBuild(t, f.run(), req)

	eng := f.run(func(o *Options) { o.Force = true })
	mustBuild(t, eng, req)
	second := mustBuild(t, eng, req)

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (forced once per run)", calls)
	}
	if !second.Cached {
		t.Error("second build in a forced run should hit the cache")
	}
}

func TestCopy(t *testing.T) {
	f := newFixture(t)
	f.write("assets/images/logo.png", "\x89PNG fake")

	eng := f.run()
	a, err := eng.Copy(context.Background(), "build/assets/images/logo.png", "assets/images/logo.png", true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a.ActualPath, "build/assets/images/logo.") || !strings.HasSuffix(a.ActualPath, ".png") {
		t.Errorf("ActualPath = %q", a.ActualPath)
	}
	if f.read(a.ActualPath) != "\x89PNG fake" {
		t.Error("copy should be byte-identical")
	}
	if _, ok := a.Deps["file:assets/images/logo.png"]; !ok {
		t.Errorf("source should be the dependency: %v", a.Deps)
	}

	again, err := f.run().Copy(context.Background(), "build/assets/images/logo.png", "assets/images/logo.png", true)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Cached {
		t.Error("unchanged source should be cached")
	}
}

func TestBuildModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := GeneratorFunc(func(context.Context) ([]byte, error) {
		return []byte("module.exports = { version: 1 };"), nil
	})

	a, err := f.run().BuildModule(ctx, "build/lodash.js", "lodash", src)
	if err != nil {
		t.Fatal(err)
	}
	out := f.read("build/lodash.js")
	for _, want := range []string{
		"module.exports = { version: 1 };",
		`registry["lodash"] = module.exports;`,
		"global.__modules",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("module output missing %q:\n%s", want, out)
		}
	}
	if a.Deps["module"] != "__modules.lodash" {
		t.Errorf("module name should be in the snapshot: %v", a.Deps)
	}

	renamed, err := f.run().BuildModule(ctx, "build/lodash.js", "_", src)
	if err != nil {
		t.Fatal(err)
	}
	if renamed.Cached {
		t.Error("renaming the module should rebuild")
	}
}

func TestBuild_Precompress(t *testing.T) {
	f := newFixture(t)
	eng := f.run(func(o *Options) { o.Precompress = []string{"gzip", "zstd"} })

	payload := strings.Repeat("var x = 1;\n", 200)
	a := mustBuild(t, eng, Request{Output: "build/app.js", Generator: GeneratorFunc(func(context.Context) ([]byte, error) {
		return []byte(payload), nil
	}), Bust: true})
	mustBuild(t, eng, Request{Output: "build/logo.png", Generator: GeneratorFunc(func(context.Context) ([]byte, error) {
		return []byte("png"), nil
	})})

	abs := filepath.Join(f.root, filepath.FromSlash(a.ActualPath))

	gz, err := os.Open(abs + ".gz")
	if err != nil {
		t.Fatalf("gzip sibling: %v", err)
	}
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil || string(plain) != payload {
		t.Errorf("gzip sibling does not round-trip (err=%v)", err)
	}

	zst, err := os.ReadFile(abs + ".zst")
	if err != nil {
		t.Fatalf("zstd sibling: %v", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	plain, err = dec.DecodeAll(zst, nil)
	if err != nil || !bytes.Equal(plain, []byte(payload)) {
		t.Errorf("zstd sibling does not round-trip (err=%v)", err)
	}

	if _, err := os.Stat(filepath.Join(f.root, "build", "logo.png.gz")); !os.IsNotExist(err) {
		t.Error("images should not be precompressed")
	}
}

func TestBuild_PrecompressChangeRebuilds(t *testing.T) {
	f := newFixture(t)

	var calls int32
	req := Request{Output: "build/app.js", Generator: counting(&calls, constant("var app;"))}
	img := Request{Output: "build/logo.png", Generator: counting(&calls, constant("png"))}

	mustBuild(t, f.run(), req)
	mustBuild(t, f.run(), img)

	gzipOn := func(o *Options) { o.Precompress = []string{"gzip"} }
	if a := mustBuild(t, f.run(gzipOn), req); a.Cached {
		t.Error("enabling precompression should rebuild compressible outputs")
	}
	if _, err := os.Stat(filepath.Join(f.root, "build", "app.js.gz")); err != nil {
		t.Errorf("gzip sibling: %v", err)
	}
	if a := mustBuild(t, f.run(gzipOn), img); !a.Cached {
		t.Error("images are not precompressed and should stay cached")
	}

	if err := os.Remove(filepath.Join(f.root, "build", "app.js.gz")); err != nil {
		t.Fatal(err)
	}
	if a := mustBuild(t, f.run(gzipOn), req); a.Cached {
		t.Error("a missing sibling should rebuild")
	}
	if a := mustBuild(t, f.run(gzipOn), req); !a.Cached {
		t.Error("complete output should stay cached")
	}
	if calls != 4 {
		t.Errorf("generator ran %d times, want 4", calls)
	}
}

func TestBuild_CorruptEntryIsRebuilt(t *testing.T) {
	f := newFixture(t)

	var calls int32
	req := Request{Output: "build/a.txt", Generator: counting(&calls, constant("a"))}
	mustBuild(t, f.run(), req)

	fs := f.store.(*store.FileStore)
	entries, err := filepath.Glob(filepath.Join(fs.Dir(), "entries", "*.json"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
	if err := os.WriteFile(entries[0], []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	a := mustBuild(t, f.run(), req)
	if a.Cached || calls != 2 {
		t.Error("corrupt entry should be treated as missing")
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(WithRegistry(reg))

	req := Request{Output: "build/a.txt", Generator: GeneratorFunc(func(context.Context) ([]byte, error) {
		return []byte("abc"), nil
	})}
	mustBuild(t, f.run(func(o *Options) { o.Metrics = metrics }), req)
	mustBuild(t, f.run(func(o *Options) { o.Metrics = metrics }), req)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	counts := make(map[string]float64)
	var written float64
	for _, mf := range families {
		switch mf.GetName() {
		case "jetbuild_artifacts_total":
			for _, m := range mf.GetMetric() {
				counts[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		case "jetbuild_bytes_written_total":
			written = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if counts["built"] != 1 || counts["cached"] != 1 {
		t.Errorf("artifacts_total = %v", counts)
	}
	if written != 3 {
		t.Errorf("bytes_written_total = %v, want 3", written)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	eng := f.run()
	ctx := context.Background()

	mustBuild(t, eng, Request{Output: "a", Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return []byte("a"), nil })})
	mustBuild(t, eng, Request{Output: "a", Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return []byte("a"), nil })})
	eng.Build(ctx, Request{Output: "b", Generator: GeneratorFunc(func(context.Context) ([]byte, error) { return nil, errors.New("no") })})

	if got := eng.Stats(); got != (Stats{Built: 1, Cached: 1, Failed: 1}) {
		t.Errorf("Stats = %+v", got)
	}
}
