package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Dev.Port != DefaultPort {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, DefaultPort)
	}
	if cfg.Build.Output != DefaultOutput {
		t.Errorf("Build.Output = %q, want %q", cfg.Build.Output, DefaultOutput)
	}
	if !cfg.Build.Minify || !cfg.Build.Bust {
		t.Error("Minify and Bust should default to true")
	}
	if cfg.Build.HashLength != DefaultHashLength {
		t.Errorf("Build.HashLength = %d", cfg.Build.HashLength)
	}
	if len(cfg.Vendor) != 3 {
		t.Errorf("Vendor = %v, want lodash, howler, p2", cfg.Vendor)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_JSON(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Load(tmpDir); err == nil {
		t.Error("Expected error for missing config")
	}

	mustWriteFile(t, filepath.Join(tmpDir, ConfigFileName), `{
  "name": "Space Pirates",
  "build": {
    "output": "dist",
    "minify": false,
    "hash": "blake3",
    "jobs": 4,
    "precompress": ["gzip"]
  },
  "cache": {"driver": "sqlite", "path": ".cache/jet.db"},
  "vendor": [
    {"name": "howler", "output": "dist/howler.js", "source": "vendor/howler.js"}
  ],
  "dev": {"port": 9000}
}
`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Name != "Space Pirates" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Build.Output != "dist" || cfg.Build.Minify {
		t.Errorf("Build = %+v", cfg.Build)
	}
	if !cfg.Build.Bust {
		t.Error("Bust should keep its default when absent")
	}
	if cfg.Build.Hash != "blake3" || cfg.Build.Jobs != 4 {
		t.Errorf("Build = %+v", cfg.Build)
	}
	if cfg.Build.HashLength != DefaultHashLength {
		t.Errorf("HashLength = %d, want default", cfg.Build.HashLength)
	}
	if cfg.Cache.Driver != "sqlite" || cfg.CachePath() != filepath.Join(tmpDir, ".cache", "jet.db") {
		t.Errorf("Cache = %+v, path %s", cfg.Cache, cfg.CachePath())
	}
	if len(cfg.Vendor) != 1 || cfg.Vendor[0].Name != "howler" {
		t.Errorf("Vendor = %+v", cfg.Vendor)
	}
	if cfg.Dev.Port != 9000 || cfg.Dev.Host != DefaultHost {
		t.Errorf("Dev = %+v", cfg.Dev)
	}
	if cfg.Sources.Entry != "src/app.js" {
		t.Errorf("Sources.Entry = %q, want default", cfg.Sources.Entry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tmpDir, YAMLConfigFileName), `
name: Yaml Game
build:
  output: out
  hashLength: 8
  bust: false
sources:
  shaders: glsl
dev:
  interval: 1s
  hotReload: false
publish:
  bucket: example-bucket
  pathStyle: true
`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if filepath.Base(cfg.Path()) != YAMLConfigFileName {
		t.Errorf("Path = %q", cfg.Path())
	}
	if cfg.Build.Output != "out" || cfg.Build.HashLength != 8 || cfg.Build.Bust {
		t.Errorf("Build = %+v", cfg.Build)
	}
	if cfg.Sources.Shaders != "glsl" || cfg.Sources.Images != "assets/images" {
		t.Errorf("Sources = %+v", cfg.Sources)
	}
	if cfg.PollInterval() != time.Second || cfg.Dev.HotReload {
		t.Errorf("Dev = %+v", cfg.Dev)
	}
	if cfg.Publish.Bucket != "example-bucket" || !cfg.Publish.PathStyle || cfg.Publish.Concurrency != 4 {
		t.Errorf("Publish = %+v", cfg.Publish)
	}
}

func TestLoad_PrefersJSON(t *testing.T) {
	tmpDir := t.TempDir()
	mustWriteFile(t, filepath.Join(tmpDir, ConfigFileName), `{"name": "json"}`)
	mustWriteFile(t, filepath.Join(tmpDir, YAMLConfigFileName), "name: yaml\n")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "json" {
		t.Errorf("Name = %q, want json", cfg.Name)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tmpDir := t.TempDir()

	jsonPath := filepath.Join(tmpDir, ConfigFileName)
	mustWriteFile(t, jsonPath, `{"build": {`)
	_, err := LoadFile(jsonPath)
	if err == nil || !strings.Contains(err.Error(), "E201") {
		t.Errorf("invalid JSON error = %v", err)
	}

	yamlPath := filepath.Join(tmpDir, YAMLConfigFileName)
	mustWriteFile(t, yamlPath, "build: [unclosed\n")
	_, err = LoadFile(yamlPath)
	if err == nil || !strings.Contains(err.Error(), "E201") {
		t.Errorf("invalid YAML error = %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := New()
			cfg.Build.Bust = false
			cfg.Build.Precompress = []string{"zstd"}
			cfg.Publish.Bucket = "b"
			if err := cfg.SaveTo(path); err != nil {
				t.Fatalf("SaveTo: %v", err)
			}

			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if loaded.Build.Bust {
				t.Error("explicit false should survive a round trip")
			}
			if len(loaded.Build.Precompress) != 1 || loaded.Publish.Bucket != "b" {
				t.Errorf("loaded = %+v", loaded)
			}

			loaded.Name = "changed"
			if err := loaded.Save(); err != nil {
				t.Fatalf("Save: %v", err)
			}
			again, err := LoadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if again.Name != "changed" {
				t.Errorf("Name = %q", again.Name)
			}
		})
	}
}

func TestSave_NoPath(t *testing.T) {
	if err := New().Save(); err == nil {
		t.Error("Save without a path should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Dev.Port = 70000 }},
		{"interval", func(c *Config) { c.Dev.Interval = "soon" }},
		{"hash", func(c *Config) { c.Build.Hash = "md5" }},
		{"hash length", func(c *Config) { c.Build.HashLength = 2 }},
		{"jobs", func(c *Config) { c.Build.Jobs = 0 }},
		{"precompress", func(c *Config) { c.Build.Precompress = []string{"br"} }},
		{"driver", func(c *Config) { c.Cache.Driver = "redis" }},
		{"vendor fields", func(c *Config) { c.Vendor = []VendorModule{{Name: "x"}} }},
		{"vendor duplicate", func(c *Config) {
			c.Vendor = []VendorModule{
				{Name: "a", Output: "build/x.js", Source: "a.js"},
				{Name: "b", Output: "build/x.js", Source: "b.js"},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			if !strings.Contains(err.Error(), "E201") {
				t.Errorf("err = %v, want E201", err)
			}
		})
	}
}

func TestDevAddress(t *testing.T) {
	cfg := New()
	cfg.Dev.Host = "0.0.0.0"
	cfg.Dev.Port = 8080

	if got := cfg.DevAddress(); got != "0.0.0.0:8080" {
		t.Errorf("DevAddress() = %q", got)
	}
	if got := cfg.DevURL(); got != "http://0.0.0.0:8080" {
		t.Errorf("DevURL() = %q", got)
	}
}

func TestPaths(t *testing.T) {
	cfg := New()
	cfg.SetDir("/project")

	if got := cfg.OutputPath(); got != filepath.Join("/project", "build") {
		t.Errorf("OutputPath() = %q", got)
	}
	if got := cfg.CachePath(); got != filepath.Join("/project", ".jetbuild", "cache") {
		t.Errorf("CachePath() = %q", got)
	}
	if got := cfg.MetricsPath(); got != "" {
		t.Errorf("MetricsPath() = %q, want empty", got)
	}
	cfg.Metrics.Textfile = "metrics/jetbuild.prom"
	if got := cfg.MetricsPath(); got != filepath.Join("/project", "metrics", "jetbuild.prom") {
		t.Errorf("MetricsPath() = %q", got)
	}
	if got := cfg.Abs("/abs/path"); got != "/abs/path" {
		t.Errorf("Abs() = %q", got)
	}

	if got := cfg.OutputRel(); got != "build" {
		t.Errorf("OutputRel() = %q", got)
	}
	cfg.Build.Output = "./public/"
	if got := cfg.OutputRel(); got != "public" {
		t.Errorf("OutputRel() = %q", got)
	}
	cfg.Build.Output = "/project/www"
	if got := cfg.OutputRel(); got != "www" {
		t.Errorf("OutputRel() = %q", got)
	}
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()

	if Exists(tmpDir) {
		t.Error("Exists should return false for empty dir")
	}
	mustWriteFile(t, filepath.Join(tmpDir, YAMLConfigFileName), "{}\n")
	if !Exists(tmpDir) {
		t.Error("Exists should accept the YAML file")
	}
}

func TestFindProjectRoot(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "src", "entities")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := FindProjectRoot(nested); err == nil {
		t.Error("FindProjectRoot should fail without a project file")
	}

	mustWriteFile(t, filepath.Join(tmpDir, ConfigFileName), "{}")

	root, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot error: %v", err)
	}
	want, _ := filepath.Abs(tmpDir)
	if root != want {
		t.Errorf("FindProjectRoot() = %q, want %q", root, want)
	}
}

func TestPollInterval_Fallback(t *testing.T) {
	cfg := New()
	cfg.Dev.Interval = "nonsense"
	if got := cfg.PollInterval(); got != 300*time.Millisecond {
		t.Errorf("PollInterval() = %v", got)
	}
}
