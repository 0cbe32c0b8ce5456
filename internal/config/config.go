package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jetbuild/jetbuild/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "jetbuild.json"

	// YAMLConfigFileName is the YAML alternative to ConfigFileName.
	YAMLConfigFileName = "jetbuild.yaml"

	// DefaultPort is the default development server port.
	DefaultPort = 8000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = "build"

	// DefaultCacheDir is the default artifact cache location.
	DefaultCacheDir = ".jetbuild/cache"

	// DefaultHashLength is the number of hex characters in busted names.
	DefaultHashLength = 16
)

// configFileNames lists the files Load looks for, in order.
var configFileNames = []string{ConfigFileName, YAMLConfigFileName, "jetbuild.yml"}

// Config represents a jetbuild project file.
type Config struct {
	// Name is the application name shown in the page title.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Version overrides the version derived from git.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Build contains build settings.
	Build BuildConfig `json:"build,omitempty" yaml:"build,omitempty"`

	// Cache contains artifact cache settings.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Sources contains input locations.
	Sources SourcesConfig `json:"sources,omitempty" yaml:"sources,omitempty"`

	// Vendor lists third-party scripts wrapped as named modules.
	Vendor []VendorModule `json:"vendor,omitempty" yaml:"vendor,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty" yaml:"dev,omitempty"`

	// Publish contains upload configuration.
	Publish PublishConfig `json:"publish,omitempty" yaml:"publish,omitempty"`

	// Metrics contains metrics export configuration.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// BuildConfig contains build settings.
type BuildConfig struct {
	// Output is the build output directory.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Minify enables JavaScript, CSS and HTML minification.
	Minify bool `json:"minify" yaml:"minify"`

	// SourceMaps embeds inline source maps in bundles.
	SourceMaps bool `json:"sourceMaps,omitempty" yaml:"sourceMaps,omitempty"`

	// Target is the JavaScript language target (e.g., "es2017").
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Bust embeds content hashes in script and image filenames.
	Bust bool `json:"bust" yaml:"bust"`

	// Hash is the fingerprint algorithm: "sha256" or "blake3".
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`

	// HashLength is how many hex characters go into busted filenames.
	HashLength int `json:"hashLength,omitempty" yaml:"hashLength,omitempty"`

	// Jobs is the number of build steps run in parallel.
	Jobs int `json:"jobs,omitempty" yaml:"jobs,omitempty"`

	// Precompress lists sibling encodings to write: "gzip", "zstd".
	Precompress []string `json:"precompress,omitempty" yaml:"precompress,omitempty"`
}

// CacheConfig contains artifact cache settings.
type CacheConfig struct {
	// Driver is "file" or "sqlite".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`

	// Path is the cache directory or database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// SourcesConfig contains input locations, relative to the project root.
type SourcesConfig struct {
	// Shaders is the shader directory.
	Shaders string `json:"shaders,omitempty" yaml:"shaders,omitempty"`

	// Images is the image directory.
	Images string `json:"images,omitempty" yaml:"images,omitempty"`

	// Font is the bitmap font description merged into the asset info.
	Font string `json:"font,omitempty" yaml:"font,omitempty"`

	// Scripts is the application script directory.
	Scripts string `json:"scripts,omitempty" yaml:"scripts,omitempty"`

	// Entry is the bundle entry point.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`

	// Template is the index page template.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// Style is the stylesheet inlined into the index page.
	Style string `json:"style,omitempty" yaml:"style,omitempty"`

	// Loader is the script loader inlined into the index page.
	Loader string `json:"loader,omitempty" yaml:"loader,omitempty"`
}

// VendorModule is a prebuilt third-party script registered under Name.
type VendorModule struct {
	Name   string `json:"name" yaml:"name"`
	Output string `json:"output" yaml:"output"`
	Source string `json:"source" yaml:"source"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Watch contains paths to watch for changes.
	Watch []string `json:"watch,omitempty" yaml:"watch,omitempty"`

	// Ignore contains patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`

	// HotReload reloads connected browsers after a rebuild.
	HotReload bool `json:"hotReload" yaml:"hotReload"`

	// Interval is the watch polling interval (e.g., "300ms").
	Interval string `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// PublishConfig contains upload settings.
type PublishConfig struct {
	// Bucket is the destination S3 bucket.
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// Prefix is prepended to every object key.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// Region is the bucket region.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint for compatible stores.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// PathStyle forces path-style addressing.
	PathStyle bool `json:"pathStyle,omitempty" yaml:"pathStyle,omitempty"`

	// Concurrency is the number of parallel uploads.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// MetricsConfig contains metrics export settings.
type MetricsConfig struct {
	// Textfile, if set, receives Prometheus metrics after each build.
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

// DefaultVendor returns the vendor modules used when none are configured.
func DefaultVendor() []VendorModule {
	return []VendorModule{
		{Name: "lodash", Output: "build/lodash.js", Source: "node_modules/lodash/lodash.min.js"},
		{Name: "howler", Output: "build/howler.js", Source: "node_modules/howler/howler.min.js"},
		{Name: "p2", Output: "build/p2.js", Source: "node_modules/p2/build/p2.min.js"},
	}
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Name: "Jetpack Every Day",
		Build: BuildConfig{
			Output:     DefaultOutput,
			Minify:     true,
			Bust:       true,
			Hash:       "sha256",
			HashLength: DefaultHashLength,
			Jobs:       1,
		},
		Cache: CacheConfig{
			Driver: "file",
			Path:   DefaultCacheDir,
		},
		Sources: SourcesConfig{
			Shaders:  "shader",
			Images:   "assets/images",
			Font:     "assets/images/Font.json",
			Scripts:  "src",
			Entry:    "src/app.js",
			Template: "static/index.html.tmpl",
			Style:    "static/style.css",
			Loader:   "static/load.js",
		},
		Vendor: DefaultVendor(),
		Dev: DevConfig{
			Port:      DefaultPort,
			Host:      DefaultHost,
			HotReload: true,
			Watch:     []string{"src", "shader", "assets", "static"},
			Interval:  "300ms",
		},
		Publish: PublishConfig{
			Concurrency: 4,
		},
	}
}

// Load reads configuration from the specified directory. It looks for
// jetbuild.json, then jetbuild.yaml.
func Load(dir string) (*Config, error) {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("E200").
		WithDetail("No " + ConfigFileName + " or " + YAMLConfigFileName + " found in " + dir).
		WithSuggestion("Create " + ConfigFileName + " at the project root; {} is a valid empty configuration")
}

// LoadFile reads configuration from the specified file path. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E200").
				WithDetail("No " + filepath.Base(path) + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("E201").Wrap(err)
	}

	cfg := New()
	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("E201").
				WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
				WithSuggestion("Check that " + filepath.Base(path) + " is valid YAML")
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("E201").
				WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
				WithSuggestion("Check that " + filepath.Base(path) + " is valid JSON")
		}
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path, as YAML when the
// name ends in .yaml or .yml.
func (c *Config) SaveTo(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New("E201").Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E201").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// SetDir points a config that was not loaded from disk at a project root.
func (c *Config) SetDir(dir string) {
	c.configPath = filepath.Join(dir, ConfigFileName)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()

	if c.Build.Output == "" {
		c.Build.Output = d.Build.Output
	}
	if c.Build.Hash == "" {
		c.Build.Hash = d.Build.Hash
	}
	if c.Build.HashLength == 0 {
		c.Build.HashLength = d.Build.HashLength
	}
	if c.Build.Jobs == 0 {
		c.Build.Jobs = d.Build.Jobs
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = d.Cache.Driver
	}
	if c.Cache.Path == "" {
		c.Cache.Path = d.Cache.Path
	}

	s := &c.Sources
	if s.Shaders == "" {
		s.Shaders = d.Sources.Shaders
	}
	if s.Images == "" {
		s.Images = d.Sources.Images
	}
	if s.Font == "" {
		s.Font = d.Sources.Font
	}
	if s.Scripts == "" {
		s.Scripts = d.Sources.Scripts
	}
	if s.Entry == "" {
		s.Entry = d.Sources.Entry
	}
	if s.Template == "" {
		s.Template = d.Sources.Template
	}
	if s.Style == "" {
		s.Style = d.Sources.Style
	}
	if s.Loader == "" {
		s.Loader = d.Sources.Loader
	}

	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.Watch == nil {
		c.Dev.Watch = d.Dev.Watch
	}
	if c.Dev.Interval == "" {
		c.Dev.Interval = d.Dev.Interval
	}

	if c.Publish.Concurrency == 0 {
		c.Publish.Concurrency = d.Publish.Concurrency
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(detail string) error {
		return errors.New("E201").WithDetail(detail)
	}

	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return invalid("dev.port must be between 0 and 65535")
	}
	if _, err := time.ParseDuration(c.Dev.Interval); err != nil {
		return invalid("dev.interval is not a duration: " + c.Dev.Interval)
	}
	switch c.Build.Hash {
	case "sha256", "blake3":
	default:
		return invalid("build.hash must be sha256 or blake3, got " + strconv.Quote(c.Build.Hash))
	}
	if c.Build.HashLength < 4 || c.Build.HashLength > 64 {
		return invalid("build.hashLength must be between 4 and 64")
	}
	if c.Build.Jobs < 1 {
		return invalid("build.jobs must be at least 1")
	}
	for _, enc := range c.Build.Precompress {
		if enc != "gzip" && enc != "zstd" {
			return invalid("build.precompress accepts gzip and zstd, got " + strconv.Quote(enc))
		}
	}
	switch c.Cache.Driver {
	case "file", "sqlite":
	default:
		return invalid("cache.driver must be file or sqlite, got " + strconv.Quote(c.Cache.Driver))
	}

	seen := make(map[string]bool)
	for i, v := range c.Vendor {
		if v.Name == "" || v.Output == "" || v.Source == "" {
			return invalid("vendor[" + strconv.Itoa(i) + "] needs name, output and source")
		}
		if seen[v.Output] {
			return invalid("vendor output " + v.Output + " is listed twice")
		}
		seen[v.Output] = true
	}
	return nil
}

// PollInterval returns the parsed watch interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Dev.Interval)
	if err != nil || d <= 0 {
		return 300 * time.Millisecond
	}
	return d
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress()
}

// Abs resolves a project-relative path.
func (c *Config) Abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), filepath.FromSlash(path))
}

// OutputPath returns the absolute path to the build output directory.
func (c *Config) OutputPath() string {
	return c.Abs(c.Build.Output)
}

// CachePath returns the absolute path to the artifact cache.
func (c *Config) CachePath() string {
	return c.Abs(c.Cache.Path)
}

// MetricsPath returns the absolute textfile path, or "" when disabled.
func (c *Config) MetricsPath() string {
	if c.Metrics.Textfile == "" {
		return ""
	}
	return c.Abs(c.Metrics.Textfile)
}

// OutputRel returns the output directory relative to the project root, in
// slash form, as used for logical paths.
func (c *Config) OutputRel() string {
	out := filepath.ToSlash(filepath.Clean(c.Build.Output))
	if filepath.IsAbs(c.Build.Output) && c.Dir() != "" {
		if rel, err := filepath.Rel(c.Dir(), c.Build.Output); err == nil {
			out = filepath.ToSlash(rel)
		}
	}
	return strings.TrimSuffix(out, "/")
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range configFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing the project file, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E200").
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory").
				WithSuggestion("Create " + ConfigFileName + " at the project root")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
