package dev

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jetbuild/jetbuild/internal/build"
	"github.com/jetbuild/jetbuild/internal/config"
	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/pkg/assets"
	"github.com/jetbuild/jetbuild/pkg/middleware"
)

// StatusPath reports the outcome of the last build as JSON.
const StatusPath = "/_jetbuild/status"

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Build configures every rebuild. A Store set here is shared by all
	// rebuilds and not closed by the server.
	Build build.Options

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registry receives the server's collectors and is served on /metrics.
	// Pass the registry engine metrics were registered with to expose
	// both. Default: a new registry.
	Registry *prometheus.Registry

	// OnBuildComplete is called after every build.
	OnBuildComplete func(result *build.Result, err error)

	// OnReload is called when browsers are reloaded.
	OnReload func(clients int)
}

// Server is the development server: it rebuilds on change and serves the
// output directory.
type Server struct {
	config       *config.Config
	options      ServerOptions
	logger       *slog.Logger
	builder      *build.Builder
	watcher      *Watcher
	reloadServer *ReloadServer
	metrics      *middleware.Metrics
	registry     *prometheus.Registry
	handler      http.Handler
	changeCh     chan Change
	httpServer   *http.Server
	mu           sync.Mutex
	running      bool
	hotReload    bool

	stateMu  sync.RWMutex
	last     *build.Result
	lastErr  error
	lastTime time.Time
	outputs  map[string]bool
}

// NewServer creates a new development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.Build.Logger == nil {
		options.Build.Logger = logger
	}
	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		config:    cfg,
		options:   options,
		logger:    logger,
		builder:   build.New(cfg, options.Build),
		registry:  registry,
		metrics:   middleware.NewMetrics(middleware.WithRegistry(registry)),
		hotReload: cfg.Dev.HotReload,
		outputs:   make(map[string]bool),
	}

	if s.hotReload {
		s.reloadServer = NewReloadServer(logger, s.metrics)
	}

	s.watcher = NewWatcher(WatcherConfig{
		Paths:    CollectWatchPaths(cfg),
		Ignore:   append(append([]string{}, DefaultIgnore...), cfg.Dev.Ignore...),
		Skip:     s.isOutput,
		Interval: cfg.PollInterval(),
	})

	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.OpenTelemetry(middleware.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != ReloadPath && r.URL.Path != "/metrics"
	})))
	r.Use(s.metrics.Handler)

	if s.reloadEnabled() {
		r.Get(ReloadPath, s.reloadServer.HandleWebSocket)
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get(StatusPath, s.handleStatus)
	r.Handle("/*", &staticHandler{
		dir:      s.config.OutputPath(),
		manifest: s.manifest,
		inject:   s.reloadEnabled(),
	})
	return r
}

// Start builds the project, then serves it and rebuilds on change until ctx
// is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.Rebuild(ctx)

	s.changeCh = make(chan Change, 64)
	s.watcher.OnChange(func(change Change) {
		select {
		case s.changeCh <- change:
		default:
		}
	})
	go s.watcher.Start(ctx)
	go s.processChanges(ctx)

	ln, err := net.Listen("tcp", s.config.DevAddress())
	if err != nil {
		s.Stop()
		return errors.New("E208").
			WithDetail("Could not listen on " + s.config.DevAddress()).
			WithSuggestion("Use --port to pick another port").
			Wrap(err)
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Server running", "url", s.config.DevURL(), "hotReload", s.hotReload)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		if err != nil {
			return errors.New("E208").Wrap(err)
		}
		return nil
	}
}

// Stop stops the development server.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.watcher.Stop()
	if s.reloadServer != nil {
		s.reloadServer.Close()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// Rebuild runs one build and notifies browsers of the outcome.
func (s *Server) Rebuild(ctx context.Context) (*build.Result, error) {
	s.logger.Info("Building...")
	result, err := s.builder.Build(ctx)
	s.record(result, err)

	if s.options.OnBuildComplete != nil {
		s.options.OnBuildComplete(result, err)
	}

	if err != nil {
		s.logger.Error("Build failed", "error", err)
		s.notifyError(errorText(err))
		return nil, err
	}

	s.logger.Info("Built",
		"duration", result.Duration.Round(time.Millisecond),
		"built", result.Stats.Built,
		"cached", result.Stats.Cached,
	)
	s.clearReloadError()
	if result.Stats.Built > 0 {
		s.notifyReload(result.Version)
	}
	return result, nil
}

// record keeps the outcome of a build. A failed build keeps the outputs of
// the last successful one ignored, since they are still on disk.
func (s *Server) record(result *build.Result, err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.lastErr = err
	s.lastTime = time.Now()
	if err != nil {
		return
	}
	s.last = result
	for _, a := range result.Artifacts {
		s.outputs[s.config.Abs(a.LogicalPath)] = true
		s.outputs[s.config.Abs(a.ActualPath)] = true
	}
}

// isOutput reports whether p is written by builds, so the watcher does not
// rebuild in response to its own output.
func (s *Server) isOutput(p string) bool {
	if isWithinDir(p, s.config.OutputPath()) || isWithinDir(p, s.config.CachePath()) {
		return true
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.outputs[filepath.Clean(p)]
}

func (s *Server) manifest() *assets.Manifest {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.last == nil {
		return nil
	}
	return s.last.Manifest
}

// buildStatus is the body of StatusPath.
type buildStatus struct {
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	Version   string    `json:"version,omitempty"`
	Built     int       `json:"built"`
	Cached    int       `json:"cached"`
	Artifacts int       `json:"artifacts"`
	Time      time.Time `json:"time"`
	Clients   int       `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.stateMu.RLock()
	status := buildStatus{
		OK:   s.lastErr == nil && s.last != nil,
		Time: s.lastTime,
	}
	if s.lastErr != nil {
		status.Error = s.lastErr.Error()
		var coded *errors.Error
		if stderrors.As(s.lastErr, &coded) {
			status.Code = coded.Code
		}
	}
	if s.last != nil {
		status.Version = s.last.Version
		status.Built = s.last.Stats.Built
		status.Cached = s.last.Stats.Cached
		status.Artifacts = len(s.last.Artifacts)
	}
	s.stateMu.RUnlock()
	if s.reloadServer != nil {
		status.Clients = s.reloadServer.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(status)
}

// processChanges serializes file change handling and coalesces bursts.
func (s *Server) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.changeCh:
			changes := []Change{change}
			draining := true
			for draining {
				select {
				case next := <-s.changeCh:
					changes = append(changes, next)
				default:
					draining = false
				}
			}
			s.handleChanges(ctx, changes)
		}
	}
}

// handleChanges rebuilds after a batch of changes. A change to the project
// file reloads the configuration first.
func (s *Server) handleChanges(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}

	for _, change := range changes {
		s.logger.Info("Changed", "path", change.Path, "type", change.Type.String())
		if change.Type == ChangeConfig {
			s.reloadConfig()
		}
	}

	s.Rebuild(ctx)
}

// reloadConfig rereads the project file. Settings that shape the server
// itself (address, watch paths, hot reload) need a restart; build settings
// apply from the next build.
func (s *Server) reloadConfig() {
	cfg, err := config.LoadFile(s.config.Path())
	if err != nil {
		s.logger.Error("Could not reload configuration", "error", err)
		s.notifyError(errorText(err))
		return
	}
	s.builder = build.New(cfg, s.options.Build)
	s.logger.Info("Configuration reloaded", "path", s.config.Path())
}

func (s *Server) reloadEnabled() bool {
	return s.hotReload && s.reloadServer != nil
}

func (s *Server) notifyReload(version string) {
	if !s.reloadEnabled() {
		return
	}

	s.reloadServer.NotifyReload(version)
	clients := s.reloadServer.ClientCount()
	if s.options.OnReload != nil {
		s.options.OnReload(clients)
	}
	s.logger.Info("Reloaded browsers", "clients", clients)
}

func (s *Server) notifyError(errMsg string) {
	if !s.reloadEnabled() {
		return
	}
	s.reloadServer.NotifyError(errMsg)
}

func (s *Server) clearReloadError() {
	if !s.reloadEnabled() {
		return
	}
	s.reloadServer.ClearError()
}

// errorText renders err for the browser overlay.
func errorText(err error) string {
	var coded *errors.Error
	if !stderrors.As(err, &coded) {
		return err.Error()
	}
	text := coded.FormatCompact()
	if coded.Detail != "" {
		text += "\n\n" + coded.Detail
	}
	if coded.Wrapped != nil {
		text += "\n\n" + coded.Wrapped.Error()
	}
	return text
}

func isWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	absDir = filepath.Clean(absDir)
	if absPath == absDir {
		return true
	}
	if !strings.HasSuffix(absDir, string(os.PathSeparator)) {
		absDir += string(os.PathSeparator)
	}
	return strings.HasPrefix(absPath, absDir)
}
