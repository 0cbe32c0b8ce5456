// Package dev provides the development server and hot reload.
//
// The server runs the project build once, serves the output directory and
// polls the project sources. Every batch of changes triggers a rebuild
// through the artifact cache, so only the outputs whose inputs changed are
// regenerated.
//
// # Architecture
//
//   - Watcher: polls source files for changes
//   - Server: rebuilds, serves the output directory and /metrics
//   - ReloadServer: notifies browsers over WebSocket
//
// Files written by a build (the output directory, the cache and generated
// sources such as the shader module) are never reported as changes.
//
// # Usage
//
//	srv := dev.NewServer(dev.ServerOptions{Config: cfg})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Hot Reload Protocol
//
// The browser connects to /_jetbuild/reload via WebSocket. Messages are
// JSON-encoded:
//
//	{"type": "reload", "version": "..."} // Triggers full page reload
//	{"type": "error", "error": "..."}     // Shows error overlay
//	{"type": "clear"}                     // Clears error overlay
package dev
