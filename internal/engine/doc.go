// Package engine is the incremental build engine behind the asset pipeline.
//
// A build rule is a Request: the logical output path, a Generator that
// produces the output bytes, the rule's declared dependencies, and whether
// the output should be cache-busted. The engine decides whether the
// generator needs to run at all:
//
//  1. Load the store entry for the output. No entry, a stale mark, a
//     different hash algorithm, or a missing output file means rebuild.
//  2. Fingerprint every dependency. Raw files are hashed from their current
//     bytes. Outputs use the hash computed earlier in this run when there is
//     one, otherwise the hash recorded in the store.
//  3. Compare with the snapshot stored at the last successful build. Any
//     added, removed or changed key means rebuild.
//
// On rebuild the generator runs, the bytes are fingerprinted, the actual path
// is resolved (hash-qualified when busting), the file is written atomically
// and the entry is saved. A failing generator leaves the previous entry in
// place and marks it stale, so the next run tries again.
//
// # Usage
//
//	eng, err := engine.New(engine.Options{Root: ".", Store: st})
//	if err != nil {
//	    return err
//	}
//	shaders, err := eng.Build(ctx, engine.Request{
//	    Output:    "shader/all.js",
//	    Generator: engine.Bind(concatShaders, paths),
//	    Deps:      engine.Files(paths...),
//	})
//
// # Plans
//
// A Plan declares every request up front. Plan.Run rejects dependency cycles
// before any generator runs and then executes requests in dependency order,
// in parallel when Jobs > 1. A request starts only after every output it
// depends on has been resolved.
package engine
