// Package errors provides structured, actionable error messages for jetbuild.
//
// Build failures surface deep inside generators: a syntax error in a bundled
// script, an unreadable input file, a cycle between two rules. This package
// turns them into messages that say which output failed, where, and what to
// do about it.
//
// # Error Categories
//
// Errors are organized into categories:
//   - config: Project file errors (missing jetbuild.json, invalid values)
//   - cache: Artifact store errors (cannot open or write the cache)
//   - graph: Dependency graph errors (cycles, undeclared outputs)
//   - generate: Generator failures (bundler diagnostics, template errors)
//   - io: Filesystem errors while reading inputs or writing outputs
//   - publish: Upload errors
//   - serve: Development server errors
//
// # Error Codes
//
// Each error has a unique code (e.g., "E203") that maps to:
//   - A short message describing the error
//   - A detailed explanation
//   - A documentation URL
//
// # Usage
//
//	err := errors.New("E204").
//	    WithLocation("src/app.js", 15, 12).
//	    WithSuggestion("Fix the syntax error and run jetbuild build again")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E204: Generator failed
//	//
//	//   src/app.js:15:12
//	//
//	//     13 │ var util = require('./util');
//	//     14 │
//	//   → 15 │ var x = = 1;
//	//        │            ^
//	//     16 │
//	//
//	//   Hint: Fix the syntax error and run jetbuild build again
//	//
//	//   Learn more: https://jetbuild.dev/docs/errors/E204
package errors
