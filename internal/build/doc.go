// Package build runs the project's build rules through the artifact engine.
//
// The rules are fixed:
//   - the shader sources are collected into one CommonJS module
//   - images are copied with content hashes in their names
//   - vendored third-party scripts are wrapped as named modules
//   - the application is bundled from its entry point with esbuild
//   - an asset description script lists the image names for the game
//   - the index page inlines the stylesheet and the script loader
//   - a manifest maps every output to the name it was written under
//
// Each rule is a request to the engine, so unchanged outputs are taken from
// the artifact cache and only steps whose inputs changed run again.
//
// # Usage
//
//	builder := build.New(cfg, build.Options{Jobs: 4})
//	result, err := builder.Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Built in %s\n", result.Duration)
//	fmt.Printf("Index: %s\n", result.Index)
//
// # Output Structure
//
//	build/
//	├── index.html                    # Entry page
//	├── app.3f9a0c1e5b7d2468.js       # Application bundle
//	├── assets.0b1c2d3e4f506172.js    # Asset description
//	├── howler.js                     # Vendor modules
//	├── assets/images/                # Images with hashes
//	└── manifest.json                 # Asset manifest
//
// # Manifest
//
// The manifest maps logical asset paths to their written versions:
//
//	{
//	  "app.js": "app.3f9a0c1e5b7d2468.js",
//	  "assets/images/ship.png": "assets/images/ship.7c21d04ab9e35f10.png",
//	  "index.html": "index.html"
//	}
package build
