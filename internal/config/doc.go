// Package config provides configuration parsing for jetbuild projects.
//
// The configuration is stored in jetbuild.json (or jetbuild.yaml) at the
// project root. Every field is optional; missing values take the defaults
// from New.
//
// # Configuration File Structure
//
//	{
//	  "name": "Jetpack Every Day",
//	  "build": {
//	    "output": "build",
//	    "minify": true,
//	    "sourceMaps": false,
//	    "target": "es2017",
//	    "hash": "sha256",
//	    "hashLength": 16,
//	    "jobs": 4,
//	    "precompress": ["gzip", "zstd"]
//	  },
//	  "cache": {
//	    "driver": "sqlite",
//	    "path": ".jetbuild/cache.db"
//	  },
//	  "vendor": [
//	    {"name": "howler", "output": "build/howler.js", "source": "node_modules/howler/howler.min.js"}
//	  ],
//	  "dev": {
//	    "port": 8000,
//	    "hotReload": true
//	  },
//	  "publish": {
//	    "bucket": "games.example.com",
//	    "region": "us-east-1"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Output:", cfg.OutputPath())
package config
