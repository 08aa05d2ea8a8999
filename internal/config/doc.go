// Package config provides configuration for devpack projects.
//
// The configuration lives in devpack.json (or devpack.yaml / devpack.yml) at
// the project root. Both spellings share one schema.
//
// # Configuration File Structure
//
//	{
//	  "entry": "index.js",
//	  "platforms": ["ios", "android"],
//	  "server": {"host": "localhost", "port": 8081},
//	  "engine": {
//	    "command": "node",
//	    "args": ["./node_modules/.bin/engine-worker"],
//	    "outputDir": "build/generated"
//	  },
//	  "dev": {
//	    "logBufferSize": 500,
//	    "assetWaitTimeout": "0s",
//	    "readyTimeout": "10s"
//	  },
//	  "publish": {"bucket": "team-dev-builds", "prefix": "snapshots"}
//	}
//
// Spawned build workers do not read the file. The parent passes them a
// WorkerOptions blob through the environment, see env.go.
package config
