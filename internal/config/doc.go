// Package config provides a hierarchical configuration model that can be
// read and updated concurrently without locks.
//
// Configuration is held as a tree of immutable nodes. Every update builds
// a new snapshot that shares all untouched subtrees with the previous one
// and installs it with a compare-and-swap, so readers always see a
// consistent tree and never block writers.
//
// # Architecture
//
// Sources are organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  Environment Variables      │  ← Highest priority
//	├─────────────────────────────┤
//	│  Files (by priority)        │  ← TOML, YAML or JSON
//	├─────────────────────────────┤
//	│  Defaults                   │  ← Lowest priority
//	└─────────────────────────────┘
//
// The combined tree is installed as the root of a model.InMemory. File
// changes reload the affected layer and install the combined tree again.
//
// # Sub-packages
//
//   - node: Immutable nodes, builders and tree walkers
//   - query: The key resolver contract and node selectors
//   - expr: The default key syntax and resolver
//   - model: Snapshots, the node tracker, transactions and InMemory
//   - loader: Reading TOML, YAML, JSON and environment variables
//   - layer: Prioritised layers and tree merging
//   - watcher: File watching for live reload
//   - notify: Change notification and observer pattern
//
// # Basic Usage
//
//	cfg, err := config.New(config.WithEnvPrefix("APP_"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cfg.Close()
//
//	if err := cfg.AddFile("/etc/app/config.yaml", layer.PriorityFile); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Load(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	m := cfg.Model()
//	err = m.SetProperty("server.port", 8080, nil)
//
// # Keys
//
// Keys address nodes and attributes by name: "server.port" selects the
// port child of server, "server(1)" the second of several server nodes
// and "server[@id]" the id attribute. Dots inside names are doubled.
//
// # Error Handling
//
// The package defines several error types:
//
//   - LoadError: A source could not be read or parsed
//   - ErrFileAlreadyAdded: The file is already a layer
//   - ErrClosed: The configuration was closed
package config
