package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dshills/cfgtree/internal/config/layer"
	"github.com/dshills/cfgtree/internal/config/loader"
	"github.com/dshills/cfgtree/internal/config/model"
	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/notify"
	"github.com/dshills/cfgtree/internal/config/watcher"
)

const envLayerName = "environment"

// Config ties the configuration sources to a live model.
//
// Files and environment variables are kept as layers. Load combines them
// and installs the result as the root of the model; when a watched file
// changes, its layer is reloaded and the combined root installed again.
// Edits made through the model are in-memory only and are replaced by
// the next reload.
type Config struct {
	mu sync.Mutex

	model    *model.InMemory
	layers   *layer.Manager
	watcher  *watcher.Watcher
	notifier *notify.Notifier
	logger   *slog.Logger
	fs       loader.FileSystem

	// Options
	rootName      string
	envPrefix     string
	enableWatcher bool
	debounce      time.Duration
	defaults      *node.Node

	closed bool
}

// Option configures a Config instance.
type Option func(*Config)

// WithRootName sets the name of the combined root node.
func WithRootName(name string) Option {
	return func(c *Config) {
		c.rootName = name
	}
}

// WithEnvPrefix adds a layer built from environment variables starting
// with prefix.
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
	}
}

// WithDefaults sets the tree used as the lowest priority layer.
func WithDefaults(root *node.Node) Option {
	return func(c *Config) {
		c.defaults = root
	}
}

// WithWatcher enables file watching for live reload.
func WithWatcher(enable bool) Option {
	return func(c *Config) {
		c.enableWatcher = enable
	}
}

// WithDebounce sets how long file changes must settle before a reload.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.debounce = d
	}
}

// WithNotifier sets the notifier the model publishes changes to.
func WithNotifier(n *notify.Notifier) Option {
	return func(c *Config) {
		c.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFileSystem sets the file system files are read from.
func WithFileSystem(fsys loader.FileSystem) Option {
	return func(c *Config) {
		c.fs = fsys
	}
}

// New creates a new Config instance with the given options.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		layers:        layer.NewManager(),
		logger:        slog.Default().With("component", "config"),
		fs:            loader.DefaultFS(),
		rootName:      loader.DefaultRootName,
		enableWatcher: true,
		debounce:      100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.notifier == nil {
		c.notifier = notify.New()
	}

	c.model = model.New(node.New(c.rootName),
		model.WithNotifier(c.notifier),
		model.WithSource("config"),
		model.WithLogger(c.logger),
	)

	if c.defaults != nil {
		defaults := layer.New("defaults", layer.SourceDefaults, layer.PriorityDefaults, c.defaults)
		defaults.ReadOnly = true
		c.layers.AddLayer(defaults)
	}

	if c.enableWatcher {
		w, err := watcher.New(watcher.WithDebounce(c.debounce), watcher.WithLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("creating file watcher: %w", err)
		}
		w.OnChange(c.handleFileChange)
		c.watcher = w
	}

	return c, nil
}

// AddFile adds a configuration file as a layer. The format follows the
// file extension. A missing file yields an empty layer that is filled
// once the file is created.
func (c *Config) AddFile(path string, priority int) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return &LoadError{Path: path, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.layers.GetLayerByPath(absPath) != nil {
		return fmt.Errorf("%w: %s", ErrFileAlreadyAdded, absPath)
	}

	root, err := c.loadFile(absPath)
	if err != nil {
		return err
	}

	if c.watcher != nil {
		if err := c.watcher.Watch(absPath); err != nil {
			return &LoadError{Path: absPath, Err: err}
		}
	}

	c.layers.AddLayer(layer.NewFile(absPath, priority, root))

	c.logger.Debug("config file added", "path", absPath, "priority", priority)
	return nil
}

// Load reads the environment layer, installs the combined configuration
// in the model and starts watching files.
func (c *Config) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if c.envPrefix != "" {
		if err := c.loadEnvironment(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.install("load")
	w := c.watcher
	c.mu.Unlock()

	// Start the watcher outside the lock; its handler acquires it.
	if w != nil {
		w.Start()
	}
	return nil
}

// RemoveFile drops the layer of a file added with AddFile and installs
// the remaining layers.
func (c *Config) RemoveFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	l := c.layers.GetLayerByPath(absPath)
	if l == nil {
		return fmt.Errorf("%w: %s", layer.ErrLayerNotFound, absPath)
	}
	if c.watcher != nil {
		if err := c.watcher.Unwatch(absPath); err != nil {
			c.logger.Warn("unwatch failed", "path", absPath, "error", err)
		}
	}
	c.layers.RemoveLayer(l.Name)
	c.install("remove " + absPath)
	return nil
}

// Origin returns the name of the highest priority layer providing key,
// or "" when no layer does. Edits made through the model are not seen.
func (c *Config) Origin(key string) string {
	l, _ := c.layers.Origin(key, nil)
	if l == nil {
		return ""
	}
	return l.Name
}

// Reload reads every file layer again and installs the result.
func (c *Config) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	for _, l := range c.layers.Layers() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.Path == "" {
			continue
		}
		root, err := c.loadFile(l.Path)
		if err != nil {
			return err
		}
		if err := c.layers.UpdateLayer(l.Name, root); err != nil {
			return err
		}
	}
	if c.envPrefix != "" {
		if err := c.loadEnvironment(); err != nil {
			return err
		}
	}
	c.install("reload")
	return nil
}

// Model returns the live configuration model.
func (c *Config) Model() *model.InMemory {
	return c.model
}

// Notifier returns the notifier receiving model changes.
func (c *Config) Notifier() *notify.Notifier {
	return c.notifier
}

// Layers returns the layer manager.
func (c *Config) Layers() *layer.Manager {
	return c.layers
}

// Close stops watching files and shuts down the notifier.
func (c *Config) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	w := c.watcher
	c.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	c.notifier.Close()
	c.layers.Clear()
	return err
}

// loadFile reads a file into a node tree. Must be called with c.mu held.
func (c *Config) loadFile(path string) (*node.Node, error) {
	l, err := loader.ForPathWithFS(c.fs, path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	root, err := l.Load()
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return root, nil
}

// loadEnvironment refreshes the environment layer. Must be called with
// c.mu held.
func (c *Config) loadEnvironment() error {
	root, err := loader.NewEnvLoader(c.envPrefix).Load()
	if err != nil {
		return &LoadError{Path: envLayerName, Err: err}
	}
	if c.layers.GetLayer(envLayerName) == nil {
		c.layers.AddLayer(layer.New(envLayerName, layer.SourceEnv, layer.PriorityEnv, root))
		return nil
	}
	return c.layers.UpdateLayer(envLayerName, root)
}

// install combines the layers and replaces the model root. Must be
// called with c.mu held.
func (c *Config) install(reason string) {
	previous := c.model.RootNode()
	combined := c.layers.Combine(c.rootName)
	added, modified, removed := layer.Diff(previous, combined)

	c.model.SetRootNode(combined)
	c.publishDiff(added, modified, removed)
	c.logger.Info("configuration installed",
		"reason", reason,
		"layers", c.layers.LayerCount(),
		"added", len(added),
		"modified", len(modified),
		"removed", len(removed),
	)
}

// publishDiff announces the keys an install changed, after the reload
// event of the model. Keyed observers learn which of their values moved.
func (c *Config) publishDiff(added, modified, removed []string) {
	version := c.model.Snapshot().Version()
	batch := c.notifier.NewBatch()
	for _, group := range []struct {
		keys []string
		typ  notify.ChangeType
	}{
		{added, notify.ChangeAdd},
		{modified, notify.ChangeSet},
		{removed, notify.ChangeDelete},
	} {
		for _, key := range group.keys {
			batch.Add(notify.Change{Key: key, Type: group.typ, Version: version, Source: "config"})
		}
	}
	batch.Commit()
}

// handleFileChange handles file change events from the watcher.
func (c *Config) handleFileChange(event watcher.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	l := c.layers.GetLayerByPath(event.Path)
	if l == nil {
		return
	}

	var root *node.Node
	if !event.Op.Gone() {
		var err error
		root, err = c.loadFile(event.Path)
		if err != nil {
			// Keep the previous content until the file is valid again.
			c.logger.Warn("config reload failed", "path", event.Path, "error", err)
			return
		}
	}

	if err := c.layers.UpdateLayer(l.Name, root); err != nil {
		c.logger.Warn("config reload failed", "path", event.Path, "error", err)
		return
	}
	c.logger.Debug("config file changed", "path", event.Path, "op", event.Op.String())
	c.install("file " + event.Op.String())
}
