package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/layer"
	"github.com/dshills/cfgtree/internal/config/loader"
	"github.com/dshills/cfgtree/internal/config/model"
	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/notify"
)

func newConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// replaceFile swaps in new content with a rename so readers never see a
// partially written file.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	writeFile(t, tmp, content)
	require.NoError(t, os.Rename(tmp, path))
}

func lookup(m *model.InMemory, key string) any {
	results, err := expr.Default.ResolveKey(m.RootNode(), key, nil)
	if err != nil || len(results) != 1 {
		return nil
	}
	return results[0].Value()
}

// valueOf returns the value of the single node or attribute key selects.
func valueOf(t *testing.T, m *model.InMemory, key string) any {
	t.Helper()
	results, err := expr.Default.ResolveKey(m.RootNode(), key, nil)
	require.NoError(t, err)
	require.Len(t, results, 1, "key %q", key)
	return results[0].Value()
}

func TestNew(t *testing.T) {
	c := newConfig(t, WithWatcher(false))

	require.NotNil(t, c.Model())
	require.NotNil(t, c.Notifier())
	assert.Equal(t, loader.DefaultRootName, c.Model().RootNode().Name())
	assert.Nil(t, c.watcher)
}

func TestConfig_Load(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	site := filepath.Join(dir, "site.json")
	writeFile(t, base, `
server:
  host: localhost
  port: 80
servers:
  server:
    - "@id": alpha
      port: 8080
`)
	writeFile(t, site, `{"server": {"port": 9090}}`)

	c := newConfig(t, WithWatcher(false), WithRootName("app"))
	require.NoError(t, c.AddFile(base, layer.PriorityFile))
	require.NoError(t, c.AddFile(site, layer.PriorityFile+1))
	require.NoError(t, c.Load(context.Background()))

	m := c.Model()
	assert.Equal(t, "app", m.RootNode().Name())
	assert.Equal(t, int64(9090), valueOf(t, m, "server.port"))
	assert.Equal(t, "localhost", valueOf(t, m, "server.host"))
	assert.Equal(t, "alpha", valueOf(t, m, "servers.server[@id]"))
	assert.Equal(t, uint64(1), m.Snapshot().Version())
}

func TestConfig_DefaultsAndEnvironment(t *testing.T) {
	t.Setenv("CFGTREE_TEST_SERVER__PORT", "7070")

	defaults := node.NewBuilder().Name("config").
		AddChild(node.NewBuilder().Name("server").
			AddChild(node.NewBuilder().Name("port").Value(int64(80)).Build()).
			AddChild(node.NewBuilder().Name("tls").Value(false).Build()).
			Build()).
		Build()

	c := newConfig(t, WithWatcher(false), WithDefaults(defaults), WithEnvPrefix("CFGTREE_TEST_"))
	require.NoError(t, c.Load(context.Background()))

	m := c.Model()
	assert.Equal(t, int64(7070), valueOf(t, m, "server.port"))
	assert.Equal(t, false, valueOf(t, m, "server.tls"))
	assert.Equal(t, "environment", c.Origin("server.port"))
	assert.Equal(t, "defaults", c.Origin("server.tls"))
	assert.Equal(t, "", c.Origin("server.host"))

	err := c.Layers().UpdateLayer("defaults", nil)
	assert.ErrorIs(t, err, layer.ErrReadOnly)
}

func TestConfig_ModelEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[server]\nport = 80\n")

	c := newConfig(t, WithWatcher(false))
	require.NoError(t, c.AddFile(path, layer.PriorityFile))
	require.NoError(t, c.Load(context.Background()))

	m := c.Model()
	require.NoError(t, m.SetProperty("server.port", int64(81), nil))
	assert.Equal(t, int64(81), valueOf(t, m, "server.port"))

	// A reload replaces in-memory edits with the sources.
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, int64(80), valueOf(t, m, "server.port"))
}

func TestConfig_AddFileErrors(t *testing.T) {
	dir := t.TempDir()
	c := newConfig(t, WithWatcher(false))

	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, "a: 1\n")
	require.NoError(t, c.AddFile(good, layer.PriorityFile))
	assert.ErrorIs(t, c.AddFile(good, layer.PriorityFile), ErrFileAlreadyAdded)

	err := c.AddFile(filepath.Join(dir, "config.ini"), layer.PriorityFile)
	assert.ErrorIs(t, err, loader.ErrUnsupportedFormat)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"a": `)
	err = c.AddFile(bad, layer.PriorityFile)
	var parseErr *loader.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, bad, parseErr.Path)

	assert.Equal(t, 1, c.Layers().LayerCount())
}

func TestConfig_RemoveFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	site := filepath.Join(dir, "site.toml")
	writeFile(t, base, "port: 80\nhost: localhost\n")
	writeFile(t, site, "port = 9090\n")

	c := newConfig(t, WithWatcher(false))
	require.NoError(t, c.AddFile(base, layer.PriorityFile))
	require.NoError(t, c.AddFile(site, layer.PriorityFile+1))
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, site, c.Origin("port"))

	require.NoError(t, c.RemoveFile(site))
	assert.Equal(t, int64(80), valueOf(t, c.Model(), "port"))
	assert.Equal(t, base, c.Origin("port"))
	assert.ErrorIs(t, c.RemoveFile(site), layer.ErrLayerNotFound)
}

func TestConfig_TOMLIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	top := filepath.Join(dir, "main.toml")
	writeFile(t, base, "[db]\nhost = \"localhost\"\nport = 5432\n")
	writeFile(t, top, "\"@include\" = \"base.toml\"\n\n[app]\nname = \"demo\"\n\n[db]\nport = 6543\n")

	c := newConfig(t, WithWatcher(false))
	require.NoError(t, c.AddFile(top, layer.PriorityFile))
	require.NoError(t, c.Load(context.Background()))

	m := c.Model()
	assert.Equal(t, "demo", valueOf(t, m, "app.name"))
	assert.Equal(t, "localhost", valueOf(t, m, "db.host"))
	assert.Equal(t, int64(6543), valueOf(t, m, "db.port"))
	assert.False(t, m.RootNode().HasAttribute("include"))
}

func TestConfig_ReloadPublishesChangedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "server:\n  port: 80\n  host: localhost\n")

	c := newConfig(t, WithWatcher(false))
	require.NoError(t, c.AddFile(path, layer.PriorityFile))
	require.NoError(t, c.Load(context.Background()))

	var changes []notify.Change
	c.Notifier().SubscribeKey("server", func(change notify.Change) {
		changes = append(changes, change)
	})

	writeFile(t, path, "server:\n  port: 81\n  tls: true\n")
	require.NoError(t, c.Reload(context.Background()))

	require.Len(t, changes, 4)
	assert.Equal(t, notify.ChangeReload, changes[0].Type)
	assert.Equal(t, notify.Change{Key: "server.tls", Type: notify.ChangeAdd}, withoutMeta(changes[1]))
	assert.Equal(t, notify.Change{Key: "server.port", Type: notify.ChangeSet}, withoutMeta(changes[2]))
	assert.Equal(t, notify.Change{Key: "server.host", Type: notify.ChangeDelete}, withoutMeta(changes[3]))
	for _, change := range changes {
		assert.Equal(t, c.Model().Snapshot().Version(), change.Version)
	}
}

func withoutMeta(change notify.Change) notify.Change {
	return notify.Change{Key: change.Key, Type: change.Type}
}

func TestConfig_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "later.yaml")

	c := newConfig(t, WithWatcher(false))
	require.NoError(t, c.AddFile(path, layer.PriorityFile))
	require.NoError(t, c.Load(context.Background()))
	assert.False(t, c.Model().RootNode().IsDefined())

	writeFile(t, path, "a: 1\n")
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, int64(1), valueOf(t, c.Model(), "a"))
}

func TestConfig_LoadCancelled(t *testing.T) {
	c := newConfig(t, WithWatcher(false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Load(ctx), context.Canceled)

	require.NoError(t, c.AddFile(filepath.Join(t.TempDir(), "a.yaml"), layer.PriorityFile))
	assert.ErrorIs(t, c.Reload(ctx), context.Canceled)
}

func TestConfig_Close(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.AddFile(filepath.Join(t.TempDir(), "a.yaml"), layer.PriorityFile), ErrClosed)
	assert.ErrorIs(t, c.Load(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Reload(context.Background()), ErrClosed)
}

func TestConfig_LiveReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "server:\n  port: 80\n")

	c := newConfig(t, WithDebounce(20*time.Millisecond))
	require.NoError(t, c.AddFile(path, layer.PriorityFile))

	var reloads atomic.Int32
	c.Notifier().Subscribe(func(change notify.Change) {
		if change.Type == notify.ChangeReload {
			reloads.Add(1)
		}
	})

	require.NoError(t, c.Load(context.Background()))
	require.Equal(t, int32(1), reloads.Load())

	replaceFile(t, path, "server:\n  port: 81\n")
	require.Eventually(t, func() bool {
		return lookup(c.Model(), "server.port") == int64(81)
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(2))

	// An invalid file keeps the previous content.
	replaceFile(t, path, "server: [broken\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(81), valueOf(t, c.Model(), "server.port"))

	// Removing the file empties its layer.
	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return !c.Model().RootNode().IsDefined()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLoadError(t *testing.T) {
	inner := errors.New("boom")
	err := &LoadError{Path: "/etc/app.yaml", Err: inner}

	assert.Equal(t, "loading /etc/app.yaml: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
