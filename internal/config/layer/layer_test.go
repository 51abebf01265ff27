package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/cfgtree/internal/config/node"
)

func leaf(name string, value any) *node.Node {
	return node.NewBuilder().Name(name).Value(value).Build()
}

func TestSource(t *testing.T) {
	tests := []struct {
		source   Source
		name     string
		priority int
	}{
		{SourceDefaults, "defaults", PriorityDefaults},
		{SourceFile, "file", PriorityFile},
		{SourceEnv, "environment", PriorityEnv},
		{Source(99), "unknown", PriorityDefaults},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.source.String())
		assert.Equal(t, tt.priority, tt.source.Priority())
	}
	assert.Less(t, SourceFile.Priority(), SourceEnv.Priority())
}

func TestNew(t *testing.T) {
	l := New("defaults", SourceDefaults, -1, nil)

	assert.Equal(t, PriorityDefaults, l.Priority)
	assert.NotNil(t, l.Root)
	assert.False(t, l.Root.IsDefined())
	assert.False(t, l.Loaded.IsZero())
	assert.Equal(t, "defaults(defaults, 0)", l.String())

	root := node.NewBuilder().Name("config").AddChild(leaf("port", 80)).Build()
	env := New("env", SourceEnv, 42, root)
	assert.Same(t, root, env.Root)
	assert.Equal(t, 42, env.Priority)
	assert.Empty(t, env.Path)
}

func TestNewFile(t *testing.T) {
	l := NewFile("/etc/app/site.yaml", -1, nil)

	assert.Equal(t, "/etc/app/site.yaml", l.Name)
	assert.Equal(t, "/etc/app/site.yaml", l.Path)
	assert.Equal(t, SourceFile, l.Source)
	assert.Equal(t, PriorityFile, l.Priority)
}
