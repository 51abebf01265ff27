package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cfgtree/internal/config/node"
)

func server(id string, port int) *node.Node {
	return node.NewBuilder().Name("server").AddAttribute("id", id).AddChild(leaf("port", port)).Build()
}

func TestMerge(t *testing.T) {
	db := node.NewBuilder().Name("db").AddChild(leaf("host", "localhost")).Build()
	base := node.NewBuilder().Name("config").
		AddChild(db).
		AddChild(leaf("debug", false)).
		AddChild(server("alpha", 80)).
		AddChild(server("beta", 8080)).
		Build()
	overlay := node.NewBuilder().Name("config").
		AddChild(leaf("debug", true)).
		AddChild(node.NewBuilder().Name("server").AddChild(leaf("port", 81)).Build()).
		AddChild(leaf("extra", "x")).
		Build()

	merged := Merge(base, overlay)

	require.Equal(t, 5, merged.ChildCount())
	assert.Same(t, db, merged.Child(0), "untouched subtrees are shared")
	assert.Equal(t, true, merged.Child(1).Value())

	servers := node.ChildrenNamed(merged, "server")
	require.Len(t, servers, 2)
	assert.Equal(t, 81, node.ChildrenNamed(servers[0], "port")[0].Value())
	id, _ := servers[0].Attribute("id")
	assert.Equal(t, "alpha", id)
	assert.Same(t, base.Child(3), servers[1])

	assert.Equal(t, "extra", merged.Child(4).Name())

	// Inputs are not modified.
	assert.Equal(t, false, base.Child(1).Value())
}

func TestMerge_ValuesAndAttributes(t *testing.T) {
	base := node.NewBuilder().Name("limits").Value(10).
		AddAttribute("unit", "req/s").AddAttribute("scope", "global").Build()
	overlay := node.NewBuilder().Name("limits").AddAttribute("unit", "req/min").Build()

	merged := Merge(base, overlay)

	assert.Equal(t, 10, merged.Value(), "an overlay without value keeps the base value")
	unit, _ := merged.Attribute("unit")
	scope, _ := merged.Attribute("scope")
	assert.Equal(t, "req/min", unit)
	assert.Equal(t, "global", scope)
}

func TestMerge_Nil(t *testing.T) {
	n := leaf("a", 1)
	assert.Same(t, n, Merge(nil, n))
	assert.Same(t, n, Merge(n, nil))
}

func TestFlatten(t *testing.T) {
	root := node.NewBuilder().Name("config").
		AddChild(node.NewBuilder().Name("db").AddChild(leaf("host", "localhost")).Build()).
		AddChild(server("alpha", 80)).
		AddChild(server("beta", 8080)).
		AddChild(leaf("a.b", 1)).
		Build()

	assert.Equal(t, map[string]any{
		"db.host":        "localhost",
		"server(0)[@id]": "alpha",
		"server(0).port": 80,
		"server(1)[@id]": "beta",
		"server(1).port": 8080,
		"a..b":           1,
	}, Flatten(root))
}

func TestDiff(t *testing.T) {
	old := node.NewBuilder().Name("config").
		AddChild(leaf("a", 1)).
		AddChild(leaf("b", []any{1, 2})).
		AddChild(leaf("c", "gone")).
		Build()
	updated := node.NewBuilder().Name("config").
		AddChild(leaf("a", 2)).
		AddChild(leaf("b", []any{1, 2})).
		AddChild(leaf("d", "new")).
		Build()

	added, modified, removed := Diff(old, updated)
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"a"}, modified)
	assert.Equal(t, []string{"c"}, removed)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil both", nil, nil, true},
		{"nil one", nil, 1, false},
		{"scalars", 1, 1, true},
		{"different types", 1, int64(1), false},
		{"slices", []any{1, "a"}, []any{1, "a"}, true},
		{"slices differ", []any{1}, []any{2}, false},
		{"maps", map[string]any{"a": []any{1}}, map[string]any{"a": []any{1}}, true},
		{"typed slices", []int{1, 2}, []int{1, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.a, tt.b))
		})
	}
}
