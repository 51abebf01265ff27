package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/query"
)

func TestTransaction_ChangeValuesCoalesced(t *testing.T) {
	root := testRoot()
	base := newTreeData(root, nil, 4)
	db := root.Child(0)

	tx := NewTransaction(base, expr.Default)
	assert.True(t, tx.Empty())
	tx.ChangeNodeValueOperation(db.Child(0), "db.internal")
	tx.ChangeNodeValueOperation(db.Child(1), 6543)
	assert.False(t, tx.Empty())
	assert.Same(t, base, tx.Base())

	next, err := tx.Execute()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), next.Version())

	newRoot := next.Root()
	require.Equal(t, 2, newRoot.ChildCount())
	newDB := newRoot.Child(0)
	assert.NotSame(t, db, newDB)
	assert.Equal(t, "db.internal", newDB.Child(0).Value())
	assert.Equal(t, 6543, newDB.Child(1).Value())

	// Untouched subtrees are shared.
	assert.Same(t, root.Child(1), newRoot.Child(1))

	// Parents point at the single rebuilt ancestor.
	assert.Same(t, newDB, next.Parent(newDB.Child(0)))
	assert.Same(t, newDB, next.Parent(newDB.Child(1)))
	assert.Same(t, newRoot, next.Parent(newDB))

	// The base snapshot is not modified.
	assert.Same(t, root, base.Root())
	assert.Equal(t, "localhost", root.Child(0).Child(0).Value())
	assert.Same(t, db, base.Parent(db.Child(0)))
}

func TestTransaction_EditsAtSeveralDepths(t *testing.T) {
	root := testRoot()
	base := newTreeData(root, nil, 0)
	db := root.Child(0)
	servers := root.Child(1)

	tx := NewTransaction(base, expr.Default)
	tx.AddAttributeOperation(root, "env", "prod")
	tx.AddNodeOperation(db, leaf("user", "admin"))
	tx.RemoveAttributeOperation(servers.Child(0), "id")
	tx.ChangeNodeValueOperation(servers.Child(1).Child(0), 9090)

	next, err := tx.Execute()
	require.NoError(t, err)

	newRoot := next.Root()
	v, ok := newRoot.Attribute("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v)

	newDB := newRoot.Child(0)
	require.Equal(t, 3, newDB.ChildCount())
	assert.Equal(t, "user", newDB.Child(2).Name())
	assert.Same(t, db.Child(0), newDB.Child(0))

	newServers := newRoot.Child(1)
	require.Equal(t, 2, newServers.ChildCount())
	assert.False(t, newServers.Child(0).HasAttribute("id"))
	assert.Equal(t, 9090, newServers.Child(1).Child(0).Value())
	id, _ := newServers.Child(1).Attribute("id")
	assert.Equal(t, "beta", id)

	node.WalkBFS(newRoot, func(n *node.Node) bool {
		for i := 0; i < n.ChildCount(); i++ {
			assert.Same(t, n, next.Parent(n.Child(i)))
		}
		return true
	})
}

func TestTransaction_PrunesEmptiedNodes(t *testing.T) {
	root := node.NewBuilder().Name("config").
		AddChild(node.NewBuilder().Name("a").
			AddChild(node.NewBuilder().Name("b").
				AddChild(leaf("c", 1)).
				Build()).
			Build()).
		AddChild(leaf("d", 2)).
		Build()
	base := newTreeData(root, nil, 0)
	c := root.Child(0).Child(0).Child(0)

	tx := NewTransaction(base, expr.Default)
	tx.ClearNodeValueOperation(c)
	next, err := tx.Execute()
	require.NoError(t, err)

	// c, b and a became empty and are gone; the root stays.
	newRoot := next.Root()
	assert.Equal(t, "config", newRoot.Name())
	require.Equal(t, 1, newRoot.ChildCount())
	assert.Same(t, root.Child(1), newRoot.Child(0))
	assert.Equal(t, 1, next.ParentCount())
}

func TestTransaction_RootIsNeverPruned(t *testing.T) {
	root := node.NewBuilder().Name("config").AddChild(leaf("x", 1)).Build()
	base := newTreeData(root, nil, 0)

	tx := NewTransaction(base, expr.Default)
	tx.RemoveNodeOperation(root, root.Child(0))
	next, err := tx.Execute()
	require.NoError(t, err)

	assert.Equal(t, "config", next.Root().Name())
	assert.Equal(t, 0, next.Root().ChildCount())
	assert.False(t, next.Root().IsDefined())
}

func TestTransaction_RemoveAndReplace(t *testing.T) {
	root := testRoot()
	base := newTreeData(root, nil, 0)
	servers := root.Child(1)

	replacement := leaf("db", "sqlite://memory")
	tx := NewTransaction(base, expr.Default)
	tx.RemoveNodeOperation(servers, servers.Child(0))
	tx.ReplaceNodeOperation(root, root.Child(0), replacement)
	next, err := tx.Execute()
	require.NoError(t, err)

	newRoot := next.Root()
	assert.Same(t, replacement, newRoot.Child(0))
	require.Equal(t, 1, newRoot.Child(1).ChildCount())
	assert.Same(t, servers.Child(1), newRoot.Child(1).Child(0))
}

func TestTransaction_ChangeNodeName(t *testing.T) {
	root := testRoot()
	tx := NewTransaction(newTreeData(root, nil, 0), expr.Default)
	tx.ChangeNodeNameOperation(root, "settings")
	next, err := tx.Execute()
	require.NoError(t, err)

	assert.Equal(t, "settings", next.Root().Name())
	assert.Same(t, root.Child(0), next.Root().Child(0))
}

func TestTransaction_UnchangedTarget(t *testing.T) {
	root := testRoot()
	base := newTreeData(root, nil, 0)

	tx := NewTransaction(base, expr.Default)
	tx.ChangeNodeNameOperation(root.Child(0), "db")
	next, err := tx.Execute()
	require.NoError(t, err)
	assert.Same(t, root, next.Root())
}

func TestTransaction_Errors(t *testing.T) {
	root := testRoot()
	base := newTreeData(root, nil, 0)

	t.Run("unknown node", func(t *testing.T) {
		tx := NewTransaction(base, expr.Default)
		tx.ChangeNodeValueOperation(leaf("stranger", 1), 2)
		_, err := tx.Execute()
		assert.ErrorIs(t, err, ErrUnknownNode)
	})

	t.Run("not a child", func(t *testing.T) {
		tx := NewTransaction(base, expr.Default)
		tx.RemoveNodeOperation(root.Child(1), root.Child(0).Child(0))
		_, err := tx.Execute()
		assert.ErrorIs(t, err, ErrUnknownNode)
	})

	t.Run("nil node", func(t *testing.T) {
		tx := NewTransaction(base, expr.Default)
		tx.AddAttributeOperation(nil, "a", 1)
		_, err := tx.Execute()
		assert.ErrorIs(t, err, ErrNilNode)
	})

	t.Run("executed twice", func(t *testing.T) {
		tx := NewTransaction(base, expr.Default)
		tx.ChangeNodeValueOperation(root.Child(0).Child(0), "x")
		_, err := tx.Execute()
		require.NoError(t, err)
		_, err = tx.Execute()
		assert.ErrorIs(t, err, ErrTransactionExecuted)
	})
}

func TestTransaction_UpdatesTracker(t *testing.T) {
	root := testRoot()
	sel := query.NewSelector("db.port")
	tracker, err := NewNodeTracker().TrackNode(root, sel, expr.Default, newTreeData(root, nil, 0))
	require.NoError(t, err)
	base := newTreeData(root, tracker, 0)

	tx := NewTransaction(base, expr.Default)
	tx.ChangeNodeValueOperation(root.Child(0).Child(1), 1)
	next, err := tx.Execute()
	require.NoError(t, err)

	n, err := next.Tracker().TrackedNode(sel)
	require.NoError(t, err)
	assert.Equal(t, 1, n.Value())
	assert.Same(t, next.Root().Child(0).Child(1), n)

	n, err = base.Tracker().TrackedNode(sel)
	require.NoError(t, err)
	assert.Equal(t, 5432, n.Value())
}

func TestTransaction_DeepChain(t *testing.T) {
	const depth = 100000
	deepest := leaf("leaf", 1)
	n := deepest
	for i := 0; i < depth; i++ {
		n = node.NewBuilder().Name("level").AddChild(n).Build()
	}
	base := newTreeData(n, nil, 0)

	tx := NewTransaction(base, expr.Default)
	tx.ChangeNodeValueOperation(deepest, 2)
	tx.AddAttributeOperation(n.Child(0).Child(0), "marked", true)

	start := time.Now()
	next, err := tx.Execute()
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.Equal(t, depth, next.ParentCount())
	leafNode := next.Root()
	for leafNode.ChildCount() > 0 {
		leafNode = leafNode.Child(0)
	}
	assert.Equal(t, 2, leafNode.Value())
	assert.Equal(t, depth, next.Depth(leafNode))
	marked, ok := next.Root().Child(0).Child(0).Attribute("marked")
	assert.True(t, ok)
	assert.Equal(t, true, marked)
}
