package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/query"
)

func TestNodeTracker_TrackNode(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)
	sel := query.NewSelector("db")

	empty := NewNodeTracker()
	tracker, err := empty.TrackNode(root, sel, expr.Default, data)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len(), "receiver must stay unchanged")
	assert.Equal(t, 1, tracker.Len())

	n, err := tracker.TrackedNode(sel)
	require.NoError(t, err)
	assert.Same(t, root.Child(0), n)

	detached, err := tracker.IsDetached(sel)
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestNodeTracker_AmbiguousSelector(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)

	for _, key := range []string{"servers.server", "missing", "servers.server[@id]"} {
		_, err := NewNodeTracker().TrackNode(root, query.NewSelector(key), expr.Default, data)
		assert.ErrorIs(t, err, ErrAmbiguousSelector, key)
		var selErr *SelectorError
		assert.ErrorAs(t, err, &selErr)
	}
}

func TestNodeTracker_Observers(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)
	sel := query.NewSelector("db.host")

	tracker, err := NewNodeTracker().TrackNode(root, sel, expr.Default, data)
	require.NoError(t, err)
	tracker, err = tracker.TrackNode(root, sel, expr.Default, data)
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.Len())

	tracker, err = tracker.UntrackNode(sel)
	require.NoError(t, err)
	_, err = tracker.TrackedNode(sel)
	require.NoError(t, err, "selector must survive while observers remain")

	tracker, err = tracker.UntrackNode(sel)
	require.NoError(t, err)
	assert.Equal(t, 0, tracker.Len())

	_, err = tracker.UntrackNode(sel)
	assert.ErrorIs(t, err, ErrUnknownSelector)
	_, err = tracker.TrackedNode(sel)
	assert.ErrorIs(t, err, ErrUnknownSelector)
	_, err = tracker.IsDetached(sel)
	assert.ErrorIs(t, err, ErrUnknownSelector)
}

func TestNodeTracker_Update(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)
	hostSel := query.NewSelector("db.host")
	portSel := query.NewSelector("db.port")

	tracker, err := NewNodeTracker().TrackNode(root, hostSel, expr.Default, data)
	require.NoError(t, err)
	tracker, err = tracker.TrackNode(root, portSel, expr.Default, data)
	require.NoError(t, err)

	// New root: host changed, port removed.
	db := root.Child(0)
	newDB := node.NewBuilder().Name("db").AddChild(leaf("host", "remote")).Build()
	newRoot := root.ReplaceChild(db, newDB)
	newData := newTreeData(newRoot, nil, 1)

	updated := tracker.Update(newRoot, expr.Default, newData)

	host, err := updated.TrackedNode(hostSel)
	require.NoError(t, err)
	assert.Equal(t, "remote", host.Value())
	detached, _ := updated.IsDetached(hostSel)
	assert.False(t, detached)

	port, err := updated.TrackedNode(portSel)
	require.NoError(t, err)
	assert.Equal(t, 5432, port.Value(), "detached node keeps its last instance")
	detached, _ = updated.IsDetached(portSel)
	assert.True(t, detached)

	// A later root with the port again does not re-attach.
	again := updated.Update(root, expr.Default, data)
	detached, _ = again.IsDetached(portSel)
	assert.True(t, detached)
	port, _ = again.TrackedNode(portSel)
	assert.Same(t, db.Child(1), port)

	// The original tracker is unchanged.
	detached, _ = tracker.IsDetached(portSel)
	assert.False(t, detached)
}

func TestNodeTracker_UpdateWithoutResolver(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)
	sel := query.NewSelector("db")

	tracker, err := NewNodeTracker().TrackNode(root, sel, expr.Default, data)
	require.NoError(t, err)

	updated := tracker.Update(root, nil, data)
	detached, err := updated.IsDetached(sel)
	require.NoError(t, err)
	assert.True(t, detached)
}

func TestNodeTracker_DetachAll(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)

	empty := NewNodeTracker()
	assert.Same(t, empty, empty.DetachAll())

	tracker, err := empty.TrackNode(root, query.NewSelector("db"), expr.Default, data)
	require.NoError(t, err)
	tracker, err = tracker.TrackNode(root, query.NewSelector("servers"), expr.Default, data)
	require.NoError(t, err)

	detachedAll := tracker.DetachAll()
	for _, key := range []string{"db", "servers"} {
		detached, err := detachedAll.IsDetached(query.NewSelector(key))
		require.NoError(t, err)
		assert.True(t, detached, key)
	}
	n, _ := detachedAll.TrackedNode(query.NewSelector("db"))
	assert.Same(t, root.Child(0), n)
}

func TestNodeTracker_ReplaceAndDetach(t *testing.T) {
	root := testRoot()
	data := newTreeData(root, nil, 0)
	sel := query.NewSelector("db")

	tracker, err := NewNodeTracker().TrackNode(root, sel, expr.Default, data)
	require.NoError(t, err)

	replacement := leaf("db", "external")
	replaced, err := tracker.ReplaceAndDetach(sel, replacement)
	require.NoError(t, err)

	n, _ := replaced.TrackedNode(sel)
	assert.Same(t, replacement, n)
	detached, _ := replaced.IsDetached(sel)
	assert.True(t, detached)

	_, err = tracker.ReplaceAndDetach(query.NewSelector("other"), replacement)
	assert.ErrorIs(t, err, ErrUnknownSelector)
}

func TestNodeTracker_TrackNodes(t *testing.T) {
	root := testRoot()
	servers := root.Child(1)
	selectors := []query.Selector{
		query.NewSelector("servers.server(0)"),
		query.NewSelector("servers.server(1)"),
	}

	tracker := NewNodeTracker().TrackNodes(selectors, servers.Children())
	assert.Equal(t, 2, tracker.Len())
	n, err := tracker.TrackedNode(selectors[1])
	require.NoError(t, err)
	assert.Same(t, servers.Child(1), n)

	// Tracking again adds observers.
	tracker = tracker.TrackNodes(selectors[:1], servers.Children()[:1])
	tracker, err = tracker.UntrackNode(selectors[0])
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.Len())
}
