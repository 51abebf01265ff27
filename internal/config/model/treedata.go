package model

import (
	"github.com/dshills/cfgtree/internal/config/node"
)

// TreeData is one immutable snapshot of a node model: the root node, the
// parent of every other node, and the tracked node registry.
//
// A TreeData is never modified once published, so it can be handed out
// as a read handle and used from any goroutine for as long as needed.
type TreeData struct {
	root    *node.Node
	parents map[uint64]*node.Node
	tracker *NodeTracker
	version uint64
}

var _ node.Handler = (*TreeData)(nil)

// newTreeData creates a snapshot for root, computing the full parent
// index.
func newTreeData(root *node.Node, tracker *NodeTracker, version uint64) *TreeData {
	if tracker == nil {
		tracker = NewNodeTracker()
	}
	return &TreeData{
		root:    root,
		parents: parentIndex(root),
		tracker: tracker,
		version: version,
	}
}

// Root returns the root node of the snapshot.
func (d *TreeData) Root() *node.Node {
	return d.root
}

// Parent returns the parent of n, or nil if n is the root or not part of
// the snapshot.
func (d *TreeData) Parent(n *node.Node) *node.Node {
	if n == nil {
		return nil
	}
	return d.parents[n.ID()]
}

// Contains reports whether n belongs to the snapshot.
func (d *TreeData) Contains(n *node.Node) bool {
	if n == nil {
		return false
	}
	if n.ID() == d.root.ID() {
		return true
	}
	_, ok := d.parents[n.ID()]
	return ok
}

// Depth returns the distance of n from the root, or -1 if n is not part
// of the snapshot.
func (d *TreeData) Depth(n *node.Node) int {
	if !d.Contains(n) {
		return -1
	}
	depth := 0
	for p := d.Parent(n); p != nil; p = d.Parent(p) {
		depth++
	}
	return depth
}

// ParentCount returns the number of entries in the parent index, which
// is the number of nodes minus the root.
func (d *TreeData) ParentCount() int {
	return len(d.parents)
}

// Version returns the structural version of the snapshot. It increases
// with every structural change; tracking changes keep it.
func (d *TreeData) Version() uint64 {
	return d.version
}

// Tracker returns the tracked node registry of the snapshot.
func (d *TreeData) Tracker() *NodeTracker {
	return d.tracker
}

// withTracker returns a snapshot sharing structure and parent index but
// using a different tracker.
func (d *TreeData) withTracker(t *NodeTracker) *TreeData {
	return &TreeData{
		root:    d.root,
		parents: d.parents,
		tracker: t,
		version: d.version,
	}
}

// parentIndex maps every node below root to its parent. The walk is
// breadth-first with an explicit queue so tree depth is not limited by
// the stack.
func parentIndex(root *node.Node) map[uint64]*node.Node {
	parents := make(map[uint64]*node.Node)
	node.WalkBFS(root, func(n *node.Node) bool {
		for i := 0; i < n.ChildCount(); i++ {
			parents[n.Child(i).ID()] = n
		}
		return true
	})
	return parents
}
