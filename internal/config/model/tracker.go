package model

import (
	"maps"

	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/query"
)

// trackedNode is the registry record of one selector.
type trackedNode struct {
	node      *node.Node
	observers int
	detached  bool
}

// NodeTracker keeps nodes addressable through selectors while the tree
// is rewritten. Each snapshot owns one tracker; all methods that change
// tracking return a new tracker and leave the receiver untouched.
//
// A tracked node is live as long as its selector resolves to exactly one
// node. When an update breaks that, the node becomes detached: its last
// instance stays available but is no longer followed, even if later
// updates make the selector valid again.
type NodeTracker struct {
	nodes map[query.Selector]trackedNode
}

// NewNodeTracker creates an empty tracker.
func NewNodeTracker() *NodeTracker {
	return &NodeTracker{nodes: map[query.Selector]trackedNode{}}
}

// Len returns the number of tracked selectors.
func (t *NodeTracker) Len() int {
	return len(t.nodes)
}

// TrackNode starts tracking the node selected by sel. Tracking an
// already tracked selector again only registers another observer.
func (t *NodeTracker) TrackNode(root *node.Node, sel query.Selector, r query.Resolver, h node.Handler) (*NodeTracker, error) {
	if tn, ok := t.nodes[sel]; ok {
		tn.observers++
		return t.with(sel, tn), nil
	}
	n := sel.Select(root, r, h)
	if n == nil {
		return nil, &SelectorError{Selector: sel, Err: ErrAmbiguousSelector}
	}
	return t.with(sel, trackedNode{node: n, observers: 1}), nil
}

// TrackNodes registers already resolved nodes under their selectors.
// selectors and nodes must have the same length.
func (t *NodeTracker) TrackNodes(selectors []query.Selector, nodes []*node.Node) *NodeTracker {
	next := t.clone()
	for i, sel := range selectors {
		tn, ok := next.nodes[sel]
		if ok {
			tn.observers++
		} else {
			tn = trackedNode{node: nodes[i], observers: 1}
		}
		next.nodes[sel] = tn
	}
	return next
}

// UntrackNode removes one observer of sel; the selector is dropped when
// no observer is left.
func (t *NodeTracker) UntrackNode(sel query.Selector) (*NodeTracker, error) {
	tn, ok := t.nodes[sel]
	if !ok {
		return nil, &SelectorError{Selector: sel, Err: ErrUnknownSelector}
	}
	next := t.clone()
	if tn.observers <= 1 {
		delete(next.nodes, sel)
	} else {
		tn.observers--
		next.nodes[sel] = tn
	}
	return next, nil
}

// TrackedNode returns the current node of sel. For a detached selector
// this is the last node it resolved to.
func (t *NodeTracker) TrackedNode(sel query.Selector) (*node.Node, error) {
	tn, ok := t.nodes[sel]
	if !ok {
		return nil, &SelectorError{Selector: sel, Err: ErrUnknownSelector}
	}
	return tn.node, nil
}

// IsDetached reports whether sel is detached.
func (t *NodeTracker) IsDetached(sel query.Selector) (bool, error) {
	tn, ok := t.nodes[sel]
	if !ok {
		return false, &SelectorError{Selector: sel, Err: ErrUnknownSelector}
	}
	return tn.detached, nil
}

// Update re-evaluates every live selector against a new root. Selectors
// that no longer select exactly one node become detached.
func (t *NodeTracker) Update(root *node.Node, r query.Resolver, h node.Handler) *NodeTracker {
	if len(t.nodes) == 0 {
		return t
	}
	next := t.clone()
	for sel, tn := range t.nodes {
		if tn.detached {
			continue
		}
		var n *node.Node
		if r != nil {
			n = sel.Select(root, r, h)
		}
		if n == nil {
			tn.detached = true
		} else {
			tn.node = n
		}
		next.nodes[sel] = tn
	}
	return next
}

// DetachAll marks every tracked node as detached. It is used when a root
// is installed that has no relation to the previous structure.
func (t *NodeTracker) DetachAll() *NodeTracker {
	if len(t.nodes) == 0 {
		return t
	}
	next := t.clone()
	for sel, tn := range next.nodes {
		tn.detached = true
		next.nodes[sel] = tn
	}
	return next
}

// ReplaceAndDetach replaces the node of sel and marks it detached.
func (t *NodeTracker) ReplaceAndDetach(sel query.Selector, n *node.Node) (*NodeTracker, error) {
	tn, ok := t.nodes[sel]
	if !ok {
		return nil, &SelectorError{Selector: sel, Err: ErrUnknownSelector}
	}
	tn.node = n
	tn.detached = true
	return t.with(sel, tn), nil
}

func (t *NodeTracker) with(sel query.Selector, tn trackedNode) *NodeTracker {
	next := t.clone()
	next.nodes[sel] = tn
	return next
}

func (t *NodeTracker) clone() *NodeTracker {
	nodes := maps.Clone(t.nodes)
	if nodes == nil {
		nodes = make(map[query.Selector]trackedNode)
	}
	return &NodeTracker{nodes: nodes}
}
