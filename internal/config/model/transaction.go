package model

import (
	"fmt"
	"slices"

	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/query"
)

// attributeOp sets or removes one attribute.
type attributeOp struct {
	name   string
	value  any
	remove bool
}

// nodeOps collects everything that happens to one node of the base
// snapshot during a transaction.
type nodeOps struct {
	target *node.Node

	addChildren     []*node.Node
	removeChildren  map[uint64]struct{}
	replaceChildren map[uint64]*node.Node

	attributes []attributeOp

	setValue bool
	value    any

	setName bool
	name    string
}

// Transaction batches structural edits against one snapshot and turns
// them into the next snapshot.
//
// Recording an operation does no structural work. Execute rebuilds each
// affected node exactly once, bottom-up, so an ancestor shared by several
// edited nodes is copied a single time and reflects all of them. Nodes
// outside the affected paths are shared with the base snapshot.
//
// A Transaction is used by a single goroutine and executed at most once.
type Transaction struct {
	base     *TreeData
	resolver query.Resolver

	ops   map[uint64]*nodeOps
	order []uint64

	err      error
	executed bool
}

// NewTransaction creates a transaction bound to base. The resolver is
// used to update tracked nodes for the new snapshot.
func NewTransaction(base *TreeData, r query.Resolver) *Transaction {
	return &Transaction{
		base:     base,
		resolver: r,
		ops:      make(map[uint64]*nodeOps),
	}
}

// Base returns the snapshot the transaction operates on.
func (tx *Transaction) Base() *TreeData {
	return tx.base
}

// Empty reports whether no operation has been recorded.
func (tx *Transaction) Empty() bool {
	return len(tx.ops) == 0
}

// AddNodesOperation appends children to parent.
func (tx *Transaction) AddNodesOperation(parent *node.Node, children ...*node.Node) {
	children = slices.DeleteFunc(slices.Clone(children), func(c *node.Node) bool { return c == nil })
	if len(children) == 0 {
		return
	}
	if ops := tx.fetch(parent); ops != nil {
		ops.addChildren = append(ops.addChildren, children...)
	}
}

// AddNodeOperation appends a single child to parent.
func (tx *Transaction) AddNodeOperation(parent, child *node.Node) {
	tx.AddNodesOperation(parent, child)
}

// AddAttributeOperation sets an attribute of n.
func (tx *Transaction) AddAttributeOperation(n *node.Node, name string, value any) {
	if ops := tx.fetch(n); ops != nil {
		ops.attributes = append(ops.attributes, attributeOp{name: name, value: value})
	}
}

// AddAttributesOperation sets several attributes of n.
func (tx *Transaction) AddAttributesOperation(n *node.Node, attrs map[string]any) {
	for name, value := range attrs {
		tx.AddAttributeOperation(n, name, value)
	}
}

// RemoveAttributeOperation removes an attribute of n.
func (tx *Transaction) RemoveAttributeOperation(n *node.Node, name string) {
	if ops := tx.fetch(n); ops != nil {
		ops.attributes = append(ops.attributes, attributeOp{name: name, remove: true})
	}
}

// RemoveNodeOperation removes child from parent.
func (tx *Transaction) RemoveNodeOperation(parent, child *node.Node) {
	if !tx.checkChild(parent, child) {
		return
	}
	if ops := tx.fetch(parent); ops != nil {
		if ops.removeChildren == nil {
			ops.removeChildren = make(map[uint64]struct{})
		}
		ops.removeChildren[child.ID()] = struct{}{}
	}
}

// ReplaceNodeOperation puts replacement in the place of child.
func (tx *Transaction) ReplaceNodeOperation(parent, child, replacement *node.Node) {
	if replacement == nil {
		tx.fail(ErrNilNode)
		return
	}
	if !tx.checkChild(parent, child) {
		return
	}
	if ops := tx.fetch(parent); ops != nil {
		ops.replace(child, replacement)
	}
}

// ClearNodeValueOperation removes the value of n.
func (tx *Transaction) ClearNodeValueOperation(n *node.Node) {
	tx.ChangeNodeValueOperation(n, nil)
}

// ChangeNodeValueOperation sets the value of n.
func (tx *Transaction) ChangeNodeValueOperation(n *node.Node, value any) {
	if ops := tx.fetch(n); ops != nil {
		ops.setValue = true
		ops.value = value
	}
}

// ChangeNodeNameOperation renames n.
func (tx *Transaction) ChangeNodeNameOperation(n *node.Node, name string) {
	if ops := tx.fetch(n); ops != nil {
		ops.setName = true
		ops.name = name
	}
}

// Execute applies all recorded operations and returns the resulting
// snapshot. The base snapshot is not modified.
func (tx *Transaction) Execute() (*TreeData, error) {
	if tx.executed {
		return nil, ErrTransactionExecuted
	}
	tx.executed = true
	if tx.err != nil {
		return nil, tx.err
	}

	levels := tx.levels()
	newRoot := tx.base.root
	for depth := len(levels) - 1; depth >= 0; depth-- {
		for _, ops := range levels[depth] {
			rebuilt := ops.apply()
			if depth == 0 {
				newRoot = rebuilt
				continue
			}
			parentOps := tx.ops[tx.base.Parent(ops.target).ID()]
			switch {
			case rebuilt == ops.target:
			case rebuilt.IsDefined():
				parentOps.replace(ops.target, rebuilt)
			default:
				// Nodes emptied by this transaction are pruned.
				parentOps.remove(ops.target)
			}
		}
	}

	next := &TreeData{
		root:    newRoot,
		parents: parentIndex(newRoot),
		tracker: tx.base.tracker,
		version: tx.base.version + 1,
	}
	next.tracker = tx.base.tracker.Update(newRoot, tx.resolver, next)
	return next, nil
}

// levels groups the affected nodes by depth. Every ancestor of an
// edited node is included, so each level only reports to the level
// directly above it. Each ancestor chain is walked once, up to the
// first node whose depth is already known.
func (tx *Transaction) levels() [][]*nodeOps {
	targets := make([]*node.Node, 0, len(tx.order))
	for _, id := range tx.order {
		targets = append(targets, tx.ops[id].target)
	}

	depths := make(map[uint64]int, len(tx.ops))
	var chain []*node.Node
	for _, target := range targets {
		chain = chain[:0]
		depth := -1
		for n := target; n != nil; n = tx.base.Parent(n) {
			if d, ok := depths[n.ID()]; ok {
				depth = d
				break
			}
			chain = append(chain, n)
			tx.fetch(n)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			depth++
			depths[chain[i].ID()] = depth
		}
	}

	var levels [][]*nodeOps
	for _, id := range tx.order {
		depth := depths[id]
		for len(levels) <= depth {
			levels = append(levels, nil)
		}
		levels[depth] = append(levels[depth], tx.ops[id])
	}
	return levels
}

// fetch returns the operations of n, creating them on first use. It
// records an error and returns nil if n is not part of the base.
func (tx *Transaction) fetch(n *node.Node) *nodeOps {
	if n == nil {
		tx.fail(ErrNilNode)
		return nil
	}
	if ops, ok := tx.ops[n.ID()]; ok {
		return ops
	}
	if !tx.base.Contains(n) {
		tx.fail(fmt.Errorf("%w: %q", ErrUnknownNode, n.Name()))
		return nil
	}
	ops := &nodeOps{target: n}
	tx.ops[n.ID()] = ops
	tx.order = append(tx.order, n.ID())
	return ops
}

func (tx *Transaction) checkChild(parent, child *node.Node) bool {
	if parent == nil || child == nil {
		tx.fail(ErrNilNode)
		return false
	}
	if p := tx.base.Parent(child); p == nil || p.ID() != parent.ID() {
		tx.fail(fmt.Errorf("%w: %q is not a child of %q", ErrUnknownNode, child.Name(), parent.Name()))
		return false
	}
	return true
}

func (tx *Transaction) fail(err error) {
	if tx.err == nil {
		tx.err = err
	}
}

func (o *nodeOps) replace(child, replacement *node.Node) {
	if o.replaceChildren == nil {
		o.replaceChildren = make(map[uint64]*node.Node)
	}
	o.replaceChildren[child.ID()] = replacement
}

func (o *nodeOps) remove(child *node.Node) {
	if o.removeChildren == nil {
		o.removeChildren = make(map[uint64]struct{})
	}
	o.removeChildren[child.ID()] = struct{}{}
}

// apply builds the new version of the target node. If nothing changes,
// the target itself is returned.
func (o *nodeOps) apply() *node.Node {
	t := o.target
	changed := false

	children := make([]*node.Node, 0, t.ChildCount()+len(o.addChildren))
	for i := 0; i < t.ChildCount(); i++ {
		c := t.Child(i)
		if _, ok := o.removeChildren[c.ID()]; ok {
			changed = true
			continue
		}
		if r, ok := o.replaceChildren[c.ID()]; ok && r != c {
			children = append(children, r)
			changed = true
			continue
		}
		children = append(children, c)
	}
	if len(o.addChildren) > 0 {
		children = append(children, o.addChildren...)
		changed = true
	}

	attrs := t.Attributes()
	for _, a := range o.attributes {
		if a.remove {
			if _, ok := attrs[a.name]; ok {
				delete(attrs, a.name)
				changed = true
			}
			continue
		}
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[a.name] = a.value
		changed = true
	}

	value := t.Value()
	if o.setValue {
		value = o.value
		changed = true
	}
	name := t.Name()
	if o.setName && o.name != name {
		name = o.name
		changed = true
	}

	if !changed {
		return t
	}
	return node.NewBuilder().
		Name(name).
		Value(value).
		AddChildren(children...).
		AddAttributes(attrs).
		Build()
}
