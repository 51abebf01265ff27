// Package node provides the immutable tree nodes that make up a
// configuration hierarchy.
//
// A Node is never modified after construction. Structural changes are
// expressed by deriving new nodes that share all untouched children with
// the original, so old and new trees can be read side by side without
// copying.
package node

import (
	"maps"
	"slices"
	"sync/atomic"
)

// nextID hands out node identities. Zero is never used.
var nextID atomic.Uint64

// Node is an immutable configuration node: a name, an optional value,
// an ordered list of children and a set of attributes.
//
// Every node carries a unique ID assigned at construction. Indices that
// relate nodes to each other (parent lookup, tracking) are keyed by this
// ID, so two nodes with identical content are still distinct.
type Node struct {
	id         uint64
	name       string
	value      any
	children   []*Node
	attributes map[string]any
}

func newNode(name string, value any, children []*Node, attributes map[string]any) *Node {
	return &Node{
		id:         nextID.Add(1),
		name:       name,
		value:      value,
		children:   children,
		attributes: attributes,
	}
}

// New creates a node with a name and no other content.
func New(name string) *Node {
	return newNode(name, nil, nil, nil)
}

// ID returns the identity of the node.
func (n *Node) ID() uint64 {
	return n.id
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// Value returns the node value, or nil if the node has none.
func (n *Node) Value() any {
	return n.value
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int {
	return len(n.children)
}

// Child returns the child at index i.
func (n *Node) Child(i int) *Node {
	return n.children[i]
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	return slices.Clone(n.children)
}

// Attribute returns the value of an attribute.
func (n *Node) Attribute(name string) (any, bool) {
	v, ok := n.attributes[name]
	return v, ok
}

// HasAttribute reports whether the node carries the named attribute.
func (n *Node) HasAttribute(name string) bool {
	_, ok := n.attributes[name]
	return ok
}

// AttributeCount returns the number of attributes.
func (n *Node) AttributeCount() int {
	return len(n.attributes)
}

// Attributes returns a copy of the attribute map.
func (n *Node) Attributes() map[string]any {
	return maps.Clone(n.attributes)
}

// AttributeNames returns the attribute names in sorted order.
func (n *Node) AttributeNames() []string {
	return slices.Sorted(maps.Keys(n.attributes))
}

// IsDefined reports whether the node holds any data. Undefined nodes
// are pruned from a tree when an update leaves them empty.
func (n *Node) IsDefined() bool {
	return n.value != nil || len(n.children) > 0 || len(n.attributes) > 0
}

// WithName returns a node with a different name.
func (n *Node) WithName(name string) *Node {
	if name == n.name {
		return n
	}
	return newNode(name, n.value, n.children, n.attributes)
}

// WithValue returns a node with a different value.
func (n *Node) WithValue(value any) *Node {
	return newNode(n.name, value, n.children, n.attributes)
}

// AddChild returns a node with child appended to the child list.
func (n *Node) AddChild(child *Node) *Node {
	if child == nil {
		return n
	}
	children := make([]*Node, len(n.children), len(n.children)+1)
	copy(children, n.children)
	return newNode(n.name, n.value, append(children, child), n.attributes)
}

// RemoveChild returns a node without child. The child is matched by
// identity; if it is not present the receiver is returned.
func (n *Node) RemoveChild(child *Node) *Node {
	idx := IndexOfChild(n, child)
	if idx < 0 {
		return n
	}
	children := make([]*Node, 0, len(n.children)-1)
	children = append(children, n.children[:idx]...)
	children = append(children, n.children[idx+1:]...)
	return newNode(n.name, n.value, children, n.attributes)
}

// ReplaceChild returns a node in which old is replaced by replacement at
// the same position. If old is not a child the receiver is returned.
func (n *Node) ReplaceChild(old, replacement *Node) *Node {
	idx := IndexOfChild(n, old)
	if idx < 0 || replacement == nil {
		return n
	}
	children := slices.Clone(n.children)
	children[idx] = replacement
	return newNode(n.name, n.value, children, n.attributes)
}

// ReplaceChildren returns a node with a completely new child list.
func (n *Node) ReplaceChildren(children []*Node) *Node {
	return newNode(n.name, n.value, compact(children), n.attributes)
}

// WithAttribute returns a node in which the attribute name is set to value.
func (n *Node) WithAttribute(name string, value any) *Node {
	attrs := make(map[string]any, len(n.attributes)+1)
	maps.Copy(attrs, n.attributes)
	attrs[name] = value
	return newNode(n.name, n.value, n.children, attrs)
}

// WithAttributes returns a node with all entries of attrs set.
func (n *Node) WithAttributes(attrs map[string]any) *Node {
	if len(attrs) == 0 {
		return n
	}
	merged := make(map[string]any, len(n.attributes)+len(attrs))
	maps.Copy(merged, n.attributes)
	maps.Copy(merged, attrs)
	return newNode(n.name, n.value, n.children, merged)
}

// RemoveAttribute returns a node without the named attribute.
func (n *Node) RemoveAttribute(name string) *Node {
	if !n.HasAttribute(name) {
		return n
	}
	attrs := maps.Clone(n.attributes)
	delete(attrs, name)
	if len(attrs) == 0 {
		attrs = nil
	}
	return newNode(n.name, n.value, n.children, attrs)
}

// ToBuilder returns a builder initialized with the content of the node.
func (n *Node) ToBuilder() *Builder {
	return &Builder{
		name:       n.name,
		value:      n.value,
		children:   slices.Clone(n.children),
		attributes: maps.Clone(n.attributes),
	}
}

// ChildrenNamed returns the children of n with the given name, in order.
func ChildrenNamed(n *Node, name string) []*Node {
	var result []*Node
	for _, c := range n.children {
		if c.name == name {
			result = append(result, c)
		}
	}
	return result
}

// MatchingChildrenCount returns the number of children named name.
func MatchingChildrenCount(n *Node, name string) int {
	count := 0
	for _, c := range n.children {
		if c.name == name {
			count++
		}
	}
	return count
}

// IndexOfChild returns the position of child among the children of
// parent, or -1.
func IndexOfChild(parent, child *Node) int {
	if parent == nil || child == nil {
		return -1
	}
	for i, c := range parent.children {
		if c.id == child.id {
			return i
		}
	}
	return -1
}

func compact(children []*Node) []*Node {
	result := make([]*Node, 0, len(children))
	for _, c := range children {
		if c != nil {
			result = append(result, c)
		}
	}
	return result
}
