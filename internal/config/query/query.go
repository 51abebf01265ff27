// Package query defines the contract between the node model and the key
// language that addresses nodes.
//
// The model never parses keys itself. It asks a Resolver to turn a key
// into query results (for reads, clears and updates) or into add data
// (for inserting new nodes and attributes), always against one specific
// snapshot of the tree.
package query

import (
	"github.com/dshills/cfgtree/internal/config/node"
)

// Result is one match of a key: either a node or an attribute of a node.
type Result struct {
	// Node is the matched node, or the owner of the matched attribute.
	Node *node.Node

	// Attribute is the attribute name for attribute results; empty for
	// node results.
	Attribute string
}

// NodeResult creates a result for a node match.
func NodeResult(n *node.Node) Result {
	return Result{Node: n}
}

// AttributeResult creates a result for an attribute match.
func AttributeResult(n *node.Node, attr string) Result {
	return Result{Node: n, Attribute: attr}
}

// IsAttribute reports whether the result refers to an attribute.
func (r Result) IsAttribute() bool {
	return r.Attribute != ""
}

// Value returns the attribute value for attribute results and the node
// value otherwise.
func (r Result) Value() any {
	if r.IsAttribute() {
		v, _ := r.Node.Attribute(r.Attribute)
		return v
	}
	return r.Node.Value()
}

// AddData describes where new data is inserted into a tree.
type AddData struct {
	// Parent is the deepest existing node on the key path.
	Parent *node.Node

	// NewName is the name of the node or attribute to create.
	NewName string

	// PathNodes are names of intermediate nodes that do not exist yet,
	// outermost first. The new data goes below the last path node.
	PathNodes []string

	// Attribute is true if the key addresses an attribute.
	Attribute bool
}

// ChangedValue pairs an existing match with its replacement value.
type ChangedValue struct {
	Result Result
	Value  any
}

// UpdateData partitions a set-value operation into changes of existing
// matches, values that need new nodes, and matches that have to go.
type UpdateData struct {
	// Key is the key that was resolved.
	Key string

	// NewValues have no existing match and must be added.
	NewValues []any

	// Changed lists existing matches with their new values, in key order.
	Changed []ChangedValue

	// Removed are matches for which no value is left.
	Removed []Result
}

// Resolver evaluates keys against a tree. Implementations must be safe
// for concurrent use; every call receives the snapshot to operate on.
type Resolver interface {
	// ResolveKey returns all matches of key below root.
	ResolveKey(root *node.Node, key string, h node.Handler) ([]Result, error)

	// ResolveNodeKey returns the nodes matched by key, ignoring
	// attribute matches.
	ResolveNodeKey(root *node.Node, key string, h node.Handler) ([]*node.Node, error)

	// ResolveAddKey determines where data for key has to be inserted.
	ResolveAddKey(root *node.Node, key string, h node.Handler) (AddData, error)

	// ResolveUpdateKey determines which matches of key change, which
	// values are added and which matches are removed when key is set to
	// newValue.
	ResolveUpdateKey(root *node.Node, key string, newValue any, h node.Handler) (UpdateData, error)

	// NodeKey returns a key that selects exactly n.
	NodeKey(n *node.Node, h node.Handler) string
}
