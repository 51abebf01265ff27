package query

import (
	"strings"

	"github.com/dshills/cfgtree/internal/config/node"
)

// keySeparator joins the keys of a selector chain. Keys never contain it.
const keySeparator = "\x00"

// Selector identifies a single node by a key or by a chain of keys, each
// evaluated relative to the node selected by the previous one.
//
// Selector is a comparable value type and can be used as a map key; two
// selectors are equal if their key chains are equal.
type Selector struct {
	keys string
}

// NewSelector creates a selector for a single key.
func NewSelector(key string) Selector {
	return Selector{keys: key}
}

// SubSelector returns a selector that first applies s and then key
// relative to the selected node.
func (s Selector) SubSelector(key string) Selector {
	return Selector{keys: s.keys + keySeparator + key}
}

// Keys returns the key chain of the selector.
func (s Selector) Keys() []string {
	return strings.Split(s.keys, keySeparator)
}

// String returns a readable form of the selector.
func (s Selector) String() string {
	return "Selector[" + strings.Join(s.Keys(), " / ") + "]"
}

// Select evaluates the selector against root. It returns the selected
// node, or nil if the chain does not lead to exactly one node or a key
// cannot be resolved.
func (s Selector) Select(root *node.Node, r Resolver, h node.Handler) *node.Node {
	keys := s.Keys()
	nodes, err := r.ResolveNodeKey(root, keys[0], h)
	if err != nil {
		return nil
	}
	for _, key := range keys[1:] {
		var next []*node.Node
		for _, n := range nodes {
			found, err := r.ResolveNodeKey(n, key, h)
			if err != nil {
				return nil
			}
			next = append(next, found...)
		}
		nodes = next
	}
	if len(nodes) != 1 {
		return nil
	}
	return nodes[0]
}
