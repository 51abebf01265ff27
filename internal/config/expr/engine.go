// Package expr implements the default key language for configuration
// trees.
//
// Keys are dot-separated node names, for example "server.http.port".
// An element may carry a zero-based index to pick one of several
// equally named siblings ("servers.server(1).host"), and a key may end
// in an attribute reference ("server[@id]"). A literal dot inside a
// name is written as two dots. The empty key addresses the root node.
package expr

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/query"
)

// Engine resolves keys against node trees. It is stateless and safe for
// concurrent use.
type Engine struct{}

// Default is a ready-to-use engine.
var Default = New()

// New creates an engine.
func New() *Engine {
	return &Engine{}
}

var _ query.Resolver = (*Engine)(nil)

// ResolveKey returns all matches of key below root in document order.
func (e *Engine) ResolveKey(root *node.Node, key string, _ node.Handler) ([]query.Result, error) {
	parts, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	nodes := []*node.Node{root}
	for _, p := range parts {
		if p.attribute {
			var results []query.Result
			for _, n := range nodes {
				if n.HasAttribute(p.name) {
					results = append(results, query.AttributeResult(n, p.name))
				}
			}
			return results, nil
		}
		nodes = matchChildren(nodes, p)
		if len(nodes) == 0 {
			return nil, nil
		}
	}

	results := make([]query.Result, len(nodes))
	for i, n := range nodes {
		results[i] = query.NodeResult(n)
	}
	return results, nil
}

// ResolveNodeKey returns the nodes matched by key.
func (e *Engine) ResolveNodeKey(root *node.Node, key string, h node.Handler) ([]*node.Node, error) {
	results, err := e.ResolveKey(root, key, h)
	if err != nil {
		return nil, err
	}
	var nodes []*node.Node
	for _, r := range results {
		if !r.IsAttribute() {
			nodes = append(nodes, r.Node)
		}
	}
	return nodes, nil
}

// ResolveAddKey follows key as far as it exists. Without an index the
// last of several equally named children is followed. Elements past
// that point become path nodes, except the last one which names the
// new node or attribute.
func (e *Engine) ResolveAddKey(root *node.Node, key string, _ node.Handler) (query.AddData, error) {
	parts, err := parseKey(key)
	if err != nil {
		return query.AddData{}, err
	}
	if len(parts) == 0 {
		return query.AddData{}, &KeyError{Key: key, Message: "cannot add to the root key"}
	}

	current := root
	i := 0
	for ; i < len(parts)-1; i++ {
		p := parts[i]
		matches := node.ChildrenNamed(current, p.name)
		idx := p.index
		if idx < 0 {
			idx = len(matches) - 1
		}
		if idx < 0 || idx >= len(matches) {
			break
		}
		current = matches[idx]
	}

	last := parts[len(parts)-1]
	data := query.AddData{
		Parent:    current,
		NewName:   last.name,
		Attribute: last.attribute,
	}
	for _, p := range parts[i : len(parts)-1] {
		data.PathNodes = append(data.PathNodes, p.name)
	}
	return data, nil
}

// ResolveUpdateKey pairs the current matches of key with the values in
// newValue. A slice or array value provides one value per element; nil
// provides none.
func (e *Engine) ResolveUpdateKey(root *node.Node, key string, newValue any, h node.Handler) (query.UpdateData, error) {
	results, err := e.ResolveKey(root, key, h)
	if err != nil {
		return query.UpdateData{}, err
	}
	values := Values(newValue)

	data := query.UpdateData{Key: key}
	n := min(len(results), len(values))
	for i := 0; i < n; i++ {
		data.Changed = append(data.Changed, query.ChangedValue{Result: results[i], Value: values[i]})
	}
	if len(values) > n {
		data.NewValues = values[n:]
	}
	if len(results) > n {
		data.Removed = results[n:]
	}
	return data, nil
}

// NodeKey builds the key of n by walking up its parents. An index is
// only emitted where siblings share a name. The root has the empty key.
func (e *Engine) NodeKey(n *node.Node, h node.Handler) string {
	var segments []string
	for current := n; current != nil; {
		parent := h.Parent(current)
		if parent == nil {
			break
		}
		seg := escapeName(current.Name())
		if node.MatchingChildrenCount(parent, current.Name()) > 1 {
			seg += fmt.Sprintf("(%d)", siblingIndex(parent, current))
		}
		segments = append(segments, seg)
		current = parent
	}
	slices.Reverse(segments)
	return strings.Join(segments, ".")
}

// AttributeKey appends an attribute reference to a node key.
func AttributeKey(nodeKey, attr string) string {
	return nodeKey + "[@" + attr + "]"
}

// ChildKey appends a child name to a node key.
func ChildKey(nodeKey, name string) string {
	if nodeKey == "" {
		return escapeName(name)
	}
	return nodeKey + "." + escapeName(name)
}

// Values expands a value into the list of values it stands for.
func Values(v any) []any {
	if v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []any:
		return slices.Clone(vv)
	case []byte, string:
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}
	return values
}

func matchChildren(nodes []*node.Node, p keyPart) []*node.Node {
	var result []*node.Node
	for _, n := range nodes {
		matches := node.ChildrenNamed(n, p.name)
		if p.index < 0 {
			result = append(result, matches...)
		} else if p.index < len(matches) {
			result = append(result, matches[p.index])
		}
	}
	return result
}

func siblingIndex(parent, child *node.Node) int {
	idx := 0
	for i := 0; i < parent.ChildCount(); i++ {
		c := parent.Child(i)
		if c.ID() == child.ID() {
			return idx
		}
		if c.Name() == child.Name() {
			idx++
		}
	}
	return -1
}
