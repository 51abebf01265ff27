package loader

import (
	"slices"
	"strings"

	"github.com/dshills/cfgtree/internal/config/node"
)

const (
	// AttributePrefix marks map keys that hold attributes.
	AttributePrefix = "@"

	// ValueKey holds the value of a node that also has children or
	// attributes.
	ValueKey = "_value"
)

// FromMap builds a node tree from a nested map. Keys are processed in
// sorted order. Map values become child nodes, slices become one child
// per element, "@name" keys become attributes and ValueKey sets the
// value of the node itself.
func FromMap(name string, m map[string]any) *node.Node {
	b := node.NewBuilder().Name(name)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v := m[k]
		switch {
		case k == ValueKey:
			b.Value(v)
		case strings.HasPrefix(k, AttributePrefix) && len(k) > len(AttributePrefix):
			b.AddAttribute(k[len(AttributePrefix):], v)
		default:
			b.AddChildren(fromValue(k, v)...)
		}
	}
	return b.Build()
}

// fromValue returns the nodes named name that represent v.
func fromValue(name string, v any) []*node.Node {
	switch vv := v.(type) {
	case map[string]any:
		return []*node.Node{FromMap(name, vv)}
	case []any:
		nodes := make([]*node.Node, 0, len(vv))
		for _, elem := range vv {
			if m, ok := elem.(map[string]any); ok {
				nodes = append(nodes, FromMap(name, m))
				continue
			}
			nodes = append(nodes, node.NewBuilder().Name(name).Value(elem).Build())
		}
		return nodes
	case []map[string]any:
		nodes := make([]*node.Node, len(vv))
		for i, m := range vv {
			nodes[i] = FromMap(name, m)
		}
		return nodes
	default:
		return []*node.Node{node.NewBuilder().Name(name).Value(v).Build()}
	}
}

// ToMap converts the content of root into a nested map, the inverse of
// FromMap. Children sharing a name are collected into a slice.
func ToMap(root *node.Node) map[string]any {
	m := make(map[string]any, root.ChildCount()+root.AttributeCount())
	for _, name := range root.AttributeNames() {
		v, _ := root.Attribute(name)
		m[AttributePrefix+name] = v
	}
	if root.Value() != nil {
		m[ValueKey] = root.Value()
	}

	lists := make(map[string]bool)
	for i := 0; i < root.ChildCount(); i++ {
		c := root.Child(i)
		v := nodeValue(c)
		existing, ok := m[c.Name()]
		switch {
		case !ok:
			m[c.Name()] = v
		case lists[c.Name()]:
			m[c.Name()] = append(existing.([]any), v)
		default:
			m[c.Name()] = []any{existing, v}
			lists[c.Name()] = true
		}
	}
	return m
}

// nodeValue returns the plain value of a leaf and a map otherwise.
func nodeValue(n *node.Node) any {
	if n.ChildCount() == 0 && n.AttributeCount() == 0 {
		return n.Value()
	}
	return ToMap(n)
}

// DeepMerge recursively merges src into dst.
// Values in src override values in dst.
// Maps are merged recursively; other types are replaced.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	if src == nil {
		return dst
	}

	for key, srcVal := range src {
		dstVal, exists := dst[key]
		if !exists {
			dst[key] = srcVal
			continue
		}

		// If both are maps, merge recursively
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dstVal.(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
		} else {
			// Otherwise, src replaces dst
			dst[key] = srcVal
		}
	}

	return dst
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			next := make(map[string]any)
			current[part] = next
			current = next
		}
	}

	current[parts[len(parts)-1]] = value
}
