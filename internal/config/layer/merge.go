package layer

import (
	"reflect"
	"slices"
	"strconv"

	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/node"
)

// Merge combines overlay into base and returns the result.
//
// The value and attributes of overlay win. Children are matched by name
// and by their position among siblings of that name: the second "server"
// of overlay merges into the second "server" of base. Matched children
// merge recursively, children of base without a match are kept and
// children of overlay without a match are appended. Subtrees that are
// not touched by overlay are shared with base.
func Merge(base, overlay *node.Node) *node.Node {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}

	b := base.ToBuilder()
	if overlay.Value() != nil {
		b.Value(overlay.Value())
	}
	b.AddAttributes(overlay.Attributes())

	matched := make(map[uint64]bool, overlay.ChildCount())
	children := make([]*node.Node, 0, base.ChildCount()+overlay.ChildCount())
	seen := make(map[string]int)
	for _, c := range base.Children() {
		pos := seen[c.Name()]
		seen[c.Name()]++

		named := node.ChildrenNamed(overlay, c.Name())
		if pos >= len(named) {
			children = append(children, c)
			continue
		}
		matched[named[pos].ID()] = true
		children = append(children, Merge(c, named[pos]))
	}
	for _, c := range overlay.Children() {
		if !matched[c.ID()] {
			children = append(children, c)
		}
	}

	return b.Build().ReplaceChildren(children)
}

// Flatten returns the values of a tree keyed by their expression keys.
// Attributes are included as name[@attr] entries; nodes without a value
// only contribute their descendants.
func Flatten(root *node.Node) map[string]any {
	result := make(map[string]any)
	flattenNode(root, "", result)
	return result
}

func flattenNode(n *node.Node, key string, result map[string]any) {
	if key != "" && n.Value() != nil {
		result[key] = n.Value()
	}
	for _, name := range n.AttributeNames() {
		v, _ := n.Attribute(name)
		result[expr.AttributeKey(key, name)] = v
	}

	seen := make(map[string]int)
	for _, c := range n.Children() {
		childKey := expr.ChildKey(key, c.Name())
		if node.MatchingChildrenCount(n, c.Name()) > 1 {
			childKey += "(" + strconv.Itoa(seen[c.Name()]) + ")"
			seen[c.Name()]++
		}
		flattenNode(c, childKey, result)
	}
}

// Diff returns the keys that differ between two trees, each sorted.
func Diff(old, new *node.Node) (added, modified, removed []string) {
	oldFlat := Flatten(old)
	newFlat := Flatten(new)

	for key, newVal := range newFlat {
		if oldVal, exists := oldFlat[key]; exists {
			if !valuesEqual(oldVal, newVal) {
				modified = append(modified, key)
			}
		} else {
			added = append(added, key)
		}
	}

	for key := range oldFlat {
		if _, exists := newFlat[key]; !exists {
			removed = append(removed, key)
		}
	}

	slices.Sort(added)
	slices.Sort(modified)
	slices.Sort(removed)
	return added, modified, removed
}

// valuesEqual compares two values for equality.
func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok {
			return false
		}
		return mapsEqual(va, vb)
	case []any:
		vb, ok := b.([]any)
		if !ok {
			return false
		}
		return slicesEqual(va, vb)
	default:
		return reflect.DeepEqual(a, b)
	}
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !valuesEqual(va, vb) {
			return false
		}
	}
	return true
}

func slicesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
