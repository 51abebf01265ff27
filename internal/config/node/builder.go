package node

import "maps"

// Builder assembles a Node. A builder may be reused; Build takes a
// snapshot of its current state.
type Builder struct {
	name       string
	value      any
	children   []*Node
	attributes map[string]any
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Name sets the node name.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Value sets the node value.
func (b *Builder) Value(value any) *Builder {
	b.value = value
	return b
}

// AddChild appends a child. Nil children are ignored.
func (b *Builder) AddChild(child *Node) *Builder {
	if child != nil {
		b.children = append(b.children, child)
	}
	return b
}

// AddChildren appends several children.
func (b *Builder) AddChildren(children ...*Node) *Builder {
	for _, c := range children {
		b.AddChild(c)
	}
	return b
}

// AddAttribute sets an attribute.
func (b *Builder) AddAttribute(name string, value any) *Builder {
	if b.attributes == nil {
		b.attributes = make(map[string]any)
	}
	b.attributes[name] = value
	return b
}

// AddAttributes sets all entries of attrs.
func (b *Builder) AddAttributes(attrs map[string]any) *Builder {
	for k, v := range attrs {
		b.AddAttribute(k, v)
	}
	return b
}

// Build creates the node.
func (b *Builder) Build() *Node {
	var children []*Node
	if len(b.children) > 0 {
		children = make([]*Node, len(b.children))
		copy(children, b.children)
	}
	var attrs map[string]any
	if len(b.attributes) > 0 {
		attrs = maps.Clone(b.attributes)
	}
	return newNode(b.name, b.value, children, attrs)
}
