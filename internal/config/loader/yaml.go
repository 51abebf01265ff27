package loader

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dshills/cfgtree/internal/config/node"
)

// YAMLLoader loads configuration from YAML files. Mapping keys keep their
// document order.
type YAMLLoader struct {
	fs       FileSystem
	path     string
	rootName string
}

// NewYAMLLoader creates a new YAML loader for the given path.
func NewYAMLLoader(path string) *YAMLLoader {
	return NewYAMLLoaderWithFS(DefaultFS(), path)
}

// NewYAMLLoaderWithFS creates a YAML loader with a custom file system.
func NewYAMLLoaderWithFS(fs FileSystem, path string) *YAMLLoader {
	return &YAMLLoader{fs: fs, path: path, rootName: DefaultRootName}
}

// Load reads configuration from the configured path.
func (l *YAMLLoader) Load() (*node.Node, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads configuration from a specific path.
func (l *YAMLLoader) LoadFrom(path string) (*node.Node, error) {
	data, err := readFile(l.fs, path)
	if err != nil || data == nil {
		return nil, err
	}
	return l.parse(path, data)
}

// LoadFromReader reads configuration from an io.Reader.
func (l *YAMLLoader) LoadFromReader(r io.Reader) (*node.Node, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	return l.parse("<reader>", data)
}

func (l *YAMLLoader) parse(source string, data []byte) (*node.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}

	// An empty document is an empty configuration.
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return node.New(l.rootName), nil
	}

	content := resolveAlias(doc.Content[0])
	if content.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    source,
			Line:    content.Line,
			Column:  content.Column,
			Message: "top level must be a mapping",
		}
	}
	root, err := yamlMapping(l.rootName, content)
	if err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return root, nil
}

// yamlMapping converts a mapping node into a node named name.
func yamlMapping(name string, m *yaml.Node) (*node.Node, error) {
	b := node.NewBuilder().Name(name)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		val := resolveAlias(m.Content[i+1])

		switch {
		case key == ValueKey:
			v, err := yamlScalar(val)
			if err != nil {
				return nil, err
			}
			b.Value(v)
		case len(key) > len(AttributePrefix) && key[:len(AttributePrefix)] == AttributePrefix:
			v, err := yamlScalar(val)
			if err != nil {
				return nil, err
			}
			b.AddAttribute(key[len(AttributePrefix):], v)
		default:
			children, err := yamlValue(key, val)
			if err != nil {
				return nil, err
			}
			b.AddChildren(children...)
		}
	}
	return b.Build(), nil
}

// yamlValue returns the nodes named name that represent v.
func yamlValue(name string, v *yaml.Node) ([]*node.Node, error) {
	switch v.Kind {
	case yaml.MappingNode:
		n, err := yamlMapping(name, v)
		if err != nil {
			return nil, err
		}
		return []*node.Node{n}, nil
	case yaml.SequenceNode:
		var nodes []*node.Node
		for _, elem := range v.Content {
			elem = resolveAlias(elem)
			if elem.Kind == yaml.SequenceNode {
				// Nested lists stay values.
				val, err := yamlScalar(elem)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, node.NewBuilder().Name(name).Value(val).Build())
				continue
			}
			children, err := yamlValue(name, elem)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, children...)
		}
		return nodes, nil
	default:
		val, err := yamlScalar(v)
		if err != nil {
			return nil, err
		}
		return []*node.Node{node.NewBuilder().Name(name).Value(val).Build()}, nil
	}
}

// yamlScalar decodes v into a plain Go value. Integers are returned as
// int64 like the other loaders do.
func yamlScalar(v *yaml.Node) (any, error) {
	var out any
	if err := v.Decode(&out); err != nil {
		return nil, fmt.Errorf("line %d: %w", v.Line, err)
	}
	if i, ok := out.(int); ok {
		return int64(i), nil
	}
	return out, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// EncodeYAML writes the content of root as a YAML document. Children keep
// their order; children sharing a name are written as a sequence at the
// position of the first one.
func EncodeYAML(root *node.Node) ([]byte, error) {
	doc, err := yamlEncodeMapping(root)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func yamlEncodeNode(n *node.Node) (*yaml.Node, error) {
	if n.ChildCount() == 0 && n.AttributeCount() == 0 {
		return yamlEncodeScalar(n.Value())
	}
	return yamlEncodeMapping(n)
}

func yamlEncodeMapping(n *node.Node) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(key string, val *yaml.Node) {
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, val)
	}

	if n.Value() != nil {
		v, err := yamlEncodeScalar(n.Value())
		if err != nil {
			return nil, err
		}
		add(ValueKey, v)
	}
	for _, name := range n.AttributeNames() {
		attr, _ := n.Attribute(name)
		v, err := yamlEncodeScalar(attr)
		if err != nil {
			return nil, err
		}
		add(AttributePrefix+name, v)
	}

	seqs := make(map[string]*yaml.Node)
	for i := 0; i < n.ChildCount(); i++ {
		c := n.Child(i)
		if _, done := seqs[c.Name()]; done {
			continue
		}
		named := node.ChildrenNamed(n, c.Name())
		if len(named) == 1 {
			v, err := yamlEncodeNode(c)
			if err != nil {
				return nil, err
			}
			add(c.Name(), v)
			continue
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, sibling := range named {
			v, err := yamlEncodeNode(sibling)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, v)
		}
		seqs[c.Name()] = seq
		add(c.Name(), seq)
	}
	return m, nil
}

func yamlEncodeScalar(v any) (*yaml.Node, error) {
	var out yaml.Node
	if err := out.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding value %v: %w", v, err)
	}
	return &out, nil
}
