package loader

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/cfgtree/internal/config/node"
)

// JSONLoader loads configuration from JSON files. Object keys keep their
// document order.
type JSONLoader struct {
	fs       FileSystem
	path     string
	rootName string
}

// NewJSONLoader creates a new JSON loader for the given path.
func NewJSONLoader(path string) *JSONLoader {
	return NewJSONLoaderWithFS(DefaultFS(), path)
}

// NewJSONLoaderWithFS creates a JSON loader with a custom file system.
func NewJSONLoaderWithFS(fs FileSystem, path string) *JSONLoader {
	return &JSONLoader{fs: fs, path: path, rootName: DefaultRootName}
}

// Load reads configuration from the configured path.
func (l *JSONLoader) Load() (*node.Node, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads configuration from a specific path.
func (l *JSONLoader) LoadFrom(path string) (*node.Node, error) {
	data, err := readFile(l.fs, path)
	if err != nil || data == nil {
		return nil, err
	}
	return l.parse(path, data)
}

// LoadFromReader reads configuration from an io.Reader.
func (l *JSONLoader) LoadFromReader(r io.Reader) (*node.Node, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	return l.parse("<reader>", data)
}

func (l *JSONLoader) parse(source string, data []byte) (*node.Node, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return node.New(l.rootName), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Path: source, Message: "invalid JSON document"}
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, &ParseError{Path: source, Message: "top level must be an object"}
	}
	return jsonObject(l.rootName, doc), nil
}

// jsonObject converts an object into a node named name.
func jsonObject(name string, obj gjson.Result) *node.Node {
	b := node.NewBuilder().Name(name)
	obj.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		switch {
		case k == ValueKey:
			b.Value(jsonPlain(value))
		case strings.HasPrefix(k, AttributePrefix) && len(k) > len(AttributePrefix):
			b.AddAttribute(k[len(AttributePrefix):], jsonPlain(value))
		default:
			b.AddChildren(jsonValue(k, value)...)
		}
		return true
	})
	return b.Build()
}

// jsonValue returns the nodes named name that represent v.
func jsonValue(name string, v gjson.Result) []*node.Node {
	switch {
	case v.IsObject():
		return []*node.Node{jsonObject(name, v)}
	case v.IsArray():
		var nodes []*node.Node
		v.ForEach(func(_, elem gjson.Result) bool {
			if elem.IsObject() {
				nodes = append(nodes, jsonObject(name, elem))
				return true
			}
			// Scalars and nested arrays become values.
			nodes = append(nodes, node.NewBuilder().Name(name).Value(jsonPlain(elem)).Build())
			return true
		})
		return nodes
	default:
		return []*node.Node{node.NewBuilder().Name(name).Value(jsonPlain(v)).Build()}
	}
}

// jsonPlain converts v into a plain Go value. Integral numbers become
// int64.
func jsonPlain(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.True, gjson.False:
		return v.Bool()
	case gjson.String:
		return v.String()
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return v.Float()
		}
		return v.Int()
	}
	if v.IsArray() {
		out := []any{}
		v.ForEach(func(_, elem gjson.Result) bool {
			out = append(out, jsonPlain(elem))
			return true
		})
		return out
	}
	out := map[string]any{}
	v.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = jsonPlain(value)
		return true
	})
	return out
}

// EncodeJSON writes the content of root as a JSON object. Children keep
// their order; children sharing a name are written as an array at the
// position of the first one.
func EncodeJSON(root *node.Node) ([]byte, error) {
	out, err := jsonEncodeNode([]byte("{}"), "", root)
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}
	return out, nil
}

// jsonEncodeNode sets the members of n on the object at path.
func jsonEncodeNode(doc []byte, path string, n *node.Node) ([]byte, error) {
	var err error
	if n.Value() != nil {
		if doc, err = sjson.SetBytes(doc, jsonJoin(path, jsonKey(ValueKey)), n.Value()); err != nil {
			return nil, err
		}
	}
	for _, name := range n.AttributeNames() {
		v, _ := n.Attribute(name)
		if doc, err = sjson.SetBytes(doc, jsonJoin(path, jsonKey(AttributePrefix+name)), v); err != nil {
			return nil, err
		}
	}

	done := make(map[string]bool)
	for i := 0; i < n.ChildCount(); i++ {
		c := n.Child(i)
		if done[c.Name()] {
			continue
		}
		done[c.Name()] = true

		key := jsonJoin(path, jsonKey(c.Name()))
		named := node.ChildrenNamed(n, c.Name())
		if len(named) == 1 {
			if doc, err = jsonEncodeChild(doc, key, c); err != nil {
				return nil, err
			}
			continue
		}
		for j, sibling := range named {
			if doc, err = jsonEncodeChild(doc, jsonJoin(key, strconv.Itoa(j)), sibling); err != nil {
				return nil, err
			}
		}
	}
	return doc, nil
}

func jsonEncodeChild(doc []byte, path string, c *node.Node) ([]byte, error) {
	if c.ChildCount() == 0 && c.AttributeCount() == 0 {
		return sjson.SetBytes(doc, path, c.Value())
	}
	return jsonEncodeNode(doc, path, c)
}

func jsonJoin(path, part string) string {
	if path == "" {
		return part
	}
	return path + "." + part
}

// jsonKey escapes name for use as an object key in an sjson path.
// Numeric names are prefixed with ':' so they are not read as array
// indexes.
func jsonKey(name string) string {
	var sb strings.Builder
	if _, err := strconv.Atoi(name); err == nil {
		sb.WriteByte(':')
	}
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '\\', '.', '|', '#', '@', '*', '?', ':':
			sb.WriteByte('\\')
		}
		sb.WriteByte(name[i])
	}
	return sb.String()
}
