// Package layer combines several configuration sources into one node tree.
//
// Each layer holds the root node loaded from one source. Layers have a
// priority; when they are combined, higher priority layers override
// values and attributes from lower priority layers while children only
// present in a lower layer are kept.
package layer

import (
	"fmt"
	"time"

	"github.com/dshills/cfgtree/internal/config/node"
)

// Source is the kind of origin of a layer.
type Source uint8

const (
	SourceDefaults Source = iota
	SourceFile
	SourceEnv
)

// Priorities of the standard sources. Files added after the first one
// may use priorities between PriorityFile and PriorityEnv.
const (
	PriorityDefaults = 0
	PriorityFile     = 100
	PriorityEnv      = 500
)

var sources = [...]struct {
	name     string
	priority int
}{
	SourceDefaults: {"defaults", PriorityDefaults},
	SourceFile:     {"file", PriorityFile},
	SourceEnv:      {"environment", PriorityEnv},
}

// String returns the source name.
func (s Source) String() string {
	if int(s) >= len(sources) {
		return "unknown"
	}
	return sources[s].name
}

// Priority returns the usual priority of layers from s.
func (s Source) Priority() int {
	if int(s) >= len(sources) {
		return PriorityDefaults
	}
	return sources[s].priority
}

// Layer is one configuration source.
type Layer struct {
	Name     string
	Source   Source
	Priority int

	// Path is the file the layer was loaded from, empty for other sources.
	Path string

	// Root is never nil. Nodes are immutable so the root may be shared.
	Root *node.Node

	// Loaded is when Root was last replaced.
	Loaded time.Time

	// ReadOnly layers keep their root; Manager.UpdateLayer refuses them.
	ReadOnly bool
}

// New creates a layer holding root. A nil root is replaced by an empty
// one. A negative priority selects the usual priority of source.
func New(name string, source Source, priority int, root *node.Node) *Layer {
	if priority < 0 {
		priority = source.Priority()
	}
	return &Layer{
		Name:     name,
		Source:   source,
		Priority: priority,
		Root:     orEmpty(root),
		Loaded:   time.Now(),
	}
}

// NewFile creates a layer for the file at path, named after it.
func NewFile(path string, priority int, root *node.Node) *Layer {
	l := New(path, SourceFile, priority, root)
	l.Path = path
	return l
}

func (l *Layer) String() string {
	return fmt.Sprintf("%s(%s, %d)", l.Name, l.Source, l.Priority)
}

func orEmpty(root *node.Node) *node.Node {
	if root == nil {
		return node.New("")
	}
	return root
}
