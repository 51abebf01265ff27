package layer

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/query"
)

var (
	ErrLayerNotFound = errors.New("layer not found")
	ErrReadOnly      = errors.New("layer is read-only")
)

// Manager keeps the layers of a configuration ordered by priority and
// combines them on demand.
type Manager struct {
	mu     sync.RWMutex
	layers []*Layer // ascending priority, insertion order among equals

	// combined caches the last Combine result; nil after any change.
	combined *node.Node
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// AddLayer inserts l after every layer whose priority is not higher.
func (m *Manager) AddLayer(l *Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, _ := slices.BinarySearchFunc(m.layers, l.Priority+1, func(e *Layer, p int) int {
		return cmp.Compare(e.Priority, p)
	})
	m.layers = slices.Insert(m.layers, i, l)
	m.combined = nil
}

// RemoveLayer removes the layer called name and reports whether it
// existed.
func (m *Manager) RemoveLayer(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(func(l *Layer) bool { return l.Name == name })
	if i < 0 {
		return false
	}
	m.layers = slices.Delete(m.layers, i, i+1)
	m.combined = nil
	return true
}

// GetLayer returns the layer called name, or nil.
func (m *Manager) GetLayer(name string) *Layer {
	return m.find(func(l *Layer) bool { return l.Name == name })
}

// GetLayerByPath returns the layer loaded from path, or nil.
func (m *Manager) GetLayerByPath(path string) *Layer {
	return m.find(func(l *Layer) bool { return l.Path != "" && l.Path == path })
}

// Layers returns the layers in ascending priority.
func (m *Manager) Layers() []*Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.layers)
}

// LayerCount returns the number of layers.
func (m *Manager) LayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layers)
}

// UpdateLayer replaces the root of the layer called name. A nil root
// empties the layer.
func (m *Manager) UpdateLayer(name string, root *node.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(func(l *Layer) bool { return l.Name == name })
	switch {
	case i < 0:
		return fmt.Errorf("%w: %s", ErrLayerNotFound, name)
	case m.layers[i].ReadOnly:
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}

	l := m.layers[i]
	l.Root = orEmpty(root)
	l.Loaded = time.Now()
	m.combined = nil
	return nil
}

// Combine merges all layers, lowest priority first, into one tree whose
// root is called rootName. The result is reused until a layer changes.
func (m *Manager) Combine(rootName string) *node.Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.combined != nil && m.combined.Name() == rootName {
		return m.combined
	}

	result := node.New(rootName)
	for _, l := range m.layers {
		result = Merge(result, l.Root)
	}
	m.combined = result.WithName(rootName)
	return m.combined
}

// Origin returns the highest priority layer in which key selects at least
// one node or attribute, together with the selected values. A nil
// resolver uses expr.Default.
func (m *Manager) Origin(key string, r query.Resolver) (*Layer, []any) {
	if r == nil {
		r = expr.Default
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range slices.Backward(m.layers) {
		results, err := r.ResolveKey(l.Root, key, nil)
		if err != nil || len(results) == 0 {
			continue
		}
		values := make([]any, len(results))
		for i, res := range results {
			values[i] = res.Value()
		}
		return l, values
	}
	return nil, nil
}

// Clear removes all layers.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = nil
	m.combined = nil
}

func (m *Manager) find(match func(*Layer) bool) *Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.index(match); i >= 0 {
		return m.layers[i]
	}
	return nil
}

// index must be called with m.mu held.
func (m *Manager) index(match func(*Layer) bool) int {
	return slices.IndexFunc(m.layers, match)
}
