package loader

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/dshills/cfgtree/internal/config/node"
)

// MemFS serves files from memory. Paths are absolute like on disk.
type MemFS struct {
	fstest.MapFS
}

func NewMemFS() *MemFS {
	return &MemFS{MapFS: fstest.MapFS{}}
}

func (m *MemFS) AddFile(path, content string) {
	m.MapFS[memName(path)] = &fstest.MapFile{Data: []byte(content), Mode: 0644}
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	return m.MapFS.ReadFile(memName(path))
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	return m.MapFS.Stat(memName(path))
}

func memName(path string) string {
	return strings.TrimPrefix(path, "/")
}

// childAt follows a dotted path of child names from root, taking the
// first child at every step.
func childAt(t *testing.T, root *node.Node, path string) *node.Node {
	t.Helper()
	n := root
	for _, name := range strings.Split(path, ".") {
		children := node.ChildrenNamed(n, name)
		require.NotEmpty(t, children, "no child %q on path %q", name, path)
		n = children[0]
	}
	return n
}

func valueAt(t *testing.T, root *node.Node, path string) any {
	t.Helper()
	return childAt(t, root, path).Value()
}

func childNames(n *node.Node) []string {
	names := make([]string, n.ChildCount())
	for i := range names {
		names[i] = n.Child(i).Name()
	}
	return names
}
