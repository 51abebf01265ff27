package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cfgtree/internal/config/node"
)

const serversYAML = `server:
  port: 8080
  host: localhost
servers:
  server:
    - "@id": alpha
      port: 80
    - "@id": beta
      port: 8081
tags:
  - a
  - b
limits:
  _value: 10
  "@unit": req/s
`

func TestYAMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/config.yaml", serversYAML)

	root, err := NewYAMLLoaderWithFS(memfs, "/config.yaml").Load()
	require.NoError(t, err)

	assert.Equal(t, int64(8080), valueAt(t, root, "server.port"))
	// Document order is kept.
	assert.Equal(t, []string{"port", "host"}, childNames(childAt(t, root, "server")))

	servers := node.ChildrenNamed(childAt(t, root, "servers"), "server")
	require.Len(t, servers, 2)
	id, _ := servers[0].Attribute("id")
	assert.Equal(t, "alpha", id)

	tags := node.ChildrenNamed(root, "tags")
	require.Len(t, tags, 2)
	assert.Equal(t, "b", tags[1].Value())

	limits := childAt(t, root, "limits")
	assert.Equal(t, int64(10), limits.Value())
	unit, _ := limits.Attribute("unit")
	assert.Equal(t, "req/s", unit)
}

func TestYAMLLoader_Empty(t *testing.T) {
	root, err := NewYAMLLoader("").LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, root.ChildCount())
}

func TestYAMLLoader_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "server: [unclosed\n"},
		{"top level list", "- a\n- b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLLoader("").LoadFromReader(strings.NewReader(tt.content))
			var parseErr *ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestYAMLLoader_Anchors(t *testing.T) {
	content := `
defaults: &defaults
  timeout: 5
service:
  settings: *defaults
`
	root, err := NewYAMLLoader("").LoadFromReader(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(5), valueAt(t, root, "service.settings.timeout"))
}

func TestEncodeYAML_RoundTrip(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/config.yaml", serversYAML)
	root, err := NewYAMLLoaderWithFS(memfs, "/config.yaml").Load()
	require.NoError(t, err)

	out, err := EncodeYAML(root)
	require.NoError(t, err)

	again, err := NewYAMLLoader("").LoadFromReader(strings.NewReader(string(out)))
	require.NoError(t, err, string(out))
	assert.Equal(t, ToMap(root), ToMap(again))
}

func TestEncodeYAML_EmptyRoot(t *testing.T) {
	out, err := EncodeYAML(node.New("config"))
	require.NoError(t, err)
	assert.Equal(t, "{}", strings.TrimSpace(string(out)))
}
