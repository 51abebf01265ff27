// Package loader turns configuration sources into node trees and node
// trees back into configuration documents.
//
// TOML, YAML and JSON files as well as environment variables can be
// loaded. Nested tables become child nodes, lists become repeated
// children with the same name, and keys starting with "@" become
// attributes. YAML and JSON keep the document order of their keys; TOML
// and environment variables are sorted by key.
package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/cfgtree/internal/config/node"
)

// DefaultRootName is the name of the root node produced by loaders.
const DefaultRootName = "config"

// Loader is the interface for configuration loaders.
type Loader interface {
	// Load reads the source and returns its node tree.
	// Returns nil, nil if the source doesn't exist (not an error).
	Load() (*node.Node, error)
}

// FileLoader is the interface for loaders that read from files.
type FileLoader interface {
	Loader
	// LoadFrom reads configuration from a specific path.
	LoadFrom(path string) (*node.Node, error)
	// LoadFromReader reads configuration from a reader.
	LoadFromReader(r io.Reader) (*node.Node, error)
}

// FileSystem is an abstraction for file system operations.
// This allows for easy testing with in-memory file systems.
type FileSystem interface {
	fs.FS
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// Open implements fs.FS.
func (OSFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// Format identifies a configuration file format.
type Format string

// Supported formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath returns the format of a file by its extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// ForPath returns a loader for path chosen by its extension.
func ForPath(path string) (FileLoader, error) {
	return ForPathWithFS(DefaultFS(), path)
}

// ForPathWithFS returns a loader for path reading from fsys.
func ForPathWithFS(fsys FileSystem, path string) (FileLoader, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatTOML:
		return NewTOMLLoaderWithFS(fsys, path), nil
	case FormatYAML:
		return NewYAMLLoaderWithFS(fsys, path), nil
	default:
		return NewJSONLoaderWithFS(fsys, path), nil
	}
}

// Encode writes root in the given format.
func Encode(root *node.Node, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		return EncodeTOML(root)
	case FormatYAML:
		return EncodeYAML(root)
	case FormatJSON:
		return EncodeJSON(root)
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", ErrUnsupportedFormat, format)
	}
}

// readFile reads path from fsys. A missing file yields nil data and no
// error.
func readFile(fsys FileSystem, path string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // File doesn't exist, not an error
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return data, nil
}

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}
