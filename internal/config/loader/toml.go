package loader

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/cfgtree/internal/config/node"
)

// IncludeKey names the TOML key listing files to merge below the
// including file. Relative paths are taken from the including file's
// directory.
const IncludeKey = "@include"

// MaxIncludeDepth limits how deeply includes may nest.
const MaxIncludeDepth = 8

// TOMLLoader loads configuration from TOML files.
type TOMLLoader struct {
	fs       FileSystem
	path     string
	rootName string
}

// NewTOMLLoader creates a new TOML loader for the given path.
func NewTOMLLoader(path string) *TOMLLoader {
	return NewTOMLLoaderWithFS(DefaultFS(), path)
}

// NewTOMLLoaderWithFS creates a TOML loader with a custom file system.
func NewTOMLLoaderWithFS(fs FileSystem, path string) *TOMLLoader {
	return &TOMLLoader{
		fs:       fs,
		path:     path,
		rootName: DefaultRootName,
	}
}

// Load reads configuration from the configured path.
func (l *TOMLLoader) Load() (*node.Node, error) {
	return l.LoadFrom(l.path)
}

// LoadFrom reads configuration from a specific path, following includes
// up to MaxIncludeDepth levels.
func (l *TOMLLoader) LoadFrom(path string) (*node.Node, error) {
	return l.LoadWithIncludes(path, MaxIncludeDepth)
}

// LoadFromReader reads configuration from an io.Reader. Relative
// includes are taken from the directory of the loader's path.
func (l *TOMLLoader) LoadFromReader(r io.Reader) (*node.Node, error) {
	data, err := readAll(r)
	if err != nil {
		return nil, err
	}
	config, err := l.parse("<reader>", data)
	if err != nil {
		return nil, err
	}
	config, err = l.include(config, filepath.Dir(l.path), MaxIncludeDepth)
	if err != nil {
		return nil, err
	}
	return FromMap(l.rootName, config), nil
}

// LoadWithIncludes loads a TOML file and merges the files it includes.
// Included files have lower priority than the including file; maxDepth
// counts the including file itself.
func (l *TOMLLoader) LoadWithIncludes(path string, maxDepth int) (*node.Node, error) {
	config, err := l.loadMapWithIncludes(path, maxDepth)
	if err != nil || config == nil {
		return nil, err
	}
	return FromMap(l.rootName, config), nil
}

func (l *TOMLLoader) loadMap(path string) (map[string]any, error) {
	data, err := readFile(l.fs, path)
	if err != nil || data == nil {
		return nil, err
	}
	return l.parse(path, data)
}

// parse parses TOML data into a map.
func (l *TOMLLoader) parse(source string, data []byte) (map[string]any, error) {
	config := map[string]any{}
	if err := toml.Unmarshal(data, &config); err != nil {
		pe := &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			pe.Line, pe.Column = decodeErr.Position()
		}
		return nil, pe
	}

	return config, nil
}

func (l *TOMLLoader) loadMapWithIncludes(path string, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("include depth exceeded for %s", path)
	}

	config, err := l.loadMap(path)
	if err != nil || config == nil {
		return nil, err
	}
	return l.include(config, filepath.Dir(path), maxDepth)
}

// include removes the include directive from config and merges config
// over the included files.
func (l *TOMLLoader) include(config map[string]any, baseDir string, maxDepth int) (map[string]any, error) {
	includes, ok := config[IncludeKey]
	if !ok {
		return config, nil
	}
	delete(config, IncludeKey)

	var paths []string
	switch v := includes.(type) {
	case string:
		paths = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string or an array of strings", IncludeKey)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or an array of strings, got %T", IncludeKey, includes)
	}

	merged := map[string]any{}
	for _, inc := range paths {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		included, err := l.loadMapWithIncludes(inc, maxDepth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", inc, err)
		}
		merged = DeepMerge(merged, included)
	}
	return DeepMerge(merged, config), nil
}

// EncodeTOML writes the content of root as a TOML document. Keys are
// sorted and nodes without a value are left out.
func EncodeTOML(root *node.Node) ([]byte, error) {
	data, err := toml.Marshal(tomlPrune(ToMap(root)))
	if err != nil {
		return nil, fmt.Errorf("encoding toml: %w", err)
	}
	return data, nil
}

// tomlPrune drops nil entries, which TOML cannot represent.
func tomlPrune(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v = tomlPruneValue(v); v != nil {
			out[k] = v
		}
	}
	return out
}

func tomlPruneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return tomlPrune(vv)
	case []any:
		list := make([]any, 0, len(vv))
		for _, item := range vv {
			if item = tomlPruneValue(item); item != nil {
				list = append(list, item)
			}
		}
		return list
	default:
		return v
	}
}
