package loader

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/cfgtree/internal/config/node"
)

// EnvLoader loads configuration from environment variables.
//
// Variables starting with the prefix are mapped to dotted paths: the
// prefix is removed, the rest is lower-cased and a double underscore
// separates levels, so APP_SERVER__HTTP_PORT becomes server.http_port.
// Explicit mappings take precedence over the derived paths.
type EnvLoader struct {
	prefix   string            // Environment variable prefix (e.g., "APP_")
	mapping  map[string]string // Env var -> config path
	rootName string
	environ  func() []string
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "APP_").
func NewEnvLoader(prefix string) *EnvLoader {
	return NewEnvLoaderWithMapping(prefix, nil)
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	return &EnvLoader{
		prefix:   prefix,
		mapping:  mapping,
		rootName: DefaultRootName,
		environ:  os.Environ,
	}
}

// Load reads environment variables and returns their node tree. The
// result is never nil; without matching variables the root is empty.
// Empty string values are treated as valid values, not as unset.
func (l *EnvLoader) Load() (*node.Node, error) {
	config := make(map[string]any)
	vars := l.lookup()

	for env, path := range l.mapping {
		if val, ok := vars[env]; ok {
			setByPath(config, path, ParseValue(val))
		}
	}

	for name, value := range vars {
		if !strings.HasPrefix(name, l.prefix) || len(name) == len(l.prefix) {
			continue
		}
		if _, ok := l.mapping[name]; ok {
			continue
		}
		setByPath(config, l.envToPath(name), ParseValue(value))
	}

	return FromMap(l.rootName, config), nil
}

func (l *EnvLoader) lookup() map[string]string {
	vars := make(map[string]string)
	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		vars[name] = value
	}
	return vars
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	if l.mapping == nil {
		l.mapping = make(map[string]string)
	}
	l.mapping[envVar] = configPath
}

// RemoveMapping removes an environment variable mapping.
func (l *EnvLoader) RemoveMapping(envVar string) {
	delete(l.mapping, envVar)
}

// envToPath converts APP_SERVER__HTTP_PORT to server.http_port.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	return strings.Join(strings.Split(name, "__"), ".")
}

// ParseValue converts a string from the environment or the command line
// into a bool, int64, float64, time.Duration or JSON value when it looks
// like one, and returns it unchanged otherwise.
func ParseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	// Only values with a decimal point are floats.
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	// JSON arrays and objects
	if (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")) && gjson.Valid(s) {
		return jsonPlain(gjson.Parse(s))
	}

	return s
}
