package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrFileAlreadyAdded indicates a file that is already a layer.
	ErrFileAlreadyAdded = errors.New("config file already added")

	// ErrClosed indicates use of a closed configuration.
	ErrClosed = errors.New("configuration is closed")
)

// LoadError reports a source that could not be loaded.
type LoadError struct {
	// Path is the file path or source name that failed to load.
	Path string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}
