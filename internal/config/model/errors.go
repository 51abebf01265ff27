package model

import (
	"errors"
	"fmt"

	"github.com/dshills/cfgtree/internal/config/query"
)

// Errors returned by node model operations.
var (
	// ErrAttributeKey indicates an attempt to add child nodes below a key
	// that addresses an attribute.
	ErrAttributeKey = errors.New("nodes cannot be added to an attribute key")

	// ErrUnknownSelector indicates a selector that is not tracked.
	ErrUnknownSelector = errors.New("selector is not tracked")

	// ErrAmbiguousSelector indicates a selector that does not select
	// exactly one node.
	ErrAmbiguousSelector = errors.New("selector does not select a single node")

	// ErrUnknownNode indicates an operation on a node that is not part of
	// the snapshot a transaction is bound to.
	ErrUnknownNode = errors.New("node is not part of the snapshot")

	// ErrTransactionExecuted indicates a second Execute on a transaction.
	ErrTransactionExecuted = errors.New("transaction already executed")

	// ErrNilNode indicates a nil node where one is required.
	ErrNilNode = errors.New("node must not be nil")
)

// OperationError is returned when a model operation is rejected before
// any change was attempted.
type OperationError struct {
	// Op is the name of the rejected operation.
	Op string
	// Key is the key the operation was called with.
	Key string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// SelectorError reports a problem with a tracked node selector.
type SelectorError struct {
	// Selector is the offending selector.
	Selector query.Selector
	// Err is ErrUnknownSelector or ErrAmbiguousSelector.
	Err error
}

// Error implements the error interface.
func (e *SelectorError) Error() string {
	return fmt.Sprintf("%v: %v", e.Selector, e.Err)
}

// Unwrap returns the underlying error.
func (e *SelectorError) Unwrap() error {
	return e.Err
}
