// Package model provides a lock-free, in-memory hierarchical node model.
//
// The current state of the model is one immutable TreeData snapshot held
// in an atomic pointer. Every update resolves its key against the current
// snapshot, records structural edits in a Transaction, executes it into a
// new snapshot and publishes that snapshot with a compare-and-swap. When
// another goroutine published first, the whole update is derived again
// from the newer snapshot. Readers never block and may keep an old
// snapshot for as long as they like.
//
// Nodes can be tracked through selectors. A tracked node follows the
// rewrites of the tree until its selector stops selecting exactly one
// node; from then on it is detached and keeps its last instance.
package model

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dshills/cfgtree/internal/config/expr"
	"github.com/dshills/cfgtree/internal/config/node"
	"github.com/dshills/cfgtree/internal/config/notify"
	"github.com/dshills/cfgtree/internal/config/query"
)

// InMemory is a node model that can be read and updated from any number
// of goroutines without locks.
type InMemory struct {
	data atomic.Pointer[TreeData]

	resolver query.Resolver
	notifier *notify.Notifier
	source   string
	logger   *slog.Logger
}

// Option configures an InMemory model.
type Option func(*InMemory)

// WithLogger sets the logger. Retries are logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(m *InMemory) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNotifier publishes a change event after every successful update.
func WithNotifier(n *notify.Notifier) Option {
	return func(m *InMemory) {
		m.notifier = n
	}
}

// WithSource sets the source reported in change events.
func WithSource(source string) Option {
	return func(m *InMemory) {
		m.source = source
	}
}

// WithResolver sets the resolver used when an operation is called with
// a nil resolver. The default is expr.Default.
func WithResolver(r query.Resolver) Option {
	return func(m *InMemory) {
		if r != nil {
			m.resolver = r
		}
	}
}

// New creates a model for root. A nil root is replaced by an empty node
// without a name.
func New(root *node.Node, opts ...Option) *InMemory {
	m := &InMemory{
		resolver: expr.Default,
		source:   "model",
		logger:   slog.Default().With("component", "model.InMemory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.data.Store(newTreeData(initialRoot(root), nil, 0))
	return m
}

// RootNode returns the root node of the current snapshot.
func (m *InMemory) RootNode() *node.Node {
	return m.data.Load().Root()
}

// Snapshot returns the current snapshot. It is a read handle that stays
// valid and unchanged regardless of later updates.
func (m *InMemory) Snapshot() *TreeData {
	return m.data.Load()
}

// AddProperty adds values under key. Missing nodes on the key path are
// created. For an attribute key only the first value is used.
func (m *InMemory) AddProperty(key string, values []any, r query.Resolver) error {
	if len(values) == 0 {
		return nil
	}
	r = m.resolverOr(r)
	change := notify.Change{Key: key, Type: notify.ChangeAdd, Values: values}
	return m.update("add_property", change, r, func(tx *Transaction) (bool, error) {
		if err := addValues(tx, key, values, r); err != nil {
			return false, &OperationError{Op: "add property", Key: key, Err: err}
		}
		return true, nil
	})
}

// AddNodes adds nodes as children of the node selected by key. If key
// does not select exactly one node, a new node named after the last key
// element is created to hold them. Adding nodes to an attribute key
// fails with ErrAttributeKey. The nodes must not already be part of the
// tree; node identity has to be unique within a snapshot.
func (m *InMemory) AddNodes(key string, nodes []*node.Node, r query.Resolver) error {
	if len(nodes) == 0 {
		return nil
	}
	r = m.resolverOr(r)
	change := notify.Change{Key: key, Type: notify.ChangeAdd}
	return m.update("add_nodes", change, r, func(tx *Transaction) (bool, error) {
		base := tx.Base()
		results, err := r.ResolveKey(base.Root(), key, base)
		if err != nil {
			return false, &OperationError{Op: "add nodes", Key: key, Err: err}
		}
		if len(results) == 1 {
			if results[0].IsAttribute() {
				return false, &OperationError{Op: "add nodes", Key: key, Err: ErrAttributeKey}
			}
			tx.AddNodesOperation(results[0].Node, nodes...)
			return true, nil
		}

		data, err := r.ResolveAddKey(base.Root(), key, base)
		if err != nil {
			return false, &OperationError{Op: "add nodes", Key: key, Err: err}
		}
		if data.Attribute {
			return false, &OperationError{Op: "add nodes", Key: key, Err: ErrAttributeKey}
		}
		holder := node.NewBuilder().Name(data.NewName).AddChildren(nodes...).Build()
		addByAddData(tx, data, []*node.Node{holder})
		return true, nil
	})
}

// SetProperty sets key to value. Existing matches are changed in order,
// surplus values are added and surplus matches are cleared. A slice value
// provides one value per element.
func (m *InMemory) SetProperty(key string, value any, r query.Resolver) error {
	r = m.resolverOr(r)
	change := notify.Change{Key: key, Type: notify.ChangeSet, Values: expr.Values(value)}
	return m.update("set_property", change, r, func(tx *Transaction) (bool, error) {
		base := tx.Base()
		data, err := r.ResolveUpdateKey(base.Root(), key, value, base)
		if err != nil {
			return false, &OperationError{Op: "set property", Key: key, Err: err}
		}

		added := false
		if len(data.NewValues) > 0 {
			if err := addValues(tx, key, data.NewValues, r); err != nil {
				return false, &OperationError{Op: "set property", Key: key, Err: err}
			}
			added = true
		}
		cleared := clearResults(tx, data.Removed)
		updated := changeValues(tx, data.Changed)
		return added || cleared || updated, nil
	})
}

// ClearProperty removes the values of all matches of key. Nodes left
// without any content are removed from the tree.
func (m *InMemory) ClearProperty(key string, r query.Resolver) error {
	r = m.resolverOr(r)
	change := notify.Change{Key: key, Type: notify.ChangeDelete}
	return m.update("clear_property", change, r, func(tx *Transaction) (bool, error) {
		base := tx.Base()
		results, err := r.ResolveKey(base.Root(), key, base)
		if err != nil {
			return false, &OperationError{Op: "clear property", Key: key, Err: err}
		}
		return clearResults(tx, results), nil
	})
}

// ClearTree removes all matches of key including their subtrees. If key
// selects the root, the model is cleared.
func (m *InMemory) ClearTree(key string, r query.Resolver) error {
	r = m.resolverOr(r)
	change := notify.Change{Key: key, Type: notify.ChangeDelete}
	return m.update("clear_tree", change, r, func(tx *Transaction) (bool, error) {
		base := tx.Base()
		results, err := r.ResolveKey(base.Root(), key, base)
		if err != nil {
			return false, &OperationError{Op: "clear tree", Key: key, Err: err}
		}
		for _, res := range results {
			if res.IsAttribute() {
				tx.RemoveAttributeOperation(res.Node, res.Attribute)
				continue
			}
			if res.Node.ID() == base.Root().ID() {
				return false, errResetRoot
			}
			tx.RemoveNodeOperation(base.Parent(res.Node), res.Node)
		}
		return len(results) > 0, nil
	})
}

// Clear replaces the root by an empty node with the same name. The
// snapshot is overwritten without a compare-and-swap and all tracked
// nodes become detached.
func (m *InMemory) Clear() {
	m.installRoot(node.New(m.RootNode().Name()), "clear")
}

// SetRootNode replaces the whole tree. A nil root is replaced by an
// empty node. The snapshot is overwritten without a compare-and-swap, so
// concurrent updates may be lost; all tracked nodes become detached.
func (m *InMemory) SetRootNode(root *node.Node) {
	m.installRoot(initialRoot(root), "set_root")
}

// MergeRoot adds the children and attributes of n to the root node in a
// single update. A non-empty rootName renames the root and a non-nil
// rootValue replaces its value.
func (m *InMemory) MergeRoot(n *node.Node, rootName string, rootValue any, r query.Resolver) error {
	if n == nil {
		return &OperationError{Op: "merge root", Err: ErrNilNode}
	}
	r = m.resolverOr(r)
	change := notify.Change{Type: notify.ChangeAdd}
	return m.update("merge_root", change, r, func(tx *Transaction) (bool, error) {
		root := tx.Base().Root()
		tx.AddNodesOperation(root, n.Children()...)
		tx.AddAttributesOperation(root, n.Attributes())
		if rootName != "" {
			tx.ChangeNodeNameOperation(root, rootName)
		}
		if rootValue != nil {
			tx.ChangeNodeValueOperation(root, rootValue)
		}
		return !tx.Empty(), nil
	})
}

// TrackNode starts tracking the node selected by sel. The selector must
// select exactly one node. Each call must be matched by an UntrackNode.
func (m *InMemory) TrackNode(sel query.Selector, r query.Resolver) error {
	r = m.resolverOr(r)
	return m.updateTracker(func(current *TreeData) (*NodeTracker, error) {
		return current.tracker.TrackNode(current.root, sel, r, current)
	})
}

// TrackChildNodes tracks every node matched by key and returns the
// selectors under which they are tracked.
func (m *InMemory) TrackChildNodes(key string, r query.Resolver) ([]query.Selector, error) {
	r = m.resolverOr(r)
	var selectors []query.Selector
	err := m.updateTracker(func(current *TreeData) (*NodeTracker, error) {
		nodes, err := r.ResolveNodeKey(current.root, key, current)
		if err != nil {
			return nil, &OperationError{Op: "track child nodes", Key: key, Err: err}
		}
		selectors = make([]query.Selector, len(nodes))
		for i, n := range nodes {
			selectors[i] = query.NewSelector(r.NodeKey(n, current))
		}
		return current.tracker.TrackNodes(selectors, nodes), nil
	})
	if err != nil {
		return nil, err
	}
	return selectors, nil
}

// UntrackNode removes one registration of sel.
func (m *InMemory) UntrackNode(sel query.Selector) error {
	return m.updateTracker(func(current *TreeData) (*NodeTracker, error) {
		return current.tracker.UntrackNode(sel)
	})
}

// TrackedNode returns the current node of sel.
func (m *InMemory) TrackedNode(sel query.Selector) (*node.Node, error) {
	return m.data.Load().tracker.TrackedNode(sel)
}

// IsTrackedNodeDetached reports whether the tracked node of sel is
// detached.
func (m *InMemory) IsTrackedNodeDetached(sel query.Selector) (bool, error) {
	return m.data.Load().tracker.IsDetached(sel)
}

// TrackedNodeHandler returns a handler for navigating around the tracked
// node of sel. For a live node this is the current snapshot; a detached
// node gets a handler of its own with the node as root.
func (m *InMemory) TrackedNodeHandler(sel query.Selector) (node.Handler, error) {
	current := m.data.Load()
	detached, err := current.tracker.IsDetached(sel)
	if err != nil {
		return nil, err
	}
	if !detached {
		return current, nil
	}
	n, err := current.tracker.TrackedNode(sel)
	if err != nil {
		return nil, err
	}
	return newTreeData(n, nil, current.version), nil
}

// ReplaceTrackedNode detaches the tracked node of sel and makes n its
// node. The tree itself is not changed.
func (m *InMemory) ReplaceTrackedNode(sel query.Selector, n *node.Node) error {
	if n == nil {
		return &SelectorError{Selector: sel, Err: ErrNilNode}
	}
	return m.updateTracker(func(current *TreeData) (*NodeTracker, error) {
		return current.tracker.ReplaceAndDetach(sel, n)
	})
}

// initializer records the edits of one update attempt. It returns false
// if there is nothing to do, or errResetRoot to replace the whole tree by
// an empty root.
type initializer func(tx *Transaction) (bool, error)

var errResetRoot = errors.New("reset root")

// update runs the optimistic update loop: build a transaction from the
// current snapshot, execute it and try to publish the result. A lost
// race restarts the loop from the newer snapshot.
func (m *InMemory) update(op string, change notify.Change, r query.Resolver, init initializer) error {
	start := time.Now()
	defer func() {
		updateDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		current := m.data.Load()
		tx := NewTransaction(current, r)
		ok, err := init(tx)
		if errors.Is(err, errResetRoot) {
			m.installRoot(node.New(current.root.Name()), op)
			return nil
		}
		if err != nil {
			updatesTotal.WithLabelValues(op, resultError).Inc()
			return err
		}
		if !ok || tx.Empty() {
			updatesTotal.WithLabelValues(op, resultNoop).Inc()
			return nil
		}

		next, err := tx.Execute()
		if err != nil {
			updatesTotal.WithLabelValues(op, resultError).Inc()
			return &OperationError{Op: op, Key: change.Key, Err: err}
		}
		if m.data.CompareAndSwap(current, next) {
			updatesTotal.WithLabelValues(op, resultApplied).Inc()
			change.Version = next.version
			m.publish(change)
			return nil
		}

		casRetriesTotal.WithLabelValues(op).Inc()
		m.logger.Debug("snapshot changed concurrently, retrying update",
			"operation", op, "key", change.Key, "attempt", attempt)
	}
}

// updateTracker swaps in a snapshot with a new tracker and unchanged
// structure.
func (m *InMemory) updateTracker(fn func(current *TreeData) (*NodeTracker, error)) error {
	for {
		current := m.data.Load()
		tracker, err := fn(current)
		if err != nil {
			return err
		}
		if m.data.CompareAndSwap(current, current.withTracker(tracker)) {
			return nil
		}
		casRetriesTotal.WithLabelValues("track").Inc()
	}
}

// installRoot overwrites the current snapshot with one for root.
func (m *InMemory) installRoot(root *node.Node, op string) {
	current := m.data.Load()
	next := newTreeData(root, current.tracker.DetachAll(), current.version+1)
	m.data.Store(next)
	updatesTotal.WithLabelValues(op, resultApplied).Inc()
	m.logger.Debug("root node replaced", "operation", op, "version", next.version)
	m.publish(notify.Change{Type: notify.ChangeReload, Version: next.version})
}

func (m *InMemory) publish(change notify.Change) {
	if m.notifier == nil {
		return
	}
	change.Source = m.source
	m.notifier.Notify(change)
}

func (m *InMemory) resolverOr(r query.Resolver) query.Resolver {
	if r == nil {
		return m.resolver
	}
	return r
}

func initialRoot(root *node.Node) *node.Node {
	if root == nil {
		return node.New("")
	}
	return root
}

// addValues records the edits for adding values at key.
func addValues(tx *Transaction, key string, values []any, r query.Resolver) error {
	base := tx.Base()
	data, err := r.ResolveAddKey(base.Root(), key, base)
	if err != nil {
		return err
	}
	if data.Attribute {
		addAttributeByAddData(tx, data, values[0])
		return nil
	}
	nodes := make([]*node.Node, len(values))
	for i, v := range values {
		nodes[i] = node.NewBuilder().Name(data.NewName).Value(v).Build()
	}
	addByAddData(tx, data, nodes)
	return nil
}

// addByAddData adds nodes below the parent of data, creating the missing
// path nodes first.
func addByAddData(tx *Transaction, data query.AddData, nodes []*node.Node) {
	if len(data.PathNodes) == 0 {
		tx.AddNodesOperation(data.Parent, nodes...)
		return
	}
	last := len(data.PathNodes) - 1
	inner := node.NewBuilder().Name(data.PathNodes[last]).AddChildren(nodes...).Build()
	tx.AddNodeOperation(data.Parent, wrapPath(data.PathNodes[:last], inner))
}

func addAttributeByAddData(tx *Transaction, data query.AddData, value any) {
	if len(data.PathNodes) == 0 {
		tx.AddAttributeOperation(data.Parent, data.NewName, value)
		return
	}
	last := len(data.PathNodes) - 1
	inner := node.NewBuilder().Name(data.PathNodes[last]).AddAttribute(data.NewName, value).Build()
	tx.AddNodeOperation(data.Parent, wrapPath(data.PathNodes[:last], inner))
}

// wrapPath nests inner into a chain of new nodes named by path, building
// from the innermost node outwards.
func wrapPath(path []string, inner *node.Node) *node.Node {
	n := inner
	for i := len(path) - 1; i >= 0; i-- {
		n = node.NewBuilder().Name(path[i]).AddChild(n).Build()
	}
	return n
}

func clearResults(tx *Transaction, results []query.Result) bool {
	for _, res := range results {
		if res.IsAttribute() {
			tx.RemoveAttributeOperation(res.Node, res.Attribute)
		} else {
			tx.ClearNodeValueOperation(res.Node)
		}
	}
	return len(results) > 0
}

func changeValues(tx *Transaction, changed []query.ChangedValue) bool {
	for _, c := range changed {
		if c.Result.IsAttribute() {
			tx.AddAttributeOperation(c.Result.Node, c.Result.Attribute, c.Value)
		} else {
			tx.ChangeNodeValueOperation(c.Result.Node, c.Value)
		}
	}
	return len(changed) > 0
}
