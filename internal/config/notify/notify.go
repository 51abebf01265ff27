// Package notify delivers node model change events to observers.
//
// Observers subscribe to every change or to a key. A keyed observer sees
// changes made at its key, below it, and above it: clearing "server"
// reaches an observer of "server.port". Changes without a key, such as
// reloads, reach everyone.
//
// The subscriber list is copy-on-write, so delivery never holds a lock
// while observers run and observers may subscribe or unsubscribe from
// inside a callback.
package notify

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ChangeType represents the type of model change.
type ChangeType int

const (
	// ChangeSet indicates values of existing nodes or attributes were set.
	ChangeSet ChangeType = iota

	// ChangeAdd indicates new nodes or attributes were added.
	ChangeAdd

	// ChangeDelete indicates nodes, attributes or values were removed.
	ChangeDelete

	// ChangeReload indicates the whole tree was replaced or cleared.
	ChangeReload
)

var changeTypeNames = [...]string{"set", "add", "delete", "reload"}

// String returns the change type name.
func (c ChangeType) String() string {
	if c < 0 || int(c) >= len(changeTypeNames) {
		return "unknown"
	}
	return changeTypeNames[c]
}

// Change is one published model update.
type Change struct {
	// ID identifies the event. Notify assigns one if unset.
	ID uuid.UUID

	// Key is the key the update was made with, empty for updates of the
	// whole tree.
	Key string

	Type ChangeType

	// Values written by the update, if any.
	Values []any

	// Version is the snapshot version the update produced.
	Version uint64

	// Source names the model or loader that made the change.
	Source string
}

// Observer receives changes.
type Observer func(change Change)

type subscriber struct {
	id       uint64
	key      string
	global   bool
	observer Observer
}

func (s subscriber) wants(change Change) bool {
	if s.global || change.Key == "" {
		return true
	}
	return s.key == change.Key || IsParentKey(s.key, change.Key) || IsParentKey(change.Key, s.key)
}

// Subscription is the handle of a registered observer.
type Subscription struct {
	id       uint64
	key      string
	notifier *Notifier
}

// Key returns the subscribed key, or "" for global subscriptions.
func (s *Subscription) Key() string {
	return s.key
}

// Unsubscribe removes the observer. Calling it again does nothing.
func (s *Subscription) Unsubscribe() {
	if s.notifier != nil {
		s.notifier.remove(s.id)
	}
}

// Notifier fans changes out to observers.
type Notifier struct {
	subs   atomic.Pointer[[]subscriber]
	nextID atomic.Uint64
	logger *slog.Logger

	queue chan Change // nil for synchronous delivery
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    atomic.Bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync delivers changes from a goroutine fed by a queue of
// bufferSize entries. Notify blocks while the queue is full. A size of
// zero or less keeps delivery synchronous.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.queue = make(chan Change, bufferSize)
		}
	}
}

// WithLogger sets the logger used to report observer panics.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New creates a Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		logger: slog.Default().With("component", "notify"),
		done:   make(chan struct{}),
	}
	n.subs.Store(&[]subscriber{})

	for _, opt := range opts {
		opt(n)
	}

	if n.queue != nil {
		n.wg.Add(1)
		go n.run()
	}
	return n
}

// Subscribe registers an observer for all changes.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	return n.add(subscriber{global: true, observer: observer})
}

// SubscribeKey registers an observer for changes related to key. An
// observer of "server" receives changes to "server.port",
// "server(1).host" and "server[@id]"; an observer of "server.port"
// receives changes to "server".
func (n *Notifier) SubscribeKey(key string, observer Observer) *Subscription {
	return n.add(subscriber{key: key, observer: observer})
}

// Subscribers returns the number of registered observers.
func (n *Notifier) Subscribers() int {
	return len(*n.subs.Load())
}

// Notify publishes a change. Changes published after Close are dropped.
func (n *Notifier) Notify(change Change) {
	if n.closed.Load() {
		return
	}
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}

	if n.queue == nil {
		n.deliver(change)
		return
	}
	select {
	case n.queue <- change:
	case <-n.done:
	}
}

// Close stops delivery. Queued changes are delivered before Close
// returns. It is safe to call Close more than once.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		close(n.done)
		n.wg.Wait()
	})
}

func (n *Notifier) add(s subscriber) *Subscription {
	s.id = n.nextID.Add(1)
	for {
		current := n.subs.Load()
		next := append(slices.Clone(*current), s)
		if n.subs.CompareAndSwap(current, &next) {
			return &Subscription{id: s.id, key: s.key, notifier: n}
		}
	}
}

func (n *Notifier) remove(id uint64) {
	for {
		current := n.subs.Load()
		i := slices.IndexFunc(*current, func(s subscriber) bool { return s.id == id })
		if i < 0 {
			return
		}
		next := slices.Delete(slices.Clone(*current), i, i+1)
		if n.subs.CompareAndSwap(current, &next) {
			return
		}
	}
}

// deliver calls the interested observers in subscription order.
func (n *Notifier) deliver(change Change) {
	for _, s := range *n.subs.Load() {
		if s.wants(change) {
			n.call(s, change)
		}
	}
}

func (n *Notifier) call(s subscriber, change Change) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("observer panicked",
				"key", change.Key,
				"type", change.Type.String(),
				"subscription", s.id,
				"panic", r,
			)
		}
	}()
	s.observer(change)
}

func (n *Notifier) run() {
	defer n.wg.Done()

	for {
		select {
		case change := <-n.queue:
			n.deliver(change)
		case <-n.done:
			for {
				select {
				case change := <-n.queue:
					n.deliver(change)
				default:
					return
				}
			}
		}
	}
}

// IsParentKey reports whether parent addresses an ancestor of child.
// The empty key is the parent of every non-empty key. An escaped dot
// ("a..b") is part of a name and does not end a segment.
func IsParentKey(parent, child string) bool {
	if len(parent) >= len(child) {
		return false
	}
	if parent == "" {
		return true
	}
	if !strings.HasPrefix(child, parent) {
		return false
	}
	rest := child[len(parent):]
	switch rest[0] {
	case '(', '[':
		return true
	case '.':
		return len(rest) == 1 || rest[1] != '.'
	}
	return false
}

// Batch holds changes back until Commit. Changes to the same key and
// type are merged, keeping the values and version of the latest.
type Batch struct {
	notifier *Notifier

	mu      sync.Mutex
	changes []Change
	index   map[batchKey]int
}

type batchKey struct {
	key string
	typ ChangeType
}

// NewBatch creates an empty batch publishing to n.
func (n *Notifier) NewBatch() *Batch {
	return &Batch{notifier: n}
}

// Add queues a change.
func (b *Batch) Add(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := batchKey{change.Key, change.Type}
	if i, ok := b.index[k]; ok {
		b.changes[i] = change
		return
	}
	if b.index == nil {
		b.index = make(map[batchKey]int)
	}
	b.index[k] = len(b.changes)
	b.changes = append(b.changes, change)
}

// Commit publishes the queued changes in the order their keys were
// first added and empties the batch.
func (b *Batch) Commit() {
	b.mu.Lock()
	changes := b.changes
	b.changes = nil
	b.index = nil
	b.mu.Unlock()

	for _, change := range changes {
		b.notifier.Notify(change)
	}
}

// Discard drops the queued changes.
func (b *Batch) Discard() {
	b.mu.Lock()
	b.changes = nil
	b.index = nil
	b.mu.Unlock()
}

// Len returns the number of queued changes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}
