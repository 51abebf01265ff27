// Package watcher reports changes of individual configuration files.
//
// The parent directory of every file is watched so editors that replace
// a file by renaming are noticed as well; events for other files in the
// directory are dropped. Bursts of events for one file are merged into
// a single Event delivered once the file has been quiet for the debounce
// period.
package watcher

import (
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned when using a watcher after Close.
var ErrClosed = errors.New("watcher is closed")

// Operation is what happened to a file.
type Operation int

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = iota

	// OpCreate indicates the file appeared, either new or renamed onto
	// the watched path.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove

	// OpRename indicates the file was renamed away.
	OpRename
)

var operationNames = [...]string{"write", "create", "remove", "rename"}

// String returns the operation name.
func (op Operation) String() string {
	if op < 0 || int(op) >= len(operationNames) {
		return "unknown"
	}
	return operationNames[op]
}

// Gone reports whether the operation left no file behind.
func (op Operation) Gone() bool {
	return op == OpRemove || op == OpRename
}

// merge folds a later operation into an earlier one. A write after a
// create is still a create; anything else is replaced.
func (op Operation) merge(later Operation) Operation {
	if op == OpCreate && later == OpWrite {
		return OpCreate
	}
	return later
}

// Event is a change of a watched file.
type Event struct {
	// Path is the absolute path of the file.
	Path string

	Op Operation

	// Time is when the last merged event was seen.
	Time time.Time
}

// Handler is called for every delivered event.
type Handler func(event Event)

// pending is an event waiting for its file to settle.
type pending struct {
	op    Operation
	last  time.Time
	timer *time.Timer
}

// Watcher monitors files for changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	files    map[string]struct{}
	dirs     map[string]int // watched files per directory
	handlers []Handler
	pending  map[string]*pending
	stop     chan struct{}
	running  bool
	closed   bool

	// wg tracks the event loop and every armed debounce timer.
	wg sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before its event is
// delivered. Zero delivers every event as it arrives.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher. Events are delivered after Start.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		logger:   slog.Default().With("component", "watcher"),
		debounce: 100 * time.Millisecond,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]int),
		pending:  make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds a file. The file does not need to exist yet, but its
// directory does.
func (w *Watcher) Watch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if _, ok := w.files[path]; ok {
		return nil
	}

	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[path] = struct{}{}
	w.logger.Debug("watching file", "path", path)
	return nil
}

// Unwatch removes a file. A pending event for it is dropped.
func (w *Watcher) Unwatch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if _, ok := w.files[path]; !ok {
		return nil
	}
	delete(w.files, path)
	w.dropPending(path)

	dir := filepath.Dir(path)
	if w.dirs[dir]--; w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	return w.fsw.Remove(dir)
}

// WatchedFiles returns the sorted list of watched files.
func (w *Watcher) WatchedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make([]string, 0, len(w.files))
	for path := range w.files {
		files = append(files, path)
	}
	slices.Sort(files)
	return files
}

// OnChange registers a handler.
func (w *Watcher) OnChange(handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins delivering events. Starting a running or closed watcher
// does nothing.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.closed {
		return
	}
	w.running = true
	w.stop = make(chan struct{})

	w.wg.Add(1)
	go w.loop(w.stop)
}

// Stop stops delivering events and waits for handlers in progress.
// Pending events are dropped. The watch list is kept, so Start may be
// called again.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	for path := range w.pending {
		w.dropPending(path)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

// Close stops the watcher and releases its resources.
func (w *Watcher) Close() error {
	w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fsw.Close()
}

// IsRunning reports whether events are being delivered.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(stop <-chan struct{}) {
	defer w.wg.Done()

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.receive(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "error", err)
		}
	}
}

// receive handles one fsnotify event.
func (w *Watcher) receive(ev fsnotify.Event) {
	op, ok := convertOp(ev.Op)
	if !ok {
		return
	}
	path := filepath.Clean(ev.Name)
	now := time.Now()

	w.mu.Lock()
	if _, watched := w.files[path]; !watched || !w.running {
		w.mu.Unlock()
		return
	}

	if w.debounce == 0 {
		handlers := slices.Clone(w.handlers)
		w.mu.Unlock()
		w.deliver(handlers, Event{Path: path, Op: op, Time: now})
		return
	}

	if p, ok := w.pending[path]; ok {
		p.op = p.op.merge(op)
		p.last = now
	} else {
		p = &pending{op: op, last: now}
		w.pending[path] = p
		w.wg.Add(1)
		p.timer = time.AfterFunc(w.debounce, func() { w.settle(path, p) })
	}
	w.mu.Unlock()
}

// settle runs when the debounce timer of p fires. Each pending event
// arms one timer; the timer is re-armed only here, and the final run
// releases the wait group entry taken when it was armed.
func (w *Watcher) settle(path string, p *pending) {
	w.mu.Lock()
	if w.pending[path] != p {
		// Dropped while the timer fired.
		w.mu.Unlock()
		w.wg.Done()
		return
	}
	if wait := w.debounce - time.Since(p.last); wait > 0 && w.running {
		p.timer.Reset(wait)
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	running := w.running
	handlers := slices.Clone(w.handlers)
	w.mu.Unlock()

	defer w.wg.Done()
	if running {
		w.deliver(handlers, Event{Path: path, Op: p.op, Time: p.last})
	}
}

// dropPending cancels the pending event of path. Must be called with
// w.mu held. A timer that already fired finds its entry gone and
// releases the wait group itself.
func (w *Watcher) dropPending(path string) {
	p, ok := w.pending[path]
	if !ok {
		return
	}
	delete(w.pending, path)
	if p.timer.Stop() {
		w.wg.Done()
	}
}

func (w *Watcher) deliver(handlers []Handler, event Event) {
	w.logger.Debug("file changed", "path", event.Path, "op", event.Op.String())
	for _, h := range handlers {
		w.call(h, event)
	}
}

func (w *Watcher) call(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("watch handler panicked", "path", event.Path, "panic", r)
		}
	}()
	h(event)
}

// convertOp maps an fsnotify operation to an Operation. Permission
// changes are not reported.
func convertOp(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Remove):
		return OpRemove, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpWrite, true
	default:
		return 0, false
	}
}
