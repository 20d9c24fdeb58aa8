package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the window in which change events collapse into one
// callback.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherClosed is returned by Watch after Close.
var ErrWatcherClosed = errors.New("watcher closed")

// StateListener is told when the event loop stops for any reason other than
// Close. No further callbacks fire after that.
type StateListener interface {
	OnWatcherStopped(reason string, err error)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(reason string, err error)

func (f StateListenerFunc) OnWatcherStopped(reason string, err error) { f(reason, err) }

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce window. Non-positive values are ignored.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWorkers sets the number of goroutines running callbacks.
func WithWorkers(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithWatcherRegisterer registers the callback pool collectors on reg.
func WithWatcherRegisterer(reg prometheus.Registerer) WatcherOption {
	return func(w *Watcher) {
		w.registerer = reg
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithStateListener sets the listener told about an unexpected loop stop.
func WithStateListener(l StateListener) WatcherOption {
	return func(w *Watcher) {
		w.state = l
	}
}

// watch is one subscription. dir is the directory whose filesystem watch it
// holds a reference on; it equals the key for directory watches.
type watch struct {
	dir string
	fn  func()
}

type callback struct {
	path string
	fn   func()
}

// Watcher delivers debounced change notifications for files and
// directories. One goroutine drains filesystem events; callbacks run on a
// worker pool. Every watch on a directory, or on a file inside it, shares
// one underlying subscription on that directory, released when the last of
// them is removed.
type Watcher struct {
	debounce   time.Duration
	workers    int
	registerer prometheus.Registerer
	logger     zerolog.Logger
	state      StateListener

	fsw    *fsnotify.Watcher
	pool   *Pool[callback]
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	watches map[string]watch
	dirs    map[string]int
	pending map[string]*pendingTimer
}

// pendingTimer identifies one arming of a debounce timer. It exists before
// the timer starts, so the timer callback never reads a field being written.
type pendingTimer struct {
	timer *time.Timer
}

// NewWatcher starts a watcher with no subscriptions.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		debounce: DefaultDebounce,
		workers:  2,
		logger:   log.Logger,
		done:     make(chan struct{}),
		watches:  make(map[string]watch),
		dirs:     make(map[string]int),
		pending:  make(map[string]*pendingTimer),
	}
	for _, opt := range opts {
		opt(w)
	}

	pool, err := NewPool(w.workers, 16, w.run, WithPoolRegisterer[callback](w.registerer))
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		cancel()
		fsw.Close()
		return nil, err
	}
	w.fsw, w.pool, w.cancel = fsw, pool, cancel

	go w.loop()
	return w, nil
}

// Watch calls onChange after changes to the file at path settle.
func (w *Watcher) Watch(path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("file does not exist: %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory: %s", path)
	}
	return w.add(abs, filepath.Dir(abs), onChange)
}

// WatchDir calls onChange after changes to any file directly inside dir
// settle.
func (w *Watcher) WatchDir(dir string, onChange func()) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("directory does not exist: %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}
	return w.add(abs, abs, onChange)
}

func (w *Watcher) add(key, dir string, onChange func()) error {
	if onChange == nil {
		return errors.New("callback cannot be nil")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if _, ok := w.watches[key]; ok {
		w.watches[key] = watch{dir: dir, fn: onChange}
		return nil
	}
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.watches[key] = watch{dir: dir, fn: onChange}
	w.logger.Debug().Str("path", key).Int("refs", w.dirs[dir]).Msg("Watching")
	return nil
}

// Unwatch removes the watch on path, file or directory, and cancels its
// pending callback.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[abs]; ok {
		p.timer.Stop()
		delete(w.pending, abs)
	}
	wt, ok := w.watches[abs]
	if !ok {
		return
	}
	delete(w.watches, abs)
	w.release(wt.dir)
}

func (w *Watcher) release(dir string) {
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return
	}
	delete(w.dirs, dir)
	if err := w.fsw.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		w.logger.Debug().Err(err).Str("dir", dir).Msg("Failed to remove directory watch")
	}
}

// Close cancels pending callbacks, drops every subscription and stops the
// event loop. It waits for running callbacks to finish.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for key, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, key)
	}
	clear(w.watches)
	clear(w.dirs)
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	if stopErr := w.pool.Stop(5 * time.Second); stopErr != nil {
		w.logger.Warn().Err(stopErr).Msg("Reload callbacks still running at close")
	}
	w.cancel()
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.stopped("event channel closed", nil)
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.stopped("error channel closed", nil)
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) stopped(reason string, err error) {
	w.mu.Lock()
	graceful := w.closed
	w.mu.Unlock()
	if graceful {
		return
	}

	w.logger.Error().Err(err).Str("reason", reason).Msg("File watcher stopped")
	if w.state == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("Watcher state listener panicked")
		}
	}()
	w.state.OnWatcherStopped(reason, err)
}

// handle schedules the callbacks interested in ev: the watch on the file
// itself and the watch on its directory.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	name := filepath.Clean(ev.Name)
	dir := filepath.Dir(name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if wt, ok := w.watches[name]; ok {
		if wt.dir != name {
			w.schedule(name)
		} else if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			w.logger.Warn().Str("dir", name).Msg("Watched directory removed")
		}
	}
	if wt, ok := w.watches[dir]; ok && wt.dir == dir {
		w.schedule(dir)
	}
}

// schedule restarts the debounce timer for key. Callers hold w.mu.
func (w *Watcher) schedule(key string) {
	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
	}
	p := &pendingTimer{}
	w.pending[key] = p
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(key, p) })
}

func (w *Watcher) fire(key string, p *pendingTimer) {
	w.mu.Lock()
	if w.closed || w.pending[key] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	wt, ok := w.watches[key]
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.pool.Submit(callback{path: key, fn: wt.fn}); err != nil {
		w.logger.Warn().Err(err).Str("path", key).Msg("Dropped change notification")
	}
}

func (w *Watcher) run(_ context.Context, cb callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.logger.Error().Str("path", cb.path).Interface("panic", r).Msg("Change callback panicked")
		}
	}()
	w.logger.Debug().Str("path", cb.path).Msg("Change settled")
	cb.fn()
	return nil
}

// refs returns the subscription reference count on dir.
func (w *Watcher) refs(dir string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs[dir]
}

// pendingCount returns the number of armed debounce timers.
func (w *Watcher) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
