// Package reload keeps a rule engine in sync with its rule files.
//
// A Controller owns the active engine behind an atomic pointer. Every reload
// parses the source into a fresh engine and swaps it in whole; a failed
// reload leaves the previous engine active. Execute never blocks on a reload
// and runs entirely against one engine.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/loader"
	"github.com/rgehrsitz/rex/internal/registry"
	"github.com/rgehrsitz/rex/internal/rules"
	"github.com/rgehrsitz/rex/internal/runtime"
)

const tracerName = "github.com/rgehrsitz/rex/internal/reload"

var (
	ErrReloadFailed = errors.New("failed to reload rules")
	ErrNotLoaded    = errors.New("no rules location loaded")
	ErrClosed       = errors.New("controller closed")
)

// Option configures a Controller.
type Option func(*Controller)

// WithStopOnFirstApplied is passed to every engine the controller builds.
func WithStopOnFirstApplied(stop bool) Option {
	return func(c *Controller) { c.stopOnFirstApplied = stop }
}

// WithRegisterer registers engine, reload and callback pool metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Controller) { c.registerer = reg }
}

// WithReloadDebounce sets the window in which file changes collapse into one
// reload.
func WithReloadDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

// WithReloadWorkers sets the number of goroutines running reloads triggered
// by file changes.
func WithReloadWorkers(n int) Option {
	return func(c *Controller) { c.workers = n }
}

// WithResources resolves resource: locations against fsys. When dir is not
// empty it is the directory on disk fsys was built from, and resources
// become watchable through it.
func WithResources(fsys fs.FS, dir string) Option {
	return func(c *Controller) {
		c.resources = fsys
		c.resourceDir = dir
	}
}

// WithTracer sets the tracer used for reload spans. The default comes from
// the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller serves rule executions from an engine that can be replaced at
// any time by reloading its rule source.
type Controller struct {
	loader             *loader.Loader
	stopOnFirstApplied bool
	registerer         prometheus.Registerer
	debounce           time.Duration
	workers            int
	resources          fs.FS
	resourceDir        string
	tracer             trace.Tracer
	logger             zerolog.Logger

	metrics       *Metrics
	engineMetrics *runtime.Metrics

	engine   atomic.Pointer[runtime.Engine]
	listener atomic.Pointer[Listener]

	mu       sync.Mutex // serialises Load, Reload and Close
	source   *Source
	watcher  *Watcher
	watching string
	closed   bool
}

// New creates a Controller with an empty engine. Rule documents are
// resolved against functions and actions.
func New(functions *registry.Functions, actions *registry.Actions, opts ...Option) (*Controller, error) {
	c := &Controller{
		loader:   loader.New(functions, actions),
		debounce: DefaultDebounce,
		workers:  2,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	var err error
	if c.metrics, err = NewMetrics(c.registerer); err != nil {
		return nil, fmt.Errorf("failed to register reload metrics: %w", err)
	}
	if c.engineMetrics, err = runtime.NewMetrics(c.registerer); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}

	c.engine.Store(c.newEngine())
	return c, nil
}

func (c *Controller) newEngine() *runtime.Engine {
	return runtime.NewEngine(
		runtime.WithStopOnFirstApplied(c.stopOnFirstApplied),
		runtime.WithMetrics(c.engineMetrics),
	)
}

// Load resolves location, loads it and, when watch is set, reloads
// automatically after its files change. A location is a path, a path with
// the file: prefix, or a resource: path inside the configured resources.
//
// A load error is returned and leaves the active engine unchanged. When the
// source cannot be watched Load logs a warning and the source can still be
// reloaded manually.
func (c *Controller) Load(ctx context.Context, location string, watch bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	src, err := resolveSource(location, c.resources, c.resourceDir)
	if err != nil {
		return err
	}
	if err := c.reloadLocked(ctx, src); err != nil {
		return err
	}

	c.source = src
	c.unwatchLocked()
	if watch {
		c.watchLocked(src)
	}
	return nil
}

func (c *Controller) watchLocked(src *Source) {
	if !src.Watchable() {
		c.logger.Warn().Str("location", src.Location).Msg("Hot reload requested but the location has no directory on disk; reload it manually instead")
		return
	}

	if c.watcher == nil {
		w, err := NewWatcher(
			WithDebounce(c.debounce),
			WithWorkers(c.workers),
			WithWatcherRegisterer(c.registerer),
			WithWatcherLogger(c.logger),
			WithStateListener(StateListenerFunc(func(reason string, err error) {
				c.logger.Error().Err(err).Str("reason", reason).Msg("Hot reload stopped; rules will only change on manual reload")
			})),
		)
		if err != nil {
			c.logger.Warn().Err(err).Str("location", src.Location).Msg("Hot reload unavailable; reload manually instead")
			return
		}
		c.watcher = w
	}

	var err error
	if src.Dir {
		err = c.watcher.WatchDir(src.WatchPath, c.reloadInBackground)
	} else {
		err = c.watcher.Watch(src.WatchPath, c.reloadInBackground)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("location", src.Location).Msg("Hot reload unavailable; reload manually instead")
		return
	}
	c.watching = src.WatchPath
	c.logger.Info().Str("location", src.Location).Dur("debounce", c.debounce).Msg("Watching rules for changes")
}

func (c *Controller) unwatchLocked() {
	if c.watcher != nil && c.watching != "" {
		c.watcher.Unwatch(c.watching)
	}
	c.watching = ""
}

// Watching reports whether file changes currently trigger reloads.
func (c *Controller) Watching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watching != ""
}

// Reload re-reads the loaded source and swaps in a new engine. On failure
// the active engine is kept and the returned error wraps ErrReloadFailed.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.source == nil {
		return ErrNotLoaded
	}
	return c.reloadLocked(ctx, c.source)
}

func (c *Controller) reloadInBackground() {
	if err := c.Reload(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Error().Err(err).Msg("Background reload failed; keeping previous rules")
	}
}

func (c *Controller) reloadLocked(ctx context.Context, src *Source) error {
	ctx, span := c.tracer.Start(ctx, "rex.reload", trace.WithAttributes(
		attribute.String("rex.location", src.Location),
	))
	defer span.End()

	start := time.Now()
	engine, err := c.build(ctx, src)
	d := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.observeFailure(d)
		c.notifyFailure(err, d)
		return fmt.Errorf("%w: %w", ErrReloadFailed, err)
	}

	c.engine.Store(engine)
	n := engine.Len()
	span.SetAttributes(attribute.Int("rex.rules", n), attribute.String("rex.engine_id", engine.ID()))
	c.metrics.observeSuccess(d, n)
	c.logger.Info().Str("location", src.Location).Int("rules", n).Dur("duration", d).Msg("Rules reloaded")
	c.notifySuccess(n, d)
	return nil
}

func (c *Controller) build(ctx context.Context, src *Source) (*runtime.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loaded, err := src.load(c.loader)
	if err != nil {
		return nil, err
	}
	engine := c.newEngine()
	if err := engine.AddRules(loaded...); err != nil {
		return nil, err
	}
	return engine, nil
}

// Validate parses the loaded source without activating it and returns one
// error per failing file.
func (c *Controller) Validate(ctx context.Context) []error {
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()

	if src == nil {
		return []error{ErrNotLoaded}
	}
	if err := ctx.Err(); err != nil {
		return []error{err}
	}
	return src.validate(c.loader)
}

// SetReloadListener replaces the reload listener. A nil l removes it.
func (c *Controller) SetReloadListener(l Listener) {
	if l == nil {
		c.listener.Store(nil)
		return
	}
	c.listener.Store(&l)
}

func (c *Controller) notifySuccess(n int, d time.Duration) {
	c.notify(func(l Listener) { l.OnReloadSuccess(n, d) })
}

func (c *Controller) notifyFailure(err error, d time.Duration) {
	c.notify(func(l Listener) { l.OnReloadFailure(err, d) })
}

func (c *Controller) notify(call func(Listener)) {
	l := c.listener.Load()
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("Reload listener panicked")
		}
	}()
	call(*l)
}

// Execute runs f through the active engine.
func (c *Controller) Execute(f facts.Facts) (facts.Facts, error) {
	return c.engine.Load().Execute(f)
}

// ExecuteWithTrace runs f through the active engine and reports the rules
// that fired.
func (c *Controller) ExecuteWithTrace(f facts.Facts) (runtime.Result, error) {
	return c.engine.Load().ExecuteWithTrace(f)
}

// Rules returns the active rules in execution order.
func (c *Controller) Rules() []*rules.Rule {
	return c.engine.Load().Rules()
}

// Engine returns the active engine.
func (c *Controller) Engine() *runtime.Engine {
	return c.engine.Load()
}

// Source returns the loaded location, or "" before the first successful
// Load.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return ""
	}
	return c.source.Location
}

// Close stops watching. The active engine keeps serving Execute.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	w := c.watcher
	c.watcher, c.watching = nil, ""
	c.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}
