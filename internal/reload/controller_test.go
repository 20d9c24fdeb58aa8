package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/loader"
	"github.com/rgehrsitz/rex/internal/registry"
)

const rulesA = `
rules:
  - name: a-first
    priority: 10
    when: "true"
    then:
      - version = "A"
  - name: a-second
    when: "true"
    then:
      - seen = version
`

const rulesB = `
rules:
  - name: b-only
    when: "true"
    then:
      - version = "B"
      - seen = "B"
`

const malformed = `
rules:
  - name: broken
    when: "amount >"
    then:
      - x = 1
`

func newTestController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	acts := registry.NewActions()
	require.NoError(t, acts.RegisterFunc("noop", func() {}))
	c, err := New(registry.NewFunctions(), acts, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ruleNames(c *Controller) []string {
	var names []string
	for _, r := range c.Rules() {
		names = append(names, r.Name())
	}
	return names
}

func TestController_EmptyBeforeLoad(t *testing.T) {
	c := newTestController(t)

	out, err := c.Execute(facts.New(map[string]any{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Get("x"))
	assert.Empty(t, c.Rules())
	assert.Equal(t, "", c.Source())

	assert.ErrorIs(t, c.Reload(context.Background()), ErrNotLoaded)
	assert.Equal(t, []error{ErrNotLoaded}, c.Validate(context.Background()))
}

func TestController_LoadAndExecute(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), file, false))
	assert.Equal(t, file, c.Source())
	assert.Equal(t, []string{"a-first", "a-second"}, ruleNames(c))
	assert.False(t, c.Watching())

	res, err := c.ExecuteWithTrace(facts.Empty())
	require.NoError(t, err)
	assert.Equal(t, "A", res.Facts.Get("seen"))
	assert.Equal(t, []string{"a-first", "a-second"}, res.Fired)
	assert.Equal(t, c.Engine().ID(), res.EngineID)
}

func TestController_FilePrefix(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), FilePrefix+file, false))
	assert.Len(t, c.Rules(), 2)
}

func TestController_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, malformed)

	c := newTestController(t)

	err := c.Load(context.Background(), filepath.Join(dir, "missing.yaml"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = c.Load(context.Background(), bad, false)
	require.ErrorIs(t, err, ErrReloadFailed)
	var pe *loader.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken", pe.Rule)

	assert.Empty(t, c.Rules())
	assert.Equal(t, "", c.Source())

	assert.ErrorIs(t, c.Load(context.Background(), "resource:rules.yaml", false), ErrNoResources)
}

func TestController_ReloadSwapsRules(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), file, false))
	before := c.Engine().ID()

	writeFile(t, file, rulesB)
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, []string{"b-only"}, ruleNames(c))
	assert.NotEqual(t, before, c.Engine().ID())

	out, err := c.Execute(facts.Empty())
	require.NoError(t, err)
	assert.Equal(t, "B", out.Get("seen"))
}

func TestController_FailedReloadKeepsRules(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), file, false))
	active := c.Engine()

	var failures []error
	c.SetReloadListener(ListenerFuncs{Failure: func(err error, _ time.Duration) {
		failures = append(failures, err)
	}})

	writeFile(t, file, malformed)
	err := c.Reload(context.Background())
	require.ErrorIs(t, err, ErrReloadFailed)
	assert.Same(t, active, c.Engine())
	require.Len(t, failures, 1)
	assert.False(t, errors.Is(failures[0], ErrReloadFailed), "listener receives the cause")

	out, err := c.Execute(facts.Empty())
	require.NoError(t, err)
	assert.Equal(t, "A", out.Get("seen"))
}

func TestController_ReloadListener(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t)
	var counts []int
	c.SetReloadListener(ListenerFuncs{Success: func(n int, d time.Duration) {
		counts = append(counts, n)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}})

	require.NoError(t, c.Load(context.Background(), file, false))
	writeFile(t, file, rulesB)
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, []int{2, 1}, counts)

	// A panicking listener does not break reloads.
	c.SetReloadListener(ListenerFuncs{Success: func(int, time.Duration) { panic("boom") }})
	require.NoError(t, c.Reload(context.Background()))

	c.SetReloadListener(nil)
	require.NoError(t, c.Reload(context.Background()))
}

func TestController_ConcurrentExecuteSeesWholeRuleSet(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), file, false))

	var wg sync.WaitGroup
	var mixed atomic.Int32
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				out, err := c.Execute(facts.Empty())
				if err != nil || out.Get("version") != out.Get("seen") {
					mixed.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			writeFile(t, file, rulesB)
		} else {
			writeFile(t, file, rulesA)
		}
		require.NoError(t, c.Reload(context.Background()))
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, mixed.Load())
}

func TestController_DirectorySource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), rulesA)
	writeFile(t, filepath.Join(dir, "b.yml"), rulesB)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), dir, false))
	assert.Equal(t, []string{"a-first", "a-second", "b-only"}, ruleNames(c))
	assert.Empty(t, c.Validate(context.Background()))
}

func TestController_ValidateReportsEachFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), rulesA)

	c := newTestController(t)
	require.NoError(t, c.Load(context.Background(), dir, false))

	writeFile(t, filepath.Join(dir, "b.yaml"), malformed)
	writeFile(t, filepath.Join(dir, "c.yaml"), "rules:\n  - name: c\n    when: \"true\"\n    then:\n      - missing()\n")
	writeFile(t, filepath.Join(dir, "d.yaml"), rulesA)

	errs := c.Validate(context.Background())
	require.Len(t, errs, 4)
	assert.Contains(t, errs[0].Error(), "b.yaml")
	assert.Contains(t, errs[1].Error(), "action 'missing' not found")
	assert.Contains(t, errs[2].Error(), "duplicate rule name")
	assert.Contains(t, errs[3].Error(), "duplicate rule name")

	// Validation never touches the active engine.
	assert.Equal(t, []string{"a-first", "a-second"}, ruleNames(c))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, []error{context.Canceled}, c.Validate(ctx))
}

func TestController_Resources(t *testing.T) {
	resources := fstest.MapFS{
		"rules/main.yaml": {Data: []byte(rulesA)},
	}

	c := newTestController(t, WithResources(resources, ""))
	require.NoError(t, c.Load(context.Background(), "resource:rules/main.yaml", true))
	assert.Len(t, c.Rules(), 2)
	assert.False(t, c.Watching(), "resources without a directory cannot be watched")

	require.NoError(t, c.Load(context.Background(), "resource:/rules", false))
	assert.Len(t, c.Rules(), 2)

	err := c.Load(context.Background(), "resource:rules/missing.yaml", false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestController_ResourcesBackedByDirectoryAreWatchable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules"), 0o755))
	file := filepath.Join(dir, "rules", "main.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t, WithResources(os.DirFS(dir), dir), WithReloadDebounce(testDebounce))
	require.NoError(t, c.Load(context.Background(), "resource:rules/main.yaml", true))
	assert.True(t, c.Watching())

	writeFile(t, file, rulesB)
	require.Eventually(t, func() bool {
		names := ruleNames(c)
		return len(names) == 1 && names[0] == "b-only"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestController_HotReload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	var failures atomic.Int32
	c := newTestController(t, WithReloadDebounce(testDebounce))
	require.NoError(t, c.Load(context.Background(), file, true))
	assert.True(t, c.Watching())
	c.SetReloadListener(ListenerFuncs{Failure: func(error, time.Duration) { failures.Add(1) }})

	writeFile(t, file, rulesB)
	require.Eventually(t, func() bool {
		names := ruleNames(c)
		return len(names) == 1 && names[0] == "b-only"
	}, 5*time.Second, 10*time.Millisecond)

	// A broken edit is reported to the listener and the rules stay.
	writeFile(t, file, malformed)
	require.Eventually(t, func() bool { return failures.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b-only"}, ruleNames(c))
}

func TestController_HotReloadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), rulesA)

	c := newTestController(t, WithReloadDebounce(testDebounce))
	require.NoError(t, c.Load(context.Background(), dir, true))

	writeFile(t, filepath.Join(dir, "b.yaml"), rulesB)
	require.Eventually(t, func() bool { return len(c.Rules()) == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestController_LoadReplacesWatch(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	writeFile(t, first, rulesA)
	writeFile(t, second, rulesB)

	c := newTestController(t, WithReloadDebounce(testDebounce))
	require.NoError(t, c.Load(context.Background(), first, true))
	require.NoError(t, c.Load(context.Background(), second, true))
	assert.Equal(t, 1, c.watcher.refs(dir))
	assert.Equal(t, []string{"b-only"}, ruleNames(c))
}

func TestController_Close(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t, WithReloadDebounce(testDebounce))
	require.NoError(t, c.Load(context.Background(), file, true))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Watching())

	// The last engine keeps serving.
	out, err := c.Execute(facts.Empty())
	require.NoError(t, err)
	assert.Equal(t, "A", out.Get("seen"))

	assert.ErrorIs(t, c.Reload(context.Background()), ErrClosed)
	assert.ErrorIs(t, c.Load(context.Background(), file, false), ErrClosed)
}

func TestController_StopOnFirstApplied(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	c := newTestController(t, WithStopOnFirstApplied(true))
	require.NoError(t, c.Load(context.Background(), file, false))

	res, err := c.ExecuteWithTrace(facts.Empty())
	require.NoError(t, err)
	assert.Equal(t, []string{"a-first"}, res.Fired)
	assert.Nil(t, res.Facts.Get("seen"))
}

func TestController_Metrics(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	reg := prometheus.NewRegistry()
	c := newTestController(t, WithRegisterer(reg))
	require.NoError(t, c.Load(context.Background(), file, false))

	writeFile(t, file, malformed)
	require.Error(t, c.Reload(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.reloads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.reloads.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.active))

	_, err := c.Execute(facts.Empty())
	require.NoError(t, err)
	count, err := testutil.GatherAndCount(reg, "rex_engine_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A second controller on the same registry shares the collectors.
	other := newTestController(t, WithRegisterer(reg))
	assert.Same(t, c.metrics.reloads, other.metrics.reloads)
}

func TestController_TracesReloads(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, file, rulesA)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := newTestController(t, WithTracer(tp.Tracer("test")))
	require.NoError(t, c.Load(context.Background(), file, false))
	writeFile(t, file, malformed)
	require.Error(t, c.Reload(context.Background()))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "rex.reload", ok.Name())
	assert.Contains(t, ok.Attributes(), attribute.Int("rex.rules", 2))
	assert.Contains(t, ok.Attributes(), attribute.String("rex.location", file))

	failed := spans[1]
	assert.Equal(t, "rex.reload", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.NotEmpty(t, failed.Events(), "the error is recorded on the span")
}
