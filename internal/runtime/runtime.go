// runtime/runtime.go

package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/rules"
)

var (
	ErrNilRule       = errors.New("rule is nil")
	ErrDuplicateRule = errors.New("duplicate rule name")
)

// RuleError reports a failure inside one rule during execution.
type RuleError struct {
	Rule  string
	Phase string // "condition" or "action"
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule '%s' %s failed: %v", e.Rule, e.Phase, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// Result is the outcome of ExecuteWithTrace.
type Result struct {
	Facts    facts.Facts
	Fired    []string
	EngineID string
	Duration time.Duration
}

// Engine executes a priority-ordered rule list. The list is replaced as a
// whole on every mutation, so Execute reads it without locking and always
// sees a complete list.
type Engine struct {
	id                 string
	stopOnFirstApplied bool
	metrics            *Metrics

	mu    sync.Mutex // serialises writers
	rules atomic.Pointer[[]*rules.Rule]
}

// Option configures an Engine.
type Option func(*Engine)

// WithStopOnFirstApplied makes Execute halt after the first rule whose
// condition was true.
func WithStopOnFirstApplied(stop bool) Option {
	return func(e *Engine) { e.stopOnFirstApplied = stop }
}

// WithMetrics records executions on m. A nil m disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{id: uuid.NewString()}
	for _, opt := range opts {
		opt(e)
	}
	empty := []*rules.Rule{}
	e.rules.Store(&empty)
	return e
}

// ID identifies this engine instance; a reload produces a new one.
func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) StopOnFirstApplied() bool {
	return e.stopOnFirstApplied
}

// AddRule inserts r keeping the list sorted by descending priority, ties in
// insertion order.
func (e *Engine) AddRule(r *rules.Rule) error {
	return e.AddRules(r)
}

// AddRules inserts rs in one step: either all are added or none.
func (e *Engine) AddRules(rs ...*rules.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.rules.Load()
	names := make(map[string]bool, len(current)+len(rs))
	for _, r := range current {
		names[r.Name()] = true
	}
	for _, r := range rs {
		if r == nil {
			return ErrNilRule
		}
		if names[r.Name()] {
			return fmt.Errorf("%w: '%s'", ErrDuplicateRule, r.Name())
		}
		names[r.Name()] = true
	}

	next := make([]*rules.Rule, 0, len(current)+len(rs))
	next = append(next, current...)
	next = append(next, rs...)
	prioritizeRules(next)
	e.publish(next)
	return nil
}

// RemoveRule removes the rule called name and reports whether it existed.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.rules.Load()
	next := make([]*rules.Rule, 0, len(current))
	for _, r := range current {
		if r.Name() != name {
			next = append(next, r)
		}
	}
	if len(next) == len(current) {
		return false
	}
	e.publish(next)
	return true
}

func (e *Engine) ClearRules() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publish([]*rules.Rule{})
}

func (e *Engine) publish(next []*rules.Rule) {
	e.rules.Store(&next)
	e.metrics.setRules(len(next))
	log.Debug().Str("engine", e.id).Int("rules", len(next)).Msg("Rule list updated")
}

// Rules returns the current rules in execution order.
func (e *Engine) Rules() []*rules.Rule {
	current := *e.rules.Load()
	return append([]*rules.Rule(nil), current...)
}

func (e *Engine) Len() int {
	return len(*e.rules.Load())
}

// Execute runs one forward-chaining pass over f and returns the resulting
// facts. On error the facts reached before the failing rule are returned.
func (e *Engine) Execute(f facts.Facts) (facts.Facts, error) {
	res, err := e.run(f, false)
	return res.Facts, err
}

// ExecuteWithTrace is Execute that also reports which rules fired.
func (e *Engine) ExecuteWithTrace(f facts.Facts) (Result, error) {
	return e.run(f, true)
}

func (e *Engine) run(f facts.Facts, trace bool) (Result, error) {
	start := time.Now()
	snapshot := *e.rules.Load()
	var fired []string

	var err error
	for _, r := range snapshot {
		var ok bool
		ok, err = r.Evaluate(f)
		if err != nil {
			err = &RuleError{Rule: r.Name(), Phase: "condition", Err: err}
			break
		}
		if !ok {
			continue
		}
		log.Debug().Str("rule", r.Name()).Int("priority", r.Priority()).Msg("Rule fired")
		f, err = r.Apply(f)
		if err != nil {
			err = &RuleError{Rule: r.Name(), Phase: "action", Err: err}
			break
		}
		fired = append(fired, r.Name())
		if e.stopOnFirstApplied {
			break
		}
	}

	e.metrics.observeExecution(start, fired, err)
	res := Result{Facts: f, EngineID: e.id, Duration: time.Since(start)}
	if trace {
		res.Fired = fired
		if res.Fired == nil {
			res.Fired = []string{}
		}
	}
	return res, err
}

// prioritizeRules sorts by descending priority; the stable sort keeps
// insertion order among equal priorities.
func prioritizeRules(rs []*rules.Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Priority() > rs[j].Priority()
	})
}
