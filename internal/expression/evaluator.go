package expression

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rgehrsitz/rex/internal/facts"
)

// DefaultCacheSize is the number of compiled expressions an Evaluator keeps.
const DefaultCacheSize = 256

// Evaluator compiles expression source on demand and caches the resulting
// trees, keyed by source text.
type Evaluator struct {
	functions Invoker
	cache     *lru.Cache[string, Node]
}

// NewEvaluator returns an Evaluator bound to functions, which may be nil when
// expressions never call functions. A size <= 0 selects DefaultCacheSize.
func NewEvaluator(functions Invoker, size int) (*Evaluator, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Node](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression cache: %w", err)
	}
	return &Evaluator{functions: functions, cache: cache}, nil
}

// Parse returns the compiled tree for src, from the cache when possible.
func (e *Evaluator) Parse(src string) (Node, error) {
	if n, ok := e.cache.Get(src); ok {
		return n, nil
	}
	n, err := Parse(src)
	if err != nil {
		return nil, err
	}
	e.cache.Add(src, n)
	return n, nil
}

// Evaluate compiles src and evaluates it against f. The result is nil,
// float64, string, bool or an opaque value taken from the facts or returned
// by a function.
func (e *Evaluator) Evaluate(src string, f facts.Facts) (any, error) {
	n, err := e.Parse(src)
	if err != nil {
		return nil, err
	}
	v, err := n.Eval(Env{Facts: f, Functions: e.functions})
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// EvaluateBool is Evaluate for conditions; a non-boolean result is an error.
func (e *Evaluator) EvaluateBool(src string, f facts.Facts) (bool, error) {
	n, err := e.Parse(src)
	if err != nil {
		return false, err
	}
	return Truth(n, Env{Facts: f, Functions: e.functions})
}

// Truth evaluates n as a condition.
func Truth(n Node, env Env) (bool, error) {
	v, err := n.Eval(env)
	if err != nil {
		return false, err
	}
	if v.Kind() != KindBool {
		return false, fmt.Errorf("condition %s evaluated to %s, expected bool", n, v.Kind())
	}
	return v.Bool(), nil
}

// Cached returns the number of compiled expressions held.
func (e *Evaluator) Cached() int {
	return e.cache.Len()
}

// Purge drops every cached expression.
func (e *Evaluator) Purge() {
	e.cache.Purge()
}
