// Package rex is the embedding API for the rule engine.
//
// A typical application registers its functions and actions, then builds a
// reloadable engine from configuration:
//
//	cfg, err := rex.LoadConfig()
//	engine, err := rex.NewFromConfig(ctx, cfg, rex.ConfigurerFunc(func(fns *rex.Functions, acts *rex.Actions) error {
//		return fns.RegisterFunc("isVIP", func(f rex.Facts) bool { return f.Get("user.type") == "VIP" })
//	}))
//	defer engine.Close()
//	out, err := engine.Execute(rex.NewFacts(map[string]any{"user": user}))
package rex

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/rgehrsitz/rex/internal/builtins"
	"github.com/rgehrsitz/rex/internal/config"
	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/registry"
	"github.com/rgehrsitz/rex/internal/reload"
	"github.com/rgehrsitz/rex/internal/rules"
	"github.com/rgehrsitz/rex/internal/runtime"
)

type (
	Facts         = facts.Facts
	Rule          = rules.Rule
	Result        = runtime.Result
	Engine        = runtime.Engine
	Functions     = registry.Functions
	Actions       = registry.Actions
	Definition    = registry.Definition
	Controller    = reload.Controller
	Option        = reload.Option
	Listener      = reload.Listener
	ListenerFuncs = reload.ListenerFuncs
	Config        = config.Config
	Condition     = rules.Condition
	Action        = rules.Action
	RuleBuilder   = rules.Builder
)

// Operators accepted by Fact.
const (
	Equal              = rules.OperatorEqual
	NotEqual           = rules.OperatorNotEqual
	GreaterThan        = rules.OperatorGreaterThan
	GreaterThanOrEqual = rules.OperatorGreaterThanOrEqual
	LessThan           = rules.OperatorLessThan
	LessThanOrEqual    = rules.OperatorLessThanOrEqual
	Contains           = rules.OperatorContains
	NotContains        = rules.OperatorNotContains
)

// NewRule starts building a rule in code. Add the result to an engine with
// Engine.AddRule.
func NewRule(name string) *RuleBuilder { return rules.New(name) }

func All(conditions ...Condition) Condition { return rules.All(conditions...) }
func Any(conditions ...Condition) Condition { return rules.Any(conditions...) }
func Not(c Condition) Condition             { return rules.Not(c) }
func Always() Condition                     { return rules.Always() }

// Fact compares the fact under key with value using one of the operator
// constants.
func Fact(key, operator string, value any) (Condition, error) {
	return rules.Fact(key, operator, value)
}

// Set returns an action storing value under key.
func Set(key string, value any) Action { return rules.Set(key, value) }

// Do wraps a side effect as an action that leaves facts unchanged.
func Do(fn func(f Facts) error) Action { return rules.Do(fn) }

// LoadConfig reads the REX_* environment variables.
func LoadConfig() (Config, error) {
	return config.Load()
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return config.Default()
}

// NewFacts copies data into an immutable fact set.
func NewFacts(data map[string]any) Facts {
	return facts.New(data)
}

// NewRegistries returns function and action registries holding the
// built-ins.
func NewRegistries() (*Functions, *Actions, error) {
	fns, acts := registry.NewFunctions(), registry.NewActions()
	if err := builtins.Register(fns, acts); err != nil {
		return nil, nil, err
	}
	return fns, acts, nil
}

// Configurer registers application functions and actions before any rules
// are loaded.
type Configurer interface {
	Configure(functions *Functions, actions *Actions) error
}

// Ordered is implemented by configurers that must run before or after
// others. Lower orders run first; configurers without an order count as 0.
type Ordered interface {
	Order() int
}

// ConfigurerFunc adapts a function to Configurer.
type ConfigurerFunc func(functions *Functions, actions *Actions) error

func (f ConfigurerFunc) Configure(functions *Functions, actions *Actions) error {
	return f(functions, actions)
}

type orderedConfigurer struct {
	Configurer
	order int
}

func (c orderedConfigurer) Order() int { return c.order }

// WithOrder gives c an explicit order.
func WithOrder(order int, c Configurer) Configurer {
	return orderedConfigurer{Configurer: c, order: order}
}

func orderOf(c Configurer) int {
	if o, ok := c.(Ordered); ok {
		return o.Order()
	}
	return 0
}

// Configure runs configurers against functions and actions in ascending
// order, keeping the given order among equals.
func Configure(functions *Functions, actions *Actions, configurers ...Configurer) error {
	sorted := append([]Configurer(nil), configurers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return orderOf(sorted[i]) < orderOf(sorted[j])
	})
	for i, c := range sorted {
		log.Debug().Int("order", orderOf(c)).Str("configurer", fmt.Sprintf("%T", c)).Msg("Running configurer")
		if err := c.Configure(functions, actions); err != nil {
			return fmt.Errorf("configurer %d: %w", i, err)
		}
	}
	return nil
}

// New creates a controller with built-ins and the given configurers applied
// but no rules loaded.
func New(configurers []Configurer, opts ...Option) (*Controller, error) {
	fns, acts, err := NewRegistries()
	if err != nil {
		return nil, err
	}
	if err := Configure(fns, acts, configurers...); err != nil {
		return nil, err
	}
	return reload.New(fns, acts, opts...)
}

// NewFromConfig builds a controller from cfg and loads cfg.RulesLocation.
// When the load fails the error is returned if cfg.FailOnLoadError is set;
// otherwise it is logged and the controller starts with no rules.
func NewFromConfig(ctx context.Context, cfg Config, configurers ...Configurer) (*Controller, error) {
	return NewFromConfigWith(ctx, cfg, configurers, nil)
}

// NewFromConfigWith is NewFromConfig with extra controller options, such as
// bundled resources or a metrics registerer. opts are applied after the
// options derived from cfg.
func NewFromConfigWith(ctx context.Context, cfg Config, configurers []Configurer, opts []Option) (*Controller, error) {
	base := []Option{
		reload.WithStopOnFirstApplied(cfg.StopOnFirstApplied),
		reload.WithReloadDebounce(cfg.ReloadDebounce),
		reload.WithReloadWorkers(cfg.ReloadWorkers),
	}
	c, err := New(configurers, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if cfg.RulesLocation == "" {
		return c, nil
	}

	if err := c.Load(ctx, cfg.RulesLocation, cfg.HotReload); err != nil {
		if cfg.FailOnLoadError {
			_ = c.Close()
			return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.RulesLocation, err)
		}
		log.Warn().Err(err).Str("location", cfg.RulesLocation).Msg("Failed to load rules; continuing with an empty rule set")
		return c, nil
	}
	log.Info().Str("location", cfg.RulesLocation).Int("rules", len(c.Rules())).Bool("hot_reload", cfg.HotReload).Msg("Rule engine ready")
	return c, nil
}
