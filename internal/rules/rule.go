// internal/rules/rule.go

package rules

import (
	"errors"
	"fmt"

	"github.com/rgehrsitz/rex/internal/facts"
)

var (
	ErrMissingName      = errors.New("rule name is required")
	ErrMissingCondition = errors.New("rule condition is required")
	ErrNoActions        = errors.New("rule must have at least one action")
)

// Condition decides whether a rule fires for the given facts.
type Condition func(f facts.Facts) (bool, error)

// Action produces the facts that follow a rule firing.
type Action func(f facts.Facts) (facts.Facts, error)

// Rule is an immutable (name, priority, condition, actions) tuple. Build one
// with New.
type Rule struct {
	name          string
	priority      int
	condition     Condition
	actions       []Action
	expression    string
	description   string
	source        string
	line          int
	consumedFacts []string // facts read by the condition
	producedFacts []string // facts written by assignments
}

func (r *Rule) Name() string        { return r.name }
func (r *Rule) Priority() int       { return r.priority }
func (r *Rule) Expression() string  { return r.expression }
func (r *Rule) Description() string { return r.description }
func (r *Rule) Line() int           { return r.line }

// Source is the file the rule was loaded from, empty for rules built in code.
func (r *Rule) Source() string { return r.source }

// ActionCount returns the number of actions the rule runs when it fires.
func (r *Rule) ActionCount() int { return len(r.actions) }

func (r *Rule) ConsumedFacts() []string { return append([]string(nil), r.consumedFacts...) }
func (r *Rule) ProducedFacts() []string { return append([]string(nil), r.producedFacts...) }

// Evaluate runs the rule's condition.
func (r *Rule) Evaluate(f facts.Facts) (bool, error) {
	return r.condition(f)
}

// Apply runs the actions in order, threading facts from one to the next.
// When an action fails the rule's writes are discarded and in is returned.
func (r *Rule) Apply(in facts.Facts) (facts.Facts, error) {
	f := in
	for i, action := range r.actions {
		next, err := action(f)
		if err != nil {
			return in, fmt.Errorf("action %d: %w", i+1, err)
		}
		f = next
	}
	return f, nil
}

func (r *Rule) String() string {
	if r.expression != "" {
		return fmt.Sprintf("%s(priority=%d, when=%s)", r.name, r.priority, r.expression)
	}
	return fmt.Sprintf("%s(priority=%d)", r.name, r.priority)
}

// Builder assembles a Rule. The zero priority is the default.
type Builder struct {
	rule Rule
}

// New starts a rule named name.
func New(name string) *Builder {
	return &Builder{rule: Rule{name: name}}
}

func (b *Builder) Priority(priority int) *Builder {
	b.rule.priority = priority
	return b
}

func (b *Builder) When(condition Condition) *Builder {
	b.rule.condition = condition
	return b
}

// Expression records the source text the condition was compiled from.
func (b *Builder) Expression(src string) *Builder {
	b.rule.expression = src
	return b
}

func (b *Builder) Description(text string) *Builder {
	b.rule.description = text
	return b
}

// Source records where the rule was defined.
func (b *Builder) Source(file string, line int) *Builder {
	b.rule.source = file
	b.rule.line = line
	return b
}

func (b *Builder) Consumes(keys ...string) *Builder {
	b.rule.consumedFacts = append(b.rule.consumedFacts, keys...)
	return b
}

func (b *Builder) Produces(keys ...string) *Builder {
	b.rule.producedFacts = append(b.rule.producedFacts, keys...)
	return b
}

// Then appends actions; they run in the order given.
func (b *Builder) Then(actions ...Action) *Builder {
	b.rule.actions = append(b.rule.actions, actions...)
	return b
}

// Build validates and returns the rule. The builder may be reused; later
// changes do not affect rules already built.
func (b *Builder) Build() (*Rule, error) {
	switch {
	case b.rule.name == "":
		return nil, ErrMissingName
	case b.rule.condition == nil:
		return nil, fmt.Errorf("rule '%s': %w", b.rule.name, ErrMissingCondition)
	case len(b.rule.actions) == 0:
		return nil, fmt.Errorf("rule '%s': %w", b.rule.name, ErrNoActions)
	}
	for i, action := range b.rule.actions {
		if action == nil {
			return nil, fmt.Errorf("rule '%s': action %d is nil", b.rule.name, i+1)
		}
	}
	r := b.rule
	r.actions = append([]Action(nil), b.rule.actions...)
	r.consumedFacts = append([]string(nil), b.rule.consumedFacts...)
	r.producedFacts = append([]string(nil), b.rule.producedFacts...)
	return &r, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Rule {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}
