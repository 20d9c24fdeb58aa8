package loader

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rgehrsitz/rex/internal/expression"
	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/registry"
	"github.com/rgehrsitz/rex/internal/rules"
)

var (
	factKeyPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// compiledAction is one "then" entry. key is set for assignments.
type compiledAction struct {
	key string
	run rules.Action
}

// parseAction classifies s as an assignment ("key = expr") or an action call
// ("name(args...)").
func (l *Loader) parseAction(s string) (compiledAction, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return compiledAction{}, errors.New("action cannot be empty")
	}

	if idx := findAssignment(s); idx >= 0 {
		return l.parseAssignment(s, idx)
	}
	return l.parseCall(s)
}

func (l *Loader) parseAssignment(s string, idx int) (compiledAction, error) {
	key := strings.TrimSpace(s[:idx])
	valueSrc := strings.TrimSpace(s[idx+1:])
	if key == "" {
		return compiledAction{}, errors.New("assignment key cannot be empty")
	}
	if !factKeyPattern.MatchString(key) {
		return compiledAction{}, fmt.Errorf("assignment key '%s' is not a fact path", key)
	}
	if valueSrc == "" {
		return compiledAction{}, errors.New("assignment value cannot be empty")
	}
	value, err := l.compile(valueSrc)
	if err != nil {
		return compiledAction{}, fmt.Errorf("invalid assignment value: %w", err)
	}

	return compiledAction{
		key: key,
		run: func(f facts.Facts) (facts.Facts, error) {
			v, err := value.Eval(expression.Env{Facts: f, Functions: l.functions})
			if err != nil {
				return f, fmt.Errorf("%s: %w", key, err)
			}
			return f.Put(key, v.Interface()), nil
		},
	}, nil
}

func (l *Loader) parseCall(s string) (compiledAction, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return compiledAction{}, errors.New("expected assignment 'key = value' or call 'action(args)'")
	}
	name := strings.TrimSpace(s[:open])
	if !identifierPattern.MatchString(name) {
		return compiledAction{}, fmt.Errorf("invalid action name '%s'", name)
	}
	if !l.actions.Has(name) {
		return compiledAction{}, &registry.NotFoundError{Kind: registry.KindAction, Name: name}
	}

	var args []expression.Node
	if argSrc := strings.TrimSpace(s[open+1 : len(s)-1]); argSrc != "" {
		for i, part := range splitArguments(argSrc) {
			arg, err := l.compile(part)
			if err != nil {
				return compiledAction{}, fmt.Errorf("argument %d: %w", i+1, err)
			}
			args = append(args, arg)
		}
	}

	return compiledAction{
		run: func(f facts.Facts) (facts.Facts, error) {
			env := expression.Env{Facts: f, Functions: l.functions}
			values := make([]any, len(args))
			for i, arg := range args {
				v, err := arg.Eval(env)
				if err != nil {
					return f, fmt.Errorf("%s argument %d: %w", name, i+1, err)
				}
				values[i] = v.Interface()
			}
			return l.actions.Invoke(name, f, values)
		},
	}, nil
}

// findAssignment returns the index of the first '=' outside quotes and
// parentheses that is not part of ==, !=, <= or >=, or -1.
func findAssignment(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.IndexByte("!<>=", s[i-1]) >= 0 {
				continue
			}
			return i
		}
	}
	return -1
}

// splitArguments splits on commas at nesting depth zero, ignoring commas
// inside quotes, parentheses and brackets.
func splitArguments(s string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			current.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				current.WriteByte(s[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(current.String()))
				current.Reset()
				continue
			}
		}
		current.WriteByte(c)
	}
	parts = append(parts, strings.TrimSpace(current.String()))
	return parts
}
