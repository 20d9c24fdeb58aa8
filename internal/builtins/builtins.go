// Package builtins provides the standard functions and actions available to
// rule documents.
//
// Functions: len, contains, startsWith, endsWith, lower, upper, trim, min,
// max, abs, round, roundTo, coalesce.
// Actions: log, set, increment, remove.
package builtins

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/registry"
)

// Functions returns the built-in expression functions.
func Functions() registry.Provider {
	return registry.ProviderFunc(func() []registry.Definition {
		return []registry.Definition{
			{Name: "len", Func: length},
			{Name: "contains", Func: contains},
			{Name: "startsWith", Func: strings.HasPrefix},
			{Name: "endsWith", Func: strings.HasSuffix},
			{Name: "lower", Func: strings.ToLower},
			{Name: "upper", Func: strings.ToUpper},
			{Name: "trim", Func: strings.TrimSpace},
			{Name: "min", Func: minimum},
			{Name: "max", Func: maximum},
			{Name: "abs", Func: math.Abs},
			{Name: "round", Func: math.Round},
			{Name: "roundTo", Func: roundTo},
			{Name: "coalesce", Func: coalesce},
		}
	})
}

// Actions returns the built-in actions.
func Actions() registry.Provider {
	return registry.ProviderFunc(func() []registry.Definition {
		return []registry.Definition{
			{Name: "log", Func: logMessage},
			{Name: "set", Func: set},
			{Name: "increment", Func: increment},
			{Name: "remove", Func: remove},
		}
	})
}

// Register adds the built-ins to functions and actions. Nothing is added to a
// registry that already holds one of the names.
func Register(functions *registry.Functions, actions *registry.Actions) error {
	if err := functions.RegisterFrom(Functions()); err != nil {
		return fmt.Errorf("failed to register built-in functions: %w", err)
	}
	if err := actions.RegisterFrom(Actions()); err != nil {
		return fmt.Errorf("failed to register built-in actions: %w", err)
	}
	return nil
}

// length counts the characters of a string or the elements of a slice or
// map. null has length 0.
func length(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		return len([]rune(s)), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return 0, fmt.Errorf("len: unsupported type %T", v)
}

// contains reports whether a string holds a substring or a slice holds an
// element.
func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case nil:
		return false, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("contains: cannot search a string for %T", item)
		}
		return strings.Contains(c, s), nil
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false, fmt.Errorf("contains: unsupported type %T", container)
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(rv.Index(i).Interface(), item) {
			return true, nil
		}
	}
	return false, nil
}

// equal compares numbers by value regardless of their Go type.
func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

var errNoArguments = errors.New("at least one argument is required")

func minimum(xs ...float64) (float64, error) {
	if len(xs) == 0 {
		return 0, errNoArguments
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m, nil
}

func maximum(xs ...float64) (float64, error) {
	if len(xs) == 0 {
		return 0, errNoArguments
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m, nil
}

// roundTo rounds x half away from zero to the given number of decimal places.
func roundTo(x float64, places int) (float64, error) {
	if places < 0 || places > 15 {
		return 0, fmt.Errorf("roundTo: places must be between 0 and 15, got %d", places)
	}
	p := math.Pow10(places)
	return math.Round(x*p) / p, nil
}

// coalesce returns its first non-null argument.
func coalesce(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// logMessage writes message at level ("debug", "info", "warn", "error").
func logMessage(level, message string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("log: unknown level '%s'", level)
	}
	log.WithLevel(lvl).Str("source", "rule").Msg(message)
	return nil
}

func set(f facts.Facts, key string, value any) facts.Facts {
	return f.Put(key, value)
}

// increment adds by to the number at key. A missing key counts as zero.
func increment(f facts.Facts, key string, by float64) (facts.Facts, error) {
	current := f.Get(key)
	if current == nil {
		return f.Put(key, by), nil
	}
	n, ok := toFloat(current)
	if !ok {
		return f, fmt.Errorf("increment: '%s' is %T, not a number", key, current)
	}
	return f.Put(key, n+by), nil
}

// remove drops key. A nested key is set to null instead.
func remove(f facts.Facts, key string) facts.Facts {
	if strings.Contains(key, ".") {
		return f.Put(key, nil)
	}
	data := f.AsMap()
	delete(data, key)
	return facts.New(data)
}
