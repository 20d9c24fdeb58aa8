package rules

import "github.com/rgehrsitz/rex/internal/facts"

// Set returns an action that stores value under key.
func Set(key string, value any) Action {
	return func(f facts.Facts) (facts.Facts, error) {
		return f.Put(key, value), nil
	}
}

// Do wraps a side-effecting function as an action that leaves facts unchanged.
func Do(fn func(f facts.Facts) error) Action {
	return func(f facts.Facts) (facts.Facts, error) {
		return f, fn(f)
	}
}
