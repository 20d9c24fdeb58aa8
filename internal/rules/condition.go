// internal/rules/condition.go

package rules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/rgehrsitz/rex/internal/expression"
	"github.com/rgehrsitz/rex/internal/facts"
)

const (
	OperatorEqual              = "equal"
	OperatorNotEqual           = "notEqual"
	OperatorGreaterThan        = "greaterThan"
	OperatorGreaterThanOrEqual = "greaterThanOrEqual"
	OperatorLessThan           = "lessThan"
	OperatorLessThanOrEqual    = "lessThanOrEqual"
	OperatorContains           = "contains"
	OperatorNotContains        = "notContains"
)

// All is true when every condition is true. It stops at the first false.
func All(conditions ...Condition) Condition {
	return func(f facts.Facts) (bool, error) {
		for _, c := range conditions {
			ok, err := c(f)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Any is true when at least one condition is true. It stops at the first true.
func Any(conditions ...Condition) Condition {
	return func(f facts.Facts) (bool, error) {
		for _, c := range conditions {
			ok, err := c(f)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func Not(c Condition) Condition {
	return func(f facts.Facts) (bool, error) {
		ok, err := c(f)
		return !ok && err == nil, err
	}
}

// Always fires unconditionally.
func Always() Condition {
	return func(facts.Facts) (bool, error) { return true, nil }
}

// Fact compares the fact under key with value using one of the named
// operators. Numbers compare across widths; a missing fact is null.
func Fact(key, operator string, value any) (Condition, error) {
	want := expression.FromAny(value)
	var test func(got expression.Value) (bool, error)

	switch operator {
	case OperatorEqual:
		test = func(got expression.Value) (bool, error) { return got.Equal(want), nil }
	case OperatorNotEqual:
		test = func(got expression.Value) (bool, error) { return !got.Equal(want), nil }
	case OperatorGreaterThan, OperatorGreaterThanOrEqual, OperatorLessThan, OperatorLessThanOrEqual:
		test = func(got expression.Value) (bool, error) {
			c, ok := got.Compare(want)
			if !ok {
				return false, fmt.Errorf("fact '%s': cannot compare %s with %s", key, got.Kind(), want.Kind())
			}
			switch operator {
			case OperatorGreaterThan:
				return c > 0, nil
			case OperatorGreaterThanOrEqual:
				return c >= 0, nil
			case OperatorLessThan:
				return c < 0, nil
			}
			return c <= 0, nil
		}
	case OperatorContains, OperatorNotContains:
		negate := operator == OperatorNotContains
		test = func(got expression.Value) (bool, error) {
			found, err := contains(got, want)
			if err != nil {
				return false, fmt.Errorf("fact '%s': %w", key, err)
			}
			return found != negate, nil
		}
	default:
		return nil, fmt.Errorf("unsupported operator '%s'", operator)
	}

	return func(f facts.Facts) (bool, error) {
		return test(expression.FromAny(f.Get(key)))
	}, nil
}

// contains reports substring containment for strings and element membership
// for slices and arrays.
func contains(haystack, needle expression.Value) (bool, error) {
	switch haystack.Kind() {
	case expression.KindNull:
		return false, nil
	case expression.KindString:
		if needle.Kind() != expression.KindString {
			return false, fmt.Errorf("cannot search string for %s", needle.Kind())
		}
		return strings.Contains(haystack.Str(), needle.Str()), nil
	case expression.KindOpaque:
		v := reflect.ValueOf(haystack.Interface())
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			break
		}
		for i := 0; i < v.Len(); i++ {
			if expression.FromAny(v.Index(i).Interface()).Equal(needle) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("'%s' does not support %s", OperatorContains, haystack.Kind())
}
