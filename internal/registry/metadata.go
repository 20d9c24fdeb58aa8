package registry

import (
	"fmt"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/rgehrsitz/rex/internal/facts"
)

// Kind distinguishes the two registries in errors and logs.
type Kind string

const (
	KindFunction Kind = "function"
	KindAction   Kind = "action"
)

var (
	factsType = reflect.TypeOf(facts.Facts{})
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// Metadata describes one registered callable. Params excludes the leading
// facts.Facts parameter when WantsFacts is set.
type Metadata struct {
	Name       string
	Func       any
	Params     []reflect.Type
	Returns    []reflect.Type
	WantsFacts bool
	Variadic   bool

	fn reflect.Value
}

// Definition is a (name, callable) pair for bulk registration.
type Definition struct {
	Name string
	Func any
}

// Provider pre-enumerates the callables it contributes.
type Provider interface {
	Definitions() []Definition
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func() []Definition

func (f ProviderFunc) Definitions() []Definition { return f() }

// NewMetadata derives the signature of fn by reflection.
func NewMetadata(name string, fn any) (Metadata, error) {
	if name == "" {
		return Metadata{}, fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return Metadata{}, fmt.Errorf("%w: '%s' is %T, not a function", ErrInvalidDefinition, name, fn)
	}
	t := v.Type()

	md := Metadata{Name: name, Func: fn, Variadic: t.IsVariadic(), fn: v}
	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in == factsType {
			md.WantsFacts = true
			continue
		}
		md.Params = append(md.Params, in)
	}
	for i := 0; i < t.NumOut(); i++ {
		md.Returns = append(md.Returns, t.Out(i))
	}
	return md, nil
}

// check verifies that explicitly supplied signature fields agree with the
// callable and fills in whatever was left empty.
func (md Metadata) check(kind Kind, name string) (Metadata, error) {
	derived, err := NewMetadata(name, md.Func)
	if err != nil {
		return Metadata{}, err
	}
	if md.Params != nil && !sameTypes(md.Params, derived.Params) {
		return Metadata{}, fmt.Errorf("%w: declared parameters of '%s' do not match %s", ErrInvalidDefinition, name, derived.fn.Type())
	}
	if md.Returns != nil && !sameTypes(md.Returns, derived.Returns) {
		return Metadata{}, fmt.Errorf("%w: declared results of '%s' do not match %s", ErrInvalidDefinition, name, derived.fn.Type())
	}
	if md.WantsFacts && !derived.WantsFacts {
		return Metadata{}, fmt.Errorf("%w: '%s' declares a facts parameter it does not take", ErrInvalidDefinition, name)
	}
	if err := checkReturns(kind, name, derived.Returns); err != nil {
		return Metadata{}, err
	}
	return derived, nil
}

// checkReturns enforces the result shapes each registry understands. A
// function yields a value, optionally followed by an error. An action may
// also yield nothing or only an error.
func checkReturns(kind Kind, name string, returns []reflect.Type) error {
	switch len(returns) {
	case 0:
		if kind == KindAction {
			return nil
		}
	case 1:
		if kind == KindAction || returns[0] != errorType {
			return nil
		}
	case 2:
		if returns[1] == errorType && returns[0] != errorType {
			return nil
		}
	}
	return fmt.Errorf("%w: %s '%s' has unsupported results %v", ErrInvalidDefinition, kind, name, returns)
}

func sameTypes(a, b []reflect.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Methods enumerates the exported methods of receiver as definitions named
// with a lower-case first letter: a method Discount becomes "discount".
func Methods(receiver any) []Definition {
	v := reflect.ValueOf(receiver)
	t := v.Type()
	defs := make([]Definition, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		defs = append(defs, Definition{Name: lowerFirst(m.Name), Func: v.Method(i).Interface()})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
