package registry

import (
	"fmt"
	"math"
	"reflect"

	"github.com/rgehrsitz/rex/internal/facts"
)

// Functions holds the callables available to expressions. It implements
// expression.Invoker.
type Functions struct {
	Registry
}

func NewFunctions() *Functions {
	f := &Functions{}
	f.init(KindFunction)
	return f
}

// Call invokes the named function with args, prepending f when the function
// takes facts. A trailing error result is returned as the call's error.
func (r *Functions) Call(name string, f facts.Facts, args []any) (any, error) {
	md, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	out, err := invoke(KindFunction, md, f, args)
	if err != nil {
		return nil, err
	}
	if errVal := trailingError(md, out); errVal != nil {
		return nil, errVal
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// Actions holds the callables that rule consequences invoke.
type Actions struct {
	Registry
}

func NewActions() *Actions {
	a := &Actions{}
	a.init(KindAction)
	return a
}

// Invoke runs the named action and returns the facts that follow it. An action
// returning facts.Facts replaces the context; any other result, or none,
// leaves f unchanged. A non-nil trailing error aborts with that error.
func (r *Actions) Invoke(name string, f facts.Facts, args []any) (facts.Facts, error) {
	md, err := r.Get(name)
	if err != nil {
		return f, err
	}
	out, err := invoke(KindAction, md, f, args)
	if err != nil {
		return f, err
	}
	if errVal := trailingError(md, out); errVal != nil {
		return f, errVal
	}
	for _, v := range out {
		if next, ok := v.Interface().(facts.Facts); ok {
			return next, nil
		}
	}
	return f, nil
}

func trailingError(md Metadata, out []reflect.Value) error {
	if len(md.Returns) == 0 || md.Returns[len(md.Returns)-1] != errorType {
		return nil
	}
	last := out[len(out)-1]
	if last.IsNil() {
		return nil
	}
	return last.Interface().(error)
}

// invoke adapts args to md's declared parameters and calls it. Panics in the
// callable are reported as *InvocationError.
func invoke(kind Kind, md Metadata, f facts.Facts, args []any) (out []reflect.Value, err error) {
	in, err := adaptArgs(kind, md, args)
	if err != nil {
		return nil, err
	}
	if md.WantsFacts {
		in = append([]reflect.Value{reflect.ValueOf(f)}, in...)
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &InvocationError{Kind: kind, Name: md.Name, Msg: fmt.Sprintf("panic: %v", p)}
		}
	}()
	return md.fn.Call(in), nil
}

func adaptArgs(kind Kind, md Metadata, args []any) ([]reflect.Value, error) {
	fixed := len(md.Params)
	if md.Variadic {
		fixed--
	}
	if len(args) < fixed || !md.Variadic && len(args) > fixed {
		want := fmt.Sprintf("%d", fixed)
		if md.Variadic {
			want = fmt.Sprintf("at least %d", fixed)
		}
		return nil, &InvocationError{Kind: kind, Name: md.Name, Msg: fmt.Sprintf("expected %s arguments, got %d", want, len(args))}
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var t reflect.Type
		if i < fixed {
			t = md.Params[i]
		} else {
			t = md.Params[fixed].Elem()
		}
		v, err := convertArg(arg, t)
		if err != nil {
			return nil, &InvocationError{Kind: kind, Name: md.Name, Msg: fmt.Sprintf("argument %d: %v", i+1, err)}
		}
		in[i] = v
	}
	return in, nil
}

// convertArg turns an evaluated argument into a value of type t. Numbers
// convert to any numeric kind as long as no precision is lost.
func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use null as %s", t)
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}

	if isNumberKind(v.Kind()) && isNumberKind(t.Kind()) {
		return convertNumber(v, t)
	}
	if v.Kind() == t.Kind() && v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
}

func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	f := v.Convert(reflect.TypeOf(float64(0))).Float()
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
		}
		out.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
		}
		out.SetInt(int64(f))
	default:
		if f != math.Trunc(f) || f < 0 || math.IsInf(f, 0) {
			return reflect.Value{}, fmt.Errorf("%v is not a non-negative integer", f)
		}
		if f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
		}
		out.SetUint(uint64(f))
	}
	return out, nil
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
