package registry

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicate         = errors.New("already registered")
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrFunctionNotFound  = errors.New("function not found")
	ErrActionNotFound    = errors.New("action not found")
)

// NotFoundError is returned when a name has no registration. Rule and Line
// are filled in when the lookup happened while loading a rule.
type NotFoundError struct {
	Kind Kind
	Name string
	Rule string
	Line int
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
	if e.Rule != "" {
		msg += fmt.Sprintf(" in rule '%s'", e.Rule)
	}
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	return msg
}

// Is matches ErrFunctionNotFound or ErrActionNotFound according to Kind.
func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrFunctionNotFound:
		return e.Kind == KindFunction
	case ErrActionNotFound:
		return e.Kind == KindAction
	}
	return false
}

// InvocationError reports a call that could not be made or that panicked:
// wrong argument count, an argument of the wrong type, or a runtime panic.
type InvocationError struct {
	Kind Kind
	Name string
	Msg  string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s '%s': %s", e.Kind, e.Name, e.Msg)
}
