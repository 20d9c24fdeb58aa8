package expression

import (
	"errors"
	"fmt"
)

var (
	// ErrDivisionByZero is returned when the right operand of '/' is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNoFunctions is returned for a function call evaluated without an Invoker.
	ErrNoFunctions = errors.New("no function registry configured")
)

// SyntaxError reports a lexing or parsing failure at a byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

func syntaxErrorf(pos int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// TypeError reports an operator applied to operands of the wrong kind. Left is
// KindNull for unary operators.
type TypeError struct {
	Op    Operator
	Left  Kind
	Right Kind
	Unary bool
}

func (e *TypeError) Error() string {
	if e.Unary {
		return fmt.Sprintf("operator '%s' not applicable to %s", e.Op, e.Right)
	}
	return fmt.Sprintf("operator '%s' not applicable to %s and %s", e.Op, e.Left, e.Right)
}

// CallError wraps a failure raised while invoking a registered function.
type CallError struct {
	Name string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("function '%s': %v", e.Name, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
