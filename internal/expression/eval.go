package expression

func (n *Literal) Eval(Env) (Value, error) {
	return n.Value, nil
}

// Eval reads the fact path; a missing path is null.
func (n *Variable) Eval(env Env) (Value, error) {
	return FromAny(env.Facts.Get(n.Path)), nil
}

func (n *Unary) Eval(env Env) (Value, error) {
	v, err := n.Operand.Eval(env)
	if err != nil {
		return Null, err
	}
	switch n.Op {
	case OpNot:
		if v.Kind() == KindBool {
			return BoolValue(!v.Bool()), nil
		}
	case OpSub:
		if v.Kind() == KindNumber {
			return NumberValue(-v.Number()), nil
		}
	case OpAdd:
		if v.Kind() == KindNumber {
			return v, nil
		}
	}
	return Null, &TypeError{Op: n.Op, Right: v.Kind(), Unary: true}
}

func (n *Binary) Eval(env Env) (Value, error) {
	left, err := n.Left.Eval(env)
	if err != nil {
		return Null, err
	}

	if n.Op == OpAnd || n.Op == OpOr {
		if left.Kind() != KindBool {
			return Null, &TypeError{Op: n.Op, Left: left.Kind(), Right: KindBool}
		}
		if n.Op == OpAnd && !left.Bool() || n.Op == OpOr && left.Bool() {
			return left, nil
		}
		right, err := n.Right.Eval(env)
		if err != nil {
			return Null, err
		}
		if right.Kind() != KindBool {
			return Null, &TypeError{Op: n.Op, Left: left.Kind(), Right: right.Kind()}
		}
		return right, nil
	}

	right, err := n.Right.Eval(env)
	if err != nil {
		return Null, err
	}
	return applyBinary(n.Op, left, right)
}

func applyBinary(op Operator, left, right Value) (Value, error) {
	mismatch := &TypeError{Op: op, Left: left.Kind(), Right: right.Kind()}
	numeric := left.Kind() == KindNumber && right.Kind() == KindNumber

	switch op {
	case OpEq:
		return BoolValue(left.Equal(right)), nil
	case OpNotEq:
		return BoolValue(!left.Equal(right)), nil

	case OpLt, OpGt, OpLte, OpGte:
		c, ok := left.Compare(right)
		if !ok {
			return Null, mismatch
		}
		switch op {
		case OpLt:
			return BoolValue(c < 0), nil
		case OpGt:
			return BoolValue(c > 0), nil
		case OpLte:
			return BoolValue(c <= 0), nil
		default:
			return BoolValue(c >= 0), nil
		}

	case OpAdd:
		if numeric {
			return NumberValue(left.Number() + right.Number()), nil
		}
		if left.Kind() == KindString || right.Kind() == KindString {
			return StringValue(left.String() + right.String()), nil
		}
		return Null, mismatch

	case OpSub, OpMul, OpDiv:
		if !numeric {
			return Null, mismatch
		}
		a, b := left.Number(), right.Number()
		switch op {
		case OpSub:
			return NumberValue(a - b), nil
		case OpMul:
			return NumberValue(a * b), nil
		}
		if b == 0 {
			return Null, ErrDivisionByZero
		}
		return NumberValue(a / b), nil
	}
	return Null, mismatch
}

// Eval evaluates the arguments left to right and invokes the function.
func (n *Call) Eval(env Env) (Value, error) {
	args := make([]any, len(n.Args))
	for i, arg := range n.Args {
		v, err := arg.Eval(env)
		if err != nil {
			return Null, err
		}
		args[i] = v.Interface()
	}
	if env.Functions == nil {
		return Null, &CallError{Name: n.Name, Err: ErrNoFunctions}
	}
	out, err := env.Functions.Call(n.Name, env.Facts, args)
	if err != nil {
		return Null, &CallError{Name: n.Name, Err: err}
	}
	return FromAny(out), nil
}
