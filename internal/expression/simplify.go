package expression

// Simplify returns n with constant subexpressions precomputed. An operator
// whose operands are all literals is evaluated once and replaced by its
// result, and && or || whose literal left operand decides the outcome is
// replaced by that operand. A constant subtree that fails to evaluate, such
// as 1 / 0, is kept so the error is still reported when the expression runs.
// Calls are never folded.
func Simplify(n Node) Node {
	switch n := n.(type) {
	case *Unary:
		u := &Unary{Op: n.Op, Operand: Simplify(n.Operand)}
		if isLiteral(u.Operand) {
			return fold(u)
		}
		return u

	case *Binary:
		b := &Binary{Op: n.Op, Left: Simplify(n.Left), Right: Simplify(n.Right)}
		l, ok := b.Left.(*Literal)
		if !ok {
			return b
		}
		if l.Value.Kind() == KindBool {
			if (b.Op == OpAnd && !l.Value.Bool()) || (b.Op == OpOr && l.Value.Bool()) {
				return l
			}
		}
		if isLiteral(b.Right) {
			return fold(b)
		}
		return b

	case *Call:
		c := &Call{Name: n.Name, Args: make([]Node, len(n.Args))}
		for i, arg := range n.Args {
			c.Args[i] = Simplify(arg)
		}
		return c
	}
	return n
}

func isLiteral(n Node) bool {
	_, ok := n.(*Literal)
	return ok
}

func fold(n Node) Node {
	v, err := n.Eval(Env{})
	if err != nil {
		return n
	}
	return &Literal{Value: v}
}
