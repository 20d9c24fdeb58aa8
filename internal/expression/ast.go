package expression

import (
	"strings"

	"github.com/rgehrsitz/rex/internal/facts"
)

// Operator is the source spelling of a unary or binary operator.
type Operator string

const (
	OpAnd   Operator = "&&"
	OpOr    Operator = "||"
	OpNot   Operator = "!"
	OpEq    Operator = "=="
	OpNotEq Operator = "!="
	OpLt    Operator = "<"
	OpGt    Operator = ">"
	OpLte   Operator = "<="
	OpGte   Operator = ">="
	OpAdd   Operator = "+"
	OpSub   Operator = "-"
	OpMul   Operator = "*"
	OpDiv   Operator = "/"
)

// Invoker calls registered functions by name. The evaluator passes the live
// facts along so the implementation can prepend them when the function asks
// for them.
type Invoker interface {
	Call(name string, f facts.Facts, args []any) (any, error)
}

// Env is what a Node is evaluated against.
type Env struct {
	Facts     facts.Facts
	Functions Invoker
}

// Node is a compiled expression. Nodes are immutable and safe for concurrent
// evaluation. String renders canonical source that parses back to an equal
// tree.
type Node interface {
	Eval(env Env) (Value, error)
	String() string
}

type Literal struct {
	Value Value
}

type Variable struct {
	Path string
}

type Unary struct {
	Op      Operator
	Operand Node
}

type Binary struct {
	Op    Operator
	Left  Node
	Right Node
}

type Call struct {
	Name string
	Args []Node
}

func (n *Literal) String() string {
	switch n.Value.Kind() {
	case KindString:
		return quote(n.Value.Str())
	case KindNumber:
		return formatNumber(n.Value.Number())
	}
	return n.Value.String()
}

func (n *Variable) String() string {
	return n.Path
}

func (n *Unary) String() string {
	return string(n.Op) + n.Operand.String()
}

func (n *Binary) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)

func quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}

// FunctionNames returns the distinct function names called anywhere in n, in
// first-appearance order.
func FunctionNames(n Node) []string {
	var names []string
	seen := make(map[string]bool)
	Walk(n, func(node Node) {
		if c, ok := node.(*Call); ok && !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	})
	return names
}

// Variables returns the distinct fact paths read anywhere in n.
func Variables(n Node) []string {
	var paths []string
	seen := make(map[string]bool)
	Walk(n, func(node Node) {
		if v, ok := node.(*Variable); ok && !seen[v.Path] {
			seen[v.Path] = true
			paths = append(paths, v.Path)
		}
	})
	return paths
}

// Walk visits n and its children depth-first, parents before children.
func Walk(n Node, visit func(Node)) {
	if n == nil {
		return
	}
	visit(n)
	switch x := n.(type) {
	case *Unary:
		Walk(x.Operand, visit)
	case *Binary:
		Walk(x.Left, visit)
		Walk(x.Right, visit)
	case *Call:
		for _, arg := range x.Args {
			Walk(arg, visit)
		}
	}
}

// Equal reports whether two trees have the same shape and values.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.Value.Kind() == y.Value.Kind() && x.Value.Equal(y.Value)
	case *Variable:
		y, ok := b.(*Variable)
		return ok && x.Path == y.Path
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Op == y.Op && Equal(x.Operand, y.Operand)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Name != y.Name || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}
