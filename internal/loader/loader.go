// Package loader compiles YAML rule documents into rules.
//
// A document has a top-level "rules" sequence. Each entry has a name, an
// optional integer priority, a "when" expression and a non-empty "then" list:
//
//	rules:
//	  - name: vip-discount
//	    priority: 10
//	    when: customer.vip && cart.total > 100
//	    then:
//	      - discount.percent = 15
//	      - notify(customer.email, "VIP discount applied")
//
// Every expression is compiled and every function and action reference is
// resolved at load time, so a document either loads completely or fails.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/rgehrsitz/rex/internal/expression"
	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/registry"
	"github.com/rgehrsitz/rex/internal/rules"
)

// Loader turns rule documents into rules bound to a pair of registries.
type Loader struct {
	functions *registry.Functions
	actions   *registry.Actions
}

// New returns a Loader resolving names against functions and actions. Nil
// registries are treated as empty.
func New(functions *registry.Functions, actions *registry.Actions) *Loader {
	if functions == nil {
		functions = registry.NewFunctions()
	}
	if actions == nil {
		actions = registry.NewActions()
	}
	return &Loader{functions: functions, actions: actions}
}

// Load reads a whole document from r.
func (l *Loader) Load(r io.Reader) ([]*rules.Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return l.LoadBytes(data, "")
}

// LoadBytes parses data. source names the document in errors and on the
// resulting rules; it may be empty.
func (l *Loader) LoadBytes(data []byte, source string) ([]*rules.Rule, error) {
	loaded, err := l.parseDocument(data, source)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.File == "" {
			pe.File = source
		}
		return nil, err
	}
	log.Debug().Str("source", source).Int("rules", len(loaded)).Msg("Parsed rule document")
	return loaded, nil
}

func (l *Loader) parseDocument(data []byte, source string) ([]*rules.Rule, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Msg: "document must contain a 'rules' key"}
		}
		return nil, &ParseError{Msg: "invalid YAML", Err: err}
	}
	if len(doc.Content) == 0 {
		return nil, &ParseError{Msg: "document must contain a 'rules' key"}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: root.Line, Msg: "document must be a mapping with a 'rules' key"}
	}
	seq := mappingValue(root, "rules")
	if seq == nil {
		return nil, &ParseError{Line: root.Line, Msg: "document must contain a 'rules' key"}
	}
	if isNull(seq) {
		return []*rules.Rule{}, nil
	}
	if seq.Kind != yaml.SequenceNode {
		return nil, &ParseError{Line: seq.Line, Msg: "'rules' must be a sequence"}
	}

	loaded := make([]*rules.Rule, 0, len(seq.Content))
	seen := make(map[string]int, len(seq.Content))
	for _, entry := range seq.Content {
		r, err := l.parseRule(entry, source)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[r.Name()]; dup {
			return nil, &ParseError{Rule: r.Name(), Line: entry.Line, Msg: fmt.Sprintf("duplicate rule name (first defined on line %d)", first)}
		}
		seen[r.Name()] = entry.Line
		loaded = append(loaded, r)
	}
	return loaded, nil
}

func (l *Loader) parseRule(entry *yaml.Node, source string) (*rules.Rule, error) {
	line := entry.Line
	if entry.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: line, Msg: "rule entry must be a mapping"}
	}

	nameNode := mappingValue(entry, "name")
	if nameNode == nil || nameNode.Kind != yaml.ScalarNode || isNull(nameNode) || strings.TrimSpace(nameNode.Value) == "" {
		return nil, &ParseError{Line: line, Msg: "rule name is required"}
	}
	name := strings.TrimSpace(nameNode.Value)
	fail := func(err error, format string, args ...any) error {
		return &ParseError{Rule: name, Line: line, Msg: fmt.Sprintf(format, args...), Err: err}
	}

	for i := 0; i+1 < len(entry.Content); i += 2 {
		switch key := entry.Content[i].Value; key {
		case "name", "priority", "when", "then", "description":
		default:
			log.Warn().Str("rule", name).Int("line", entry.Content[i].Line).Str("field", key).Msg("Ignoring unknown rule field")
		}
	}

	priority, err := parsePriority(mappingValue(entry, "priority"))
	if err != nil {
		return nil, fail(nil, "%v", err)
	}

	whenNode := mappingValue(entry, "when")
	if whenNode == nil || whenNode.Kind != yaml.ScalarNode || isNull(whenNode) || strings.TrimSpace(whenNode.Value) == "" {
		return nil, fail(nil, "rule 'when' condition is required")
	}
	when := strings.TrimSpace(whenNode.Value)
	cond, err := l.compile(when)
	if err != nil {
		return nil, fail(err, "invalid 'when' expression")
	}

	thenNode := mappingValue(entry, "then")
	if thenNode == nil || isNull(thenNode) {
		return nil, fail(nil, "rule must have at least one 'then' action")
	}
	var thenItems []*yaml.Node
	switch thenNode.Kind {
	case yaml.SequenceNode:
		thenItems = thenNode.Content
	case yaml.ScalarNode:
		thenItems = []*yaml.Node{thenNode}
	default:
		return nil, fail(nil, "'then' must be a sequence of actions")
	}
	if len(thenItems) == 0 {
		return nil, fail(nil, "rule must have at least one 'then' action")
	}

	b := rules.New(name).
		Priority(priority).
		Expression(when).
		Source(source, line).
		Consumes(expression.Variables(cond)...).
		When(l.condition(cond))
	if desc := mappingValue(entry, "description"); desc != nil && desc.Kind == yaml.ScalarNode {
		b.Description(desc.Value)
	}

	for _, item := range thenItems {
		if item.Kind != yaml.ScalarNode {
			return nil, fail(nil, "action must be a string")
		}
		act, err := l.parseAction(item.Value)
		if err != nil {
			return nil, &ParseError{Rule: name, Line: line, Msg: "invalid action '" + strings.TrimSpace(item.Value) + "'", Err: err}
		}
		if act.key != "" {
			b.Produces(act.key)
		}
		b.Then(act.run)
	}

	r, err := b.Build()
	if err != nil {
		return nil, fail(err, "failed to build rule")
	}
	return r, nil
}

// parsePriority accepts integers and floats, truncating floats toward zero.
func parsePriority(n *yaml.Node) (int, error) {
	if n == nil || isNull(n) {
		return 0, nil
	}
	if n.Kind != yaml.ScalarNode {
		return 0, errors.New("priority must be a number")
	}
	switch n.ShortTag() {
	case "!!int":
		var v int64
		if err := n.Decode(&v); err != nil {
			return 0, fmt.Errorf("priority must be a number: %w", err)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, fmt.Errorf("priority %d out of range", v)
		}
		return int(v), nil
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("priority must be a number, got '%s'", n.Value)
		}
		f = math.Trunc(f)
		if f < math.MinInt32 || f > math.MaxInt32 {
			return 0, fmt.Errorf("priority %s out of range", n.Value)
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("priority must be a number, got '%s'", n.Value)
}

// compile parses src, checks that every function it calls is registered and
// precomputes its constant parts.
func (l *Loader) compile(src string) (expression.Node, error) {
	n, err := expression.Parse(src)
	if err != nil {
		return nil, err
	}
	for _, fn := range expression.FunctionNames(n) {
		if !l.functions.Has(fn) {
			return nil, &registry.NotFoundError{Kind: registry.KindFunction, Name: fn}
		}
	}
	return expression.Simplify(n), nil
}

func (l *Loader) condition(n expression.Node) rules.Condition {
	return func(f facts.Facts) (bool, error) {
		return expression.Truth(n, expression.Env{Facts: f, Functions: l.functions})
	}
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}
