package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/rex/internal/expression"
	"github.com/rgehrsitz/rex/internal/facts"
	"github.com/rgehrsitz/rex/internal/registry"
	"github.com/rgehrsitz/rex/internal/rules"
)

type testActions struct {
	logEntries []string
	lastEmail  string
}

func newTestLoader(t *testing.T) (*Loader, *testActions) {
	t.Helper()
	recorded := &testActions{}

	fns := registry.NewFunctions()
	require.NoError(t, fns.RegisterFunc("isWeekend", func() bool { return true }))
	require.NoError(t, fns.RegisterFunc("cartTotal", func(f facts.Facts) float64 {
		total, _ := f.Get("cart.total").(float64)
		return total
	}))

	acts := registry.NewActions()
	require.NoError(t, acts.RegisterFunc("logEvent", func() { recorded.logEntries = append(recorded.logEntries, "EVENT_LOGGED") }))
	require.NoError(t, acts.RegisterFunc("sendEmail", func(email string) { recorded.lastEmail = email }))
	require.NoError(t, acts.RegisterFunc("log", func(level, msg string) {
		recorded.logEntries = append(recorded.logEntries, level+": "+msg)
	}))
	require.NoError(t, acts.RegisterFunc("addTag", func(f facts.Facts, tag string) facts.Facts {
		tags, _ := f.Get("tags").([]string)
		return f.Put("tags", append(append([]string(nil), tags...), tag))
	}))

	return New(fns, acts), recorded
}

func load(t *testing.T, l *Loader, doc string) ([]*rules.Rule, error) {
	t.Helper()
	return l.LoadBytes([]byte(doc), "")
}

func apply(t *testing.T, r *rules.Rule, f facts.Facts) facts.Facts {
	t.Helper()
	ok, err := r.Evaluate(f)
	require.NoError(t, err)
	require.True(t, ok)
	out, err := r.Apply(f)
	require.NoError(t, err)
	return out
}

func TestLoad_SimpleRule(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - name: "Test Rule"
    priority: 100
    description: demo
    when: "true"
    then:
      - "flag = true"
`)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	r := loaded[0]
	assert.Equal(t, "Test Rule", r.Name())
	assert.Equal(t, 100, r.Priority())
	assert.Equal(t, "true", r.Expression())
	assert.Equal(t, "demo", r.Description())
	assert.Equal(t, 3, r.Line())
	assert.Equal(t, []string{"flag"}, r.ProducedFacts())
}

func TestLoad_MultipleRulesKeepDocumentOrder(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - name: Rule 1
    when: "true"
    then: ["a = 1"]
  - name: Rule 2
    when: "false"
    then: ["b = 2"]
`)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Rule 1", loaded[0].Name())
	assert.Equal(t, "Rule 2", loaded[1].Name())
	assert.Equal(t, 0, loaded[1].Priority())
}

func TestLoad_EmptyRules(t *testing.T) {
	l, _ := newTestLoader(t)

	loaded, err := load(t, l, "rules: []")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	loaded, err = load(t, l, "rules:")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoad_Assignments(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - name: assign
    when: cart.total > 50
    then:
      - discount = 15
      - total = cart.total + 10
      - discount.reason = "VIP"
      - label = "a=b" + 'c(d)'
      - check = cart.total >= 100
`)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []string{"cart.total"}, loaded[0].ConsumedFacts())

	out := apply(t, loaded[0], facts.New(map[string]any{"cart": map[string]any{"total": 100}}))
	assert.Equal(t, 110.0, out.Get("total"))
	assert.Equal(t, "VIP", out.Get("discount.reason"), "discount was replaced by a map")
	assert.Equal(t, "a=bc(d)", out.Get("label"))
	assert.Equal(t, true, out.Get("check"))
}

func TestLoad_NestedAssignment(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - name: nested
    when: "true"
    then:
      - discount.percent = 20
      - discount.reason = "VIP"
`)
	require.NoError(t, err)

	out := apply(t, loaded[0], facts.Empty())
	assert.Equal(t, 20.0, out.Get("discount.percent"))
	assert.Equal(t, "VIP", out.Get("discount.reason"))
}

func TestLoad_ActionCalls(t *testing.T) {
	l, recorded := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - name: calls
    when: isWeekend() && cartTotal() > 10
    then:
      - logEvent()
      - sendEmail(user.email)
      - log("INFO", "Test, " + user.name)
      - addTag('a,b')
`)
	require.NoError(t, err)

	in := facts.New(map[string]any{
		"user": map[string]any{"email": "test@example.com", "name": "ann"},
		"cart": map[string]any{"total": 20.0},
	})
	out := apply(t, loaded[0], in)

	assert.Equal(t, []string{"EVENT_LOGGED", "INFO: Test, ann"}, recorded.logEntries)
	assert.Equal(t, "test@example.com", recorded.lastEmail)
	assert.Equal(t, []string{"a,b"}, out.Get("tags"))
}

func TestLoad_ArgumentsEvaluatedAtExecutionTime(t *testing.T) {
	l, recorded := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - name: late-binding
    when: "true"
    then:
      - user.email = "changed@example.com"
      - sendEmail(user.email)
`)
	require.NoError(t, err)

	apply(t, loaded[0], facts.New(map[string]any{"user": map[string]any{"email": "orig@example.com"}}))
	assert.Equal(t, "changed@example.com", recorded.lastEmail)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
		rule string
		line int
	}{
		{"empty document", "", "must contain a 'rules' key", "", 0},
		{"missing rules key", "other: 1", "must contain a 'rules' key", "", 1},
		{"rules not a sequence", "rules: 5", "'rules' must be a sequence", "", 1},
		{"invalid yaml", "rules: [", "invalid YAML", "", 0},
		{"missing name", "rules:\n  - when: 'true'\n    then: ['a = 1']", "rule name is required", "", 2},
		{"blank name", "rules:\n  - name: '  '\n    when: 'true'\n    then: ['a = 1']", "rule name is required", "", 2},
		{"missing when", "rules:\n  - name: r\n    then: ['a = 1']", "'when' condition is required", "r", 2},
		{"bad when", "rules:\n  - name: r\n    when: 'a &'\n    then: ['a = 1']", "invalid 'when' expression", "r", 2},
		{"unknown function", "rules:\n  - name: r\n    when: 'nope(1)'\n    then: ['a = 1']", "function 'nope' not found", "r", 2},
		{"missing then", "rules:\n  - name: r\n    when: 'true'", "at least one 'then' action", "r", 2},
		{"empty then", "rules:\n  - name: r\n    when: 'true'\n    then: []", "at least one 'then' action", "r", 2},
		{"string priority", "rules:\n  - name: r\n    priority: high\n    when: 'true'\n    then: ['a = 1']", "priority must be a number", "r", 2},
		{"unknown action", "rules:\n  - name: r\n    when: 'true'\n    then: ['sendSms(1)']", "action 'sendSms' not found", "r", 2},
		{"not an action", "rules:\n  - name: r\n    when: 'true'\n    then: ['just text']", "expected assignment", "r", 2},
		{"empty key", "rules:\n  - name: r\n    when: 'true'\n    then: ['= 5']", "key cannot be empty", "r", 2},
		{"bad key", "rules:\n  - name: r\n    when: 'true'\n    then: ['a b = 5']", "not a fact path", "r", 2},
		{"empty value", "rules:\n  - name: r\n    when: 'true'\n    then: ['a =']", "value cannot be empty", "r", 2},
		{"bad value", "rules:\n  - name: r\n    when: 'true'\n    then: ['a = 1 +']", "invalid assignment value", "r", 2},
		{"bad argument", "rules:\n  - name: r\n    when: 'true'\n    then: ['sendEmail(1 +)']", "argument 1", "r", 2},
		{"duplicate names", "rules:\n  - name: r\n    when: 'true'\n    then: ['a = 1']\n  - name: r\n    when: 'true'\n    then: ['a = 1']", "duplicate rule name", "r", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLoader(t)
			loaded, err := load(t, l, tt.doc)
			require.Error(t, err)
			assert.Nil(t, loaded)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, tt.rule, pe.Rule)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestLoad_UnresolvedActionIsTyped(t *testing.T) {
	l, _ := newTestLoader(t)
	_, err := load(t, l, "rules:\n  - name: promo\n    when: 'true'\n    then: ['sendSms(user.phone)']")

	assert.ErrorIs(t, err, registry.ErrActionNotFound)
	assert.EqualError(t, err, "invalid action 'sendSms(user.phone)': action 'sendSms' not found in rule 'promo' (line 2)")
}

func TestLoad_PriorityForms(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, `
rules:
  - {name: a, priority: 7.9, when: "true", then: ["x = 1"]}
  - {name: b, priority: -2.5, when: "true", then: ["x = 1"]}
  - {name: c, priority: -3, when: "true", then: ["x = 1"]}
`)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded[0].Priority())
	assert.Equal(t, -2, loaded[1].Priority())
	assert.Equal(t, -3, loaded[2].Priority())
}

func TestLoad_ConditionMustBeBoolean(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, "rules:\n  - name: r\n    when: '1 + 1'\n    then: ['a = 1']")
	require.NoError(t, err)

	_, err = loaded[0].Evaluate(facts.Empty())
	assert.ErrorContains(t, err, "expected bool")
}

func TestLoad_ExecutionErrorsSurface(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := load(t, l, "rules:\n  - name: r\n    when: 'true'\n    then: ['ratio = 1 / zero', 'sendEmail(1 / zero)']")
	require.NoError(t, err)

	_, err = loaded[0].Apply(facts.New(map[string]any{"zero": 0}))
	assert.ErrorIs(t, err, expression.ErrDivisionByZero)
}

func TestFindAssignment(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"a = 1", 2},
		{"a.b=c", 3},
		{"a == b", -1},
		{"a != b", -1},
		{"a <= b", -1},
		{"a >= b", -1},
		{"f(a = b)", -1},
		{"f('=')", -1},
		{`f("\"=")`, -1},
		{"x = a == b", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findAssignment(tt.in), tt.in)
	}
}

func TestSplitArguments(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a", []string{"a"}},
		{"a, b ,c", []string{"a", "b", "c"}},
		{"f(a, b), c", []string{"f(a, b)", "c"}},
		{"'x, y', \"p,q\"", []string{"'x, y'", "\"p,q\""}},
		{`'it\'s, ok', 2`, []string{`'it\'s, ok'`, "2"}},
		{"[1, 2], 3", []string{"[1, 2]", "3"}},
		{"a,,b", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitArguments(tt.in), tt.in)
	}
}

func TestLoadFS_Directory(t *testing.T) {
	l, _ := newTestLoader(t)
	fsys := fstest.MapFS{
		"rules/b.yaml":     {Data: []byte("rules:\n  - {name: second, when: 'true', then: ['x = 2']}\n")},
		"rules/a.yml":      {Data: []byte("rules:\n  - {name: first, when: 'true', then: ['x = 1']}\n")},
		"rules/notes.txt":  {Data: []byte("ignored")},
		"rules/sub/c.yml":  {Data: []byte("rules:\n  - {name: nested, when: 'true', then: ['x = 3']}\n")},
		"rules/bad.yml.bk": {Data: []byte("not yaml: [")},
	}

	loaded, err := l.LoadFS(fsys, "rules")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "first", loaded[0].Name())
	assert.Equal(t, "rules/a.yml", loaded[0].Source())
	assert.Equal(t, "second", loaded[1].Name())

	files, err := RuleFiles(fsys, "rules")
	require.NoError(t, err)
	assert.Equal(t, []string{"rules/a.yml", "rules/b.yaml"}, files)
}

func TestLoadFS_DuplicateAcrossFiles(t *testing.T) {
	l, _ := newTestLoader(t)
	fsys := fstest.MapFS{
		"a.yml": {Data: []byte("rules:\n  - {name: same, when: 'true', then: ['x = 1']}\n")},
		"b.yml": {Data: []byte("rules:\n  - {name: same, when: 'true', then: ['x = 2']}\n")},
	}

	_, err := l.LoadFS(fsys, ".")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "b.yml", pe.File)
	assert.Contains(t, err.Error(), "also defined in a.yml")
}

func TestLoadFileAndDir(t *testing.T) {
	l, _ := newTestLoader(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "pricing.yml")
	require.NoError(t, os.WriteFile(file, []byte("rules:\n  - {name: p, when: 'true', then: ['x = 1']}\n"), 0o644))

	loaded, err := l.LoadFile(file)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, file, loaded[0].Source())

	loaded, err = l.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("rules:\n  - name: b\n"), 0o644))
	_, err = l.LoadDir(dir)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.True(t, strings.HasSuffix(pe.File, "broken.yaml"))

	_, err = l.LoadFile(filepath.Join(dir, "missing.yml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_Reader(t *testing.T) {
	l, _ := newTestLoader(t)
	loaded, err := l.Load(strings.NewReader("rules:\n  - {name: r, when: 'true', then: ['x = 1']}\n"))
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestChecker_CollectsEveryFailure(t *testing.T) {
	l, _ := newTestLoader(t)
	first := fstest.MapFS{
		"a.yml":   {Data: []byte("rules:\n  - {name: same, when: 'true', then: ['x = 1']}\n")},
		"b.yml":   {Data: []byte("rules:\n  - {name: broken, when: 'x >', then: ['x = 2']}\n")},
		"c.yml":   {Data: []byte("rules:\n  - {name: ok, when: 'true', then: ['x = 3']}\n")},
		"skip.md": {Data: []byte("# not rules")},
	}
	second := fstest.MapFS{
		"d.yml": {Data: []byte("rules:\n  - {name: same, when: 'true', then: ['x = 4']}\n")},
	}

	c := l.NewChecker()
	assert.Equal(t, 3, c.Add(first, ".", "first"))
	assert.Equal(t, 1, c.Add(second, "d.yml", ""))
	assert.Equal(t, 0, c.Add(second, "missing", ""))
	c.Fail(errors.New("elsewhere"))

	names := make([]string, 0, len(c.Rules()))
	for _, r := range c.Rules() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"same", "ok"}, names)

	errs := c.Errors()
	require.Len(t, errs, 4)
	assert.ErrorContains(t, errs[0], filepath.Join("first", "b.yml"))
	var pe *ParseError
	require.ErrorAs(t, errs[1], &pe)
	assert.Equal(t, "d.yml", pe.File)
	assert.Contains(t, pe.Msg, "also defined in "+filepath.Join("first", "a.yml"))
	assert.ErrorContains(t, errs[2], "failed to list rules at missing")
	assert.EqualError(t, errs[3], "elsewhere")
}
