package rex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/rex/internal/reload"
)

const vipRules = `
rules:
  - name: vip-discount
    priority: 10
    when: isVIP() && total > 100
    then:
      - set("discount", 0.1)
  - name: shout
    when: coalesce(discount, 0) > 0
    then:
      - set("banner", upper("welcome back"))
`

var registerVIP = ConfigurerFunc(func(fns *Functions, _ *Actions) error {
	return fns.RegisterFunc("isVIP", func(f Facts) bool { return f.Get("user.type") == "VIP" })
})

func writeRules(t *testing.T, body string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
	return file
}

func testConfig(location string) Config {
	cfg := DefaultConfig()
	cfg.RulesLocation = location
	return cfg
}

type named struct {
	name string
	log  *[]string
}

func (n named) Configure(*Functions, *Actions) error {
	*n.log = append(*n.log, n.name)
	return nil
}

func TestConfigure_Order(t *testing.T) {
	var got []string
	fns, acts, err := NewRegistries()
	require.NoError(t, err)

	err = Configure(fns, acts,
		named{"default-1", &got},
		WithOrder(5, named{"late", &got}),
		WithOrder(-1, named{"early", &got}),
		named{"default-2", &got},
		WithOrder(5, named{"late-2", &got}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "default-1", "default-2", "late", "late-2"}, got)
}

func TestConfigure_StopsOnError(t *testing.T) {
	var got []string
	boom := errors.New("boom")
	fns, acts, err := NewRegistries()
	require.NoError(t, err)

	err = Configure(fns, acts,
		named{"first", &got},
		ConfigurerFunc(func(*Functions, *Actions) error { return boom }),
		named{"never", &got},
	)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "configurer 1")
	assert.Equal(t, []string{"first"}, got)
}

func TestNewRegistries_HasBuiltins(t *testing.T) {
	fns, acts, err := NewRegistries()
	require.NoError(t, err)
	assert.True(t, fns.Has("upper"))
	assert.True(t, fns.Has("coalesce"))
	assert.True(t, acts.Has("set"))
	assert.True(t, acts.Has("log"))
}

func TestNew_DuplicateBuiltinFails(t *testing.T) {
	_, err := New([]Configurer{ConfigurerFunc(func(fns *Functions, _ *Actions) error {
		return fns.RegisterFunc("upper", func(s string) string { return s })
	})})
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := testConfig(writeRules(t, vipRules))

	c, err := NewFromConfig(context.Background(), cfg, registerVIP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Len(t, c.Rules(), 2)
	assert.False(t, c.Watching())

	out, err := c.Execute(NewFacts(map[string]any{
		"user":  map[string]any{"type": "VIP"},
		"total": 150,
	}))
	require.NoError(t, err)
	assert.Equal(t, 0.1, out.Get("discount"))
	assert.Equal(t, "WELCOME BACK", out.Get("banner"))

	out, err = c.Execute(NewFacts(map[string]any{
		"user":  map[string]any{"type": "REGULAR"},
		"total": 150,
	}))
	require.NoError(t, err)
	assert.False(t, out.Contains("discount"))
}

func TestNewFromConfig_HotReload(t *testing.T) {
	cfg := testConfig(writeRules(t, vipRules))
	cfg.HotReload = true

	c, err := NewFromConfig(context.Background(), cfg, registerVIP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.True(t, c.Watching())
}

func TestNewFromConfig_LoadFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	t.Run("fail", func(t *testing.T) {
		cfg := testConfig(missing)
		cfg.FailOnLoadError = true

		c, err := NewFromConfig(context.Background(), cfg)
		assert.ErrorContains(t, err, "failed to load rules from")
		assert.Nil(t, c)
	})

	t.Run("continue", func(t *testing.T) {
		cfg := testConfig(missing)
		cfg.FailOnLoadError = false

		c, err := NewFromConfig(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		assert.Empty(t, c.Rules())

		out, err := c.Execute(NewFacts(map[string]any{"x": 1}))
		require.NoError(t, err)
		assert.Equal(t, 1, out.Get("x"))
	})

	t.Run("unknown function", func(t *testing.T) {
		cfg := testConfig(writeRules(t, vipRules))
		cfg.FailOnLoadError = true

		_, err := NewFromConfig(context.Background(), cfg)
		assert.ErrorContains(t, err, "isVIP")
	})
}

func TestNewFromConfig_EmptyLocation(t *testing.T) {
	c, err := NewFromConfig(context.Background(), testConfig(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Empty(t, c.Rules())
	assert.Empty(t, c.Source())
}

func TestNewFromConfigWith_Resources(t *testing.T) {
	fsys := fstest.MapFS{
		"rules/vip.yaml": {Data: []byte(vipRules)},
	}
	cfg := testConfig(reload.ResourcePrefix + "rules/vip.yaml")

	c, err := NewFromConfigWith(context.Background(), cfg, []Configurer{registerVIP},
		[]Option{reload.WithResources(fsys, "")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Len(t, c.Rules(), 2)
}

func TestCodeBuiltRules(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	bigOrder, err := Fact("order.total", GreaterThanOrEqual, 100)
	require.NoError(t, err)
	member, err := Fact("tags", Contains, "member")
	require.NoError(t, err)
	blocked, err := Fact("status", Equal, "blocked")
	require.NoError(t, err)

	var notified []any
	discount, err := NewRule("member-discount").
		Priority(10).
		When(All(bigOrder, member, Not(blocked))).
		Then(Set("discount", 0.2), Do(func(f Facts) error {
			notified = append(notified, f.Get("discount"))
			return nil
		})).
		Build()
	require.NoError(t, err)

	free, err := Fact("discount", GreaterThan, 0.1)
	require.NoError(t, err)
	shipping := NewRule("free-shipping").
		When(Any(free, Not(Always()))).
		Then(Set("shipping", 0)).
		MustBuild()

	require.NoError(t, c.Engine().AddRule(shipping))
	require.NoError(t, c.Engine().AddRule(discount))
	assert.Equal(t, []string{"member-discount", "free-shipping"}, ruleNames(c.Rules()))

	res, err := c.ExecuteWithTrace(NewFacts(map[string]any{
		"order": map[string]any{"total": 120},
		"tags":  []string{"member"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"member-discount", "free-shipping"}, res.Fired)
	assert.Equal(t, 0, res.Facts.Get("shipping"))
	assert.Equal(t, []any{0.2}, notified)

	out, err := c.Execute(NewFacts(map[string]any{
		"order":  map[string]any{"total": 120},
		"tags":   []string{"member"},
		"status": "blocked",
	}))
	require.NoError(t, err)
	assert.False(t, out.Contains("discount"))

	_, err = Fact("x", "between", 1)
	assert.ErrorContains(t, err, "unsupported operator")
}

func ruleNames(rs []*Rule) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name()
	}
	return names
}
