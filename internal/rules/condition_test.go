package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgehrsitz/rex/internal/facts"
)

func TestFact_Operators(t *testing.T) {
	f := facts.New(map[string]any{
		"age":  30,
		"name": "John",
		"tags": []string{"vip", "new"},
	})

	tests := []struct {
		fact     string
		operator string
		value    any
		want     bool
	}{
		{"age", OperatorEqual, 30.0, true},
		{"age", OperatorNotEqual, 31, true},
		{"age", OperatorGreaterThan, 29, true},
		{"age", OperatorGreaterThanOrEqual, 30, true},
		{"age", OperatorLessThan, 30, false},
		{"age", OperatorLessThanOrEqual, 30, true},
		{"name", OperatorContains, "oh", true},
		{"name", OperatorNotContains, "x", true},
		{"tags", OperatorContains, "vip", true},
		{"tags", OperatorNotContains, "old", true},
		{"missing", OperatorEqual, nil, true},
		{"missing", OperatorContains, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.fact+" "+tt.operator, func(t *testing.T) {
			c, err := Fact(tt.fact, tt.operator, tt.value)
			require.NoError(t, err)
			got, err := c(f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFact_Errors(t *testing.T) {
	_, err := Fact("age", "<", 3)
	assert.ErrorContains(t, err, "unsupported operator")

	f := facts.New(map[string]any{"name": "John", "age": 3})

	c, err := Fact("name", OperatorLessThan, 3)
	require.NoError(t, err)
	_, err = c(f)
	assert.ErrorContains(t, err, "cannot compare string with number")

	c, err = Fact("age", OperatorContains, 3)
	require.NoError(t, err)
	_, err = c(f)
	assert.Error(t, err)
}

func TestCombinators(t *testing.T) {
	boom := errors.New("boom")
	yes := Always()
	no := Not(Always())
	fail := Condition(func(facts.Facts) (bool, error) { return false, boom })
	f := facts.Empty()

	check := func(c Condition) bool {
		ok, err := c(f)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, check(All(yes, yes)))
	assert.False(t, check(All(yes, no)))
	assert.True(t, check(All()))
	assert.True(t, check(Any(no, yes)))
	assert.False(t, check(Any()))

	// short circuit skips the failing condition
	assert.False(t, check(All(no, fail)))
	assert.True(t, check(Any(yes, fail)))

	_, err := All(yes, fail)(f)
	assert.ErrorIs(t, err, boom)
	_, err = Not(fail)(f)
	assert.ErrorIs(t, err, boom)
}
