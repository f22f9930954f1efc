package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Expression {
	t.Helper()
	e, err := ParseExpression(s)
	require.NoError(t, err)
	return e
}

func TestParseExpression_Invalid(t *testing.T) {
	tests := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"*/x * * * *",
		"1-5 * * * *",
		"1,2 * * * *",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseExpression(expr)
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}

func TestExpression_EveryFifteenMinutes(t *testing.T) {
	e := mustParse(t, "*/15 * * * *")
	base := time.Date(2025, 6, 14, 7, 0, 0, 0, time.UTC)

	var matched []int
	for m := 0; m < 60; m++ {
		if e.Matches(base.Add(time.Duration(m) * time.Minute)) {
			matched = append(matched, m)
		}
	}
	assert.Equal(t, []int{0, 15, 30, 45}, matched)

	// Other fields never interfere.
	for _, ts := range []time.Time{
		time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 45, 0, 0, time.UTC),
		time.Date(2025, 1, 5, 13, 0, 0, 0, time.UTC), // a Sunday
	} {
		assert.True(t, e.Matches(ts), ts)
		assert.False(t, e.Matches(ts.Add(time.Minute)), ts)
	}
}

func TestExpression_ExactFields(t *testing.T) {
	e := mustParse(t, "30 9 * * 1")

	monday := time.Date(2025, 6, 16, 9, 30, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())
	assert.True(t, e.Matches(monday))
	assert.True(t, e.Matches(monday.Add(59*time.Second)), "seconds are ignored")
	assert.False(t, e.Matches(monday.Add(time.Hour)))
	assert.False(t, e.Matches(monday.AddDate(0, 0, 1)))

	sunday := mustParse(t, "0 0 * * 0")
	assert.True(t, sunday.Matches(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "0 0 * * 0", sunday.String())
}

func TestExpression_Next(t *testing.T) {
	e := mustParse(t, "0 9 1 * *")
	from := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), next, "strictly after from")

	never := mustParse(t, "0 0 31 2 *")
	_, ok = never.Next(from)
	assert.False(t, ok)
}
