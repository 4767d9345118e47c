package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDailyValidation(t *testing.T) {
	tests := []struct {
		name    string
		clock   string
		wantErr bool
	}{
		{"valid morning", "03:00", false},
		{"valid midnight", "00:00", false},
		{"valid last minute", "23:59", false},
		{"hour out of range", "24:00", true},
		{"minute out of range", "12:60", true},
		{"not a time", "banana", true},
		{"missing minute", "12", true},
		{"negative hour", "-1:30", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDaily(tt.clock)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecurrence)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMonthlyValidation(t *testing.T) {
	_, err := NewMonthly(0, "03:00")
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewMonthly(32, "03:00")
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewMonthly(31, "03:00")
	assert.NoError(t, err)
}

func TestNewHourlyValidation(t *testing.T) {
	_, err := NewHourly(-1)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewHourly(60)
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = NewHourly(0)
	assert.NoError(t, err)
}

func TestDailyNextStrictlyAfter(t *testing.T) {
	rule, err := NewDaily("03:00")
	require.NoError(t, err)

	// From the exact trigger instant, the next run is tomorrow, never now.
	at := time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)
	next := rule.Next(at)
	assert.Equal(t, time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC), next)

	// From just before, the next run is the same day.
	next = rule.Next(at.Add(-time.Second))
	assert.Equal(t, at, next)

	// The gap is never more than 24 hours.
	assert.LessOrEqual(t, next.Sub(at.Add(-time.Second)), 24*time.Hour)
}

func TestWeeklyNext(t *testing.T) {
	rule, err := NewWeekly("monday", "00:00")
	require.NoError(t, err)

	// Friday morning rolls to the following Monday midnight.
	friday := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Friday, friday.Weekday())
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), rule.Next(friday))

	// From the trigger instant itself, a full week later.
	monday := time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday.AddDate(0, 0, 7), rule.Next(monday))
}

func TestMonthlyNextClampsShortMonths(t *testing.T) {
	rule, err := NewMonthly(31, "02:00")
	require.NoError(t, err)

	// After January's day-31 run, February fires on its last day.
	after := time.Date(2024, 1, 31, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 29, 2, 0, 0, 0, time.UTC), rule.Next(after), "leap year clamps to Feb 29")

	after = time.Date(2023, 1, 31, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 2, 28, 2, 0, 0, 0, time.UTC), rule.Next(after), "non-leap year clamps to Feb 28")

	// A clamped run still advances past the short month afterwards.
	after = time.Date(2023, 2, 28, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 3, 31, 2, 0, 0, 0, time.UTC), rule.Next(after))
}

func TestHourlyNext(t *testing.T) {
	rule, err := NewHourly(30)
	require.NoError(t, err)

	at := time.Date(2024, 3, 15, 10, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 15, 11, 30, 0, 0, time.UTC), rule.Next(at))

	at = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 15, 11, 30, 0, 0, time.UTC), rule.Next(at), "exact trigger instant is excluded")

	at = time.Date(2024, 3, 15, 23, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 30, 0, 0, time.UTC), rule.Next(at), "rolls over midnight")
}

func TestExprRoundTrip(t *testing.T) {
	mustRule := func(r Rule, err error) Rule {
		t.Helper()
		require.NoError(t, err)
		return r
	}

	rules := []Rule{
		mustRule(NewDaily("03:15")),
		mustRule(NewWeekly("friday", "12:00")),
		mustRule(NewMonthly(31, "00:30")),
		mustRule(NewHourly(0)),
		mustRule(NewHourly(59)),
	}

	for _, rule := range rules {
		t.Run(rule.String(), func(t *testing.T) {
			parsed, err := ParseExpr(rule.Expr())
			require.NoError(t, err)
			assert.Equal(t, rule, parsed)
		})
	}
}

func TestParseExprRejectsUnsupportedShapes(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"step minute", "*/5 * * * *"},
		{"fixed month", "0 0 1 1 *"},
		{"dom and dow combined", "0 0 1 * 1"},
		{"not cron at all", "every day at noon"},
		{"too few fields", "0 0 * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExpr(tt.expr)
			assert.ErrorIs(t, err, ErrInvalidRecurrence)
		})
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{"monday", time.Monday, false},
		{"FRIDAY", time.Friday, false},
		{"tue", time.Tuesday, false},
		{"Thu", time.Thursday, false},
		{"sat", time.Saturday, false},
		{"fr", 0, true},
		{"someday", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWeekday(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecurrence)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
