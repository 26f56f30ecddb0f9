package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

func mustParse(t *testing.T, spec string) *CalendarSpec {
	t.Helper()
	cs, err := Parse(spec)
	require.NoError(t, err)
	return cs
}

func TestShorthandDaily(t *testing.T) {
	cs := mustParse(t, "daily")
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next := cs.NextElapse(now)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestShorthandWeekly(t *testing.T) {
	cs := mustParse(t, "weekly")
	// 2026-07-31 is a Friday; next Monday midnight is 2026-08-03.
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next := cs.NextElapse(now)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.True(t, next.After(now))
}

func TestGcTimerFixedSpec(t *testing.T) {
	cs := mustParse(t, "*-*-* *:10:00")
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	next := cs.NextElapse(now)
	assert.Equal(t, 10, next.Minute())
	assert.Equal(t, 0, next.Second())
	assert.True(t, next.After(now))
}

func TestWeekdayListAndTimeOnly(t *testing.T) {
	cs := mustParse(t, "Mon,Wed,Fri 09:00:00")
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) // a Friday
	next := cs.NextElapse(now)
	assert.Contains(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, next.Weekday())
	assert.Equal(t, 9, next.Hour())
}

func TestWeekdayRange(t *testing.T) {
	cs := mustParse(t, "Mon..Fri 08:00:00")
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) // a Saturday
	next := cs.NextElapse(now)
	assert.NotEqual(t, time.Saturday, next.Weekday())
	assert.NotEqual(t, time.Sunday, next.Weekday())
}

func TestMonthlyOnFirst(t *testing.T) {
	cs := mustParse(t, "monthly")
	now := time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC)
	next := cs.NextElapse(now)
	assert.Equal(t, 1, next.Day())
	assert.Equal(t, time.August, next.Month())
}

func TestExplicitYearRejected(t *testing.T) {
	_, err := Parse("2026-01-01 00:00:00")
	require.Error(t, err)
	assert.Equal(t, apferr.Argument, apferr.CodeOf(err))
}

func TestInvalidExpressionRejected(t *testing.T) {
	_, err := Parse("not a calendar spec at all")
	require.Error(t, err)
	assert.Equal(t, apferr.Argument, apferr.CodeOf(err))
}

func TestNextElapseAlwaysAfterNow(t *testing.T) {
	specs := []string{"hourly", "daily", "weekly", "monthly", "quarterly", "yearly", "*-*-* *:10:00"}
	now := time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC)
	for _, s := range specs {
		cs := mustParse(t, s)
		next := cs.NextElapse(now)
		assert.Truef(t, next.After(now), "%s: expected %v after %v", s, next, now)

		second := cs.NextElapse(next)
		assert.Truef(t, second.After(next), "%s: refresh did not strictly advance: %v -> %v", s, next, second)
	}
}

func TestOccursIsAlwaysTrueForSupportedSubset(t *testing.T) {
	cs := mustParse(t, "daily")
	assert.True(t, cs.Occurs())
}

func TestOriginalAndStringPreserveInput(t *testing.T) {
	cs := mustParse(t, "Mon,Wed,Fri 09:00:00")
	assert.Equal(t, "Mon,Wed,Fri 09:00:00", cs.Original())
	assert.Equal(t, "Mon,Wed,Fri 09:00:00", cs.String())
}
