package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/snapm/internal/entities"
)

func setAt(t *testing.T, name string, when time.Time) *entities.SnapshotSet {
	t.Helper()
	ts := when.Unix()
	snap := entities.NewSnapshot(name+"-snapset_"+name+"_0_-data", name, "none", "/dev/vg0/root", ts, "/data", "fake0")
	return entities.NewSnapshotSet(name, ts, []*entities.Snapshot{snap})
}

func names(sets []*entities.SnapshotSet) []string {
	out := make([]string, len(sets))
	for i, s := range sets {
		out[i] = s.Name
	}
	return out
}

func TestGcParamsAllKeepsEverything(t *testing.T) {
	sets := []*entities.SnapshotSet{setAt(t, "a", time.Now()), setAt(t, "b", time.Now())}
	policy, err := NewGcPolicy("p", GcAll, GcParamsAll{}, nil)
	require.NoError(t, err)
	assert.Empty(t, policy.Evaluate(sets))
}

func TestGcParamsCountKeepsNewest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sets := []*entities.SnapshotSet{
		setAt(t, "s1", base),
		setAt(t, "s2", base.AddDate(0, 0, 1)),
		setAt(t, "s3", base.AddDate(0, 0, 2)),
	}
	policy, err := NewGcPolicy("p", GcCount, GcParamsCount{KeepCount: 2}, nil)
	require.NoError(t, err)
	toDelete := policy.Evaluate(sets)
	assert.ElementsMatch(t, []string{"s1"}, names(toDelete))
}

func TestGcParamsCountKeepCountExceedsLengthDeletesNothing(t *testing.T) {
	sets := []*entities.SnapshotSet{setAt(t, "s1", time.Now())}
	policy, err := NewGcPolicy("p", GcCount, GcParamsCount{KeepCount: 5}, nil)
	require.NoError(t, err)
	assert.Empty(t, policy.Evaluate(sets))
}

func TestGcParamsAgeDeletesOlderThanThreshold(t *testing.T) {
	now := time.Now()
	sets := []*entities.SnapshotSet{
		setAt(t, "old", now.AddDate(0, 0, -10)),
		setAt(t, "new", now.AddDate(0, 0, -1)),
	}
	policy, err := NewGcPolicy("p", GcAge, GcParamsAge{KeepDays: 5}, nil)
	require.NoError(t, err)
	toDelete := policy.Evaluate(sets)
	assert.ElementsMatch(t, []string{"old"}, names(toDelete))
}

func TestGcParamsAgeToDaysMatchesYearMonthWeekDayWeighting(t *testing.T) {
	p := GcParamsAge{KeepYears: 1, KeepMonths: 1, KeepWeeks: 1, KeepDays: 1}
	// 365.25 + 30.44 + 7 + 1 = 403.69, rounded up to 404.
	assert.Equal(t, 404, p.ToDays())
}

func TestGcParamsTimelineKeepsOldestWhenYearlyZeroButWeeklyDailyPositive(t *testing.T) {
	// Regression case named directly in spec.md: a snapshot set older
	// than any yearly retention should still survive via weekly/daily
	// categories when yearly=0.
	monday := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) // a Monday
	sets := []*entities.SnapshotSet{
		setAt(t, "oldest", monday),
		setAt(t, "newer", monday.AddDate(0, 0, 7)),
	}
	policy, err := NewGcPolicy("p", GcTimeline, GcParamsTimeline{KeepWeekly: 2, KeepDaily: 2}, nil)
	require.NoError(t, err)
	assert.Empty(t, policy.Evaluate(sets))
}

func TestGcParamsTimelineDeletesSetInNoWantedCategory(t *testing.T) {
	tue := time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC) // a Tuesday, not a weekly/monthly/quarterly/yearly boundary
	sets := []*entities.SnapshotSet{setAt(t, "only", tue)}
	policy, err := NewGcPolicy("p", GcTimeline, GcParamsTimeline{}, nil)
	require.NoError(t, err)
	toDelete := policy.Evaluate(sets)
	assert.ElementsMatch(t, []string{"only"}, names(toDelete))
}

func TestGcParamsTimelineKeepsHourlyCategoryMember(t *testing.T) {
	hour := time.Date(2026, 6, 2, 14, 0, 0, 0, time.UTC)
	sets := []*entities.SnapshotSet{setAt(t, "only", hour)}
	policy, err := NewGcPolicy("p", GcTimeline, GcParamsTimeline{KeepHourly: 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, policy.Evaluate(sets))
}

func TestNewGcPolicyRejectsUnknownType(t *testing.T) {
	_, err := NewGcPolicy("p", GcPolicyType("BOGUS"), GcParamsAll{}, nil)
	require.Error(t, err)
}

func TestNewGcPolicyRejectsEmptyName(t *testing.T) {
	_, err := NewGcPolicy("", GcAll, GcParamsAll{}, nil)
	require.Error(t, err)
}
