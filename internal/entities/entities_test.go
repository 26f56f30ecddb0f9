package entities

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSetUUIDInvariant(t *testing.T) {
	ts := int64(1700000000)
	snap := NewSnapshot("root-snapset_testset0_1700000000-", "testset0", "none", "/dev/vg0/root", ts, "/", "lvm2-cow")
	ss := NewSnapshotSet("testset0", ts, []*Snapshot{snap})

	expected := uuid.NewSHA1(NamespaceSnapshotSet, []byte("testset01700000000"))
	assert.Equal(t, expected, ss.UUID)
	for _, s := range ss.Snapshots {
		assert.Equal(t, ts, s.Timestamp)
	}
}

func TestNewSnapshotSetPanicsOnMismatchedTimestamps(t *testing.T) {
	a := NewSnapshot("a", "s", "none", "/dev/a", 1, "/", "p")
	b := NewSnapshot("b", "s", "none", "/dev/b", 2, "/var", "p")
	assert.Panics(t, func() {
		NewSnapshotSet("s", 1, []*Snapshot{a, b})
	})
}

func TestRenameChangesUUID(t *testing.T) {
	s := NewSnapshot("old", "set", "none", "/dev/a", 1, "", "p")
	before := s.UUID
	s.Rename("new")
	assert.NotEqual(t, before, s.UUID)
	assert.Equal(t, "new", s.Name)
}

func TestSnapshotSetRenameChangesUUID(t *testing.T) {
	snap := NewSnapshot("a", "old", "none", "/dev/a", 1, "/", "p")
	ss := NewSnapshotSet("old", 1, []*Snapshot{snap})
	before := ss.UUID
	ss.Rename("new")
	assert.NotEqual(t, before, ss.UUID)
	require.Equal(t, "new", ss.Name)
}

func TestStatusAggregationPrecedence(t *testing.T) {
	a := NewSnapshot("a", "s", "none", "/dev/a", 1, "/", "p")
	b := NewSnapshot("b", "s", "none", "/dev/b", 1, "/var", "p")
	a.Status = Active
	b.Status = Inactive
	ss := NewSnapshotSet("s", 1, []*Snapshot{a, b})
	assert.Equal(t, Inactive, ss.Status())

	a.Status = Invalid
	assert.Equal(t, Invalid, ss.Status())

	a.Status = Active
	b.Status = Reverting
	assert.Equal(t, Reverting, ss.Status())
}

func TestAutoactivateAllOrNone(t *testing.T) {
	a := NewSnapshot("a", "s", "none", "/dev/a", 1, "/", "p")
	b := NewSnapshot("b", "s", "none", "/dev/b", 1, "/var", "p")
	ss := NewSnapshotSet("s", 1, []*Snapshot{a, b})
	assert.False(t, ss.Autoactivate())

	ss.SetAutoactivate(true)
	assert.True(t, ss.Autoactivate())
	assert.True(t, a.Autoactivate)
	assert.True(t, b.Autoactivate)
}

func TestMountPointsAndSources(t *testing.T) {
	a := NewSnapshot("a", "s", "none", "/dev/vg0/root", 1, "/", "p")
	b := NewSnapshot("b", "s", "none", "/dev/vg0/data", 1, "", "p")
	ss := NewSnapshotSet("s", 1, []*Snapshot{a, b})

	assert.Equal(t, []string{"/"}, ss.MountPoints())
	assert.ElementsMatch(t, []string{"/", "/dev/vg0/data"}, ss.Sources())
}

func TestBasenameAndIndex(t *testing.T) {
	snap := NewSnapshot("a", "hourly.3", "3", "/dev/a", 1, "/", "p")
	ss := NewSnapshotSet("hourly.3", 1, []*Snapshot{snap})
	assert.Equal(t, "hourly", ss.Basename())
	assert.Equal(t, "3", ss.Index())
}
