package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEntity struct {
	name        string
	uuid        string
	basename    string
	index       string
	timestamp   int64
	nr          int
	mounts      []string
	origin      string
	snapNames   []string
	snapUUIDs   []string
	schedName   string
}

func (f fakeEntity) MatchName() string            { return f.name }
func (f fakeEntity) MatchUUID() string            { return f.uuid }
func (f fakeEntity) MatchBasename() string        { return f.basename }
func (f fakeEntity) MatchIndex() string           { return f.index }
func (f fakeEntity) MatchTimestamp() int64        { return f.timestamp }
func (f fakeEntity) MatchNrSnapshots() int        { return f.nr }
func (f fakeEntity) MatchMountPoints() []string   { return f.mounts }
func (f fakeEntity) MatchOrigin() string          { return f.origin }
func (f fakeEntity) MatchSnapshotNames() []string { return f.snapNames }
func (f fakeEntity) MatchSnapshotUUIDs() []string { return f.snapUUIDs }
func (f fakeEntity) MatchSchedName() string       { return f.schedName }

func TestEmptySelectionMatchesAll(t *testing.T) {
	var s Selection
	assert.True(t, s.IsEmpty())
	assert.True(t, Matches(s, fakeEntity{name: "anything"}))
}

func TestSelectionByName(t *testing.T) {
	s := Selection{Name: "hourly.0"}
	assert.False(t, s.IsEmpty())
	assert.True(t, s.IsSingle())
	assert.True(t, Matches(s, fakeEntity{name: "hourly.0"}))
	assert.False(t, Matches(s, fakeEntity{name: "hourly.1"}))
}

func TestSelectionByBasename(t *testing.T) {
	s := Selection{Basename: "hourly"}
	assert.False(t, s.IsSingle())
	assert.True(t, Matches(s, fakeEntity{basename: "hourly"}))
	assert.False(t, Matches(s, fakeEntity{basename: "daily"}))
}

func TestSelectionTimestampZeroIsDistinguishableFromUnset(t *testing.T) {
	s := Selection{}.WithTimestamp(0)
	assert.True(t, s.HasTimestamp())
	assert.True(t, Matches(s, fakeEntity{timestamp: 0}))
	assert.False(t, Matches(s, fakeEntity{timestamp: 1}))

	var unset Selection
	assert.False(t, unset.HasTimestamp())
}

func TestSplitBasenameIndex(t *testing.T) {
	base, idx := SplitBasenameIndex("hourly.3")
	assert.Equal(t, "hourly", base)
	assert.Equal(t, "3", idx)

	base, idx = SplitBasenameIndex("testset0")
	assert.Equal(t, "testset0", base)
	assert.Equal(t, "none", idx)

	base, idx = SplitBasenameIndex("my.backup.set")
	assert.Equal(t, "my.backup.set", base)
	assert.Equal(t, "none", idx)
}
