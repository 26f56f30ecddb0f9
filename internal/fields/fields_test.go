package fields

import (
	"testing"

	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshotSet() *entities.SnapshotSet {
	root := entities.NewSnapshot("daily-root", "daily", "none", "/dev/vg0/root", 1700000000, "/", "lvm2-thin")
	root.Size = 10 * 1024 * 1024 * 1024
	root.Free = 2 * 1024 * 1024 * 1024
	root.Autoactivate = true
	root.DevPath = "/dev/vg0/daily-root-snap"
	return entities.NewSnapshotSet("daily", 1700000000, []*entities.Snapshot{root})
}

func TestFindSnapsetField(t *testing.T) {
	f, ok := FindSnapsetField("name")
	require.True(t, ok)
	ss := testSnapshotSet()
	assert.Equal(t, "daily", f.Value(ss))
}

func TestFindSnapsetFieldMissing(t *testing.T) {
	_, ok := FindSnapsetField("nonexistent")
	assert.False(t, ok)
}

func TestSnapsetFieldStatus(t *testing.T) {
	f, ok := FindSnapsetField("status")
	require.True(t, ok)
	ss := testSnapshotSet()
	assert.Equal(t, "Inactive", f.Value(ss))
}

func TestFindSnapshotField(t *testing.T) {
	f, ok := FindSnapshotField("size")
	require.True(t, ok)
	ss := testSnapshotSet()
	assert.Equal(t, "10.0GiB", f.Value(ss.Snapshots[0]))
}

func TestSnapshotFieldAutoactivate(t *testing.T) {
	f, ok := FindSnapshotField("autoactivate")
	require.True(t, ok)
	ss := testSnapshotSet()
	assert.Equal(t, "yes", f.Value(ss.Snapshots[0]))
}

func TestExpandFieldsDefault(t *testing.T) {
	got := ExpandFields("", DefaultSnapsetFields)
	assert.Equal(t, DefaultSnapsetFields, got)
}

func TestExpandFieldsExplicit(t *testing.T) {
	got := ExpandFields("name, uuid ,status", nil)
	assert.Equal(t, []string{"name", "uuid", "status"}, got)
}
