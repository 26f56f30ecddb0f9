package bootintegration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/entities"
)

func newResolver(fb *blockdev.FakeBackend) *blockdev.Resolver {
	return blockdev.NewResolver(fb)
}

func singleMemberSet(t *testing.T, mountPoint, devPath, origin string) *entities.SnapshotSet {
	t.Helper()
	snap := entities.NewSnapshot("vg0-root-snapset_nightly_1000_-data", "nightly", "none", origin, 1000, mountPoint, "fake0")
	snap.DevPath = devPath
	return entities.NewSnapshotSet("nightly", 1000, []*entities.Snapshot{snap})
}

func TestCreateBootEntryUsesMemberRoot(t *testing.T) {
	fb := blockdev.NewFakeBackend()
	fb.FstabEntries = []blockdev.FstabEntry{
		{Device: "/dev/vg0/var", MountPoint: "/var", FSType: "xfs", Options: []string{"defaults"}},
		{Device: "/dev/vg0/swap", MountPoint: "", FSType: "swap", Options: []string{"defaults"}},
	}
	store := NewFakeStore()
	bi := New(store, newResolver(fb), nil)

	ss := singleMemberSet(t, "/", "/dev/mapper/snap-root", "/dev/vg0/root")

	id, err := bi.CreateBootEntry(ss)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := store.FindEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Options, SnapsetArg+"="+ss.UUID.String())
}

func TestCreateBootEntryFallsBackToFstabRoot(t *testing.T) {
	fb := blockdev.NewFakeBackend()
	fb.FstabEntries = []blockdev.FstabEntry{
		{Device: "/dev/vg0/root", MountPoint: "/", FSType: "ext4", Options: []string{"defaults"}},
		{Device: "/dev/vg0/var", MountPoint: "/var", FSType: "xfs", Options: []string{"defaults"}},
	}
	store := NewFakeStore()
	bi := New(store, newResolver(fb), nil)

	ss := singleMemberSet(t, "/var", "/dev/mapper/snap-var", "/dev/vg0/var")

	_, err := bi.CreateBootEntry(ss)
	require.NoError(t, err)
}

func TestCreateBootEntryResolvesUUIDRoot(t *testing.T) {
	fb := blockdev.NewFakeBackend()
	fb.FstabEntries = []blockdev.FstabEntry{
		{Device: "UUID=1234-5678", MountPoint: "/", FSType: "ext4", Options: []string{"defaults"}},
	}
	devs := NewFakeDeviceResolver()
	devs.ByUUID["1234-5678"] = "/dev/vg0/root"
	store := NewFakeStore()
	bi := New(store, newResolver(fb), devs)

	ss := singleMemberSet(t, "/var", "/dev/mapper/snap-var", "/dev/vg0/var")

	_, err := bi.CreateBootEntry(ss)
	require.NoError(t, err)
}

func TestCreateBootEntryMissingRootFails(t *testing.T) {
	fb := blockdev.NewFakeBackend()
	store := NewFakeStore()
	bi := New(store, newResolver(fb), nil)

	ss := singleMemberSet(t, "/var", "/dev/mapper/snap-var", "/dev/vg0/var")

	_, err := bi.CreateBootEntry(ss)
	require.Error(t, err)
}

func TestDeleteBootEntry(t *testing.T) {
	fb := blockdev.NewFakeBackend()
	fb.FstabEntries = []blockdev.FstabEntry{
		{Device: "/dev/vg0/root", MountPoint: "/", FSType: "ext4", Options: []string{"defaults"}},
	}
	store := NewFakeStore()
	bi := New(store, newResolver(fb), nil)

	ss := singleMemberSet(t, "/", "/dev/mapper/snap-root", "/dev/vg0/root")
	id, err := bi.CreateBootEntry(ss)
	require.NoError(t, err)
	ss.BootEntryID = id

	require.NoError(t, bi.DeleteBootEntry(ss))

	entries, err := store.FindEntries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefreshCacheIndexesByTag(t *testing.T) {
	store := NewFakeStore()
	_, err := store.CreateEntry(BootEntryOptions{TagArg: SnapsetArg + "=uuid-a"})
	require.NoError(t, err)
	_, err = store.CreateEntry(BootEntryOptions{TagArg: RevertArg + "=uuid-b"})
	require.NoError(t, err)

	fb := blockdev.NewFakeBackend()
	bi := New(store, newResolver(fb), nil)

	boot, revert, err := bi.RefreshCache()
	require.NoError(t, err)
	assert.Contains(t, boot, "uuid-a")
	assert.Contains(t, revert, "uuid-b")
}
