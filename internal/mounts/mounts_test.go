package mounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/bootintegration"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDeviceResolverWith(uuid, dev string) *bootintegration.FakeDeviceResolver {
	r := bootintegration.NewFakeDeviceResolver()
	r.ByUUID[uuid] = dev
	return r
}

type fakeManager struct {
	sets map[string]*entities.SnapshotSet
}

func newFakeManager() *fakeManager {
	return &fakeManager{sets: map[string]*entities.SnapshotSet{}}
}

func (f *fakeManager) add(ss *entities.SnapshotSet) {
	f.sets[ss.Name] = ss
}

func (f *fakeManager) FindSnapshotSets(sel selection.Selection) []*entities.SnapshotSet {
	var out []*entities.SnapshotSet
	for _, ss := range f.sets {
		if selection.Matches(sel, ss) {
			out = append(out, ss)
		}
	}
	return out
}

func newTestSnapshotSet(name string) *entities.SnapshotSet {
	root := entities.NewSnapshot(name+"-root", name, "none", "/dev/vg0/root", 1000, "/", "fake")
	root.DevPath = "/dev/vg0/" + name + "-root-snap"
	opt := entities.NewSnapshot(name+"-opt", name, "none", "/dev/vg0/opt", 1000, "/opt", "fake")
	opt.DevPath = "/dev/vg0/" + name + "-opt-snap"
	return entities.NewSnapshotSet(name, 1000, []*entities.Snapshot{root, opt})
}

func noopFstab() ([]blockdev.FstabEntry, error) {
	return []blockdev.FstabEntry{
		{Device: "/dev/vg0/root", MountPoint: "/", FSType: "ext4", Options: []string{"defaults"}},
		{Device: "/dev/vg0/opt", MountPoint: "/opt", FSType: "ext4", Options: []string{"defaults"}},
	}, nil
}

func fakeMountFuncs(t *testing.T, failAt string) (func(what, where, fstype, options string) error, func(where string) error, *[]string) {
	var mounted []string
	mountFn := func(what, where, fstype, options string) error {
		if failAt != "" && where == failAt {
			return assert.AnError
		}
		mounted = append(mounted, where)
		return nil
	}
	umountFn := func(where string) error {
		for i, m := range mounted {
			if m == where {
				mounted = append(mounted[:i], mounted[i+1:]...)
				// a real unmount hides everything the mounted file system
				// held; stand in for that by emptying the directory
				entries, _ := os.ReadDir(where)
				for _, e := range entries {
					os.RemoveAll(filepath.Join(where, e.Name()))
				}
				return nil
			}
		}
		return nil
	}
	return mountFn, umountFn, &mounted
}

func TestMountLifecycle(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()
	ss := newTestSnapshotSet("daily")
	mgr.add(ss)

	mountFn, umountFn, mounted := fakeMountFuncs(t, "")
	mm, err := New(mgr, root, WithFstabReader(noopFstab), WithMountFuncs(mountFn, umountFn))
	require.NoError(t, err)

	// simulate the root device's own content already containing /opt,
	// since the fake mount function does not populate the directory tree
	require.NoError(t, os.MkdirAll(filepath.Join(root, "daily", "opt"), 0o755))

	m, err := mm.Mount(ss)
	require.NoError(t, err)
	assert.True(t, m.Mounted())
	assert.Equal(t, filepath.Join(root, "daily"), m.Root())
	assert.Equal(t, filepath.Join(root, "daily"), ss.MountRoot)
	assert.Contains(t, *mounted, filepath.Join(root, "daily"))
	assert.Contains(t, *mounted, filepath.Join(root, "daily", "opt"))
	assert.Contains(t, *mounted, filepath.Join(root, "daily", "proc"))

	again, err := mm.Mount(ss)
	require.NoError(t, err)
	assert.Same(t, m, again)

	err = mm.Umount(ss)
	require.NoError(t, err)
	assert.False(t, m.Mounted())
	assert.Equal(t, "", ss.MountRoot)
	assert.Empty(t, *mounted)

	_, statErr := os.Stat(filepath.Join(root, "daily"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMountRollbackOnFailure(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()
	ss := newTestSnapshotSet("daily")
	mgr.add(ss)

	failAt := filepath.Join(root, "daily", "opt")
	mountFn, umountFn, mounted := fakeMountFuncs(t, failAt)
	mm, err := New(mgr, root, WithFstabReader(noopFstab), WithMountFuncs(mountFn, umountFn))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(failAt, 0o755))

	_, err = mm.Mount(ss)
	assert.Error(t, err)
	assert.Empty(t, *mounted)

	_, statErr := os.Stat(filepath.Join(root, "daily"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, mm.FindMounts(selection.Selection{Name: "daily"}))
}

func TestUmountNotMounted(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()
	ss := newTestSnapshotSet("daily")
	mgr.add(ss)

	mountFn, umountFn, _ := fakeMountFuncs(t, "")
	mm, err := New(mgr, root, WithFstabReader(noopFstab), WithMountFuncs(mountFn, umountFn))
	require.NoError(t, err)

	err = mm.Umount(ss)
	assert.Error(t, err)
}

func TestFindMounts(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()
	a := newTestSnapshotSet("alpha")
	b := newTestSnapshotSet("beta")
	mgr.add(a)
	mgr.add(b)

	mountFn, umountFn, _ := fakeMountFuncs(t, "")
	mm, err := New(mgr, root, WithFstabReader(noopFstab), WithMountFuncs(mountFn, umountFn))
	require.NoError(t, err)

	_, err = mm.Mount(a)
	require.NoError(t, err)
	_, err = mm.Mount(b)
	require.NoError(t, err)

	found := mm.FindMounts(selection.Selection{Name: "alpha"})
	require.Len(t, found, 1)
	assert.Equal(t, a, found[0].Snapset())

	assert.Len(t, mm.FindMounts(selection.Selection{}), 2)
}

func TestDiscoverSkipsNonSnapshotSetPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-snapset"), 0o755))

	mgr := newFakeManager()
	mm, err := New(mgr, root, WithFstabReader(noopFstab))
	require.NoError(t, err)

	assert.Empty(t, mm.mountList)
}

func TestDiscoverSkipsNonMountPointPath(t *testing.T) {
	root := t.TempDir()
	ss := newTestSnapshotSet("daily")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "daily"), 0o755))

	mgr := newFakeManager()
	mgr.add(ss)
	mm, err := New(mgr, root, WithFstabReader(noopFstab))
	require.NoError(t, err)

	// the temp dir is not an actual mount point, so discover must skip it
	assert.Empty(t, mm.mountList)
	assert.Equal(t, "", ss.MountRoot)
}

func TestGetSysMount(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()
	mm, err := New(mgr, root, WithFstabReader(noopFstab))
	require.NoError(t, err)

	sm := mm.GetSysMount()
	assert.Equal(t, "/", sm.Root())
	assert.Nil(t, sm.Snapset())
	assert.True(t, sm.Mounted())
}

func TestRootDeviceFromSetMember(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()
	ss := newTestSnapshotSet("daily")
	mgr.add(ss)
	mm, err := New(mgr, root, WithFstabReader(noopFstab))
	require.NoError(t, err)

	dev, err := mm.rootDevice(ss)
	require.NoError(t, err)
	assert.Equal(t, "/dev/vg0/daily-root-snap", dev)
}

func TestRootDeviceFallsBackToFstab(t *testing.T) {
	root := t.TempDir()
	mgr := newFakeManager()

	// a set with no root ("/") member at all
	opt := entities.NewSnapshot("daily-opt", "daily", "none", "/dev/vg0/opt", 1000, "/opt", "fake")
	opt.DevPath = "/dev/vg0/daily-opt-snap"
	ss := entities.NewSnapshotSet("daily", 1000, []*entities.Snapshot{opt})
	mgr.add(ss)

	fstab := func() ([]blockdev.FstabEntry, error) {
		return []blockdev.FstabEntry{
			{Device: "UUID=aaaa-bbbb", MountPoint: "/", FSType: "ext4", Options: []string{"defaults"}},
		}, nil
	}

	mm, err := New(mgr, root, WithFstabReader(fstab))
	require.NoError(t, err)
	mm.devs = fakeDeviceResolverWith("aaaa-bbbb", "/dev/sda1")

	dev, err := mm.rootDevice(ss)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda1", dev)
}
