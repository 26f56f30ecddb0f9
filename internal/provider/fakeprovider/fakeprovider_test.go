package fakeprovider

import (
	"testing"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPolicy(t *testing.T, spec string, ctx sizepolicy.Context) *sizepolicy.Policy {
	t.Helper()
	p, err := sizepolicy.Parse(spec, ctx)
	require.NoError(t, err)
	return p
}

func createReq(source, snapsetName, snapsetIndex string, ts int64, policy *sizepolicy.Policy) provider.CreateRequest {
	return provider.CreateRequest{
		Source:       source,
		MountPoint:   source,
		SnapsetName:  snapsetName,
		SnapsetIndex: snapsetIndex,
		Timestamp:    ts,
		Policy:       policy,
	}
}

func TestCreateSnapshotLifecycle(t *testing.T) {
	p := New("fake")
	p.AddSource(Source{
		Path: "/", IsMount: true, Origin: "vg0-root",
		FreeBytes: 10 << 30, UsedBytes: 5 << 30, DevSize: 10 << 30,
		PoolName: "vg0",
	})

	ctx := sizepolicy.Context{MountPoint: "/", FreeBytes: 10 << 30, UsedBytes: 5 << 30}
	policy := mustPolicy(t, "2GiB", ctx)
	req := createReq("/", "testset0", "none", 1700000000, policy)

	require.NoError(t, p.StartTransaction())
	require.NoError(t, p.CheckCreateSnapshot(req))
	snap, err := p.CreateSnapshot(req)
	require.NoError(t, err)
	require.NoError(t, p.EndTransaction())

	assert.Equal(t, uint64(2<<30), snap.Size)
	assert.Equal(t, "testset0", snap.SnapsetName)

	snaps, err := p.DiscoverSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, snap.Name, snaps[0].Name)
}

func TestCheckCreateSnapshotInsufficientSpace(t *testing.T) {
	p := New("fake")
	p.AddSource(Source{
		Path: "/", IsMount: true, Origin: "vg0-root",
		FreeBytes: 1 << 20, UsedBytes: 0, DevSize: 1 << 20,
		PoolName: "vg0",
	})
	ctx := sizepolicy.Context{MountPoint: "/", FreeBytes: 1 << 20}
	policy := mustPolicy(t, "2GiB", ctx)
	req := createReq("/", "testset0", "none", 1700000000, policy)

	require.NoError(t, p.StartTransaction())
	err := p.CheckCreateSnapshot(req)
	require.Error(t, err)
	assert.Equal(t, apferr.NoSpace, apferr.CodeOf(err))
}

func TestRevertBlocksFurtherSnapshotsOnSameSource(t *testing.T) {
	p := New("fake")
	p.AddSource(Source{Path: "/", IsMount: true, Origin: "vg0-root", FreeBytes: 10 << 30, DevSize: 10 << 30, PoolName: "vg0"})
	ctx := sizepolicy.Context{MountPoint: "/", FreeBytes: 10 << 30}
	policy := mustPolicy(t, "1GiB", ctx)
	req := createReq("/", "testset0", "none", 1700000000, policy)

	require.NoError(t, p.StartTransaction())
	require.NoError(t, p.CheckCreateSnapshot(req))
	snap, err := p.CreateSnapshot(req)
	require.NoError(t, err)
	require.NoError(t, p.EndTransaction())

	require.NoError(t, p.RevertSnapshot(snap.Name))

	ok, err := p.CanSnapshot("/")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, apferr.Busy, apferr.CodeOf(err))
}
