package lvm2cow

import (
	"testing"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLVSAll = `{
  "report": [
    {
      "lv": [
        {"vg_name":"vg0","lv_name":"root-snapset_testset0_1700000000_-","lv_attr":"swi-a-s---","origin":"root","pool_lv":"","lv_size":"1073741824B","data_percent":"12.50","lv_role":"public,thicksnapshot"}
      ]
    }
  ]
}`

func TestDiscoverSnapshots(t *testing.T) {
	r := exec.NewFakeRunner()
	r.Responses["lvs"] = exec.FakeResponse{Result: exec.Result{Stdout: sampleLVSAll}}
	p := New(r)

	snaps, err := p.DiscoverSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "vg0/root-snapset_testset0_1700000000_-", snaps[0].Name)
	assert.Equal(t, "testset0", snaps[0].SnapsetName)
	assert.Equal(t, int64(1700000000), snaps[0].Timestamp)
	assert.Equal(t, "/", snaps[0].MountPoint)
	assert.Equal(t, uint64(1073741824), snaps[0].Size)
}

func TestCanSnapshotBusyDuringMerge(t *testing.T) {
	r := exec.NewFakeRunner()
	r.Responses["lvs"] = exec.FakeResponse{Result: exec.Result{Stdout: `{"report":[{"lv":[{"vg_name":"vg0","lv_name":"root","lv_attr":"Owi-aos---"}]}]}`}}
	p := New(r)

	ok, err := p.CanSnapshot("/dev/vg0/root")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, apferr.Busy, apferr.CodeOf(err))
}

func TestCheckCreateAndCreateSnapshot(t *testing.T) {
	r := exec.NewFakeRunner()
	r.Responses["vgs"] = exec.FakeResponse{Result: exec.Result{Stdout: `{"report":[{"vg":[{"vg_name":"vg0","vg_free":"10737418240B"}]}]}`}}
	r.Responses["lvs"] = exec.FakeResponse{Result: exec.Result{Stdout: `{"report":[{"lv":[{"vg_name":"vg0","lv_name":"root","lv_size":"21474836480B"}]}]}`}}
	r.Responses["lvcreate"] = exec.FakeResponse{Result: exec.Result{}}
	p := New(r)

	ctx := sizepolicy.Context{MountPoint: "/", FreeBytes: 10 << 30}
	policy, err := sizepolicy.Parse("1GiB", ctx)
	require.NoError(t, err)

	req := provider.CreateRequest{
		Origin: "/dev/vg0/root", MountPoint: "/", SnapsetName: "testset0",
		SnapsetIndex: "none", Timestamp: 1700000000, Policy: policy,
	}

	require.NoError(t, p.StartTransaction())
	require.NoError(t, p.CheckCreateSnapshot(req))
	snap, err := p.CreateSnapshot(req)
	require.NoError(t, err)
	require.NoError(t, p.EndTransaction())

	assert.Equal(t, "vg0/root-snapset_testset0_1700000000_-", snap.Name)
	assert.Equal(t, uint64(1<<30), snap.Size)

	var creates []exec.Invocation
	for _, c := range r.Calls {
		if c.Name == "lvcreate" {
			creates = append(creates, c)
		}
	}
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0].Args, "root-snapset_testset0_1700000000_-")
}
