package lvm2thin

import (
	"testing"

	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverThinSnapshots(t *testing.T) {
	r := exec.NewFakeRunner()
	r.Responses["lvs"] = exec.FakeResponse{Result: exec.Result{Stdout: `{
		"report": [{"lv": [
			{"vg_name":"vg0","lv_name":"data-snapset_hourly_1700000500_-var-log","lv_attr":"Vwi-a-tz--","origin":"data","pool_lv":"pool0","lv_size":"2147483648B","lv_role":"public,thinsnapshot"}
		]}]
	}`}}
	p := New(r)

	snaps, err := p.DiscoverSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "hourly", snaps[0].SnapsetName)
	assert.Equal(t, "/var/log", snaps[0].MountPoint)
}

func TestResizeSnapshotIsNoOp(t *testing.T) {
	p := New(exec.NewFakeRunner())
	assert.NoError(t, p.ResizeSnapshot("vg0/snap", nil))
}
