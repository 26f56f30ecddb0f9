package stratis

import (
	"testing"

	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "pools": [
    {"name":"pool0","size":"107374182400","free":"53687091200","filesystems":[
      {"name":"data-snapset_testset0_1700000000_-var-lib-data","uuid":"u1","origin":"data","size":"10737418240","used":"1073741824"}
    ]}
  ]
}`

func TestDiscoverStratisSnapshots(t *testing.T) {
	r := exec.NewFakeRunner()
	r.Responses["stratis"] = exec.FakeResponse{Result: exec.Result{Stdout: sampleReport}}
	p := New(r)

	snaps, err := p.DiscoverSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "testset0", snaps[0].SnapsetName)
	assert.Equal(t, "/var/lib/data", snaps[0].MountPoint)
}

func TestSetAutoactivateUnsupported(t *testing.T) {
	p := New(exec.NewFakeRunner())
	err := p.SetAutoactivate("pool0/fs0", false)
	assert.ErrorIs(t, err, provider.ErrNotSupported)
}
