package mounts

import (
	"context"
	"testing"

	"github.com/deploymenttheory/snapm/internal/bootintegration"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeviceUUID(t *testing.T) {
	devs := bootintegration.NewFakeDeviceResolver()
	devs.ByUUID["1111-2222"] = "/dev/sda1"

	dev, err := resolveDevice(devs, "UUID=1111-2222")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda1", dev)
}

func TestResolveDeviceLabel(t *testing.T) {
	devs := bootintegration.NewFakeDeviceResolver()
	devs.ByLabel["root"] = "/dev/sda2"

	dev, err := resolveDevice(devs, "LABEL=root")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda2", dev)
}

func TestResolveDeviceUUIDNotFound(t *testing.T) {
	devs := bootintegration.NewFakeDeviceResolver()
	_, err := resolveDevice(devs, "UUID=missing")
	assert.Error(t, err)
}

func TestResolveDevicePartUUIDNotFound(t *testing.T) {
	devs := bootintegration.NewFakeDeviceResolver()
	_, err := resolveDevice(devs, "PARTUUID=00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

func TestResolveDevicePlainPath(t *testing.T) {
	devs := bootintegration.NewFakeDeviceResolver()
	dev, err := resolveDevice(devs, "/dev/vda1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/vda1", dev)
}

func TestXFSQuotaOptionsParsesFlags(t *testing.T) {
	runner := exec.NewFakeRunner()
	runner.Responses["xfs_db"] = exec.FakeResponse{
		Result: exec.Result{Stdout: "qflags = 0xcb\n"},
	}

	opts, err := xfsQuotaOptions(runner, "/dev/sda1")
	require.NoError(t, err)
	assert.Contains(t, opts, "uquota")
	assert.Contains(t, opts, "gquota")
	assert.Contains(t, opts, "pqnoenforce")
}

func TestXFSQuotaOptionsNoQuota(t *testing.T) {
	runner := exec.NewFakeRunner()
	runner.Responses["xfs_db"] = exec.FakeResponse{
		Result: exec.Result{Stdout: "qflags = 0x0\n"},
	}

	opts, err := xfsQuotaOptions(runner, "/dev/sda1")
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestXFSQuotaOptionsMalformedOutput(t *testing.T) {
	runner := exec.NewFakeRunner()
	runner.Responses["xfs_db"] = exec.FakeResponse{
		Result: exec.Result{Stdout: "qflags = not-hex\n"},
	}

	_, err := xfsQuotaOptions(runner, "/dev/sda1")
	assert.Error(t, err)
}

func TestXFSQuotaOptionsCommandFailure(t *testing.T) {
	runner := exec.NewFakeRunner()
	runner.Responses["xfs_db"] = exec.FakeResponse{
		Err: context.DeadlineExceeded,
	}

	_, err := xfsQuotaOptions(runner, "/dev/sda1")
	assert.Error(t, err)
}
