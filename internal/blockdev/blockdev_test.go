package blockdev

import (
	"strings"
	"testing"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMounts = `/dev/mapper/vg0-root / ext4 rw,relatime 0 0
/dev/mapper/vg0-var /var\040log xfs rw,relatime 0 0
`

func TestParseMountsUnescapesWhitespace(t *testing.T) {
	entries, err := ParseMounts(strings.NewReader(sampleMounts))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/", entries[0].MountPoint)
	assert.Equal(t, "/var log", entries[1].MountPoint)
}

const sampleFstab = `# comment
/dev/mapper/vg0-root / ext4 defaults 0 1
UUID=abcd /boot ext4 defaults 0 2
`

func TestParseFstab(t *testing.T) {
	entries, err := ParseFstab(strings.NewReader(sampleFstab))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/boot", entries[1].MountPoint)
	assert.Equal(t, 2, entries[1].Pass)
}

func TestResolveSourceMountPoint(t *testing.T) {
	fb := NewFakeBackend()
	fb.MountEntries = []MountEntry{{Device: "/dev/mapper/vg0-root", MountPoint: "/"}}
	r := NewResolver(fb)

	device, mp, err := r.ResolveSource("/")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mapper/vg0-root", device)
	assert.Equal(t, "/", mp)
}

func TestResolveSourceBlockDevice(t *testing.T) {
	fb := NewFakeBackend()
	fb.BlockDevices["/dev/mapper/vg0-raw"] = true
	r := NewResolver(fb)

	device, mp, err := r.ResolveSource("/dev/mapper/vg0-raw")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mapper/vg0-raw", device)
	assert.Equal(t, "", mp)
}

func TestDeviceFromMountPointNotFound(t *testing.T) {
	fb := NewFakeBackend()
	r := NewResolver(fb)
	_, err := r.DeviceFromMountPoint("/nonexistent")
	require.Error(t, err)
	assert.Equal(t, apferr.NotFound, apferr.CodeOf(err))
}
