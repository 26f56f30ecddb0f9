// Package blockdev resolves snapshot sources to block devices and back,
// the plumbing spec.md §4.4/§4.7 assumes (device_from_mount_point,
// mount_point_space_used, fstab parsing for boot integration). No
// __init__.py from the original plugins package survived distillation,
// so this is grounded on the teacher's pattern of wrapping an OS
// resource behind a small interface (internal/device.OpenDMG) plus the
// fstab.Line/Mounter split used elsewhere in the retrieval pack.
package blockdev

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

// MountEntry is one line of /proc/self/mounts.
type MountEntry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    []string
}

// FstabEntry is one non-comment line of /etc/fstab.
type FstabEntry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    []string
	Dump       int
	Pass       int
}

// Backend abstracts the host facts this package needs, so Manager and
// BootIntegration tests can substitute FakeBackend instead of reading
// real kernel/filesystem state.
type Backend interface {
	Mounts() ([]MountEntry, error)
	Fstab() ([]FstabEntry, error)
	IsBlockDevice(path string) (bool, error)
	SpaceUsage(mountPoint string) (free, used, total uint64, err error)
}

// OSBackend is the real Backend, reading /proc/self/mounts, /etc/fstab
// and calling statfs(2).
type OSBackend struct {
	MountsPath string
	FstabPath  string
}

// NewOSBackend returns an OSBackend reading the standard system paths.
func NewOSBackend() *OSBackend {
	return &OSBackend{MountsPath: "/proc/self/mounts", FstabPath: "/etc/fstab"}
}

func (b *OSBackend) Mounts() ([]MountEntry, error) {
	f, err := os.Open(b.MountsPath)
	if err != nil {
		return nil, apferr.Wrap(apferr.System, "unable to read mount table", err)
	}
	defer f.Close()
	return ParseMounts(f)
}

func (b *OSBackend) Fstab() ([]FstabEntry, error) {
	f, err := os.Open(b.FstabPath)
	if err != nil {
		return nil, apferr.Wrap(apferr.System, "unable to read fstab", err)
	}
	defer f.Close()
	return ParseFstab(f)
}

func (b *OSBackend) IsBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, apferr.Wrap(apferr.System, fmt.Sprintf("stat %s", path), err)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}

func (b *OSBackend) SpaceUsage(mountPoint string) (free, used, total uint64, err error) {
	var st unix.Statfs_t
	if statErr := unix.Statfs(mountPoint, &st); statErr != nil {
		return 0, 0, 0, apferr.Wrap(apferr.System, fmt.Sprintf("statfs %s", mountPoint), statErr)
	}
	bsize := uint64(st.Bsize)
	total = st.Blocks * bsize
	free = st.Bfree * bsize
	used = total - free
	return free, used, total, nil
}

// ParseMounts parses /proc/self/mounts format: "device mountpoint fstype options dump pass".
func ParseMounts(r io.Reader) ([]MountEntry, error) {
	var out []MountEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		out = append(out, MountEntry{
			Device:     unescapeMountField(fields[0]),
			MountPoint: unescapeMountField(fields[1]),
			FSType:     fields[2],
			Options:    strings.Split(fields[3], ","),
		})
	}
	return out, sc.Err()
}

// ParseFstab parses /etc/fstab format, skipping comments and blank lines.
func ParseFstab(r io.Reader) ([]FstabEntry, error) {
	var out []FstabEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		entry := FstabEntry{
			Device:     unescapeMountField(fields[0]),
			MountPoint: unescapeMountField(fields[1]),
			FSType:     fields[2],
			Options:    strings.Split(fields[3], ","),
		}
		if len(fields) > 4 {
			entry.Dump, _ = strconv.Atoi(fields[4])
		}
		if len(fields) > 5 {
			entry.Pass, _ = strconv.Atoi(fields[5])
		}
		out = append(out, entry)
	}
	return out, sc.Err()
}

// unescapeMountField reverses the octal escaping the kernel applies to
// whitespace and backslashes in /proc/*/mounts fields.
func unescapeMountField(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Resolver resolves snapshot sources to block devices using a Backend.
type Resolver struct {
	Backend Backend
}

func NewResolver(b Backend) *Resolver {
	return &Resolver{Backend: b}
}

// DeviceFromMountPoint returns the block device backing mountPoint.
func (r *Resolver) DeviceFromMountPoint(mountPoint string) (string, error) {
	mounts, err := r.Backend.Mounts()
	if err != nil {
		return "", err
	}
	for _, m := range mounts {
		if m.MountPoint == mountPoint {
			return m.Device, nil
		}
	}
	return "", apferr.Errorf(apferr.NotFound, "no mount found at %s", mountPoint)
}

// MountPointFromDevice is the inverse of DeviceFromMountPoint.
func (r *Resolver) MountPointFromDevice(device string) (string, error) {
	mounts, err := r.Backend.Mounts()
	if err != nil {
		return "", err
	}
	for _, m := range mounts {
		if m.Device == device {
			return m.MountPoint, nil
		}
	}
	return "", apferr.Errorf(apferr.NotFound, "device %s is not mounted", device)
}

// MountPointSpaceUsed returns the bytes used on the file system mounted
// at mountPoint.
func (r *Resolver) MountPointSpaceUsed(mountPoint string) (uint64, error) {
	_, used, _, err := r.Backend.SpaceUsage(mountPoint)
	return used, err
}

// ResolveSource classifies a snapshot source argument: either a mount
// point (returns its backing device) or a bare block device (returned
// unchanged), mirroring can_snapshot's S_ISBLK(stat(source)) branch in
// the original lvm2 plugin.
func (r *Resolver) ResolveSource(source string) (device string, mountPoint string, err error) {
	isBlk, statErr := r.Backend.IsBlockDevice(source)
	if statErr == nil && isBlk {
		return source, "", nil
	}
	device, err = r.DeviceFromMountPoint(source)
	if err != nil {
		return "", "", err
	}
	return device, source, nil
}
