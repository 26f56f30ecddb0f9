// Package mounts implements spec.md §4.7: chroot-style mounting of a
// snapshot set's members under a controlled directory, so a caller can
// inspect or run commands against a point-in-time root file system
// without booting it, grounded on snapm.manager._mounts.
package mounts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/bootintegration"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/selection"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// apiFilesystems are bind/virtual mounts made available inside every
// chroot after the snapshot set's own members, in this order.
var apiFilesystems = []string{"proc", "sys", "dev", "run"}

// ManagerView is the narrow Manager contract Mounts needs: finding the
// SnapshotSet a mount directory corresponds to.
type ManagerView interface {
	FindSnapshotSets(sel selection.Selection) []*entities.SnapshotSet
}

// Mount is one chroot-style mount of a SnapshotSet, grounded on
// snapm.manager._mounts.Mount.
type Mount struct {
	snapset *entities.SnapshotSet
	root    string
	mounted bool

	subMounts []string // paths mounted under root, in mount order (for rollback/umount)
}

// NewMount constructs a Mount for snapset rooted at root, initially
// unmounted (used by tests to exercise operations on an unmounted Mount;
// Mounts.discover and Mounts.Mount build their Mount values directly).
func NewMount(snapset *entities.SnapshotSet, root string) *Mount {
	return &Mount{snapset: snapset, root: root}
}

// Snapset returns the SnapshotSet this Mount was constructed for.
func (m *Mount) Snapset() *entities.SnapshotSet { return m.snapset }

// Root returns the directory this SnapshotSet is (or would be) mounted at.
func (m *Mount) Root() string { return m.root }

// Mounted reports whether this Mount is actually mounted.
func (m *Mount) Mounted() bool { return m.mounted }

// Mounts discovers and manages chroot-style mounts of snapshot sets under
// a controlled root directory, grounded on
// snapm.manager._mounts.Mounts.
type Mounts struct {
	manager  ManagerView
	rootDir  string
	resolver *blockdev.Resolver
	devs     bootintegration.DeviceResolver
	runner   exec.Runner
	fstab    func() ([]blockdev.FstabEntry, error)
	mount    func(what, where, fstype, options string) error
	umount   func(where string) error
	log      *snapmlog.Logger

	mountList    []*Mount
	mountsByName map[string]*Mount
}

// Option configures a Mounts instance.
type Option func(*Mounts)

// WithResolver overrides the blockdev.Resolver used for mount-point
// lookups; defaults to one over blockdev.NewOSBackend().
func WithResolver(r *blockdev.Resolver) Option {
	return func(mm *Mounts) { mm.resolver = r }
}

// WithDeviceResolver overrides the UUID=/LABEL= resolver; defaults to
// bootintegration.NewBlkidResolver over the configured Runner.
func WithDeviceResolver(d bootintegration.DeviceResolver) Option {
	return func(mm *Mounts) { mm.devs = d }
}

// WithRunner overrides the exec.Runner used for blkid/xfs_db callouts;
// defaults to exec.OSRunner.
func WithRunner(r exec.Runner) Option {
	return func(mm *Mounts) { mm.runner = r }
}

// WithFstabReader overrides how /etc/fstab is read, for tests.
func WithFstabReader(f func() ([]blockdev.FstabEntry, error)) Option {
	return func(mm *Mounts) { mm.fstab = f }
}

// WithMountFuncs overrides the low-level mount(2)/umount(2) calls, for
// tests that cannot actually mount file systems.
func WithMountFuncs(mount func(what, where, fstype, options string) error, umount func(where string) error) Option {
	return func(mm *Mounts) {
		mm.mount = mount
		mm.umount = umount
	}
}

// New constructs a Mounts over rootDir, discovering any mounts already
// present from a previous process, grounded on Mounts.__init__.
func New(mgr ManagerView, rootDir string, opts ...Option) (*Mounts, error) {
	mm := &Mounts{
		manager:      mgr,
		rootDir:      rootDir,
		resolver:     blockdev.NewResolver(blockdev.NewOSBackend()),
		fstab:        blockdev.NewOSBackend().Fstab,
		mount:        mountFS,
		umount:       umountFS,
		log:          snapmlog.New(snapmlog.DebugManager, "mounts"),
		mountsByName: map[string]*Mount{},
	}
	for _, opt := range opts {
		opt(mm)
	}
	if mm.runner == nil {
		mm.runner = exec.OSRunner{}
	}
	if mm.devs == nil {
		mm.devs = bootintegration.NewBlkidResolver(mm.runner)
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, apferr.Wrap(apferr.System, "create mounts root directory "+rootDir, err)
	}
	if err := mm.discover(); err != nil {
		return nil, err
	}
	return mm, nil
}

// discover scans rootDir for directories that are mount points and that
// correspond to a known SnapshotSet, registering them as already-mounted
// Mount objects, grounded on Mounts._discover_mounts.
func (mm *Mounts) discover() error {
	entries, err := os.ReadDir(mm.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apferr.Wrap(apferr.System, "read mounts root directory "+mm.rootDir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(mm.rootDir, name)

		sets := mm.manager.FindSnapshotSets(selection.Selection{Name: name})
		if len(sets) == 0 {
			mm.log.Infof("Skipping non-snapshot set path %s", path)
			continue
		}

		if !isMountPoint(path) {
			mm.log.Infof("Ignoring invalid mount path %s: not a mount point", path)
			continue
		}

		snapset := sets[0]
		mount := &Mount{snapset: snapset, root: path, mounted: true}

		missingSet := missingSubmounts(path, snapset.MountPoints())
		if len(missingSet) > 0 {
			mm.log.Warnf("Missing snapshot set submounts under %s: %s", path, strings.Join(missingSet, ", "))
		}
		missingAPI := missingSubmounts(path, apiFilesystems)
		if len(missingAPI) > 0 {
			mm.log.Warnf("Missing API file system submounts under %s: %s", path, strings.Join(missingAPI, ", "))
		}

		snapset.MountRoot = path
		mm.mountList = append(mm.mountList, mount)
		mm.mountsByName[snapset.Name] = mount
	}
	return nil
}

func missingSubmounts(root string, relPaths []string) []string {
	var missing []string
	for _, rel := range relPaths {
		if rel == "/" || rel == "" {
			continue
		}
		p := filepath.Join(root, rel)
		if !isMountPoint(p) {
			missing = append(missing, rel)
		}
	}
	return missing
}

// Mount mounts snapset's members under mm.rootDir/<name>, rolling back
// every already-completed mount if any step fails, grounded on
// Mounts.mount.
func (mm *Mounts) Mount(snapset *entities.SnapshotSet) (*Mount, error) {
	if existing, ok := mm.mountsByName[snapset.Name]; ok {
		mm.log.Infof("SnapshotSet %s is already mounted at %s", snapset.Name, existing.root)
		return existing, nil
	}

	root := filepath.Join(mm.rootDir, snapset.Name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apferr.Wrap(apferr.System, "create mount directory "+root, err)
	}

	mount := &Mount{snapset: snapset, root: root}
	var mounted []string

	unwind := func() {
		for i := len(mounted) - 1; i >= 0; i-- {
			if err := mm.umount(mounted[i]); err != nil {
				mm.log.Warnf("rollback: failed to unmount %s: %v", mounted[i], err)
			}
		}
		os.Remove(root)
	}

	rootDevice, err := mm.rootDevice(snapset)
	if err != nil {
		os.Remove(root)
		return nil, err
	}
	if err := mm.mount(rootDevice, root, "", "defaults"); err != nil {
		os.Remove(root)
		return nil, apferr.Wrap(apferr.Mount, fmt.Sprintf("mount snapshot set %s root", snapset.Name), err)
	}
	mounted = append(mounted, root)

	entries, err := mm.fstabSubmounts(snapset)
	if err != nil {
		unwind()
		return nil, err
	}
	for _, sub := range entries {
		target := filepath.Join(root, sub.Where)
		if !isDir(target) {
			mm.log.Warnf("Mount point %s does not exist in snapshot set %s, skipping", sub.Where, snapset.Name)
			continue
		}
		if err := mm.mount(sub.What, target, sub.FSType, sub.Options); err != nil {
			unwind()
			return nil, apferr.Wrap(apferr.Mount, fmt.Sprintf("mount %s at %s", sub.What, target), err)
		}
		mounted = append(mounted, target)
	}

	for _, api := range apiFilesystems {
		target := filepath.Join(root, api)
		if err := os.MkdirAll(target, 0o755); err != nil {
			unwind()
			return nil, apferr.Wrap(apferr.System, "create API mount point "+target, err)
		}
		if err := mm.mount(api, target, "", "bind"); err != nil {
			unwind()
			return nil, apferr.Wrap(apferr.Mount, fmt.Sprintf("mount API file system %s", api), err)
		}
		mounted = append(mounted, target)
	}

	mount.mounted = true
	mount.subMounts = mounted[1:]
	snapset.MountRoot = root

	mm.mountList = append(mm.mountList, mount)
	mm.mountsByName[snapset.Name] = mount
	return mount, nil
}

// Umount unmounts snapset, in reverse mount order, and removes its mount
// directory, grounded on Mounts.umount.
func (mm *Mounts) Umount(snapset *entities.SnapshotSet) error {
	mount, ok := mm.mountsByName[snapset.Name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "snapshot set %s is not mounted", snapset.Name)
	}

	all := append([]string{}, mount.subMounts...)
	for i := len(all) - 1; i >= 0; i-- {
		if err := mm.umount(all[i]); err != nil {
			return apferr.Wrap(apferr.Umount, "unmount "+all[i], err)
		}
	}
	if err := mm.umount(mount.root); err != nil {
		return apferr.Wrap(apferr.Umount, "unmount "+mount.root, err)
	}

	if err := os.Remove(mount.root); err != nil && !os.IsNotExist(err) {
		return apferr.Wrap(apferr.System, "remove mount directory "+mount.root, err)
	}

	mount.mounted = false
	snapset.MountRoot = ""

	delete(mm.mountsByName, snapset.Name)
	for i, m := range mm.mountList {
		if m == mount {
			mm.mountList = append(mm.mountList[:i], mm.mountList[i+1:]...)
			break
		}
	}
	return nil
}

// FindMounts returns every current Mount matching sel.
func (mm *Mounts) FindMounts(sel selection.Selection) []*Mount {
	var out []*Mount
	for _, mount := range mm.mountList {
		if selection.Matches(sel, mount.snapset) {
			out = append(out, mount)
		}
	}
	return out
}

// GetSysMount returns the SysMount view of the running system root.
func (mm *Mounts) GetSysMount() *SysMount {
	return NewSysMount()
}

// rootDevice resolves the device to mount at the chroot's own root:
// preferably the snapshot set's own "/" member, falling back to the
// host's current "/" device read from /etc/fstab (resolving a
// UUID=/LABEL=/PARTUUID=/PARTLABEL= specifier via resolveDevice), for
// sets that snapshot only a subset of the host's mounted file systems
// and rely on the running root being mounted read-only underneath
// them, grounded on Mounts.mount's device selection order.
func (mm *Mounts) rootDevice(snapset *entities.SnapshotSet) (string, error) {
	for _, s := range snapset.Snapshots {
		if s.MountPoint == "/" {
			if s.DevPath == "" {
				return "", apferr.Errorf(apferr.Path, "snapshot set %s root member has no active device path", snapset.Name)
			}
			return s.DevPath, nil
		}
	}

	entries, err := mm.fstab()
	if err != nil {
		return "", apferr.Wrap(apferr.System, "read fstab", err)
	}
	for _, e := range entries {
		if e.MountPoint != "/" {
			continue
		}
		dev, err := resolveDevice(mm.devs, e.Device)
		if err != nil {
			return "", apferr.Wrap(apferr.NotFound, "resolve current root device "+e.Device, err)
		}
		return dev, nil
	}
	return "", apferr.Errorf(apferr.NotFound, "snapshot set %s has no root (\"/\") member and host fstab has no root entry", snapset.Name)
}

// fstabSubmount is one non-root, non-swap fstab row whose mount point is
// a member of the set, with the snapshot devpath substituted for its
// original source device.
type fstabSubmount struct {
	What, Where, FSType, Options string
}

// fstabSubmounts reads /etc/fstab and returns, in fstab order, every row
// whose mount point is a member of snapset other than "/", substituting
// the member's snapshot devpath for the original device, grounded on
// _build_snapset_mount_list (the Mounts-specific subset: rows that are
// not set members are not snapshotted and are therefore not mounted into
// the chroot).
func (mm *Mounts) fstabSubmounts(snapset *entities.SnapshotSet) ([]fstabSubmount, error) {
	entries, err := mm.fstab()
	if err != nil {
		return nil, apferr.Wrap(apferr.System, "read fstab", err)
	}

	byMountPoint := map[string]*entities.Snapshot{}
	for _, s := range snapset.Snapshots {
		if s.MountPoint != "" && s.MountPoint != "/" {
			byMountPoint[s.MountPoint] = s
		}
	}

	var out []fstabSubmount
	seen := map[string]bool{}
	for _, e := range entries {
		if e.MountPoint == "/" || e.MountPoint == "none" || strings.Contains(strings.Join(e.Options, ","), "swap") {
			continue
		}
		snap, ok := byMountPoint[e.MountPoint]
		if !ok || seen[e.MountPoint] {
			continue
		}
		seen[e.MountPoint] = true
		options := strings.Join(e.Options, ",")
		if e.FSType == "xfs" {
			if quota, qerr := xfsQuotaOptions(mm.runner, snap.DevPath); qerr == nil && quota != "" {
				options = strings.Join([]string{options, quota}, ",")
			} else if qerr != nil {
				mm.log.Warnf("Could not determine xfs quota options for %s: %v", snap.DevPath, qerr)
			}
		}
		out = append(out, fstabSubmount{
			What: snap.DevPath, Where: e.MountPoint, FSType: e.FSType,
			Options: options,
		})
	}

	// Any set member mount point absent from fstab still gets mounted,
	// sorted for determinism, matching the test fixtures which always
	// populate fstab for every member but guarding against drift.
	var remaining []string
	for mp := range byMountPoint {
		if !seen[mp] {
			remaining = append(remaining, mp)
		}
	}
	sort.Strings(remaining)
	for _, mp := range remaining {
		snap := byMountPoint[mp]
		out = append(out, fstabSubmount{What: snap.DevPath, Where: mp, FSType: "auto", Options: "defaults"})
	}

	return out, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isMountPoint(path string) bool {
	entries, err := blockdev.NewOSBackend().Mounts()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.MountPoint == path {
			return true
		}
	}
	return false
}

// mountFS performs the real mount(2) syscall.
func mountFS(what, where, fstype, options string) error {
	flags, data := parseMountOptions(options)
	if fstype == "" {
		fstype = "none"
	}
	if err := unix.Mount(what, where, fstype, flags, data); err != nil {
		return apferr.Wrap(apferr.Mount, fmt.Sprintf("mount(%s, %s, %s)", what, where, fstype), err)
	}
	return nil
}

// umountFS performs the real umount(2) syscall.
func umountFS(where string) error {
	if err := unix.Unmount(where, 0); err != nil {
		return apferr.Wrap(apferr.Umount, "umount "+where, err)
	}
	return nil
}

// parseMountOptions translates a subset of mount(8) option strings to
// their MS_* flag equivalents, passing the remainder through as the
// mount(2) filesystem-specific data string, mirroring how util-linux's
// mount(8) itself splits flags from data.
func parseMountOptions(options string) (uintptr, string) {
	if options == "bind" {
		return unix.MS_BIND, ""
	}
	var flags uintptr
	var data []string
	for _, opt := range strings.Split(options, ",") {
		switch opt {
		case "ro":
			flags |= unix.MS_RDONLY
		case "nosuid":
			flags |= unix.MS_NOSUID
		case "nodev":
			flags |= unix.MS_NODEV
		case "noexec":
			flags |= unix.MS_NOEXEC
		case "defaults", "":
			continue
		default:
			data = append(data, opt)
		}
	}
	return flags, strings.Join(data, ",")
}
