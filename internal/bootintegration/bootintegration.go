// Package bootintegration implements spec.md §4.4: mapping a SnapshotSet
// to a bootable boot-loader entry (and a companion revert entry), and
// indexing existing entries back onto sets by the snapm.snapset=/
// snapm.revert= kernel command line tag, grounded on the original
// snapm.manager._boot module (_find_snapset_root, _build_snapset_mount_list,
// _build_swap_list, create_snapset_boot_entry/create_snapset_revert_entry,
// BootCache).
//
// The external entry repository (the `boom` tool in the original) is
// treated per spec.md §1 as an external collaborator: this package talks
// to it only through the BootEntryStore interface, never directly.
package bootintegration

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/manager"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// Kernel command-line tag arguments, per spec.md §7.
const (
	SnapsetArg = "snapm.snapset"
	RevertArg  = "snapm.revert"
)

// BootEntryOptions describes the boot-loader entry to create. It mirrors
// the arguments _create_boom_boot_entry passes to the boom API.
type BootEntryOptions struct {
	Version    string // uname release, e.g. "6.8.0-generic"
	Title      string
	TagArg     string // "snapm.snapset=<uuid>" or "snapm.revert=<uuid>"
	RootDevice string
	Mounts     []string // "device:where:fstype:options", only set for boot entries
	Swaps      []string // "device:options"
}

// BootEntryRecord is one existing entry as reported by the store, used to
// rebuild the BootCache.
type BootEntryRecord struct {
	ID      string
	Options string // the entry's kernel command line options string
}

// BootEntryStore is the external boot-loader entry repository (`boom` in
// the original). Implementations shell out to or otherwise drive the
// real tool; FakeStore is the in-memory test double.
type BootEntryStore interface {
	CreateEntry(opts BootEntryOptions) (entryID string, err error)
	DeleteEntry(entryID string) error
	FindEntries() ([]BootEntryRecord, error)
}

// DeviceResolver resolves a filesystem UUID or label to its device path,
// grounded on get_device_path's "blkid --uuid|--label" callout. Only
// needed when a root fstab entry is keyed by UUID=/LABEL= rather than a
// bare device path.
type DeviceResolver interface {
	ResolveDevicePath(identifier, byType string) (devicePath string, err error)
}

// BootIntegration implements manager.BootStore against a BootEntryStore
// and an blockdev.Resolver used to compute root devices and mount lists.
type BootIntegration struct {
	store    BootEntryStore
	resolver *blockdev.Resolver
	devs     DeviceResolver // may be nil if fstab never uses UUID=/LABEL=
	log      *snapmlog.Logger

	bootCache   map[string]string // snapset name-or-uuid -> boot entry ID
	revertCache map[string]string // snapset name-or-uuid -> revert entry ID
}

// New constructs a BootIntegration. devs may be nil if the host's fstab
// never refers to the root device by UUID=/LABEL=. It does not refresh
// the cache; callers (typically manager.New via DiscoverSnapshotSets)
// call RefreshCache explicitly.
func New(store BootEntryStore, resolver *blockdev.Resolver, devs DeviceResolver) *BootIntegration {
	return &BootIntegration{
		store:       store,
		resolver:    resolver,
		devs:        devs,
		log:         snapmlog.New(snapmlog.DebugBoot, "boot"),
		bootCache:   map[string]string{},
		revertCache: map[string]string{},
	}
}

// RefreshCache rebuilds the boot-entry and revert-entry caches from the
// store's current entries, grounded on BootCache.refresh_cache.
func (b *BootIntegration) RefreshCache() (bootCache, revertCache map[string]string, err error) {
	entries, err := b.store.FindEntries()
	if err != nil {
		return nil, nil, apferr.Wrap(apferr.Callout, "failed to list boot entries", err)
	}
	boot := map[string]string{}
	revert := map[string]string{}
	for _, e := range entries {
		if v, ok := parseEntryArg(e.Options, SnapsetArg); ok {
			boot[v] = e.ID
		}
		if v, ok := parseEntryArg(e.Options, RevertArg); ok {
			revert[v] = e.ID
		}
	}
	b.bootCache = boot
	b.revertCache = revert
	b.log.Debugf("refreshed boot cache with %d entries, revert cache with %d entries", len(boot), len(revert))
	return boot, revert, nil
}

// parseEntryArg scans a kernel command line options string for
// "<arg>=<value>", returning value, true if found.
func parseEntryArg(options, arg string) (string, bool) {
	for _, word := range strings.Fields(options) {
		if strings.HasPrefix(word, arg+"=") {
			return strings.TrimPrefix(word, arg+"="), true
		}
	}
	return "", false
}

// CreateBootEntry creates a boot entry that boots into snapset's root
// with its non-root members substituted into the fstab-derived mount
// list, grounded on create_snapset_boot_entry.
func (b *BootIntegration) CreateBootEntry(ss *entities.SnapshotSet) (string, error) {
	version, err := unameRelease()
	if err != nil {
		return "", err
	}
	title := fmt.Sprintf("Snapshot %s %d (%s)", ss.Name, ss.Timestamp, version)
	root, err := b.findSnapsetRoot(ss, false)
	if err != nil {
		return "", err
	}
	mounts, err := b.buildSnapsetMountList(ss)
	if err != nil {
		return "", err
	}
	swaps, err := b.buildSwapList()
	if err != nil {
		return "", err
	}
	id, err := b.store.CreateEntry(BootEntryOptions{
		Version:    version,
		Title:      title,
		TagArg:     fmt.Sprintf("%s=%s", SnapsetArg, ss.UUID.String()),
		RootDevice: root,
		Mounts:     mounts,
		Swaps:      swaps,
	})
	if err != nil {
		return "", apferr.Wrap(apferr.Callout, "failed to create boot entry", err)
	}
	b.bootCache[ss.Name] = id
	b.log.Debugf("created boot entry %q for snapshot set uuid=%s", title, ss.UUID)
	return id, nil
}

// CreateRevertEntry creates a boot entry that boots into the pre-snapshot
// origin, grounded on create_snapset_revert_entry.
func (b *BootIntegration) CreateRevertEntry(ss *entities.SnapshotSet) (string, error) {
	version, err := unameRelease()
	if err != nil {
		return "", err
	}
	title := fmt.Sprintf("Revert %s %d (%s)", ss.Name, ss.Timestamp, version)
	root, err := b.findSnapsetRoot(ss, true)
	if err != nil {
		return "", err
	}
	id, err := b.store.CreateEntry(BootEntryOptions{
		Version:    version,
		Title:      title,
		TagArg:     fmt.Sprintf("%s=%s", RevertArg, ss.UUID.String()),
		RootDevice: root,
	})
	if err != nil {
		return "", apferr.Wrap(apferr.Callout, "failed to create revert entry", err)
	}
	b.revertCache[ss.Name] = id
	b.log.Debugf("created revert entry %q for snapshot set uuid=%s", title, ss.UUID)
	return id, nil
}

// DeleteBootEntry deletes ss's boot entry, if any.
func (b *BootIntegration) DeleteBootEntry(ss *entities.SnapshotSet) error {
	return b.deleteCachedEntry(ss, b.bootCache, ss.BootEntryID)
}

// DeleteRevertEntry deletes ss's revert entry, if any.
func (b *BootIntegration) DeleteRevertEntry(ss *entities.SnapshotSet) error {
	return b.deleteCachedEntry(ss, b.revertCache, ss.RevertEntryID)
}

func (b *BootIntegration) deleteCachedEntry(ss *entities.SnapshotSet, cache map[string]string, knownID string) error {
	id := knownID
	if id == "" {
		id = cache[ss.Name]
	}
	if id == "" {
		id = cache[ss.UUID.String()]
	}
	if id == "" {
		return nil
	}
	if err := b.store.DeleteEntry(id); err != nil {
		return apferr.Wrap(apferr.Callout, "failed to delete boot entry "+id, err)
	}
	delete(cache, ss.Name)
	delete(cache, ss.UUID.String())
	return nil
}

// findSnapsetRoot resolves the device that backs the set's root file
// system: the root member's devpath (or origin, if origin is true), or
// else the system's real root device read from fstab, grounded on
// _find_snapset_root.
func (b *BootIntegration) findSnapsetRoot(ss *entities.SnapshotSet, origin bool) (string, error) {
	for _, s := range ss.Snapshots {
		if s.MountPoint == "/" {
			if origin {
				return s.Origin, nil
			}
			return s.DevPath, nil
		}
	}
	fstab, err := b.resolver.Backend.Fstab()
	if err != nil {
		return "", err
	}
	for _, e := range fstab {
		if e.MountPoint != "/" {
			continue
		}
		return b.resolveFstabDevice(e.Device)
	}
	return "", apferr.Errorf(apferr.NotFound, "could not find root device for snapset %s", ss.Name)
}

// resolveFstabDevice resolves a fstab "what" field that may be a bare
// device path, or a UUID=/LABEL= specifier requiring a blkid lookup via
// DeviceResolver, grounded on get_device_path.
func (b *BootIntegration) resolveFstabDevice(what string) (string, error) {
	switch {
	case strings.HasPrefix(what, "/"):
		return what, nil
	case strings.HasPrefix(what, "UUID="):
		return b.resolveDevice(strings.TrimPrefix(what, "UUID="), "uuid")
	case strings.HasPrefix(what, "LABEL="):
		return b.resolveDevice(strings.TrimPrefix(what, "LABEL="), "label")
	default:
		return "", apferr.Errorf(apferr.NotFound, "unrecognized fstab device specifier %q", what)
	}
}

func (b *BootIntegration) resolveDevice(identifier, byType string) (string, error) {
	if b.devs == nil {
		return "", apferr.Errorf(apferr.System, "no device resolver configured to resolve %s=%s", byType, identifier)
	}
	dev, err := b.devs.ResolveDevicePath(identifier, byType)
	if err != nil {
		return "", apferr.Wrap(apferr.Callout, fmt.Sprintf("failed to resolve %s=%s", byType, identifier), err)
	}
	return dev, nil
}

// buildSnapsetMountList builds "<device>:<where>:<fstype>:<options>"
// entries for every non-root, non-swap fstab mount, substituting in the
// snapshot devpath for any mount point that is itself a member of ss,
// grounded on _build_snapset_mount_list.
func (b *BootIntegration) buildSnapsetMountList(ss *entities.SnapshotSet) ([]string, error) {
	fstab, err := b.resolver.Backend.Fstab()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range fstab {
		if e.MountPoint == "/" || e.FSType == "swap" {
			continue
		}
		what := e.Device
		if snap := snapshotForMountPoint(ss, e.MountPoint); snap != nil {
			what = snap.DevPath
		}
		out = append(out, fmt.Sprintf("%s:%s:%s:%s", what, e.MountPoint, e.FSType, strings.Join(e.Options, ",")))
	}
	return out, nil
}

// buildSwapList builds "<device>:<options>" entries for every fstab swap
// entry, grounded on _build_swap_list.
func (b *BootIntegration) buildSwapList() ([]string, error) {
	fstab, err := b.resolver.Backend.Fstab()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range fstab {
		if e.FSType != "swap" {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%s", e.Device, strings.Join(e.Options, ",")))
	}
	return out, nil
}

func snapshotForMountPoint(ss *entities.SnapshotSet, mp string) *entities.Snapshot {
	for _, s := range ss.Snapshots {
		if s.MountPoint == mp {
			return s
		}
	}
	return nil
}

// unameRelease returns the running kernel's UTS release string
// (uname()[2] in the original), used as the boot entry's kernel version.
func unameRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", apferr.Wrap(apferr.System, "uname failed", err)
	}
	release := (*[65]byte)(unsafe.Pointer(&uts.Release))[:]
	return charsToString(release), nil
}

func charsToString(b []byte) string {
	n := len(b)
	for i, c := range b {
		if c == 0 {
			n = i
			break
		}
	}
	return string(b[:n])
}

var _ manager.BootStore = (*BootIntegration)(nil)
