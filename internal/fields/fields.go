// Package fields defines the stable report field vocabulary for
// SnapshotSets and Snapshots: the field names and accessor functions a
// future tabular report engine would select by, and that cmd's
// `snapset list` already uses to print its table without depending on a
// report engine that does not exist yet (spec.md §1 places the formatter itself out of scope;
// the field vocabulary it would consume is carried here, grounded on
// snapm.command's field tables and snapm._snapm's SNAPSET_*/SNAPSHOT_*
// property-name constants).
package fields

import (
	"fmt"
	"strings"
	"time"

	"github.com/deploymenttheory/snapm/internal/entities"
)

// Property names, carried over from the original's SNAPSET_*/SNAPSHOT_*
// constants so that JSON/log output uses the same vocabulary the
// original tool did.
const (
	SnapsetName         = "SnapsetName"
	SnapsetSources      = "Sources"
	SnapsetMountPoints  = "MountPoints"
	SnapsetDevices      = "Devices"
	SnapsetNrSnapshots  = "NrSnapshots"
	SnapsetTime         = "Time"
	SnapsetTimestamp    = "Timestamp"
	SnapsetUUID         = "UUID"
	SnapsetStatus       = "Status"
	SnapsetAutoactivate = "Autoactivate"
	SnapsetBootable     = "Bootable"
	SnapsetSnapshotEntry = "SnapshotEntry"
	SnapsetRevertEntry  = "RevertEntry"

	SnapshotName         = "Name"
	SnapshotOrigin       = "Origin"
	SnapshotSource       = "Source"
	SnapshotMountPoint   = "MountPoint"
	SnapshotProvider     = "Provider"
	SnapshotUUID         = "UUID"
	SnapshotStatus       = "Status"
	SnapshotSize         = "Size"
	SnapshotFree         = "Free"
	SnapshotSizeBytes    = "SizeBytes"
	SnapshotFreeBytes    = "FreeBytes"
	SnapshotAutoactivate = "Autoactivate"
	SnapshotDevPath      = "DevicePath"
)

// Kind identifies how a field's value should be rendered, mirroring
// command.py's REP_STR/REP_NUM/REP_SIZE/... report-type constants.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindSize
	KindTime
	KindUUID
	KindStringList
	KindYesNo
)

// SnapsetField describes one selectable report field of a SnapshotSet.
type SnapsetField struct {
	Selector    string // short name used on the command line, e.g. "name"
	Property    string // stable property name, e.g. SnapsetName
	Header      string
	Description string
	Width       int
	Kind        Kind
	Value       func(*entities.SnapshotSet) string
}

// SnapshotField describes one selectable report field of a Snapshot.
type SnapshotField struct {
	Selector    string
	Property    string
	Header      string
	Description string
	Width       int
	Kind        Kind
	Value       func(*entities.Snapshot) string
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// SnapsetFields is the full set of selectable SnapshotSet report
// fields, in display order, grounded on command.py's _snapshot_set_fields.
var SnapsetFields = []SnapsetField{
	{"name", SnapsetName, "SnapsetName", "Snapshot set name", 12, KindString,
		func(ss *entities.SnapshotSet) string { return ss.Name }},
	{"uuid", SnapsetUUID, "UUID", "Snapshot set UUID", 37, KindUUID,
		func(ss *entities.SnapshotSet) string { return ss.UUID.String() }},
	{"timestamp", SnapsetTimestamp, "Timestamp", "Snapshot set creation time as a UNIX epoch value", 10, KindNumber,
		func(ss *entities.SnapshotSet) string { return fmt.Sprintf("%d", ss.Timestamp) }},
	{"time", SnapsetTime, "Time", "Snapshot set creation time", 20, KindTime,
		func(ss *entities.SnapshotSet) string { return formatTime(ss.Timestamp) }},
	{"nr_snapshots", SnapsetNrSnapshots, "NrSnapshots", "Number of snapshots", 11, KindNumber,
		func(ss *entities.SnapshotSet) string { return fmt.Sprintf("%d", len(ss.Snapshots)) }},
	{"sources", SnapsetSources, "Sources", "Snapshot set sources", 8, KindStringList,
		func(ss *entities.SnapshotSet) string { return strings.Join(ss.Sources(), ",") }},
	{"mountpoints", SnapsetMountPoints, "MountPoints", "Snapshot set mount points", 24, KindStringList,
		func(ss *entities.SnapshotSet) string { return strings.Join(ss.MountPoints(), ",") }},
	{"status", SnapsetStatus, "Status", "Snapshot set status", 7, KindString,
		func(ss *entities.SnapshotSet) string { return ss.Status().String() }},
	{"autoactivate", SnapsetAutoactivate, "Autoactivate", "Autoactivation status", 12, KindYesNo,
		func(ss *entities.SnapshotSet) string { return yesNo(ss.Autoactivate()) }},
	{"bootable", SnapsetBootable, "Bootable", "Configured for snapshot boot", 8, KindYesNo,
		func(ss *entities.SnapshotSet) string { return yesNo(ss.BootEntryID != "") }},
	{"bootentry", SnapsetSnapshotEntry, "SnapshotEntry", "Snapshot set boot entry", 13, KindString,
		func(ss *entities.SnapshotSet) string { return ss.BootEntryID }},
	{"revertentry", SnapsetRevertEntry, "RevertEntry", "Snapshot set revert boot entry", 13, KindString,
		func(ss *entities.SnapshotSet) string { return ss.RevertEntryID }},
}

// DefaultSnapsetFields is the selector list used when no explicit field
// list is given, grounded on command.py's _DEFAULT_SNAPSET_FIELDS.
var DefaultSnapsetFields = []string{"name", "time", "nr_snapshots", "status", "sources"}

// SnapshotFields is the full set of selectable Snapshot report fields,
// in display order, grounded on command.py's _snapshot_fields.
var SnapshotFields = []SnapshotField{
	{"name", SnapshotName, "Name", "Snapshot name", 24, KindString,
		func(s *entities.Snapshot) string { return s.Name }},
	{"uuid", SnapshotUUID, "UUID", "Snapshot UUID", 37, KindUUID,
		func(s *entities.Snapshot) string { return s.UUID.String() }},
	{"origin", SnapshotOrigin, "Origin", "Snapshot origin", 16, KindString,
		func(s *entities.Snapshot) string { return s.Origin }},
	{"mountpoint", SnapshotMountPoint, "MountPoint", "Snapshot mount point", 16, KindString,
		func(s *entities.Snapshot) string { return s.MountPoint }},
	{"devpath", SnapshotDevPath, "DevicePath", "Snapshot device path", 8, KindString,
		func(s *entities.Snapshot) string { return s.DevPath }},
	{"provider", SnapshotProvider, "Provider", "Snapshot provider plugin", 8, KindString,
		func(s *entities.Snapshot) string { return s.ProviderName }},
	{"status", SnapshotStatus, "Status", "Snapshot status", 7, KindString,
		func(s *entities.Snapshot) string { return s.Status.String() }},
	{"size", SnapshotSize, "Size", "Snapshot size", 6, KindSize,
		func(s *entities.Snapshot) string { return formatSize(s.Size) }},
	{"free", SnapshotFree, "Free", "Free space available", 6, KindSize,
		func(s *entities.Snapshot) string { return formatSize(s.Free) }},
	{"size_bytes", SnapshotSizeBytes, "SizeBytes", "Snapshot size in bytes", 6, KindNumber,
		func(s *entities.Snapshot) string { return fmt.Sprintf("%d", s.Size) }},
	{"free_bytes", SnapshotFreeBytes, "FreeBytes", "Free space available in bytes", 6, KindNumber,
		func(s *entities.Snapshot) string { return fmt.Sprintf("%d", s.Free) }},
	{"autoactivate", SnapshotAutoactivate, "Autoactivate", "Autoactivation status", 12, KindYesNo,
		func(s *entities.Snapshot) string { return yesNo(s.Autoactivate) }},
}

// DefaultSnapshotFields is the selector list used when no explicit
// field list is given, grounded on command.py's _DEFAULT_SNAPSHOT_FIELDS
// (snapset_name dropped: Snapshot carries SnapsetName as a plain field
// already covered by "name" in this flattened, non-nested model).
var DefaultSnapshotFields = []string{"name", "origin", "status", "size", "free", "autoactivate", "provider"}

// FindSnapsetField looks up a SnapsetField by its command-line selector.
func FindSnapsetField(selector string) (SnapsetField, bool) {
	for _, f := range SnapsetFields {
		if f.Selector == selector {
			return f, true
		}
	}
	return SnapsetField{}, false
}

// FindSnapshotField looks up a SnapshotField by its command-line selector.
func FindSnapshotField(selector string) (SnapshotField, bool) {
	for _, f := range SnapshotFields {
		if f.Selector == selector {
			return f, true
		}
	}
	return SnapshotField{}, false
}

// ExpandFields splits a comma-separated field selector list, grounded
// on command.py's _expand_fields, falling back to fallback when
// selectors is empty.
func ExpandFields(selectors string, fallback []string) []string {
	if strings.TrimSpace(selectors) == "" {
		return append([]string{}, fallback...)
	}
	parts := strings.Split(selectors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
