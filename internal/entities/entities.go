// Package entities implements the Snapshot and SnapshotSet value types of
// spec.md §3: the data model the Manager creates, indexes and mutates.
package entities

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Namespaces used to derive stable v5 UUIDs, carried over from the
// original implementation so that UUIDs remain meaningful across a
// reinstall of the tool.
var (
	NamespaceSnapshotSet = uuid.MustParse("952f0e38-24a1-406d-adf6-0e9fb3c707d8")
	NamespaceSnapshot    = uuid.MustParse("c17d07c7-1482-43b7-9b3c-12d490622d93")
)

// Status is the lifecycle state of a Snapshot or the aggregated state of
// a SnapshotSet.
type Status int

const (
	Active Status = iota
	Inactive
	Invalid
	Reverting
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Inactive:
		return "Inactive"
	case Invalid:
		return "Invalid"
	case Reverting:
		return "Reverting"
	default:
		return "Unknown"
	}
}

// statusPrecedence implements the aggregation order of spec.md §3:
// Invalid > Reverting > Inactive > Active. Lower number wins.
func statusPrecedence(s Status) int {
	switch s {
	case Invalid:
		return 0
	case Reverting:
		return 1
	case Inactive:
		return 2
	case Active:
		return 3
	default:
		return 4
	}
}

// Snapshot is one provider-created point-in-time copy of a single
// source, as described in spec.md §3.
type Snapshot struct {
	Name          string
	UUID          uuid.UUID
	SnapsetName   string
	SnapsetIndex  string // "none" or a non-negative integer string
	Origin        string
	Timestamp     int64
	MountPoint    string
	ProviderName  string
	Status        Status
	Size          uint64
	Free          uint64
	Autoactivate  bool
	DevPath       string
}

// NewSnapshot constructs a Snapshot, deriving its UUID from name per
// spec.md §3 (uuid5 over name; rename therefore produces a new UUID).
func NewSnapshot(name, snapsetName, snapsetIndex, origin string, timestamp int64, mountPoint, providerName string) *Snapshot {
	return &Snapshot{
		Name:         name,
		UUID:         uuid.NewSHA1(NamespaceSnapshot, []byte(name)),
		SnapsetName:  snapsetName,
		SnapsetIndex: snapsetIndex,
		Origin:       origin,
		Timestamp:    timestamp,
		MountPoint:   mountPoint,
		ProviderName: providerName,
		Status:       Inactive,
	}
}

// Rename updates Name and recomputes UUID, per the invariant that a
// Snapshot's UUID is stable only so long as its name is stable.
func (s *Snapshot) Rename(newName string) {
	s.Name = newName
	s.UUID = uuid.NewSHA1(NamespaceSnapshot, []byte(newName))
}

// SnapshotSet is an ordered group of Snapshots sharing one timestamp, per
// spec.md §3.
type SnapshotSet struct {
	Name          string
	UUID          uuid.UUID
	Timestamp     int64
	Snapshots     []*Snapshot
	BootEntryID   string // "" if none
	RevertEntryID string // "" if none
	MountRoot     string // "" unless mounted chroot-style under internal/mounts
}

// uuidFor derives the SnapshotSet UUID: uuid5(name || timestamp).
func uuidFor(name string, timestamp int64) uuid.UUID {
	return uuid.NewSHA1(NamespaceSnapshotSet, []byte(fmt.Sprintf("%s%d", name, timestamp)))
}

// NewSnapshotSet constructs a SnapshotSet from at least one Snapshot, all
// of which must share the same Timestamp (the caller must have already
// validated this; NewSnapshotSet panics otherwise, since it is only ever
// called from the Manager after that check runs).
func NewSnapshotSet(name string, timestamp int64, snapshots []*Snapshot) *SnapshotSet {
	if len(snapshots) == 0 {
		panic("entities: SnapshotSet requires at least one Snapshot")
	}
	for _, s := range snapshots {
		if s.Timestamp != timestamp {
			panic("entities: SnapshotSet members must share one timestamp")
		}
	}
	return &SnapshotSet{
		Name:      name,
		UUID:      uuidFor(name, timestamp),
		Timestamp: timestamp,
		Snapshots: snapshots,
	}
}

// Rename updates the set's Name (and therefore its UUID, since the UUID
// is derived from name||timestamp) without touching member Snapshots;
// the Manager is responsible for renaming each member in lock-step.
func (ss *SnapshotSet) Rename(newName string) {
	ss.Name = newName
	ss.UUID = uuidFor(newName, ss.Timestamp)
}

// Basename returns the set's name with any ".<index>" autoindex suffix
// stripped (see selection.SplitBasenameIndex).
func (ss *SnapshotSet) Basename() string {
	base, _ := splitBasenameIndex(ss.Name)
	return base
}

// Index returns the set's autoindex suffix, or "none".
func (ss *SnapshotSet) Index() string {
	_, idx := splitBasenameIndex(ss.Name)
	return idx
}

func splitBasenameIndex(name string) (string, string) {
	// duplicated minimally to avoid an import cycle with selection;
	// selection.SplitBasenameIndex contains the canonical logic.
	i := -1
	for j := len(name) - 1; j >= 0; j-- {
		if name[j] == '.' {
			i = j
			break
		}
	}
	if i < 0 {
		return name, "none"
	}
	suffix := name[i+1:]
	if suffix == "" {
		return name, "none"
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return name, "none"
		}
	}
	return name[:i], suffix
}

// MountPoints returns the sorted, de-duplicated mount points across all
// members (empty mount points from block-device sources are omitted).
func (ss *SnapshotSet) MountPoints() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range ss.Snapshots {
		if s.MountPoint == "" || seen[s.MountPoint] {
			continue
		}
		seen[s.MountPoint] = true
		out = append(out, s.MountPoint)
	}
	sort.Strings(out)
	return out
}

// Sources returns the union of mount points and origin block devices
// across all members.
func (ss *SnapshotSet) Sources() []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range ss.Snapshots {
		src := s.MountPoint
		if src == "" {
			src = s.Origin
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Status aggregates member statuses per the precedence
// Invalid > Reverting > Inactive > Active.
func (ss *SnapshotSet) Status() Status {
	best := Active
	bestPrec := statusPrecedence(Active)
	for _, s := range ss.Snapshots {
		if p := statusPrecedence(s.Status); p < bestPrec {
			bestPrec = p
			best = s.Status
		}
	}
	return best
}

// Autoactivate reports the all-or-none autoactivate view: true only if
// every member has autoactivate set.
func (ss *SnapshotSet) Autoactivate() bool {
	for _, s := range ss.Snapshots {
		if !s.Autoactivate {
			return false
		}
	}
	return true
}

// SetAutoactivate sets autoactivate on every member.
func (ss *SnapshotSet) SetAutoactivate(auto bool) {
	for _, s := range ss.Snapshots {
		s.Autoactivate = auto
	}
}

// HasMountPoint reports whether any member of the set mounts at p.
func (ss *SnapshotSet) HasMountPoint(p string) bool {
	for _, s := range ss.Snapshots {
		if s.MountPoint == p {
			return true
		}
	}
	return false
}

// --- selection.Matchable implementations ---

func (ss *SnapshotSet) MatchName() string     { return ss.Name }
func (ss *SnapshotSet) MatchUUID() string     { return ss.UUID.String() }
func (ss *SnapshotSet) MatchBasename() string { return ss.Basename() }
func (ss *SnapshotSet) MatchIndex() string    { return ss.Index() }
func (ss *SnapshotSet) MatchTimestamp() int64 { return ss.Timestamp }
func (ss *SnapshotSet) MatchNrSnapshots() int { return len(ss.Snapshots) }
func (ss *SnapshotSet) MatchMountPoints() []string {
	return ss.MountPoints()
}
func (ss *SnapshotSet) MatchOrigin() string {
	if len(ss.Snapshots) > 0 {
		return ss.Snapshots[0].Origin
	}
	return ""
}
func (ss *SnapshotSet) MatchSnapshotNames() []string {
	out := make([]string, 0, len(ss.Snapshots))
	for _, s := range ss.Snapshots {
		out = append(out, s.Name)
	}
	return out
}
func (ss *SnapshotSet) MatchSnapshotUUIDs() []string {
	out := make([]string, 0, len(ss.Snapshots))
	for _, s := range ss.Snapshots {
		out = append(out, s.UUID.String())
	}
	return out
}
func (ss *SnapshotSet) MatchSchedName() string { return ss.Basename() }
