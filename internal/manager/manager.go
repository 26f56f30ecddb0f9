// Package manager implements the Manager of spec.md §4.2: the
// top-level orchestrator that drives Provider plugins to create,
// discover, index, and mutate SnapshotSets, grounded on the original
// snapm.manager._manager.Manager.
package manager

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/selection"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// invalidNameChars mirrors the original _validate_snapset_name check.
const invalidNameChars = "/\\_ "

// BootStore is the narrow boot-integration contract the Manager needs;
// internal/bootintegration implements it. A nil BootStore makes
// boot/revert-entry operations fail with apferr.System.
type BootStore interface {
	CreateBootEntry(ss *entities.SnapshotSet) (entryID string, err error)
	CreateRevertEntry(ss *entities.SnapshotSet) (entryID string, err error)
	DeleteBootEntry(ss *entities.SnapshotSet) error
	DeleteRevertEntry(ss *entities.SnapshotSet) error
	// RefreshCache returns the boot-entry and revert-entry caches keyed
	// by snapshot set name or UUID string.
	RefreshCache() (bootCache map[string]string, revertCache map[string]string, err error)
}

// SourceSpec is one "<source>[:<size-policy>]" argument to
// CreateSnapshotSet / ResizeSnapshotSet.
type SourceSpec struct {
	Source     string
	SizePolicy string
}

// Manager is the snapshot manager high level interface.
type Manager struct {
	mu sync.Mutex

	providers      []provider.Provider
	providerByName map[string]provider.Provider

	resolver *blockdev.Resolver
	runner   exec.Runner
	boot     BootStore
	log      *snapmlog.Logger

	snapshotSets []*entities.SnapshotSet
	byName       map[string]*entities.SnapshotSet
	byUUID       map[uuid.UUID]*entities.SnapshotSet
}

// New constructs a Manager over an already-filtered list of live
// Providers (dependency/availability checks are the caller's
// responsibility, matching the Manager constructor's plugin-loading
// loop which only ever appends plugins whose dependencies resolved).
// New immediately runs DiscoverSnapshotSets.
func New(providers []provider.Provider, resolver *blockdev.Resolver, runner exec.Runner, boot BootStore) (*Manager, error) {
	m := &Manager{
		providers:      providers,
		providerByName: map[string]provider.Provider{},
		resolver:       resolver,
		runner:         runner,
		boot:           boot,
		log:            snapmlog.New(snapmlog.DebugManager, "manager"),
		byName:         map[string]*entities.SnapshotSet{},
		byUUID:         map[uuid.UUID]*entities.SnapshotSet{},
	}
	for _, p := range providers {
		m.providerByName[p.Info().Name] = p
	}
	if err := m.DiscoverSnapshotSets(); err != nil {
		return nil, err
	}
	return m, nil
}

// DiscoverSnapshotSets rebuilds the in-memory index from provider
// state, grounded on Manager.discover_snapshot_sets.
func (m *Manager) DiscoverSnapshotSets() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bootCache, revertCache map[string]string
	if m.boot != nil {
		var err error
		bootCache, revertCache, err = m.boot.RefreshCache()
		if err != nil {
			return err
		}
	}

	var all []*entities.Snapshot
	for _, p := range m.providers {
		snaps, err := p.DiscoverSnapshots()
		if err != nil {
			return err
		}
		all = append(all, snaps...)
	}

	byName := map[string][]*entities.Snapshot{}
	order := []string{}
	for _, s := range all {
		if _, seen := byName[s.SnapsetName]; !seen {
			order = append(order, s.SnapsetName)
		}
		byName[s.SnapsetName] = append(byName[s.SnapsetName], s)
	}

	sets := make([]*entities.SnapshotSet, 0, len(order))
	byNameIdx := map[string]*entities.SnapshotSet{}
	byUUIDIdx := map[uuid.UUID]*entities.SnapshotSet{}

	for _, name := range order {
		members := byName[name]
		ts := members[0].Timestamp
		consistent := true
		for _, s := range members {
			if s.Timestamp != ts {
				consistent = false
			}
		}
		if !consistent {
			m.log.Warnf("snapshot set %q has inconsistent timestamps, skipping", name)
			continue
		}
		ss := entities.NewSnapshotSet(name, ts, members)
		if bootCache != nil {
			if id, ok := bootCache[ss.Name]; ok {
				ss.BootEntryID = id
			} else if id, ok := bootCache[ss.UUID.String()]; ok {
				ss.BootEntryID = id
			}
		}
		if revertCache != nil {
			if id, ok := revertCache[ss.Name]; ok {
				ss.RevertEntryID = id
			} else if id, ok := revertCache[ss.UUID.String()]; ok {
				ss.RevertEntryID = id
			}
		}
		sets = append(sets, ss)
		byNameIdx[ss.Name] = ss
		byUUIDIdx[ss.UUID] = ss
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].Name < sets[j].Name })

	m.snapshotSets = sets
	m.byName = byNameIdx
	m.byUUID = byUUIDIdx
	return nil
}

// FindSnapshotSets returns every SnapshotSet matching sel.
func (m *Manager) FindSnapshotSets(sel selection.Selection) []*entities.SnapshotSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.SnapshotSet
	for _, ss := range m.snapshotSets {
		if selection.Matches(sel, ss) {
			out = append(out, ss)
		}
	}
	return out
}

// FindSnapshots returns every Snapshot across all sets matching sel.
func (m *Manager) FindSnapshots(sel selection.Selection) []*entities.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.Snapshot
	for _, ss := range m.snapshotSets {
		if !selection.Matches(sel, ss) {
			continue
		}
		for _, s := range ss.Snapshots {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) snapsetFromNameOrUUID(name, uuidStr string) (*entities.SnapshotSet, error) {
	var byName, byUUID *entities.SnapshotSet
	if name != "" {
		ss, ok := m.byName[name]
		if !ok {
			return nil, apferr.Errorf(apferr.NotFound, "could not find snapshot set named %s", name)
		}
		byName = ss
	}
	if uuidStr != "" {
		u, err := uuid.Parse(uuidStr)
		if err != nil {
			return nil, apferr.Wrap(apferr.InvalidIdentifier, "invalid UUID", err)
		}
		ss, ok := m.byUUID[u]
		if !ok {
			return nil, apferr.Errorf(apferr.NotFound, "could not find snapshot set with uuid %s", uuidStr)
		}
		byUUID = ss
	}
	if byName == nil && byUUID == nil {
		return nil, apferr.New(apferr.NotFound, "a snapshot set name or UUID is required")
	}
	if byName != nil && byUUID != nil && byName != byUUID {
		return nil, apferr.Errorf(apferr.InvalidIdentifier, "conflicting name and UUID: %s does not match %q", uuidStr, name)
	}
	if byName != nil {
		return byName, nil
	}
	return byUUID, nil
}

func (m *Manager) validateSnapsetName(name string) error {
	if _, exists := m.byName[name]; exists {
		return apferr.Errorf(apferr.Exists, "snapshot set named %q already exists", name)
	}
	for _, c := range invalidNameChars {
		if strings.ContainsRune(name, c) {
			return apferr.Errorf(apferr.InvalidIdentifier, "snapshot set name cannot include %q", string(c))
		}
	}
	return nil
}

// checkRecursion rejects snapshotting a source whose resolved device is
// itself a snapshot's active devpath, per Manager._check_recursion.
func (m *Manager) checkRecursion(origins map[string]string) error {
	snapshotDevices := map[string]bool{}
	for _, ss := range m.snapshotSets {
		for _, s := range ss.Snapshots {
			if s.DevPath != "" {
				snapshotDevices[s.DevPath] = true
			}
		}
	}
	for source, device := range origins {
		if snapshotDevices[device] {
			return apferr.Errorf(apferr.Recursion, "snapshots of snapshots are not supported: %s corresponds to snapshot device %s", source, device)
		}
	}
	return nil
}

// findAndVerifyPlugins resolves a provider.Provider for every source,
// erroring if any source has no willing provider.
func (m *Manager) findAndVerifyPlugins(sources []string) (map[string]provider.Provider, error) {
	out := map[string]provider.Provider{}
	for _, source := range sources {
		var found provider.Provider
		for _, p := range m.providers {
			ok, err := p.CanSnapshot(source)
			if err != nil {
				return nil, err
			}
			if ok {
				found = p
				break
			}
		}
		if found == nil {
			return nil, apferr.Errorf(apferr.NoProvider, "could not find snapshot provider for %s", source)
		}
		out[source] = found
	}
	return out, nil
}

func uniqueProviders(byProvider map[string]provider.Provider) []provider.Provider {
	seen := map[provider.Provider]bool{}
	var out []provider.Provider
	for _, p := range byProvider {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
