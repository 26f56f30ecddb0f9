package manager

import (
	"os"
	"time"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/selection"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
)

func (m *Manager) parseSourceSpecs(specs []SourceSpec, defaultPolicy string) (map[string]*sizepolicy.Policy, []string, error) {
	sources := make([]string, 0, len(specs))
	policies := map[string]*sizepolicy.Policy{}
	seenMountPoints := map[string]string{}
	for _, spec := range specs {
		source := spec.Source
		fi, err := os.Stat(source)
		if err != nil {
			return nil, nil, apferr.Errorf(apferr.NotFound, "source path %q does not exist", source)
		}

		isBlk := false
		if m.resolver != nil {
			isBlk, _ = m.resolver.Backend.IsBlockDevice(source)
		}

		// A source is only ever a block device or a mount point
		// (spec.md §4.2 step 2); a regular file is neither.
		mp := ""
		switch {
		case isBlk:
			if m.resolver != nil {
				mp, _ = m.resolver.MountPointFromDevice(source)
			}
		case fi.IsDir():
			mp = source
		default:
			return nil, nil, apferr.Errorf(apferr.Path, "source %q is neither a block device nor a mount point", source)
		}

		if mp != "" {
			if other, dup := seenMountPoints[mp]; dup {
				return nil, nil, apferr.Errorf(apferr.InvalidIdentifier, "source %q and %q both resolve to mount point %s", other, source, mp)
			}
			seenMountPoints[mp] = source
		}

		sources = append(sources, source)
		policySpec := spec.SizePolicy
		if policySpec == "" {
			policySpec = defaultPolicy
		}
		ctx := sizepolicy.Context{MountPoint: mp}
		if m.resolver != nil && mp != "" {
			if _, used, _, err := m.resolver.Backend.SpaceUsage(mp); err == nil {
				ctx.UsedBytes = used
			}
		}
		policy, err := sizepolicy.Parse(policySpec, ctx)
		if err != nil {
			return nil, nil, err
		}
		policies[source] = policy
	}
	return policies, sources, nil
}

// CreateSnapshotSet creates a new SnapshotSet named name over the given
// sources, grounded on Manager.create_snapshot_set.
func (m *Manager) CreateSnapshotSet(name string, specs []SourceSpec, defaultPolicy string, boot, revert bool) (*entities.SnapshotSet, error) {
	var result *entities.SnapshotSet
	err := withSignalsSuspended(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if err := m.validateSnapsetName(name); err != nil {
			return err
		}

		policies, sources, err := m.parseSourceSpecs(specs, defaultPolicy)
		if err != nil {
			return err
		}

		providerMap, err := m.findAndVerifyPlugins(sources)
		if err != nil {
			return err
		}

		for _, p := range uniqueProviders(providerMap) {
			if err := p.StartTransaction(); err != nil {
				return err
			}
		}

		timestamp := time.Now().Unix()
		origins := map[string]string{}
		mounts := map[string]string{}

		for source, p := range providerMap {
			isBlk := false
			if m.resolver != nil {
				isBlk, _ = m.resolver.Backend.IsBlockDevice(source)
			}
			var mount, origin string
			if isBlk {
				origin = source
				if m.resolver != nil {
					mount, _ = m.resolver.MountPointFromDevice(source)
				}
			} else {
				mount = source
				origin, err = p.OriginFromMountPoint(mount)
				if err != nil {
					return err
				}
			}
			mounts[source] = mount
			origins[source] = origin

			req := provider.CreateRequest{
				Source: source, MountPoint: mount, Origin: origin,
				SnapsetName: name, SnapsetIndex: "none", Timestamp: timestamp,
				Policy: policies[source],
			}
			if err := p.CheckCreateSnapshot(req); err != nil {
				return err
			}
		}

		if err := m.checkRecursion(origins); err != nil {
			return err
		}

		suspendJournal(m.runner)

		var snapshots []*entities.Snapshot
		for source, p := range providerMap {
			req := provider.CreateRequest{
				Source: source, MountPoint: mounts[source], Origin: origins[source],
				SnapsetName: name, SnapsetIndex: "none", Timestamp: timestamp,
				Policy: policies[source],
			}
			snap, err := p.CreateSnapshot(req)
			if err != nil {
				resumeJournal(m.runner)
				for _, s := range snapshots {
					if sp := m.providerByName[s.ProviderName]; sp != nil {
						_ = sp.DeleteSnapshot(s.Name)
					}
				}
				return apferr.Wrap(apferr.Plugin, "could not create all snapshots for set "+name, err)
			}
			snapshots = append(snapshots, snap)
		}

		resumeJournal(m.runner)

		for _, p := range uniqueProviders(providerMap) {
			if err := p.EndTransaction(); err != nil {
				return err
			}
		}

		snapset := entities.NewSnapshotSet(name, timestamp, snapshots)

		if boot || revert {
			snapset.SetAutoactivate(true)
			for _, s := range snapset.Snapshots {
				if sp := m.providerByName[s.ProviderName]; sp != nil {
					if dp, err := sp.ActivateSnapshot(s.Name); err == nil {
						s.DevPath = dp
						s.Status = entities.Active
					}
				}
			}
		}

		if boot {
			if m.boot == nil {
				return apferr.New(apferr.System, "boot integration is not configured")
			}
			id, err := m.boot.CreateBootEntry(snapset)
			if err != nil {
				m.deleteSnapshotSetMembers(snapset)
				return apferr.Wrap(apferr.Callout, "failed to create snapshot set boot entry", err)
			}
			snapset.BootEntryID = id
		}

		if revert {
			if m.boot == nil {
				return apferr.New(apferr.System, "boot integration is not configured")
			}
			id, err := m.boot.CreateRevertEntry(snapset)
			if err != nil {
				m.deleteSnapshotSetMembers(snapset)
				return apferr.Wrap(apferr.Callout, "failed to create snapshot set revert entry", err)
			}
			snapset.RevertEntryID = id
		}

		m.byName[snapset.Name] = snapset
		m.byUUID[snapset.UUID] = snapset
		m.snapshotSets = append(m.snapshotSets, snapset)
		result = snapset
		return nil
	})
	return result, err
}

// mountedMember reports whether any member of ss is currently mounted
// on the host, i.e. its activated device appears in the mount table.
func (m *Manager) mountedMember(ss *entities.SnapshotSet) (device string, mounted bool) {
	if m.resolver == nil {
		return "", false
	}
	for _, s := range ss.Snapshots {
		if s.DevPath == "" {
			continue
		}
		if _, err := m.resolver.MountPointFromDevice(s.DevPath); err == nil {
			return s.DevPath, true
		}
	}
	return "", false
}

func (m *Manager) deleteSnapshotSetMembers(ss *entities.SnapshotSet) {
	for _, s := range ss.Snapshots {
		if p := m.providerByName[s.ProviderName]; p != nil {
			_ = p.DeleteSnapshot(s.Name)
		}
	}
}

// RenameSnapshotSet renames oldName to newName.
func (m *Manager) RenameSnapshotSet(oldName, newName string) (*entities.SnapshotSet, error) {
	var result *entities.SnapshotSet
	err := withSignalsSuspended(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		ss, ok := m.byName[oldName]
		if !ok {
			return apferr.Errorf(apferr.NotFound, "cannot find snapshot set named %s", oldName)
		}
		if ss.Status() == entities.Reverting {
			return apferr.Errorf(apferr.State, "cannot rename snapshot set %s: revert in progress", oldName)
		}
		if err := m.validateSnapsetName(newName); err != nil {
			return err
		}

		delete(m.byName, ss.Name)
		delete(m.byUUID, ss.UUID)
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			oldSnapName := s.Name
			newSnapName := provider.EncodeSnapshotName(baseOriginName(s), newName, s.Timestamp, s.MountPoint)
			if err := p.RenameSnapshot(oldSnapName, newSnapName); err != nil {
				m.byName[ss.Name] = ss
				m.byUUID[ss.UUID] = ss
				return err
			}
			s.Rename(newSnapName)
			s.SnapsetName = newName
		}
		ss.Rename(newName)
		m.byName[ss.Name] = ss
		m.byUUID[ss.UUID] = ss
		result = ss
		return nil
	})
	return result, err
}

func baseOriginName(s *entities.Snapshot) string {
	if idx := lastSlash(s.Name); idx >= 0 {
		return s.Name[:idx]
	}
	return s.Name
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// DeleteSnapshotSets removes every SnapshotSet matching sel. Per
// spec.md §4.2/§8, deletion fails Busy and removes nothing if any
// matched set has a mounted member or is Reverting: every set is
// checked before any entry or member is touched.
func (m *Manager) DeleteSnapshotSets(sel selection.Selection) (int, error) {
	deleted := 0
	err := withSignalsSuspended(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		var matches []*entities.SnapshotSet
		for _, ss := range m.snapshotSets {
			if selection.Matches(sel, ss) {
				matches = append(matches, ss)
			}
		}
		if len(matches) == 0 {
			return apferr.New(apferr.NotFound, "could not find snapshot sets matching selection")
		}
		for _, ss := range matches {
			if ss.Status() == entities.Reverting {
				return apferr.Errorf(apferr.Busy, "cannot delete snapshot set %s: revert in progress", ss.Name)
			}
			if dev, mounted := m.mountedMember(ss); mounted {
				return apferr.Errorf(apferr.Busy, "cannot delete snapshot set %s: %s is mounted", ss.Name, dev)
			}
		}
		for _, ss := range matches {
			if m.boot != nil {
				_ = m.boot.DeleteBootEntry(ss)
				_ = m.boot.DeleteRevertEntry(ss)
			}
			for _, s := range ss.Snapshots {
				if p := m.providerByName[s.ProviderName]; p != nil {
					if err := p.DeleteSnapshot(s.Name); err != nil {
						return err
					}
				}
			}
			delete(m.byName, ss.Name)
			delete(m.byUUID, ss.UUID)
			deleted++
		}
		m.snapshotSets = remainingSets(m.snapshotSets, matches)
		return nil
	})
	return deleted, err
}

func remainingSets(all, removed []*entities.SnapshotSet) []*entities.SnapshotSet {
	removedSet := map[*entities.SnapshotSet]bool{}
	for _, r := range removed {
		removedSet[r] = true
	}
	var out []*entities.SnapshotSet
	for _, ss := range all {
		if !removedSet[ss] {
			out = append(out, ss)
		}
	}
	return out
}

// ResizeSnapshotSet resizes the named/uuid-identified set's members per
// specs, or all members by defaultPolicy if specs is empty.
func (m *Manager) ResizeSnapshotSet(name, uuidStr string, specs []SourceSpec, defaultPolicy string) error {
	return withSignalsSuspended(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		ss, err := m.snapsetFromNameOrUUID(name, uuidStr)
		if err != nil {
			return err
		}

		policyFor := map[string]*sizepolicy.Policy{}
		if len(specs) > 0 {
			policies, _, err := m.parseSourceSpecs(specs, defaultPolicy)
			if err != nil {
				return err
			}
			policyFor = policies
		}

		for _, p := range uniqueProvidersOfSet(ss, m.providerByName) {
			if err := p.StartTransaction(); err != nil {
				return err
			}
		}
		defer func() {
			for _, p := range uniqueProvidersOfSet(ss, m.providerByName) {
				_ = p.EndTransaction()
			}
		}()

		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			policy := policyFor[s.MountPoint]
			if policy == nil {
				ctx := sizepolicy.Context{MountPoint: s.MountPoint}
				policy, err = sizepolicy.Parse(defaultPolicy, ctx)
				if err != nil {
					return err
				}
			}
			if err := p.CheckResizeSnapshot(s.Name, policy); err != nil {
				return err
			}
		}
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			policy := policyFor[s.MountPoint]
			if policy == nil {
				ctx := sizepolicy.Context{MountPoint: s.MountPoint}
				policy, _ = sizepolicy.Parse(defaultPolicy, ctx)
			}
			if err := p.ResizeSnapshot(s.Name, policy); err != nil {
				return err
			}
		}
		return nil
	})
}

func uniqueProvidersOfSet(ss *entities.SnapshotSet, byName map[string]provider.Provider) []provider.Provider {
	seen := map[provider.Provider]bool{}
	var out []provider.Provider
	for _, s := range ss.Snapshots {
		p := byName[s.ProviderName]
		if p != nil && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// RevertSnapshotSet reverts every member of the named/uuid-identified
// set to its point-in-time state.
func (m *Manager) RevertSnapshotSet(name, uuidStr string) (*entities.SnapshotSet, error) {
	var result *entities.SnapshotSet
	err := withSignalsSuspended(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		ss, err := m.snapsetFromNameOrUUID(name, uuidStr)
		if err != nil {
			return err
		}
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			if err := p.CheckRevertSnapshot(s.Name); err != nil {
				return err
			}
		}
		if m.boot != nil {
			_ = m.boot.DeleteBootEntry(ss)
		}
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			if err := p.RevertSnapshot(s.Name); err != nil {
				return err
			}
			s.Status = entities.Reverting
		}
		result = ss
		return nil
	})
	if err == nil {
		_ = m.DiscoverSnapshotSets()
	}
	return result, err
}

// RevertSnapshotSets reverts every set matching sel.
func (m *Manager) RevertSnapshotSets(sel selection.Selection) (int, error) {
	sets := m.FindSnapshotSets(sel)
	if len(sets) == 0 {
		return 0, apferr.New(apferr.NotFound, "could not find snapshot sets matching selection")
	}
	reverted := 0
	for _, ss := range sets {
		if _, err := m.RevertSnapshotSet(ss.Name, ""); err != nil {
			return reverted, err
		}
		reverted++
	}
	return reverted, nil
}

// ActivateSnapshotSets activates every set matching sel.
func (m *Manager) ActivateSnapshotSets(sel selection.Selection) (int, error) {
	return m.forEachMatchingSet(sel, "activate", func(ss *entities.SnapshotSet) error {
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			dp, err := p.ActivateSnapshot(s.Name)
			if err != nil {
				return err
			}
			s.DevPath = dp
			s.Status = entities.Active
		}
		return nil
	})
}

// DeactivateSnapshotSets deactivates every set matching sel.
func (m *Manager) DeactivateSnapshotSets(sel selection.Selection) (int, error) {
	return m.forEachMatchingSet(sel, "deactivate", func(ss *entities.SnapshotSet) error {
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			if err := p.DeactivateSnapshot(s.Name); err != nil {
				return err
			}
			s.DevPath = ""
			s.Status = entities.Inactive
		}
		return nil
	})
}

// SetAutoactivate sets autoactivate on every set matching sel.
// Providers that return provider.ErrNotSupported are logged and
// skipped, per spec.md's note on Stratis autoactivate support.
func (m *Manager) SetAutoactivate(sel selection.Selection, auto bool) (int, error) {
	return m.forEachMatchingSet(sel, "set autoactivate status for", func(ss *entities.SnapshotSet) error {
		for _, s := range ss.Snapshots {
			p := m.providerByName[s.ProviderName]
			if p == nil {
				continue
			}
			if err := p.SetAutoactivate(s.Name, auto); err != nil {
				if err == provider.ErrNotSupported {
					m.log.Warnf("provider %s does not support autoactivate, skipping %s", s.ProviderName, s.Name)
					continue
				}
				return err
			}
			s.Autoactivate = auto
		}
		return nil
	})
}

// SplitSnapshotSet moves the members identified by sources (matched by
// mount point or origin device) out of srcName: into a newly named
// dstName set if dstName is non-empty (split), or deleted outright if
// dstName is empty (prune), grounded on Manager.split_snapshot_set.
func (m *Manager) SplitSnapshotSet(srcName, dstName string, sources []string) (*entities.SnapshotSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(sources) == 0 {
		return nil, apferr.New(apferr.Argument, "split requires at least one source")
	}

	src, ok := m.byName[srcName]
	if !ok {
		return nil, apferr.Errorf(apferr.NotFound, "cannot find snapshot set named %s", srcName)
	}
	if status := src.Status(); status == entities.Invalid || status == entities.Reverting {
		return nil, apferr.Errorf(apferr.State, "cannot split snapshot set %s in state %s", srcName, status)
	}

	matched := map[*entities.Snapshot]bool{}
	for _, want := range sources {
		found := false
		for _, s := range src.Snapshots {
			if s.MountPoint == want || s.Origin == want {
				matched[s] = true
				found = true
			}
		}
		if !found {
			return nil, apferr.Errorf(apferr.NotFound, "source %s is not a member of snapshot set %s", want, srcName)
		}
	}

	var moved, remaining []*entities.Snapshot
	for _, s := range src.Snapshots {
		if matched[s] {
			moved = append(moved, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		return nil, apferr.Errorf(apferr.Argument, "split would leave snapshot set %s with no members", srcName)
	}

	if dstName == "" {
		for _, s := range moved {
			if p := m.providerByName[s.ProviderName]; p != nil {
				if err := p.DeleteSnapshot(s.Name); err != nil {
					return nil, apferr.Wrap(apferr.Plugin, "failed to delete snapshot during prune", err)
				}
			}
		}
		src.Snapshots = remaining
		return nil, nil
	}

	if err := m.validateSnapsetName(dstName); err != nil {
		return nil, err
	}
	if _, exists := m.byName[dstName]; exists {
		return nil, apferr.Errorf(apferr.Exists, "snapshot set %s already exists", dstName)
	}

	for i, s := range moved {
		p := m.providerByName[s.ProviderName]
		if p == nil {
			continue
		}
		newName := provider.EncodeSnapshotName(baseOriginName(s), dstName, s.Timestamp, s.MountPoint)
		if err := p.RenameSnapshot(s.Name, newName); err != nil {
			for _, done := range moved[:i] {
				dp := m.providerByName[done.ProviderName]
				if dp == nil {
					continue
				}
				oldName := provider.EncodeSnapshotName(baseOriginName(done), srcName, done.Timestamp, done.MountPoint)
				_ = dp.RenameSnapshot(done.Name, oldName)
				done.Rename(oldName)
				done.SnapsetName = srcName
			}
			return nil, apferr.Wrap(apferr.Plugin, "failed to rename snapshot during split", err)
		}
		s.Rename(newName)
		s.SnapsetName = dstName
	}

	src.Snapshots = remaining
	dst := entities.NewSnapshotSet(dstName, moved[0].Timestamp, moved)
	m.byName[dst.Name] = dst
	m.byUUID[dst.UUID] = dst
	m.snapshotSets = append(m.snapshotSets, dst)
	return dst, nil
}

func (m *Manager) forEachMatchingSet(sel selection.Selection, verb string, fn func(*entities.SnapshotSet) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*entities.SnapshotSet
	for _, ss := range m.snapshotSets {
		if selection.Matches(sel, ss) {
			matches = append(matches, ss)
		}
	}
	if len(matches) == 0 {
		return 0, apferr.New(apferr.NotFound, "could not find snapshot sets matching selection")
	}
	count := 0
	for _, ss := range matches {
		if ss.Status() == entities.Reverting || ss.Status() == entities.Invalid {
			return count, apferr.Errorf(apferr.State, "cannot %s snapshot set %s in state %s", verb, ss.Name, ss.Status())
		}
		if err := fn(ss); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
