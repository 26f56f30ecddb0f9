package fsdiff

import "fmt"

// ChangeDetector detects and classifies the differences between two
// FsEntry values, grounded on snapm.fsdiff.changes.ChangeDetector.
type ChangeDetector struct{}

// DetectChanges returns every change between oldEntry and newEntry,
// honoring options' ignore_*/content_only toggles.
func (ChangeDetector) DetectChanges(oldEntry, newEntry *FsEntry, options DiffOptions) []FileChange {
	var changes []FileChange

	if options.ContentOnly {
		if oldEntry.IsFile && newEntry.IsFile && oldEntry.ContentHash != newEntry.ContentHash {
			changes = append(changes, FileChange{
				ChangeType: ChangeContent, OldValue: oldEntry.ContentHash, NewValue: newEntry.ContentHash,
				Description: "content hash changed",
			})
		}
		return changes
	}

	if oldEntry.IsFile && newEntry.IsFile && oldEntry.ContentHash != newEntry.ContentHash {
		changes = append(changes, FileChange{
			ChangeType: ChangeContent, OldValue: oldEntry.ContentHash, NewValue: newEntry.ContentHash,
			Description: "content hash changed",
		})
	}

	if !options.IgnorePermissions {
		oldPerm := oldEntry.Mode & 0o7777
		newPerm := newEntry.Mode & 0o7777
		if oldPerm != newPerm {
			changes = append(changes, FileChange{
				ChangeType: ChangePermissions,
				OldValue:   fmt.Sprintf("0%o", oldPerm),
				NewValue:   fmt.Sprintf("0%o", newPerm),
				Description: fmt.Sprintf("mode changed from 0%o to 0%o", oldPerm, newPerm),
			})
		}
	}

	if !options.IgnoreOwnership {
		if oldEntry.UID != newEntry.UID || oldEntry.GID != newEntry.GID {
			changes = append(changes, FileChange{
				ChangeType:  ChangeOwnership,
				OldValue:    fmt.Sprintf("%d:%d", oldEntry.UID, oldEntry.GID),
				NewValue:    fmt.Sprintf("%d:%d", newEntry.UID, newEntry.GID),
				Description: "owner changed",
			})
		}
	}

	if oldEntry.IsSymlink && newEntry.IsSymlink && oldEntry.SymlinkTarget != newEntry.SymlinkTarget {
		changes = append(changes, FileChange{
			ChangeType:  ChangeSymlinkTarget,
			OldValue:    oldEntry.SymlinkTarget,
			NewValue:    newEntry.SymlinkTarget,
			Description: "symlink target changed",
		})
	}

	if !options.IgnoreTimestamps && oldEntry.Mtime != newEntry.Mtime {
		changes = append(changes, FileChange{
			ChangeType:  ChangeTimestamps,
			OldValue:    fmt.Sprintf("%d", oldEntry.Mtime),
			NewValue:    fmt.Sprintf("%d", newEntry.Mtime),
			Description: "modification time changed",
		})
	}

	if !xattrsEqual(oldEntry.Xattrs, newEntry.Xattrs) {
		changes = append(changes, FileChange{
			ChangeType:  ChangeXattrs,
			OldValue:    fmt.Sprintf("%v", oldEntry.Xattrs),
			NewValue:    fmt.Sprintf("%v", newEntry.Xattrs),
			Description: "extended attributes changed",
		})
	}

	return changes
}

func xattrsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// effectiveChanges elides every change but ChangeContent when
// options.ContentOnly is set, mirroring DiffEngine._effective_changes.
func effectiveChanges(changes []FileChange, options DiffOptions) []FileChange {
	if !options.ContentOnly {
		return changes
	}
	var out []FileChange
	for _, c := range changes {
		if c.ChangeType == ChangeContent {
			out = append(out, c)
		}
	}
	return out
}
