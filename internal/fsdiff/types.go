package fsdiff

import "fmt"

// DiffType classifies a single path's change between two trees, per
// spec.md §3's FsDiffRecord.diff_type, grounded on
// snapm.fsdiff.difftypes.DiffType.
type DiffType string

const (
	Added       DiffType = "added"
	Removed     DiffType = "removed"
	Modified    DiffType = "modified"
	Moved       DiffType = "moved"
	TypeChanged DiffType = "type_changed"
)

// ChangeType classifies one detected difference between two FsEntry
// values at the same path, grounded on snapm.fsdiff.changes.ChangeType.
type ChangeType string

const (
	ChangeContent       ChangeType = "content"
	ChangePermissions   ChangeType = "permissions"
	ChangeOwnership     ChangeType = "ownership"
	ChangeTimestamps    ChangeType = "timestamps"
	ChangeXattrs        ChangeType = "extended_attributes"
	ChangeSymlinkTarget ChangeType = "symlink_target"
)

// FileCategory classifies a file's content for reporting, grounded on
// snapm.fsdiff.options.DiffCategories.
type FileCategory string

const (
	CategoryCriticalSystem FileCategory = "critical_system"
	CategoryUserData       FileCategory = "user_data"
	CategoryApplication    FileCategory = "application"
	CategoryTemporary      FileCategory = "temporary"
	CategoryLogFiles       FileCategory = "log_files"
	CategoryPackageMgmt    FileCategory = "package_mgmt"
	CategoryUnknown        FileCategory = "unknown"
)

// FileTypeInfo is the optional magic/mime classification attached to an
// FsEntry when DiffOptions.UseMagicFileType is set.
type FileTypeInfo struct {
	MimeType string
	Category FileCategory
}

// FsEntry is one path's metadata snapshot from a tree walk, per spec.md
// §3, grounded on snapm.fsdiff.treewalk.FsEntry.
type FsEntry struct {
	Path          string
	FullPath      string
	IsFile        bool
	IsDir         bool
	IsSymlink     bool
	IsBlock       bool
	IsChar        bool
	IsSock        bool
	IsFifo        bool
	Mode          uint32
	UID           uint32
	GID           uint32
	Mtime         int64
	Size          int64
	ContentHash   string
	SymlinkTarget string
	Xattrs        map[string]string
	FileTypeInfo  *FileTypeInfo
}

// TypeDesc describes e's file type for TypeChanged summaries.
func (e *FsEntry) TypeDesc() string {
	switch {
	case e == nil:
		return "unknown"
	case e.IsDir:
		return "directory"
	case e.IsSymlink:
		return "symlink"
	case e.IsBlock:
		return "block device"
	case e.IsChar:
		return "character device"
	case e.IsSock:
		return "socket"
	case e.IsFifo:
		return "fifo"
	default:
		return "file"
	}
}

// FileChange is one detected difference between two FsEntry values,
// grounded on snapm.fsdiff.changes.FileChange.
type FileChange struct {
	ChangeType  ChangeType
	OldValue    string
	NewValue    string
	Description string
}

func (c FileChange) String() string {
	return fmt.Sprintf("change_type: %s, old_value: %s, new_value: %s, description: %s",
		c.ChangeType, c.OldValue, c.NewValue, c.Description)
}

// ContentDiff is a rendered unified diff between two file revisions,
// grounded on the ContentDiffer output consumed by
// snapm.fsdiff.engine.FsDiffRecord.set_content_diff.
type ContentDiff struct {
	Unified    string
	LinesAdded int
	LinesRemoved int
	Binary     bool
	Summary    string
}

// FsDiffRecord is one path's classified difference, carrying the
// projection fields spec.md §3 names for report rendering, grounded on
// snapm.fsdiff.engine.FsDiffRecord.
type FsDiffRecord struct {
	Path        string
	DiffType    DiffType
	OldEntry    *FsEntry
	NewEntry    *FsEntry
	Changes     []FileChange
	ContentDiff *ContentDiff
	MovedFrom   string
	MovedTo     string

	ContentChanged  bool
	MetadataChanged bool
}

// NewFsDiffRecord constructs a record from oldEntry/newEntry, mirroring
// FsDiffRecord.__init__; its projection fields (SizeOld, SizeNew,
// SizeDelta, FileType, FileCategory) are computed on demand by the
// methods below.
func NewFsDiffRecord(path string, diffType DiffType, oldEntry, newEntry *FsEntry) *FsDiffRecord {
	return &FsDiffRecord{Path: path, DiffType: diffType, OldEntry: oldEntry, NewEntry: newEntry}
}

// AddChange records change, updating ContentChanged/MetadataChanged.
func (r *FsDiffRecord) AddChange(change FileChange) {
	r.Changes = append(r.Changes, change)
	if change.ChangeType == ChangeContent {
		r.ContentChanged = true
	} else {
		r.MetadataChanged = true
	}
}

// SetContentDiff attaches cd to r.
func (r *FsDiffRecord) SetContentDiff(cd *ContentDiff) { r.ContentDiff = cd }

// SizeOld/SizeNew/SizeDelta are the size projection fields.
func (r *FsDiffRecord) SizeOld() int64 {
	if r.OldEntry == nil {
		return 0
	}
	return r.OldEntry.Size
}

func (r *FsDiffRecord) SizeNew() int64 {
	if r.NewEntry == nil {
		return 0
	}
	return r.NewEntry.Size
}

func (r *FsDiffRecord) SizeDelta() int64 { return r.SizeNew() - r.SizeOld() }

// FileType returns the reporting file-type string for r.
func (r *FsDiffRecord) FileType() string {
	entry := r.NewEntry
	if entry == nil {
		entry = r.OldEntry
	}
	if entry == nil {
		return "unknown"
	}
	if entry.IsDir {
		return "directory"
	}
	if entry.IsSymlink {
		return "symlink"
	}
	if entry.FileTypeInfo != nil {
		return entry.FileTypeInfo.MimeType
	}
	return "file"
}

// FileCategory returns the reporting file-category string for r.
func (r *FsDiffRecord) FileCategory() FileCategory {
	entry := r.NewEntry
	if entry == nil {
		entry = r.OldEntry
	}
	if entry == nil || entry.FileTypeInfo == nil {
		return CategoryUnknown
	}
	return entry.FileTypeInfo.Category
}

// ChangeSummary returns a one-line human-readable description of r,
// grounded on FsDiffRecord.get_change_summary.
func (r *FsDiffRecord) ChangeSummary() string {
	switch r.DiffType {
	case Added:
		return "Added " + r.FileType()
	case Removed:
		return "Removed " + r.FileType()
	case Moved:
		return fmt.Sprintf("Moved from %s to %s", r.MovedFrom, r.MovedTo)
	case TypeChanged:
		if r.OldEntry == nil || r.NewEntry == nil {
			return "Type changed"
		}
		return fmt.Sprintf("Type changed from %s to %s", r.OldEntry.TypeDesc(), r.NewEntry.TypeDesc())
	}
	if len(r.Changes) > 0 {
		seen := map[ChangeType]bool{}
		var kinds []string
		for _, c := range r.Changes {
			if !seen[c.ChangeType] {
				seen[c.ChangeType] = true
				kinds = append(kinds, string(c.ChangeType))
			}
		}
		return "Changed: " + joinStrings(kinds, ", ")
	}
	return "Modified"
}

func joinStrings(items []string, sep string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}
