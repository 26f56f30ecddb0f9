// Package fsdiff implements spec.md §4.6: the filesystem diff engine that
// walks two snapshotted trees, classifies each path as Added/Removed/
// Modified/Moved/TypeChanged, optionally attaches a unified content diff,
// and caches results on disk, grounded on snapm.fsdiff.
package fsdiff

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// DiffOptions is the immutable bundle of diff toggles from spec.md §3,
// grounded on snapm.fsdiff.options.DiffOptions.
type DiffOptions struct {
	IgnoreTimestamps    bool
	IgnorePermissions   bool
	IgnoreOwnership     bool
	ContentOnly         bool
	IncludeSystemDirs   bool
	IncludeContentDiffs bool
	UseMagicFileType    bool
	FollowSymlinks      bool
	MaxFileSize         int64
	MaxContentDiffSize  int64
	MaxContentHashSize  int64
	FilePatterns        []string
	ExcludePatterns     []string
	FromPath            string
	Quiet               bool
}

// DefaultDiffOptions mirrors DiffOptions' Python dataclass defaults.
func DefaultDiffOptions() DiffOptions {
	return DiffOptions{
		IncludeContentDiffs: true,
		MaxContentDiffSize:  1 << 20,
		MaxContentHashSize:  1 << 20,
	}
}

// Hash returns a stable, deterministic fingerprint of o suitable for use
// in a diff-cache filename and for rejecting option mismatches on cache
// load, standing in for Python's built-in hash(dataclass) (which is not
// itself stable across interpreter runs, but the original code does not
// rely on cross-process stability for anything beyond a single run's
// save/load cycle — a deterministic FNV hash over the same fields serves
// that purpose equivalently here and additionally survives process
// restarts).
func (o DiffOptions) Hash() uint64 {
	h := fnv.New64a()
	filePatterns := append([]string{}, o.FilePatterns...)
	excludePatterns := append([]string{}, o.ExcludePatterns...)
	sort.Strings(filePatterns)
	sort.Strings(excludePatterns)
	fmt.Fprintf(h, "%t|%t|%t|%t|%t|%t|%t|%t|%d|%d|%d|%v|%v|%s|%t",
		o.IgnoreTimestamps, o.IgnorePermissions, o.IgnoreOwnership, o.ContentOnly,
		o.IncludeSystemDirs, o.IncludeContentDiffs, o.UseMagicFileType, o.FollowSymlinks,
		o.MaxFileSize, o.MaxContentDiffSize, o.MaxContentHashSize,
		filePatterns, excludePatterns, o.FromPath, o.Quiet)
	return h.Sum64()
}
