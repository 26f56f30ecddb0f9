package fsdiff

import (
	"sort"
	"time"

	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// DiffEngine computes classified differences between two filesystem
// trees, grounded on snapm.fsdiff.engine.DiffEngine.
type DiffEngine struct {
	changeDetector ChangeDetector
	contentDiffer  ContentDiffer
	log            *snapmlog.Logger
}

// NewDiffEngine constructs a DiffEngine using differ for content diffs;
// a nil differ uses NewContentDiffer's default.
func NewDiffEngine(differ ContentDiffer) *DiffEngine {
	if differ == nil {
		differ = NewContentDiffer()
	}
	return &DiffEngine{contentDiffer: differ, log: snapmlog.New(snapmlog.DebugDiff, "fsdiff")}
}

// ComputeDiff classifies every path in treeA ∪ treeB, attaches content
// diffs where requested and within size limits, then runs move
// detection, grounded on DiffEngine.compute_diff.
func (e *DiffEngine) ComputeDiff(treeA, treeB map[string]*FsEntry, options DiffOptions) ([]*FsDiffRecord, error) {
	allPaths := make(map[string]bool, len(treeA)+len(treeB))
	for p := range treeA {
		allPaths[p] = true
	}
	for p := range treeB {
		allPaths[p] = true
	}
	paths := make([]string, 0, len(allPaths))
	for p := range allPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var diffs []*FsDiffRecord

	for _, path := range paths {
		entryA := treeA[path]
		entryB := treeB[path]

		switch {
		case entryA == nil:
			record := NewFsDiffRecord(path, Added, nil, entryB)
			if options.IncludeContentDiffs && entryB.IsFile && withinLimit(entryB.Size, options.MaxContentDiffSize) {
				if cd, err := e.contentDiffer.GenerateContentDiff("", entryB.FullPath, nil, entryB); err == nil && cd != nil {
					record.SetContentDiff(cd)
				}
			}
			diffs = append(diffs, record)

		case entryB == nil:
			record := NewFsDiffRecord(path, Removed, entryA, nil)
			if options.IncludeContentDiffs && entryA.IsFile && withinLimit(entryA.Size, options.MaxContentDiffSize) {
				if cd, err := e.contentDiffer.GenerateContentDiff(entryA.FullPath, "", entryA, nil); err == nil && cd != nil {
					record.SetContentDiff(cd)
				}
			}
			diffs = append(diffs, record)

		default:
			if typeDiffers(entryA, entryB) {
				diffs = append(diffs, NewFsDiffRecord(path, TypeChanged, entryA, entryB))
				continue
			}

			changes := e.changeDetector.DetectChanges(entryA, entryB, options)
			effective := effectiveChanges(changes, options)
			if len(effective) == 0 {
				continue
			}

			record := NewFsDiffRecord(path, Modified, entryA, entryB)
			for _, c := range effective {
				record.AddChange(c)
			}

			hasContentChange := false
			for _, c := range effective {
				if c.ChangeType == ChangeContent {
					hasContentChange = true
					break
				}
			}

			if hasContentChange && options.IncludeContentDiffs && entryA.IsFile && entryB.IsFile &&
				withinLimit(maxInt64(entryA.Size, entryB.Size), options.MaxContentDiffSize) {
				if cd, err := e.contentDiffer.GenerateContentDiff(entryA.FullPath, entryB.FullPath, entryA, entryB); err == nil && cd != nil {
					record.SetContentDiff(cd)
				}
			}
			diffs = append(diffs, record)
		}
	}

	return e.detectMoves(diffs, treeB, options), nil
}

func withinLimit(size, limit int64) bool {
	return limit <= 0 || size <= limit
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func typeDiffers(a, b *FsEntry) bool {
	return a.IsFile != b.IsFile || a.IsDir != b.IsDir || a.IsSymlink != b.IsSymlink ||
		a.IsBlock != b.IsBlock || a.IsChar != b.IsChar || a.IsSock != b.IsSock || a.IsFifo != b.IsFifo
}

// detectMoves pairs up REMOVED/MODIFIED sources with ADDED/MODIFIED
// destinations sharing a content hash, emitting a Moved record and
// pruning the paired Added/Removed records, grounded on
// DiffEngine._detect_moves.
func (e *DiffEngine) detectMoves(diffs []*FsDiffRecord, treeB map[string]*FsEntry, options DiffOptions) []*FsDiffRecord {
	addedPaths := map[string]bool{}
	removedPaths := map[string]bool{}
	changedPaths := map[string]bool{}
	for _, d := range diffs {
		switch {
		case d.DiffType == Added && d.NewEntry != nil && d.NewEntry.IsFile && d.NewEntry.ContentHash != "":
			addedPaths[d.Path] = true
		case d.DiffType == Removed && d.OldEntry != nil && d.OldEntry.IsFile && d.OldEntry.ContentHash != "":
			removedPaths[d.Path] = true
		case d.DiffType == Modified && d.OldEntry != nil && d.OldEntry.IsFile && d.OldEntry.ContentHash != "":
			changedPaths[d.Path] = true
		}
	}

	destHashes := map[string][]string{}
	for path, entry := range treeB {
		if entry.IsFile && entry.ContentHash != "" {
			destHashes[entry.ContentHash] = append(destHashes[entry.ContentHash], path)
		}
	}
	for hash := range destHashes {
		sort.Strings(destHashes[hash])
	}

	byPath := map[string][]*FsDiffRecord{}
	for _, d := range diffs {
		byPath[d.Path] = append(byPath[d.Path], d)
	}

	toPrune := map[*FsDiffRecord]bool{}
	usedDests := map[string]bool{}
	var moves []*FsDiffRecord

	srcPaths := make([]string, 0)
	for _, d := range diffs {
		if (d.DiffType == Removed || d.DiffType == Modified) && d.OldEntry != nil &&
			d.OldEntry.IsFile && d.OldEntry.ContentHash != "" {
			srcPaths = append(srcPaths, d.Path)
		}
	}
	sort.Strings(srcPaths)

	entryAByPath := map[string]*FsEntry{}
	for _, d := range diffs {
		if d.OldEntry != nil {
			entryAByPath[d.Path] = d.OldEntry
		}
	}

	for _, path := range srcPaths {
		entryA := entryAByPath[path]
		candidates := destHashes[entryA.ContentHash]
		if len(candidates) == 0 {
			continue
		}
		destPath := candidates[0]
		entryB := treeB[destPath]

		if !(removedPaths[path] || changedPaths[path]) {
			continue
		}
		if !(addedPaths[destPath] || changedPaths[destPath]) {
			continue
		}
		if destPath == path || usedDests[destPath] {
			continue
		}
		usedDests[destPath] = true

		record := NewFsDiffRecord(path, Moved, entryA, entryB)
		changes := e.changeDetector.DetectChanges(entryA, entryB, options)
		for _, c := range effectiveChanges(changes, options) {
			record.AddChange(c)
		}
		record.MovedFrom = path
		record.MovedTo = destPath

		for _, d := range append(byPath[path], byPath[destPath]...) {
			if isMoveDiff(d, path, destPath) {
				toPrune[d] = true
			}
		}
		moves = append(moves, record)
	}

	out := make([]*FsDiffRecord, 0, len(diffs)+len(moves))
	for _, d := range diffs {
		if !toPrune[d] {
			out = append(out, d)
		}
	}
	out = append(out, moves...)
	return out
}

func isMoveDiff(d *FsDiffRecord, srcPath, destPath string) bool {
	if d.Path == srcPath && d.DiffType == Removed {
		return true
	}
	if d.Path == destPath && d.DiffType == Added {
		return true
	}
	return false
}

// FsDiffResults is a timestamped collection of FsDiffRecord with
// report-style projections, grounded on snapm.fsdiff.engine.FsDiffResults.
type FsDiffResults struct {
	Records   []*FsDiffRecord
	Options   DiffOptions
	Timestamp int64
}

// NewFsDiffResults stamps records with the current time.
func NewFsDiffResults(records []*FsDiffRecord, options DiffOptions) *FsDiffResults {
	return &FsDiffResults{Records: records, Options: options, Timestamp: time.Now().Unix()}
}

func (r *FsDiffResults) Len() int { return len(r.Records) }

// CountByType returns the number of records of diffType.
func (r *FsDiffResults) CountByType(diffType DiffType) int {
	n := 0
	for _, rec := range r.Records {
		if rec.DiffType == diffType {
			n++
		}
	}
	return n
}

// Paths returns every record's path, in stored order.
func (r *FsDiffResults) Paths() []string {
	out := make([]string, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Path
	}
	return out
}
