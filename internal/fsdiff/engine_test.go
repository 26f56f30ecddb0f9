package fsdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileEntry(path, hash string, size int64) *FsEntry {
	return &FsEntry{Path: path, FullPath: path, IsFile: true, ContentHash: hash, Size: size, Mode: 0o644}
}

func TestComputeDiffAddedRemovedModified(t *testing.T) {
	treeA := map[string]*FsEntry{
		"/a.txt": fileEntry("/a.txt", "hash-a", 10),
		"/b.txt": fileEntry("/b.txt", "hash-b", 20),
	}
	treeB := map[string]*FsEntry{
		"/a.txt": fileEntry("/a.txt", "hash-a2", 11),
		"/c.txt": fileEntry("/c.txt", "hash-c", 5),
	}

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	engine := NewDiffEngine(nil)
	records, err := engine.ComputeDiff(treeA, treeB, options)
	require.NoError(t, err)

	byPath := map[string]*FsDiffRecord{}
	for _, r := range records {
		byPath[r.Path] = r
	}

	require.Contains(t, byPath, "/a.txt")
	assert.Equal(t, Modified, byPath["/a.txt"].DiffType)

	require.Contains(t, byPath, "/b.txt")
	assert.Equal(t, Removed, byPath["/b.txt"].DiffType)

	require.Contains(t, byPath, "/c.txt")
	assert.Equal(t, Added, byPath["/c.txt"].DiffType)
}

func TestComputeDiffTypeChanged(t *testing.T) {
	treeA := map[string]*FsEntry{"/x": {Path: "/x", IsFile: true}}
	treeB := map[string]*FsEntry{"/x": {Path: "/x", IsDir: true}}

	engine := NewDiffEngine(nil)
	records, err := engine.ComputeDiff(treeA, treeB, DefaultDiffOptions())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, TypeChanged, records[0].DiffType)
}

func TestComputeDiffNoEffectiveChangesOmitted(t *testing.T) {
	entry := fileEntry("/same.txt", "hash", 10)
	treeA := map[string]*FsEntry{"/same.txt": entry}
	treeB := map[string]*FsEntry{"/same.txt": entry}

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	engine := NewDiffEngine(nil)
	records, err := engine.ComputeDiff(treeA, treeB, options)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDetectMovesRenamesFile(t *testing.T) {
	treeA := map[string]*FsEntry{
		"/old/name.txt": fileEntry("/old/name.txt", "shared-hash", 42),
	}
	treeB := map[string]*FsEntry{
		"/new/name.txt": fileEntry("/new/name.txt", "shared-hash", 42),
	}

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	engine := NewDiffEngine(nil)
	records, err := engine.ComputeDiff(treeA, treeB, options)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, Moved, rec.DiffType)
	assert.Equal(t, "/old/name.txt", rec.MovedFrom)
	assert.Equal(t, "/new/name.txt", rec.MovedTo)
}

func TestDetectMovesDoesNotFireOnPlainDuplicate(t *testing.T) {
	// Same hash at two destinations, nothing removed at the source — this
	// is a duplication, not a move, and must not produce a Moved record.
	treeA := map[string]*FsEntry{
		"/keep.txt": fileEntry("/keep.txt", "dup-hash", 8),
	}
	treeB := map[string]*FsEntry{
		"/keep.txt": fileEntry("/keep.txt", "dup-hash", 8),
		"/copy.txt": fileEntry("/copy.txt", "dup-hash", 8),
	}

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	engine := NewDiffEngine(nil)
	records, err := engine.ComputeDiff(treeA, treeB, options)
	require.NoError(t, err)

	for _, r := range records {
		assert.NotEqual(t, Moved, r.DiffType)
	}
	require.Len(t, records, 1)
	assert.Equal(t, Added, records[0].DiffType)
	assert.Equal(t, "/copy.txt", records[0].Path)
}

func TestFsDiffResultsCountByTypeAndPaths(t *testing.T) {
	records := []*FsDiffRecord{
		NewFsDiffRecord("/a", Added, nil, fileEntry("/a", "h1", 1)),
		NewFsDiffRecord("/b", Removed, fileEntry("/b", "h2", 1), nil),
		NewFsDiffRecord("/c", Added, nil, fileEntry("/c", "h3", 1)),
	}
	results := NewFsDiffResults(records, DefaultDiffOptions())

	assert.Equal(t, 3, results.Len())
	assert.Equal(t, 2, results.CountByType(Added))
	assert.Equal(t, 1, results.CountByType(Removed))
	assert.ElementsMatch(t, []string{"/a", "/b", "/c"}, results.Paths())
}
