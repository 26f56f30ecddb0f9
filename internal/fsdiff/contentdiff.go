package fsdiff

import (
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ContentDiffer produces a ContentDiff between an old and new file
// revision, the seam behind DiffEngine's default unified-diff renderer,
// grounded on snapm.fsdiff.contentdiff.ContentDifferManager.
type ContentDiffer interface {
	GenerateContentDiff(oldPath, newPath string, oldEntry, newEntry *FsEntry) (*ContentDiff, error)
}

// unifiedContentDiffer renders line-level unified diffs via
// sergi/go-diff, the module's content-diffing library per
// SPEC_FULL.md's Domain Stack.
type unifiedContentDiffer struct{}

// NewContentDiffer returns the module's default ContentDiffer.
func NewContentDiffer() ContentDiffer { return unifiedContentDiffer{} }

func (unifiedContentDiffer) GenerateContentDiff(oldPath, newPath string, oldEntry, newEntry *FsEntry) (*ContentDiff, error) {
	var oldText, newText string

	if oldPath != "" {
		data, err := os.ReadFile(oldPath)
		if err != nil {
			return nil, err
		}
		if isBinary(data) {
			return binaryContentDiff(oldEntry, newEntry), nil
		}
		oldText = string(data)
	}
	if newPath != "" {
		data, err := os.ReadFile(newPath)
		if err != nil {
			return nil, err
		}
		if isBinary(data) {
			return binaryContentDiff(oldEntry, newEntry), nil
		}
		newText = string(data)
	}

	dmp := diffmatchpatch.New()
	charsA, charsB, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(charsA, charsB, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	added, removed := 0, 0
	var unified strings.Builder
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		for i, line := range lines {
			if i == len(lines)-1 && line == "" {
				continue
			}
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
				fmt.Fprintf(&unified, "+%s\n", line)
			case diffmatchpatch.DiffDelete:
				removed++
				fmt.Fprintf(&unified, "-%s\n", line)
			default:
				fmt.Fprintf(&unified, " %s\n", line)
			}
		}
	}

	if added == 0 && removed == 0 {
		return nil, nil
	}

	return &ContentDiff{
		Unified:      unified.String(),
		LinesAdded:   added,
		LinesRemoved: removed,
		Summary:      fmt.Sprintf("+%d -%d", added, removed),
	}, nil
}

func binaryContentDiff(oldEntry, newEntry *FsEntry) *ContentDiff {
	return &ContentDiff{Binary: true, Summary: "binary files differ"}
}

// isBinary applies the conventional NUL-byte heuristic used by diff(1)
// and git to decide whether data is text.
func isBinary(data []byte) bool {
	checkLen := len(data)
	if checkLen > 8000 {
		checkLen = 8000
	}
	for i := 0; i < checkLen; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}
