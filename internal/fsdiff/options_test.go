package fsdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDiffOptions(t *testing.T) {
	o := DefaultDiffOptions()
	assert.True(t, o.IncludeContentDiffs)
	assert.EqualValues(t, 1<<20, o.MaxContentDiffSize)
	assert.EqualValues(t, 1<<20, o.MaxContentHashSize)
}

func TestHashIsStableAndOrderIndependent(t *testing.T) {
	a := DiffOptions{FilePatterns: []string{"*.go", "*.txt"}, ExcludePatterns: []string{"*.tmp"}}
	b := DiffOptions{FilePatterns: []string{"*.txt", "*.go"}, ExcludePatterns: []string{"*.tmp"}}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHashDiffersOnToggle(t *testing.T) {
	a := DefaultDiffOptions()
	b := DefaultDiffOptions()
	b.IgnoreTimestamps = true
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestHashDoesNotMutateCallerSlices(t *testing.T) {
	patterns := []string{"z", "a", "m"}
	o := DiffOptions{FilePatterns: patterns}
	_ = o.Hash()
	assert.Equal(t, []string{"z", "a", "m"}, patterns)
}
