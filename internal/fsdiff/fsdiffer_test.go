package fsdiff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/snapm/internal/progress"
)

type fakeProgress struct {
	started  int
	updated  int
	finished bool
}

func (p *fakeProgress) Start(total int) { p.started = total }
func (p *fakeProgress) Update(n int)    { p.updated += n }
func (p *fakeProgress) Finish()         { p.finished = true }
func (p *fakeProgress) Cancel()         {}

var _ progress.Progress = (*fakeProgress)(nil)

func TestCompareRootsDetectsChanges(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.txt"), "version one")
	writeFile(t, filepath.Join(rootB, "a.txt"), "version two")
	writeFile(t, filepath.Join(rootB, "new.txt"), "brand new")

	cacheDir := t.TempDir()
	differ := NewFsDiffer(WithCacheDir(cacheDir), WithCacheTTL(0))

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	results, err := differ.CompareRoots(rootA, rootB, uuid.Nil, uuid.Nil, options)
	require.NoError(t, err)

	assert.Equal(t, 1, results.CountByType(Modified))
	assert.Equal(t, 1, results.CountByType(Added))
}

func TestCompareRootsUsesCacheOnSecondCall(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.txt"), "one")
	writeFile(t, filepath.Join(rootB, "a.txt"), "two")

	cacheDir := t.TempDir()
	differ := NewFsDiffer(WithCacheDir(cacheDir), WithCacheTTL(0))
	uuidA, uuidB := uuid.New(), uuid.New()

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	first, err := differ.CompareRoots(rootA, rootB, uuidA, uuidB, options)
	require.NoError(t, err)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	second, err := differ.CompareRoots(rootA, rootB, uuidA, uuidB, options)
	require.NoError(t, err)
	assert.Equal(t, first.Timestamp, second.Timestamp)
}

func TestCompareRootsWithoutCacheSkipsCacheDir(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.txt"), "one")
	writeFile(t, filepath.Join(rootB, "a.txt"), "two")

	cacheDir := filepath.Join(t.TempDir(), "unused")
	differ := NewFsDiffer(WithCacheDir(cacheDir), WithoutCache())

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	_, err := differ.CompareRoots(rootA, rootB, uuid.New(), uuid.New(), options)
	require.NoError(t, err)

	_, statErr := os.Stat(cacheDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompareRootsReportsProgress(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.txt"), "one")
	writeFile(t, filepath.Join(rootB, "a.txt"), "two")

	p := &fakeProgress{}
	differ := NewFsDiffer(WithoutCache(), WithProgress(p))

	options := DefaultDiffOptions()
	options.IncludeContentDiffs = false
	_, err := differ.CompareRoots(rootA, rootB, uuid.New(), uuid.New(), options)
	require.NoError(t, err)

	assert.Equal(t, 4, p.started)
	assert.Equal(t, 4, p.updated)
	assert.True(t, p.finished)
}
