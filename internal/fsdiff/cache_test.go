package fsdiff

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	uuidA := uuid.New()
	uuidB := uuid.New()

	options := DefaultDiffOptions()
	records := []*FsDiffRecord{
		NewFsDiffRecord("/a.txt", Added, nil, fileEntry("/a.txt", "h1", 10)),
		NewFsDiffRecord("/b.txt", Removed, fileEntry("/b.txt", "h2", 20), nil),
	}
	results := NewFsDiffResults(records, options)

	require.NoError(t, SaveCache(dir, uuidA, uuidB, results))

	loaded, err := LoadCache(dir, uuidA, uuidB, options, 0)
	require.NoError(t, err)
	require.Equal(t, results.Len(), loaded.Len())
	assert.Equal(t, results.Timestamp, loaded.Timestamp)
	assert.ElementsMatch(t, results.Paths(), loaded.Paths())
}

func TestLoadCacheMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCache(dir, uuid.New(), uuid.New(), DefaultDiffOptions(), 0)
	assert.Error(t, err)
}

func TestLoadCacheRejectsOptionMismatch(t *testing.T) {
	dir := t.TempDir()
	uuidA := uuid.New()
	uuidB := uuid.New()

	saved := NewFsDiffResults(nil, DefaultDiffOptions())
	require.NoError(t, SaveCache(dir, uuidA, uuidB, saved))

	mismatched := DefaultDiffOptions()
	mismatched.IgnoreTimestamps = true
	_, err := LoadCache(dir, uuidA, uuidB, mismatched, 0)
	assert.Error(t, err)
}

func TestLoadCacheExpiresOldEntries(t *testing.T) {
	dir := t.TempDir()
	uuidA := uuid.New()
	uuidB := uuid.New()

	options := DefaultDiffOptions()
	results := &FsDiffResults{Options: options, Timestamp: time.Now().Add(-1 * time.Hour).Unix()}
	require.NoError(t, SaveCache(dir, uuidA, uuidB, results))

	_, err := LoadCache(dir, uuidA, uuidB, options, 10*time.Second)
	assert.Error(t, err)
}

func TestCacheNameRejectsIdenticalUUIDs(t *testing.T) {
	id := uuid.New()
	results := NewFsDiffResults(nil, DefaultDiffOptions())
	_, err := CacheName(id, id, results, false)
	assert.Error(t, err)
}
