package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffOptionsFromFlagsAppliesOverrides(t *testing.T) {
	diffIgnoreTimestamps = true
	diffIgnorePermissions = false
	diffIgnoreOwnership = false
	diffContentOnly = true
	diffIncludeSystemDirs = false
	diffNoContentDiffs = true
	diffFromPath = "/etc"
	defer func() {
		diffIgnoreTimestamps, diffContentOnly, diffNoContentDiffs = false, false, false
		diffFromPath = ""
	}()

	o := diffOptionsFromFlags()
	assert.True(t, o.IgnoreTimestamps)
	assert.True(t, o.ContentOnly)
	assert.False(t, o.IncludeContentDiffs)
	assert.Equal(t, "/etc", o.FromPath)
	assert.Equal(t, int64(1<<20), o.MaxContentDiffSize)
}
