package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSourceSpecsSplitsPolicy(t *testing.T) {
	specs := parseSourceSpecs([]string{"/home:50%SIZE", "/var"})
	assert.Len(t, specs, 2)
	assert.Equal(t, "/home", specs[0].Source)
	assert.Equal(t, "50%SIZE", specs[0].SizePolicy)
	assert.Equal(t, "/var", specs[1].Source)
	assert.Equal(t, "", specs[1].SizePolicy)
}

func TestParseSourceSpecsEmpty(t *testing.T) {
	assert.Empty(t, parseSourceSpecs(nil))
}

func TestSelectionFromFlagsSplitsBasenameIndex(t *testing.T) {
	sel := selectionFromFlags("backup.1", "")
	assert.Equal(t, "backup.1", sel.Name)
	assert.Equal(t, "backup", sel.Basename)
	assert.Equal(t, "1", sel.Index)
	assert.Equal(t, "", sel.UUID)
}

func TestSelectionFromFlagsNoIndexSuffix(t *testing.T) {
	sel := selectionFromFlags("backup", "")
	assert.Equal(t, "backup", sel.Basename)
	assert.Equal(t, "none", sel.Index)
}

func TestSelectionFromFlagsUUIDOnly(t *testing.T) {
	sel := selectionFromFlags("", "1234")
	assert.Equal(t, "", sel.Name)
	assert.Equal(t, "1234", sel.UUID)
}
