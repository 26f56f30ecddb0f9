package fsdiff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestWalkTreeBasic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	w := NewTreeWalker(DefaultDiffOptions())
	tree, err := w.WalkTree(root, "")
	require.NoError(t, err)

	require.Contains(t, tree, "/a.txt")
	require.Contains(t, tree, "/sub")
	require.Contains(t, tree, "/sub/b.txt")

	entry := tree["/a.txt"]
	assert.True(t, entry.IsFile)
	assert.EqualValues(t, 5, entry.Size)
	assert.NotEmpty(t, entry.ContentHash)
}

func TestWalkTreeFilePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.go"), "package x")
	writeFile(t, filepath.Join(root, "skip.txt"), "ignored")

	options := DefaultDiffOptions()
	options.FilePatterns = []string{"*.go"}
	w := NewTreeWalker(options)
	tree, err := w.WalkTree(root, "")
	require.NoError(t, err)

	assert.Contains(t, tree, "/keep.go")
	assert.NotContains(t, tree, "/skip.txt")
}

func TestWalkTreeExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package x")
	writeFile(t, filepath.Join(root, "a.go.bak"), "stale")

	options := DefaultDiffOptions()
	options.ExcludePatterns = []string{"*.bak"}
	w := NewTreeWalker(options)
	tree, err := w.WalkTree(root, "")
	require.NoError(t, err)

	assert.Contains(t, tree, "/a.go")
	assert.NotContains(t, tree, "/a.go.bak")
}

func TestWalkTreeMaxFileSizeSkipsOversized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "big.bin"), "0123456789")

	options := DefaultDiffOptions()
	options.MaxFileSize = 5
	w := NewTreeWalker(options)
	tree, err := w.WalkTree(root, "")
	require.NoError(t, err)

	assert.NotContains(t, tree, "/big.bin")
}

func TestWalkTreeSkipsSystemDirsByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proc", "1", "status"), "data")
	writeFile(t, filepath.Join(root, "etc", "hostname"), "host")

	w := NewTreeWalker(DefaultDiffOptions())
	tree, err := w.WalkTree(root, "")
	require.NoError(t, err)

	assert.NotContains(t, tree, "/proc/1/status")
	assert.Contains(t, tree, "/etc/hostname")
}

func TestWalkTreeIncludeSystemDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proc", "1", "status"), "data")

	options := DefaultDiffOptions()
	options.IncludeSystemDirs = true
	w := NewTreeWalker(options)
	tree, err := w.WalkTree(root, "")
	require.NoError(t, err)

	assert.Contains(t, tree, "/proc/1/status")
}

func TestCategorizePath(t *testing.T) {
	assert.Equal(t, CategoryCriticalSystem, categorizePath("/etc/hostname"))
	assert.Equal(t, CategoryUserData, categorizePath("/home/alice/file"))
	assert.Equal(t, CategoryApplication, categorizePath("/usr/bin/ls"))
	assert.Equal(t, CategoryTemporary, categorizePath("/tmp/x"))
	assert.Equal(t, CategoryLogFiles, categorizePath("/var/log/syslog"))
	assert.Equal(t, CategoryPackageMgmt, categorizePath("/var/lib/dpkg/status"))
	assert.Equal(t, CategoryUnknown, categorizePath("/mystery/path"))
}
