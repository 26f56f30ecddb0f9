// Package atomicfile provides the temp-file-then-rename write pattern
// used throughout snapm for durable config and drop-in files: schedule
// configs under /etc/snapm/schedule.d and systemd timer drop-ins under
// /etc/systemd/system/snapm-*@*.timer.d both require create-temp, fsync
// the temp file, rename into place, then fsync the containing
// directory, so that a crash never leaves a half-written config visible
// to a concurrent reader.
package atomicfile

import (
	"os"

	"github.com/google/renameio/v2"
)

// WriteFile atomically replaces path with data, creating it with the
// given permissions if it does not already exist. It writes a temp file
// in the same directory as path, fsyncs it, renames it over path, then
// fsyncs the directory — matching spec.md's "create temp file in target
// dir, fsync it, rename into place, then fsync the directory" sequence.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// Writer returns a PendingFile opened in path's directory for callers
// that need to stream content rather than build it in memory up front
// (e.g. writing a large diff cache record-by-record). The caller must
// call CloseAtomicallyReplace to commit, or Cleanup to discard.
func Writer(path string, perm os.FileMode) (*renameio.PendingFile, error) {
	return renameio.NewPendingFile(path, renameio.WithPermissions(perm))
}
