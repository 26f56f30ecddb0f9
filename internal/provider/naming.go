package provider

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeSnapshotName builds the stable on-disk object name a Provider
// stores, per spec.md §6:
//
//	<origin_lv>-snapset_<snapset_name>_<timestamp>_<encoded_mount_point>
//
// where the mount point is encoded by replacing '/' with '-'.
func EncodeSnapshotName(originLV, snapsetName string, timestamp int64, mountPoint string) string {
	encoded := EncodeMountPoint(mountPoint)
	return fmt.Sprintf("%s-snapset_%s_%d_%s", originLV, snapsetName, timestamp, encoded)
}

// noMountPointToken marks a block-device source with no mount point in
// the encoded name, since an empty field would collide with the '_'
// field separator.
const noMountPointToken = "none"

// EncodeMountPoint replaces '/' with '-' in a mount point path. An empty
// mountPoint (a bare block-device source) encodes as noMountPointToken.
func EncodeMountPoint(mountPoint string) string {
	if mountPoint == "" {
		return noMountPointToken
	}
	return strings.ReplaceAll(mountPoint, "/", "-")
}

// DecodeMountPoint is the inverse of EncodeMountPoint, best-effort: it
// cannot distinguish a literal '-' in the original path from an encoded
// '/', which is why ParseSnapshotName only ever needs it on the final
// path segment.
func DecodeMountPoint(encoded string) string {
	if encoded == "" || encoded == noMountPointToken {
		return ""
	}
	return strings.ReplaceAll(encoded, "-", "/")
}

// ParseSnapshotName is the inverse of EncodeSnapshotName: given the
// stored object name and the known origin device, it reconstructs
// (snapsetName, timestamp, mountPoint). Unparsable names return ok=false
// so DiscoverSnapshots can skip them, per spec.md §6.
func ParseSnapshotName(name, origin string) (snapsetName string, timestamp int64, mountPoint string, ok bool) {
	prefix := origin + "-snapset_"
	if !strings.HasPrefix(name, prefix) {
		return "", 0, "", false
	}
	rest := name[len(prefix):]

	// rest is "<snapset_name>_<timestamp>_<encoded_mount_point>"; the
	// snapset name itself may contain '_', so split from the right: the
	// mount point is the final field, the timestamp the one before it.
	fields := strings.Split(rest, "_")
	if len(fields) < 3 {
		return "", 0, "", false
	}
	encodedMount := fields[len(fields)-1]
	tsStr := fields[len(fields)-2]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", 0, "", false
	}
	snapset := strings.Join(fields[:len(fields)-2], "_")
	if snapset == "" {
		return "", 0, "", false
	}
	return snapset, ts, DecodeMountPoint(encodedMount), true
}
