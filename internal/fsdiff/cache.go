package fsdiff

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

// DefaultCacheDir is the diff cache directory from spec.md §6.
const DefaultCacheDir = "/var/cache/snapm/diffcache"

// CacheDirMode is the required, root-owned permission mode for
// DefaultCacheDir, per spec.md §4.6.
const CacheDirMode = 0o700

// DefaultCacheExpiry is the default cache entry TTL (15m); 0 disables
// expiry, grounded on snapm.fsdiff.cache._CACHE_EXPIRES_SECS.
const DefaultCacheExpiry = 900 * time.Second

// maxCompressRecords caps the record count that gets zstd-compressed, a
// memory-budget safety guard mirroring
// snapm.fsdiff.cache._get_max_cache_records's table (collapsed to one
// conservative constant since no pack library exposes total-memory
// tiering beyond what internal/fsdiff already computes for the RSS
// safety check).
const maxCompressRecords = 50000

type cacheRecord struct {
	Path            string
	DiffType        DiffType
	OldEntry        *FsEntry
	NewEntry        *FsEntry
	Changes         []FileChange
	ContentDiff     *ContentDiff
	MovedFrom       string
	MovedTo         string
	ContentChanged  bool
	MetadataChanged bool
}

func toCacheRecord(r *FsDiffRecord) cacheRecord {
	return cacheRecord{
		Path: r.Path, DiffType: r.DiffType, OldEntry: r.OldEntry, NewEntry: r.NewEntry,
		Changes: r.Changes, ContentDiff: r.ContentDiff, MovedFrom: r.MovedFrom, MovedTo: r.MovedTo,
		ContentChanged: r.ContentChanged, MetadataChanged: r.MetadataChanged,
	}
}

func fromCacheRecord(c cacheRecord) *FsDiffRecord {
	return &FsDiffRecord{
		Path: c.Path, DiffType: c.DiffType, OldEntry: c.OldEntry, NewEntry: c.NewEntry,
		Changes: c.Changes, ContentDiff: c.ContentDiff, MovedFrom: c.MovedFrom, MovedTo: c.MovedTo,
		ContentChanged: c.ContentChanged, MetadataChanged: c.MetadataChanged,
	}
}

type cacheHeader struct {
	OptionsHash uint64
	Timestamp   int64
	Count       int
}

// CacheName returns the diff cache filename for uuidA/uuidB/results,
// grounded on snapm.fsdiff.cache._cache_name.
func CacheName(uuidA, uuidB uuid.UUID, results *FsDiffResults, compressed bool) (string, error) {
	if uuidA == uuidB {
		return "", apferr.New(apferr.InvalidIdentifier, "cannot cache diff results with uuid_a == uuid_b")
	}
	name := fmt.Sprintf("%s.%s.%d.%d.cache", uuidA, uuidB, results.Options.Hash(), results.Timestamp)
	if compressed {
		name += ".zstd"
	}
	return name, nil
}

// CheckCacheDir ensures dir exists with mode CacheDirMode, matching
// snapm.fsdiff.cache._check_cache_dir.
func CheckCacheDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, CacheDirMode); err != nil {
				return apferr.Wrap(apferr.System, "create diff cache dir "+dir, err)
			}
			return nil
		}
		return apferr.Wrap(apferr.System, "stat diff cache dir "+dir, err)
	}
	if !info.IsDir() {
		return apferr.Errorf(apferr.System, "diff cache dir %s exists but is not a directory", dir)
	}
	if info.Mode().Perm() != CacheDirMode {
		if err := os.Chmod(dir, CacheDirMode); err != nil {
			return apferr.Wrap(apferr.System, "fix permissions on diff cache dir "+dir, err)
		}
	}
	return nil
}

// SaveCache writes results to dir under its canonical filename, gob-
// encoding the header and each record, zstd-compressing unless the
// record count exceeds maxCompressRecords while content diffs are
// enabled (a safety guard against attempting to compress huge result
// sets on memory-constrained systems), grounded on
// snapm.fsdiff.cache.save_cache.
func SaveCache(dir string, uuidA, uuidB uuid.UUID, results *FsDiffResults) error {
	if err := CheckCacheDir(dir); err != nil {
		return err
	}

	compress := !(len(results.Records) > maxCompressRecords && results.Options.IncludeContentDiffs)
	name, err := CacheName(uuidA, uuidB, results, compress)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	header := cacheHeader{OptionsHash: results.Options.Hash(), Timestamp: results.Timestamp, Count: len(results.Records)}
	if err := enc.Encode(header); err != nil {
		return apferr.Wrap(apferr.System, "encode diff cache header", err)
	}
	for _, r := range results.Records {
		if err := enc.Encode(toCacheRecord(r)); err != nil {
			return apferr.Wrap(apferr.System, "encode diff cache record", err)
		}
	}

	path := filepath.Join(dir, name)
	data := buf.Bytes()
	if compress {
		var compressed bytes.Buffer
		w, err := zstd.NewWriter(&compressed)
		if err != nil {
			return apferr.Wrap(apferr.System, "construct zstd writer", err)
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return apferr.Wrap(apferr.System, "compress diff cache", err)
		}
		if err := w.Close(); err != nil {
			return apferr.Wrap(apferr.System, "close zstd writer", err)
		}
		data = compressed.Bytes()
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return apferr.Wrap(apferr.System, "write diff cache file "+path, err)
	}
	return nil
}

// LoadCache scans dir for a cache file matching uuidA/uuidB, pruning
// expired or malformed entries, returning the first match whose
// OptionsHash agrees with options, grounded on
// snapm.fsdiff.cache.load_cache.
func LoadCache(dir string, uuidA, uuidB uuid.UUID, options DiffOptions, expires time.Duration) (*FsDiffResults, error) {
	if uuidA == uuidB {
		return nil, apferr.New(apferr.InvalidIdentifier, "cannot load diff results with uuid_a == uuid_b")
	}
	if err := CheckCacheDir(dir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apferr.Wrap(apferr.System, "read diff cache dir "+dir, err)
	}

	now := time.Now()
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".cache") && !strings.HasSuffix(name, ".cache.zstd") {
			continue
		}
		cacheName := strings.TrimSuffix(name, ".zstd")
		parts := strings.Split(cacheName, ".")
		if len(parts) != 5 {
			continue
		}
		loadUUIDA, loadUUIDB, _, timestampStr := parts[0], parts[1], parts[2], parts[3]

		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			continue
		}

		path := filepath.Join(dir, name)
		if expires != 0 && time.Unix(timestamp, 0).Before(now.Add(-expires)) {
			os.Remove(path)
			continue
		}

		if loadUUIDA != uuidA.String() || loadUUIDB != uuidB.String() {
			continue
		}

		results, err := readCacheFile(path, options)
		if err != nil {
			os.Remove(path)
			continue
		}
		if results == nil {
			continue
		}
		return results, nil
	}

	return nil, apferr.Errorf(apferr.NotFound, "no diff cache entry for %s/%s", uuidA, uuidB)
}

func readCacheFile(path string, options DiffOptions) (*FsDiffResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reader *bytes.Reader
	if strings.HasSuffix(path, ".zstd") {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		decompressed, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(decompressed)
	} else {
		reader = bytes.NewReader(data)
	}

	dec := gob.NewDecoder(reader)
	var header cacheHeader
	if err := dec.Decode(&header); err != nil {
		return nil, err
	}
	if header.OptionsHash != options.Hash() {
		return nil, nil
	}

	records := make([]*FsDiffRecord, 0, header.Count)
	for i := 0; i < header.Count; i++ {
		var c cacheRecord
		if err := dec.Decode(&c); err != nil {
			return nil, err
		}
		records = append(records, fromCacheRecord(c))
	}

	return &FsDiffResults{Records: records, Options: options, Timestamp: header.Timestamp}, nil
}
