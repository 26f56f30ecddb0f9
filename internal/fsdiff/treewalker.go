package fsdiff

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// systemDirs lists the top-level directories skipped unless
// DiffOptions.IncludeSystemDirs is set, grounded on the original's
// well-known pseudo-filesystem exclusion list.
var systemDirs = map[string]bool{
	"proc": true, "sys": true, "dev": true, "run": true,
}

// TreeWalker produces a path→FsEntry mapping by recursive traversal
// rooted at a mount's root directory, grounded on
// snapm.fsdiff.treewalk.TreeWalker.
type TreeWalker struct {
	options DiffOptions
	log     *snapmlog.Logger
}

// NewTreeWalker constructs a TreeWalker bound to options.
func NewTreeWalker(options DiffOptions) *TreeWalker {
	return &TreeWalker{options: options, log: snapmlog.New(snapmlog.DebugDiff, "fsdiff")}
}

// WalkTree walks root (a mount root directory), returning paths relative
// to root with stripPrefix additionally removed, matching
// TreeWalker.walk_tree's prefix-stripping for non-"/" mount roots.
func (w *TreeWalker) WalkTree(root, stripPrefix string) (map[string]*FsEntry, error) {
	tree := map[string]*FsEntry{}

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.log.Debugf("skipping %s: %v", p, err)
			return nil
		}

		rel := strings.TrimPrefix(p, root)
		rel = strings.TrimPrefix(rel, stripPrefix)
		if rel == "" {
			rel = string(os.PathSeparator)
		}
		if !strings.HasPrefix(rel, string(os.PathSeparator)) {
			rel = string(os.PathSeparator) + rel
		}

		if d.IsDir() && p != root {
			base := d.Name()
			if !w.options.IncludeSystemDirs && isTopLevelSystemDir(root, p, base) {
				return filepath.SkipDir
			}
		}

		if p == root {
			return nil
		}

		if !d.IsDir() && !w.matchesPatterns(rel) {
			return nil
		}

		entry, err := w.buildEntry(p, rel, d)
		if err != nil {
			w.log.Debugf("skipping %s: %v", p, err)
			return nil
		}
		if entry != nil {
			tree[rel] = entry
		}
		return nil
	})
	if err != nil {
		return nil, apferr.Wrap(apferr.System, "walk tree rooted at "+root, err)
	}
	return tree, nil
}

func isTopLevelSystemDir(root, p, base string) bool {
	parent := filepath.Dir(p)
	return parent == root && systemDirs[base]
}

func (w *TreeWalker) matchesPatterns(rel string) bool {
	base := filepath.Base(rel)
	if len(w.options.ExcludePatterns) > 0 {
		for _, pat := range w.options.ExcludePatterns {
			if ok, _ := filepath.Match(pat, base); ok {
				return false
			}
		}
	}
	if len(w.options.FilePatterns) == 0 {
		return true
	}
	for _, pat := range w.options.FilePatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

func (w *TreeWalker) buildEntry(fullPath, rel string, d os.DirEntry) (*FsEntry, error) {
	var lstat os.FileInfo
	var err error
	if w.options.FollowSymlinks {
		lstat, err = os.Stat(fullPath)
	} else {
		lstat, err = os.Lstat(fullPath)
	}
	if err != nil {
		return nil, err
	}

	sys, _ := lstat.Sys().(*syscall.Stat_t)
	entry := &FsEntry{
		Path:      rel,
		FullPath:  fullPath,
		IsFile:    lstat.Mode().IsRegular(),
		IsDir:     lstat.IsDir(),
		IsSymlink: lstat.Mode()&os.ModeSymlink != 0,
		IsBlock:   lstat.Mode()&os.ModeDevice != 0 && lstat.Mode()&os.ModeCharDevice == 0,
		IsChar:    lstat.Mode()&os.ModeCharDevice != 0,
		IsSock:    lstat.Mode()&os.ModeSocket != 0,
		IsFifo:    lstat.Mode()&os.ModeNamedPipe != 0,
		Mode:      uint32(lstat.Mode().Perm()),
		Mtime:     lstat.ModTime().Unix(),
		Size:      lstat.Size(),
	}
	if sys != nil {
		entry.UID = sys.Uid
		entry.GID = sys.Gid
	}

	if w.options.MaxFileSize > 0 && entry.IsFile && entry.Size > w.options.MaxFileSize {
		return nil, nil
	}

	if entry.IsSymlink {
		target, err := os.Readlink(fullPath)
		if err == nil {
			entry.SymlinkTarget = target
		}
	}

	if entry.IsFile {
		hashCap := w.options.MaxContentHashSize
		if hashCap <= 0 || entry.Size <= hashCap {
			if hash, err := hashFile(fullPath); err == nil {
				entry.ContentHash = hash
			}
		}
		if w.options.UseMagicFileType {
			entry.FileTypeInfo = classifyFile(rel)
		}
	}

	return entry, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// classifyFile derives a FileTypeInfo from rel's extension and path,
// standing in for the original's libmagic-backed classification (no
// magic-number sniffing library is available in this module's
// dependency set, so extension/path heuristics are used instead; see
// DESIGN.md).
func classifyFile(rel string) *FileTypeInfo {
	mimeType := mime.TypeByExtension(filepath.Ext(rel))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &FileTypeInfo{MimeType: mimeType, Category: categorizePath(rel)}
}

func categorizePath(rel string) FileCategory {
	switch {
	case strings.HasPrefix(rel, "/etc"), strings.HasPrefix(rel, "/boot"):
		return CategoryCriticalSystem
	case strings.HasPrefix(rel, "/home"):
		return CategoryUserData
	case strings.HasPrefix(rel, "/usr"), strings.HasPrefix(rel, "/opt"):
		return CategoryApplication
	case strings.HasPrefix(rel, "/tmp"), strings.HasPrefix(rel, "/var/tmp"):
		return CategoryTemporary
	case strings.HasPrefix(rel, "/var/log"):
		return CategoryLogFiles
	case strings.Contains(rel, "rpm"), strings.Contains(rel, "dpkg"), strings.Contains(rel, "apt"):
		return CategoryPackageMgmt
	default:
		return CategoryUnknown
	}
}
