package fsdiff

import (
	"time"

	"github.com/google/uuid"

	"github.com/deploymenttheory/snapm/internal/progress"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// FsDiffer orchestrates a tree walk over two filesystem roots, a
// classified diff, and an optional on-disk cache, grounded on
// snapm.fsdiff.fsdiffer.FsDiffer. It is deliberately decoupled from any
// concrete mount type: callers pass the two already-mounted roots to
// compare, so it can diff snapshot devices, plain directories, or
// anything else a caller has mounted.
type FsDiffer struct {
	engine   *DiffEngine
	cacheDir string
	cacheTTL time.Duration
	useCache bool
	progress progress.Progress
	log      *snapmlog.Logger
}

// FsDifferOption configures a FsDiffer.
type FsDifferOption func(*FsDiffer)

// WithContentDiffer overrides the default unified-diff ContentDiffer.
func WithContentDiffer(differ ContentDiffer) FsDifferOption {
	return func(d *FsDiffer) { d.engine = NewDiffEngine(differ) }
}

// WithCacheDir overrides DefaultCacheDir.
func WithCacheDir(dir string) FsDifferOption {
	return func(d *FsDiffer) { d.cacheDir = dir }
}

// WithCacheTTL overrides DefaultCacheExpiry; 0 disables expiry.
func WithCacheTTL(ttl time.Duration) FsDifferOption {
	return func(d *FsDiffer) { d.cacheTTL = ttl }
}

// WithoutCache disables reading and writing the diff cache entirely.
func WithoutCache() FsDifferOption {
	return func(d *FsDiffer) { d.useCache = false }
}

// WithProgress reports CompareRoots' phases (cache check, two tree
// walks, diff computation) through p instead of the default no-op,
// giving a caller a seam to drive a progress indicator and to learn
// when an interrupt cancelled the comparison (see progress.WatchInterrupt).
func WithProgress(p progress.Progress) FsDifferOption {
	return func(d *FsDiffer) { d.progress = p }
}

// NewFsDiffer constructs a FsDiffer with sensible defaults: the default
// ContentDiffer, DefaultCacheDir, DefaultCacheExpiry, caching enabled.
func NewFsDiffer(opts ...FsDifferOption) *FsDiffer {
	d := &FsDiffer{
		engine:   NewDiffEngine(nil),
		cacheDir: DefaultCacheDir,
		cacheTTL: DefaultCacheExpiry,
		useCache: true,
		progress: progress.Noop{},
		log:      snapmlog.New(snapmlog.DebugDiff, "fsdiff"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CompareRoots walks rootA and rootB, returning their classified diff.
// uuidA/uuidB identify the two snapshot sets being compared and key the
// on-disk cache; they may be the nil UUID when caching is disabled.
// Content diffing is refused by checkRSSBudget when the calling
// process's resident memory is already over budget, per spec.md §4.6.
func (d *FsDiffer) CompareRoots(rootA, rootB string, uuidA, uuidB uuid.UUID, options DiffOptions) (*FsDiffResults, error) {
	if options.IncludeContentDiffs {
		if err := checkRSSBudget(); err != nil {
			return nil, err
		}
	}

	d.progress.Start(4)

	cacheable := d.useCache && uuidA != uuid.Nil && uuidB != uuid.Nil && uuidA != uuidB
	if cacheable {
		if cached, err := LoadCache(d.cacheDir, uuidA, uuidB, options, d.cacheTTL); err == nil {
			d.log.Debugf("using cached diff for %s/%s", uuidA, uuidB)
			d.progress.Update(4)
			d.progress.Finish()
			return cached, nil
		}
	}
	d.progress.Update(1)

	walkerA := NewTreeWalker(options)
	treeA, err := walkerA.WalkTree(rootA, options.FromPath)
	if err != nil {
		return nil, err
	}
	d.progress.Update(1)

	walkerB := NewTreeWalker(options)
	treeB, err := walkerB.WalkTree(rootB, "")
	if err != nil {
		return nil, err
	}
	d.progress.Update(1)

	records, err := d.engine.ComputeDiff(treeA, treeB, options)
	if err != nil {
		return nil, err
	}

	results := NewFsDiffResults(records, options)

	if cacheable {
		if err := SaveCache(d.cacheDir, uuidA, uuidB, results); err != nil {
			d.log.Warnf("failed to save diff cache for %s/%s: %v", uuidA, uuidB, err)
		}
	}
	d.progress.Update(1)
	d.progress.Finish()

	return results, nil
}
