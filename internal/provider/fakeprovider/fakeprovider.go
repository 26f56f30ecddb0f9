// Package fakeprovider implements an in-memory provider.Provider used by
// Manager and Scheduler unit tests, in place of shelling
// out to lvm2/stratis. It models one backend's worth of sources with a
// controllable free/used/device capacity, grounded on the teacher's
// pattern of injecting a fake backend (internal/device.DMGConfig) behind
// the same constructor signature as the real one.
package fakeprovider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
)

// Source describes one volume this fake provider can snapshot.
type Source struct {
	Path       string // mount point or block device path
	IsMount    bool
	Origin     string // underlying block device (== Path if Path is itself a device)
	FreeBytes  uint64
	UsedBytes  uint64
	DevSize    uint64
	PoolName   string // capacity pool this source draws from, e.g. a VG name
}

// Provider is the fake provider.Provider implementation.
type Provider struct {
	mu sync.Mutex

	name    string
	sources map[string]*Source // keyed by Source.Path

	snapshots map[string]*entities.Snapshot // keyed by Snapshot.Name
	reverting map[string]bool               // keyed by Origin device path

	tx *provider.TransactionMap

	// FailCreateFor, when set, makes CreateSnapshot fail for the named
	// source path, used to exercise Manager's rollback-on-partial-
	// failure path.
	FailCreateFor map[string]bool
}

// New constructs an empty fake provider named name.
func New(name string) *Provider {
	return &Provider{
		name:      name,
		sources:   map[string]*Source{},
		snapshots: map[string]*entities.Snapshot{},
		reverting: map[string]bool{},
		tx:        provider.NewTransactionMap(),
	}
}

// AddSource registers a snapshottable volume.
func (p *Provider) AddSource(s Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[s.Path] = &s
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Version: "fake-1.0"}
}

func (p *Provider) StartTransaction() error {
	p.tx.Open()
	return nil
}

func (p *Provider) EndTransaction() error {
	p.tx.Close()
	return nil
}

func (p *Provider) DiscoverSnapshots() ([]*entities.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entities.Snapshot, 0, len(p.snapshots))
	names := make([]string, 0, len(p.snapshots))
	for n := range p.snapshots {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, p.snapshots[n])
	}
	return out, nil
}

func (p *Provider) CanSnapshot(source string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[source]
	if !ok {
		return false, nil
	}
	if p.reverting[src.Origin] {
		return false, apferr.Errorf(apferr.Busy, "%s is part of an in-progress revert", source)
	}
	return true, nil
}

func (p *Provider) OriginFromMountPoint(mountPoint string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[mountPoint]
	if !ok {
		return "", apferr.Errorf(apferr.NotFound, "no source registered for mount point %s", mountPoint)
	}
	return src.Origin, nil
}

func (p *Provider) policyContext(src *Source) sizepolicy.Context {
	mp := ""
	if src.IsMount {
		mp = src.Path
	}
	return sizepolicy.Context{
		MountPoint: mp,
		FreeBytes:  src.FreeBytes,
		UsedBytes:  src.UsedBytes,
		DevSize:    src.DevSize,
	}
}

func (p *Provider) CheckCreateSnapshot(req provider.CreateRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[req.Source]
	if !ok {
		return apferr.Errorf(apferr.NoProvider, "no such source %s", req.Source)
	}
	size, err := req.Policy.Evaluate(p.policyContext(src))
	if err != nil {
		return err
	}
	if !p.tx.IsOpen() {
		return apferr.New(apferr.Plugin, "CheckCreateSnapshot called outside a transaction")
	}
	reserved := p.tx.Reserve(src.PoolName, size)
	if reserved > src.FreeBytes {
		return apferr.Errorf(apferr.NoSpace, "pool %s: insufficient free space for snapshot of %s", src.PoolName, req.Source)
	}
	return nil
}

func (p *Provider) CreateSnapshot(req provider.CreateRequest) (*entities.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[req.Source]
	if !ok {
		return nil, apferr.Errorf(apferr.NoProvider, "no such source %s", req.Source)
	}
	if p.FailCreateFor[req.Source] {
		return nil, apferr.Errorf(apferr.Plugin, "fake create failure injected for %s", req.Source)
	}
	size, err := req.Policy.Evaluate(p.policyContext(src))
	if err != nil {
		return nil, err
	}
	name := provider.EncodeSnapshotName(src.Origin, req.SnapsetName, req.Timestamp, req.MountPoint)
	snap := entities.NewSnapshot(name, req.SnapsetName, req.SnapsetIndex, src.Origin, req.Timestamp, req.MountPoint, p.name)
	snap.Size = size
	snap.Free = size
	p.snapshots[name] = snap
	return snap, nil
}

func (p *Provider) RenameSnapshot(oldName, newName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[oldName]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", oldName)
	}
	if _, exists := p.snapshots[newName]; exists {
		return apferr.Errorf(apferr.Exists, "snapshot %s already exists", newName)
	}
	delete(p.snapshots, oldName)
	snap.Rename(newName)
	p.snapshots[newName] = snap
	return nil
}

func (p *Provider) CheckResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	src := p.sourceForOrigin(snap.Origin)
	if src == nil {
		return apferr.Errorf(apferr.NotFound, "no source registered for origin %s", snap.Origin)
	}
	size, err := policy.Evaluate(p.policyContext(src))
	if err != nil {
		return err
	}
	if !p.tx.IsOpen() {
		return apferr.New(apferr.Plugin, "CheckResizeSnapshot called outside a transaction")
	}
	reserved := p.tx.Reserve(src.PoolName, size)
	if reserved > src.FreeBytes {
		return apferr.Errorf(apferr.NoSpace, "pool %s: insufficient free space to resize %s", src.PoolName, name)
	}
	return nil
}

func (p *Provider) ResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	src := p.sourceForOrigin(snap.Origin)
	size, err := policy.Evaluate(p.policyContext(src))
	if err != nil {
		return err
	}
	snap.Size = size
	return nil
}

func (p *Provider) CheckRevertSnapshot(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	if snap.Status == entities.Reverting {
		return apferr.Errorf(apferr.State, "snapshot %s is already reverting", name)
	}
	return nil
}

func (p *Provider) RevertSnapshot(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	snap.Status = entities.Reverting
	p.reverting[snap.Origin] = true
	return nil
}

func (p *Provider) DeleteSnapshot(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	delete(p.reverting, snap.Origin)
	delete(p.snapshots, name)
	return nil
}

func (p *Provider) ActivateSnapshot(name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return "", apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	snap.Status = entities.Active
	snap.DevPath = fmt.Sprintf("/dev/mapper/%s", name)
	return snap.DevPath, nil
}

func (p *Provider) DeactivateSnapshot(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	snap.Status = entities.Inactive
	snap.DevPath = ""
	return nil
}

func (p *Provider) SetAutoactivate(name string, auto bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snapshots[name]
	if !ok {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	snap.Autoactivate = auto
	return nil
}

func (p *Provider) sourceForOrigin(origin string) *Source {
	for _, s := range p.sources {
		if s.Origin == origin {
			return s
		}
	}
	return nil
}

var _ provider.Provider = (*Provider)(nil)
