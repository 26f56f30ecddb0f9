// Package stratis implements provider.Provider against the stratis CLI,
// modeled on the lvm2 adapters' shape (JSON report parsing behind
// internal/exec.Runner) since no reference implementation exists in
// the original source for this backend; spec behavior for
// autoactivate is best-effort per spec.md's note that the original
// never demonstrated a working Stratis set_autoactivate(false).
package stratis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

// filesystem mirrors one entry of `stratis report`'s pools[].filesystems[].
type filesystem struct {
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	Origin    string `json:"origin"`
	SizeBytes string `json:"size"`
	UsedBytes string `json:"used"`
}

type pool struct {
	Name        string       `json:"name"`
	Filesystems []filesystem `json:"filesystems"`
	TotalBytes  string       `json:"size"`
	FreeBytes   string       `json:"free"`
}

type report struct {
	Pools []pool `json:"pools"`
}

// Provider is the stratis Provider.
type Provider struct {
	runner exec.Runner
	log    *snapmlog.Logger
	tx     *provider.TransactionMap
}

func New(runner exec.Runner) *Provider {
	return &Provider{
		runner: runner,
		log:    snapmlog.New(snapmlog.DebugManager, "stratis"),
		tx:     provider.NewTransactionMap(),
	}
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: "stratis", Version: "0.1.0"}
}

func (p *Provider) StartTransaction() error {
	p.tx.Open()
	return nil
}

func (p *Provider) EndTransaction() error {
	p.tx.Close()
	return nil
}

func (p *Provider) run(args ...string) (exec.Result, error) {
	res, err := p.runner.Run(context.Background(), args[0], args[1:]...)
	if err != nil {
		return res, apferr.Wrap(apferr.Callout, fmt.Sprintf("%s failed: %s", args[0], strings.TrimSpace(res.Stderr)), err)
	}
	return res, nil
}

func (p *Provider) getReport() (*report, error) {
	res, err := p.run("stratis", "report")
	if err != nil {
		return nil, err
	}
	var rep report
	if err := json.Unmarshal([]byte(res.Stdout), &rep); err != nil {
		return nil, apferr.Wrap(apferr.Callout, "unable to decode stratis report JSON output", err)
	}
	return &rep, nil
}

func parseBytes(s string) uint64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "B")
	var n uint64
	fmt.Sscanf(s, "%d", &n)
	return n
}

func poolFSFromDevice(dev string) (pool, fs string) {
	parts := strings.Split(strings.TrimPrefix(dev, "/dev/stratis/"), "/")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func (p *Provider) DiscoverSnapshots() ([]*entities.Snapshot, error) {
	rep, err := p.getReport()
	if err != nil {
		return nil, err
	}
	var out []*entities.Snapshot
	for _, pl := range rep.Pools {
		for _, fs := range pl.Filesystems {
			if fs.Origin == "" {
				continue
			}
			snapsetName, ts, mountPoint, ok := provider.ParseSnapshotName(fs.Name, fs.Origin)
			if !ok {
				continue
			}
			fullName := fmt.Sprintf("%s/%s", pl.Name, fs.Name)
			origin := fmt.Sprintf("/dev/stratis/%s/%s", pl.Name, fs.Origin)
			snap := entities.NewSnapshot(fullName, snapsetName, "none", origin, ts, mountPoint, p.Info().Name)
			snap.Status = entities.Active
			snap.DevPath = fmt.Sprintf("/dev/stratis/%s/%s", pl.Name, fs.Name)
			snap.Size = parseBytes(fs.SizeBytes)
			snap.Free = snap.Size - parseBytes(fs.UsedBytes)
			out = append(out, snap)
		}
	}
	return out, nil
}

func (p *Provider) CanSnapshot(source string) (bool, error) {
	poolName, fsName := poolFSFromDevice(source)
	if poolName == "" {
		return false, nil
	}
	rep, err := p.getReport()
	if err != nil {
		return false, nil
	}
	for _, pl := range rep.Pools {
		if pl.Name != poolName {
			continue
		}
		for _, fs := range pl.Filesystems {
			if fs.Name == fsName {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Provider) OriginFromMountPoint(mountPoint string) (string, error) {
	return "", apferr.New(apferr.Plugin, "stratis requires the caller to resolve mount point to device; use internal/blockdev")
}

func (p *Provider) checkFreeSpace(origin, mountPoint string, policy *sizepolicy.Policy) (uint64, string, error) {
	poolName, _ := poolFSFromDevice(origin)
	rep, err := p.getReport()
	if err != nil {
		return 0, "", err
	}
	var poolFree uint64
	found := false
	for _, pl := range rep.Pools {
		if pl.Name == poolName {
			poolFree = parseBytes(pl.FreeBytes)
			found = true
		}
	}
	if !found {
		return 0, "", apferr.Errorf(apferr.NotFound, "stratis pool %s not found", poolName)
	}
	ctx := sizepolicy.Context{MountPoint: mountPoint, FreeBytes: poolFree}
	size, err := policy.Evaluate(ctx)
	if err != nil {
		return 0, "", err
	}
	reserved := p.tx.Reserve(poolName, size)
	if reserved > poolFree {
		return 0, "", apferr.Errorf(apferr.NoSpace, "stratis pool %s has insufficient free space", poolName)
	}
	return size, poolName, nil
}

func (p *Provider) CheckCreateSnapshot(req provider.CreateRequest) error {
	if !p.tx.IsOpen() {
		return apferr.New(apferr.Plugin, "CheckCreateSnapshot called outside a transaction")
	}
	_, _, err := p.checkFreeSpace(req.Origin, req.MountPoint, req.Policy)
	return err
}

func (p *Provider) CreateSnapshot(req provider.CreateRequest) (*entities.Snapshot, error) {
	poolName, fsName := poolFSFromDevice(req.Origin)
	size, _, err := p.checkFreeSpace(req.Origin, req.MountPoint, req.Policy)
	if err != nil {
		return nil, err
	}
	snapshotName := provider.EncodeSnapshotName(fsName, req.SnapsetName, req.Timestamp, req.MountPoint)
	p.log.Debugf("creating stratis snapshot for %s/%s", poolName, fsName)
	if _, err := p.run("stratis", "filesystem", "snapshot", poolName, fsName, snapshotName); err != nil {
		return nil, err
	}
	fullName := fmt.Sprintf("%s/%s", poolName, snapshotName)
	snap := entities.NewSnapshot(fullName, req.SnapsetName, req.SnapsetIndex, req.Origin, req.Timestamp, req.MountPoint, p.Info().Name)
	snap.Size = size
	snap.Free = size
	snap.Status = entities.Active
	snap.DevPath = fmt.Sprintf("/dev/stratis/%s/%s", poolName, snapshotName)
	return snap, nil
}

func (p *Provider) RenameSnapshot(oldName, newName string) error {
	poolName, fsName := poolFSFromDevice("/dev/stratis/" + oldName)
	_, newFS := poolFSFromDevice("/dev/stratis/" + newName)
	_, err := p.run("stratis", "filesystem", "rename", poolName, fsName, newFS)
	return err
}

// CheckResizeSnapshot always fails: stratis filesystems are thinly
// provisioned from the pool and are not individually resized.
func (p *Provider) CheckResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	return apferr.New(apferr.Plugin, "stratis snapshots cannot be resized")
}

func (p *Provider) ResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	return apferr.New(apferr.Plugin, "stratis snapshots cannot be resized")
}

func (p *Provider) CheckRevertSnapshot(name string) error {
	return nil
}

func (p *Provider) RevertSnapshot(name string) error {
	poolName, fsName := poolFSFromDevice("/dev/stratis/" + name)
	_, err := p.run("stratis", "filesystem", "revert", poolName, fsName)
	return err
}

func (p *Provider) DeleteSnapshot(name string) error {
	poolName, fsName := poolFSFromDevice("/dev/stratis/" + name)
	_, err := p.run("stratis", "filesystem", "destroy", poolName, fsName)
	return err
}

func (p *Provider) ActivateSnapshot(name string) (string, error) {
	return fmt.Sprintf("/dev/stratis/%s", name), nil
}

func (p *Provider) DeactivateSnapshot(name string) error {
	return nil
}

// SetAutoactivate is unsupported: stratis filesystems have no
// autoactivate-skip concept, per spec.md's note on this Open Question.
func (p *Provider) SetAutoactivate(name string, auto bool) error {
	return provider.ErrNotSupported
}

var _ provider.Provider = (*Provider)(nil)
