// Package lvm2thin implements provider.Provider against LVM2 thin-pool
// snapshots, grounded on the original Python
// snapm.manager.plugins.lvm2.Lvm2Thin. Unlike lvm2-cow, capacity is
// reserved against the thin pool LV, not the volume group, and
// resizing a thin snapshot is a no-op (thin snapshots share the pool's
// free space rather than being preallocated).
package lvm2thin

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/sizepolicy"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
)

const (
	devPrefix = "/dev"

	lvAttrThinVol     = 'V'
	lvAttrMergingOrig = 'O'

	thinSnapshotRole = "thinsnapshot"
)

type lvDict struct {
	VGName      string `json:"vg_name"`
	LVName      string `json:"lv_name"`
	LVAttr      string `json:"lv_attr"`
	Origin      string `json:"origin"`
	PoolLV      string `json:"pool_lv"`
	LVSize      string `json:"lv_size"`
	DataPercent string `json:"data_percent"`
	LVRole      string `json:"lv_role"`
}

type lvsReport struct {
	Report []struct {
		LV []lvDict `json:"lv"`
	} `json:"report"`
}

// Provider is the lvm2-thin Provider.
type Provider struct {
	runner exec.Runner
	log    *snapmlog.Logger
	tx     *provider.TransactionMap
}

func New(runner exec.Runner) *Provider {
	return &Provider{
		runner: runner,
		log:    snapmlog.New(snapmlog.DebugManager, "lvm2-thin"),
		tx:     provider.NewTransactionMap(),
	}
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: "lvm2-thin", Version: "0.1.0"}
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

func (p *Provider) lvsReport(vgLV string, all bool) (*lvsReport, error) {
	args := []string{"lvs", "--reportformat", "json", "--units", "b",
		"--options", "vg_name,lv_name,lv_attr,origin,pool_lv,lv_size,data_percent,lv_role"}
	if vgLV != "" {
		args = append(args, vgLV)
	}
	if all {
		args = append(args, "--all")
	}
	res, err := p.run(args...)
	if err != nil {
		return nil, err
	}
	var rep lvsReport
	if err := json.Unmarshal([]byte(res.Stdout), &rep); err != nil {
		return nil, apferr.Wrap(apferr.Callout, "unable to decode lvs JSON output", err)
	}
	return &rep, nil
}

func parseLVMBytes(s string) uint64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "B")
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func vgLVFromOrigin(origin string) (vg, lv string) {
	trimmed := strings.TrimPrefix(origin, devPrefix+"/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return trimmed, ""
	}
	return parts[0], parts[1]
}

func filterThinSnapshot(lv lvDict) bool {
	if len(lv.LVAttr) == 0 {
		return false
	}
	if rune(lv.LVAttr[0]) != lvAttrThinVol && rune(lv.LVAttr[0]) != lvAttrMergingOrig {
		return false
	}
	if !strings.Contains(lv.LVRole, thinSnapshotRole) {
		return false
	}
	return lv.Origin != ""
}

func (p *Provider) DiscoverSnapshots() ([]*entities.Snapshot, error) {
	rep, err := p.lvsReport("", true)
	if err != nil {
		return nil, err
	}
	var out []*entities.Snapshot
	if len(rep.Report) == 0 {
		return out, nil
	}
	for _, lv := range rep.Report[0].LV {
		if !filterThinSnapshot(lv) {
			continue
		}
		lvName := strings.TrimSuffix(strings.TrimPrefix(lv.LVName, "["), "]")
		snapsetName, ts, mountPoint, ok := provider.ParseSnapshotName(lvName, lv.Origin)
		if !ok {
			continue
		}
		fullName := fmt.Sprintf("%s/%s", lv.VGName, lvName)
		origin := path.Join(devPrefix, lv.VGName, lv.Origin)
		snap := entities.NewSnapshot(fullName, snapsetName, "none", origin, ts, mountPoint, p.Info().Name)
		snap.Status = entities.Active
		snap.Size = parseLVMBytes(lv.LVSize)
		if snap.Status == entities.Active {
			snap.DevPath = path.Join(devPrefix, lv.VGName, lvName)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (p *Provider) CanSnapshot(source string) (bool, error) {
	vg, lv := vgLVFromOrigin(source)
	if vg == "" || lv == "" {
		return false, nil
	}
	rep, err := p.lvsReport(fmt.Sprintf("%s/%s", vg, lv), false)
	if err != nil {
		return false, nil
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return false, nil
	}
	attr := rep.Report[0].LV[0].LVAttr
	if len(attr) == 0 {
		return false, nil
	}
	if rune(attr[0]) == lvAttrMergingOrig {
		return false, apferr.Errorf(apferr.Busy, "snapshot revert in progress for origin volume %s/%s", vg, lv)
	}
	return rune(attr[0]) == lvAttrThinVol, nil
}

func (p *Provider) OriginFromMountPoint(mountPoint string) (string, error) {
	return "", apferr.New(apferr.Plugin, "lvm2-thin requires the caller to resolve mount point to device; use internal/blockdev")
}

func (p *Provider) poolFreeSpace(vgName, poolName string) (uint64, error) {
	rep, err := p.lvsReport(fmt.Sprintf("%s/%s", vgName, poolName), false)
	if err != nil {
		return 0, err
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return 0, apferr.Errorf(apferr.NotFound, "thin pool %s/%s not found", vgName, poolName)
	}
	lv := rep.Report[0].LV[0]
	dataPct, _ := strconv.ParseFloat(lv.DataPercent, 64)
	poolSize := parseLVMBytes(lv.LVSize)
	return poolSize - uint64((float64(poolSize)*dataPct)/100.0), nil
}

func (p *Provider) poolNameFor(origin string) (string, error) {
	vgName, lvName := vgLVFromOrigin(origin)
	rep, err := p.lvsReport(fmt.Sprintf("%s/%s", vgName, lvName), false)
	if err != nil {
		return "", err
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return "", apferr.Errorf(apferr.NotFound, "logical volume %s not found", origin)
	}
	return rep.Report[0].LV[0].PoolLV, nil
}

func (p *Provider) checkFreeSpace(origin, mountPoint string, policy *sizepolicy.Policy) (uint64, string, error) {
	vgName, _ := vgLVFromOrigin(origin)
	poolName, err := p.poolNameFor(origin)
	if err != nil {
		return 0, "", err
	}
	poolFree, err := p.poolFreeSpace(vgName, poolName)
	if err != nil {
		return 0, "", err
	}
	ctx := sizepolicy.Context{MountPoint: mountPoint, FreeBytes: poolFree}
	size, err := policy.Evaluate(ctx)
	if err != nil {
		return 0, "", err
	}
	poolKey := vgName + "/" + poolName
	reserved := p.tx.Reserve(poolKey, size)
	if reserved > poolFree {
		return 0, "", apferr.Errorf(apferr.NoSpace, "thin pool %s has insufficient free space", poolKey)
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
	vgName, lvName := vgLVFromOrigin(req.Origin)
	size, _, err := p.checkFreeSpace(req.Origin, req.MountPoint, req.Policy)
	if err != nil {
		return nil, err
	}
	snapshotName := provider.EncodeSnapshotName(lvName, req.SnapsetName, req.Timestamp, req.MountPoint)
	p.log.Debugf("creating thin snapshot for %s/%s", vgName, lvName)
	if _, err := p.run("lvcreate", "--snapshot", "--name", snapshotName, req.Origin); err != nil {
		return nil, err
	}
	fullName := fmt.Sprintf("%s/%s", vgName, snapshotName)
	snap := entities.NewSnapshot(fullName, req.SnapsetName, req.SnapsetIndex, req.Origin, req.Timestamp, req.MountPoint, p.Info().Name)
	snap.Size = size
	snap.Free = size
	return snap, nil
}

func (p *Provider) RenameSnapshot(oldName, newName string) error {
	_, err := p.run("lvrename", oldName, newName)
	return err
}

func (p *Provider) CheckResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	if !p.tx.IsOpen() {
		return apferr.New(apferr.Plugin, "CheckResizeSnapshot called outside a transaction")
	}
	vg, _ := vgLVFromOrigin(name)
	rep, err := p.lvsReport(name, false)
	if err != nil {
		return err
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	origin := path.Join(devPrefix, vg, rep.Report[0].LV[0].Origin)
	_, _, err = p.checkFreeSpace(origin, "", policy)
	return err
}

// ResizeSnapshot is a no-op: thin snapshots draw from pool free space
// directly and are never explicitly resized, matching the original
// plugin's Lvm2Thin.resize_snapshot.
func (p *Provider) ResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	return nil
}

func (p *Provider) CheckRevertSnapshot(name string) error {
	rep, err := p.lvsReport(name, false)
	if err != nil {
		return err
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	if len(rep.Report[0].LV[0].LVAttr) > 0 && rune(rep.Report[0].LV[0].LVAttr[0]) == lvAttrMergingOrig {
		return apferr.Errorf(apferr.State, "snapshot %s is already reverting", name)
	}
	return nil
}

func (p *Provider) RevertSnapshot(name string) error {
	_, err := p.run("lvconvert", "--merge", name)
	return err
}

func (p *Provider) DeleteSnapshot(name string) error {
	_, err := p.run("lvremove", "--yes", name)
	return err
}

func (p *Provider) ActivateSnapshot(name string) (string, error) {
	if _, err := p.run("lvchange", "--yes", "--ignoreactivationskip", "--activate", "y", name); err != nil {
		return "", err
	}
	return path.Join(devPrefix, name), nil
}

func (p *Provider) DeactivateSnapshot(name string) error {
	_, err := p.run("lvchange", "--yes", "--activate", "n", name)
	return err
}

func (p *Provider) SetAutoactivate(name string, auto bool) error {
	flag := "n"
	if !auto {
		flag = "y"
	}
	_, err := p.run("lvchange", "--yes", "--setactivationskip", flag, name)
	return err
}

var _ provider.Provider = (*Provider)(nil)
