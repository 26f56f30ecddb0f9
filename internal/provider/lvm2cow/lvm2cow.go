// Package lvm2cow implements provider.Provider against LVM2
// copy-on-write snapshots, grounded on the original Python
// snapm.manager.plugins.lvm2.Lvm2Cow: it shells out to lvs/vgs for
// discovery and lvcreate/lvremove/lvrename/lvchange/lvconvert/lvresize
// for mutation, using internal/exec.Runner as the subprocess seam.
package lvm2cow

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

	lvAttrStateIdx        = 4
	lvAttrSkipActivateIdx = 9

	lvAttrCowSnap      = 's'
	lvAttrMergeSnap    = 'S'
	lvAttrCowOrigin    = 'o'
	lvAttrActive       = 'a'
	lvAttrInvalid      = 'I'
	lvAttrDefault      = '-'
	lvAttrMergingOrig  = 'O'
	lvAttrSkipActivate = 'k'

	cowSnapshotRole = "thicksnapshot"

	// minLVM2CowSnapshotSize is the 512MiB floor imposed by the plugin,
	// below which lvcreate reliably fails for CoW snapshots.
	minLVM2CowSnapshotSize = 512 * (1 << 20)

	// maxLVMNameLen minus the "-cow" suffix snapm appends internally is
	// not modeled here; we keep the full LVM2 name limit.
	maxLVMNameLen = 127
)

// lvDict mirrors one element of `lvs --reportformat json`'s lv array.
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

type vgDict struct {
	VGName string `json:"vg_name"`
	VGFree string `json:"vg_free"`
}

type vgsReport struct {
	Report []struct {
		VG []vgDict `json:"vg"`
	} `json:"report"`
}

// Provider is the lvm2-cow Provider.
type Provider struct {
	runner exec.Runner
	log    *snapmlog.Logger
	tx     *provider.TransactionMap
}

// New constructs a Provider driving LVM2 through runner.
func New(runner exec.Runner) *Provider {
	return &Provider{
		runner: runner,
		log:    snapmlog.New(snapmlog.DebugManager, "lvm2-cow"),
		tx:     provider.NewTransactionMap(),
	}
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: "lvm2-cow", Version: "0.1.0"}
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

func (p *Provider) vgsReport(vgName string) (*vgsReport, error) {
	args := []string{"vgs", "--reportformat", "json", "--units", "b", "--options", "vg_name,vg_free"}
	if vgName != "" {
		args = append(args, vgName)
	}
	res, err := p.run(args...)
	if err != nil {
		return nil, err
	}
	var rep vgsReport
	if err := json.Unmarshal([]byte(res.Stdout), &rep); err != nil {
		return nil, apferr.Wrap(apferr.Callout, "unable to decode vgs JSON output", err)
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

func filterCowSnapshot(lv lvDict) bool {
	attr := lv.LVAttr
	if len(attr) == 0 {
		return false
	}
	if rune(attr[0]) != lvAttrCowSnap && rune(attr[0]) != lvAttrMergeSnap {
		return false
	}
	if !strings.Contains(lv.LVRole, cowSnapshotRole) {
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
		if !filterCowSnapshot(lv) {
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
		snap.Status = statusFromAttr(lv.LVAttr)
		snap.Size = parseLVMBytes(lv.LVSize)
		snap.Autoactivate = autoactivateFromAttr(lv.LVAttr)
		if dp, _ := strconv.ParseFloat(lv.DataPercent, 64); lv.DataPercent != "" {
			snap.Free = uint64(((100.0 - dp) * float64(snap.Size)) / 100.0)
		}
		if snap.Status == entities.Active {
			snap.DevPath = path.Join(devPrefix, lv.VGName, lvName)
		}
		out = append(out, snap)
	}
	return out, nil
}

func statusFromAttr(attr string) entities.Status {
	if len(attr) <= lvAttrStateIdx {
		return entities.Invalid
	}
	if rune(attr[lvAttrStateIdx]) == lvAttrInvalid {
		return entities.Invalid
	}
	if strings.HasPrefix(attr, string(lvAttrMergeSnap)) {
		return entities.Reverting
	}
	if rune(attr[lvAttrStateIdx]) == lvAttrActive {
		return entities.Active
	}
	return entities.Inactive
}

func autoactivateFromAttr(attr string) bool {
	if len(attr) <= lvAttrSkipActivateIdx {
		return true
	}
	return rune(attr[lvAttrSkipActivateIdx]) != lvAttrSkipActivate
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
	if rune(attr[0]) != lvAttrDefault && rune(attr[0]) != lvAttrCowOrigin {
		return false, nil
	}
	return true, nil
}

func (p *Provider) OriginFromMountPoint(mountPoint string) (string, error) {
	return "", apferr.New(apferr.Plugin, "lvm2-cow requires the caller to resolve mount point to device; use internal/blockdev")
}

func (p *Provider) checkFreeSpace(origin, mountPoint string, policy *sizepolicy.Policy) (uint64, error) {
	vgName, lvName := vgLVFromOrigin(origin)
	vgsRep, err := p.vgsReport(vgName)
	if err != nil {
		return 0, err
	}
	var vgFree uint64
	found := false
	if len(vgsRep.Report) > 0 {
		for _, vg := range vgsRep.Report[0].VG {
			if vg.VGName == vgName {
				vgFree = parseLVMBytes(vg.VGFree)
				found = true
			}
		}
	}
	if !found {
		return 0, apferr.Errorf(apferr.NotFound, "volume group %s not found", vgName)
	}
	lvsRep, err := p.lvsReport(fmt.Sprintf("%s/%s", vgName, lvName), false)
	if err != nil {
		return 0, err
	}
	var devSize uint64
	if len(lvsRep.Report) > 0 {
		for _, lv := range lvsRep.Report[0].LV {
			if lv.VGName == vgName && lv.LVName == lvName {
				devSize = parseLVMBytes(lv.LVSize)
			}
		}
	}

	ctx := sizepolicy.Context{MountPoint: mountPoint, FreeBytes: vgFree, DevSize: devSize}
	size, err := policy.Evaluate(ctx)
	if err != nil {
		return 0, err
	}
	if size < minLVM2CowSnapshotSize {
		size = minLVM2CowSnapshotSize
	}

	reserved := p.tx.Reserve(vgName, size)
	if reserved > vgFree {
		return 0, apferr.Errorf(apferr.NoSpace, "volume group %s has insufficient free space", vgName)
	}
	return size, nil
}

func (p *Provider) CheckCreateSnapshot(req provider.CreateRequest) error {
	if !p.tx.IsOpen() {
		return apferr.New(apferr.Plugin, "CheckCreateSnapshot called outside a transaction")
	}
	_, err := p.checkFreeSpace(req.Origin, req.MountPoint, req.Policy)
	return err
}

func (p *Provider) CreateSnapshot(req provider.CreateRequest) (*entities.Snapshot, error) {
	vgName, lvName := vgLVFromOrigin(req.Origin)
	size, err := p.checkFreeSpace(req.Origin, req.MountPoint, req.Policy)
	if err != nil {
		return nil, err
	}
	snapshotName := provider.EncodeSnapshotName(lvName, req.SnapsetName, req.Timestamp, req.MountPoint)
	if len(snapshotName) > maxLVMNameLen {
		return nil, apferr.Errorf(apferr.Argument, "generated snapshot name %q exceeds LVM2 name length limit", snapshotName)
	}
	p.log.Debugf("creating CoW snapshot for %s/%s", vgName, lvName)
	_, err = p.run("lvcreate", "--snapshot", "--name", snapshotName, "--size", fmt.Sprintf("%db", size), req.Origin)
	if err != nil {
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
	_, err = p.checkFreeSpace(origin, "", policy)
	return err
}

func (p *Provider) ResizeSnapshot(name string, policy *sizepolicy.Policy) error {
	vg, _ := vgLVFromOrigin(name)
	rep, err := p.lvsReport(name, false)
	if err != nil {
		return err
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	origin := path.Join(devPrefix, vg, rep.Report[0].LV[0].Origin)
	size, err := p.checkFreeSpace(origin, "", policy)
	if err != nil {
		return err
	}
	_, err = p.run("lvresize", "--size", fmt.Sprintf("%db", size), name)
	return err
}

func (p *Provider) CheckRevertSnapshot(name string) error {
	rep, err := p.lvsReport(name, false)
	if err != nil {
		return err
	}
	if len(rep.Report) == 0 || len(rep.Report[0].LV) == 0 {
		return apferr.Errorf(apferr.NotFound, "no such snapshot %s", name)
	}
	if statusFromAttr(rep.Report[0].LV[0].LVAttr) == entities.Reverting {
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
