package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/manager"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/provider/fakeprovider"
	"github.com/deploymenttheory/snapm/internal/selection"
	"github.com/deploymenttheory/snapm/internal/timer"
)

func ctxTODO() context.Context { return context.Background() }

func allSel() selection.Selection { return selection.Selection{} }

type fakeBootStore struct {
	boot, revert map[string]string
}

func newFakeBootStore() *fakeBootStore {
	return &fakeBootStore{boot: map[string]string{}, revert: map[string]string{}}
}
func (f *fakeBootStore) CreateBootEntry(ss *entities.SnapshotSet) (string, error)   { return "", nil }
func (f *fakeBootStore) CreateRevertEntry(ss *entities.SnapshotSet) (string, error) { return "", nil }
func (f *fakeBootStore) DeleteBootEntry(ss *entities.SnapshotSet) error             { return nil }
func (f *fakeBootStore) DeleteRevertEntry(ss *entities.SnapshotSet) error           { return nil }
func (f *fakeBootStore) RefreshCache() (map[string]string, map[string]string, error) {
	return f.boot, f.revert, nil
}

func fakeTimerFactory() TimerFactory {
	backends := map[string]*timer.FakeBackend{}
	return func(unit string) timer.Timer {
		if b, ok := backends[unit]; ok {
			return b
		}
		b := timer.NewFakeBackend(unit)
		backends[unit] = b
		return b
	}
}

func testCreateParams(name string) CreateParams {
	return CreateParams{
		Name:         name,
		Sources:      []string{"/data"},
		Calendarspec: "daily",
		GcPolicyType: GcCount,
		GcPolicyParams: GcParamsCount{KeepCount: 3},
	}
}

func TestSchedulerCreateWritesConfigAndRegisters(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)

	sched, err := s.Create(testCreateParams("nightly"))
	require.NoError(t, err)
	assert.Equal(t, "nightly", sched.Name())
	assert.False(t, sched.Enabled(ctxTODO()))

	_, err = os.Stat(filepath.Join(dir, "nightly.json"))
	require.NoError(t, err)

	found, err := s.Find("nightly")
	require.NoError(t, err)
	assert.Same(t, sched, found)
}

func TestSchedulerCreateDuplicateNameFails(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)

	_, err = s.Create(testCreateParams("nightly"))
	require.NoError(t, err)
	_, err = s.Create(testCreateParams("nightly"))
	require.Error(t, err)
}

func TestSchedulerCreateRejectsDuplicateSource(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)

	p := testCreateParams("nightly")
	p.Sources = []string{"/data", "/data"}
	_, err = s.Create(p)
	require.Error(t, err)
}

func TestSchedulerCreateRejectsInvalidCalendar(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)

	p := testCreateParams("nightly")
	p.Calendarspec = "not a calendar expression at all"
	_, err = s.Create(p)
	require.Error(t, err)
}

func TestSchedulerLoadsExistingConfigsOnConstruction(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)
	_, err = s1.Create(testCreateParams("nightly"))
	require.NoError(t, err)

	s2, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)
	sched, err := s2.Find("nightly")
	require.NoError(t, err)
	assert.Equal(t, "nightly", sched.Name())
	assert.Equal(t, GcCount, sched.GcPolicy().Type)
}

func TestSchedulerEnableStartStopDisableCoherence(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)
	_, err = s.Create(testCreateParams("nightly"))
	require.NoError(t, err)

	require.NoError(t, s.Enable("nightly", true))
	sched, _ := s.Find("nightly")
	assert.True(t, sched.Enabled(ctxTODO()))
	assert.True(t, sched.Running(ctxTODO()))

	require.NoError(t, s.Stop("nightly"))
	assert.True(t, sched.Enabled(ctxTODO()))
	assert.False(t, sched.Running(ctxTODO()))

	require.NoError(t, s.Disable("nightly"))
	assert.False(t, sched.Enabled(ctxTODO()))
	assert.False(t, sched.Running(ctxTODO()))
}

func TestSchedulerDeleteRemovesConfigAndEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)
	_, err = s.Create(testCreateParams("nightly"))
	require.NoError(t, err)

	require.NoError(t, s.Delete("nightly"))
	_, err = s.Find("nightly")
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "nightly.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestSchedulerEditReplacesScheduleKeepingSlot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)
	_, err = s.Create(testCreateParams("nightly"))
	require.NoError(t, err)
	require.NoError(t, s.Enable("nightly", false))

	edited := testCreateParams("nightly")
	edited.Calendarspec = "weekly"
	sched, err := s.Edit("nightly", edited)
	require.NoError(t, err)
	assert.Equal(t, "weekly", sched.Calendarspec())
	assert.True(t, sched.Enabled(ctxTODO()))
}

func setupGcManager(t *testing.T) *manager.Manager {
	t.Helper()
	p := fakeprovider.New("fake0")
	p.AddSource(fakeprovider.Source{
		Path: "/data", IsMount: true, Origin: "/dev/vg0/root",
		FreeBytes: 100 << 30, UsedBytes: 10 << 30, DevSize: 200 << 30, PoolName: "vg0",
	})
	fb := blockdev.NewFakeBackend()
	fb.Usage["/data"] = struct{ Free, Used, Total uint64 }{Free: 100 << 30, Used: 10 << 30, Total: 200 << 30}
	resolver := blockdev.NewResolver(fb)
	m, err := manager.New([]provider.Provider{p}, resolver, nil, newFakeBootStore())
	require.NoError(t, err)
	return m
}

func TestSchedulerGcDeletesAccordingToPolicy(t *testing.T) {
	mgr := setupGcManager(t)
	_, err := mgr.CreateSnapshotSet("nightly", []manager.SourceSpec{{Source: "/data"}}, "20%FREE", false, false)
	require.NoError(t, err)

	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), mgr)
	require.NoError(t, err)
	p := testCreateParams("nightly")
	p.GcPolicyType = GcAll
	p.GcPolicyParams = GcParamsAll{}
	_, err = s.Create(p)
	require.NoError(t, err)

	deleted, err := s.Gc("nightly")
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.Len(t, mgr.FindSnapshotSets(allSel()), 1)
}

func TestSchedulerGcUnknownScheduleFails(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, fakeTimerFactory(), nil)
	require.NoError(t, err)
	_, err = s.Gc("missing")
	require.Error(t, err)
}
