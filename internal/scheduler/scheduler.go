package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/manager"
	"github.com/deploymenttheory/snapm/internal/selection"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
	"github.com/deploymenttheory/snapm/internal/timer"
)

// TimerFactory builds the Timer for a systemd unit name (e.g.
// "snapm-create@nightly.timer"); production code passes a factory
// closing over a *timer.SystemdBackend-constructing function, tests
// pass one that returns *timer.FakeBackend instances.
type TimerFactory func(unit string) timer.Timer

// Scheduler owns every on-disk Schedule, loaded from
// schedDir/*.json on construction, per spec.md §4.5.
type Scheduler struct {
	mu sync.Mutex

	schedDir    string
	timerFactory TimerFactory
	mgr         *manager.Manager
	log         *snapmlog.Logger

	schedules map[string]*Schedule
}

// New constructs a Scheduler and loads every "*.json" file in schedDir.
// A missing schedDir is treated as "no schedules yet", not an error.
func New(schedDir string, timerFactory TimerFactory, mgr *manager.Manager) (*Scheduler, error) {
	s := &Scheduler{
		schedDir:     schedDir,
		timerFactory: timerFactory,
		mgr:          mgr,
		log:          snapmlog.New(snapmlog.DebugSchedule, "schedule"),
		schedules:    map[string]*Schedule{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) load() error {
	entries, err := os.ReadDir(s.schedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apferr.Wrap(apferr.System, "read schedule directory "+s.schedDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.schedDir, e.Name())
		sched, err := loadScheduleFile(path, s.timerFactory)
		if err != nil {
			s.log.Warnf("skipping unreadable schedule config %s: %v", path, err)
			continue
		}
		s.schedules[sched.Name()] = sched
	}
	return nil
}

// List returns every Schedule, sorted by name.
func (s *Scheduler) List() []*Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *Scheduler) find(name string) (*Schedule, error) {
	sched, ok := s.schedules[name]
	if !ok {
		return nil, apferr.Errorf(apferr.NotFound, "no schedule named %q", name)
	}
	return sched, nil
}

// Find returns the Schedule named name.
func (s *Scheduler) Find(name string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(name)
}

// CreateParams is the input to Create, mirroring Schedule.__init__'s
// argument list.
type CreateParams struct {
	Name              string
	Sources           []string
	DefaultSizePolicy string
	Autoindex         bool
	Calendarspec      string
	GcPolicyType      GcPolicyType
	GcPolicyParams    GcPolicyParams
	Boot              bool
	Revert            bool
}

// Create validates params (name uniqueness, no duplicate source, a
// parseable calendar expression), writes the config file atomically,
// and registers the new Schedule disabled and not running.
func (s *Scheduler) Create(p CreateParams) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[p.Name]; exists {
		return nil, apferr.Errorf(apferr.Exists, "schedule named %q already exists", p.Name)
	}

	gcPolicy, err := NewGcPolicy(p.Name, p.GcPolicyType, p.GcPolicyParams, s.timerFactory(timer.GcTimerUnit(p.Name)))
	if err != nil {
		return nil, err
	}
	sched, err := NewSchedule(
		p.Name, p.Sources, p.DefaultSizePolicy, p.Autoindex, p.Calendarspec,
		gcPolicy, p.Boot, p.Revert, s.timerFactory(timer.CreateTimerUnit(p.Name)),
	)
	if err != nil {
		return nil, err
	}
	if err := sched.WriteConfig(s.schedDir); err != nil {
		return nil, err
	}
	s.schedules[p.Name] = sched
	return sched, nil
}

// Edit replaces the Schedule identified by name with a freshly
// constructed one built from p, retaining the name slot — matching
// Schedule.edit's "construct a fresh Schedule with a new config" note.
// The replaced Schedule's timers are stopped and disabled first so a
// stale enabled/running state from the old config cannot leak through.
func (s *Scheduler) Edit(name string, p CreateParams) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.find(name)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	wasEnabled := old.Enabled(ctx)
	wasRunning := old.Running(ctx)
	if err := old.Disable(ctx); err != nil {
		return nil, err
	}

	p.Name = name
	gcPolicy, err := NewGcPolicy(p.Name, p.GcPolicyType, p.GcPolicyParams, s.timerFactory(timer.GcTimerUnit(p.Name)))
	if err != nil {
		return nil, err
	}
	sched, err := NewSchedule(
		p.Name, p.Sources, p.DefaultSizePolicy, p.Autoindex, p.Calendarspec,
		gcPolicy, p.Boot, p.Revert, s.timerFactory(timer.CreateTimerUnit(p.Name)),
	)
	if err != nil {
		return nil, err
	}
	if err := sched.WriteConfig(s.schedDir); err != nil {
		return nil, err
	}
	s.schedules[name] = sched

	if wasEnabled {
		if err := sched.Enable(ctx); err != nil {
			return nil, err
		}
	}
	if wasRunning {
		if err := sched.Start(ctx); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Delete stops and disables both of name's timers and removes its
// config file.
func (s *Scheduler) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.find(name)
	if err != nil {
		return err
	}
	if err := sched.Disable(context.Background()); err != nil {
		return err
	}
	if err := sched.DeleteConfig(); err != nil {
		return err
	}
	delete(s.schedules, name)
	return nil
}

// Enable enables name's timers, additionally starting them if start is
// true, keeping enabled/running coherent per spec.md §4.5.
func (s *Scheduler) Enable(name string, start bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.find(name)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := sched.Enable(ctx); err != nil {
		return err
	}
	if start {
		return sched.Start(ctx)
	}
	return nil
}

// Disable stops and disables name's timers.
func (s *Scheduler) Disable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, err := s.find(name)
	if err != nil {
		return err
	}
	return sched.Disable(context.Background())
}

// Start starts name's timers without changing their enablement.
func (s *Scheduler) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, err := s.find(name)
	if err != nil {
		return err
	}
	return sched.Start(context.Background())
}

// Stop stops name's timers without changing their enablement.
func (s *Scheduler) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, err := s.find(name)
	if err != nil {
		return err
	}
	return sched.Stop(context.Background())
}

// Gc resolves name's Schedule, selects the SnapshotSets whose basename
// matches it, evaluates the gc policy against them (timestamp-ascending,
// per GcPolicy.Evaluate), and deletes each returned set including its
// boot/revert entries, returning the deleted sets' names.
func (s *Scheduler) Gc(name string) ([]string, error) {
	s.mu.Lock()
	sched, err := s.find(name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sets := s.mgr.FindSnapshotSets(selection.Selection{SchedName: name})
	toDelete := sched.GcPolicy().Evaluate(sets)

	var deleted []string
	for _, ss := range toDelete {
		if _, err := s.mgr.DeleteSnapshotSets(selection.Selection{UUID: ss.UUID.String()}); err != nil {
			return deleted, err
		}
		deleted = append(deleted, ss.Name)
	}
	return deleted, nil
}
