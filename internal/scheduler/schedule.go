package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/atomicfile"
	"github.com/deploymenttheory/snapm/internal/calendar"
	"github.com/deploymenttheory/snapm/internal/timer"
)

// scheduleConfigFileMode mirrors _SCHEDULE_CONF_FILE_MODE.
const scheduleConfigFileMode = 0o644

// scheduleConfig is the on-disk JSON layout of spec.md §6.
type scheduleConfig struct {
	Name              string         `json:"name"`
	Sources           []string       `json:"sources"`
	DefaultSizePolicy string         `json:"default_size_policy"`
	Autoindex         bool           `json:"autoindex"`
	Calendarspec      string         `json:"calendarspec"`
	Boot              bool           `json:"boot"`
	Revert            bool           `json:"revert"`
	GcPolicy          gcPolicyConfig `json:"gc_policy"`
}

type gcPolicyConfig struct {
	PolicyName    string `json:"policy_name"`
	PolicyType    string `json:"policy_type"`
	KeepCount     int    `json:"keep_count,omitempty"`
	KeepYears     int    `json:"keep_years,omitempty"`
	KeepMonths    int    `json:"keep_months,omitempty"`
	KeepWeeks     int    `json:"keep_weeks,omitempty"`
	KeepDays      int    `json:"keep_days,omitempty"`
	KeepYearly    int    `json:"keep_yearly,omitempty"`
	KeepQuarterly int    `json:"keep_quarterly,omitempty"`
	KeepMonthly   int    `json:"keep_monthly,omitempty"`
	KeepWeekly    int    `json:"keep_weekly,omitempty"`
	KeepDaily     int    `json:"keep_daily,omitempty"`
	KeepHourly    int    `json:"keep_hourly,omitempty"`
}

func gcPolicyToConfig(p *GcPolicy) gcPolicyConfig {
	cfg := gcPolicyConfig{PolicyName: p.Name, PolicyType: string(p.Type)}
	switch params := p.Params.(type) {
	case GcParamsCount:
		cfg.KeepCount = params.KeepCount
	case GcParamsAge:
		cfg.KeepYears, cfg.KeepMonths, cfg.KeepWeeks, cfg.KeepDays =
			params.KeepYears, params.KeepMonths, params.KeepWeeks, params.KeepDays
	case GcParamsTimeline:
		cfg.KeepYearly, cfg.KeepQuarterly, cfg.KeepMonthly = params.KeepYearly, params.KeepQuarterly, params.KeepMonthly
		cfg.KeepWeekly, cfg.KeepDaily, cfg.KeepHourly = params.KeepWeekly, params.KeepDaily, params.KeepHourly
	}
	return cfg
}

func gcPolicyFromConfig(cfg gcPolicyConfig, t timer.Timer) (*GcPolicy, error) {
	var params GcPolicyParams
	switch GcPolicyType(cfg.PolicyType) {
	case GcAll:
		params = GcParamsAll{}
	case GcCount:
		params = GcParamsCount{KeepCount: cfg.KeepCount}
	case GcAge:
		params = GcParamsAge{KeepYears: cfg.KeepYears, KeepMonths: cfg.KeepMonths, KeepWeeks: cfg.KeepWeeks, KeepDays: cfg.KeepDays}
	case GcTimeline:
		params = GcParamsTimeline{
			KeepYearly: cfg.KeepYearly, KeepQuarterly: cfg.KeepQuarterly, KeepMonthly: cfg.KeepMonthly,
			KeepWeekly: cfg.KeepWeekly, KeepDaily: cfg.KeepDaily, KeepHourly: cfg.KeepHourly,
		}
	default:
		return nil, apferr.Errorf(apferr.Argument, "invalid gc policy type %q", cfg.PolicyType)
	}
	return NewGcPolicy(cfg.PolicyName, GcPolicyType(cfg.PolicyType), params, t)
}

// Schedule is a named snapshot schedule: its sources, default size
// policy, create-timer calendar expression, autoindex/boot/revert
// flags, and paired GcPolicy, grounded on snapm.manager._schedule.Schedule.
type Schedule struct {
	name              string
	sources           []string
	defaultSizePolicy string
	autoindex         bool
	calendarspec      *calendar.CalendarSpec
	gcPolicy          *GcPolicy
	boot              bool
	revert            bool

	createTimer timer.Timer
	configPath  string
}

// NewSchedule validates calendarspec and constructs a Schedule bound to
// createTimer (the caller-built "snapm-create@<name>.timer" Timer).
func NewSchedule(
	name string,
	sources []string,
	defaultSizePolicy string,
	autoindex bool,
	calendarspec string,
	gcPolicy *GcPolicy,
	boot, revert bool,
	createTimer timer.Timer,
) (*Schedule, error) {
	if name == "" {
		return nil, apferr.New(apferr.Argument, "schedule name cannot be empty")
	}
	seen := map[string]bool{}
	for _, s := range sources {
		if seen[s] {
			return nil, apferr.Errorf(apferr.Argument, "duplicate source %q in schedule", s)
		}
		seen[s] = true
	}
	cs, err := calendar.Parse(calendarspec)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		name:              name,
		sources:           sources,
		defaultSizePolicy: defaultSizePolicy,
		autoindex:         autoindex,
		calendarspec:      cs,
		gcPolicy:          gcPolicy,
		boot:              boot,
		revert:            revert,
		createTimer:       createTimer,
	}, nil
}

func (s *Schedule) Name() string               { return s.name }
func (s *Schedule) Sources() []string          { return s.sources }
func (s *Schedule) DefaultSizePolicy() string  { return s.defaultSizePolicy }
func (s *Schedule) Autoindex() bool            { return s.autoindex }
func (s *Schedule) Calendarspec() string       { return s.calendarspec.Original() }
func (s *Schedule) GcPolicy() *GcPolicy        { return s.gcPolicy }
func (s *Schedule) Boot() bool                 { return s.boot }
func (s *Schedule) Revert() bool               { return s.revert }

// NextElapse returns the next time this schedule's create timer fires.
func (s *Schedule) NextElapse() time.Time { return s.calendarspec.NextElapse(time.Now()) }

// Enabled/Running report the create timer's status, matching
// Schedule.enabled/Schedule.running (running additionally requires the
// gc policy's own timer to be running, so enabled/running stay coherent
// across both timers per spec.md §4.5).
func (s *Schedule) Enabled(ctx context.Context) bool {
	st, err := s.createTimer.Status(ctx)
	return err == nil && (st.Enabled || st.Running)
}

func (s *Schedule) Running(ctx context.Context) bool {
	st, err := s.createTimer.Status(ctx)
	return err == nil && st.Running && s.gcPolicy.Running(ctx)
}

// Enable enables the create timer and the gc policy's timer together.
func (s *Schedule) Enable(ctx context.Context) error {
	if err := s.createTimer.SetCalendar(ctx, s.calendarspec.Original()); err != nil {
		return err
	}
	if err := s.createTimer.Enable(ctx); err != nil {
		return err
	}
	return s.gcPolicy.Enable(ctx)
}

// Start starts both timers.
func (s *Schedule) Start(ctx context.Context) error {
	if err := s.createTimer.Start(ctx); err != nil {
		return err
	}
	return s.gcPolicy.Start(ctx)
}

// Stop stops both timers.
func (s *Schedule) Stop(ctx context.Context) error {
	if err := s.createTimer.Stop(ctx); err != nil {
		return err
	}
	return s.gcPolicy.Stop(ctx)
}

// Disable stops then disables both timers, matching Schedule.disable's
// stop-before-disable ordering.
func (s *Schedule) Disable(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	if err := s.createTimer.Disable(ctx); err != nil {
		return err
	}
	return s.gcPolicy.Disable(ctx)
}

func (s *Schedule) toConfig() scheduleConfig {
	return scheduleConfig{
		Name:              s.name,
		Sources:           s.sources,
		DefaultSizePolicy: s.defaultSizePolicy,
		Autoindex:         s.autoindex,
		Calendarspec:      s.calendarspec.Original(),
		Boot:              s.boot,
		Revert:            s.revert,
		GcPolicy:          gcPolicyToConfig(s.gcPolicy),
	}
}

// WriteConfig atomically writes this Schedule's JSON config into
// schedDir/<name>.json via internal/atomicfile, mirroring
// Schedule.write_config's temp-file/fsync/rename/fsync-dir sequence.
func (s *Schedule) WriteConfig(schedDir string) error {
	data, err := json.MarshalIndent(s.toConfig(), "", "    ")
	if err != nil {
		return apferr.Wrap(apferr.System, "marshal schedule config", err)
	}
	path := filepath.Join(schedDir, s.name+".json")
	if err := atomicfile.WriteFile(path, data, scheduleConfigFileMode); err != nil {
		return apferr.Wrap(apferr.System, "write schedule config file "+path, err)
	}
	s.configPath = path
	return nil
}

// DeleteConfig removes this Schedule's on-disk configuration file, a
// no-op if it was never written.
func (s *Schedule) DeleteConfig() error {
	if s.configPath == "" {
		return nil
	}
	if err := os.Remove(s.configPath); err != nil && !os.IsNotExist(err) {
		return apferr.Wrap(apferr.System, "delete schedule config file "+s.configPath, err)
	}
	return nil
}

// loadScheduleFile parses a schedule config JSON file, constructing the
// create and gc Timer instances via newTimer.
func loadScheduleFile(path string, newTimer func(unit string) timer.Timer) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apferr.Wrap(apferr.System, "read schedule config file "+path, err)
	}
	var cfg scheduleConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, apferr.Wrap(apferr.Argument, "parse schedule config file "+path, err)
	}
	if cfg.Name == "" || cfg.Calendarspec == "" || cfg.GcPolicy.PolicyType == "" {
		return nil, apferr.Errorf(apferr.Argument, "schedule config %q is missing required keys", path)
	}

	gcPolicy, err := gcPolicyFromConfig(cfg.GcPolicy, newTimer(timer.GcTimerUnit(cfg.Name)))
	if err != nil {
		return nil, err
	}
	sched, err := NewSchedule(
		cfg.Name, cfg.Sources, cfg.DefaultSizePolicy, cfg.Autoindex, cfg.Calendarspec,
		gcPolicy, cfg.Boot, cfg.Revert, newTimer(timer.CreateTimerUnit(cfg.Name)),
	)
	if err != nil {
		return nil, err
	}
	sched.configPath = path
	return sched, nil
}
