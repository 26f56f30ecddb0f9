// Package scheduler implements spec.md §4.5: Schedule objects backed by
// a calendar-expression create timer and a fixed gc timer, durable JSON
// config, and the four garbage-collection policies, grounded on
// snapm.manager._schedule.
package scheduler

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/entities"
	"github.com/deploymenttheory/snapm/internal/timer"
)

// GcPolicyType names a garbage collection policy kind.
type GcPolicyType string

const (
	GcAll      GcPolicyType = "ALL"
	GcCount    GcPolicyType = "COUNT"
	GcAge      GcPolicyType = "AGE"
	GcTimeline GcPolicyType = "TIMELINE"
)

// timelineCategories lists the Timeline policy's classification order,
// also used as the evaluation order elsewhere in this file.
var timelineCategories = []string{"yearly", "quarterly", "monthly", "weekly", "daily", "hourly"}

// GcPolicyParams evaluates a timestamp-ascending list of SnapshotSets
// and returns those that should be garbage collected.
type GcPolicyParams interface {
	Evaluate(sets []*entities.SnapshotSet) []*entities.SnapshotSet
	HasParams() bool
}

// GcParamsAll always keeps every SnapshotSet.
type GcParamsAll struct{}

func (GcParamsAll) Evaluate(sets []*entities.SnapshotSet) []*entities.SnapshotSet { return nil }
func (GcParamsAll) HasParams() bool                                             { return true }

// GcParamsCount keeps the newest KeepCount sets.
type GcParamsCount struct {
	KeepCount int
}

func (p GcParamsCount) Evaluate(sets []*entities.SnapshotSet) []*entities.SnapshotSet {
	end := len(sets) - p.KeepCount
	if end < 0 {
		end = 0
	}
	return append([]*entities.SnapshotSet{}, sets[:end]...)
}

func (p GcParamsCount) HasParams() bool { return p.KeepCount > 0 }

// GcParamsAge deletes sets older than a threshold computed from the
// calendar-style keep-years/months/weeks/days breakdown.
type GcParamsAge struct {
	KeepYears  int
	KeepMonths int
	KeepWeeks  int
	KeepDays   int
}

// ToDays mirrors GcPolicyParamsAge.to_days: 365.25 days/year,
// 30.44 days/month, rounded up.
func (p GcParamsAge) ToDays() int {
	days := float64(p.KeepYears)*365.25 + float64(p.KeepMonths)*30.44 + float64(p.KeepWeeks)*7 + float64(p.KeepDays)
	return int(math.Ceil(days))
}

func (p GcParamsAge) Evaluate(sets []*entities.SnapshotSet) []*entities.SnapshotSet {
	limit := time.Now().Add(-time.Duration(p.ToDays()) * 24 * time.Hour)
	var out []*entities.SnapshotSet
	for _, ss := range sets {
		if time.Unix(ss.Timestamp, 0).Before(limit) {
			out = append(out, ss)
		}
	}
	return out
}

func (p GcParamsAge) HasParams() bool { return p.ToDays() > 0 }

// GcParamsTimeline implements the multi-category retention policy: a
// set is deleted only if every category it belongs to wants it deleted.
type GcParamsTimeline struct {
	KeepYearly    int
	KeepQuarterly int
	KeepMonthly   int
	KeepWeekly    int
	KeepDaily     int
	KeepHourly    int
}

func (p GcParamsTimeline) keepFor(category string) int {
	switch category {
	case "yearly":
		return p.KeepYearly
	case "quarterly":
		return p.KeepQuarterly
	case "monthly":
		return p.KeepMonthly
	case "weekly":
		return p.KeepWeekly
	case "daily":
		return p.KeepDaily
	case "hourly":
		return p.KeepHourly
	}
	return 0
}

func categoryBoundary(t time.Time, category string) time.Time {
	switch category {
	case "yearly":
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	case "quarterly":
		qMonth := time.Month(((int(t.Month())-1)/3)*3 + 1)
		return time.Date(t.Year(), qMonth, 1, 0, 0, 0, 0, t.Location())
	case "monthly":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case "weekly":
		offset := int(t.Weekday()) - int(time.Monday)
		if offset < 0 {
			offset += 7
		}
		monday := t.AddDate(0, 0, -offset)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
	case "daily":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case "hourly":
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	}
	return time.Time{}
}

// Evaluate classifies sets per timelineCategories (a set may belong to
// several), builds a per-category keep-set of the newest keep_<cat>
// qualifying sets, then deletes any set that belongs to at least one
// category but that no category wants to keep — resolving the
// first-snapshot-disappears edge case where yearly=0 but weekly/daily>0
// would otherwise drop the oldest set silently.
func (p GcParamsTimeline) Evaluate(sets []*entities.SnapshotSet) []*entities.SnapshotSet {
	classified := map[string][]*entities.SnapshotSet{}
	seenBoundary := map[string]map[time.Time]bool{}
	for _, c := range timelineCategories {
		seenBoundary[c] = map[time.Time]bool{}
	}

	belongsTo := map[*entities.SnapshotSet][]string{}

	for _, ss := range sets {
		t := time.Unix(ss.Timestamp, 0)
		for _, category := range timelineCategories {
			if category == "quarterly" {
				switch t.Month() {
				case time.January, time.April, time.July, time.October:
				default:
					continue
				}
			}
			if category == "weekly" && t.Weekday() != time.Monday {
				continue
			}
			boundary := categoryBoundary(t, category)
			if !t.Before(boundary) && !seenBoundary[category][boundary] {
				classified[category] = append(classified[category], ss)
				seenBoundary[category][boundary] = true
				belongsTo[ss] = append(belongsTo[ss], category)
			}
		}
	}

	kept := map[string]map[*entities.SnapshotSet]bool{}
	for _, category := range timelineCategories {
		members := classified[category]
		n := p.keepFor(category)
		keepSet := map[*entities.SnapshotSet]bool{}
		if n > 0 {
			start := len(members) - n
			if start < 0 {
				start = 0
			}
			for _, m := range members[start:] {
				keepSet[m] = true
			}
		}
		kept[category] = keepSet
	}

	var toDelete []*entities.SnapshotSet
	for _, ss := range sets {
		cats := belongsTo[ss]
		if len(cats) == 0 {
			toDelete = append(toDelete, ss)
			continue
		}
		keepAny := false
		for _, c := range cats {
			if kept[c][ss] {
				keepAny = true
				break
			}
		}
		if !keepAny {
			toDelete = append(toDelete, ss)
		}
	}
	return toDelete
}

func (p GcParamsTimeline) HasParams() bool {
	return p.KeepYearly > 0 || p.KeepQuarterly > 0 || p.KeepMonthly > 0 ||
		p.KeepWeekly > 0 || p.KeepDaily > 0 || p.KeepHourly > 0
}

// GcPolicy pairs a GcPolicyType with its parameters, name, and the
// fixed-calendar gc timer that drives its evaluation, grounded on
// GcPolicy.__init__ constructing its own Timer(TimerType.GC, ...).
type GcPolicy struct {
	Name   string
	Type   GcPolicyType
	Params GcPolicyParams

	timer timer.Timer
}

// NewGcPolicy validates and constructs a GcPolicy bound to t, the gc
// timer instance (snapm-gc@<name>.timer) a Scheduler creates for it.
func NewGcPolicy(name string, typ GcPolicyType, params GcPolicyParams, t timer.Timer) (*GcPolicy, error) {
	if name == "" {
		return nil, apferr.New(apferr.Argument, "gc policy name cannot be empty")
	}
	switch typ {
	case GcAll, GcCount, GcAge, GcTimeline:
	default:
		return nil, apferr.Errorf(apferr.Argument, "invalid gc policy type %q", typ)
	}
	return &GcPolicy{Name: name, Type: typ, Params: params, timer: t}, nil
}

// Evaluate sorts sets by ascending timestamp (the invariant every
// GcPolicyParams.Evaluate depends on) and delegates to Params.
func (p *GcPolicy) Evaluate(sets []*entities.SnapshotSet) []*entities.SnapshotSet {
	sorted := append([]*entities.SnapshotSet{}, sets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	return p.Params.Evaluate(sorted)
}

func (p *GcPolicy) HasParams() bool { return p.Params.HasParams() }

func (p *GcPolicy) Enable(ctx context.Context) error  { return p.timer.Enable(ctx) }
func (p *GcPolicy) Disable(ctx context.Context) error { return p.timer.Disable(ctx) }
func (p *GcPolicy) Start(ctx context.Context) error   { return p.timer.Start(ctx) }
func (p *GcPolicy) Stop(ctx context.Context) error    { return p.timer.Stop(ctx) }

// Enabled/Running report the gc timer's current status, matching
// GcPolicy.enabled/GcPolicy.running.
func (p *GcPolicy) Enabled(ctx context.Context) bool {
	st, err := p.timer.Status(ctx)
	return err == nil && (st.Enabled || st.Running)
}

func (p *GcPolicy) Running(ctx context.Context) bool {
	st, err := p.timer.Status(ctx)
	return err == nil && st.Running
}
