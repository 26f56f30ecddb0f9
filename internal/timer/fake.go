package timer

import "context"

// FakeBackend is an in-process Timer used by Scheduler's unit tests,
// matching the original's container-test split between a "fast fake"
// and a "slow real systemd" suite — only the fake backend is needed
// here since this module never drives a real systemd instance in tests.
type FakeBackend struct {
	unit     string
	Calendar string
	Enabled  bool
	Running  bool

	FailSetCalendar error
	FailEnable      error
	FailDisable     error
	FailStart       error
	FailStop        error
}

func NewFakeBackend(unit string) *FakeBackend {
	return &FakeBackend{unit: unit}
}

func (f *FakeBackend) Unit() string { return f.unit }

func (f *FakeBackend) SetCalendar(_ context.Context, calendarspec string) error {
	if f.FailSetCalendar != nil {
		return f.FailSetCalendar
	}
	f.Calendar = calendarspec
	return nil
}

func (f *FakeBackend) Enable(_ context.Context) error {
	if f.FailEnable != nil {
		return f.FailEnable
	}
	f.Enabled = true
	return nil
}

func (f *FakeBackend) Disable(_ context.Context) error {
	if f.FailDisable != nil {
		return f.FailDisable
	}
	f.Enabled = false
	return nil
}

func (f *FakeBackend) Start(_ context.Context) error {
	if f.FailStart != nil {
		return f.FailStart
	}
	f.Running = true
	return nil
}

func (f *FakeBackend) Stop(_ context.Context) error {
	if f.FailStop != nil {
		return f.FailStop
	}
	f.Running = false
	return nil
}

func (f *FakeBackend) Status(_ context.Context) (Status, error) {
	st := Status{Enabled: f.Enabled, Running: f.Running}
	if f.Enabled {
		st.LoadState = "loaded"
	}
	if f.Running {
		st.ActiveState = "active"
	}
	return st, nil
}

var _ Timer = (*FakeBackend)(nil)
