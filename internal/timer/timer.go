// Package timer abstracts systemd timer-unit control behind a small
// Timer trait, per spec.md's "abstract as a Timer trait with
// enable/disable/start/stop/status against a backend; the systemd/D-Bus
// backend is one implementation; a null/in-process backend suits
// testing." SystemdBackend drives real `snapm-create@<name>.timer` /
// `snapm-gc@<name>.timer` units over D-Bus, mirroring the Provider
// adapters' pattern of hiding an external resource behind a narrow
// interface (internal/exec.Runner) so it can be faked in unit tests.
package timer

import (
	"context"
	"fmt"
	"path/filepath"

	systemdbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/atomicfile"
)

// Status reports a timer unit's current enablement and run state.
type Status struct {
	Enabled     bool
	Running     bool
	LoadState   string
	ActiveState string
}

// Timer controls one systemd timer unit instance.
type Timer interface {
	// SetCalendar writes the unit's OnCalendar drop-in and reloads the
	// manager configuration so the new expression takes effect.
	SetCalendar(ctx context.Context, calendarspec string) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	// Unit returns the systemd unit name this Timer drives, e.g.
	// "snapm-create@nightly.timer".
	Unit() string
}

// DBusConn is the subset of *github.com/coreos/go-systemd/v22/dbus.Conn
// SystemdBackend depends on, narrowed to an interface so it can be
// test-doubled without a live system D-Bus connection, the same seam
// internal/exec.Runner provides for shelled-out Provider commands.
type DBusConn interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []systemdbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]systemdbus.DisableUnitFileChange, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	ReloadContext(ctx context.Context) error
}

// Connect opens a system D-Bus connection suitable for DBusConn.
func Connect(ctx context.Context) (*systemdbus.Conn, error) {
	conn, err := systemdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, apferr.Wrap(apferr.Timer, "connect to systemd over D-Bus", err)
	}
	return conn, nil
}

// SystemdBackend is the production Timer, driving one unit instance
// (e.g. "snapm-create@nightly.timer") over D-Bus and writing its
// OnCalendar drop-in under dropInDir/<unit>.d/10-oncalendar.conf.
type SystemdBackend struct {
	conn      DBusConn
	unit      string
	dropInDir string
}

// NewSystemdBackend builds a SystemdBackend for the template instance
// named fmt.Sprintf("%s@%s.%s", template, instance, suffix) — callers
// pass the fully-formed unit name directly since both the create and gc
// templates share this constructor.
func NewSystemdBackend(conn DBusConn, unit, dropInDir string) *SystemdBackend {
	return &SystemdBackend{conn: conn, unit: unit, dropInDir: dropInDir}
}

// CreateTimerUnit returns the instance name "snapm-create@<name>.timer".
func CreateTimerUnit(name string) string { return fmt.Sprintf("snapm-create@%s.timer", name) }

// GcTimerUnit returns the instance name "snapm-gc@<name>.timer".
func GcTimerUnit(name string) string { return fmt.Sprintf("snapm-gc@%s.timer", name) }

func (s *SystemdBackend) Unit() string { return s.unit }

// SetCalendar writes the drop-in file
// "<dropInDir>/<unit>.d/10-oncalendar.conf" atomically (temp file,
// fsync, rename, fsync directory via internal/atomicfile), clearing the
// unit's built-in OnCalendar before setting the new one, per spec.md §6's
// drop-in layout, then reloads the systemd manager configuration so the
// new schedule takes effect without a full daemon restart.
func (s *SystemdBackend) SetCalendar(ctx context.Context, calendarspec string) error {
	dir := filepath.Join(s.dropInDir, s.unit+".d")
	content := fmt.Sprintf("[Timer]\nOnCalendar=\nOnCalendar=%s\n", calendarspec)
	if err := atomicfile.WriteFile(filepath.Join(dir, "10-oncalendar.conf"), []byte(content), 0o644); err != nil {
		return apferr.Wrap(apferr.System, fmt.Sprintf("write timer drop-in for %s", s.unit), err)
	}
	if err := s.conn.ReloadContext(ctx); err != nil {
		return apferr.Wrap(apferr.Timer, fmt.Sprintf("reload systemd manager after updating %s", s.unit), err)
	}
	return nil
}

func (s *SystemdBackend) Enable(ctx context.Context) error {
	_, _, err := s.conn.EnableUnitFilesContext(ctx, []string{s.unit}, false, true)
	if err != nil {
		return apferr.Wrap(apferr.Timer, fmt.Sprintf("enable %s", s.unit), err)
	}
	return nil
}

func (s *SystemdBackend) Disable(ctx context.Context) error {
	_, err := s.conn.DisableUnitFilesContext(ctx, []string{s.unit}, false)
	if err != nil {
		return apferr.Wrap(apferr.Timer, fmt.Sprintf("disable %s", s.unit), err)
	}
	return nil
}

func (s *SystemdBackend) Start(ctx context.Context) error {
	ch := make(chan string, 1)
	if _, err := s.conn.StartUnitContext(ctx, s.unit, "replace", ch); err != nil {
		return apferr.Wrap(apferr.Timer, fmt.Sprintf("start %s", s.unit), err)
	}
	<-ch
	return nil
}

func (s *SystemdBackend) Stop(ctx context.Context) error {
	ch := make(chan string, 1)
	if _, err := s.conn.StopUnitContext(ctx, s.unit, "replace", ch); err != nil {
		return apferr.Wrap(apferr.Timer, fmt.Sprintf("stop %s", s.unit), err)
	}
	<-ch
	return nil
}

func (s *SystemdBackend) Status(ctx context.Context) (Status, error) {
	props, err := s.conn.GetUnitPropertiesContext(ctx, s.unit)
	if err != nil {
		return Status{}, apferr.Wrap(apferr.Timer, fmt.Sprintf("query status of %s", s.unit), err)
	}
	st := Status{}
	if v, ok := props["LoadState"].(string); ok {
		st.LoadState = v
		st.Enabled = v == "loaded"
	}
	if v, ok := props["ActiveState"].(string); ok {
		st.ActiveState = v
		st.Running = v == "active"
	}
	return st, nil
}

var _ Timer = (*SystemdBackend)(nil)
