// Package cmd implements the snapm command line: a cobra.Command tree
// rooted at "snapm" wired onto internal/manager.Manager,
// internal/scheduler.Scheduler, internal/fsdiff.FsDiffer and
// internal/bootintegration.BootIntegration, grounded on go-apfs's
// cmd/root.go rootCmd + Execute() split.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/blockdev"
	"github.com/deploymenttheory/snapm/internal/bootintegration"
	"github.com/deploymenttheory/snapm/internal/exec"
	"github.com/deploymenttheory/snapm/internal/fsdiff"
	"github.com/deploymenttheory/snapm/internal/manager"
	"github.com/deploymenttheory/snapm/internal/provider"
	"github.com/deploymenttheory/snapm/internal/provider/lvm2cow"
	"github.com/deploymenttheory/snapm/internal/provider/lvm2thin"
	"github.com/deploymenttheory/snapm/internal/provider/stratis"
	"github.com/deploymenttheory/snapm/internal/scheduler"
	"github.com/deploymenttheory/snapm/internal/snapmlog"
	"github.com/deploymenttheory/snapm/internal/timer"
)

var (
	debugMask    string
	verbose      bool
	outputFormat string

	cfgViper = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "snapm",
	Short: "Manage sets of coordinated snapshots across multiple block devices",
	Long: `snapm creates, lists, and manages snapshot sets: named groups of
point-in-time snapshots taken together across one or more mounted file
systems or block devices, using whichever of LVM2-CoW, LVM2-Thin, or
Stratis backs each source.

Command groups:
  snapset    create, list, and mutate snapshot sets
  schedule   recurring snapshot-set creation and garbage collection
  diff       compare the file trees of two snapshot sets
  boot       inspect boot-loader entries snapm created`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and maps the returned error to the exit
// codes of spec.md §6: 0 on success, 1 on any handled error. Under
// --debug the full wrapped cause chain is printed; otherwise just the
// top-level message.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if snapmlog.GetDebugMask() != 0 {
			for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
				fmt.Fprintln(os.Stderr, "  caused by:", cause)
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&debugMask, "debug", "", "comma-separated debug subsystems (manager,boot,schedule,diff,all)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (accepted but not read; every command prints plain text)")
	cobra.OnInitialize(initConfig)
}

// initConfig reads configuration per SPEC_FULL.md §A: the first snapm.toml
// found in /etc/snapm, else in $HOME/.config/snapm (only one file is read),
// overridden by SNAPM_* environment variables, plus the bare
// LVM_SYSTEM_DIR/TZ variables spec.md §6 names.
func initConfig() {
	cfgViper.SetConfigName("snapm")
	cfgViper.SetConfigType("toml")
	cfgViper.AddConfigPath("/etc/snapm")
	if home, err := os.UserHomeDir(); err == nil {
		cfgViper.AddConfigPath(filepath.Join(home, ".config", "snapm"))
	}
	cfgViper.SetEnvPrefix("SNAPM")
	cfgViper.AutomaticEnv()
	_ = cfgViper.BindEnv("lvm_system_dir", "LVM_SYSTEM_DIR")
	_ = cfgViper.BindEnv("tz", "TZ")
	cfgViper.SetDefault("schedule_dir", "/etc/snapm/schedule.d")
	cfgViper.SetDefault("lock_path", "/run/snapm/manager.lock")
	cfgViper.SetDefault("diff_cache_dir", fsdiff.DefaultCacheDir)

	// A missing config file is not an error: every setting has a
	// built-in default.
	if err := cfgViper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintln(os.Stderr, "warning: could not read snapm config:", err)
		}
	}

	if debugMask != "" {
		snapmlog.SetDebugMask(snapmlog.ParseMask(debugMask))
	}
}

// appEnv bundles the shared collaborators a subcommand needs (command
// runner, block-device backend, manager lock). newAppEnv only constructs
// these; a Manager, and with it a provider discovery pass, is built only
// when a subcommand calls newManager (directly, or via newSchedulerOrErr),
// so commands such as `diff cache` never pay for discovery, mirroring
// go-apfs's pkg/app.Context lazy-wiring pattern.
type appEnv struct {
	runner  exec.Runner
	backend *blockdev.OSBackend
	lock    *flock.Flock
}

func newAppEnv() *appEnv {
	return &appEnv{
		runner:  exec.OSRunner{},
		backend: blockdev.NewOSBackend(),
		lock:    flock.New(cfgViper.GetString("lock_path")),
	}
}

// withManagerLock serializes mutating snapset/schedule commands across
// processes via an advisory flock at lock_path (default
// /run/snapm/manager.lock), mirroring the original manager's single-writer
// lock (SPEC_FULL.md §C.3). On contention the Busy error wraps a
// LockInfo read from the lock file's contents, naming the holding PID.
func (a *appEnv) withManagerLock(fn func() error) error {
	locked, err := a.lock.TryLock()
	if err != nil {
		return apferr.Wrap(apferr.Busy, "acquire snapm manager lock", err)
	}
	if !locked {
		return apferr.Wrap(apferr.Busy, "another snapm process holds the manager lock", readLockInfo(a.lock.Path()))
	}
	defer a.lock.Unlock()
	if err := writeLockInfo(a.lock.Path()); err != nil {
		return apferr.Wrap(apferr.System, "record manager lock holder", err)
	}
	return fn()
}

// writeLockInfo records the current process's PID and acquisition time
// into the lock file so a contending process can report who holds it.
func writeLockInfo(path string) error {
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	return os.WriteFile(path, []byte(content), 0o644)
}

// readLockInfo reads back what writeLockInfo recorded. A malformed or
// missing file yields a zero-valued LockInfo rather than an error: the
// diagnostic is best-effort and must never mask the real Busy failure.
func readLockInfo(path string) apferr.LockInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return apferr.LockInfo{}
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return apferr.LockInfo{}
	}
	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return apferr.LockInfo{}
	}
	acquired, err := time.Parse(time.RFC3339, lines[1])
	if err != nil {
		return apferr.LockInfo{}
	}
	return apferr.LockInfo{PID: pid, Acquired: acquired}
}

func (a *appEnv) newManager() (*manager.Manager, error) {
	resolver := blockdev.NewResolver(a.backend)
	providers := []provider.Provider{lvm2cow.New(a.runner), lvm2thin.New(a.runner), stratis.New(a.runner)}
	boot := a.newBootIntegration(resolver)
	return manager.New(providers, resolver, a.runner, boot)
}

func (a *appEnv) newBootIntegration(resolver *blockdev.Resolver) *bootintegration.BootIntegration {
	store := bootintegration.NewCLIStore(a.runner)
	devs := bootintegration.NewBlkidResolver(a.runner)
	return bootintegration.New(store, resolver, devs)
}

func (a *appEnv) newScheduler(mgr *manager.Manager) (*scheduler.Scheduler, error) {
	schedDir := cfgViper.GetString("schedule_dir")
	factory := func(unit string) timer.Timer {
		conn, err := timer.Connect(context.Background())
		if err != nil {
			return &errorTimer{unit: unit, err: err}
		}
		return timer.NewSystemdBackend(conn, unit, "/etc/systemd/system")
	}
	return scheduler.New(schedDir, scheduler.TimerFactory(factory), mgr)
}

// errorTimer is returned by the scheduler's TimerFactory when a systemd
// D-Bus connection could not be established (e.g. running outside a
// systemd session); every operation fails with the connection error
// rather than panicking on a nil backend.
type errorTimer struct {
	unit string
	err  error
}

func (t *errorTimer) SetCalendar(context.Context, string) error { return t.err }
func (t *errorTimer) Enable(context.Context) error               { return t.err }
func (t *errorTimer) Disable(context.Context) error              { return t.err }
func (t *errorTimer) Start(context.Context) error                { return t.err }
func (t *errorTimer) Stop(context.Context) error                  { return t.err }
func (t *errorTimer) Status(context.Context) (timer.Status, error) {
	return timer.Status{}, t.err
}
func (t *errorTimer) Unit() string { return t.unit }

var _ timer.Timer = (*errorTimer)(nil)

func (a *appEnv) newFsDiffer(extra ...fsdiff.FsDifferOption) *fsdiff.FsDiffer {
	opts := append([]fsdiff.FsDifferOption{
		fsdiff.WithCacheDir(cfgViper.GetString("diff_cache_dir")),
	}, extra...)
	return fsdiff.NewFsDiffer(opts...)
}
