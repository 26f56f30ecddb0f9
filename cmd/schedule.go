package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/snapm/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring snapshot-set creation and garbage collection",
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleCreateCmd, scheduleEditCmd, scheduleDeleteCmd,
		scheduleEnableCmd, scheduleDisableCmd, scheduleStartCmd, scheduleStopCmd,
		scheduleGcCmd, scheduleListCmd)
}

// gcPolicyFromFlags builds a GcPolicyType/GcPolicyParams pair from the
// --gc-* flag group, grounded on command.py's schedule-create gc option
// parsing.
func gcPolicyFromFlags() (scheduler.GcPolicyType, scheduler.GcPolicyParams) {
	switch {
	case gcKeepCount > 0:
		return scheduler.GcCount, scheduler.GcParamsCount{KeepCount: gcKeepCount}
	case gcKeepYears > 0 || gcKeepMonths > 0 || gcKeepWeeks > 0 || gcKeepDays > 0:
		return scheduler.GcAge, scheduler.GcParamsAge{
			KeepYears: gcKeepYears, KeepMonths: gcKeepMonths,
			KeepWeeks: gcKeepWeeks, KeepDays: gcKeepDays,
		}
	case gcKeepYearly > 0 || gcKeepQuarterly > 0 || gcKeepMonthly > 0 ||
		gcKeepWeekly > 0 || gcKeepDaily > 0 || gcKeepHourly > 0:
		return scheduler.GcTimeline, scheduler.GcParamsTimeline{
			KeepYearly: gcKeepYearly, KeepQuarterly: gcKeepQuarterly,
			KeepMonthly: gcKeepMonthly, KeepWeekly: gcKeepWeekly,
			KeepDaily: gcKeepDaily, KeepHourly: gcKeepHourly,
		}
	default:
		return scheduler.GcAll, scheduler.GcParamsAll{}
	}
}

var (
	scheduleSources      []string
	scheduleDefaultPolicy string
	scheduleAutoindex    bool
	scheduleCalendar     string
	scheduleBoot         bool
	scheduleRevert       bool

	gcKeepCount     int
	gcKeepYears     int
	gcKeepMonths    int
	gcKeepWeeks     int
	gcKeepDays      int
	gcKeepYearly    int
	gcKeepQuarterly int
	gcKeepMonthly   int
	gcKeepWeekly    int
	gcKeepDaily     int
	gcKeepHourly    int
)

func addScheduleFlags(c *cobra.Command) {
	c.Flags().StringSliceVar(&scheduleSources, "source", nil, "a source this schedule snapshots (repeatable)")
	c.Flags().StringVar(&scheduleDefaultPolicy, "size-policy", "100%SIZE", "default size policy for sources with no explicit policy")
	c.Flags().BoolVar(&scheduleAutoindex, "autoindex", false, "append a numeric index to created snapshot set names")
	c.Flags().StringVar(&scheduleCalendar, "calendar", "", "systemd OnCalendar expression for the create timer")
	c.Flags().BoolVar(&scheduleBoot, "boot", false, "create boot-loader entries for snapshot sets this schedule creates")
	c.Flags().BoolVar(&scheduleRevert, "revert", false, "create revert boot-loader entries for snapshot sets this schedule creates")
	c.Flags().IntVar(&gcKeepCount, "gc-keep-count", 0, "COUNT gc policy: keep this many newest sets")
	c.Flags().IntVar(&gcKeepYears, "gc-keep-years", 0, "AGE gc policy: keep sets younger than this many years")
	c.Flags().IntVar(&gcKeepMonths, "gc-keep-months", 0, "AGE gc policy: plus this many months")
	c.Flags().IntVar(&gcKeepWeeks, "gc-keep-weeks", 0, "AGE gc policy: plus this many weeks")
	c.Flags().IntVar(&gcKeepDays, "gc-keep-days", 0, "AGE gc policy: plus this many days")
	c.Flags().IntVar(&gcKeepYearly, "gc-keep-yearly", 0, "TIMELINE gc policy: yearly slots to keep")
	c.Flags().IntVar(&gcKeepQuarterly, "gc-keep-quarterly", 0, "TIMELINE gc policy: quarterly slots to keep")
	c.Flags().IntVar(&gcKeepMonthly, "gc-keep-monthly", 0, "TIMELINE gc policy: monthly slots to keep")
	c.Flags().IntVar(&gcKeepWeekly, "gc-keep-weekly", 0, "TIMELINE gc policy: weekly slots to keep")
	c.Flags().IntVar(&gcKeepDaily, "gc-keep-daily", 0, "TIMELINE gc policy: daily slots to keep")
	c.Flags().IntVar(&gcKeepHourly, "gc-keep-hourly", 0, "TIMELINE gc policy: hourly slots to keep")
}

func createParamsFromFlags(name string) scheduler.CreateParams {
	typ, params := gcPolicyFromFlags()
	return scheduler.CreateParams{
		Name:              name,
		Sources:           scheduleSources,
		DefaultSizePolicy: scheduleDefaultPolicy,
		Autoindex:         scheduleAutoindex,
		Calendarspec:      scheduleCalendar,
		GcPolicyType:      typ,
		GcPolicyParams:    params,
		Boot:              scheduleBoot,
		Revert:            scheduleRevert,
	}
}

func (a *appEnv) newSchedulerOrErr() (*scheduler.Scheduler, error) {
	mgr, err := a.newManager()
	if err != nil {
		return nil, err
	}
	return a.newScheduler(mgr)
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			s, err := sched.Create(createParamsFromFlags(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("Created schedule %s (next elapse %s)\n", s.Name(), s.NextElapse())
			return nil
		})
	},
}

func init() { addScheduleFlags(scheduleCreateCmd) }

var scheduleEditCmd = &cobra.Command{
	Use:   "edit NAME",
	Short: "Replace a schedule's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			s, err := sched.Edit(args[0], createParamsFromFlags(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("Updated schedule %s\n", s.Name())
			return nil
		})
	},
}

func init() { addScheduleFlags(scheduleEditCmd) }

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			if err := sched.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted schedule %s\n", args[0])
			return nil
		})
	},
}

var scheduleStartFirst bool

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Enable a schedule's timers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			if err := sched.Enable(args[0], scheduleStartFirst); err != nil {
				return err
			}
			fmt.Printf("Enabled schedule %s\n", args[0])
			return nil
		})
	},
}

func init() {
	scheduleEnableCmd.Flags().BoolVar(&scheduleStartFirst, "start", false, "also start the timers immediately")
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Disable a schedule's timers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			if err := sched.Disable(args[0]); err != nil {
				return err
			}
			fmt.Printf("Disabled schedule %s\n", args[0])
			return nil
		})
	},
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Start a schedule's timers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			if err := sched.Start(args[0]); err != nil {
				return err
			}
			fmt.Printf("Started schedule %s\n", args[0])
			return nil
		})
	},
}

var scheduleStopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a schedule's timers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			if err := sched.Stop(args[0]); err != nil {
				return err
			}
			fmt.Printf("Stopped schedule %s\n", args[0])
			return nil
		})
	},
}

var scheduleGcCmd = &cobra.Command{
	Use:   "gc NAME",
	Short: "Run a schedule's garbage-collection policy now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		return env.withManagerLock(func() error {
			sched, err := env.newSchedulerOrErr()
			if err != nil {
				return err
			}
			removed, err := sched.Gc(args[0])
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Println("No snapshot sets removed")
				return nil
			}
			fmt.Printf("Removed: %s\n", strings.Join(removed, ", "))
			return nil
		})
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		env := newAppEnv()
		sched, err := env.newSchedulerOrErr()
		if err != nil {
			return err
		}
		for _, s := range sched.List() {
			fmt.Printf("%-16s %-30s %-24s boot=%-5t revert=%-5t\n",
				s.Name(), strings.Join(s.Sources(), ","), s.Calendarspec(), s.Boot(), s.Revert())
		}
		return nil
	},
}
