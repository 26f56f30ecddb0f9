// Package calendar implements a subset of systemd's OnCalendar expression
// grammar and next-elapse computation, grounded on
// snapm.manager._calendar.CalendarSpec, but parsed natively instead of
// shelling out to systemd-analyze: each expression is translated into a
// 6-field (seconds-enabled) cron expression and handed to
// github.com/robfig/cron/v3, per spec.md §7's suggested language-neutral
// strategy ("implement the systemd OnCalendar subset natively").
//
// Supported forms: the named shorthands (hourly, daily, weekly, monthly,
// quarterly, semiannually, yearly/annually, minutely), and the general
// "[weekday-spec] [date-spec] time-spec" form where date-spec is
// "Y-M-D" (Y must be "*": explicit years are not supported by this
// subset), time-spec is "H:M[:S]", weekday-spec is a comma list of
// abbreviated day names optionally using ".." for a range (e.g.
// "Mon..Fri"), and each numeric field may be "*", a single value, a
// comma list, an "a..b" range, or a "*/n" / "a..b/n" step, mirroring
// systemd's field syntax (which differs from cron only in using ".."
// rather than "-" for ranges).
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

var shorthand = map[string]string{
	"minutely":     "0 * * * * *",
	"hourly":       "0 0 * * * *",
	"daily":        "0 0 0 * * *",
	"midnight":     "0 0 0 * * *",
	"weekly":       "0 0 0 * * 1",
	"monthly":      "0 0 0 1 * *",
	"quarterly":    "0 0 0 1 1,4,7,10 *",
	"semiannually": "0 0 0 1 1,7 *",
	"yearly":       "0 0 0 1 1 *",
	"annually":     "0 0 0 1 1 *",
}

var weekdayNums = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalendarSpec is a parsed OnCalendar expression.
type CalendarSpec struct {
	original string
	schedule cron.Schedule
}

// Parse validates and parses calendarspec, failing apferr.Argument if it
// is not a supported expression, matching the ValueError the original
// CalendarSpec constructor raises on an invalid expression.
func Parse(calendarspec string) (*CalendarSpec, error) {
	cronExpr, err := toCronExpr(calendarspec)
	if err != nil {
		return nil, apferr.Wrap(apferr.Argument, fmt.Sprintf("invalid calendar spec %q", calendarspec), err)
	}
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, apferr.Wrap(apferr.Argument, fmt.Sprintf("invalid calendar spec %q", calendarspec), err)
	}
	return &CalendarSpec{original: calendarspec, schedule: sched}, nil
}

// Original returns the expression exactly as given to Parse.
func (c *CalendarSpec) Original() string { return c.original }

func (c *CalendarSpec) String() string { return c.original }

// NextElapse returns the first occurrence strictly after now, mirroring
// CalendarSpec.next_elapse.
func (c *CalendarSpec) NextElapse(now time.Time) time.Time {
	return c.schedule.Next(now)
}

// Occurs reports whether this expression ever elapses. Every expression
// this subset accepts recurs indefinitely, so Occurs is always true;
// unlike the original, this subset has no representation of a
// "never occurs" CalendarSpec.
func (c *CalendarSpec) Occurs() bool { return true }

func toCronExpr(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("empty calendar spec")
	}
	if alias, ok := shorthand[strings.ToLower(expr)]; ok {
		return alias, nil
	}

	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty calendar spec")
	}

	weekday := "*"
	if looksLikeWeekday(fields[0]) {
		wd, err := convertWeekday(fields[0])
		if err != nil {
			return "", err
		}
		weekday = wd
		fields = fields[1:]
	}

	var dateField, timeField string
	switch len(fields) {
	case 1:
		dateField, timeField = "*-*-*", fields[0]
	case 2:
		dateField, timeField = fields[0], fields[1]
	default:
		return "", fmt.Errorf("too many fields in calendar spec %q", expr)
	}

	month, day, err := convertDate(dateField)
	if err != nil {
		return "", err
	}
	sec, min, hour, err := convertTime(timeField)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s %s %s %s", sec, min, hour, day, month, weekday), nil
}

func looksLikeWeekday(token string) bool {
	return len(token) > 0 && (token[0] >= 'A' && token[0] <= 'Z' || token[0] >= 'a' && token[0] <= 'z')
}

func convertWeekday(token string) (string, error) {
	token = strings.ReplaceAll(token, "..", "-")
	parts := strings.Split(token, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.Contains(p, "-") {
			bounds := strings.SplitN(p, "-", 2)
			a, err := weekdayNum(bounds[0])
			if err != nil {
				return "", err
			}
			b, err := weekdayNum(bounds[1])
			if err != nil {
				return "", err
			}
			out = append(out, fmt.Sprintf("%d-%d", a, b))
			continue
		}
		n, err := weekdayNum(p)
		if err != nil {
			return "", err
		}
		out = append(out, strconv.Itoa(n))
	}
	return strings.Join(out, ","), nil
}

func weekdayNum(name string) (int, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if len(key) > 3 {
		key = key[:3]
	}
	n, ok := weekdayNums[key]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return n, nil
}

// convertDate splits a "Y-M-D" date-spec, rejecting explicit years (this
// subset only supports "*" years, since cron has no year field).
func convertDate(s string) (month, day string, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("date field %q must have 3 components", s)
	}
	year := parts[0]
	if year != "*" {
		return "", "", fmt.Errorf("calendar specs with an explicit year (%q) are not supported", year)
	}
	return convertField(parts[1]), convertField(parts[2]), nil
}

// convertTime splits a "H:M[:S]" time-spec.
func convertTime(s string) (sec, min, hour string, err error) {
	parts := strings.Split(s, ":")
	if len(parts) == 2 {
		parts = append(parts, "0")
	}
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("time field %q must have 2 or 3 components", s)
	}
	hour = convertField(parts[0])
	min = convertField(parts[1])
	secPart := parts[2]
	if idx := strings.Index(secPart, "."); idx >= 0 {
		secPart = secPart[:idx] // truncate fractional seconds; cron has whole-second resolution
	}
	sec = convertField(secPart)
	return sec, min, hour, nil
}

// convertField rewrites the one systemd/cron field syntax difference
// this subset needs to handle: ".." ranges become "-" ranges. Lists
// ("a,b"), steps ("*/n"), and "*" are already cron-compatible.
func convertField(s string) string {
	return strings.ReplaceAll(s, "..", "-")
}
