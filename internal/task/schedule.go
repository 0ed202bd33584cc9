package task

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind discriminates the schedule variants.
type ScheduleKind string

const (
	ScheduleOnce    ScheduleKind = "once"
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
	ScheduleMonthly ScheduleKind = "monthly"
	ScheduleCustom  ScheduleKind = "custom"
)

// cronParser accepts both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reTimeOfDay = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// Schedule describes when a task fires. Kind selects the active variant;
// only that variant's fields are meaningful.
//
//   - once:    At
//   - daily:   TimeOfDay
//   - weekly:  Weekday (0 = Sunday) + TimeOfDay
//   - monthly: DayOfMonth (1..31) + TimeOfDay
//   - custom:  Cron (validated at construction, never at fire time)
//
// Timezone is an IANA name; empty means UTC. Monthly schedules fire only in
// months that contain the requested day (cron day-of-month semantics).
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	At         time.Time    `json:"at,omitempty"`
	TimeOfDay  string       `json:"time_of_day,omitempty"` // "HH:MM", 24h
	Weekday    time.Weekday `json:"weekday,omitempty"`
	DayOfMonth int          `json:"day_of_month,omitempty"`
	Cron       string       `json:"cron,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

func Once(at time.Time) Schedule {
	return Schedule{Kind: ScheduleOnce, At: at}
}

func Daily(timeOfDay, tz string) Schedule {
	return Schedule{Kind: ScheduleDaily, TimeOfDay: timeOfDay, Timezone: tz}
}

func Weekly(day time.Weekday, timeOfDay, tz string) Schedule {
	return Schedule{Kind: ScheduleWeekly, Weekday: day, TimeOfDay: timeOfDay, Timezone: tz}
}

func Monthly(dayOfMonth int, timeOfDay, tz string) Schedule {
	return Schedule{Kind: ScheduleMonthly, DayOfMonth: dayOfMonth, TimeOfDay: timeOfDay, Timezone: tz}
}

func Custom(cronExpr, tz string) Schedule {
	return Schedule{Kind: ScheduleCustom, Cron: cronExpr, Timezone: tz}
}

// Validate rejects malformed schedules. All parsing happens here, once;
// Next() assumes a validated schedule.
func (s Schedule) Validate() error {
	if _, err := s.location(); err != nil {
		return invalidf("schedule.timezone", "unknown timezone %q", s.Timezone)
	}

	switch s.Kind {
	case ScheduleOnce:
		if s.At.IsZero() {
			return invalidf("schedule.at", "once requires a timestamp")
		}
	case ScheduleDaily:
		if !reTimeOfDay.MatchString(strings.TrimSpace(s.TimeOfDay)) {
			return invalidf("schedule.time_of_day", "want HH:MM (24h), got %q", s.TimeOfDay)
		}
	case ScheduleWeekly:
		if !reTimeOfDay.MatchString(strings.TrimSpace(s.TimeOfDay)) {
			return invalidf("schedule.time_of_day", "want HH:MM (24h), got %q", s.TimeOfDay)
		}
		if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
			return invalidf("schedule.weekday", "want 0 (Sunday) .. 6 (Saturday), got %d", int(s.Weekday))
		}
	case ScheduleMonthly:
		if !reTimeOfDay.MatchString(strings.TrimSpace(s.TimeOfDay)) {
			return invalidf("schedule.time_of_day", "want HH:MM (24h), got %q", s.TimeOfDay)
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return invalidf("schedule.day_of_month", "want 1..31, got %d", s.DayOfMonth)
		}
	case ScheduleCustom:
		expr := strings.TrimSpace(s.Cron)
		if expr == "" {
			return invalidf("schedule.cron", "custom requires a cron expression")
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return invalidf("schedule.cron", "%v", err)
		}
	default:
		return invalidf("schedule.kind", "unknown kind %q", string(s.Kind))
	}
	return nil
}

// Next computes the next fire time for a validated schedule.
//
// Pure and deterministic: the result depends only on (schedule, last, now).
// For the periodic kinds it is the smallest slot >= now in the schedule's
// location, never a backfill of missed slots; a slot equal to the last run
// is skipped so a completed run is not refired. ok=false means no further
// fires (a once schedule that already ran, or an unvalidated schedule).
func (s Schedule) Next(last, now time.Time) (next time.Time, ok bool) {
	loc, err := s.location()
	if err != nil {
		return time.Time{}, false
	}

	// fireable reports whether a candidate slot is current (>= now) and has
	// not already been run.
	fireable := func(c time.Time) bool {
		if c.Before(now) {
			return false
		}
		return last.IsZero() || c.After(last)
	}

	switch s.Kind {
	case ScheduleOnce:
		if !last.IsZero() {
			return time.Time{}, false
		}
		// A past At is still owed: it becomes due on the next tick.
		return s.At, true

	case ScheduleDaily:
		hh, mm, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		t := now.In(loc)
		c := time.Date(t.Year(), t.Month(), t.Day(), hh, mm, 0, 0, loc)
		for i := 0; i < 3; i++ {
			if fireable(c) {
				return c, true
			}
			c = c.AddDate(0, 0, 1)
		}
		return time.Time{}, false

	case ScheduleWeekly:
		hh, mm, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		t := now.In(loc)
		c := time.Date(t.Year(), t.Month(), t.Day(), hh, mm, 0, 0, loc)
		c = c.AddDate(0, 0, int((s.Weekday-c.Weekday()+7)%7))
		for i := 0; i < 3; i++ {
			if fireable(c) {
				return c, true
			}
			c = c.AddDate(0, 0, 7)
		}
		return time.Time{}, false

	case ScheduleMonthly:
		hh, mm, err := parseTimeOfDay(s.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		t := now.In(loc)
		y, m := t.Year(), t.Month()
		// Bounded scan: even day 31 recurs within a handful of months.
		for i := 0; i < 60; i++ {
			if s.DayOfMonth <= daysInMonth(y, m) {
				c := time.Date(y, m, s.DayOfMonth, hh, mm, 0, 0, loc)
				if fireable(c) {
					return c, true
				}
			}
			m++
			if m > time.December {
				m = time.January
				y++
			}
		}
		return time.Time{}, false

	case ScheduleCustom:
		sched, err := cronParser.Parse(strings.TrimSpace(s.Cron))
		if err != nil {
			return time.Time{}, false
		}
		base := now
		if base.Before(last) {
			base = last
		}
		c := sched.Next(base.In(loc))
		if c.IsZero() {
			return time.Time{}, false
		}
		return c, true
	}
	return time.Time{}, false
}

// String renders a short human-readable form for logs and snapshots.
func (s Schedule) String() string {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	switch s.Kind {
	case ScheduleOnce:
		return "once " + s.At.UTC().Format(time.RFC3339)
	case ScheduleDaily:
		return fmt.Sprintf("daily %s %s", s.TimeOfDay, tz)
	case ScheduleWeekly:
		return fmt.Sprintf("weekly %s %s %s", s.Weekday, s.TimeOfDay, tz)
	case ScheduleMonthly:
		return fmt.Sprintf("monthly day %d %s %s", s.DayOfMonth, s.TimeOfDay, tz)
	case ScheduleCustom:
		return fmt.Sprintf("cron %q %s", s.Cron, tz)
	}
	return "invalid schedule"
}

func (s Schedule) location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

func parseTimeOfDay(v string) (hh, mm int, err error) {
	m := reTimeOfDay.FindStringSubmatch(strings.TrimSpace(v))
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("invalid time of day %q", v)
	}
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	return hh, mm, nil
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
