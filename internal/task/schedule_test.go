package task

import (
	"testing"
	"time"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", s, err)
	}
	return v
}

func TestNextDaily(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sched Schedule
		last string
		now  string
		want string
	}{
		{
			name:  "slot already passed advances a day",
			sched: Daily("09:00", ""),
			now:   "2025-01-01T10:00:00Z",
			want:  "2025-01-02T09:00:00Z",
		},
		{
			name:  "slot still ahead fires today",
			sched: Daily("09:00", ""),
			now:   "2025-01-01T08:00:00Z",
			want:  "2025-01-01T09:00:00Z",
		},
		{
			name:  "slot exactly now fires now",
			sched: Daily("09:00", ""),
			now:   "2025-01-01T09:00:00Z",
			want:  "2025-01-01T09:00:00Z",
		},
		{
			name:  "slot equal to last run is skipped",
			sched: Daily("09:00", ""),
			last:  "2025-01-01T09:00:00Z",
			now:   "2025-01-01T09:00:00Z",
			want:  "2025-01-02T09:00:00Z",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var last time.Time
			if tt.last != "" {
				last = ts(t, tt.last)
			}
			got, ok := tt.sched.Next(last, ts(t, tt.now))
			if !ok {
				t.Fatalf("Next() ok = false, want a fire time")
			}
			if want := ts(t, tt.want); !got.Equal(want) {
				t.Fatalf("Next() = %v, want %v", got, want)
			}
		})
	}
}

func TestNextDailyTimezone(t *testing.T) {
	t.Parallel()
	sched := Daily("09:00", "America/New_York")
	if err := sched.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	// 13:00Z is 08:00 in New York (EST): today's slot is still ahead.
	got, ok := sched.Next(time.Time{}, ts(t, "2025-01-01T13:00:00Z"))
	if !ok {
		t.Fatal("Next() ok = false")
	}
	if want := ts(t, "2025-01-01T14:00:00Z"); !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got.UTC(), want)
	}
}

func TestNextWeekly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sched Schedule
		now  string
		want string
	}{
		{
			// 2025-01-01 is a Wednesday.
			name:  "later weekday this week",
			sched: Weekly(time.Friday, "12:00", ""),
			now:   "2025-01-01T10:00:00Z",
			want:  "2025-01-03T12:00:00Z",
		},
		{
			name:  "same weekday, time still ahead",
			sched: Weekly(time.Wednesday, "12:00", ""),
			now:   "2025-01-01T10:00:00Z",
			want:  "2025-01-01T12:00:00Z",
		},
		{
			name:  "same weekday, time passed rolls a week",
			sched: Weekly(time.Wednesday, "09:00", ""),
			now:   "2025-01-01T10:00:00Z",
			want:  "2025-01-08T09:00:00Z",
		},
		{
			name:  "earlier weekday rolls to next week",
			sched: Weekly(time.Monday, "09:00", ""),
			now:   "2025-01-01T10:00:00Z",
			want:  "2025-01-06T09:00:00Z",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.sched.Next(time.Time{}, ts(t, tt.now))
			if !ok {
				t.Fatalf("Next() ok = false, want a fire time")
			}
			if want := ts(t, tt.want); !got.Equal(want) {
				t.Fatalf("Next() = %v, want %v", got, want)
			}
		})
	}
}

func TestNextMonthly(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sched Schedule
		now  string
		want string
	}{
		{
			name:  "later this month",
			sched: Monthly(15, "08:00", ""),
			now:   "2025-01-10T00:00:00Z",
			want:  "2025-01-15T08:00:00Z",
		},
		{
			name:  "day passed rolls a month",
			sched: Monthly(15, "08:00", ""),
			now:   "2025-01-16T00:00:00Z",
			want:  "2025-02-15T08:00:00Z",
		},
		{
			name:  "day 31 skips short months",
			sched: Monthly(31, "08:00", ""),
			now:   "2025-02-01T00:00:00Z",
			want:  "2025-03-31T08:00:00Z",
		},
		{
			name:  "day 29 skips non-leap february",
			sched: Monthly(29, "08:00", ""),
			now:   "2025-02-01T00:00:00Z",
			want:  "2025-03-29T08:00:00Z",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.sched.Next(time.Time{}, ts(t, tt.now))
			if !ok {
				t.Fatalf("Next() ok = false, want a fire time")
			}
			if want := ts(t, tt.want); !got.Equal(want) {
				t.Fatalf("Next() = %v, want %v", got, want)
			}
		})
	}
}

func TestNextOnce(t *testing.T) {
	t.Parallel()
	at := ts(t, "2025-03-01T12:00:00Z")
	sched := Once(at)

	got, ok := sched.Next(time.Time{}, ts(t, "2025-01-01T00:00:00Z"))
	if !ok || !got.Equal(at) {
		t.Fatalf("Next() = %v, %v; want %v, true", got, ok, at)
	}

	// A past once schedule that never ran is still owed.
	got, ok = sched.Next(time.Time{}, ts(t, "2025-04-01T00:00:00Z"))
	if !ok || !got.Equal(at) {
		t.Fatalf("Next() after at = %v, %v; want %v, true", got, ok, at)
	}

	// Once it ran, it never fires again.
	if _, ok := sched.Next(at, ts(t, "2025-04-01T00:00:00Z")); ok {
		t.Fatal("Next() ok = true for an already-run once schedule")
	}
}

func TestNextCustomCron(t *testing.T) {
	t.Parallel()
	sched := Custom("0 9 * * *", "")
	if err := sched.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	got, ok := sched.Next(time.Time{}, ts(t, "2025-01-01T10:00:00Z"))
	if !ok {
		t.Fatal("Next() ok = false")
	}
	if want := ts(t, "2025-01-02T09:00:00Z"); !got.Equal(want) {
		t.Fatalf("Next() = %v, want %v", got.UTC(), want)
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{name: "daily ok", sched: Daily("09:00", "")},
		{name: "daily one-digit hour ok", sched: Daily("9:05", "")},
		{name: "daily bad hour", sched: Daily("24:00", ""), wantErr: true},
		{name: "daily bad minutes", sched: Daily("09:60", ""), wantErr: true},
		{name: "daily missing time", sched: Daily("", ""), wantErr: true},
		{name: "weekly ok", sched: Weekly(time.Monday, "08:30", "")},
		{name: "weekly bad day", sched: Schedule{Kind: ScheduleWeekly, Weekday: 7, TimeOfDay: "08:30"}, wantErr: true},
		{name: "monthly ok", sched: Monthly(31, "00:00", "")},
		{name: "monthly day zero", sched: Monthly(0, "00:00", ""), wantErr: true},
		{name: "monthly day 32", sched: Monthly(32, "00:00", ""), wantErr: true},
		{name: "custom 5 field", sched: Custom("*/5 * * * *", "")},
		{name: "custom 6 field", sched: Custom("30 */5 * * * *", "")},
		{name: "custom descriptor", sched: Custom("@hourly", "")},
		{name: "custom garbage", sched: Custom("not cron", ""), wantErr: true},
		{name: "custom empty", sched: Custom("", ""), wantErr: true},
		{name: "once ok", sched: Once(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))},
		{name: "once zero", sched: Once(time.Time{}), wantErr: true},
		{name: "bad timezone", sched: Daily("09:00", "Mars/Olympus"), wantErr: true},
		{name: "named timezone ok", sched: Daily("09:00", "Europe/Berlin")},
		{name: "unknown kind", sched: Schedule{Kind: "hourly"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
		})
	}
}
