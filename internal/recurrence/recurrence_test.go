package recurrence

import (
	"errors"
	"testing"
	"time"
)

func ip(v int) *int { return &v }

func TestResolvePatternsSetOnlyTheirFields(t *testing.T) {
	t.Parallel()

	// 2025-03-10 is a Monday.
	cases := []struct {
		name  string
		kind  Kind
		date  string
		clock string
		want  Pattern
		spec  string
	}{
		{"hourly", Hourly, "", "30", Pattern{Minute: ip(30)}, "30 * * * *"},
		{"hourly colon", Hourly, "2025-03-10", ":30", Pattern{Minute: ip(30)}, "30 * * * *"},
		{"hourly hour ignored", Hourly, "", "07:30", Pattern{Minute: ip(30)}, "30 * * * *"},
		{"daily", Daily, "", "09:00", Pattern{Minute: ip(0), Hour: ip(9)}, "0 9 * * *"},
		{"weekly", Weekly, "2025-03-10", "09:00", Pattern{Minute: ip(0), Hour: ip(9), Weekday: ip(1)}, "0 9 * * 1"},
		{"monthly", Monthly, "2025-01-31", "08:00", Pattern{Minute: ip(0), Hour: ip(8), Day: ip(31)}, "0 8 31 * *"},
		{"yearly", Yearly, "2025-03-10", "14:05", Pattern{Minute: ip(5), Hour: ip(14), Day: ip(10), Month: ip(3)}, "5 14 10 3 *"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr, err := Resolve(tc.kind, tc.date, tc.clock, time.UTC)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if tr.OneShot() {
				t.Fatalf("expected pattern, got instant %v", tr.At)
			}
			if !samePattern(*tr.Pattern, tc.want) {
				t.Fatalf("pattern mismatch: got %s want %s", Trigger{Pattern: tr.Pattern}.CronSpec(), Trigger{Pattern: &tc.want}.CronSpec())
			}
			if got := tr.CronSpec(); got != tc.spec {
				t.Fatalf("CronSpec=%q want %q", got, tc.spec)
			}
		})
	}
}

func samePattern(a, b Pattern) bool {
	eq := func(x, y *int) bool {
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return *x == *y
	}
	return eq(a.Minute, b.Minute) && eq(a.Hour, b.Hour) && eq(a.Weekday, b.Weekday) &&
		eq(a.Day, b.Day) && eq(a.Month, b.Month)
}

func TestResolveOnceInstant(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("test", 2*3600)
	tr, err := Resolve(Once, "2025-03-10", "14:05", loc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !tr.OneShot() {
		t.Fatalf("expected one-shot")
	}
	want := time.Date(2025, 3, 10, 14, 5, 0, 0, loc)
	if !tr.At.Equal(want) {
		t.Fatalf("At=%v want %v", tr.At, want)
	}
	if tr.CronSpec() != "" {
		t.Fatalf("one-shot must not render a cron spec")
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		kind  Kind
		date  string
		clock string
		want  error
		field string
	}{
		{"bad clock", Once, "2025-03-10", "25:99", ErrInvalidSchedule, "schedule_time"},
		{"minute range", Daily, "", "10:60", ErrInvalidSchedule, "schedule_time"},
		{"no colon", Daily, "", "0930", ErrInvalidSchedule, "schedule_time"},
		{"two colons", Daily, "", "09:30:00", ErrInvalidSchedule, "schedule_time"},
		{"letters", Weekly, "2025-03-10", "ab:cd", ErrInvalidSchedule, "schedule_time"},
		{"signed hour", Daily, "", "+9:05", ErrInvalidSchedule, "schedule_time"},
		{"negative zero hour", Daily, "", "-0:30", ErrInvalidSchedule, "schedule_time"},
		{"signed minute", Once, "2025-03-10", "09:+5", ErrInvalidSchedule, "schedule_time"},
		{"hourly signed minute", Hourly, "", "+5", ErrInvalidSchedule, "schedule_time"},
		{"impossible date", Once, "2025-02-30", "10:00", ErrInvalidSchedule, "schedule_date"},
		{"unknown kind", Kind("fortnightly"), "2025-03-10", "10:00", ErrInvalidSchedule, "recurrence"},
		{"hourly no minute", Hourly, "", "", ErrMissingField, "schedule_time"},
		{"hourly bad minute", Hourly, "", "75", ErrInvalidSchedule, "schedule_time"},
		{"daily no time", Daily, "", "", ErrMissingField, "schedule_time"},
		{"weekly no date", Weekly, "", "09:00", ErrMissingField, "schedule_date"},
		{"monthly no date", Monthly, "", "09:00", ErrMissingField, "schedule_date"},
		{"yearly no date", Yearly, "", "09:00", ErrMissingField, "schedule_date"},
		{"once no date", Once, "", "09:00", ErrMissingField, "schedule_date"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Resolve(tc.kind, tc.date, tc.clock, time.UTC)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			var se *ScheduleError
			if !errors.As(err, &se) || se.Field != tc.field {
				t.Fatalf("expected ScheduleError on %q, got %#v", tc.field, err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	if k, err := ParseKind(""); err != nil || k != Once {
		t.Fatalf("empty kind: %v %v", k, err)
	}
	if k, err := ParseKind(" Weekly "); err != nil || k != Weekly {
		t.Fatalf("weekly: %v %v", k, err)
	}
	if _, err := ParseKind("never"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind        Kind
		date, clock string
		want        string
	}{
		{Once, "2025-03-10", "14:05", "2025-03-10 14:05"},
		{Hourly, "", "30", "every hour at :30"},
		{Daily, "", "9:00", "daily at 09:00"},
		{Weekly, "2025-03-10", "09:00", "Monday 09:00"},
		{Monthly, "2025-01-31", "08:00", "monthly on day 31 at 08:00"},
		{Yearly, "2025-03-10", "14:05", "yearly on Mar 10 at 14:05"},
	}
	for _, tc := range cases {
		if got := Describe(tc.kind, tc.date, tc.clock); got != tc.want {
			t.Errorf("Describe(%s)=%q want %q", tc.kind, got, tc.want)
		}
	}
}
