// Package recurrence turns a task's recurrence kind and date/time fields into a
// trigger: either one absolute instant or a repeating calendar pattern.
//
// The package is pure. Nothing here touches timers or storage.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	Once    Kind = "once"
	Hourly  Kind = "hourly"
	Daily   Kind = "daily"
	Weekly  Kind = "weekly"
	Monthly Kind = "monthly"
	Yearly  Kind = "yearly"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrMissingField    = errors.New("missing schedule field")
)

// ScheduleError names the offending field. It matches ErrInvalidSchedule or
// ErrMissingField through errors.Is.
type ScheduleError struct {
	Field  string
	Reason string
	err    error
}

func (e *ScheduleError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %s", e.err, e.Field)
	}
	return fmt.Sprintf("%v: %s: %s", e.err, e.Field, e.Reason)
}

func (e *ScheduleError) Unwrap() error { return e.err }

func invalid(field, reason string) error {
	return &ScheduleError{Field: field, Reason: reason, err: ErrInvalidSchedule}
}

func missing(field string) error {
	return &ScheduleError{Field: field, err: ErrMissingField}
}

// ParseKind normalizes a kind string. Empty means Once.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return Once, nil
	}
	if !k.Valid() {
		return "", invalid("recurrence", fmt.Sprintf("unknown kind %q", s))
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case Once, Hourly, Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Pattern is a repeating calendar pattern. Nil fields are wildcards.
type Pattern struct {
	Minute  *int
	Hour    *int
	Weekday *int // 0 = Sunday
	Day     *int // day of month
	Month   *int // 1..12
}

// Trigger is exactly one of At (one-shot) or Pattern (recurring).
type Trigger struct {
	At      time.Time
	Pattern *Pattern
}

func (t Trigger) OneShot() bool { return t.Pattern == nil }

// CronSpec renders the pattern as a 5-field cron spec (m h dom mon dow).
// It returns "" for one-shot triggers.
func (t Trigger) CronSpec() string {
	p := t.Pattern
	if p == nil {
		return ""
	}
	return strings.Join([]string{
		field(p.Minute), field(p.Hour), field(p.Day), field(p.Month), field(p.Weekday),
	}, " ")
}

func field(v *int) string {
	if v == nil {
		return "*"
	}
	return strconv.Itoa(*v)
}

// Resolve builds the trigger for kind from date ("YYYY-MM-DD") and clock ("HH:MM").
// Once instants are interpreted in loc (server local time when nil).
func Resolve(kind Kind, date, clock string, loc *time.Location) (Trigger, error) {
	if loc == nil {
		loc = time.Local
	}
	if kind == "" {
		kind = Once
	}
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)

	if kind == Hourly {
		if clock == "" {
			return Trigger{}, missing("schedule_time")
		}
		m, err := parseMinuteOnly(clock)
		if err != nil {
			return Trigger{}, err
		}
		return Trigger{Pattern: &Pattern{Minute: &m}}, nil
	}

	if !kind.Valid() {
		return Trigger{}, invalid("recurrence", fmt.Sprintf("unknown kind %q", kind))
	}
	if clock == "" {
		return Trigger{}, missing("schedule_time")
	}
	if kind != Daily && date == "" {
		return Trigger{}, missing("schedule_date")
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return Trigger{}, err
	}

	if kind == Daily {
		return Trigger{Pattern: &Pattern{Minute: &m, Hour: &h}}, nil
	}

	d, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return Trigger{}, invalid("schedule_date", "expected YYYY-MM-DD")
	}

	switch kind {
	case Once:
		at := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
		return Trigger{At: at}, nil
	case Weekly:
		wd := int(d.Weekday())
		return Trigger{Pattern: &Pattern{Minute: &m, Hour: &h, Weekday: &wd}}, nil
	case Monthly:
		dom := d.Day()
		return Trigger{Pattern: &Pattern{Minute: &m, Hour: &h, Day: &dom}}, nil
	default: // Yearly
		dom, mon := d.Day(), int(d.Month())
		return Trigger{Pattern: &Pattern{Minute: &m, Hour: &h, Day: &dom, Month: &mon}}, nil
	}
}

// ParseClock parses "HH:MM" split on a single colon.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, invalid("schedule_time", "expected HH:MM")
	}
	hour, herr := atoiDigits(parts[0])
	minute, merr := atoiDigits(parts[1])
	if herr != nil || merr != nil {
		return 0, 0, invalid("schedule_time", "expected HH:MM")
	}
	if hour < 0 || hour > 23 {
		return 0, 0, invalid("schedule_time", "hour out of range")
	}
	if minute < 0 || minute > 59 {
		return 0, 0, invalid("schedule_time", "minute out of range")
	}
	return hour, minute, nil
}

// parseMinuteOnly accepts "30", ":30" or "HH:MM" (hour ignored).
func parseMinuteOnly(s string) (int, error) {
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return 0, invalid("schedule_time", "expected MM or HH:MM")
		}
		if h := strings.TrimSpace(parts[0]); h != "" {
			if _, _, err := ParseClock(s); err != nil {
				return 0, err
			}
		}
		s = parts[1]
	}
	m, err := atoiDigits(s)
	if err != nil {
		return 0, invalid("schedule_time", "expected MM or HH:MM")
	}
	if m < 0 || m > 59 {
		return 0, invalid("schedule_time", "minute out of range")
	}
	return m, nil
}

// Describe returns the human-readable schedule string stored with a task.
// Inputs are assumed to have passed Resolve.
func Describe(kind Kind, date, clock string) string {
	if kind == "" {
		kind = Once
	}
	if kind == Hourly {
		m, err := parseMinuteOnly(clock)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("every hour at :%02d", m)
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return ""
	}
	hm := fmt.Sprintf("%02d:%02d", h, m)
	if kind == Daily {
		return "daily at " + hm
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return ""
	}
	switch kind {
	case Weekly:
		return d.Weekday().String() + " " + hm
	case Monthly:
		return fmt.Sprintf("monthly on day %d at %s", d.Day(), hm)
	case Yearly:
		return fmt.Sprintf("yearly on %s %d at %s", d.Month().String()[:3], d.Day(), hm)
	default:
		return d.Format(dateLayout) + " " + hm
	}
}

// atoiDigits accepts only ASCII digits; strconv.Atoi alone would let "+9" and "-0" through.
func atoiDigits(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
