package model

import (
	"strings"
	"time"

	"chronosend/internal/recurrence"
)

// Task is a scheduled or recurring send instruction.
type Task struct {
	ID           string          `json:"id"`
	Phone        string          `json:"phone"`
	Text         string          `json:"text,omitempty"`
	MediaPaths   []string        `json:"media_paths,omitempty"`
	Recurrence   recurrence.Kind `json:"recurrence"`
	ScheduleDate string          `json:"schedule_date,omitempty"`
	ScheduleTime string          `json:"schedule_time,omitempty"`
	Description  string          `json:"description,omitempty"`
	Paused       bool            `json:"paused"`
	Owner        string          `json:"owner,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Immediate reports a task without schedule fields. It is dispatched once, right away.
func (t Task) Immediate() bool {
	return (t.Recurrence == "" || t.Recurrence == recurrence.Once) &&
		strings.TrimSpace(t.ScheduleDate) == "" && strings.TrimSpace(t.ScheduleTime) == ""
}

// OneShot reports whether the task is removed after its firing.
func (t Task) OneShot() bool {
	return t.Recurrence == "" || t.Recurrence == recurrence.Once
}

// NormalizePhone strips everything but digits. A transport suffix such as
// "@c.us" is dropped along with the rest.
func NormalizePhone(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
