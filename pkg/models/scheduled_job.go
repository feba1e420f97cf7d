package models

import (
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a 5-field cron expression (or an @descriptor) and the
// IANA timezone it is evaluated in. An empty timezone means UTC.
func ParseSchedule(expr, timezone string) (cron.Schedule, *time.Location, error) {
	if expr == "" {
		return nil, nil, newValidationError(ErrInvalidCron, "cron", "cron expression is required")
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, nil, newValidationError(ErrInvalidCron, "cron", "%s", err)
	}

	loc := time.UTC

	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, nil, newValidationError(ErrInvalidTimezone, "timezone", "%s", err)
		}
	}

	return schedule, loc, nil
}

// ScheduledJob binds a company and a process definition to a recurrence
// pattern. NextRunAt stays nil until the runner's first tick sees the job.
type ScheduledJob struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"                  validate:"required"`
	ProcessID string         `json:"process_id"            validate:"required"`
	TriggerID string         `json:"trigger_id,omitempty"`
	Cron      string         `json:"cron"                  validate:"required"`
	Timezone  string         `json:"timezone,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt *time.Time     `json:"next_run_at,omitempty"`
	IsActive  bool           `json:"is_active"`
	Audit
}

// NextAfter returns the first boundary strictly after t.
func (j *ScheduledJob) NextAfter(t time.Time) (time.Time, error) {
	schedule, loc, err := ParseSchedule(j.Cron, j.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(t.In(loc)).UTC(), nil
}

// BoundaryAtOrAfter returns the first boundary at or after t. It is used to
// initialize NextRunAt so that a tick landing exactly on a boundary fires.
func (j *ScheduledJob) BoundaryAtOrAfter(t time.Time) (time.Time, error) {
	return j.NextAfter(t.Add(-time.Nanosecond))
}

// IsDue checks if this job is due for execution at the given time.
func (j *ScheduledJob) IsDue(now time.Time) bool {
	return j.IsActive && j.NextRunAt != nil && !j.NextRunAt.After(now)
}

// Validate performs validation on the job's recurrence fields.
func (j *ScheduledJob) Validate() error {
	if j.Name == "" {
		return newValidationError(ErrInvalidCondition, "name", "name is required")
	}

	if j.ProcessID == "" {
		return newValidationError(ErrInvalidCondition, "process_id", "process_id is required")
	}

	_, _, err := ParseSchedule(j.Cron, j.Timezone)

	return err
}
