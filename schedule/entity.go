package schedule

import (
	"time"

	"github.com/macrokit/macrokit/errors"
)

// Status is a Schedule lifecycle state.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusInactive, StatusActive, StatusRunning, StatusFailed:
		return true
	}
	return false
}

// Schedule binds a trigger rule to a recording. RecordingID is a non-owning
// reference resolved against the recording store; deleting the recording
// never cascades here.
type Schedule struct {
	ID                   string
	Name                 string
	RecordingID          string
	Trigger              Trigger
	Enabled              bool
	Status               Status
	NextExecutionAt      *time.Time
	TotalExecutions      int
	SuccessfulExecutions int
	ExternalTaskID       string
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SuccessRate derives the success ratio from the counters; 0 when nothing
// has executed. Never stored independently.
func (s *Schedule) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.SuccessfulExecutions) / float64(s.TotalExecutions)
}

func (s *Schedule) validate() error {
	if s.Name == "" {
		return errors.NewValidationf("schedule name must not be empty")
	}
	if s.RecordingID == "" {
		return errors.NewValidationf("schedule must reference a recording")
	}
	if s.Trigger.Kind() == "" {
		return errors.NewValidationf("schedule must carry a trigger")
	}
	if s.Status == "" {
		s.Status = StatusInactive
	}
	if !ValidStatus(s.Status) {
		return errors.NewValidationf("unknown schedule status %q", s.Status)
	}
	return nil
}

// ExecutionResult is one immutable audit record of a playback attempt.
type ExecutionResult struct {
	ID              string
	ScheduleID      string
	ExecutedAt      time.Time
	Success         bool
	Duration        time.Duration
	ErrorMessage    string
	ActionsExecuted int
}

// Statistics aggregates execution outcomes across all schedules.
type Statistics struct {
	TotalSchedules       int
	ActiveSchedules      int
	TotalExecutions      int
	SuccessfulExecutions int
	OverallSuccessRate   float64
}
