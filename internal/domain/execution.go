package domain

import (
	"errors"
	"strings"
	"time"
)

// Step execution statuses recorded in the ledger. A closed execution
// (COMPLETED, TIMEOUT or ERROR) is never reopened; retries open a new attempt.
const (
	ExecutionStatusStarted          = "STARTED"
	ExecutionStatusWaitingResult    = "WAITING_RESULT"
	ExecutionStatusArtifactReceived = "ARTIFACT_RECEIVED"
	ExecutionStatusCompleted        = "COMPLETED"
	ExecutionStatusTimeout          = "TIMEOUT"
	ExecutionStatusError            = "ERROR"
)

// StepExecution is one attempt (initial or feedback retry) to run a given
// step for a given run. Attempt numbers are scoped to (run, step) and start
// at 1.
type StepExecution struct {
	ID              string
	RunID           string
	StepOrder       int
	StepSlug        string
	Attempt         int
	IsFeedback      bool
	FeedbackText    string
	Status          string
	RequestPayload  map[string]any
	ResponseMessage string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Logs            []StepLog
}

// StepLog is one ordered line of the textual audit trail of an execution.
type StepLog struct {
	ExecutionID string
	Message     string
	CreatedAt   time.Time
}

func (e StepExecution) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("run id is required")
	}
	if e.StepOrder < 1 {
		return errors.New("step order must be >= 1")
	}
	if strings.TrimSpace(e.StepSlug) == "" {
		return errors.New("step slug is required")
	}
	if e.IsFeedback && strings.TrimSpace(e.FeedbackText) == "" {
		return errors.New("feedback text is required for feedback attempts")
	}
	return nil
}

// Closed reports whether the execution reached a terminal ledger status.
func (e StepExecution) Closed() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusTimeout, ExecutionStatusError:
		return true
	}
	return false
}
