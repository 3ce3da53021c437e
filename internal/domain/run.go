package domain

import (
	"errors"
	"strings"
	"time"
)

// Run is one end-to-end execution of the pipeline for a single brief.
type Run struct {
	ID               string
	Domain           string
	Brief            string
	Status           string
	CurrentStepOrder *int
	AwaitingDecision bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const RunStatusCompleted = "COMPLETED"

func RunStatusInProgress(slug string) string {
	return "IN_PROGRESS_" + strings.ToUpper(slug)
}

func RunStatusWaitingApproval(slug string) string {
	return "WAITING_APPROVAL_" + strings.ToUpper(slug)
}

func RunStatusRetrying(slug string) string {
	return "RETRYING_" + strings.ToUpper(slug)
}

func RunStatusTimeout(slug string) string {
	return "TIMEOUT_" + strings.ToUpper(slug)
}

func RunStatusError(slug string) string {
	return "ERROR_" + strings.ToUpper(slug)
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Domain) == "" {
		return errors.New("domain is required")
	}
	if strings.TrimSpace(r.Brief) == "" {
		return errors.New("brief is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("status is required")
	}
	if r.AwaitingDecision && r.CurrentStepOrder == nil {
		return errors.New("awaiting decision requires a current step")
	}
	return nil
}
