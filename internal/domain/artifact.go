package domain

import (
	"errors"
	"strings"
	"time"
)

// ArtifactTypeUnknown tags artifacts delivered by callbacks that cannot be
// matched to any pipeline step.
const ArtifactTypeUnknown = "unknown"

// Artifact is a versioned, immutable output produced by a step. Versions are
// scoped to (run, type) and start at 1; corrections are new versions, never
// in-place edits.
type Artifact struct {
	ID        string
	RunID     string
	Type      string
	Version   int
	Content   map[string]any
	CreatedAt time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(a.Type) == "" {
		return errors.New("artifact type is required")
	}
	if a.Version < 1 {
		return errors.New("version must be >= 1")
	}
	return nil
}
