package domain

import (
	"errors"
	"fmt"
	"strings"
)

// PipelineStep is one immutable stage descriptor of the fixed pipeline.
// Order is a 1..N total order with no gaps and is the sole source of
// "next step" computation.
type PipelineStep struct {
	Slug         string
	Name         string
	Order        int
	Endpoint     string
	ArtifactType string
}

func (s PipelineStep) Validate() error {
	if strings.TrimSpace(s.Slug) == "" {
		return errors.New("slug is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("step %s: name is required", s.Slug)
	}
	if s.Order < 1 {
		return fmt.Errorf("step %s: order must be >= 1", s.Slug)
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("step %s: endpoint is required", s.Slug)
	}
	if strings.TrimSpace(s.ArtifactType) == "" {
		return fmt.Errorf("step %s: artifact type is required", s.Slug)
	}
	return nil
}
