package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

type fileSpec struct {
	Steps []stepSpec `yaml:"steps"`
}

type stepSpec struct {
	Slug         string `yaml:"slug"`
	Name         string `yaml:"name"`
	Order        int    `yaml:"order"`
	Endpoint     string `yaml:"endpoint"`
	ArtifactType string `yaml:"artifact_type"`
}

// LoadFile reads a pipeline definition from a YAML file. The file fully
// replaces the compiled-in default.
func LoadFile(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML step list and validates it into a Definition.
func Parse(raw []byte) (*Definition, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("decode pipeline spec: %w", err)
	}
	steps := make([]domain.PipelineStep, 0, len(spec.Steps))
	for _, s := range spec.Steps {
		steps = append(steps, domain.PipelineStep{
			Slug:         s.Slug,
			Name:         s.Name,
			Order:        s.Order,
			Endpoint:     s.Endpoint,
			ArtifactType: s.ArtifactType,
		})
	}
	return New(steps)
}
