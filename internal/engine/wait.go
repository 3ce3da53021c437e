package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

// waitForArtifact polls the artifact store until a version newer than
// baseline appears or the wait deadline passes. No lock is held here;
// callbacks land concurrently and are observed through the version
// counter. Returns timedOut=true when the deadline expired without a
// new version.
func (e *Engine) waitForArtifact(ctx context.Context, runID, artifactType string, baseline int) (domain.Artifact, bool, error) {
	deadline := time.Now().Add(e.cfg.WaitTimeout)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		version, err := e.artifacts.LatestVersion(ctx, runID, artifactType)
		if err != nil {
			return domain.Artifact{}, false, fmt.Errorf("poll artifact version: %w", err)
		}
		if version > baseline {
			artifact, err := e.artifacts.Latest(ctx, runID, artifactType)
			if err != nil {
				return domain.Artifact{}, false, fmt.Errorf("load new artifact: %w", err)
			}
			return artifact, false, nil
		}
		if time.Now().After(deadline) {
			return domain.Artifact{}, true, nil
		}
		select {
		case <-ctx.Done():
			return domain.Artifact{}, false, ctx.Err()
		case <-ticker.C:
		}
	}
}
