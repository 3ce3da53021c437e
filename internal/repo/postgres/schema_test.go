package postgres

import (
	"strings"
	"testing"
)

func TestSchemaEnforcesVersionAndAttemptUniqueness(t *testing.T) {
	joined := strings.Join(schemaStatements, "\n")
	if !strings.Contains(joined, "UNIQUE (run_id, artifact_type, version)") {
		t.Fatalf("artifact versions must be unique per (run, type)")
	}
	if !strings.Contains(joined, "UNIQUE (run_id, step_order, attempt)") {
		t.Fatalf("attempts must be unique per (run, step)")
	}
}

func TestSchemaStatementsAreIdempotent(t *testing.T) {
	for _, stmt := range schemaStatements {
		trimmed := strings.TrimSpace(stmt)
		if strings.HasPrefix(trimmed, "CREATE TABLE") && !strings.Contains(trimmed, "IF NOT EXISTS") {
			t.Fatalf("table creation must be idempotent: %s", trimmed)
		}
		if strings.HasPrefix(trimmed, "CREATE INDEX") && !strings.Contains(trimmed, "IF NOT EXISTS") {
			t.Fatalf("index creation must be idempotent: %s", trimmed)
		}
	}
}
