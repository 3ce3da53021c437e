package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/devflow-labs/devflow-go/internal/domain"
)

func TestRunQueriesShape(t *testing.T) {
	for _, column := range []string{"run_id", "domain", "brief", "status", "current_step_order", "awaiting_decision"} {
		if !strings.Contains(insertRunQuery, column) {
			t.Fatalf("insert missing column %s: %s", column, insertRunQuery)
		}
	}
	if !strings.Contains(updateRunQuery, "WHERE run_id = ") {
		t.Fatalf("update must target a single run, got %s", updateRunQuery)
	}
	if !strings.Contains(selectRunQuery, "WHERE run_id = ") {
		t.Fatalf("select must target a single run, got %s", selectRunQuery)
	}
}

func TestRunStoreNilGuards(t *testing.T) {
	var s *RunStore
	if err := s.Create(context.Background(), domain.Run{}); err == nil {
		t.Fatalf("nil store must error")
	}
	if _, err := s.Get(context.Background(), "RUN_X"); err == nil {
		t.Fatalf("nil store must error")
	}
	if NewRunStore(nil) != nil {
		t.Fatalf("NewRunStore(nil) must return nil")
	}
}
