package postgres

import (
	"context"
	"strings"
	"testing"
)

func TestInsertExecutionQueryAssignsAttemptAtomically(t *testing.T) {
	if !strings.Contains(insertExecutionQuery, "COALESCE(MAX(attempt), 0) + 1") {
		t.Fatalf("insert must compute the next attempt in the statement, got %s", insertExecutionQuery)
	}
	if !strings.Contains(insertExecutionQuery, "RETURNING") {
		t.Fatalf("insert must return the stored row, got %s", insertExecutionQuery)
	}
}

func TestCloseExecutionQueryIsTerminal(t *testing.T) {
	if !strings.Contains(closeExecutionQuery, "finished_at IS NULL") {
		t.Fatalf("close must only touch open attempts, got %s", closeExecutionQuery)
	}
}

func TestSelectLatestAttemptQueryOrdersByAttempt(t *testing.T) {
	if !strings.Contains(selectLatestAttemptQuery, "ORDER BY attempt DESC") {
		t.Fatalf("expected newest attempt first, got %s", selectLatestAttemptQuery)
	}
	if !strings.Contains(selectLatestAttemptQuery, "LIMIT 1") {
		t.Fatalf("expected single row, got %s", selectLatestAttemptQuery)
	}
}

func TestListStepLogsQueryPreservesOrder(t *testing.T) {
	if !strings.Contains(listStepLogsQuery, "ORDER BY") {
		t.Fatalf("log lines must come back in insertion order, got %s", listStepLogsQuery)
	}
}

func TestExecutionStoreNilGuards(t *testing.T) {
	var s *ExecutionStore
	if err := s.AppendLog(context.Background(), "exec-1", "line"); err == nil {
		t.Fatalf("nil store must error")
	}
	if err := s.Close(context.Background(), "exec-1", "COMPLETED", "done"); err == nil {
		t.Fatalf("nil store must error")
	}
	if NewExecutionStore(nil) != nil {
		t.Fatalf("NewExecutionStore(nil) must return nil")
	}
}
