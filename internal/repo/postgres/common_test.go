package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/devflow-labs/devflow-go/internal/repo"
)

func TestDecodeContent(t *testing.T) {
	if got := decodeContent(nil); len(got) != 0 {
		t.Fatalf("decodeContent(nil)=%v, want empty map", got)
	}
	got := decodeContent([]byte(`{"title": "Reqs", "version": 2}`))
	want := map[string]any{"title": "Reqs", "version": float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decodeContent=%v, want %v", got, want)
	}
}

func TestDecodeContentDegradesGracefully(t *testing.T) {
	got := decodeContent([]byte(`not json at all`))
	if got["raw_content"] != "not json at all" {
		t.Fatalf("undecodable content must be preserved, got %v", got)
	}
	got = decodeContent([]byte(`[1, 2, 3]`))
	if got["raw_content"] != "[1, 2, 3]" {
		t.Fatalf("non-object content must be preserved, got %v", got)
	}
}

func TestEncodeContentNilBecomesEmptyObject(t *testing.T) {
	raw, err := encodeContent(nil)
	if err != nil {
		t.Fatalf("encodeContent(nil) err=%v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("encodeContent(nil)=%s, want {}", raw)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty("  "); v.Valid {
		t.Fatalf("blank string must map to NULL")
	}
	v := nullIfEmpty(" feedback ")
	if !v.Valid || v.String != "feedback" {
		t.Fatalf("nullIfEmpty=%+v, want trimmed valid string", v)
	}
}

func TestHandleNotFound(t *testing.T) {
	if err := handleNotFound(sql.ErrNoRows); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("sql.ErrNoRows must map to repo.ErrNotFound, got %v", err)
	}
	other := errors.New("boom")
	if err := handleNotFound(other); !errors.Is(err, other) {
		t.Fatalf("other errors must pass through, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(fmt.Errorf("insert: %w", unique)) {
		t.Fatalf("wrapped 23505 must be detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatalf("plain errors are not unique violations")
	}
}

func TestNormalizeTime(t *testing.T) {
	if got := normalizeTime(time.Time{}); got.IsZero() {
		t.Fatalf("zero time must be replaced")
	}
	in := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	if got := normalizeTime(in); got.Location() != time.UTC || !got.Equal(in) {
		t.Fatalf("normalizeTime=%v, want same instant in UTC", got)
	}
}
