package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"carelink/internal/core"
)

func TestExporter_AppendEntries(t *testing.T) {
	exp := New()
	entries := []core.JournalEntry{
		{ID: "a", Timestamp: time.Now()},
		{ID: "b", Timestamp: time.Now()},
	}

	n, err := exp.AppendEntries(context.Background(), entries)
	if err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if n != 2 {
		t.Fatalf("written = %d, want 2", n)
	}

	rows := exp.Rows()
	if len(rows) != 2 || rows[0].ID != "a" || rows[1].ID != "b" {
		t.Fatalf("rows = %+v", rows)
	}

	// Rows returns a copy.
	rows[0].ID = "changed"
	if exp.Rows()[0].ID != "a" {
		t.Fatal("Rows exposed internal slice")
	}
}

func TestExporter_Failure(t *testing.T) {
	exp := New()
	exp.FailWith = ErrUnavailable

	_, err := exp.AppendEntries(context.Background(), []core.JournalEntry{{ID: "a"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(exp.Rows()) != 0 {
		t.Fatal("failed append stored rows")
	}
}

func TestExporter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().AppendEntries(ctx, []core.JournalEntry{{ID: "a"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
