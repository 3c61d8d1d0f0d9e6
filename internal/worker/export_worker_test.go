package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"carelink/internal/amqp"
	"carelink/internal/core"
	"carelink/internal/retry"
	sheetsmem "carelink/internal/sheets/memory"
	"carelink/internal/storage/memory"
)

func noSleep(context.Context, time.Duration) error { return nil }

func seedEntries(t *testing.T, store *memory.Store, stamps ...time.Time) {
	t.Helper()
	ctx := context.Background()
	p, err := store.CreatePatient(ctx, "Grandpa Joe", "ABC123")
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	c, err := store.CreateCaregiver(ctx, core.Caregiver{Email: "ann@example.com", Name: "Ann", Role: core.RoleAdmin, PatientID: p.ID}, "x")
	if err != nil {
		t.Fatalf("CreateCaregiver: %v", err)
	}
	for i, ts := range stamps {
		e := core.JournalEntry{
			ID:        fmt.Sprintf("e%02d", i),
			PatientID: p.ID,
			AuthorID:  c.ID,
			Timestamp: ts,
			Details:   "note",
		}
		if err := store.CreateEntry(ctx, e); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
	}
}

func TestExportWorker_ProcessPending(t *testing.T) {
	store := memory.New()
	day := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seedEntries(t, store, day, day.Add(time.Hour), day.Add(2*time.Hour))

	exporter := sheetsmem.New()
	w := NewExportWorker(store, exporter, 2, time.UTC, retry.WithSleeper(noSleep))

	n, err := w.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d, want a batch of 2", n)
	}

	n, err = w.ProcessPending(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second run = %d, %v; want 1", n, err)
	}
	n, err = w.ProcessPending(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("third run = %d, %v; want 0", n, err)
	}

	if rows := exporter.Rows(); len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows := exporter.Rows(); rows[0].AuthorName != "Ann" {
		t.Errorf("author name = %q", rows[0].AuthorName)
	}
}

func TestExportWorker_FailureKeepsEntriesPending(t *testing.T) {
	store := memory.New()
	seedEntries(t, store, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	exporter := sheetsmem.New()
	exporter.FailWith = &googleapi.Error{Code: http.StatusForbidden, Message: "no access"}
	w := NewExportWorker(store, exporter, 10, time.UTC, retry.WithSleeper(noSleep))

	if _, err := w.ProcessPending(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	pending, _ := store.PendingExport(context.Background(), 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	exporter.FailWith = nil
	if n, err := w.ProcessPending(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry run = %d, %v", n, err)
	}
}

type flakyExporter struct {
	*sheetsmem.Exporter
	failures int
	calls    int
}

func (f *flakyExporter) AppendEntries(ctx context.Context, entries []core.JournalEntry) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, &googleapi.Error{Code: http.StatusServiceUnavailable}
	}
	return f.Exporter.AppendEntries(ctx, entries)
}

func TestExportWorker_RetriesTransientErrors(t *testing.T) {
	store := memory.New()
	seedEntries(t, store, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	exporter := &flakyExporter{Exporter: sheetsmem.New(), failures: 2}
	w := NewExportWorker(store, exporter, 10, time.UTC, retry.WithSleeper(noSleep))

	n, err := w.ProcessPending(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	if exporter.calls != 3 {
		t.Errorf("calls = %d, want 3", exporter.calls)
	}
}

func TestExportWorker_SplitsByYear(t *testing.T) {
	store := memory.New()
	seedEntries(t, store,
		time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	)

	exporter := &flakyExporter{Exporter: sheetsmem.New()}
	w := NewExportWorker(store, exporter, 10, time.UTC, retry.WithSleeper(noSleep))

	if n, err := w.ProcessPending(context.Background()); err != nil || n != 2 {
		t.Fatalf("ProcessPending = %d, %v", n, err)
	}
	if exporter.calls != 2 {
		t.Errorf("append calls = %d, want one per year", exporter.calls)
	}
}

func TestExportWorker_StartupExportCheck(t *testing.T) {
	store := memory.New()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var stamps []time.Time
	for i := 0; i < 7; i++ {
		stamps = append(stamps, base.Add(time.Duration(i)*time.Hour))
	}
	seedEntries(t, store, stamps...)

	exporter := sheetsmem.New()
	w := NewExportWorker(store, exporter, 3, time.UTC, retry.WithSleeper(noSleep))

	n, err := w.StartupExportCheck(context.Background())
	if err != nil {
		t.Fatalf("StartupExportCheck: %v", err)
	}
	if n != 7 {
		t.Fatalf("exported %d, want 7", n)
	}
}

func TestExportWorker_HandleEntriesChanged(t *testing.T) {
	store := memory.New()
	seedEntries(t, store, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	exporter := sheetsmem.New()
	w := NewExportWorker(store, exporter, 10, time.UTC, retry.WithSleeper(noSleep))
	ctx := context.Background()

	deleted := &amqp.EntriesChangedMessage{PatientID: 1, EntryID: "gone", Op: core.OpDeleted}
	if err := w.HandleEntriesChanged(ctx, deleted); err != nil {
		t.Fatalf("deleted: %v", err)
	}
	if len(exporter.Rows()) != 0 {
		t.Fatal("deletion triggered an export")
	}

	created := &amqp.EntriesChangedMessage{PatientID: 1, EntryID: "e00", Op: core.OpCreated}
	if err := w.HandleEntriesChanged(ctx, created); err != nil {
		t.Fatalf("created: %v", err)
	}
	if len(exporter.Rows()) != 1 {
		t.Fatalf("rows = %d, want 1", len(exporter.Rows()))
	}
}

func TestExportWorker_HandleEntriesChangedAcksOnFailure(t *testing.T) {
	store := memory.New()
	seedEntries(t, store, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	exporter := sheetsmem.New()
	exporter.FailWith = &googleapi.Error{Code: http.StatusBadRequest, Message: "Unable to parse range"}
	w := NewExportWorker(store, exporter, 10, time.UTC, retry.WithSleeper(noSleep))
	ctx := context.Background()

	created := &amqp.EntriesChangedMessage{PatientID: 1, EntryID: "e00", Op: core.OpCreated}
	if err := w.HandleEntriesChanged(ctx, created); err != nil {
		t.Fatalf("handler returned %v, want nil so the message is not requeued", err)
	}
	pending, _ := store.PendingExport(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}

func TestExportWorker_RunStopsOnCancel(t *testing.T) {
	store := memory.New()
	seedEntries(t, store, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	exporter := sheetsmem.New()
	w := NewExportWorker(store, exporter, 10, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for len(exporter.Rows()) == 0 {
		select {
		case <-deadline:
			t.Fatal("ticker never exported")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 500}, true},
		{"wrapped unavailable", fmt.Errorf("append rows to 2024 Journal: %w", &googleapi.Error{Code: 503}), true},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"bad range", &googleapi.Error{Code: 400}, false},
		{"canceled", context.Canceled, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
