// Package worker copies journal entries to the shared spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"carelink/internal/amqp"
	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/retry"
	"carelink/internal/sheets"
	"carelink/internal/storage"
)

const (
	DefaultBatchSize = 50

	// startupBatches bounds the catch-up done by StartupExportCheck.
	startupBatches = 5
)

// ExportWorker appends entries that have not reached the spreadsheet yet and
// marks them exported. Deleting an entry does not remove its row.
type ExportWorker struct {
	queue     storage.ExportQueue
	exporter  sheets.EntryExporter
	batchSize int
	loc       *time.Location
	now       func() time.Time
	retryOpts []retry.Option

	// One export at a time, whether triggered by a message or the ticker.
	mu sync.Mutex
}

func NewExportWorker(queue storage.ExportQueue, exporter sheets.EntryExporter, batchSize int, loc *time.Location, opts ...retry.Option) *ExportWorker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if loc == nil {
		loc = time.Local
	}
	return &ExportWorker{
		queue:     queue,
		exporter:  exporter,
		batchSize: batchSize,
		loc:       loc,
		now:       time.Now,
		retryOpts: opts,
	}
}

// HandleEntriesChanged is the AMQP handler. Creations trigger an export run;
// deletions are only logged. A failed run is logged and the message acked:
// the entries stay pending in the store and the ticker picks them up.
func (w *ExportWorker) HandleEntriesChanged(ctx context.Context, msg *amqp.EntriesChangedMessage) error {
	if msg.Op == core.OpDeleted {
		slog.InfoContext(ctx, "Entry deleted, spreadsheet row kept",
			applog.FieldPatientID, msg.PatientID,
			applog.FieldEntryID, msg.EntryID)
		return nil
	}
	if _, err := w.ProcessPending(ctx); err != nil {
		slog.ErrorContext(ctx, "Export after change failed, left for the next run",
			applog.FieldPatientID, msg.PatientID,
			applog.FieldEntryID, msg.EntryID,
			applog.FieldError, err)
	}
	return nil
}

// ProcessPending exports one batch of pending entries and returns how many
// were marked exported.
func (w *ExportWorker) ProcessPending(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processBatch(ctx)
}

func (w *ExportWorker) processBatch(ctx context.Context) (int, error) {
	pending, err := w.queue.PendingExport(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending entries: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Exporting pending entries", "count", len(pending))

	// The exporter writes one sheet per year; a year is marked as soon as its
	// rows are in so a later failure does not duplicate them.
	exported := 0
	for _, chunk := range w.byYear(pending) {
		if err := w.export(ctx, chunk); err != nil {
			return exported, err
		}
		exported += len(chunk)
	}

	slog.InfoContext(ctx, "Exported entries", "count", exported)
	return exported, nil
}

func (w *ExportWorker) export(ctx context.Context, entries []core.JournalEntry) error {
	opts := append([]retry.Option{
		retry.WithRetryIf(IsRetryable),
		retry.WithObserver(func(a retry.Attempt) {
			if a.State == retry.StateAttempting {
				slog.WarnContext(ctx, "Spreadsheet append failed, retrying",
					"attempt", a.Number,
					"delay", a.Delay,
					applog.FieldError, a.Err)
			}
		}),
	}, w.retryOpts...)

	if _, err := retry.Do(ctx, func(ctx context.Context) (int, error) {
		return w.exporter.AppendEntries(ctx, entries)
	}, opts...); err != nil {
		return fmt.Errorf("append entries: %w", err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := w.queue.MarkExported(ctx, ids, w.now().UTC()); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

func (w *ExportWorker) byYear(entries []core.JournalEntry) [][]core.JournalEntry {
	groups := make(map[int][]core.JournalEntry)
	for _, e := range entries {
		y := e.Timestamp.In(w.loc).Year()
		groups[y] = append(groups[y], e)
	}
	years := make([]int, 0, len(groups))
	for y := range groups {
		years = append(years, y)
	}
	sort.Ints(years)
	out := make([][]core.JournalEntry, len(years))
	for i, y := range years {
		out[i] = groups[y]
	}
	return out
}

// StartupExportCheck catches up on entries left pending while the worker was
// down, a few batches at most.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	for i := 0; i < startupBatches; i++ {
		n, err := w.processBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			break
		}
	}
	if total == 0 {
		slog.InfoContext(ctx, "No pending entries found on startup")
	}
	return total, nil
}

// Run exports pending entries every interval until ctx ends. Failures are
// logged and retried on the next tick.
func (w *ExportWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "Periodic export failed", applog.FieldError, err)
			}
		}
	}
}

// IsRetryable treats rate limiting, server errors and transport failures as
// transient. Other Google API errors, such as a missing sheet or a revoked
// permission, are not.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return true
}
