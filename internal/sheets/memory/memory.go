package memory

import (
	"context"
	"errors"
	"sync"

	"carelink/internal/core"
	ports "carelink/internal/sheets"
)

// Exporter keeps exported entries in memory. It stands in for the spreadsheet
// in tests and in local runs without Google credentials.
type Exporter struct {
	mu   sync.Mutex
	rows []core.JournalEntry
	// FailWith, when set, is returned by AppendEntries instead of storing rows.
	FailWith error
}

var _ ports.EntryExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

func (e *Exporter) AppendEntries(ctx context.Context, entries []core.JournalEntry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailWith != nil {
		return 0, e.FailWith
	}
	e.rows = append(e.rows, entries...)
	return len(entries), nil
}

// Rows returns a copy of everything exported so far.
func (e *Exporter) Rows() []core.JournalEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.JournalEntry(nil), e.rows...)
}

// ErrUnavailable is a convenience failure for tests.
var ErrUnavailable = errors.New("spreadsheet unavailable")
