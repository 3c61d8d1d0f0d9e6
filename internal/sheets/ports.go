package sheets

import (
	"context"

	"carelink/internal/core"
)

// Ports for outbound adapters.
type (
	// EntryExporter appends journal entries to an external spreadsheet.
	EntryExporter interface {
		// AppendEntries writes one row per entry and returns the number of rows written.
		AppendEntries(ctx context.Context, entries []core.JournalEntry) (int, error)
	}
)
