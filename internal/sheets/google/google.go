package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"carelink/internal/core"
	ports "carelink/internal/sheets"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Journal"); rows land in "<year> Journal".
	sheetBase string
	loc       *time.Location
}

var _ ports.EntryExporter = (*Client)(nil)

// Config selects the spreadsheet and the service account used to write to it.
// CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
	Location        *time.Location
}

// New creates a Sheets exporter authenticated with a service account.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	if len(opts) == 0 {
		credentialsJSON, err := loadCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(credentialsJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return NewWithService(svc, cfg), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, cfg Config) *Client {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Journal"
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		sheetBase:     base,
		loc:           loc,
	}
}

func loadCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", cfg.CredentialsFile)
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}
}

// AppendEntries writes entries to the sheet of the year they were written in,
// one Append call per year. A year sheet that does not exist yet is created.
func (c *Client) AppendEntries(ctx context.Context, entries []core.JournalEntry) (int, error) {
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if len(entries) == 0 {
		return 0, nil
	}

	byYear := make(map[int][][]any)
	for _, e := range entries {
		year := e.Timestamp.In(c.loc).Year()
		byYear[year] = append(byYear[year], entryRow(e, c.loc))
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	written := 0
	for _, year := range years {
		sheet := yearPrefixedName(c.sheetBase, year)
		rows := byYear[year]

		n, err := c.appendRows(ctx, sheet, rows)
		if isMissingSheet(err) {
			if err := c.createSheet(ctx, sheet); err != nil {
				return written, err
			}
			n, err = c.appendRows(ctx, sheet, rows)
		}
		if err != nil {
			return written, fmt.Errorf("append rows to %s: %w", sheet, err)
		}
		written += n

		slog.DebugContext(ctx, "Appended journal rows", "sheet", sheet, "rows", n)
	}
	return written, nil
}

func (c *Client) appendRows(ctx context.Context, sheet string, rows [][]any) (int, error) {
	rng := fmt.Sprintf("%s!A:G", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	n := len(rows)
	if resp != nil && resp.Updates != nil && resp.Updates.UpdatedRows > 0 {
		n = int(resp.Updates.UpdatedRows)
	}
	return n, nil
}

// createSheet adds a tab named sheet with the header row. A tab created
// concurrently by someone else is fine.
func (c *Client) createSheet(ctx context.Context, sheet string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: sheet},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		if sheetExists(err) {
			return nil
		}
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, fmt.Sprintf("%s!A1:G1", sheet),
		&gsheet.ValueRange{Values: [][]any{header}}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header of %s: %w", sheet, err)
	}
	slog.InfoContext(ctx, "Created export sheet", "sheet", sheet)
	return nil
}

// isMissingSheet reports the error the Sheets API returns for a range on a tab
// that does not exist.
func isMissingSheet(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	return strings.Contains(apiErr.Message, "Unable to parse range")
}

func sheetExists(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	return strings.Contains(apiErr.Message, "already exists")
}
