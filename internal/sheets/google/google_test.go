package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"carelink/internal/core"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
)

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Journal", 2024, "2024 Journal"},
		{"  Journal ", 2024, "2024 Journal"},
		{"2023 Journal", 2024, "2023 Journal"},
		{"", 2024, ""},
		{"12345", 2024, "2024 12345"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
				t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}

func TestEntryRow(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := core.JournalEntry{
		ID:         "e1",
		Timestamp:  time.Date(2024, 3, 9, 23, 15, 0, 0, time.UTC),
		Details:    "Slept well",
		Tags:       []core.Tag{core.TagSleep, core.TagMood},
		ImageURL:   "/media/a.jpg",
		AuthorName: "Ann",
	}

	row := entryRow(e, loc)
	want := []any{"e1", "2024-03-10", "01:15", "Ann", "Sleep, Mood", "Slept well", "/media/a.jpg"}
	if len(row) != len(Header) {
		t.Fatalf("row has %d columns, header has %d", len(row), len(Header))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("column %s = %v, want %v", Header[i], row[i], want[i])
		}
	}
}

type appendCall struct {
	Range  string
	Values [][]any
	Query  url.Values
}

func newTestClient(t *testing.T, status int) (*Client, *[]appendCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []appendCall{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":append") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var vr struct {
			Values [][]any `json:"values"`
		}
		if err := json.Unmarshal(body, &vr); err != nil {
			t.Errorf("decode body: %v", err)
		}
		// Path: /v4/spreadsheets/{id}/values/{range}:append
		parts := strings.SplitN(r.URL.Path, "/values/", 2)
		rng := strings.TrimSuffix(parts[len(parts)-1], ":append")

		mu.Lock()
		calls = append(calls, appendCall{Range: rng, Values: vr.Values, Query: r.URL.Query()})
		mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updates":{"updatedRows":` + itoa(len(vr.Values)) + `}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(),
		Config{SpreadsheetID: "sheet-123", SheetName: "Journal", Location: time.UTC},
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &calls
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestAppendEntries_GroupsByYear(t *testing.T) {
	c, calls := newTestClient(t, http.StatusOK)

	entries := []core.JournalEntry{
		{ID: "a", Timestamp: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), Tags: []core.Tag{core.TagMeal}},
		{ID: "b", Timestamp: time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC), Details: "late"},
		{ID: "c", Timestamp: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)},
	}

	n, err := c.AppendEntries(context.Background(), entries)
	if err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if n != 3 {
		t.Fatalf("written = %d, want 3", n)
	}
	if len(*calls) != 2 {
		t.Fatalf("got %d append calls, want 2", len(*calls))
	}
	first, second := (*calls)[0], (*calls)[1]
	if first.Range != "2023 Journal!A:G" || len(first.Values) != 1 {
		t.Errorf("first call = %+v", first)
	}
	if second.Range != "2024 Journal!A:G" || len(second.Values) != 2 {
		t.Errorf("second call = %+v", second)
	}
	if got := first.Query.Get("valueInputOption"); got != "RAW" {
		t.Errorf("valueInputOption = %q, want RAW", got)
	}
	if got := first.Query.Get("insertDataOption"); got != "INSERT_ROWS" {
		t.Errorf("insertDataOption = %q, want INSERT_ROWS", got)
	}
}

// fakeSpreadsheet answers append, batchUpdate and values update requests and
// rejects ranges on tabs it does not have, like the real API.
type fakeSpreadsheet struct {
	mu      sync.Mutex
	tabs    map[string]bool
	rows    map[string][][]any
	added   []string
	headers map[string][]any
}

func (f *fakeSpreadsheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			title := rq.AddSheet.Properties.Title
			f.tabs[title] = true
			f.added = append(f.added, title)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		rng := strings.TrimSuffix(strings.SplitN(path, "/values/", 2)[1], ":append")
		tab := strings.SplitN(rng, "!", 2)[0]
		if !f.tabs[tab] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Unable to parse range: ` + rng + `","status":"INVALID_ARGUMENT"}}`))
			return
		}
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.rows[tab] = append(f.rows[tab], vr.Values...)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updates":{"updatedRows":` + itoa(len(vr.Values)) + `}}`))

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		rng := strings.SplitN(path, "/values/", 2)[1]
		tab := strings.SplitN(rng, "!", 2)[0]
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		if len(vr.Values) == 1 {
			f.headers[tab] = vr.Values[0]
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updatedRows":1}`))

	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func TestAppendEntries_CreatesMissingYearSheet(t *testing.T) {
	fake := &fakeSpreadsheet{
		tabs:    map[string]bool{"2026 Journal": true},
		rows:    map[string][][]any{},
		headers: map[string][]any{},
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(),
		Config{SpreadsheetID: "sheet-123", SheetName: "Journal", Location: time.UTC},
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []core.JournalEntry{
		{ID: "old", Timestamp: time.Date(2026, 12, 31, 20, 0, 0, 0, time.UTC)},
		{ID: "new", Timestamp: time.Date(2027, 1, 1, 8, 0, 0, 0, time.UTC)},
	}
	n, err := c.AppendEntries(context.Background(), entries)
	if err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if n != 2 {
		t.Fatalf("written = %d, want 2", n)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.added) != 1 || fake.added[0] != "2027 Journal" {
		t.Fatalf("added sheets = %v, want [2027 Journal]", fake.added)
	}
	header := fake.headers["2027 Journal"]
	if len(header) != len(Header) || header[0] != "ID" {
		t.Errorf("header = %v, want %v", header, Header)
	}
	if _, ok := fake.headers["2026 Journal"]; ok {
		t.Error("existing sheet got a header rewritten")
	}
	if got := fake.rows["2027 Journal"]; len(got) != 1 || got[0][0] != "new" {
		t.Errorf("2027 rows = %v", got)
	}
	if got := fake.rows["2026 Journal"]; len(got) != 1 || got[0][0] != "old" {
		t.Errorf("2026 rows = %v", got)
	}
}

func TestMissingSheetClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		missing bool
		exists  bool
	}{
		{"unparsable range", &googleapi.Error{Code: 400, Message: "Unable to parse range: 2027 Journal!A:G"}, true, false},
		{"duplicate tab", &googleapi.Error{Code: 400, Message: `A sheet with the name "2027 Journal" already exists.`}, false, true},
		{"forbidden", &googleapi.Error{Code: 403, Message: "Unable to parse range"}, false, false},
		{"wrapped", fmt.Errorf("append: %w", &googleapi.Error{Code: 400, Message: "Unable to parse range: x"}), true, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMissingSheet(tt.err); got != tt.missing {
				t.Errorf("isMissingSheet = %v, want %v", got, tt.missing)
			}
			if got := sheetExists(tt.err); got != tt.exists {
				t.Errorf("sheetExists = %v, want %v", got, tt.exists)
			}
		})
	}
}

func TestAppendEntries_Empty(t *testing.T) {
	c, calls := newTestClient(t, http.StatusOK)
	n, err := c.AppendEntries(context.Background(), nil)
	if err != nil || n != 0 {
		t.Fatalf("AppendEntries(nil) = %d, %v", n, err)
	}
	if len(*calls) != 0 {
		t.Fatalf("expected no API calls, got %d", len(*calls))
	}
}

func TestAppendEntries_APIError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusForbidden)
	_, err := c.AppendEntries(context.Background(), []core.JournalEntry{
		{ID: "a", Timestamp: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "append rows to 2024 Journal") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "x"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "x", CredentialsFile: "/non/existent.json"})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetBase: "Journal", loc: time.UTC}
	_, err := c.AppendEntries(context.Background(), []core.JournalEntry{{ID: "a", Timestamp: time.Now()}})
	if err == nil {
		t.Fatal("expected error with nil service")
	}
}
