package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	applog "carelink/internal/log"
	"carelink/internal/realtime"
	"carelink/internal/retry"
	"carelink/internal/services"
	"carelink/internal/storage"
	"carelink/internal/storage/memory"
	"carelink/internal/summary"
)

type stubSummarizer struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *stubSummarizer) Generate(context.Context, summary.Prompt) (summary.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return summary.Result{}, err
	}
	return summary.Result{Text: "Steady week.", Sources: []summary.Source{{URI: "https://example.org", Title: "Example"}}}, nil
}

type testServer struct {
	srv        *Server
	summarizer *stubSummarizer
	broker     *realtime.Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := applog.New(applog.Config{Level: slog.LevelError, Output: io.Discard})
	store := memory.New()
	broker := realtime.NewBroker()
	summarizer := &stubSummarizer{}
	photos, err := storage.NewPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewPhotoStore: %v", err)
	}

	noSleep := func(context.Context, time.Duration) error { return nil }
	srv := NewServer(":0", Deps{
		Care:    services.NewCareGroupService(store, time.Hour),
		Journal: services.NewJournalService(store, broker, time.UTC, logger),
		Reports: services.NewReportService(store, summarizer, 3, time.UTC, logger, retry.WithSleeper(noSleep)),
		Photos:  photos,
		Broker:  broker,
		Ready:   store.Ping,
		Logger:  logger,
	})
	t.Cleanup(func() {
		srv.rateLimiter.Stop()
		broker.Close()
	})
	return &testServer{srv: srv, summarizer: summarizer, broker: broker}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) signUp(t *testing.T) string {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/auth/groups", "", map[string]string{
		"email":        "ann@example.com",
		"password":     "secret1",
		"name":         "Ann Admin",
		"patient_name": "Grandpa Joe",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("sign up status=%d body=%s", rr.Code, rr.Body)
	}
	var resp sessionResponse
	decode(t, rr, &resp)
	if resp.Token == "" || resp.Patient == nil || len(resp.Patient.GroupCode) != 6 {
		t.Fatalf("sign up response = %+v", resp)
	}
	return resp.Token
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, rr, &body)
	return body.Error.Code
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body)
		}
	}

	rr := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "http_requests_total") {
		t.Fatalf("metrics status=%d body=%s", rr.Code, rr.Body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.ready = func(context.Context) error { return context.DeadlineExceeded }

	rr := ts.do(t, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/entries", "/api/me", "/api/reports", "/api/events"} {
		rr := ts.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s status=%d, want 401", path, rr.Code)
		}
		if code := errorCode(t, rr); code != "unauthenticated" {
			t.Fatalf("%s error code=%q", path, code)
		}
	}

	rr := ts.do(t, http.MethodGet, "/api/entries", "not-a-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token status=%d", rr.Code)
	}
}

func TestSignInAndOut(t *testing.T) {
	ts := newTestServer(t)
	ts.signUp(t)

	rr := ts.do(t, http.MethodPost, "/api/auth/sessions", "", map[string]string{"email": "ann@example.com", "password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status=%d", rr.Code)
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/sessions", "", map[string]string{"email": "ann@example.com", "password": "secret1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("sign in status=%d body=%s", rr.Code, rr.Body)
	}
	var sess sessionResponse
	decode(t, rr, &sess)
	if c := rr.Result().Cookies(); len(c) == 0 || c[0].Name != sessionCookie || !c[0].HttpOnly {
		t.Fatalf("session cookie = %+v", c)
	}

	if rr := ts.do(t, http.MethodGet, "/api/me", sess.Token, nil); rr.Code != http.StatusOK {
		t.Fatalf("me status=%d", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, "/api/auth/sessions", sess.Token, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("sign out status=%d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/me", sess.Token, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("after sign out status=%d", rr.Code)
	}
}

func TestEntryLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)
	today := ts.srv.journal.Today()

	rr := ts.do(t, http.MethodPost, "/api/entries", token, map[string]any{
		"details": "Ate all of lunch",
		"tags":    []string{"Meal", "Mood"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body)
	}
	var created entryJSON
	decode(t, rr, &created)
	if created.ID == "" || len(created.Tags) != 2 || created.Tags[0].Color == "" {
		t.Fatalf("created = %+v", created)
	}

	rr = ts.do(t, http.MethodPost, "/api/entries", token, map[string]any{
		"timestamp": today.AddDate(0, 0, -1).Format(time.RFC3339),
		"details":   "Restless night",
		"tags":      []string{"sleep"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create yesterday status=%d body=%s", rr.Code, rr.Body)
	}

	rr = ts.do(t, http.MethodGet, "/api/entries", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sections status=%d", rr.Code)
	}
	var journal struct {
		Sections []sectionJSON `json:"sections"`
		Skipped  int           `json:"skipped"`
	}
	decode(t, rr, &journal)
	if len(journal.Sections) != 2 || journal.Sections[0].Label != "Today" || journal.Sections[1].Label != "Yesterday" {
		t.Fatalf("sections = %+v", journal.Sections)
	}
	if journal.Sections[0].Entries[0].AuthorName != "Ann Admin" {
		t.Errorf("author = %q", journal.Sections[0].Entries[0].AuthorName)
	}

	rr = ts.do(t, http.MethodGet, "/api/entries/day?date="+today.Format("2006-01-02"), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("day status=%d body=%s", rr.Code, rr.Body)
	}
	var day struct {
		Entries []entryJSON `json:"entries"`
	}
	decode(t, rr, &day)
	if len(day.Entries) != 1 || day.Entries[0].ID != created.ID {
		t.Fatalf("day = %+v", day)
	}

	rr = ts.do(t, http.MethodGet, "/api/entries/month", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("month status=%d", rr.Code)
	}

	if rr := ts.do(t, http.MethodDelete, "/api/entries/"+created.ID, token, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rr.Code, rr.Body)
	}
	if rr := ts.do(t, http.MethodDelete, "/api/entries/"+created.ID, token, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
}

func TestEntryValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed json", `{"details":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"details":"x","mood":5}`, http.StatusBadRequest, "bad_request"},
		{"bad timestamp", `{"details":"x","timestamp":"yesterday"}`, http.StatusBadRequest, "bad_request"},
		{"empty entry", `{}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"unknown tag", `{"tags":["Dancing"]}`, http.StatusUnprocessableEntity, "invalid_tag"},
		{"bad image", `{"details":"x","image_url":"javascript:alert(1)"}`, http.StatusUnprocessableEntity, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/entries", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			ts.srv.Handler.ServeHTTP(rr, req)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d, want %d (body %s)", rr.Code, tt.wantCode, rr.Body)
			}
			if code := errorCode(t, rr); code != tt.wantErr {
				t.Fatalf("error code=%q, want %q", code, tt.wantErr)
			}
		})
	}

	if rr := ts.do(t, http.MethodGet, "/api/entries/day?date=03-10-2024", token, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad date status=%d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/entries/month?month=13", token, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad month status=%d", rr.Code)
	}
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)
	today := ts.srv.journal.Today().Format("2006-01-02")

	rr := ts.do(t, http.MethodPost, "/api/reports", token, map[string]string{"start": "2020-01-01", "end": "2020-01-31"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("empty range status=%d", rr.Code)
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Error.Code != "no_entries" || body.Error.Message != "No journal entries found between 2020-01-01 and 2020-01-31." {
		t.Fatalf("empty range body = %+v", body)
	}

	rr = ts.do(t, http.MethodPost, "/api/reports", token, map[string]string{"start": "2024-02-10", "end": "2024-02-01"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reversed range status=%d", rr.Code)
	}

	if rr := ts.do(t, http.MethodPost, "/api/entries", token, map[string]any{"details": "Walked to the park"}); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	ts.summarizer.errs = []error{&summary.APIError{StatusCode: 503}, &summary.APIError{StatusCode: 503}, &summary.APIError{StatusCode: 503}}
	rr = ts.do(t, http.MethodPost, "/api/reports", token, map[string]string{"start": today, "end": today})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("exhausted status=%d body=%s", rr.Code, rr.Body)
	}
	decode(t, rr, &body)
	if body.Error.Code != "remote_operation_failed" || body.Error.Attempts != 3 {
		t.Fatalf("exhausted body = %+v", body)
	}

	ts.summarizer.errs = []error{&summary.APIError{StatusCode: 429}}
	rr = ts.do(t, http.MethodPost, "/api/reports", token, map[string]string{"start": today, "end": today})
	if rr.Code != http.StatusCreated {
		t.Fatalf("recovered status=%d body=%s", rr.Code, rr.Body)
	}
	var report reportJSON
	decode(t, rr, &report)
	if report.Text != "Steady week." || len(report.Sources) != 1 {
		t.Fatalf("report = %+v", report)
	}

	rr = ts.do(t, http.MethodGet, "/api/reports?limit=5", token, nil)
	var history struct {
		Reports []reportJSON `json:"reports"`
	}
	decode(t, rr, &history)
	if len(history.Reports) != 1 || history.Reports[0].ID != report.ID {
		t.Fatalf("history = %+v", history)
	}
}

func TestTeamAndPreferences(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)

	rr := ts.do(t, http.MethodGet, "/api/me", token, nil)
	var me meResponse
	decode(t, rr, &me)

	rr = ts.do(t, http.MethodPost, "/api/auth/join", "", map[string]string{
		"email":      "bob@example.com",
		"password":   "secret2",
		"name":       "Bob",
		"group_code": strings.ToLower(me.Patient.GroupCode),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("join status=%d body=%s", rr.Code, rr.Body)
	}

	rr = ts.do(t, http.MethodGet, "/api/team", token, nil)
	var team struct {
		Members []caregiverJSON `json:"members"`
	}
	decode(t, rr, &team)
	if len(team.Members) != 2 {
		t.Fatalf("team = %+v", team)
	}

	if rr := ts.do(t, http.MethodPost, "/api/team/invites", token, map[string]string{"email": "carl@example.com"}); rr.Code != http.StatusCreated {
		t.Fatalf("invite status=%d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPut, "/api/me/preferences", token, map[string]int{"font_size": 40}); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad font size status=%d", rr.Code)
	}
	if rr := ts.do(t, http.MethodPut, "/api/me/preferences", token, map[string]int{"font_size": 18}); rr.Code != http.StatusOK {
		t.Fatalf("font size status=%d", rr.Code)
	}
}

func TestUploadPhoto(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)

	// Smallest valid GIF header is enough for content sniffing.
	gif := append([]byte("GIF89a"), make([]byte, 64)...)

	upload := func(data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("photo", "photo.bin")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(data)
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/photos", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		ts.srv.Handler.ServeHTTP(rr, req)
		return rr
	}

	rr := upload(gif)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", rr.Code, rr.Body)
	}
	var resp map[string]string
	decode(t, rr, &resp)
	if !strings.HasPrefix(resp["uri"], storage.MediaURLPrefix) {
		t.Fatalf("uri = %q", resp["uri"])
	}

	if rr := ts.do(t, http.MethodGet, resp["uri"], "", nil); rr.Code != http.StatusOK {
		t.Fatalf("serve photo status=%d", rr.Code)
	}

	if rr := upload([]byte("plain text, not an image")); rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text upload status=%d", rr.Code)
	}
}

func TestJournalPage(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)
	if rr := ts.do(t, http.MethodPost, "/api/entries", token, map[string]any{"details": "Watered the plants", "tags": []string{"Activity"}}); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/journal", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("journal status=%d body=%s", rr.Code, rr.Body)
	}
	body := rr.Body.String()
	for _, want := range []string{"Grandpa Joe", "Today", "Watered the plants", "Activity"} {
		if !strings.Contains(body, want) {
			t.Errorf("journal page missing %q", want)
		}
	}

	rr = ts.do(t, http.MethodGet, "/journal", "", nil)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "sign in") {
		t.Fatalf("anonymous journal status=%d", rr.Code)
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t)

	hs := httptest.NewServer(ts.srv.Handler)
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, hs.URL+"/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := hs.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, "retry:") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	// The subscription is registered before the first flush.
	if rr := ts.do(t, http.MethodPost, "/api/entries", token, map[string]any{"details": "Took medication", "tags": []string{"Medication"}}); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event: ")); got != "entries-changed" {
				t.Fatalf("event = %q", got)
			}
			return
		}
	}
}

func TestRateLimitedWrites(t *testing.T) {
	logger := applog.New(applog.Config{Level: slog.LevelError, Output: io.Discard})
	store := memory.New()
	srv := NewServer(":0", Deps{
		Care:               services.NewCareGroupService(store, time.Hour),
		Journal:            services.NewJournalService(store, nil, time.UTC, logger),
		Logger:             logger,
		RateLimitPerMinute: 2,
	})
	defer srv.rateLimiter.Stop()

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/sessions", strings.NewReader(`{"email":"x@example.com","password":"nope"}`))
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		last = rr.Code
		if i == 2 && rr.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After")
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third write status=%d, want 429", last)
	}

	// Reads are not limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("read status=%d", rr.Code)
	}
}
