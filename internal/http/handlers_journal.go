package http

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/services"
	"carelink/internal/storage"
)

// handleSections returns the journal grouped into date sections, newest first.
// Entries without a usable timestamp are counted in "skipped".
func (s *Server) handleSections(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	j, err := s.journal.Sections(r.Context(), user.PatientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"sections": toSectionsJSON(j.Sections, s.journal.Location()),
		"skipped":  j.Skipped,
	}).Write(w)
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	day, err := ParseDateParam(r.URL.Query(), "date")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.journal.Day(r.Context(), user.PatientID, day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"date":    day,
		"entries": toEntriesJSON(entries, s.journal.Location()),
	}).Write(w)
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	params, err := ParseMonthParams(r.URL.Query(), s.journal.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	days, err := s.journal.Month(r.Context(), user.PatientID, params.Year, params.Month)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"year":  params.Year,
		"month": int(params.Month),
		"days":  days,
	}).Write(w)
}

type entryRequest struct {
	Timestamp string   `json:"timestamp"`
	Details   string   `json:"details"`
	Tags      []string `json:"tags"`
	ImageURL  string   `json:"image_url"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	var req entryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := services.EntryInput{
		Details:  sanitizeInput(req.Details),
		Tags:     sanitizeAll(req.Tags),
		ImageURL: sanitizeInput(req.ImageURL),
	}
	if ts := strings.TrimSpace(req.Timestamp); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			writeError(w, r, badRequest{msg: "timestamp must be RFC 3339"})
			return
		}
		in.Timestamp = t
	}

	e, err := s.journal.CreateEntry(r.Context(), user, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesCreated, 1)
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/entries/"+e.ID).
		JSON(toEntryJSON(e, s.journal.Location())).
		Write(w)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	if err := s.journal.DeleteEntry(r.Context(), user, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.entriesDeleted, 1)
	NewResponse().Status(http.StatusNoContent).Write(w)
}

// handleUploadPhoto stores the multipart "photo" field and returns its URI for
// use as an entry's image_url.
func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	if s.photos == nil {
		NotFoundError("Photo uploads are not enabled.").Write(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxPhotoBytes+(1<<20))
	file, _, err := r.FormFile("photo")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, storage.ErrPhotoTooLarge)
			return
		}
		writeError(w, r, badRequest{msg: "missing photo file"})
		return
	}
	defer file.Close()

	uri, err := s.photos.Save(r.Context(), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Photo uploaded",
		applog.FieldCaregiverID, user.ID,
		"uri", uri)
	NewResponse().Status(http.StatusCreated).JSON(map[string]string{"uri": uri}).Write(w)
}

type journalPage struct {
	PatientName string
	Caregiver   core.Caregiver
	Sections    []core.DateSection
	Skipped     int
	FontSize    int
	Location    *time.Location
}

// handleJournalPage renders the journal sections as HTML for the signed-in
// caregiver of the session cookie.
func (s *Server) handleJournalPage(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded",
			applog.FieldPath, r.URL.Path,
			applog.FieldComponent, applog.ComponentTemplate)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	user, err := s.care.CurrentUser(r.Context(), sessionToken(r))
	if err != nil {
		s.renderPage(w, r, http.StatusUnauthorized, "signin.html", nil)
		return
	}

	patient, err := s.care.Patient(r.Context(), user.PatientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	j, err := s.journal.Sections(r.Context(), user.PatientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prefs, err := s.care.Preferences(r.Context(), user.ID)
	if err != nil {
		prefs = core.DefaultPreferences()
	}

	s.renderPage(w, r, http.StatusOK, "journal.html", journalPage{
		PatientName: patient.Name,
		Caregiver:   user,
		Sections:    j.Sections,
		Skipped:     j.Skipped,
		FontSize:    prefs.FontSize,
		Location:    s.journal.Location(),
	})
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			applog.FieldOperation, applog.OpRender,
			"template", name,
			applog.FieldError, err)
	}
}
