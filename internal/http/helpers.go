package http

import (
	"strings"
	"time"

	"carelink/internal/core"
)

// sanitizeInput removes control characters except tab and newlines and trims
// whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

func sanitizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, sanitizeInput(s))
	}
	return out
}

// Wire representations. Timestamps are RFC 3339 in the journal's zone.

type entryJSON struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Date       string    `json:"date"`
	Details    string    `json:"details"`
	Tags       []tagJSON `json:"tags"`
	ImageURL   string    `json:"image_url,omitempty"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
}

type tagJSON struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type sectionJSON struct {
	Date    string      `json:"date"`
	Label   string      `json:"label"`
	Entries []entryJSON `json:"entries"`
}

type caregiverJSON struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Initials  string `json:"initials"`
	Role      string `json:"role"`
	PatientID int64  `json:"patient_id"`
}

type patientJSON struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	GroupCode string `json:"group_code"`
}

type reportJSON struct {
	ID        string        `json:"id"`
	Start     string        `json:"start"`
	End       string        `json:"end"`
	Text      string        `json:"text"`
	Sources   []core.Source `json:"sources"`
	CreatedBy int64         `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
}

func toEntryJSON(e core.JournalEntry, loc *time.Location) entryJSON {
	tags := make([]tagJSON, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = tagJSON{Name: string(t), Color: t.Color()}
	}
	out := entryJSON{
		ID:         e.ID,
		Details:    e.Details,
		Tags:       tags,
		ImageURL:   e.ImageURL,
		AuthorID:   e.AuthorID,
		AuthorName: e.AuthorName,
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.In(loc)
		out.Date = string(core.DateKeyOf(e.Timestamp, loc))
	}
	return out
}

func toEntriesJSON(entries []core.JournalEntry, loc *time.Location) []entryJSON {
	out := make([]entryJSON, len(entries))
	for i, e := range entries {
		out[i] = toEntryJSON(e, loc)
	}
	return out
}

func toSectionsJSON(sections []core.DateSection, loc *time.Location) []sectionJSON {
	out := make([]sectionJSON, len(sections))
	for i, s := range sections {
		out[i] = sectionJSON{
			Date:    string(s.Key),
			Label:   s.Label,
			Entries: toEntriesJSON(s.Entries, loc),
		}
	}
	return out
}

func toCaregiverJSON(c core.Caregiver) caregiverJSON {
	return caregiverJSON{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		Initials:  core.Initials(c.Name),
		Role:      string(c.Role),
		PatientID: c.PatientID,
	}
}

func toPatientJSON(p core.Patient) patientJSON {
	return patientJSON{ID: p.ID, Name: p.Name, GroupCode: p.GroupCode}
}

func toReportJSON(r core.Report) reportJSON {
	sources := r.Sources
	if sources == nil {
		sources = []core.Source{}
	}
	return reportJSON{
		ID:        r.ID,
		Start:     string(r.Start),
		End:       string(r.End),
		Text:      r.Text,
		Sources:   sources,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
	}
}
