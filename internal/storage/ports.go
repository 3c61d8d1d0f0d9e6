package storage

import (
	"context"
	"errors"
	"time"

	"carelink/internal/core"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// EntryFilter selects a patient's entries. Zero From or To leaves that side open;
// To is exclusive. Entries come back ordered by timestamp, oldest first.
type EntryFilter struct {
	PatientID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// Ports implemented by the sqlite repository and the memory store.
type (
	PatientStore interface {
		CreatePatient(ctx context.Context, name, groupCode string) (core.Patient, error)
		Patient(ctx context.Context, id int64) (core.Patient, error)
		PatientByGroupCode(ctx context.Context, code string) (core.Patient, error)
		// DeletePatient removes a patient that has no caregivers yet.
		DeletePatient(ctx context.Context, id int64) error
	}

	CaregiverStore interface {
		// CreateCaregiver returns ErrDuplicate when the email is taken.
		CreateCaregiver(ctx context.Context, c core.Caregiver, passwordHash string) (core.Caregiver, error)
		Caregiver(ctx context.Context, id int64) (core.Caregiver, error)
		// CaregiverByEmail also returns the stored password hash.
		CaregiverByEmail(ctx context.Context, email string) (core.Caregiver, string, error)
		PasswordHash(ctx context.Context, caregiverID int64) (string, error)
		UpdateCaregiverName(ctx context.Context, caregiverID int64, name string) error
		UpdatePasswordHash(ctx context.Context, caregiverID int64, hash string) error
		ListCaregivers(ctx context.Context, patientID int64) ([]core.Caregiver, error)
	}

	SessionStore interface {
		CreateSession(ctx context.Context, s core.Session) error
		Session(ctx context.Context, token string) (core.Session, error)
		DeleteSession(ctx context.Context, token string) error
		DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	}

	EntryStore interface {
		CreateEntry(ctx context.Context, e core.JournalEntry) error
		Entry(ctx context.Context, id string) (core.JournalEntry, error)
		DeleteEntry(ctx context.Context, id string) error
		ListEntries(ctx context.Context, f EntryFilter) ([]core.JournalEntry, error)
	}

	// ExportQueue tracks which entries still have to reach the spreadsheet.
	ExportQueue interface {
		PendingExport(ctx context.Context, limit int) ([]core.JournalEntry, error)
		MarkExported(ctx context.Context, ids []string, at time.Time) error
	}

	InviteStore interface {
		CreateInvite(ctx context.Context, inv core.Invite) (core.Invite, error)
		ListInvites(ctx context.Context, patientID int64) ([]core.Invite, error)
	}

	ReportStore interface {
		SaveReport(ctx context.Context, r core.Report) error
		ListReports(ctx context.Context, patientID int64, limit int) ([]core.Report, error)
	}

	PreferenceStore interface {
		// Preferences returns defaults for caregivers who never saved any.
		Preferences(ctx context.Context, caregiverID int64) (core.Preferences, error)
		SavePreferences(ctx context.Context, caregiverID int64, p core.Preferences) error
	}

	Store interface {
		PatientStore
		CaregiverStore
		SessionStore
		EntryStore
		ExportQueue
		InviteStore
		ReportStore
		PreferenceStore
		Ping(ctx context.Context) error
		Close() error
	}
)
