package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carelink/internal/core"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC layout so that stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime returns the zero time for values that cannot be parsed. Grouping
// reports such entries instead of failing the whole read.
func parseTime(ctx context.Context, column, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.WarnContext(ctx, "Unparsable stored timestamp", "column", column, "value", s, "error", err)
		return time.Time{}
	}
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func (r *SQLiteRepository) CreatePatient(ctx context.Context, name, groupCode string) (core.Patient, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO patients (name, group_code, created_at) VALUES (?, ?, ?)`,
		name, groupCode, formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Patient{}, fmt.Errorf("create patient: group code %s: %w", groupCode, ErrDuplicate)
		}
		return core.Patient{}, fmt.Errorf("create patient: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Patient{}, fmt.Errorf("read patient id: %w", err)
	}

	slog.InfoContext(ctx, "Patient saved to SQLite", "patient_id", id)
	return core.Patient{ID: id, Name: name, GroupCode: groupCode, CreatedAt: now}, nil
}

func (r *SQLiteRepository) DeletePatient(ctx context.Context, id int64) error {
	if err := r.execOne(ctx, "delete patient", `DELETE FROM patients WHERE id = ?`, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Patient deleted from SQLite", "patient_id", id)
	return nil
}

func (r *SQLiteRepository) scanPatient(ctx context.Context, row *sql.Row) (core.Patient, error) {
	var p core.Patient
	var created string
	if err := row.Scan(&p.ID, &p.Name, &p.GroupCode, &created); err != nil {
		return core.Patient{}, err
	}
	p.CreatedAt = parseTime(ctx, "patients.created_at", created)
	return p, nil
}

func (r *SQLiteRepository) Patient(ctx context.Context, id int64) (core.Patient, error) {
	p, err := r.scanPatient(ctx, r.db.QueryRowContext(ctx,
		`SELECT id, name, group_code, created_at FROM patients WHERE id = ?`, id))
	if err != nil {
		return core.Patient{}, notFound(err, fmt.Sprintf("patient %d", id))
	}
	return p, nil
}

func (r *SQLiteRepository) PatientByGroupCode(ctx context.Context, code string) (core.Patient, error) {
	p, err := r.scanPatient(ctx, r.db.QueryRowContext(ctx,
		`SELECT id, name, group_code, created_at FROM patients WHERE group_code = ?`, code))
	if err != nil {
		return core.Patient{}, notFound(err, "patient by group code")
	}
	return p, nil
}

const caregiverColumns = `id, email, name, role, patient_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCaregiver(ctx context.Context, row rowScanner, extra ...any) (core.Caregiver, error) {
	var c core.Caregiver
	var role, created string
	dest := append([]any{&c.ID, &c.Email, &c.Name, &role, &c.PatientID, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return core.Caregiver{}, err
	}
	c.Role = core.Role(role)
	c.CreatedAt = parseTime(ctx, "caregivers.created_at", created)
	return c, nil
}

func (r *SQLiteRepository) CreateCaregiver(ctx context.Context, c core.Caregiver, passwordHash string) (core.Caregiver, error) {
	c.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO caregivers (email, name, role, patient_id, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Email, c.Name, string(c.Role), c.PatientID, passwordHash, formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Caregiver{}, fmt.Errorf("create caregiver %s: %w", c.Email, ErrDuplicate)
		}
		return core.Caregiver{}, fmt.Errorf("create caregiver: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return core.Caregiver{}, fmt.Errorf("read caregiver id: %w", err)
	}

	slog.InfoContext(ctx, "Caregiver saved to SQLite",
		"caregiver_id", c.ID,
		"patient_id", c.PatientID,
		"role", c.Role)
	return c, nil
}

func (r *SQLiteRepository) Caregiver(ctx context.Context, id int64) (core.Caregiver, error) {
	c, err := scanCaregiver(ctx, r.db.QueryRowContext(ctx,
		`SELECT `+caregiverColumns+` FROM caregivers WHERE id = ?`, id))
	if err != nil {
		return core.Caregiver{}, notFound(err, fmt.Sprintf("caregiver %d", id))
	}
	return c, nil
}

func (r *SQLiteRepository) CaregiverByEmail(ctx context.Context, email string) (core.Caregiver, string, error) {
	var hash string
	c, err := scanCaregiver(ctx, r.db.QueryRowContext(ctx,
		`SELECT `+caregiverColumns+`, password_hash FROM caregivers WHERE email = ?`, email), &hash)
	if err != nil {
		return core.Caregiver{}, "", notFound(err, "caregiver by email")
	}
	return c, hash, nil
}

func (r *SQLiteRepository) PasswordHash(ctx context.Context, caregiverID int64) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT password_hash FROM caregivers WHERE id = ?`, caregiverID).Scan(&hash)
	if err != nil {
		return "", notFound(err, fmt.Sprintf("caregiver %d", caregiverID))
	}
	return hash, nil
}

func (r *SQLiteRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) UpdateCaregiverName(ctx context.Context, caregiverID int64, name string) error {
	return r.execOne(ctx, "update caregiver name",
		`UPDATE caregivers SET name = ? WHERE id = ?`, name, caregiverID)
}

func (r *SQLiteRepository) UpdatePasswordHash(ctx context.Context, caregiverID int64, hash string) error {
	return r.execOne(ctx, "update password hash",
		`UPDATE caregivers SET password_hash = ? WHERE id = ?`, hash, caregiverID)
}

func (r *SQLiteRepository) ListCaregivers(ctx context.Context, patientID int64) ([]core.Caregiver, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+caregiverColumns+` FROM caregivers WHERE patient_id = ? ORDER BY name, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list caregivers: %w", err)
	}
	defer rows.Close()

	var out []core.Caregiver
	for rows.Next() {
		c, err := scanCaregiver(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan caregiver: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, s core.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token, caregiver_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		s.Token, s.CaregiverID, formatTime(s.CreatedAt), formatTime(s.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Session(ctx context.Context, token string) (core.Session, error) {
	var s core.Session
	var created, expires string
	err := r.db.QueryRowContext(ctx,
		`SELECT token, caregiver_id, created_at, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&s.Token, &s.CaregiverID, &created, &expires)
	if err != nil {
		return core.Session{}, notFound(err, "session")
	}
	s.CreatedAt = parseTime(ctx, "sessions.created_at", created)
	s.ExpiresAt = parseTime(ctx, "sessions.expires_at", expires)
	return s, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CreateEntry(ctx context.Context, e core.JournalEntry) error {
	tags, err := json.Marshal(core.TagNames(e.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, patient_id, timestamp, details, tags, image_url, author_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PatientID, formatTime(e.Timestamp), e.Details, string(tags), e.ImageURL, e.AuthorID,
		formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create entry %s: %w", e.ID, ErrDuplicate)
		}
		return fmt.Errorf("create entry: %w", err)
	}

	slog.InfoContext(ctx, "Journal entry saved to SQLite",
		"entry_id", e.ID,
		"patient_id", e.PatientID,
		"tags", len(e.Tags))
	return nil
}

const entrySelect = `SELECT e.id, e.patient_id, e.timestamp, e.details, e.tags, e.image_url, e.author_id,
	COALESCE(c.name, '') FROM journal_entries e LEFT JOIN caregivers c ON c.id = e.author_id`

func scanEntry(ctx context.Context, row rowScanner) (core.JournalEntry, error) {
	var e core.JournalEntry
	var ts, tags string
	if err := row.Scan(&e.ID, &e.PatientID, &ts, &e.Details, &tags, &e.ImageURL, &e.AuthorID, &e.AuthorName); err != nil {
		return core.JournalEntry{}, err
	}
	e.Timestamp = parseTime(ctx, "journal_entries.timestamp", ts)

	var names []string
	if err := json.Unmarshal([]byte(tags), &names); err != nil {
		slog.WarnContext(ctx, "Unparsable stored tags", "entry_id", e.ID, "error", err)
	}
	for _, n := range names {
		e.Tags = append(e.Tags, core.Tag(n))
	}
	return e, nil
}

func (r *SQLiteRepository) Entry(ctx context.Context, id string) (core.JournalEntry, error) {
	e, err := scanEntry(ctx, r.db.QueryRowContext(ctx, entrySelect+` WHERE e.id = ?`, id))
	if err != nil {
		return core.JournalEntry{}, notFound(err, "entry "+id)
	}
	return e, nil
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, id string) error {
	if err := r.execOne(ctx, "delete entry", `DELETE FROM journal_entries WHERE id = ?`, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Journal entry deleted from SQLite", "entry_id", id)
	return nil
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]core.JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := []core.JournalEntry{}
	for rows.Next() {
		e, err := scanEntry(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, f EntryFilter) ([]core.JournalEntry, error) {
	var b strings.Builder
	b.WriteString(entrySelect)
	b.WriteString(` WHERE e.patient_id = ?`)
	args := []any{f.PatientID}
	if !f.From.IsZero() {
		b.WriteString(` AND e.timestamp >= ?`)
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		b.WriteString(` AND e.timestamp < ?`)
		args = append(args, formatTime(f.To))
	}
	b.WriteString(` ORDER BY e.timestamp ASC, e.id ASC`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}
	return r.queryEntries(ctx, b.String(), args...)
}

func (r *SQLiteRepository) PendingExport(ctx context.Context, limit int) ([]core.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEntries(ctx,
		entrySelect+` WHERE e.exported_at IS NULL ORDER BY e.created_at ASC, e.id ASC LIMIT ?`, limit)
}

func (r *SQLiteRepository) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE journal_entries SET exported_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark exported: %w", err)
	}
	defer stmt.Close()

	stamp := formatTime(at)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, stamp, id); err != nil {
			return fmt.Errorf("mark entry %s exported: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark exported: %w", err)
	}

	slog.InfoContext(ctx, "Entries marked as exported", "count", len(ids))
	return nil
}

func (r *SQLiteRepository) CreateInvite(ctx context.Context, inv core.Invite) (core.Invite, error) {
	inv.CreatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO invites (patient_id, email, invited_by, created_at) VALUES (?, ?, ?, ?)`,
		inv.PatientID, inv.Email, inv.InvitedBy, formatTime(inv.CreatedAt))
	if err != nil {
		return core.Invite{}, fmt.Errorf("create invite: %w", err)
	}
	if inv.ID, err = res.LastInsertId(); err != nil {
		return core.Invite{}, fmt.Errorf("read invite id: %w", err)
	}
	return inv, nil
}

func (r *SQLiteRepository) ListInvites(ctx context.Context, patientID int64) ([]core.Invite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, email, invited_by, created_at FROM invites WHERE patient_id = ? ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var out []core.Invite
	for rows.Next() {
		var inv core.Invite
		var created string
		if err := rows.Scan(&inv.ID, &inv.PatientID, &inv.Email, &inv.InvitedBy, &created); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		inv.CreatedAt = parseTime(ctx, "invites.created_at", created)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SaveReport(ctx context.Context, rep core.Report) error {
	sources, err := json.Marshal(rep.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO reports (id, patient_id, start_date, end_date, text, sources, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.PatientID, string(rep.Start), string(rep.End), rep.Text, string(sources), rep.CreatedBy,
		formatTime(rep.CreatedAt))
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	slog.InfoContext(ctx, "Report saved to SQLite", "report_id", rep.ID, "patient_id", rep.PatientID)
	return nil
}

func (r *SQLiteRepository) ListReports(ctx context.Context, patientID int64, limit int) ([]core.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, start_date, end_date, text, sources, created_by, created_at
		 FROM reports WHERE patient_id = ? ORDER BY created_at DESC LIMIT ?`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := []core.Report{}
	for rows.Next() {
		var rep core.Report
		var start, end, sources, created string
		if err := rows.Scan(&rep.ID, &rep.PatientID, &start, &end, &rep.Text, &sources, &rep.CreatedBy, &created); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rep.Start, rep.End = core.DateKey(start), core.DateKey(end)
		rep.CreatedAt = parseTime(ctx, "reports.created_at", created)
		if err := json.Unmarshal([]byte(sources), &rep.Sources); err != nil {
			slog.WarnContext(ctx, "Unparsable stored sources", "report_id", rep.ID, "error", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Preferences(ctx context.Context, caregiverID int64) (core.Preferences, error) {
	p := core.DefaultPreferences()
	err := r.db.QueryRowContext(ctx,
		`SELECT font_size FROM preferences WHERE caregiver_id = ?`, caregiverID).Scan(&p.FontSize)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DefaultPreferences(), nil
	}
	if err != nil {
		return core.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) SavePreferences(ctx context.Context, caregiverID int64, p core.Preferences) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO preferences (caregiver_id, font_size) VALUES (?, ?)
		 ON CONFLICT(caregiver_id) DO UPDATE SET font_size = excluded.font_size`,
		caregiverID, p.FontSize)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
