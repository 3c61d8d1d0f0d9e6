// Package memory is a process-local storage.Store used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carelink/internal/core"
	"carelink/internal/storage"
)

type caregiverRecord struct {
	core.Caregiver
	hash string
}

type entryRecord struct {
	core.JournalEntry
	createdAt  time.Time
	exportedAt time.Time
}

type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	nextID     int64
	patients   map[int64]core.Patient
	caregivers map[int64]*caregiverRecord
	sessions   map[string]core.Session
	entries    map[string]*entryRecord
	invites    []core.Invite
	reports    []core.Report
	prefs      map[int64]core.Preferences
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:        time.Now,
		patients:   make(map[int64]core.Patient),
		caregivers: make(map[int64]*caregiverRecord),
		sessions:   make(map[string]core.Session),
		entries:    make(map[string]*entryRecord),
		prefs:      make(map[int64]core.Preferences),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreatePatient(_ context.Context, name, groupCode string) (core.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.GroupCode == groupCode {
			return core.Patient{}, fmt.Errorf("create patient: group code %s: %w", groupCode, storage.ErrDuplicate)
		}
	}
	p := core.Patient{ID: s.id(), Name: name, GroupCode: groupCode, CreatedAt: s.now()}
	s.patients[p.ID] = p
	return p, nil
}

func (s *Store) Patient(_ context.Context, id int64) (core.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return core.Patient{}, fmt.Errorf("patient %d: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) DeletePatient(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[id]; !ok {
		return fmt.Errorf("delete patient: %w", storage.ErrNotFound)
	}
	delete(s.patients, id)
	return nil
}

func (s *Store) PatientByGroupCode(_ context.Context, code string) (core.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.GroupCode == code {
			return p, nil
		}
	}
	return core.Patient{}, fmt.Errorf("patient by group code: %w", storage.ErrNotFound)
}

func (s *Store) CreateCaregiver(_ context.Context, c core.Caregiver, passwordHash string) (core.Caregiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.caregivers {
		if existing.Email == c.Email {
			return core.Caregiver{}, fmt.Errorf("create caregiver %s: %w", c.Email, storage.ErrDuplicate)
		}
	}
	c.ID = s.id()
	c.CreatedAt = s.now()
	s.caregivers[c.ID] = &caregiverRecord{Caregiver: c, hash: passwordHash}
	return c, nil
}

func (s *Store) caregiver(id int64) (*caregiverRecord, error) {
	c, ok := s.caregivers[id]
	if !ok {
		return nil, fmt.Errorf("caregiver %d: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) Caregiver(_ context.Context, id int64) (core.Caregiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.caregiver(id)
	if err != nil {
		return core.Caregiver{}, err
	}
	return c.Caregiver, nil
}

func (s *Store) CaregiverByEmail(_ context.Context, email string) (core.Caregiver, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caregivers {
		if c.Email == email {
			return c.Caregiver, c.hash, nil
		}
	}
	return core.Caregiver{}, "", fmt.Errorf("caregiver by email: %w", storage.ErrNotFound)
}

func (s *Store) PasswordHash(_ context.Context, caregiverID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.caregiver(caregiverID)
	if err != nil {
		return "", err
	}
	return c.hash, nil
}

func (s *Store) UpdateCaregiverName(_ context.Context, caregiverID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.caregiver(caregiverID)
	if err != nil {
		return err
	}
	c.Name = name
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, caregiverID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.caregiver(caregiverID)
	if err != nil {
		return err
	}
	c.hash = hash
	return nil
}

func (s *Store) ListCaregivers(_ context.Context, patientID int64) ([]core.Caregiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Caregiver
	for _, c := range s.caregivers {
		if c.PatientID == patientID {
			out = append(out, c.Caregiver)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) Session(_ context.Context, token string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return core.Session{}, fmt.Errorf("session: %w", storage.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateEntry(_ context.Context, e core.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("create entry %s: %w", e.ID, storage.ErrDuplicate)
	}
	e.Tags = append([]core.Tag(nil), e.Tags...)
	s.entries[e.ID] = &entryRecord{JournalEntry: e, createdAt: s.now()}
	return nil
}

// withAuthor fills the author name the way the sql join does.
func (s *Store) withAuthor(r *entryRecord) core.JournalEntry {
	e := r.JournalEntry
	e.Tags = append([]core.Tag(nil), r.Tags...)
	if c, ok := s.caregivers[e.AuthorID]; ok {
		e.AuthorName = c.Name
	}
	return e
}

func (s *Store) Entry(_ context.Context, id string) (core.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	if !ok {
		return core.JournalEntry{}, fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	return s.withAuthor(r), nil
}

func (s *Store) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("delete entry: %w", storage.ErrNotFound)
	}
	delete(s.entries, id)
	return nil
}

func (s *Store) ListEntries(_ context.Context, f storage.EntryFilter) ([]core.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.JournalEntry{}
	for _, r := range s.entries {
		if r.PatientID != f.PatientID {
			continue
		}
		if !f.From.IsZero() && r.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
			continue
		}
		out = append(out, s.withAuthor(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) PendingExport(_ context.Context, limit int) ([]core.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*entryRecord
	for _, r := range s.entries {
		if r.exportedAt.IsZero() {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].createdAt.Equal(pending[j].createdAt) {
			return pending[i].createdAt.Before(pending[j].createdAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]core.JournalEntry, len(pending))
	for i, r := range pending {
		out[i] = s.withAuthor(r)
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.entries[id]; ok {
			r.exportedAt = at
		}
	}
	return nil
}

func (s *Store) CreateInvite(_ context.Context, inv core.Invite) (core.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.ID = s.id()
	inv.CreatedAt = s.now()
	s.invites = append(s.invites, inv)
	return inv, nil
}

func (s *Store) ListInvites(_ context.Context, patientID int64) ([]core.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Invite
	for _, inv := range s.invites {
		if inv.PatientID == patientID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *Store) SaveReport(_ context.Context, r core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Sources = append([]core.Source(nil), r.Sources...)
	s.reports = append(s.reports, r)
	return nil
}

func (s *Store) ListReports(_ context.Context, patientID int64, limit int) ([]core.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Report{}
	for i := len(s.reports) - 1; i >= 0 && len(out) < limit; i-- {
		if s.reports[i].PatientID == patientID {
			out = append(out, s.reports[i])
		}
	}
	return out, nil
}

func (s *Store) Preferences(_ context.Context, caregiverID int64) (core.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prefs[caregiverID]; ok {
		return p, nil
	}
	return core.DefaultPreferences(), nil
}

func (s *Store) SavePreferences(_ context.Context, caregiverID int64, p core.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[caregiverID] = p
	return nil
}
