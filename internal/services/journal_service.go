package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"carelink/internal/cache"
	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/storage"
)

const (
	journalCacheSize = 256
	journalCacheTTL  = 5 * time.Minute
)

// ChangeNotifier signals that a patient's journal changed. Implemented by the
// AMQP client and by the in-process realtime broker.
type ChangeNotifier interface {
	NotifyEntriesChanged(ctx context.Context, change core.EntryChange) error
}

// EntryInput is a caregiver's new journal entry before validation.
type EntryInput struct {
	Timestamp time.Time // zero means now
	Details   string
	Tags      []string
	ImageURL  string
}

// Journal is the grouped view of a patient's entries.
type Journal struct {
	Sections []core.DateSection
	// Skipped counts entries left out for lacking a usable timestamp.
	Skipped int
}

// JournalService creates and reads journal entries. The full entry list of each
// patient is cached until a change signal for that patient arrives.
type JournalService struct {
	store    storage.EntryStore
	notifier ChangeNotifier
	entries  *cache.LRUCache[[]core.JournalEntry]
	loc      *time.Location
	now      func() time.Time
	logger   *applog.StructuredLogger

	// genMu guards generations, which Invalidate bumps so that a list read
	// before a change signal is never cached after it.
	genMu       sync.Mutex
	generations map[int64]uint64
}

func NewJournalService(store storage.EntryStore, notifier ChangeNotifier, loc *time.Location, logger *applog.Logger) *JournalService {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &JournalService{
		store:       store,
		notifier:    notifier,
		entries:     cache.NewLRUCache[[]core.JournalEntry](journalCacheSize, journalCacheTTL),
		loc:         loc,
		generations: make(map[int64]uint64),
		now:         time.Now,
		logger:      applog.NewStructuredLogger(logger.WithComponent(applog.ComponentJournal)),
	}
}

// Cache exposes the entry cache so it can be registered for periodic cleanup.
func (s *JournalService) Cache() *cache.LRUCache[[]core.JournalEntry] {
	return s.entries
}

// Location is the zone calendar days are computed in.
func (s *JournalService) Location() *time.Location {
	return s.loc
}

// Today is the current instant in the journal's zone.
func (s *JournalService) Today() time.Time {
	return s.now().In(s.loc)
}

func cacheKey(patientID int64) string {
	return strconv.FormatInt(patientID, 10)
}

// CreateEntry validates and stores a new entry written by author.
func (s *JournalService) CreateEntry(ctx context.Context, author core.Caregiver, in EntryInput) (core.JournalEntry, error) {
	tags, err := core.ParseTags(in.Tags)
	if err != nil {
		return core.JournalEntry{}, err
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	e := core.JournalEntry{
		ID:         uuid.NewString(),
		PatientID:  author.PatientID,
		Timestamp:  ts,
		Details:    strings.TrimSpace(in.Details),
		Tags:       tags,
		ImageURL:   strings.TrimSpace(in.ImageURL),
		AuthorID:   author.ID,
		AuthorName: author.Name,
	}
	if err := e.Validate(); err != nil {
		return core.JournalEntry{}, err
	}

	if err := s.store.CreateEntry(ctx, e); err != nil {
		return core.JournalEntry{}, fmt.Errorf("save entry: %w", err)
	}

	s.logger.LogEntryCreated(ctx, e.PatientID, e.AuthorID, e.ID, len(e.Tags))
	s.changed(ctx, core.EntryChange{PatientID: e.PatientID, EntryID: e.ID, Op: core.OpCreated, Timestamp: s.now().UTC()})
	return e, nil
}

// DeleteEntry removes an entry. Only its author or a group Admin may do so.
// Entries of other groups are reported as not found.
func (s *JournalService) DeleteEntry(ctx context.Context, actor core.Caregiver, id string) error {
	e, err := s.store.Entry(ctx, id)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	if e.PatientID != actor.PatientID {
		return fmt.Errorf("load entry: %w", storage.ErrNotFound)
	}
	if e.AuthorID != actor.ID && actor.Role != core.RoleAdmin {
		return ErrForbidden
	}

	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}

	slog.InfoContext(ctx, "Journal entry deleted",
		applog.FieldPatientID, e.PatientID,
		applog.FieldEntryID, id,
		applog.FieldCaregiverID, actor.ID)
	s.changed(ctx, core.EntryChange{PatientID: e.PatientID, EntryID: id, Op: core.OpDeleted, Timestamp: s.now().UTC()})
	return nil
}

// changed drops the local cache and tells everyone else. A failed notification
// is logged; the write itself already succeeded.
func (s *JournalService) changed(ctx context.Context, change core.EntryChange) {
	s.Invalidate(change.PatientID)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyEntriesChanged(ctx, change); err != nil {
		op := applog.OpCreate
		if change.Op == core.OpDeleted {
			op = applog.OpDelete
		}
		s.logger.LogError(ctx, "Failed to publish entries changed", err, op,
			applog.NewFields().WithPatient(change.PatientID))
	}
}

// Invalidate forgets the cached entries of a patient.
func (s *JournalService) Invalidate(patientID int64) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[patientID]++
	s.entries.Delete(cacheKey(patientID))
}

func (s *JournalService) generation(patientID int64) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[patientID]
}

// storeIfCurrent caches list unless a change signal arrived since gen was read.
func (s *JournalService) storeIfCurrent(patientID int64, gen uint64, list []core.JournalEntry) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[patientID] != gen {
		return false
	}
	s.entries.Set(cacheKey(patientID), list)
	return true
}

// HandleChange applies a change signal received from another process.
func (s *JournalService) HandleChange(ctx context.Context, change core.EntryChange) error {
	if change.PatientID <= 0 {
		return fmt.Errorf("invalid patient id %d", change.PatientID)
	}
	s.Invalidate(change.PatientID)
	slog.DebugContext(ctx, "Journal cache invalidated",
		applog.FieldPatientID, change.PatientID,
		applog.FieldEntryID, change.EntryID,
		"op", change.Op)
	return nil
}

func (s *JournalService) allEntries(ctx context.Context, patientID int64) ([]core.JournalEntry, error) {
	key := cacheKey(patientID)
	if cached, ok := s.entries.Get(key); ok {
		return append([]core.JournalEntry(nil), cached...), nil
	}
	gen := s.generation(patientID)
	list, err := s.store.ListEntries(ctx, storage.EntryFilter{PatientID: patientID})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if !s.storeIfCurrent(patientID, gen, list) {
		slog.DebugContext(ctx, "Journal list changed while loading, not cached",
			applog.FieldPatientID, patientID)
	}
	return append([]core.JournalEntry(nil), list...), nil
}

// Sections returns the patient's journal grouped by calendar day, newest first.
// Entries without a usable timestamp are left out and counted.
func (s *JournalService) Sections(ctx context.Context, patientID int64) (Journal, error) {
	entries, err := s.allEntries(ctx, patientID)
	if err != nil {
		return Journal{}, err
	}

	sections, err := core.GroupEntriesByDate(entries, s.Today())
	skipped := 0
	if err != nil {
		skipped = countSkipped(err)
		slog.WarnContext(ctx, "Journal entries skipped",
			applog.FieldPatientID, patientID,
			applog.FieldSkipped, skipped,
			applog.FieldError, err)
	}
	return Journal{Sections: sections, Skipped: skipped}, nil
}

func countSkipped(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	if errors.Is(err, core.ErrInvalidEntryTimestamp) {
		return 1
	}
	return 0
}

// Range returns the entries of the given days, oldest first.
func (s *JournalService) Range(ctx context.Context, patientID int64, r core.DateRange) ([]core.JournalEntry, error) {
	from, to := r.Bounds(s.loc)
	entries, err := s.store.ListEntries(ctx, storage.EntryFilter{PatientID: patientID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// Day returns the entries of one local calendar day, newest first.
func (s *JournalService) Day(ctx context.Context, patientID int64, day core.DateKey) ([]core.JournalEntry, error) {
	entries, err := s.Range(ctx, patientID, core.DayRange(day))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// Month returns the days of a month that have at least one entry, in order.
func (s *JournalService) Month(ctx context.Context, patientID int64, year int, month time.Month) ([]core.DateKey, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	entries, err := s.Range(ctx, patientID, core.MonthRange(year, month))
	if err != nil {
		return nil, err
	}

	seen := make(map[core.DateKey]struct{})
	days := []core.DateKey{}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			continue
		}
		k := core.DateKeyOf(e.Timestamp, s.loc)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		days = append(days, k)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}
