package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/retry"
	"carelink/internal/storage"
	"carelink/internal/summary"
)

const defaultHistoryLimit = 20

// Summarizer turns a prompt into generated text with sources.
type Summarizer interface {
	Generate(ctx context.Context, p summary.Prompt) (summary.Result, error)
}

// ReportStore is the part of storage the report service needs.
type ReportStore interface {
	storage.PatientStore
	storage.EntryStore
	storage.ReportStore
}

// ReportService generates care summaries over a date range and keeps their history.
type ReportService struct {
	store       ReportStore
	summarizer  Summarizer
	maxAttempts int
	retryOpts   []retry.Option
	loc         *time.Location
	now         func() time.Time
	logger      *applog.StructuredLogger
}

// NewReportService builds the service. A nil summarizer makes Generate fail
// with ErrSummaryUnavailable.
func NewReportService(store ReportStore, summarizer Summarizer, maxAttempts int, loc *time.Location, logger *applog.Logger, opts ...retry.Option) *ReportService {
	if loc == nil {
		loc = time.Local
	}
	if maxAttempts < 1 {
		maxAttempts = retry.DefaultMaxAttempts
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &ReportService{
		store:       store,
		summarizer:  summarizer,
		maxAttempts: maxAttempts,
		retryOpts:   opts,
		loc:         loc,
		now:         time.Now,
		logger:      applog.NewStructuredLogger(logger.WithComponent(applog.ComponentReport)),
	}
}

// Generate summarizes the requester's patient journal between start and end,
// both YYYY-MM-DD and inclusive. The summarization call is retried with
// exponential backoff; exhaustion yields *retry.RemoteOperationFailedError.
func (s *ReportService) Generate(ctx context.Context, requester core.Caregiver, start, end string) (core.Report, error) {
	r, err := core.ParseDateRange(start, end)
	if err != nil {
		return core.Report{}, err
	}
	if s.summarizer == nil {
		return core.Report{}, ErrSummaryUnavailable
	}

	from, to := r.Bounds(s.loc)
	entries, err := s.store.ListEntries(ctx, storage.EntryFilter{
		PatientID: requester.PatientID,
		From:      from,
		To:        to,
	})
	if err != nil {
		return core.Report{}, fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		return core.Report{}, &NoEntriesError{Range: r}
	}

	patient, err := s.store.Patient(ctx, requester.PatientID)
	if err != nil {
		return core.Report{}, fmt.Errorf("load patient: %w", err)
	}

	prompt := summary.BuildPrompt(patient.Name, r, entries, s.loc)
	opts := append([]retry.Option{
		retry.WithMaxAttempts(s.maxAttempts),
		retry.WithRetryIf(summary.IsRetryable),
		retry.WithObserver(func(a retry.Attempt) {
			s.logger.LogRetryAttempt(ctx, "summary.generate", a.Number, a.State.String(), a.Delay, a.Err)
		}),
	}, s.retryOpts...)

	result, err := retry.Do(ctx, func(ctx context.Context) (summary.Result, error) {
		return s.summarizer.Generate(ctx, prompt)
	}, opts...)
	if err != nil {
		s.logger.LogError(ctx, "Summary generation failed", err, applog.OpGenerate,
			applog.NewFields().WithPatient(requester.PatientID))
		return core.Report{}, fmt.Errorf("generate summary: %w", err)
	}

	report := core.Report{
		ID:        uuid.NewString(),
		PatientID: requester.PatientID,
		Start:     r.Start,
		End:       r.End,
		Text:      result.Text,
		Sources:   make([]core.Source, 0, len(result.Sources)),
		CreatedBy: requester.ID,
		CreatedAt: s.now().UTC(),
	}
	for _, src := range result.Sources {
		report.Sources = append(report.Sources, core.Source{URI: src.URI, Title: src.Title})
	}

	if err := s.store.SaveReport(ctx, report); err != nil {
		// Saving is best effort.
		s.logger.LogError(ctx, "Failed to save report", err, applog.OpCreate,
			applog.NewFields().WithPatient(requester.PatientID))
		return report, nil
	}

	slog.InfoContext(ctx, "Report generated",
		applog.FieldReportID, report.ID,
		applog.FieldPatientID, report.PatientID,
		applog.FieldRangeStart, report.Start,
		applog.FieldRangeEnd, report.End,
		"entries", len(entries),
		"sources", len(report.Sources))
	return report, nil
}

// History lists the patient's saved reports, newest first.
func (s *ReportService) History(ctx context.Context, patientID int64, limit int) ([]core.Report, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	reports, err := s.store.ListReports(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}
