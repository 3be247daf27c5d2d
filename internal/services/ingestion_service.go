package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"github.com/ruralpay/ledger-ingest/internal/metrics"
	"github.com/ruralpay/ledger-ingest/internal/models"
)

// TransactionFetcher is the remote source of raw transactions.
type TransactionFetcher interface {
	ListTransactions(ctx context.Context, postedAfter, marketplaceID string) (*models.RawPayload, error)
}

// TransactionRepository is the idempotent store used by a run.
type TransactionRepository interface {
	Upsert(ctx context.Context, records []models.ValidatedRecord) (int, error)
	FetchByIDs(ctx context.Context, ids []string) ([]models.PersistedTransaction, error)
}

// RunOptions selects the window and source of one ingestion run.
type RunOptions struct {
	Mode          string `json:"mode" validate:"required,oneof=mock real"`
	PostedAfter   string `json:"postedAfter"`
	MarketplaceID string `json:"marketplaceId" validate:"omitempty,max=32"`
	SkipPersist   bool   `json:"skipPersist"`
}

// RunSummary reports everything a run did, including every rejection and
// warning produced by validation.
type RunSummary struct {
	RunID       string                        `json:"runId"`
	Mode        string                        `json:"mode"`
	PostedAfter string                        `json:"postedAfter"`
	Fetched     int                           `json:"fetched"`
	Valid       int                           `json:"valid"`
	Rejected    int                           `json:"rejected"`
	Written     int                           `json:"written"`
	Errors      []string                      `json:"errors"`
	Warnings    []string                      `json:"warnings"`
	Note        string                        `json:"note,omitempty"`
	Persisted   []models.PersistedTransaction `json:"persisted,omitempty"`
	StartedAt   time.Time                     `json:"startedAt"`
	Duration    time.Duration                 `json:"duration"`
}

// IngestionService runs fetch, normalize, validate and upsert in sequence.
type IngestionService struct {
	fetcher   TransactionFetcher
	store     TransactionRepository
	validator *RecordValidator
	events    logger.EventLogger
	clock     clock.Clock
	options   *RequestValidator
}

// NewIngestionService wires a run pipeline. store may be nil, in which case
// runs stop after validation.
func NewIngestionService(fetcher TransactionFetcher, store TransactionRepository, events logger.EventLogger, c clock.Clock) *IngestionService {
	if c == nil {
		c = clock.System()
	}
	if events == nil {
		events = logger.Discard()
	}
	return &IngestionService{
		fetcher:   fetcher,
		store:     store,
		validator: NewRecordValidator(c),
		events:    events,
		clock:     c,
		options:   NewRequestValidator(),
	}
}

// Run executes one ingestion. The returned summary is non-nil even when an
// error is returned, so callers can report partial progress.
func (s *IngestionService) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	start := s.clock.Now()
	summary := &RunSummary{
		RunID:       uuid.NewString(),
		Mode:        opts.Mode,
		PostedAfter: opts.PostedAfter,
		Errors:      []string{},
		Warnings:    []string{},
		StartedAt:   start,
	}
	if summary.PostedAfter == "" {
		summary.PostedAfter = clock.DaysAgo(s.clock, 1)
	}

	err := s.run(ctx, opts, summary)

	summary.Duration = s.clock.Now().Sub(start)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.RunsTotal.WithLabelValues(opts.Mode, status).Inc()
	metrics.RunLatency.WithLabelValues(opts.Mode).Observe(summary.Duration.Seconds())
	s.events.RunSummary(summary.RunID, summary.Mode, summary.Written, summary.Duration)
	return summary, err
}

func (s *IngestionService) run(ctx context.Context, opts RunOptions, summary *RunSummary) error {
	if err := s.options.Check(&opts); err != nil {
		return fmt.Errorf("invalid run options: %w", err)
	}

	payload, err := s.fetcher.ListTransactions(ctx, summary.PostedAfter, opts.MarketplaceID)
	if err != nil {
		return fmt.Errorf("fetching transactions: %w", err)
	}
	summary.Note = payload.Note

	records := Normalize(payload)
	result := s.validator.Validate(records)

	summary.Fetched = len(records)
	summary.Valid = len(result.Valid)
	summary.Rejected = len(result.Errors)
	summary.Errors = result.Errors
	summary.Warnings = result.Warnings

	s.events.Validation(len(records), len(result.Valid), result.Errors, result.Warnings)
	metrics.RecordsValidated.WithLabelValues("valid").Add(float64(len(result.Valid)))
	metrics.RecordsValidated.WithLabelValues("rejected").Add(float64(len(result.Errors)))
	metrics.ValidationWarnings.Add(float64(len(result.Warnings)))

	if len(result.Valid) == 0 || s.store == nil || opts.SkipPersist {
		return nil
	}

	written, err := s.store.Upsert(ctx, result.Valid)
	if err != nil {
		return fmt.Errorf("saving transactions: %w", err)
	}
	summary.Written = written

	ids := make([]string, 0, len(result.Valid))
	for _, r := range result.Valid {
		ids = append(ids, r.ID)
	}
	persisted, err := s.store.FetchByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("verifying saved transactions: %w", err)
	}
	summary.Persisted = persisted
	return nil
}
