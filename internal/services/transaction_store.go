package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"github.com/ruralpay/ledger-ingest/internal/metrics"
	"github.com/ruralpay/ledger-ingest/internal/models"
)

// ErrPersistence marks any failure of a store operation.
var ErrPersistence = errors.New("persistence failure")

// upsertChunkSize keeps each statement well under PostgreSQL's 65535
// bind-parameter limit.
const upsertChunkSize = 1000

var upsertColumns = []string{
	"transaction_id", "posted_date", "posted_day", "type", "currency_code", "amount",
	"marketplace_id", "order_id", "reason", "raw", "created_at", "updated_at",
}

const upsertConflictClause = `
ON CONFLICT (transaction_id) DO UPDATE SET
	posted_date    = EXCLUDED.posted_date,
	posted_day     = EXCLUDED.posted_day,
	type           = EXCLUDED.type,
	currency_code  = EXCLUDED.currency_code,
	amount         = EXCLUDED.amount,
	marketplace_id = EXCLUDED.marketplace_id,
	order_id       = EXCLUDED.order_id,
	reason         = EXCLUDED.reason,
	raw            = EXCLUDED.raw,
	updated_at     = EXCLUDED.updated_at`

// TransactionStore persists validated records into spapi_transactions.
type TransactionStore struct {
	db     *sql.DB
	clock  clock.Clock
	events logger.EventLogger
}

func NewTransactionStore(db *sql.DB, c clock.Clock, events logger.EventLogger) *TransactionStore {
	if c == nil {
		c = clock.System()
	}
	if events == nil {
		events = logger.Discard()
	}
	return &TransactionStore{db: db, clock: c, events: events}
}

// Upsert writes records in a single transaction keyed on transaction_id.
// Records without an id are skipped; when an id repeats, the last occurrence
// is written. Either every row is applied or none is.
func (s *TransactionStore) Upsert(ctx context.Context, records []models.ValidatedRecord) (int, error) {
	rows := dedupeByID(records)
	if len(rows) == 0 {
		return 0, nil
	}

	now := s.clock.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.fail("upsert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		query, args := buildUpsert(rows[start:end], now)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, s.fail("upsert", fmt.Errorf("upserting rows %d-%d: %w", start+1, end, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, s.fail("upsert", fmt.Errorf("committing transaction: %w", err))
	}

	s.events.Database("UPSERT spapi_transactions", len(rows), nil)
	metrics.StoreRowsUpserted.Add(float64(len(rows)))
	return len(rows), nil
}

// FetchByIDs returns the stored rows for ids ordered by posted_date.
func (s *TransactionStore) FetchByIDs(ctx context.Context, ids []string) ([]models.PersistedTransaction, error) {
	if len(ids) == 0 {
		return []models.PersistedTransaction{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, posted_date, posted_day, type, currency_code, amount,
		       marketplace_id, order_id, reason, raw, created_at, updated_at
		FROM spapi_transactions
		WHERE transaction_id = ANY($1)
		ORDER BY posted_date, transaction_id`, pq.Array(ids))
	if err != nil {
		return nil, s.fail("select", fmt.Errorf("querying transactions: %w", err))
	}
	defer rows.Close()

	out := make([]models.PersistedTransaction, 0, len(ids))
	for rows.Next() {
		var t models.PersistedTransaction
		if err := rows.Scan(
			&t.TransactionID, &t.PostedDate, &t.PostedDay, &t.Type, &t.CurrencyCode, &t.Amount,
			&t.MarketplaceID, &t.OrderID, &t.Reason, &t.Raw, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, s.fail("select", fmt.Errorf("scanning transaction: %w", err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("select", fmt.Errorf("iterating transactions: %w", err))
	}

	s.events.Database("SELECT spapi_transactions", len(out), nil)
	return out, nil
}

func (s *TransactionStore) fail(op string, err error) error {
	s.events.Database(strings.ToUpper(op)+" spapi_transactions", 0, err)
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func dedupeByID(records []models.ValidatedRecord) []models.ValidatedRecord {
	index := make(map[string]int, len(records))
	out := make([]models.ValidatedRecord, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// buildUpsert renders one multi-row INSERT ... ON CONFLICT statement.
func buildUpsert(rows []models.ValidatedRecord, now time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO spapi_transactions (")
	b.WriteString(strings.Join(upsertColumns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(upsertColumns))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range upsertColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*len(upsertColumns)+j+1)
		}
		b.WriteString(")")

		args = append(args,
			r.ID,
			r.PostedAt,
			r.PostedDay.Format("2006-01-02"),
			nullString(r.Type),
			nullString(r.CurrencyCode),
			r.Amount,
			nullString(r.MarketplaceID),
			nullString(r.OrderID),
			nullString(r.Reason),
			r.RawPayload,
			now,
			now,
		)
	}
	b.WriteString(upsertConflictClause)
	return b.String(), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
