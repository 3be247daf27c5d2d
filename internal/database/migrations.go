package database

import (
	"context"
	"database/sql"
	"fmt"
)

var transactionSchema = []string{
	`CREATE TABLE IF NOT EXISTS spapi_transactions (
		transaction_id  text PRIMARY KEY,
		posted_date     timestamptz,
		posted_day      date,
		type            text,
		currency_code   text,
		amount          numeric(14,2),
		marketplace_id  text,
		order_id        text,
		reason          text,
		raw             jsonb,
		created_at      timestamptz DEFAULT now(),
		updated_at      timestamptz DEFAULT now()
	)`,
	// older deployments predate posted_day
	`ALTER TABLE spapi_transactions ADD COLUMN IF NOT EXISTS posted_day date`,
	`CREATE INDEX IF NOT EXISTS idx_spapi_tx_posted_date ON spapi_transactions (posted_date)`,
	`CREATE INDEX IF NOT EXISTS idx_spapi_tx_posted_day ON spapi_transactions (posted_day)`,
	`CREATE INDEX IF NOT EXISTS idx_spapi_tx_type_currency ON spapi_transactions (type, currency_code)`,
}

// EnsureTransactionSchema creates spapi_transactions and its indexes if they
// do not exist. It is safe to run on every start.
func EnsureTransactionSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range transactionSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema: %w", err)
	}
	return nil
}
