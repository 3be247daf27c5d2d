package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RawPayload is one fetch result as delivered by the finances API. Items are
// kept as undecoded JSON because their shape is not trusted.
type RawPayload struct {
	Transactions []json.RawMessage `json:"transactions"`
	NextToken    string            `json:"nextToken,omitempty"`
	Note         string            `json:"note,omitempty"`
}

// NormalizedRecord is the fixed internal shape of a single raw transaction.
// Optional strings are "" when absent. Amount is invalid when missing or unparsable.
type NormalizedRecord struct {
	ID            string              `json:"transaction_id"`
	PostedAtRaw   string              `json:"posted_at_raw"`
	Type          string              `json:"type,omitempty"`
	CurrencyCode  string              `json:"currency_code,omitempty"`
	Amount        decimal.NullDecimal `json:"amount"`
	MarketplaceID string              `json:"marketplace_id,omitempty"`
	OrderID       string              `json:"order_id,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	RawPayload    RawJSON             `json:"raw"`
}

// ValidatedRecord is a NormalizedRecord that passed every integrity check.
type ValidatedRecord struct {
	ID            string              `json:"transaction_id"`
	PostedAt      time.Time           `json:"posted_date"`
	PostedDay     time.Time           `json:"posted_day"`
	Type          string              `json:"type,omitempty"`
	CurrencyCode  string              `json:"currency_code,omitempty"`
	Amount        decimal.NullDecimal `json:"amount"`
	MarketplaceID string              `json:"marketplace_id,omitempty"`
	OrderID       string              `json:"order_id,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	RawPayload    RawJSON             `json:"raw"`
}

// PersistedTransaction is a row of spapi_transactions.
type PersistedTransaction struct {
	TransactionID string              `json:"transaction_id" db:"transaction_id"`
	PostedDate    time.Time           `json:"posted_date" db:"posted_date"`
	PostedDay     time.Time           `json:"posted_day" db:"posted_day"`
	Type          *string             `json:"type" db:"type"`
	CurrencyCode  *string             `json:"currency_code" db:"currency_code"`
	Amount        decimal.NullDecimal `json:"amount" db:"amount"`
	MarketplaceID *string             `json:"marketplace_id" db:"marketplace_id"`
	OrderID       *string             `json:"order_id" db:"order_id"`
	Reason        *string             `json:"reason" db:"reason"`
	Raw           RawJSON             `json:"raw" db:"raw"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// RawJSON holds a verbatim JSON document bound for a jsonb column.
type RawJSON json.RawMessage

// Value implements driver.Valuer for RawJSON. jsonb accepts text input, so the
// document is sent as a string rather than bytea.
func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return string(r), nil
}

// Scan implements sql.Scanner for RawJSON
func (r *RawJSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = bytes.Clone(v)
	case string:
		*r = RawJSON(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return nil
}

// MarshalJSON emits the document as-is, or null when empty.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the input document.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("models.RawJSON: UnmarshalJSON on nil pointer")
	}
	*r = append((*r)[0:0], data...)
	return nil
}
