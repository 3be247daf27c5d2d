package services

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ruralpay/ledger-ingest/internal/models"
	"github.com/shopspring/decimal"
)

// Normalize maps every raw transaction in payload onto a NormalizedRecord.
// It never fails: absent fields stay empty, an unusable amount becomes an
// invalid NullDecimal, and an item that is not a JSON object yields a record
// carrying only its raw payload.
func Normalize(payload *models.RawPayload) []models.NormalizedRecord {
	if payload == nil || len(payload.Transactions) == 0 {
		return []models.NormalizedRecord{}
	}

	records := make([]models.NormalizedRecord, 0, len(payload.Transactions))
	for _, item := range payload.Transactions {
		records = append(records, normalizeOne(item))
	}
	return records
}

func normalizeOne(item json.RawMessage) models.NormalizedRecord {
	rec := models.NormalizedRecord{RawPayload: models.RawJSON(bytes.Clone(item))}

	fields, ok := object(item)
	if !ok {
		return rec
	}

	rec.ID = scalar(fields["transactionId"])
	rec.PostedAtRaw = scalar(fields["postedDate"])
	rec.Type = scalar(fields["type"])
	rec.MarketplaceID = scalar(fields["marketplaceId"])

	if amount, ok := object(fields["amount"]); ok {
		rec.CurrencyCode = scalar(amount["currencyCode"])
		rec.Amount = parseAmount(scalar(amount["amount"]))
	}
	if details, ok := object(fields["details"]); ok {
		rec.OrderID = scalar(details["orderId"])
		rec.Reason = scalar(details["reason"])
	}
	return rec
}

// object decodes raw as a JSON object; null, arrays and scalars report false.
func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, false
	}
	return m, true
}

// scalar returns a JSON string's value or a JSON number's literal text.
// Anything else (null, bool, object, array, missing) is "".
func scalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch c := trimmed[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return s
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return ""
		}
		return n.String()
	}
	return ""
}

// parseAmount reads a decimal string and rounds it half-to-even to cents.
func parseAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.RoundBank(2))
}
