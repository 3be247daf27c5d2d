package services

import (
	"encoding/json"
	"testing"

	"github.com/ruralpay/ledger-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOf(items ...string) *models.RawPayload {
	p := &models.RawPayload{}
	for _, it := range items {
		p.Transactions = append(p.Transactions, json.RawMessage(it))
	}
	return p
}

func TestNormalize(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		item := `{"transactionId":"tx-1","postedDate":"2025-08-30T12:15:00Z","type":"Order",
			"amount":{"currencyCode":"USD","amount":"19.99"},"marketplaceId":"ATVPDKIKX0DER",
			"details":{"orderId":"903-1234567-1234567","reason":"CustomerReturn"}}`

		records := Normalize(payloadOf(item))
		require.Len(t, records, 1)
		r := records[0]

		assert.Equal(t, "tx-1", r.ID)
		assert.Equal(t, "2025-08-30T12:15:00Z", r.PostedAtRaw)
		assert.Equal(t, "Order", r.Type)
		assert.Equal(t, "USD", r.CurrencyCode)
		require.True(t, r.Amount.Valid)
		assert.Equal(t, "19.99", r.Amount.Decimal.StringFixed(2))
		assert.Equal(t, "ATVPDKIKX0DER", r.MarketplaceID)
		assert.Equal(t, "903-1234567-1234567", r.OrderID)
		assert.Equal(t, "CustomerReturn", r.Reason)
		assert.JSONEq(t, item, string(r.RawPayload))
	})

	t.Run("empty and nil payloads", func(t *testing.T) {
		assert.Empty(t, Normalize(nil))
		assert.NotNil(t, Normalize(&models.RawPayload{}))
		assert.Empty(t, Normalize(&models.RawPayload{}))
	})

	t.Run("missing optional fields stay absent", func(t *testing.T) {
		records := Normalize(payloadOf(`{"transactionId":"tx-2","postedDate":"2025-08-30T00:00:00Z"}`))
		require.Len(t, records, 1)
		r := records[0]

		assert.Equal(t, "tx-2", r.ID)
		assert.Empty(t, r.Type)
		assert.Empty(t, r.CurrencyCode)
		assert.False(t, r.Amount.Valid)
		assert.Empty(t, r.OrderID)
		assert.Empty(t, r.Reason)
	})

	t.Run("unparsable amount is absent not zero", func(t *testing.T) {
		for _, amount := range []string{`"abc"`, `""`, `null`, `true`, `"1.2.3"`, `"NaN"`} {
			records := Normalize(payloadOf(`{"transactionId":"x","amount":{"currencyCode":"USD","amount":` + amount + `}}`))
			require.Len(t, records, 1)
			assert.False(t, records[0].Amount.Valid, amount)
			assert.Equal(t, "USD", records[0].CurrencyCode, amount)
		}
	})

	t.Run("amount is rounded to cents half to even", func(t *testing.T) {
		cases := map[string]string{
			`"5"`:      "5.00",
			`"-5.005"`: "-5.00",
			`"2.675"`:  "2.68",
			`"0.125"`:  "0.12",
			`12.3456`:  "12.35",
			`" 7.1 "`:  "7.10",
		}
		for in, want := range cases {
			records := Normalize(payloadOf(`{"transactionId":"x","amount":{"amount":` + in + `}}`))
			require.True(t, records[0].Amount.Valid, in)
			assert.Equal(t, want, records[0].Amount.Decimal.StringFixed(2), in)
			assert.LessOrEqual(t, -records[0].Amount.Decimal.Exponent(), int32(2), in)
		}
	})

	t.Run("numeric identifiers are kept as text", func(t *testing.T) {
		records := Normalize(payloadOf(`{"transactionId":12345,"type":"Order"}`))
		assert.Equal(t, "12345", records[0].ID)
	})

	t.Run("non object shapes are tolerated", func(t *testing.T) {
		records := Normalize(payloadOf(
			`"just a string"`,
			`{"transactionId":"y","amount":"19.99","details":"n/a"}`,
			`null`,
		))
		require.Len(t, records, 3)

		assert.Empty(t, records[0].ID)
		assert.Equal(t, `"just a string"`, string(records[0].RawPayload))

		assert.Equal(t, "y", records[1].ID)
		assert.False(t, records[1].Amount.Valid)
		assert.Empty(t, records[1].OrderID)

		assert.Empty(t, records[2].ID)
	})

	t.Run("order is preserved", func(t *testing.T) {
		records := Normalize(payloadOf(`{"transactionId":"a"}`, `{"transactionId":"b"}`, `{"transactionId":"a"}`))
		require.Len(t, records, 3)
		assert.Equal(t, []string{"a", "b", "a"}, []string{records[0].ID, records[1].ID, records[2].ID})
	})
}
