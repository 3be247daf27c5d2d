package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/models"
)

// maxPostedAgeDays is the age past which an accepted record is flagged.
const maxPostedAgeDays = 370

// ValidationResult partitions a batch into persistable records and the
// human-readable rejection and warning messages.
type ValidationResult struct {
	Valid    []models.ValidatedRecord `json:"-"`
	Errors   []string                 `json:"errors"`
	Warnings []string                 `json:"warnings"`
}

// RecordValidator applies the integrity rules to normalized records.
type RecordValidator struct {
	clock    clock.Clock
	validate *validator.Validate
}

func NewRecordValidator(c clock.Clock) *RecordValidator {
	if c == nil {
		c = clock.System()
	}
	return &RecordValidator{clock: c, validate: validator.New()}
}

// verdict is the outcome of checking one record.
type verdict struct {
	record   models.ValidatedRecord
	reject   string
	warnings []string
}

// Validate processes records in order. Only duplicate detection carries state
// between records; "now" is read once per batch.
func (v *RecordValidator) Validate(records []models.NormalizedRecord) ValidationResult {
	now := v.clock.Now()
	seen := make(map[string]struct{}, len(records))
	result := ValidationResult{
		Valid:    make([]models.ValidatedRecord, 0, len(records)),
		Errors:   []string{},
		Warnings: []string{},
	}

	for i, rec := range records {
		tag := itemTag(i+1, rec.ID)
		out := v.check(now, seen, rec)
		if out.reject != "" {
			result.Errors = append(result.Errors, tag+": "+out.reject)
			continue
		}
		for _, w := range out.warnings {
			result.Warnings = append(result.Warnings, tag+": "+w)
		}
		result.Valid = append(result.Valid, out.record)
	}
	return result
}

func itemTag(index int, id string) string {
	if id == "" {
		return fmt.Sprintf("item[%d]", index)
	}
	return fmt.Sprintf("item[%d]:%s", index, id)
}

func (v *RecordValidator) check(now time.Time, seen map[string]struct{}, rec models.NormalizedRecord) verdict {
	if rec.ID == "" {
		return verdict{reject: "missing id"}
	}
	if _, dup := seen[rec.ID]; dup {
		return verdict{reject: "duplicate in batch"}
	}
	// The first occurrence claims the id even if it fails a later rule.
	seen[rec.ID] = struct{}{}

	if strings.TrimSpace(rec.PostedAtRaw) == "" {
		return verdict{reject: "missing postedDate"}
	}
	posted, err := clock.ParseISO8601UTC(rec.PostedAtRaw)
	if err != nil {
		return verdict{reject: fmt.Sprintf("postedDate is not ISO-8601: %q", rec.PostedAtRaw)}
	}
	if posted.After(now) {
		return verdict{reject: fmt.Sprintf("future-dated (postedDate %s)", rec.PostedAtRaw)}
	}

	var warnings []string
	if age := clock.AgeInDays(clock.Fixed(now), posted); age > maxPostedAgeDays {
		warnings = append(warnings, fmt.Sprintf("unusually old; expected ≤180 days (postedDate %s, %d days)", rec.PostedAtRaw, age))
	}

	if rec.CurrencyCode != "" && !v.validCurrency(rec.CurrencyCode) {
		return verdict{reject: fmt.Sprintf("invalid currency code %q", rec.CurrencyCode)}
	}

	if strings.EqualFold(rec.Type, "refund") && rec.Amount.Valid && rec.Amount.Decimal.IsPositive() {
		warnings = append(warnings, fmt.Sprintf("refund with positive amount; check sign (%s)", rec.Amount.Decimal.StringFixed(2)))
	}

	return verdict{
		record: models.ValidatedRecord{
			ID:            rec.ID,
			PostedAt:      posted,
			PostedDay:     clock.StartOfDay(posted),
			Type:          rec.Type,
			CurrencyCode:  rec.CurrencyCode,
			Amount:        rec.Amount,
			MarketplaceID: rec.MarketplaceID,
			OrderID:       rec.OrderID,
			Reason:        rec.Reason,
			RawPayload:    rec.RawPayload,
		},
		warnings: warnings,
	}
}

// validCurrency accepts exactly three uppercase ASCII letters.
func (v *RecordValidator) validCurrency(code string) bool {
	return v.validate.Var(code, "len=3,alpha,uppercase") == nil
}
