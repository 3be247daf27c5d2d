package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger-ingest/internal/middleware"
	"github.com/ruralpay/ledger-ingest/internal/models"
	"github.com/ruralpay/ledger-ingest/internal/services"
	"github.com/ruralpay/ledger-ingest/internal/spapi"
)

const maxLookupIDs = 1000

// TransactionReader reads persisted rows back by id.
type TransactionReader interface {
	FetchByIDs(ctx context.Context, ids []string) ([]models.PersistedTransaction, error)
}

// Ingestor runs one ingestion.
type Ingestor interface {
	Run(ctx context.Context, opts services.RunOptions) (*services.RunSummary, error)
}

// IngestorFactory builds the pipeline for a request, choosing the mock or
// real fetch client.
type IngestorFactory func(req IngestRequest) (Ingestor, error)

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	PostedAfter   string `json:"postedAfter" validate:"omitempty,iso8601"`
	MarketplaceID string `json:"marketplaceId" validate:"omitempty,max=32"`
	Mock          bool   `json:"mock"`
	Scenario      string `json:"scenario" validate:"omitempty,oneof=ok empty 401 429"`
}

type TransactionHandler struct {
	reader    TransactionReader
	ingestors IngestorFactory
	validator *services.RequestValidator
	log       zerolog.Logger
}

// NewTransactionHandler wires the read and ingest endpoints. reader may be nil
// when no database is configured.
func NewTransactionHandler(reader TransactionReader, ingestors IngestorFactory, log zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{
		reader:    reader,
		ingestors: ingestors,
		validator: services.NewRequestValidator(),
		log:       log,
	}
}

// ListTransactions returns stored rows for ?ids=a,b,c
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		services.WriteError(w, http.StatusServiceUnavailable, "Transaction store not configured", nil)
		return
	}

	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		services.WriteError(w, http.StatusBadRequest, "Query parameter ids is required", nil)
		return
	}
	if len(ids) > maxLookupIDs {
		services.WriteError(w, http.StatusBadRequest, "Too many ids", nil)
		return
	}

	rows, err := h.reader.FetchByIDs(r.Context(), ids)
	if err != nil {
		h.log.Error().Err(err).Int("ids", len(ids)).Msg("transaction lookup failed")
		services.WriteError(w, http.StatusInternalServerError, "Failed to load transactions", nil)
		return
	}

	services.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"count":        len(rows),
		"transactions": rows,
	})
}

// Ingest triggers one run and answers with its summary.
func (h *TransactionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		services.WriteError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.WriteError(w, http.StatusBadRequest, "Request body must only contain a single JSON object", nil)
		return
	}

	if err := h.validator.Check(&req); err != nil {
		services.WriteError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	ingestor, err := h.ingestors(req)
	if err != nil {
		services.WriteError(w, statusFor(err), err.Error(), nil)
		return
	}

	mode := "real"
	if req.Mock {
		mode = "mock"
	}
	userID, _ := middleware.UserIDFromContext(r.Context())

	summary, err := ingestor.Run(r.Context(), services.RunOptions{
		Mode:          mode,
		PostedAfter:   req.PostedAfter,
		MarketplaceID: req.MarketplaceID,
	})
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Str("mode", mode).Msg("ingestion run failed")
		services.WriteJSON(w, statusFor(err), map[string]any{
			"success": false,
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}

	h.log.Info().Str("user_id", userID).Str("run_id", summary.RunID).Int("written", summary.Written).Msg("ingestion run finished")
	services.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"summary": summary,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, spapi.ErrInvalidParameter),
		errors.Is(err, spapi.ErrUnknownScenario):
		return http.StatusBadRequest
	case errors.Is(err, spapi.ErrMissingCredentials):
		return http.StatusServiceUnavailable
	case errors.Is(err, spapi.ErrRetriesExhausted):
		return http.StatusGatewayTimeout
	case errors.Is(err, spapi.ErrUnauthorized),
		errors.Is(err, spapi.ErrTokenExchange):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	var se *spapi.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func splitIDs(raw string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Register mounts the endpoints under r. Ingest is wrapped with auth.
func (h *TransactionHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/transactions", h.ListTransactions)
	r.With(auth).Post("/ingest", h.Ingest)
}
