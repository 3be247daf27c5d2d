package services

import (
	"context"

	"github.com/ruralpay/ledger-ingest/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) ListTransactions(ctx context.Context, postedAfter, marketplaceID string) (*models.RawPayload, error) {
	args := m.Called(ctx, postedAfter, marketplaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RawPayload), args.Error(1)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Upsert(ctx context.Context, records []models.ValidatedRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) FetchByIDs(ctx context.Context, ids []string) ([]models.PersistedTransaction, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PersistedTransaction), args.Error(1)
}
