package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tourneypay/backend/internal/models"
	"github.com/tourneypay/backend/internal/store"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreatePending(ctx context.Context, p store.CreatePendingParams) (*models.TransactionRecord, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockLedger) Finalize(ctx context.Context, txID string, target models.TransactionStatus, expectedVersion int, failureReason string) (*models.TransactionRecord, error) {
	args := m.Called(ctx, txID, target, expectedVersion, failureReason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockLedger) Cancel(ctx context.Context, txID string, expectedVersion int) (*models.TransactionRecord, error) {
	args := m.Called(ctx, txID, expectedVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockLedger) GetBalance(ctx context.Context, userID string) (*models.AccountBalance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccountBalance), args.Error(1)
}

func (m *MockLedger) GetTransaction(ctx context.Context, txID string) (*models.TransactionRecord, error) {
	args := m.Called(ctx, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockLedger) FindByReference(ctx context.Context, referenceID string) (*models.TransactionRecord, error) {
	args := m.Called(ctx, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionRecord), args.Error(1)
}

func (m *MockLedger) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]*models.TransactionRecord, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TransactionRecord), args.Error(1)
}

type MockKycProvider struct {
	mock.Mock
}

func (m *MockKycProvider) Status(ctx context.Context, userID string) (KycStatus, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(KycStatus), args.Error(1)
}
