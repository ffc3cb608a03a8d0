package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourneypay/backend/internal/models"
)

func newMockStore(t *testing.T) (*LedgerStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewLedgerStore(db), mock, func() { db.Close() }
}

func txRow(id, userID string, kind models.TransactionKind, amount int64, status models.TransactionStatus) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "kind", "amount", "currency", "status",
		"reference_id", "tournament_id", "beneficiary_account", "beneficiary_ifsc",
		"failure_reason", "created_at", "finalized_at",
	})
	rows.AddRow(id, userID, string(kind), amount, "INR", string(status),
		nil, nil, nil, nil, nil, time.Now().UTC(), nil)
	return rows
}

func lockedTxRow(id, userID string, kind models.TransactionKind, amount int64, status models.TransactionStatus) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "kind", "amount", "currency", "status",
		"reference_id", "tournament_id", "beneficiary_account", "beneficiary_ifsc", "created_at",
	})
	rows.AddRow(id, userID, string(kind), amount, "INR", string(status),
		nil, nil, nil, nil, time.Now().UTC())
	return rows
}

func accountRow(available, locked int64, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"available", "locked", "currency", "version"}).
		AddRow(available, locked, "INR", version)
}

func TestLedgerStore_CreatePending(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit opens a pending record", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("user1", "INR", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id FROM transactions").
			WithArgs("pg_123").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT currency FROM accounts").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("INR"))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "user1", "deposit", int64(50000), "INR", "pending",
				"pg_123", nil, nil, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		record, err := store.CreatePending(ctx, CreatePendingParams{
			UserID:      "user1",
			Kind:        models.KindDeposit,
			Amount:      models.NewMoney(50000, "INR"),
			ReferenceID: "pg_123",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, record.Status)
		assert.NotEmpty(t, record.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed reference id is rejected", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("user1", "INR", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id FROM transactions").
			WithArgs("pg_123").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-tx"))
		mock.ExpectRollback()

		_, err := store.CreatePending(ctx, CreatePendingParams{
			UserID:      "user1",
			Kind:        models.KindDeposit,
			Amount:      models.NewMoney(50000, "INR"),
			ReferenceID: "pg_123",
		})
		assert.ErrorIs(t, err, models.ErrDuplicateReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique index race maps to duplicate reference", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id FROM transactions").
			WithArgs("pg_123").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT currency FROM accounts").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("INR"))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := store.CreatePending(ctx, CreatePendingParams{
			UserID:      "user1",
			Kind:        models.KindDeposit,
			Amount:      models.NewMoney(50000, "INR"),
			ReferenceID: "pg_123",
		})
		assert.ErrorIs(t, err, models.ErrDuplicateReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal reserves available funds under a row lock", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		beneficiary := &models.Beneficiary{AccountNumber: "123456789012", IFSC: "HDFC0001234"}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(100000, 0, 3))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(50000), int64(50000), sqlmock.AnyArg(), "user1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "user1", "withdrawal", int64(50000), "INR", "pending",
				nil, nil, "123456789012", "HDFC0001234", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		record, err := store.CreatePending(ctx, CreatePendingParams{
			UserID:      "user1",
			Kind:        models.KindWithdrawal,
			Amount:      models.NewMoney(50000, "INR"),
			Beneficiary: beneficiary,
		})
		require.NoError(t, err)
		assert.Equal(t, models.KindWithdrawal, record.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal beyond the available balance fails", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(10000, 0, 3))
		mock.ExpectRollback()

		_, err := store.CreatePending(ctx, CreatePendingParams{
			UserID: "user1",
			Kind:   models.KindWithdrawal,
			Amount: models.NewMoney(50000, "INR"),
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deposit in a foreign currency is rejected before insert", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id FROM transactions").
			WithArgs("pg_usd").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT currency FROM accounts").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"currency"}).AddRow("INR"))
		mock.ExpectRollback()

		_, err := store.CreatePending(ctx, CreatePendingParams{
			UserID:      "user1",
			Kind:        models.KindDeposit,
			Amount:      models.NewMoney(50000, "USD"),
			ReferenceID: "pg_usd",
		})
		assert.ErrorIs(t, err, models.ErrCurrencyMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative amounts never reach the database", func(t *testing.T) {
		store, _, done := newMockStore(t)
		defer done()

		_, err := store.CreatePending(ctx, CreatePendingParams{
			UserID: "user1",
			Kind:   models.KindDeposit,
			Amount: models.NewMoney(-1, "INR"),
		})
		assert.Error(t, err)
	})
}

func TestLedgerStore_Finalize(t *testing.T) {
	ctx := context.Background()

	t.Run("completing a deposit credits available", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(lockedTxRow("tx1", "user1", models.KindDeposit, 50000, models.StatusPending))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(20000, 0, 4))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(70000), int64(0), sqlmock.AnyArg(), "user1", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions").
			WithArgs("completed", nil, sqlmock.AnyArg(), "tx1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		record, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 4, "")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, record.Status)
		assert.NotNil(t, record.FinalizedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version answers a conflict without writing", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(lockedTxRow("tx1", "user1", models.KindDeposit, 50000, models.StatusPending))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(20000, 0, 5))
		mock.ExpectRollback()

		_, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 4, "")
		assert.ErrorIs(t, err, models.ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already terminal records are frozen", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(lockedTxRow("tx1", "user1", models.KindDeposit, 50000, models.StatusCompleted))
		mock.ExpectRollback()

		_, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 4, "")
		assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a held row lock surfaces as already finalizing", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnError(&pq.Error{Code: "55P03"})
		mock.ExpectRollback()

		_, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 4, "")
		assert.ErrorIs(t, err, models.ErrAlreadyFinalizing)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entry fee over the available balance fails cleanly", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(lockedTxRow("tx1", "user1", models.KindEntryFee, 80000, models.StatusPending))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(70000, 0, 2))
		mock.ExpectRollback()

		_, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 2, "")
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed withdrawal returns the reservation to available", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(lockedTxRow("tx1", "user1", models.KindWithdrawal, 50000, models.StatusPending))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(20000, 50000, 6))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(70000), int64(0), sqlmock.AnyArg(), "user1", 6).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions").
			WithArgs("failed", "payout failed", sqlmock.AnyArg(), "tx1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		record, err := store.Finalize(ctx, "tx1", models.StatusFailed, 6, "payout failed")
		require.NoError(t, err)
		assert.Equal(t, "payout failed", record.FailureReason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed withdrawal removes only the locked funds", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(lockedTxRow("tx1", "user1", models.KindWithdrawal, 50000, models.StatusPending))
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(20000, 50000, 6))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(20000), int64(0), sqlmock.AnyArg(), "user1", 6).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions").
			WithArgs("completed", nil, sqlmock.AnyArg(), "tx1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 6, "")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mismatched currency blocks completion but not failure", func(t *testing.T) {
		usdDeposit := func() *sqlmock.Rows {
			return sqlmock.NewRows([]string{
				"id", "user_id", "kind", "amount", "currency", "status",
				"reference_id", "tournament_id", "beneficiary_account", "beneficiary_ifsc", "created_at",
			}).AddRow("tx1", "user1", "deposit", int64(50000), "USD", "pending",
				nil, nil, nil, nil, time.Now().UTC())
		}

		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(usdDeposit())
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(20000, 0, 4))
		mock.ExpectRollback()

		_, err := store.Finalize(ctx, "tx1", models.StatusCompleted, 4, "")
		assert.ErrorIs(t, err, models.ErrCurrencyMismatch)

		// The same record must still be able to reach failed, or it would
		// stay pending forever and hold its reference id.
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("tx1").
			WillReturnRows(usdDeposit())
		mock.ExpectQuery("SELECT available, locked, currency, version FROM accounts").
			WithArgs("user1").
			WillReturnRows(accountRow(20000, 0, 4))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(20000), int64(0), sqlmock.AnyArg(), "user1", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE transactions").
			WithArgs("failed", "currency mismatch", sqlmock.AnyArg(), "tx1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		record, err := store.Finalize(ctx, "tx1", models.StatusFailed, 4, "currency mismatch")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, record.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-terminal target is rejected up front", func(t *testing.T) {
		store, _, done := newMockStore(t)
		defer done()

		_, err := store.Finalize(ctx, "tx1", models.StatusPending, 1, "")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("failed target requires a reason", func(t *testing.T) {
		store, _, done := newMockStore(t)
		defer done()

		_, err := store.Finalize(ctx, "tx1", models.StatusFailed, 1, "")
		assert.Error(t, err)
	})

	t.Run("unknown transaction id", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE NOWAIT").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.Finalize(ctx, "missing", models.StatusCompleted, 1, "")
		assert.ErrorIs(t, err, models.ErrTransactionNotFound)
	})
}

func TestLedgerStore_GetBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("existing account", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		rows := sqlmock.NewRows([]string{"user_id", "available", "locked", "currency", "version", "updated_at"}).
			AddRow("user1", int64(70000), int64(50000), "INR", 6, time.Now().UTC())
		mock.ExpectQuery("SELECT user_id, available, locked, currency, version, updated_at").
			WithArgs("user1").
			WillReturnRows(rows)

		balance, err := store.GetBalance(ctx, "user1")
		require.NoError(t, err)
		assert.Equal(t, int64(70000), balance.Available.Amount)
		assert.Equal(t, int64(50000), balance.Locked.Amount)
		total, err := balance.Total()
		require.NoError(t, err)
		assert.Equal(t, int64(120000), total.Amount)
		assert.Equal(t, 6, balance.Version)
	})

	t.Run("unknown user", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectQuery("SELECT user_id, available, locked, currency, version, updated_at").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetBalance(ctx, "ghost")
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
	})
}

func TestLedgerStore_FindByReference(t *testing.T) {
	ctx := context.Background()

	t.Run("live record found", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectQuery("WHERE reference_id =").
			WithArgs("pg_123").
			WillReturnRows(txRow("tx1", "user1", models.KindDeposit, 50000, models.StatusCompleted))

		record, err := store.FindByReference(ctx, "pg_123")
		require.NoError(t, err)
		assert.Equal(t, "tx1", record.ID)
	})

	t.Run("no live record", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectQuery("WHERE reference_id =").
			WithArgs("pg_999").
			WillReturnError(sql.ErrNoRows)

		_, err := store.FindByReference(ctx, "pg_999")
		assert.ErrorIs(t, err, models.ErrTransactionNotFound)
	})
}

func TestLedgerStore_ListTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("filters and default limit", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectQuery("FROM transactions WHERE user_id =").
			WithArgs("user1", "deposit", "completed", 50).
			WillReturnRows(txRow("tx1", "user1", models.KindDeposit, 50000, models.StatusCompleted))

		records, err := store.ListTransactions(ctx, "user1", TransactionFilter{
			Kind:   models.KindDeposit,
			Status: models.StatusCompleted,
		})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.KindDeposit, records[0].Kind)
	})

	t.Run("oversized limit is capped", func(t *testing.T) {
		store, mock, done := newMockStore(t)
		defer done()

		mock.ExpectQuery("FROM transactions WHERE user_id =").
			WithArgs("user1", 100, 20).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.ListTransactions(ctx, "user1", TransactionFilter{Limit: 5000, Offset: 20})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
