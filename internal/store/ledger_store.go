package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tourneypay/backend/internal/models"
)

const (
	pqUniqueViolation  = "23505"
	pqLockNotAvailable = "55P03"
)

// LedgerStore is the durable home for account balances and transaction
// records. Every balance mutation goes through Finalize (or the withdrawal
// reservation inside CreatePending); both carry a version compare-and-swap,
// so concurrent writers on one account serialize without held locks.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// CreatePendingParams describes a transaction to open in pending state.
type CreatePendingParams struct {
	UserID       string
	Kind         models.TransactionKind
	Amount       models.Money
	ReferenceID  string
	TournamentID string
	Beneficiary  *models.Beneficiary
}

// CreatePending inserts a pending transaction record. For withdrawals it
// also moves the amount from available to locked in the same database
// transaction, so two concurrent withdrawal requests can never reserve
// the same funds. Replayed reference ids fail with ErrDuplicateReference.
func (s *LedgerStore) CreatePending(ctx context.Context, p CreatePendingParams) (*models.TransactionRecord, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("unknown transaction kind %q", p.Kind)
	}
	if p.Amount.IsNegative() {
		return nil, fmt.Errorf("amount must be a non-negative magnitude, got %s", p.Amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Accounts are created lazily on first transaction.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, available, locked, currency, version, updated_at)
		VALUES ($1, 0, 0, $2, 1, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Amount.Currency, now); err != nil {
		return nil, err
	}

	if p.ReferenceID != "" {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM transactions
			WHERE reference_id = $1 AND status NOT IN ('failed', 'cancelled')
			LIMIT 1`, p.ReferenceID).Scan(&existingID)
		if err == nil {
			return nil, models.ErrDuplicateReference
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	if p.Kind == models.KindWithdrawal {
		if err := s.reserveFunds(ctx, tx, p.UserID, p.Amount, now); err != nil {
			return nil, err
		}
	} else {
		// reserveFunds checks currency for withdrawals; everything else
		// must match the account here, or the record could never complete.
		var currency string
		if err := tx.QueryRowContext(ctx, `
			SELECT currency FROM accounts WHERE user_id = $1`, p.UserID).Scan(&currency); err != nil {
			return nil, err
		}
		if currency != p.Amount.Currency {
			return nil, models.ErrCurrencyMismatch
		}
	}

	record := &models.TransactionRecord{
		ID:           uuid.New().String(),
		UserID:       p.UserID,
		Kind:         p.Kind,
		Amount:       p.Amount,
		Status:       models.StatusPending,
		ReferenceID:  p.ReferenceID,
		TournamentID: p.TournamentID,
		Beneficiary:  p.Beneficiary,
		CreatedAt:    now,
	}

	var benAccount, benIFSC sql.NullString
	if p.Beneficiary != nil {
		benAccount = sql.NullString{String: p.Beneficiary.AccountNumber, Valid: true}
		benIFSC = sql.NullString{String: p.Beneficiary.IFSC, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, kind, amount, currency, status, reference_id, tournament_id, beneficiary_account, beneficiary_ifsc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.UserID, record.Kind, record.Amount.Amount, record.Amount.Currency,
		record.Status, nullString(record.ReferenceID), nullString(record.TournamentID),
		benAccount, benIFSC, record.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, models.ErrDuplicateReference
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

// reserveFunds moves amount from available to locked under a row lock and
// a version bump, failing with ErrInsufficientFunds when the available
// balance cannot cover it.
func (s *LedgerStore) reserveFunds(ctx context.Context, tx *sql.Tx, userID string, amount models.Money, now time.Time) error {
	var available, locked int64
	var currency string
	var version int
	err := tx.QueryRowContext(ctx, `
		SELECT available, locked, currency, version FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&available, &locked, &currency, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if currency != amount.Currency {
		return models.ErrCurrencyMismatch
	}
	if available < amount.Amount {
		return models.ErrInsufficientFunds
	}
	return s.writeBalance(ctx, tx, userID, available-amount.Amount, locked+amount.Amount, version, now)
}

// Finalize moves a pending transaction to a terminal state and applies the
// matching balance delta as a single atomic unit. It is the only
// serialization point: the account update is a compare-and-swap on
// expectedVersion, and a losing caller gets ErrVersionConflict and must
// re-read the balance before retrying.
func (s *LedgerStore) Finalize(ctx context.Context, txID string, target models.TransactionStatus, expectedVersion int, failureReason string) (*models.TransactionRecord, error) {
	if !target.Terminal() {
		return nil, fmt.Errorf("%w: %s is not a terminal status", models.ErrInvalidTransition, target)
	}
	if target == models.StatusFailed && failureReason == "" {
		return nil, fmt.Errorf("failure reason required for failed transactions")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// NOWAIT so a concurrent finalize on the same record surfaces as
	// ErrAlreadyFinalizing instead of blocking.
	record := &models.TransactionRecord{}
	var currency string
	var refID, tournamentID, benAccount, benIFSC sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount, currency, status, reference_id, tournament_id, beneficiary_account, beneficiary_ifsc, created_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE NOWAIT`, txID).Scan(
		&record.ID, &record.UserID, &record.Kind, &record.Amount.Amount, &currency,
		&record.Status, &refID, &tournamentID, &benAccount, &benIFSC, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
			return nil, models.ErrAlreadyFinalizing
		}
		return nil, err
	}
	record.Amount.Currency = currency
	record.ReferenceID = refID.String
	record.TournamentID = tournamentID.String
	if benAccount.Valid {
		record.Beneficiary = &models.Beneficiary{AccountNumber: benAccount.String, IFSC: benIFSC.String}
	}

	if record.Status.Terminal() {
		return nil, models.ErrAlreadyFinalized
	}
	if !models.CanTransition(record.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, record.Status, target)
	}

	var available, locked int64
	var acctCurrency string
	var version int
	err = tx.QueryRowContext(ctx, `
		SELECT available, locked, currency, version FROM accounts
		WHERE user_id = $1`, record.UserID).Scan(&available, &locked, &acctCurrency, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if version != expectedVersion {
		return nil, models.ErrVersionConflict
	}
	// failed and cancelled apply no credit delta, so a mismatched record
	// can still be failed (how the sweep retires one, should it exist).
	if target == models.StatusCompleted && acctCurrency != record.Amount.Currency {
		return nil, models.ErrCurrencyMismatch
	}

	newAvailable, newLocked, err := applyDelta(record.Kind, target, record.Amount.Amount, available, locked)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.writeBalance(ctx, tx, record.UserID, newAvailable, newLocked, expectedVersion, now); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, failure_reason = $2, finalized_at = $3
		WHERE id = $4 AND status = 'pending'`,
		target, nullString(failureReason), now, record.ID)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, models.ErrAlreadyFinalized
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	record.Status = target
	record.FailureReason = failureReason
	record.FinalizedAt = &now
	log.Printf("[LEDGER] finalized tx %s user=%s kind=%s status=%s amount=%s version=%d",
		record.ID, record.UserID, record.Kind, record.Status, record.Amount, expectedVersion+1)
	return record, nil
}

// Cancel moves a still-pending transaction to cancelled. A record whose
// finalize is in flight answers ErrAlreadyFinalizing, one already terminal
// answers ErrAlreadyFinalized.
func (s *LedgerStore) Cancel(ctx context.Context, txID string, expectedVersion int) (*models.TransactionRecord, error) {
	return s.Finalize(ctx, txID, models.StatusCancelled, expectedVersion, "")
}

// applyDelta computes the new balance pair for finalizing a transaction of
// the given kind. Withdrawal funds were reserved at creation, so their
// terminal states only touch the locked column.
func applyDelta(kind models.TransactionKind, target models.TransactionStatus, amount, available, locked int64) (int64, int64, error) {
	if target != models.StatusCompleted {
		// failed / cancelled: release the withdrawal reservation, nothing else
		if kind == models.KindWithdrawal {
			if locked < amount {
				return 0, 0, fmt.Errorf("locked balance %d below reservation %d", locked, amount)
			}
			return available + amount, locked - amount, nil
		}
		return available, locked, nil
	}

	switch {
	case kind.Credit():
		sum := available + amount
		if sum < available {
			return 0, 0, models.ErrOverflow
		}
		return sum, locked, nil
	case kind == models.KindEntryFee:
		if available < amount {
			return 0, 0, models.ErrInsufficientFunds
		}
		return available - amount, locked, nil
	case kind == models.KindWithdrawal:
		if locked < amount {
			return 0, 0, fmt.Errorf("locked balance %d below reservation %d", locked, amount)
		}
		return available, locked - amount, nil
	default:
		return 0, 0, fmt.Errorf("unknown transaction kind %q", kind)
	}
}

func (s *LedgerStore) writeBalance(ctx context.Context, tx *sql.Tx, userID string, available, locked int64, version int, now time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET available = $1, locked = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4 AND version = $5`,
		available, locked, now, userID, version)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// GetBalance returns the account row for a user, ErrAccountNotFound when
// the user has no transaction history at all.
func (s *LedgerStore) GetBalance(ctx context.Context, userID string) (*models.AccountBalance, error) {
	var b models.AccountBalance
	var available, locked int64
	var currency string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, available, locked, currency, version, updated_at
		FROM accounts WHERE user_id = $1`, userID).Scan(
		&b.UserID, &available, &locked, &currency, &b.Version, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Available = models.NewMoney(available, currency)
	b.Locked = models.NewMoney(locked, currency)
	return &b, nil
}

const transactionColumns = `id, user_id, kind, amount, currency, status, reference_id, tournament_id, beneficiary_account, beneficiary_ifsc, failure_reason, created_at, finalized_at`

func (s *LedgerStore) GetTransaction(ctx context.Context, txID string) (*models.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, txID)
	record, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	return record, err
}

// FindByReference returns the live (non-failed, non-cancelled) record for
// an idempotency key, if any.
func (s *LedgerStore) FindByReference(ctx context.Context, referenceID string) (*models.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE reference_id = $1 AND status NOT IN ('failed', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1`, referenceID)
	record, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	return record, err
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	Kind   models.TransactionKind
	Status models.TransactionStatus
	Limit  int
	Offset int
}

// ListTransactions returns a user's history, newest first.
func (s *LedgerStore) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]*models.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []interface{}{userID}

	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TransactionRecord
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// StalePending lists pending transactions created before the cutoff, the
// feed for the reconciliation sweep.
func (s *LedgerStore) StalePending(ctx context.Context, cutoff time.Time) ([]*models.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TransactionRecord
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CompletedWithdrawalsSince feeds the settlement export.
func (s *LedgerStore) CompletedWithdrawalsSince(ctx context.Context, since time.Time) ([]*models.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE kind = 'withdrawal' AND status = 'completed' AND finalized_at >= $1
		ORDER BY finalized_at ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TransactionRecord
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.TransactionRecord, error) {
	record := &models.TransactionRecord{}
	var currency string
	var refID, tournamentID, benAccount, benIFSC, failureReason sql.NullString
	var finalizedAt sql.NullTime
	err := row.Scan(
		&record.ID, &record.UserID, &record.Kind, &record.Amount.Amount, &currency,
		&record.Status, &refID, &tournamentID, &benAccount, &benIFSC,
		&failureReason, &record.CreatedAt, &finalizedAt)
	if err != nil {
		return nil, err
	}
	record.Amount.Currency = currency
	record.ReferenceID = refID.String
	record.TournamentID = tournamentID.String
	record.FailureReason = failureReason.String
	if benAccount.Valid {
		record.Beneficiary = &models.Beneficiary{AccountNumber: benAccount.String, IFSC: benIFSC.String}
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		record.FinalizedAt = &t
	}
	return record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
