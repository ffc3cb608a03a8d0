package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tourneypay/backend/internal/config"
	"github.com/tourneypay/backend/internal/models"
	"github.com/tourneypay/backend/internal/store"
)

// Ledger is the durable-store contract the wallet operations run on.
// *store.LedgerStore implements it; tests substitute a mock.
type Ledger interface {
	CreatePending(ctx context.Context, p store.CreatePendingParams) (*models.TransactionRecord, error)
	Finalize(ctx context.Context, txID string, target models.TransactionStatus, expectedVersion int, failureReason string) (*models.TransactionRecord, error)
	Cancel(ctx context.Context, txID string, expectedVersion int) (*models.TransactionRecord, error)
	GetBalance(ctx context.Context, userID string) (*models.AccountBalance, error)
	GetTransaction(ctx context.Context, txID string) (*models.TransactionRecord, error)
	FindByReference(ctx context.Context, referenceID string) (*models.TransactionRecord, error)
	ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]*models.TransactionRecord, error)
}

// WalletService exposes the caller-facing ledger verbs. Every verb either
// returns a finalized record (pending, for withdrawals awaiting payout) or
// an error with no partial balance change observable.
type WalletService struct {
	ledger    Ledger
	kyc       KycProvider
	cfg       *config.LedgerConfig
	validator *ValidationHelper
}

func NewWalletService(ledger Ledger, kyc KycProvider, cfg *config.LedgerConfig) *WalletService {
	return &WalletService{
		ledger:    ledger,
		kyc:       kyc,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// Deposit records a gateway-confirmed deposit. Replaying the same
// referenceID returns the already-completed record without a second credit;
// a replay that finds the record still pending resumes the credit.
func (ws *WalletService) Deposit(ctx context.Context, userID string, amount models.Money, referenceID string) (*models.TransactionRecord, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("deposit requires a reference id")
	}

	record, done, err := ws.pendingForReference(ctx, userID, referenceID, func() (*models.TransactionRecord, error) {
		return ws.ledger.CreatePending(ctx, store.CreatePendingParams{
			UserID:      userID,
			Kind:        models.KindDeposit,
			Amount:      amount,
			ReferenceID: referenceID,
		})
	})
	if err != nil {
		return nil, err
	}
	if done {
		return record, nil
	}

	finalized, err := ws.finalizeWithRetry(ctx, record, models.StatusCompleted, "")
	if err != nil {
		return nil, err
	}

	ws.maybeAwardBonus(ctx, userID, finalized)
	return finalized, nil
}

// FailDeposit marks a still-pending deposit as failed, used when the
// gateway reports the payment did not land.
func (ws *WalletService) FailDeposit(ctx context.Context, referenceID, reason string) (*models.TransactionRecord, error) {
	record, err := ws.ledger.FindByReference(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if record.Kind != models.KindDeposit {
		return nil, fmt.Errorf("reference %s is a %s, not a deposit", referenceID, record.Kind)
	}
	if record.Status.Terminal() {
		return nil, models.ErrAlreadyFinalized
	}
	if reason == "" {
		reason = "payment gateway reported failure"
	}
	return ws.finalizeWithRetry(ctx, record, models.StatusFailed, reason)
}

// RequestWithdrawal gates on KYC, then reserves the amount from the
// available balance. The returned record stays pending until
// SettleWithdrawal reports the payout outcome.
func (ws *WalletService) RequestWithdrawal(ctx context.Context, userID string, amount models.Money, beneficiary models.Beneficiary) (*models.TransactionRecord, error) {
	status, err := ws.kyc.Status(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("kyc lookup: %w", err)
	}
	if status != KycApproved {
		return nil, fmt.Errorf("%w: status %s", models.ErrKycNotApproved, status)
	}

	record, err := ws.ledger.CreatePending(ctx, store.CreatePendingParams{
		UserID:      userID,
		Kind:        models.KindWithdrawal,
		Amount:      amount,
		Beneficiary: &beneficiary,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[LEDGER] withdrawal %s requested user=%s amount=%s (funds locked)", record.ID, userID, amount)
	return record, nil
}

// SettleWithdrawal finalizes a pending withdrawal: completed removes the
// locked funds for good, failed or cancelled returns them to available.
func (ws *WalletService) SettleWithdrawal(ctx context.Context, txID string, outcome models.TransactionStatus, reason string) (*models.TransactionRecord, error) {
	if !outcome.Terminal() {
		return nil, fmt.Errorf("%w: settle outcome must be terminal, got %s", models.ErrInvalidTransition, outcome)
	}
	record, err := ws.ledger.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if record.Kind != models.KindWithdrawal {
		return nil, fmt.Errorf("transaction %s is a %s, not a withdrawal", txID, record.Kind)
	}
	if outcome == models.StatusFailed && reason == "" {
		reason = "payout failed"
	}
	return ws.finalizeWithRetry(ctx, record, outcome, reason)
}

// ChargeEntryFee debits a tournament entry fee. The reference id is derived
// from the tournament and user so registration retries cannot double-charge,
// and the version check in Finalize keeps concurrent charges from
// overdrawing the account.
func (ws *WalletService) ChargeEntryFee(ctx context.Context, userID, tournamentID string, amount models.Money) (*models.TransactionRecord, error) {
	referenceID := fmt.Sprintf("entry:%s:%s", tournamentID, userID)
	record, done, err := ws.pendingForReference(ctx, userID, referenceID, func() (*models.TransactionRecord, error) {
		return ws.ledger.CreatePending(ctx, store.CreatePendingParams{
			UserID:       userID,
			Kind:         models.KindEntryFee,
			Amount:       amount,
			ReferenceID:  referenceID,
			TournamentID: tournamentID,
		})
	})
	if err != nil {
		return nil, err
	}
	if done {
		return record, nil
	}

	finalized, err := ws.finalizeWithRetry(ctx, record, models.StatusCompleted, "")
	if errors.Is(err, models.ErrInsufficientFunds) {
		// The record must still reach a terminal state explaining the miss.
		if _, failErr := ws.finalizeWithRetry(ctx, record, models.StatusFailed, "insufficient funds"); failErr != nil {
			log.Printf("[LEDGER] failed to mark entry fee %s as failed: %v", record.ID, failErr)
		}
		return nil, models.ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}
	return finalized, nil
}

// CreditPrizePayout credits tournament winnings. Settlement jobs replay, so
// the caller-supplied referenceID makes the credit exactly-once.
func (ws *WalletService) CreditPrizePayout(ctx context.Context, userID, tournamentID string, amount models.Money, referenceID string) (*models.TransactionRecord, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("prize payout requires a reference id")
	}

	record, done, err := ws.pendingForReference(ctx, userID, referenceID, func() (*models.TransactionRecord, error) {
		return ws.ledger.CreatePending(ctx, store.CreatePendingParams{
			UserID:       userID,
			Kind:         models.KindPrizePayout,
			Amount:       amount,
			ReferenceID:  referenceID,
			TournamentID: tournamentID,
		})
	})
	if err != nil {
		return nil, err
	}
	if done {
		return record, nil
	}
	return ws.finalizeWithRetry(ctx, record, models.StatusCompleted, "")
}

// Refund credits back a completed debit-class transaction exactly once.
func (ws *WalletService) Refund(ctx context.Context, originalTxID, reason string) (*models.TransactionRecord, error) {
	original, err := ws.ledger.GetTransaction(ctx, originalTxID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.StatusCompleted || !original.Kind.Debit() {
		return nil, fmt.Errorf("transaction %s (%s, %s) is not refundable", originalTxID, original.Kind, original.Status)
	}

	referenceID := "refund:" + originalTxID
	record, done, err := ws.pendingForReference(ctx, original.UserID, referenceID, func() (*models.TransactionRecord, error) {
		return ws.ledger.CreatePending(ctx, store.CreatePendingParams{
			UserID:       original.UserID,
			Kind:         models.KindRefund,
			Amount:       original.Amount,
			ReferenceID:  referenceID,
			TournamentID: original.TournamentID,
		})
	})
	if err != nil {
		return nil, err
	}
	if done {
		return record, nil
	}

	finalized, err := ws.finalizeWithRetry(ctx, record, models.StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	log.Printf("[LEDGER] refunded %s (%s) for user=%s: %s", originalTxID, reason, original.UserID, original.Amount)
	return finalized, nil
}

// CancelTransaction cancels a pending record before any finalize has been
// attempted, e.g. a user abandoning a deposit before paying.
func (ws *WalletService) CancelTransaction(ctx context.Context, txID string) (*models.TransactionRecord, error) {
	record, err := ws.ledger.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < ws.cfg.MaxRetries; attempt++ {
		balance, err := ws.ledger.GetBalance(ctx, record.UserID)
		if err != nil {
			return nil, err
		}
		cancelled, err := ws.ledger.Cancel(ctx, txID, balance.Version)
		if errors.Is(err, models.ErrVersionConflict) {
			continue
		}
		return cancelled, err
	}
	return nil, fmt.Errorf("cancel %s: %w after %d attempts", txID, models.ErrVersionConflict, ws.cfg.MaxRetries)
}

// GetBalance is the read API behind the wallet UI, never a source of truth
// for the UI's optimistic display.
func (ws *WalletService) GetBalance(ctx context.Context, userID string) (*models.AccountBalance, error) {
	return ws.ledger.GetBalance(ctx, userID)
}

func (ws *WalletService) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]*models.TransactionRecord, error) {
	return ws.ledger.ListTransactions(ctx, userID, filter)
}

func (ws *WalletService) GetTransaction(ctx context.Context, txID string) (*models.TransactionRecord, error) {
	return ws.ledger.GetTransaction(ctx, txID)
}

// finalizeWithRetry is the only place VersionConflict is retried: bounded
// attempts, re-reading the account version between each.
func (ws *WalletService) finalizeWithRetry(ctx context.Context, record *models.TransactionRecord, target models.TransactionStatus, reason string) (*models.TransactionRecord, error) {
	retries := ws.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		balance, err := ws.ledger.GetBalance(ctx, record.UserID)
		if err != nil {
			return nil, err
		}
		finalized, err := ws.ledger.Finalize(ctx, record.ID, target, balance.Version, reason)
		if errors.Is(err, models.ErrVersionConflict) {
			log.Printf("[LEDGER] version conflict finalizing %s (attempt %d)", record.ID, attempt+1)
			continue
		}
		return finalized, err
	}
	return nil, fmt.Errorf("finalize %s: %w after %d attempts", record.ID, models.ErrVersionConflict, retries)
}

// pendingForReference resolves an idempotency key to the record that should
// be finalized. A replayed terminal record comes back with done=true; a
// replayed pending record means the first attempt died before finalizing,
// so the caller must resume it rather than acknowledge it as settled.
// Otherwise create runs, with the duplicate-key race folded back into the
// replay path.
func (ws *WalletService) pendingForReference(ctx context.Context, userID, referenceID string, create func() (*models.TransactionRecord, error)) (*models.TransactionRecord, bool, error) {
	existing, err := ws.replayedRecord(ctx, userID, referenceID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		record, err := create()
		if errors.Is(err, models.ErrDuplicateReference) {
			existing, rerr := ws.replayedRecord(ctx, userID, referenceID)
			if rerr != nil || existing == nil {
				return nil, false, err
			}
			if existing.Finalizable() {
				return existing, false, nil
			}
			return existing, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		return record, false, nil
	}
	if existing.Finalizable() {
		log.Printf("[LEDGER] resuming pending tx %s for replayed reference %s", existing.ID, referenceID)
		return existing, false, nil
	}
	return existing, true, nil
}

// replayedRecord resolves an idempotency key to its existing live record.
// A key already used by another user is a hard error, not a replay.
func (ws *WalletService) replayedRecord(ctx context.Context, userID, referenceID string) (*models.TransactionRecord, error) {
	existing, err := ws.ledger.FindByReference(ctx, referenceID)
	if errors.Is(err, models.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("%w: reference %s belongs to another account", models.ErrDuplicateReference, referenceID)
	}
	log.Printf("[LEDGER] replayed reference %s: returning existing tx %s (%s)", referenceID, existing.ID, existing.Status)
	return existing, nil
}

// maybeAwardBonus applies the first-deposit bonus rule: a flat configured
// bonus on the account's first completed deposit at or above the minimum.
// Disabled when the configured bonus is zero. Bonus failures never fail the
// deposit that triggered them.
func (ws *WalletService) maybeAwardBonus(ctx context.Context, userID string, deposit *models.TransactionRecord) {
	if ws.cfg.FirstDepositBonus <= 0 {
		return
	}
	if deposit.Amount.Amount < ws.cfg.MinBonusDeposit {
		return
	}

	completed, err := ws.ledger.ListTransactions(ctx, userID, store.TransactionFilter{
		Kind:   models.KindDeposit,
		Status: models.StatusCompleted,
		Limit:  2,
	})
	if err != nil {
		log.Printf("[LEDGER] bonus eligibility check failed for user=%s: %v", userID, err)
		return
	}
	if len(completed) != 1 {
		return
	}

	// Keyed per account, not per deposit: two racing first deposits both
	// pass the eligibility read, and the reference index breaks the tie.
	bonus := models.NewMoney(ws.cfg.FirstDepositBonus, deposit.Amount.Currency)
	record, err := ws.ledger.CreatePending(ctx, store.CreatePendingParams{
		UserID:      userID,
		Kind:        models.KindBonus,
		Amount:      bonus,
		ReferenceID: "bonus:" + userID,
	})
	if errors.Is(err, models.ErrDuplicateReference) {
		return
	}
	if err != nil {
		log.Printf("[LEDGER] bonus create failed for user=%s: %v", userID, err)
		return
	}
	if _, err := ws.finalizeWithRetry(ctx, record, models.StatusCompleted, ""); err != nil {
		log.Printf("[LEDGER] bonus finalize failed for user=%s: %v", userID, err)
	}
}
