package models

import (
	"time"
)

// TransactionKind classifies a balance-affecting event. Amount always
// carries a non-negative magnitude; the kind implies the sign.
type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
	KindEntryFee    TransactionKind = "entry_fee"
	KindPrizePayout TransactionKind = "prize_payout"
	KindBonus       TransactionKind = "bonus"
	KindRefund      TransactionKind = "refund"
)

// Credit reports whether a completed transaction of this kind
// increases the available balance.
func (k TransactionKind) Credit() bool {
	switch k {
	case KindDeposit, KindPrizePayout, KindBonus, KindRefund:
		return true
	default:
		return false
	}
}

// Debit is the withdrawal-class complement of Credit.
func (k TransactionKind) Debit() bool {
	return k == KindWithdrawal || k == KindEntryFee
}

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindEntryFee, KindPrizePayout, KindBonus, KindRefund:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition encodes the transaction state machine: the only legal
// moves are pending to a terminal state, exactly once.
func CanTransition(from, to TransactionStatus) bool {
	return from == StatusPending && to.Terminal()
}

// Beneficiary is the payout destination captured when a withdrawal is
// requested. Only withdrawal records carry one.
type Beneficiary struct {
	AccountNumber string `json:"account_number" db:"beneficiary_account" validate:"required,numeric,min=9,max=18"`
	IFSC          string `json:"ifsc" db:"beneficiary_ifsc" validate:"required,alphanum,len=11"`
}

// TransactionRecord is the append-only audit record of one balance event.
// Once Status leaves pending every field except FailureReason is frozen;
// records are never deleted.
type TransactionRecord struct {
	ID            string            `json:"id" db:"id"`
	UserID        string            `json:"user_id" db:"user_id"`
	Kind          TransactionKind   `json:"kind" db:"kind"`
	Amount        Money             `json:"amount" db:"amount"`
	Status        TransactionStatus `json:"status" db:"status"`
	ReferenceID   string            `json:"reference_id,omitempty" db:"reference_id"`
	TournamentID  string            `json:"tournament_id,omitempty" db:"tournament_id"` // entry_fee / prize_payout only
	Beneficiary   *Beneficiary      `json:"beneficiary,omitempty"`                      // withdrawal only
	FailureReason string            `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	FinalizedAt   *time.Time        `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Finalizable reports whether the record may still move to a terminal state.
func (t *TransactionRecord) Finalizable() bool {
	return t.Status == StatusPending
}
