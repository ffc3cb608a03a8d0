package models

import "errors"

// Ledger error taxonomy. Callers branch on these with errors.Is;
// only ErrVersionConflict is safe to retry.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrKycNotApproved      = errors.New("kyc not approved")
	ErrDuplicateReference  = errors.New("duplicate reference id")
	ErrVersionConflict     = errors.New("account version conflict")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrOverflow            = errors.New("amount overflow")
	ErrAlreadyFinalizing   = errors.New("transaction finalization in flight")
	ErrAlreadyFinalized    = errors.New("transaction already finalized")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)
