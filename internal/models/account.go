package models

import "time"

// AccountBalance is the single mutable row per user. Available and Locked
// never go negative; Version increments on every successful mutation and
// is the optimistic-concurrency token for Finalize.
type AccountBalance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Available Money     `json:"available" db:"available"`
	Locked    Money     `json:"locked" db:"locked"` // reserved for in-flight withdrawals
	Version   int       `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Total is the balance including withdrawal reservations.
func (a AccountBalance) Total() (Money, error) {
	return a.Available.Add(a.Locked)
}
