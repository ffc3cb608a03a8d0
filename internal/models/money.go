package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an exact amount in minor units (paise for INR).
// It never passes through floating point.
type Money struct {
	Amount   int64  `json:"amount" db:"amount"` // in minor units
	Currency string `json:"currency" db:"currency"`
}

func NewMoney(minor int64, currency string) Money {
	return Money{Amount: minor, Currency: strings.ToUpper(currency)}
}

// ParseMoney parses a decimal string like "1234.50" into minor units.
// At most two fraction digits are accepted; parsing is exact.
func ParseMoney(value, currency string) (Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Money{}, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}

	whole, frac := value, ""
	if i := strings.IndexByte(value, '.'); i >= 0 {
		whole, frac = value[:i], value[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return Money{}, fmt.Errorf("amount %q has more than two fraction digits", value)
	}
	// Right-pad to two digits so "5.1" means 510 minor units
	frac = frac + strings.Repeat("0", 2-len(frac))

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	var cents int64
	if frac != "00" {
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
		}
	}

	if units > (math.MaxInt64-cents)/100 {
		return Money{}, ErrOverflow
	}
	minor := units*100 + cents
	if negative {
		minor = -minor
	}
	return NewMoney(minor, currency), nil
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	sum := m.Amount + other.Amount
	if (other.Amount > 0 && sum < m.Amount) || (other.Amount < 0 && sum > m.Amount) {
		return Money{}, ErrOverflow
	}
	return Money{Amount: sum, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	if other.Amount == math.MinInt64 {
		return Money{}, ErrOverflow
	}
	return m.Add(Money{Amount: -other.Amount, Currency: other.Currency})
}

// Cmp returns -1, 0 or 1. Both amounts must share a currency;
// the caller is expected to have checked that already.
func (m Money) Cmp(other Money) int {
	switch {
	case m.Amount < other.Amount:
		return -1
	case m.Amount > other.Amount:
		return 1
	default:
		return 0
	}
}

func (m Money) IsNegative() bool { return m.Amount < 0 }

func (m Money) IsZero() bool { return m.Amount == 0 }

// String renders the amount for logs, e.g. "INR 1234.50".
func (m Money) String() string {
	minor := m.Amount
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", m.Currency, sign, minor/100, minor%100)
}
