// Package vault implements the conserved-balance primitive holding escrowed
// and fee currency units, plus the linear Coin handle that moves value in
// and out of it.
//
// All values are unsigned integers in the currency's smallest denomination —
// never float64 for money. Every arithmetic operation is overflow-checked;
// overflow is rejected, never wrapped.
package vault

import (
	"errors"
	"math"
)

var (
	// ErrInsufficient is returned when a withdrawal or split asks for more
	// value than the balance holds.
	ErrInsufficient = errors.New("vault: insufficient balance")

	// ErrOverflow is returned when a deposit or merge would exceed the
	// uint64 value range.
	ErrOverflow = errors.New("vault: value overflow")

	// ErrInvalidPercent is returned when a percentage split is asked for
	// a value outside 0–100.
	ErrInvalidPercent = errors.New("vault: percentage must be 0-100")
)

// Coin is a linear handle on a quantity of currency units. A Coin obtained
// from a split or withdrawal must end up either merged into a Vault or
// handed to exactly one recipient — never dropped, never duplicated.
type Coin struct {
	value uint64
}

// NewCoin mints a coin carrying the given value. Minting is the host
// boundary; inside the engine coins only move between vaults and payouts.
func NewCoin(value uint64) Coin {
	return Coin{value: value}
}

// Value returns the number of currency units the coin carries.
func (c Coin) Value() uint64 {
	return c.value
}

// Split extracts `amount` units into a new coin, reducing the receiver.
// Fails with ErrInsufficient if the coin carries less than `amount`.
func (c *Coin) Split(amount uint64) (Coin, error) {
	if amount > c.value {
		return Coin{}, ErrInsufficient
	}
	c.value -= amount
	return Coin{value: amount}, nil
}

// Merge absorbs another coin into the receiver.
func (c *Coin) Merge(other Coin) error {
	if c.value > math.MaxUint64-other.value {
		return ErrOverflow
	}
	c.value += other.value
	return nil
}

// Vault is a conserved balance of a single currency. It has no business
// logic of its own — it is the arithmetic safety net preventing under- and
// overflow on escrowed value.
type Vault struct {
	value uint64
}

// New creates an empty vault.
func New() *Vault {
	return &Vault{}
}

// Value returns the current balance.
func (v *Vault) Value() uint64 {
	return v.value
}

// Deposit merges a coin into the vault, consuming it.
func (v *Vault) Deposit(c Coin) error {
	if v.value > math.MaxUint64-c.value {
		return ErrOverflow
	}
	v.value += c.value
	return nil
}

// WithdrawAll drains the vault to zero and returns the full balance.
func (v *Vault) WithdrawAll() Coin {
	c := Coin{value: v.value}
	v.value = 0
	return c
}

// Withdraw extracts exactly `value` units. The policy is strict: asking for
// more than the balance fails with ErrInsufficient rather than clamping, so
// a caller that mis-derived its entitlement is surfaced, not papered over.
func (v *Vault) Withdraw(value uint64) (Coin, error) {
	if value > v.value {
		return Coin{}, ErrInsufficient
	}
	v.value -= value
	return Coin{value: value}, nil
}

// SplitPercent extracts floor(balance * pct / 100) units.
func (v *Vault) SplitPercent(pct uint64) (Coin, error) {
	if pct > 100 {
		return Coin{}, ErrInvalidPercent
	}
	if pct != 0 && v.value > math.MaxUint64/pct {
		return Coin{}, ErrOverflow
	}
	amount := v.value * pct / 100
	v.value -= amount
	return Coin{value: amount}, nil
}
