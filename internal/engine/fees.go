package engine

import (
	"math"
	"time"
)

// MinCollateralValue is the floor on collateral, one nominal token in
// 6-decimal minor units. Offers (and the pro-rata collateral of partial
// fills) below this floor are rejected as dust.
const MinCollateralValue uint64 = 1_000_000

// SettlementWindow is the fixed length of the settlement phase.
const SettlementWindow = 24 * time.Hour

// FeeValue computes the market fee on a collateral value:
// floor(value * pct / 100). Overflow is rejected, not wrapped.
func FeeValue(value, pct uint64) (uint64, error) {
	if pct > 100 {
		return 0, ErrInvalidMarket
	}
	if pct != 0 && value > math.MaxUint64/pct {
		return 0, ErrOverflow
	}
	return value * pct / 100, nil
}

// ProRataCollateral computes the collateral share of `part` units out of an
// offer for `amount` units: floor(collateral / amount) * part. All fill and
// refund accounting uses this one formula so repeated partial operations
// reconcile to the unit against the vault's actual holdings.
func ProRataCollateral(collateral, amount, part uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	unit := collateral / amount
	if unit != 0 && part > math.MaxUint64/unit {
		return 0, ErrOverflow
	}
	return unit * part, nil
}

// DeliveryValue computes the settlement-asset quantity owed for `amount`
// units at the recorded decimal precision: amount * 10^decimals.
func DeliveryValue(amount uint64, decimals uint32) (uint64, error) {
	scale := uint64(1)
	for i := uint32(0); i < decimals; i++ {
		if scale > math.MaxUint64/10 {
			return 0, ErrOverflow
		}
		scale *= 10
	}
	if scale != 0 && amount > math.MaxUint64/scale {
		return 0, ErrOverflow
	}
	return amount * scale, nil
}

// addU64 is checked addition for aggregate counters.
func addU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// subU64 is checked subtraction for aggregate counters; underflow signals
// a caller bug, not a recoverable condition.
func subU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrInvalidAmount
	}
	return a - b, nil
}
