package engine

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the admin
	// capability or the creator/filler role the operation requires.
	ErrUnauthorized = errors.New("engine: unauthorized")

	// ErrInvalidPhase is returned when the market phase does not match
	// the operation's precondition.
	ErrInvalidPhase = errors.New("engine: invalid market phase")

	// ErrInvalidOfferState is returned when the offer status does not
	// match the operation's precondition.
	ErrInvalidOfferState = errors.New("engine: invalid offer state")

	// ErrInvalidAmount is returned for zero amounts, fills exceeding the
	// unfilled remainder, or aggregate underflow on cancel.
	ErrInvalidAmount = errors.New("engine: invalid amount")

	// ErrInvalidCollateral is returned when a collateral value (or the
	// pro-rata collateral of a partial fill) is below the floor.
	ErrInvalidCollateral = errors.New("engine: collateral below minimum")

	// ErrPaymentMismatch is returned when a payment does not exactly
	// equal the required collateral plus fee.
	ErrPaymentMismatch = errors.New("engine: payment mismatch")

	// ErrSettlementMismatch is returned when the delivered asset type,
	// decimals, or quantity does not match the recorded settlement terms.
	ErrSettlementMismatch = errors.New("engine: settlement mismatch")

	// ErrVectorLengthMismatch is returned when parallel recipient/value
	// arrays have inconsistent lengths or coverage.
	ErrVectorLengthMismatch = errors.New("engine: vector length mismatch")

	// ErrInvalidMarket is returned for malformed market parameters at
	// creation (bad symbol, fee percentage out of range, overlong name).
	ErrInvalidMarket = errors.New("engine: invalid market parameters")

	// ErrOverflow is returned when fee or delivery arithmetic would
	// exceed the uint64 range.
	ErrOverflow = errors.New("engine: value overflow")
)
