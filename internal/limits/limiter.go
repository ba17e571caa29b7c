// Package limits enforces optional per-address exposure caps in front of
// the escrow engine: how many offers an address may hold open at once, and
// how much collateral it may have escrowed in total.
//
// Values are integer minor units matching the engine. A zero limit means
// unlimited; both limits default to disabled.
package limits

import (
	"errors"
	"math"
)

var (
	// ErrOpenOffersExceeded is returned when a create would push an
	// address past its open-offer cap.
	ErrOpenOffersExceeded = errors.New("limits: open offer limit exceeded")

	// ErrEscrowExceeded is returned when a create or fill would push an
	// address's total escrowed collateral past its cap.
	ErrEscrowExceeded = errors.New("limits: escrowed collateral limit exceeded")
)

// ExposureLimiter enforces per-address exposure limits.
type ExposureLimiter struct {
	// MaxOpenOffers is the maximum number of non-terminal offers one
	// address may have touched. Zero disables the check.
	MaxOpenOffers int

	// MaxEscrowed is the maximum total collateral one address may have
	// escrowed across open offers. Zero disables the check.
	MaxEscrowed uint64
}

// NewExposureLimiter creates a limiter with the given caps.
func NewExposureLimiter(maxOpenOffers int, maxEscrowed uint64) *ExposureLimiter {
	return &ExposureLimiter{
		MaxOpenOffers: maxOpenOffers,
		MaxEscrowed:   maxEscrowed,
	}
}

// CheckCreate validates opening one more offer escrowing `delta` collateral
// for an address that currently holds `openOffers` open offers with
// `escrowed` total collateral.
func (l *ExposureLimiter) CheckCreate(openOffers int, escrowed, delta uint64) error {
	if l.MaxOpenOffers > 0 && openOffers+1 > l.MaxOpenOffers {
		return ErrOpenOffersExceeded
	}
	return l.CheckFill(escrowed, delta)
}

// CheckFill validates adding `delta` escrowed collateral to an address
// currently escrowing `escrowed`.
func (l *ExposureLimiter) CheckFill(escrowed, delta uint64) error {
	if l.MaxEscrowed == 0 {
		return nil
	}
	if escrowed > math.MaxUint64-delta || escrowed+delta > l.MaxEscrowed {
		return ErrEscrowExceeded
	}
	return nil
}
