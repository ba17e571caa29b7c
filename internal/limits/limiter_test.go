package limits

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledLimitsAllowEverything(t *testing.T) {
	l := NewExposureLimiter(0, 0)
	require.NoError(t, l.CheckCreate(1_000_000, math.MaxUint64, 0))
	require.NoError(t, l.CheckFill(math.MaxUint64, math.MaxUint64))
}

func TestOpenOfferCap(t *testing.T) {
	l := NewExposureLimiter(3, 0)
	require.NoError(t, l.CheckCreate(2, 0, 1_000_000))
	require.ErrorIs(t, l.CheckCreate(3, 0, 1_000_000), ErrOpenOffersExceeded)
}

func TestEscrowCap(t *testing.T) {
	l := NewExposureLimiter(0, 10_000_000)
	require.NoError(t, l.CheckCreate(100, 4_000_000, 6_000_000))
	require.ErrorIs(t, l.CheckCreate(0, 4_000_000, 6_000_001), ErrEscrowExceeded)
	require.ErrorIs(t, l.CheckFill(10_000_000, 1), ErrEscrowExceeded)
}

func TestEscrowCapOverflowSafe(t *testing.T) {
	l := NewExposureLimiter(0, 10_000_000)
	require.ErrorIs(t, l.CheckFill(math.MaxUint64, 2), ErrEscrowExceeded)
}
