package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/premx/settlement-engine/internal/vault"
)

// Exact payment, 2% fee: collateral 1,000,000 requires exactly 1,020,000.
func TestCreateExactPayment(t *testing.T) {
	m, _ := newTestMarket(t, 2)

	_, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_019_999), testEpoch)
	require.ErrorIs(t, err, ErrPaymentMismatch)

	_, err = CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_001), testEpoch)
	require.ErrorIs(t, err, ErrPaymentMismatch)

	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.Equal(t, StatusActive, o.Status())
	require.Equal(t, uint64(1_000_000), o.Balance())
	require.Equal(t, uint64(20_000), m.FeeBalance())
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestMarket(t, 2)

	_, err := CreateSingleOffer(m, "alice", true, 0, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = CreateSingleOffer(m, "alice", true, 1000, 999_999, vault.NewCoin(1_019_999), testEpoch)
	require.ErrorIs(t, err, ErrInvalidCollateral)

	_, err = CreateSingleOffer(m, "", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.ErrorIs(t, err, ErrUnauthorized)
}

// Create followed by cancel returns exactly the collateral; the fee is
// consumed, and the market aggregates return to their pre-create values.
func TestCreateCancelRoundTrip(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	before := m.Snapshot(testEpoch)

	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)

	payouts, err := o.Cancel(m, "alice", testEpoch)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, "alice", payouts[0].Recipient)
	require.Equal(t, uint64(1_000_000), payouts[0].Coin.Value())

	require.Equal(t, StatusCancelled, o.Status())
	require.Equal(t, uint64(0), o.Balance())

	after := m.Snapshot(testEpoch)
	require.Equal(t, before.BuyValue, after.BuyValue)
	require.Equal(t, before.BuyAmount, after.BuyAmount)
	require.Equal(t, before.SellValue, after.SellValue)
	require.Equal(t, uint64(20_000), after.FeeBalance, "fee is not refunded")
}

func TestCancelAuthorization(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)

	_, err = o.Cancel(m, "bob", testEpoch)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = o.Cancel(m, "alice", testEpoch)
	require.NoError(t, err)

	// A second cancel finds a terminal state.
	_, err = o.Cancel(m, "alice", testEpoch)
	require.ErrorIs(t, err, ErrInvalidOfferState)
}

// Scenario: buy offer filled by a non-creator reaches 2x collateral.
func TestFill(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)

	require.ErrorIs(t, o.Fill(m, "alice", vault.NewCoin(1_020_000), testEpoch), ErrUnauthorized)
	require.ErrorIs(t, o.Fill(m, "bob", vault.NewCoin(1_000_000), testEpoch), ErrPaymentMismatch)

	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))
	require.Equal(t, StatusFilled, o.Status())
	require.Equal(t, uint64(2_000_000), o.Balance())
	require.Equal(t, uint64(40_000), m.FeeBalance(), "both sides pay the fee")

	// A filled offer cannot be filled again or cancelled.
	require.ErrorIs(t, o.Fill(m, "carol", vault.NewCoin(1_020_000), testEpoch), ErrInvalidOfferState)
	_, err = o.Cancel(m, "alice", testEpoch)
	require.ErrorIs(t, err, ErrInvalidOfferState)
}

// A buy fill registers sell-side volume and vice versa: the filler takes
// the opposite position.
func TestFillRegistersOppositeDirection(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))

	snap := m.Snapshot(testEpoch)
	require.Equal(t, uint64(1_000_000), snap.BuyValue)
	require.Equal(t, uint64(1_000_000), snap.SellValue)
	require.Equal(t, uint64(1_000_000), snap.TradedValue)
	require.Equal(t, uint64(1000), snap.TradedAmount)
	require.Contains(t, snap.BuyOffers, o.ID().String())
	require.Contains(t, snap.FilledOffers, o.ID().String())
}

// Market still Active long after creation: fills keep working, since Closed
// is only reachable through Settlement.
func TestFillLongAfterCreation(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)

	late := testEpoch.Add(90 * 24 * time.Hour)
	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), late))
	require.Equal(t, StatusFilled, o.Status())
}

// Scenario: settlement with decimals=6 demands exactly amount * 10^6.
func TestSettleAndClose(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))

	// Settlement has not been entered yet.
	_, err = o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(1_000_000_000), testEpoch)
	require.ErrorIs(t, err, ErrInvalidPhase)

	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	now := testEpoch.Add(time.Hour)

	// Buy offer: delivery is owed by the filler, not the creator.
	_, err = o.SettleAndClose(m, "alice", "usdc::USDC", vault.NewCoin(1_000_000_000), now)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = o.SettleAndClose(m, "bob", "usdt::USDT", vault.NewCoin(1_000_000_000), now)
	require.ErrorIs(t, err, ErrSettlementMismatch)

	_, err = o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(999_999_999), now)
	require.ErrorIs(t, err, ErrSettlementMismatch)
	require.Equal(t, uint64(2_000_000), o.Balance(), "failed settlement leaves escrow intact")

	payouts, err := o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(1_000_000_000), now)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, o.Status())
	require.Equal(t, uint64(0), o.Balance())

	require.Len(t, payouts, 2)
	require.Equal(t, "alice", payouts[0].Recipient, "delivery goes to the creator")
	require.Equal(t, uint64(1_000_000_000), payouts[0].Coin.Value())
	require.Equal(t, "bob", payouts[1].Recipient, "deliverer collects both collaterals")
	require.Equal(t, uint64(2_000_000), payouts[1].Coin.Value())

	require.Contains(t, m.Snapshot(now).ClosedOffers, o.ID().String())
}

// Sell offer roles are mirrored: the creator delivers, the filler receives.
func TestSettleSellOffer(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", false, 50, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))

	now := testEpoch.Add(time.Hour)
	_, err = o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(50_000_000), now)
	require.ErrorIs(t, err, ErrUnauthorized)

	payouts, err := o.SettleAndClose(m, "alice", "usdc::USDC", vault.NewCoin(50_000_000), now)
	require.NoError(t, err)
	require.Equal(t, "bob", payouts[0].Recipient)
	require.Equal(t, "alice", payouts[1].Recipient)
}

// After the deadline the non-delivering party reclaims both collaterals.
func TestCloseAfterTimeout(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))

	during := testEpoch.Add(time.Hour)
	_, err = o.Close(m, "alice", during)
	require.ErrorIs(t, err, ErrInvalidPhase)

	late := testEpoch.Add(SettlementWindow + time.Second)

	// Settlement is over.
	_, err = o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(1_000_000_000), late)
	require.ErrorIs(t, err, ErrInvalidPhase)

	// Buy offer: the filler defaulted, the creator reclaims.
	_, err = o.Close(m, "bob", late)
	require.ErrorIs(t, err, ErrUnauthorized)

	payouts, err := o.Close(m, "alice", late)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, "alice", payouts[0].Recipient)
	require.Equal(t, uint64(2_000_000), payouts[0].Coin.Value())
	require.Equal(t, StatusClosed, o.Status())
}

// Escrow never exceeds twice the collateral across any operation sequence.
func TestEscrowBound(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.LessOrEqual(t, o.Balance(), uint64(2_000_000))

	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))
	require.LessOrEqual(t, o.Balance(), uint64(2_000_000))

	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	payouts, err := o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(1_000_000_000), testEpoch)
	require.NoError(t, err)

	var escrowOut uint64
	for _, p := range payouts[1:] {
		escrowOut += p.Coin.Value()
	}
	require.Equal(t, uint64(2_000_000), escrowOut, "every escrowed unit leaves exactly once")
	require.Equal(t, uint64(0), o.Balance())
}
