package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/premx/settlement-engine/internal/vault"
)

// Scenario: amount=10, collateral=10,000,000. Filler takes 5 at pro-rata
// 5,000,000 + 100,000 fee; creator then cancels the unfilled remainder for
// a 5,000,000 refund.
func TestPartialFillThenCancel(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), o.Balance())

	require.NoError(t, o.Fill(m, "alice", 5, vault.NewCoin(5_100_000), testEpoch))
	require.Equal(t, StatusPartialFilled, o.Status())
	require.Equal(t, uint64(5), o.FilledAmount())
	require.Equal(t, uint64(15_000_000), o.Balance())

	payouts, err := o.Cancel(m, "carol", testEpoch)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, "carol", payouts[0].Recipient)
	require.Equal(t, uint64(5_000_000), payouts[0].Coin.Value())

	require.Equal(t, StatusPartialCancelled, o.Status())
	require.Equal(t, uint64(10_000_000), o.Balance(), "twice the filled pro-rata stays escrowed")
}

func TestPartialFillValidation(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)

	require.ErrorIs(t, o.Fill(m, "carol", 5, vault.NewCoin(5_100_000), testEpoch), ErrUnauthorized)
	require.ErrorIs(t, o.Fill(m, "alice", 0, vault.NewCoin(0), testEpoch), ErrInvalidAmount)
	require.ErrorIs(t, o.Fill(m, "alice", 11, vault.NewCoin(11_220_000), testEpoch), ErrInvalidAmount)
	require.ErrorIs(t, o.Fill(m, "alice", 5, vault.NewCoin(5_100_001), testEpoch), ErrPaymentMismatch)

	require.NoError(t, o.Fill(m, "alice", 7, vault.NewCoin(7_140_000), testEpoch))
	require.ErrorIs(t, o.Fill(m, "bob", 4, vault.NewCoin(4_080_000), testEpoch), ErrInvalidAmount,
		"fill must not exceed the unfilled remainder")
}

// Pro-rata collateral below the floor is a dust fill.
func TestPartialFillDustRejected(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 100, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)

	// 5/100 of 10,000,000 is 500,000 — below the 1,000,000 floor.
	err = o.Fill(m, "alice", 5, vault.NewCoin(510_000), testEpoch)
	require.ErrorIs(t, err, ErrInvalidCollateral)

	// 10/100 is exactly at the floor.
	require.NoError(t, o.Fill(m, "alice", 10, vault.NewCoin(1_020_000), testEpoch))
}

// filled_amount never decreases; a full set of fills flips the status.
func TestPartialFillMonotonic(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)

	prev := uint64(0)
	for _, step := range []struct {
		filler string
		part   uint64
	}{{"alice", 3}, {"bob", 2}, {"alice", 4}, {"dave", 1}} {
		pro, err := ProRataCollateral(10_000_000, 10, step.part)
		require.NoError(t, err)
		require.NoError(t, o.Fill(m, step.filler, step.part, payment(t, pro, 2), testEpoch))
		require.Greater(t, o.FilledAmount(), prev)
		prev = o.FilledAmount()
	}

	require.Equal(t, StatusFilled, o.Status())
	require.Equal(t, uint64(10), o.FilledAmount())
	require.Equal(t, uint64(20_000_000), o.Balance())
	require.Equal(t, map[string]uint64{"alice": 7, "bob": 2, "dave": 1}, o.Fillers())
}

func TestPartialCancelUnfilled(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	before := m.Snapshot(testEpoch)

	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)

	payouts, err := o.Cancel(m, "carol", testEpoch)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), payouts[0].Coin.Value())
	require.Equal(t, StatusCancelled, o.Status(), "no fill yet: plain Cancelled")

	after := m.Snapshot(testEpoch)
	require.Equal(t, before.BuyValue, after.BuyValue)
	require.Equal(t, before.BuyAmount, after.BuyAmount)
}

// Buy-side settlement: each filler delivers independently and collects
// twice their pro-rata collateral.
func TestPartialSettleBuyPerFiller(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 4, vault.NewCoin(4_080_000), testEpoch))
	require.NoError(t, o.Fill(m, "bob", 6, vault.NewCoin(6_120_000), testEpoch))
	require.Equal(t, StatusFilled, o.Status())
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	now := testEpoch.Add(time.Hour)

	// Only recorded fillers may deliver.
	_, err = o.SettleAndClose(m, "erin", "usdc::USDC", vault.NewCoin(4_000_000), now)
	require.ErrorIs(t, err, ErrUnauthorized)

	payouts, err := o.SettleAndClose(m, "alice", "usdc::USDC", vault.NewCoin(4_000_000), now)
	require.NoError(t, err)
	require.Equal(t, "carol", payouts[0].Recipient)
	require.Equal(t, uint64(4_000_000), payouts[0].Coin.Value())
	require.Equal(t, "alice", payouts[1].Recipient)
	require.Equal(t, uint64(8_000_000), payouts[1].Coin.Value())
	require.Equal(t, StatusPartialClosed, o.Status())
	require.Equal(t, uint64(12_000_000), o.Balance())

	// A filler settles once.
	_, err = o.SettleAndClose(m, "alice", "usdc::USDC", vault.NewCoin(4_000_000), now)
	require.ErrorIs(t, err, ErrInvalidOfferState)

	payouts, err = o.SettleAndClose(m, "bob", "usdc::USDC", vault.NewCoin(6_000_000), now)
	require.NoError(t, err)
	require.Equal(t, uint64(12_000_000), payouts[1].Coin.Value())
	require.Equal(t, StatusClosed, o.Status())
	require.Equal(t, uint64(0), o.Balance())
	require.Contains(t, m.Snapshot(now).ClosedOffers, o.ID().String())
}

// Sell-side settlement: the creator delivers to every filler in one call,
// recipients and assets as parallel arrays.
func TestPartialSettleSellAggregate(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", false, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 3, vault.NewCoin(3_060_000), testEpoch))
	require.NoError(t, o.Fill(m, "bob", 7, vault.NewCoin(7_140_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	now := testEpoch.Add(time.Hour)

	// The per-filler entry point is the wrong side.
	_, err = o.SettleAndClose(m, "alice", "usdc::USDC", vault.NewCoin(3_000_000), now)
	require.ErrorIs(t, err, ErrUnauthorized)

	// Parallel arrays must agree in length and coverage.
	_, err = o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice", "bob"}, []vault.Coin{vault.NewCoin(3_000_000)}, now)
	require.ErrorIs(t, err, ErrVectorLengthMismatch)

	_, err = o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice"}, []vault.Coin{vault.NewCoin(3_000_000)}, now)
	require.ErrorIs(t, err, ErrVectorLengthMismatch)

	_, err = o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice", "erin"}, []vault.Coin{vault.NewCoin(3_000_000), vault.NewCoin(7_000_000)}, now)
	require.ErrorIs(t, err, ErrVectorLengthMismatch)

	// Per-filler quantities are exact.
	_, err = o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice", "bob"}, []vault.Coin{vault.NewCoin(3_000_001), vault.NewCoin(6_999_999)}, now)
	require.ErrorIs(t, err, ErrSettlementMismatch)

	payouts, err := o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice", "bob"}, []vault.Coin{vault.NewCoin(3_000_000), vault.NewCoin(7_000_000)}, now)
	require.NoError(t, err)
	require.Len(t, payouts, 3)
	require.Equal(t, "alice", payouts[0].Recipient)
	require.Equal(t, uint64(3_000_000), payouts[0].Coin.Value())
	require.Equal(t, "bob", payouts[1].Recipient)
	require.Equal(t, uint64(7_000_000), payouts[1].Coin.Value())
	require.Equal(t, "carol", payouts[2].Recipient, "creator collects both sides' escrow")
	require.Equal(t, uint64(20_000_000), payouts[2].Coin.Value())
	require.Equal(t, StatusClosed, o.Status())
	require.Equal(t, uint64(0), o.Balance())
}

// A sell offer left PartialClosed by an uncancelled remainder cannot be
// settled twice: the aggregate path rejects recipients that already
// settled, so the creator cannot drain the remainder escrow with a repeat
// delivery.
func TestPartialSettleSellAggregateOnce(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", false, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 1, vault.NewCoin(1_020_000), testEpoch))
	require.NoError(t, o.Fill(m, "bob", 1, vault.NewCoin(1_020_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	now := testEpoch.Add(time.Hour)

	recipients := []string{"alice", "bob"}
	assets := func() []vault.Coin {
		return []vault.Coin{vault.NewCoin(1_000_000), vault.NewCoin(1_000_000)}
	}

	payouts, err := o.SettleAndCloseAll(m, "carol", "usdc::USDC", recipients, assets(), now)
	require.NoError(t, err)
	require.Equal(t, uint64(4_000_000), payouts[2].Coin.Value())
	require.Equal(t, StatusPartialClosed, o.Status(), "unfilled remainder keeps the offer open")
	require.Equal(t, uint64(8_000_000), o.Balance())

	_, err = o.SettleAndCloseAll(m, "carol", "usdc::USDC", recipients, assets(), now)
	require.ErrorIs(t, err, ErrInvalidOfferState)
	require.Equal(t, uint64(8_000_000), o.Balance(), "repeat delivery must not touch the remainder escrow")
}

// After a partial cancel, the filled remainder still settles against the
// filled amount only.
func TestPartialSettleAfterCancel(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", false, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 5, vault.NewCoin(5_100_000), testEpoch))

	_, err = o.Cancel(m, "carol", testEpoch)
	require.NoError(t, err)
	require.Equal(t, StatusPartialCancelled, o.Status())
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))

	payouts, err := o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice"}, []vault.Coin{vault.NewCoin(5_000_000)}, testEpoch)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), payouts[1].Coin.Value())
	require.Equal(t, StatusClosed, o.Status())
	require.Equal(t, uint64(0), o.Balance())
}

// Timeout on a sell offer: each filler claims twice their pro-rata share;
// the last claim sweeps the uncancelled remainder back to the creator.
func TestPartialCloseSellTimeout(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", false, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 3, vault.NewCoin(3_060_000), testEpoch))
	require.NoError(t, o.Fill(m, "bob", 2, vault.NewCoin(2_040_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))

	late := testEpoch.Add(SettlementWindow + time.Second)

	// The defaulting creator cannot jump the queue.
	_, err = o.Close(m, "carol", late)
	require.ErrorIs(t, err, ErrUnauthorized)

	payouts, err := o.Close(m, "alice", late)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, uint64(6_000_000), payouts[0].Coin.Value())
	require.Equal(t, StatusPartialClosed, o.Status())

	// Last claim: bob takes his share, the unfilled remainder goes back
	// to the creator.
	payouts, err = o.Close(m, "bob", late)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	require.Equal(t, "bob", payouts[0].Recipient)
	require.Equal(t, uint64(4_000_000), payouts[0].Coin.Value())
	require.Equal(t, "carol", payouts[1].Recipient)
	require.Equal(t, uint64(5_000_000), payouts[1].Coin.Value())
	require.Equal(t, StatusClosed, o.Status())
	require.Equal(t, uint64(0), o.Balance())
}

// Timeout on a buy offer: the creator was owed delivery and reclaims the
// whole remaining escrow.
func TestPartialCloseBuyTimeout(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 5, vault.NewCoin(5_100_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))

	late := testEpoch.Add(SettlementWindow + time.Second)
	_, err = o.Close(m, "alice", late)
	require.ErrorIs(t, err, ErrUnauthorized)

	payouts, err := o.Close(m, "carol", late)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, "carol", payouts[0].Recipient)
	require.Equal(t, uint64(15_000_000), payouts[0].Coin.Value())
	require.Equal(t, StatusClosed, o.Status())
}

// Floor-division drift: with collateral not divisible by amount, refunds
// derive from the current balance and nothing is ever stranded.
func TestPartialRoundingDriftBounded(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	// unit = floor(10,000,001 / 10) = 1,000,000
	o, err := CreatePartialOffer(m, "carol", false, 10, 10_000_001, payment(t, 10_000_001, 2), testEpoch)
	require.NoError(t, err)

	require.NoError(t, o.Fill(m, "alice", 5, payment(t, 5_000_000, 2), testEpoch))
	require.Equal(t, uint64(15_000_001), o.Balance())

	// Refund = balance - 2*5,000,000 = 5,000,001: the odd unit returns
	// with the unfilled remainder.
	payouts, err := o.Cancel(m, "carol", testEpoch)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_001), payouts[0].Coin.Value())
	require.Equal(t, uint64(10_000_000), o.Balance())

	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	payouts, err = o.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice"}, []vault.Coin{vault.NewCoin(5_000_000)}, testEpoch)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), payouts[1].Coin.Value())
	require.Equal(t, uint64(0), o.Balance())
}

func TestPartialOfferEvents(t *testing.T) {
	var events []Event
	cap := MintAdminCap()
	m, err := NewMarket(cap, "n", "", "TOKEN", 2, testEpoch, func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 5, vault.NewCoin(5_100_000), testEpoch))
	_, err = o.Cancel(m, "carol", testEpoch)
	require.NoError(t, err)

	var offerTypes []EventType
	for _, e := range events {
		if e.ObjectID == o.ID() {
			offerTypes = append(offerTypes, e.Type)
		}
	}
	require.Equal(t, []EventType{EventOfferCreated, EventOfferFilled, EventOfferCanceled}, offerTypes)
}
