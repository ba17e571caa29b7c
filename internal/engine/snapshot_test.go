package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/premx/settlement-engine/internal/vault"
)

// A market rebuilt from its snapshot behaves identically to the original.
func TestMarketSnapshotRoundTrip(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", true, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 5, vault.NewCoin(5_100_000), testEpoch))
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))

	snap := m.Snapshot(testEpoch)
	rebuilt, err := MarketFromView(snap, nil)
	require.NoError(t, err)

	require.Equal(t, m.ID(), rebuilt.ID())
	require.Equal(t, m.FeeBalance(), rebuilt.FeeBalance())
	require.Equal(t, PhaseSettlement, rebuilt.Phase(testEpoch))
	require.Equal(t, PhaseClosed, rebuilt.Phase(testEpoch.Add(SettlementWindow+time.Second)))
	require.NoError(t, rebuilt.assertCoinType("usdc::USDC"))
	require.Equal(t, m.OffersByAddress("alice"), rebuilt.OffersByAddress("alice"))
	require.Equal(t, snap, rebuilt.Snapshot(testEpoch))
}

// A partial offer rebuilt mid-lifecycle continues where it left off.
func TestPartialOfferSnapshotRoundTrip(t *testing.T) {
	m, cap := newTestMarket(t, 2)
	o, err := CreatePartialOffer(m, "carol", false, 10, 10_000_000, vault.NewCoin(10_200_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "alice", 3, vault.NewCoin(3_060_000), testEpoch))
	require.NoError(t, o.Fill(m, "bob", 2, vault.NewCoin(2_040_000), testEpoch))

	rebuilt, err := PartialOfferFromView(o.Snapshot())
	require.NoError(t, err)
	require.Equal(t, o.Snapshot(), rebuilt.Snapshot())

	// The rebuilt offer settles exactly as the original would.
	require.NoError(t, m.EnterSettlement(cap, "usdc::USDC", 6, testEpoch))
	payouts, err := rebuilt.SettleAndCloseAll(m, "carol", "usdc::USDC",
		[]string{"alice", "bob"}, []vault.Coin{vault.NewCoin(3_000_000), vault.NewCoin(2_000_000)}, testEpoch)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), payouts[2].Coin.Value())
}

func TestSingleOfferSnapshotRoundTrip(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)
	require.NoError(t, o.Fill(m, "bob", vault.NewCoin(1_020_000), testEpoch))

	rebuilt, err := SingleOfferFromView(o.Snapshot())
	require.NoError(t, err)
	require.Equal(t, o.Snapshot(), rebuilt.Snapshot())
	require.Equal(t, StatusFilled, rebuilt.Status())
	require.Equal(t, uint64(2_000_000), rebuilt.Balance())
}

func TestOfferViewRejectsUnknownStatus(t *testing.T) {
	m, _ := newTestMarket(t, 2)
	o, err := CreateSingleOffer(m, "alice", true, 1000, 1_000_000, vault.NewCoin(1_020_000), testEpoch)
	require.NoError(t, err)

	view := o.Snapshot()
	view.Status = "liquidated"
	_, err = SingleOfferFromView(view)
	require.ErrorIs(t, err, ErrInvalidOfferState)
}
