package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premx/settlement-engine/internal/vault"
)

// SingleOffer is the full-fill escrow contract: one creator, at most one
// filler, the whole amount filled in one call.
//
// Lifecycle: Active → {Cancelled | Filled}; Filled → Closed (settlement or
// timeout reclaim).
type SingleOffer struct {
	id              uuid.UUID
	marketID        uuid.UUID
	status          Status
	isBuy           bool
	creator         string
	filler          string // empty until filled, set exactly once
	amount          uint64
	collateralValue uint64
	balance         *vault.Vault
	createdAt       time.Time
}

// CreateSingleOffer escrows the creator's collateral and registers the
// offer with the market. The payment must carry exactly
// collateralValue + fee(collateralValue); any mismatch aborts with the
// payment unconsumed.
func CreateSingleOffer(m *Market, creator string, isBuy bool, amount, collateralValue uint64, payment vault.Coin, now time.Time) (*SingleOffer, error) {
	if err := m.assertActive(now); err != nil {
		return nil, err
	}
	if creator == "" {
		return nil, fmt.Errorf("%w: empty creator address", ErrUnauthorized)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if collateralValue < MinCollateralValue {
		return nil, fmt.Errorf("%w: %d < %d", ErrInvalidCollateral, collateralValue, MinCollateralValue)
	}
	fee, err := FeeValue(collateralValue, m.feePct)
	if err != nil {
		return nil, err
	}
	required, err := addU64(collateralValue, fee)
	if err != nil {
		return nil, err
	}
	if payment.Value() != required {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPaymentMismatch, payment.Value(), required)
	}

	feeCoin, err := payment.Split(fee)
	if err != nil {
		return nil, err
	}

	o := &SingleOffer{
		id:              uuid.New(),
		marketID:        m.id,
		status:          StatusActive,
		isBuy:           isBuy,
		creator:         creator,
		amount:          amount,
		collateralValue: collateralValue,
		balance:         vault.New(),
		createdAt:       now,
	}
	if err := m.addOffer(o.id, isBuy, false, collateralValue, amount, feeCoin, creator); err != nil {
		return nil, err
	}
	if err := o.balance.Deposit(payment); err != nil {
		return nil, err
	}
	m.emitEvent(EventOfferCreated, o.id, now)
	return o, nil
}

// ID returns the offer's immutable identifier.
func (o *SingleOffer) ID() uuid.UUID {
	return o.id
}

// MarketID returns the identifier of the market this offer belongs to.
func (o *SingleOffer) MarketID() uuid.UUID {
	return o.marketID
}

// Status returns the current lifecycle state.
func (o *SingleOffer) Status() Status {
	return o.status
}

// Balance returns the escrowed value.
func (o *SingleOffer) Balance() uint64 {
	return o.balance.Value()
}

// Cancel refunds the full escrow to the creator and reverses the offer's
// aggregate contribution. Creator-only, Active only. The creation fee is
// not refunded — it was consumed by the market.
func (o *SingleOffer) Cancel(m *Market, caller string, now time.Time) ([]Payout, error) {
	if caller != o.creator {
		return nil, fmt.Errorf("%w: only the creator may cancel", ErrUnauthorized)
	}
	if o.status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}

	if err := m.cancelOffer(o.id, o.isBuy, o.collateralValue, o.amount); err != nil {
		return nil, err
	}
	refund := o.balance.WithdrawAll()
	o.status = StatusCancelled
	m.emitEvent(EventOfferCanceled, o.id, now)
	return []Payout{{Recipient: o.creator, Coin: refund}}, nil
}

// Fill escrows the filler's matching collateral. Non-creator only, market
// Active, offer Active. The fill is registered with the market as the
// opposite direction and as traded volume.
func (o *SingleOffer) Fill(m *Market, filler string, payment vault.Coin, now time.Time) error {
	if err := m.assertActive(now); err != nil {
		return err
	}
	if filler == "" || filler == o.creator {
		return fmt.Errorf("%w: creator cannot fill own offer", ErrUnauthorized)
	}
	if o.status != StatusActive {
		return fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}
	fee, err := FeeValue(o.collateralValue, m.feePct)
	if err != nil {
		return err
	}
	required, err := addU64(o.collateralValue, fee)
	if err != nil {
		return err
	}
	if payment.Value() != required {
		return fmt.Errorf("%w: got %d, want %d", ErrPaymentMismatch, payment.Value(), required)
	}

	feeCoin, err := payment.Split(fee)
	if err != nil {
		return err
	}
	if err := m.addOffer(o.id, !o.isBuy, true, o.collateralValue, o.amount, feeCoin, filler); err != nil {
		return err
	}
	if err := o.balance.Deposit(payment); err != nil {
		return err
	}
	o.filler = filler
	o.status = StatusFilled
	m.emitEvent(EventOfferFilled, o.id, now)
	return nil
}

// SettleAndClose performs the off-ledger asset delivery during the
// settlement phase. For a buy offer the filler delivers to the creator;
// for a sell offer the creator delivers to the filler. The delivered value
// must equal amount * 10^decimals exactly. The deliverer collects both
// sides' escrowed collateral.
func (o *SingleOffer) SettleAndClose(m *Market, caller, assetType string, asset vault.Coin, now time.Time) ([]Payout, error) {
	if err := m.assertSettlement(now); err != nil {
		return nil, err
	}
	if o.status != StatusFilled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}
	if err := m.assertCoinType(assetType); err != nil {
		return nil, err
	}

	deliverer, recipient := o.creator, o.filler
	if o.isBuy {
		deliverer, recipient = o.filler, o.creator
	}
	if caller != deliverer {
		return nil, fmt.Errorf("%w: settlement delivery is owed by %s", ErrUnauthorized, deliverer)
	}

	required, err := DeliveryValue(o.amount, m.coinDecimals)
	if err != nil {
		return nil, err
	}
	if asset.Value() != required {
		return nil, fmt.Errorf("%w: delivered %d, want %d", ErrSettlementMismatch, asset.Value(), required)
	}

	// Delivery goes peer-to-peer; the escrow drains to the deliverer.
	escrow := o.balance.WithdrawAll()
	o.status = StatusClosed
	m.closeOffer(o.id)
	m.emitEvent(EventOfferClosed, o.id, now)
	return []Payout{
		{Recipient: recipient, Coin: asset},
		{Recipient: deliverer, Coin: escrow},
	}, nil
}

// Close reclaims the escrow after the settlement deadline elapsed without
// delivery. The non-defaulting party — whoever was not obligated to
// deliver — takes both sides' collateral.
func (o *SingleOffer) Close(m *Market, caller string, now time.Time) ([]Payout, error) {
	if err := m.assertClosed(now); err != nil {
		return nil, err
	}
	if o.status != StatusFilled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}

	claimant := o.filler
	if o.isBuy {
		claimant = o.creator
	}
	if caller != claimant {
		return nil, fmt.Errorf("%w: escrow is claimable by %s", ErrUnauthorized, claimant)
	}

	escrow := o.balance.WithdrawAll()
	o.status = StatusClosed
	m.closeOffer(o.id)
	m.emitEvent(EventOfferClosed, o.id, now)
	return []Payout{{Recipient: claimant, Coin: escrow}}, nil
}
