package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/premx/settlement-engine/internal/vault"
)

// PartialOffer is the multi-filler escrow contract: one creator, any number
// of fillers each taking a slice of the amount, collateral escrowed
// pro-rata per slice.
//
// Lifecycle: Active → {Cancelled | PartialFilled | Filled};
// PartialFilled → {PartialCancelled | Filled | ...}; settlement and timeout
// closure then walk the filled portion down filler by filler through
// PartialClosed until the vault reaches zero and the offer is Closed.
type PartialOffer struct {
	id              uuid.UUID
	marketID        uuid.UUID
	status          Status
	isBuy           bool
	creator         string
	fillers         map[string]uint64 // address → filled amount, additive
	fillerOrder     []string          // insertion order, for deterministic iteration
	settled         map[string]struct{}
	filledAmount    uint64 // monotonically non-decreasing, capped at amount
	amount          uint64
	collateralValue uint64
	cancelled       bool // unfilled remainder refunded
	balance         *vault.Vault
	createdAt       time.Time
}

// CreatePartialOffer escrows the creator's full collateral and registers
// the offer with the market. Payment must equal collateralValue + fee
// exactly.
func CreatePartialOffer(m *Market, creator string, isBuy bool, amount, collateralValue uint64, payment vault.Coin, now time.Time) (*PartialOffer, error) {
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

	o := &PartialOffer{
		id:              uuid.New(),
		marketID:        m.id,
		status:          StatusActive,
		isBuy:           isBuy,
		creator:         creator,
		fillers:         make(map[string]uint64),
		settled:         make(map[string]struct{}),
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
func (o *PartialOffer) ID() uuid.UUID {
	return o.id
}

// MarketID returns the identifier of the market this offer belongs to.
func (o *PartialOffer) MarketID() uuid.UUID {
	return o.marketID
}

// Status returns the current lifecycle state.
func (o *PartialOffer) Status() Status {
	return o.status
}

// Balance returns the escrowed value.
func (o *PartialOffer) Balance() uint64 {
	return o.balance.Value()
}

// FilledAmount returns the running total of filled units.
func (o *PartialOffer) FilledAmount() uint64 {
	return o.filledAmount
}

// Fillers returns a copy of the filler → filled-amount map.
func (o *PartialOffer) Fillers() map[string]uint64 {
	out := make(map[string]uint64, len(o.fillers))
	for addr, amt := range o.fillers {
		out[addr] = amt
	}
	return out
}

// Fill escrows a filler's pro-rata collateral for `part` units. The fee is
// computed on the pro-rata collateral, which is independently re-validated
// against the floor to reject dust fills. The same address may fill more
// than once; its slices accumulate.
func (o *PartialOffer) Fill(m *Market, filler string, part uint64, payment vault.Coin, now time.Time) error {
	if err := m.assertActive(now); err != nil {
		return err
	}
	if filler == "" || filler == o.creator {
		return fmt.Errorf("%w: creator cannot fill own offer", ErrUnauthorized)
	}
	if o.status != StatusActive && o.status != StatusPartialFilled {
		return fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}
	if part == 0 || part > o.amount-o.filledAmount {
		return fmt.Errorf("%w: fill %d with %d unfilled", ErrInvalidAmount, part, o.amount-o.filledAmount)
	}
	pro, err := ProRataCollateral(o.collateralValue, o.amount, part)
	if err != nil {
		return err
	}
	if pro < MinCollateralValue {
		return fmt.Errorf("%w: pro-rata %d < %d", ErrInvalidCollateral, pro, MinCollateralValue)
	}
	fee, err := FeeValue(pro, m.feePct)
	if err != nil {
		return err
	}
	required, err := addU64(pro, fee)
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
	if err := m.addOffer(o.id, !o.isBuy, true, pro, part, feeCoin, filler); err != nil {
		return err
	}
	if err := o.balance.Deposit(payment); err != nil {
		return err
	}
	if _, known := o.fillers[filler]; !known {
		o.fillerOrder = append(o.fillerOrder, filler)
	}
	o.fillers[filler] += part
	o.filledAmount += part
	if o.filledAmount == o.amount {
		o.status = StatusFilled
	} else {
		o.status = StatusPartialFilled
	}
	m.emitEvent(EventOfferFilled, o.id, now)
	return nil
}

// Cancel refunds the unfilled collateral to the creator and reverses the
// unfilled portion of the market aggregates. The refund is derived from the
// current balance — balance minus twice the filled pro-rata collateral —
// so floor-division drift across repeated fills stays bounded by actual
// holdings. Creator-only, Active or PartialFilled only.
func (o *PartialOffer) Cancel(m *Market, caller string, now time.Time) ([]Payout, error) {
	if caller != o.creator {
		return nil, fmt.Errorf("%w: only the creator may cancel", ErrUnauthorized)
	}
	if o.status != StatusActive && o.status != StatusPartialFilled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}

	proFilled, err := ProRataCollateral(o.collateralValue, o.amount, o.filledAmount)
	if err != nil {
		return nil, err
	}
	escrowKeep, err := addU64(proFilled, proFilled)
	if err != nil {
		return nil, err
	}
	refundValue, err := subU64(o.balance.Value(), escrowKeep)
	if err != nil {
		return nil, err
	}
	unfilledValue, err := subU64(o.collateralValue, proFilled)
	if err != nil {
		return nil, err
	}

	if err := m.cancelOffer(o.id, o.isBuy, unfilledValue, o.amount-o.filledAmount); err != nil {
		return nil, err
	}
	refund, err := o.balance.Withdraw(refundValue)
	if err != nil {
		return nil, err
	}
	o.cancelled = true
	if o.filledAmount > 0 {
		o.status = StatusPartialCancelled
	} else {
		o.status = StatusCancelled
	}
	m.emitEvent(EventOfferCanceled, o.id, now)
	return []Payout{{Recipient: o.creator, Coin: refund}}, nil
}

// SettleAndClose performs one filler's delivery on a buy offer during the
// settlement phase: the filler delivers their slice's asset quantity to the
// creator and collects twice their pro-rata collateral from escrow. Fillers
// settle independently; the offer stays PartialClosed until the vault is
// empty. Sell offers settle through SettleAndCloseAll.
func (o *PartialOffer) SettleAndClose(m *Market, caller, assetType string, asset vault.Coin, now time.Time) ([]Payout, error) {
	if err := m.assertSettlement(now); err != nil {
		return nil, err
	}
	if !closable(o.status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}
	if err := m.assertCoinType(assetType); err != nil {
		return nil, err
	}
	if !o.isBuy {
		return nil, fmt.Errorf("%w: sell offers settle by aggregate delivery from the creator", ErrUnauthorized)
	}
	part, known := o.fillers[caller]
	if !known {
		return nil, fmt.Errorf("%w: %s is not a filler of this offer", ErrUnauthorized, caller)
	}
	if _, done := o.settled[caller]; done {
		return nil, fmt.Errorf("%w: %s already settled", ErrInvalidOfferState, caller)
	}

	required, err := DeliveryValue(part, m.coinDecimals)
	if err != nil {
		return nil, err
	}
	if asset.Value() != required {
		return nil, fmt.Errorf("%w: delivered %d, want %d", ErrSettlementMismatch, asset.Value(), required)
	}
	pro, err := ProRataCollateral(o.collateralValue, o.amount, part)
	if err != nil {
		return nil, err
	}
	escrowValue, err := addU64(pro, pro)
	if err != nil {
		return nil, err
	}

	escrow, err := o.balance.Withdraw(escrowValue)
	if err != nil {
		return nil, err
	}
	o.settled[caller] = struct{}{}
	o.finishClosure(m, now)
	return []Payout{
		{Recipient: o.creator, Coin: asset},
		{Recipient: caller, Coin: escrow},
	}, nil
}

// SettleAndCloseAll performs the creator's delivery on a sell offer: one
// call delivering to every recorded filler, recipients and assets as
// parallel arrays. Each filler receives their slice's asset quantity; the
// aggregate must equal filledAmount * 10^decimals. The creator collects
// twice the filled pro-rata collateral from escrow.
func (o *PartialOffer) SettleAndCloseAll(m *Market, caller, assetType string, recipients []string, assets []vault.Coin, now time.Time) ([]Payout, error) {
	if err := m.assertSettlement(now); err != nil {
		return nil, err
	}
	if !closable(o.status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}
	if err := m.assertCoinType(assetType); err != nil {
		return nil, err
	}
	if o.isBuy {
		return nil, fmt.Errorf("%w: buy offers settle per filler", ErrUnauthorized)
	}
	if caller != o.creator {
		return nil, fmt.Errorf("%w: settlement delivery is owed by the creator", ErrUnauthorized)
	}
	if len(recipients) != len(assets) {
		return nil, fmt.Errorf("%w: %d recipients, %d assets", ErrVectorLengthMismatch, len(recipients), len(assets))
	}
	if len(recipients) != len(o.fillers) {
		return nil, fmt.Errorf("%w: %d recipients, %d fillers recorded", ErrVectorLengthMismatch, len(recipients), len(o.fillers))
	}

	var total uint64
	seen := make(map[string]struct{}, len(recipients))
	for i, addr := range recipients {
		part, known := o.fillers[addr]
		if !known {
			return nil, fmt.Errorf("%w: %s is not a filler of this offer", ErrVectorLengthMismatch, addr)
		}
		if _, done := o.settled[addr]; done {
			return nil, fmt.Errorf("%w: %s already settled", ErrInvalidOfferState, addr)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("%w: duplicate recipient %s", ErrVectorLengthMismatch, addr)
		}
		seen[addr] = struct{}{}
		required, err := DeliveryValue(part, m.coinDecimals)
		if err != nil {
			return nil, err
		}
		if assets[i].Value() != required {
			return nil, fmt.Errorf("%w: delivered %d to %s, want %d", ErrSettlementMismatch, assets[i].Value(), addr, required)
		}
		if total, err = addU64(total, assets[i].Value()); err != nil {
			return nil, err
		}
	}
	aggregate, err := DeliveryValue(o.filledAmount, m.coinDecimals)
	if err != nil {
		return nil, err
	}
	if total != aggregate {
		return nil, fmt.Errorf("%w: aggregate %d, want %d", ErrSettlementMismatch, total, aggregate)
	}
	proFilled, err := ProRataCollateral(o.collateralValue, o.amount, o.filledAmount)
	if err != nil {
		return nil, err
	}
	escrowValue, err := addU64(proFilled, proFilled)
	if err != nil {
		return nil, err
	}

	escrow, err := o.balance.Withdraw(escrowValue)
	if err != nil {
		return nil, err
	}
	payouts := make([]Payout, 0, len(recipients)+1)
	for i, addr := range recipients {
		o.settled[addr] = struct{}{}
		payouts = append(payouts, Payout{Recipient: addr, Coin: assets[i]})
	}
	payouts = append(payouts, Payout{Recipient: o.creator, Coin: escrow})
	o.finishClosure(m, now)
	return payouts, nil
}

// Close reclaims escrow after the settlement deadline elapsed without
// delivery. On a buy offer the creator (who was owed delivery) takes the
// whole remaining balance. On a sell offer each unsettled filler claims
// twice their pro-rata collateral; the last claim also sweeps any residual
// back to the creator so no value is stranded.
func (o *PartialOffer) Close(m *Market, caller string, now time.Time) ([]Payout, error) {
	if err := m.assertClosed(now); err != nil {
		return nil, err
	}
	if !closable(o.status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOfferState, o.status)
	}

	if o.isBuy {
		if caller != o.creator {
			return nil, fmt.Errorf("%w: escrow is claimable by the creator", ErrUnauthorized)
		}
		escrow := o.balance.WithdrawAll()
		for _, addr := range o.fillerOrder {
			o.settled[addr] = struct{}{}
		}
		o.finishClosure(m, now)
		return []Payout{{Recipient: o.creator, Coin: escrow}}, nil
	}

	// Sell offer. The creator may sweep a leftover remainder once every
	// filler has settled or claimed.
	if caller == o.creator {
		if o.unsettledCount() > 0 {
			return nil, fmt.Errorf("%w: escrow is claimable by the fillers", ErrUnauthorized)
		}
		residual := o.balance.WithdrawAll()
		o.finishClosure(m, now)
		return []Payout{{Recipient: o.creator, Coin: residual}}, nil
	}

	part, known := o.fillers[caller]
	if !known {
		return nil, fmt.Errorf("%w: %s is not a filler of this offer", ErrUnauthorized, caller)
	}
	if _, done := o.settled[caller]; done {
		return nil, fmt.Errorf("%w: %s already claimed", ErrInvalidOfferState, caller)
	}
	pro, err := ProRataCollateral(o.collateralValue, o.amount, part)
	if err != nil {
		return nil, err
	}
	claimValue, err := addU64(pro, pro)
	if err != nil {
		return nil, err
	}

	claim, err := o.balance.Withdraw(claimValue)
	if err != nil {
		return nil, err
	}
	o.settled[caller] = struct{}{}

	payouts := []Payout{{Recipient: caller, Coin: claim}}
	if o.unsettledCount() == 0 && o.balance.Value() > 0 {
		payouts = append(payouts, Payout{Recipient: o.creator, Coin: o.balance.WithdrawAll()})
	}
	o.finishClosure(m, now)
	return payouts, nil
}

// unsettledCount returns how many recorded fillers have not yet settled
// or claimed.
func (o *PartialOffer) unsettledCount() int {
	n := 0
	for _, addr := range o.fillerOrder {
		if _, done := o.settled[addr]; !done {
			n++
		}
	}
	return n
}

// finishClosure moves the offer to Closed once the vault is empty, else
// PartialClosed, and records closure with the market.
func (o *PartialOffer) finishClosure(m *Market, now time.Time) {
	if o.balance.Value() == 0 {
		o.status = StatusClosed
		m.closeOffer(o.id)
	} else {
		o.status = StatusPartialClosed
	}
	m.emitEvent(EventOfferClosed, o.id, now)
}
