package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/premx/settlement-engine/internal/model"
	"github.com/premx/settlement-engine/internal/vault"
)

// Snapshot captures the market's full state for persistence and queries.
// The phase is computed against the supplied clock reading.
func (m *Market) Snapshot(now time.Time) *model.MarketView {
	v := &model.MarketView{
		ID:           m.id.String(),
		Name:         m.name,
		URL:          m.url,
		Symbol:       m.symbol,
		FeePct:       m.feePct,
		Phase:        string(m.Phase(now)),
		FeeBalance:   m.fees.Value(),
		CoinType:     m.coinType,
		CoinDecimals: m.coinDecimals,
		BuyValue:     m.buyValue,
		BuyAmount:    m.buyAmount,
		SellValue:    m.sellValue,
		SellAmount:   m.sellAmount,
		TradedValue:  m.tradedValue,
		TradedAmount: m.tradedAmount,
		AddressIndex: make(map[string][]string, len(m.addressIndex)),
		BuyOffers:    idSetSlice(m.buyOffers),
		SellOffers:   idSetSlice(m.sellOffers),
		FilledOffers: idSetSlice(m.filledOffers),
		ClosedOffers: idSetSlice(m.closedOffers),
		CreatedAt:    m.createdAt,
	}
	if m.settlementEndAt != nil {
		end := *m.settlementEndAt
		v.SettlementEndAt = &end
	}
	for addr, ids := range m.addressIndex {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		v.AddressIndex[addr] = out
	}
	return v
}

// MarketFromView rebuilds a market from a persisted snapshot.
func MarketFromView(v *model.MarketView, emit Emitter) (*Market, error) {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return nil, fmt.Errorf("market view %s: %w", v.ID, err)
	}
	fees := vault.New()
	if err := fees.Deposit(vault.NewCoin(v.FeeBalance)); err != nil {
		return nil, err
	}

	m := &Market{
		id:           id,
		name:         v.Name,
		url:          v.URL,
		symbol:       v.Symbol,
		feePct:       v.FeePct,
		fees:         fees,
		createdAt:    v.CreatedAt,
		coinType:     v.CoinType,
		coinDecimals: v.CoinDecimals,
		buyValue:     v.BuyValue,
		buyAmount:    v.BuyAmount,
		sellValue:    v.SellValue,
		sellAmount:   v.SellAmount,
		tradedValue:  v.TradedValue,
		tradedAmount: v.TradedAmount,
		addressIndex: make(map[string][]uuid.UUID, len(v.AddressIndex)),
		emit:         emit,
	}
	if v.SettlementEndAt != nil {
		end := *v.SettlementEndAt
		m.settlementEndAt = &end
	}
	for addr, ids := range v.AddressIndex {
		parsed := make([]uuid.UUID, len(ids))
		for i, s := range ids {
			if parsed[i], err = uuid.Parse(s); err != nil {
				return nil, fmt.Errorf("market view %s address index: %w", v.ID, err)
			}
		}
		m.addressIndex[addr] = parsed
	}
	if m.buyOffers, err = idSetFromSlice(v.BuyOffers); err != nil {
		return nil, err
	}
	if m.sellOffers, err = idSetFromSlice(v.SellOffers); err != nil {
		return nil, err
	}
	if m.filledOffers, err = idSetFromSlice(v.FilledOffers); err != nil {
		return nil, err
	}
	if m.closedOffers, err = idSetFromSlice(v.ClosedOffers); err != nil {
		return nil, err
	}
	return m, nil
}

// Snapshot captures the offer's full state for persistence and queries.
func (o *SingleOffer) Snapshot() *model.OfferView {
	return &model.OfferView{
		ID:              o.id.String(),
		MarketID:        o.marketID.String(),
		Variant:         model.VariantSingle,
		Status:          string(o.status),
		IsBuy:           o.isBuy,
		Creator:         o.creator,
		Filler:          o.filler,
		FilledAmount:    o.filledAmountView(),
		Amount:          o.amount,
		CollateralValue: o.collateralValue,
		Balance:         o.balance.Value(),
		CreatedAt:       o.createdAt,
	}
}

func (o *SingleOffer) filledAmountView() uint64 {
	if o.filler != "" {
		return o.amount
	}
	return 0
}

// SingleOfferFromView rebuilds a single offer from a persisted snapshot.
func SingleOfferFromView(v *model.OfferView) (*SingleOffer, error) {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return nil, fmt.Errorf("offer view %s: %w", v.ID, err)
	}
	marketID, err := uuid.Parse(v.MarketID)
	if err != nil {
		return nil, fmt.Errorf("offer view %s: %w", v.ID, err)
	}
	status, err := parseStatus(v.Status)
	if err != nil {
		return nil, fmt.Errorf("offer view %s: %w", v.ID, err)
	}
	balance := vault.New()
	if err := balance.Deposit(vault.NewCoin(v.Balance)); err != nil {
		return nil, err
	}
	return &SingleOffer{
		id:              id,
		marketID:        marketID,
		status:          status,
		isBuy:           v.IsBuy,
		creator:         v.Creator,
		filler:          v.Filler,
		amount:          v.Amount,
		collateralValue: v.CollateralValue,
		balance:         balance,
		createdAt:       v.CreatedAt,
	}, nil
}

// Snapshot captures the offer's full state for persistence and queries.
func (o *PartialOffer) Snapshot() *model.OfferView {
	fillers := make(map[string]uint64, len(o.fillers))
	for addr, amt := range o.fillers {
		fillers[addr] = amt
	}
	order := make([]string, len(o.fillerOrder))
	copy(order, o.fillerOrder)
	settled := make([]string, 0, len(o.settled))
	for addr := range o.settled {
		settled = append(settled, addr)
	}
	sort.Strings(settled)

	return &model.OfferView{
		ID:              o.id.String(),
		MarketID:        o.marketID.String(),
		Variant:         model.VariantPartial,
		Status:          string(o.status),
		IsBuy:           o.isBuy,
		Creator:         o.creator,
		Fillers:         fillers,
		FillerOrder:     order,
		SettledFillers:  settled,
		FilledAmount:    o.filledAmount,
		Amount:          o.amount,
		CollateralValue: o.collateralValue,
		Cancelled:       o.cancelled,
		Balance:         o.balance.Value(),
		CreatedAt:       o.createdAt,
	}
}

// PartialOfferFromView rebuilds a partial offer from a persisted snapshot.
func PartialOfferFromView(v *model.OfferView) (*PartialOffer, error) {
	id, err := uuid.Parse(v.ID)
	if err != nil {
		return nil, fmt.Errorf("offer view %s: %w", v.ID, err)
	}
	marketID, err := uuid.Parse(v.MarketID)
	if err != nil {
		return nil, fmt.Errorf("offer view %s: %w", v.ID, err)
	}
	status, err := parseStatus(v.Status)
	if err != nil {
		return nil, fmt.Errorf("offer view %s: %w", v.ID, err)
	}
	balance := vault.New()
	if err := balance.Deposit(vault.NewCoin(v.Balance)); err != nil {
		return nil, err
	}

	o := &PartialOffer{
		id:              id,
		marketID:        marketID,
		status:          status,
		isBuy:           v.IsBuy,
		creator:         v.Creator,
		fillers:         make(map[string]uint64, len(v.Fillers)),
		settled:         make(map[string]struct{}, len(v.SettledFillers)),
		filledAmount:    v.FilledAmount,
		amount:          v.Amount,
		collateralValue: v.CollateralValue,
		cancelled:       v.Cancelled,
		balance:         balance,
		createdAt:       v.CreatedAt,
	}
	for addr, amt := range v.Fillers {
		o.fillers[addr] = amt
	}
	o.fillerOrder = make([]string, len(v.FillerOrder))
	copy(o.fillerOrder, v.FillerOrder)
	for _, addr := range v.SettledFillers {
		o.settled[addr] = struct{}{}
	}
	return o, nil
}

func parseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusPartialFilled, StatusFilled,
		StatusCancelled, StatusPartialCancelled, StatusPartialClosed, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidOfferState, s)
}

func idSetSlice(set map[uuid.UUID]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}

func idSetFromSlice(ids []string) (map[uuid.UUID]struct{}, error) {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("offer id set: %w", err)
		}
		set[id] = struct{}{}
	}
	return set, nil
}
