// Package model defines the JSON-facing snapshot types shared between the
// engine, the store, and the HTTP API. All monetary values are integer
// minor units; display-precision math lives in the API layer.
package model

import "time"

// Offer variants.
const (
	VariantSingle  = "single"
	VariantPartial = "partial"
)

// MarketView is a full snapshot of a market, sufficient to rehydrate the
// engine object at startup.
type MarketView struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	URL             string     `json:"url" db:"url"`
	Symbol          string     `json:"symbol" db:"symbol"`
	FeePct          uint64     `json:"fee_pct" db:"fee_pct"`
	Phase           string     `json:"phase"`
	FeeBalance      uint64     `json:"fee_balance" db:"fee_balance"`
	CoinType        string     `json:"coin_type,omitempty" db:"coin_type"`
	CoinDecimals    uint32     `json:"coin_decimals,omitempty" db:"coin_decimals"`
	SettlementEndAt *time.Time `json:"settlement_end_at,omitempty" db:"settlement_end_at"`

	BuyValue     uint64 `json:"buy_value" db:"buy_value"`
	BuyAmount    uint64 `json:"buy_amount" db:"buy_amount"`
	SellValue    uint64 `json:"sell_value" db:"sell_value"`
	SellAmount   uint64 `json:"sell_amount" db:"sell_amount"`
	TradedValue  uint64 `json:"traded_value" db:"traded_value"`
	TradedAmount uint64 `json:"traded_amount" db:"traded_amount"`

	AddressIndex map[string][]string `json:"address_index" db:"address_index"`
	BuyOffers    []string            `json:"buy_offers" db:"buy_offers"`
	SellOffers   []string            `json:"sell_offers" db:"sell_offers"`
	FilledOffers []string            `json:"filled_offers" db:"filled_offers"`
	ClosedOffers []string            `json:"closed_offers" db:"closed_offers"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OfferView is a full snapshot of a single or partial offer.
type OfferView struct {
	ID              string            `json:"id" db:"id"`
	MarketID        string            `json:"market_id" db:"market_id"`
	Variant         string            `json:"variant" db:"variant"`
	Status          string            `json:"status" db:"status"`
	IsBuy           bool              `json:"is_buy" db:"is_buy"`
	Creator         string            `json:"creator" db:"creator"`
	Filler          string            `json:"filler,omitempty" db:"filler"`
	Fillers         map[string]uint64 `json:"fillers,omitempty" db:"fillers"`
	FillerOrder     []string          `json:"filler_order,omitempty" db:"filler_order"`
	SettledFillers  []string          `json:"settled_fillers,omitempty" db:"settled_fillers"`
	FilledAmount    uint64            `json:"filled_amount" db:"filled_amount"`
	Amount          uint64            `json:"amount" db:"amount"`
	CollateralValue uint64            `json:"collateral_value" db:"collateral_value"`
	Cancelled       bool              `json:"cancelled" db:"cancelled"`
	Balance         uint64            `json:"balance" db:"balance"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// EventRecord is an immutable row in the append-only event log. Once
// written, these are never modified or deleted.
type EventRecord struct {
	ID       string    `json:"id" db:"id"`
	Type     string    `json:"type" db:"type"`
	ObjectID string    `json:"object_id" db:"object_id"`
	At       time.Time `json:"at" db:"at"`
}

// PayoutRecord is an immutable row in the append-only payout ledger: one
// row per currency handle that left the engine for a recipient.
type PayoutRecord struct {
	ID        string    `json:"id" db:"id"`
	OfferID   string    `json:"offer_id" db:"offer_id"`
	MarketID  string    `json:"market_id" db:"market_id"`
	Recipient string    `json:"recipient" db:"recipient"`
	Value     uint64    `json:"value" db:"value"`
	Reason    string    `json:"reason" db:"reason"`
	At        time.Time `json:"at" db:"at"`
}
