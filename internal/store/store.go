// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The store holds snapshots of engine state plus two append-only ledgers:
// the event log and the payout ledger. Snapshots are sufficient to
// rehydrate the engine at startup.
package store

import (
	"context"
	"errors"

	"github.com/premx/settlement-engine/internal/model"
)

// ErrNotFound is returned when the requested market or offer does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market snapshots ---

	// SaveMarket upserts a market snapshot.
	SaveMarket(ctx context.Context, m *model.MarketView) error

	// GetMarket retrieves a market snapshot by ID.
	GetMarket(ctx context.Context, id string) (*model.MarketView, error)

	// GetMarketBySymbol retrieves a market snapshot by trading symbol.
	GetMarketBySymbol(ctx context.Context, symbol string) (*model.MarketView, error)

	// ListMarkets returns all market snapshots.
	ListMarkets(ctx context.Context) ([]model.MarketView, error)

	// --- Offer snapshots ---

	// SaveOffer upserts an offer snapshot.
	SaveOffer(ctx context.Context, o *model.OfferView) error

	// GetOffer retrieves an offer snapshot by ID.
	GetOffer(ctx context.Context, id string) (*model.OfferView, error)

	// ListOffersByMarket returns all offers of one market.
	ListOffersByMarket(ctx context.Context, marketID string) ([]model.OfferView, error)

	// ListOffersByAddress returns all offers an address touched as
	// creator or filler.
	ListOffersByAddress(ctx context.Context, addr string) ([]model.OfferView, error)

	// --- Append-only event log ---

	// AppendEvent appends an immutable event record.
	AppendEvent(ctx context.Context, e *model.EventRecord) error

	// ListEventsByObject returns all events for a market or offer ID.
	ListEventsByObject(ctx context.Context, objectID string) ([]model.EventRecord, error)

	// --- Append-only payout ledger ---

	// AppendPayout appends an immutable payout record.
	AppendPayout(ctx context.Context, p *model.PayoutRecord) error

	// ListPayoutsByRecipient returns all payouts owed to an address.
	ListPayoutsByRecipient(ctx context.Context, recipient string) ([]model.PayoutRecord, error)
}
