package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/premx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary. The append-only ledgers are
// never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveMarket(ctx context.Context, m *model.MarketView) error {
	if err := s.primary.SaveMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SaveOffer(ctx context.Context, o *model.OfferView) error {
	if err := s.primary.SaveOffer(ctx, o); err != nil {
		return err
	}
	s.cacheOffer(ctx, o)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.MarketView, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.MarketView
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.MarketView, error) {
	// Try cache via symbol→marketID mapping.
	marketID, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetOffer(ctx context.Context, id string) (*model.OfferView, error) {
	data, err := s.rdb.Get(ctx, offerKey(id)).Bytes()
	if err == nil {
		var o model.OfferView
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOffer(ctx, o)
	return o, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.MarketView, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListOffersByMarket(ctx context.Context, marketID string) ([]model.OfferView, error) {
	return s.primary.ListOffersByMarket(ctx, marketID)
}

func (s *CachedStore) ListOffersByAddress(ctx context.Context, addr string) ([]model.OfferView, error) {
	return s.primary.ListOffersByAddress(ctx, addr)
}

func (s *CachedStore) AppendEvent(ctx context.Context, e *model.EventRecord) error {
	return s.primary.AppendEvent(ctx, e)
}

func (s *CachedStore) ListEventsByObject(ctx context.Context, objectID string) ([]model.EventRecord, error) {
	return s.primary.ListEventsByObject(ctx, objectID)
}

func (s *CachedStore) AppendPayout(ctx context.Context, p *model.PayoutRecord) error {
	return s.primary.AppendPayout(ctx, p)
}

func (s *CachedStore) ListPayoutsByRecipient(ctx context.Context, recipient string) ([]model.PayoutRecord, error) {
	return s.primary.ListPayoutsByRecipient(ctx, recipient)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.MarketView) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
		s.rdb.Set(ctx, symbolKey(m.Symbol), m.ID, s.ttl)
	}
}

func (s *CachedStore) cacheOffer(ctx context.Context, o *model.OfferView) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, offerKey(o.ID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func symbolKey(symbol string) string { return fmt.Sprintf("symbol:%s", symbol) }
func offerKey(id string) string      { return fmt.Sprintf("offer:%s", id) }
