package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/premx/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.MarketView
	offers  map[string]*model.OfferView
	events  []model.EventRecord
	payouts []model.PayoutRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.MarketView),
		offers:  make(map[string]*model.OfferView),
	}
}

func (s *MemoryStore) SaveMarket(_ context.Context, m *model.MarketView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Symbol == m.Symbol && existing.ID != m.ID {
			return fmt.Errorf("market with symbol %s already exists", m.Symbol)
		}
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.MarketView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) GetMarketBySymbol(_ context.Context, symbol string) (*model.MarketView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.Symbol == symbol {
			return cloneMarket(m), nil
		}
	}
	return nil, fmt.Errorf("market with symbol %s: %w", symbol, ErrNotFound)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.MarketView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.MarketView, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *cloneMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].CreatedAt.Before(markets[j].CreatedAt) })
	return markets, nil
}

func (s *MemoryStore) SaveOffer(_ context.Context, o *model.OfferView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offers[o.ID] = cloneOffer(o)
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (*model.OfferView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, ErrNotFound)
	}
	return cloneOffer(o), nil
}

func (s *MemoryStore) ListOffersByMarket(_ context.Context, marketID string) ([]model.OfferView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OfferView
	for _, o := range s.offers {
		if o.MarketID == marketID {
			result = append(result, *cloneOffer(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) ListOffersByAddress(_ context.Context, addr string) ([]model.OfferView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OfferView
	for _, o := range s.offers {
		if offerTouchedBy(o, addr) {
			result = append(result, *cloneOffer(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEventsByObject(_ context.Context, objectID string) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.EventRecord
	for _, e := range s.events {
		if e.ObjectID == objectID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) AppendPayout(_ context.Context, p *model.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payouts = append(s.payouts, *p)
	return nil
}

func (s *MemoryStore) ListPayoutsByRecipient(_ context.Context, recipient string) ([]model.PayoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PayoutRecord
	for _, p := range s.payouts {
		if p.Recipient == recipient {
			result = append(result, p)
		}
	}
	return result, nil
}

func offerTouchedBy(o *model.OfferView, addr string) bool {
	if o.Creator == addr || (o.Filler != "" && o.Filler == addr) {
		return true
	}
	_, ok := o.Fillers[addr]
	return ok
}

// cloneMarket deep-copies a view so callers cannot mutate stored state.
func cloneMarket(m *model.MarketView) *model.MarketView {
	c := *m
	if m.SettlementEndAt != nil {
		end := *m.SettlementEndAt
		c.SettlementEndAt = &end
	}
	c.AddressIndex = make(map[string][]string, len(m.AddressIndex))
	for addr, ids := range m.AddressIndex {
		out := make([]string, len(ids))
		copy(out, ids)
		c.AddressIndex[addr] = out
	}
	c.BuyOffers = append([]string(nil), m.BuyOffers...)
	c.SellOffers = append([]string(nil), m.SellOffers...)
	c.FilledOffers = append([]string(nil), m.FilledOffers...)
	c.ClosedOffers = append([]string(nil), m.ClosedOffers...)
	return &c
}

func cloneOffer(o *model.OfferView) *model.OfferView {
	c := *o
	if o.Fillers != nil {
		c.Fillers = make(map[string]uint64, len(o.Fillers))
		for addr, amt := range o.Fillers {
			c.Fillers[addr] = amt
		}
	}
	c.FillerOrder = append([]string(nil), o.FillerOrder...)
	c.SettledFillers = append([]string(nil), o.SettledFillers...)
	return &c
}
