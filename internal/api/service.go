// Package api provides the HTTP handlers and host-boundary glue for the
// settlement engine: request decoding, admin capability resolution, payout
// ledger recording, and event broadcasting.
//
// Engine state is authoritative in memory and serialized behind a mutex;
// the store holds snapshots plus the append-only event and payout ledgers
// and is replayed into the engine at startup.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/premx/settlement-engine/internal/engine"
	"github.com/premx/settlement-engine/internal/limits"
	"github.com/premx/settlement-engine/internal/metrics"
	"github.com/premx/settlement-engine/internal/model"
	"github.com/premx/settlement-engine/internal/store"
	"github.com/premx/settlement-engine/internal/vault"
)

// Service handles market and offer operations. Uses a mutex for serialized
// engine execution (single-instance). For horizontal scaling, replace with
// distributed locking over the snapshot store.
type Service struct {
	store      store.Store
	limiter    *limits.ExposureLimiter
	wsHub      *WSHub // optional WebSocket hub for real-time broadcasts
	admin      *engine.AdminCap
	adminToken string
	nowFn      func() time.Time

	mu       sync.Mutex
	markets  map[string]*engine.Market
	singles  map[string]*engine.SingleOffer
	partials map[string]*engine.PartialOffer
}

// NewService creates a new settlement service. The admin capability is
// minted here, once, and resolved only through the admin token.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *limits.ExposureLimiter, hub *WSHub, adminToken string) *Service {
	return &Service{
		store:      st,
		limiter:    limiter,
		wsHub:      hub,
		admin:      engine.MintAdminCap(),
		adminToken: adminToken,
		nowFn:      time.Now,
		markets:    make(map[string]*engine.Market),
		singles:    make(map[string]*engine.SingleOffer),
		partials:   make(map[string]*engine.PartialOffer),
	}
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

// Load rehydrates engine state from persisted snapshots. Called once at
// startup, before the service starts answering requests.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	views, err := s.store.ListMarkets(ctx)
	if err != nil {
		return err
	}
	for i := range views {
		m, err := engine.MarketFromView(&views[i], s.emit)
		if err != nil {
			return err
		}
		s.markets[views[i].ID] = m

		offers, err := s.store.ListOffersByMarket(ctx, views[i].ID)
		if err != nil {
			return err
		}
		for j := range offers {
			switch offers[j].Variant {
			case model.VariantSingle:
				o, err := engine.SingleOfferFromView(&offers[j])
				if err != nil {
					return err
				}
				s.singles[offers[j].ID] = o
			case model.VariantPartial:
				o, err := engine.PartialOfferFromView(&offers[j])
				if err != nil {
					return err
				}
				s.partials[offers[j].ID] = o
			}
		}
	}
	s.refreshGauges()
	slog.Info("engine state rehydrated",
		"markets", len(s.markets),
		"single_offers", len(s.singles),
		"partial_offers", len(s.partials),
	)
	return nil
}

// emit persists an engine event and broadcasts it. Fire-and-forget: the
// engine does not depend on delivery.
func (s *Service) emit(e engine.Event) {
	record := &model.EventRecord{
		ID:       uuid.New().String(),
		Type:     string(e.Type),
		ObjectID: e.ObjectID.String(),
		At:       e.At,
	}
	if err := s.store.AppendEvent(context.Background(), record); err != nil {
		slog.Error("event append failed", "type", record.Type, "object", record.ObjectID, "err", err)
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     record.Type,
			ObjectID: record.ObjectID,
			At:       e.At,
		})
	}
}

// recordPayouts writes one payout-ledger row per coin leaving the engine.
// The transfer itself is the host boundary; the ledger is the record of
// what is owed to whom.
func (s *Service) recordPayouts(ctx context.Context, offerID, marketID, reason string, payouts []engine.Payout) {
	for _, p := range payouts {
		record := &model.PayoutRecord{
			ID:        uuid.New().String(),
			OfferID:   offerID,
			MarketID:  marketID,
			Recipient: p.Recipient,
			Value:     p.Coin.Value(),
			Reason:    reason,
			At:        s.now(),
		}
		if err := s.store.AppendPayout(ctx, record); err != nil {
			slog.Error("payout append failed", "recipient", p.Recipient, "value", p.Coin.Value(), "err", err)
		}
	}
}

// persist snapshots a market and any offers after a successful operation.
func (s *Service) persist(ctx context.Context, m *engine.Market, offers ...*model.OfferView) error {
	if err := s.store.SaveMarket(ctx, m.Snapshot(s.now())); err != nil {
		return err
	}
	for _, o := range offers {
		if err := s.store.SaveOffer(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// refreshGauges recomputes the escrow and active-market gauges from the
// in-memory state. The maps are small; a full walk keeps the gauges exact.
func (s *Service) refreshGauges() {
	var escrowed uint64
	for _, o := range s.singles {
		escrowed += o.Balance()
	}
	for _, o := range s.partials {
		escrowed += o.Balance()
	}
	metrics.EscrowedValue.Set(float64(escrowed))

	now := s.now()
	active := 0
	for _, m := range s.markets {
		if m.Phase(now) != engine.PhaseClosed {
			active++
		}
	}
	metrics.ActiveMarkets.Set(float64(active))
}

// exposure computes an address's open-offer count and escrowed collateral
// from in-memory state, for the limiter.
func (s *Service) exposure(addr string) (openOffers int, escrowed uint64) {
	for _, o := range s.singles {
		v := o.Snapshot()
		if terminal(v.Status) {
			continue
		}
		if v.Creator == addr || v.Filler == addr {
			openOffers++
			escrowed += v.CollateralValue
		}
	}
	for _, o := range s.partials {
		v := o.Snapshot()
		if terminal(v.Status) {
			continue
		}
		if v.Creator == addr {
			openOffers++
			escrowed += v.CollateralValue
		} else if part, ok := v.Fillers[addr]; ok {
			openOffers++
			if pro, err := engine.ProRataCollateral(v.CollateralValue, v.Amount, part); err == nil {
				escrowed += pro
			}
		}
	}
	return openOffers, escrowed
}

func terminal(status string) bool {
	switch engine.Status(status) {
	case engine.StatusCancelled, engine.StatusClosed:
		return true
	}
	return false
}

// adminCap resolves the X-Admin-Token header to the process's admin
// capability. An unset ADMIN_TOKEN disables the whole admin surface.
func (s *Service) adminCap(r *http.Request) (*engine.AdminCap, bool) {
	if s.adminToken == "" {
		return nil, false
	}
	if r.Header.Get("X-Admin-Token") != s.adminToken {
		return nil, false
	}
	return s.admin, true
}

// marketByID looks up an in-memory market by its path parameter.
func (s *Service) marketByID(id string) (*engine.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

// --- error mapping ---

// statusFor maps engine/store/limiter errors onto HTTP statuses: bad
// parameters are 400, missing roles or capabilities 403, unknown objects
// 404, and precondition failures (phase, offer state, exposure limits) 409.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidPhase),
		errors.Is(err, engine.ErrInvalidOfferState),
		errors.Is(err, limits.ErrOpenOffersExceeded),
		errors.Is(err, limits.ErrEscrowExceeded):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidCollateral),
		errors.Is(err, engine.ErrPaymentMismatch),
		errors.Is(err, engine.ErrSettlementMismatch),
		errors.Is(err, engine.ErrVectorLengthMismatch),
		errors.Is(err, engine.ErrInvalidMarket),
		errors.Is(err, engine.ErrOverflow),
		errors.Is(err, vault.ErrInsufficient),
		errors.Is(err, vault.ErrOverflow):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
