package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/premx/settlement-engine/internal/engine"
	"github.com/premx/settlement-engine/internal/metrics"
	"github.com/premx/settlement-engine/internal/model"
	"github.com/premx/settlement-engine/internal/store"
	"github.com/premx/settlement-engine/internal/vault"
)

type createOfferRequest struct {
	MarketID        string `json:"market_id"`
	Variant         string `json:"variant"`
	IsBuy           bool   `json:"is_buy"`
	Creator         string `json:"creator"`
	Amount          uint64 `json:"amount"`
	CollateralValue uint64 `json:"collateral_value"`
	Payment         uint64 `json:"payment"`
}

type fillOfferRequest struct {
	Filler  string `json:"filler"`
	Amount  uint64 `json:"amount"` // partial offers only; ignored for single
	Payment uint64 `json:"payment"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type settleOfferRequest struct {
	Caller    string `json:"caller"`
	AssetType string `json:"asset_type"`
	// Single offers and per-filler partial settlement deliver one value.
	AssetValue uint64 `json:"asset_value"`
	// Sell-side partial settlement delivers to every filler in one call;
	// recipients and asset_values are parallel arrays.
	Recipients  []string `json:"recipients"`
	AssetValues []uint64 `json:"asset_values"`
}

// offerResult is the mutation response: the updated offer plus the coins
// that left the engine, if any.
type offerResult struct {
	Offer   *model.OfferView `json:"offer"`
	Payouts []payoutOut      `json:"payouts,omitempty"`
}

type payoutOut struct {
	Recipient string `json:"recipient"`
	Value     uint64 `json:"value"`
}

func payoutOuts(payouts []engine.Payout) []payoutOut {
	out := make([]payoutOut, len(payouts))
	for i, p := range payouts {
		out[i] = payoutOut{Recipient: p.Recipient, Value: p.Coin.Value()}
	}
	return out
}

// offerAndMarket resolves an offer id to the in-memory offer object and its
// market. Exactly one of single/partial is non-nil on success.
func (s *Service) offerAndMarket(id string) (*engine.SingleOffer, *engine.PartialOffer, *engine.Market, error) {
	if o, ok := s.singles[id]; ok {
		m, err := s.marketByID(o.MarketID().String())
		return o, nil, m, err
	}
	if o, ok := s.partials[id]; ok {
		m, err := s.marketByID(o.MarketID().String())
		return nil, o, m, err
	}
	return nil, nil, nil, store.ErrNotFound
}

// CreateOffer handles POST /api/offers.
func (s *Service) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Variant != model.VariantSingle && req.Variant != model.VariantPartial {
		writeError(w, "variant must be single or partial", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.marketByID(req.MarketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	open, escrowed := s.exposure(req.Creator)
	if err := s.limiter.CheckCreate(open, escrowed, req.CollateralValue); err != nil {
		metrics.LimitRejections.Inc()
		writeEngineError(w, err)
		return
	}

	payment := vault.NewCoin(req.Payment)
	var view *model.OfferView
	if req.Variant == model.VariantSingle {
		o, err := engine.CreateSingleOffer(m, req.Creator, req.IsBuy, req.Amount, req.CollateralValue, payment, s.now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		s.singles[o.ID().String()] = o
		view = o.Snapshot()
	} else {
		o, err := engine.CreatePartialOffer(m, req.Creator, req.IsBuy, req.Amount, req.CollateralValue, payment, s.now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		s.partials[o.ID().String()] = o
		view = o.Snapshot()
	}
	if err := s.persist(r.Context(), m, view); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}

	side := "sell"
	if req.IsBuy {
		side = "buy"
	}
	metrics.OffersCreated.WithLabelValues(req.Variant, side).Inc()
	if fee, err := engine.FeeValue(req.CollateralValue, m.FeePct()); err == nil {
		feeMetric(req.MarketID, fee)
	}
	s.refreshGauges()
	writeJSON(w, http.StatusCreated, offerResult{Offer: view})
}

// FillOffer handles POST /api/offers/{offerID}/fill.
func (s *Service) FillOffer(w http.ResponseWriter, r *http.Request) {
	var req fillOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	single, partial, m, err := s.offerAndMarket(chi.URLParam(r, "offerID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// The filler escrows matching collateral: the full collateral on a
	// single offer, the slice's pro-rata share on a partial one.
	var delta uint64
	var view *model.OfferView
	if single != nil {
		v := single.Snapshot()
		delta = v.CollateralValue
	} else {
		v := partial.Snapshot()
		if delta, err = engine.ProRataCollateral(v.CollateralValue, v.Amount, req.Amount); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	_, escrowed := s.exposure(req.Filler)
	if err := s.limiter.CheckFill(escrowed, delta); err != nil {
		metrics.LimitRejections.Inc()
		writeEngineError(w, err)
		return
	}
	payment := vault.NewCoin(req.Payment)
	variant := model.VariantSingle
	if single != nil {
		if err := single.Fill(m, req.Filler, payment, s.now()); err != nil {
			writeEngineError(w, err)
			return
		}
		view = single.Snapshot()
	} else {
		variant = model.VariantPartial
		if err := partial.Fill(m, req.Filler, req.Amount, payment, s.now()); err != nil {
			writeEngineError(w, err)
			return
		}
		view = partial.Snapshot()
	}
	if err := s.persist(r.Context(), m, view); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}

	metrics.OffersFilled.WithLabelValues(variant).Inc()
	if fee, err := engine.FeeValue(delta, m.FeePct()); err == nil {
		feeMetric(m.ID().String(), fee)
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, offerResult{Offer: view})
}

// CancelOffer handles POST /api/offers/{offerID}/cancel.
func (s *Service) CancelOffer(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offerID := chi.URLParam(r, "offerID")
	single, partial, m, err := s.offerAndMarket(offerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var payouts []engine.Payout
	var view *model.OfferView
	if single != nil {
		if payouts, err = single.Cancel(m, req.Caller, s.now()); err != nil {
			writeEngineError(w, err)
			return
		}
		view = single.Snapshot()
	} else {
		if payouts, err = partial.Cancel(m, req.Caller, s.now()); err != nil {
			writeEngineError(w, err)
			return
		}
		view = partial.Snapshot()
	}
	if err := s.persist(r.Context(), m, view); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	s.recordPayouts(r.Context(), offerID, m.ID().String(), "refund", payouts)

	metrics.OffersCancelled.Inc()
	s.refreshGauges()
	writeJSON(w, http.StatusOK, offerResult{Offer: view, Payouts: payoutOuts(payouts)})
}

// SettleOffer handles POST /api/offers/{offerID}/settle: asset delivery
// during the settlement phase. Single offers and buy-side partial offers
// take one asset_value; sell-side partial offers take the recipients and
// asset_values arrays.
func (s *Service) SettleOffer(w http.ResponseWriter, r *http.Request) {
	var req settleOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offerID := chi.URLParam(r, "offerID")
	single, partial, m, err := s.offerAndMarket(offerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var payouts []engine.Payout
	var view *model.OfferView
	switch {
	case single != nil:
		payouts, err = single.SettleAndClose(m, req.Caller, req.AssetType, vault.NewCoin(req.AssetValue), s.now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		view = single.Snapshot()
	case len(req.Recipients) > 0 || len(req.AssetValues) > 0:
		assets := make([]vault.Coin, len(req.AssetValues))
		for i, v := range req.AssetValues {
			assets[i] = vault.NewCoin(v)
		}
		payouts, err = partial.SettleAndCloseAll(m, req.Caller, req.AssetType, req.Recipients, assets, s.now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		view = partial.Snapshot()
	default:
		payouts, err = partial.SettleAndClose(m, req.Caller, req.AssetType, vault.NewCoin(req.AssetValue), s.now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		view = partial.Snapshot()
	}
	if err := s.persist(r.Context(), m, view); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	s.recordPayouts(r.Context(), offerID, m.ID().String(), "settlement", payouts)

	metrics.OffersClosed.WithLabelValues("settlement").Inc()
	s.refreshGauges()
	writeJSON(w, http.StatusOK, offerResult{Offer: view, Payouts: payoutOuts(payouts)})
}

// CloseOffer handles POST /api/offers/{offerID}/close: escrow reclamation
// after the settlement deadline elapsed without delivery.
func (s *Service) CloseOffer(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offerID := chi.URLParam(r, "offerID")
	single, partial, m, err := s.offerAndMarket(offerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var payouts []engine.Payout
	var view *model.OfferView
	if single != nil {
		if payouts, err = single.Close(m, req.Caller, s.now()); err != nil {
			writeEngineError(w, err)
			return
		}
		view = single.Snapshot()
	} else {
		if payouts, err = partial.Close(m, req.Caller, s.now()); err != nil {
			writeEngineError(w, err)
			return
		}
		view = partial.Snapshot()
	}
	if err := s.persist(r.Context(), m, view); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	s.recordPayouts(r.Context(), offerID, m.ID().String(), "timeout_claim", payouts)

	metrics.OffersClosed.WithLabelValues("timeout").Inc()
	s.refreshGauges()
	writeJSON(w, http.StatusOK, offerResult{Offer: view, Payouts: payoutOuts(payouts)})
}

// GetOffer handles GET /api/offers/{offerID}.
func (s *Service) GetOffer(w http.ResponseWriter, r *http.Request) {
	view, err := s.store.GetOffer(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListMarketOffers handles GET /api/markets/{marketID}/offers.
func (s *Service) ListMarketOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.store.ListOffersByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if offers == nil {
		offers = []model.OfferView{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// ListAddressOffers handles GET /api/addresses/{address}/offers: every
// offer the address has created or filled.
func (s *Service) ListAddressOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.store.ListOffersByAddress(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if offers == nil {
		offers = []model.OfferView{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// ListAddressPayouts handles GET /api/addresses/{address}/payouts.
func (s *Service) ListAddressPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.store.ListPayoutsByRecipient(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if payouts == nil {
		payouts = []model.PayoutRecord{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

// ListObjectEvents handles GET /api/objects/{objectID}/events: the event
// history of one market or offer.
func (s *Service) ListObjectEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEventsByObject(r.Context(), chi.URLParam(r, "objectID"))
	if err != nil {
		writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}
