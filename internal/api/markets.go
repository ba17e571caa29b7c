package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/premx/settlement-engine/internal/engine"
	"github.com/premx/settlement-engine/internal/metrics"
	"github.com/premx/settlement-engine/internal/model"
)

type createMarketRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Symbol string `json:"symbol"`
	FeePct uint64 `json:"fee_pct"`
}

type enterSettlementRequest struct {
	CoinType     string `json:"coin_type"`
	CoinDecimals uint32 `json:"coin_decimals"`
}

type withdrawFeesRequest struct {
	Recipient string `json:"recipient"`
}

// MarketStats is the derived statistics view for one market. Prices are
// decimal ratios computed from the integer aggregates; the engine itself
// never does fractional arithmetic.
type MarketStats struct {
	MarketID         string          `json:"market_id"`
	Symbol           string          `json:"symbol"`
	Phase            string          `json:"phase"`
	FeeRate          decimal.Decimal `json:"fee_rate"`
	FeeBalance       uint64          `json:"fee_balance"`
	BuyValue         uint64          `json:"buy_value"`
	BuyAmount        uint64          `json:"buy_amount"`
	SellValue        uint64          `json:"sell_value"`
	SellAmount       uint64          `json:"sell_amount"`
	TradedValue      uint64          `json:"traded_value"`
	TradedAmount     uint64          `json:"traded_amount"`
	ImpliedUnitPrice decimal.Decimal `json:"implied_unit_price"`
}

// CreateMarket handles POST /api/markets. Admin-only.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	cap, ok := s.adminCap(r)
	if !ok {
		writeError(w, "admin token required", http.StatusForbidden)
		return
	}
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Symbol() == req.Symbol {
			writeError(w, "symbol already registered", http.StatusConflict)
			return
		}
	}
	m, err := engine.NewMarket(cap, req.Name, req.URL, req.Symbol, req.FeePct, s.now(), s.emit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.persist(r.Context(), m); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	s.markets[m.ID().String()] = m
	s.refreshGauges()
	writeJSON(w, http.StatusCreated, m.Snapshot(s.now()))
}

// EnterSettlement handles POST /api/markets/{marketID}/settlement.
// Admin-only; records the delivery asset and starts the settlement window.
func (s *Service) EnterSettlement(w http.ResponseWriter, r *http.Request) {
	cap, ok := s.adminCap(r)
	if !ok {
		writeError(w, "admin token required", http.StatusForbidden)
		return
	}
	var req enterSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.marketByID(chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := m.EnterSettlement(cap, req.CoinType, req.CoinDecimals, s.now()); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.persist(r.Context(), m); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot(s.now()))
}

// Unsettle handles DELETE /api/markets/{marketID}/settlement. Admin-only;
// reverts a settlement entered in error.
func (s *Service) Unsettle(w http.ResponseWriter, r *http.Request) {
	cap, ok := s.adminCap(r)
	if !ok {
		writeError(w, "admin token required", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.marketByID(chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := m.Unsettle(cap, s.now()); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.persist(r.Context(), m); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot(s.now()))
}

// CloseMarket handles POST /api/markets/{marketID}/close. Admin-only;
// force-expires the settlement window.
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	cap, ok := s.adminCap(r)
	if !ok {
		writeError(w, "admin token required", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.marketByID(chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := m.Close(cap, s.now()); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.persist(r.Context(), m); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	s.refreshGauges()
	writeJSON(w, http.StatusOK, m.Snapshot(s.now()))
}

// WithdrawFees handles POST /api/markets/{marketID}/withdraw-fees.
// Admin-only; drains the fee vault to the named recipient.
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	cap, ok := s.adminCap(r)
	if !ok {
		writeError(w, "admin token required", http.StatusForbidden)
		return
	}
	var req withdrawFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Recipient == "" {
		writeError(w, "recipient is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.marketByID(chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	coin, err := m.WithdrawFees(cap)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.persist(r.Context(), m); err != nil {
		writeError(w, "persist failed", http.StatusInternalServerError)
		return
	}
	payouts := []engine.Payout{{Recipient: req.Recipient, Coin: coin}}
	s.recordPayouts(r.Context(), "", m.ID().String(), "fees", payouts)
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": m.ID().String(),
		"recipient": req.Recipient,
		"value":     coin.Value(),
	})
}

// ListMarkets handles GET /api/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	views, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if views == nil {
		views = []model.MarketView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// GetMarket handles GET /api/markets/{marketID}. The identifier may be a
// market id or a symbol.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "marketID")
	view, err := s.store.GetMarket(r.Context(), key)
	if err != nil {
		view, err = s.store.GetMarketBySymbol(r.Context(), key)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetMarketStats handles GET /api/markets/{marketID}/stats.
func (s *Service) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m, err := s.marketByID(chi.URLParam(r, "marketID"))
	if err != nil {
		s.mu.Unlock()
		writeEngineError(w, err)
		return
	}
	v := m.Snapshot(s.now())
	s.mu.Unlock()

	stats := MarketStats{
		MarketID:     v.ID,
		Symbol:       v.Symbol,
		Phase:        v.Phase,
		FeeRate:      decimal.NewFromUint64(v.FeePct).Div(decimal.NewFromInt(100)),
		FeeBalance:   v.FeeBalance,
		BuyValue:     v.BuyValue,
		BuyAmount:    v.BuyAmount,
		SellValue:    v.SellValue,
		SellAmount:   v.SellAmount,
		TradedValue:  v.TradedValue,
		TradedAmount: v.TradedAmount,
	}
	if v.TradedAmount > 0 {
		stats.ImpliedUnitPrice = decimal.NewFromUint64(v.TradedValue).
			Div(decimal.NewFromUint64(v.TradedAmount)).Round(6)
	}
	writeJSON(w, http.StatusOK, stats)
}

// feeMetric records a collected fee against the per-market counter.
func feeMetric(marketID string, fee uint64) {
	if fee > 0 {
		metrics.FeesCollected.WithLabelValues(marketID).Add(float64(fee))
	}
}
