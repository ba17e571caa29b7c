// Package engine implements the pre-market escrow core: the Market registry,
// the Single and Partial offer state machines, and the fee/collateral split
// utilities they share.
//
// Every operation validates all of its preconditions before the first
// mutation, so a failed call leaves every object exactly as it was. Clocks
// are always explicit parameters; phase is a pure function of stored state
// and the supplied reading.
package engine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/premx/settlement-engine/internal/vault"
)

// AdminCap is the unforgeable admin credential. It is minted once at wiring
// time and passed explicitly to every privileged market operation — a
// capability parameter, not a role lookup.
type AdminCap struct {
	valid bool
}

// MintAdminCap mints the process's admin capability.
func MintAdminCap() *AdminCap {
	return &AdminCap{valid: true}
}

func authorize(cap *AdminCap) error {
	if cap == nil || !cap.valid {
		return ErrUnauthorized
	}
	return nil
}

var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

const (
	maxNameLen = 128
	maxURLLen  = 512
)

// Market is the long-lived registry for one tradable pair. It owns the fee
// schedule, the fee vault, the settlement clock fields, aggregate volume
// statistics, and the address → offer index.
//
// Offers reference a Market by identifier only; the Market holds offer
// identifiers, never offer objects. Its mutators below the admin surface
// are unexported and reachable only from the offer state machines in this
// package.
type Market struct {
	id        uuid.UUID
	name      string
	url       string
	symbol    string
	feePct    uint64
	fees      *vault.Vault
	createdAt time.Time

	// Settlement fields, set at EnterSettlement, cleared at Unsettle.
	coinType        string
	coinDecimals    uint32
	settlementEndAt *time.Time

	// Aggregates. Incremented on create/fill, decremented only for the
	// unfilled remainder on cancel (checked subtraction).
	buyValue     uint64
	buyAmount    uint64
	sellValue    uint64
	sellAmount   uint64
	tradedValue  uint64
	tradedAmount uint64

	addressIndex map[string][]uuid.UUID
	buyOffers    map[uuid.UUID]struct{}
	sellOffers   map[uuid.UUID]struct{}
	filledOffers map[uuid.UUID]struct{}
	closedOffers map[uuid.UUID]struct{}

	emit Emitter
}

// NewMarket creates a market. Admin-only. Fee percentage is fixed at
// creation; there is no runtime setter.
func NewMarket(cap *AdminCap, name, url, symbol string, feePct uint64, now time.Time, emit Emitter) (*Market, error) {
	if err := authorize(cap); err != nil {
		return nil, err
	}
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name length %d", ErrInvalidMarket, len(name))
	}
	if len(url) > maxURLLen {
		return nil, fmt.Errorf("%w: url length %d", ErrInvalidMarket, len(url))
	}
	if !symbolRegex.MatchString(symbol) {
		return nil, fmt.Errorf("%w: symbol %q", ErrInvalidMarket, symbol)
	}
	if feePct > 100 {
		return nil, fmt.Errorf("%w: fee percentage %d", ErrInvalidMarket, feePct)
	}

	m := &Market{
		id:           uuid.New(),
		name:         name,
		url:          url,
		symbol:       symbol,
		feePct:       feePct,
		fees:         vault.New(),
		createdAt:    now,
		addressIndex: make(map[string][]uuid.UUID),
		buyOffers:    make(map[uuid.UUID]struct{}),
		sellOffers:   make(map[uuid.UUID]struct{}),
		filledOffers: make(map[uuid.UUID]struct{}),
		closedOffers: make(map[uuid.UUID]struct{}),
		emit:         emit,
	}
	m.emitEvent(EventMarketCreated, m.id, now)
	return m, nil
}

// ID returns the market's immutable identifier.
func (m *Market) ID() uuid.UUID {
	return m.id
}

// Symbol returns the market's trading symbol.
func (m *Market) Symbol() string {
	return m.symbol
}

// FeePct returns the fee percentage charged on every offer's collateral.
func (m *Market) FeePct() uint64 {
	return m.feePct
}

// FeeBalance returns the accumulated, un-withdrawn fees.
func (m *Market) FeeBalance() uint64 {
	return m.fees.Value()
}

// Phase computes the market phase from the stored deadline and the supplied
// clock reading. Closed is reachable only through Settlement: with no
// deadline set the market is Active no matter how much time passes.
func (m *Market) Phase(now time.Time) Phase {
	if m.settlementEndAt == nil {
		return PhaseActive
	}
	if now.After(*m.settlementEndAt) {
		return PhaseClosed
	}
	return PhaseSettlement
}

// EnterSettlement moves the market from Active to Settlement, recording the
// expected delivery asset's type descriptor and decimal precision and
// setting the deadline to now plus the fixed settlement window. Admin-only.
func (m *Market) EnterSettlement(cap *AdminCap, coinType string, coinDecimals uint32, now time.Time) error {
	if err := authorize(cap); err != nil {
		return err
	}
	if err := m.assertActive(now); err != nil {
		return err
	}
	if coinType == "" {
		return fmt.Errorf("%w: empty coin type", ErrInvalidMarket)
	}

	end := now.Add(SettlementWindow)
	m.coinType = coinType
	m.coinDecimals = coinDecimals
	m.settlementEndAt = &end
	m.emitEvent(EventMarketSettlement, m.id, now)
	return nil
}

// Unsettle clears the settlement fields and returns the market to Active —
// the admin escape hatch for a settlement entered in error.
func (m *Market) Unsettle(cap *AdminCap, now time.Time) error {
	if err := authorize(cap); err != nil {
		return err
	}
	if err := m.assertSettlement(now); err != nil {
		return err
	}

	m.coinType = ""
	m.coinDecimals = 0
	m.settlementEndAt = nil
	m.emitEvent(EventMarketUnsettlement, m.id, now)
	return nil
}

// Close force-sets the settlement deadline to now, overriding the natural
// timeout. The phase flips to Closed from the next clock reading onward.
func (m *Market) Close(cap *AdminCap, now time.Time) error {
	if err := authorize(cap); err != nil {
		return err
	}
	if err := m.assertSettlement(now); err != nil {
		return err
	}

	end := now
	m.settlementEndAt = &end
	m.emitEvent(EventMarketClosed, m.id, now)
	return nil
}

// WithdrawFees drains the fee vault. Admin-only, allowed in any phase.
func (m *Market) WithdrawFees(cap *AdminCap) (vault.Coin, error) {
	if err := authorize(cap); err != nil {
		return vault.Coin{}, err
	}
	return m.fees.WithdrawAll(), nil
}

// OffersByAddress returns the offer identifiers the address has touched,
// in insertion order.
func (m *Market) OffersByAddress(addr string) []uuid.UUID {
	ids := m.addressIndex[addr]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

// --- package-internal mutators, called only by the offer state machines ---

// addOffer registers an offer touch: appends the id to the sender's index
// (skipped if already present), classifies the id into the buy/sell or
// filled set, updates the aggregates, and merges the fee into the fee
// vault. isBuy is the side being registered — a fill passes the opposite
// of the offer's direction, since the filler takes the opposite position.
func (m *Market) addOffer(id uuid.UUID, isBuy, isFill bool, value, amount uint64, fee vault.Coin, sender string) error {
	// All checked arithmetic up front; mutate only after everything passed.
	var err error
	buyValue, buyAmount := m.buyValue, m.buyAmount
	sellValue, sellAmount := m.sellValue, m.sellAmount
	tradedValue, tradedAmount := m.tradedValue, m.tradedAmount

	if isBuy {
		if buyValue, err = addU64(buyValue, value); err != nil {
			return err
		}
		if buyAmount, err = addU64(buyAmount, amount); err != nil {
			return err
		}
	} else {
		if sellValue, err = addU64(sellValue, value); err != nil {
			return err
		}
		if sellAmount, err = addU64(sellAmount, amount); err != nil {
			return err
		}
	}
	if isFill {
		if tradedValue, err = addU64(tradedValue, value); err != nil {
			return err
		}
		if tradedAmount, err = addU64(tradedAmount, amount); err != nil {
			return err
		}
	}
	if err := m.fees.Deposit(fee); err != nil {
		return err
	}

	m.buyValue, m.buyAmount = buyValue, buyAmount
	m.sellValue, m.sellAmount = sellValue, sellAmount
	m.tradedValue, m.tradedAmount = tradedValue, tradedAmount

	m.indexAddress(sender, id)
	if isFill {
		m.filledOffers[id] = struct{}{}
	} else if isBuy {
		m.buyOffers[id] = struct{}{}
	} else {
		m.sellOffers[id] = struct{}{}
	}
	return nil
}

// cancelOffer reverses the value/amount contribution of an offer's unfilled
// portion. Checked subtraction: underflow means the caller mis-derived the
// unfilled portion and the whole operation must abort.
func (m *Market) cancelOffer(id uuid.UUID, isBuy bool, value, amount uint64) error {
	if isBuy {
		newValue, err := subU64(m.buyValue, value)
		if err != nil {
			return fmt.Errorf("%w: buy aggregate underflow on cancel of %s", err, id)
		}
		newAmount, err := subU64(m.buyAmount, amount)
		if err != nil {
			return fmt.Errorf("%w: buy aggregate underflow on cancel of %s", err, id)
		}
		m.buyValue, m.buyAmount = newValue, newAmount
		return nil
	}
	newValue, err := subU64(m.sellValue, value)
	if err != nil {
		return fmt.Errorf("%w: sell aggregate underflow on cancel of %s", err, id)
	}
	newAmount, err := subU64(m.sellAmount, amount)
	if err != nil {
		return fmt.Errorf("%w: sell aggregate underflow on cancel of %s", err, id)
	}
	m.sellValue, m.sellAmount = newValue, newAmount
	return nil
}

// closeOffer records an offer id in the closed set.
func (m *Market) closeOffer(id uuid.UUID) {
	m.closedOffers[id] = struct{}{}
}

// indexAddress appends the offer id to the address index, insert-if-absent.
func (m *Market) indexAddress(addr string, id uuid.UUID) {
	for _, existing := range m.addressIndex[addr] {
		if existing == id {
			return
		}
	}
	m.addressIndex[addr] = append(m.addressIndex[addr], id)
}

// --- phase and settlement-type guards ---

func (m *Market) assertActive(now time.Time) error {
	if p := m.Phase(now); p != PhaseActive {
		return fmt.Errorf("%w: market is %s, want %s", ErrInvalidPhase, p, PhaseActive)
	}
	return nil
}

func (m *Market) assertSettlement(now time.Time) error {
	if p := m.Phase(now); p != PhaseSettlement {
		return fmt.Errorf("%w: market is %s, want %s", ErrInvalidPhase, p, PhaseSettlement)
	}
	return nil
}

func (m *Market) assertClosed(now time.Time) error {
	if p := m.Phase(now); p != PhaseClosed {
		return fmt.Errorf("%w: market is %s, want %s", ErrInvalidPhase, p, PhaseClosed)
	}
	return nil
}

// assertCoinType checks a presented settlement-asset descriptor against the
// one recorded at EnterSettlement. The descriptor is opaque — compared,
// never inspected.
func (m *Market) assertCoinType(coinType string) error {
	if coinType != m.coinType {
		return fmt.Errorf("%w: asset type %q, want %q", ErrSettlementMismatch, coinType, m.coinType)
	}
	return nil
}

func (m *Market) emitEvent(typ EventType, id uuid.UUID, at time.Time) {
	if m.emit != nil {
		m.emit(Event{Type: typ, ObjectID: id, At: at})
	}
}
