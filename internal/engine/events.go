package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/premx/settlement-engine/internal/vault"
)

// EventType identifies a state transition.
type EventType string

const (
	EventMarketCreated      EventType = "market_created"
	EventMarketSettlement   EventType = "market_settlement"
	EventMarketUnsettlement EventType = "market_unsettlement"
	EventMarketClosed       EventType = "market_closed"
	EventOfferCreated       EventType = "offer_created"
	EventOfferCanceled      EventType = "offer_canceled"
	EventOfferFilled        EventType = "offer_filled"
	EventOfferClosed        EventType = "offer_closed"
)

// Event is a fire-and-forget notification carrying the object identifier
// only. Off-chain consumers look the object up themselves; the engine has
// no dependency on delivery.
type Event struct {
	Type     EventType
	ObjectID uuid.UUID
	At       time.Time
}

// Emitter receives events. Nil emitters are allowed and mean "discard".
type Emitter func(Event)

// Payout is a currency handle leaving the engine for a recipient address.
// The actual transfer is the host boundary; callers must deliver every
// payout they receive to exactly its named recipient.
type Payout struct {
	Recipient string
	Coin      vault.Coin
}
