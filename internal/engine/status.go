package engine

// Status is the offer lifecycle state. It is a closed set: every transition
// function matches exhaustively against it and rejects anything else.
type Status string

const (
	// StatusActive — created, escrowing the creator's collateral, open
	// to cancellation or filling.
	StatusActive Status = "active"

	// StatusPartialFilled — a partial offer with some but not all of its
	// amount filled.
	StatusPartialFilled Status = "partial_filled"

	// StatusFilled — fully filled, both sides' collateral escrowed,
	// awaiting settlement or timeout.
	StatusFilled Status = "filled"

	// StatusCancelled — cancelled before any fill; vault drained. Terminal.
	StatusCancelled Status = "cancelled"

	// StatusPartialCancelled — the unfilled remainder was cancelled after
	// a partial fill; the filled portion continues through settlement or
	// timeout closure.
	StatusPartialCancelled Status = "partial_cancelled"

	// StatusPartialClosed — some fillers of a partial offer have settled
	// or claimed; escrow remains for the rest.
	StatusPartialClosed Status = "partial_closed"

	// StatusClosed — settled or timed out with the vault drained to zero.
	// Terminal.
	StatusClosed Status = "closed"
)

// Phase is the market's settlement phase, computed from the stored deadline
// and a supplied clock reading — never stored as its own field.
type Phase string

const (
	// PhaseActive — no settlement deadline set; offers may be created,
	// filled and cancelled.
	PhaseActive Phase = "active"

	// PhaseSettlement — deadline set and not yet elapsed; filled offers
	// must deliver the off-ledger asset.
	PhaseSettlement Phase = "settlement"

	// PhaseClosed — deadline elapsed without delivery; non-defaulting
	// parties reclaim escrow.
	PhaseClosed Phase = "closed"
)

// closable reports whether a partial offer may be settled or timeout-closed
// from this status.
func closable(s Status) bool {
	switch s {
	case StatusFilled, StatusPartialFilled, StatusPartialCancelled, StatusPartialClosed:
		return true
	}
	return false
}
