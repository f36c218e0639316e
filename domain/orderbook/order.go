package orderbook

import "time"

type Side int
type State int

const (
	Buy Side = iota
	Sell
)

const (
	Open State = iota
	Locked
	Settled
	Cancelled
	Expired
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Locked:
		return "locked"
	case Settled:
		return "settled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is a pure domain entity: one resting intention to trade.
// Identity is (Account, Sequence); everything except State and Quantity
// (partial-fill remainder) is immutable after creation.
type Order struct {
	Account  string
	Asset    string
	Side     Side
	Quantity int64
	Price    int64
	Sequence uint64

	State     State
	SessionID string // set while Locked
	CreatedAt time.Time
}

// Event is one reconciliation input for the ledger.
type EventKind int

const (
	EventAnnounce EventKind = iota
	EventRetract
)

type Event struct {
	Kind    EventKind
	Account string

	// Announce fields.
	Asset    string
	Side     Side
	Quantity int64
	Price    int64

	// Sequence identifies the order for both kinds.
	Sequence uint64
}

// Delta describes one externally visible ledger change.
type DeltaKind int

const (
	OrderAdded DeltaKind = iota
	OrderRemoved
	OrderUpdated
)

type Delta struct {
	Kind  DeltaKind
	Order Order
}
