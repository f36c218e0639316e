package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradepost/domain/orderbook"
	"tradepost/wire"
)

type State int

const (
	Proposed State = iota
	Negotiating
	Locking
	LockedSelf
	WaitingCounterLock
	BothLocked
	Claiming
	Settled
	Aborted
	Refunding
	Refunded
	// Stuck means claim or refund retries were exhausted: funds may still
	// be time-locked and an operator has to intervene.
	Stuck
)

func (s State) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Negotiating:
		return "negotiating"
	case Locking:
		return "locking"
	case LockedSelf:
		return "locked_self"
	case WaitingCounterLock:
		return "waiting_counter_lock"
	case BothLocked:
		return "both_locked"
	case Claiming:
		return "claiming"
	case Settled:
		return "settled"
	case Aborted:
		return "aborted"
	case Refunding:
		return "refunding"
	case Refunded:
		return "refunded"
	case Stuck:
		return "stuck"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case Settled, Aborted, Refunded:
		return true
	default:
		return false
	}
}

type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Terms are the exact conditions both parties must agree on. Any
// divergence between proposal and acceptance aborts the session.
type Terms struct {
	Asset    string
	Quantity int64
	Price    int64
}

// OrderRef identifies one order in the ledger.
type OrderRef struct {
	Account  string
	Sequence uint64
}

var errSessionClosed = errors.New("settlement: session closed")

// Session is one in-flight trade negotiation, owned by a single
// coordinator goroutine. External readers go through Info().
type Session struct {
	ID           string
	Role         Role
	Terms        Terms
	Counterparty string

	// LocalOrder is always this node's order; RemoteOrder is the
	// counterparty's announcement as known to the local ledger.
	LocalOrder  OrderRef
	RemoteOrder OrderRef

	secret     [32]byte
	commitment [32]byte

	// localSide is captured when the ledger lock succeeds, since a fully
	// settled order leaves the ledger before history is written.
	localSide orderbook.Side

	selfLock    LockHandle
	counterLock LockHandle

	mu    sync.Mutex
	state State

	inbox chan *wire.Envelope
	done  chan struct{}
	err   error
}

func newSession(id string, role Role, terms Terms, counterparty string) *Session {
	return &Session{
		ID:           id,
		Role:         role,
		Terms:        terms,
		Counterparty: counterparty,
		state:        Proposed,
		inbox:        make(chan *wire.Envelope, 8),
		done:         make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Done closes when the session reaches a terminal or stuck state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session failed, nil after Settled.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// deliver hands a protocol message to the session goroutine. Messages to
// a busy session are dropped rather than blocking the synchronizer.
func (s *Session) deliver(env *wire.Envelope) bool {
	select {
	case s.inbox <- env:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// await waits for the next protocol message, bounded by the timeout.
func (s *Session) await(ctx context.Context, timeout time.Duration) (*wire.Envelope, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case env := <-s.inbox:
		return env, nil
	case <-t.C:
		return nil, ErrResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info is the read-only external view of a session.
type Info struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	State        string `json:"state"`
	Counterparty string `json:"counterparty"`
	Asset        string `json:"asset"`
	Quantity     int64  `json:"quantity"`
	Price        int64  `json:"price"`
}

func (s *Session) Info() Info {
	return Info{
		ID:           s.ID,
		Role:         s.Role.String(),
		State:        s.State().String(),
		Counterparty: s.Counterparty,
		Asset:        s.Terms.Asset,
		Quantity:     s.Terms.Quantity,
		Price:        s.Terms.Price,
	}
}
