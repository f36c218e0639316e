package orderbook

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrStaleSequence marks an announce at or below the watermark for its
	// (account, asset) pair. Idempotent replay, not a fault.
	ErrStaleSequence = errors.New("orderbook: stale sequence")

	// ErrNoSuchOrder marks a retract with no matching open order.
	ErrNoSuchOrder = errors.New("orderbook: no such order")

	// ErrOrderUnavailable marks a lock attempt on an order that is not open.
	ErrOrderUnavailable = errors.New("orderbook: order unavailable")

	// ErrNotSessionOwner marks a release/settle by a session that does not
	// hold the order's lock.
	ErrNotSessionOwner = errors.New("orderbook: order locked by another session")
)

/*
Ledger is the single shared mutable structure of the node.

All writes pass through Apply / Lock / Release / Settle / EvictAccount,
serialized by one mutex. Reads build value snapshots and never hand out
pointers into the indexes, so callers can hold results without blocking
reconciliation.
*/
type Ledger struct {
	mu sync.Mutex

	// byAccount: account -> sequence -> order (open or locked only).
	byAccount map[string]map[uint64]*Order

	// byAsset: asset -> account -> sequence -> order.
	byAsset map[string]map[string]map[uint64]*Order

	// watermark: account -> asset -> highest accepted sequence. Never
	// forgotten, so replayed announcements reconcile to no-ops.
	watermark map[string]map[string]uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		byAccount: make(map[string]map[uint64]*Order),
		byAsset:   make(map[string]map[string]map[uint64]*Order),
		watermark: make(map[string]map[string]uint64),
	}
}

// Apply reconciles one announce/retract event into the ledger.
// The returned delta is valid only when err is nil.
func (l *Ledger) Apply(ev Event) (Delta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Kind {
	case EventAnnounce:
		return l.applyAnnounce(ev)
	case EventRetract:
		return l.applyRetract(ev)
	default:
		return Delta{}, ErrNoSuchOrder
	}
}

func (l *Ledger) applyAnnounce(ev Event) (Delta, error) {
	if ev.Sequence <= l.watermark[ev.Account][ev.Asset] {
		return Delta{}, ErrStaleSequence
	}
	// (account, sequence) is the order's identity. A peer that numbers
	// each asset independently can pass the per-asset watermark with a
	// sequence that is still live under another asset; accepting it would
	// leave the two indexes pointing at different orders.
	if l.byAccount[ev.Account][ev.Sequence] != nil {
		return Delta{}, ErrStaleSequence
	}

	o := &Order{
		Account:   ev.Account,
		Asset:     ev.Asset,
		Side:      ev.Side,
		Quantity:  ev.Quantity,
		Price:     ev.Price,
		Sequence:  ev.Sequence,
		State:     Open,
		CreatedAt: time.Now(),
	}

	l.insert(o)
	l.bumpWatermark(ev.Account, ev.Asset, ev.Sequence)

	return Delta{Kind: OrderAdded, Order: *o}, nil
}

func (l *Ledger) applyRetract(ev Event) (Delta, error) {
	o := l.byAccount[ev.Account][ev.Sequence]
	if o == nil || o.State != Open {
		// Retract-before-announce lands here as well: the later announce
		// with the lower sequence is itself stale and gets dropped, so
		// no tombstone is needed.
		return Delta{}, ErrNoSuchOrder
	}

	o.State = Cancelled
	l.remove(o)
	return Delta{Kind: OrderRemoved, Order: *o}, nil
}

// Lock reserves an order for a swap session. This is the single mutation
// point that serializes concurrent match attempts on the same order.
func (l *Ledger) Lock(account string, seq uint64, sessionID string) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o := l.byAccount[account][seq]
	if o == nil {
		return Order{}, ErrNoSuchOrder
	}
	if o.State != Open {
		return Order{}, ErrOrderUnavailable
	}

	o.State = Locked
	o.SessionID = sessionID
	return *o, nil
}

// Release returns a locked order to the open book (session abort).
func (l *Ledger) Release(account string, seq uint64, sessionID string) (Delta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o := l.byAccount[account][seq]
	if o == nil {
		return Delta{}, ErrNoSuchOrder
	}
	if o.State != Locked || o.SessionID != sessionID {
		return Delta{}, ErrNotSessionOwner
	}

	o.State = Open
	o.SessionID = ""
	return Delta{Kind: OrderUpdated, Order: *o}, nil
}

// Settle completes a locked order for the given filled quantity. A full
// fill removes the order; a partial fill re-opens the remainder with the
// original sequence number and the reduced quantity.
func (l *Ledger) Settle(account string, seq uint64, sessionID string, filled int64) (Delta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o := l.byAccount[account][seq]
	if o == nil {
		return Delta{}, ErrNoSuchOrder
	}
	if o.State != Locked || o.SessionID != sessionID {
		return Delta{}, ErrNotSessionOwner
	}

	if filled >= o.Quantity {
		o.State = Settled
		l.remove(o)
		return Delta{Kind: OrderRemoved, Order: *o}, nil
	}

	o.Quantity -= filled
	o.State = Open
	o.SessionID = ""
	return Delta{Kind: OrderUpdated, Order: *o}, nil
}

// EvictAccount cancels every open order of a departed account. Locked
// orders stay: their sessions own them and resolve via settle or release.
// Watermarks are retained so a rejoin replays idempotently.
func (l *Ledger) EvictAccount(account string) []Delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Delta
	for _, o := range l.byAccount[account] {
		if o.State != Open {
			continue
		}
		o.State = Cancelled
		l.remove(o)
		out = append(out, Delta{Kind: OrderRemoved, Order: *o})
	}
	return out
}

// ExpireBefore transitions open orders created before the cutoff to
// Expired and drops them from the book. Orders of the except account are
// skipped: the local account's orders live in the durable outbox and are
// withdrawn by an explicit retract, never by the timer.
func (l *Ledger) ExpireBefore(cutoff time.Time, except string) []Delta {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Delta
	for account, orders := range l.byAccount {
		if account == except {
			continue
		}
		for _, o := range orders {
			if o.State != Open || !o.CreatedAt.Before(cutoff) {
				continue
			}
			o.State = Expired
			l.remove(o)
			out = append(out, Delta{Kind: OrderRemoved, Order: *o})
		}
	}
	return out
}

// Get returns a copy of the order with the given identity, if present.
func (l *Ledger) Get(account string, seq uint64) (Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o := l.byAccount[account][seq]
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

// ---- index maintenance (mu held) ----

func (l *Ledger) insert(o *Order) {
	acc := l.byAccount[o.Account]
	if acc == nil {
		acc = make(map[uint64]*Order)
		l.byAccount[o.Account] = acc
	}
	acc[o.Sequence] = o

	byAcc := l.byAsset[o.Asset]
	if byAcc == nil {
		byAcc = make(map[string]map[uint64]*Order)
		l.byAsset[o.Asset] = byAcc
	}
	slot := byAcc[o.Account]
	if slot == nil {
		slot = make(map[uint64]*Order)
		byAcc[o.Account] = slot
	}
	slot[o.Sequence] = o
}

func (l *Ledger) remove(o *Order) {
	delete(l.byAccount[o.Account], o.Sequence)
	if len(l.byAccount[o.Account]) == 0 {
		delete(l.byAccount, o.Account)
	}

	byAcc := l.byAsset[o.Asset]
	if byAcc != nil {
		delete(byAcc[o.Account], o.Sequence)
		if len(byAcc[o.Account]) == 0 {
			delete(byAcc, o.Account)
		}
		if len(byAcc) == 0 {
			delete(l.byAsset, o.Asset)
		}
	}
}

func (l *Ledger) bumpWatermark(account, asset string, seq uint64) {
	m := l.watermark[account]
	if m == nil {
		m = make(map[string]uint64)
		l.watermark[account] = m
	}
	if seq > m[asset] {
		m[asset] = seq
	}
}
