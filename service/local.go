package service

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tradepost/domain/orderbook"
	"tradepost/infra/sequence"
	"tradepost/infra/store"
	"tradepost/wire"
)

var (
	ErrBadOrder = errors.New("service: invalid order parameters")
)

/*
LocalNode is the ONLY write entry point for the account's own orders.

All coordination between:
- domain (ledger)
- infra (sequence, store)
- the trading room (via the outbox)
happens here.

Placement never talks to the broker directly: the announce payload is
committed to the outbox first and the announcer job delivers it
at-least-once. A crash between the outbox write and delivery is repaired
by startup replay; a crash before the outbox write loses nothing because
the order never existed.
*/
type LocalNode struct {
	account string
	ledger  *orderbook.Ledger
	seq     *sequence.Counter
	store   *store.Store
	log     zerolog.Logger

	notify func(...orderbook.Delta)
}

// NewLocalNode wires all dependencies. The sequencer must be seeded from
// store.LastSequence before calling this.
func NewLocalNode(
	account string,
	ledger *orderbook.Ledger,
	seq *sequence.Counter,
	st *store.Store,
	log zerolog.Logger,
) *LocalNode {
	return &LocalNode{
		account: account,
		ledger:  ledger,
		seq:     seq,
		store:   st,
		log:     log.With().Str("component", "local").Logger(),
	}
}

// SetNotify registers a sink for ledger deltas caused by local commands.
func (n *LocalNode) SetNotify(fn func(...orderbook.Delta)) {
	n.notify = fn
}

func (n *LocalNode) Account() string { return n.account }

// PlaceOrder submits a new order under the local account. It returns the
// order as applied, with its assigned sequence number.
func (n *LocalNode) PlaceOrder(asset string, side orderbook.Side, quantity, price int64) (orderbook.Order, error) {
	if asset == "" || quantity <= 0 || price < 0 {
		return orderbook.Order{}, ErrBadOrder
	}
	if side != orderbook.Buy && side != orderbook.Sell {
		return orderbook.Order{}, ErrBadOrder
	}

	seq := n.seq.Next()
	if err := n.store.SetLastSequence(n.account, seq); err != nil {
		return orderbook.Order{}, fmt.Errorf("service: persist sequence: %w", err)
	}

	payload, err := wire.Marshal(&wire.Envelope{
		Version: wire.ProtocolVersion,
		Announce: &wire.Announce{
			Asset:    asset,
			Side:     sideToWire(side),
			Quantity: quantity,
			Price:    price,
			Sequence: seq,
		},
	})
	if err != nil {
		return orderbook.Order{}, err
	}
	if err := n.store.PutOutbox(&store.OutboxRecord{
		Sequence: seq,
		State:    store.OutboxNew,
		Payload:  payload,
	}); err != nil {
		return orderbook.Order{}, fmt.Errorf("service: outbox write: %w", err)
	}

	delta, err := n.ledger.Apply(orderbook.Event{
		Kind:     orderbook.EventAnnounce,
		Account:  n.account,
		Asset:    asset,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Sequence: seq,
	})
	if err != nil {
		return orderbook.Order{}, err
	}
	n.emit(delta)

	n.log.Info().
		Str("asset", asset).
		Str("side", side.String()).
		Int64("quantity", quantity).
		Int64("price", price).
		Uint64("sequence", seq).
		Msg("order placed")
	return delta.Order, nil
}

// CancelOrder withdraws one of the account's own open orders. Orders
// locked by an in-flight session cannot be cancelled until the session
// resolves.
func (n *LocalNode) CancelOrder(seq uint64) error {
	delta, err := n.ledger.Apply(orderbook.Event{
		Kind:     orderbook.EventRetract,
		Account:  n.account,
		Sequence: seq,
	})
	if err != nil {
		return err
	}
	n.emit(delta)

	// The announce must not be replayed after a restart; the retract gets
	// its own outbox slot so peers hear about it at least once.
	if err := n.store.DeleteOutbox(seq); err != nil {
		n.log.Warn().Err(err).Uint64("sequence", seq).Msg("outbox cleanup failed")
	}
	rseq := n.seq.Next()
	if err := n.store.SetLastSequence(n.account, rseq); err != nil {
		return fmt.Errorf("service: persist sequence: %w", err)
	}
	payload, err := wire.Marshal(&wire.Envelope{
		Version: wire.ProtocolVersion,
		Retract: &wire.Retract{Sequence: seq},
	})
	if err != nil {
		return err
	}
	if err := n.store.PutOutbox(&store.OutboxRecord{
		Sequence: rseq,
		State:    store.OutboxNew,
		Payload:  payload,
	}); err != nil {
		return fmt.Errorf("service: outbox write: %w", err)
	}

	n.log.Info().Uint64("sequence", seq).Msg("order cancelled")
	return nil
}

// ModifyOrder is cancel-plus-place: the old order is retracted and a new
// one with a fresh sequence number replaces it. Orders are never mutated
// in place, so peers that miss the retract still converge once they see
// both sequence numbers.
func (n *LocalNode) ModifyOrder(seq uint64, quantity, price int64) (orderbook.Order, error) {
	old, ok := n.ledger.Get(n.account, seq)
	if !ok {
		return orderbook.Order{}, orderbook.ErrNoSuchOrder
	}
	if err := n.CancelOrder(seq); err != nil {
		return orderbook.Order{}, err
	}
	return n.PlaceOrder(old.Asset, old.Side, quantity, price)
}

// Restore replays the outbox into the ledger after a restart: announces
// become open orders again, retracts stay deleted. Undelivered records
// keep their NEW state, so the announcer finishes the job.
func (n *LocalNode) Restore() error {
	var restored int
	err := n.store.ScanAllOutbox(func(rec *store.OutboxRecord) error {
		env, err := wire.Unmarshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("service: corrupt outbox record %d: %w", rec.Sequence, err)
		}
		if env.Kind() != wire.KindAnnounce {
			return nil
		}
		a := env.Announce
		_, err = n.ledger.Apply(orderbook.Event{
			Kind:     orderbook.EventAnnounce,
			Account:  n.account,
			Asset:    a.Asset,
			Side:     sideFromWire(a.Side),
			Quantity: a.Quantity,
			Price:    a.Price,
			Sequence: a.Sequence,
		})
		if err != nil && !errors.Is(err, orderbook.ErrStaleSequence) {
			return err
		}
		if err == nil {
			restored++
		}
		return nil
	})
	if err != nil {
		return err
	}
	n.log.Info().Int("orders", restored).Msg("outbox replayed")
	return nil
}

// Reannounce re-marks every live announce record NEW so the announcer
// rebroadcasts it. Called when a peer joins the room.
func (n *LocalNode) Reannounce() {
	err := n.store.ScanAllOutbox(func(rec *store.OutboxRecord) error {
		env, err := wire.Unmarshal(rec.Payload)
		if err != nil || env.Kind() != wire.KindAnnounce {
			return nil
		}
		o, ok := n.ledger.Get(n.account, env.Announce.Sequence)
		if !ok || o.State != orderbook.Open {
			return nil
		}
		return n.store.MarkOutbox(rec.Sequence, store.OutboxNew)
	})
	if err != nil {
		n.log.Warn().Err(err).Msg("reannounce scan failed")
	}
}

func (n *LocalNode) emit(deltas ...orderbook.Delta) {
	if n.notify != nil && len(deltas) > 0 {
		n.notify(deltas...)
	}
}

func sideToWire(s orderbook.Side) uint32 {
	if s == orderbook.Sell {
		return wire.SideSell
	}
	return wire.SideBuy
}

func sideFromWire(s uint32) orderbook.Side {
	if s == wire.SideSell {
		return orderbook.Sell
	}
	return orderbook.Buy
}
