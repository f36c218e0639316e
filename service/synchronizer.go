package service

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"tradepost/domain/orderbook"
	"tradepost/infra/metrics"
	"tradepost/transport"
	"tradepost/wire"
)

// SessionHandler receives swap protocol messages addressed to this node.
// *settlement.Coordinator satisfies it.
type SessionHandler interface {
	HandleMessage(sender string, env *wire.Envelope)
}

/*
Synchronizer is the single consumer of the trading room. One goroutine
decodes every incoming payload and applies it to the ledger, so the
ledger sees room traffic in consumption order and no decode work happens
under its lock twice.

Peer announcements reconcile through the ledger's sequence watermarks:
duplicates and stale sequences drop silently, which makes the loop safe
under at-least-once delivery and arbitrary per-sender reordering across
accounts.
*/
type Synchronizer struct {
	account string
	ledger  *orderbook.Ledger
	local   *LocalNode
	coord   SessionHandler
	met     *metrics.Metrics
	log     zerolog.Logger

	mu   sync.Mutex
	subs map[chan orderbook.Delta]struct{}
}

func NewSynchronizer(
	account string,
	ledger *orderbook.Ledger,
	local *LocalNode,
	coord SessionHandler,
	met *metrics.Metrics,
	log zerolog.Logger,
) *Synchronizer {
	return &Synchronizer{
		account: account,
		ledger:  ledger,
		local:   local,
		coord:   coord,
		met:     met,
		log:     log.With().Str("component", "synchronizer").Logger(),
		subs:    make(map[chan orderbook.Delta]struct{}),
	}
}

// Run consumes room events until the context ends or the subscription
// closes its channel.
func (s *Synchronizer) Run(ctx context.Context, sub transport.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			s.handle(ev)
		}
	}
}

func (s *Synchronizer) handle(ev transport.Event) {
	// Own messages echo back from the broker; the ledger already has them.
	if ev.Sender == s.account {
		return
	}

	env, err := wire.Unmarshal(ev.Payload)
	if err != nil {
		if s.met != nil {
			s.met.DecodeErrors.Inc()
		}
		s.log.Debug().Err(err).Str("sender", ev.Sender).Msg("dropping malformed payload")
		return
	}

	switch env.Kind() {
	case wire.KindAnnounce:
		a := env.Announce
		s.apply(orderbook.Event{
			Kind:     orderbook.EventAnnounce,
			Account:  ev.Sender,
			Asset:    a.Asset,
			Side:     sideFromWire(a.Side),
			Quantity: a.Quantity,
			Price:    a.Price,
			Sequence: a.Sequence,
		})

	case wire.KindRetract:
		s.apply(orderbook.Event{
			Kind:     orderbook.EventRetract,
			Account:  ev.Sender,
			Sequence: env.Retract.Sequence,
		})

	case wire.KindJoin:
		s.log.Info().Str("peer", ev.Sender).Msg("peer joined")
		if s.local != nil {
			s.local.Reannounce()
		}

	case wire.KindLeave:
		deltas := s.ledger.EvictAccount(ev.Sender)
		if s.met != nil {
			s.met.PeersEvicted.Inc()
		}
		s.log.Info().Str("peer", ev.Sender).Int("evicted", len(deltas)).Msg("peer left")
		s.Broadcast(deltas...)

	case wire.KindProposal, wire.KindAccept, wire.KindReject, wire.KindLockNotice:
		if env.To != s.account || s.coord == nil {
			return
		}
		s.coord.HandleMessage(ev.Sender, env)

	default:
		if s.met != nil {
			s.met.DecodeErrors.Inc()
		}
	}
}

func (s *Synchronizer) apply(ev orderbook.Event) {
	delta, err := s.ledger.Apply(ev)
	switch {
	case err == nil:
		if s.met != nil {
			s.met.EventsApplied.Inc()
		}
		s.Broadcast(delta)
	case errors.Is(err, orderbook.ErrStaleSequence):
		if s.met != nil {
			s.met.EventsStale.Inc()
		}
	case errors.Is(err, orderbook.ErrNoSuchOrder):
		// Retract for an order never seen; the watermark makes the
		// eventual stale announce a no-op, so nothing to record.
	default:
		s.log.Warn().Err(err).Str("account", ev.Account).Uint64("sequence", ev.Sequence).Msg("event not applied")
	}
}

// Subscribe registers a delta feed. The returned cancel removes it. A
// subscriber that lets its buffer fill is disconnected, never fed a
// partial stream: its channel closes and it must resubscribe and take a
// fresh snapshot.
func (s *Synchronizer) Subscribe(buffer int) (<-chan orderbook.Delta, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan orderbook.Delta, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast fans deltas out to all subscribers. Safe from any goroutine;
// the coordinator and LocalNode feed it through SetNotify.
func (s *Synchronizer) Broadcast(deltas ...orderbook.Delta) {
	if len(deltas) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		if !send(ch, deltas) {
			// Full buffer means the subscriber has already fallen behind.
			// Dropping single deltas would leave it with a silently wrong
			// view, so cut it off and let it resubscribe from a snapshot.
			delete(s.subs, ch)
			close(ch)
			s.log.Warn().Int("buffer", cap(ch)).Msg("slow delta subscriber disconnected")
		}
	}
}

func send(ch chan orderbook.Delta, deltas []orderbook.Delta) bool {
	for _, d := range deltas {
		select {
		case ch <- d:
		default:
			return false
		}
	}
	return true
}
