package settlement

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradepost/domain/matcher"
	"tradepost/domain/orderbook"
	"tradepost/infra/metrics"
	"tradepost/infra/store"
	"tradepost/transport"
	"tradepost/wire"
)

var (
	ErrResponseTimeout     = errors.New("settlement: counterparty response timeout")
	ErrNegotiationMismatch = errors.New("settlement: accepted terms do not match proposal")
	ErrRejected            = errors.New("settlement: proposal rejected")
	ErrLockFailure         = errors.New("settlement: chain lock failed")
	ErrCounterLockTimeout  = errors.New("settlement: counterparty lock not final in time")
	ErrNotParticipant      = errors.New("settlement: neither order belongs to this account")
)

// Journal persists session state across restarts. *store.Store satisfies it.
type Journal interface {
	PutSession(*store.SessionRecord) error
	DeleteSession(id string) error
	ScanSessions(func(*store.SessionRecord) error) error
}

// Trade is one settled swap, as recorded to history.
type Trade struct {
	SessionID string
	Asset     string
	Quantity  int64
	Price     int64
	Buyer     string
	Seller    string
	SettledAt time.Time
}

// TradeRecorder receives settled trades. *history.Store satisfies it.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t Trade) error
}

// AcceptPolicy decides whether an incoming proposal against one of our
// open orders is acceptable. A non-nil error rejects with that reason.
type AcceptPolicy interface {
	Evaluate(p *wire.Proposal, local orderbook.Order) error
}

// ExactTermsPolicy accepts proposals whose terms are within the local
// order's limits: same asset, quantity not above the order's remainder,
// and a price at or better than the order's limit.
type ExactTermsPolicy struct{}

func (ExactTermsPolicy) Evaluate(p *wire.Proposal, local orderbook.Order) error {
	if p.Asset != local.Asset {
		return fmt.Errorf("asset %q does not match order", p.Asset)
	}
	if p.Quantity > local.Quantity {
		return fmt.Errorf("quantity %d above order remainder %d", p.Quantity, local.Quantity)
	}
	if local.Side == orderbook.Sell && p.Price < local.Price {
		return fmt.Errorf("price %d below ask %d", p.Price, local.Price)
	}
	if local.Side == orderbook.Buy && p.Price > local.Price {
		return fmt.Errorf("price %d above bid %d", p.Price, local.Price)
	}
	return nil
}

type Config struct {
	// Account is the local trading identity.
	Account string
	// Room is the trading room session messages are published to.
	Room string
	// CurrencyAsset is what the buying side locks (price * quantity).
	CurrencyAsset string

	// ResponseTimeout bounds the negotiation round trip.
	ResponseTimeout time.Duration
	// LockTimeout is T in the two-phase scheme: the responder's lock
	// expires after T, the initiator's after 2T.
	LockTimeout time.Duration
	// ClaimAttempts bounds claim/refund retries before a session is
	// declared stuck.
	ClaimAttempts int
}

func (c *Config) withDefaults() {
	if c.CurrencyAsset == "" {
		c.CurrencyAsset = "gold"
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 30 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Minute
	}
	if c.ClaimAttempts <= 0 {
		c.ClaimAttempts = 5
	}
}

/*
Coordinator drives atomic-swap sessions.

One goroutine owns each session; the ledger's lock acquisition is the
single atomic point that prevents two sessions from double-booking an
order. Protocol messages arrive via HandleMessage (called from the
synchronizer loop) and are forwarded into the owning goroutine.

The scheme is a standard hash lock: the initiator holds the secret and
locks first with expiry 2T; the responder verifies that lock's finality
before locking its own side with expiry T; the initiator's claim of the
responder's lock reveals the secret on the ledger, which lets the
responder claim in turn. At every step the worst case for either side is
a refund after expiry, never lost funds.
*/
type Coordinator struct {
	cfg     Config
	ledger  *orderbook.Ledger
	chain   ChainClient
	pub     transport.Publisher
	journal Journal
	trades  TradeRecorder
	policy  AcceptPolicy
	met     *metrics.Metrics
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session

	notify func(...orderbook.Delta)
}

// New wires a coordinator. journal, trades and met may be nil; policy
// nil defaults to ExactTermsPolicy.
func New(
	cfg Config,
	ledger *orderbook.Ledger,
	chain ChainClient,
	pub transport.Publisher,
	journal Journal,
	trades TradeRecorder,
	policy AcceptPolicy,
	met *metrics.Metrics,
	log zerolog.Logger,
) *Coordinator {
	cfg.withDefaults()
	if policy == nil {
		policy = ExactTermsPolicy{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		ledger:   ledger,
		chain:    chain,
		pub:      pub,
		journal:  journal,
		trades:   trades,
		policy:   policy,
		met:      met,
		log:      log.With().Str("component", "settlement").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// SetNotify registers a sink for ledger deltas caused by session
// transitions (lock, release, settle), so book subscribers stay current.
func (c *Coordinator) SetNotify(fn func(...orderbook.Delta)) {
	c.notify = fn
}

// Close cancels all in-flight sessions and waits for their goroutines.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Sessions lists all known sessions, including stuck ones.
func (c *Coordinator) Sessions() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Info, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Propose starts a session for a matcher candidate in the initiator
// role. Exactly one of the pair's orders must belong to the local
// account. The ledger locks happen here, before any message leaves the
// node; a concurrent proposal for the same order loses with
// ErrOrderUnavailable.
func (c *Coordinator) Propose(pair matcher.Pair) (*Session, error) {
	var local, remote orderbook.Order
	switch c.cfg.Account {
	case pair.Buy.Account:
		local, remote = pair.Buy, pair.Sell
	case pair.Sell.Account:
		local, remote = pair.Sell, pair.Buy
	default:
		return nil, ErrNotParticipant
	}
	if remote.Account == c.cfg.Account {
		return nil, ErrNotParticipant
	}

	s := newSession(
		uuid.NewString(),
		Initiator,
		Terms{Asset: pair.Buy.Asset, Quantity: pair.Quantity, Price: pair.Price},
		remote.Account,
	)
	s.LocalOrder = OrderRef{Account: local.Account, Sequence: local.Sequence}
	s.RemoteOrder = OrderRef{Account: remote.Account, Sequence: remote.Sequence}

	if _, err := rand.Read(s.secret[:]); err != nil {
		return nil, fmt.Errorf("settlement: secret generation: %w", err)
	}
	s.commitment = sha256.Sum256(s.secret[:])

	if err := c.lockOrders(s); err != nil {
		return nil, err
	}
	c.register(s)
	c.persist(s)
	if c.met != nil {
		c.met.SessionsStarted.Inc()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runInitiator(s)
	}()
	return s, nil
}

// HandleMessage routes one session protocol message from the
// synchronizer. Unknown sessions and impostor senders are dropped.
func (c *Coordinator) HandleMessage(sender string, env *wire.Envelope) {
	if env.Kind() == wire.KindProposal {
		c.handleProposal(sender, env.Proposal)
		return
	}

	c.mu.Lock()
	s := c.sessions[env.SessionID()]
	c.mu.Unlock()

	if s == nil || s.Counterparty != sender {
		c.log.Debug().
			Str("session", env.SessionID()).
			Str("sender", sender).
			Str("kind", env.Kind().String()).
			Msg("dropping unroutable session message")
		return
	}
	if !s.deliver(env) {
		c.log.Debug().Str("session", s.ID).Msg("session inbox full, message dropped")
	}
}

func (c *Coordinator) handleProposal(sender string, p *wire.Proposal) {
	c.mu.Lock()
	_, dup := c.sessions[p.SessionID]
	c.mu.Unlock()
	if dup {
		return // at-least-once delivery, already handled
	}

	local, ok := c.ledger.Get(c.cfg.Account, p.CounterSequence)
	if !ok {
		c.sendReject(sender, p.SessionID, "no such order")
		return
	}
	if err := c.policy.Evaluate(p, local); err != nil {
		c.sendReject(sender, p.SessionID, err.Error())
		return
	}

	s := newSession(
		p.SessionID,
		Responder,
		Terms{Asset: p.Asset, Quantity: p.Quantity, Price: p.Price},
		sender,
	)
	s.LocalOrder = OrderRef{Account: c.cfg.Account, Sequence: p.CounterSequence}
	s.RemoteOrder = OrderRef{Account: sender, Sequence: p.InitiatorSequence}
	copy(s.commitment[:], p.Commitment)

	if err := c.lockOrders(s); err != nil {
		c.sendReject(sender, p.SessionID, "order unavailable")
		return
	}
	c.register(s)
	c.persist(s)
	if c.met != nil {
		c.met.SessionsStarted.Inc()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runResponder(s)
	}()
}

// -------------------- Initiator --------------------

func (c *Coordinator) runInitiator(s *Session) {
	ctx := c.ctx

	c.transition(s, Negotiating)
	err := c.send(s, &wire.Envelope{
		Version: wire.ProtocolVersion,
		To:      s.Counterparty,
		Proposal: &wire.Proposal{
			SessionID:         s.ID,
			Asset:             s.Terms.Asset,
			Quantity:          s.Terms.Quantity,
			Price:             s.Terms.Price,
			InitiatorSequence: s.LocalOrder.Sequence,
			CounterSequence:   s.RemoteOrder.Sequence,
			Commitment:        s.commitment[:],
		},
	})
	if err != nil {
		c.abort(s, err)
		return
	}

	env, err := s.await(ctx, c.cfg.ResponseTimeout)
	if err != nil {
		c.abort(s, err)
		return
	}
	switch env.Kind() {
	case wire.KindAccept:
		a := env.Accept
		if a.Asset != s.Terms.Asset || a.Quantity != s.Terms.Quantity || a.Price != s.Terms.Price {
			c.abort(s, ErrNegotiationMismatch)
			return
		}
	case wire.KindReject:
		c.abort(s, fmt.Errorf("%w: %s", ErrRejected, env.Reject.Reason))
		return
	default:
		c.abort(s, ErrNegotiationMismatch)
		return
	}

	// Initiator lock expires after 2T so the responder, whose lock
	// expires after T, can always be claimed first.
	c.transition(s, Locking)
	if err := c.lockSelf(ctx, s, 2*c.cfg.LockTimeout); err != nil {
		c.abort(s, fmt.Errorf("%w: %v", ErrLockFailure, err))
		return
	}
	c.transition(s, LockedSelf)
	if err := c.sendLockNotice(s); err != nil {
		c.refund(s, err)
		return
	}

	c.transition(s, WaitingCounterLock)
	env, err = s.await(ctx, c.cfg.LockTimeout)
	if err != nil || env.Kind() != wire.KindLockNotice {
		c.refund(s, ErrCounterLockTimeout)
		return
	}
	s.counterLock = LockHandle{Ref: env.LockNotice.LockRef}
	c.persist(s)

	finCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	err = c.chain.AwaitFinality(finCtx, s.counterLock)
	cancel()
	if err != nil {
		c.refund(s, fmt.Errorf("%w: %v", ErrCounterLockTimeout, err))
		return
	}
	c.transition(s, BothLocked)

	// Claiming reveals the secret; from here the responder can always
	// complete its own claim.
	c.transition(s, Claiming)
	err = retry(ctx, c.cfg.ClaimAttempts, func() error {
		claimCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
		defer cancel()
		return c.chain.Claim(claimCtx, s.counterLock, s.secret)
	})
	if err != nil {
		c.stuck(s, fmt.Errorf("claim failed: %w", err))
		return
	}
	c.settle(s)
}

// -------------------- Responder --------------------

func (c *Coordinator) runResponder(s *Session) {
	ctx := c.ctx

	c.transition(s, Negotiating)
	err := c.send(s, &wire.Envelope{
		Version: wire.ProtocolVersion,
		To:      s.Counterparty,
		Accept: &wire.Accept{
			SessionID: s.ID,
			Asset:     s.Terms.Asset,
			Quantity:  s.Terms.Quantity,
			Price:     s.Terms.Price,
		},
	})
	if err != nil {
		c.abort(s, err)
		return
	}

	// Nothing of ours is at risk until our own lock: wait for the
	// initiator's lock and verify finality before committing funds.
	c.transition(s, WaitingCounterLock)
	env, err := s.await(ctx, c.cfg.LockTimeout)
	if err != nil || env.Kind() != wire.KindLockNotice {
		c.abort(s, ErrCounterLockTimeout)
		return
	}
	s.counterLock = LockHandle{Ref: env.LockNotice.LockRef}
	c.persist(s)

	finCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	err = c.chain.AwaitFinality(finCtx, s.counterLock)
	cancel()
	if err != nil {
		c.abort(s, fmt.Errorf("%w: %v", ErrCounterLockTimeout, err))
		return
	}

	c.transition(s, Locking)
	if err := c.lockSelf(ctx, s, c.cfg.LockTimeout); err != nil {
		c.abort(s, fmt.Errorf("%w: %v", ErrLockFailure, err))
		return
	}
	c.transition(s, LockedSelf)
	if err := c.sendLockNotice(s); err != nil {
		c.refund(s, err)
		return
	}
	c.transition(s, BothLocked)

	// The initiator's claim of our lock reveals the secret.
	c.transition(s, Claiming)
	revealCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	secret, err := c.chain.RevealedSecret(revealCtx, s.selfLock)
	cancel()
	if err != nil {
		// Never claimed before our lock's expiry: refund unilaterally.
		c.refund(s, fmt.Errorf("counterparty never claimed: %w", err))
		return
	}
	if sha256.Sum256(secret[:]) != s.commitment {
		c.refund(s, errors.New("revealed secret does not match commitment"))
		return
	}

	err = retry(ctx, c.cfg.ClaimAttempts, func() error {
		claimCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
		defer cancel()
		return c.chain.Claim(claimCtx, s.counterLock, secret)
	})
	if err != nil {
		c.stuck(s, fmt.Errorf("claim failed: %w", err))
		return
	}
	c.settle(s)
}

// -------------------- Shared steps --------------------

// lockLeg determines what the local side owes: the seller locks the
// traded asset, the buyer locks price*quantity of the currency asset.
func (c *Coordinator) lockLeg(s *Session) (asset string, amount int64) {
	local, ok := c.ledger.Get(s.LocalOrder.Account, s.LocalOrder.Sequence)
	if ok && local.Side == orderbook.Sell {
		return s.Terms.Asset, s.Terms.Quantity
	}
	return c.cfg.CurrencyAsset, s.Terms.Quantity * s.Terms.Price
}

func (c *Coordinator) lockSelf(ctx context.Context, s *Session, expiry time.Duration) error {
	asset, amount := c.lockLeg(s)
	lockCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	defer cancel()

	h, err := c.chain.Lock(lockCtx, asset, amount, s.commitment, expiry)
	if err != nil {
		return err
	}
	s.selfLock = h
	c.persist(s)
	return nil
}

func (c *Coordinator) sendLockNotice(s *Session) error {
	return c.send(s, &wire.Envelope{
		Version: wire.ProtocolVersion,
		To:      s.Counterparty,
		LockNotice: &wire.LockNotice{
			SessionID: s.ID,
			LockRef:   s.selfLock.Ref,
		},
	})
}

func (c *Coordinator) send(s *Session, env *wire.Envelope) error {
	data, err := wire.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	return c.pub.Publish(ctx, c.cfg.Room, data)
}

func (c *Coordinator) sendReject(to, sessionID, reason string) {
	data, err := wire.Marshal(&wire.Envelope{
		Version: wire.ProtocolVersion,
		To:      to,
		Reject:  &wire.Reject{SessionID: sessionID, Reason: reason},
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if err := c.pub.Publish(ctx, c.cfg.Room, data); err != nil {
		c.log.Warn().Err(err).Str("session", sessionID).Msg("reject not delivered")
	}
}

// -------------------- Terminal paths --------------------

// abort ends a session before any local funds reached the chain.
func (c *Coordinator) abort(s *Session, cause error) {
	c.releaseOrders(s)
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()
	c.finish(s, Aborted)
	if c.met != nil {
		c.met.SessionsAborted.Inc()
	}
	c.log.Info().Str("session", s.ID).Err(cause).Msg("session aborted")
}

// refund recovers the local lock after the counterparty went silent.
// Nothing was revealed, so this is always safe; only chain faults can
// keep it from completing, and those leave the session stuck.
func (c *Coordinator) refund(s *Session, cause error) {
	c.transition(s, Refunding)
	err := retry(c.ctx, c.cfg.ClaimAttempts, func() error {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LockTimeout)
		defer cancel()
		return c.chain.Refund(ctx, s.selfLock)
	})
	if err != nil {
		c.stuck(s, fmt.Errorf("refund failed: %w", err))
		return
	}

	c.releaseOrders(s)
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()
	c.finish(s, Refunded)
	if c.met != nil {
		c.met.SessionsRefunded.Inc()
	}
	c.log.Info().Str("session", s.ID).Err(cause).Msg("session refunded")
}

// stuck marks a session that needs operator intervention. The journal
// record is kept and the session stays listed.
func (c *Coordinator) stuck(s *Session, cause error) {
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()
	s.setState(Stuck)
	c.persist(s)
	if c.met != nil {
		c.met.SessionsStuck.Inc()
	}
	c.log.Error().
		Str("session", s.ID).
		Str("counterparty", s.Counterparty).
		Str("self_lock", s.selfLock.Ref).
		Err(cause).
		Msg("SESSION STUCK: funds may be time-locked, operator intervention required")
	close(s.done)
}

func (c *Coordinator) settle(s *Session) {
	var deltas []orderbook.Delta
	if d, err := c.ledger.Settle(s.LocalOrder.Account, s.LocalOrder.Sequence, s.ID, s.Terms.Quantity); err == nil {
		deltas = append(deltas, d)
	}
	if d, err := c.ledger.Settle(s.RemoteOrder.Account, s.RemoteOrder.Sequence, s.ID, s.Terms.Quantity); err == nil {
		deltas = append(deltas, d)
	}
	c.emit(deltas...)

	if c.trades != nil {
		buyer, seller := c.tradeParties(s)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.trades.RecordTrade(ctx, Trade{
			SessionID: s.ID,
			Asset:     s.Terms.Asset,
			Quantity:  s.Terms.Quantity,
			Price:     s.Terms.Price,
			Buyer:     buyer,
			Seller:    seller,
			SettledAt: time.Now(),
		}); err != nil {
			c.log.Warn().Err(err).Str("session", s.ID).Msg("trade history write failed")
		}
		cancel()
	}

	c.finish(s, Settled)
	if c.met != nil {
		c.met.SessionsSettled.Inc()
	}
	c.log.Info().
		Str("session", s.ID).
		Str("asset", s.Terms.Asset).
		Int64("quantity", s.Terms.Quantity).
		Int64("price", s.Terms.Price).
		Msg("session settled")
}

func (c *Coordinator) tradeParties(s *Session) (buyer, seller string) {
	local, ok := c.ledger.Get(s.LocalOrder.Account, s.LocalOrder.Sequence)
	if ok && local.Side == orderbook.Buy {
		return s.LocalOrder.Account, s.RemoteOrder.Account
	}
	// Settled full fills leave the ledger, so fall back to the session
	// roles recorded at lock time.
	if s.localSide == orderbook.Buy {
		return s.LocalOrder.Account, s.RemoteOrder.Account
	}
	return s.RemoteOrder.Account, s.LocalOrder.Account
}

// finish moves a session to a terminal state, clears its journal record
// and drops it from the active set.
func (c *Coordinator) finish(s *Session, st State) {
	s.setState(st)
	if c.journal != nil {
		if err := c.journal.DeleteSession(s.ID); err != nil {
			c.log.Warn().Err(err).Str("session", s.ID).Msg("journal cleanup failed")
		}
	}
	c.mu.Lock()
	delete(c.sessions, s.ID)
	c.mu.Unlock()
	close(s.done)
}

// -------------------- Ledger bookkeeping --------------------

// lockOrders reserves both orders in the local ledger. The local order
// must lock; the remote one is locked when known (it may never have been
// announced to us), and a remote order already locked by another session
// fails the whole attempt to avoid double-booking.
func (c *Coordinator) lockOrders(s *Session) error {
	local, err := c.ledger.Lock(s.LocalOrder.Account, s.LocalOrder.Sequence, s.ID)
	if err != nil {
		return err
	}
	s.localSide = local.Side
	c.emit(orderbook.Delta{Kind: orderbook.OrderUpdated, Order: local})

	remote, err := c.ledger.Lock(s.RemoteOrder.Account, s.RemoteOrder.Sequence, s.ID)
	switch {
	case err == nil:
		c.emit(orderbook.Delta{Kind: orderbook.OrderUpdated, Order: remote})
	case errors.Is(err, orderbook.ErrNoSuchOrder):
		// Tolerated: the initiator's own order may be unknown here.
	default:
		if d, rerr := c.ledger.Release(s.LocalOrder.Account, s.LocalOrder.Sequence, s.ID); rerr == nil {
			c.emit(d)
		}
		return err
	}
	return nil
}

func (c *Coordinator) releaseOrders(s *Session) {
	if d, err := c.ledger.Release(s.LocalOrder.Account, s.LocalOrder.Sequence, s.ID); err == nil {
		c.emit(d)
	}
	if d, err := c.ledger.Release(s.RemoteOrder.Account, s.RemoteOrder.Sequence, s.ID); err == nil {
		c.emit(d)
	}
}

func (c *Coordinator) emit(deltas ...orderbook.Delta) {
	if c.notify != nil && len(deltas) > 0 {
		c.notify(deltas...)
	}
}

// -------------------- Housekeeping --------------------

func (c *Coordinator) register(s *Session) {
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
}

func (c *Coordinator) transition(s *Session, st State) {
	s.setState(st)
	c.persist(s)
	c.log.Debug().
		Str("session", s.ID).
		Str("role", s.Role.String()).
		Str("state", st.String()).
		Msg("session transition")
}

func (c *Coordinator) persist(s *Session) {
	if c.journal == nil {
		return
	}
	rec := &store.SessionRecord{
		ID:             s.ID,
		Role:           s.Role.String(),
		State:          s.State().String(),
		Counterparty:   s.Counterparty,
		Asset:          s.Terms.Asset,
		Quantity:       s.Terms.Quantity,
		Price:          s.Terms.Price,
		LocalSequence:  s.LocalOrder.Sequence,
		RemoteSequence: s.RemoteOrder.Sequence,
		Commitment:     s.commitment[:],
		SelfLockRef:    s.selfLock.Ref,
		CounterLockRef: s.counterLock.Ref,
	}
	if s.Role == Initiator {
		rec.Secret = s.secret[:]
	}
	if err := c.journal.PutSession(rec); err != nil {
		c.log.Warn().Err(err).Str("session", s.ID).Msg("journal write failed")
	}
}

// AlertUnresolved scans the journal for sessions that did not reach a
// terminal state before the last shutdown and surfaces them. Locked
// funds recover through the chain's own expiry; the operator decides
// whether to refund or claim manually.
func (c *Coordinator) AlertUnresolved() error {
	if c.journal == nil {
		return nil
	}
	return c.journal.ScanSessions(func(rec *store.SessionRecord) error {
		c.log.Error().
			Str("session", rec.ID).
			Str("state", rec.State).
			Str("counterparty", rec.Counterparty).
			Str("self_lock", rec.SelfLockRef).
			Msg("UNRESOLVED SESSION from previous run: verify locks on the ledger")
		if c.met != nil {
			c.met.SessionsStuck.Inc()
		}
		return nil
	})
}
