package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/domain/orderbook"
	"tradepost/transport"
	"tradepost/wire"
)

type fakeSub struct {
	ch chan transport.Event
}

func newFakeSub() *fakeSub {
	return &fakeSub{ch: make(chan transport.Event, 16)}
}

func (f *fakeSub) Events() <-chan transport.Event { return f.ch }
func (f *fakeSub) Close() error                   { close(f.ch); return nil }

func (f *fakeSub) push(t *testing.T, sender string, env *wire.Envelope) {
	t.Helper()
	payload, err := wire.Marshal(env)
	require.NoError(t, err)
	f.ch <- transport.Event{Room: "market", Sender: sender, Payload: payload}
}

type capturedMessage struct {
	sender string
	env    *wire.Envelope
}

type fakeHandler struct {
	mu   sync.Mutex
	msgs []capturedMessage
}

func (h *fakeHandler) HandleMessage(sender string, env *wire.Envelope) {
	h.mu.Lock()
	h.msgs = append(h.msgs, capturedMessage{sender, env})
	h.mu.Unlock()
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func announceEnv(asset string, side uint32, qty, price int64, seq uint64) *wire.Envelope {
	return &wire.Envelope{
		Version:  wire.ProtocolVersion,
		Announce: &wire.Announce{Asset: asset, Side: side, Quantity: qty, Price: price, Sequence: seq},
	}
}

func startSync(t *testing.T, ledger *orderbook.Ledger, coord SessionHandler) (*Synchronizer, *fakeSub) {
	t.Helper()
	s := NewSynchronizer("alice", ledger, nil, coord, nil, zerolog.Nop())
	sub := newFakeSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx, sub)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, sub
}

func TestSynchronizerAppliesPeerAnnouncements(t *testing.T) {
	t.Cleanup(leaktest.CheckTimeout(t, 5*time.Second))

	ledger := orderbook.NewLedger()
	s, sub := startSync(t, ledger, nil)

	feed, stop := s.Subscribe(16)
	defer stop()

	sub.push(t, "bob", announceEnv("wood", wire.SideSell, 10, 2, 1))

	select {
	case d := <-feed:
		assert.Equal(t, orderbook.OrderAdded, d.Kind)
		assert.Equal(t, "bob", d.Order.Account)
	case <-time.After(5 * time.Second):
		t.Fatal("no delta delivered")
	}

	o, ok := ledger.Get("bob", 1)
	require.True(t, ok)
	assert.Equal(t, int64(10), o.Quantity)

	// At-least-once redelivery is silent.
	sub.push(t, "bob", announceEnv("wood", wire.SideSell, 10, 2, 1))
	sub.push(t, "bob", &wire.Envelope{Version: wire.ProtocolVersion, Retract: &wire.Retract{Sequence: 1}})

	select {
	case d := <-feed:
		assert.Equal(t, orderbook.OrderRemoved, d.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no retract delta delivered")
	}
	_, ok = ledger.Get("bob", 1)
	assert.False(t, ok)
}

func TestSynchronizerSkipsOwnEcho(t *testing.T) {
	ledger := orderbook.NewLedger()
	_, sub := startSync(t, ledger, nil)

	sub.push(t, "alice", announceEnv("wood", wire.SideSell, 10, 2, 1))
	sub.push(t, "bob", announceEnv("wood", wire.SideSell, 5, 4, 1))

	require.Eventually(t, func() bool {
		_, ok := ledger.Get("bob", 1)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := ledger.Get("alice", 1)
	assert.False(t, ok)
}

func TestSynchronizerEvictsDepartedPeer(t *testing.T) {
	ledger := orderbook.NewLedger()
	_, sub := startSync(t, ledger, nil)

	sub.push(t, "bob", announceEnv("wood", wire.SideSell, 10, 2, 1))
	sub.push(t, "bob", announceEnv("iron", wire.SideBuy, 3, 9, 2))
	sub.push(t, "bob", &wire.Envelope{Version: wire.ProtocolVersion, Leave: &wire.Leave{}})

	require.Eventually(t, func() bool {
		_, w := ledger.Get("bob", 1)
		_, i := ledger.Get("bob", 2)
		return !w && !i
	}, 5*time.Second, 10*time.Millisecond)

	// Watermarks survive eviction: a replayed stale announce stays out.
	sub.push(t, "bob", announceEnv("wood", wire.SideSell, 10, 2, 1))
	time.Sleep(50 * time.Millisecond)
	_, ok := ledger.Get("bob", 1)
	assert.False(t, ok)
}

func TestSynchronizerRoutesSessionMessages(t *testing.T) {
	ledger := orderbook.NewLedger()
	h := &fakeHandler{}
	_, sub := startSync(t, ledger, h)

	addressed := &wire.Envelope{
		Version: wire.ProtocolVersion,
		To:      "alice",
		Accept:  &wire.Accept{SessionID: "s1", Asset: "wood", Quantity: 10, Price: 2},
	}
	other := &wire.Envelope{
		Version: wire.ProtocolVersion,
		To:      "carol",
		Accept:  &wire.Accept{SessionID: "s2", Asset: "wood", Quantity: 10, Price: 2},
	}
	sub.push(t, "bob", addressed)
	sub.push(t, "bob", other)

	require.Eventually(t, func() bool { return h.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "bob", h.msgs[0].sender)
	assert.Equal(t, "s1", h.msgs[0].env.SessionID())
}

// A subscriber that stops draining must be cut off, not fed a stream
// with silently missing deltas: its channel closes once the buffer is
// full, and a resubscribe starts clean.
func TestBroadcastDisconnectsSlowSubscriber(t *testing.T) {
	ledger := orderbook.NewLedger()
	s := NewSynchronizer("alice", ledger, nil, nil, nil, zerolog.Nop())

	fast, stopFast := s.Subscribe(16)
	defer stopFast()
	slow, stopSlow := s.Subscribe(1)

	d := orderbook.Delta{Kind: orderbook.OrderAdded}
	s.Broadcast(d, d, d)

	// The fast subscriber saw every delta.
	for i := 0; i < 3; i++ {
		select {
		case _, ok := <-fast:
			require.True(t, ok)
		default:
			t.Fatal("fast subscriber missed a delta")
		}
	}

	// The slow one got what fit its buffer, then a close.
	_, ok := <-slow
	require.True(t, ok)
	_, ok = <-slow
	assert.False(t, ok, "overflowing subscriber should be disconnected")

	// Cancelling after the disconnect is a no-op, not a double close.
	stopSlow()

	// New broadcasts still reach the remaining subscriber.
	s.Broadcast(d)
	select {
	case _, ok := <-fast:
		assert.True(t, ok)
	default:
		t.Fatal("surviving subscriber no longer receives")
	}
}

func TestSynchronizerDropsMalformedPayloads(t *testing.T) {
	ledger := orderbook.NewLedger()
	_, sub := startSync(t, ledger, nil)

	sub.ch <- transport.Event{Room: "market", Sender: "bob", Payload: []byte("garbage")}
	sub.push(t, "bob", announceEnv("wood", wire.SideSell, 10, 2, 1))

	require.Eventually(t, func() bool {
		_, ok := ledger.Get("bob", 1)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
