package service

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/domain/orderbook"
	"tradepost/infra/sequence"
	"tradepost/infra/store"
	"tradepost/wire"
)

func newTestNode(t *testing.T, dir string) (*LocalNode, *orderbook.Ledger, *store.Store) {
	t.Helper()
	st, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	last, err := st.LastSequence("alice")
	require.NoError(t, err)

	ledger := orderbook.NewLedger()
	node := NewLocalNode("alice", ledger, sequence.New(last), st, zerolog.Nop())
	return node, ledger, st
}

func TestPlaceOrderAppliesAndQueues(t *testing.T) {
	node, ledger, st := newTestNode(t, t.TempDir())

	o, err := node.PlaceOrder("wood", orderbook.Sell, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.Sequence)

	got, ok := ledger.Get("alice", 1)
	require.True(t, ok)
	assert.Equal(t, orderbook.Open, got.State)
	assert.Equal(t, int64(10), got.Quantity)

	var recs []*store.OutboxRecord
	require.NoError(t, st.ScanOutbox(store.OutboxNew, func(r *store.OutboxRecord) error {
		recs = append(recs, r)
		return nil
	}))
	require.Len(t, recs, 1)

	env, err := wire.Unmarshal(recs[0].Payload)
	require.NoError(t, err)
	require.Equal(t, wire.KindAnnounce, env.Kind())
	assert.Equal(t, "wood", env.Announce.Asset)
	assert.Equal(t, wire.SideSell, env.Announce.Side)
}

func TestPlaceOrderValidatesInput(t *testing.T) {
	node, _, _ := newTestNode(t, t.TempDir())

	_, err := node.PlaceOrder("", orderbook.Sell, 10, 2)
	assert.ErrorIs(t, err, ErrBadOrder)
	_, err = node.PlaceOrder("wood", orderbook.Sell, 0, 2)
	assert.ErrorIs(t, err, ErrBadOrder)
	_, err = node.PlaceOrder("wood", orderbook.Sell, 10, -1)
	assert.ErrorIs(t, err, ErrBadOrder)
}

func TestCancelOrderRetracts(t *testing.T) {
	node, ledger, st := newTestNode(t, t.TempDir())

	o, err := node.PlaceOrder("wood", orderbook.Sell, 10, 2)
	require.NoError(t, err)
	require.NoError(t, node.CancelOrder(o.Sequence))

	_, ok := ledger.Get("alice", o.Sequence)
	assert.False(t, ok)

	// The announce record is gone; a retract record replaces it.
	kinds := map[wire.Kind]int{}
	require.NoError(t, st.ScanAllOutbox(func(r *store.OutboxRecord) error {
		env, err := wire.Unmarshal(r.Payload)
		require.NoError(t, err)
		kinds[env.Kind()]++
		return nil
	}))
	assert.Equal(t, map[wire.Kind]int{wire.KindRetract: 1}, kinds)
}

func TestCancelLockedOrderFails(t *testing.T) {
	node, ledger, _ := newTestNode(t, t.TempDir())

	o, err := node.PlaceOrder("wood", orderbook.Sell, 10, 2)
	require.NoError(t, err)
	_, err = ledger.Lock("alice", o.Sequence, "session-1")
	require.NoError(t, err)

	err = node.CancelOrder(o.Sequence)
	assert.ErrorIs(t, err, orderbook.ErrNoSuchOrder)
}

func TestModifyOrderReplacesSequence(t *testing.T) {
	node, ledger, _ := newTestNode(t, t.TempDir())

	o, err := node.PlaceOrder("wood", orderbook.Sell, 10, 2)
	require.NoError(t, err)

	replaced, err := node.ModifyOrder(o.Sequence, 5, 3)
	require.NoError(t, err)
	assert.Greater(t, replaced.Sequence, o.Sequence)
	assert.Equal(t, "wood", replaced.Asset)
	assert.Equal(t, int64(5), replaced.Quantity)
	assert.Equal(t, int64(3), replaced.Price)

	_, ok := ledger.Get("alice", o.Sequence)
	assert.False(t, ok)
}

func TestRestoreRebuildsOwnOrders(t *testing.T) {
	dir := t.TempDir()

	node, _, st := newTestNode(t, dir)
	keep, err := node.PlaceOrder("wood", orderbook.Sell, 10, 2)
	require.NoError(t, err)
	gone, err := node.PlaceOrder("iron", orderbook.Buy, 3, 7)
	require.NoError(t, err)
	require.NoError(t, node.CancelOrder(gone.Sequence))

	// Simulated restart: fresh ledger and sequencer over the same store.
	last, err := st.LastSequence("alice")
	require.NoError(t, err)
	ledger := orderbook.NewLedger()
	restarted := NewLocalNode("alice", ledger, sequence.New(last), st, zerolog.Nop())
	require.NoError(t, restarted.Restore())

	got, ok := ledger.Get("alice", keep.Sequence)
	require.True(t, ok)
	assert.Equal(t, orderbook.Open, got.State)
	_, ok = ledger.Get("alice", gone.Sequence)
	assert.False(t, ok)

	// New orders continue past everything issued before the restart.
	next, err := restarted.PlaceOrder("stone", orderbook.Sell, 1, 1)
	require.NoError(t, err)
	assert.Greater(t, next.Sequence, last)
}
