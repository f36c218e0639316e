package grpcserver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tradepost/domain/matcher"
	"tradepost/domain/orderbook"
	"tradepost/infra/sequence"
	"tradepost/infra/store"
	"tradepost/service"
	"tradepost/settlement"
)

type fakeSwapper struct {
	pairs    []matcher.Pair
	sessions []settlement.Info
}

func (f *fakeSwapper) Propose(p matcher.Pair) (*settlement.Session, error) {
	f.pairs = append(f.pairs, p)
	return &settlement.Session{ID: "session-1"}, nil
}

func (f *fakeSwapper) Sessions() []settlement.Info { return f.sessions }

func newTestServer(t *testing.T) (*Server, *orderbook.Ledger, *fakeSwapper) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ledger := orderbook.NewLedger()
	local := service.NewLocalNode("alice", ledger, sequence.New(0), st, zerolog.Nop())
	sw := &fakeSwapper{}
	return NewServer(local, ledger, sw, nil, zerolog.Nop()), ledger, sw
}

func TestPlaceAndCancelOverAPI(t *testing.T) {
	srv, ledger, _ := newTestServer(t)
	ctx := context.Background()

	resp, err := srv.PlaceOrder(ctx, &PlaceOrderRequest{
		Asset: "wood", Side: "sell", Quantity: 10, Price: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Order.Account)
	assert.Equal(t, "sell", resp.Order.Side)
	require.NotZero(t, resp.Order.Sequence)

	_, ok := ledger.Get("alice", resp.Order.Sequence)
	assert.True(t, ok)

	_, err = srv.CancelOrder(ctx, &CancelOrderRequest{Sequence: resp.Order.Sequence})
	require.NoError(t, err)
	_, ok = ledger.Get("alice", resp.Order.Sequence)
	assert.False(t, ok)
}

func TestPlaceOrderRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	_, err := srv.PlaceOrder(ctx, &PlaceOrderRequest{Asset: "wood", Side: "hold", Quantity: 1, Price: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = srv.PlaceOrder(ctx, &PlaceOrderRequest{Asset: "wood", Side: "buy", Quantity: 0, Price: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = srv.CancelOrder(ctx, &CancelOrderRequest{Sequence: 42})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGetBookFiltersByAsset(t *testing.T) {
	srv, ledger, _ := newTestServer(t)
	ctx := context.Background()

	for _, ev := range []orderbook.Event{
		{Kind: orderbook.EventAnnounce, Account: "bob", Asset: "wood", Side: orderbook.Sell, Quantity: 10, Price: 2, Sequence: 1},
		{Kind: orderbook.EventAnnounce, Account: "bob", Asset: "iron", Side: orderbook.Buy, Quantity: 3, Price: 9, Sequence: 2},
	} {
		_, err := ledger.Apply(ev)
		require.NoError(t, err)
	}

	all, err := srv.GetBook(ctx, &GetBookRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Orders, 2)

	wood, err := srv.GetBook(ctx, &GetBookRequest{Asset: "wood"})
	require.NoError(t, err)
	require.Len(t, wood.Orders, 1)
	assert.Equal(t, "wood", wood.Orders[0].Asset)
}

func TestGetCandidatesAndPropose(t *testing.T) {
	srv, ledger, sw := newTestServer(t)
	ctx := context.Background()

	_, err := srv.PlaceOrder(ctx, &PlaceOrderRequest{Asset: "wood", Side: "buy", Quantity: 10, Price: 3})
	require.NoError(t, err)
	_, err = ledger.Apply(orderbook.Event{
		Kind: orderbook.EventAnnounce, Account: "bob", Asset: "wood",
		Side: orderbook.Sell, Quantity: 10, Price: 2, Sequence: 1,
	})
	require.NoError(t, err)

	cands, err := srv.GetCandidates(ctx, &GetCandidatesRequest{Asset: "wood"})
	require.NoError(t, err)
	require.Len(t, cands.Candidates, 1)
	c := cands.Candidates[0]
	assert.Equal(t, "alice", c.Buy.Account)
	assert.Equal(t, "bob", c.Sell.Account)
	assert.Equal(t, int64(2), c.Price) // seller's ask wins

	resp, err := srv.ProposeTrade(ctx, &ProposeTradeRequest{
		BuyAccount: c.Buy.Account, BuySequence: c.Buy.Sequence,
		SellAccount: c.Sell.Account, SellSequence: c.Sell.Sequence,
		Quantity: c.Quantity, Price: c.Price,
	})
	require.NoError(t, err)
	assert.Equal(t, "session-1", resp.SessionID)
	require.Len(t, sw.pairs, 1)
	assert.Equal(t, int64(10), sw.pairs[0].Quantity)
}

func TestListSessions(t *testing.T) {
	srv, _, sw := newTestServer(t)
	sw.sessions = []settlement.Info{
		{ID: "b", Role: "initiator", State: "claiming", Counterparty: "bob", Asset: "wood", Quantity: 10, Price: 2},
		{ID: "a", Role: "responder", State: "stuck", Counterparty: "carol", Asset: "iron", Quantity: 1, Price: 5},
	}

	resp, err := srv.ListSessions(context.Background(), &ListSessionsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, "a", resp.Sessions[0].ID) // sorted
	assert.Equal(t, "stuck", resp.Sessions[0].State)
}
