package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/settlement"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListTrades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, tr := range []settlement.Trade{
		{SessionID: "s1", Asset: "wood", Quantity: 10, Price: 2, Buyer: "alice", Seller: "bob"},
		{SessionID: "s2", Asset: "iron", Quantity: 3, Price: 9, Buyer: "bob", Seller: "carol"},
		{SessionID: "s3", Asset: "wood", Quantity: 4, Price: 3, Buyer: "carol", Seller: "alice"},
	} {
		tr.SettledAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.RecordTrade(ctx, tr))
	}

	all, err := s.ListTrades(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].SessionID) // newest first

	wood, err := s.ListTrades(ctx, "wood", 10)
	require.NoError(t, err)
	require.Len(t, wood, 2)
	for _, tr := range wood {
		assert.Equal(t, "wood", tr.Asset)
	}

	limited, err := s.ListTrades(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordTradeIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := settlement.Trade{
		SessionID: "s1", Asset: "wood", Quantity: 10, Price: 2,
		Buyer: "alice", Seller: "bob", SettledAt: time.Now(),
	}
	require.NoError(t, s.RecordTrade(ctx, tr))
	require.NoError(t, s.RecordTrade(ctx, tr))

	all, err := s.ListTrades(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
