package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSequencePersistence(t *testing.T) {
	s := open(t)

	seq, err := s.LastSequence("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)

	require.NoError(t, s.SetLastSequence("alice", 17))

	seq, err = s.LastSequence("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), seq)
}

func TestOutboxLifecycle(t *testing.T) {
	s := open(t)

	require.NoError(t, s.PutOutbox(&OutboxRecord{
		Sequence: 1,
		State:    OutboxNew,
		Payload:  []byte("first"),
	}))
	require.NoError(t, s.PutOutbox(&OutboxRecord{
		Sequence: 2,
		State:    OutboxNew,
		Payload:  []byte("second"),
	}))

	var seqs []uint64
	require.NoError(t, s.ScanOutbox(OutboxNew, func(r *OutboxRecord) error {
		seqs = append(seqs, r.Sequence)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, seqs)

	require.NoError(t, s.MarkOutbox(1, OutboxSent))
	require.NoError(t, s.MarkOutbox(1, OutboxAcked))

	seqs = nil
	require.NoError(t, s.ScanOutbox(OutboxNew, func(r *OutboxRecord) error {
		seqs = append(seqs, r.Sequence)
		return nil
	}))
	assert.Equal(t, []uint64{2}, seqs)

	var all []*OutboxRecord
	require.NoError(t, s.ScanAllOutbox(func(r *OutboxRecord) error {
		all = append(all, r)
		return nil
	}))
	require.Len(t, all, 2)
	assert.Equal(t, OutboxAcked, all[0].State)
	assert.Equal(t, uint32(1), all[0].Retries)
	assert.Equal(t, []byte("first"), all[0].Payload)

	require.NoError(t, s.DeleteOutbox(2))
	all = nil
	require.NoError(t, s.ScanAllOutbox(func(r *OutboxRecord) error {
		all = append(all, r)
		return nil
	}))
	assert.Len(t, all, 1)
}

func TestSessionJournal(t *testing.T) {
	s := open(t)

	rec := &SessionRecord{
		ID:            "sess-1",
		Role:          "initiator",
		State:         "both_locked",
		Counterparty:  "bob",
		Asset:         "wood",
		Quantity:      10,
		Price:         2,
		LocalSequence: 3,
		SelfLockRef:   "lock-a",
	}
	require.NoError(t, s.PutSession(rec))

	var got []*SessionRecord
	require.NoError(t, s.ScanSessions(func(r *SessionRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Counterparty)
	assert.Equal(t, "both_locked", got[0].State)
	assert.NotZero(t, got[0].UpdatedAt)

	require.NoError(t, s.DeleteSession("sess-1"))
	got = nil
	require.NoError(t, s.ScanSessions(func(r *SessionRecord) error {
		got = append(got, r)
		return nil
	}))
	assert.Empty(t, got)
}
