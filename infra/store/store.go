// Package store holds the node's durable local state in pebble: the
// account's own sequence watermark, the announcement outbox, and the
// swap session journal. Nothing here is shared with peers; it exists so
// a restart neither reuses sequence numbers nor forgets at-risk swaps.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // durability is the whole point
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// -------------------- Sequence watermark --------------------

func seqKey(account string) []byte {
	return []byte("seq/" + account)
}

// LastSequence returns the highest sequence number this node has assigned
// to the account's own orders. Zero means a fresh account.
func (s *Store) LastSequence(account string) (uint64, error) {
	val, closer, err := s.db.Get(seqKey(account))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, errors.New("store: invalid sequence record length")
	}
	return binary.BigEndian.Uint64(val), nil
}

func (s *Store) SetLastSequence(account string, seq uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return s.db.Set(seqKey(account), buf[:], pebble.Sync)
}

// -------------------- Outbox --------------------

// The outbox is the at-least-once bridge between local order placement
// and the trading room: records move NEW -> SENT -> ACKED and are only
// deleted once acked and no longer needed for replay.

type OutboxState uint8

const (
	OutboxNew OutboxState = iota
	OutboxSent
	OutboxAcked
)

func (st OutboxState) String() string {
	switch st {
	case OutboxNew:
		return "NEW"
	case OutboxSent:
		return "SENT"
	case OutboxAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

type OutboxRecord struct {
	Sequence    uint64
	State       OutboxState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeOutbox(r *OutboxRecord) []byte {
	buf := make([]byte, 1+4+8+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[13:], r.Payload)
	return buf
}

func decodeOutbox(seq uint64, b []byte) (*OutboxRecord, error) {
	if len(b) < 13 {
		return nil, errors.New("store: invalid outbox record length")
	}
	return &OutboxRecord{
		Sequence:    seq,
		State:       OutboxState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[13:]...),
	}, nil
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("outbox/%020d", seq))
}

func parseOutboxKey(k []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(k), "outbox/%d", &seq)
	return seq, err
}

// PutOutbox inserts or replaces an outbox entry.
func (s *Store) PutOutbox(r *OutboxRecord) error {
	return s.db.Set(outboxKey(r.Sequence), encodeOutbox(r), pebble.Sync)
}

// MarkOutbox advances the state of an existing entry, bumping the retry
// counter on re-sends.
func (s *Store) MarkOutbox(seq uint64, state OutboxState) error {
	val, closer, err := s.db.Get(outboxKey(seq))
	if err != nil {
		return err
	}
	rec, err := decodeOutbox(seq, val)
	closer.Close()
	if err != nil {
		return err
	}

	if state == OutboxSent {
		rec.Retries++
	}
	rec.State = state
	rec.LastAttempt = time.Now().UnixNano()
	return s.db.Set(outboxKey(seq), encodeOutbox(rec), pebble.Sync)
}

// DeleteOutbox removes an entry (post-retract cleanup).
func (s *Store) DeleteOutbox(seq uint64) error {
	return s.db.Delete(outboxKey(seq), pebble.Sync)
}

// ScanOutbox visits entries in sequence order, filtered to one state.
func (s *Store) ScanOutbox(state OutboxState, fn func(*OutboxRecord) error) error {
	return s.scanOutbox(func(rec *OutboxRecord) error {
		if rec.State != state {
			return nil
		}
		return fn(rec)
	})
}

// ScanAllOutbox visits every entry in sequence order (startup replay).
func (s *Store) ScanAllOutbox(fn func(*OutboxRecord) error) error {
	return s.scanOutbox(fn)
}

func (s *Store) scanOutbox(fn func(*OutboxRecord) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("outbox/"),
		UpperBound: []byte("outbox/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseOutboxKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeOutbox(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Session journal --------------------

// SessionRecord is the durable image of one swap session. Records for
// terminal sessions are deleted; anything left after a crash represents
// funds that may still be time-locked and must be surfaced.
type SessionRecord struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	State        string `json:"state"`
	Counterparty string `json:"counterparty"`

	Asset    string `json:"asset"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`

	LocalSequence  uint64 `json:"local_sequence"`
	RemoteSequence uint64 `json:"remote_sequence"`

	Secret         []byte `json:"secret,omitempty"`
	Commitment     []byte `json:"commitment,omitempty"`
	SelfLockRef    string `json:"self_lock_ref,omitempty"`
	CounterLockRef string `json:"counter_lock_ref,omitempty"`

	UpdatedAt int64 `json:"updated_at"`
}

func sessionKey(id string) []byte {
	return []byte("session/" + id)
}

func (s *Store) PutSession(rec *SessionRecord) error {
	rec.UpdatedAt = time.Now().UnixNano()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(sessionKey(rec.ID), data, pebble.Sync)
}

func (s *Store) DeleteSession(id string) error {
	return s.db.Delete(sessionKey(id), pebble.Sync)
}

// ScanSessions visits every journaled session.
func (s *Store) ScanSessions(fn func(*SessionRecord) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("session/"),
		UpperBound: []byte("session/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec SessionRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return iter.Error()
}
