// Package chain provides ChainClient implementations. MemChain is the
// in-process one: locks live in memory and finality is immediate. It is
// good for development and for deployments where both accounts run
// inside one trusted process; production nodes implement
// settlement.ChainClient against the actual game ledger RPC.
package chain

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradepost/settlement"
)

var (
	ErrNoSuchLock = errors.New("chain: no such lock")
	ErrLockSpent  = errors.New("chain: lock already spent")
	ErrNotExpired = errors.New("chain: lock not yet refundable")
	ErrBadSecret  = errors.New("chain: secret does not match commitment")
)

type memLock struct {
	commitment [32]byte
	expiresAt  time.Time

	claimed  bool
	refunded bool
	secret   [32]byte
	revealed chan struct{}
}

type MemChain struct {
	mu    sync.Mutex
	seq   uint64
	locks map[string]*memLock
}

func NewMemChain() *MemChain {
	return &MemChain{locks: make(map[string]*memLock)}
}

func (c *MemChain) Lock(_ context.Context, asset string, amount int64, commitment [32]byte, timeout time.Duration) (settlement.LockHandle, error) {
	if amount <= 0 {
		return settlement.LockHandle{}, fmt.Errorf("chain: non-positive amount %d of %s", amount, asset)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	ref := fmt.Sprintf("mem-%d", c.seq)
	c.locks[ref] = &memLock{
		commitment: commitment,
		expiresAt:  time.Now().Add(timeout),
		revealed:   make(chan struct{}),
	}
	return settlement.LockHandle{Ref: ref}, nil
}

func (c *MemChain) Claim(_ context.Context, h settlement.LockHandle, secret [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[h.Ref]
	if !ok {
		return ErrNoSuchLock
	}
	if l.refunded {
		return ErrLockSpent
	}
	if sha256.Sum256(secret[:]) != l.commitment {
		return ErrBadSecret
	}
	if !l.claimed {
		l.claimed = true
		l.secret = secret
		close(l.revealed)
	}
	return nil
}

func (c *MemChain) Refund(_ context.Context, h settlement.LockHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[h.Ref]
	if !ok {
		return ErrNoSuchLock
	}
	if l.claimed {
		return ErrLockSpent
	}
	if time.Now().Before(l.expiresAt) {
		return ErrNotExpired
	}
	l.refunded = true
	return nil
}

func (c *MemChain) AwaitFinality(_ context.Context, h settlement.LockHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.locks[h.Ref]; !ok {
		return ErrNoSuchLock
	}
	return nil
}

func (c *MemChain) RevealedSecret(ctx context.Context, h settlement.LockHandle) ([32]byte, error) {
	c.mu.Lock()
	l, ok := c.locks[h.Ref]
	c.mu.Unlock()
	if !ok {
		return [32]byte{}, ErrNoSuchLock
	}
	select {
	case <-l.revealed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return l.secret, nil
	case <-ctx.Done():
		return [32]byte{}, ctx.Err()
	}
}
