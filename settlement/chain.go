package settlement

import (
	"context"
	"time"
)

// LockHandle references one chain lock. Ref is portable: the counterparty
// receives it in a LockNotice and can await finality or claim against it.
type LockHandle struct {
	Ref string
}

// ChainClient is the chain-agnostic port for the atomic-swap primitives.
// The coordinator talks only to this interface; the concrete commitment
// scheme (hash lock or equivalent) is the implementation's business, as
// long as claiming one leg reveals the secret that unlocks the other.
//
// Lock/Claim/Refund/AwaitFinality may take arbitrarily long pending
// external finality; callers bound them with the context.
type ChainClient interface {
	// Lock reserves amount of asset under the commitment. Funds become
	// claimable by whoever presents the matching secret, and refundable
	// by the locker after timeout.
	Lock(ctx context.Context, asset string, amount int64, commitment [32]byte, timeout time.Duration) (LockHandle, error)

	// Claim sweeps a lock by revealing its secret.
	Claim(ctx context.Context, h LockHandle, secret [32]byte) error

	// Refund returns a lock to its owner once the lock's timeout passed.
	Refund(ctx context.Context, h LockHandle) error

	// AwaitFinality blocks until the lock is irreversible on the ledger.
	AwaitFinality(ctx context.Context, h LockHandle) error

	// RevealedSecret blocks until the counterpart claims the lock and
	// returns the secret that the claim exposed.
	RevealedSecret(ctx context.Context, h LockHandle) ([32]byte, error)
}
