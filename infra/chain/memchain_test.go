package chain

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockClaimRevealsSecret(t *testing.T) {
	c := NewMemChain()
	ctx := context.Background()

	var secret [32]byte
	copy(secret[:], "the-secret")
	commitment := sha256.Sum256(secret[:])

	h, err := c.Lock(ctx, "wood", 10, commitment, time.Hour)
	require.NoError(t, err)

	var wrong [32]byte
	require.ErrorIs(t, c.Claim(ctx, h, wrong), ErrBadSecret)
	require.NoError(t, c.Claim(ctx, h, secret))

	got, err := c.RevealedSecret(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	// Claimed funds are gone; refund must fail.
	assert.ErrorIs(t, c.Refund(ctx, h), ErrLockSpent)
}

func TestRefundOnlyAfterExpiry(t *testing.T) {
	c := NewMemChain()
	ctx := context.Background()

	var secret [32]byte
	commitment := sha256.Sum256(secret[:])

	h, err := c.Lock(ctx, "wood", 10, commitment, 50*time.Millisecond)
	require.NoError(t, err)

	require.ErrorIs(t, c.Refund(ctx, h), ErrNotExpired)
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, c.Refund(ctx, h))

	// Refunded locks cannot be claimed anymore.
	assert.ErrorIs(t, c.Claim(ctx, h, secret), ErrLockSpent)
}

func TestRevealedSecretHonorsContext(t *testing.T) {
	c := NewMemChain()

	var secret [32]byte
	commitment := sha256.Sum256(secret[:])
	h, err := c.Lock(context.Background(), "wood", 10, commitment, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.RevealedSecret(ctx, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockRejectsNonPositiveAmount(t *testing.T) {
	c := NewMemChain()
	_, err := c.Lock(context.Background(), "wood", 0, [32]byte{}, time.Hour)
	assert.Error(t, err)
}
