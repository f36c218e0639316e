package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
account: alice
room: market
brokers: ["k1:9092", "k2:9092"]
currency_asset: coins
order_ttl: 24h
listen:
  grpc: ":7000"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "alice", cfg.Account)
	assert.Equal(t, "market", cfg.Room)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "coins", cfg.CurrencyAsset)
	assert.Equal(t, 24*time.Hour, cfg.OrderTTL)
	assert.Equal(t, ":7000", cfg.Listen.GRPC)

	// Untouched keys keep their defaults.
	assert.Equal(t, ":9091", cfg.Listen.Feed)
	assert.Equal(t, 10*time.Minute, cfg.LockTimeout)
}

func TestValidateRejectsMissingAccount(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Account = "alice"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
