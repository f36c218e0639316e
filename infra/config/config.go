// Package config loads the node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Listen struct {
	GRPC    string `yaml:"grpc"`
	Feed    string `yaml:"feed"`
	Metrics string `yaml:"metrics"`
}

type Config struct {
	// Account is the trading identity announced to the room.
	Account string `yaml:"account"`
	// Room is the Kafka topic acting as the trading room.
	Room    string   `yaml:"room"`
	Brokers []string `yaml:"brokers"`

	DataDir     string `yaml:"data_dir"`
	HistoryPath string `yaml:"history_path"`

	// CurrencyAsset is what buyers lock: price * quantity of it.
	CurrencyAsset string `yaml:"currency_asset"`

	Listen Listen `yaml:"listen"`

	// OrderTTL expires peer orders that were never retracted; zero
	// disables expiry.
	OrderTTL        time.Duration `yaml:"order_ttl"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	ClaimAttempts   int           `yaml:"claim_attempts"`
}

func Default() Config {
	return Config{
		Room:          "tradepost",
		Brokers:       []string{"localhost:9092"},
		DataDir:       "./data",
		HistoryPath:   "./data/trades.db",
		CurrencyAsset: "gold",
		Listen: Listen{
			GRPC:    ":9090",
			Feed:    ":9091",
			Metrics: ":9100",
		},
		ResponseTimeout: 30 * time.Second,
		LockTimeout:     10 * time.Minute,
		ClaimAttempts:   5,
	}
}

// Load reads path over the defaults. An empty path returns the defaults
// untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Account == "" {
		return errors.New("config: account is required")
	}
	if c.Room == "" {
		return errors.New("config: room is required")
	}
	if len(c.Brokers) == 0 {
		return errors.New("config: at least one broker is required")
	}
	return nil
}
