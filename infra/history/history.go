// Package history keeps settled trades in a local SQLite database so
// operators can audit what actually traded, independent of the volatile
// in-memory book.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"tradepost/settlement"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL UNIQUE,
	asset       TEXT    NOT NULL,
	quantity    INTEGER NOT NULL,
	price       INTEGER NOT NULL,
	buyer       TEXT    NOT NULL,
	seller      TEXT    NOT NULL,
	settled_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_asset_time ON trades (asset, settled_at DESC);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTrade stores one settled trade. Keyed by session ID, so a
// redelivered settlement is a no-op.
func (s *Store) RecordTrade(ctx context.Context, t settlement.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(session_id, asset, quantity, price, buyer, seller, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Asset, t.Quantity, t.Price, t.Buyer, t.Seller, t.SettledAt.UnixNano(),
	)
	return err
}

// ListTrades returns the most recent trades, newest first, optionally
// filtered to one asset.
func (s *Store) ListTrades(ctx context.Context, asset string, limit int) ([]settlement.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT session_id, asset, quantity, price, buyer, seller, settled_at
		FROM trades`
	args := []interface{}{}
	if asset != "" {
		query += ` WHERE asset = ?`
		args = append(args, asset)
	}
	query += ` ORDER BY settled_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Trade
	for rows.Next() {
		var t settlement.Trade
		var settledAt int64
		if err := rows.Scan(&t.SessionID, &t.Asset, &t.Quantity, &t.Price, &t.Buyer, &t.Seller, &settledAt); err != nil {
			return nil, err
		}
		t.SettledAt = time.Unix(0, settledAt)
		out = append(out, t)
	}
	return out, rows.Err()
}
