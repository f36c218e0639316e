// Package orderbook implements the in-memory order ledger: the
// authoritative store of currently-known open orders, indexed by asset
// and by account, reconciled from an unordered stream of peer
// announcements.
//
// The ledger is idempotent and order-independent across accounts:
// per-account sequence watermarks drop duplicate or stale announcements,
// so any per-account order-preserving interleaving of events converges
// to the same snapshots.
package orderbook
