// Package service ties the ledger to the outside world: LocalNode is
// the write path for the account's own orders and Synchronizer is the
// read path for everyone else's.
package service
