// Package transport defines the group-messaging ports of the node. The
// concrete adapter (infra/kafka) supplies delivery ordered per sender,
// at least once, with no cross-sender ordering guarantee; the ledger's
// idempotent reconciliation is what makes that safe.
package transport

import "context"

// Event is one raw message received from a trading room. Payload is an
// encoded wire.Envelope; Sender is the announcing account.
type Event struct {
	Room    string
	Sender  string
	Payload []byte
}

// Publisher sends payloads to a trading room on behalf of one account.
type Publisher interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Close() error
}

// Subscription yields the stream of room events. The channel closes when
// the subscription ends.
type Subscription interface {
	Events() <-chan Event
	Close() error
}
