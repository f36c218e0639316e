// Package feed streams live order book changes over websockets. Each
// client gets a full snapshot on connect followed by incremental deltas.
package feed

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradepost/domain/orderbook"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type orderJSON struct {
	Account  string `json:"account"`
	Asset    string `json:"asset"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Sequence uint64 `json:"sequence"`
	State    string `json:"state"`
}

type snapshotMsg struct {
	Type   string      `json:"type"` // "snapshot"
	Orders []orderJSON `json:"orders"`
}

type deltaMsg struct {
	Type  string    `json:"type"` // "delta"
	Kind  string    `json:"kind"` // "added", "removed", "updated"
	Order orderJSON `json:"order"`
}

// Hub upgrades HTTP requests and fans the synchronizer's delta feed out
// to websocket clients. Slow clients are dropped, not buffered forever.
type Hub struct {
	snapshot  func() orderbook.OrderbookByAsset
	subscribe func(buffer int) (<-chan orderbook.Delta, func())
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

func NewHub(
	snapshot func() orderbook.OrderbookByAsset,
	subscribe func(buffer int) (<-chan orderbook.Delta, func()),
	log zerolog.Logger,
) *Hub {
	return &Hub{
		snapshot:  snapshot,
		subscribe: subscribe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: log.With().Str("component", "feed").Logger(),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	go h.stream(conn)
}

func (h *Hub) stream(conn *websocket.Conn) {
	defer conn.Close()

	deltas, stop := h.subscribe(256)
	defer stop()

	// Snapshot first so the client can apply deltas against a base.
	snap := snapshotMsg{Type: "snapshot", Orders: []orderJSON{}}
	for _, book := range h.snapshot().Assets {
		for _, acct := range book.Accounts {
			for _, o := range acct.Buys {
				snap.Orders = append(snap.Orders, toJSON(o))
			}
			for _, o := range acct.Sells {
				snap.Orders = append(snap.Orders, toJSON(o))
			}
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snap); err != nil {
		return
	}

	// Reader drains control frames and unblocks on client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				// Subscription cut off for falling behind. Closing the
				// connection makes the client reconnect and resync from a
				// fresh snapshot instead of a stream with holes.
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(deltaMsg{
				Type:  "delta",
				Kind:  kindString(d.Kind),
				Order: toJSON(d.Order),
			}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func toJSON(o orderbook.Order) orderJSON {
	return orderJSON{
		Account:  o.Account,
		Asset:    o.Asset,
		Side:     o.Side.String(),
		Quantity: o.Quantity,
		Price:    o.Price,
		Sequence: o.Sequence,
		State:    o.State.String(),
	}
}

func kindString(k orderbook.DeltaKind) string {
	switch k {
	case orderbook.OrderAdded:
		return "added"
	case orderbook.OrderRemoved:
		return "removed"
	case orderbook.OrderUpdated:
		return "updated"
	default:
		return "unknown"
	}
}
