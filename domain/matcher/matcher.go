// Package matcher scans per-asset order book snapshots for compatible
// (buy, sell) pairs. Matching is advisory: candidates are proposed to a
// policy or operator, and only the swap coordinator's ledger lock turns a
// candidate into a reservation.
package matcher

import (
	"sort"

	"tradepost/domain/orderbook"
)

// Pair is one compatible candidate trade. Quantity is the executable
// amount, Price the execution price (the seller's ask; the buyer's limit
// is at or above it).
type Pair struct {
	Buy      orderbook.Order
	Sell     orderbook.Order
	Quantity int64
	Price    int64
}

// Candidates walks compatible pairs for one asset's book in price-time
// priority: best price first, ties broken by earliest sequence number.
// The walk stops early when fn returns false.
//
// Two orders are compatible iff they are opposite sides of the same asset,
// buy.Price >= sell.Price, and they belong to different accounts.
// Quantities are consumed greedily, so a large order can appear in several
// pairs with decreasing remainders.
func Candidates(book orderbook.OrderbookForAsset, fn func(Pair) bool) {
	buys, sells := collect(book)
	if len(buys) == 0 || len(sells) == 0 {
		return
	}

	// Buys: highest price first. Sells: lowest price first.
	sort.Slice(buys, func(i, j int) bool { return less(buys[i], buys[j], true) })
	sort.Slice(sells, func(i, j int) bool { return less(sells[i], sells[j], false) })

	remBuy := remaining(buys)
	remSell := remaining(sells)

	for bi := range buys {
		for si := range sells {
			if remBuy[bi] == 0 {
				break
			}
			if remSell[si] == 0 {
				continue
			}
			if buys[bi].Price < sells[si].Price {
				// Sells are sorted ascending: nothing further matches.
				break
			}
			if buys[bi].Account == sells[si].Account {
				continue
			}

			qty := min(remBuy[bi], remSell[si])
			remBuy[bi] -= qty
			remSell[si] -= qty

			if !fn(Pair{
				Buy:      buys[bi],
				Sell:     sells[si],
				Quantity: qty,
				Price:    sells[si].Price,
			}) {
				return
			}
		}
	}
}

func collect(book orderbook.OrderbookForAsset) (buys, sells []orderbook.Order) {
	for _, entry := range book.Accounts {
		for _, o := range entry.Buys {
			if o.State == orderbook.Open {
				buys = append(buys, o)
			}
		}
		for _, o := range entry.Sells {
			if o.State == orderbook.Open {
				sells = append(sells, o)
			}
		}
	}
	return buys, sells
}

// less orders by price priority, then earliest sequence, then account for
// a stable total order.
func less(a, b orderbook.Order, buySide bool) bool {
	if a.Price != b.Price {
		if buySide {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.Account < b.Account
}

func remaining(orders []orderbook.Order) []int64 {
	out := make([]int64, len(orders))
	for i, o := range orders {
		out[i] = o.Quantity
	}
	return out
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
