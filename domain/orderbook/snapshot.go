package orderbook

import "sort"

// AccountOrders is one account's open orders for one asset, split by side
// and sorted by sequence.
type AccountOrders struct {
	Buys  []Order `json:"buys,omitempty"`
	Sells []Order `json:"sells,omitempty"`
}

// OrderbookForAsset is a point-in-time view of one asset's book. Accounts
// with no open orders do not appear.
type OrderbookForAsset struct {
	Asset    string                   `json:"asset"`
	Accounts map[string]AccountOrders `json:"accounts"`
}

// OrderbookByAsset maps every asset with at least one open order to its book.
type OrderbookByAsset struct {
	Assets map[string]OrderbookForAsset `json:"assets"`
}

// OrdersOfAccount is the secondary view: one account's open orders across
// all assets.
type OrdersOfAccount struct {
	Account string             `json:"account"`
	Orders  map[string][]Order `json:"orders"`
}

// ByAsset builds the snapshot for one asset. Cost is proportional to that
// asset's book, not the whole ledger.
func (l *Ledger) ByAsset(asset string) OrderbookForAsset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byAssetLocked(asset)
}

func (l *Ledger) byAssetLocked(asset string) OrderbookForAsset {
	book := OrderbookForAsset{
		Asset:    asset,
		Accounts: make(map[string]AccountOrders),
	}

	for account, orders := range l.byAsset[asset] {
		var entry AccountOrders
		for _, o := range orders {
			if o.State != Open {
				continue
			}
			if o.Side == Buy {
				entry.Buys = append(entry.Buys, *o)
			} else {
				entry.Sells = append(entry.Sells, *o)
			}
		}
		if len(entry.Buys) == 0 && len(entry.Sells) == 0 {
			continue
		}
		sortBySequence(entry.Buys)
		sortBySequence(entry.Sells)
		book.Accounts[account] = entry
	}
	return book
}

// All builds the full by-asset snapshot.
func (l *Ledger) All() OrderbookByAsset {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := OrderbookByAsset{Assets: make(map[string]OrderbookForAsset)}
	for asset := range l.byAsset {
		book := l.byAssetLocked(asset)
		if len(book.Accounts) > 0 {
			out.Assets[asset] = book
		}
	}
	return out
}

// OfAccount builds the per-account snapshot across all assets.
func (l *Ledger) OfAccount(account string) OrdersOfAccount {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := OrdersOfAccount{
		Account: account,
		Orders:  make(map[string][]Order),
	}
	for _, o := range l.byAccount[account] {
		if o.State != Open {
			continue
		}
		out.Orders[o.Asset] = append(out.Orders[o.Asset], *o)
	}
	for asset := range out.Orders {
		sortBySequence(out.Orders[asset])
	}
	return out
}

func sortBySequence(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Sequence < orders[j].Sequence
	})
}
