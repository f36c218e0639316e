package grpcserver

// Wire types for the control API. JSON-encoded; see codec.go.

type OrderEntry struct {
	Account  string `json:"account"`
	Asset    string `json:"asset"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Sequence uint64 `json:"sequence"`
	State    string `json:"state"`
}

type PlaceOrderRequest struct {
	Asset    string `json:"asset"`
	Side     string `json:"side"` // "buy" or "sell"
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type PlaceOrderResponse struct {
	Order OrderEntry `json:"order"`
}

type CancelOrderRequest struct {
	Sequence uint64 `json:"sequence"`
}

type CancelOrderResponse struct {
	Status string `json:"status"`
}

type ModifyOrderRequest struct {
	Sequence uint64 `json:"sequence"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
}

type ModifyOrderResponse struct {
	Order OrderEntry `json:"order"`
}

type GetBookRequest struct {
	// Asset filters to one asset; empty returns the whole book.
	Asset string `json:"asset,omitempty"`
}

type GetBookResponse struct {
	Orders []OrderEntry `json:"orders"`
}

type GetAccountOrdersRequest struct {
	Account string `json:"account"`
}

type GetAccountOrdersResponse struct {
	Orders []OrderEntry `json:"orders"`
}

type CandidateEntry struct {
	Buy      OrderEntry `json:"buy"`
	Sell     OrderEntry `json:"sell"`
	Quantity int64      `json:"quantity"`
	Price    int64      `json:"price"`
}

type GetCandidatesRequest struct {
	Asset string `json:"asset"`
	Limit int    `json:"limit,omitempty"`
}

type GetCandidatesResponse struct {
	Candidates []CandidateEntry `json:"candidates"`
}

type ProposeTradeRequest struct {
	BuyAccount   string `json:"buy_account"`
	BuySequence  uint64 `json:"buy_sequence"`
	SellAccount  string `json:"sell_account"`
	SellSequence uint64 `json:"sell_sequence"`
	Quantity     int64  `json:"quantity"`
	Price        int64  `json:"price"`
}

type ProposeTradeResponse struct {
	SessionID string `json:"session_id"`
}

type ListSessionsRequest struct{}

type SessionEntry struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	State        string `json:"state"`
	Counterparty string `json:"counterparty"`
	Asset        string `json:"asset"`
	Quantity     int64  `json:"quantity"`
	Price        int64  `json:"price"`
}

type ListSessionsResponse struct {
	Sessions []SessionEntry `json:"sessions"`
}

type ListTradesRequest struct {
	Asset string `json:"asset,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type TradeEntry struct {
	SessionID string `json:"session_id"`
	Asset     string `json:"asset"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	SettledAt int64  `json:"settled_at"`
}

type ListTradesResponse struct {
	Trades []TradeEntry `json:"trades"`
}
