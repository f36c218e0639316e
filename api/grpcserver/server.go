package grpcserver

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tradepost/domain/matcher"
	"tradepost/domain/orderbook"
	"tradepost/service"
	"tradepost/settlement"
)

// Swapper is the slice of the coordinator the API needs.
type Swapper interface {
	Propose(pair matcher.Pair) (*settlement.Session, error)
	Sessions() []settlement.Info
}

// TradeHistory reads settled trades. *history.Store satisfies it.
type TradeHistory interface {
	ListTrades(ctx context.Context, asset string, limit int) ([]settlement.Trade, error)
}

// Server adapts the node to gRPC. history and swapper may be nil on
// nodes that run book-only.
type Server struct {
	local   *service.LocalNode
	ledger  *orderbook.Ledger
	swapper Swapper
	history TradeHistory
	log     zerolog.Logger
}

func NewServer(
	local *service.LocalNode,
	ledger *orderbook.Ledger,
	swapper Swapper,
	history TradeHistory,
	log zerolog.Logger,
) *Server {
	return &Server{
		local:   local,
		ledger:  ledger,
		swapper: swapper,
		history: history,
		log:     log.With().Str("component", "grpc").Logger(),
	}
}

// Register attaches the service to a grpc server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	side, err := parseSide(req.Side)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	o, err := s.local.PlaceOrder(req.Asset, side, req.Quantity, req.Price)
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Debug().Str("asset", req.Asset).Uint64("sequence", o.Sequence).Msg("PlaceOrder")
	return &PlaceOrderResponse{Order: toEntry(o)}, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if err := s.local.CancelOrder(req.Sequence); err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{Status: "ok"}, nil
}

func (s *Server) ModifyOrder(ctx context.Context, req *ModifyOrderRequest) (*ModifyOrderResponse, error) {
	o, err := s.local.ModifyOrder(req.Sequence, req.Quantity, req.Price)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ModifyOrderResponse{Order: toEntry(o)}, nil
}

func (s *Server) ProposeTrade(ctx context.Context, req *ProposeTradeRequest) (*ProposeTradeResponse, error) {
	if s.swapper == nil {
		return nil, status.Error(codes.Unimplemented, "settlement disabled")
	}
	buy, ok := s.ledger.Get(req.BuyAccount, req.BuySequence)
	if !ok {
		return nil, status.Error(codes.NotFound, "buy order not found")
	}
	sell, ok := s.ledger.Get(req.SellAccount, req.SellSequence)
	if !ok {
		return nil, status.Error(codes.NotFound, "sell order not found")
	}

	sess, err := s.swapper.Propose(matcher.Pair{
		Buy:      buy,
		Sell:     sell,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProposeTradeResponse{SessionID: sess.ID}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetBook(ctx context.Context, req *GetBookRequest) (*GetBookResponse, error) {
	var out []OrderEntry
	if req.Asset != "" {
		out = flattenAsset(s.ledger.ByAsset(req.Asset))
	} else {
		all := s.ledger.All()
		for _, book := range all.Assets {
			out = append(out, flattenAsset(book)...)
		}
	}
	sortEntries(out)
	return &GetBookResponse{Orders: out}, nil
}

func (s *Server) GetAccountOrders(ctx context.Context, req *GetAccountOrdersRequest) (*GetAccountOrdersResponse, error) {
	account := req.Account
	if account == "" {
		account = s.local.Account()
	}
	var out []OrderEntry
	snap := s.ledger.OfAccount(account)
	for _, orders := range snap.Orders {
		for _, o := range orders {
			out = append(out, toEntry(o))
		}
	}
	sortEntries(out)
	return &GetAccountOrdersResponse{Orders: out}, nil
}

func (s *Server) GetCandidates(ctx context.Context, req *GetCandidatesRequest) (*GetCandidatesResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	resp := &GetCandidatesResponse{}
	matcher.Candidates(s.ledger.ByAsset(req.Asset), func(p matcher.Pair) bool {
		resp.Candidates = append(resp.Candidates, CandidateEntry{
			Buy:      toEntry(p.Buy),
			Sell:     toEntry(p.Sell),
			Quantity: p.Quantity,
			Price:    p.Price,
		})
		return len(resp.Candidates) < limit
	})
	return resp, nil
}

func (s *Server) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	resp := &ListSessionsResponse{}
	if s.swapper == nil {
		return resp, nil
	}
	for _, info := range s.swapper.Sessions() {
		resp.Sessions = append(resp.Sessions, SessionEntry(info))
	}
	sort.Slice(resp.Sessions, func(i, j int) bool {
		return resp.Sessions[i].ID < resp.Sessions[j].ID
	})
	return resp, nil
}

func (s *Server) ListTrades(ctx context.Context, req *ListTradesRequest) (*ListTradesResponse, error) {
	resp := &ListTradesResponse{}
	if s.history == nil {
		return resp, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	trades, err := s.history.ListTrades(ctx, req.Asset, limit)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, TradeEntry{
			SessionID: t.SessionID,
			Asset:     t.Asset,
			Quantity:  t.Quantity,
			Price:     t.Price,
			Buyer:     t.Buyer,
			Seller:    t.Seller,
			SettledAt: t.SettledAt.Unix(),
		})
	}
	return resp, nil
}

// -------------------- Converters --------------------

func toEntry(o orderbook.Order) OrderEntry {
	return OrderEntry{
		Account:  o.Account,
		Asset:    o.Asset,
		Side:     o.Side.String(),
		Quantity: o.Quantity,
		Price:    o.Price,
		Sequence: o.Sequence,
		State:    o.State.String(),
	}
}

func flattenAsset(book orderbook.OrderbookForAsset) []OrderEntry {
	var out []OrderEntry
	for _, acct := range book.Accounts {
		for _, o := range acct.Buys {
			out = append(out, toEntry(o))
		}
		for _, o := range acct.Sells {
			out = append(out, toEntry(o))
		}
	}
	return out
}

func sortEntries(out []OrderEntry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Sequence < out[j].Sequence
	})
}

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "buy":
		return orderbook.Buy, nil
	case "sell":
		return orderbook.Sell, nil
	default:
		return 0, errors.New("side must be \"buy\" or \"sell\"")
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, orderbook.ErrNoSuchOrder):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, orderbook.ErrOrderUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, orderbook.ErrStaleSequence):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrBadOrder):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, settlement.ErrNotParticipant):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
