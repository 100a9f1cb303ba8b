// Package book implements a single-market limit order book with price-time
// priority matching.
//
// The book is owned by its game instance and is not safe for concurrent use;
// all mutation goes through the game's critical section. Matching is
// deterministic: given the same insertion sequence and the same validator
// outcomes it produces the same trades, with the wall clock used only to
// stamp records.
package book

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"pitgame/pkg/types"
)

// ErrInvalidOrder rejects non-positive prices or quantities.
var ErrInvalidOrder = errors.New("invalid order")

// FillValidator approves or vetoes a prospective fill before it executes.
// Returning false stops the matching loop; the incoming order keeps resting
// with whatever quantity remains.
type FillValidator func(buyerID, sellerID, marketID string, quantity int64) bool

// Book maintains resting limit orders for exactly one market.
// Bids are kept best-first (descending price, ascending seq on ties); asks
// likewise (ascending price, ascending seq on ties).
type Book struct {
	marketID string
	bids     []*types.Order
	asks     []*types.Order
	index    map[string]*types.Order
	nextSeq  uint64
	lastPx   *float64
}

// New creates an empty book bound to one market.
func New(marketID string) *Book {
	return &Book{
		marketID: marketID,
		index:    make(map[string]*types.Order),
	}
}

// MarketID returns the market this book trades.
func (b *Book) MarketID() string {
	return b.marketID
}

// AddOrder inserts a limit order and runs the matching loop.
// It returns the inserted order (remaining quantity reflects any fills) and
// the trades produced, in match order. validator may be nil.
func (b *Book) AddOrder(playerID string, side types.Side, price float64, quantity int64, validator FillValidator) (*types.Order, []types.Trade, error) {
	if price <= 0 || quantity <= 0 {
		return nil, nil, ErrInvalidOrder
	}

	order := &types.Order{
		ID:        uuid.NewString(),
		MarketID:  b.marketID,
		PlayerID:  playerID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: time.Now().UnixMilli(),
		Seq:       b.nextSeq,
	}
	b.nextSeq++

	b.index[order.ID] = order
	if side == types.SideBid {
		b.bids = append(b.bids, order)
		sortBids(b.bids)
	} else {
		b.asks = append(b.asks, order)
		sortAsks(b.asks)
	}

	trades := b.match(validator)
	return order, trades, nil
}

// match crosses the book while the best bid meets the best ask.
// The execution price is the price of whichever order was inserted earlier,
// preserving passive-price priority for the resting order.
func (b *Book) match(validator FillValidator) []types.Trade {
	var trades []types.Trade

	for len(b.bids) > 0 && len(b.asks) > 0 {
		bid, ask := b.bids[0], b.asks[0]
		if bid.Price < ask.Price {
			break
		}

		qty := min(bid.Remaining, ask.Remaining)
		if validator != nil && !validator(bid.PlayerID, ask.PlayerID, b.marketID, qty) {
			break
		}

		price := bid.Price
		if ask.Seq < bid.Seq {
			price = ask.Price
		}

		trades = append(trades, types.Trade{
			ID:         uuid.NewString(),
			MarketID:   b.marketID,
			BuyerID:    bid.PlayerID,
			SellerID:   ask.PlayerID,
			BidOrderID: bid.ID,
			AskOrderID: ask.ID,
			Price:      price,
			Quantity:   qty,
			Timestamp:  time.Now().UnixMilli(),
		})
		b.lastPx = &price

		bid.Remaining -= qty
		ask.Remaining -= qty
		if bid.Remaining == 0 {
			b.bids = b.bids[1:]
			delete(b.index, bid.ID)
		}
		if ask.Remaining == 0 {
			b.asks = b.asks[1:]
			delete(b.index, ask.ID)
		}
	}

	return trades
}

// CancelOrder removes a resting order. Returns false for unknown or already
// fully-filled orders.
func (b *Book) CancelOrder(orderID string) bool {
	order, ok := b.index[orderID]
	if !ok || order.Remaining <= 0 {
		return false
	}

	side := &b.bids
	if order.Side == types.SideAsk {
		side = &b.asks
	}
	for i, o := range *side {
		if o.ID == orderID {
			*side = append((*side)[:i], (*side)[i+1:]...)
			break
		}
	}
	delete(b.index, orderID)
	return true
}

// Snapshot aggregates resting orders into per-price levels, each carrying the
// total remaining quantity and the set of contributing player ids. Levels are
// ordered like their side.
func (b *Book) Snapshot() *types.BookSnapshot {
	return &types.BookSnapshot{
		Bids:           aggregate(b.bids),
		Asks:           aggregate(b.asks),
		LastTradePrice: b.lastPx,
	}
}

// Spread returns bestAsk − bestBid; ok is false when either side is empty.
func (b *Book) Spread() (float64, bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].Price - b.bids[0].Price, true
}

func aggregate(side []*types.Order) []types.BookLevel {
	levels := make([]types.BookLevel, 0, len(side))
	for _, o := range side {
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Quantity += o.Remaining
			if !contains(levels[n-1].PlayerIDs, o.PlayerID) {
				levels[n-1].PlayerIDs = append(levels[n-1].PlayerIDs, o.PlayerID)
			}
			continue
		}
		levels = append(levels, types.BookLevel{
			Price:     o.Price,
			Quantity:  o.Remaining,
			PlayerIDs: []string{o.PlayerID},
		})
	}
	return levels
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sortBids(orders []*types.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			return orders[i].Price > orders[j].Price
		}
		return orders[i].Seq < orders[j].Seq
	})
}

func sortAsks(orders []*types.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			return orders[i].Price < orders[j].Price
		}
		return orders[i].Seq < orders[j].Seq
	})
}
