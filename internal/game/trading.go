package game

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"pitgame/internal/book"
	"pitgame/pkg/types"
)

// quoteWidthTolerance bounds the MM quote's width mismatch against the
// winning spread.
const quoteWidthTolerance = 1e-6

// SubmitSpread records a Stage-1 spread bid. Widths must be strictly tighter
// than the current best; each accepted submission restarts the no-tighter
// window, whose expiry ends the stage.
func (g *Game) SubmitSpread(playerID string, width float64) error {
	return g.run(func() error {
		if g.status != types.StatusPlaying {
			return errNotPlaying
		}
		if g.round == nil || g.round.Stage != types.StageSpreadQuoting {
			return errors.New("not in spread quoting stage")
		}
		p, ok := g.players[playerID]
		if !ok {
			return errors.New("unknown player")
		}
		if p.IsGamemaster {
			return errors.New("gamemaster cannot trade")
		}
		if width <= 0 {
			return errors.New("spread must be positive")
		}
		if g.round.BestSpread != nil && width >= *g.round.BestSpread {
			return errors.New("spread must be strictly tighter than current best")
		}

		g.round.BestSpread = &width
		g.round.BestSpreadPlayerID = playerID
		g.round.Submissions = append(g.round.Submissions, types.SpreadSubmission{
			PlayerID: playerID,
			Width:    width,
			At:       time.Now().UnixMilli(),
		})
		g.armNoTighterLocked(g.cfg.NoTighterWindow)
		return nil
	})
}

// SubmitQuote records the market maker's two-sided quote. The caller must be
// the best-spread player and ask−bid must equal the winning spread within
// tolerance. A valid quote advances the round to FORCED_TRADING.
func (g *Game) SubmitQuote(playerID string, bid, ask float64) error {
	return g.run(func() error {
		if g.status != types.StatusPlaying {
			return errNotPlaying
		}
		if g.round == nil || g.round.Stage != types.StageMarketMakerQuote {
			return errors.New("not in market maker quote stage")
		}
		if playerID != g.round.BestSpreadPlayerID {
			return errors.New("only the market maker may quote")
		}
		width := ask - bid
		if width <= 0 {
			return errors.New("quote width must be positive")
		}
		if g.round.BestSpread == nil || math.Abs(width-*g.round.BestSpread) > quoteWidthTolerance {
			return errors.New("quote width must equal the winning spread")
		}

		g.round.Quote = &types.Quote{Bid: bid, Ask: ask}
		g.enterForcedTradingLocked()
		return nil
	})
}

// ForcedTrade executes a Stage-3 trade against the market maker's quote:
// buys at the ask, sells at the bid, with symmetric cash and position deltas.
// The caller's average cost is recomputed; the market maker's is not.
func (g *Game) ForcedTrade(playerID string, direction types.Direction, quantity int64) (*types.Trade, error) {
	var trade *types.Trade
	err := g.run(func() error {
		if g.status != types.StatusPlaying {
			return errNotPlaying
		}
		if g.round == nil || g.round.Stage != types.StageForcedTrading {
			return errors.New("not in forced trading stage")
		}
		if g.round.Quote == nil {
			return errors.New("no market maker quote")
		}
		if quantity <= 0 {
			return errors.New("quantity must be positive")
		}
		caller, ok := g.players[playerID]
		if !ok {
			return errors.New("unknown player")
		}
		if caller.IsGamemaster {
			return errors.New("gamemaster cannot trade")
		}
		mm, ok := g.players[g.round.BestSpreadPlayerID]
		if !ok {
			return errors.New("market maker has left the game")
		}
		if caller.ID == mm.ID {
			return errors.New("market maker cannot force-trade against itself")
		}

		marketID := g.round.MarketID
		delta := quantity
		price := g.round.Quote.Ask
		if direction == types.DirectionSell {
			delta = -quantity
			price = g.round.Quote.Bid
		}

		if g.maxExposure > 0 {
			if abs(positionQty(caller, marketID)+delta) > g.maxExposure {
				return errors.New("trade would exceed your exposure limit")
			}
			if abs(positionQty(mm, marketID)-delta) > g.maxExposure {
				return errors.New("trade would exceed the market maker's exposure limit")
			}
		}

		notional := price * float64(quantity)
		buyerID, sellerID := caller.ID, mm.ID
		if direction == types.DirectionBuy {
			caller.Cash -= notional
			mm.Cash += notional
		} else {
			caller.Cash += notional
			mm.Cash -= notional
			buyerID, sellerID = mm.ID, caller.ID
		}

		applyFill(caller, marketID, delta, price, true)
		applyFill(mm, marketID, -delta, price, false)

		trade = &types.Trade{
			ID:        uuid.NewString(),
			MarketID:  marketID,
			BuyerID:   buyerID,
			SellerID:  sellerID,
			Price:     price,
			Quantity:  quantity,
			Timestamp: time.Now().UnixMilli(),
		}
		g.emitTradeLocked(*trade)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// SubmitOrder places a limit order during OPEN_TRADING and settles any fills
// the matching loop produces. The exposure validator vetoes fills that would
// push either principal past the limit, accounting for earlier fills in the
// same batch.
func (g *Game) SubmitOrder(playerID string, side types.Side, price float64, quantity int64) (*types.Order, []types.Trade, error) {
	var (
		order  *types.Order
		trades []types.Trade
	)
	err := g.run(func() error {
		if g.status != types.StatusPlaying {
			return errNotPlaying
		}
		if g.round == nil || g.round.Stage != types.StageOpenTrading {
			return errors.New("not in open trading stage")
		}
		if g.book == nil {
			return errors.New("no order book")
		}
		p, ok := g.players[playerID]
		if !ok {
			return errors.New("unknown player")
		}
		if p.IsGamemaster {
			return errors.New("gamemaster cannot trade")
		}

		validator := g.exposureValidatorLocked()

		var err error
		order, trades, err = g.book.AddOrder(playerID, side, price, quantity, validator)
		if err != nil {
			return err
		}

		g.emitOrderBookLocked()
		for _, t := range trades {
			g.settleBookTradeLocked(t)
			g.emitTradeLocked(t)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, trades, nil
}

// exposureValidatorLocked builds the fill validator for the current matching
// batch. Deltas already approved in the batch accumulate so later fills see
// prospective positions, not stale ones.
func (g *Game) exposureValidatorLocked() book.FillValidator {
	if g.maxExposure == 0 {
		return nil
	}
	limit := g.maxExposure
	batch := make(map[string]int64)
	return func(buyerID, sellerID, marketID string, quantity int64) bool {
		buyerQty := g.playerPositionLocked(buyerID, marketID) + batch[buyerID] + quantity
		sellerQty := g.playerPositionLocked(sellerID, marketID) + batch[sellerID] - quantity
		if abs(buyerQty) > limit || abs(sellerQty) > limit {
			return false
		}
		batch[buyerID] += quantity
		batch[sellerID] -= quantity
		return true
	}
}

// settleBookTradeLocked applies one matched trade to both principals. The
// buyer's average cost is recomputed; the seller's is not. A departed
// player's side is skipped: their state row is gone, only the survivor moves.
func (g *Game) settleBookTradeLocked(t types.Trade) {
	notional := t.Price * float64(t.Quantity)
	if buyer, ok := g.players[t.BuyerID]; ok {
		buyer.Cash -= notional
		applyFill(buyer, t.MarketID, t.Quantity, t.Price, true)
	}
	if seller, ok := g.players[t.SellerID]; ok {
		seller.Cash += notional
		applyFill(seller, t.MarketID, -t.Quantity, t.Price, false)
	}
}

func (g *Game) playerPositionLocked(playerID, marketID string) int64 {
	p, ok := g.players[playerID]
	if !ok {
		return 0
	}
	return positionQty(p, marketID)
}

func positionQty(p *types.Player, marketID string) int64 {
	if pos, ok := p.Positions[marketID]; ok {
		return pos.Quantity
	}
	return 0
}

// applyFill moves a player's position by delta at the given price. When
// updateAvg is set the average cost becomes the quantity-weighted mean of the
// prior cost and this fill; it resets once the position returns to flat.
func applyFill(p *types.Player, marketID string, delta int64, price float64, updateAvg bool) {
	pos, ok := p.Positions[marketID]
	if !ok {
		pos = &types.Position{}
		p.Positions[marketID] = pos
	}

	if updateAvg {
		prior := abs(pos.Quantity)
		fill := abs(delta)
		pos.AvgCost = (float64(prior)*pos.AvgCost + float64(fill)*price) / float64(prior+fill)
	}
	pos.Quantity += delta
	if pos.Quantity == 0 {
		pos.AvgCost = 0
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
