package game

import (
	"errors"
	"time"

	"pitgame/internal/book"
	"pitgame/pkg/types"
)

var (
	errNotPlaying    = errors.New("game is not in progress")
	errNoActiveRound = errors.New("no active round")
)

// StartGame moves a lobby with at least one market into play and starts the
// first round.
func (g *Game) StartGame() error {
	return g.run(func() error {
		if g.status != types.StatusLobby {
			return errors.New("game already started")
		}
		if len(g.markets) == 0 {
			return errors.New("add at least one market before starting")
		}
		g.status = types.StatusPlaying
		g.currentMarketIndex = 0
		g.currentRoundIndex = 0
		g.startRoundLocked()
		return nil
	})
}

// startRoundLocked allocates a fresh order book for the current market and a
// round in SPREAD_QUOTING with all fields null. The spread timer is not
// auto-started; the gamemaster arms it with SetTimer, or accepted submissions
// roll the no-tighter window.
func (g *Game) startRoundLocked() {
	marketID := g.markets[g.currentMarketIndex].ID
	g.book = book.New(marketID)
	g.round = &types.Round{
		Index:       g.currentRoundIndex,
		Stage:       types.StageSpreadQuoting,
		MarketID:    marketID,
		Submissions: []types.SpreadSubmission{},
	}
	for _, p := range g.players {
		p.IsMarketMaker = false
		p.RoundPnl = 0
	}
	g.emitStageChangeLocked()
}

// NextStage advances the round's state machine one step (gamemaster driven).
func (g *Game) NextStage() error {
	return g.run(func() error { return g.nextStageLocked() })
}

func (g *Game) nextStageLocked() error {
	if g.status != types.StatusPlaying {
		return errNotPlaying
	}
	if g.round == nil {
		return errNoActiveRound
	}

	switch g.round.Stage {
	case types.StageSpreadQuoting:
		g.endSpreadQuotingLocked()
	case types.StageMarketMakerQuote:
		if g.round.Quote == nil {
			return errors.New("market maker has not quoted yet")
		}
		g.enterForcedTradingLocked()
	case types.StageForcedTrading:
		g.enterOpenTradingLocked()
	case types.StageOpenTrading:
		g.endOpenTradingLocked()
	case types.StageRoundEnd:
		g.advanceToNextMarketLocked()
	}
	return nil
}

// PrevStage is a minimal rewind: MARKET_MAKER_QUOTE back to SPREAD_QUOTING,
// or FORCED_TRADING back to MARKET_MAKER_QUOTE (quote cleared). Other rewinds
// are unsupported.
func (g *Game) PrevStage() error {
	return g.run(func() error {
		if g.status != types.StatusPlaying {
			return errNotPlaying
		}
		if g.round == nil {
			return errNoActiveRound
		}

		switch g.round.Stage {
		case types.StageMarketMakerQuote:
			g.round.Stage = types.StageSpreadQuoting
			// Deadline is restored at the default length but the timer is
			// not re-armed; the round will not auto-advance until a
			// submission rolls the no-tighter window or the GM sets a timer.
			endsAt := time.Now().Add(g.cfg.SpreadTimer).UnixMilli()
			g.round.StageEndsAt = &endsAt
			g.emitStageChangeLocked()
			return nil
		case types.StageForcedTrading:
			if g.round.Quote == nil {
				return errors.New("no quote to rewind")
			}
			g.round.Quote = nil
			g.round.Stage = types.StageMarketMakerQuote
			g.emitStageChangeLocked()
			return nil
		default:
			return errors.New("unsupported stage rewind")
		}
	})
}

// endSpreadQuotingLocked closes Stage 1: the best-spread player becomes the
// market maker, or the round ends when nobody submitted.
func (g *Game) endSpreadQuotingLocked() {
	g.cancelAllTimersLocked()
	g.round.StageEndsAt = nil
	g.round.NoTighterUntil = nil

	if g.round.BestSpreadPlayerID == "" {
		g.endRoundLocked()
		return
	}

	if p, ok := g.players[g.round.BestSpreadPlayerID]; ok {
		p.IsMarketMaker = true
	}
	g.round.Stage = types.StageMarketMakerQuote
	g.emitStageChangeLocked()
}

func (g *Game) enterForcedTradingLocked() {
	g.cancelStageTimerLocked()
	g.round.StageEndsAt = nil
	g.round.Stage = types.StageForcedTrading
	g.emitStageChangeLocked()
}

func (g *Game) enterOpenTradingLocked() {
	g.round.Stage = types.StageOpenTrading
	g.emitStageChangeLocked()
	g.scheduleStageEndLocked(g.cfg.OpenTradingTimer, g.endOpenTradingLocked)
}

func (g *Game) endOpenTradingLocked() {
	g.cancelAllTimersLocked()
	g.round.StageEndsAt = nil
	g.endRoundLocked()
}

// endRoundLocked marks ROUND_END and immediately advances to the next market.
func (g *Game) endRoundLocked() {
	g.round.Stage = types.StageRoundEnd
	g.emitStageChangeLocked()
	g.advanceToNextMarketLocked()
}

// advanceToNextMarketLocked starts the next market's round, or retires the
// round entirely once the market list is exhausted.
func (g *Game) advanceToNextMarketLocked() {
	g.currentMarketIndex++
	g.currentRoundIndex++

	if g.currentMarketIndex < len(g.markets) {
		g.startRoundLocked()
		return
	}

	g.round = nil
	g.book = nil
	g.allMarketsComplete = true
	g.logger.Info("all markets complete")
	g.emitStageChangeLocked()
}

// Pause freezes the game, cancelling timers while preserving the recorded
// stage deadline for Resume.
func (g *Game) Pause() error {
	return g.run(func() error {
		if g.status != types.StatusPlaying {
			return errNotPlaying
		}
		g.status = types.StatusPaused
		g.cancelAllTimersLocked()
		return nil
	})
}

// Resume re-arms the stage timer with the remaining wall-clock delta (clamped
// non-negative) and, during Stage 1, the no-tighter window as well.
func (g *Game) Resume() error {
	return g.run(func() error {
		if g.status != types.StatusPaused {
			return errors.New("game is not paused")
		}
		g.status = types.StatusPlaying

		if g.round == nil {
			return nil
		}
		now := time.Now().UnixMilli()
		if g.round.StageEndsAt != nil {
			remaining := time.Duration(max(*g.round.StageEndsAt-now, 0)) * time.Millisecond
			switch g.round.Stage {
			case types.StageSpreadQuoting:
				g.scheduleStageEndLocked(remaining, g.endSpreadQuotingLocked)
			case types.StageOpenTrading:
				g.scheduleStageEndLocked(remaining, g.endOpenTradingLocked)
			}
		}
		if g.round.Stage == types.StageSpreadQuoting && g.round.NoTighterUntil != nil && *g.round.NoTighterUntil > now {
			g.armNoTighterLocked(time.Duration(*g.round.NoTighterUntil-now) * time.Millisecond)
		}
		return nil
	})
}

// Stop terminates the game. Refused when all markets are complete but P&L is
// not yet finalized.
func (g *Game) Stop() error {
	return g.run(func() error {
		if g.status == types.StatusStopped {
			return errors.New("game already stopped")
		}
		if g.allMarketsComplete && !g.pnlFinalized {
			return errors.New("finalize P&L before stopping")
		}
		g.status = types.StatusStopped
		g.cancelAllTimersLocked()
		return nil
	})
}

// SetTimer arms the stage timer for the given duration. Only meaningful in
// SPREAD_QUOTING and OPEN_TRADING; a no-op elsewhere.
func (g *Game) SetTimer(d time.Duration) error {
	return g.run(func() error {
		if g.status != types.StatusPlaying || g.round == nil {
			return nil
		}
		switch g.round.Stage {
		case types.StageSpreadQuoting:
			g.scheduleStageEndLocked(d, g.endSpreadQuotingLocked)
		case types.StageOpenTrading:
			g.scheduleStageEndLocked(d, g.endOpenTradingLocked)
		}
		return nil
	})
}
