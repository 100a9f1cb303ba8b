package game

import "pitgame/pkg/types"

// Snapshot returns a deep copy of the game state projected for one viewer.
// Gamemasters see true values (direct plus computable derivatives); others
// never do. With individual positions hidden, every player's positions, cash
// and round P&L are blanked, keeping total P&L. A non-GM viewer additionally
// has their own cash zeroed: the client shows exposure, not cash.
func (g *Game) Snapshot(forGamemaster bool, viewerPlayerID string) *types.GameState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := &types.GameState{
		Code:                    g.code,
		Status:                  g.status,
		Markets:                 cloneMarkets(g.markets),
		CurrentMarketIndex:      g.currentMarketIndex,
		CurrentRoundIndex:       g.currentRoundIndex,
		Round:                   cloneRound(g.round),
		Players:                 make(map[string]*types.Player, len(g.players)),
		Announcements:           append([]types.Announcement(nil), g.announcements...),
		ShowIndividualPositions: g.showIndividualPositions,
		AllMarketsComplete:      g.allMarketsComplete,
		PnlFinalized:            g.pnlFinalized,
		MaxExposure:             g.maxExposure,
		CreatedAt:               g.createdAt,
	}

	if forGamemaster {
		state.MarketTrueValues = g.resolvedTrueValuesLocked()
	}

	for id, p := range g.players {
		cp := &types.Player{
			ID:            p.ID,
			Name:          p.Name,
			Cash:          p.Cash,
			Positions:     make(map[string]*types.Position, len(p.Positions)),
			RoundPnl:      p.RoundPnl,
			TotalPnl:      p.TotalPnl,
			IsMarketMaker: p.IsMarketMaker,
			IsGamemaster:  p.IsGamemaster,
		}
		if g.showIndividualPositions {
			for mid, pos := range p.Positions {
				cp.Positions[mid] = &types.Position{Quantity: pos.Quantity, AvgCost: pos.AvgCost}
			}
		} else {
			cp.Cash = 0
			cp.RoundPnl = 0
		}
		state.Players[id] = cp
	}

	if !forGamemaster && viewerPlayerID != "" {
		if viewer, ok := state.Players[viewerPlayerID]; ok {
			viewer.Cash = 0
		}
	}

	return state
}

// CurrentRound returns a copy of the active round, or nil between markets.
func (g *Game) CurrentRound() *types.Round {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneRound(g.round)
}

// BookSnapshot returns the aggregated order book, or nil when no round is
// trading.
func (g *Game) BookSnapshot() *types.BookSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.book == nil {
		return nil
	}
	return g.book.Snapshot()
}

func cloneMarkets(markets []types.Market) []types.Market {
	out := make([]types.Market, len(markets))
	for i, m := range markets {
		out[i] = m
		if m.UnderlyingWeights != nil {
			w := make(map[string]float64, len(m.UnderlyingWeights))
			for id, v := range m.UnderlyingWeights {
				w[id] = v
			}
			out[i].UnderlyingWeights = w
		}
	}
	return out
}
