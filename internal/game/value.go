package game

import "errors"

// MarketTrueValue resolves a market's settlement value: the direct value when
// set, otherwise the weighted sum of the underlyings for a derivative. ok is
// false when the value is undefined: unset, a missing underlying, or a cycle
// in the derivative graph.
func (g *Game) MarketTrueValue(marketID string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trueValueLocked(marketID, make(map[string]bool))
}

func (g *Game) trueValueLocked(marketID string, visited map[string]bool) (float64, bool) {
	if visited[marketID] {
		return 0, false
	}
	visited[marketID] = true

	if v, ok := g.trueValues[marketID]; ok {
		return v, true
	}

	m := g.findMarketLocked(marketID)
	if m == nil || !m.IsDerivative() {
		return 0, false
	}

	var total float64
	for underlyingID, weight := range m.UnderlyingWeights {
		v, ok := g.trueValueLocked(underlyingID, visited)
		if !ok {
			return 0, false
		}
		total += weight * v
	}
	return total, true
}

// FinalizePnl settles every non-gamemaster player once all markets are
// complete: total P&L is cash plus position value at true values, minus the
// initial endowment. Markets with undefined true values are skipped.
// Finalizing twice is an idempotent success.
func (g *Game) FinalizePnl() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.allMarketsComplete {
		return errors.New("cannot finalize P&L before all markets complete")
	}
	if g.pnlFinalized {
		return nil
	}

	for _, p := range g.players {
		if p.IsGamemaster {
			continue
		}
		settlement := p.Cash
		for _, m := range g.markets {
			pos, ok := p.Positions[m.ID]
			if !ok || pos.Quantity == 0 {
				continue
			}
			v, ok := g.trueValueLocked(m.ID, make(map[string]bool))
			if !ok {
				continue
			}
			settlement += float64(pos.Quantity) * v
		}
		p.TotalPnl = settlement - g.cfg.StartingCash
	}

	g.pnlFinalized = true
	g.logger.Info("P&L finalized", "players", len(g.players))
	return nil
}

// resolvedTrueValuesLocked returns the direct true values augmented with any
// derivative values computable from underlyings (gamemaster projection only).
func (g *Game) resolvedTrueValuesLocked() map[string]float64 {
	out := make(map[string]float64, len(g.trueValues))
	for id, v := range g.trueValues {
		out[id] = v
	}
	for _, m := range g.markets {
		if _, ok := out[m.ID]; ok || !m.IsDerivative() {
			continue
		}
		if v, ok := g.trueValueLocked(m.ID, make(map[string]bool)); ok {
			out[m.ID] = v
		}
	}
	return out
}
