package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitgame/pkg/types"
)

func TestDerivativeTrueValueIsWeightedSum(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	a := g.AddMarket("Market A", "")
	b := g.AddMarket("Market B", "")
	d := g.AddDerivative("Spread A-2B", "", map[string]float64{
		a.ID: 1,
		b.ID: -2,
	}, "")

	_, ok := g.MarketTrueValue(d.ID)
	assert.False(t, ok, "undefined until every underlying is set")

	require.NoError(t, g.SetTrueValue(a.ID, 10))
	_, ok = g.MarketTrueValue(d.ID)
	assert.False(t, ok)

	require.NoError(t, g.SetTrueValue(b.ID, 4))
	v, ok := g.MarketTrueValue(d.ID)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9) // 1*10 + (-2)*4
}

func TestDirectTrueValueOverridesDerivation(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	a := g.AddMarket("Market A", "")
	d := g.AddDerivative("Double A", "", map[string]float64{a.ID: 2}, "")

	require.NoError(t, g.SetTrueValue(a.ID, 10))
	require.NoError(t, g.SetTrueValue(d.ID, 7))

	v, ok := g.MarketTrueValue(d.ID)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestTrueValueCycleIsUndefined(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	a := g.AddDerivative("A", "", map[string]float64{}, "")
	b := g.AddDerivative("B", "", map[string]float64{a.ID: 1}, "")

	// Close the loop by hand; the public API cannot produce one since a
	// derivative can only reference markets that already exist.
	g.mu.Lock()
	g.findMarketLocked(a.ID).UnderlyingWeights = map[string]float64{b.ID: 1}
	g.mu.Unlock()

	_, ok := g.MarketTrueValue(a.ID)
	assert.False(t, ok)
	_, ok = g.MarketTrueValue(b.ID)
	assert.False(t, ok)
}

func TestSetTrueValueRejectsUnknownMarket(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	require.ErrorContains(t, g.SetTrueValue("nope", 1), "unknown market")
}

func TestFinalizePnlRequiresCompletion(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())

	require.ErrorContains(t, g.FinalizePnl(), "before all markets complete")
}

func TestFinalizePnlSettlesPositionsAtTrueValue(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	advanceToForcedTrading(t, g, 9.9, 10.1)
	marketID := g.CurrentRound().MarketID

	_, err := g.ForcedTrade("bob", types.DirectionBuy, 50) // bob +50 @ 10.1
	require.NoError(t, err)

	require.NoError(t, g.NextStage()) // -> OPEN_TRADING
	require.NoError(t, g.NextStage()) // retire the only market
	require.NoError(t, g.SetTrueValue(marketID, 12))
	require.NoError(t, g.FinalizePnl())

	snap := g.Snapshot(true, "")
	assert.True(t, snap.PnlFinalized)
	// bob: cash 9495 + 50*12 = 10095, minus 10000 endowment.
	assert.InDelta(t, 95.0, snap.Players["bob"].TotalPnl, 1e-9)
	// alice: cash 10505 - 50*12 = 9905.
	assert.InDelta(t, -95.0, snap.Players["alice"].TotalPnl, 1e-9)
	assert.Zero(t, snap.Players["gm"].TotalPnl)
}

func TestFinalizePnlSkipsUndefinedValuesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	advanceToForcedTrading(t, g, 9.9, 10.1)

	_, err := g.ForcedTrade("bob", types.DirectionBuy, 50)
	require.NoError(t, err)
	require.NoError(t, g.NextStage())
	require.NoError(t, g.NextStage())

	// No true value set: the position is skipped, P&L is pure cash delta.
	require.NoError(t, g.FinalizePnl())
	snap := g.Snapshot(true, "")
	assert.InDelta(t, -505.0, snap.Players["bob"].TotalPnl, 1e-9)

	// A second call is a no-op even after the value appears.
	require.NoError(t, g.SetTrueValue(snap.Markets[0].ID, 12))
	require.NoError(t, g.FinalizePnl())
	snap = g.Snapshot(true, "")
	assert.InDelta(t, -505.0, snap.Players["bob"].TotalPnl, 1e-9)
}
