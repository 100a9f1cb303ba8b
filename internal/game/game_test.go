package game

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitgame/pkg/types"
)

func testConfig() Config {
	// Hour-long timers so nothing expires mid-test.
	return Config{
		SpreadTimer:      time.Hour,
		OpenTradingTimer: time.Hour,
		NoTighterWindow:  time.Hour,
		StartingCash:     10_000,
		GamemasterSecret: "hunter2",
	}
}

func newTestGame(t *testing.T) *Game {
	t.Helper()
	return newTestGameWith(t, testConfig())
}

func newTestGameWith(t *testing.T, cfg Config) *Game {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := New("TEST42", cfg, logger)
	t.Cleanup(g.Close)
	g.AddPlayer("gm", "Gamemaster", true)
	g.AddPlayer("alice", "Alice", false)
	g.AddPlayer("bob", "Bob", false)
	return g
}

// captureSub records every callback for assertions. Delivery happens on the
// game's emitter goroutine, hence the mutex and the polling accessors.
type captureSub struct {
	mu     sync.Mutex
	stages []types.Stage
	trades []types.Trade
	books  []*types.BookSnapshot
	timers int
}

func (s *captureSub) OnStageChange(stage types.Stage, _ *types.Round) {
	s.mu.Lock()
	s.stages = append(s.stages, stage)
	s.mu.Unlock()
}

func (s *captureSub) OnTrade(trade types.Trade) {
	s.mu.Lock()
	s.trades = append(s.trades, trade)
	s.mu.Unlock()
}

func (s *captureSub) OnTimer(types.Stage, int64, int64) {
	s.mu.Lock()
	s.timers++
	s.mu.Unlock()
}

func (s *captureSub) OnOrderBookChange(snap *types.BookSnapshot) {
	s.mu.Lock()
	s.books = append(s.books, snap)
	s.mu.Unlock()
}

func (s *captureSub) stageList() []types.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Stage(nil), s.stages...)
}

func (s *captureSub) sawStage(stage types.Stage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.stages {
		if got == stage {
			return true
		}
	}
	return false
}

func (s *captureSub) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *captureSub) bookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}

func (s *captureSub) timerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers
}

// advanceToOpenTrading drives a fresh game to OPEN_TRADING with alice as
// market maker quoting bid/ask.
func advanceToOpenTrading(t *testing.T, g *Game, bid, ask float64) {
	t.Helper()
	g.AddMarket("AAPL Q3 revenue", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.SubmitSpread("alice", ask-bid))
	require.NoError(t, g.NextStage()) // -> MARKET_MAKER_QUOTE
	require.NoError(t, g.SubmitQuote("alice", bid, ask))
	require.NoError(t, g.NextStage()) // FORCED_TRADING -> OPEN_TRADING
}

func TestStartGameRequiresMarket(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)

	err := g.StartGame()
	require.Error(t, err)

	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	assert.Equal(t, types.StatusPlaying, g.Status())

	round := g.CurrentRound()
	require.NotNil(t, round)
	assert.Equal(t, types.StageSpreadQuoting, round.Stage)
	assert.Nil(t, round.StageEndsAt, "spread timer must not auto-arm")

	assert.ErrorContains(t, g.StartGame(), "already started")
}

func TestSpreadSubmissionMustBeStrictlyTighter(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())

	require.NoError(t, g.SubmitSpread("alice", 4))
	require.ErrorContains(t, g.SubmitSpread("bob", 4),
		"spread must be strictly tighter than current best")
	require.ErrorContains(t, g.SubmitSpread("bob", 5),
		"spread must be strictly tighter than current best")
	require.NoError(t, g.SubmitSpread("bob", 3.5))

	round := g.CurrentRound()
	require.NotNil(t, round.BestSpread)
	assert.Equal(t, 3.5, *round.BestSpread)
	assert.Equal(t, "bob", round.BestSpreadPlayerID)
	assert.Len(t, round.Submissions, 2)
	assert.NotNil(t, round.NoTighterUntil, "accepted submission must roll the window")
}

func TestSpreadSubmissionRejectsGamemasterAndNonPositive(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())

	require.ErrorContains(t, g.SubmitSpread("gm", 2), "gamemaster cannot trade")
	require.ErrorContains(t, g.SubmitSpread("alice", 0), "spread must be positive")
	require.ErrorContains(t, g.SubmitSpread("alice", -1), "spread must be positive")
	require.ErrorContains(t, g.SubmitSpread("ghost", 2), "unknown player")
}

func TestQuoteMustMatchWinningSpread(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.SubmitSpread("alice", 2))
	require.NoError(t, g.NextStage())

	require.ErrorContains(t, g.SubmitQuote("bob", 9, 11), "only the market maker may quote")
	require.ErrorContains(t, g.SubmitQuote("alice", 9, 12), "quote width must equal the winning spread")
	require.ErrorContains(t, g.SubmitQuote("alice", 11, 9), "quote width must be positive")

	require.NoError(t, g.SubmitQuote("alice", 9, 11))
	round := g.CurrentRound()
	assert.Equal(t, types.StageForcedTrading, round.Stage)
	require.NotNil(t, round.Quote)
	assert.Equal(t, 9.0, round.Quote.Bid)
	assert.Equal(t, 11.0, round.Quote.Ask)
}

func TestNextStageBlockedWithoutQuote(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.SubmitSpread("alice", 2))
	require.NoError(t, g.NextStage())

	require.ErrorContains(t, g.NextStage(), "market maker has not quoted yet")
}

func TestNoSubmissionsEndsRound(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	sub := &captureSub{}
	g.SetSubscriber(sub)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())

	// Skipping Stage 1 with no submitters retires the only market.
	require.NoError(t, g.NextStage())
	assert.Nil(t, g.CurrentRound())

	snap := g.Snapshot(true, "")
	assert.True(t, snap.AllMarketsComplete)

	require.Eventually(t, func() bool {
		return sub.sawStage(types.StageRoundEnd)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMarketMakerFlagSetOnStageTwo(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.SubmitSpread("alice", 2))
	require.NoError(t, g.NextStage())

	snap := g.Snapshot(true, "")
	assert.True(t, snap.Players["alice"].IsMarketMaker)
	assert.False(t, snap.Players["bob"].IsMarketMaker)
	assert.Equal(t, types.StageMarketMakerQuote, snap.Round.Stage)
}

func TestPrevStageRewinds(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())

	require.ErrorContains(t, g.PrevStage(), "unsupported stage rewind")

	require.NoError(t, g.SubmitSpread("alice", 2))
	require.NoError(t, g.NextStage())

	// MARKET_MAKER_QUOTE back to SPREAD_QUOTING restores a deadline but does
	// not arm the timer.
	require.NoError(t, g.PrevStage())
	round := g.CurrentRound()
	assert.Equal(t, types.StageSpreadQuoting, round.Stage)
	assert.NotNil(t, round.StageEndsAt)

	require.NoError(t, g.NextStage())
	require.NoError(t, g.SubmitQuote("alice", 9, 11))

	// FORCED_TRADING back to MARKET_MAKER_QUOTE clears the quote.
	require.NoError(t, g.PrevStage())
	round = g.CurrentRound()
	assert.Equal(t, types.StageMarketMakerQuote, round.Stage)
	assert.Nil(t, round.Quote)
}

func TestOpenTradingArmsTimer(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	advanceToOpenTrading(t, g, 9, 11)

	round := g.CurrentRound()
	assert.Equal(t, types.StageOpenTrading, round.Stage)
	require.NotNil(t, round.StageEndsAt)
	assert.Greater(t, *round.StageEndsAt, time.Now().UnixMilli())
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)

	require.ErrorIs(t, g.Pause(), errNotPlaying)

	advanceToOpenTrading(t, g, 9, 11)
	require.NoError(t, g.Pause())
	assert.Equal(t, types.StatusPaused, g.Status())

	_, _, err := g.SubmitOrder("bob", types.SideBid, 10, 1)
	require.ErrorIs(t, err, errNotPlaying)

	require.NoError(t, g.Resume())
	assert.Equal(t, types.StatusPlaying, g.Status())

	round := g.CurrentRound()
	assert.NotNil(t, round.StageEndsAt, "deadline survives a pause")

	_, _, err = g.SubmitOrder("bob", types.SideBid, 10, 1)
	require.NoError(t, err)
}

func TestStopRequiresFinalizedPnl(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.NextStage()) // no submissions, market retires

	require.ErrorContains(t, g.Stop(), "finalize P&L before stopping")
	require.NoError(t, g.FinalizePnl())
	require.NoError(t, g.Stop())
	assert.Equal(t, types.StatusStopped, g.Status())
	require.ErrorContains(t, g.Stop(), "already stopped")
}

func TestAddMarketAfterExhaustionStartsRound(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())
	require.NoError(t, g.NextStage())
	require.Nil(t, g.CurrentRound())

	m := g.AddMarket("Gadgets", "")
	round := g.CurrentRound()
	require.NotNil(t, round)
	assert.Equal(t, m.ID, round.MarketID)
	assert.Equal(t, types.StageSpreadQuoting, round.Stage)
	assert.False(t, g.Snapshot(true, "").AllMarketsComplete)
}

func TestMultipleMarketsAdvanceInOrder(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	m1 := g.AddMarket("First", "")
	m2 := g.AddMarket("Second", "")
	require.NoError(t, g.StartGame())

	round := g.CurrentRound()
	assert.Equal(t, m1.ID, round.MarketID)
	assert.Equal(t, 0, round.Index)

	require.NoError(t, g.NextStage()) // retire first market
	round = g.CurrentRound()
	require.NotNil(t, round)
	assert.Equal(t, m2.ID, round.MarketID)
	assert.Equal(t, 1, round.Index)

	require.NoError(t, g.NextStage())
	assert.Nil(t, g.CurrentRound())
	assert.True(t, g.Snapshot(true, "").AllMarketsComplete)
}

func TestRejoinPreservesPlayerState(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	advanceToOpenTrading(t, g, 9, 11)

	before := g.Snapshot(true, "").Players["bob"].Cash
	g.AddPlayer("bob", "Bobby", false)

	snap := g.Snapshot(true, "")
	assert.Equal(t, before, snap.Players["bob"].Cash)
	assert.Equal(t, "Bobby", snap.Players["bob"].Name)
}

func TestSetTimerArmsStageDeadline(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	g.AddMarket("Widgets", "")
	require.NoError(t, g.StartGame())

	require.NoError(t, g.SetTimer(30*time.Second))
	round := g.CurrentRound()
	require.NotNil(t, round.StageEndsAt)
	assert.Greater(t, *round.StageEndsAt, time.Now().UnixMilli())
}

func TestAnnouncementsCapAtFifty(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	for i := 0; i < 60; i++ {
		g.Announce("note")
	}
	snap := g.Snapshot(false, "")
	assert.Len(t, snap.Announcements, 50)
}

func TestCheckGamemasterSecret(t *testing.T) {
	t.Parallel()
	g := newTestGame(t)
	assert.True(t, g.CheckGamemasterSecret("hunter2"))
	assert.False(t, g.CheckGamemasterSecret("hunter3"))
	assert.False(t, g.CheckGamemasterSecret(""))
}
