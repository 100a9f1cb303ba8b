// Package game implements the authoritative state, transitions, and
// settlement for one game: players, markets, the five-stage round machine,
// timers, positions, and P&L.
//
// Every mutation runs inside the game's critical section; subscriber
// callbacks are delivered outside it, in emission order, so a subscriber may
// safely call back into read methods such as Snapshot.
package game

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitgame/internal/book"
	"pitgame/pkg/types"
)

const maxAnnouncements = 50

// Subscriber receives game callbacks. All methods are pure broadcast hooks:
// they must not block indefinitely and never return errors.
type Subscriber interface {
	OnStageChange(stage types.Stage, round *types.Round)
	OnTrade(trade types.Trade)
	OnTimer(stage types.Stage, endsAt int64, secondsRemaining int64)
	OnOrderBookChange(snapshot *types.BookSnapshot)
}

// Config is a game's immutable construction-time configuration.
type Config struct {
	SpreadTimer      time.Duration
	OpenTradingTimer time.Duration
	NoTighterWindow  time.Duration
	StartingCash     float64
	GamemasterSecret string
}

// Game is one live game instance. It exclusively owns its round, its order
// book (at most one, scoped to the current market), its timers, and its
// players.
type Game struct {
	mu sync.Mutex

	// emitMu guards the emitter queue only; it is never held while a
	// callback runs. Lock order is always mu before emitMu.
	emitMu     sync.Mutex
	emitCond   *sync.Cond
	emitQueue  []func()
	emitClosed bool

	code      string
	cfg       Config
	status    types.GameStatus
	createdAt int64

	markets            []types.Market
	trueValues         map[string]float64
	currentMarketIndex int
	currentRoundIndex  int
	round              *types.Round
	book               *book.Book

	players       map[string]*types.Player
	announcements []types.Announcement

	showIndividualPositions bool
	allMarketsComplete      bool
	pnlFinalized            bool
	maxExposure             int64

	// timer state, see timers.go
	timerGen     uint64
	stageExpiry  *time.Timer
	tickStop     chan struct{}
	noTighterGen uint64
	noTighter    *time.Timer

	sub     Subscriber
	pending []func()
	logger  *slog.Logger
}

// New creates a game in the lobby state and starts its emitter.
func New(code string, cfg Config, logger *slog.Logger) *Game {
	g := &Game{
		code:                    code,
		cfg:                     cfg,
		status:                  types.StatusLobby,
		createdAt:               time.Now().UnixMilli(),
		trueValues:              make(map[string]float64),
		players:                 make(map[string]*types.Player),
		showIndividualPositions: true,
		logger:                  logger.With("component", "game", "code", code),
	}
	g.emitCond = sync.NewCond(&g.emitMu)
	go g.emitLoop()
	return g
}

// run executes fn inside the critical section. Emissions queued by fn are
// handed to the emitter before mu is released, so delivery order matches
// lock acquisition order across concurrent callers (handlers vs. timers).
func (g *Game) run(fn func() error) error {
	g.mu.Lock()
	err := fn()
	if len(g.pending) > 0 {
		g.emitMu.Lock()
		if !g.emitClosed {
			g.emitQueue = append(g.emitQueue, g.pending...)
		}
		g.emitMu.Unlock()
		g.emitCond.Signal()
		g.pending = nil
	}
	g.mu.Unlock()
	return err
}

// emitLoop delivers queued subscriber callbacks in FIFO order. Callbacks run
// with no game lock held, so they may call back into read methods such as
// Snapshot.
func (g *Game) emitLoop() {
	for {
		g.emitMu.Lock()
		for len(g.emitQueue) == 0 && !g.emitClosed {
			g.emitCond.Wait()
		}
		emits := g.emitQueue
		g.emitQueue = nil
		closed := g.emitClosed
		g.emitMu.Unlock()

		for _, emit := range emits {
			emit()
		}
		if closed {
			return
		}
	}
}

// Close cancels all timers and retires the emitter. The registry calls it
// when dropping a game; the instance must not be mutated afterwards.
func (g *Game) Close() {
	_ = g.run(func() error {
		g.cancelAllTimersLocked()
		return nil
	})
	g.emitMu.Lock()
	g.emitClosed = true
	g.emitMu.Unlock()
	g.emitCond.Signal()
}

// SetSubscriber installs the callback sink. Re-registering replaces the
// previous subscriber; the gateway does this on every join.
func (g *Game) SetSubscriber(sub Subscriber) {
	g.mu.Lock()
	g.sub = sub
	g.mu.Unlock()
}

func (g *Game) emitStageChangeLocked() {
	if g.sub == nil {
		return
	}
	sub := g.sub
	var stage types.Stage
	round := cloneRound(g.round)
	if round != nil {
		stage = round.Stage
	} else {
		stage = types.StageRoundEnd
	}
	g.pending = append(g.pending, func() { sub.OnStageChange(stage, round) })
}

func (g *Game) emitTradeLocked(trade types.Trade) {
	if g.sub == nil {
		return
	}
	sub := g.sub
	g.pending = append(g.pending, func() { sub.OnTrade(trade) })
}

func (g *Game) emitOrderBookLocked() {
	if g.sub == nil || g.book == nil {
		return
	}
	sub := g.sub
	snap := g.book.Snapshot()
	g.pending = append(g.pending, func() { sub.OnOrderBookChange(snap) })
}

// Code returns the canonical (uppercase) game code.
func (g *Game) Code() string {
	return g.code
}

// Status returns the current lifecycle status.
func (g *Game) Status() types.GameStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// PlayerCount returns the number of participants, gamemaster included.
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.players)
}

// HasPlayer reports whether the player id is present.
func (g *Game) HasPlayer(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.players[id]
	return ok
}

// IsGamemaster reports whether the player holds the gamemaster flag.
func (g *Game) IsGamemaster(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[id]
	return ok && p.IsGamemaster
}

// PlayerName returns the display name for a player id.
func (g *Game) PlayerName(id string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[id]; ok {
		return p.Name
	}
	return ""
}

// CheckGamemasterSecret compares s against the configured secret in constant
// time.
func (g *Game) CheckGamemasterSecret(s string) bool {
	return subtle.ConstantTimeCompare([]byte(s), []byte(g.cfg.GamemasterSecret)) == 1
}

// AddPlayer registers a participant. Re-joining with the same id is
// idempotent and preserves existing state. New players start with the
// configured cash endowment and a zero position in every existing market.
func (g *Game) AddPlayer(id, name string, isGamemaster bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.players[id]; ok {
		if name != "" {
			p.Name = name
		}
		return
	}

	p := &types.Player{
		ID:           id,
		Name:         name,
		Cash:         g.cfg.StartingCash,
		Positions:    make(map[string]*types.Position, len(g.markets)),
		IsGamemaster: isGamemaster,
	}
	for _, m := range g.markets {
		p.Positions[m.ID] = &types.Position{}
	}
	g.players[id] = p
}

// RemovePlayer drops a participant from the player map. Trades already
// settled are not reversed, and any orders they left resting stay on the
// book.
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.players, id)
}

// SetGamemaster flips the gamemaster flag for a player.
func (g *Game) SetGamemaster(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[id]; ok {
		p.IsGamemaster = true
	}
}

// AddMarket appends a market and seeds a zero position for every player.
// If all markets had been exhausted, the new market immediately starts a new
// round and clears the completion flag.
func (g *Game) AddMarket(name, description string) types.Market {
	m := types.Market{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}
	g.appendMarket(m)
	return m
}

// AddDerivative appends a derivative market whose true value is the weighted
// sum of its underlyings.
func (g *Game) AddDerivative(name, description string, weights map[string]float64, condition string) types.Market {
	w := make(map[string]float64, len(weights))
	for id, v := range weights {
		w[id] = v
	}
	m := types.Market{
		ID:                uuid.NewString(),
		Name:              name,
		Description:       description,
		UnderlyingWeights: w,
		Condition:         condition,
	}
	g.appendMarket(m)
	return m
}

func (g *Game) appendMarket(m types.Market) {
	_ = g.run(func() error {
		g.markets = append(g.markets, m)
		for _, p := range g.players {
			p.Positions[m.ID] = &types.Position{}
		}

		if g.allMarketsComplete && g.round == nil && g.currentMarketIndex < len(g.markets) {
			g.allMarketsComplete = false
			g.startRoundLocked()
		}
		return nil
	})
}

// Announce appends a gamemaster announcement, evicting the oldest past 50.
func (g *Game) Announce(text string) types.Announcement {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := types.Announcement{
		ID:   uuid.NewString(),
		Text: text,
		At:   time.Now().UnixMilli(),
	}
	g.announcements = append(g.announcements, a)
	if len(g.announcements) > maxAnnouncements {
		g.announcements = g.announcements[len(g.announcements)-maxAnnouncements:]
	}
	return a
}

// SetShowIndividualPositions toggles per-player visibility in non-GM
// snapshots.
func (g *Game) SetShowIndividualPositions(show bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.showIndividualPositions = show
}

// SetMaxExposure sets the per-market absolute position limit; 0 disables it.
func (g *Game) SetMaxExposure(limit int64) error {
	if limit < 0 {
		return errors.New("max exposure must be >= 0")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxExposure = limit
	return nil
}

// SetTrueValue records the settlement value for a market.
func (g *Game) SetTrueValue(marketID string, value float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.findMarketLocked(marketID) == nil {
		return errors.New("unknown market")
	}
	g.trueValues[marketID] = value
	return nil
}

func (g *Game) findMarketLocked(id string) *types.Market {
	for i := range g.markets {
		if g.markets[i].ID == id {
			return &g.markets[i]
		}
	}
	return nil
}

func cloneRound(r *types.Round) *types.Round {
	if r == nil {
		return nil
	}
	c := *r
	if r.BestSpread != nil {
		v := *r.BestSpread
		c.BestSpread = &v
	}
	if r.Quote != nil {
		q := *r.Quote
		c.Quote = &q
	}
	if r.StageEndsAt != nil {
		v := *r.StageEndsAt
		c.StageEndsAt = &v
	}
	if r.NoTighterUntil != nil {
		v := *r.NoTighterUntil
		c.NoTighterUntil = &v
	}
	c.Submissions = append([]types.SpreadSubmission(nil), r.Submissions...)
	return &c
}
