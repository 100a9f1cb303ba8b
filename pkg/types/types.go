// Package types defines the shared domain model of the market-making game:
// identifiers, enums, markets, orders, trades, players, rounds, and the wire
// payload contracts exchanged with clients.
//
// Timestamps are millisecond epoch from the server's wall clock. Prices are
// double-precision reals; quantities are positive integers.
package types

import "fmt"

// GameStatus is the lifecycle state of a game.
type GameStatus string

const (
	StatusLobby   GameStatus = "lobby"
	StatusPlaying GameStatus = "playing"
	StatusPaused  GameStatus = "paused"
	StatusStopped GameStatus = "stopped"
)

// Stage is the five-step round state machine position.
type Stage string

const (
	StageSpreadQuoting    Stage = "SPREAD_QUOTING"
	StageMarketMakerQuote Stage = "MARKET_MAKER_QUOTE"
	StageForcedTrading    Stage = "FORCED_TRADING"
	StageOpenTrading      Stage = "OPEN_TRADING"
	StageRoundEnd         Stage = "ROUND_END"
)

// Side is the resting side of a limit order.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// ParseSide validates a wire-level side string.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBid, SideAsk:
		return Side(s), nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Direction is the aggressor direction of a forced trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ParseDirection validates a wire-level direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBuy, DirectionSell:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Market is one tradeable instrument. A market with UnderlyingWeights is a
// derivative: its true value is the weighted sum of its underlyings' values.
type Market struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	UnderlyingWeights map[string]float64 `json:"underlyingWeights,omitempty"`
	Condition         string             `json:"condition,omitempty"`
}

// IsDerivative reports whether the market derives its value from others.
func (m *Market) IsDerivative() bool {
	return len(m.UnderlyingWeights) > 0
}

// Order is a resting limit order. Seq is a monotonic insertion sequence used
// for time-priority tie-breaking; it never depends on the wall clock.
type Order struct {
	ID        string  `json:"id"`
	MarketID  string  `json:"marketId"`
	PlayerID  string  `json:"playerId"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Remaining int64   `json:"remaining"`
	CreatedAt int64   `json:"createdAt"`
	Seq       uint64  `json:"seq"`
}

// Trade is a matched execution. BidOrderID/AskOrderID are empty for forced
// trades, which never touch the order book.
type Trade struct {
	ID         string  `json:"id"`
	MarketID   string  `json:"marketId"`
	BuyerID    string  `json:"buyerId"`
	SellerID   string  `json:"sellerId"`
	BidOrderID string  `json:"bidOrderId,omitempty"`
	AskOrderID string  `json:"askOrderId,omitempty"`
	Price      float64 `json:"price"`
	Quantity   int64   `json:"quantity"`
	Timestamp  int64   `json:"timestamp"`
}

// Position is a player's signed holding in one market. AvgCost is meaningful
// only while Quantity is non-zero.
type Position struct {
	Quantity int64   `json:"quantity"`
	AvgCost  float64 `json:"avgCost"`
}

// Player is one participant's authoritative state within a game.
// IsMarketMaker is valid for the current round only; IsGamemaster for the
// game's lifetime.
type Player struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Cash          float64              `json:"cash"`
	Positions     map[string]*Position `json:"positions"`
	RoundPnl      float64              `json:"roundPnl"`
	TotalPnl      float64              `json:"totalPnl"`
	IsMarketMaker bool                 `json:"isMarketMaker"`
	IsGamemaster  bool                 `json:"isGamemaster"`
}

// SpreadSubmission records one accepted Stage-1 spread bid.
type SpreadSubmission struct {
	PlayerID string  `json:"playerId"`
	Width    float64 `json:"width"`
	At       int64   `json:"at"`
}

// Quote is the market maker's two-sided Stage-2 quote.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Round is the per-market round state. StageEndsAt is absolute wall time in
// milliseconds, nil while no stage timer is armed.
type Round struct {
	Index              int                `json:"index"`
	Stage              Stage              `json:"stage"`
	MarketID           string             `json:"marketId"`
	BestSpread         *float64           `json:"bestSpread"`
	BestSpreadPlayerID string             `json:"bestSpreadPlayerId,omitempty"`
	Submissions        []SpreadSubmission `json:"submissions"`
	Quote              *Quote             `json:"quote"`
	StageEndsAt        *int64             `json:"stageEndsAt"`
	NoTighterUntil     *int64             `json:"noTighterUntil"`
}

// Announcement is one gamemaster broadcast. Games keep at most 50,
// oldest-evicted.
type Announcement struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// BookLevel is one aggregated price level of the order book snapshot.
type BookLevel struct {
	Price     float64  `json:"price"`
	Quantity  int64    `json:"quantity"`
	PlayerIDs []string `json:"playerIds"`
}

// BookSnapshot is the aggregated, side-ordered view of a book.
type BookSnapshot struct {
	Bids           []BookLevel `json:"bids"`
	Asks           []BookLevel `json:"asks"`
	LastTradePrice *float64    `json:"lastTradePrice,omitempty"`
}

// GameState is the viewer-projected snapshot of a game. MarketTrueValues is
// present only in gamemaster projections.
type GameState struct {
	Code                    string             `json:"code"`
	Status                  GameStatus         `json:"status"`
	Markets                 []Market           `json:"markets"`
	CurrentMarketIndex      int                `json:"currentMarketIndex"`
	CurrentRoundIndex       int                `json:"currentRoundIndex"`
	Round                   *Round             `json:"round"`
	Players                 map[string]*Player `json:"players"`
	Announcements           []Announcement     `json:"announcements"`
	ShowIndividualPositions bool               `json:"showIndividualPositions"`
	MarketTrueValues        map[string]float64 `json:"marketTrueValues,omitempty"`
	AllMarketsComplete      bool               `json:"allMarketsComplete"`
	PnlFinalized            bool               `json:"pnlFinalized"`
	MaxExposure             int64              `json:"maxExposure"`
	CreatedAt               int64              `json:"createdAt"`
}
