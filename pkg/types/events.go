package types

// Inbound event names. GM-prefixed events require gamemaster authorization
// verified against the looked-up game, not the session flag alone.
const (
	EvtJoinGame     = "game:join"
	EvtLeaveGame    = "game:leave"
	EvtSpreadSubmit = "game:spread:submit"
	EvtMMQuote      = "game:mm:quote"
	EvtForcedTrade  = "game:forced:trade"
	EvtOrderSubmit  = "game:order:submit"
	EvtOrderCancel  = "game:order:cancel"

	EvtGMCreate       = "gm:create"
	EvtGMStart        = "gm:start"
	EvtGMPause        = "gm:pause"
	EvtGMResume       = "gm:resume"
	EvtGMStop         = "gm:stop"
	EvtGMNextStage    = "gm:next_stage"
	EvtGMPrevStage    = "gm:prev_stage"
	EvtGMAddMarket    = "gm:add_market"
	EvtGMAddDeriv     = "gm:add_derivative"
	EvtGMBroadcast    = "gm:broadcast"
	EvtGMSetTimer     = "gm:set_timer"
	EvtGMSetVisible   = "gm:set_visibility"
	EvtGMSetTrueValue = "gm:set_true_value"
	EvtGMSetExposure  = "gm:set_exposure_limit"
	EvtGMFinalizePnl  = "gm:finalize_pnl"
)

// Outbound event names.
const (
	EvtJoined       = "game:joined"
	EvtState        = "game:state"
	EvtStageChanged = "game:stage_changed"
	EvtSpreadUpdate = "game:spread_update"
	EvtOrderBook    = "game:order_book"
	EvtTrade        = "game:trade"
	EvtAnnouncement = "game:announcement"
	EvtTimer        = "game:timer"
	EvtPlayerLeft   = "game:player_left"
	EvtError        = "game:error"
	EvtEnded        = "game:ended"
)

// JoinRequest is the game:join payload.
type JoinRequest struct {
	GameCode         string `json:"gameCode"`
	DisplayName      string `json:"displayName"`
	IsGamemaster     bool   `json:"isGamemaster,omitempty"`
	GamemasterSecret string `json:"gamemasterSecret,omitempty"`
}

// JoinedPayload acknowledges game:join and is also pushed as game:joined.
type JoinedPayload struct {
	GameCode     string     `json:"gameCode"`
	PlayerID     string     `json:"playerId"`
	IsGamemaster bool       `json:"isGamemaster"`
	State        *GameState `json:"state"`
}

// SpreadSubmitRequest is the game:spread:submit payload.
type SpreadSubmitRequest struct {
	SpreadWidth float64 `json:"spreadWidth"`
}

// QuoteRequest is the game:mm:quote payload.
type QuoteRequest struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// ForcedTradeRequest is the game:forced:trade payload.
type ForcedTradeRequest struct {
	Direction string `json:"direction"`
	Quantity  int64  `json:"quantity"`
}

// OrderSubmitRequest is the game:order:submit payload.
type OrderSubmitRequest struct {
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// OrderCancelRequest is the game:order:cancel payload (unimplemented on the
// public surface; always answered with a fixed error).
type OrderCancelRequest struct {
	OrderID string `json:"orderId"`
}

// CreateGameRequest is the gm:create payload. Timer overrides are seconds;
// zero means the configured default.
type CreateGameRequest struct {
	GamemasterSecret        string `json:"gamemasterSecret"`
	SpreadTimerSeconds      int    `json:"spreadTimerSeconds,omitempty"`
	OpenTradingTimerSeconds int    `json:"openTradingTimerSeconds,omitempty"`
	NoTighterWindowSeconds  int    `json:"noTighterWindowSeconds,omitempty"`
}

// CreatedPayload acknowledges gm:create.
type CreatedPayload struct {
	GameCode string `json:"gameCode"`
}

// AddMarketRequest is the gm:add_market payload.
type AddMarketRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AddDerivativeRequest is the gm:add_derivative payload. UnderlyingWeights
// maps market ids to signed weights.
type AddDerivativeRequest struct {
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	UnderlyingWeights map[string]float64 `json:"underlyingWeights"`
	Condition         string             `json:"condition,omitempty"`
}

// BroadcastRequest is the gm:broadcast payload.
type BroadcastRequest struct {
	Text string `json:"text"`
}

// SetTimerRequest is the gm:set_timer payload; seconds clamped to [1, 3600].
type SetTimerRequest struct {
	Seconds int `json:"seconds"`
}

// SetVisibilityRequest is the gm:set_visibility payload.
type SetVisibilityRequest struct {
	ShowIndividualPositions bool `json:"showIndividualPositions"`
}

// SetTrueValueRequest is the gm:set_true_value payload.
type SetTrueValueRequest struct {
	MarketID string  `json:"marketId"`
	Value    float64 `json:"value"`
}

// SetExposureRequest is the gm:set_exposure_limit payload; 0 disables the limit.
type SetExposureRequest struct {
	MaxExposure int64 `json:"maxExposure"`
}

// StatePayload wraps a viewer-projected snapshot.
type StatePayload struct {
	State *GameState `json:"state"`
}

// StageChangedPayload announces a stage transition.
type StageChangedPayload struct {
	Stage Stage  `json:"stage"`
	Round *Round `json:"round"`
}

// SpreadUpdatePayload announces an accepted Stage-1 submission.
type SpreadUpdatePayload struct {
	BestSpread         *float64           `json:"bestSpread"`
	BestSpreadPlayerID string             `json:"bestSpreadPlayerId,omitempty"`
	Submissions        []SpreadSubmission `json:"submissions"`
}

// OrderBookPayload carries the aggregated book after a batch of fills.
type OrderBookPayload struct {
	OrderBook *BookSnapshot `json:"orderBook"`
}

// TradePayload carries one executed trade.
type TradePayload struct {
	Trade *Trade `json:"trade"`
}

// TimerPayload is the once-per-second countdown tick.
type TimerPayload struct {
	Stage            Stage `json:"stage"`
	EndsAt           int64 `json:"endsAt"`
	SecondsRemaining int64 `json:"secondsRemaining"`
}

// PlayerLeftPayload announces a departure.
type PlayerLeftPayload struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName,omitempty"`
}

// ErrorPayload is a targeted refusal.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EndedPayload announces a stopped game with the final GM-projected state.
type EndedPayload struct {
	State   *GameState `json:"state"`
	Message string     `json:"message"`
}
