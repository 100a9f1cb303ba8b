// Package gateway mediates participant sessions and the game engine: it
// routes inbound events to game methods, enforces gamemaster authorization,
// projects state snapshots per recipient, and fans game callbacks out to the
// game's room.
package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pitgame/internal/config"
	"pitgame/internal/game"
	"pitgame/internal/metrics"
	"pitgame/internal/registry"
	"pitgame/pkg/types"
)

// Gateway owns the hub and dispatches every inbound event.
type Gateway struct {
	cfg    config.Config
	reg    *registry.Registry
	hub    *Hub
	logger *slog.Logger
}

// New wires a gateway over the given registry.
func New(cfg config.Config, reg *registry.Registry, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		reg:    reg,
		hub:    NewHub(logger),
		logger: logger.With("component", "gateway"),
	}
}

func roomKey(code string) string {
	return "game:" + code
}

// dispatch routes one inbound frame. Events from sessions with no game or
// player are silently ignored, as are GM events from non-gamemasters; the
// join/create pair are the only events valid without a session.
func (gw *Gateway) dispatch(c *Client, frame inboundFrame) {
	metrics.EventsIn.WithLabelValues(frame.Event).Inc()

	switch frame.Event {
	case types.EvtJoinGame:
		gw.handleJoin(c, frame)
		return
	case types.EvtGMCreate:
		gw.handleCreate(c, frame)
		return
	case types.EvtLeaveGame:
		gw.handleLeave(c)
		return
	}

	sess := c.session()
	if sess.playerID == "" || sess.gameCode == "" {
		return
	}
	g := gw.reg.GetGame(sess.gameCode)
	if g == nil || !g.HasPlayer(sess.playerID) {
		return
	}

	switch frame.Event {
	case types.EvtSpreadSubmit:
		gw.handleSpreadSubmit(c, g, sess, frame.Data)
	case types.EvtMMQuote:
		gw.handleQuote(c, g, sess, frame.Data)
	case types.EvtForcedTrade:
		gw.handleForcedTrade(c, g, sess, frame.Data)
	case types.EvtOrderSubmit:
		gw.handleOrderSubmit(c, g, sess, frame.Data)
	case types.EvtOrderCancel:
		gw.sendError(c, "order cancellation is not supported")
	default:
		gw.dispatchGM(c, g, sess, frame)
	}
}

// dispatchGM handles gm:-prefixed events. Authorization is verified against
// the looked-up game, not merely the session flag; failures are silent.
func (gw *Gateway) dispatchGM(c *Client, g *game.Game, sess session, frame inboundFrame) {
	if !g.IsGamemaster(sess.playerID) {
		return
	}

	switch frame.Event {
	case types.EvtGMStart:
		gw.refuseOr(c, g, g.StartGame())
	case types.EvtGMPause:
		gw.refuseOr(c, g, g.Pause())
	case types.EvtGMResume:
		gw.refuseOr(c, g, g.Resume())
	case types.EvtGMStop:
		gw.handleStop(c, g)
	case types.EvtGMNextStage:
		gw.refuseOr(c, g, g.NextStage())
	case types.EvtGMPrevStage:
		gw.refuseOr(c, g, g.PrevStage())
	case types.EvtGMAddMarket:
		gw.handleAddMarket(c, g, frame.Data)
	case types.EvtGMAddDeriv:
		gw.handleAddDerivative(c, g, frame.Data)
	case types.EvtGMBroadcast:
		gw.handleBroadcast(c, g, frame.Data)
	case types.EvtGMSetTimer:
		gw.handleSetTimer(c, g, frame.Data)
	case types.EvtGMSetVisible:
		var req types.SetVisibilityRequest
		if gw.decode(c, frame.Data, &req) {
			g.SetShowIndividualPositions(req.ShowIndividualPositions)
			gw.broadcastState(g)
		}
	case types.EvtGMSetTrueValue:
		var req types.SetTrueValueRequest
		if gw.decode(c, frame.Data, &req) {
			gw.refuseOr(c, g, g.SetTrueValue(req.MarketID, req.Value))
		}
	case types.EvtGMSetExposure:
		var req types.SetExposureRequest
		if gw.decode(c, frame.Data, &req) {
			gw.refuseOr(c, g, g.SetMaxExposure(req.MaxExposure))
		}
	case types.EvtGMFinalizePnl:
		gw.refuseOr(c, g, g.FinalizePnl())
	default:
		gw.sendError(c, "unknown event")
	}
}

// refuseOr reports a business refusal to the caller, or broadcasts fresh
// state on success.
func (gw *Gateway) refuseOr(c *Client, g *game.Game, err error) {
	if err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

func (gw *Gateway) handleJoin(c *Client, frame inboundFrame) {
	var req types.JoinRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		gw.ackError(c, frame.ID, "malformed join request")
		return
	}

	g := gw.reg.GetGame(req.GameCode)
	if g == nil {
		gw.ackError(c, frame.ID, "unknown game code")
		return
	}
	if req.IsGamemaster && !g.CheckGamemasterSecret(req.GamemasterSecret) {
		gw.ackError(c, frame.ID, "invalid gamemaster secret")
		return
	}

	// A connection holds at most one seat; joining elsewhere vacates the
	// current game first. Rejoining the same game keeps the seat.
	if sess := c.session(); sess.playerID != "" {
		if sess.gameCode == g.Code() {
			g.AddPlayer(sess.playerID, req.DisplayName, sess.isGamemaster)
			payload := types.JoinedPayload{
				GameCode:     g.Code(),
				PlayerID:     sess.playerID,
				IsGamemaster: sess.isGamemaster,
				State:        g.Snapshot(sess.isGamemaster, sess.playerID),
			}
			if frame.ID != 0 {
				gw.hub.SendAck(c, frame.ID, payload)
			}
			gw.hub.Send(c, types.EvtJoined, payload)
			gw.broadcastState(g)
			return
		}
		gw.handleLeave(c)
	}

	playerID := uuid.NewString()
	g = gw.reg.JoinGame(req.GameCode, playerID, req.DisplayName, req.IsGamemaster)
	if g == nil {
		gw.ackError(c, frame.ID, "unknown game code")
		return
	}

	code := g.Code()
	c.setSession(playerID, code, req.DisplayName, req.IsGamemaster)
	gw.hub.JoinRoom(roomKey(code), c)
	g.SetSubscriber(&gameSubscriber{gw: gw, g: g, room: roomKey(code)})
	metrics.GamesActive.Set(float64(gw.reg.GameCount()))

	payload := types.JoinedPayload{
		GameCode:     code,
		PlayerID:     playerID,
		IsGamemaster: req.IsGamemaster,
		State:        g.Snapshot(req.IsGamemaster, playerID),
	}
	if frame.ID != 0 {
		gw.hub.SendAck(c, frame.ID, payload)
	}
	gw.hub.Send(c, types.EvtJoined, payload)
	gw.broadcastState(g)
	gw.logger.Info("player joined", "code", code, "player", playerID, "gm", req.IsGamemaster)
}

func (gw *Gateway) handleCreate(c *Client, frame inboundFrame) {
	var req types.CreateGameRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		gw.ackError(c, frame.ID, "malformed create request")
		return
	}
	if req.GamemasterSecret == "" {
		gw.ackError(c, frame.ID, "gamemaster secret required")
		return
	}

	if sess := c.session(); sess.playerID != "" {
		gw.handleLeave(c)
	}

	cfg := game.Config{
		SpreadTimer:      gw.cfg.Game.SpreadTimer,
		OpenTradingTimer: gw.cfg.Game.OpenTradingTimer,
		NoTighterWindow:  gw.cfg.Game.NoTighterWindow,
		StartingCash:     gw.cfg.Game.StartingCash,
		GamemasterSecret: req.GamemasterSecret,
	}
	if req.SpreadTimerSeconds > 0 {
		cfg.SpreadTimer = time.Duration(req.SpreadTimerSeconds) * time.Second
	}
	if req.OpenTradingTimerSeconds > 0 {
		cfg.OpenTradingTimer = time.Duration(req.OpenTradingTimerSeconds) * time.Second
	}
	if req.NoTighterWindowSeconds > 0 {
		cfg.NoTighterWindow = time.Duration(req.NoTighterWindowSeconds) * time.Second
	}

	g := gw.reg.CreateGame(cfg)
	code := g.Code()

	playerID := uuid.NewString()
	gw.reg.JoinGame(code, playerID, "Gamemaster", true)
	c.setSession(playerID, code, "Gamemaster", true)
	gw.hub.JoinRoom(roomKey(code), c)
	g.SetSubscriber(&gameSubscriber{gw: gw, g: g, room: roomKey(code)})
	metrics.GamesActive.Set(float64(gw.reg.GameCount()))

	if frame.ID != 0 {
		gw.hub.SendAck(c, frame.ID, types.CreatedPayload{GameCode: code})
	}
	gw.hub.Send(c, types.EvtJoined, types.JoinedPayload{
		GameCode:     code,
		PlayerID:     playerID,
		IsGamemaster: true,
		State:        g.Snapshot(true, playerID),
	})
	gw.logger.Info("game created", "code", code)
}

func (gw *Gateway) handleLeave(c *Client) {
	sess := c.session()
	if sess.playerID == "" {
		return
	}

	g := gw.reg.LeaveGame(sess.playerID)
	room := roomKey(sess.gameCode)
	gw.hub.LeaveRoom(room, c)
	c.clearSession()
	metrics.GamesActive.Set(float64(gw.reg.GameCount()))

	if g != nil && g.PlayerCount() > 0 {
		gw.hub.Broadcast(room, types.EvtPlayerLeft, types.PlayerLeftPayload{
			PlayerID:    sess.playerID,
			DisplayName: sess.displayName,
		})
		gw.broadcastState(g)
	}
}

// handleDisconnect mirrors game:leave for dropped connections.
func (gw *Gateway) handleDisconnect(c *Client) {
	gw.handleLeave(c)
}

func (gw *Gateway) handleSpreadSubmit(c *Client, g *game.Game, sess session, data json.RawMessage) {
	var req types.SpreadSubmitRequest
	if !gw.decode(c, data, &req) {
		return
	}
	if err := g.SubmitSpread(sess.playerID, req.SpreadWidth); err != nil {
		gw.sendError(c, err.Error())
		return
	}

	if round := g.CurrentRound(); round != nil {
		gw.hub.Broadcast(roomKey(g.Code()), types.EvtSpreadUpdate, types.SpreadUpdatePayload{
			BestSpread:         round.BestSpread,
			BestSpreadPlayerID: round.BestSpreadPlayerID,
			Submissions:        round.Submissions,
		})
	}
	gw.broadcastState(g)
}

func (gw *Gateway) handleQuote(c *Client, g *game.Game, sess session, data json.RawMessage) {
	var req types.QuoteRequest
	if !gw.decode(c, data, &req) {
		return
	}
	if err := g.SubmitQuote(sess.playerID, req.Bid, req.Ask); err != nil {
		gw.sendError(c, err.Error())
	}
	// Success transitions the stage; the stage-change callback broadcasts.
}

func (gw *Gateway) handleForcedTrade(c *Client, g *game.Game, sess session, data json.RawMessage) {
	var req types.ForcedTradeRequest
	if !gw.decode(c, data, &req) {
		return
	}
	direction, err := types.ParseDirection(req.Direction)
	if err != nil {
		gw.sendError(c, err.Error())
		return
	}
	if _, err := g.ForcedTrade(sess.playerID, direction, req.Quantity); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

func (gw *Gateway) handleOrderSubmit(c *Client, g *game.Game, sess session, data json.RawMessage) {
	var req types.OrderSubmitRequest
	if !gw.decode(c, data, &req) {
		return
	}
	side, err := types.ParseSide(req.Side)
	if err != nil {
		gw.sendError(c, err.Error())
		return
	}
	if _, _, err := g.SubmitOrder(sess.playerID, side, req.Price, req.Quantity); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

func (gw *Gateway) handleStop(c *Client, g *game.Game) {
	if err := g.Stop(); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.hub.Broadcast(roomKey(g.Code()), types.EvtEnded, types.EndedPayload{
		State:   g.Snapshot(true, ""),
		Message: "The game has ended. Thanks for playing!",
	})
}

func (gw *Gateway) handleAddMarket(c *Client, g *game.Game, data json.RawMessage) {
	var req types.AddMarketRequest
	if !gw.decode(c, data, &req) {
		return
	}
	if req.Name == "" {
		gw.sendError(c, "market name required")
		return
	}
	g.AddMarket(req.Name, req.Description)
	gw.broadcastState(g)
}

func (gw *Gateway) handleAddDerivative(c *Client, g *game.Game, data json.RawMessage) {
	var req types.AddDerivativeRequest
	if !gw.decode(c, data, &req) {
		return
	}
	if req.Name == "" {
		gw.sendError(c, "market name required")
		return
	}
	if len(req.UnderlyingWeights) == 0 {
		gw.sendError(c, "derivative needs underlying weights")
		return
	}
	g.AddDerivative(req.Name, req.Description, req.UnderlyingWeights, req.Condition)
	gw.broadcastState(g)
}

func (gw *Gateway) handleBroadcast(c *Client, g *game.Game, data json.RawMessage) {
	var req types.BroadcastRequest
	if !gw.decode(c, data, &req) {
		return
	}
	if req.Text == "" {
		gw.sendError(c, "announcement text required")
		return
	}
	a := g.Announce(req.Text)
	gw.hub.Broadcast(roomKey(g.Code()), types.EvtAnnouncement, a)
	gw.broadcastState(g)
}

func (gw *Gateway) handleSetTimer(c *Client, g *game.Game, data json.RawMessage) {
	var req types.SetTimerRequest
	if !gw.decode(c, data, &req) {
		return
	}
	seconds := min(max(req.Seconds, 1), 3600)
	if err := g.SetTimer(time.Duration(seconds) * time.Second); err != nil {
		gw.sendError(c, err.Error())
		return
	}
	gw.broadcastState(g)
}

// broadcastState fans a viewer-projected snapshot out to every connection in
// the game's room. This cannot be a single room broadcast: the gamemaster
// sees true values, everyone else sees filtered positions.
func (gw *Gateway) broadcastState(g *game.Game) {
	for _, member := range gw.hub.RoomClients(roomKey(g.Code())) {
		s := member.session()
		state := g.Snapshot(s.isGamemaster, s.playerID)
		gw.hub.Send(member, types.EvtState, types.StatePayload{State: state})
	}
}

func (gw *Gateway) sendError(c *Client, message string) {
	metrics.ErrorsEmitted.Inc()
	gw.hub.Send(c, types.EvtError, types.ErrorPayload{Message: message})
}

func (gw *Gateway) ackError(c *Client, ackID uint64, message string) {
	metrics.ErrorsEmitted.Inc()
	if ackID != 0 {
		gw.hub.SendAck(c, ackID, map[string]string{"error": message})
		return
	}
	gw.hub.Send(c, types.EvtError, types.ErrorPayload{Message: message})
}

// decode unmarshals an event payload, reporting malformed input to the
// caller.
func (gw *Gateway) decode(c *Client, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		gw.sendError(c, "malformed payload")
		return false
	}
	return true
}

// gameSubscriber translates game callbacks into room events.
type gameSubscriber struct {
	gw   *Gateway
	g    *game.Game
	room string
}

func (s *gameSubscriber) OnStageChange(stage types.Stage, round *types.Round) {
	s.gw.hub.Broadcast(s.room, types.EvtStageChanged, types.StageChangedPayload{
		Stage: stage,
		Round: round,
	})
	if round != nil && round.StageEndsAt != nil {
		remaining := (*round.StageEndsAt - time.Now().UnixMilli() + 999) / 1000
		if remaining < 0 {
			remaining = 0
		}
		s.gw.hub.Broadcast(s.room, types.EvtTimer, types.TimerPayload{
			Stage:            stage,
			EndsAt:           *round.StageEndsAt,
			SecondsRemaining: remaining,
		})
	}
	s.gw.broadcastState(s.g)
}

func (s *gameSubscriber) OnTrade(trade types.Trade) {
	metrics.TradesMatched.Inc()
	s.gw.hub.Broadcast(s.room, types.EvtTrade, types.TradePayload{Trade: &trade})
}

func (s *gameSubscriber) OnTimer(stage types.Stage, endsAt, secondsRemaining int64) {
	s.gw.hub.Broadcast(s.room, types.EvtTimer, types.TimerPayload{
		Stage:            stage,
		EndsAt:           endsAt,
		SecondsRemaining: secondsRemaining,
	})
}

func (s *gameSubscriber) OnOrderBookChange(snapshot *types.BookSnapshot) {
	s.gw.hub.Broadcast(s.room, types.EvtOrderBook, types.OrderBookPayload{OrderBook: snapshot})
}
