package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pitgame/internal/metrics"
)

// Hub tracks connected clients and their room membership. Each game has one
// broadcast room keyed "game:<CODE>"; joining a game joins the room.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		logger:  logger.With("component", "ws-hub"),
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ClientsConnected.Set(float64(n))
	h.logger.Info("client connected", "count", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room, members := range h.rooms {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	n := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	metrics.ClientsConnected.Set(float64(n))
	h.logger.Info("client disconnected", "count", n)
}

// JoinRoom adds a client to a room, creating it on first join.
func (h *Hub) JoinRoom(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[c] = true
}

// LeaveRoom removes a client from a room, dropping empty rooms.
func (h *Hub) LeaveRoom(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomClients returns the current members of a room.
func (h *Hub) RoomClients(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Broadcast sends one event to every member of a room. The frame is
// marshalled once; members that cannot keep up have the frame dropped.
func (h *Hub) Broadcast(room, event string, data any) {
	frame, err := marshalFrame(event, 0, data)
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("send buffer full, dropping event", "event", event)
		}
	}
}

// Send delivers one event to a single client.
func (h *Hub) Send(c *Client, event string, data any) {
	h.sendFrame(c, event, 0, data)
}

// SendAck answers an inbound frame that carried an ack id.
func (h *Hub) SendAck(c *Client, ackID uint64, data any) {
	h.sendFrame(c, "ack", ackID, data)
}

func (h *Hub) sendFrame(c *Client, event string, ackID uint64, data any) {
	frame, err := marshalFrame(event, ackID, data)
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("send buffer full, dropping event", "event", event)
	}
}

// inboundFrame is the wire format for client-to-server messages. ID, when
// non-zero, requests an acknowledgement frame carrying the same id.
type inboundFrame struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Ack   uint64 `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func marshalFrame(event string, ackID uint64, data any) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, Ack: ackID, Data: data})
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB
)

// writePump pumps frames from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames and hands them to the gateway dispatcher.
func (c *Client) readPump() {
	defer func() {
		c.gw.handleDisconnect(c)
		c.gw.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gw.logger.Error("websocket error", "error", err)
			}
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.gw.sendError(c, "malformed frame")
			continue
		}
		if !c.limiter.Allow() {
			c.gw.sendError(c, "rate limit exceeded")
			continue
		}
		c.gw.dispatch(c, frame)
	}
}
