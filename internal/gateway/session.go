package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one websocket connection plus its session bag. The session is
// populated by game:join and gm:create, and cleared on game:leave or
// disconnect.
type Client struct {
	gw      *Gateway
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu           sync.Mutex
	playerID     string
	gameCode     string
	displayName  string
	isGamemaster bool
}

// session is an immutable copy of the connection's session bag.
type session struct {
	playerID     string
	gameCode     string
	displayName  string
	isGamemaster bool
}

func (c *Client) session() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session{
		playerID:     c.playerID,
		gameCode:     c.gameCode,
		displayName:  c.displayName,
		isGamemaster: c.isGamemaster,
	}
}

func (c *Client) setSession(playerID, gameCode, displayName string, isGamemaster bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = playerID
	c.gameCode = gameCode
	c.displayName = displayName
	c.isGamemaster = isGamemaster
}

func (c *Client) clearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = ""
	c.gameCode = ""
	c.displayName = ""
	c.isGamemaster = false
}

// newClient registers a connection with the hub and starts its pumps.
func (gw *Gateway) newClient(conn *websocket.Conn) *Client {
	c := &Client{
		gw:      gw,
		conn:    conn,
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(gw.cfg.Limits.EventsPerSecond), gw.cfg.Limits.EventBurst),
	}
	gw.hub.add(c)

	go c.writePump()
	go c.readPump()

	return c
}
