package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flowdeck/api/internal/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

const (
	transportWebSocket = "websocket"
	transportPolling   = "polling"
)

// client is one live connection, either a websocket or a long-poll session.
// Outbound frames go through send; done signals the connection is closing.
type client struct {
	id        string
	transport string
	session   collab.UserSession

	conn *websocket.Conn // nil for polling clients
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
}

func newClient(id, transport string, session collab.UserSession, conn *websocket.Conn) *client {
	return &client{
		id:        id,
		transport: transport,
		session:   session,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		lastSeen:  time.Now().UTC(),
	}
}

// enqueue hands a frame to the connection's outbound queue. It reports false
// when the queue is full (slow consumer) or the connection is closing.
func (c *client) enqueue(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	c.mu.Unlock()
}

func (c *client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// readPump pumps frames from the websocket into the dispatch table. It owns
// the read side of the connection and triggers cleanup when the transport
// closes.
func (g *Gateway) readPump(c *client) {
	defer g.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: conn=%s %v", c.id, err)
			}
			return
		}
		c.touch()
		g.dispatch(c, message)
	}
}

// writePump pumps outbound frames to the websocket and keeps the connection
// alive with pings. On shutdown it flushes whatever is queued before sending
// the close frame.
func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case message := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
