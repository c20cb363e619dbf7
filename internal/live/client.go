package live

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gatepass/backend/pkg/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer; the feed itself is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket subscriber to an event's check-in feed.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	eventID uuid.UUID
	send    chan []byte
}

// ServeWS handles GET /ws/events/:id. Upgrades the connection and streams
// check-in frames for the event until the client disconnects.
func ServeWS(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid event id")
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{hub: hub, conn: conn, eventID: eventID, send: make(chan []byte, sendBuffer)}
		hub.subscribe(eventID, client)
		go client.writePump()
		go client.readPump()
	}
}

// readPump discards inbound frames; it exists to process control messages and
// detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unsubscribe(c.eventID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
