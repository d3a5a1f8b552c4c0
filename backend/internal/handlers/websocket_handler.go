package handlers

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	ws "github.com/user/papertrade/backend/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// FeedEndpoint streams quote and trade messages from hub to one client.
// The feed is public and read-only; anything the client sends is ignored.
func FeedEndpoint(hub *ws.Hub, log *zap.Logger) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		addr := c.RemoteAddr().String()
		client := ws.NewClient(addr, 256)
		if !hub.Join(client) {
			c.Close()
			return
		}
		log.Debug("websocket connection established", zap.String("addr", addr))

		// fiber's websocket handler owns the connection until it returns, so
		// the read pump runs here and the write pump in its own goroutine.
		done := make(chan struct{})
		go writePump(c, client, done, log)
		readPump(c, log)

		hub.Leave(client)
		<-done
		log.Debug("websocket connection closed", zap.String("addr", addr))
	}
}

// writePump pumps messages from the hub to the websocket connection.
func writePump(c *websocket.Conn, client *ws.Client, done chan<- struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		close(done)
	}()

	for {
		select {
		case message, ok := <-client.Send:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug("websocket write failed", zap.String("addr", client.Addr), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection until it errors, keeping pongs flowing.
func readPump(c *websocket.Conn, log *zap.Logger) {
	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error { return c.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("client disconnected unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
