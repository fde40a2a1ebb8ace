package transport

import (
	"sync"
	"time"

	"attentrack/internal/event"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// client is one participant connection. Emit is called from the session
// goroutine and never blocks it; a single write pump owns the socket writes.
type client struct {
	id   string
	conn *websocket.Conn
	send chan event.Outbound
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

func newClient(id string, conn *websocket.Conn, log *zap.Logger) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan event.Outbound, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

func (c *client) Emit(name event.Name, payload any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- event.Outbound{Event: name, Data: payload}:
	default:
		c.log.Warn("Outbound queue full, dropping message", zap.String("event", string(name)))
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("Write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
