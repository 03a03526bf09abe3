package wss

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connection 是 Client 的實作。寫入只在 writePump 與 Close 中發生，由 writeMu 保護。
type connection struct {
	id        string
	hub       *hub
	conn      *websocket.Conn
	remote    string
	userAgent string
	logger    *slog.Logger

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool

	writeMu sync.Mutex
}

var _ Client = (*connection)(nil)

func newConnection(hub *hub, conn *websocket.Conn, r *http.Request, queueSize int, logger *slog.Logger) *connection {
	id := uuid.NewString()
	return &connection{
		id:        id,
		hub:       hub,
		conn:      conn,
		remote:    r.RemoteAddr,
		userAgent: r.UserAgent(),
		send:      make(chan []byte, queueSize),
		logger:    logger.With("clientID", id),
	}
}

func (c *connection) ID() string {
	return c.id
}

// Send 將一則訊息放入發送佇列，由 writePump 異步發送。
// 佇列已滿時直接丟棄並回傳 ErrSendQueueFull，一個慢的頁面不會拖住上游的轉發。
func (c *connection) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("send queue full, message dropped", "size", len(data))
		return ErrSendQueueFull
	}
}

// closeSend 關閉發送佇列，讓 writePump 送出 close frame 後結束。可重複呼叫。
func (c *connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *connection) Close(reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}

func (c *connection) RemoteAddr() string {
	return c.remote
}

func (c *connection) UserAgent() string {
	return c.userAgent
}

// readPump 將下游送來的訊息交給 hub，結束時註銷連線。
func (c *connection) readPump(cfg Config) {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read pump failed", "error", err)
			}
			return
		}
		if !c.hub.deliver(c, message) {
			return
		}
	}
}

// writePump 依序寫出發送佇列，並定期送出 ping。
func (c *connection) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(cfg, websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(cfg, websocket.TextMessage, message); err != nil {
				c.logger.Warn("write pump failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(cfg, websocket.PingMessage, nil); err != nil {
				c.logger.Warn("write pump failed on sending ping", "error", err)
				return
			}
		}
	}
}

func (c *connection) write(cfg Config, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
	return c.conn.WriteMessage(messageType, data)
}
