package wss

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type inbound struct {
	client  *connection
	message []byte
}

// hub 在單一事件迴圈中維護活躍連線並分派事件，Subscriber 的回呼因此不會並行執行。
type hub struct {
	clients     map[*connection]struct{}
	register    chan *connection
	unregister  chan *connection
	inbound     chan inbound
	subscribers []Subscriber
	count       atomic.Int64
	ctx         context.Context
	done        chan struct{}
	logger      *slog.Logger
}

func newHub(ctx context.Context, logger *slog.Logger) *hub {
	return &hub{
		clients:    make(map[*connection]struct{}),
		register:   make(chan *connection),
		unregister: make(chan *connection),
		inbound:    make(chan inbound),
		ctx:        ctx,
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// join 註冊新連線；hub 已關閉時回傳 false。
func (h *hub) join(c *connection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *hub) leave(c *connection) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *hub) deliver(c *connection, message []byte) bool {
	select {
	case h.inbound <- inbound{client: c, message: message}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.logger.Info("client registered", "clientID", c.ID(), "ip", c.RemoteAddr())
			for _, s := range h.subscribers {
				s.OnConnect(c)
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			delete(h.clients, c)
			h.count.Add(-1)
			c.closeSend()
			h.logger.Info("client unregistered", "clientID", c.ID())
			for _, s := range h.subscribers {
				s.OnDisconnect(c)
			}
		case msg := <-h.inbound:
			h.logger.Debug("message received from client", "clientID", msg.client.ID(), "size", len(msg.message))
			for _, s := range h.subscribers {
				s.OnMessage(msg.client, msg.message)
			}
		case <-h.ctx.Done():
			h.logger.Info("hub shutting down", "clients", len(h.clients))
			for c := range h.clients {
				c.Close("server shutting down")
				delete(h.clients, c)
				c.closeSend()
				for _, s := range h.subscribers {
					s.OnDisconnect(c)
				}
			}
			h.count.Store(0)
			return
		}
	}
}
