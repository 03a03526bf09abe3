package wss

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server 是下游 WebSocket 的門面 (Facade)，實現 http.Handler，可用 gin.WrapH 掛上路由。
type Server struct {
	hub      *hub
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

var _ http.Handler = (*Server)(nil)

// NewServer 建立伺服器並啟動 hub。ctx 結束時所有連線都會被關閉。
// Subscriber 必須在第一條連線進來之前透過 Register 註冊。
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	h := newHub(ctx, logger.With("component", "hub"))
	go h.run()
	return &Server{
		hub: h,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.checkOrigin,
		},
		logger: logger.With("component", "wss_server"),
	}
}

func (s *Server) Register(subscriber Subscriber) {
	if subscriber != nil {
		s.hub.subscribers = append(s.hub.subscribers, subscriber)
	}
}

// ClientCount 返回目前連線中的客戶端數量。
func (s *Server) ClientCount() int {
	return int(s.hub.count.Load())
}

// Done 在 hub 關閉所有連線之後關閉。
func (s *Server) Done() <-chan struct{} {
	return s.hub.done
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}

	client := newConnection(s.hub, conn, r, s.cfg.SendQueueSize, s.logger.With("component", "client"))
	if !s.hub.join(client) {
		conn.Close()
		return
	}
	go client.writePump(s.cfg)
	go client.readPump(s.cfg)
}
