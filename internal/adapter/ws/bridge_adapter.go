package ws

import (
	"log/slog"

	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/pkg/wss"
)

// EventHandler 是 bridge.Service 對下游連線事件的入口 (port)。
type EventHandler interface {
	OnConnect(sub bridge.Subscriber)
	OnDisconnect(sub bridge.Subscriber)
	OnMessage(sub bridge.Subscriber, message []byte)
}

var _ EventHandler = (*bridge.Service)(nil)

// BridgeAdapter 將來自 wss 層的事件，轉接給 application 層的 bridge。
// 它實現了 wss.Subscriber 介面，是標準的框架轉接器。
type BridgeAdapter struct {
	handler EventHandler
	logger  *slog.Logger
}

// 確保 BridgeAdapter 在編譯時期就實現了 wss.Subscriber 介面。
var _ wss.Subscriber = (*BridgeAdapter)(nil)

// NewBridgeAdapter 創建一個新的 BridgeAdapter 實例。
func NewBridgeAdapter(handler EventHandler, logger *slog.Logger) *BridgeAdapter {
	return &BridgeAdapter{handler: handler, logger: logger.With("component", "bridge_adapter")}
}

// OnConnect 在收到 wss 的連線事件時被呼叫。
func (a *BridgeAdapter) OnConnect(client wss.Client) {
	sub := NewClientAdapter(client)
	a.logger.Info("browser connected", "clientID", sub.ID(), "ip", sub.IP(), "userAgent", client.UserAgent())
	a.handler.OnConnect(sub)
}

// OnDisconnect 在收到 wss 的斷線事件時被呼叫。
func (a *BridgeAdapter) OnDisconnect(client wss.Client) {
	a.handler.OnDisconnect(NewClientAdapter(client))
}

// OnMessage 在收到 wss 的訊息事件時被呼叫。
func (a *BridgeAdapter) OnMessage(client wss.Client, message []byte) {
	a.handler.OnMessage(NewClientAdapter(client), message)
}
