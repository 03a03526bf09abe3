package ws

import (
	"net"
	"strings"

	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/pkg/wss"
)

// ClientAdapter 將一個 wss.Client 物件「轉接」成一個 bridge.Subscriber。
type ClientAdapter struct {
	client wss.Client
}

// 確保 ClientAdapter 在編譯時期就實現了 bridge.Subscriber 介面。
var _ bridge.Subscriber = (*ClientAdapter)(nil)

// NewClientAdapter 創建一個新的轉接器實例。
func NewClientAdapter(client wss.Client) *ClientAdapter {
	return &ClientAdapter{client: client}
}

// ID 直接使用底層連線的 ID，同一條連線的多次轉接會對應到同一個下游。
func (a *ClientAdapter) ID() string {
	return a.client.ID()
}

// Send 把 bridge 的訊息放入下游連線的發送佇列。
func (a *ClientAdapter) Send(data []byte) error {
	return a.client.Send(data)
}

// IP 從 RemoteAddr() 解析出 IP 位址，用於日誌。
func (a *ClientAdapter) IP() string {
	addr := a.client.RemoteAddr()
	// net.SplitHostPort 對 IPv6 的位址 (例如 "[::1]:1234") 也能正常處理
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.Trim(addr, "[]")
	}
	return host
}
