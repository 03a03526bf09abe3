package wss

import "errors"

var (
	// ErrSendQueueFull 表示客戶端的發送佇列已滿，訊息被丟棄。
	ErrSendQueueFull = errors.New("wss: send queue full")
	// ErrClientClosed 表示客戶端已經斷線。
	ErrClientClosed = errors.New("wss: client closed")
)

// Client 是一條下游連線 (荷官畫面或監看頁面)。
type Client interface {
	ID() string
	// Send 把一則文字訊息放入發送佇列，不會阻塞。
	Send(data []byte) error
	// Close 送出 close frame 後中斷連線。
	Close(reason string) error
	RemoteAddr() string
	UserAgent() string
}

// Subscriber 接收連線、斷線與訊息事件。所有回呼都在 hub 的事件迴圈中依序執行，
// 實作端不可在回呼內長時間阻塞。
type Subscriber interface {
	OnConnect(client Client)
	OnDisconnect(client Client)
	OnMessage(client Client, message []byte)
}
