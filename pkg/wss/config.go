package wss

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config 定義了 WebSocket 伺服器的所有可設定參數。
type Config struct {
	WriteWait       time.Duration // 寫入操作的超時時間
	PongWait        time.Duration // 等待 Pong 訊息的超時時間
	PingPeriod      time.Duration // 發送 Ping 訊息的間隔，預設為 PongWait 的 9/10
	MaxMessageSize  int64         // 允許接收的最大訊息大小
	ReadBufferSize  int
	WriteBufferSize int
	SendQueueSize   int // 每條連線的發送佇列長度
	// AllowedOrigins 為空時接受所有來源，否則只接受列出的 host (例如 "dealer.local:8080")。
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	return c
}

// checkOrigin 比對 Origin 標頭的 host。沒有 Origin 的請求 (非瀏覽器) 一律接受。
func (c Config) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(u.Host, allowed) {
			return true
		}
	}
	return false
}
