package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/arnold17091984/dealersys/pkg/config"
)

type AdapterMode string

const (
	ModeMock AdapterMode = "mock"
	ModeReal AdapterMode = "real"
)

// ServerConfig 包含 HTTP 伺服器的設定。
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Mode 是桌台模式 active (荷官端) 或 passive (只監看)。
	Mode string `mapstructure:"mode"`
}

// WebsocketConfig 包含下游 WebSocket 伺服器的設定。
type WebsocketConfig struct {
	WriteWaitSec    int      `mapstructure:"writeWaitSec"`
	PongWaitSec     int      `mapstructure:"pongWaitSec"`
	MaxMessageSize  int64    `mapstructure:"maxMessageSize"`
	ReadBufferSize  int      `mapstructure:"readBufferSize"`
	WriteBufferSize int      `mapstructure:"writeBufferSize"`
	SendQueueSize   int      `mapstructure:"sendQueueSize"`
	AllowedOrigins  []string `mapstructure:"allowedOrigins"`
}

// GameServerConfig 包含上游遊戲伺服器的位址。
type GameServerConfig struct {
	BaseURL    string `mapstructure:"baseUrl"`
	WSURL      string `mapstructure:"wsUrl"`
	TimeoutSec int    `mapstructure:"timeoutSec"`
}

func (c GameServerConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// DealerConfig 是荷官帳號。
type DealerConfig struct {
	ID  string `mapstructure:"id"`
	Key string `mapstructure:"key"`
}

// TableConfig 是預設的桌號。
type TableConfig struct {
	Number int `mapstructure:"number"`
}

// BridgeConfig 是上游連線的心跳與重連參數。
type BridgeConfig struct {
	HeartbeatIntervalMs  int `mapstructure:"heartbeatIntervalMs"`
	HeartbeatMaxMisses   int `mapstructure:"heartbeatMaxMisses"`
	ReconnectDelayMs     int `mapstructure:"reconnectDelayMs"`
	MaxReconnectAttempts int `mapstructure:"maxReconnectAttempts"`
}

// AuthConfig 包含驗證服務的設定。
type AuthConfig struct {
	Mode AdapterMode `mapstructure:"mode"`
}

// DatabaseConfig 包含資料庫的設定。Driver 為 mysql 或 memory。
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig 包含 Redis 連線設定。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ForwardingConfig 是結算資料轉送的設定。
type ForwardingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	IntervalSec int    `mapstructure:"intervalSec"`
	MaxRetries  int    `mapstructure:"maxRetries"`
	BatchSize   int    `mapstructure:"batchSize"`
	QueueKey    string `mapstructure:"queueKey"`
}

// MappingConfig 指向讀卡機代碼對應檔。
type MappingConfig struct {
	Dir  string `mapstructure:"dir"`
	Name string `mapstructure:"name"`
}

// Config 是 dealer 服務的完整設定。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Websocket  WebsocketConfig  `mapstructure:"websocket"`
	GameServer GameServerConfig `mapstructure:"gameServer"`
	Dealer     DealerConfig     `mapstructure:"dealer"`
	Table      TableConfig      `mapstructure:"table"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Forwarding ForwardingConfig `mapstructure:"forwarding"`
	Mapping    MappingConfig    `mapstructure:"mapping"`
}

// ApplyDefaults 補上沒有設定的欄位。
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "active"
	}
	if c.Table.Number == 0 {
		c.Table.Number = 1
	}
	if c.Bridge.HeartbeatIntervalMs == 0 {
		c.Bridge.HeartbeatIntervalMs = 1000
	}
	if c.Bridge.HeartbeatMaxMisses == 0 {
		c.Bridge.HeartbeatMaxMisses = 5
	}
	if c.Bridge.ReconnectDelayMs == 0 {
		c.Bridge.ReconnectDelayMs = 3000
	}
	if c.Bridge.MaxReconnectAttempts == 0 {
		c.Bridge.MaxReconnectAttempts = 10
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = ModeMock
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Mapping.Dir == "" {
		c.Mapping.Dir = "./configs"
	}
	if c.Mapping.Name == "" {
		c.Mapping.Name = "codemap"
	}
}

// LoadConfig 從指定路徑載入設定檔。
//
// 參數說明：
//   - configPath: string, 設定檔所在的目錄路徑。
//   - env: string, 環境名稱 (e.g., "local", "dev", "prod")。
//
// 回傳值：
//   - *T: 載入的設定物件。
//   - error: 如果載入失敗，則返回錯誤。
func LoadConfig[T any](configPath string, env string) (*T, error) {
	// 例如 env="local" -> config.local.yaml
	return pkgconfig.LoadConfig[T](configPath, fmt.Sprintf("config.%s", env))
}
