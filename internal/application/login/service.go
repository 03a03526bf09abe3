package login

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotAuthenticated 表示尚未向遊戲伺服器取得荷官憑證。
var ErrNotAuthenticated = errors.New("login: dealer not authenticated")

// AuthClient 定義了向遊戲伺服器交換荷官憑證的外部服務介面。
// Use Case 會依賴此介面，而不是一個具體的驗證服務實作。
type AuthClient interface {
	// Exchange 以荷官帳號與金鑰換取 token 與連線序號。
	//
	// Params:
	//   - ctx: context.Context, 請求上下文。
	//   - dealerID: string, 荷官帳號。
	//   - key: string, 荷官金鑰。
	//
	// Returns:
	//   - Credential: 上游連線與指令使用的憑證。
	//   - error: 如果交換失敗，則回傳錯誤。
	Exchange(ctx context.Context, dealerID, key string) (Credential, error)
}

// Credential 是遊戲伺服器發出的荷官憑證。
type Credential struct {
	// Token 用於 dealer API 的 Bearer 驗證與上游 websocket 路徑。
	Token string `json:"token"`
	// Index 是上游 websocket 路徑中的連線序號。
	Index int `json:"idx"`
	// IssuedAt 是取得憑證的時間。
	IssuedAt time.Time `json:"issuedAt"`
}

// Service 保存最近一次取得的荷官憑證，供上游連線與指令使用。
type Service struct {
	authClient AuthClient
	dealerID   string
	key        string
	logger     *slog.Logger

	mu   sync.RWMutex
	cred *Credential
}

// NewService 創建一個新的 Service 實例。
//
// Params:
//   - logger: *slog.Logger, 日誌實例。
//   - client: AuthClient, 一個實現了 AuthClient 介面的外部服務客戶端。
//   - dealerID, key: string, 設定檔中的荷官帳號與金鑰。
//
// Returns:
//   - *Service: 新的 Service 實例。
func NewService(logger *slog.Logger, client AuthClient, dealerID, key string) *Service {
	return &Service{
		authClient: client,
		dealerID:   dealerID,
		key:        key,
		logger:     logger.With("component", "login_service"),
	}
}

// Authenticate 向遊戲伺服器換取新的憑證並取代目前保存的憑證。
// 失敗時保留舊的憑證。
func (s *Service) Authenticate(ctx context.Context) (Credential, error) {
	cred, err := s.authClient.Exchange(ctx, s.dealerID, s.key)
	if err != nil {
		s.logger.Error("dealer authentication failed", "dealerID", s.dealerID, "error", err)
		return Credential{}, err
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now()
	}

	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()

	s.logger.Info("dealer authenticated", "dealerID", s.dealerID, "idx", cred.Index)
	return cred, nil
}

// Credential 回傳目前的憑證；尚未驗證時 ok 為 false。
func (s *Service) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Token 回傳目前的 token，尚未驗證時回傳 ErrNotAuthenticated。
func (s *Service) Token() (string, error) {
	cred, ok := s.Credential()
	if !ok || cred.Token == "" {
		return "", ErrNotAuthenticated
	}
	return cred.Token, nil
}
