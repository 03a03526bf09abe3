package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/login"
)

// AuthClient 是一個 login.AuthClient 的模擬實作，用於測試和本地開發。
type AuthClient struct {
	mu sync.Mutex
	// 流水號
	counterID int
}

var _ login.AuthClient = (*AuthClient)(nil)

// NewAuthClient 創建一個新的 AuthClient 實例。
func NewAuthClient() *AuthClient {
	return &AuthClient{counterID: 1000000}
}

// Exchange 模擬交換憑證的過程，每次都發出新的假 token。
func (c *AuthClient) Exchange(_ context.Context, dealerID, _ string) (login.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counterID++
	return login.Credential{
		Token:    fmt.Sprintf("mock-token-%s-%d", dealerID, c.counterID),
		IssuedAt: time.Now(),
	}, nil
}
