package real

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/go-resty/resty/v2"
)

// AuthClient 是一個使用 resty 的 login.AuthClient 實作，呼叫遊戲伺服器的 /dealer/auth。
type AuthClient struct {
	client *resty.Client
}

var _ login.AuthClient = (*AuthClient)(nil)

// authResponse 同時接受 {ecode, data{token, idx}} 與扁平的 {token} 兩種格式。
type authResponse struct {
	ECode   int    `json:"ecode"`
	Message string `json:"msg"`
	Token   string `json:"token"`
	Data    *struct {
		Token string `json:"token"`
		Idx   any    `json:"idx"`
	} `json:"data"`
}

// NewAuthClient 創建一個新的 AuthClient 實例。
func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	return &AuthClient{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

// Exchange 以表單 POST 荷官帳號與金鑰並解析回傳的 token。
func (c *AuthClient) Exchange(ctx context.Context, dealerID, key string) (login.Credential, error) {
	var result authResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"id": dealerID, "key": key}).
		SetResult(&result).
		ForceContentType("application/json").
		Post("/dealer/auth")
	if err != nil {
		return login.Credential{}, fmt.Errorf("dealer auth request: %w", err)
	}
	if resp.IsError() {
		return login.Credential{}, fmt.Errorf("dealer auth: http %d", resp.StatusCode())
	}

	cred := login.Credential{IssuedAt: time.Now()}
	switch {
	case result.Data != nil && result.Data.Token != "":
		cred.Token = result.Data.Token
		cred.Index = parseIdx(result.Data.Idx)
	case result.Token != "":
		cred.Token = result.Token
	default:
		return login.Credential{}, fmt.Errorf("dealer auth rejected: ecode=%d msg=%q", result.ECode, result.Message)
	}
	return cred, nil
}

// parseIdx 接受數字或字串格式的 idx。
func parseIdx(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	}
	return 0
}
