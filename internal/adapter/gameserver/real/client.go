package real

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/internal/application/table"
	"github.com/arnold17091984/dealersys/internal/domain/round"
	"github.com/go-resty/resty/v2"
)

// ErrRejected 表示遊戲伺服器回傳了非 0 的 ecode。
var ErrRejected = errors.New("gameserver: command rejected")

// TokenSource 提供 dealer API 的 Bearer token，由 login.Service 實作。
type TokenSource interface {
	Token() (string, error)
}

// Client 是一個使用 resty 的 table.Commander 實作，以表單 POST 呼叫 /dealer/*。
type Client struct {
	client *resty.Client
	tokens TokenSource
}

var _ table.Commander = (*Client)(nil)

type reply struct {
	ECode   int    `json:"ecode"`
	Message string `json:"msg"`
	Error   string `json:"error"`
}

// NewClient 創建一個新的 Client 實例。
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		tokens: tokens,
	}
}

// TableInfo 呼叫 /dealer/table 並原樣回傳內容。
func (c *Client) TableInfo(ctx context.Context, tableNo int) (json.RawMessage, error) {
	body, err := c.post(ctx, "/dealer/table", tableForm(tableNo))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: /dealer/table returned non-JSON body", ErrRejected)
	}
	return json.RawMessage(body), nil
}

func (c *Client) Start(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/start", tableForm(tableNo))
}

func (c *Client) Stop(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/stop", tableForm(tableNo))
}

// SendCard 送出 intPosi、cardIdx 以及讀卡機代碼。
func (c *Client) SendCard(ctx context.Context, tableNo int, p round.Placement) error {
	form := tableForm(tableNo)
	form["intPosi"] = strconv.Itoa(p.IntPosi)
	form["cardIdx"] = strconv.Itoa(p.Card.Index())
	form["card"] = p.Card.Code
	return c.command(ctx, "/dealer/card", form)
}

func (c *Client) Finish(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/finish", tableForm(tableNo))
}

// Shuffle 呼叫上游的 /dealer/suffle (上游的拼字)。
func (c *Client) Shuffle(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/suffle", tableForm(tableNo))
}

func (c *Client) SetLast(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/setlast", tableForm(tableNo))
}

func (c *Client) Pause(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/pause", tableForm(tableNo))
}

func (c *Client) Restart(ctx context.Context, tableNo int) error {
	return c.command(ctx, "/dealer/restart", tableForm(tableNo))
}

// --- 輔助方法 ---

func tableForm(tableNo int) map[string]string {
	return map[string]string{"table": strconv.Itoa(tableNo)}
}

// command 送出指令並檢查 ecode；回應不是 JSON 時只看 HTTP 狀態。
func (c *Client) command(ctx context.Context, path string, form map[string]string) error {
	body, err := c.post(ctx, path, form)
	if err != nil {
		return err
	}
	var r reply
	if json.Unmarshal(body, &r) != nil {
		return nil
	}
	if r.ECode != 0 {
		msg := r.Message
		if msg == "" {
			msg = r.Error
		}
		return fmt.Errorf("%w: %s ecode=%d %s", ErrRejected, path, r.ECode, msg)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, form map[string]string) ([]byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetFormData(form).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bridge.ErrUpstreamUnavailable, path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s: http %d", bridge.ErrUpstreamUnavailable, path, resp.StatusCode())
	}
	return resp.Body(), nil
}
