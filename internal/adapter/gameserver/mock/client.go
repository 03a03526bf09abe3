package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arnold17091984/dealersys/internal/application/table"
	"github.com/arnold17091984/dealersys/internal/domain/round"
)

// Client 是本地開發用的 table.Commander，只記錄收到的指令。
type Client struct {
	logger *slog.Logger

	mu    sync.Mutex
	calls []string
}

var _ table.Commander = (*Client)(nil)

func NewClient(logger *slog.Logger) *Client {
	return &Client{logger: logger.With("component", "mock_gameserver")}
}

// Calls 回傳目前為止收到的指令。
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Client) TableInfo(_ context.Context, tableNo int) (json.RawMessage, error) {
	c.record("table", tableNo)
	data, err := json.Marshal(map[string]any{"ecode": 0, "data": map[string]any{"table": tableNo, "ttype": "mock"}})
	return json.RawMessage(data), err
}

func (c *Client) Start(_ context.Context, tableNo int) error { return c.record("start", tableNo) }
func (c *Client) Stop(_ context.Context, tableNo int) error { return c.record("stop", tableNo) }
func (c *Client) Finish(_ context.Context, tableNo int) error { return c.record("finish", tableNo) }
func (c *Client) Shuffle(_ context.Context, tableNo int) error { return c.record("suffle", tableNo) }
func (c *Client) SetLast(_ context.Context, tableNo int) error { return c.record("setlast", tableNo) }
func (c *Client) Pause(_ context.Context, tableNo int) error { return c.record("pause", tableNo) }
func (c *Client) Restart(_ context.Context, tableNo int) error { return c.record("restart", tableNo) }

func (c *Client) SendCard(_ context.Context, tableNo int, p round.Placement) error {
	return c.record(fmt.Sprintf("card:%d:%d", p.IntPosi, p.Card.Index()), tableNo)
}

func (c *Client) record(cmd string, tableNo int) error {
	c.mu.Lock()
	c.calls = append(c.calls, cmd)
	c.mu.Unlock()
	c.logger.Debug("dealer command", "cmd", cmd, "table", tableNo)
	return nil
}
