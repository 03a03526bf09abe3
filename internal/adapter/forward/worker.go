package forward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/go-resty/resty/v2"
)

// Source 是 Worker 讀取的佇列，由 Queue 實作。
type Source interface {
	Pop(ctx context.Context) (record.ForwardItem, bool, error)
	Requeue(ctx context.Context, item record.ForwardItem) error
	Fail(ctx context.Context, item record.ForwardItem) error
	Sent(ctx context.Context) error
}

// Marker 在轉發成功後更新牌局紀錄，由 record.Service 實作。
type Marker interface {
	MarkForwarded(ctx context.Context, roundID string) error
}

// WorkerConfig 是轉發工作的參數。
type WorkerConfig struct {
	URL        string
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
}

// Worker 定期從佇列取出結算資料 POST 到外部系統。
type Worker struct {
	source Source
	marker Marker
	cfg    WorkerConfig
	client *resty.Client
	logger *slog.Logger
}

var _ Source = (*Queue)(nil)

func NewWorker(source Source, marker Marker, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Worker{
		source: source,
		marker: marker,
		cfg:    cfg,
		client: resty.New().SetTimeout(cfg.Timeout),
		logger: logger.With("component", "forwarder"),
	}
}

// Run 每個間隔處理一批，直到 ctx 結束。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("forwarder started", "url", w.cfg.URL, "interval", w.cfg.Interval.String())
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		w.Flush(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("forwarder stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Flush 處理最多 BatchSize 筆項目，回傳成功送出的數量。
func (w *Worker) Flush(ctx context.Context) int {
	sent := 0
	for i := 0; i < w.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			return sent
		}
		item, ok, err := w.source.Pop(ctx)
		if err != nil {
			w.logger.Error("forward queue pop failed", "error", err)
			return sent
		}
		if !ok {
			return sent
		}
		if w.deliver(ctx, item) {
			sent++
		}
	}
	return sent
}

func (w *Worker) deliver(ctx context.Context, item record.ForwardItem) bool {
	err := w.post(ctx, item)
	if err == nil {
		if err := w.source.Sent(ctx); err != nil {
			w.logger.Warn("forward sent counter failed", "error", err)
		}
		if w.marker != nil {
			if err := w.marker.MarkForwarded(ctx, item.RoundID); err != nil {
				w.logger.Warn("mark forwarded failed", "roundID", item.RoundID, "error", err)
			}
		}
		w.logger.Info("round forwarded", "roundID", item.RoundID, "attempts", item.Attempts+1)
		return true
	}

	item.Attempts++
	item.LastError = err.Error()
	if item.Attempts >= w.cfg.MaxRetries {
		w.logger.Error("forward gave up", "roundID", item.RoundID, "attempts", item.Attempts, "error", err)
		if ferr := w.source.Fail(ctx, item); ferr != nil {
			w.logger.Error("move to failed queue failed", "roundID", item.RoundID, "error", ferr)
		}
		return false
	}
	w.logger.Warn("forward failed, will retry", "roundID", item.RoundID, "attempts", item.Attempts, "error", err)
	if rerr := w.source.Requeue(ctx, item); rerr != nil {
		w.logger.Error("requeue forward item failed", "roundID", item.RoundID, "error", rerr)
	}
	return false
}

func (w *Worker) post(ctx context.Context, item record.ForwardItem) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody([]byte(item.Payload)).
		Post(w.cfg.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("http %d", resp.StatusCode())
	}
	return nil
}
