package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/redis/go-redis/v9"
)

// Queue 是以 Redis list 實作的轉發佇列：LPUSH 進、RPOP 出。
// 超過重試次數的項目移到 <key>:failed，成功次數記在 <key>:sent。
type Queue struct {
	rdb redis.Cmdable
	key string
}

var _ record.Forwarder = (*Queue)(nil)

func NewQueue(rdb redis.Cmdable, key string) *Queue {
	if key == "" {
		key = "dealer:forward"
	}
	return &Queue{rdb: rdb, key: key}
}

func (q *Queue) failedKey() string { return q.key + ":failed" }
func (q *Queue) sentKey() string   { return q.key + ":sent" }

func (q *Queue) Enqueue(ctx context.Context, item record.ForwardItem) error {
	return q.push(ctx, q.key, item)
}

// Pop 取出最早的一筆；佇列為空時 ok 為 false。
func (q *Queue) Pop(ctx context.Context) (item record.ForwardItem, ok bool, err error) {
	data, err := q.rdb.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return record.ForwardItem{}, false, nil
	}
	if err != nil {
		return record.ForwardItem{}, false, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return record.ForwardItem{}, false, fmt.Errorf("decode forward item: %w", err)
	}
	return item, true, nil
}

// Requeue 把失敗的項目放回佇列，排在目前所有項目之後。
func (q *Queue) Requeue(ctx context.Context, item record.ForwardItem) error {
	return q.push(ctx, q.key, item)
}

// Fail 把已用完重試次數的項目移到失敗佇列。
func (q *Queue) Fail(ctx context.Context, item record.ForwardItem) error {
	return q.push(ctx, q.failedKey(), item)
}

func (q *Queue) Sent(ctx context.Context) error {
	return q.rdb.Incr(ctx, q.sentKey()).Err()
}

func (q *Queue) Stats(ctx context.Context) (record.ForwardStats, error) {
	var (
		pending, failed *redis.IntCmd
		sent            *redis.StringCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		pending = p.LLen(ctx, q.key)
		failed = p.LLen(ctx, q.failedKey())
		sent = p.Get(ctx, q.sentKey())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return record.ForwardStats{}, err
	}
	stats := record.ForwardStats{
		Enabled: true,
		Pending: pending.Val(),
		Failed:  failed.Val(),
	}
	if n, err := sent.Int64(); err == nil {
		stats.Sent = n
	}
	return stats, nil
}

func (q *Queue) push(ctx context.Context, key string, item record.ForwardItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode forward item: %w", err)
	}
	return q.rdb.LPush(ctx, key, data).Err()
}

// Disabled 是關閉轉發時使用的佇列，所有項目直接丟棄。
type Disabled struct{}

var _ record.Forwarder = Disabled{}

func (Disabled) Enqueue(context.Context, record.ForwardItem) error { return nil }

func (Disabled) Stats(context.Context) (record.ForwardStats, error) {
	return record.ForwardStats{}, nil
}
