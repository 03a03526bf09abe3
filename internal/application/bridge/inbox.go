package bridge

import (
	"context"
	"sync"
)

// inbox 是一張桌台的上游訊息佇列，由單一 goroutine 依到達順序執行。
// 讀取迴圈只負責放入，桌台處理 (上游指令、寫入資料庫) 再慢也不會擋住心跳回覆。
type inbox struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	ready   chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newInbox() *inbox {
	return &inbox{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (b *inbox) push(job func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, job)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-b.ready:
		}
		for {
			b.mu.Lock()
			if b.closed || len(b.pending) == 0 {
				b.mu.Unlock()
				break
			}
			job := b.pending[0]
			b.pending[0] = nil
			b.pending = b.pending[1:]
			b.mu.Unlock()
			job()
		}
	}
}

// close 丟棄尚未處理的訊息並結束 run。
func (b *inbox) close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.pending = nil
		b.mu.Unlock()
		close(b.done)
	})
}
