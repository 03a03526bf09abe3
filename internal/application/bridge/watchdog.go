package bridge

import (
	"sync"
	"time"

	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/gorilla/websocket"
)

// watchdog 每個間隔送出一次心跳，並計算連續沒有回應的次數。
// 達到上限時通知下游一次 heartbeat_timeout 並停止，不會自行重連。
type watchdog struct {
	sess      *session
	conn      *websocket.Conn
	interval  time.Duration
	maxMisses int

	mu      sync.Mutex
	misses  int
	expired bool
	done    chan struct{}
	once    sync.Once
}

func newWatchdog(sess *session, conn *websocket.Conn, interval time.Duration, maxMisses int) *watchdog {
	return &watchdog{
		sess:      sess,
		conn:      conn,
		interval:  interval,
		maxMisses: maxMisses,
		done:      make(chan struct{}),
	}
}

func (w *watchdog) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if w.tick() {
				return
			}
		}
	}
}

// tick 回傳 true 代表已判定逾時，watchdog 結束。
func (w *watchdog) tick() bool {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return true
	default:
	}
	if w.misses >= w.maxMisses {
		w.expired = true
		misses := w.misses
		w.mu.Unlock()
		w.stop()

		w.sess.logger.Warn("upstream heartbeat timeout", "misses", misses)
		w.sess.broadcast(protocol.Event{Type: protocol.EventHeartbeatTimeout, Table: w.sess.table}.Encode())
		return true
	}
	w.misses++
	w.mu.Unlock()

	if err := w.sess.write(w.conn, protocol.HeartbeatFrame); err != nil {
		w.sess.logger.Warn("send heartbeat failed", "error", err)
	}
	return false
}

// reset 在收到上游的心跳回覆時歸零。
func (w *watchdog) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.misses = 0
}

func (w *watchdog) isExpired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}

func (w *watchdog) stop() {
	w.once.Do(func() { close(w.done) })
}
