package reconcile

import (
	"sync"

	"github.com/arnold17091984/dealersys/internal/domain/round"
)

// Latch 記錄目前這一局是否已經有管道取得結算權。
// 每次開新局都會 Reset，Claim 是同步的 check-and-set。
type Latch struct {
	mu      sync.Mutex
	roundID string
	claimed bool
	source  round.Source
}

var _ round.Latch = (*Latch)(nil)

func (l *Latch) Reset(roundID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roundID = roundID
	l.claimed = false
	l.source = ""
}

// Claim 只有在 roundID 是目前這一局且尚未被取得時回傳 true。
func (l *Latch) Claim(roundID string, src round.Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimed || roundID != l.roundID {
		return false
	}
	l.claimed = true
	l.source = src
	return true
}

// Claimed 回報目前這一局是否已結算，以及由哪個管道結算。
func (l *Latch) Claimed() (bool, round.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimed, l.source
}
