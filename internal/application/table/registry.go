package table

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/internal/application/reconcile"
	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/arnold17091984/dealersys/internal/domain/round"
)

// Deps 是所有桌台共用的依賴。
type Deps struct {
	Mode      reconcile.Mode
	Positions round.Positions
	Decoder   baccarat.Decoder
	Commander Commander
	Recorder  Recorder
	Notifier  Notifier
}

// Registry 依桌號保存桌台服務，並把上游訊息分派到對應的桌台。
// 每張桌台有自己的鎖，桌台之間不會互相阻塞。
type Registry struct {
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	tables map[int]*Service
}

var _ bridge.FrameHandler = (*Registry)(nil)

func NewRegistry(logger *slog.Logger, deps Deps) *Registry {
	return &Registry{
		deps:   deps,
		logger: logger,
		tables: make(map[int]*Service),
	}
}

// Table 回傳指定桌號的服務，第一次使用時建立。
func (r *Registry) Table(tableNo int) (*Service, error) {
	if tableNo <= 0 {
		return nil, fmt.Errorf("invalid table %d", tableNo)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.tables[tableNo]
	if !ok {
		svc = NewService(r.logger, tableNo, r.deps)
		r.tables[tableNo] = svc
	}
	return svc, nil
}

// Tables 回傳目前已建立的桌號，由小到大。
func (r *Registry) Tables() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.tables))
	for n := range r.tables {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (r *Registry) OnSnapshot(tableNo int, snap protocol.SnapshotPayload) {
	if svc, err := r.Table(tableNo); err == nil {
		svc.HandleSnapshot(snap)
	}
}

func (r *Registry) OnStatus(tableNo int, st protocol.StatusPayload) {
	if svc, err := r.Table(tableNo); err == nil {
		svc.HandleStatus(st)
	}
}

func (r *Registry) OnCard(tableNo int, cp protocol.CardPayload) {
	if svc, err := r.Table(tableNo); err == nil {
		svc.HandleCard(cp)
	}
}
