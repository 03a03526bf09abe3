package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/reconcile"
	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/arnold17091984/dealersys/internal/domain/round"
	"github.com/shopspring/decimal"
)

const effectTimeout = 15 * time.Second

var (
	// ErrPassiveMode 表示監看模式下不允許操作員指令。
	ErrPassiveMode = errors.New("table: blocked in passive mode")
	// ErrPersistence 表示結算結果無法寫入；結算本身不會被回復。
	ErrPersistence = errors.New("table: persistence failure")
)

// Commander 定義了上游遊戲伺服器的荷官指令介面。
type Commander interface {
	TableInfo(ctx context.Context, table int) (json.RawMessage, error)
	Start(ctx context.Context, table int) error
	Stop(ctx context.Context, table int) error
	// SendCard 送出一張牌，上游依 intposi 放到閒/莊的位置。
	SendCard(ctx context.Context, table int, p round.Placement) error
	Finish(ctx context.Context, table int) error
	Shuffle(ctx context.Context, table int) error
	SetLast(ctx context.Context, table int) error
	Pause(ctx context.Context, table int) error
	Restart(ctx context.Context, table int) error
}

// Recorder 定義了牌局紀錄的寫入介面，由 record.Service 實作。
type Recorder interface {
	OpenRound(ctx context.Context, rd round.Round) error
	AuditScan(roundID string, p round.Placement, src round.Source)
	Settle(ctx context.Context, st round.Settlement) (record.RoundRecord, error)
}

// Notifier 推送事件給綁定該桌台的下游連線，由 bridge.Service 實作。
type Notifier interface {
	Publish(table int, e protocol.Event)
}

// Status 是桌台目前的狀態，供操作介面查詢。
type Status struct {
	round.View
	TableNo    int               `json:"tableNo"`
	Mode       reconcile.Mode    `json:"mode"`
	BetSeconds int               `json:"betSeconds"`
	Limits     []decimal.Decimal `json:"limits,omitempty"`
	UserCount  int               `json:"userCount"`
}

// Service 是單一桌台的流程：Reconciler 決定，Service 負責所有 I/O。
type Service struct {
	tableNo  int
	rec      *reconcile.Reconciler
	cmd      Commander
	recorder Recorder
	notify   Notifier
	decoder  baccarat.Decoder
	logger   *slog.Logger

	// effects 讓同一桌的決策與副作用依序執行，送往上游的牌才不會亂序。
	effects sync.Mutex

	infoMu     sync.RWMutex
	betSeconds int
	limits     []decimal.Decimal
	userCount  int
}

// NewService 建立一個桌台服務。
func NewService(logger *slog.Logger, tableNo int, deps Deps) *Service {
	logger = logger.With("component", "table_service", "table", tableNo)
	return &Service{
		tableNo:  tableNo,
		rec:      reconcile.New(logger, tableNo, deps.Mode, deps.Positions),
		cmd:      deps.Commander,
		recorder: deps.Recorder,
		notify:   deps.Notifier,
		decoder:  deps.Decoder,
		logger:   logger,
	}
}

func (s *Service) TableNo() int {
	return s.tableNo
}

// State 回傳目前的桌台狀態。
func (s *Service) State() Status {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return Status{
		View:       s.rec.Snapshot(),
		TableNo:    s.tableNo,
		Mode:       s.rec.Mode(),
		BetSeconds: s.betSeconds,
		Limits:     append([]decimal.Decimal(nil), s.limits...),
		UserCount:  s.userCount,
	}
}

// TableInfo 向上游查詢桌台資訊，監看模式也允許。
func (s *Service) TableInfo(ctx context.Context) (json.RawMessage, error) {
	return s.cmd.TableInfo(ctx, s.tableNo)
}

// --- 操作員指令 ---

// StartRound 開始新的一局並通知上游開放下注。
func (s *Service) StartRound(ctx context.Context) error {
	return s.operate(ctx, "start", s.rec.StartRound, s.cmd.Start)
}

// StopBetting 停止下注，並補送下注期間暫存的牌。
func (s *Service) StopBetting(ctx context.Context) error {
	return s.operate(ctx, "stop", s.rec.StopBetting, s.cmd.Stop)
}

// Scan 解析讀卡機代碼並加入目前這局。
func (s *Service) Scan(ctx context.Context, code string) error {
	if err := s.guard(); err != nil {
		return err
	}
	card, ok := s.decoder.Resolve(code)
	if !ok {
		s.logger.Warn("unknown card code", "code", code)
		s.notify.Publish(s.tableNo, protocol.Event{
			Type:    protocol.EventScanRejected,
			Table:   s.tableNo,
			Error:   "unknown card code",
			Payload: map[string]string{"code": code},
		})
		return fmt.Errorf("%w: unknown card code %q", baccarat.ErrDecode, code)
	}

	s.effects.Lock()
	defer s.effects.Unlock()
	out, err := s.rec.LocalCard(card)
	if err != nil {
		s.logger.Warn("scan rejected", "card", card.String(), "error", err)
		s.notify.Publish(s.tableNo, protocol.Event{Type: protocol.EventScanRejected, Table: s.tableNo, Error: err.Error()})
		return err
	}
	return s.apply(ctx, out)
}

// Finish 以目前的牌手動結算。
func (s *Service) Finish(ctx context.Context) error {
	return s.operate(ctx, "finish", s.rec.Finish, nil)
}

// NextRound 清除已結算的牌局回到 IDLE。
func (s *Service) NextRound(ctx context.Context) error {
	return s.operate(ctx, "next", s.rec.NextRound, nil)
}

// Shuffle 換靴並通知上游。
func (s *Service) Shuffle(ctx context.Context) error {
	return s.operate(ctx, "shuffle", func() (reconcile.Outcome, error) {
		return s.rec.Shuffle(), nil
	}, s.cmd.Shuffle)
}

// SetLast 通知上游這是本靴最後一局。
func (s *Service) SetLast(ctx context.Context) error {
	return s.operate(ctx, "setlast", func() (reconcile.Outcome, error) {
		return reconcile.Outcome{}, nil
	}, s.cmd.SetLast)
}

func (s *Service) Pause(ctx context.Context) error {
	return s.operate(ctx, "pause", func() (reconcile.Outcome, error) {
		return s.rec.Pause(), nil
	}, s.cmd.Pause)
}

// Resume 解除暫停並通知上游重新開始。
func (s *Service) Resume(ctx context.Context) error {
	return s.operate(ctx, "resume", func() (reconcile.Outcome, error) {
		return s.rec.Resume(), nil
	}, s.cmd.Restart)
}

// operate 執行一個操作員指令：先由 Reconciler 決定，再送出上游指令，最後處理副作用。
func (s *Service) operate(ctx context.Context, op string, decide func() (reconcile.Outcome, error), command func(context.Context, int) error) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.effects.Lock()
	defer s.effects.Unlock()

	out, err := decide()
	if err != nil {
		s.logger.Warn("operation rejected", "op", op, "error", err)
		s.publish(out.Events)
		return err
	}
	if command != nil {
		if err := command(ctx, s.tableNo); err != nil {
			s.logger.Error("upstream command failed", "op", op, "error", err)
			// 本地已經開局，紀錄仍要建立，之後的結算才有對應的 rounds 資料
			s.openRecords(ctx, out.Opened)
			s.publishError(err)
			s.publish(out.Events)
			return err
		}
	}
	return s.apply(ctx, out)
}

func (s *Service) guard() error {
	if s.rec.Mode() == reconcile.ModePassive {
		return ErrPassiveMode
	}
	return nil
}

// --- 上游訊息 ---

// HandleSnapshot 處理中途加入時的桌台快照。
func (s *Service) HandleSnapshot(snap protocol.SnapshotPayload) {
	s.infoMu.Lock()
	s.betSeconds = snap.Status().BetSeconds()
	s.limits = []decimal.Decimal{snap.Limit1, snap.Limit2, snap.Limit3}
	s.userCount = int(snap.UserCount)
	s.infoMu.Unlock()

	s.upstream("snapshot", func() (reconcile.Outcome, error) {
		return s.rec.UpstreamSnapshot(snap)
	})
}

func (s *Service) HandleStatus(st protocol.StatusPayload) {
	if st.GameStatus == protocol.StatusBetting {
		s.infoMu.Lock()
		s.betSeconds = st.BetSeconds()
		s.infoMu.Unlock()
	}
	s.upstream(string(st.GameStatus), func() (reconcile.Outcome, error) {
		return s.rec.UpstreamStatus(st)
	})
}

func (s *Service) HandleCard(cp protocol.CardPayload) {
	s.upstream("card", func() (reconcile.Outcome, error) {
		return s.rec.UpstreamCard(cp)
	})
}

func (s *Service) upstream(kind string, decide func() (reconcile.Outcome, error)) {
	s.effects.Lock()
	defer s.effects.Unlock()

	out, err := decide()
	if err != nil {
		s.logger.Warn("upstream message not applied", "kind", kind, "error", err)
		s.publish(out.Events)
		return
	}
	if err := s.apply(context.Background(), out); err != nil {
		s.logger.Warn("upstream message side effects failed", "kind", kind, "error", err)
	}
}

// --- 副作用 ---

// apply 依序執行決策結果的副作用：
// 開局紀錄、推送事件、送牌、通知上游結束、寫入結算、推送結果。
// 已經做出的決策不隨呼叫端取消，只受 effectTimeout 限制。
func (s *Service) apply(ctx context.Context, out reconcile.Outcome) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
	defer cancel()
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	s.openRecords(ctx, out.Opened)
	for _, p := range out.Placed {
		s.recorder.AuditScan(p.RoundID, p.Placement, p.Source)
	}
	s.publish(out.Events)

	for _, p := range out.Relay {
		if err := s.cmd.SendCard(ctx, s.tableNo, p); err != nil {
			s.logger.Error("send card upstream failed", "slot", p.Slot.String(), "intposi", p.IntPosi, "error", err)
			s.publishError(err)
			keep(err)
		}
	}
	if out.FinishUpstream {
		if err := s.cmd.Finish(ctx, s.tableNo); err != nil {
			s.logger.Error("finish upstream failed", "error", err)
			s.publishError(err)
			keep(err)
		}
	}
	if out.Settlement != nil {
		if err := s.settle(ctx, *out.Settlement); err != nil {
			keep(err)
		}
	}
	return firstErr
}

func (s *Service) openRecords(ctx context.Context, rounds []round.Round) {
	if len(rounds) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
	defer cancel()
	for _, rd := range rounds {
		if err := s.recorder.OpenRound(ctx, rd); err != nil {
			s.publishPersistence(rd.ID, err)
		}
	}
}

func (s *Service) settle(ctx context.Context, st round.Settlement) error {
	rec, err := s.recorder.Settle(ctx, st)
	if err != nil {
		s.publishPersistence(st.Round.ID, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info("round settled", "roundID", st.Round.ID, "winner", st.Result.Winner, "source", st.Source, "partial", st.Partial)
	s.notify.Publish(s.tableNo, protocol.Event{Type: protocol.EventRoundResult, Table: s.tableNo, Payload: rec})
	return nil
}

func (s *Service) publish(events []protocol.Event) {
	for _, e := range events {
		s.notify.Publish(s.tableNo, e)
	}
}

func (s *Service) publishError(err error) {
	s.notify.Publish(s.tableNo, protocol.Event{Type: protocol.EventBridgeError, Table: s.tableNo, Error: err.Error()})
}

func (s *Service) publishPersistence(roundID string, err error) {
	s.logger.Error("persistence failure", "roundID", roundID, "error", err)
	s.notify.Publish(s.tableNo, protocol.Event{
		Type:    protocol.EventPersistenceError,
		Table:   s.tableNo,
		Error:   err.Error(),
		Payload: map[string]string{"gameId": roundID},
	})
}
