package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/round"
)

const (
	DefaultRecentLimit = 20
	maxRecentLimit     = 200
	auditTimeout       = 5 * time.Second
)

// RoundStatus 是持久化紀錄的狀態。
type RoundStatus string

const (
	StatusOpen     RoundStatus = "open"
	StatusFinished RoundStatus = "finished"
)

// RoundRecord 代表一局的持久化紀錄。
// PlayerCards / BankerCards 依 [左, 右, 補牌] 排列，只包含實際出現的牌。
type RoundRecord struct {
	RoundID     string          `json:"gameId"`
	TableNo     int             `json:"tableNo"`
	RoundNo     int             `json:"roundNo"`
	ShoeIdx     int             `json:"shoeIdx"`
	PlayerCards []baccarat.Card `json:"playerCards"`
	BankerCards []baccarat.Card `json:"bankerCards"`
	PlayerScore int             `json:"playerScore"`
	BankerScore int             `json:"bankerScore"`
	Winner      baccarat.Winner `json:"winner,omitempty"`
	Natural     bool            `json:"isNatural"`
	Source      round.Source    `json:"source,omitempty"`
	Partial     bool            `json:"partial"`
	Status      RoundStatus     `json:"status"`
	Forwarded   bool            `json:"forwarded"`
	StartedAt   time.Time       `json:"startedAt"`
	EndedAt     *time.Time      `json:"endedAt,omitempty"`
}

// CardScan 是一張牌放入 slot 時的稽核紀錄。
type CardScan struct {
	ID        int64         `json:"id"`
	RoundID   string        `json:"gameId"`
	Slot      baccarat.Slot `json:"position"`
	Card      baccarat.Card `json:"card"`
	Source    round.Source  `json:"source"`
	ScannedAt time.Time     `json:"scannedAt"`
}

// ForwardItem 是轉發佇列中的一筆資料。
type ForwardItem struct {
	RoundID   string          `json:"gameId"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	QueuedAt  time.Time       `json:"queuedAt"`
}

// ForwardStats 是轉發佇列的統計。
type ForwardStats struct {
	Enabled     bool  `json:"enabled"`
	Pending     int64 `json:"pending"`
	Sent        int64 `json:"sent"`
	Failed      int64 `json:"failed"`
	TotalRounds int64 `json:"totalGames"`
}

// Store 定義了牌局紀錄的持久化介面。
type Store interface {
	// OpenRound 預先建立一局的紀錄，同一個 RoundID 重複建立時不做任何事。
	OpenRound(ctx context.Context, rec RoundRecord) error
	// SaveSettlement 寫入結算結果；紀錄不存在時直接建立。
	SaveSettlement(ctx context.Context, rec RoundRecord) error
	AuditScan(ctx context.Context, scan CardScan) error
	MarkForwarded(ctx context.Context, roundID string) error
	// RecentRounds 依開局時間由新到舊回傳最多 limit 筆紀錄。
	RecentRounds(ctx context.Context, limit int) ([]RoundRecord, error)
	// RoundScans 依 slot 順序回傳一局的掃牌紀錄。
	RoundScans(ctx context.Context, roundID string) ([]CardScan, error)
	CountRounds(ctx context.Context) (int64, error)
}

// Forwarder 定義了把結算結果轉送到外部系統的佇列介面。
type Forwarder interface {
	Enqueue(ctx context.Context, item ForwardItem) error
	Stats(ctx context.Context) (ForwardStats, error)
}

// Service 負責牌局紀錄的寫入與查詢。
type Service struct {
	store     Store
	forwarder Forwarder
	logger    *slog.Logger
	now       func() time.Time

	audits sync.WaitGroup
}

// NewService 建立一個新的紀錄服務實例。
func NewService(logger *slog.Logger, store Store, forwarder Forwarder) *Service {
	return &Service{
		store:     store,
		forwarder: forwarder,
		logger:    logger.With("component", "record_service"),
		now:       time.Now,
	}
}

// OpenRound 在開局時預先建立紀錄。
func (s *Service) OpenRound(ctx context.Context, rd round.Round) error {
	rec := RoundRecord{
		RoundID:     rd.ID,
		TableNo:     rd.TableNo,
		RoundNo:     rd.RoundNo,
		ShoeIdx:     rd.ShoeIdx,
		PlayerCards: []baccarat.Card{},
		BankerCards: []baccarat.Card{},
		Status:      StatusOpen,
		StartedAt:   rd.OpenedAt,
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.now()
	}
	if err := s.store.OpenRound(ctx, rec); err != nil {
		s.logger.Error("open round record failed", "roundID", rd.ID, "error", err)
		return fmt.Errorf("open round %s: %w", rd.ID, err)
	}
	return nil
}

// AuditScan 非同步寫入掃牌紀錄，不擋住發牌流程；失敗只記錄錯誤。
func (s *Service) AuditScan(roundID string, p round.Placement, src round.Source) {
	scan := CardScan{
		RoundID:   roundID,
		Slot:      p.Slot,
		Card:      p.Card,
		Source:    src,
		ScannedAt: s.now(),
	}
	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := s.store.AuditScan(ctx, scan); err != nil {
			s.logger.Error("card scan audit failed", "roundID", roundID, "slot", p.Slot.String(), "error", err)
		}
	}()
}

// Wait 等待所有進行中的稽核寫入完成。
func (s *Service) Wait() {
	s.audits.Wait()
}

// Settle 寫入結算結果後放入轉發佇列。
// 寫入失敗時回傳錯誤且不轉發；轉發佇列失敗只記錄警告。
func (s *Service) Settle(ctx context.Context, st round.Settlement) (RoundRecord, error) {
	rec := NewRoundRecord(st, s.now())
	if err := s.store.SaveSettlement(ctx, rec); err != nil {
		s.logger.Error("save settlement failed", "roundID", rec.RoundID, "error", err)
		return rec, fmt.Errorf("save settlement %s: %w", rec.RoundID, err)
	}
	s.logger.Info("round recorded",
		"roundID", rec.RoundID, "tableNo", rec.TableNo, "roundNo", rec.RoundNo,
		"winner", rec.Winner, "source", rec.Source)

	payload, err := json.Marshal(newForwardPayload(rec))
	if err != nil {
		s.logger.Error("encode forward payload failed", "roundID", rec.RoundID, "error", err)
		return rec, nil
	}
	item := ForwardItem{RoundID: rec.RoundID, Payload: payload, QueuedAt: s.now()}
	if err := s.forwarder.Enqueue(ctx, item); err != nil {
		s.logger.Warn("enqueue forward failed", "roundID", rec.RoundID, "error", err)
	}
	return rec, nil
}

// MarkForwarded 在轉發成功後更新紀錄。
func (s *Service) MarkForwarded(ctx context.Context, roundID string) error {
	if err := s.store.MarkForwarded(ctx, roundID); err != nil {
		s.logger.Error("mark forwarded failed", "roundID", roundID, "error", err)
		return err
	}
	return nil
}

// RecentRounds 回傳最近的牌局，limit 超出範圍時使用預設值或上限。
func (s *Service) RecentRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}
	records, err := s.store.RecentRounds(ctx, limit)
	if err != nil {
		s.logger.Error("get recent rounds failed", "limit", limit, "error", err)
		return nil, err
	}
	return records, nil
}

func (s *Service) RoundScans(ctx context.Context, roundID string) ([]CardScan, error) {
	scans, err := s.store.RoundScans(ctx, roundID)
	if err != nil {
		s.logger.Error("get round scans failed", "roundID", roundID, "error", err)
		return nil, err
	}
	return scans, nil
}

// ForwardStats 回傳轉發佇列統計以及紀錄總數。
func (s *Service) ForwardStats(ctx context.Context) (ForwardStats, error) {
	stats, err := s.forwarder.Stats(ctx)
	if err != nil {
		s.logger.Error("get forward stats failed", "error", err)
		return ForwardStats{}, err
	}
	total, err := s.store.CountRounds(ctx)
	if err != nil {
		s.logger.Error("count rounds failed", "error", err)
		return ForwardStats{}, err
	}
	stats.TotalRounds = total
	return stats, nil
}

// NewRoundRecord 把結算快照轉成持久化紀錄。
func NewRoundRecord(st round.Settlement, endedAt time.Time) RoundRecord {
	player, banker := baccarat.SideCards(st.Round.Cards, st.Result)
	started := st.Round.OpenedAt
	if started.IsZero() {
		started = endedAt
	}
	return RoundRecord{
		RoundID:     st.Round.ID,
		TableNo:     st.Round.TableNo,
		RoundNo:     st.Round.RoundNo,
		ShoeIdx:     st.Round.ShoeIdx,
		PlayerCards: compact(player),
		BankerCards: compact(banker),
		PlayerScore: st.Result.PlayerTotal,
		BankerScore: st.Result.BankerTotal,
		Winner:      st.Result.Winner,
		Natural:     st.Result.Natural,
		Source:      st.Source,
		Partial:     st.Partial,
		Status:      StatusFinished,
		StartedAt:   started,
		EndedAt:     &endedAt,
	}
}

func compact(side [3]*baccarat.Card) []baccarat.Card {
	out := make([]baccarat.Card, 0, len(side))
	for _, c := range side {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// forwardPayload 是送往外部系統的結算格式。
type forwardPayload struct {
	GameID    string    `json:"gameId"`
	TableNo   int       `json:"tableNo"`
	RoundNo   int       `json:"roundNo"`
	Timestamp time.Time `json:"timestamp"`
	Cards     struct {
		Player []baccarat.Card `json:"player"`
		Banker []baccarat.Card `json:"banker"`
	} `json:"cards"`
	Result struct {
		Winner      baccarat.Winner `json:"winner"`
		PlayerScore int             `json:"playerScore"`
		BankerScore int             `json:"bankerScore"`
		IsNatural   bool            `json:"isNatural"`
	} `json:"result"`
}

func newForwardPayload(rec RoundRecord) forwardPayload {
	var p forwardPayload
	p.GameID = rec.RoundID
	p.TableNo = rec.TableNo
	p.RoundNo = rec.RoundNo
	p.Timestamp = rec.StartedAt
	if rec.EndedAt != nil {
		p.Timestamp = *rec.EndedAt
	}
	p.Cards.Player = rec.PlayerCards
	p.Cards.Banker = rec.BankerCards
	p.Result.Winner = rec.Winner
	p.Result.PlayerScore = rec.PlayerScore
	p.Result.BankerScore = rec.BankerScore
	p.Result.IsNatural = rec.Natural
	return p
}
