package round

import (
	"errors"
	"fmt"
	"time"

	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
)

// State 是一局的生命週期狀態。
type State string

const (
	StateIdle    State = "IDLE"
	StateBetting State = "BETTING"
	StateDealing State = "DEALING"
	StateSettled State = "SETTLED"
)

// Source 標示結算使用的牌來自哪個管道。
type Source string

const (
	SourceLocal    Source = "local"    // 讀卡機掃描
	SourceUpstream Source = "upstream" // 上游累積牌字串
)

var (
	// ErrStateConflict 表示在目前狀態下不允許此操作，狀態不會被修改。
	ErrStateConflict = errors.New("round: state conflict")
	// ErrRoundFull 表示六個 slot 都已經有牌。
	ErrRoundFull = errors.New("round: all slots filled")
	// ErrAlreadySettled 表示這局已經結算過 (或另一個管道已經取得結算權)。
	ErrAlreadySettled = errors.New("round: already settled")
)

func conflict(op string, s State, paused bool) error {
	if paused {
		return fmt.Errorf("%w: cannot %s while %s (paused)", ErrStateConflict, op, s)
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrStateConflict, op, s)
}

// Round 是結算的單位。Settled 只會從 false 變成 true。
type Round struct {
	ID       string           `json:"gameId"`
	TableNo  int              `json:"tableNo"`
	RoundNo  int              `json:"roundNo"`
	ShoeIdx  int              `json:"shoeIdx"`
	Cards    baccarat.Hand    `json:"cards"`
	Settled  bool             `json:"settled"`
	Result   *baccarat.Result `json:"result,omitempty"`
	Source   Source           `json:"source,omitempty"`
	OpenedAt time.Time        `json:"openedAt"`
}

func (r *Round) clone() Round {
	out := *r
	out.Cards = r.Cards.Clone()
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return out
}

// Placement 是一張已放入 slot 的牌，以及它對應的上游位置編號。
type Placement struct {
	Slot    baccarat.Slot `json:"slot"`
	Card    baccarat.Card `json:"card"`
	IntPosi int           `json:"intposi"`
}

// Settlement 是結算當下的快照。Partial 表示以不完整的牌組結算 (上游已宣告結束)。
type Settlement struct {
	Round   Round           `json:"round"`
	Result  baccarat.Result `json:"result"`
	Source  Source          `json:"source"`
	Partial bool            `json:"partial,omitempty"`
	// Deferred 為 true 代表下注期間的牌尚未送往上游，停止下注時才會補送。
	Deferred bool `json:"-"`
}

// Latch 保證每一局最多只結算一次。Claim 必須是同步的 check-and-set。
type Latch interface {
	Reset(roundID string)
	Claim(roundID string, src Source) bool
}

// Positions 將掃描 slot 轉成上游的 intposi。
// playerDraws 只影響第五張牌：閒家補牌時為 3，否則為莊家補牌 6。
type Positions interface {
	IntPosi(slot baccarat.Slot, playerDraws bool) int
}

// DefaultPositions 是讀卡機標準接線下的對應表。
type DefaultPositions struct{}

func (DefaultPositions) IntPosi(slot baccarat.Slot, playerDraws bool) int {
	switch slot {
	case baccarat.PlayerRight:
		return 2
	case baccarat.BankerRight:
		return 5
	case baccarat.PlayerLeft:
		return 1
	case baccarat.BankerLeft:
		return 4
	case baccarat.Fifth:
		if playerDraws {
			return 3
		}
		return 6
	case baccarat.Sixth:
		return 6
	}
	return 0
}

// Hooks 是狀態機對外的同步通知，回呼內不可執行 I/O。
type Hooks struct {
	OnRoundOpened  func(r Round)
	OnCardAdded    func(p Placement, buffered bool)
	OnStateChanged func(from, to State)
	// OnFinishing 在結算結果確定後、任何非同步持久化之前同步觸發。
	OnFinishing func(s Settlement)
}
