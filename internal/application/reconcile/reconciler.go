package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/protocol"
	"github.com/arnold17091984/dealersys/internal/domain/round"
)

// Mode 決定本地讀卡機是否為牌的權威來源。
type Mode string

const (
	ModeActive  Mode = "active"  // 本地掃牌並主動送往上游
	ModePassive Mode = "passive" // 只監看上游
)

// ParseMode 驗證設定檔中的模式字串。
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeActive, ModePassive:
		return Mode(s), nil
	case "":
		return ModeActive, nil
	}
	return "", fmt.Errorf("invalid mode %q (want active or passive)", s)
}

// Outcome 是一次操作的決策結果，交由呼叫端在釋放鎖之後執行 I/O。
type Outcome struct {
	// Relay 是需要依序送往上游的牌。
	Relay []round.Placement
	// FinishUpstream 為 true 時呼叫端在送完 Relay 後要通知上游結束這局。
	FinishUpstream bool
	// Settlement 在這次操作結算了一局時不為 nil。
	Settlement *round.Settlement
	// Opened 是這次操作新開的牌局。
	Opened []round.Round
	// Events 是要推送給下游的事件，依發生順序排列。
	Events []protocol.Event
	// Placed 是這次由讀卡機放入 slot 的牌 (含下注期間暫存的牌)，用於掃牌稽核。
	Placed []Placed
	// Confirmed 表示上游的結束或開牌只是確認已結算的結果。
	Confirmed bool
}

// Placed 是一張放入 slot 的牌以及它所屬的牌局與來源。
type Placed struct {
	RoundID string
	round.Placement
	Source round.Source
}

// Reconciler 把本地掃牌與上游推播兩條管道合併到同一個狀態機。
// 每張桌台一個 Reconciler，所有操作在同一把鎖內完成，不執行任何 I/O。
type Reconciler struct {
	mu        sync.Mutex
	tableNo   int
	mode      Mode
	machine   *round.Machine
	latch     *Latch
	positions round.Positions
	logger    *slog.Logger

	pending     Outcome // 狀態機回呼期間累積的事件
	scanned     int     // 本局由讀卡機掃入的牌數
	lastRoundNo int     // 最近一次結算的上游局號
}

// New 建立一個桌台的 Reconciler。positions 為 nil 時使用預設對應表。
func New(logger *slog.Logger, tableNo int, mode Mode, positions round.Positions) *Reconciler {
	if positions == nil {
		positions = round.DefaultPositions{}
	}
	r := &Reconciler{
		tableNo:   tableNo,
		mode:      mode,
		latch:     &Latch{},
		positions: positions,
		logger:    logger.With("component", "reconciler", "table", tableNo),
	}
	r.machine = round.NewMachine(tableNo, r.latch, positions, round.Hooks{
		OnRoundOpened:  r.onRoundOpened,
		OnCardAdded:    r.onCardAdded,
		OnStateChanged: r.onStateChanged,
		OnFinishing:    r.onFinishing,
	})
	return r
}

// Mode 回傳此桌台的運作模式。
func (r *Reconciler) Mode() Mode {
	return r.mode
}

// StartRound 由操作員開始新的一局。
func (r *Reconciler) StartRound() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.machine.StartRound(); err != nil {
		return r.drain(), err
	}
	return r.drain(), nil
}

// StopBetting 結束下注期間，回傳暫存的牌讓呼叫端補送。
func (r *Reconciler) StopBetting() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stop, err := r.machine.StopBetting()
	if err != nil {
		return r.drain(), err
	}
	out := r.drain()
	out.Relay = stop.Flushed
	out.FinishUpstream = stop.FinishOwed
	return out, nil
}

// LocalCard 加入一張讀卡機掃到的牌。
func (r *Reconciler) LocalCard(card baccarat.Card) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	added, err := r.machine.AddCard(card)
	if err != nil {
		return r.drain(), err
	}
	r.scanned++
	out := r.drain()
	if added.Relay {
		out.Relay = []round.Placement{added.Placement}
	}
	if added.Settlement != nil {
		out.Settlement = added.Settlement
		// 下注期間就完成的牌局要等停止下注補送牌之後才能通知上游
		out.FinishUpstream = !added.Settlement.Deferred
	}
	return out, nil
}

// Finish 由操作員以目前的牌手動結算。
func (r *Reconciler) Finish() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.machine.Settle()
	if err != nil {
		return r.drain(), err
	}
	out := r.drain()
	out.Settlement = &s
	out.FinishUpstream = !s.Deferred
	return out, nil
}

func (r *Reconciler) NextRound() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.machine.NextRound()
	return r.drain(), err
}

func (r *Reconciler) Shuffle() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machine.Shuffle()
	r.lastRoundNo = 0
	return r.drain()
}

func (r *Reconciler) Pause() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machine.Pause()
	r.emitState()
	return r.drain()
}

func (r *Reconciler) Resume() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machine.Resume()
	r.emitState()
	return r.drain()
}

// Snapshot 回傳目前狀態機的快照。
func (r *Reconciler) Snapshot() round.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Snapshot()
}

// UpstreamStatus 處理上游的狀態推播 (p=2)。
func (r *Reconciler) UpstreamStatus(st protocol.StatusPayload) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upstreamStatus(st)
}

// UpstreamSnapshot 處理中途加入時的桌台快照 (p=1)，重建目前這局的牌但不寫入任何紀錄。
func (r *Reconciler) UpstreamSnapshot(snap protocol.SnapshotPayload) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := snap.Status()
	out, err := r.upstreamStatus(st)
	if err != nil {
		return out, err
	}
	if st.GameStatus != protocol.StatusDealing || r.scanned > 0 {
		return out, nil
	}
	h, err := st.Hand()
	if err != nil {
		return out, err
	}
	r.placeUpstream(h)
	placed := r.drain()
	out.Events = append(out.Events, placed.Events...)
	return out, nil
}

// UpstreamCard 處理上游的單張開牌 (p=3)。
// 本局已有讀卡機掃入的牌時只作為確認；否則依累積牌字串補上尚未出現的牌。
func (r *Reconciler) UpstreamCard(cp protocol.CardPayload) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.machine.State() {
	case round.StateSettled:
		return Outcome{Confirmed: true}, nil
	case round.StateIdle:
		r.machine.SyncDealing(0, 0)
	}
	if r.scanned > 0 {
		r.logger.Debug("upstream card confirmed", "intposi", int(cp.IntPosi), "cardIdx", int(cp.CardIdx))
		out := r.drain()
		out.Confirmed = true
		return out, nil
	}

	h, err := cp.Hand()
	if err != nil {
		return r.drain(), err
	}
	r.placeUpstream(h)
	return r.drain(), nil
}

func (r *Reconciler) upstreamStatus(st protocol.StatusPayload) (Outcome, error) {
	roundNo, shoe := int(st.GameRound), int(st.GameIdx)

	switch st.GameStatus {
	case protocol.StatusBetting:
		if r.machine.State() == round.StateSettled && roundNo != 0 && roundNo == r.lastRoundNo {
			return Outcome{Confirmed: true}, nil
		}
		r.machine.SyncBetting(roundNo, shoe)
		return r.drain(), nil

	case protocol.StatusDealing:
		stop := r.machine.SyncDealing(roundNo, shoe)
		out := r.drain()
		out.Relay = stop.Flushed
		out.FinishUpstream = stop.FinishOwed
		return out, nil

	case protocol.StatusResult:
		return r.upstreamResult(st)

	case protocol.StatusShuffle:
		r.machine.Shuffle()
		r.lastRoundNo = 0
		return r.drain(), nil

	case protocol.StatusPause, protocol.StatusMaintenance:
		if !r.machine.Paused() {
			r.machine.Pause()
			r.emitState()
		}
		return r.drain(), nil
	}

	r.logger.Warn("unknown game status", "gameStatus", st.GameStatus)
	return Outcome{}, nil
}

// upstreamResult 處理 E2。已結算的局只比對勝方；否則選擇本地或上游的牌來結算。
func (r *Reconciler) upstreamResult(st protocol.StatusPayload) (Outcome, error) {
	roundNo := int(st.GameRound)
	if r.machine.State() == round.StateSettled || (roundNo != 0 && roundNo == r.lastRoundNo) {
		r.confirm(st)
		out := r.drain()
		out.Confirmed = true
		return out, nil
	}

	local := r.machine.LocalCards()
	upstream, perr := st.Hand()
	if perr != nil {
		r.logger.Warn("upstream result cards undecodable", "error", perr)
	}

	var (
		h      baccarat.Hand
		source round.Source
	)
	switch {
	case r.mode == ModeActive && local.Initial():
		h, source = local, round.SourceLocal
		if baccarat.Required(local).Needed && perr == nil && !baccarat.Required(upstream).Needed {
			h, source = upstream, round.SourceUpstream
		}
	case perr == nil && upstream.Initial():
		h, source = upstream, round.SourceUpstream
	default:
		r.logger.Warn("upstream result without enough cards", "local", local.Count(), "upstream", upstream.Count())
		if perr != nil {
			return r.drain(), perr
		}
		return r.drain(), baccarat.ErrIncomplete
	}

	s, err := r.machine.SettleWith(h, source, roundNo, int(st.GameIdx))
	if err != nil {
		if errors.Is(err, round.ErrAlreadySettled) {
			out := r.drain()
			out.Confirmed = true
			return out, nil
		}
		return r.drain(), err
	}
	if s.Partial {
		r.logger.Warn("settled with incomplete local hand", "roundID", s.Round.ID)
	}
	if pos := int(st.WinPos); pos != 0 && pos != s.Result.Winner.WinPos() {
		r.logger.Warn("winner mismatch with upstream", "roundID", s.Round.ID, "local", s.Result.Winner, "winPos", pos)
	}
	out := r.drain()
	out.Settlement = &s
	return out, nil
}

func (r *Reconciler) confirm(st protocol.StatusPayload) {
	v := r.machine.Snapshot()
	if v.Round == nil || v.Round.Result == nil {
		return
	}
	if pos := int(st.WinPos); pos != 0 && pos != v.Round.Result.Winner.WinPos() {
		r.logger.Warn("upstream result disagrees with settled round",
			"roundID", v.Round.ID, "source", v.Round.Source, "winner", v.Round.Result.Winner, "winPos", pos)
		return
	}
	r.logger.Debug("upstream result confirmed", "roundID", v.Round.ID, "source", v.Round.Source)
}

// placeUpstream 把上游重建的牌放進尚未填入的 slot。
func (r *Reconciler) placeUpstream(h baccarat.Hand) {
	for i, card := range h {
		if card == nil {
			continue
		}
		slot := baccarat.Slot(i)
		ok, err := r.machine.PlaceCard(slot, *card)
		if err != nil || !ok {
			continue
		}
		p := round.Placement{
			Slot:    slot,
			Card:    *card,
			IntPosi: r.positions.IntPosi(slot, baccarat.FifthOwnerIsPlayer(h)),
		}
		r.pending.Events = append(r.pending.Events, r.event(protocol.EventCardAdded, "", cardAdded{Placement: p, Source: round.SourceUpstream}))
	}
}

type cardAdded struct {
	round.Placement
	Source   round.Source `json:"source"`
	Buffered bool         `json:"buffered,omitempty"`
}

func (r *Reconciler) onRoundOpened(rd round.Round) {
	r.scanned = 0
	r.pending.Opened = append(r.pending.Opened, rd)
}

func (r *Reconciler) onCardAdded(p round.Placement, buffered bool) {
	r.pending.Placed = append(r.pending.Placed, Placed{RoundID: r.machine.RoundID(), Placement: p, Source: round.SourceLocal})
	r.pending.Events = append(r.pending.Events, r.event(protocol.EventCardAdded, "", cardAdded{Placement: p, Source: round.SourceLocal, Buffered: buffered}))
}

func (r *Reconciler) onStateChanged(_, to round.State) {
	r.pending.Events = append(r.pending.Events, r.event(protocol.EventRoundState, string(to), r.machine.Snapshot()))
}

func (r *Reconciler) onFinishing(s round.Settlement) {
	r.lastRoundNo = s.Round.RoundNo
	r.pending.Events = append(r.pending.Events, r.event(protocol.EventRoundFinishing, "", s))
}

func (r *Reconciler) emitState() {
	v := r.machine.Snapshot()
	r.pending.Events = append(r.pending.Events, r.event(protocol.EventRoundState, string(v.State), v))
}

func (r *Reconciler) event(t protocol.EventType, status string, payload any) protocol.Event {
	return protocol.Event{Type: t, Table: r.tableNo, Status: status, Payload: payload}
}

// drain 取出回呼期間累積的事件並清空暫存區。
func (r *Reconciler) drain() Outcome {
	out := r.pending
	r.pending = Outcome{}
	return out
}
