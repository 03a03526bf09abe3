package round

import (
	"time"

	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/google/uuid"
)

// Machine 管理單一桌台一局的生命週期：IDLE → BETTING → DEALING → SETTLED → IDLE。
//
// Machine 不是 goroutine-safe 的，呼叫端 (reconcile.Reconciler) 必須以桌台為單位序列化所有操作。
// 所有方法都是同步的，不執行任何 I/O；需要送往上游的牌以回傳值交給呼叫端處理。
type Machine struct {
	tableNo   int
	state     State
	paused    bool
	round     *Round
	buffer    []Placement // 下注期間掃到的牌，停止下注後才送往上游
	latch     Latch
	positions Positions
	hooks     Hooks
	now       func() time.Time
	newID     func() string
}

// NewMachine 創建一個停在 IDLE 的狀態機。latch 與 positions 可為 nil。
func NewMachine(tableNo int, latch Latch, positions Positions, hooks Hooks) *Machine {
	if positions == nil {
		positions = DefaultPositions{}
	}
	return &Machine{
		tableNo:   tableNo,
		state:     StateIdle,
		latch:     latch,
		positions: positions,
		hooks:     hooks,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// AddOutcome 是 AddCard 的結果。
type AddOutcome struct {
	Placement Placement
	// Relay 為 true 時呼叫端應立即將此牌送往上游；下注期間為 false (已暫存)。
	Relay bool
	// Settlement 在這張牌讓牌局完成時不為 nil。
	Settlement *Settlement
}

// StopOutcome 是 StopBetting 的結果。
type StopOutcome struct {
	// Flushed 是下注期間暫存的牌，依掃描順序排列。
	Flushed []Placement
	// FinishOwed 為 true 表示這局在下注期間就已完成，補送牌之後還要通知上游結束。
	FinishOwed bool
}

// View 是狀態機的唯讀快照。
type View struct {
	State       State                `json:"state"`
	Paused      bool                 `json:"paused"`
	Round       *Round               `json:"round,omitempty"`
	Buffered    int                  `json:"buffered"`
	Requirement baccarat.Requirement `json:"requirement"`
}

// State 回傳目前狀態。
func (m *Machine) State() State {
	return m.state
}

// RoundID 回傳目前這局的 ID，沒有牌局時為空字串。
func (m *Machine) RoundID() string {
	if m.round == nil {
		return ""
	}
	return m.round.ID
}

// Snapshot 回傳目前狀態與牌局的深拷貝。
func (m *Machine) Snapshot() View {
	v := View{State: m.state, Paused: m.paused, Buffered: len(m.buffer)}
	if m.round != nil {
		r := m.round.clone()
		v.Round = &r
		v.Requirement = baccarat.Required(m.round.Cards)
	}
	return v
}

// StartRound 開始新的一局，只允許在 IDLE 呼叫。
func (m *Machine) StartRound() (Round, error) {
	if m.state != StateIdle || m.paused {
		return Round{}, conflict("start round", m.state, m.paused)
	}
	m.openRound()
	m.setState(StateBetting)
	return m.round.clone(), nil
}

// SyncBetting 對應上游推送的下注狀態 (B)。
// 若本地已經在同一局的下注期間 (例如由本地 StartRound 開局)，只更新局號與靴號；否則開新局。
func (m *Machine) SyncBetting(roundNo, shoeIdx int) (opened bool) {
	m.paused = false
	if m.state == StateBetting && m.round != nil && (m.round.RoundNo == 0 || m.round.RoundNo == roundNo) {
		m.setNumbers(roundNo, shoeIdx)
		return false
	}
	m.openRound()
	m.setNumbers(roundNo, shoeIdx)
	m.setState(StateBetting)
	return true
}

// StopBetting 結束下注期間並回傳暫存的牌。
// 若牌局在下注期間就已完成 (SETTLED 但仍有暫存牌)，只補送暫存牌，狀態不變。
func (m *Machine) StopBetting() (StopOutcome, error) {
	if m.paused {
		return StopOutcome{}, conflict("stop betting", m.state, true)
	}
	switch {
	case m.state == StateBetting:
		m.setState(StateDealing)
		return StopOutcome{Flushed: m.flush()}, nil
	case m.state == StateSettled && len(m.buffer) > 0:
		return StopOutcome{Flushed: m.flush(), FinishOwed: true}, nil
	}
	return StopOutcome{}, conflict("stop betting", m.state, false)
}

// SyncDealing 對應上游推送的開牌狀態 (D)。中途加入 (IDLE) 時會開一局空的牌局以接收上游的牌。
func (m *Machine) SyncDealing(roundNo, shoeIdx int) StopOutcome {
	m.paused = false
	switch m.state {
	case StateIdle:
		m.openRound()
		m.setNumbers(roundNo, shoeIdx)
		m.setState(StateDealing)
		return StopOutcome{}
	case StateBetting:
		m.setNumbers(roundNo, shoeIdx)
		m.setState(StateDealing)
		return StopOutcome{Flushed: m.flush()}
	case StateSettled:
		if len(m.buffer) > 0 {
			return StopOutcome{Flushed: m.flush(), FinishOwed: true}
		}
	}
	return StopOutcome{}
}

// AddCard 將掃描到的牌放入下一個空的 slot。
// 下注期間的牌會被暫存；牌局完成時 (至少四張且不需補牌) 自動結算。
func (m *Machine) AddCard(card baccarat.Card) (AddOutcome, error) {
	if (m.state != StateBetting && m.state != StateDealing) || m.paused || m.round == nil {
		return AddOutcome{}, conflict("add card", m.state, m.paused)
	}
	slot, ok := m.round.Cards.NextFree()
	if !ok {
		return AddOutcome{}, ErrRoundFull
	}

	p := Placement{
		Slot:    slot,
		Card:    card,
		IntPosi: m.positions.IntPosi(slot, baccarat.FifthOwnerIsPlayer(m.round.Cards)),
	}
	c := card
	m.round.Cards[slot] = &c

	out := AddOutcome{Placement: p}
	buffered := m.state == StateBetting
	if buffered {
		m.buffer = append(m.buffer, p)
	} else {
		out.Relay = true
	}
	if m.hooks.OnCardAdded != nil {
		m.hooks.OnCardAdded(p, buffered)
	}

	if req := baccarat.Required(m.round.Cards); !req.Needed && m.round.Cards.Count() >= 4 {
		s, err := m.settle(SourceLocal, false)
		if err != nil {
			// 另一個管道已經結算，這張牌只作為紀錄
			return out, nil
		}
		out.Settlement = &s
	}
	return out, nil
}

// PlaceCard 把上游回報的牌放到指定 slot，已有牌的 slot 不會被覆蓋。
// 此路徑只用於重建畫面，不會送往上游，也不會觸發自動結算。
func (m *Machine) PlaceCard(slot baccarat.Slot, card baccarat.Card) (bool, error) {
	if m.round == nil || (m.state != StateBetting && m.state != StateDealing) {
		return false, conflict("place card", m.state, m.paused)
	}
	if !slot.Valid() {
		return false, nil
	}
	if m.round.Cards[slot] != nil {
		return false, nil
	}
	c := card
	m.round.Cards[slot] = &c
	return true, nil
}

// LocalCards 回傳目前牌局的牌 (深拷貝)；沒有牌局時回傳空牌組。
func (m *Machine) LocalCards() baccarat.Hand {
	if m.round == nil {
		return baccarat.Hand{}
	}
	return m.round.Cards.Clone()
}

// Settle 以本地的牌手動結算，需在 DEALING 且前四張牌齊全。
// BETTING 只能經由暫存牌湊齊後的自動結算進入 SETTLED。
func (m *Machine) Settle() (Settlement, error) {
	if m.state != StateDealing || m.paused || m.round == nil {
		return Settlement{}, conflict("settle", m.state, m.paused)
	}
	if !m.round.Cards.Initial() {
		return Settlement{}, baccarat.ErrIncomplete
	}
	return m.settle(SourceLocal, baccarat.Required(m.round.Cards).Needed)
}

// SettleWith 依上游宣告的結束 (E2) 結算。src 為 SourceUpstream 時以 h 取代本地的牌。
// 沒有牌局時 (中途加入) 會先開一局。
func (m *Machine) SettleWith(h baccarat.Hand, src Source, roundNo, shoeIdx int) (Settlement, error) {
	if m.state == StateSettled {
		return Settlement{}, ErrAlreadySettled
	}
	if m.round == nil {
		m.openRound()
	}
	m.setNumbers(roundNo, shoeIdx)
	// 上游已宣告結束，暫存的牌不再送出
	m.buffer = nil
	if src == SourceUpstream {
		m.round.Cards = h.Clone()
	}
	if !m.round.Cards.Initial() {
		return Settlement{}, baccarat.ErrIncomplete
	}
	m.paused = false
	return m.settle(src, baccarat.Required(m.round.Cards).Needed)
}

// NextRound 丟棄已結算的牌局並回到 IDLE。
func (m *Machine) NextRound() error {
	if m.state != StateSettled {
		return conflict("next round", m.state, m.paused)
	}
	m.round = nil
	m.buffer = nil
	m.setState(StateIdle)
	return nil
}

// Shuffle 不論目前狀態都回到 IDLE 並丟棄牌局。
func (m *Machine) Shuffle() {
	m.round = nil
	m.buffer = nil
	m.paused = false
	m.setState(StateIdle)
}

// Pause 凍結牌局但保留資料。
func (m *Machine) Pause() {
	m.paused = true
}

// Resume 解除凍結。
func (m *Machine) Resume() {
	m.paused = false
}

// Paused 回報是否處於暫停。
func (m *Machine) Paused() bool {
	return m.paused
}

func (m *Machine) settle(src Source, partial bool) (Settlement, error) {
	r := m.round
	if r.Settled {
		return Settlement{}, ErrAlreadySettled
	}
	// 取得結算權與設定旗標必須在同一個同步區段內完成
	if m.latch != nil && !m.latch.Claim(r.ID, src) {
		return Settlement{}, ErrAlreadySettled
	}

	var (
		res baccarat.Result
		err error
	)
	if partial {
		res, err = baccarat.Preview(r.Cards)
	} else {
		res, err = baccarat.Evaluate(r.Cards)
	}
	if err != nil {
		return Settlement{}, err
	}

	r.Settled = true
	r.Result = &res
	r.Source = src
	m.setState(StateSettled)

	s := Settlement{
		Round:    r.clone(),
		Result:   res,
		Source:   src,
		Partial:  partial,
		Deferred: len(m.buffer) > 0,
	}
	if m.hooks.OnFinishing != nil {
		m.hooks.OnFinishing(s)
	}
	return s, nil
}

func (m *Machine) openRound() {
	m.round = &Round{
		ID:       m.newID(),
		TableNo:  m.tableNo,
		OpenedAt: m.now(),
	}
	m.buffer = nil
	if m.latch != nil {
		m.latch.Reset(m.round.ID)
	}
	if m.hooks.OnRoundOpened != nil {
		m.hooks.OnRoundOpened(m.round.clone())
	}
}

func (m *Machine) setNumbers(roundNo, shoeIdx int) {
	if m.round == nil {
		return
	}
	if roundNo > 0 {
		m.round.RoundNo = roundNo
	}
	if shoeIdx > 0 {
		m.round.ShoeIdx = shoeIdx
	}
}

func (m *Machine) flush() []Placement {
	out := m.buffer
	m.buffer = nil
	return out
}

func (m *Machine) setState(to State) {
	from := m.state
	m.state = to
	if from != to && m.hooks.OnStateChanged != nil {
		m.hooks.OnStateChanged(from, to)
	}
}
