package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/shopspring/decimal"
)

// FrameType 是上游訊息的 p 欄位。
type FrameType int

const (
	TypeHeartbeat FrameType = 0
	TypeSnapshot  FrameType = 1
	TypeStatus    FrameType = 2
	TypeCard      FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeSnapshot:
		return "table_info"
	case TypeStatus:
		return "status_update"
	case TypeCard:
		return "card_data"
	}
	return "unknown"
}

// Frame 是上游協定的外層結構：{"p": <type>, "c": <payload>}。
type Frame struct {
	P FrameType       `json:"p"`
	C json.RawMessage `json:"c,omitempty"`
}

// HeartbeatFrame 是送往上游的心跳 ping。
var HeartbeatFrame = []byte(`{"p":0,"c":{}}`)

// DecodeFrame 解析一則上游訊息；沒有 p 欄位的 JSON 也視為格式錯誤。
func DecodeFrame(data []byte) (Frame, error) {
	var raw struct {
		P *FrameType      `json:"p"`
		C json.RawMessage `json:"c"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if raw.P == nil {
		return Frame{}, fmt.Errorf("decode frame: missing p")
	}
	return Frame{P: *raw.P, C: raw.C}, nil
}

// Payload 把 c 欄位解析到 v；c 為空或 null 時保留 v 的零值。
func (f Frame) Payload(v any) error {
	if len(f.C) == 0 || bytes.Equal(f.C, []byte("null")) {
		return nil
	}
	return json.Unmarshal(f.C, v)
}

// Int 接受 JSON 數字或數字字串，上游兩種格式都會出現。
type Int int

func (i *Int) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("protocol int %s: %w", data, err)
		}
		n = int(f)
	}
	*i = Int(n)
	return nil
}

// GameStatus 是上游的 gameStatus 欄位。
type GameStatus string

const (
	StatusShuffle     GameStatus = "S"
	StatusBetting     GameStatus = "B"
	StatusDealing     GameStatus = "D"
	StatusResult      GameStatus = "E2"
	StatusMaintenance GameStatus = "T"
	StatusPause       GameStatus = "P"
)

// StatusPayload 是 p=2 的狀態變更內容。
type StatusPayload struct {
	GameStatus GameStatus `json:"gameStatus"`
	GameRound  Int        `json:"gameRound"`
	GameIdx    Int        `json:"gameIdx"`
	BetTime    Int        `json:"betTime"`
	WinPos     Int        `json:"winPos"`
	PlayerCard string     `json:"playerCard"`
	BankerCard string     `json:"bankerCard"`
}

// BetSeconds 把 betTime (10 秒為單位) 轉成秒。
func (s StatusPayload) BetSeconds() int {
	return int(s.BetTime) * 10
}

// Hand 解析累積牌字串並轉回掃描順序。
func (s StatusPayload) Hand() (baccarat.Hand, error) {
	return parseSides(s.PlayerCard, s.BankerCard)
}

// CardPayload 是 p=3 的單張開牌內容。
type CardPayload struct {
	IntPosi    Int        `json:"intposi"`
	CardIdx    Int        `json:"cardIdx"`
	PlayerCard string     `json:"playerCard"`
	BankerCard string     `json:"bankerCard"`
	EndCheck   bool       `json:"bEndCheck"`
	GameStatus GameStatus `json:"gameStatus,omitempty"`
}

// Sides 解析閒/莊累積牌字串。
func (c CardPayload) Sides() (player, banker []baccarat.Card, err error) {
	if player, err = baccarat.ParseCardString(c.PlayerCard); err != nil {
		return nil, nil, err
	}
	if banker, err = baccarat.ParseCardString(c.BankerCard); err != nil {
		return nil, nil, err
	}
	return player, banker, nil
}

// Hand 解析累積牌字串並轉回掃描順序。
func (c CardPayload) Hand() (baccarat.Hand, error) {
	return parseSides(c.PlayerCard, c.BankerCard)
}

// SnapshotPayload 是 p=1 的桌台快照，中途加入時用來同步狀態。
type SnapshotPayload struct {
	TableNo    Int             `json:"tableNo"`
	GameStatus GameStatus      `json:"gameStatus"`
	GameRound  Int             `json:"gameRound"`
	GameIdx    Int             `json:"gameIdx"`
	BetTime    Int             `json:"betTime"`
	IntPosi    Int             `json:"intposi"`
	CardIdx    Int             `json:"cardIdx"`
	PlayerCard string          `json:"playerCard"`
	BankerCard string          `json:"bankerCard"`
	Limit1     decimal.Decimal `json:"limit1"`
	Limit2     decimal.Decimal `json:"limit2"`
	Limit3     decimal.Decimal `json:"limit3"`
	UserCount  Int             `json:"ucnt"`
}

// Status 把快照轉成狀態內容，讓快照與狀態推播走同一條流程。
func (s SnapshotPayload) Status() StatusPayload {
	return StatusPayload{
		GameStatus: s.GameStatus,
		GameRound:  s.GameRound,
		GameIdx:    s.GameIdx,
		BetTime:    s.BetTime,
		PlayerCard: s.PlayerCard,
		BankerCard: s.BankerCard,
	}
}

func parseSides(playerStr, bankerStr string) (baccarat.Hand, error) {
	player, err := baccarat.ParseCardString(playerStr)
	if err != nil {
		return baccarat.Hand{}, err
	}
	banker, err := baccarat.ParseCardString(bankerStr)
	if err != nil {
		return baccarat.Hand{}, err
	}
	return baccarat.ReconstructHand(player, banker), nil
}
