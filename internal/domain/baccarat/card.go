package baccarat

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Suit 是牌的花色，使用單一字母表示 (c/d/h/s)。
type Suit string

const (
	Clubs    Suit = "c"
	Diamonds Suit = "d"
	Hearts   Suit = "h"
	Spades   Suit = "s"
)

// Valid 回報花色是否為四種合法花色之一。
func (s Suit) Valid() bool {
	switch s {
	case Clubs, Diamonds, Hearts, Spades:
		return true
	}
	return false
}

// Symbol 回傳花色符號，用於日誌與畫面顯示。
func (s Suit) Symbol() string {
	switch s {
	case Clubs:
		return "♣"
	case Diamonds:
		return "♦"
	case Hearts:
		return "♥"
	case Spades:
		return "♠"
	}
	return "?"
}

// Rank 是牌面點數，Ace=1 ... King=13。
type Rank int

const (
	Ace   Rank = 1
	Ten   Rank = 10
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
)

// Valid 回報點數是否落在 A..K。
func (r Rank) Valid() bool {
	return r >= Ace && r <= King
}

func (r Rank) String() string {
	switch r {
	case Ace:
		return "A"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	}
	return strconv.Itoa(int(r))
}

// ParseRank 解析 "A", "2".."10", "J", "Q", "K"。
func ParseRank(s string) (Rank, error) {
	switch s {
	case "A", "a":
		return Ace, nil
	case "J", "j":
		return Jack, nil
	case "Q", "q":
		return Queen, nil
	case "K", "k":
		return King, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 2 || n > 10 {
		return 0, fmt.Errorf("%w: rank %q", ErrDecode, s)
	}
	return Rank(n), nil
}

// Card 是一張不可變的牌。Code 是讀卡機的原始代碼，由上游字串解析出來的牌則為空。
type Card struct {
	Suit Suit
	Rank Rank
	Code string
}

// NewCard 建立一張牌並檢查花色與點數。
func NewCard(suit Suit, rank Rank) (Card, error) {
	if !suit.Valid() {
		return Card{}, fmt.Errorf("%w: suit %q", ErrDecode, suit)
	}
	if !rank.Valid() {
		return Card{}, fmt.Errorf("%w: rank %d", ErrDecode, rank)
	}
	return Card{Suit: suit, Rank: rank}, nil
}

// WithCode 回傳帶有讀卡機代碼的副本。
func (c Card) WithCode(code string) Card {
	c.Code = code
	return c
}

// Value 回傳百家樂點數：A=1，2~9 為面值，10/J/Q/K 為 0。
func (c Card) Value() int {
	if c.Rank >= Ten {
		return 0
	}
	return int(c.Rank)
}

// Index 回傳上游伺服器使用的 cardIdx (花色順序 s,h,d,c，每種 13 張)。
func (c Card) Index() int {
	var suitIdx int
	switch c.Suit {
	case Spades:
		suitIdx = 0
	case Hearts:
		suitIdx = 1
	case Diamonds:
		suitIdx = 2
	case Clubs:
		suitIdx = 3
	default:
		return 0
	}
	if !c.Rank.Valid() {
		return 0
	}
	return suitIdx*13 + int(c.Rank) - 1
}

func (c Card) String() string {
	return c.Suit.Symbol() + c.Rank.String()
}

type cardJSON struct {
	Suit  Suit   `json:"suit"`
	Rank  string `json:"rank"`
	Value int    `json:"value"`
	Code  string `json:"rfidCode"`
}

// MarshalJSON 輸出與前端及轉發系統相容的格式。
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(cardJSON{Suit: c.Suit, Rank: c.Rank.String(), Value: c.Value(), Code: c.Code})
}

// UnmarshalJSON 讀回 MarshalJSON 的格式，value 欄位由點數重新計算。
func (c *Card) UnmarshalJSON(data []byte) error {
	var v cardJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	rank, err := ParseRank(v.Rank)
	if err != nil {
		return err
	}
	card, err := NewCard(v.Suit, rank)
	if err != nil {
		return err
	}
	*c = card.WithCode(v.Code)
	return nil
}

// Decoder 將讀卡機代碼轉換成牌。找不到代碼時回傳 false，不視為錯誤。
type Decoder interface {
	Resolve(code string) (Card, bool)
}
