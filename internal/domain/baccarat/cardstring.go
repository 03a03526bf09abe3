package baccarat

import (
	"fmt"
	"strconv"
	"strings"
)

// 上游累積牌字串：每 3 個字元一張牌，第一個字元是花色數字，後兩位是點數代碼。
// 花色 0 代表空位，必須跳過；1=梅花 2=方塊 3=紅心 4=黑桃；點數 01=A ... 13=K。
const groupLen = 3

var suitDigits = map[byte]Suit{'1': Clubs, '2': Diamonds, '3': Hearts, '4': Spades}

// ParseCardString 解析上游的累積牌字串。
func ParseCardString(s string) ([]Card, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s)%groupLen != 0 {
		return nil, fmt.Errorf("%w: card string %q length %d", ErrDecode, s, len(s))
	}
	cards := make([]Card, 0, len(s)/groupLen)
	for i := 0; i+groupLen <= len(s); i += groupLen {
		if s[i] == '0' {
			continue
		}
		suit, ok := suitDigits[s[i]]
		if !ok {
			return nil, fmt.Errorf("%w: suit digit %q in %q", ErrDecode, s[i], s)
		}
		code := s[i+1 : i+groupLen]
		rank, err := strconv.Atoi(code)
		if err != nil || !isDigits(code) || !Rank(rank).Valid() {
			return nil, fmt.Errorf("%w: rank code %q in %q", ErrDecode, code, s)
		}
		cards = append(cards, Card{Suit: suit, Rank: Rank(rank)})
	}
	return cards, nil
}

// FormatCardString 是 ParseCardString 的反向轉換。
func FormatCardString(cards []Card) string {
	var b strings.Builder
	for _, c := range cards {
		var digit byte = '0'
		for d, s := range suitDigits {
			if s == c.Suit {
				digit = d
			}
		}
		b.WriteByte(digit)
		fmt.Fprintf(&b, "%02d", int(c.Rank))
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
