package baccarat

import "errors"

var (
	// ErrIncomplete 表示牌不足以得出結果。
	ErrIncomplete = errors.New("baccarat: hand incomplete")
	// ErrDecode 表示讀卡代碼或上游牌字串無法解析。
	ErrDecode = errors.New("baccarat: decode failure")
)

// Winner 是一局的勝方。
type Winner string

const (
	WinnerPlayer Winner = "PLAYER"
	WinnerBanker Winner = "BANKER"
	WinnerTie    Winner = "TIE"
)

// WinPos 回傳上游 winPos 編碼：1=閒，2=莊，3=和。
func (w Winner) WinPos() int {
	switch w {
	case WinnerPlayer:
		return 1
	case WinnerBanker:
		return 2
	case WinnerTie:
		return 3
	}
	return 0
}

// WinnerFromPos 是 WinPos 的反向轉換。
func WinnerFromPos(pos int) (Winner, bool) {
	switch pos {
	case 1:
		return WinnerPlayer, true
	case 2:
		return WinnerBanker, true
	case 3:
		return WinnerTie, true
	}
	return "", false
}

// Result 是一局的結算結果，完全由牌組推導而來。
type Result struct {
	PlayerTotal int    `json:"playerScore"`
	BankerTotal int    `json:"bankerScore"`
	Winner      Winner `json:"winner"`
	Natural     bool   `json:"isNatural"`
	TotalCards  int    `json:"totalCards"`
	PlayerDraws bool   `json:"playerDraws"`
	BankerDraws bool   `json:"bankerDraws"`
}

// Requirement 描述目前牌組是否還需要更多牌。
type Requirement struct {
	Needed bool   `json:"needed"`
	Total  int    `json:"total"`
	Reason string `json:"reason"`
}

const (
	ReasonInitial         = "initial"
	ReasonNatural         = "natural"
	ReasonPlayerDraw      = "player_draw"
	ReasonBankerDraw      = "banker_draw"
	ReasonBankerStandDraw = "banker_draw_standalone"
	ReasonComplete        = "complete"
)

// BankerDraws 是閒家補牌後的莊家補牌表。
func BankerDraws(bankerTotal, playerThird int) bool {
	switch {
	case bankerTotal <= 2:
		return true
	case bankerTotal == 3:
		return playerThird != 8
	case bankerTotal == 4:
		return playerThird >= 2 && playerThird <= 7
	case bankerTotal == 5:
		return playerThird >= 4 && playerThird <= 7
	case bankerTotal == 6:
		return playerThird == 6 || playerThird == 7
	}
	return false
}

// initialTotals 依掃描順序計算前兩張牌的點數。
// 掃描順序刻意與座位的左右相反：閒 = slot2 + slot0，莊 = slot3 + slot1。
func initialTotals(h Hand) (player, banker int) {
	player = (h[PlayerLeft].Value() + h[PlayerRight].Value()) % 10
	banker = (h[BankerLeft].Value() + h[BankerRight].Value()) % 10
	return player, banker
}

// Required 回報牌組是否還需要補牌，以及這局最終會用到幾張牌。
func Required(h Hand) Requirement {
	if !h.Initial() {
		return Requirement{Needed: true, Total: 4, Reason: ReasonInitial}
	}
	p, b := initialTotals(h)
	if p >= 8 || b >= 8 {
		return Requirement{Total: 4, Reason: ReasonNatural}
	}
	if p <= 5 {
		if h[Fifth] == nil {
			return Requirement{Needed: true, Total: 5, Reason: ReasonPlayerDraw}
		}
		if BankerDraws(b, h[Fifth].Value()) {
			if h[Sixth] == nil {
				return Requirement{Needed: true, Total: 6, Reason: ReasonBankerDraw}
			}
			return Requirement{Total: 6, Reason: ReasonComplete}
		}
		return Requirement{Total: 5, Reason: ReasonComplete}
	}
	if b <= 5 {
		if h[Fifth] == nil {
			return Requirement{Needed: true, Total: 5, Reason: ReasonBankerStandDraw}
		}
		return Requirement{Total: 5, Reason: ReasonComplete}
	}
	return Requirement{Total: 4, Reason: ReasonComplete}
}

// Evaluate 計算完整牌組的結果；任何一張必要的牌缺少時回傳 ErrIncomplete。
func Evaluate(h Hand) (Result, error) {
	if req := Required(h); req.Needed {
		return Result{}, ErrIncomplete
	}
	return Preview(h)
}

// Preview 與 Evaluate 相同，但允許缺少補牌，只要求前四張牌。
// 缺少的補牌不計入點數，TotalCards 只計算實際使用到的牌。
func Preview(h Hand) (Result, error) {
	if !h.Initial() {
		return Result{}, ErrIncomplete
	}
	p, b := initialTotals(h)
	res := Result{TotalCards: 4, Natural: p >= 8 || b >= 8}

	if !res.Natural {
		if p <= 5 {
			res.PlayerDraws = true
			if third := h[Fifth]; third != nil {
				v := third.Value()
				res.TotalCards++
				bankerBefore := b
				p = (p + v) % 10
				if BankerDraws(bankerBefore, v) {
					res.BankerDraws = true
					if h[Sixth] != nil {
						b = (b + h[Sixth].Value()) % 10
						res.TotalCards++
					}
				}
			}
		} else if b <= 5 {
			res.BankerDraws = true
			if h[Fifth] != nil {
				b = (b + h[Fifth].Value()) % 10
				res.TotalCards++
			}
		}
	}

	res.PlayerTotal, res.BankerTotal = p, b
	switch {
	case p > b:
		res.Winner = WinnerPlayer
	case b > p:
		res.Winner = WinnerBanker
	default:
		res.Winner = WinnerTie
	}
	return res, nil
}

// FifthOwnerIsPlayer 回報第五張牌是否為閒家補牌 (前四張必須已就位)。
func FifthOwnerIsPlayer(h Hand) bool {
	if !h.Initial() {
		return false
	}
	p, b := initialTotals(h)
	return p < 8 && b < 8 && p <= 5
}
