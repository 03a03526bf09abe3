package baccarat

// Slot 是本地掃描順序的位置，與上游的 intposi 編號無關。
type Slot int

const (
	PlayerRight Slot = iota // 閒右
	BankerRight             // 莊右
	PlayerLeft              // 閒左
	BankerLeft              // 莊左
	Fifth                   // 第五張，歸屬由規則決定
	Sixth                   // 第六張，一定是莊家補牌

	SlotCount = 6
)

var slotNames = [SlotCount]string{"P-Right", "B-Right", "P-Left", "B-Left", "5th Card", "6th Card"}

func (s Slot) String() string {
	if s < 0 || s >= SlotCount {
		return "unknown"
	}
	return slotNames[s]
}

// Valid 回報 slot 是否在 0..5。
func (s Slot) Valid() bool {
	return s >= 0 && s < SlotCount
}

// Hand 是依掃描順序索引的牌組，允許稀疏 (nil 代表尚未填入)。
type Hand [SlotCount]*Card

// HandOf 依序從 slot 0 開始填入牌。
func HandOf(cards ...Card) Hand {
	var h Hand
	for i := 0; i < len(cards) && i < SlotCount; i++ {
		c := cards[i]
		h[i] = &c
	}
	return h
}

// Count 回傳非空 slot 的數量。
func (h Hand) Count() int {
	n := 0
	for _, c := range h {
		if c != nil {
			n++
		}
	}
	return n
}

// NextFree 回傳第一個空的 slot；已滿時回傳 false。
func (h Hand) NextFree() (Slot, bool) {
	for i, c := range h {
		if c == nil {
			return Slot(i), true
		}
	}
	return 0, false
}

// Initial 回報前四張牌是否都已就位。
func (h Hand) Initial() bool {
	return h[PlayerRight] != nil && h[BankerRight] != nil && h[PlayerLeft] != nil && h[BankerLeft] != nil
}

// Clone 回傳深拷貝，讓外部持有的快照不會被後續修改影響。
func (h Hand) Clone() Hand {
	var out Hand
	for i, c := range h {
		if c != nil {
			cp := *c
			out[i] = &cp
		}
	}
	return out
}

// Cards 回傳依 slot 順序排列的非空牌。
func (h Hand) Cards() []Card {
	out := make([]Card, 0, SlotCount)
	for _, c := range h {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// ReconstructHand 把上游的閒/莊累積牌 (左、右、補牌) 轉回掃描順序。
// 閒家有第三張時第五張是閒家補牌、第六張是莊家補牌；否則莊家補牌放在第五張。
func ReconstructHand(player, banker []Card) Hand {
	var h Hand
	at := func(cards []Card, i int) *Card {
		if i < len(cards) {
			c := cards[i]
			return &c
		}
		return nil
	}
	h[PlayerRight] = at(player, 1)
	h[BankerRight] = at(banker, 1)
	h[PlayerLeft] = at(player, 0)
	h[BankerLeft] = at(banker, 0)
	if len(player) >= 3 {
		h[Fifth] = at(player, 2)
		h[Sixth] = at(banker, 2)
	} else {
		h[Fifth] = at(banker, 2)
	}
	return h
}

// SideCards 依結算結果把掃描順序轉成閒/莊各自的 [左, 右, 補牌]。
func SideCards(h Hand, res Result) (player, banker [3]*Card) {
	player[0], player[1] = h[PlayerLeft], h[PlayerRight]
	banker[0], banker[1] = h[BankerLeft], h[BankerRight]
	if res.PlayerDraws {
		player[2] = h[Fifth]
		if res.BankerDraws {
			banker[2] = h[Sixth]
		}
	} else if res.BankerDraws {
		banker[2] = h[Fifth]
	}
	return player, banker
}
