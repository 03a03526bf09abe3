package codemap

import "github.com/arnold17091984/dealersys/internal/domain/baccarat"

// defaultCodes 是出廠讀卡機的代碼表。部分牌 (d9, c3, c6, c8, c10) 沒有出廠代碼，需要在 codemap.yaml 補上。
var defaultCodes = map[string]string{
	// Spades
	"24580": "sA", "19204": "s2", "06404": "s3", "14596": "s4", "20228": "s5", "19716": "s6", "18436": "s7",
	"06916": "s8", "57604": "s9", "27652": "s10", "49924": "sJ", "06660": "sQ", "15108": "sK",
	// Diamonds
	"19972": "dA", "11012": "d2", "13316": "d3", "09220": "d4", "08452": "d5", "12548": "d6", "28164": "d7",
	"35076": "d8", "22788": "d10", "36356": "dJ", "37380": "dQ", "20740": "dK",
	// Hearts
	"45316": "hA", "12804": "h2", "56324": "h3", "07172": "h4", "08196": "h5", "33540": "h6", "08964": "h7",
	"35844": "h8", "34564": "h9", "02308": "h10", "08708": "hJ", "13828": "hQ", "46084": "hK",
	// Clubs
	"44292": "cA", "23300": "c2", "49156": "c4", "32772": "c5", "10244": "c7", "48132": "c9",
	"05636": "cJ", "15876": "cQ", "23556": "cK",
}

// defaultPositions 是讀卡機標準接線下 slot 與上游 intposi 的對應。
var defaultPositions = [baccarat.SlotCount]Position{
	{Slot: int(baccarat.PlayerRight), Name: baccarat.PlayerRight.String(), IntPosi: 2},
	{Slot: int(baccarat.BankerRight), Name: baccarat.BankerRight.String(), IntPosi: 5},
	{Slot: int(baccarat.PlayerLeft), Name: baccarat.PlayerLeft.String(), IntPosi: 1},
	{Slot: int(baccarat.BankerLeft), Name: baccarat.BankerLeft.String(), IntPosi: 4},
	{Slot: int(baccarat.Fifth), Name: baccarat.Fifth.String(), IntPosi: 3, BankerIntPosi: 6},
	{Slot: int(baccarat.Sixth), Name: baccarat.Sixth.String(), IntPosi: 6},
}
