package baccarat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cardOfValue 回傳一張點數為 v 的牌 (0 以 10 代表)。
func cardOfValue(v int) Card {
	if v == 0 {
		return Card{Suit: Spades, Rank: Ten}
	}
	return Card{Suit: Spades, Rank: Rank(v)}
}

func mustCard(t *testing.T, s Suit, r Rank) Card {
	t.Helper()
	c, err := NewCard(s, r)
	require.NoError(t, err)
	return c
}

func TestEvaluate_PlayerDrawsBankerStands(t *testing.T) {
	var h Hand
	place := func(slot Slot, c Card) { h[slot] = &c }
	place(PlayerLeft, mustCard(t, Diamonds, 2))
	place(PlayerRight, mustCard(t, Hearts, Ace))
	place(BankerLeft, mustCard(t, Spades, 7))
	place(BankerRight, mustCard(t, Hearts, 9))

	req := Required(h)
	assert.True(t, req.Needed)
	assert.Equal(t, ReasonPlayerDraw, req.Reason)

	place(Fifth, mustCard(t, Spades, 5))
	req = Required(h)
	assert.False(t, req.Needed)
	assert.Equal(t, 5, req.Total)

	res, err := Evaluate(h)
	require.NoError(t, err)
	assert.Equal(t, 8, res.PlayerTotal)
	assert.Equal(t, 6, res.BankerTotal)
	assert.Equal(t, WinnerPlayer, res.Winner)
	assert.False(t, res.Natural)
	assert.True(t, res.PlayerDraws)
	assert.False(t, res.BankerDraws)
	assert.Equal(t, 5, res.TotalCards)
}

func TestEvaluate_TieWithoutDraw(t *testing.T) {
	var h Hand
	place := func(slot Slot, c Card) { h[slot] = &c }
	place(PlayerLeft, mustCard(t, Hearts, 6))
	place(PlayerRight, mustCard(t, Hearts, King))
	place(BankerLeft, mustCard(t, Diamonds, 4))
	place(BankerRight, mustCard(t, Diamonds, 2))

	res, err := Evaluate(h)
	require.NoError(t, err)
	assert.Equal(t, 6, res.PlayerTotal)
	assert.Equal(t, 6, res.BankerTotal)
	assert.Equal(t, WinnerTie, res.Winner)
	assert.False(t, res.Natural)
	assert.False(t, res.PlayerDraws)
	assert.False(t, res.BankerDraws)
	assert.Equal(t, 4, res.TotalCards)
}

func TestEvaluate_ScanOrderIsNotSeatOrder(t *testing.T) {
	// slot0 + slot2 屬於閒家，slot1 + slot3 屬於莊家
	h := HandOf(cardOfValue(4), cardOfValue(9), cardOfValue(5), cardOfValue(0))
	res, err := Evaluate(h)
	require.NoError(t, err)
	assert.Equal(t, 9, res.PlayerTotal)
	assert.Equal(t, 9, res.BankerTotal)
	assert.True(t, res.Natural)
}

func TestEvaluate_Incomplete(t *testing.T) {
	h := HandOf(cardOfValue(1), cardOfValue(2), cardOfValue(3))
	_, err := Evaluate(h)
	assert.ErrorIs(t, err, ErrIncomplete)

	// 前四張齊全但閒家需要補牌
	h = HandOf(cardOfValue(1), cardOfValue(2), cardOfValue(3), cardOfValue(4))
	_, err = Evaluate(h)
	assert.ErrorIs(t, err, ErrIncomplete)

	res, err := Preview(h)
	require.NoError(t, err)
	assert.Equal(t, 4, res.PlayerTotal)
	assert.True(t, res.PlayerDraws)
	assert.Equal(t, 4, res.TotalCards)
}

func TestEvaluate_NaturalNeverDraws(t *testing.T) {
	for a := 0; a < 10; a++ {
		for b := 0; b < 10; b++ {
			for c := 0; c < 10; c++ {
				for d := 0; d < 10; d++ {
					h := HandOf(cardOfValue(a), cardOfValue(b), cardOfValue(c), cardOfValue(d))
					p, bk := (a+c)%10, (b+d)%10
					if p < 8 && bk < 8 {
						continue
					}
					res, err := Evaluate(h)
					require.NoError(t, err)
					assert.True(t, res.Natural)
					assert.Equal(t, 4, res.TotalCards)
					assert.False(t, res.PlayerDraws)
					assert.False(t, res.BankerDraws)
				}
			}
		}
	}
}

func TestBankerDraws_Table(t *testing.T) {
	expected := map[int][]int{
		0: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		1: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		2: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		3: {0, 1, 2, 3, 4, 5, 6, 7, 9},
		4: {2, 3, 4, 5, 6, 7},
		5: {4, 5, 6, 7},
		6: {6, 7},
		7: {},
		8: {},
		9: {},
	}
	for banker := 0; banker <= 9; banker++ {
		draws := make(map[int]bool)
		for _, v := range expected[banker] {
			draws[v] = true
		}
		for third := 0; third <= 9; third++ {
			assert.Equal(t, draws[third], BankerDraws(banker, third), "banker=%d playerThird=%d", banker, third)
		}
	}
	assert.False(t, BankerDraws(3, 8))
	assert.True(t, BankerDraws(3, 7))
}

func TestRequired_AgreesWithEvaluate(t *testing.T) {
	var sequences, checked int
	for a := 0; a < 10; a++ {
		for b := 0; b < 10; b++ {
			for c := 0; c < 10; c++ {
				for d := 0; d < 10; d++ {
					for e := 0; e < 10; e++ {
						for f := 0; f < 10; f++ {
							values := []int{a, b, c, d, e, f}
							sequences++
							var h Hand
							// 每個前綴 (0 到 6 張) 都要檢查，六張是一定結束的終局
							for i := 0; i <= len(values); i++ {
								req := Required(h)
								res, err := Evaluate(h)
								if req.Needed {
									if i == len(values) {
										t.Fatalf("sequence %v: Required still needs cards after six", values)
									}
									if !errors.Is(err, ErrIncomplete) {
										t.Fatalf("prefix %v: Required needs more cards but Evaluate returned %+v", values[:i], res)
									}
									card := cardOfValue(values[i])
									h[i] = &card
									continue
								}
								if err != nil {
									t.Fatalf("prefix %v: Required complete but Evaluate failed: %v", values[:i], err)
								}
								if req.Total != res.TotalCards {
									t.Fatalf("prefix %v: Required total %d != Evaluate total %d", values[:i], req.Total, res.TotalCards)
								}
								checked++
								break
							}
						}
					}
				}
			}
		}
	}
	assert.Equal(t, sequences, checked)
}

func TestWinPos(t *testing.T) {
	for _, w := range []Winner{WinnerPlayer, WinnerBanker, WinnerTie} {
		back, ok := WinnerFromPos(w.WinPos())
		require.True(t, ok)
		assert.Equal(t, w, back)
	}
	_, ok := WinnerFromPos(0)
	assert.False(t, ok)
}

func TestFifthOwner(t *testing.T) {
	assert.True(t, FifthOwnerIsPlayer(HandOf(cardOfValue(1), cardOfValue(9), cardOfValue(2), cardOfValue(7))))
	assert.False(t, FifthOwnerIsPlayer(HandOf(cardOfValue(3), cardOfValue(1), cardOfValue(3), cardOfValue(2))))
	assert.False(t, FifthOwnerIsPlayer(HandOf(cardOfValue(1), cardOfValue(1))))
}
