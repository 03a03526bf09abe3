package codemap

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/round"
	"github.com/arnold17091984/dealersys/pkg/config"
	"github.com/spf13/viper"
)

var (
	// ErrNotFound 表示代碼或 slot 不存在。
	ErrNotFound = errors.New("codemap: not found")
	// ErrInvalid 表示對應的內容不合法，例如 intposi 超出 1..6。
	ErrInvalid = errors.New("codemap: invalid mapping")
)

// File 是 codemap.yaml 的內容。
type File struct {
	// Codes 是讀卡機代碼到牌的對應，值為花色字母加點數，例如 "sA"、"h10"。
	Codes     map[string]string `mapstructure:"codes"`
	Positions []Position        `mapstructure:"positions"`
}

// Position 是一個掃描 slot 對應的上游 intposi。
// BankerIntPosi 只用於第五張：閒家不補牌時第五張是莊家補牌。
type Position struct {
	Slot          int    `mapstructure:"slot" json:"slot"`
	Name          string `mapstructure:"name" json:"name"`
	IntPosi       int    `mapstructure:"intposi" json:"intposi"`
	BankerIntPosi int    `mapstructure:"bankerIntposi" json:"bankerIntposi,omitempty"`
}

// Entry 是一筆代碼對應。
type Entry struct {
	Code string        `json:"rfidCode"`
	Card baccarat.Card `json:"card"`
}

// Store 保存讀卡機代碼與 slot 對應表，設定檔變更時自動重新載入。
// 實作 baccarat.Decoder 與 round.Positions。
type Store struct {
	logger *slog.Logger

	mu        sync.RWMutex
	codes     map[string]baccarat.Card
	positions [baccarat.SlotCount]Position
	path      string // 空字串代表不寫回檔案
}

var (
	_ baccarat.Decoder = (*Store)(nil)
	_ round.Positions  = (*Store)(nil)
)

// New 建立一個只使用預設對應表的 Store。
func New(logger *slog.Logger) *Store {
	s := &Store{logger: logger.With("component", "codemap")}
	if err := s.apply(&File{}); err != nil {
		panic(err) // 預設表本身有誤
	}
	return s
}

// Open 從 dir/name.yaml 載入對應表並監看變更。檔案沒有任何代碼時使用預設表。
func Open(logger *slog.Logger, dir, name string) (*Store, error) {
	s := &Store{logger: logger.With("component", "codemap")}
	file, v, err := config.Watch(dir, name, s.reload)
	if err != nil {
		return nil, err
	}
	if err := s.apply(file); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.path = v.ConfigFileUsed()
	n := len(s.codes)
	s.mu.Unlock()
	s.logger.Info("card code map loaded", "codes", n, "file", s.path)
	return s, nil
}

func (s *Store) reload(file *File, err error) {
	if err == nil {
		err = s.apply(file)
	}
	if err != nil {
		s.logger.Error("card code map reload rejected, keeping previous mapping", "error", err)
		return
	}
	s.mu.RLock()
	n := len(s.codes)
	s.mu.RUnlock()
	s.logger.Info("card code map reloaded", "codes", n)
}

// apply 驗證整份設定後才替換目前的對應表。
func (s *Store) apply(file *File) error {
	raw := file.Codes
	if len(raw) == 0 {
		raw = defaultCodes
	}
	codes := make(map[string]baccarat.Card, len(raw))
	for code, label := range raw {
		card, err := ParseLabel(label)
		if err != nil {
			return fmt.Errorf("code %s: %w", code, err)
		}
		code = normalize(code)
		codes[code] = card.WithCode(code)
	}

	positions := defaultPositions
	for _, p := range file.Positions {
		if !baccarat.Slot(p.Slot).Valid() {
			return fmt.Errorf("%w: position slot %d out of range", ErrInvalid, p.Slot)
		}
		if p.Name == "" {
			p.Name = baccarat.Slot(p.Slot).String()
		}
		positions[p.Slot] = p
	}

	s.mu.Lock()
	s.codes = codes
	s.positions = positions
	s.mu.Unlock()
	return nil
}

// Resolve 將讀卡機代碼轉換成牌。
func (s *Store) Resolve(code string) (baccarat.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.codes[normalize(code)]
	return card, ok
}

// IntPosi 回傳 slot 對應的上游位置。
func (s *Store) IntPosi(slot baccarat.Slot, playerDraws bool) int {
	if !slot.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.positions[slot]
	if slot == baccarat.Fifth && !playerDraws && p.BankerIntPosi != 0 {
		return p.BankerIntPosi
	}
	return p.IntPosi
}

// Codes 回傳所有代碼對應，依代碼排序。
func (s *Store) Codes() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.codes))
	for code, card := range s.codes {
		out = append(out, Entry{Code: code, Card: card})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Positions 回傳六個 slot 的對應。
func (s *Store) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Position(nil), s.positions[:]...)
}

// Upsert 新增或修改一筆代碼對應並寫回設定檔。
func (s *Store) Upsert(code string, card baccarat.Card) error {
	code = normalize(code)
	if code == "" {
		return fmt.Errorf("%w: empty code", baccarat.ErrDecode)
	}
	if _, err := baccarat.NewCard(card.Suit, card.Rank); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = card.WithCode(code)
	return s.persistLocked()
}

// Delete 刪除一筆代碼對應並寫回設定檔。
func (s *Store) Delete(code string) error {
	code = normalize(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return fmt.Errorf("%w: code %q", ErrNotFound, code)
	}
	delete(s.codes, code)
	return s.persistLocked()
}

// SetPosition 修改一個 slot 的上游位置並寫回設定檔。
func (s *Store) SetPosition(slot baccarat.Slot, intPosi, bankerIntPosi int) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	if intPosi < 1 || intPosi > 6 || bankerIntPosi < 0 || bankerIntPosi > 6 {
		return fmt.Errorf("%w: intposi out of range: %d/%d", ErrInvalid, intPosi, bankerIntPosi)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.positions[slot]
	p.IntPosi = intPosi
	if slot == baccarat.Fifth {
		p.BankerIntPosi = bankerIntPosi
	}
	s.positions[slot] = p
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	codes := make(map[string]string, len(s.codes))
	for code, card := range s.codes {
		codes[code] = Label(card)
	}
	positions := make([]map[string]any, 0, len(s.positions))
	for _, p := range s.positions {
		m := map[string]any{"slot": p.Slot, "name": p.Name, "intposi": p.IntPosi}
		if p.BankerIntPosi != 0 {
			m["bankerIntposi"] = p.BankerIntPosi
		}
		positions = append(positions, m)
	}
	// 另開一個 viper 寫檔，監看中的 viper 不能有 Set 的覆寫值，否則之後手動改檔不會生效。
	w := viper.New()
	w.Set("codes", codes)
	w.Set("positions", positions)
	if err := w.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write card code map: %w", err)
	}
	return nil
}

// ParseLabel 解析 "sA"、"h10"、"cK" 格式的牌。
func ParseLabel(label string) (baccarat.Card, error) {
	label = strings.TrimSpace(label)
	if len(label) < 2 {
		return baccarat.Card{}, fmt.Errorf("%w: card label %q", baccarat.ErrDecode, label)
	}
	rank, err := baccarat.ParseRank(label[1:])
	if err != nil {
		return baccarat.Card{}, err
	}
	return baccarat.NewCard(baccarat.Suit(strings.ToLower(label[:1])), rank)
}

// Label 是 ParseLabel 的反向。
func Label(c baccarat.Card) string {
	return string(c.Suit) + c.Rank.String()
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
