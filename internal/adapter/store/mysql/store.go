package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/arnold17091984/dealersys/internal/domain/baccarat"
	"github.com/arnold17091984/dealersys/internal/domain/round"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoundModel 對應資料庫的 rounds 表，每局一筆。
type RoundModel struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	GameID      string     `gorm:"column:game_id;size:64;uniqueIndex"`
	TableNo     int        `gorm:"column:table_no;index"`
	RoundNo     int        `gorm:"column:round_no"`
	ShoeIdx     int        `gorm:"column:shoe_idx"`
	PlayerCards string     `gorm:"column:player_cards;type:json"`
	BankerCards string     `gorm:"column:banker_cards;type:json"`
	PlayerScore int        `gorm:"column:player_score"`
	BankerScore int        `gorm:"column:banker_score"`
	Winner      string     `gorm:"column:winner;size:8"`
	IsNatural   bool       `gorm:"column:is_natural"`
	Source      string     `gorm:"column:source;size:16"`
	Partial     bool       `gorm:"column:partial"`
	Status      string     `gorm:"column:status;size:16"`
	Forwarded   bool       `gorm:"column:forwarded"`
	StartedAt   time.Time  `gorm:"column:started_at;index"`
	EndedAt     *time.Time `gorm:"column:ended_at"`
}

func (RoundModel) TableName() string {
	return "rounds"
}

// CardScanModel 對應資料庫的 card_scans 表，用於稽核每張放入的牌。
type CardScanModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	GameID    string    `gorm:"column:game_id;size:64;index"`
	Position  int       `gorm:"column:position"`
	RFIDCode  string    `gorm:"column:rfid_code;size:32"`
	Suit      string    `gorm:"column:suit;size:1"`
	Rank      string    `gorm:"column:rank;size:2"`
	Value     int       `gorm:"column:value"`
	Source    string    `gorm:"column:source;size:16"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (CardScanModel) TableName() string {
	return "card_scans"
}

// settlementColumns 是結算時覆寫的欄位；started_at 與 forwarded 保留開局時的值。
var settlementColumns = []string{
	"table_no", "round_no", "shoe_idx", "player_cards", "banker_cards",
	"player_score", "banker_score", "winner", "is_natural", "source",
	"partial", "status", "ended_at",
}

// Store 實現了 record.Store 介面，把牌局紀錄寫入 MySQL。
type Store struct {
	db *gorm.DB
}

var _ record.Store = (*Store)(nil)

// Open 以 DSN 連線 MySQL。
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// NewStore 建立 Store 並確保資料表存在。
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&RoundModel{}, &CardScanModel{}); err != nil {
		return nil, fmt.Errorf("migrate round tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) OpenRound(ctx context.Context, rec record.RoundRecord) error {
	m, err := toRoundModel(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

func (s *Store) SaveSettlement(ctx context.Context, rec record.RoundRecord) error {
	m, err := toRoundModel(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns(settlementColumns),
	}).Create(&m).Error
}

func (s *Store) AuditScan(ctx context.Context, scan record.CardScan) error {
	m := toCardScanModel(scan)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) MarkForwarded(ctx context.Context, roundID string) error {
	return s.db.WithContext(ctx).Model(&RoundModel{}).Where("game_id = ?", roundID).Update("forwarded", true).Error
}

func (s *Store) RecentRounds(ctx context.Context, limit int) ([]record.RoundRecord, error) {
	var models []RoundModel
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]record.RoundRecord, 0, len(models))
	for _, m := range models {
		rec, err := fromRoundModel(m)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) RoundScans(ctx context.Context, roundID string) ([]record.CardScan, error) {
	var models []CardScanModel
	err := s.db.WithContext(ctx).Where("game_id = ?", roundID).Order("position ASC").Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	scans := make([]record.CardScan, 0, len(models))
	for _, m := range models {
		scan, err := fromCardScanModel(m)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, nil
}

func (s *Store) CountRounds(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RoundModel{}).Count(&n).Error
	return n, err
}

// --- 轉換 ---

func toRoundModel(rec record.RoundRecord) (RoundModel, error) {
	player, err := encodeCards(rec.PlayerCards)
	if err != nil {
		return RoundModel{}, err
	}
	banker, err := encodeCards(rec.BankerCards)
	if err != nil {
		return RoundModel{}, err
	}
	return RoundModel{
		GameID:      rec.RoundID,
		TableNo:     rec.TableNo,
		RoundNo:     rec.RoundNo,
		ShoeIdx:     rec.ShoeIdx,
		PlayerCards: player,
		BankerCards: banker,
		PlayerScore: rec.PlayerScore,
		BankerScore: rec.BankerScore,
		Winner:      string(rec.Winner),
		IsNatural:   rec.Natural,
		Source:      string(rec.Source),
		Partial:     rec.Partial,
		Status:      string(rec.Status),
		Forwarded:   rec.Forwarded,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
	}, nil
}

func fromRoundModel(m RoundModel) (record.RoundRecord, error) {
	var player, banker []baccarat.Card
	if err := decodeCards(m.PlayerCards, &player); err != nil {
		return record.RoundRecord{}, fmt.Errorf("round %s player cards: %w", m.GameID, err)
	}
	if err := decodeCards(m.BankerCards, &banker); err != nil {
		return record.RoundRecord{}, fmt.Errorf("round %s banker cards: %w", m.GameID, err)
	}
	return record.RoundRecord{
		RoundID:     m.GameID,
		TableNo:     m.TableNo,
		RoundNo:     m.RoundNo,
		ShoeIdx:     m.ShoeIdx,
		PlayerCards: player,
		BankerCards: banker,
		PlayerScore: m.PlayerScore,
		BankerScore: m.BankerScore,
		Winner:      baccarat.Winner(m.Winner),
		Natural:     m.IsNatural,
		Source:      round.Source(m.Source),
		Partial:     m.Partial,
		Status:      record.RoundStatus(m.Status),
		Forwarded:   m.Forwarded,
		StartedAt:   m.StartedAt,
		EndedAt:     m.EndedAt,
	}, nil
}

func toCardScanModel(scan record.CardScan) CardScanModel {
	return CardScanModel{
		GameID:    scan.RoundID,
		Position:  int(scan.Slot),
		RFIDCode:  scan.Card.Code,
		Suit:      string(scan.Card.Suit),
		Rank:      scan.Card.Rank.String(),
		Value:     scan.Card.Value(),
		Source:    string(scan.Source),
		CreatedAt: scan.ScannedAt,
	}
}

func fromCardScanModel(m CardScanModel) (record.CardScan, error) {
	rank, err := baccarat.ParseRank(m.Rank)
	if err != nil {
		return record.CardScan{}, err
	}
	card, err := baccarat.NewCard(baccarat.Suit(m.Suit), rank)
	if err != nil {
		return record.CardScan{}, err
	}
	return record.CardScan{
		ID:        m.ID,
		RoundID:   m.GameID,
		Slot:      baccarat.Slot(m.Position),
		Card:      card.WithCode(m.RFIDCode),
		Source:    round.Source(m.Source),
		ScannedAt: m.CreatedAt,
	}, nil
}

func encodeCards(cards []baccarat.Card) (string, error) {
	if cards == nil {
		cards = []baccarat.Card{}
	}
	data, err := json.Marshal(cards)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCards(data string, out *[]baccarat.Card) error {
	if data == "" {
		*out = []baccarat.Card{}
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}
