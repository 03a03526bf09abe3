package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/arnold17091984/dealersys/internal/application/record"
)

// Store 是 record.Store 的記憶體實作，用於本地開發與測試。
type Store struct {
	mu     sync.RWMutex
	rounds map[string]*record.RoundRecord
	order  []string
	scans  map[string][]record.CardScan
	nextID int64
}

var _ record.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		rounds: make(map[string]*record.RoundRecord),
		scans:  make(map[string][]record.CardScan),
	}
}

func (s *Store) OpenRound(_ context.Context, rec record.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[rec.RoundID]; ok {
		return nil
	}
	s.rounds[rec.RoundID] = &rec
	s.order = append(s.order, rec.RoundID)
	return nil
}

func (s *Store) SaveSettlement(_ context.Context, rec record.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rounds[rec.RoundID]
	if !ok {
		s.order = append(s.order, rec.RoundID)
	} else {
		rec.Forwarded = existing.Forwarded
		if !existing.StartedAt.IsZero() {
			rec.StartedAt = existing.StartedAt
		}
	}
	s.rounds[rec.RoundID] = &rec
	return nil
}

func (s *Store) AuditScan(_ context.Context, scan record.CardScan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	scan.ID = s.nextID
	s.scans[scan.RoundID] = append(s.scans[scan.RoundID], scan)
	return nil
}

func (s *Store) MarkForwarded(_ context.Context, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rounds[roundID]; ok {
		rec.Forwarded = true
	}
	return nil
}

func (s *Store) RecentRounds(_ context.Context, limit int) ([]record.RoundRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.RoundRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.rounds[s.order[i]])
	}
	return out, nil
}

func (s *Store) RoundScans(_ context.Context, roundID string) ([]record.CardScan, error) {
	s.mu.RLock()
	scans := append([]record.CardScan(nil), s.scans[roundID]...)
	s.mu.RUnlock()

	sort.SliceStable(scans, func(i, j int) bool { return scans[i].Slot < scans[j].Slot })
	return scans, nil
}

func (s *Store) CountRounds(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rounds)), nil
}
