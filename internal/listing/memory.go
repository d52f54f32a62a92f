// File: internal/listing/memory.go
package listing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemoryStore is an in-memory implementation of Repository,
// VerifiedRepository and SnapshotRepository. It backs reconciler unit tests
// so the core stays storage-agnostic.
type MemoryStore struct {
	mu         sync.Mutex
	lifecycles map[int64]*Lifecycle
	verified   map[int64]*VerifiedPrice
	snapshots  map[string]*Snapshot
}

var (
	_ Repository         = (*MemoryStore)(nil)
	_ VerifiedRepository = (*MemoryStore)(nil)
	_ SnapshotRepository = (*memorySnapshots)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lifecycles: make(map[int64]*Lifecycle),
		verified:   make(map[int64]*VerifiedPrice),
		snapshots:  make(map[string]*Snapshot),
	}
}

func (s *MemoryStore) AllIDs(_ context.Context) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[int64]struct{}, len(s.lifecycles))
	for id := range s.lifecycles {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *MemoryStore) ActiveIDs(_ context.Context) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[int64]struct{})
	for id, lc := range s.lifecycles {
		if lc.Status == StatusActive {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (s *MemoryStore) ActivePrices(_ context.Context) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make(map[int64]int)
	for id, lc := range s.lifecycles {
		if lc.Status == StatusActive && lc.LastPrice != nil {
			prices[id] = *lc.LastPrice
		}
	}
	return prices, nil
}

func (s *MemoryStore) PhoneCounts(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, lc := range s.lifecycles {
		if lc.Status == StatusActive && lc.PhoneNormalized != nil {
			counts[*lc.PhoneNormalized]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) Fingerprints(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fps := make(map[string]int64)
	for id, lc := range s.lifecycles {
		if lc.FingerprintHash == "" {
			continue
		}
		// Deterministic winner on shared fingerprints: keep the lowest id,
		// which is also the earliest-created identity.
		if existing, ok := fps[lc.FingerprintHash]; !ok || id < existing {
			fps[lc.FingerprintHash] = id
		}
	}
	return fps, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*Lifecycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return nil, common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	clone := *lc
	return &clone, nil
}

func (s *MemoryStore) Create(_ context.Context, lc *Lifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lifecycles[lc.ListingID]; ok {
		return common.ErrConflict.WithDetails(fmt.Sprintf("lifecycle %d already exists", lc.ListingID))
	}
	clone := *lc
	s.lifecycles[lc.ListingID] = &clone
	return nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	lc.LastSeenAt = now
	lc.ConsecutiveMissingDays = 0
	return nil
}

func (s *MemoryStore) RecordPriceChange(_ context.Context, id int64, newPrice int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	price := newPrice
	lc.PriceHistory = append(lc.PriceHistory, PricePoint{Date: now.Format("2006-01-02"), Price: &price})
	lc.LastPrice = &price
	lc.PriceChanges++
	lc.LastSeenAt = now
	lc.ConsecutiveMissingDays = 0
	return nil
}

func (s *MemoryStore) IncrementMissing(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return 0, common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	lc.ConsecutiveMissingDays++
	return lc.ConsecutiveMissingDays, nil
}

func (s *MemoryStore) End(_ context.Context, id int64, params EndParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	endedAt := params.EndedAt
	outcome := params.Outcome
	speed := params.RemovalSpeed
	days := params.DaysOnMarket
	lc.Status = StatusEnded
	lc.EndedAt = &endedAt
	lc.Outcome = &outcome
	lc.DaysOnMarket = &days
	lc.RemovalSpeed = &speed
	lc.EngagementScore = params.EngagementScore
	return nil
}

func (s *MemoryStore) Reactivate(_ context.Context, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	lc.Status = StatusActive
	lc.ConsecutiveMissingDays = 0
	lc.LastSeenAt = now
	lc.EndedAt = nil
	return nil
}

func (s *MemoryStore) LinkRepost(_ context.Context, newID, originalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.lifecycles[originalID]
	if !ok {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("original lifecycle %d not found", originalID))
	}
	var chainID string
	if original.RepostChainID != nil && *original.RepostChainID != "" {
		chainID = *original.RepostChainID
	} else {
		chainID = uuid.NewString()
		original.RepostChainID = &chainID
	}
	if repost, ok := s.lifecycles[newID]; ok {
		repost.RepostChainID = &chainID
		repost.IsRepost = true
		origID := originalID
		repost.OriginalListingID = &origID
	}
	if original.Status == StatusEnded {
		outcome := OutcomeReposted
		original.Outcome = &outcome
	}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, vp *VerifiedPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *vp
	s.verified[vp.ListingID] = &clone
	return nil
}

func (s *MemoryStore) FindByListingID(_ context.Context, id int64) (*VerifiedPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vp, ok := s.verified[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *vp
	return &clone, nil
}

func (s *MemoryStore) CountEligible(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, vp := range s.verified {
		if vp.EligibleForTraining {
			count++
		}
	}
	return count, nil
}

// memorySnapshots adapts the store to SnapshotRepository; Upsert would
// otherwise collide with the verified upsert on the same receiver.
type memorySnapshots struct {
	store *MemoryStore
}

// Snapshots exposes the store's SnapshotRepository view.
func (s *MemoryStore) Snapshots() SnapshotRepository {
	return &memorySnapshots{store: s}
}

func (m *memorySnapshots) Upsert(_ context.Context, snap *Snapshot) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	clone := *snap
	m.store.snapshots[fmt.Sprintf("%d/%s", snap.ListingID, snap.SnapshotDate)] = &clone
	return nil
}

// VerifiedCount returns how many verified rows exist, any tier.
func (s *MemoryStore) VerifiedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.verified)
}

// SnapshotCount returns how many snapshot rows exist.
func (s *MemoryStore) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
