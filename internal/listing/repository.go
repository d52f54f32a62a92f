// File: internal/listing/repository.go
package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EndParams carries the computed end-of-life fields applied when a lifecycle
// transitions to ENDED.
type EndParams struct {
	Outcome         Outcome
	EndedAt         time.Time
	DaysOnMarket    int
	RemovalSpeed    RemovalSpeed
	EngagementScore float64
}

// Repository defines the lifecycle store: the per-run lookup tables the
// reconciler snapshots at run start, plus the mutation operations driven by
// the state machine. Implementations must keep rows forever; there is no
// delete.
type Repository interface {
	// Lookup tables, snapshotted once per run.
	AllIDs(ctx context.Context) (map[int64]struct{}, error)
	ActiveIDs(ctx context.Context) (map[int64]struct{}, error)
	ActivePrices(ctx context.Context) (map[int64]int, error)
	PhoneCounts(ctx context.Context) (map[string]int, error)
	Fingerprints(ctx context.Context) (map[string]int64, error)

	FindByID(ctx context.Context, id int64) (*Lifecycle, error)
	Create(ctx context.Context, lc *Lifecycle) error

	// MarkSeen records an appearance with no confirmed price delta.
	MarkSeen(ctx context.Context, id int64, now time.Time) error
	// RecordPriceChange appends a confirmed delta to the price history.
	RecordPriceChange(ctx context.Context, id int64, newPrice int, now time.Time) error
	// IncrementMissing bumps the missing counter and returns the new value.
	IncrementMissing(ctx context.Context, id int64) (int, error)
	End(ctx context.Context, id int64, params EndParams) error
	Reactivate(ctx context.Context, id int64, now time.Time) error

	// LinkRepost wires newID into originalID's repost chain: the original's
	// chain id is reused when present, minted otherwise; if the original is
	// already ENDED its outcome is overwritten to REPOSTED.
	LinkRepost(ctx context.Context, newID, originalID int64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewGORMRepository creates a new GORM lifecycle repository.
func NewGORMRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) AllIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&Lifecycle{}).Pluck("listing_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to load known ids: %w", err)
	}
	return toIDSet(ids), nil
}

func (r *gormRepository) ActiveIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Where("status = ?", StatusActive).
		Pluck("listing_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active ids: %w", err)
	}
	return toIDSet(ids), nil
}

func (r *gormRepository) ActivePrices(ctx context.Context) (map[int64]int, error) {
	var rows []struct {
		ListingID int64
		LastPrice *int
	}
	err := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Select("listing_id", "last_price").
		Where("status = ?", StatusActive).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active prices: %w", err)
	}
	prices := make(map[int64]int, len(rows))
	for _, row := range rows {
		if row.LastPrice != nil {
			prices[row.ListingID] = *row.LastPrice
		}
	}
	return prices, nil
}

func (r *gormRepository) PhoneCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		PhoneNormalized string
		Count           int
	}
	err := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Select("phone_normalized", "count(*) as count").
		Where("status = ? AND phone_normalized IS NOT NULL", StatusActive).
		Group("phone_normalized").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load phone counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.PhoneNormalized] = row.Count
	}
	return counts, nil
}

func (r *gormRepository) Fingerprints(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ListingID       int64
		FingerprintHash string
	}
	err := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Select("listing_id", "fingerprint_hash").
		Where("fingerprint_hash <> ''").
		Order("listing_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	fps := make(map[string]int64, len(rows))
	for _, row := range rows {
		// Rows arrive in ascending id order; the first occurrence is the
		// earliest identity and stays the chain anchor.
		if _, ok := fps[row.FingerprintHash]; !ok {
			fps[row.FingerprintHash] = row.ListingID
		}
	}
	return fps, nil
}

func (r *gormRepository) FindByID(ctx context.Context, id int64) (*Lifecycle, error) {
	var lc Lifecycle
	err := r.db.WithContext(ctx).First(&lc, "listing_id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
		}
		return nil, err
	}
	return &lc, nil
}

func (r *gormRepository) Create(ctx context.Context, lc *Lifecycle) error {
	if err := r.db.WithContext(ctx).Create(lc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return common.ErrConflict.WithDetails(fmt.Sprintf("lifecycle %d already exists", lc.ListingID))
		}
		return fmt.Errorf("failed to create lifecycle %d: %w", lc.ListingID, err)
	}
	return nil
}

func (r *gormRepository) MarkSeen(ctx context.Context, id int64, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Where("listing_id = ?", id).
		Updates(map[string]interface{}{
			"last_seen_at":             now,
			"consecutive_missing_days": 0,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark lifecycle %d seen: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	return nil
}

func (r *gormRepository) RecordPriceChange(ctx context.Context, id int64, newPrice int, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lc Lifecycle
		if err := tx.First(&lc, "listing_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
			}
			return err
		}

		price := newPrice
		history := append(lc.PriceHistory, PricePoint{Date: now.Format("2006-01-02"), Price: &price})

		return tx.Model(&Lifecycle{}).
			Where("listing_id = ?", id).
			Updates(map[string]interface{}{
				"last_price":               newPrice,
				"price_changes":            lc.PriceChanges + 1,
				"price_history":            history,
				"last_seen_at":             now,
				"consecutive_missing_days": 0,
			}).Error
	})
}

func (r *gormRepository) IncrementMissing(ctx context.Context, id int64) (int, error) {
	var newCount int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lc Lifecycle
		if err := tx.First(&lc, "listing_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
			}
			return err
		}
		newCount = lc.ConsecutiveMissingDays + 1
		return tx.Model(&Lifecycle{}).
			Where("listing_id = ?", id).
			Update("consecutive_missing_days", newCount).Error
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

func (r *gormRepository) End(ctx context.Context, id int64, params EndParams) error {
	result := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Where("listing_id = ?", id).
		Updates(map[string]interface{}{
			"status":           StatusEnded,
			"ended_at":         params.EndedAt,
			"outcome":          params.Outcome,
			"days_on_market":   params.DaysOnMarket,
			"removal_speed":    params.RemovalSpeed,
			"engagement_score": params.EngagementScore,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to end lifecycle %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	return nil
}

func (r *gormRepository) Reactivate(ctx context.Context, id int64, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&Lifecycle{}).
		Where("listing_id = ?", id).
		Updates(map[string]interface{}{
			"status":                   StatusActive,
			"consecutive_missing_days": 0,
			"last_seen_at":             now,
			"ended_at":                 nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reactivate lifecycle %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound.WithDetails(fmt.Sprintf("lifecycle %d not found", id))
	}
	return nil
}

func (r *gormRepository) LinkRepost(ctx context.Context, newID, originalID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original Lifecycle
		if err := tx.First(&original, "listing_id = ?", originalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrNotFound.WithDetails(fmt.Sprintf("original lifecycle %d not found", originalID))
			}
			return err
		}

		// Reuse the original's chain id when it is already part of a chain,
		// mint one otherwise. A third colliding id therefore extends the
		// existing chain rather than starting a new one.
		var chainID string
		if original.RepostChainID != nil && *original.RepostChainID != "" {
			chainID = *original.RepostChainID
		} else {
			chainID = uuid.NewString()
			if err := tx.Model(&Lifecycle{}).
				Where("listing_id = ?", originalID).
				Update("repost_chain_id", chainID).Error; err != nil {
				return fmt.Errorf("failed to assign chain id to original %d: %w", originalID, err)
			}
		}

		err := tx.Model(&Lifecycle{}).
			Where("listing_id = ?", newID).
			Updates(map[string]interface{}{
				"repost_chain_id":     chainID,
				"is_repost":           true,
				"original_listing_id": originalID,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to link repost %d -> %d: %w", newID, originalID, err)
		}

		// An ended original that resurfaces as a repost was not rented; void
		// its promotion eligibility permanently.
		err = tx.Model(&Lifecycle{}).
			Where("listing_id = ? AND status = ?", originalID, StatusEnded).
			Update("outcome", OutcomeReposted).Error
		if err != nil {
			return fmt.Errorf("failed to mark original %d reposted: %w", originalID, err)
		}
		return nil
	})
}

func toIDSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
