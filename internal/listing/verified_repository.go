// File: internal/listing/verified_repository.go
package listing

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VerifiedRepository is the append/upsert target for promoted outcomes.
// Upsert is keyed on listing_id so re-running promotion for the same
// lifecycle is idempotent.
type VerifiedRepository interface {
	Upsert(ctx context.Context, vp *VerifiedPrice) error
	FindByListingID(ctx context.Context, id int64) (*VerifiedPrice, error)
	CountEligible(ctx context.Context) (int64, error)
}

type gormVerifiedRepository struct {
	db *gorm.DB
}

// NewGORMVerifiedRepository creates a new GORM verified price repository.
func NewGORMVerifiedRepository(db *gorm.DB) VerifiedRepository {
	return &gormVerifiedRepository{db: db}
}

func (r *gormVerifiedRepository) Upsert(ctx context.Context, vp *VerifiedPrice) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "listing_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"verified_price", "verified_price_per_m2",
			"confidence_score", "confidence_tier",
			"verification_signals", "features",
			"days_on_market", "removal_speed", "outcome",
			"eligible_for_training", "updated_at",
		}),
	}).Create(vp).Error
	if err != nil {
		return fmt.Errorf("failed to upsert verified price %d: %w", vp.ListingID, err)
	}
	return nil
}

func (r *gormVerifiedRepository) FindByListingID(ctx context.Context, id int64) (*VerifiedPrice, error) {
	var vp VerifiedPrice
	if err := r.db.WithContext(ctx).First(&vp, "listing_id = ?", id).Error; err != nil {
		return nil, err
	}
	return &vp, nil
}

func (r *gormVerifiedRepository) CountEligible(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&VerifiedPrice{}).
		Where("eligible_for_training = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count eligible verified prices: %w", err)
	}
	return count, nil
}
