// File: internal/listing/snapshot_repository.go
package listing

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository stores the raw daily observations, one row per
// (listing_id, snapshot_date). Re-observing the same listing on the same day
// overwrites that day's row.
type SnapshotRepository interface {
	Upsert(ctx context.Context, snap *Snapshot) error
}

type gormSnapshotRepository struct {
	db *gorm.DB
}

// NewGORMSnapshotRepository creates a new GORM snapshot repository.
func NewGORMSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &gormSnapshotRepository{db: db}
}

func (r *gormSnapshotRepository) Upsert(ctx context.Context, snap *Snapshot) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "listing_id"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"url", "price", "price_per_m2",
			"area_m2", "rooms", "floor_current", "floor_total", "year_built",
			"district", "street",
			"is_broker_listing", "broker_score", "phone_normalized",
			"views_total", "views_today", "saves_count",
			"date_posted", "date_edited", "expires_at",
			"fingerprint_hash", "raw_features", "updated_at",
		}),
	}).Create(snap).Error
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %d/%s: %w", snap.ListingID, snap.SnapshotDate, err)
	}
	return nil
}
