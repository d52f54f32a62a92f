// File: internal/common/model.go
package common

import (
	"time"
)

// Timestamps defines audit fields shared by GORM models.
type Timestamps struct {
	CreatedAt time.Time `gorm:"column:created_at;not null;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:current_timestamp"`
}

// DaysBetween returns whole days elapsed from a to b, never negative.
func DaysBetween(a, b time.Time) int {
	d := int(b.Sub(a).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
