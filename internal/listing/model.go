// File: internal/listing/model.go
package listing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"
)

// --- JSON column helpers ---

// PricePoint is one observation in a lifecycle's price history. Price is nil
// when the listing was created without a known price.
type PricePoint struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Price *int   `json:"price"`
}

// PriceHistory is an append-only sequence of price observations, stored as a
// JSON text column so it is portable across postgres and sqlite.
type PriceHistory []PricePoint

// Value implements the driver.Valuer interface for PriceHistory.
func (h PriceHistory) Value() (driver.Value, error) {
	if h == nil {
		h = PriceHistory{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for PriceHistory.
func (h *PriceHistory) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), h)
	case []byte:
		return json.Unmarshal(v, h)
	default:
		return errors.New("failed to scan PriceHistory: unsupported type")
	}
}

// JSONMap is a generic JSON object column (verification signals, feature bags).
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for JSONMap.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for JSONMap.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), m)
	case []byte:
		return json.Unmarshal(v, m)
	default:
		return errors.New("failed to scan JSONMap: unsupported type")
	}
}

// --- Enums ---

type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

type Outcome string

const (
	OutcomeRentedInferred Outcome = "RENTED_INFERRED"
	OutcomeReposted       Outcome = "REPOSTED"
	OutcomeExpired        Outcome = "EXPIRED"
)

type RemovalSpeed string

const (
	RemovalFast   RemovalSpeed = "FAST"
	RemovalMedium RemovalSpeed = "MEDIUM"
	RemovalSlow   RemovalSpeed = "SLOW"
)

type ConfidenceTier string

const (
	TierGold     ConfidenceTier = "GOLD"
	TierSilver   ConfidenceTier = "SILVER"
	TierBronze   ConfidenceTier = "BRONZE"
	TierRejected ConfidenceTier = "REJECTED"
)

// --- Main Lifecycle Model ---

// Lifecycle tracks one listing identity from first observation to end of life.
// Rows are never deleted; ended rows may be reactivated if the listing
// reappears on the site.
type Lifecycle struct {
	ListingID int64  `gorm:"column:listing_id;primaryKey;autoIncrement:false"`
	URL       string `gorm:"type:text;not null"`
	Status    Status `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`

	FirstSeenAt time.Time  `gorm:"not null"`
	LastSeenAt  time.Time  `gorm:"not null"`
	EndedAt     *time.Time `gorm:""`

	InitialPrice *int         `gorm:""`
	LastPrice    *int         `gorm:""`
	PriceHistory PriceHistory `gorm:"type:text"`
	PriceChanges int          `gorm:"not null;default:0"`

	ConsecutiveMissingDays int `gorm:"not null;default:0"`

	FingerprintHash     string  `gorm:"type:varchar(64);index"`
	PhoneNormalized     *string `gorm:"type:varchar(20);index"`
	IsMultiListingPhone bool    `gorm:"not null;default:false"`
	BrokerScore         int     `gorm:"not null;default:0"` // negative means broker

	RepostChainID     *string `gorm:"type:varchar(36);index"`
	IsRepost          bool    `gorm:"not null;default:false"`
	OriginalListingID *int64  `gorm:""`

	Outcome      *Outcome      `gorm:"type:varchar(30)"`
	DaysOnMarket *int          `gorm:""`
	RemovalSpeed *RemovalSpeed `gorm:"type:varchar(10)"`

	EngagementScore float64 `gorm:"not null;default:0"`
	MaxViews        int     `gorm:"not null;default:0"`
	MaxSaves        int     `gorm:"not null;default:0"`

	// Physical attributes captured at creation, promoted into the verified
	// feature snapshot at end of life.
	AreaM2       *float64 `gorm:""`
	Rooms        *int     `gorm:""`
	District     *string  `gorm:"type:varchar(100)"`
	FloorCurrent *int     `gorm:""`
	FloorTotal   *int     `gorm:""`
	YearBuilt    *int     `gorm:""`

	common.Timestamps
}

func (Lifecycle) TableName() string {
	return "listing_lifecycle"
}

// IsBroker reports whether the broker heuristic classified this lifecycle as
// broker-posted.
func (l *Lifecycle) IsBroker() bool {
	return l.BrokerScore < 0
}

// PriceStable reports whether the price never changed while tracked.
func (l *Lifecycle) PriceStable() bool {
	return l.PriceChanges == 0
}

// --- Verified Price Model ---

// VerifiedPrice is the promoted outcome of a sufficiently confident ended
// lifecycle. At most one row per listing identity (idempotent upsert).
type VerifiedPrice struct {
	ListingID          int64          `gorm:"column:listing_id;primaryKey;autoIncrement:false"`
	VerifiedPrice      int            `gorm:"not null"`
	VerifiedPricePerM2 *float64       `gorm:""`
	ConfidenceScore    float64        `gorm:"not null"`
	ConfidenceTier     ConfidenceTier `gorm:"type:varchar(10);not null"`

	VerificationSignals JSONMap `gorm:"type:text"`
	Features            JSONMap `gorm:"type:text"`

	DaysOnMarket        int          `gorm:"not null"`
	RemovalSpeed        RemovalSpeed `gorm:"type:varchar(10);not null"`
	Outcome             Outcome      `gorm:"type:varchar(30);not null"`
	EligibleForTraining bool         `gorm:"not null;default:false;index"`

	common.Timestamps
}

func (VerifiedPrice) TableName() string {
	return "verified_prices"
}

// --- Snapshot Model ---

// Snapshot is the raw per-day observation written for every successfully
// resolved new listing, keyed on (listing_id, snapshot_date).
type Snapshot struct {
	ListingID    int64  `gorm:"column:listing_id;primaryKey;autoIncrement:false"`
	SnapshotDate string `gorm:"type:varchar(10);primaryKey"` // YYYY-MM-DD

	URL        string   `gorm:"type:text;not null"`
	Price      *int     `gorm:""`
	PricePerM2 *float64 `gorm:""`

	AreaM2       *float64 `gorm:""`
	Rooms        *int     `gorm:""`
	FloorCurrent *int     `gorm:""`
	FloorTotal   *int     `gorm:""`
	YearBuilt    *int     `gorm:""`
	District     *string  `gorm:"type:varchar(100)"`
	Street       *string  `gorm:"type:varchar(150)"`

	IsBrokerListing bool    `gorm:"not null;default:false"`
	BrokerScore     int     `gorm:"not null;default:0"`
	PhoneNormalized *string `gorm:"type:varchar(20)"`

	ViewsTotal *int `gorm:""`
	ViewsToday *int `gorm:""`
	SavesCount *int `gorm:""`

	DatePosted *time.Time `gorm:""`
	DateEdited *time.Time `gorm:""`
	ExpiresAt  *time.Time `gorm:""`

	FingerprintHash string  `gorm:"type:varchar(64)"`
	RawFeatures     JSONMap `gorm:"type:text"`

	common.Timestamps
}

func (Snapshot) TableName() string {
	return "listing_snapshots"
}

// --- Scraping collaborator contracts ---

// ListedItem is the list-phase record: identity, url and, when the list view
// exposes it, the advertised price.
type ListedItem struct {
	ListingID int64  `json:"listing_id"`
	URL       string `json:"url"`
	Price     *int   `json:"price,omitempty"`
}

// Detail is the fully parsed detail-phase record. The collector consumes it
// as-is; markup parsing happens upstream.
type Detail struct {
	ListingID int64  `json:"listing_id"`
	URL       string `json:"url"`

	Price      *int     `json:"price,omitempty"`
	PricePerM2 *float64 `json:"price_per_m2,omitempty"`

	AreaM2       *float64 `json:"area_m2,omitempty"`
	Rooms        *int     `json:"rooms,omitempty"`
	FloorCurrent *int     `json:"floor_current,omitempty"`
	FloorTotal   *int     `json:"floor_total,omitempty"`
	YearBuilt    *int     `json:"year_built,omitempty"`
	District     *string  `json:"district,omitempty"`
	Street       *string  `json:"street,omitempty"`

	ViewsTotal *int `json:"views_total,omitempty"`
	ViewsToday *int `json:"views_today,omitempty"`
	SavesCount *int `json:"saves_count,omitempty"`

	DatePosted *time.Time `json:"date_posted,omitempty"`
	DateEdited *time.Time `json:"date_edited,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	IsBrokerListing bool    `json:"is_broker_listing"`
	BrokerScore     int     `json:"broker_score"`
	PhoneNormalized *string `json:"phone_normalized,omitempty"`

	RawFeatures     JSONMap `json:"raw_features,omitempty"`
	FingerprintHash string  `json:"fingerprint_hash,omitempty"`
}

// Validate checks the structural minimum the core needs. A record failing
// this is skipped for the run, never retried.
func (d *Detail) Validate() error {
	if d.ListingID <= 0 {
		return fmt.Errorf("detail record has no usable listing id")
	}
	if d.URL == "" {
		return fmt.Errorf("detail record for %d has no url", d.ListingID)
	}
	return nil
}
