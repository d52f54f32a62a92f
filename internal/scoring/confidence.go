// File: internal/scoring/confidence.go

// Package scoring maps end-of-life lifecycle signals to a confidence score
// and ordinal tier. Calculate is a pure function so the promotion path stays
// deterministic and idempotent.
package scoring

import (
	"math"

	"github.com/JorisJBackis/tikrakaina/internal/listing"
)

// Inputs are the lifecycle signals consumed by the confidence function.
type Inputs struct {
	DaysOnMarket    int
	IsBroker        bool
	PriceStable     bool
	EngagementScore float64
	IsRepost        bool
	RentedBadge     bool
}

// Result carries the score, the tier it lands in, and the structured signal
// record persisted for auditability.
type Result struct {
	Score   float64
	Tier    listing.ConfidenceTier
	Signals listing.JSONMap
}

// Calculate produces the confidence score and tier for an ended lifecycle.
// Base 0.5, additive adjustments, clamped to [0,1].
func Calculate(in Inputs) Result {
	signals := listing.JSONMap{
		"days_on_market":    in.DaysOnMarket,
		"quick_removal":     in.DaysOnMarket <= 7,
		"is_broker":         in.IsBroker,
		"price_stable":      in.PriceStable,
		"high_engagement":   in.EngagementScore > 30,
		"is_repost":         in.IsRepost,
		"rented_badge_seen": in.RentedBadge,
	}

	score := 0.5

	// Rented badge = highest confidence
	if in.RentedBadge {
		score += 0.4
	}

	// Quick removal = strong signal
	switch {
	case in.DaysOnMarket <= 7:
		score += 0.25
	case in.DaysOnMarket <= 14:
		score += 0.15
	case in.DaysOnMarket <= 30:
		score += 0.05
	default:
		score -= 0.1
	}

	// Broker = professional pricing
	if in.IsBroker {
		score += 0.1
	}

	if in.PriceStable {
		score += 0.1
	} else {
		score -= 0.15
	}

	switch {
	case in.EngagementScore > 50:
		score += 0.1
	case in.EngagementScore > 30:
		score += 0.05
	}

	// Repost = poison
	if in.IsRepost {
		score -= 0.5
	}

	score = math.Max(0, math.Min(1, score))
	score = math.Round(score*1000) / 1000

	var tier listing.ConfidenceTier
	switch {
	case score >= 0.8:
		tier = listing.TierGold
	case score >= 0.6:
		tier = listing.TierSilver
	case score >= 0.4:
		tier = listing.TierBronze
	default:
		tier = listing.TierRejected
	}

	return Result{Score: score, Tier: tier, Signals: signals}
}

// Engagement derives the engagement score from the observed view/save maxima:
// up to 50 points from views, up to 30 from saves.
func Engagement(maxViews, maxSaves int) float64 {
	score := 0.0
	if maxViews > 0 {
		score += math.Min(float64(maxViews)/100, 50)
	}
	if maxSaves > 0 {
		score += math.Min(float64(maxSaves)*2, 30)
	}
	return math.Round(score*100) / 100
}

// SpeedFor buckets days-on-market into the removal speed ordinal.
func SpeedFor(daysOnMarket int) listing.RemovalSpeed {
	switch {
	case daysOnMarket <= 7:
		return listing.RemovalFast
	case daysOnMarket <= 30:
		return listing.RemovalMedium
	default:
		return listing.RemovalSlow
	}
}
