// File: internal/reconciler/promote.go
package reconciler

import (
	"context"
	"math"

	"github.com/JorisJBackis/tikrakaina/internal/listing"
	"github.com/JorisJBackis/tikrakaina/internal/scoring"

	"go.uber.org/zap"
)

// Promote evaluates an ended lifecycle and upserts it into verified_prices
// when it clears the confidence bar. It reports whether a row was written.
// Calling it again for the same listing recomputes and overwrites the same
// row, so re-runs are safe.
func (r *Reconciler) Promote(ctx context.Context, id int64) (bool, error) {
	lc, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}

	if lc.Status != listing.StatusEnded {
		return false, nil
	}
	// A superseded or expired lifecycle carries no rental-price signal.
	if lc.Outcome != nil && (*lc.Outcome == listing.OutcomeReposted || *lc.Outcome == listing.OutcomeExpired) {
		return false, nil
	}
	if lc.LastPrice == nil {
		r.logger.Debug("Promotion skipped: no observed price", zap.Int64("listing_id", id))
		return false, nil
	}

	days := 999
	if lc.DaysOnMarket != nil {
		days = *lc.DaysOnMarket
	}
	res := scoring.Calculate(scoring.Inputs{
		DaysOnMarket:    days,
		IsBroker:        lc.IsBroker(),
		PriceStable:     lc.PriceStable(),
		EngagementScore: lc.EngagementScore,
		IsRepost:        lc.IsRepost,
		RentedBadge:     false,
	})
	if res.Tier == listing.TierRejected {
		r.logger.Debug("Promotion rejected",
			zap.Int64("listing_id", id),
			zap.Float64("score", res.Score))
		return false, nil
	}

	features := listing.JSONMap{}
	if lc.AreaM2 != nil {
		features["area_m2"] = *lc.AreaM2
	}
	if lc.Rooms != nil {
		features["rooms"] = *lc.Rooms
	}
	if lc.FloorCurrent != nil {
		features["floor_current"] = *lc.FloorCurrent
	}
	if lc.FloorTotal != nil {
		features["floor_total"] = *lc.FloorTotal
	}
	if lc.YearBuilt != nil {
		features["year_built"] = *lc.YearBuilt
	}
	if lc.District != nil {
		features["district"] = *lc.District
	}

	var pricePerM2 *float64
	if lc.AreaM2 != nil && *lc.AreaM2 > 0 {
		ppm := math.Round(float64(*lc.LastPrice) / *lc.AreaM2 * 100) / 100
		pricePerM2 = &ppm
	}

	outcome := listing.OutcomeRentedInferred
	if lc.Outcome != nil {
		outcome = *lc.Outcome
	}
	speed := scoring.SpeedFor(days)
	if lc.RemovalSpeed != nil {
		speed = *lc.RemovalSpeed
	}

	vp := &listing.VerifiedPrice{
		ListingID:           lc.ListingID,
		VerifiedPrice:       *lc.LastPrice,
		VerifiedPricePerM2:  pricePerM2,
		ConfidenceScore:     res.Score,
		ConfidenceTier:      res.Tier,
		VerificationSignals: res.Signals,
		Features:            features,
		DaysOnMarket:        days,
		RemovalSpeed:        speed,
		Outcome:             outcome,
		EligibleForTraining: res.Tier == listing.TierGold || res.Tier == listing.TierSilver,
	}
	if err := r.verified.Upsert(ctx, vp); err != nil {
		return false, err
	}

	r.logger.Info("Verified price recorded",
		zap.Int64("listing_id", id),
		zap.Int("price", vp.VerifiedPrice),
		zap.Float64("confidence", res.Score),
		zap.String("tier", string(res.Tier)))
	return true, nil
}
