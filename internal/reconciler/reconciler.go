// File: internal/reconciler/reconciler.go

// Package reconciler drives one collection run: it diffs the crawled world
// state against the lifecycle store, applies the state machine, and promotes
// sufficiently confident ended lifecycles into the verified dataset.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"
	"github.com/JorisJBackis/tikrakaina/internal/fingerprint"
	"github.com/JorisJBackis/tikrakaina/internal/listing"
	"github.com/JorisJBackis/tikrakaina/internal/scoring"
	"github.com/JorisJBackis/tikrakaina/internal/scrape"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune one reconciler instance.
type Options struct {
	// MissingDaysThreshold is how many consecutive absent runs end a listing.
	MissingDaysThreshold int
	// MaxListingAgeDays filters out stale listings at creation time.
	MaxListingAgeDays int
	// Workers bounds the parallel detail resolution pool.
	Workers int
}

// Summary is the per-run report surfaced in logs and by the CLI.
type Summary struct {
	Crawled              int
	New                  int
	Reactivated          int
	Ended                int
	Promoted             int
	PriceChanges         int
	SkippedStale         int
	SkippedNoListPrice   int
	SkippedNoStoredPrice int
	RepostsLinked        int
	ResolveFailures      int
	SoftScrapeFailure    bool
	EligibleForTraining  int64
}

// Reconciler orchestrates a run over the frontier, resolver and stores.
type Reconciler struct {
	frontier  scrape.Frontier
	resolver  scrape.Resolver
	repo      listing.Repository
	verified  listing.VerifiedRepository
	snapshots listing.SnapshotRepository
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Reconciler. Zero option fields fall back to the defaults the
// collection was tuned with (3 missing days, 40 day staleness, 4 workers).
func New(
	frontier scrape.Frontier,
	resolver scrape.Resolver,
	repo listing.Repository,
	verified listing.VerifiedRepository,
	snapshots listing.SnapshotRepository,
	opts Options,
	logger *zap.Logger,
) *Reconciler {
	if opts.MissingDaysThreshold <= 0 {
		opts.MissingDaysThreshold = 3
	}
	if opts.MaxListingAgeDays <= 0 {
		opts.MaxListingAgeDays = 40
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Reconciler{
		frontier:  frontier,
		resolver:  resolver,
		repo:      repo,
		verified:  verified,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger.Named("reconciler"),
		now:       time.Now,
	}
}

// WithClock overrides the reconciler's clock. Used by tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// runState is the per-run snapshot of the store-side lookup tables plus the
// shared counters concurrent workers mutate under the mutex.
type runState struct {
	mu           sync.Mutex
	phoneCounts  map[string]int
	fingerprints map[string]int64
	summary      Summary
}

// Run executes one collection pass. It returns the run summary, or an error
// only for the hard scrape failure (nothing is written in that case).
func (r *Reconciler) Run(ctx context.Context, maxPages int) (*Summary, error) {
	now := r.now()

	// Step 1: crawl the frontier.
	items, err := r.frontier.Crawl(ctx, maxPages)
	if err != nil {
		return nil, err
	}
	currentByID := make(map[int64]listing.ListedItem, len(items))
	crawledIDs := make(map[int64]struct{}, len(items))
	for _, item := range items {
		currentByID[item.ListingID] = item
		crawledIDs[item.ListingID] = struct{}{}
	}

	// Step 2: snapshot store state for the whole run.
	knownIDs, err := r.repo.AllIDs(ctx)
	if err != nil {
		return nil, err
	}
	activeIDs, err := r.repo.ActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	activePrices, err := r.repo.ActivePrices(ctx)
	if err != nil {
		return nil, err
	}
	phoneCounts, err := r.repo.PhoneCounts(ctx)
	if err != nil {
		return nil, err
	}
	fingerprints, err := r.repo.Fingerprints(ctx)
	if err != nil {
		return nil, err
	}

	// Step 3: plausibility guard, before any mutation.
	if len(crawledIDs) == 0 && len(activeIDs) > 0 {
		r.logger.Error("Scrape failure: crawl returned nothing while active listings exist, aborting run",
			zap.Int("stored_active", len(activeIDs)))
		return nil, common.ErrScrapeFailedHard.WithDetails(map[string]int{
			"stored_active": len(activeIDs),
			"crawled":       0,
		})
	}
	state := &runState{phoneCounts: phoneCounts, fingerprints: fingerprints}
	state.summary.Crawled = len(crawledIDs)
	// crawled < 0.5 x active, kept in integers so odd active counts still
	// trip at the boundary.
	if len(activeIDs) > 100 && len(crawledIDs)*2 < len(activeIDs) {
		r.logger.Error("Scrape failure suspected: skipping missing-side processing this run",
			zap.Int("crawled", len(crawledIDs)),
			zap.Int("stored_active", len(activeIDs)))
		state.summary.SoftScrapeFailure = true
	}

	// Step 4: diff.
	diff := ComputeDiff(crawledIDs, activeIDs, knownIDs)
	r.logger.Info("Diff computed",
		zap.Int("new", len(diff.New)),
		zap.Int("missing", len(diff.Missing)),
		zap.Int("existing", len(diff.Existing)),
		zap.Int("reappeared", len(diff.Reappeared)))

	// Partitions are processed NEW, REAPPEARED, MISSING, EXISTING so a
	// reactivated id can never also be counted newly missing in the same run.
	r.processNew(ctx, diff.New, currentByID, state, now)
	r.processReappeared(ctx, diff.Reappeared, state, now)
	if !state.summary.SoftScrapeFailure {
		r.processMissing(ctx, diff.Missing, state, now)
	}
	r.processExisting(ctx, diff.Existing, currentByID, activePrices, state, now)

	if count, err := r.verified.CountEligible(ctx); err != nil {
		r.logger.Warn("Failed to count eligible verified prices", zap.Error(err))
	} else {
		state.summary.EligibleForTraining = count
	}

	s := state.summary
	r.logger.Info("Run complete",
		zap.Int("crawled", s.Crawled),
		zap.Int("new", s.New),
		zap.Int("reactivated", s.Reactivated),
		zap.Int("ended", s.Ended),
		zap.Int("promoted", s.Promoted),
		zap.Int("price_changes", s.PriceChanges),
		zap.Int("reposts_linked", s.RepostsLinked),
		zap.Int("skipped_stale", s.SkippedStale),
		zap.Int("resolve_failures", s.ResolveFailures),
		zap.Int64("eligible_for_training", s.EligibleForTraining),
		zap.Bool("soft_scrape_failure", s.SoftScrapeFailure))

	return &s, nil
}

// processNew resolves details for never-seen identities with a bounded worker
// pool and creates their lifecycles. Per-listing failures are logged and
// isolated; the identity is simply retried next run.
func (r *Reconciler) processNew(ctx context.Context, ids []int64, currentByID map[int64]listing.ListedItem, state *runState, now time.Time) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, id := range ids {
		item := currentByID[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}
			r.createListing(gctx, item, state, now)
			return nil
		})
	}
	g.Wait()
}

func (r *Reconciler) createListing(ctx context.Context, item listing.ListedItem, state *runState, now time.Time) {
	detail, err := r.resolver.Resolve(ctx, item)
	if err != nil {
		state.mu.Lock()
		state.summary.ResolveFailures++
		state.mu.Unlock()
		r.logger.Warn("Detail resolution failed", zap.Int64("listing_id", item.ListingID), zap.Error(err))
		return
	}

	// Stale listings are noise for price calibration; never track them.
	if detail.DatePosted != nil {
		if common.DaysBetween(*detail.DatePosted, now) > r.opts.MaxListingAgeDays {
			state.mu.Lock()
			state.summary.SkippedStale++
			state.mu.Unlock()
			return
		}
	}

	fp := detail.FingerprintHash
	if fp == "" {
		phone := ""
		if detail.PhoneNormalized != nil {
			phone = fingerprint.NormalizePhone(*detail.PhoneNormalized)
		}
		district := ""
		if detail.District != nil {
			district = *detail.District
		}
		fp = fingerprint.Compute(detail.FloorCurrent, detail.AreaM2, detail.Rooms, phone, district)
	}

	// Phone-count and fingerprint snapshots are shared across workers;
	// lookups and the subsequent bumps must be one critical section.
	state.mu.Lock()
	var originalID int64
	if orig, ok := state.fingerprints[fp]; ok && orig != detail.ListingID {
		originalID = orig
	} else if !ok {
		state.fingerprints[fp] = detail.ListingID
	}
	isMulti := false
	if detail.PhoneNormalized != nil && *detail.PhoneNormalized != "" {
		count := state.phoneCounts[*detail.PhoneNormalized]
		isMulti = count >= 3
		state.phoneCounts[*detail.PhoneNormalized] = count + 1
	}
	state.mu.Unlock()

	if err := r.snapshots.Upsert(ctx, snapshotFromDetail(detail, fp, now)); err != nil {
		r.logger.Warn("Snapshot write failed", zap.Int64("listing_id", detail.ListingID), zap.Error(err))
	}

	lc := lifecycleFromDetail(detail, fp, isMulti, now)
	if err := r.repo.Create(ctx, lc); err != nil {
		r.logger.Warn("Lifecycle create failed", zap.Int64("listing_id", detail.ListingID), zap.Error(err))
		return
	}

	if originalID != 0 {
		if err := r.repo.LinkRepost(ctx, detail.ListingID, originalID); err != nil {
			r.logger.Warn("Repost link failed",
				zap.Int64("listing_id", detail.ListingID),
				zap.Int64("original_id", originalID),
				zap.Error(err))
		} else {
			r.logger.Info("Repost detected",
				zap.Int64("listing_id", detail.ListingID),
				zap.Int64("original_id", originalID))
			state.mu.Lock()
			state.summary.RepostsLinked++
			state.mu.Unlock()
		}
	}

	state.mu.Lock()
	state.summary.New++
	state.mu.Unlock()
}

func (r *Reconciler) processReappeared(ctx context.Context, ids []int64, state *runState, now time.Time) {
	for _, id := range ids {
		if err := r.repo.Reactivate(ctx, id, now); err != nil {
			r.logger.Warn("Reactivation failed", zap.Int64("listing_id", id), zap.Error(err))
			continue
		}
		state.summary.Reactivated++
	}
}

func (r *Reconciler) processMissing(ctx context.Context, ids []int64, state *runState, now time.Time) {
	for _, id := range ids {
		missingDays, err := r.repo.IncrementMissing(ctx, id)
		if err != nil {
			r.logger.Warn("Missing increment failed", zap.Int64("listing_id", id), zap.Error(err))
			continue
		}
		if missingDays < r.opts.MissingDaysThreshold {
			continue
		}
		if err := r.endListing(ctx, id, state, now); err != nil {
			r.logger.Warn("End-of-life processing failed", zap.Int64("listing_id", id), zap.Error(err))
		}
	}
}

func (r *Reconciler) endListing(ctx context.Context, id int64, state *runState, now time.Time) error {
	lc, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	days := common.DaysBetween(lc.FirstSeenAt, now)
	params := listing.EndParams{
		Outcome:         listing.OutcomeRentedInferred,
		EndedAt:         now,
		DaysOnMarket:    days,
		RemovalSpeed:    scoring.SpeedFor(days),
		EngagementScore: scoring.Engagement(lc.MaxViews, lc.MaxSaves),
	}
	if err := r.repo.End(ctx, id, params); err != nil {
		return err
	}
	state.summary.Ended++

	promoted, err := r.Promote(ctx, id)
	if err != nil {
		return err
	}
	if promoted {
		state.summary.Promoted++
	}
	return nil
}

func (r *Reconciler) processExisting(ctx context.Context, ids []int64, currentByID map[int64]listing.ListedItem, activePrices map[int64]int, state *runState, now time.Time) {
	for _, id := range ids {
		item := currentByID[id]
		storedPrice, hasStored := activePrices[id]

		// A price delta counts only when both sides are known; an absent
		// list-view price is never a change.
		switch {
		case item.Price == nil:
			state.summary.SkippedNoListPrice++
		case !hasStored:
			state.summary.SkippedNoStoredPrice++
		case *item.Price != storedPrice:
			if err := r.repo.RecordPriceChange(ctx, id, *item.Price, now); err != nil {
				r.logger.Warn("Price change write failed", zap.Int64("listing_id", id), zap.Error(err))
				continue
			}
			r.logger.Info("Price change",
				zap.Int64("listing_id", id),
				zap.Int("old", storedPrice),
				zap.Int("new", *item.Price))
			state.summary.PriceChanges++
			continue
		}

		if err := r.repo.MarkSeen(ctx, id, now); err != nil {
			r.logger.Warn("Mark-seen failed", zap.Int64("listing_id", id), zap.Error(err))
		}
	}
}

func lifecycleFromDetail(d *listing.Detail, fp string, isMulti bool, now time.Time) *listing.Lifecycle {
	history := listing.PriceHistory{{Date: now.Format("2006-01-02"), Price: d.Price}}
	lc := &listing.Lifecycle{
		ListingID:           d.ListingID,
		URL:                 d.URL,
		Status:              listing.StatusActive,
		FirstSeenAt:         now,
		LastSeenAt:          now,
		InitialPrice:        d.Price,
		LastPrice:           d.Price,
		PriceHistory:        history,
		FingerprintHash:     fp,
		PhoneNormalized:     d.PhoneNormalized,
		IsMultiListingPhone: isMulti,
		BrokerScore:         d.BrokerScore,
		AreaM2:              d.AreaM2,
		Rooms:               d.Rooms,
		District:            d.District,
		FloorCurrent:        d.FloorCurrent,
		FloorTotal:          d.FloorTotal,
		YearBuilt:           d.YearBuilt,
	}
	if d.ViewsTotal != nil {
		lc.MaxViews = *d.ViewsTotal
	}
	if d.SavesCount != nil {
		lc.MaxSaves = *d.SavesCount
	}
	return lc
}

func snapshotFromDetail(d *listing.Detail, fp string, now time.Time) *listing.Snapshot {
	return &listing.Snapshot{
		ListingID:       d.ListingID,
		SnapshotDate:    now.Format("2006-01-02"),
		URL:             d.URL,
		Price:           d.Price,
		PricePerM2:      d.PricePerM2,
		AreaM2:          d.AreaM2,
		Rooms:           d.Rooms,
		FloorCurrent:    d.FloorCurrent,
		FloorTotal:      d.FloorTotal,
		YearBuilt:       d.YearBuilt,
		District:        d.District,
		Street:          d.Street,
		IsBrokerListing: d.IsBrokerListing,
		BrokerScore:     d.BrokerScore,
		PhoneNormalized: d.PhoneNormalized,
		ViewsTotal:      d.ViewsTotal,
		ViewsToday:      d.ViewsToday,
		SavesCount:      d.SavesCount,
		DatePosted:      d.DatePosted,
		DateEdited:      d.DateEdited,
		ExpiresAt:       d.ExpiresAt,
		FingerprintHash: fp,
		RawFeatures:     d.RawFeatures,
	}
}
