// File: internal/reconciler/reconciler_test.go
package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"
	"github.com/JorisJBackis/tikrakaina/internal/listing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Test doubles ---

type stubFrontier struct {
	items []listing.ListedItem
	err   error
}

func (f *stubFrontier) Crawl(_ context.Context, _ int) ([]listing.ListedItem, error) {
	return f.items, f.err
}

type stubResolver struct {
	details map[int64]*listing.Detail
	errs    map[int64]error
}

func (r *stubResolver) Resolve(_ context.Context, item listing.ListedItem) (*listing.Detail, error) {
	if err, ok := r.errs[item.ListingID]; ok {
		return nil, err
	}
	if d, ok := r.details[item.ListingID]; ok {
		return d, nil
	}
	return &listing.Detail{ListingID: item.ListingID, URL: item.URL, Price: item.Price}, nil
}

// --- Helpers ---

var day0 = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

func onDay(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

type fixture struct {
	store    *listing.MemoryStore
	frontier *stubFrontier
	resolver *stubResolver
	rec      *Reconciler
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := listing.NewMemoryStore()
	frontier := &stubFrontier{}
	resolver := &stubResolver{details: map[int64]*listing.Detail{}, errs: map[int64]error{}}
	now := day0
	f := &fixture{store: store, frontier: frontier, resolver: resolver, clock: &now}
	f.rec = New(frontier, resolver, store, store, store.Snapshots(), Options{}, zap.NewNop()).
		WithClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) setDay(n int) {
	*f.clock = onDay(n)
}

func (f *fixture) crawl(items ...listing.ListedItem) {
	f.frontier.items = items
}

func intPtr(v int) *int { return &v }

func item(id int64, price *int) listing.ListedItem {
	return listing.ListedItem{ListingID: id, URL: fmt.Sprintf("https://example.test/ads/%d", id), Price: price}
}

// --- Tests ---

func TestRunCreatesNewListing(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)))

	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusActive, lc.Status)
	assert.Equal(t, 500, *lc.InitialPrice)
	assert.Equal(t, 500, *lc.LastPrice)
	require.Len(t, lc.PriceHistory, 1)
	assert.Equal(t, 500, *lc.PriceHistory[0].Price)
	assert.Equal(t, 0, lc.PriceChanges)
	assert.Equal(t, 1, f.store.SnapshotCount())
}

func TestRunNewListingWithoutPriceGetsNullObservation(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, nil))

	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Nil(t, lc.InitialPrice)
	require.Len(t, lc.PriceHistory, 1)
	assert.Nil(t, lc.PriceHistory[0].Price)
}

func TestRunSkipsStaleListing(t *testing.T) {
	f := newFixture(t)
	f.setDay(50)
	posted := onDay(0) // 50 days old, limit is 40
	f.crawl(item(100, intPtr(500)))
	f.resolver.details[100] = &listing.Detail{
		ListingID:  100,
		URL:        "https://example.test/ads/100",
		Price:      intPtr(500),
		DatePosted: &posted,
	}

	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.New)
	assert.Equal(t, 1, summary.SkippedStale)

	_, err = f.store.FindByID(context.Background(), 100)
	assert.Error(t, err)
}

func TestRunResolveFailureIsolatedPerListing(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)), item(101, intPtr(600)))
	f.resolver.errs[100] = common.ErrTransient.WithDetails("status 503")

	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.ResolveFailures)

	_, err = f.store.FindByID(context.Background(), 101)
	assert.NoError(t, err)
}

func TestRunPriceChangeAppendsHistory(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)))
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	f.setDay(1)
	f.crawl(item(100, intPtr(550)))
	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PriceChanges)

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 500, *lc.InitialPrice)
	assert.Equal(t, 550, *lc.LastPrice)
	assert.Equal(t, 1, lc.PriceChanges)
	require.Len(t, lc.PriceHistory, 2)
}

func TestRunUnknownListPriceIsNotAChange(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)))
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	f.setDay(1)
	f.crawl(item(100, nil))
	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.PriceChanges)
	assert.Equal(t, 1, summary.SkippedNoListPrice)

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 500, *lc.LastPrice)
	assert.Len(t, lc.PriceHistory, 1)
	assert.Equal(t, onDay(1), lc.LastSeenAt)
}

func TestRunMissingBelowThresholdStaysActive(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)), item(200, intPtr(700)))
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	// Listing 100 disappears for two runs; 200 keeps the crawl non-empty.
	for day := 1; day <= 2; day++ {
		f.setDay(day)
		f.crawl(item(200, intPtr(700)))
		_, err = f.rec.Run(context.Background(), 5)
		require.NoError(t, err)
	}

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusActive, lc.Status)
	assert.Equal(t, 2, lc.ConsecutiveMissingDays)
	assert.Nil(t, lc.EndedAt)
}

func TestRunThirdMissingDayEndsAndPromotes(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)), item(200, intPtr(700)))
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	var summary *Summary
	for day := 1; day <= 3; day++ {
		f.setDay(day)
		f.crawl(item(200, intPtr(700)))
		summary, err = f.rec.Run(context.Background(), 5)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, summary.Ended)
	assert.Equal(t, 1, summary.Promoted)

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusEnded, lc.Status)
	require.NotNil(t, lc.Outcome)
	assert.Equal(t, listing.OutcomeRentedInferred, *lc.Outcome)
	require.NotNil(t, lc.DaysOnMarket)
	assert.Equal(t, 3, *lc.DaysOnMarket)
	require.NotNil(t, lc.RemovalSpeed)
	assert.Equal(t, listing.RemovalFast, *lc.RemovalSpeed)

	vp, err := f.store.FindByListingID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 500, vp.VerifiedPrice)
	// 0.5 + 0.25 (fast) + 0.1 (stable) = 0.85
	assert.Equal(t, 0.85, vp.ConfidenceScore)
	assert.Equal(t, listing.TierGold, vp.ConfidenceTier)
	assert.True(t, vp.EligibleForTraining)
}

func TestRunReactivationResetsState(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)), item(200, intPtr(700)))
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	for day := 1; day <= 3; day++ {
		f.setDay(day)
		f.crawl(item(200, intPtr(700)))
		_, err = f.rec.Run(context.Background(), 5)
		require.NoError(t, err)
	}

	// The listing reappears after ending.
	f.setDay(4)
	f.crawl(item(100, intPtr(500)), item(200, intPtr(700)))
	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.New, "a known id must not be re-created")
	assert.Equal(t, 1, summary.Reactivated)

	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusActive, lc.Status)
	assert.Equal(t, 0, lc.ConsecutiveMissingDays)
	assert.Nil(t, lc.EndedAt)
	assert.Equal(t, onDay(4), lc.LastSeenAt)
	assert.Equal(t, onDay(0), lc.FirstSeenAt, "first seen is preserved across reactivation")
}

func TestRunRepostLinksChainAndMarksOriginal(t *testing.T) {
	f := newFixture(t)
	floor, area, rooms := 3, 54.0, 2
	phone := "61234567"
	detail := func(id int64) *listing.Detail {
		return &listing.Detail{
			ListingID:       id,
			URL:             fmt.Sprintf("https://example.test/ads/%d", id),
			Price:           intPtr(500),
			FloorCurrent:    &floor,
			AreaM2:          &area,
			Rooms:           &rooms,
			PhoneNormalized: &phone,
		}
	}

	f.crawl(item(100, intPtr(500)), item(900, intPtr(700)))
	f.resolver.details[100] = detail(100)
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	// 100 goes missing for three runs and ends.
	for day := 1; day <= 3; day++ {
		f.setDay(day)
		f.crawl(item(900, intPtr(700)))
		_, err = f.rec.Run(context.Background(), 5)
		require.NoError(t, err)
	}

	// A fresh identity with the same structural fingerprint appears.
	f.setDay(4)
	f.crawl(item(101, intPtr(520)), item(900, intPtr(700)))
	f.resolver.details[101] = detail(101)
	summary, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RepostsLinked)

	repost, err := f.store.FindByID(context.Background(), 101)
	require.NoError(t, err)
	assert.True(t, repost.IsRepost)
	require.NotNil(t, repost.OriginalListingID)
	assert.Equal(t, int64(100), *repost.OriginalListingID)
	require.NotNil(t, repost.RepostChainID)

	original, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, original.RepostChainID)
	assert.Equal(t, *original.RepostChainID, *repost.RepostChainID)
	require.NotNil(t, original.Outcome)
	assert.Equal(t, listing.OutcomeReposted, *original.Outcome)
}

func TestPromoteSkipsRepostedOutcomeForever(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outcome := listing.OutcomeReposted
	days := 5
	speed := listing.RemovalFast
	endedAt := onDay(5)
	price := 500
	require.NoError(t, f.store.Create(ctx, &listing.Lifecycle{
		ListingID:    100,
		URL:          "https://example.test/ads/100",
		Status:       listing.StatusEnded,
		FirstSeenAt:  onDay(0),
		LastSeenAt:   onDay(5),
		EndedAt:      &endedAt,
		LastPrice:    &price,
		Outcome:      &outcome,
		DaysOnMarket: &days,
		RemovalSpeed: &speed,
	}))

	promoted, err := f.rec.Promote(ctx, 100)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Equal(t, 0, f.store.VerifiedCount())
}

func TestPromoteSkipsActiveAndRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := 500
	require.NoError(t, f.store.Create(ctx, &listing.Lifecycle{
		ListingID:   100,
		URL:         "https://example.test/ads/100",
		Status:      listing.StatusActive,
		FirstSeenAt: onDay(0),
		LastSeenAt:  onDay(0),
		LastPrice:   &price,
	}))
	promoted, err := f.rec.Promote(ctx, 100)
	require.NoError(t, err)
	assert.False(t, promoted)

	// Ended but a repost with a slow removal: rejected tier, no row.
	days := 45
	endedAt := onDay(45)
	require.NoError(t, f.store.Create(ctx, &listing.Lifecycle{
		ListingID:    101,
		URL:          "https://example.test/ads/101",
		Status:       listing.StatusEnded,
		FirstSeenAt:  onDay(0),
		LastSeenAt:   onDay(45),
		EndedAt:      &endedAt,
		LastPrice:    &price,
		IsRepost:     true,
		PriceChanges: 2,
		DaysOnMarket: &days,
	}))
	promoted, err = f.rec.Promote(ctx, 101)
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Equal(t, 0, f.store.VerifiedCount())
}

func TestPromoteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := 500
	area := 54.7
	days := 5
	endedAt := onDay(5)
	speed := listing.RemovalFast
	require.NoError(t, f.store.Create(ctx, &listing.Lifecycle{
		ListingID:    100,
		URL:          "https://example.test/ads/100",
		Status:       listing.StatusEnded,
		FirstSeenAt:  onDay(0),
		LastSeenAt:   onDay(5),
		EndedAt:      &endedAt,
		LastPrice:    &price,
		AreaM2:       &area,
		DaysOnMarket: &days,
		RemovalSpeed: &speed,
	}))

	for i := 0; i < 3; i++ {
		promoted, err := f.rec.Promote(ctx, 100)
		require.NoError(t, err)
		assert.True(t, promoted)
	}
	assert.Equal(t, 1, f.store.VerifiedCount())

	vp, err := f.store.FindByListingID(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, vp.VerifiedPricePerM2)
	// 500 / 54.7 = 9.1407..., stored to cents.
	assert.Equal(t, 9.14, *vp.VerifiedPricePerM2)
}

func TestRunHardScrapeFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.crawl(item(100, intPtr(500)))
	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	f.setDay(1)
	f.crawl()
	_, err = f.rec.Run(context.Background(), 5)
	require.ErrorIs(t, err, common.ErrScrapeFailedHard)

	// Nothing was written: the missing counter did not move.
	lc, err := f.store.FindByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, lc.ConsecutiveMissingDays)
	assert.Equal(t, listing.StatusActive, lc.Status)
}

func TestRunSoftScrapeFailureSkipsMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 150 active listings in store, only 50 crawled: under half, over the
	// 100-active floor, so missing processing is suspended for the run.
	var crawledItems []listing.ListedItem
	for i := int64(1); i <= 150; i++ {
		price := 500
		require.NoError(t, f.store.Create(ctx, &listing.Lifecycle{
			ListingID:    i,
			URL:          fmt.Sprintf("https://example.test/ads/%d", i),
			Status:       listing.StatusActive,
			FirstSeenAt:  onDay(0),
			LastSeenAt:   onDay(0),
			InitialPrice: &price,
			LastPrice:    &price,
		}))
		if i <= 50 {
			crawledItems = append(crawledItems, item(i, intPtr(500)))
		}
	}

	f.setDay(1)
	f.crawl(crawledItems...)
	summary, err := f.rec.Run(ctx, 5)
	require.NoError(t, err)
	assert.True(t, summary.SoftScrapeFailure)
	assert.Equal(t, 0, summary.Ended)

	lc, err := f.store.FindByID(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, 0, lc.ConsecutiveMissingDays, "missing counters must not move during a suspected scrape failure")

	// Crawled listings are still processed normally.
	seen, err := f.store.FindByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, onDay(1), seen.LastSeenAt)
}

func TestRunSoftScrapeFailureOddActiveBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 101 active, 50 crawled: 50 is under half of 101, so the guard must
	// trip even though truncating division would say otherwise.
	var crawledItems []listing.ListedItem
	for i := int64(1); i <= 101; i++ {
		price := 500
		require.NoError(t, f.store.Create(ctx, &listing.Lifecycle{
			ListingID:    i,
			URL:          fmt.Sprintf("https://example.test/ads/%d", i),
			Status:       listing.StatusActive,
			FirstSeenAt:  onDay(0),
			LastSeenAt:   onDay(0),
			InitialPrice: &price,
			LastPrice:    &price,
		}))
		if i <= 50 {
			crawledItems = append(crawledItems, item(i, intPtr(500)))
		}
	}

	f.setDay(1)
	f.crawl(crawledItems...)
	summary, err := f.rec.Run(ctx, 5)
	require.NoError(t, err)
	assert.True(t, summary.SoftScrapeFailure)

	lc, err := f.store.FindByID(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, 0, lc.ConsecutiveMissingDays)

	// One more crawled listing is exactly half or better: guard stays off.
	f.crawl(append(crawledItems, item(51, intPtr(500)))...)
	summary, err = f.rec.Run(ctx, 5)
	require.NoError(t, err)
	assert.False(t, summary.SoftScrapeFailure)
}

func TestRunMultiListingPhoneFlag(t *testing.T) {
	f := newFixture(t)
	phone := "61234567"
	withPhone := func(id int64, area float64) *listing.Detail {
		rooms := 2
		return &listing.Detail{
			ListingID:       id,
			URL:             fmt.Sprintf("https://example.test/ads/%d", id),
			Price:           intPtr(500),
			AreaM2:          &area,
			Rooms:           &rooms,
			PhoneNormalized: &phone,
		}
	}

	f.crawl(item(1, intPtr(500)), item(2, intPtr(500)), item(3, intPtr(500)), item(4, intPtr(500)))
	for i := int64(1); i <= 4; i++ {
		f.resolver.details[i] = withPhone(i, 40+float64(i)*3)
	}

	_, err := f.rec.Run(context.Background(), 5)
	require.NoError(t, err)

	flagged := 0
	for i := int64(1); i <= 4; i++ {
		lc, err := f.store.FindByID(context.Background(), i)
		require.NoError(t, err)
		if lc.IsMultiListingPhone {
			flagged++
		}
	}
	// The first three creations see fewer than three prior listings on the
	// phone; only the fourth crosses the threshold.
	assert.Equal(t, 1, flagged)
}

func TestRunFullLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Day 0: appears at 500.
	f.crawl(item(100, intPtr(500)), item(900, intPtr(900)))
	_, err := f.rec.Run(ctx, 5)
	require.NoError(t, err)

	// Days 1-4: present, price moves to 550 on day 5.
	for day := 1; day <= 4; day++ {
		f.setDay(day)
		f.crawl(item(100, intPtr(500)), item(900, intPtr(900)))
		_, err = f.rec.Run(ctx, 5)
		require.NoError(t, err)
	}
	f.setDay(5)
	f.crawl(item(100, intPtr(550)), item(900, intPtr(900)))
	_, err = f.rec.Run(ctx, 5)
	require.NoError(t, err)

	// Days 6-8: gone.
	var summary *Summary
	for day := 6; day <= 8; day++ {
		f.setDay(day)
		f.crawl(item(900, intPtr(900)))
		summary, err = f.rec.Run(ctx, 5)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, summary.Ended)

	lc, err := f.store.FindByID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusEnded, lc.Status)
	assert.Equal(t, 8, *lc.DaysOnMarket)
	assert.Equal(t, listing.RemovalMedium, *lc.RemovalSpeed)
	assert.Equal(t, 1, lc.PriceChanges)
	require.Len(t, lc.PriceHistory, 2)
	assert.Equal(t, 550, *lc.LastPrice)

	// Price moved, removal within 14 days: 0.5 + 0.15 - 0.15 = 0.5, BRONZE.
	vp, err := f.store.FindByListingID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 550, vp.VerifiedPrice)
	assert.Equal(t, 0.5, vp.ConfidenceScore)
	assert.Equal(t, listing.TierBronze, vp.ConfidenceTier)
	assert.False(t, vp.EligibleForTraining)
}
