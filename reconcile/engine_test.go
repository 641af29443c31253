package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
	"github.com/warp/attribution-engine/reconcile/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var runAt = time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC)

func day(n int) ledger.Date {
	return ledger.NewDate(2025, time.January, 1).AddDays(n - 1)
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertUSD(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, usd(want).Equal(got), "want %s, got %s", want, got.String())
}

func newFixture(t *testing.T) (*store.Memory, *reconcile.Engine) {
	t.Helper()
	mem := store.NewMemory()
	mem.RegisterProduct("ASIN-P", "P")
	mem.RegisterProduct("ISBN-P", "P")
	mem.RegisterProduct("ASIN-Q", "Q")
	mem.RegisterProduct("ISBN-Q", "Q")

	eng := reconcile.NewEngine(mem, mem, mem)
	eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return mem, eng
}

func adsEntry(d ledger.Date, items ...reconcile.AdsSaleItem) reconcile.AdsDailyFeedEntry {
	return reconcile.AdsDailyFeedEntry{Date: d, Items: items}
}

func adsItem(raw string, units, secondary int64) reconcile.AdsSaleItem {
	return reconcile.AdsSaleItem{RawProductID: raw, UnitsSold: units, SecondaryRead: secondary}
}

func salesEntry(d ledger.Date, items ...reconcile.ActualSaleItem) reconcile.ActualSalesFeedEntry {
	return reconcile.ActualSalesFeedEntry{Date: d, Items: items}
}

func saleItem(raw string, units, secondary int64, sales, royalty, printCost string) reconcile.ActualSaleItem {
	return reconcile.ActualSaleItem{
		RawProductID:    raw,
		UnitsSold:       units,
		SecondaryRead:   secondary,
		SalesAmount:     usd(sales),
		RoyaltyAmount:   decimal.NewNullDecimal(usd(royalty)),
		PrintCostAmount: usd(printCost),
	}
}

func mustDoc(t *testing.T, mem *store.Memory, d ledger.Date) *reconcile.ReconciledDocument {
	t.Helper()
	doc, err := mem.GetReconciledDocument(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, doc, "no document for %s", d)
	return doc
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	skipped, completed, failed int
	unknown                    map[reconcile.FeedName]int
	expiredUnits, matchedUnits int64
}

func (o *recordingObserver) RunSkipped(string)                      { o.skipped++ }
func (o *recordingObserver) RunCompleted(reconcile.Result, float64) { o.completed++ }
func (o *recordingObserver) RunFailed()                             { o.failed++ }
func (o *recordingObserver) UnknownProduct(f reconcile.FeedName) {
	if o.unknown == nil {
		o.unknown = make(map[reconcile.FeedName]int)
	}
	o.unknown[f]++
}
func (o *recordingObserver) LotsExpired(units, _ int64)  { o.expiredUnits += units }
func (o *recordingObserver) UnitsMatched(units, _ int64) { o.matchedUnits += units }

// =============================================================================
// SCENARIO
// =============================================================================

func TestReconcile_AdClickMatchedBySaleFourDaysLater(t *testing.T) {
	// GIVEN: 5 ad-attributed units (1000 pages) on day 1, 3 actual units on day 5
	// WHEN: Reconciling the full history
	// THEN: Day 5 is fully ad-driven, day 1 keeps 2 units / 400 pages unmatched
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 5, 1000)))
	mem.PutSales(salesEntry(day(5), saleItem("ISBN-P", 3, 600, "30.00", "9.00", "3.00")))

	result, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 5, result.ReconciledDays)
	assert.Equal(t, day(1), result.StartDate)
	assert.Equal(t, day(5), result.EndDate)
	assert.False(t, result.SeededFromCheckpoint)

	ship := mustDoc(t, mem, day(5)).ByProduct["P"]
	require.NotNil(t, ship)
	assert.Equal(t, int64(3), ship.AdsShipDateUnits)
	assert.Equal(t, int64(0), ship.OrganicUnits)
	assert.Equal(t, int64(600), ship.AdsShipDateSecondary)
	assertUSD(t, "30.00", ship.AdsShipDateSalesUSD)
	assertUSD(t, "9.00", ship.AdsShipDateRoyaltyUSD)
	assertUSD(t, "3.00", ship.AdsShipDatePrintCostUSD)
	assertUSD(t, "0", ship.OrganicSalesUSD)

	click := mustDoc(t, mem, day(1))
	p := click.ByProduct["P"]
	require.NotNil(t, p)
	assert.Equal(t, int64(5), p.AdsAttributedUnits)
	assert.Equal(t, int64(3), p.AdsClickDateUnits)
	assert.Equal(t, int64(600), p.AdsClickDateSecondary)
	assertUSD(t, "30.00", p.AdsClickDateSalesUSD)
	assert.Equal(t, int64(2), p.UnmatchedAdsClickDateUnits)
	assert.Equal(t, int64(400), p.UnmatchedAdsClickDateSecondary)
	assert.Equal(t, int64(2), click.Totals.UnmatchedAdsClickDateUnits)

	assert.Equal(t, map[ledger.ProductKey][]ledger.Lot{
		"P": {{OriginDate: day(1), UnitsRemaining: 2, SecondaryRemaining: 400}},
	}, mustDoc(t, mem, day(5)).EndingUnmatchedLots)
}

func TestReconcile_ExpiredLotIsUnmatchedOnItsClickDate(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 5, 1000)))
	mem.PutSales(
		salesEntry(day(5), saleItem("ISBN-P", 3, 600, "30.00", "9.00", "3.00")),
		salesEntry(day(30), saleItem("ISBN-P", 1, 0, "10.00", "3.00", "1.00")),
	)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	p := mustDoc(t, mem, day(1)).ByProduct["P"]
	assert.Equal(t, int64(2), p.UnmatchedAdsClickDateUnits)
	assert.Equal(t, int64(400), p.UnmatchedAdsClickDateSecondary)

	late := mustDoc(t, mem, day(30)).ByProduct["P"]
	assert.Equal(t, int64(0), late.AdsShipDateUnits)
	assert.Equal(t, int64(1), late.OrganicUnits)
	assertUSD(t, "10.00", late.OrganicSalesUSD)

	assert.Empty(t, mustDoc(t, mem, day(16)).EndingUnmatchedLots, "lot expired on day 16")
	assert.NotEmpty(t, mustDoc(t, mem, day(15)).EndingUnmatchedLots)
}

// =============================================================================
// LOOKBACK BOUNDARY
// =============================================================================

func TestReconcile_LookbackBoundary(t *testing.T) {
	// Lot from day 1 can match on day 15 (14 days later) but not day 16.
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 2, 0)))
	mem.PutSales(
		salesEntry(day(15), saleItem("ISBN-P", 1, 0, "10", "3", "1")),
		salesEntry(day(16), saleItem("ISBN-P", 1, 0, "10", "3", "1")),
	)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	assert.Equal(t, int64(1), mustDoc(t, mem, day(15)).Totals.AdsShipDateUnits)
	assert.Equal(t, int64(0), mustDoc(t, mem, day(16)).Totals.AdsShipDateUnits)
	assert.Equal(t, int64(1), mustDoc(t, mem, day(16)).Totals.OrganicUnits)

	click := mustDoc(t, mem, day(1)).Totals
	assert.Equal(t, int64(1), click.AdsClickDateUnits)
	assert.Equal(t, int64(1), click.UnmatchedAdsClickDateUnits)
}

func TestReconcile_SmallerLookbackWindow(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	eng.LookbackDays = 3
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 2, 0)))
	mem.PutSales(salesEntry(day(5), saleItem("ISBN-P", 1, 0, "10", "3", "1")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	assert.Equal(t, int64(1), mustDoc(t, mem, day(5)).Totals.OrganicUnits)
	assert.Equal(t, int64(2), mustDoc(t, mem, day(1)).Totals.UnmatchedAdsClickDateUnits)
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestReconcile_PartialMatchSplitsMoneyByUnitRatio(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)))
	mem.PutSales(salesEntry(day(2), saleItem("ISBN-P", 4, 0, "10.00", "3.00", "1.00")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	m := mustDoc(t, mem, day(2)).Totals
	assert.Equal(t, int64(1), m.AdsShipDateUnits)
	assert.Equal(t, int64(3), m.OrganicUnits)
	assertUSD(t, "2.50", m.AdsShipDateSalesUSD)
	assertUSD(t, "0.75", m.AdsShipDateRoyaltyUSD)
	assertUSD(t, "0.25", m.AdsShipDatePrintCostUSD)
	assertUSD(t, "7.50", m.OrganicSalesUSD)
	assertUSD(t, "2.25", m.OrganicRoyaltyUSD)
	assertUSD(t, "0.75", m.OrganicPrintCostUSD)
}

func TestReconcile_SecondaryMatchedIndependently(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 5, 100)))
	mem.PutSales(salesEntry(day(2), saleItem("ISBN-P", 2, 300, "20", "6", "2")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	m := mustDoc(t, mem, day(2)).Totals
	assert.Equal(t, int64(2), m.AdsShipDateUnits, "all units matched")
	assert.Equal(t, int64(100), m.AdsShipDateSecondary, "only 100 pages were attributed")
	assert.Equal(t, int64(200), m.OrganicSecondary)
	assertUSD(t, "20", m.AdsShipDateSalesUSD)
}

func TestReconcile_SaleSpanningTwoClickDates(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(
		adsEntry(day(1), adsItem("ASIN-P", 2, 0)),
		adsEntry(day(2), adsItem("ASIN-P", 2, 0)),
	)
	mem.PutSales(salesEntry(day(3), saleItem("ISBN-P", 3, 0, "30.00", "9.00", "3.00")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	first := mustDoc(t, mem, day(1)).Totals
	assert.Equal(t, int64(2), first.AdsClickDateUnits)
	assertUSD(t, "20.00", first.AdsClickDateSalesUSD)

	second := mustDoc(t, mem, day(2)).Totals
	assert.Equal(t, int64(1), second.AdsClickDateUnits)
	assertUSD(t, "10.00", second.AdsClickDateSalesUSD)
	assertUSD(t, "3.00", second.AdsClickDateRoyaltyUSD)
	assert.Equal(t, int64(1), second.UnmatchedAdsClickDateUnits)
}

func TestReconcile_MoneyRoundedToCents(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)))
	mem.PutSales(salesEntry(day(2), saleItem("ISBN-P", 3, 0, "10.00", "0", "0")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	m := mustDoc(t, mem, day(2)).Totals
	assertUSD(t, "3.33", m.AdsShipDateSalesUSD)
	assertUSD(t, "6.67", m.OrganicSalesUSD)
}

func TestReconcile_ZeroActualUnitsIsAllOrganic(t *testing.T) {
	// Page-read royalties arrive with no unit sales.
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 500)))
	mem.PutSales(salesEntry(day(2), saleItem("ISBN-P", 0, 200, "0", "1.20", "0")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	m := mustDoc(t, mem, day(2)).Totals
	assert.Equal(t, int64(0), m.AdsShipDateUnits)
	assert.Equal(t, int64(200), m.AdsShipDateSecondary)
	assertUSD(t, "0", m.AdsShipDateRoyaltyUSD)
	assertUSD(t, "1.20", m.OrganicRoyaltyUSD)
}

func TestReconcile_RoyaltyFallsBackToProfit(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-Q", 1, 0)))

	noRoyalty := saleItem("ISBN-P", 1, 0, "10", "0", "1")
	noRoyalty.RoyaltyAmount = decimal.NullDecimal{}
	noRoyalty.ProfitAmount = usd("4.00")

	zeroRoyalty := saleItem("ISBN-Q", 1, 0, "10", "0", "1")
	zeroRoyalty.ProfitAmount = usd("5.00")

	mem.PutSales(salesEntry(day(1), noRoyalty, zeroRoyalty))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	doc := mustDoc(t, mem, day(1))
	assertUSD(t, "4.00", doc.ByProduct["P"].ActualRoyaltyUSD)
	// A reported royalty wins even when zero.
	assertUSD(t, "0", doc.ByProduct["Q"].ActualRoyaltyUSD)
}

func TestReconcile_DuplicateRowsForSameProductAreSummed(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.RegisterProduct("ASIN-P-PAPERBACK", "P")
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0), adsItem("ASIN-P-PAPERBACK", 2, 0)))
	mem.PutSales(salesEntry(day(2), saleItem("ISBN-P", 2, 0, "20", "6", "2")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	click := mustDoc(t, mem, day(1)).ByProduct["P"]
	assert.Equal(t, int64(3), click.AdsAttributedUnits)
	assert.Equal(t, int64(2), click.AdsClickDateUnits)
	assert.Equal(t, int64(1), click.UnmatchedAdsClickDateUnits)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func loadMixedHistory(mem *store.Memory) {
	mem.PutAds(
		adsEntry(day(1), adsItem("ASIN-P", 4, 900), adsItem("ASIN-Q", 1, 0)),
		adsEntry(day(3), adsItem("ASIN-P", 2, 0)),
		adsEntry(day(6), adsItem("ASIN-Q", 3, 1200)),
		adsEntry(day(12), adsItem("ASIN-P", 5, 300)),
		adsEntry(day(21), adsItem("ASIN-P", 1, 50), adsItem("ASIN-Q", 2, 0)),
		adsEntry(day(27), adsItem("ASIN-Q", 4, 800)),
	)
	mem.PutSales(
		salesEntry(day(2), saleItem("ISBN-P", 3, 400, "29.97", "10.49", "6.30")),
		salesEntry(day(4), saleItem("ISBN-P", 7, 1000, "69.93", "24.47", "14.70"), saleItem("ISBN-Q", 2, 0, "25.98", "7.10", "5.00")),
		salesEntry(day(9), saleItem("ISBN-Q", 3, 900, "38.97", "11.33", "7.50")),
		salesEntry(day(13), saleItem("ISBN-P", 3, 100, "29.97", "10.49", "6.30")),
		salesEntry(day(20), saleItem("ISBN-P", 1, 0, "9.99", "3.50", "2.10"), saleItem("ISBN-Q", 1, 700, "12.99", "3.77", "2.50")),
		salesEntry(day(24), saleItem("ISBN-P", 2, 200, "19.98", "6.99", "4.20")),
		salesEntry(day(30), saleItem("ISBN-Q", 5, 400, "64.95", "18.88", "12.50")),
	)
}

func TestReconcile_ConservationAcrossHistory(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	loadMixedHistory(mem)

	result, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	tolerance := usd("0.01")
	attributed := map[ledger.ProductKey]int64{}
	resolved := map[ledger.ProductKey]int64{}
	var shipUnits, clickUnits, shipSecondary, clickSecondary int64

	for _, d := range ledger.DateRange(result.StartDate, result.EndDate) {
		doc := mustDoc(t, mem, d)
		for key, m := range doc.ByProduct {
			assert.Equal(t, m.ActualUnits, m.AdsShipDateUnits+m.OrganicUnits, "%s %s units", d, key)
			assert.Equal(t, m.ActualSecondary, m.AdsShipDateSecondary+m.OrganicSecondary, "%s %s secondary", d, key)
			assert.True(t, m.AdsShipDateSalesUSD.Add(m.OrganicSalesUSD).Sub(m.ActualSalesUSD).Abs().LessThanOrEqual(tolerance))
			assert.True(t, m.AdsShipDateRoyaltyUSD.Add(m.OrganicRoyaltyUSD).Sub(m.ActualRoyaltyUSD).Abs().LessThanOrEqual(tolerance))
			assert.True(t, m.AdsShipDatePrintCostUSD.Add(m.OrganicPrintCostUSD).Sub(m.ActualPrintCostUSD).Abs().LessThanOrEqual(tolerance))
			assert.GreaterOrEqual(t, m.OrganicUnits, int64(0))

			attributed[key] += m.AdsAttributedUnits
			resolved[key] += m.AdsClickDateUnits + m.UnmatchedAdsClickDateUnits
			shipUnits += m.AdsShipDateUnits
			clickUnits += m.AdsClickDateUnits
			shipSecondary += m.AdsShipDateSecondary
			clickSecondary += m.AdsClickDateSecondary
		}
		for _, lots := range doc.EndingUnmatchedLots {
			for _, lot := range lots {
				assert.GreaterOrEqual(t, lot.UnitsRemaining, int64(0))
				assert.GreaterOrEqual(t, lot.SecondaryRemaining, int64(0))
			}
		}
	}

	assert.Equal(t, attributed, resolved, "every attributed unit is either matched or unmatched")
	assert.Equal(t, shipUnits, clickUnits)
	assert.Equal(t, shipSecondary, clickSecondary)
}

func TestReconcile_FIFOAcrossClickDates(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	loadMixedHistory(mem)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	// Day 2 takes 3 of day 1's 4 P units; day 4 takes the last day-1 unit
	// before touching day 3.
	assert.Equal(t, int64(4), mustDoc(t, mem, day(1)).ByProduct["P"].AdsClickDateUnits)
	assert.Equal(t, int64(2), mustDoc(t, mem, day(3)).ByProduct["P"].AdsClickDateUnits)
	assert.Equal(t, int64(4), mustDoc(t, mem, day(4)).ByProduct["P"].OrganicUnits)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestReconcile_SettlementCutoff(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)), adsEntry(day(40), adsItem("ASIN-P", 1, 0)))
	mem.PutSales(salesEntry(day(1), saleItem("ISBN-P", 1, 0, "1", "1", "0")), salesEntry(day(30), saleItem("ISBN-P", 1, 0, "1", "1", "0")))

	result, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	assert.Equal(t, day(16), result.SettledThroughDate)
	assert.True(t, mustDoc(t, mem, day(1)).IsSettled)
	assert.True(t, mustDoc(t, mem, day(16)).IsSettled)
	assert.False(t, mustDoc(t, mem, day(17)).IsSettled)
	assert.False(t, mustDoc(t, mem, day(40)).IsSettled)
}

// =============================================================================
// IDEMPOTENCE AND CHECKPOINTS
// =============================================================================

func snapshotJSON(mem *store.Memory, from, to ledger.Date) map[ledger.Date]string {
	out := map[ledger.Date]string{}
	for _, d := range ledger.DateRange(from, to) {
		out[d] = string(mem.DocumentJSON(d))
	}
	return out
}

func TestReconcile_RerunIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	loadMixedHistory(mem)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)
	first := snapshotJSON(mem, day(1), day(30))

	_, err = eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	assert.Equal(t, first, snapshotJSON(mem, day(1), day(30)))
}

func TestReconcile_SeededRerunMatchesFullRecompute(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	loadMixedHistory(mem)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)
	full := snapshotJSON(mem, day(1), day(30))

	result, err := eng.Reconcile(ctx, day(20), runAt)
	require.NoError(t, err)

	assert.True(t, result.SeededFromCheckpoint)
	assert.Equal(t, day(6), result.StartDate)
	assert.Equal(t, 25, result.ReconciledDays)
	assert.Equal(t, full, snapshotJSON(mem, day(1), day(30)))
}

func TestReconcile_MissingCheckpointFallsBackToColdStart(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	loadMixedHistory(mem)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)
	full := snapshotJSON(mem, day(1), day(30))

	mem.DeleteDocument(day(5))
	result, err := eng.Reconcile(ctx, day(20), runAt)
	require.NoError(t, err)

	assert.False(t, result.SeededFromCheckpoint)
	assert.Equal(t, day(1), result.StartDate)
	assert.Equal(t, full, snapshotJSON(mem, day(1), day(30)))
}

func TestReconcile_CorrectedSalesChangeOnlyAffectedDates(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	loadMixedHistory(mem)

	_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)
	before := mustDoc(t, mem, day(24)).Totals

	// Upstream correction: day 24 sold 3 units, not 2.
	mem.PutSales(salesEntry(day(24), saleItem("ISBN-P", 3, 200, "29.97", "10.49", "6.30")))
	_, err = eng.Reconcile(ctx, day(24), runAt)
	require.NoError(t, err)

	after := mustDoc(t, mem, day(24)).Totals
	assert.Equal(t, before.ActualUnits+1, after.ActualUnits)

	// A fresh cold start over the corrected data agrees with the incremental run.
	incremental := snapshotJSON(mem, day(10), day(30))
	fresh, freshEng := newFixture(t)
	loadMixedHistory(fresh)
	fresh.PutSales(salesEntry(day(24), saleItem("ISBN-P", 3, 200, "29.97", "10.49", "6.30")))
	_, err = freshEng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)
	assert.Equal(t, snapshotJSON(fresh, day(10), day(30)), incremental)
}

// =============================================================================
// FAILURE POLICY
// =============================================================================

func TestReconcile_MissingSourceDataIsSkipped(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	obs := &recordingObserver{}
	eng.Observer = obs
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)))

	result, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, reconcile.ErrMissingSourceData.Error(), result.Reason)
	assert.Equal(t, 0, result.ReconciledDays)
	assert.Equal(t, 0, mem.Upserts)
	assert.Equal(t, 1, obs.skipped)
}

func TestReconcile_InvalidRange(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)))
	mem.PutSales(salesEntry(day(10), saleItem("ISBN-P", 1, 0, "1", "1", "0")))

	_, err := eng.Reconcile(ctx, day(100), runAt)

	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrInvalidRange)
	assert.True(t, reconcile.IsClientError(err))
	var rangeErr *reconcile.InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, day(86), rangeErr.Start)
	assert.Equal(t, 0, mem.Upserts)
}

func TestReconcile_UnknownProductIsSkipped(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	obs := &recordingObserver{}
	eng.Observer = obs
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 2, 0), adsItem("ASIN-NOPE", 9, 0)))
	mem.PutSales(salesEntry(day(2),
		saleItem("ISBN-NOPE", 4, 0, "40", "12", "4"),
		saleItem("ISBN-P", 1, 0, "10", "3", "1"),
	))

	result, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReconciledDays)

	doc := mustDoc(t, mem, day(2))
	assert.Len(t, doc.ByProduct, 1)
	assert.Equal(t, int64(1), doc.Totals.ActualUnits)
	assert.Equal(t, int64(1), doc.Totals.AdsShipDateUnits)
	assert.Equal(t, int64(2), mustDoc(t, mem, day(1)).Totals.AdsAttributedUnits)

	assert.Equal(t, 1, obs.unknown[reconcile.FeedAds])
	assert.Equal(t, 1, obs.unknown[reconcile.FeedActualSales])
	assert.Equal(t, 1, obs.completed)
	assert.Equal(t, int64(1), obs.matchedUnits)
}

type failingDocuments struct {
	*store.Memory
	err error
}

func (f failingDocuments) UpsertReconciledDocuments(context.Context, []reconcile.ReconciledDocument) error {
	return f.err
}

type failingRegistry struct{ err error }

func (f failingRegistry) ResolveCanonicalProduct(context.Context, string) (ledger.ProductKey, error) {
	return "", f.err
}

func TestReconcile_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")

	mem, _ := newFixture(t)
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)))
	mem.PutSales(salesEntry(day(2), saleItem("ISBN-P", 1, 0, "1", "1", "0")))

	t.Run("upsert", func(t *testing.T) {
		obs := &recordingObserver{}
		eng := reconcile.NewEngine(mem, mem, failingDocuments{Memory: mem, err: boom})
		eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		eng.Observer = obs

		_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, obs.failed)
	})

	t.Run("registry", func(t *testing.T) {
		eng := reconcile.NewEngine(mem, failingRegistry{err: boom}, mem)
		eng.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

		_, err := eng.Reconcile(ctx, ledger.Date{}, runAt)
		assert.ErrorIs(t, err, boom)
		assert.False(t, reconcile.IsClientError(err))
	})
}

func TestReconcile_StampsDocumentsWithClockWhenNowIsZero(t *testing.T) {
	ctx := context.Background()
	mem, eng := newFixture(t)
	eng.Clock = func() time.Time { return runAt }
	mem.PutAds(adsEntry(day(1), adsItem("ASIN-P", 1, 0)))
	mem.PutSales(salesEntry(day(1), saleItem("ISBN-P", 1, 0, "1", "1", "0")))

	_, err := eng.Reconcile(ctx, ledger.Date{}, time.Time{})
	require.NoError(t, err)

	assert.True(t, runAt.Equal(mustDoc(t, mem, day(1)).ReconciledAt))
}
