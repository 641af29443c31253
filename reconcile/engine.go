/*
engine.go - The day-by-day reconciliation walk

PURPOSE:
  Rebuilds every ReconciledDocument in a bounded window from the raw feeds,
  starting from the checkpoint left by the previous day's document.

ALGORITHM (per run):
  1. Read both feeds' date bounds; an empty feed skips the run
  2. start = max(earliestChanged - lookback, earliest raw date)
  3. Seed the ledger from the document at start-1, or cold start from the
     earliest raw date when that document does not exist
  4. Walk each date in [start, end]:
       a. expire lots older than the lookback window (unmatched, on their click date)
       b. append today's ad conversions as new lots
       c. match today's actual sales, split money, credit click dates
       d. snapshot the ledger into today's document
  5. Lots still open at the end are unmatched on their click-date documents
  6. Round money, upsert the whole window in one batch

CONCURRENCY:
  A run is sequential and owns its ledger. Two overlapping runs would
  double-count lots and corrupt checkpoints; callers must serialize them.

SEE ALSO:
  - ledger/ledger.go: the FIFO lot ledger
  - allocation.go: money splits
  - checkpoint.go: seeding
*/
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/attribution-engine/ledger"
)

const (
	// DefaultLookbackDays is how long a click stays eligible to match a sale.
	DefaultLookbackDays = 14

	// DefaultMoneyPlaces is the decimal precision money is rounded to.
	DefaultMoneyPlaces = 2
)

// Engine reconciles the ads feed against the actual-sales feed.
type Engine struct {
	Feeds     FeedSource
	Registry  ProductRegistry
	Documents DocumentStore

	LookbackDays int
	MoneyPlaces  int32

	Logger   *slog.Logger
	Observer Observer
	Clock    func() time.Time
}

// NewEngine builds an engine with the default lookback window and precision.
// One store often implements all three collaborators.
func NewEngine(feeds FeedSource, registry ProductRegistry, docs DocumentStore) *Engine {
	return &Engine{
		Feeds:        feeds,
		Registry:     registry,
		Documents:    docs,
		LookbackDays: DefaultLookbackDays,
		MoneyPlaces:  DefaultMoneyPlaces,
	}
}

// Reconcile recomputes every document affected by data that changed on or
// after earliestChanged. A zero earliestChanged recomputes the full history.
// A zero now stamps documents with the engine clock.
func (e *Engine) Reconcile(ctx context.Context, earliestChanged ledger.Date, now time.Time) (*Result, error) {
	started := time.Now()
	observer := e.observer()

	result, err := e.reconcile(ctx, earliestChanged, now)
	if err != nil {
		observer.RunFailed()
		return nil, err
	}
	if result.Skipped {
		observer.RunSkipped(result.Reason)
		return result, nil
	}
	observer.RunCompleted(*result, time.Since(started).Seconds())
	return result, nil
}

func (e *Engine) reconcile(ctx context.Context, earliestChanged ledger.Date, now time.Time) (*Result, error) {
	logger := e.logger()
	lookback := e.LookbackDays
	if lookback < 0 {
		return nil, fmt.Errorf("lookback window must not be negative, got %d", lookback)
	}

	// 1. Feed bounds
	adsBounds, err := e.Feeds.FeedDateBounds(ctx, FeedAds)
	if err != nil {
		return nil, fmt.Errorf("ads feed bounds: %w", err)
	}
	salesBounds, err := e.Feeds.FeedDateBounds(ctx, FeedActualSales)
	if err != nil {
		return nil, fmt.Errorf("actual sales feed bounds: %w", err)
	}
	if adsBounds == nil || salesBounds == nil {
		logger.Info("reconciliation skipped", slog.String("reason", ErrMissingSourceData.Error()))
		return &Result{Skipped: true, Reason: ErrMissingSourceData.Error()}, nil
	}

	// 2. Window and seed
	earliest := ledger.MinDate(adsBounds.Min, salesBounds.Min)
	end := ledger.MaxDate(adsBounds.Max, salesBounds.Max)
	start := earliest
	if !earliestChanged.IsZero() {
		start = ledger.MaxDate(earliestChanged.AddDays(-lookback), earliest)
	}
	if start.After(end) {
		return nil, &InvalidRangeError{Start: start, End: end, Detail: "earliest changed date is past the end of both feeds"}
	}

	lots, seeded, err := LoadCheckpoint(ctx, e.Documents, start.AddDays(-1))
	if err != nil {
		return nil, err
	}
	if !seeded {
		start = earliest
		lots = ledger.New()
	}

	// 3. Settlement cutoff
	settledThrough := ledger.MinDate(adsBounds.Max, salesBounds.Max).AddDays(-lookback)

	logger.Info("reconciliation starting",
		slog.String("start", start.String()),
		slog.String("end", end.String()),
		slog.Bool("seeded", seeded),
		slog.Int("seed_lots", lots.Len()),
		slog.String("settled_through", settledThrough.String()),
	)

	// 4. Load inputs and blank documents
	resolver := NewResolver(e.Registry, logger, e.observer())
	ads, err := e.loadAds(ctx, resolver, start, end)
	if err != nil {
		return nil, err
	}
	sales, err := e.loadSales(ctx, resolver, start, end)
	if err != nil {
		return nil, err
	}

	stamp := now
	if stamp.IsZero() {
		stamp = e.clock()
	}
	stamp = stamp.UTC()

	dates := ledger.DateRange(start, end)
	docs := make(map[ledger.Date]*ReconciledDocument, len(dates))
	for _, d := range dates {
		docs[d] = newDocument(d, !d.After(settledThrough), stamp)
	}

	// 5. Walk
	w := &walk{docs: docs, lots: lots, lookback: lookback, logger: logger}
	for _, d := range dates {
		w.day(d, ads[d], sales[d])
	}

	// 6. Lots still open at the end of the window
	for product, open := range lots.Snapshot() {
		for _, lot := range open {
			w.creditUnmatched(product, lot)
		}
	}

	// 7. Round and persist
	out := make([]ReconciledDocument, 0, len(dates))
	for _, d := range dates {
		doc := docs[d]
		doc.round(e.moneyPlaces())
		out = append(out, *doc)
	}
	if err := e.Documents.UpsertReconciledDocuments(ctx, out); err != nil {
		return nil, fmt.Errorf("upsert reconciled documents: %w", err)
	}

	e.observer().LotsExpired(w.expiredUnits, w.expiredSecondary)
	e.observer().UnitsMatched(w.matchedUnits, w.matchedSecondary)
	if w.outsideWindow > 0 {
		logger.Debug("click-date credits before the window left to the persisted documents",
			slog.Int("count", w.outsideWindow))
	}

	result := &Result{
		ReconciledDays:       len(dates),
		StartDate:            start,
		EndDate:              end,
		SeededFromCheckpoint: seeded,
		SettledThroughDate:   settledThrough,
	}
	logger.Info("reconciliation complete",
		slog.Int("reconciled_days", result.ReconciledDays),
		slog.Int("skipped_entries", resolver.Skipped()),
		slog.String("settled_through", settledThrough.String()),
	)
	return result, nil
}

// =============================================================================
// INPUT LOADING
// =============================================================================

func (e *Engine) loadAds(ctx context.Context, r *Resolver, start, end ledger.Date) (map[ledger.Date]map[ledger.ProductKey]AdsQuantity, error) {
	entries, err := e.Feeds.ListAdsFeed(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list ads feed: %w", err)
	}
	out := make(map[ledger.Date]map[ledger.ProductKey]AdsQuantity)
	for _, entry := range entries {
		if entry.Date.Before(start) || entry.Date.After(end) {
			continue
		}
		for _, item := range entry.Items {
			key, ok, err := r.Resolve(ctx, FeedAds, entry.Date, item.RawProductID)
			if err != nil {
				return nil, fmt.Errorf("resolve ads product %q: %w", item.RawProductID, err)
			}
			if !ok {
				continue
			}
			day := out[entry.Date]
			if day == nil {
				day = make(map[ledger.ProductKey]AdsQuantity)
				out[entry.Date] = day
			}
			q := day[key]
			q.Units += item.UnitsSold
			q.Secondary += item.SecondaryRead
			day[key] = q
		}
	}
	return out, nil
}

func (e *Engine) loadSales(ctx context.Context, r *Resolver, start, end ledger.Date) (map[ledger.Date]map[ledger.ProductKey]ActualSale, error) {
	entries, err := e.Feeds.ListActualSalesFeed(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list actual sales feed: %w", err)
	}
	out := make(map[ledger.Date]map[ledger.ProductKey]ActualSale)
	for _, entry := range entries {
		if entry.Date.Before(start) || entry.Date.After(end) {
			continue
		}
		for _, item := range entry.Items {
			key, ok, err := r.Resolve(ctx, FeedActualSales, entry.Date, item.RawProductID)
			if err != nil {
				return nil, fmt.Errorf("resolve sales product %q: %w", item.RawProductID, err)
			}
			if !ok {
				continue
			}
			day := out[entry.Date]
			if day == nil {
				day = make(map[ledger.ProductKey]ActualSale)
				out[entry.Date] = day
			}
			day[key] = day[key].add(ActualSale{
				Units:     item.UnitsSold,
				Secondary: item.SecondaryRead,
				Sales:     item.SalesAmount,
				Royalty:   item.RoyaltyOrProfit(),
				PrintCost: item.PrintCostAmount,
			})
		}
	}
	return out, nil
}

// =============================================================================
// WALK - One run's mutable state
// =============================================================================

type walk struct {
	docs     map[ledger.Date]*ReconciledDocument
	lots     *ledger.Ledger
	lookback int
	logger   *slog.Logger

	expiredUnits     int64
	expiredSecondary int64
	matchedUnits     int64
	matchedSecondary int64
	outsideWindow    int
}

func (w *walk) day(d ledger.Date, ads map[ledger.ProductKey]AdsQuantity, sales map[ledger.ProductKey]ActualSale) {
	doc := w.docs[d]

	// a. Expire
	for _, r := range w.lots.PruneExpired(d, w.lookback) {
		w.expiredUnits += r.Lot.UnitsRemaining
		w.expiredSecondary += r.Lot.SecondaryRemaining
		w.creditUnmatched(r.Product, r.Lot)
	}

	// b. Ingest today's ad conversions
	for _, product := range sortedKeys(ads) {
		q := ads[product]
		q.Units = max(q.Units, 0)
		q.Secondary = max(q.Secondary, 0)
		if q.Units == 0 && q.Secondary == 0 {
			continue
		}
		w.lots.Append(product, d, q.Units, q.Secondary)
		doc.update(product, func(m *Metrics) { m.addAttributed(q) })
	}

	// c. Match today's actual sales
	for _, product := range sortedKeys(sales) {
		sale := sales[product]
		alloc := AllocateSale(w.lots, product, sale)

		doc.update(product, func(m *Metrics) {
			m.addActual(sale)
			m.addShipDate(alloc.AdsUnits, alloc.AdsSecondary, alloc.AdsMoney)
			m.addOrganic(alloc.OrganicUnits, alloc.OrganicSecondary, alloc.OrganicMoney)
		})
		w.matchedUnits += alloc.AdsUnits
		w.matchedSecondary += alloc.AdsSecondary

		for _, share := range alloc.UnitAllocations {
			w.credit(share.OriginDate, product, func(m *Metrics) { m.addClickDateUnits(share.Units, share.Money) })
		}
		for _, a := range alloc.SecondaryAllocations {
			w.credit(a.OriginDate, product, func(m *Metrics) { m.addClickDateSecondary(a.Quantity) })
		}

		w.logger.Debug("matched actual sale",
			slog.String("date", d.String()),
			slog.String("product", string(product)),
			slog.Int64("units", sale.Units),
			slog.Int64("matched_units", alloc.AdsUnits),
			slog.String("matched_ratio", MatchedRatio(alloc.AdsUnits, sale.Units).StringFixed(4)),
		)
	}

	// d. Checkpoint
	doc.EndingUnmatchedLots = w.lots.Snapshot()
}

func (w *walk) creditUnmatched(product ledger.ProductKey, lot ledger.Lot) {
	w.credit(lot.OriginDate, product, func(m *Metrics) { m.addUnmatched(lot) })
}

// credit updates the document for a click date. Click dates before the window
// belong to documents this run does not rewrite.
func (w *walk) credit(date ledger.Date, product ledger.ProductKey, fn func(m *Metrics)) {
	doc, ok := w.docs[date]
	if !ok {
		w.outsideWindow++
		return
	}
	doc.update(product, fn)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) observer() Observer {
	if e.Observer != nil {
		return e.Observer
	}
	return nopObserver{}
}

func (e *Engine) clock() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) moneyPlaces() int32 {
	if e.MoneyPlaces < 0 {
		return DefaultMoneyPlaces
	}
	return e.MoneyPlaces
}

func sortedKeys[V any](m map[ledger.ProductKey]V) []ledger.ProductKey {
	keys := make([]ledger.ProductKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
