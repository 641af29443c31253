/*
Package reconcile matches actual sales against ad-attributed conversions.

PURPOSE:
  The advertising feed reports conversions on the day an ad was clicked.
  The fulfillment feed reports recognized sales on a later day. This package
  walks the calendar, feeds the ad conversions into a FIFO lot ledger and
  consumes them with the actual sales, producing one ReconciledDocument per
  date with both a ship-date view and a click-date view.

KEY CONCEPTS IN THIS FILE (types.go):
  - AdsDailyFeedEntry / ActualSalesFeedEntry: raw feed rows (read-only inputs)
  - AdsQuantity / ActualSale: feed rows after identifier resolution
  - Metrics: the reconciled figures for one product (or the aggregate)
  - ReconciledDocument: everything known about one date after a run

DESIGN PRINCIPLES:
  1. Determinism: same inputs and seed produce byte-identical documents
  2. Precision: money uses decimal.Decimal and is rounded once, at the end
  3. Full overwrite: documents are rebuilt from scratch on every run

SEE ALSO:
  - engine.go: the day-by-day walk
  - allocation.go: proportional money splits
  - checkpoint.go: seeding from the previous day's document
*/
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attribution-engine/ledger"
)

// =============================================================================
// FEEDS - External inputs
// =============================================================================

// FeedName identifies one of the two raw feeds.
type FeedName string

const (
	FeedAds         FeedName = "ads"
	FeedActualSales FeedName = "actual_sales"
)

// AdsDailyFeedEntry is the advertising report for one click date.
type AdsDailyFeedEntry struct {
	Date  ledger.Date  `json:"date"`
	Items []AdsSaleItem `json:"items"`
}

type AdsSaleItem struct {
	RawProductID  string `json:"raw_product_id"`
	UnitsSold     int64  `json:"units_sold"`
	SecondaryRead int64  `json:"secondary_metric_read"`
}

// ActualSalesFeedEntry is the fulfillment report for one ship/settlement date.
type ActualSalesFeedEntry struct {
	Date  ledger.Date      `json:"date"`
	Items []ActualSaleItem `json:"items"`
}

type ActualSaleItem struct {
	RawProductID    string              `json:"raw_product_id"`
	UnitsSold       int64               `json:"units_sold"`
	SecondaryRead   int64               `json:"secondary_metric_read"`
	SalesAmount     decimal.Decimal     `json:"sales_amount"`
	RoyaltyAmount   decimal.NullDecimal `json:"royalty_amount"`
	ProfitAmount    decimal.Decimal     `json:"profit_amount"`
	PrintCostAmount decimal.Decimal     `json:"print_cost_amount"`
}

// RoyaltyOrProfit returns the royalty when the feed reported one, else the profit.
func (i ActualSaleItem) RoyaltyOrProfit() decimal.Decimal {
	if i.RoyaltyAmount.Valid {
		return i.RoyaltyAmount.Decimal
	}
	return i.ProfitAmount
}

// DateBounds is the earliest and latest date present in a feed.
type DateBounds struct {
	Min ledger.Date `json:"min"`
	Max ledger.Date `json:"max"`
}

// =============================================================================
// RESOLVED INPUTS - Feed rows keyed by canonical product
// =============================================================================

// AdsQuantity is what the ads feed attributed to one product on one click date.
type AdsQuantity struct {
	Units     int64
	Secondary int64
}

// ActualSale is one product's recognized sale on one ship date.
// Royalty already has the profit fallback applied.
type ActualSale struct {
	Units     int64
	Secondary int64
	Sales     decimal.Decimal
	Royalty   decimal.Decimal
	PrintCost decimal.Decimal
}

func (s ActualSale) add(o ActualSale) ActualSale {
	return ActualSale{
		Units:     s.Units + o.Units,
		Secondary: s.Secondary + o.Secondary,
		Sales:     s.Sales.Add(o.Sales),
		Royalty:   s.Royalty.Add(o.Royalty),
		PrintCost: s.PrintCost.Add(o.PrintCost),
	}
}

// =============================================================================
// MONEY - Sales, royalty and print cost move together
// =============================================================================

// Money is the three money fields split alongside units.
type Money struct {
	Sales     decimal.Decimal
	Royalty   decimal.Decimal
	PrintCost decimal.Decimal
}

func (m Money) Add(o Money) Money {
	return Money{
		Sales:     m.Sales.Add(o.Sales),
		Royalty:   m.Royalty.Add(o.Royalty),
		PrintCost: m.PrintCost.Add(o.PrintCost),
	}
}

func (m Money) Sub(o Money) Money {
	return Money{
		Sales:     m.Sales.Sub(o.Sales),
		Royalty:   m.Royalty.Sub(o.Royalty),
		PrintCost: m.PrintCost.Sub(o.PrintCost),
	}
}

// =============================================================================
// RECONCILED DOCUMENT - One per date, fully rebuilt every run
// =============================================================================

// Metrics are the reconciled figures for one product, or the aggregate of all.
type Metrics struct {
	ActualUnits        int64           `json:"actual_units_total"`
	ActualSecondary    int64           `json:"actual_secondary_total"`
	ActualSalesUSD     decimal.Decimal `json:"actual_sales_usd_total"`
	ActualRoyaltyUSD   decimal.Decimal `json:"actual_royalty_usd_total"`
	ActualPrintCostUSD decimal.Decimal `json:"actual_print_cost_usd_total"`

	// Ship-date view: this date's actual sales split into ad-driven and organic.
	AdsShipDateUnits        int64           `json:"ads_ship_date_units"`
	AdsShipDateSecondary    int64           `json:"ads_ship_date_secondary"`
	AdsShipDateSalesUSD     decimal.Decimal `json:"ads_ship_date_sales_usd_est"`
	AdsShipDateRoyaltyUSD   decimal.Decimal `json:"ads_ship_date_royalty_usd_est"`
	AdsShipDatePrintCostUSD decimal.Decimal `json:"ads_ship_date_print_cost_usd_est"`

	OrganicUnits        int64           `json:"organic_units"`
	OrganicSecondary    int64           `json:"organic_secondary"`
	OrganicSalesUSD     decimal.Decimal `json:"organic_sales_usd_est"`
	OrganicRoyaltyUSD   decimal.Decimal `json:"organic_royalty_usd_est"`
	OrganicPrintCostUSD decimal.Decimal `json:"organic_print_cost_usd_est"`

	// Click-date view: this date's ad conversions and what became of them.
	AdsAttributedUnits     int64 `json:"ads_attributed_units"`
	AdsAttributedSecondary int64 `json:"ads_attributed_secondary"`

	AdsClickDateUnits        int64           `json:"ads_click_date_units"`
	AdsClickDateSecondary    int64           `json:"ads_click_date_secondary"`
	AdsClickDateSalesUSD     decimal.Decimal `json:"ads_click_date_sales_usd_est"`
	AdsClickDateRoyaltyUSD   decimal.Decimal `json:"ads_click_date_royalty_usd_est"`
	AdsClickDatePrintCostUSD decimal.Decimal `json:"ads_click_date_print_cost_usd_est"`

	UnmatchedAdsClickDateUnits     int64 `json:"unmatched_ads_click_date_units"`
	UnmatchedAdsClickDateSecondary int64 `json:"unmatched_ads_click_date_secondary"`
}

func (m *Metrics) addActual(s ActualSale) {
	m.ActualUnits += s.Units
	m.ActualSecondary += s.Secondary
	m.ActualSalesUSD = m.ActualSalesUSD.Add(s.Sales)
	m.ActualRoyaltyUSD = m.ActualRoyaltyUSD.Add(s.Royalty)
	m.ActualPrintCostUSD = m.ActualPrintCostUSD.Add(s.PrintCost)
}

func (m *Metrics) addShipDate(units, secondary int64, money Money) {
	m.AdsShipDateUnits += units
	m.AdsShipDateSecondary += secondary
	m.AdsShipDateSalesUSD = m.AdsShipDateSalesUSD.Add(money.Sales)
	m.AdsShipDateRoyaltyUSD = m.AdsShipDateRoyaltyUSD.Add(money.Royalty)
	m.AdsShipDatePrintCostUSD = m.AdsShipDatePrintCostUSD.Add(money.PrintCost)
}

func (m *Metrics) addOrganic(units, secondary int64, money Money) {
	m.OrganicUnits += units
	m.OrganicSecondary += secondary
	m.OrganicSalesUSD = m.OrganicSalesUSD.Add(money.Sales)
	m.OrganicRoyaltyUSD = m.OrganicRoyaltyUSD.Add(money.Royalty)
	m.OrganicPrintCostUSD = m.OrganicPrintCostUSD.Add(money.PrintCost)
}

func (m *Metrics) addAttributed(q AdsQuantity) {
	m.AdsAttributedUnits += q.Units
	m.AdsAttributedSecondary += q.Secondary
}

func (m *Metrics) addClickDateUnits(units int64, money Money) {
	m.AdsClickDateUnits += units
	m.AdsClickDateSalesUSD = m.AdsClickDateSalesUSD.Add(money.Sales)
	m.AdsClickDateRoyaltyUSD = m.AdsClickDateRoyaltyUSD.Add(money.Royalty)
	m.AdsClickDatePrintCostUSD = m.AdsClickDatePrintCostUSD.Add(money.PrintCost)
}

func (m *Metrics) addClickDateSecondary(secondary int64) {
	m.AdsClickDateSecondary += secondary
}

func (m *Metrics) addUnmatched(lot ledger.Lot) {
	m.UnmatchedAdsClickDateUnits += lot.UnitsRemaining
	m.UnmatchedAdsClickDateSecondary += lot.SecondaryRemaining
}

func (m *Metrics) round(places int32) {
	for _, d := range []*decimal.Decimal{
		&m.ActualSalesUSD, &m.ActualRoyaltyUSD, &m.ActualPrintCostUSD,
		&m.AdsShipDateSalesUSD, &m.AdsShipDateRoyaltyUSD, &m.AdsShipDatePrintCostUSD,
		&m.OrganicSalesUSD, &m.OrganicRoyaltyUSD, &m.OrganicPrintCostUSD,
		&m.AdsClickDateSalesUSD, &m.AdsClickDateRoyaltyUSD, &m.AdsClickDatePrintCostUSD,
	} {
		*d = d.Round(places)
	}
}

// ReconciledDocument is the reconciled state of one date.
// A run overwrites the document for every date in its window; nothing is merged.
type ReconciledDocument struct {
	Date         ledger.Date                   `json:"date"`
	Totals       Metrics                       `json:"totals"`
	ByProduct    map[ledger.ProductKey]*Metrics `json:"by_product"`
	IsSettled    bool                          `json:"is_settled"`
	ReconciledAt time.Time                     `json:"reconciled_at"`

	// EndingUnmatchedLots is the ledger at the end of this date: the checkpoint
	// the next run seeds from.
	EndingUnmatchedLots map[ledger.ProductKey][]ledger.Lot `json:"ending_unmatched_lots_by_product"`
}

func newDocument(date ledger.Date, settled bool, at time.Time) *ReconciledDocument {
	return &ReconciledDocument{
		Date:                date,
		ByProduct:           make(map[ledger.ProductKey]*Metrics),
		IsSettled:           settled,
		ReconciledAt:        at,
		EndingUnmatchedLots: make(map[ledger.ProductKey][]ledger.Lot),
	}
}

// Product returns the per-product metrics, creating them on first use.
func (d *ReconciledDocument) Product(key ledger.ProductKey) *Metrics {
	m, ok := d.ByProduct[key]
	if !ok {
		m = &Metrics{}
		d.ByProduct[key] = m
	}
	return m
}

// update applies fn to both the product breakdown and the aggregate.
func (d *ReconciledDocument) update(key ledger.ProductKey, fn func(m *Metrics)) {
	fn(d.Product(key))
	fn(&d.Totals)
}

func (d *ReconciledDocument) round(places int32) {
	d.Totals.round(places)
	for _, m := range d.ByProduct {
		m.round(places)
	}
}

// =============================================================================
// RESULT - What a run reports back
// =============================================================================

// Result summarizes a Reconcile call. When Skipped is set, the other fields are zero.
type Result struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`

	ReconciledDays       int         `json:"reconciled_days"`
	StartDate            ledger.Date `json:"start_date"`
	EndDate              ledger.Date `json:"end_date"`
	SeededFromCheckpoint bool        `json:"seeded_from_checkpoint"`
	SettledThroughDate   ledger.Date `json:"settled_through_date"`
}
