package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/warp/attribution-engine/ledger"
)

// =============================================================================
// ALLOCATION - Matching one actual sale and splitting its money
// =============================================================================

// SaleAllocation is the outcome of matching one product's actual sale for one day.
type SaleAllocation struct {
	Sale ActualSale

	// Ship-date split. Units and secondary are matched independently, so the
	// secondary split may reach a different ratio than the units split.
	AdsUnits         int64
	OrganicUnits     int64
	AdsSecondary     int64
	OrganicSecondary int64
	AdsMoney         Money
	OrganicMoney     Money

	// Click-date pieces, in consumption order.
	UnitAllocations      []ClickDateShare
	SecondaryAllocations []ledger.Allocation
}

// ClickDateShare is the units taken from one click date's lot plus the matching
// share of the sale's money.
type ClickDateShare struct {
	OriginDate ledger.Date
	Units      int64
	Money      Money
}

// AllocateSale consumes lots for sale, units first and then secondary, and
// splits the money by the matched unit ratio.
func AllocateSale(l *ledger.Ledger, product ledger.ProductKey, sale ActualSale) SaleAllocation {
	unitAllocs := l.Match(product, sale.Units, ledger.FieldUnits)
	secondaryAllocs := l.Match(product, sale.Secondary, ledger.FieldSecondary)

	money := Money{Sales: sale.Sales, Royalty: sale.Royalty, PrintCost: sale.PrintCost}
	matchedUnits := ledger.SumAllocations(unitAllocs)
	matchedSecondary := ledger.SumAllocations(secondaryAllocs)

	ads := ShareOf(money, matchedUnits, sale.Units)
	out := SaleAllocation{
		Sale:                 sale,
		AdsUnits:             matchedUnits,
		OrganicUnits:         sale.Units - matchedUnits,
		AdsSecondary:         matchedSecondary,
		OrganicSecondary:     sale.Secondary - matchedSecondary,
		AdsMoney:             ads,
		OrganicMoney:         money.Sub(ads),
		SecondaryAllocations: secondaryAllocs,
	}
	for _, a := range unitAllocs {
		out.UnitAllocations = append(out.UnitAllocations, ClickDateShare{
			OriginDate: a.OriginDate,
			Units:      a.Quantity,
			Money:      ShareOf(money, a.Quantity, sale.Units),
		})
	}
	return out
}

// ShareOf returns part/whole of every money field. A non-positive whole has
// no ratio and yields zero.
func ShareOf(m Money, part, whole int64) Money {
	if whole <= 0 || part == 0 {
		return Money{}
	}
	if part == whole {
		return m
	}
	p := decimal.NewFromInt(part)
	w := decimal.NewFromInt(whole)
	return Money{
		Sales:     m.Sales.Mul(p).Div(w),
		Royalty:   m.Royalty.Mul(p).Div(w),
		PrintCost: m.PrintCost.Mul(p).Div(w),
	}
}

// MatchedRatio is matched/actual, or zero when there were no actual units.
func MatchedRatio(matched, actual int64) decimal.Decimal {
	if actual <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(matched).Div(decimal.NewFromInt(actual))
}
