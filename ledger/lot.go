/*
Package ledger provides the FIFO lot ledger that tracks unmatched ad-attributed
quantities per product.

PURPOSE:
  Every day the advertising feed reports conversions it attributes to that
  day's clicks. Each (product, click date) report becomes a Lot. Actual sales
  reported later consume those lots oldest-first until the lookback window
  expires them.

KEY CONCEPTS:
  - Lot: outstanding units and secondary quantity from one click date
  - Field: which quantity a match consumes (units or secondary)
  - Allocation: one (origin date, quantity taken) piece of a match
  - Snapshot: deep, sorted copy of all open lots (the day-end checkpoint)

INVARIANTS:
  1. Remaining quantities never go negative
  2. Within one product queue, lots are consumed oldest origin date first
  3. A snapshot never aliases live ledger state

SEE ALSO:
  - ledger.go: the Ledger itself
  - reconcile/engine.go: the day walk that drives it
*/
package ledger

// ProductKey is a canonical product identifier (already resolved from raw feed ids).
type ProductKey string

// Field selects which lot quantity a match consumes.
type Field int

const (
	FieldUnits Field = iota
	FieldSecondary
)

func (f Field) String() string {
	switch f {
	case FieldUnits:
		return "units"
	case FieldSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Lot is an outstanding quantity of ad-attributed conversions from one click date.
type Lot struct {
	OriginDate         Date  `json:"origin_date"`
	UnitsRemaining     int64 `json:"units_remaining"`
	SecondaryRemaining int64 `json:"secondary_remaining"`
}

func (l Lot) remaining(f Field) int64 {
	if f == FieldSecondary {
		return l.SecondaryRemaining
	}
	return l.UnitsRemaining
}

func (l *Lot) take(f Field, qty int64) {
	if f == FieldSecondary {
		l.SecondaryRemaining -= qty
		return
	}
	l.UnitsRemaining -= qty
}

// IsEmpty reports whether both quantities are used up.
func (l Lot) IsEmpty() bool {
	return l.UnitsRemaining <= 0 && l.SecondaryRemaining <= 0
}

// Allocation is the part of a match satisfied by the lot from OriginDate.
type Allocation struct {
	OriginDate Date
	Quantity   int64
}

// Residual is a lot removed by expiry together with what was still unmatched.
type Residual struct {
	Product ProductKey
	Lot     Lot
}

// SumAllocations totals the quantity of a match result.
func SumAllocations(allocs []Allocation) int64 {
	var total int64
	for _, a := range allocs {
		total += a.Quantity
	}
	return total
}
