package ledger

import (
	"sort"
)

// =============================================================================
// LEDGER - Per-product FIFO queues of open lots
// =============================================================================

// Ledger holds one FIFO queue of lots per product.
// It is owned by a single reconciliation run and is not safe for concurrent use.
type Ledger struct {
	queues map[ProductKey][]*Lot
}

func New() *Ledger {
	return &Ledger{queues: make(map[ProductKey][]*Lot)}
}

// FromSnapshot rebuilds a ledger from a persisted snapshot.
// Lots with nothing remaining in either field are discarded.
func FromSnapshot(snap map[ProductKey][]Lot) *Ledger {
	l := New()
	for _, product := range sortedProducts(snap) {
		lots := append([]Lot(nil), snap[product]...)
		sort.SliceStable(lots, func(i, j int) bool {
			return lots[i].OriginDate.Before(lots[j].OriginDate)
		})
		for _, lot := range lots {
			l.Append(product, lot.OriginDate, lot.UnitsRemaining, lot.SecondaryRemaining)
		}
	}
	return l
}

// Append pushes a new lot to the tail of the product's queue.
// Negative quantities are treated as zero; a lot with nothing in it is not added.
func (l *Ledger) Append(product ProductKey, date Date, units, secondary int64) {
	if units < 0 {
		units = 0
	}
	if secondary < 0 {
		secondary = 0
	}
	if units == 0 && secondary == 0 {
		return
	}
	l.queues[product] = append(l.queues[product], &Lot{
		OriginDate:         date,
		UnitsRemaining:     units,
		SecondaryRemaining: secondary,
	})
}

// Match consumes up to quantity of field from the product's queue, oldest lot first.
// Lots with nothing left in field are skipped; lots emptied in both fields are removed.
// The returned allocations are in consumption order and never sum past quantity.
func (l *Ledger) Match(product ProductKey, quantity int64, field Field) []Allocation {
	if quantity <= 0 {
		return nil
	}
	queue, ok := l.queues[product]
	if !ok {
		return nil
	}

	var allocs []Allocation
	needed := quantity
	kept := queue[:0]
	for _, lot := range queue {
		if needed > 0 {
			if avail := lot.remaining(field); avail > 0 {
				take := min(avail, needed)
				lot.take(field, take)
				needed -= take
				allocs = append(allocs, Allocation{OriginDate: lot.OriginDate, Quantity: take})
			}
		}
		if !lot.IsEmpty() {
			kept = append(kept, lot)
		}
	}
	l.setQueue(product, kept)
	return allocs
}

// PruneExpired removes every lot whose origin date is before current-lookbackDays
// and returns them with whatever was still unmatched. Fully consumed lots at a
// queue head are dropped without being reported.
func (l *Ledger) PruneExpired(current Date, lookbackDays int) []Residual {
	cutoff := current.AddDays(-lookbackDays)

	var residuals []Residual
	for _, product := range sortedProducts(l.queues) {
		queue := l.queues[product]
		for len(queue) > 0 {
			head := queue[0]
			if head.OriginDate.Before(cutoff) {
				if !head.IsEmpty() {
					residuals = append(residuals, Residual{Product: product, Lot: *head})
				}
				queue = queue[1:]
				continue
			}
			if head.IsEmpty() {
				queue = queue[1:]
				continue
			}
			break
		}
		l.setQueue(product, queue)
	}
	return residuals
}

// Snapshot returns a deep copy of every lot with anything remaining,
// products sorted and lots ordered by origin date.
func (l *Ledger) Snapshot() map[ProductKey][]Lot {
	snap := make(map[ProductKey][]Lot)
	for _, product := range sortedProducts(l.queues) {
		var lots []Lot
		for _, lot := range l.queues[product] {
			if lot.IsEmpty() {
				continue
			}
			lots = append(lots, *lot)
		}
		if len(lots) == 0 {
			continue
		}
		sort.SliceStable(lots, func(i, j int) bool {
			return lots[i].OriginDate.Before(lots[j].OriginDate)
		})
		snap[product] = lots
	}
	return snap
}

// Products returns the products with an open queue, sorted.
func (l *Ledger) Products() []ProductKey {
	return sortedProducts(l.queues)
}

// Len returns the number of open lots across all products.
func (l *Ledger) Len() int {
	n := 0
	for _, q := range l.queues {
		n += len(q)
	}
	return n
}

func (l *Ledger) setQueue(product ProductKey, queue []*Lot) {
	if len(queue) == 0 {
		delete(l.queues, product)
		return
	}
	l.queues[product] = queue
}

func sortedProducts[V any](m map[ProductKey]V) []ProductKey {
	keys := make([]ProductKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
