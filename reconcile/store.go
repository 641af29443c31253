/*
store.go - Collaborator interfaces

PURPOSE:
  The engine never talks to a database or a report format directly. It reads
  feeds, resolves identifiers and persists documents through these narrow
  interfaces.

IMPLEMENTATIONS:
  - reconcile/store/memory.go: in-memory, for tests and local runs
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - engine.go: the only consumer
*/
package reconcile

import (
	"context"

	"github.com/warp/attribution-engine/ledger"
)

// FeedSource reads the two raw feeds. Read-only.
type FeedSource interface {
	// ListAdsFeed returns ads entries with click dates in [from, to].
	ListAdsFeed(ctx context.Context, from, to ledger.Date) ([]AdsDailyFeedEntry, error)

	// ListActualSalesFeed returns actual-sales entries with ship dates in [from, to].
	ListActualSalesFeed(ctx context.Context, from, to ledger.Date) ([]ActualSalesFeedEntry, error)

	// FeedDateBounds returns the earliest and latest date in a feed, or nil if it is empty.
	FeedDateBounds(ctx context.Context, feed FeedName) (*DateBounds, error)
}

// ProductRegistry maps raw feed identifiers to canonical product keys.
type ProductRegistry interface {
	// ResolveCanonicalProduct returns ErrUnknownProduct (possibly wrapped) when
	// the identifier is not registered. Any other error is a storage failure.
	ResolveCanonicalProduct(ctx context.Context, rawID string) (ledger.ProductKey, error)
}

// DocumentStore persists reconciled documents.
type DocumentStore interface {
	// GetReconciledDocument returns nil, nil when no document exists for date.
	GetReconciledDocument(ctx context.Context, date ledger.Date) (*ReconciledDocument, error)

	// UpsertReconciledDocuments writes all documents in one batch,
	// fully replacing any existing document for the same date.
	UpsertReconciledDocuments(ctx context.Context, docs []ReconciledDocument) error
}

// Observer receives run telemetry. All methods must be cheap and non-blocking.
type Observer interface {
	RunSkipped(reason string)
	RunCompleted(result Result, seconds float64)
	RunFailed()
	UnknownProduct(feed FeedName)
	LotsExpired(units, secondary int64)
	UnitsMatched(units, secondary int64)
}

type nopObserver struct{}

func (nopObserver) RunSkipped(string)            {}
func (nopObserver) RunCompleted(Result, float64) {}
func (nopObserver) RunFailed()                   {}
func (nopObserver) UnknownProduct(FeedName)      {}
func (nopObserver) LotsExpired(int64, int64)     {}
func (nopObserver) UnitsMatched(int64, int64)    {}
