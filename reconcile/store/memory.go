// Package store provides in-memory implementations of the reconcile collaborators.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements reconcile.FeedSource, reconcile.ProductRegistry and
// reconcile.DocumentStore. Documents are stored as JSON so reads never alias
// what a run wrote.
type Memory struct {
	mu        sync.RWMutex
	ads       map[ledger.Date]reconcile.AdsDailyFeedEntry
	sales     map[ledger.Date]reconcile.ActualSalesFeedEntry
	products  map[string]ledger.ProductKey
	documents map[ledger.Date][]byte

	// Upserts counts UpsertReconciledDocuments calls.
	Upserts int
}

func NewMemory() *Memory {
	return &Memory{
		ads:       make(map[ledger.Date]reconcile.AdsDailyFeedEntry),
		sales:     make(map[ledger.Date]reconcile.ActualSalesFeedEntry),
		products:  make(map[string]ledger.ProductKey),
		documents: make(map[ledger.Date][]byte),
	}
}

// =============================================================================
// FEEDS
// =============================================================================

// PutAds replaces the ads entry for its date.
func (m *Memory) PutAds(entries ...reconcile.AdsDailyFeedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.ads[e.Date] = e
	}
}

// PutSales replaces the actual-sales entry for its date.
func (m *Memory) PutSales(entries ...reconcile.ActualSalesFeedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.sales[e.Date] = e
	}
}

func (m *Memory) ListAdsFeed(_ context.Context, from, to ledger.Date) ([]reconcile.AdsDailyFeedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []reconcile.AdsDailyFeedEntry
	for d, e := range m.ads {
		if from.BeforeOrEqual(d) && d.BeforeOrEqual(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) ListActualSalesFeed(_ context.Context, from, to ledger.Date) ([]reconcile.ActualSalesFeedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []reconcile.ActualSalesFeedEntry
	for d, e := range m.sales {
		if from.BeforeOrEqual(d) && d.BeforeOrEqual(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) FeedDateBounds(_ context.Context, feed reconcile.FeedName) (*reconcile.DateBounds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dates []ledger.Date
	switch feed {
	case reconcile.FeedAds:
		for d := range m.ads {
			dates = append(dates, d)
		}
	case reconcile.FeedActualSales:
		for d := range m.sales {
			dates = append(dates, d)
		}
	default:
		return nil, fmt.Errorf("unknown feed %q", feed)
	}
	if len(dates) == 0 {
		return nil, nil
	}
	b := reconcile.DateBounds{Min: dates[0], Max: dates[0]}
	for _, d := range dates[1:] {
		b.Min = ledger.MinDate(b.Min, d)
		b.Max = ledger.MaxDate(b.Max, d)
	}
	return &b, nil
}

// =============================================================================
// PRODUCT REGISTRY
// =============================================================================

// RegisterProduct maps a raw feed identifier to a canonical key.
func (m *Memory) RegisterProduct(rawID string, key ledger.ProductKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[rawID] = key
}

func (m *Memory) ResolveCanonicalProduct(_ context.Context, rawID string) (ledger.ProductKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.products[rawID]
	if !ok {
		return "", &reconcile.UnknownProductError{RawID: rawID}
	}
	return key, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func (m *Memory) GetReconciledDocument(_ context.Context, date ledger.Date) (*reconcile.ReconciledDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.documents[date]
	if !ok {
		return nil, nil
	}
	var doc reconcile.ReconciledDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpsertReconciledDocuments replaces all documents in one step; nothing is
// written if any document fails to encode.
func (m *Memory) UpsertReconciledDocuments(_ context.Context, docs []reconcile.ReconciledDocument) error {
	encoded := make(map[ledger.Date][]byte, len(docs))
	for _, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		encoded[doc.Date] = raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for d, raw := range encoded {
		m.documents[d] = raw
	}
	m.Upserts++
	return nil
}

// DocumentJSON returns the stored encoding of a document, or nil.
func (m *Memory) DocumentJSON(date ledger.Date) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.documents[date]...)
}

// DeleteDocument removes a stored document (simulates a gap in history).
func (m *Memory) DeleteDocument(date ledger.Date) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, date)
}
