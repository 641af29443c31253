package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/warp/attribution-engine/ledger"
)

// =============================================================================
// RESOLVER - Raw feed identifiers to canonical products
// =============================================================================

// Resolver wraps a ProductRegistry with the run's partial-failure policy:
// an unknown identifier drops that one feed entry with a warning, it never
// fails the run. Results are cached for the lifetime of the Resolver.
type Resolver struct {
	registry ProductRegistry
	logger   *slog.Logger
	observer Observer

	cache   map[string]ledger.ProductKey
	unknown map[string]bool
	skipped int
}

func NewResolver(registry ProductRegistry, logger *slog.Logger, observer Observer) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Resolver{
		registry: registry,
		logger:   logger,
		observer: observer,
		cache:    make(map[string]ledger.ProductKey),
		unknown:  make(map[string]bool),
	}
}

// Resolve returns the canonical key for rawID. ok is false when the entry
// must be skipped; err is only set for registry (storage) failures.
func (r *Resolver) Resolve(ctx context.Context, feed FeedName, date ledger.Date, rawID string) (key ledger.ProductKey, ok bool, err error) {
	raw := strings.TrimSpace(rawID)
	if k, hit := r.cache[raw]; hit {
		return k, true, nil
	}
	if !r.unknown[raw] && raw != "" {
		k, err := r.registry.ResolveCanonicalProduct(ctx, raw)
		switch {
		case err == nil && k != "":
			r.cache[raw] = k
			return k, true, nil
		case err != nil && !errors.Is(err, ErrUnknownProduct):
			return "", false, err
		}
		r.unknown[raw] = true
	}

	r.skipped++
	r.observer.UnknownProduct(feed)
	r.logger.Warn("skipping feed entry with unknown product",
		slog.String("feed", string(feed)),
		slog.String("raw_product_id", rawID),
		slog.String("date", date.String()),
	)
	return "", false, nil
}

// Skipped returns how many feed entries were dropped.
func (r *Resolver) Skipped() int {
	return r.skipped
}
