package reconcile

import (
	"context"
	"fmt"

	"github.com/warp/attribution-engine/ledger"
)

// =============================================================================
// CHECKPOINT - Seeding a run from the previous day's document
// =============================================================================

// LoadCheckpoint rebuilds the ledger as it stood at the end of seedDate.
// It returns ok=false when no document exists for seedDate; the caller must
// then recompute from the earliest raw date, because a window without a seed
// cannot know which lots were still outstanding.
func LoadCheckpoint(ctx context.Context, docs DocumentStore, seedDate ledger.Date) (l *ledger.Ledger, ok bool, err error) {
	doc, err := docs.GetReconciledDocument(ctx, seedDate)
	if err != nil {
		return nil, false, fmt.Errorf("load checkpoint %s: %w", seedDate, err)
	}
	if doc == nil {
		return nil, false, nil
	}
	return ledger.FromSnapshot(doc.EndingUnmatchedLots), true, nil
}
