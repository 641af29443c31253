/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Feed entries and
  reconciled documents already carry their wire names (see reconcile/types.go)
  and are embedded as-is; everything else gets its own DTO here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Feeds:
    AdsFeedRequest, SalesFeedRequest, FeedWriteResponse, FeedBoundsDTO

  Products:
    ProductMappingDTO, PutProductsRequest

  Reconciliation:
    RunReconciliationRequest, ReconciliationRunDTO, RunResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - reconcile/types.go: feed and document shapes
*/
package api

import (
	"time"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
	"github.com/warp/attribution-engine/store/sqlite"
)

// =============================================================================
// FEEDS
// =============================================================================

// AdsFeedRequest replaces the ads rows for every date it contains.
type AdsFeedRequest struct {
	Entries []reconcile.AdsDailyFeedEntry `json:"entries"`
}

// SalesFeedRequest replaces the actual-sales rows for every date it contains.
type SalesFeedRequest struct {
	Entries []reconcile.ActualSalesFeedEntry `json:"entries"`
}

// FeedWriteResponse reports what a feed write touched. EarliestChangedDate is
// the value to pass to a reconciliation run afterwards.
type FeedWriteResponse struct {
	Dates               int    `json:"dates"`
	Rows                int    `json:"rows"`
	EarliestChangedDate string `json:"earliest_changed_date,omitempty"`
}

// FeedBoundsDTO holds both feeds' date bounds; a nil side has no rows.
type FeedBoundsDTO struct {
	Ads         *reconcile.DateBounds `json:"ads"`
	ActualSales *reconcile.DateBounds `json:"actual_sales"`
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductMappingDTO links a raw feed identifier to its canonical product.
type ProductMappingDTO struct {
	RawID        string `json:"raw_id"`
	CanonicalKey string `json:"canonical_key"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// PutProductsRequest upserts product mappings.
type PutProductsRequest struct {
	Products []ProductMappingDTO `json:"products"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// RunReconciliationRequest triggers a run. An empty date recomputes everything.
type RunReconciliationRequest struct {
	EarliestChangedDate string `json:"earliest_changed_date"`
}

// ReconciliationRunDTO represents a recorded run.
type ReconciliationRunDTO struct {
	ID                  string `json:"id"`
	EarliestChangedDate string `json:"earliest_changed_date,omitempty"`
	Status              string `json:"status"`
	StartDate           string `json:"start_date,omitempty"`
	EndDate             string `json:"end_date,omitempty"`
	Seeded              bool   `json:"seeded_from_checkpoint"`
	ReconciledDays      int    `json:"reconciled_days"`
	SettledThroughDate  string `json:"settled_through_date,omitempty"`
	SkippedReason       string `json:"skipped_reason,omitempty"`
	Error               string `json:"error,omitempty"`
	StartedAt           string `json:"started_at,omitempty"`
	CompletedAt         string `json:"completed_at,omitempty"`
}

// RunResponse is returned by a reconciliation trigger.
type RunResponse struct {
	Run    ReconciliationRunDTO `json:"run"`
	Result *reconcile.Result    `json:"result,omitempty"`
}

func toRunDTO(r sqlite.ReconciliationRun) ReconciliationRunDTO {
	dto := ReconciliationRunDTO{
		ID:                  r.ID,
		EarliestChangedDate: r.EarliestChanged.String(),
		Status:              r.Status,
		StartDate:           r.StartDate.String(),
		EndDate:             r.EndDate.String(),
		Seeded:              r.Seeded,
		ReconciledDays:      r.ReconciledDays,
		SettledThroughDate:  r.SettledThrough.String(),
		SkippedReason:       r.SkippedReason,
		Error:               r.Error,
	}
	if r.StartedAt != nil {
		dto.StartedAt = r.StartedAt.Format(time.RFC3339)
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toProductDTO(p sqlite.ProductMapping) ProductMappingDTO {
	dto := ProductMappingDTO{RawID: p.RawID, CanonicalKey: string(p.CanonicalKey)}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// earliestDate returns the smallest non-zero date, or the zero Date.
func earliestDate(dates ...ledger.Date) ledger.Date {
	var out ledger.Date
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		if out.IsZero() || d.Before(out) {
			out = d
		}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
