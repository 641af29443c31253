/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides canned datasets that populate the feeds and the product
	registry, then run a full reconciliation so the documents can be
	browsed straight away.

AVAILABLE SCENARIOS:

	click-to-ship:       One click day, one ship day four days later
	multi-product-fifo:  Two products, FIFO across click dates, expiries,
	                     a missing royalty and an unknown identifier

HOW SCENARIOS WORK:
 1. Reset database (feeds, products, documents; run history is kept)
 2. Register product mappings
 3. Write both feeds
 4. Run a full reconciliation

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-product-fifo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create a builder returning a scenarioData
 3. Add it to scenarioBuilders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
  - runner.go: the reconciliation run at the end of a load
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "click-to-ship",
		Name:        "Click To Ship",
		Description: "5 ad units clicked on Jan 1, 3 units shipped on Jan 5",
	},
	{
		ID:          "multi-product-fifo",
		Name:        "Multi-Product FIFO",
		Description: "Two titles, FIFO across click dates, expired clicks, profit fallback, unknown id",
	},
}

// scenarioData is everything a scenario writes before reconciling.
type scenarioData struct {
	products map[string]ledger.ProductKey
	ads      []reconcile.AdsDailyFeedEntry
	sales    []reconcile.ActualSalesFeedEntry
}

var scenarioBuilders = map[string]func() scenarioData{
	"click-to-ship":      clickToShipScenario,
	"multi-product-fifo": multiProductFIFOScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario and reconciles it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	build, ok := scenarioBuilders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.loadScenario(ctx, build()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setCurrentScenario(req.ScenarioID)

	run, result, err := h.Runner.Run(ctx, ledger.Date{}, time.Now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Scenario loaded but reconciliation failed",
			Details: runDetails(run),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"run":      RunResponse{Run: toRunDTO(*run), Result: result},
	})
}

func (h *Handler) loadScenario(ctx context.Context, data scenarioData) error {
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.setCurrentScenario("")

	for raw, key := range data.products {
		if err := h.Store.SaveProduct(ctx, raw, key); err != nil {
			return err
		}
	}
	if err := h.Store.ReplaceAdsFeed(ctx, data.ads); err != nil {
		return err
	}
	return h.Store.ReplaceSalesFeed(ctx, data.sales)
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

// =============================================================================
// SCENARIO DATA
// =============================================================================

// scenarioDay returns day n of January 2025 (n=1 is Jan 1).
func scenarioDay(n int) ledger.Date {
	return ledger.NewDate(2025, time.January, 1).AddDays(n - 1)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func clickToShipScenario() scenarioData {
	return scenarioData{
		products: map[string]ledger.ProductKey{
			"ASIN-P": "P",
			"ISBN-P": "P",
		},
		ads: []reconcile.AdsDailyFeedEntry{
			{Date: scenarioDay(1), Items: []reconcile.AdsSaleItem{
				{RawProductID: "ASIN-P", UnitsSold: 5, SecondaryRead: 1000},
			}},
		},
		sales: []reconcile.ActualSalesFeedEntry{
			{Date: scenarioDay(5), Items: []reconcile.ActualSaleItem{{
				RawProductID:    "ISBN-P",
				UnitsSold:       3,
				SecondaryRead:   600,
				SalesAmount:     money("30.00"),
				RoyaltyAmount:   decimal.NewNullDecimal(money("9.00")),
				PrintCostAmount: money("3.00"),
			}}},
		},
	}
}

// multiProductFIFOScenario:
//
//	book-a: clicks 3u/600 (Jan 1), 2u (Jan 3), 1u (Jan 20)
//	        ships 4u/500 (Jan 4) -> Jan 1 lot then 1u of Jan 3
//	        ships 2u (Jan 25)    -> Jan 20 lot, 1u organic
//	book-b: clicks 4u/1200 (Jan 2), ships 1u/300 (Jan 6) with no royalty
//	B0ZZ:   unregistered ads id, skipped
func multiProductFIFOScenario() scenarioData {
	return scenarioData{
		products: map[string]ledger.ProductKey{
			"B0A1":              "book-a",
			"978-1-4028-9462-6": "book-a",
			"B0B2":              "book-b",
			"978-0-306-40615-7": "book-b",
		},
		ads: []reconcile.AdsDailyFeedEntry{
			{Date: scenarioDay(1), Items: []reconcile.AdsSaleItem{{RawProductID: "B0A1", UnitsSold: 3, SecondaryRead: 600}}},
			{Date: scenarioDay(2), Items: []reconcile.AdsSaleItem{{RawProductID: "B0B2", UnitsSold: 4, SecondaryRead: 1200}}},
			{Date: scenarioDay(3), Items: []reconcile.AdsSaleItem{{RawProductID: "B0A1", UnitsSold: 2}}},
			{Date: scenarioDay(20), Items: []reconcile.AdsSaleItem{
				{RawProductID: "B0A1", UnitsSold: 1},
				{RawProductID: "B0ZZ", UnitsSold: 2},
			}},
		},
		sales: []reconcile.ActualSalesFeedEntry{
			{Date: scenarioDay(4), Items: []reconcile.ActualSaleItem{{
				RawProductID:    "978-1-4028-9462-6",
				UnitsSold:       4,
				SecondaryRead:   500,
				SalesAmount:     money("39.96"),
				RoyaltyAmount:   decimal.NewNullDecimal(money("13.99")),
				PrintCostAmount: money("8.40"),
			}}},
			{Date: scenarioDay(6), Items: []reconcile.ActualSaleItem{{
				RawProductID:    "978-0-306-40615-7",
				UnitsSold:       1,
				SecondaryRead:   300,
				SalesAmount:     money("12.99"),
				ProfitAmount:    money("3.10"),
				PrintCostAmount: money("2.50"),
			}}},
			{Date: scenarioDay(25), Items: []reconcile.ActualSaleItem{{
				RawProductID:    "978-1-4028-9462-6",
				UnitsSold:       2,
				SalesAmount:     money("19.98"),
				RoyaltyAmount:   decimal.NewNullDecimal(money("6.99")),
				PrintCostAmount: money("4.20"),
			}}},
		},
	}
}
