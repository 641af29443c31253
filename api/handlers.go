/*
handlers.go - HTTP API handlers for the attribution engine

PURPOSE:
  Exposes feed ingestion, the product registry, reconciliation runs and the
  reconciled documents over REST. Handles HTTP request/response and JSON
  serialization, and delegates to the store and the Runner.

ENDPOINTS:
  Feeds:
    PUT    /api/feeds/ads                 Replace ads rows for the given dates
    PUT    /api/feeds/sales               Replace actual-sales rows for the given dates
    GET    /api/feeds/bounds              Earliest/latest date per feed

  Products:
    GET    /api/products                  List raw -> canonical mappings
    PUT    /api/products                  Upsert mappings

  Reconciliation:
    POST   /api/reconciliation/run        Run the engine (409 if one is running)
    GET    /api/reconciliation/runs       Run history

  Documents:
    GET    /api/reconciled?from=&to=      Documents in a date range
    GET    /api/reconciled/{date}         One document

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, invalid reconciliation range
  - 404: Document not found
  - 409: A reconciliation is already running
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - runner.go: Run serialization and bookkeeping
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
	"github.com/warp/attribution-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Runner *Runner
	Logger *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. The engine must be backed by store.
func NewHandler(store *sqlite.Store, engine *reconcile.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:  store,
		Runner: NewRunner(store, engine, logger),
		Logger: logger,
	}
}

// =============================================================================
// FEED HANDLERS
// =============================================================================

// PutAdsFeed replaces ads rows for each supplied date.
// PUT /api/feeds/ads
func (h *Handler) PutAdsFeed(w http.ResponseWriter, r *http.Request) {
	var req AdsFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		rows  int
		dates []ledger.Date
		seen  = make(map[string]bool)
	)
	for _, e := range req.Entries {
		if e.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "Every entry needs a date (YYYY-MM-DD)", nil)
			return
		}
		if !seen[e.Date.String()] {
			seen[e.Date.String()] = true
			dates = append(dates, e.Date)
		}
		rows += len(e.Items)
	}

	// Rows repeated on one date are summed by the store.
	if err := h.Store.ReplaceAdsFeed(r.Context(), req.Entries); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store ads feed", err)
		return
	}

	writeJSON(w, http.StatusOK, FeedWriteResponse{
		Dates:               len(dates),
		Rows:                rows,
		EarliestChangedDate: earliestDate(dates...).String(),
	})
}

// PutSalesFeed replaces actual-sales rows for each supplied date.
// PUT /api/feeds/sales
func (h *Handler) PutSalesFeed(w http.ResponseWriter, r *http.Request) {
	var req SalesFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		rows  int
		dates []ledger.Date
		// raw ids seen so far, per date, across all entries
		seen = make(map[string]map[string]bool)
	)
	for _, e := range req.Entries {
		if e.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "Every entry needs a date (YYYY-MM-DD)", nil)
			return
		}
		day := e.Date.String()
		if seen[day] == nil {
			seen[day] = make(map[string]bool, len(e.Items))
			dates = append(dates, e.Date)
		}
		for _, item := range e.Items {
			if seen[day][item.RawProductID] {
				writeError(w, http.StatusBadRequest, "Duplicate raw_product_id "+item.RawProductID+" on "+day, nil)
				return
			}
			seen[day][item.RawProductID] = true
		}
		rows += len(e.Items)
	}

	if err := h.Store.ReplaceSalesFeed(r.Context(), req.Entries); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store sales feed", err)
		return
	}

	writeJSON(w, http.StatusOK, FeedWriteResponse{
		Dates:               len(dates),
		Rows:                rows,
		EarliestChangedDate: earliestDate(dates...).String(),
	})
}

// GetFeedBounds returns the date bounds of both feeds.
// GET /api/feeds/bounds
func (h *Handler) GetFeedBounds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ads, err := h.Store.FeedDateBounds(ctx, reconcile.FeedAds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read ads bounds", err)
		return
	}
	sales, err := h.Store.FeedDateBounds(ctx, reconcile.FeedActualSales)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read sales bounds", err)
		return
	}

	writeJSON(w, http.StatusOK, FeedBoundsDTO{Ads: ads, ActualSales: sales})
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all product mappings.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductMappingDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutProducts upserts product mappings.
// PUT /api/products
func (h *Handler) PutProducts(w http.ResponseWriter, r *http.Request) {
	var req PutProductsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	for _, p := range req.Products {
		if strings.TrimSpace(p.RawID) == "" || strings.TrimSpace(p.CanonicalKey) == "" {
			writeError(w, http.StatusBadRequest, "raw_id and canonical_key are required", nil)
			return
		}
	}

	for _, p := range req.Products {
		err := h.Store.SaveProduct(r.Context(), strings.TrimSpace(p.RawID), ledger.ProductKey(strings.TrimSpace(p.CanonicalKey)))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save product", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Products)})
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation runs the engine synchronously.
// POST /api/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req RunReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var earliest ledger.Date
	if req.EarliestChangedDate != "" {
		d, err := ledger.ParseDate(req.EarliestChangedDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid earliest_changed_date (use YYYY-MM-DD)", err)
			return
		}
		earliest = d
	}

	run, result, err := h.Runner.Run(r.Context(), earliest, time.Now())
	switch {
	case errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, "A reconciliation is already running", err)
		return
	case err != nil && reconcile.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_range", Details: runDetails(run)})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Reconciliation failed", Details: runDetails(run)})
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{Run: toRunDTO(*run), Result: result})
}

func runDetails(run *sqlite.ReconciliationRun) any {
	if run == nil {
		return nil
	}
	return toRunDTO(*run)
}

// ListReconciliationRuns returns reconciliation run history.
// GET /api/reconciliation/runs?status=&limit=
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := r.URL.Query().Get("status")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.GetReconciliationRuns(ctx, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation runs", err)
		return
	}

	dtos := make([]ReconciliationRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListReconciledDocuments returns documents in [from, to].
// GET /api/reconciled?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListReconciledDocuments(w http.ResponseWriter, r *http.Request) {
	from, err := ledger.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := ledger.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to", nil)
		return
	}

	docs, err := h.Store.ListReconciledDocuments(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []reconcile.ReconciledDocument{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetReconciledDocument returns the document for one date.
// GET /api/reconciled/{date}
func (h *Handler) GetReconciledDocument(w http.ResponseWriter, r *http.Request) {
	date, err := ledger.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	doc, err := h.Store.GetReconciledDocument(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get document", err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "Document not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase clears feeds, products and documents.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
