/*
Package sqlite provides a SQLite-backed implementation of the reconcile collaborators.

PURPOSE:
  Holds both raw feeds, the product registry, the reconciled documents and
  a log of reconciliation runs in one SQLite database.

INTERFACES IMPLEMENTED:
  reconcile.FeedSource:      ads and actual-sales feeds
  reconcile.ProductRegistry: raw id -> canonical product
  reconcile.DocumentStore:   reconciled documents (the checkpoints)

KEY TABLES:
  ads_feed:              one row per (click date, raw product)
  sales_feed:            one row per (ship date, raw product)
  products:              raw identifier -> canonical key
  reconciled_documents:  one JSON document per date, overwritten by each run
  reconciliation_runs:   audit of every run

MONEY:
  Stored as TEXT decimal strings, never REAL, so values round-trip exactly.

CONCURRENCY:
  Uses sync.RWMutex plus a single connection. The engine itself must not run
  concurrently against the same store; see reconcile/engine.go.

USAGE:
  store, err := sqlite.New("./data/recon.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := reconcile.NewEngine(store, store, store)

SEE ALSO:
  - reconcile/store.go: interface definitions
  - reconcile/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/attribution-engine/ledger"
	"github.com/warp/attribution-engine/reconcile"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Advertising feed (keyed by click date)
	CREATE TABLE IF NOT EXISTS ads_feed (
		date TEXT NOT NULL,
		raw_product_id TEXT NOT NULL,
		units_sold INTEGER NOT NULL DEFAULT 0,
		secondary_read INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, raw_product_id)
	);

	-- Actual sales feed (keyed by ship date)
	CREATE TABLE IF NOT EXISTS sales_feed (
		date TEXT NOT NULL,
		raw_product_id TEXT NOT NULL,
		units_sold INTEGER NOT NULL DEFAULT 0,
		secondary_read INTEGER NOT NULL DEFAULT 0,
		sales_amount TEXT NOT NULL DEFAULT '0',
		royalty_amount TEXT,
		profit_amount TEXT NOT NULL DEFAULT '0',
		print_cost_amount TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (date, raw_product_id)
	);

	-- Product registry
	CREATE TABLE IF NOT EXISTS products (
		raw_id TEXT PRIMARY KEY,
		canonical_key TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_canonical
		ON products(canonical_key);

	-- Reconciled documents (fully overwritten per date)
	CREATE TABLE IF NOT EXISTS reconciled_documents (
		date TEXT PRIMARY KEY,
		is_settled BOOLEAN NOT NULL DEFAULT FALSE,
		reconciled_at TEXT NOT NULL,
		document_json TEXT NOT NULL
	);

	-- Reconciliation runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		earliest_changed TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		start_date TEXT,
		end_date TEXT,
		seeded BOOLEAN DEFAULT FALSE,
		reconciled_days INTEGER DEFAULT 0,
		settled_through TEXT,
		skipped_reason TEXT,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_status
		ON reconciliation_runs(status);
	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_created
		ON reconciliation_runs(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// FEEDS (reconcile.FeedSource interface)
// =============================================================================

// ReplaceAdsFeed replaces all ads rows for the dates present in entries.
func (s *Store) ReplaceAdsFeed(ctx context.Context, entries []reconcile.AdsDailyFeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dates := make([]ledger.Date, len(entries))
	for i, e := range entries {
		dates[i] = e.Date
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearDates(ctx, tx, "ads_feed", dates); err != nil {
			return err
		}
		for _, e := range entries {
			for _, item := range e.Items {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO ads_feed (date, raw_product_id, units_sold, secondary_read)
					VALUES (?, ?, ?, ?)
					ON CONFLICT(date, raw_product_id) DO UPDATE SET
						units_sold = ads_feed.units_sold + excluded.units_sold,
						secondary_read = ads_feed.secondary_read + excluded.secondary_read
				`, e.Date.String(), item.RawProductID, item.UnitsSold, item.SecondaryRead)
				if err != nil {
					return fmt.Errorf("failed to insert ads row: %w", err)
				}
			}
		}
		return nil
	})
}

// ReplaceSalesFeed replaces all actual-sales rows for the dates present in entries.
func (s *Store) ReplaceSalesFeed(ctx context.Context, entries []reconcile.ActualSalesFeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dates := make([]ledger.Date, len(entries))
	for i, e := range entries {
		dates[i] = e.Date
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := clearDates(ctx, tx, "sales_feed", dates); err != nil {
			return err
		}
		for _, e := range entries {
			for _, item := range e.Items {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO sales_feed (date, raw_product_id, units_sold, secondary_read,
						sales_amount, royalty_amount, profit_amount, print_cost_amount)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				`,
					e.Date.String(), item.RawProductID, item.UnitsSold, item.SecondaryRead,
					item.SalesAmount.String(), nullDecimal(item.RoyaltyAmount),
					item.ProfitAmount.String(), item.PrintCostAmount.String(),
				)
				if err != nil {
					if isUniqueConstraintError(err) {
						return fmt.Errorf("duplicate sales row %s/%s", e.Date, item.RawProductID)
					}
					return fmt.Errorf("failed to insert sales row: %w", err)
				}
			}
		}
		return nil
	})
}

// clearDates deletes every row of table on each distinct date. Entries may
// repeat a date, so all deletes run before any insert.
func clearDates(ctx context.Context, tx *sql.Tx, table string, dates []ledger.Date) error {
	cleared := make(map[string]bool, len(dates))
	for _, d := range dates {
		key := d.String()
		if cleared[key] {
			continue
		}
		cleared[key] = true
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE date = ?", key); err != nil {
			return fmt.Errorf("failed to clear %s %s: %w", table, d, err)
		}
	}
	return nil
}

// ListAdsFeed returns ads entries with click dates in [from, to], ordered by date.
func (s *Store) ListAdsFeed(ctx context.Context, from, to ledger.Date) ([]reconcile.AdsDailyFeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, raw_product_id, units_sold, secondary_read
		FROM ads_feed
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, raw_product_id ASC
	`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query ads feed: %w", err)
	}
	defer rows.Close()

	var entries []reconcile.AdsDailyFeedEntry
	for rows.Next() {
		var (
			date string
			item reconcile.AdsSaleItem
		)
		if err := rows.Scan(&date, &item.RawProductID, &item.UnitsSold, &item.SecondaryRead); err != nil {
			return nil, fmt.Errorf("failed to scan ads row: %w", err)
		}
		d, err := ledger.ParseDate(date)
		if err != nil {
			return nil, err
		}
		if n := len(entries); n == 0 || !entries[n-1].Date.Equal(d) {
			entries = append(entries, reconcile.AdsDailyFeedEntry{Date: d})
		}
		last := &entries[len(entries)-1]
		last.Items = append(last.Items, item)
	}
	return entries, rows.Err()
}

// ListActualSalesFeed returns sales entries with ship dates in [from, to], ordered by date.
func (s *Store) ListActualSalesFeed(ctx context.Context, from, to ledger.Date) ([]reconcile.ActualSalesFeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, raw_product_id, units_sold, secondary_read,
		       sales_amount, royalty_amount, profit_amount, print_cost_amount
		FROM sales_feed
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, raw_product_id ASC
	`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query sales feed: %w", err)
	}
	defer rows.Close()

	var entries []reconcile.ActualSalesFeedEntry
	for rows.Next() {
		var (
			date                     string
			item                     reconcile.ActualSaleItem
			sales, profit, printCost string
			royalty                  sql.NullString
		)
		if err := rows.Scan(&date, &item.RawProductID, &item.UnitsSold, &item.SecondaryRead,
			&sales, &royalty, &profit, &printCost); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		d, err := ledger.ParseDate(date)
		if err != nil {
			return nil, err
		}
		if item.SalesAmount, err = parseMoney("sales_amount", sales); err != nil {
			return nil, fmt.Errorf("sales row %s/%s: %w", date, item.RawProductID, err)
		}
		if item.ProfitAmount, err = parseMoney("profit_amount", profit); err != nil {
			return nil, fmt.Errorf("sales row %s/%s: %w", date, item.RawProductID, err)
		}
		if item.PrintCostAmount, err = parseMoney("print_cost_amount", printCost); err != nil {
			return nil, fmt.Errorf("sales row %s/%s: %w", date, item.RawProductID, err)
		}
		if royalty.Valid {
			amount, err := parseMoney("royalty_amount", royalty.String)
			if err != nil {
				return nil, fmt.Errorf("sales row %s/%s: %w", date, item.RawProductID, err)
			}
			item.RoyaltyAmount = decimal.NewNullDecimal(amount)
		}

		if n := len(entries); n == 0 || !entries[n-1].Date.Equal(d) {
			entries = append(entries, reconcile.ActualSalesFeedEntry{Date: d})
		}
		last := &entries[len(entries)-1]
		last.Items = append(last.Items, item)
	}
	return entries, rows.Err()
}

// FeedDateBounds returns the earliest and latest date of a feed, or nil if it has no rows.
func (s *Store) FeedDateBounds(ctx context.Context, feed reconcile.FeedName) (*reconcile.DateBounds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var table string
	switch feed {
	case reconcile.FeedAds:
		table = "ads_feed"
	case reconcile.FeedActualSales:
		table = "sales_feed"
	default:
		return nil, fmt.Errorf("unknown feed %q", feed)
	}

	var minDate, maxDate sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MIN(date), MAX(date) FROM "+table).Scan(&minDate, &maxDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s bounds: %w", feed, err)
	}
	if !minDate.Valid || !maxDate.Valid {
		return nil, nil
	}

	lo, err := ledger.ParseDate(minDate.String)
	if err != nil {
		return nil, err
	}
	hi, err := ledger.ParseDate(maxDate.String)
	if err != nil {
		return nil, err
	}
	return &reconcile.DateBounds{Min: lo, Max: hi}, nil
}

// =============================================================================
// PRODUCT REGISTRY (reconcile.ProductRegistry interface)
// =============================================================================

// ProductMapping links a raw feed identifier to a canonical product.
type ProductMapping struct {
	RawID        string
	CanonicalKey ledger.ProductKey
	CreatedAt    time.Time
}

// SaveProduct upserts a raw -> canonical mapping.
func (s *Store) SaveProduct(ctx context.Context, rawID string, key ledger.ProductKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (raw_id, canonical_key, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(raw_id) DO UPDATE SET canonical_key = excluded.canonical_key
	`, rawID, string(key), time.Now().UTC().Format(time.RFC3339))
	return err
}

// ListProducts returns all mappings ordered by raw id.
func (s *Store) ListProducts(ctx context.Context) ([]ProductMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT raw_id, canonical_key, created_at FROM products ORDER BY raw_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductMapping
	for rows.Next() {
		var (
			p         ProductMapping
			key       string
			createdAt string
		)
		if err := rows.Scan(&p.RawID, &key, &createdAt); err != nil {
			return nil, err
		}
		p.CanonicalKey = ledger.ProductKey(key)
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid created_at %q: %w", p.RawID, createdAt, err)
		}
		p.CreatedAt = t
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResolveCanonicalProduct looks up the canonical key for a raw identifier.
func (s *Store) ResolveCanonicalProduct(ctx context.Context, rawID string) (ledger.ProductKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var key string
	err := s.db.QueryRowContext(ctx,
		"SELECT canonical_key FROM products WHERE raw_id = ?", rawID,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &reconcile.UnknownProductError{RawID: rawID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve product %q: %w", rawID, err)
	}
	return ledger.ProductKey(key), nil
}

// =============================================================================
// DOCUMENTS (reconcile.DocumentStore interface)
// =============================================================================

// GetReconciledDocument returns the document for date, or nil if none exists.
func (s *Store) GetReconciledDocument(ctx context.Context, date ledger.Date) (*reconcile.ReconciledDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT document_json FROM reconciled_documents WHERE date = ?", date.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", date, err)
	}
	return decodeDocument(raw)
}

// ListReconciledDocuments returns documents with dates in [from, to], ordered by date.
func (s *Store) ListReconciledDocuments(ctx context.Context, from, to ledger.Date) ([]reconcile.ReconciledDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_json FROM reconciled_documents
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []reconcile.ReconciledDocument
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpsertReconciledDocuments writes all documents atomically, replacing existing dates.
func (s *Store) UpsertReconciledDocuments(ctx context.Context, docs []reconcile.ReconciledDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, doc := range docs {
			if err := upsertDocument(ctx, tx, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertDocument(ctx context.Context, db execer, doc reconcile.ReconciledDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.Date, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO reconciled_documents (date, is_settled, reconciled_at, document_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			is_settled = excluded.is_settled,
			reconciled_at = excluded.reconciled_at,
			document_json = excluded.document_json
	`, doc.Date.String(), doc.IsSettled, doc.ReconciledAt.UTC().Format(time.RFC3339Nano), string(raw))
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.Date, err)
	}
	return nil
}

func decodeDocument(raw string) (*reconcile.ReconciledDocument, error) {
	var doc reconcile.ReconciledDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &doc, nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// ReconciliationRun records one invocation of the engine.
type ReconciliationRun struct {
	ID              string
	EarliestChanged ledger.Date
	Status          string // running, completed, skipped, failed
	StartDate       ledger.Date
	EndDate         ledger.Date
	Seeded          bool
	ReconciledDays  int
	SettledThrough  ledger.Date
	SkippedReason   string
	Error           string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// SaveReconciliationRun inserts or updates a run record.
func (s *Store) SaveReconciliationRun(ctx context.Context, r ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reconciliation_runs (id, earliest_changed, status, start_date, end_date,
			seeded, reconciled_days, settled_through, skipped_reason, error,
			started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			seeded = excluded.seeded,
			reconciled_days = excluded.reconciled_days,
			settled_through = excluded.settled_through,
			skipped_reason = excluded.skipped_reason,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, nullString(r.EarliestChanged.String()), r.Status,
		nullString(r.StartDate.String()), nullString(r.EndDate.String()),
		r.Seeded, r.ReconciledDays, nullString(r.SettledThrough.String()),
		nullString(r.SkippedReason), nullString(r.Error),
		formatTimePtr(r.StartedAt), formatTimePtr(r.CompletedAt),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetReconciliationRuns returns the most recent runs, optionally filtered by status.
func (s *Store) GetReconciliationRuns(ctx context.Context, status string, limit int) ([]ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, earliest_changed, status, start_date, end_date, seeded, reconciled_days,
			settled_through, skipped_reason, error, started_at, completed_at, created_at
		FROM reconciliation_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ReconciliationRun
	for rows.Next() {
		var (
			r                                             ReconciliationRun
			earliest, start, end, settled, reason, errMsg sql.NullString
			startedAt, completedAt                        sql.NullString
			createdAt                                     string
		)
		if err := rows.Scan(
			&r.ID, &earliest, &r.Status, &start, &end, &r.Seeded, &r.ReconciledDays,
			&settled, &reason, &errMsg, &startedAt, &completedAt, &createdAt,
		); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *ledger.Date
			src sql.NullString
		}{
			{&r.EarliestChanged, earliest},
			{&r.StartDate, start},
			{&r.EndDate, end},
			{&r.SettledThrough, settled},
		} {
			if *f.dst, err = parseNullDate(f.src); err != nil {
				return nil, fmt.Errorf("run %s: %w", r.ID, err)
			}
		}
		if r.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, fmt.Errorf("run %s: invalid started_at: %w", r.ID, err)
		}
		if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, fmt.Errorf("run %s: invalid completed_at: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("run %s: invalid created_at: %w", r.ID, err)
		}
		r.SkippedReason = reason.String
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears feeds, products and documents. Run history is kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM ads_feed;
		DELETE FROM sales_feed;
		DELETE FROM products;
		DELETE FROM reconciled_documents;
	`)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseMoney(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", column, s, err)
	}
	return d, nil
}

func parseNullDate(s sql.NullString) (ledger.Date, error) {
	if !s.Valid {
		return ledger.Date{}, nil
	}
	return ledger.ParseDate(s.String)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
