/*
Package sqlite provides a SQLite-backed implementation of the capacity store.

PURPOSE:
  Implements capacity.TxStore using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  capacity.CatalogStore:  Categories and their minutes per unit
  capacity.CalendarStore: Settings, blocked dates, date overrides
  capacity.OrderStore:    Orders, delivery dates, committed load
  capacity.TxStore:       WithTx for the commit-time re-check

KEY TABLES:
  orders:          Order header (status drives capacity)
  order_items:     Line items (category, quantity, opaque attributes)
  delivery_dates:  One row per (order, date) with the time slot
  delivery_units:  One row per scheduled unit (exploded itemIds)
  categories, blocked_dates, date_overrides, settings

INDEXES:
  - idx_delivery_units_unique: one date per unit within an order
  - idx_delivery_units_date:   committed load per date (hot path)

DATES:
  Stored as "2006-01-02" text so range filters compare lexically.
  Minutes are stored as decimal text, never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead. Inside WithTx
  every read and write goes through the *sql.Tx.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/bakery.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := capacity.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - capacity/store.go: Interface definitions
  - capacity/store/memory.go: In-memory implementation for testing
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
	"github.com/warp/bakery-scheduler/capacity"
)

// Store implements capacity.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Bakery-wide scheduling defaults (single row)
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		lead_time_days INTEGER NOT NULL,
		default_work_minutes TEXT NOT NULL,
		default_time_slots_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Product categories (manufacturing time per unit)
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		minutes_per_unit TEXT NOT NULL
	);

	-- Admin-blocked production dates
	CREATE TABLE IF NOT EXISTS blocked_dates (
		date TEXT PRIMARY KEY,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	-- Per-date overrides of the defaults
	CREATE TABLE IF NOT EXISTS date_overrides (
		date TEXT PRIMARY KEY,
		work_minutes TEXT,
		blocked BOOLEAN NOT NULL DEFAULT FALSE,
		available_hours_json TEXT
	);

	-- Orders
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		customer_ref TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status
		ON orders(status);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_item_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		category_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		attributes_json TEXT,
		PRIMARY KEY (order_id, line_item_id)
	);

	CREATE TABLE IF NOT EXISTS delivery_dates (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		time_slot TEXT,
		PRIMARY KEY (order_id, date)
	);

	-- One row per scheduled unit; line_item_id/ordinal are NULL for ids
	-- that do not decode (kept verbatim for rehydration warnings)
	CREATE TABLE IF NOT EXISTS delivery_units (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		position INTEGER NOT NULL,
		unit_id TEXT NOT NULL,
		line_item_id TEXT,
		ordinal INTEGER
	);

	-- CRITICAL: A unit is scheduled on at most one date
	CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_units_unique
		ON delivery_units(order_id, unit_id);

	-- Committed load per date (hot path)
	CREATE INDEX IF NOT EXISTS idx_delivery_units_date
		ON delivery_units(date, order_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// QUERIER - shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements capacity.Store on a querier. Callers hold Store.mu.
type conn struct {
	q querier
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) ListCategories(ctx context.Context) ([]capacity.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ListCategories(ctx)
}

func (s *Store) SaveCategory(ctx context.Context, c capacity.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SaveCategory(ctx, c)
}

func (c conn) ListCategories(ctx context.Context) ([]capacity.Category, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id, name, minutes_per_unit FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []capacity.Category
	for rows.Next() {
		var cat capacity.Category
		var id, minutes string
		if err := rows.Scan(&id, &cat.Name, &minutes); err != nil {
			return nil, err
		}
		cat.ID = capacity.CategoryID(id)
		if cat.MinutesPerUnit, err = capacity.ParseMinutes(minutes); err != nil {
			return nil, fmt.Errorf("category %s: %w", id, err)
		}
		out = append(out, cat)
	}
	return out, rows.Err()
}

func (c conn) SaveCategory(ctx context.Context, cat capacity.Category) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO categories (id, name, minutes_per_unit) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, minutes_per_unit = excluded.minutes_per_unit
	`, string(cat.ID), cat.Name, cat.MinutesPerUnit.String())
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// =============================================================================
// CALENDAR
// =============================================================================

func (s *Store) GetSettings(ctx context.Context) (capacity.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.GetSettings(ctx)
}

func (s *Store) SaveSettings(ctx context.Context, st capacity.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SaveSettings(ctx, st)
}

// EnsureSettings stores st only if no settings were saved yet. Used to seed
// the configured defaults on first start without clobbering admin changes.
func (s *Store) EnsureSettings(ctx context.Context, st capacity.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&n); err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	if n > 0 {
		return nil
	}
	return conn{s.db}.SaveSettings(ctx, st)
}

func (s *Store) ListBlockedDates(ctx context.Context) ([]capacity.BlockedDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ListBlockedDates(ctx)
}

func (s *Store) BlockDate(ctx context.Context, b capacity.BlockedDate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.BlockDate(ctx, b)
}

func (s *Store) UnblockDate(ctx context.Context, d capacity.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.UnblockDate(ctx, d)
}

func (s *Store) ListDateOverrides(ctx context.Context) ([]capacity.DateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.ListDateOverrides(ctx)
}

func (s *Store) SaveDateOverride(ctx context.Context, o capacity.DateOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SaveDateOverride(ctx, o)
}

func (s *Store) DeleteDateOverride(ctx context.Context, d capacity.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.DeleteDateOverride(ctx, d)
}

func (c conn) GetSettings(ctx context.Context) (capacity.Settings, error) {
	var st capacity.Settings
	var minutes, slotsJSON string
	err := c.q.QueryRowContext(ctx, `
		SELECT lead_time_days, default_work_minutes, default_time_slots_json FROM settings WHERE id = 1
	`).Scan(&st.LeadTimeDays, &minutes, &slotsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return capacity.DefaultSettings(), nil
	}
	if err != nil {
		return capacity.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	if st.DefaultWorkMinutes, err = capacity.ParseMinutes(minutes); err != nil {
		return capacity.Settings{}, fmt.Errorf("default work minutes: %w", err)
	}
	if err := json.Unmarshal([]byte(slotsJSON), &st.DefaultTimeSlots); err != nil {
		return capacity.Settings{}, fmt.Errorf("default time slots: %w", err)
	}
	return st, nil
}

func (c conn) SaveSettings(ctx context.Context, st capacity.Settings) error {
	slots := st.DefaultTimeSlots
	if slots == nil {
		slots = []string{}
	}
	slotsJSON, _ := json.Marshal(slots)
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO settings (id, lead_time_days, default_work_minutes, default_time_slots_json, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lead_time_days = excluded.lead_time_days,
			default_work_minutes = excluded.default_work_minutes,
			default_time_slots_json = excluded.default_time_slots_json,
			updated_at = excluded.updated_at
	`, st.LeadTimeDays, st.DefaultWorkMinutes.String(), string(slotsJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (c conn) ListBlockedDates(ctx context.Context) ([]capacity.BlockedDate, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT date, reason FROM blocked_dates ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked dates: %w", err)
	}
	defer rows.Close()

	var out []capacity.BlockedDate
	for rows.Next() {
		var date string
		var reason sql.NullString
		if err := rows.Scan(&date, &reason); err != nil {
			return nil, err
		}
		d, err := capacity.ParseDate(date)
		if err != nil {
			return nil, err
		}
		out = append(out, capacity.BlockedDate{Date: d, Reason: reason.String})
	}
	return out, rows.Err()
}

func (c conn) BlockDate(ctx context.Context, b capacity.BlockedDate) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO blocked_dates (date, reason, created_at) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET reason = excluded.reason
	`, b.Date.String(), nullString(b.Reason), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to block date: %w", err)
	}
	return nil
}

func (c conn) UnblockDate(ctx context.Context, d capacity.Date) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM blocked_dates WHERE date = ?`, d.String()); err != nil {
		return fmt.Errorf("failed to unblock date: %w", err)
	}
	return nil
}

func (c conn) ListDateOverrides(ctx context.Context) ([]capacity.DateOverride, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT date, work_minutes, blocked, available_hours_json FROM date_overrides ORDER BY date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list date overrides: %w", err)
	}
	defer rows.Close()

	var out []capacity.DateOverride
	for rows.Next() {
		var date string
		var minutes, hoursJSON sql.NullString
		var o capacity.DateOverride
		if err := rows.Scan(&date, &minutes, &o.Blocked, &hoursJSON); err != nil {
			return nil, err
		}
		if o.Date, err = capacity.ParseDate(date); err != nil {
			return nil, err
		}
		if minutes.Valid {
			m, err := capacity.ParseMinutes(minutes.String)
			if err != nil {
				return nil, fmt.Errorf("override %s: %w", date, err)
			}
			o.WorkMinutes = &m
		}
		if hoursJSON.Valid {
			if err := json.Unmarshal([]byte(hoursJSON.String), &o.AvailableHours); err != nil {
				return nil, fmt.Errorf("override %s: %w", date, err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (c conn) SaveDateOverride(ctx context.Context, o capacity.DateOverride) error {
	var minutes, hours sql.NullString
	if o.WorkMinutes != nil {
		minutes = sql.NullString{String: o.WorkMinutes.String(), Valid: true}
	}
	if o.AvailableHours != nil {
		b, _ := json.Marshal(o.AvailableHours)
		hours = sql.NullString{String: string(b), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO date_overrides (date, work_minutes, blocked, available_hours_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			work_minutes = excluded.work_minutes,
			blocked = excluded.blocked,
			available_hours_json = excluded.available_hours_json
	`, o.Date.String(), minutes, o.Blocked, hours)
	if err != nil {
		return fmt.Errorf("failed to save date override: %w", err)
	}
	return nil
}

func (c conn) DeleteDateOverride(ctx context.Context, d capacity.Date) error {
	if _, err := c.q.ExecContext(ctx, `DELETE FROM date_overrides WHERE date = ?`, d.String()); err != nil {
		return fmt.Errorf("failed to delete date override: %w", err)
	}
	return nil
}

// =============================================================================
// ORDERS
// =============================================================================

func (s *Store) GetOrder(ctx context.Context, id capacity.OrderID) (*capacity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.GetOrder(ctx, id)
}

// CreateOrder writes the order, items and delivery dates in one transaction.
func (s *Store) CreateOrder(ctx context.Context, o capacity.Order) error {
	return s.WithTx(ctx, func(st capacity.Store) error {
		return st.CreateOrder(ctx, o)
	})
}

// ReplaceDeliveryDates swaps the order's assignment in one transaction.
func (s *Store) ReplaceDeliveryDates(ctx context.Context, id capacity.OrderID, dd []capacity.DeliveryDate, at time.Time) error {
	return s.WithTx(ctx, func(st capacity.Store) error {
		return st.ReplaceDeliveryDates(ctx, id, dd, at)
	})
}

func (s *Store) SetOrderStatus(ctx context.Context, id capacity.OrderID, status capacity.OrderStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn{s.db}.SetOrderStatus(ctx, id, status, at)
}

func (s *Store) CommittedUnits(ctx context.Context, from, to capacity.Date, exclude capacity.OrderID) (capacity.CommittedUnits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return conn{s.db}.CommittedUnits(ctx, from, to, exclude)
}

func (c conn) GetOrder(ctx context.Context, id capacity.OrderID) (*capacity.Order, error) {
	var o capacity.Order
	var status, createdAt, updatedAt string
	var customerRef sql.NullString
	err := c.q.QueryRowContext(ctx, `
		SELECT id, status, customer_ref, created_at, updated_at FROM orders WHERE id = ?
	`, string(id)).Scan(&o.ID, &status, &customerRef, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", capacity.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	o.Status = capacity.OrderStatus(status)
	o.CustomerRef = customerRef.String
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if o.Items, err = c.loadItems(ctx, id); err != nil {
		return nil, err
	}
	if o.DeliveryDates, err = c.loadDeliveryDates(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c conn) loadItems(ctx context.Context, id capacity.OrderID) ([]capacity.LineItem, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT line_item_id, category_id, quantity, attributes_json
		FROM order_items WHERE order_id = ? ORDER BY position
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	var out []capacity.LineItem
	for rows.Next() {
		var li capacity.LineItem
		var lineItemID, categoryID string
		var attrs sql.NullString
		if err := rows.Scan(&lineItemID, &categoryID, &li.Quantity, &attrs); err != nil {
			return nil, err
		}
		li.ID = capacity.LineItemID(lineItemID)
		li.Category = capacity.CategoryID(categoryID)
		if attrs.Valid {
			if err := json.Unmarshal([]byte(attrs.String), &li.Attributes); err != nil {
				return nil, fmt.Errorf("line item %s attributes: %w", lineItemID, err)
			}
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (c conn) loadDeliveryDates(ctx context.Context, id capacity.OrderID) ([]capacity.DeliveryDate, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT dd.date, dd.time_slot, du.unit_id
		FROM delivery_dates dd
		LEFT JOIN delivery_units du ON du.order_id = dd.order_id AND du.date = dd.date
		WHERE dd.order_id = ?
		ORDER BY dd.date, du.position
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery dates: %w", err)
	}
	defer rows.Close()

	var out []capacity.DeliveryDate
	for rows.Next() {
		var date string
		var slot, unitID sql.NullString
		if err := rows.Scan(&date, &slot, &unitID); err != nil {
			return nil, err
		}
		d, err := capacity.ParseDate(date)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Date != d {
			out = append(out, capacity.DeliveryDate{Date: d, TimeSlot: slot.String, ItemIDs: []string{}})
		}
		if unitID.Valid {
			last := &out[len(out)-1]
			last.ItemIDs = append(last.ItemIDs, unitID.String)
		}
	}
	return out, rows.Err()
}

func (c conn) CreateOrder(ctx context.Context, o capacity.Order) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO orders (id, status, customer_ref, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, string(o.ID), string(o.Status), nullString(o.CustomerRef),
		o.CreatedAt.UTC().Format(time.RFC3339Nano), o.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", capacity.ErrOrderExists, o.ID)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i, li := range o.Items {
		var attrs sql.NullString
		if li.Attributes != nil {
			b, _ := json.Marshal(li.Attributes)
			attrs = sql.NullString{String: string(b), Valid: true}
		}
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_item_id, position, category_id, quantity, attributes_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(o.ID), string(li.ID), i, string(li.Category), li.Quantity, attrs)
		if err != nil {
			return fmt.Errorf("failed to insert order item %s: %w", li.ID, err)
		}
	}
	return c.insertDeliveryDates(ctx, o.ID, o.DeliveryDates)
}

func (c conn) ReplaceDeliveryDates(ctx context.Context, id capacity.OrderID, dd []capacity.DeliveryDate, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `UPDATE orders SET updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), string(id))
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", capacity.ErrOrderNotFound, id)
	}
	if _, err := c.q.ExecContext(ctx, `DELETE FROM delivery_units WHERE order_id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to clear delivery units: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `DELETE FROM delivery_dates WHERE order_id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to clear delivery dates: %w", err)
	}
	return c.insertDeliveryDates(ctx, id, dd)
}

func (c conn) insertDeliveryDates(ctx context.Context, id capacity.OrderID, dd []capacity.DeliveryDate) error {
	merged := mergeByDate(dd)
	for _, entry := range merged {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO delivery_dates (order_id, date, time_slot) VALUES (?, ?, ?)
		`, string(id), entry.Date.String(), nullString(entry.TimeSlot))
		if err != nil {
			return fmt.Errorf("failed to insert delivery date %s: %w", entry.Date, err)
		}

		for i, raw := range entry.ItemIDs {
			var lineItem sql.NullString
			var ordinal sql.NullInt64
			if u, err := capacity.DecodeUnitID(raw); err == nil {
				lineItem = sql.NullString{String: string(u.LineItem), Valid: true}
				ordinal = sql.NullInt64{Int64: int64(u.Ordinal), Valid: true}
			}
			_, err := c.q.ExecContext(ctx, `
				INSERT INTO delivery_units (order_id, date, position, unit_id, line_item_id, ordinal)
				VALUES (?, ?, ?, ?, ?, ?)
			`, string(id), entry.Date.String(), i, raw, lineItem, ordinal)
			if err != nil {
				if isUniqueConstraintError(err) {
					return &capacity.UnitIntegrityError{Raw: raw, Date: entry.Date, Err: capacity.ErrDuplicateUnit}
				}
				return fmt.Errorf("failed to insert delivery unit: %w", err)
			}
		}
	}
	return nil
}

func (c conn) SetOrderStatus(ctx context.Context, id capacity.OrderID, status capacity.OrderStatus, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at.UTC().Format(time.RFC3339Nano), string(id))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", capacity.ErrOrderNotFound, id)
	}
	return nil
}

func (c conn) CommittedUnits(ctx context.Context, from, to capacity.Date, exclude capacity.OrderID) (capacity.CommittedUnits, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT du.date, oi.category_id, COUNT(*)
		FROM delivery_units du
		JOIN orders o ON o.id = du.order_id
		JOIN order_items oi ON oi.order_id = du.order_id AND oi.line_item_id = du.line_item_id
		WHERE o.status != ?
		  AND du.date BETWEEN ? AND ?
		  AND du.order_id != ?
		GROUP BY du.date, oi.category_id
	`, string(capacity.OrderCancelled), from.String(), to.String(), string(exclude))
	if err != nil {
		return nil, fmt.Errorf("failed to load committed units: %w", err)
	}
	defer rows.Close()

	cu := make(capacity.CommittedUnits)
	for rows.Next() {
		var date, category string
		var n int
		if err := rows.Scan(&date, &category, &n); err != nil {
			return nil, err
		}
		d, err := capacity.ParseDate(date)
		if err != nil {
			return nil, err
		}
		if cu[d] == nil {
			cu[d] = make(map[capacity.CategoryID]int)
		}
		cu[d][capacity.CategoryID(category)] += n
	}
	return cu, rows.Err()
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store capacity.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). Settings fall back to defaults.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"delivery_units", "delivery_dates", "order_items", "orders",
		"date_overrides", "blocked_dates", "categories", "settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// ListOrders returns order ids, newest first (for admin view).
func (s *Store) ListOrders(ctx context.Context, limit int) ([]capacity.OrderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []capacity.OrderID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, capacity.OrderID(id))
	}
	return out, rows.Err()
}

// Helper functions

// mergeByDate folds entries sharing a date; the first non-empty slot wins.
func mergeByDate(dd []capacity.DeliveryDate) []capacity.DeliveryDate {
	var out []capacity.DeliveryDate
	index := make(map[capacity.Date]int)
	for _, entry := range dd {
		i, ok := index[entry.Date]
		if !ok {
			index[entry.Date] = len(out)
			out = append(out, capacity.DeliveryDate{Date: entry.Date, TimeSlot: entry.TimeSlot})
			i = len(out) - 1
		} else if out[i].TimeSlot == "" {
			out[i].TimeSlot = entry.TimeSlot
		}
		out[i].ItemIDs = append(out[i].ItemIDs, entry.ItemIDs...)
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var _ capacity.TxStore = (*Store)(nil)
