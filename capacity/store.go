/*
store.go - Persistence interfaces for the scheduler

PURPOSE:
  Defines the boundary between scheduling logic and the database. The
  scheduler reads catalog times, calendar settings and committed load, and
  writes an order's delivery dates.

KEY INTERFACES:
  CatalogStore:  category -> minutes per unit (read-only for scheduling)
  CalendarStore: settings, admin-blocked dates, per-date overrides
  OrderStore:    orders, their delivery dates, committed load per day
  TxStore:       all of the above plus WithTx for atomic re-check + write

WHOLESALE REPLACEMENT:
  ReplaceDeliveryDates swaps an order's entire assignment. Partial per-date
  patches are not supported.

ONE UNIT, ONE DATE:
  Implementations must reject a delivery-date set that names the same unit
  twice (sqlite enforces it with a unique index).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - capacity/store/memory.go: In-memory for tests/dev
*/
package capacity

import (
	"context"
	"time"
)

// Settings are the bakery-wide scheduling defaults.
type Settings struct {
	LeadTimeDays       int
	DefaultWorkMinutes Minutes
	DefaultTimeSlots   []string
}

// DefaultSettings are used until an admin saves settings.
func DefaultSettings() Settings {
	return Settings{
		LeadTimeDays:       3,
		DefaultWorkMinutes: MinutesFromInt(480),
		DefaultTimeSlots:   []string{"09:00-12:00", "12:00-15:00", "15:00-18:00"},
	}
}

// BlockedDate is a date an admin closed for production.
type BlockedDate struct {
	Date   Date
	Reason string
}

// CommittedUnits counts scheduled units per date and category.
type CommittedUnits map[Date]map[CategoryID]int

// Minutes converts unit counts to minutes per date.
func (cu CommittedUnits) Minutes(times CategoryTimes) map[Date]Minutes {
	out := make(map[Date]Minutes, len(cu))
	for d, byCategory := range cu {
		var total Minutes
		for cat, n := range byCategory {
			total = total.Add(times.Of(cat).Times(n))
		}
		out[d] = total
	}
	return out
}

// AddOrder counts o's units scheduled in [from, to]. Ids that do not decode
// or name an unknown line item are skipped.
func (cu CommittedUnits) AddOrder(o *Order, from, to Date) {
	categories := make(map[LineItemID]CategoryID, len(o.Items))
	for _, li := range o.Items {
		categories[li.ID] = li.Category
	}
	for _, entry := range o.DeliveryDates {
		if entry.Date.Before(from) || entry.Date.After(to) {
			continue
		}
		for _, raw := range entry.ItemIDs {
			id, err := DecodeUnitID(raw)
			if err != nil {
				continue
			}
			cat, ok := categories[id.LineItem]
			if !ok {
				continue
			}
			if cu[entry.Date] == nil {
				cu[entry.Date] = make(map[CategoryID]int)
			}
			cu[entry.Date][cat]++
		}
	}
}

// CatalogStore exposes category manufacturing times.
type CatalogStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	SaveCategory(ctx context.Context, c Category) error
}

// CalendarStore holds the admin-controlled calendar inputs.
type CalendarStore interface {
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	ListBlockedDates(ctx context.Context) ([]BlockedDate, error)
	BlockDate(ctx context.Context, b BlockedDate) error
	UnblockDate(ctx context.Context, d Date) error

	ListDateOverrides(ctx context.Context) ([]DateOverride, error)
	SaveDateOverride(ctx context.Context, o DateOverride) error
	DeleteDateOverride(ctx context.Context, d Date) error
}

// OrderStore persists orders and their delivery dates.
type OrderStore interface {
	// GetOrder returns ErrOrderNotFound if the order doesn't exist.
	GetOrder(ctx context.Context, id OrderID) (*Order, error)

	// CreateOrder returns ErrOrderExists if the id is taken.
	CreateOrder(ctx context.Context, o Order) error

	// ReplaceDeliveryDates swaps the order's whole assignment.
	ReplaceDeliveryDates(ctx context.Context, id OrderID, dd []DeliveryDate, at time.Time) error

	SetOrderStatus(ctx context.Context, id OrderID, status OrderStatus, at time.Time) error

	// CommittedUnits counts units of non-cancelled orders scheduled in
	// [from, to], skipping exclude (the order being edited) when non-empty.
	CommittedUnits(ctx context.Context, from, to Date, exclude OrderID) (CommittedUnits, error)
}

// Store is everything the scheduler needs.
type Store interface {
	CatalogStore
	CalendarStore
	OrderStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// CategoryTimesOf lists the catalog and indexes it by category.
func CategoryTimesOf(ctx context.Context, cs CatalogStore) (CategoryTimes, error) {
	categories, err := cs.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	times := make(CategoryTimes, len(categories))
	for _, c := range categories {
		times[c.ID] = c.MinutesPerUnit
	}
	return times, nil
}
