/*
Package capacity provides the manufacturing capacity scheduler.

PURPOSE:
  Converts a cart of line items into one or more delivery-date assignments
  that respect the bakery's finite daily production capacity. Capacity is a
  single pool of manufacturing minutes per calendar day.

KEY CONCEPTS IN THIS FILE (types.go):
  - Minutes:      Decimal quantity of manufacturing time
  - LineItem:     A cart/order line with a category and a quantity
  - Unit:         One indivisible piece of a line item's quantity
  - DeliveryDate: The persisted shape of a date assignment

PIPELINE:
  Snapshot Builder  (snapshot.go)   per-day remaining minutes + unavailable dates
  Capacity Evaluator (evaluator.go) total minutes vs. best single day
  Unit Allocator    (session.go)    units <-> dates, capacity checks
  Assignment Persister (persister.go) session <-> deliveryDates
  Service           (service.go)    fetch availability, commit with re-check

DESIGN PRINCIPLES:
  1. Precision: minutes use decimal.Decimal (7.5 min/cookie is valid)
  2. Explicit time: "today" is always derived from an injected now
  3. Pure transitions: Session operations return a new Session
  4. Overbooking is data: negative remaining minutes are preserved, never clamped

SEE ALSO:
  - errors.go: Error taxonomy
  - store.go: Persistence interfaces
*/
package capacity

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MINUTES - Manufacturing time
// =============================================================================

// Minutes is an amount of manufacturing time. The zero value is 0 minutes.
type Minutes struct {
	Value decimal.Decimal
}

func NewMinutes(value float64) Minutes { return Minutes{Value: decimal.NewFromFloat(value)} }
func MinutesFromInt(value int) Minutes { return Minutes{Value: decimal.NewFromInt(int64(value))} }

// ParseMinutes parses a decimal string such as "7.5".
func ParseMinutes(s string) (Minutes, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Minutes{}, fmt.Errorf("invalid minutes %q: %w", s, err)
	}
	return Minutes{Value: d}, nil
}

func (m Minutes) Add(o Minutes) Minutes      { return Minutes{Value: m.Value.Add(o.Value)} }
func (m Minutes) Sub(o Minutes) Minutes      { return Minutes{Value: m.Value.Sub(o.Value)} }
func (m Minutes) Times(n int) Minutes        { return Minutes{Value: m.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (m Minutes) Neg() Minutes               { return Minutes{Value: m.Value.Neg()} }
func (m Minutes) Floor() Minutes             { return Minutes{Value: m.Value.Floor()} }
func (m Minutes) IsZero() bool               { return m.Value.IsZero() }
func (m Minutes) IsNegative() bool           { return m.Value.IsNegative() }
func (m Minutes) IsPositive() bool           { return m.Value.IsPositive() }
func (m Minutes) Equal(o Minutes) bool       { return m.Value.Equal(o.Value) }
func (m Minutes) LessThan(o Minutes) bool    { return m.Value.LessThan(o.Value) }
func (m Minutes) GreaterThan(o Minutes) bool { return m.Value.GreaterThan(o.Value) }
func (m Minutes) Float64() float64           { return m.Value.InexactFloat64() }
func (m Minutes) String() string             { return m.Value.String() }

func (m Minutes) Max(o Minutes) Minutes {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// MarshalJSON encodes minutes as a bare JSON number.
func (m Minutes) MarshalJSON() ([]byte, error) {
	return []byte(m.Value.String()), nil
}

// UnmarshalJSON accepts both 30 and "30".
func (m *Minutes) UnmarshalJSON(b []byte) error {
	return m.Value.UnmarshalJSON(b)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CategoryID string
type LineItemID string
type OrderID string

// Role selects the constraint policy of a scheduling path.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// =============================================================================
// CATALOG INPUTS (read-only for scheduling)
// =============================================================================

// Category is a product category with its per-unit manufacturing time.
type Category struct {
	ID             CategoryID
	Name           string
	MinutesPerUnit Minutes
}

// CategoryTimes maps a category to minutes per unit. A missing category
// means no manufacturing time.
type CategoryTimes map[CategoryID]Minutes

// Of returns the minutes for one unit of the category, or zero.
func (ct CategoryTimes) Of(id CategoryID) Minutes {
	return ct[id]
}

// LineItem is one line of a cart or order. Attributes (flavor, diameter,
// inscription) are opaque to the scheduler.
type LineItem struct {
	ID         LineItemID
	Category   CategoryID
	Quantity   int
	Attributes map[string]string
}

// Validate checks the line item can enter scheduling.
func (li LineItem) Validate() error {
	if li.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidLineItem)
	}
	if li.Quantity < 1 {
		return fmt.Errorf("%w: %s has quantity %d", ErrInvalidLineItem, li.ID, li.Quantity)
	}
	return nil
}

// ValidateLineItems checks every item and rejects duplicate ids.
func ValidateLineItems(items []LineItem) error {
	seen := make(map[LineItemID]bool, len(items))
	for _, li := range items {
		if err := li.Validate(); err != nil {
			return err
		}
		if seen[li.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidLineItem, li.ID)
		}
		seen[li.ID] = true
	}
	return nil
}

// =============================================================================
// UNITS - Atomic schedulable entities
// =============================================================================

// UnitID identifies one unit: (line item, ordinal), ordinal in [0, quantity).
type UnitID struct {
	LineItem LineItemID
	Ordinal  int
}

// Unit is one unit with the category it inherits from its line item.
type Unit struct {
	ID       UnitID
	Category CategoryID
}

// ExplodeUnits derives the units of items, in line-item order then ordinal.
func ExplodeUnits(items []LineItem) []Unit {
	var units []Unit
	for _, li := range items {
		for i := range li.Quantity {
			units = append(units, Unit{
				ID:       UnitID{LineItem: li.ID, Ordinal: i},
				Category: li.Category,
			})
		}
	}
	return units
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// DateAssignment is the set of units committed to one date and time slot.
type DateAssignment struct {
	Date     Date
	TimeSlot string
	Units    []UnitID
}

// DeliveryDate is the persisted form of a DateAssignment: unit identities
// are encoded as strings (see unitid.go).
type DeliveryDate struct {
	Date     Date
	TimeSlot string
	ItemIDs  []string
}

// =============================================================================
// ORDER
// =============================================================================

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is the slice of an order record the scheduler reads and writes.
type Order struct {
	ID            OrderID
	Status        OrderStatus
	CustomerRef   string
	Items         []LineItem
	DeliveryDates []DeliveryDate
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CommitsCapacity reports whether the order's units count against capacity.
func (o *Order) CommitsCapacity() bool {
	return o.Status != OrderCancelled
}

// SortDeliveryDates orders entries by date.
func SortDeliveryDates(dd []DeliveryDate) {
	sort.SliceStable(dd, func(i, j int) bool { return dd[i].Date.Before(dd[j].Date) })
}
