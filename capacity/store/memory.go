// Package store provides in-memory capacity.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/bakery-scheduler/capacity"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

type data struct {
	settings   capacity.Settings
	categories map[capacity.CategoryID]capacity.Category
	blocked    map[capacity.Date]capacity.BlockedDate
	overrides  map[capacity.Date]capacity.DateOverride
	orders     map[capacity.OrderID]capacity.Order
}

func newData() data {
	return data{
		settings:   capacity.DefaultSettings(),
		categories: make(map[capacity.CategoryID]capacity.Category),
		blocked:    make(map[capacity.Date]capacity.BlockedDate),
		overrides:  make(map[capacity.Date]capacity.DateOverride),
		orders:     make(map[capacity.OrderID]capacity.Order),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

// Reset drops everything and restores default settings.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newData()
	return nil
}

// ===== CATALOG =====

func (m *Memory) ListCategories(ctx context.Context) ([]capacity.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListCategories(ctx)
}

func (m *Memory) SaveCategory(ctx context.Context, c capacity.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveCategory(ctx, c)
}

// ===== CALENDAR =====

func (m *Memory) GetSettings(ctx context.Context) (capacity.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetSettings(ctx)
}

func (m *Memory) SaveSettings(ctx context.Context, s capacity.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveSettings(ctx, s)
}

func (m *Memory) ListBlockedDates(ctx context.Context) ([]capacity.BlockedDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListBlockedDates(ctx)
}

func (m *Memory) BlockDate(ctx context.Context, b capacity.BlockedDate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.BlockDate(ctx, b)
}

func (m *Memory) UnblockDate(ctx context.Context, d capacity.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UnblockDate(ctx, d)
}

func (m *Memory) ListDateOverrides(ctx context.Context) ([]capacity.DateOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListDateOverrides(ctx)
}

func (m *Memory) SaveDateOverride(ctx context.Context, o capacity.DateOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveDateOverride(ctx, o)
}

func (m *Memory) DeleteDateOverride(ctx context.Context, d capacity.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteDateOverride(ctx, d)
}

// ===== ORDERS =====

func (m *Memory) GetOrder(ctx context.Context, id capacity.OrderID) (*capacity.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetOrder(ctx, id)
}

func (m *Memory) CreateOrder(ctx context.Context, o capacity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateOrder(ctx, o)
}

func (m *Memory) ReplaceDeliveryDates(ctx context.Context, id capacity.OrderID, dd []capacity.DeliveryDate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ReplaceDeliveryDates(ctx, id, dd, at)
}

func (m *Memory) SetOrderStatus(ctx context.Context, id capacity.OrderID, status capacity.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetOrderStatus(ctx, id, status, at)
}

func (m *Memory) CommittedUnits(ctx context.Context, from, to capacity.Date, exclude capacity.OrderID) (capacity.CommittedUnits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.CommittedUnits(ctx, from, to, exclude)
}

// =============================================================================
// UNLOCKED OPERATIONS - callers hold Memory.mu
// =============================================================================

func (d *data) ListCategories(_ context.Context) ([]capacity.Category, error) {
	out := make([]capacity.Category, 0, len(d.categories))
	for _, c := range d.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) SaveCategory(_ context.Context, c capacity.Category) error {
	d.categories[c.ID] = c
	return nil
}

func (d *data) GetSettings(_ context.Context) (capacity.Settings, error) {
	s := d.settings
	s.DefaultTimeSlots = append([]string(nil), s.DefaultTimeSlots...)
	return s, nil
}

func (d *data) SaveSettings(_ context.Context, s capacity.Settings) error {
	s.DefaultTimeSlots = append([]string(nil), s.DefaultTimeSlots...)
	d.settings = s
	return nil
}

func (d *data) ListBlockedDates(_ context.Context) ([]capacity.BlockedDate, error) {
	out := make([]capacity.BlockedDate, 0, len(d.blocked))
	for _, b := range d.blocked {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (d *data) BlockDate(_ context.Context, b capacity.BlockedDate) error {
	d.blocked[b.Date] = b
	return nil
}

func (d *data) UnblockDate(_ context.Context, date capacity.Date) error {
	delete(d.blocked, date)
	return nil
}

func (d *data) ListDateOverrides(_ context.Context) ([]capacity.DateOverride, error) {
	out := make([]capacity.DateOverride, 0, len(d.overrides))
	for _, o := range d.overrides {
		out = append(out, copyOverride(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (d *data) SaveDateOverride(_ context.Context, o capacity.DateOverride) error {
	d.overrides[o.Date] = copyOverride(o)
	return nil
}

func (d *data) DeleteDateOverride(_ context.Context, date capacity.Date) error {
	delete(d.overrides, date)
	return nil
}

func (d *data) GetOrder(_ context.Context, id capacity.OrderID) (*capacity.Order, error) {
	o, ok := d.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", capacity.ErrOrderNotFound, id)
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (d *data) CreateOrder(_ context.Context, o capacity.Order) error {
	if _, ok := d.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", capacity.ErrOrderExists, o.ID)
	}
	if err := checkUnique(o.DeliveryDates); err != nil {
		return err
	}
	d.orders[o.ID] = copyOrder(o)
	return nil
}

func (d *data) ReplaceDeliveryDates(_ context.Context, id capacity.OrderID, dd []capacity.DeliveryDate, at time.Time) error {
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", capacity.ErrOrderNotFound, id)
	}
	if err := checkUnique(dd); err != nil {
		return err
	}
	o.DeliveryDates = copyDeliveryDates(dd)
	o.UpdatedAt = at
	d.orders[id] = o
	return nil
}

func (d *data) SetOrderStatus(_ context.Context, id capacity.OrderID, status capacity.OrderStatus, at time.Time) error {
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", capacity.ErrOrderNotFound, id)
	}
	o.Status = status
	o.UpdatedAt = at
	d.orders[id] = o
	return nil
}

func (d *data) CommittedUnits(_ context.Context, from, to capacity.Date, exclude capacity.OrderID) (capacity.CommittedUnits, error) {
	cu := make(capacity.CommittedUnits)
	for id, o := range d.orders {
		if id == exclude || !o.CommitsCapacity() {
			continue
		}
		cu.AddOrder(&o, from, to)
	}
	return cu, nil
}

func (d *data) clone() data {
	cp := newData()
	cp.settings = d.settings
	cp.settings.DefaultTimeSlots = append([]string(nil), d.settings.DefaultTimeSlots...)
	for k, v := range d.categories {
		cp.categories[k] = v
	}
	for k, v := range d.blocked {
		cp.blocked[k] = v
	}
	for k, v := range d.overrides {
		cp.overrides[k] = copyOverride(v)
	}
	for k, v := range d.orders {
		cp.orders[k] = copyOrder(v)
	}
	return cp
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The lock is held for the whole of fn, so transactions are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(capacity.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	saved := tm.data.clone()
	if err := fn(&tm.data); err != nil {
		tm.data = saved
		return err
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkUnique enforces one date per unit id within an order.
func checkUnique(dd []capacity.DeliveryDate) error {
	seen := make(map[string]capacity.Date)
	for _, entry := range dd {
		for _, raw := range entry.ItemIDs {
			if at, ok := seen[raw]; ok {
				return &capacity.UnitIntegrityError{
					Raw:  raw,
					Date: entry.Date,
					Err:  fmt.Errorf("%w (already on %s)", capacity.ErrDuplicateUnit, at),
				}
			}
			seen[raw] = entry.Date
		}
	}
	return nil
}

func copyOverride(o capacity.DateOverride) capacity.DateOverride {
	if o.WorkMinutes != nil {
		m := *o.WorkMinutes
		o.WorkMinutes = &m
	}
	if o.AvailableHours != nil {
		o.AvailableHours = append([]string{}, o.AvailableHours...)
	}
	return o
}

func copyDeliveryDates(dd []capacity.DeliveryDate) []capacity.DeliveryDate {
	out := make([]capacity.DeliveryDate, len(dd))
	for i, entry := range dd {
		entry.ItemIDs = append([]string(nil), entry.ItemIDs...)
		out[i] = entry
	}
	capacity.SortDeliveryDates(out)
	return out
}

func copyOrder(o capacity.Order) capacity.Order {
	items := make([]capacity.LineItem, len(o.Items))
	for i, li := range o.Items {
		if li.Attributes != nil {
			attrs := make(map[string]string, len(li.Attributes))
			for k, v := range li.Attributes {
				attrs[k] = v
			}
			li.Attributes = attrs
		}
		items[i] = li
	}
	o.Items = items
	o.DeliveryDates = copyDeliveryDates(o.DeliveryDates)
	return o
}
