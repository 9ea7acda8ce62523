package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bakery-scheduler/capacity"
	"github.com/warp/bakery-scheduler/capacity/store"
)

var (
	d1 = capacity.MustParseDate("2025-03-06")
	d2 = capacity.MustParseDate("2025-03-07")
)

func testOrder(id string, status capacity.OrderStatus, dd ...capacity.DeliveryDate) capacity.Order {
	return capacity.Order{
		ID:     capacity.OrderID(id),
		Status: status,
		Items: []capacity.LineItem{
			{ID: "li-cake", Category: "cake", Quantity: 2, Attributes: map[string]string{"flavor": "lemon"}},
			{ID: "li-tart", Category: "tart", Quantity: 1},
		},
		DeliveryDates: dd,
	}
}

func TestMemory_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	o := testOrder("order-1", capacity.OrderPending,
		capacity.DeliveryDate{Date: d2, ItemIDs: []string{"li-tart::unit::0"}},
		capacity.DeliveryDate{Date: d1, TimeSlot: "09:00-12:00", ItemIDs: []string{"li-cake::unit::0", "li-cake::unit::1"}},
	)
	require.NoError(t, m.CreateOrder(ctx, o))
	assert.ErrorIs(t, m.CreateOrder(ctx, o), capacity.ErrOrderExists)

	got, err := m.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, got.DeliveryDates, 2)
	assert.Equal(t, d1, got.DeliveryDates[0].Date, "sorted by date")

	// Returned orders are copies.
	got.Items[0].Attributes["flavor"] = "chocolate"
	again, _ := m.GetOrder(ctx, "order-1")
	assert.Equal(t, "lemon", again.Items[0].Attributes["flavor"])

	at := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.ReplaceDeliveryDates(ctx, "order-1", []capacity.DeliveryDate{
		{Date: d2, ItemIDs: []string{"li-cake::unit::0", "li-cake::unit::1", "li-tart::unit::0"}},
	}, at))
	require.NoError(t, m.SetOrderStatus(ctx, "order-1", capacity.OrderConfirmed, at))

	got, err = m.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, capacity.OrderConfirmed, got.Status)
	assert.Equal(t, at, got.UpdatedAt)
	require.Len(t, got.DeliveryDates, 1)

	_, err = m.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, capacity.ErrOrderNotFound)
	assert.ErrorIs(t, m.SetOrderStatus(ctx, "missing", capacity.OrderCancelled, at), capacity.ErrOrderNotFound)
}

func TestMemory_RejectsDuplicateUnits(t *testing.T) {
	m := store.NewMemory()

	err := m.CreateOrder(context.Background(), testOrder("order-1", capacity.OrderPending,
		capacity.DeliveryDate{Date: d1, ItemIDs: []string{"li-cake::unit::0"}},
		capacity.DeliveryDate{Date: d2, ItemIDs: []string{"li-cake::unit::0"}},
	))

	assert.ErrorIs(t, err, capacity.ErrDuplicateUnit)
}

func TestMemory_CommittedUnits(t *testing.T) {
	// GIVEN: a pending order, a cancelled order and an order being edited
	// WHEN: counting committed units in [d1, d1]
	// THEN: only the pending order counts

	ctx := context.Background()
	m := store.NewMemory()
	all := []string{"li-cake::unit::0", "li-cake::unit::1", "li-tart::unit::0"}

	require.NoError(t, m.CreateOrder(ctx, testOrder("pending", capacity.OrderPending,
		capacity.DeliveryDate{Date: d1, ItemIDs: all})))
	require.NoError(t, m.CreateOrder(ctx, testOrder("cancelled", capacity.OrderCancelled,
		capacity.DeliveryDate{Date: d1, ItemIDs: all})))
	require.NoError(t, m.CreateOrder(ctx, testOrder("editing", capacity.OrderPending,
		capacity.DeliveryDate{Date: d1, ItemIDs: all},
		capacity.DeliveryDate{Date: d2, ItemIDs: []string{"bogus"}})))

	cu, err := m.CommittedUnits(ctx, d1, d1, "editing")
	require.NoError(t, err)

	assert.Equal(t, capacity.CommittedUnits{d1: {"cake": 2, "tart": 1}}, cu)

	minutes := cu.Minutes(capacity.CategoryTimes{"cake": capacity.MinutesFromInt(45), "tart": capacity.MinutesFromInt(30)})
	assert.Equal(t, "120", minutes[d1].String())
}

func TestMemory_Calendar(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	settings, err := m.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, capacity.DefaultSettings(), settings)

	require.NoError(t, m.BlockDate(ctx, capacity.BlockedDate{Date: d2, Reason: "Holiday"}))
	require.NoError(t, m.BlockDate(ctx, capacity.BlockedDate{Date: d1}))
	blocked, err := m.ListBlockedDates(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 2)
	assert.Equal(t, d1, blocked[0].Date)
	require.NoError(t, m.UnblockDate(ctx, d1))

	work := capacity.MinutesFromInt(240)
	require.NoError(t, m.SaveDateOverride(ctx, capacity.DateOverride{Date: d1, WorkMinutes: &work}))
	work = capacity.MinutesFromInt(1)
	overrides, err := m.ListDateOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "240", overrides[0].WorkMinutes.String(), "stored override does not alias the caller")

	require.NoError(t, m.DeleteDateOverride(ctx, d1))
	require.NoError(t, m.Reset(ctx))
	blocked, _ = m.ListBlockedDates(ctx)
	assert.Empty(t, blocked)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	boom := errors.New("boom")

	err := tm.WithTx(ctx, func(st capacity.Store) error {
		require.NoError(t, st.CreateOrder(ctx, testOrder("order-1", capacity.OrderPending)))
		require.NoError(t, st.BlockDate(ctx, capacity.BlockedDate{Date: d1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = tm.GetOrder(ctx, "order-1")
	assert.ErrorIs(t, err, capacity.ErrOrderNotFound)
	blocked, _ := tm.ListBlockedDates(ctx)
	assert.Empty(t, blocked)

	require.NoError(t, tm.WithTx(ctx, func(st capacity.Store) error {
		return st.CreateOrder(ctx, testOrder("order-1", capacity.OrderPending))
	}))
	_, err = tm.GetOrder(ctx, "order-1")
	assert.NoError(t, err)
}
