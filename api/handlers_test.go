/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Availability (customer and admin variants) and the evaluator
- Checkout commit: created, stale snapshot, lead time, malformed input
- Admin re-assignment with and without override
- Cancel, session rehydration, calendar and settings endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bakery-scheduler/capacity"
	"github.com/warp/bakery-scheduler/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

const (
	dayLead = "2025-03-04" // inside the 2-day lead time
	dayNone = "2025-03-05" // no default capacity
	dayX    = "2025-03-06" // 120 minutes
	dayY    = "2025-03-07" // 120 minutes
)

type testAPI struct {
	t       *testing.T
	router  http.Handler
	handler *Handler
	store   *sqlite.Store
}

// newTestAPI serves a cake (45) / tart (30) catalog with a 2-day lead time,
// no default capacity, and 120 minutes opened on dayX and dayY.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.SaveCategory(ctx, capacity.Category{ID: "cake", Name: "Cake", MinutesPerUnit: capacity.MinutesFromInt(45)}))
	require.NoError(t, st.SaveCategory(ctx, capacity.Category{ID: "tart", Name: "Tart", MinutesPerUnit: capacity.MinutesFromInt(30)}))
	require.NoError(t, st.SaveSettings(ctx, capacity.Settings{
		LeadTimeDays:       2,
		DefaultWorkMinutes: capacity.MinutesFromInt(0),
		DefaultTimeSlots:   []string{"09:00-12:00"},
	}))
	for _, d := range []string{dayX, dayY} {
		work := capacity.MinutesFromInt(120)
		require.NoError(t, st.SaveDateOverride(ctx, capacity.DateOverride{Date: capacity.MustParseDate(d), WorkMinutes: &work}))
	}

	svc := capacity.NewService(st)
	svc.Clock = func() time.Time { return testNow }
	svc.LookaheadDays = 14

	h := NewHandler(svc, st, NewMetrics(), nil)
	return &testAPI{t: t, router: NewRouter(h, nil), handler: h, store: st}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// cartItems is 2 cakes and 1 tart: 120 minutes.
func cartItems() []LineItemDTO {
	return []LineItemDTO{
		{ID: "li-cake", CategoryID: "cake", Quantity: 2, Attributes: map[string]string{"flavor": "lemon"}},
		{ID: "li-tart", CategoryID: "tart", Quantity: 1},
	}
}

var cartUnits = []string{"li-cake::unit::0", "li-cake::unit::1", "li-tart::unit::0"}

func orderOn(id, date string) CreateOrderRequest {
	return CreateOrderRequest{
		ID:    id,
		Items: cartItems(),
		DeliveryInfo: DeliveryInfoDTO{DeliveryDates: []DeliveryDateDTO{
			{Date: date, TimeSlot: "09:00-12:00", ItemIDs: cartUnits},
		}},
	}
}

func (a *testAPI) mustCreate(id, date string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/orders", orderOn(id, date))
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (a *testAPI) availability(path string) AvailabilityDTO {
	a.t.Helper()
	rec := a.do(http.MethodGet, path, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AvailabilityDTO](a.t, rec)
}

func reasonOf(dto AvailabilityDTO, date string) string {
	for _, u := range dto.UnavailableDates {
		if u.Date == date {
			return u.Reason
		}
	}
	return ""
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func TestGetAvailability_Customer(t *testing.T) {
	a := newTestAPI(t)

	dto := a.availability("/api/availability")

	assert.Equal(t, "2025-03-03", dto.Today)
	assert.Equal(t, 2, dto.LeadTimeDays)
	assert.Equal(t, 14, dto.LookaheadDays)
	assert.Equal(t, "45", dto.ManufacturingTimes["cake"].String())
	assert.Equal(t, "120", dto.AvailableMinutesPerDay[dayX].String())
	assert.Equal(t, "0", dto.AvailableMinutesPerDay[dayNone].String())
	assert.Equal(t, []string{"09:00-12:00"}, dto.DefaultAvailableHours)
	assert.Nil(t, dto.DefaultWorkMinutes, "customers do not see the default work minutes")

	assert.Equal(t, "lead_time", reasonOf(dto, dayLead))
	assert.Equal(t, "no_capacity", reasonOf(dto, dayNone))
	assert.Empty(t, reasonOf(dto, dayX))
	assert.Len(t, dto.DateOverrides, 2)
}

func TestGetAvailability_AdminExcludesOrder(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	plain := a.availability("/api/admin/availability")
	excluded := a.availability("/api/admin/availability?excludeOrder=order-1")

	require.NotNil(t, plain.DefaultWorkMinutes)
	assert.Equal(t, "0", plain.DefaultWorkMinutes.String())
	assert.Equal(t, "0", plain.AvailableMinutesPerDay[dayX].String())
	assert.Equal(t, "120", excluded.AvailableMinutesPerDay[dayX].String())
	assert.Equal(t, "order-1", excluded.ExcludedOrderID)
}

func TestEvaluateCart(t *testing.T) {
	// GIVEN: 3 cakes (135 minutes) and no day above 120 minutes
	// WHEN: evaluating the cart
	// THEN: a split is required

	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/availability/evaluate", EvaluateRequest{
		Items: []LineItemDTO{{ID: "li-cake", CategoryID: "cake", Quantity: 3}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ev := decode[EvaluationDTO](t, rec)
	assert.Equal(t, "135", ev.TotalMinutes.String())
	assert.Equal(t, "120", ev.MaxSingleDayCapacity.String())
	assert.True(t, ev.RequiresSplit)

	rec = a.do(http.MethodPost, "/api/availability/evaluate", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CHECKOUT
// =============================================================================

func TestCreateOrder_Created(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/orders", orderOn("order-1", dayX))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[CommitResponse](t, rec)
	assert.Equal(t, "order-1", resp.Order.ID)
	assert.Equal(t, "pending", resp.Order.Status)
	require.Len(t, resp.Order.DeliveryInfo.DeliveryDates, 1)
	assert.Equal(t, dayX, resp.Order.DeliveryInfo.DeliveryDates[0].Date)
	assert.Equal(t, cartUnits, resp.Order.DeliveryInfo.DeliveryDates[0].ItemIDs)
	assert.Empty(t, resp.OverriddenDates)

	rec = a.do(http.MethodGet, "/api/orders/order-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[OrderDTO](t, rec)
	assert.Equal(t, "lemon", order.Items[0].Attributes["flavor"])

	assert.Equal(t, 1.0, testutil.ToFloat64(a.handler.Metrics.Commits.WithLabelValues(PathCheckout, "ok")))
}

func TestCreateOrder_StaleSnapshot(t *testing.T) {
	// GIVEN: two customers who both saw dayX with 120 minutes free
	// WHEN: the second commits after the first
	// THEN: 409 with a retryable stale_snapshot error

	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	rec := a.do(http.MethodPost, "/api/orders", orderOn("order-2", dayX))

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "stale_snapshot", resp.Code)
	assert.True(t, resp.Retryable)
	assert.False(t, resp.Overridable)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.handler.Metrics.StaleConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.handler.Metrics.Commits.WithLabelValues(PathCheckout, "stale")))

	rec = a.do(http.MethodGet, "/api/orders/order-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing persisted")
}

func TestCreateOrder_LeadTime(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/orders", orderOn("order-1", dayLead))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "date_unavailable", resp.Code)
	assert.False(t, resp.Retryable, "a refresh cannot fix the lead time")
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "lead_time", details["reason"])
}

func TestCreateOrder_BlockedDate(t *testing.T) {
	// GIVEN: dayX blocked after the customer loaded availability
	// WHEN: the customer commits onto dayX
	// THEN: 422 date_unavailable, not a retryable stale snapshot

	a := newTestAPI(t)
	require.NoError(t, a.store.BlockDate(context.Background(), capacity.BlockedDate{Date: capacity.MustParseDate(dayX)}))

	rec := a.do(http.MethodPost, "/api/orders", orderOn("order-1", dayX))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "date_unavailable", resp.Code)
	assert.False(t, resp.Retryable)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "blocked", details["reason"])
}

func TestCreateOrder_Rejections(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	incomplete := orderOn("order-2", dayY)
	incomplete.DeliveryInfo.DeliveryDates[0].ItemIDs = cartUnits[:2]

	malformed := orderOn("order-3", dayY)
	malformed.DeliveryInfo.DeliveryDates[0].ItemIDs = []string{"garbage"}

	badDate := orderOn("order-4", "06/03/2025")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed body", "{", http.StatusBadRequest, ""},
		{"bad date", badDate, http.StatusBadRequest, ""},
		{"incomplete allocation", incomplete, http.StatusBadRequest, "incomplete_allocation"},
		{"malformed unit id", malformed, http.StatusBadRequest, "malformed_unit_id"},
		{"duplicate order", orderOn("order-1", dayY), http.StatusConflict, "order_exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/orders", tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/orders/missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// ADMIN RE-ASSIGNMENT
// =============================================================================

func TestReassignOrder_Override(t *testing.T) {
	// GIVEN: order-1 on dayX and a single cake (45 minutes) on dayY
	// WHEN: an admin moves order-1 onto dayY
	// THEN: refused as overridable, then accepted with override, leaving dayY at -45

	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)
	rec := a.do(http.MethodPost, "/api/orders", CreateOrderRequest{
		ID:    "order-2",
		Items: []LineItemDTO{{ID: "li-cake", CategoryID: "cake", Quantity: 1}},
		DeliveryInfo: DeliveryInfoDTO{DeliveryDates: []DeliveryDateDTO{
			{Date: dayY, ItemIDs: []string{"li-cake::unit::0"}},
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	move := ReassignRequest{DeliveryDates: []DeliveryDateDTO{{Date: dayY, ItemIDs: cartUnits}}}

	rec = a.do(http.MethodPut, "/api/admin/orders/order-1/delivery-dates", move)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "capacity_exceeded", resp.Code)
	assert.True(t, resp.Overridable)
	assert.False(t, resp.Retryable)

	move.Override = true
	rec = a.do(http.MethodPut, "/api/admin/orders/order-1/delivery-dates", move)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	commit := decode[CommitResponse](t, rec)
	assert.Equal(t, []string{dayY}, commit.OverriddenDates)
	assert.Equal(t, dayY, commit.Order.DeliveryInfo.DeliveryDates[0].Date)

	admin := a.availability("/api/admin/availability")
	assert.Equal(t, "-45", admin.AvailableMinutesPerDay[dayY].String())
	assert.Equal(t, "120", admin.AvailableMinutesPerDay[dayX].String(), "dayX released")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.handler.Metrics.Overrides))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.handler.Metrics.Commits.WithLabelValues(PathAdmin, "capacity_exceeded")))
}

func TestReassignOrder_Split(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	rec := a.do(http.MethodPut, "/api/admin/orders/order-1/delivery-dates", ReassignRequest{
		DeliveryDates: []DeliveryDateDTO{
			{Date: dayY, TimeSlot: "09:00-12:00", ItemIDs: cartUnits[:2]},
			{Date: dayX, ItemIDs: cartUnits[2:]},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dd := decode[CommitResponse](t, rec).Order.DeliveryInfo.DeliveryDates
	require.Len(t, dd, 2)
	assert.Equal(t, dayX, dd[0].Date)
	assert.Equal(t, dayY, dd[1].Date)

	rec = a.do(http.MethodPut, "/api/admin/orders/missing/delivery-dates", ReassignRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	rec := a.do(http.MethodPost, "/api/orders/order-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[OrderDTO](t, rec).Status)

	// Idempotent.
	rec = a.do(http.MethodPost, "/api/orders/order-1/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	dto := a.availability("/api/availability")
	assert.Equal(t, "120", dto.AvailableMinutesPerDay[dayX].String(), "capacity released")

	rec = a.do(http.MethodPut, "/api/admin/orders/order-1/delivery-dates", ReassignRequest{
		DeliveryDates: []DeliveryDateDTO{{Date: dayY, ItemIDs: cartUnits}},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order_cancelled", decode[ErrorResponse](t, rec).Code)
}

func TestGetOrderSession(t *testing.T) {
	// GIVEN: an order filling dayX
	// WHEN: opening it for editing
	// THEN: its own minutes are not counted against it

	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	rec := a.do(http.MethodGet, "/api/admin/orders/order-1/session", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[SessionDTO](t, rec)
	assert.Equal(t, "single", s.Mode)
	assert.Empty(t, s.Unassigned)
	assert.Empty(t, s.Warnings)
	require.Len(t, s.Assignments, 1)
	assert.Equal(t, dayX, s.Assignments[0].Date)
	assert.Equal(t, "09:00-12:00", s.Assignments[0].TimeSlot)
	assert.Equal(t, "120", s.Assignments[0].AllocatedMinutes.String())
	assert.Equal(t, "0", s.Assignments[0].RemainingMinutes.String())
	assert.False(t, s.Evaluation.RequiresSplit)
}

// =============================================================================
// CALENDAR & SETTINGS
// =============================================================================

func TestBlockedDates(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/admin/blocked-dates", BlockDateRequest{Date: dayX, Reason: "Holiday"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	dto := a.availability("/api/availability")
	assert.Equal(t, "blocked", reasonOf(dto, dayX))
	assert.Equal(t, []string{dayX}, dto.AdminBlockedDates)

	rec = a.do(http.MethodGet, "/api/admin/blocked-dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []BlockedDateDTO{{Date: dayX, Reason: "Holiday"}}, decode[[]BlockedDateDTO](t, rec))

	rec = a.do(http.MethodDelete, "/api/admin/blocked-dates/"+dayX, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, reasonOf(a.availability("/api/availability"), dayX))

	rec = a.do(http.MethodPost, "/api/admin/blocked-dates", BlockDateRequest{Date: "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDateOverrides(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPut, "/api/admin/date-overrides/"+dayNone, DateOverrideDTO{
		WorkMinutes:    ptr(capacity.MinutesFromInt(60)),
		AvailableHours: []string{"12:00-15:00"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dayNone, decode[DateOverrideDTO](t, rec).Date)

	dto := a.availability("/api/availability")
	assert.Equal(t, "60", dto.AvailableMinutesPerDay[dayNone].String())
	assert.Empty(t, reasonOf(dto, dayNone))

	rec = a.do(http.MethodPut, "/api/admin/date-overrides/"+dayNone, DateOverrideDTO{WorkMinutes: ptr(capacity.MinutesFromInt(-5))})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPut, "/api/admin/date-overrides/"+dayX, DateOverrideDTO{IsBlocked: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "override_blocked", reasonOf(a.availability("/api/availability"), dayX))

	rec = a.do(http.MethodGet, "/api/admin/date-overrides", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]DateOverrideDTO](t, rec), 3)

	rec = a.do(http.MethodDelete, "/api/admin/date-overrides/"+dayNone, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "no_capacity", reasonOf(a.availability("/api/availability"), dayNone))
}

func TestSettings(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/admin/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[SettingsDTO](t, rec).LeadTimeDays)

	rec = a.do(http.MethodPut, "/api/admin/settings", SettingsDTO{LeadTimeDays: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPut, "/api/admin/settings", SettingsDTO{
		LeadTimeDays:          0,
		DefaultWorkMinutes:    capacity.MinutesFromInt(300),
		DefaultAvailableHours: []string{"10:00-14:00"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dto := a.availability("/api/availability")
	assert.Equal(t, "300", dto.AvailableMinutesPerDay[dayNone].String())
	assert.Empty(t, reasonOf(dto, "2025-03-03"), "no lead time any more")
	assert.Equal(t, []string{"10:00-14:00"}, dto.DefaultAvailableHours)
}

func TestCategories(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPut, "/api/admin/categories/cookies", CategoryDTO{Name: "Cookie box", MinutesPerUnit: capacity.NewMinutes(7.5)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPut, "/api/admin/categories/cake", CategoryDTO{Name: "Cake", MinutesPerUnit: capacity.MinutesFromInt(-1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode[[]CategoryDTO](t, rec)
	require.Len(t, cats, 3)
	assert.Equal(t, "cake", cats[0].ID)
	assert.Equal(t, "cookies", cats[1].ID)
	assert.Equal(t, "7.5", cats[1].MinutesPerUnit.String())
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.mustCreate("order-1", dayX)

	rec := a.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bakery_order_commits_total{path="checkout",result="ok"} 1`)
}

func ptr[T any](v T) *T { return &v }
