/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built bakery calendars that populate the database with a
	catalog, settings, blocked dates, overrides and committed orders. Dates
	are relative to the service's today so a scenario always lands inside the
	lookahead window.

AVAILABLE SCENARIOS:

	bakery-week:  Plain week, one split order, one date close to full
	holiday-rush: Blocked dates, an extra shift, a half day and an
	              admin-overbooked date

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save categories and settings
 3. Block dates and save overrides
 4. Commit orders through capacity.Service (same checks as checkout)
 5. Optionally force a date past capacity through the admin path

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "holiday-rush"}

USAGE VIA CLI:

	bakery-scheduler seed --scenario holiday-rush

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: order and calendar handlers
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/bakery-scheduler/capacity"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "bakery-week",
		Name:        "Bakery Week",
		Description: "Default capacity, a split cake order and a nearly full day",
	},
	{
		ID:          "holiday-rush",
		Name:        "Holiday Rush",
		Description: "Blocked days, an extra shift, a half day and an overbooked date",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler) error{
	"bakery-week":  loadBakeryWeekScenario,
	"holiday-rush": loadHolidayRushScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.CurrentScenario()
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
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.ApplyScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ApplyScenario resets the store and loads scenario id.
func (h *Handler) ApplyScenario(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.setCurrentScenario("")

	if err := load(ctx, h); err != nil {
		return err
	}
	h.setCurrentScenario(id)
	h.Logger.Info("scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var bakeryCatalog = []capacity.Category{
	{ID: "cake", Name: "Celebration cake", MinutesPerUnit: capacity.MinutesFromInt(45)},
	{ID: "tart", Name: "Fruit tart", MinutesPerUnit: capacity.MinutesFromInt(30)},
	{ID: "bread", Name: "Sourdough loaf", MinutesPerUnit: capacity.MinutesFromInt(20)},
	{ID: "cookies", Name: "Cookie box", MinutesPerUnit: capacity.NewMinutes(7.5)},
}

func loadBakeryWeekScenario(ctx context.Context, h *Handler) error {
	if err := seedCatalog(ctx, h.Store, capacity.DefaultSettings()); err != nil {
		return err
	}
	today := h.Service.Today()

	// Day 3: 180 + 180 of 480 minutes, 120 left.
	// Day 4: 270 minutes. Days 5 and 6 carry one split order.
	orders := []capacity.CreateOrderRequest{
		singleDateOrder("order-1001", "Martin wedding", today.AddDays(3), "12:00-15:00",
			capacity.LineItem{ID: "li-1001-cake", Category: "cake", Quantity: 4}),
		singleDateOrder("order-1002", "Cafe Lumiere", today.AddDays(3), "09:00-12:00",
			capacity.LineItem{ID: "li-1002-cookies", Category: "cookies", Quantity: 24}),
		singleDateOrder("order-1003", "Office party", today.AddDays(4), "15:00-18:00",
			capacity.LineItem{ID: "li-1003-tart", Category: "tart", Quantity: 6},
			capacity.LineItem{ID: "li-1003-cake", Category: "cake", Quantity: 2}),
		{
			ID:          "order-1004",
			CustomerRef: "Festival stand",
			Items:       []capacity.LineItem{{ID: "li-1004-cake", Category: "cake", Quantity: 12}},
			DeliveryDates: []capacity.DeliveryDate{
				{Date: today.AddDays(5), TimeSlot: "09:00-12:00", ItemIDs: unitIDs("li-1004-cake", 0, 6)},
				{Date: today.AddDays(6), TimeSlot: "09:00-12:00", ItemIDs: unitIDs("li-1004-cake", 6, 12)},
			},
		},
	}
	for _, req := range orders {
		if _, err := h.Service.CreateOrder(ctx, req); err != nil {
			return fmt.Errorf("order %s: %w", req.ID, err)
		}
	}
	return nil
}

func loadHolidayRushScenario(ctx context.Context, h *Handler) error {
	settings := capacity.DefaultSettings()
	settings.LeadTimeDays = 2
	settings.DefaultWorkMinutes = capacity.MinutesFromInt(420)
	if err := seedCatalog(ctx, h.Store, settings); err != nil {
		return err
	}
	today := h.Service.Today()

	blocked := []capacity.BlockedDate{
		{Date: today.AddDays(7), Reason: "Staff holiday"},
		{Date: today.AddDays(8), Reason: "Oven maintenance"},
	}
	for _, b := range blocked {
		if err := h.Store.BlockDate(ctx, b); err != nil {
			return err
		}
	}

	extraShift := capacity.MinutesFromInt(600)
	halfDay := capacity.MinutesFromInt(240)
	overrides := []capacity.DateOverride{
		{Date: today.AddDays(3), WorkMinutes: &extraShift},
		{Date: today.AddDays(4), Blocked: true},
		{Date: today.AddDays(5), WorkMinutes: &halfDay, AvailableHours: []string{"09:00-12:00"}},
	}
	for _, o := range overrides {
		if err := h.Store.SaveDateOverride(ctx, o); err != nil {
			return err
		}
	}

	// 450 minutes only fit on the extra-shift day.
	if _, err := h.Service.CreateOrder(ctx, singleDateOrder("order-2001", "Town hall reception", today.AddDays(3), "",
		capacity.LineItem{ID: "li-2001-cake", Category: "cake", Quantity: 10})); err != nil {
		return fmt.Errorf("order order-2001: %w", err)
	}

	// 270 minutes booked on day 6, then moved by an admin onto the 240-minute
	// half day, leaving it 30 minutes overbooked.
	rush := singleDateOrder("order-2002", "Holiday market", today.AddDays(6), "",
		capacity.LineItem{ID: "li-2002-cake", Category: "cake", Quantity: 6})
	if _, err := h.Service.CreateOrder(ctx, rush); err != nil {
		return fmt.Errorf("order order-2002: %w", err)
	}
	_, err := h.Service.ReassignOrder(ctx, capacity.ReassignRequest{
		OrderID: rush.ID,
		DeliveryDates: []capacity.DeliveryDate{
			{Date: today.AddDays(5), TimeSlot: "09:00-12:00", ItemIDs: unitIDs("li-2002-cake", 0, 6)},
		},
		Override: true,
	})
	if err != nil {
		return fmt.Errorf("override order-2002: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func seedCatalog(ctx context.Context, st capacity.Store, settings capacity.Settings) error {
	for _, c := range bakeryCatalog {
		if err := st.SaveCategory(ctx, c); err != nil {
			return err
		}
	}
	return st.SaveSettings(ctx, settings)
}

func singleDateOrder(id, customer string, date capacity.Date, slot string, items ...capacity.LineItem) capacity.CreateOrderRequest {
	var ids []string
	for _, u := range capacity.ExplodeUnits(items) {
		ids = append(ids, u.ID.String())
	}
	return capacity.CreateOrderRequest{
		ID:            capacity.OrderID(id),
		CustomerRef:   customer,
		Items:         items,
		DeliveryDates: []capacity.DeliveryDate{{Date: date, TimeSlot: slot, ItemIDs: ids}},
	}
}

// unitIDs encodes ordinals [from, to) of one line item.
func unitIDs(lineItem capacity.LineItemID, from, to int) []string {
	ids := make([]string, 0, to-from)
	for n := from; n < to; n++ {
		ids = append(ids, capacity.UnitID{LineItem: lineItem, Ordinal: n}.String())
	}
	return ids
}
