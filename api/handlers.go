/*
handlers.go - HTTP API handlers for the bakery scheduler

PURPOSE:
  Exposes availability, order commit and the admin calendar via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  capacity.Service for anything that touches capacity.

ENDPOINTS:
  Availability:
    GET    /api/availability                      Customer snapshot
    POST   /api/availability/evaluate             Capacity evaluator for a cart
    GET    /api/admin/availability?excludeOrder=  Admin snapshot (order's own load excluded)

  Orders:
    POST   /api/orders                            Checkout commit (re-checked)
    GET    /api/orders/{id}                       Order with delivery dates
    POST   /api/orders/{id}/cancel                Cancel, releasing capacity
    PUT    /api/admin/orders/{id}/delivery-dates  Wholesale re-assignment (override allowed)
    GET    /api/admin/orders/{id}/session         Rehydrated editing session

  Calendar:
    GET/POST /api/admin/blocked-dates, DELETE /api/admin/blocked-dates/{date}
    GET      /api/admin/date-overrides, PUT/DELETE /api/admin/date-overrides/{date}
    GET/PUT  /api/admin/settings
    GET      /api/categories, PUT /api/admin/categories/{id}

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call capacity.Service (snapshot, replay, commit)
  4. Serialize response
  5. Map domain errors to status codes (writeDomainError)

ERROR HANDLING:
  - 400: Validation errors, malformed unit ids, incomplete allocation
  - 404: Order not found
  - 409: Capacity exceeded (overridable flag), stale snapshot (retryable flag),
         order exists / cancelled
  - 422: Date unavailable
  - 503: Availability inputs could not be read
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The /api/admin prefix is a
  routing convention only; put the admin routes behind auth in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/bakery-scheduler/capacity"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the handlers need: the capacity store plus Reset
// for demo scenarios.
type Store interface {
	capacity.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *capacity.Service
	Store   Store
	Metrics *Metrics
	Logger  *slog.Logger

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over svc, whose store must also satisfy Store.
func NewHandler(svc *capacity.Service, store Store, metrics *Metrics, logger *slog.Logger) *Handler {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Store: store, Metrics: metrics, Logger: logger}
}

// CurrentScenario returns the id of the last loaded scenario, or "".
func (h *Handler) CurrentScenario() string {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	return h.currentScenario
}

func (h *Handler) setCurrentScenario(id string) {
	h.scenarioMu.Lock()
	h.currentScenario = id
	h.scenarioMu.Unlock()
}

// =============================================================================
// AVAILABILITY HANDLERS
// =============================================================================

// GetAvailability returns the customer-facing snapshot.
// GET /api/availability
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Availability(r.Context(), "")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(snap, capacity.RoleCustomer))
}

// GetAdminAvailability returns the admin snapshot. With excludeOrder the
// order's own committed minutes are left out so it can be re-assigned.
// GET /api/admin/availability?excludeOrder={id}
func (h *Handler) GetAdminAvailability(w http.ResponseWriter, r *http.Request) {
	exclude := capacity.OrderID(r.URL.Query().Get("excludeOrder"))
	snap, err := h.Service.Availability(r.Context(), exclude)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dto := toAvailabilityDTO(snap, capacity.RoleAdmin)
	dto.ExcludedOrderID = string(exclude)
	writeJSON(w, http.StatusOK, dto)
}

// EvaluateCart runs the capacity evaluator for a cart.
// POST /api/availability/evaluate
func (h *Handler) EvaluateCart(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	eval, err := h.Service.Evaluate(r.Context(), toLineItems(req.Items))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationDTO(eval))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder commits a checkout after re-checking capacity.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dd, err := toDeliveryDates(req.DeliveryInfo.DeliveryDates)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delivery date", err)
		return
	}

	result, err := h.Service.CreateOrder(r.Context(), capacity.CreateOrderRequest{
		ID:            capacity.OrderID(req.ID),
		CustomerRef:   req.CustomerRef,
		Items:         toLineItems(req.Items),
		DeliveryDates: dd,
	})
	if err != nil {
		h.Metrics.ObserveCommit(PathCheckout, 0, err)
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ObserveCommit(PathCheckout, 0, nil)

	writeJSON(w, http.StatusCreated, CommitResponse{Order: toOrderDTO(result.Order)})
}

// GetOrder returns an order.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.GetOrder(r.Context(), capacity.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// CancelOrder cancels an order. Cancelling twice is a no-op.
// POST /api/orders/{id}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.CancelOrder(r.Context(), capacity.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// ReassignOrder replaces an order's delivery dates.
// PUT /api/admin/orders/{id}/delivery-dates
func (h *Handler) ReassignOrder(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dd, err := toDeliveryDates(req.DeliveryDates)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delivery date", err)
		return
	}

	result, err := h.Service.ReassignOrder(r.Context(), capacity.ReassignRequest{
		OrderID:       capacity.OrderID(chi.URLParam(r, "id")),
		DeliveryDates: dd,
		Override:      req.Override,
	})
	if err != nil {
		h.Metrics.ObserveCommit(PathAdmin, 0, err)
		h.writeDomainError(w, err)
		return
	}
	h.Metrics.ObserveCommit(PathAdmin, len(result.Overridden), nil)

	writeJSON(w, http.StatusOK, CommitResponse{
		Order:           toOrderDTO(result.Order),
		OverriddenDates: dateStrings(result.Overridden),
	})
}

// GetOrderSession rehydrates an order for editing.
// GET /api/admin/orders/{id}/session
func (h *Handler) GetOrderSession(w http.ResponseWriter, r *http.Request) {
	id := capacity.OrderID(chi.URLParam(r, "id"))
	session, err := h.Service.OpenSession(r.Context(), id, capacity.RoleAdmin)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(id, session))
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListBlockedDates returns admin-blocked dates.
// GET /api/admin/blocked-dates
func (h *Handler) ListBlockedDates(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.Store.ListBlockedDates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list blocked dates", err)
		return
	}
	dtos := make([]BlockedDateDTO, len(blocked))
	for i, b := range blocked {
		dtos[i] = BlockedDateDTO{Date: b.Date.String(), Reason: b.Reason}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// BlockDate closes a date for production.
// POST /api/admin/blocked-dates
func (h *Handler) BlockDate(w http.ResponseWriter, r *http.Request) {
	var req BlockDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	d, err := capacity.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	if err := h.Store.BlockDate(r.Context(), capacity.BlockedDate{Date: d, Reason: req.Reason}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to block date", err)
		return
	}
	h.Logger.Info("date blocked", slog.String("date", d.String()), slog.String("reason", req.Reason))
	writeJSON(w, http.StatusCreated, BlockedDateDTO{Date: d.String(), Reason: req.Reason})
}

// UnblockDate reopens a date.
// DELETE /api/admin/blocked-dates/{date}
func (h *Handler) UnblockDate(w http.ResponseWriter, r *http.Request) {
	d, err := capacity.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	if err := h.Store.UnblockDate(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to unblock date", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDateOverrides returns per-date overrides.
// GET /api/admin/date-overrides
func (h *Handler) ListDateOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.Store.ListDateOverrides(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list date overrides", err)
		return
	}
	dtos := make([]DateOverrideDTO, len(overrides))
	for i, o := range overrides {
		dtos[i] = toOverrideDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutDateOverride creates or replaces a date's override.
// PUT /api/admin/date-overrides/{date}
func (h *Handler) PutDateOverride(w http.ResponseWriter, r *http.Request) {
	d, err := capacity.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	var req DateOverrideDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.WorkMinutes != nil && req.WorkMinutes.IsNegative() {
		writeError(w, http.StatusBadRequest, "workMinutes must not be negative", nil)
		return
	}

	o := capacity.DateOverride{
		Date:           d,
		WorkMinutes:    req.WorkMinutes,
		Blocked:        req.IsBlocked,
		AvailableHours: req.AvailableHours,
	}
	if err := h.Store.SaveDateOverride(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save date override", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideDTO(o))
}

// DeleteDateOverride restores a date to the defaults.
// DELETE /api/admin/date-overrides/{date}
func (h *Handler) DeleteDateOverride(w http.ResponseWriter, r *http.Request) {
	d, err := capacity.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	if err := h.Store.DeleteDateOverride(r.Context(), d); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete date override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the scheduling defaults.
// GET /api/admin/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// PutSettings replaces the scheduling defaults.
// PUT /api/admin/settings
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.LeadTimeDays < 0 {
		writeError(w, http.StatusBadRequest, "leadTimeDays must not be negative", nil)
		return
	}
	if req.DefaultWorkMinutes.IsNegative() {
		writeError(w, http.StatusBadRequest, "defaultWorkMinutes must not be negative", nil)
		return
	}

	s := capacity.Settings{
		LeadTimeDays:       req.LeadTimeDays,
		DefaultWorkMinutes: req.DefaultWorkMinutes,
		DefaultTimeSlots:   req.DefaultAvailableHours,
	}
	if err := h.Store.SaveSettings(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}
	h.Logger.Info("scheduling settings updated",
		slog.Int("lead_time_days", s.LeadTimeDays),
		slog.String("default_work_minutes", s.DefaultWorkMinutes.String()))
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// ListCategories returns categories with their manufacturing time.
// GET /api/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Store.ListCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list categories", err)
		return
	}
	dtos := make([]CategoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = CategoryDTO{ID: string(c.ID), Name: c.Name, MinutesPerUnit: c.MinutesPerUnit}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutCategory creates or updates a category's manufacturing time.
// PUT /api/admin/categories/{id}
func (h *Handler) PutCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MinutesPerUnit.IsNegative() {
		writeError(w, http.StatusBadRequest, "minutesPerUnit must not be negative", nil)
		return
	}

	c := capacity.Category{
		ID:             capacity.CategoryID(chi.URLParam(r, "id")),
		Name:           req.Name,
		MinutesPerUnit: req.MinutesPerUnit,
	}
	if err := h.Store.SaveCategory(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save category", err)
		return
	}
	writeJSON(w, http.StatusOK, CategoryDTO{ID: string(c.ID), Name: c.Name, MinutesPerUnit: c.MinutesPerUnit})
}

func toSettingsDTO(s capacity.Settings) SettingsDTO {
	hours := s.DefaultTimeSlots
	if hours == nil {
		hours = []string{}
	}
	return SettingsDTO{
		LeadTimeDays:          s.LeadTimeDays,
		DefaultWorkMinutes:    s.DefaultWorkMinutes,
		DefaultAvailableHours: hours,
	}
}

// =============================================================================
// RESPONSE HELPERS
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

// writeDomainError maps capacity errors to status codes and codes. The
// stale check comes first: a stale conflict also wraps its cause.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Error:       err.Error(),
		Retryable:   capacity.IsRetryable(err),
		Overridable: capacity.IsOverridable(err),
	}

	var (
		status     int
		capErr     *capacity.CapacityExceededError
		dateErr    *capacity.DateUnavailableError
		incomplete *capacity.IncompleteAllocationError
		malformed  *capacity.MalformedUnitIDError
		stale      *capacity.StaleSnapshotConflictError
	)
	switch {
	case errors.As(err, &stale):
		status, resp.Code = http.StatusConflict, "stale_snapshot"
		resp.Overridable = false
		resp.Details = map[string]string{"date": stale.Date.String(), "cause": stale.Cause.Error()}
	case errors.As(err, &capErr):
		status, resp.Code = http.StatusConflict, "capacity_exceeded"
		resp.Details = map[string]any{
			"date":             capErr.Date.String(),
			"requiredMinutes":  capErr.Required,
			"remainingMinutes": capErr.Remaining,
		}
	case errors.As(err, &dateErr):
		status, resp.Code = http.StatusUnprocessableEntity, "date_unavailable"
		resp.Details = map[string]string{"date": dateErr.Date.String(), "reason": string(dateErr.Reason)}
	case errors.As(err, &incomplete):
		status, resp.Code = http.StatusBadRequest, "incomplete_allocation"
		ids := make([]string, len(incomplete.Unassigned))
		for i, u := range incomplete.Unassigned {
			ids[i] = u.String()
		}
		resp.Details = map[string][]string{"unassigned": ids}
	case errors.As(err, &malformed):
		status, resp.Code = http.StatusBadRequest, "malformed_unit_id"
		resp.Details = map[string]string{"unitId": malformed.Raw, "reason": malformed.Reason}
	case capacity.IsNotFound(err):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, capacity.ErrOrderExists):
		status, resp.Code = http.StatusConflict, "order_exists"
	case errors.Is(err, capacity.ErrOrderCancelled):
		status, resp.Code = http.StatusConflict, "order_cancelled"
	case errors.Is(err, capacity.ErrAvailabilitySource):
		status, resp.Code = http.StatusServiceUnavailable, "availability_unavailable"
	case capacity.IsClientError(err):
		status, resp.Code = http.StatusBadRequest, "invalid_request"
	default:
		status, resp.Code = http.StatusInternalServerError, "internal"
		h.Logger.Error("request failed", slog.String("error", err.Error()))
		resp.Error = "Internal error"
		resp.Details = fmt.Sprint(err)
	}
	writeJSON(w, status, resp)
}
