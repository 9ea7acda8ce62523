/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal capacity model from the external contract that the checkout
  and admin UIs already speak (camelCase, "yyyy-MM-dd" dates, unit ids as
  "{lineItemId}::unit::{ordinal}").

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Availability:
    AvailabilityDTO, DateOverrideDTO, UnavailableDateDTO

  Orders:
    CreateOrderRequest, OrderDTO, LineItemDTO, DeliveryInfoDTO,
    DeliveryDateDTO, ReassignRequest, CommitResponse

  Scheduling:
    EvaluateRequest, EvaluationDTO, SessionDTO, AssignmentDTO

  Admin calendar:
    BlockDateRequest, BlockedDateDTO, SettingsDTO, CategoryDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the capacity package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/bakery-scheduler/capacity"
)

// =============================================================================
// AVAILABILITY
// =============================================================================

// AvailabilityDTO is the availability fetch response. DefaultWorkMinutes is
// set for the admin variant, DefaultAvailableHours for the customer variant.
type AvailabilityDTO struct {
	Today                  string                      `json:"today"`
	LeadTimeDays           int                         `json:"leadTimeDays"`
	LookaheadDays          int                         `json:"lookaheadDays"`
	ManufacturingTimes     map[string]capacity.Minutes `json:"manufacturingTimes"`
	AvailableMinutesPerDay map[string]capacity.Minutes `json:"availableMinutesPerDay"`
	AdminBlockedDates      []string                    `json:"adminBlockedDates"`
	DefaultWorkMinutes     *capacity.Minutes           `json:"defaultWorkMinutes,omitempty"`
	DefaultAvailableHours  []string                    `json:"defaultAvailableHours,omitempty"`
	DateOverrides          []DateOverrideDTO           `json:"dateOverrides"`
	UnavailableDates       []UnavailableDateDTO        `json:"unavailableDates"`
	ExcludedOrderID        string                      `json:"excludedOrderId,omitempty"`
}

// DateOverrideDTO is a per-date override (request and response).
type DateOverrideDTO struct {
	Date           string            `json:"date"`
	WorkMinutes    *capacity.Minutes `json:"workMinutes,omitempty"`
	IsBlocked      bool              `json:"isBlocked,omitempty"`
	AvailableHours []string          `json:"availableHours,omitempty"`
}

type UnavailableDateDTO struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// =============================================================================
// ORDERS
// =============================================================================

type LineItemDTO struct {
	ID         string            `json:"id"`
	CategoryID string            `json:"categoryId"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type DeliveryDateDTO struct {
	Date     string   `json:"date"`
	ItemIDs  []string `json:"itemIds"`
	TimeSlot string   `json:"timeSlot,omitempty"`
}

type DeliveryInfoDTO struct {
	DeliveryDates []DeliveryDateDTO `json:"deliveryDates"`
}

// CreateOrderRequest is the checkout commit body.
type CreateOrderRequest struct {
	ID           string          `json:"id,omitempty"`
	CustomerRef  string          `json:"customerRef,omitempty"`
	Items        []LineItemDTO   `json:"items"`
	DeliveryInfo DeliveryInfoDTO `json:"deliveryInfo"`
}

// ReassignRequest is the admin PUT body; the assignment is replaced wholesale.
type ReassignRequest struct {
	DeliveryDates []DeliveryDateDTO `json:"deliveryDates"`
	Override      bool              `json:"override,omitempty"`
}

type OrderDTO struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	CustomerRef  string          `json:"customerRef,omitempty"`
	Items        []LineItemDTO   `json:"items"`
	DeliveryInfo DeliveryInfoDTO `json:"deliveryInfo"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

// CommitResponse wraps a committed order with the dates forced past capacity.
type CommitResponse struct {
	Order           OrderDTO `json:"order"`
	OverriddenDates []string `json:"overriddenDates,omitempty"`
}

// =============================================================================
// SCHEDULING
// =============================================================================

type EvaluateRequest struct {
	Items []LineItemDTO `json:"items"`
}

type EvaluationDTO struct {
	TotalMinutes         capacity.Minutes `json:"totalMinutes"`
	MaxSingleDayCapacity capacity.Minutes `json:"maxSingleDayCapacity"`
	RequiresSplit        bool             `json:"requiresSplit"`
}

// SessionDTO is a rehydrated order ready for editing.
type SessionDTO struct {
	OrderID     string          `json:"orderId"`
	Mode        string          `json:"mode"`
	Evaluation  EvaluationDTO   `json:"evaluation"`
	Assignments []AssignmentDTO `json:"assignments"`
	Unassigned  []string        `json:"unassigned"`
	Warnings    []string        `json:"warnings,omitempty"`
}

type AssignmentDTO struct {
	Date             string           `json:"date"`
	TimeSlot         string           `json:"timeSlot,omitempty"`
	ItemIDs          []string         `json:"itemIds"`
	AllocatedMinutes capacity.Minutes `json:"allocatedMinutes"`
	RemainingMinutes capacity.Minutes `json:"remainingMinutes"`
}

// =============================================================================
// ADMIN CALENDAR
// =============================================================================

type BlockDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

type BlockedDateDTO struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

type SettingsDTO struct {
	LeadTimeDays          int              `json:"leadTimeDays"`
	DefaultWorkMinutes    capacity.Minutes `json:"defaultWorkMinutes"`
	DefaultAvailableHours []string         `json:"defaultAvailableHours"`
}

type CategoryDTO struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	MinutesPerUnit capacity.Minutes `json:"minutesPerUnit"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Details     any    `json:"details,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
	Overridable bool   `json:"overridable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toLineItems(dtos []LineItemDTO) []capacity.LineItem {
	items := make([]capacity.LineItem, len(dtos))
	for i, d := range dtos {
		items[i] = capacity.LineItem{
			ID:         capacity.LineItemID(d.ID),
			Category:   capacity.CategoryID(d.CategoryID),
			Quantity:   d.Quantity,
			Attributes: d.Attributes,
		}
	}
	return items
}

func toLineItemDTOs(items []capacity.LineItem) []LineItemDTO {
	dtos := make([]LineItemDTO, len(items))
	for i, li := range items {
		dtos[i] = LineItemDTO{
			ID:         string(li.ID),
			CategoryID: string(li.Category),
			Quantity:   li.Quantity,
			Attributes: li.Attributes,
		}
	}
	return dtos
}

func toDeliveryDates(dtos []DeliveryDateDTO) ([]capacity.DeliveryDate, error) {
	out := make([]capacity.DeliveryDate, len(dtos))
	for i, d := range dtos {
		date, err := capacity.ParseDate(d.Date)
		if err != nil {
			return nil, err
		}
		out[i] = capacity.DeliveryDate{Date: date, TimeSlot: d.TimeSlot, ItemIDs: d.ItemIDs}
	}
	return out, nil
}

func toDeliveryDateDTOs(dd []capacity.DeliveryDate) []DeliveryDateDTO {
	dtos := make([]DeliveryDateDTO, len(dd))
	for i, d := range dd {
		ids := d.ItemIDs
		if ids == nil {
			ids = []string{}
		}
		dtos[i] = DeliveryDateDTO{Date: d.Date.String(), ItemIDs: ids, TimeSlot: d.TimeSlot}
	}
	return dtos
}

func toOrderDTO(o *capacity.Order) OrderDTO {
	return OrderDTO{
		ID:           string(o.ID),
		Status:       string(o.Status),
		CustomerRef:  o.CustomerRef,
		Items:        toLineItemDTOs(o.Items),
		DeliveryInfo: DeliveryInfoDTO{DeliveryDates: toDeliveryDateDTOs(o.DeliveryDates)},
		CreatedAt:    o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toEvaluationDTO(e capacity.Evaluation) EvaluationDTO {
	return EvaluationDTO{
		TotalMinutes:         e.TotalMinutes,
		MaxSingleDayCapacity: e.MaxSingleDayCapacity,
		RequiresSplit:        e.RequiresSplit,
	}
}

func toOverrideDTO(o capacity.DateOverride) DateOverrideDTO {
	return DateOverrideDTO{
		Date:           o.Date.String(),
		WorkMinutes:    o.WorkMinutes,
		IsBlocked:      o.Blocked,
		AvailableHours: o.AvailableHours,
	}
}

func dateStrings(dates []capacity.Date) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.String()
	}
	return out
}

// toAvailabilityDTO renders a snapshot for role.
func toAvailabilityDTO(snap *capacity.Snapshot, role capacity.Role) AvailabilityDTO {
	dto := AvailabilityDTO{
		Today:                  snap.Today.String(),
		LeadTimeDays:           snap.LeadTimeDays,
		LookaheadDays:          snap.LookaheadDays,
		ManufacturingTimes:     make(map[string]capacity.Minutes, len(snap.MinutesByCategory)),
		AvailableMinutesPerDay: make(map[string]capacity.Minutes, len(snap.AvailableByDate)),
		AdminBlockedDates:      dateStrings(snap.SortedBlockedDates()),
		DateOverrides:          []DateOverrideDTO{},
		UnavailableDates:       []UnavailableDateDTO{},
	}
	for id, m := range snap.MinutesByCategory {
		dto.ManufacturingTimes[string(id)] = m
	}
	for _, d := range snap.Dates() {
		dto.AvailableMinutesPerDay[d.String()] = snap.ReportedMinutes(d)
	}
	for _, o := range snap.SortedOverrides() {
		dto.DateOverrides = append(dto.DateOverrides, toOverrideDTO(o))
	}
	for _, d := range snap.UnavailableDates() {
		reason, _ := snap.Unavailable(d)
		dto.UnavailableDates = append(dto.UnavailableDates, UnavailableDateDTO{Date: d.String(), Reason: string(reason)})
	}

	if role == capacity.RoleAdmin {
		m := snap.DefaultDailyMinutes
		dto.DefaultWorkMinutes = &m
	} else {
		dto.DefaultAvailableHours = snap.DefaultTimeSlots
		if dto.DefaultAvailableHours == nil {
			dto.DefaultAvailableHours = []string{}
		}
	}
	return dto
}

func toSessionDTO(id capacity.OrderID, s *capacity.Session) SessionDTO {
	dto := SessionDTO{
		OrderID:     string(id),
		Mode:        string(s.Mode()),
		Evaluation:  toEvaluationDTO(s.Evaluate()),
		Assignments: []AssignmentDTO{},
		Unassigned:  []string{},
	}
	for _, a := range s.Assignments() {
		ids := make([]string, len(a.Units))
		for i, u := range a.Units {
			ids[i] = u.String()
		}
		dto.Assignments = append(dto.Assignments, AssignmentDTO{
			Date:             a.Date.String(),
			TimeSlot:         a.TimeSlot,
			ItemIDs:          ids,
			AllocatedMinutes: s.AllocatedMinutes(a.Date),
			RemainingMinutes: s.RemainingMinutes(a.Date),
		})
	}
	for _, u := range s.Unassigned() {
		dto.Unassigned = append(dto.Unassigned, u.String())
	}
	for _, w := range s.Warnings() {
		dto.Warnings = append(dto.Warnings, w.Error())
	}
	return dto
}
