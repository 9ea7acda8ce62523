/*
service.go - Scheduling service (availability fetch and order commit)

PURPOSE:
  The server side of scheduling. Builds snapshots from the store and commits
  delivery-date assignments for the customer checkout and admin edit paths.

COMMIT FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │  WithTx:                                                         │
  │    1. build a fresh snapshot (excluding the order being edited)  │
  │    2. replay the requested deliveryDates through a new Session   │
  │       (same allocator rules the client used)                     │
  │    3. Validate: every unit on exactly one date                   │
  │    4. write order / replace deliveryDates                        │
  │  then notify                                                     │
  └──────────────────────────────────────────────────────────────────┘

OPTIMISTIC CONCURRENCY:
  Client sessions are never locked. Two customers may see the same remaining
  minutes; the second commit fails the re-check in step 2 and gets a
  StaleSnapshotConflictError (retryable: refresh availability and re-allocate).
  Running steps 1-4 inside one transaction keeps the re-check and the write
  on the same state.

ROLES:
  Customer: no overrides. A date that is simply not selectable (lead time,
            outside window) is rejected as DateUnavailable, not as stale.
  Admin:    Override lets a failed check through; the date goes negative.
            Without it the allocator error is returned as overridable.

SEE ALSO:
  - session.go:   The allocator replayed at commit
  - persister.go: Non-strict rehydration for editing
*/
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// NOTIFICATION
// =============================================================================

type EventKind string

const (
	EventOrderCreated    EventKind = "order.created"
	EventOrderReassigned EventKind = "order.reassigned"
	EventOrderCancelled  EventKind = "order.cancelled"
)

// ScheduleEvent describes a committed scheduling change.
type ScheduleEvent struct {
	ID            string
	Kind          EventKind
	OrderID       OrderID
	DeliveryDates []DeliveryDate
	Overridden    []Date
	At            time.Time
}

// Notifier receives committed scheduling changes. Failures are logged and
// never undo a commit.
type Notifier interface {
	Notify(ctx context.Context, ev ScheduleEvent) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates snapshots and commits over a TxStore.
type Service struct {
	Store         TxStore
	Notifier      Notifier // optional
	Clock         func() time.Time
	Location      *time.Location
	LookaheadDays int
	Logger        *slog.Logger
}

// NewService creates a service with the wall clock, UTC and the default window.
func NewService(store TxStore) *Service {
	return &Service{
		Store:         store,
		Clock:         time.Now,
		Location:      time.UTC,
		LookaheadDays: DefaultLookaheadDays,
		Logger:        slog.Default(),
	}
}

func (svc *Service) now() time.Time {
	if svc.Clock == nil {
		return time.Now()
	}
	return svc.Clock()
}

func (svc *Service) logger() *slog.Logger {
	if svc.Logger == nil {
		return slog.Default()
	}
	return svc.Logger
}

// Today is the current date in the bakery's timezone.
func (svc *Service) Today() Date {
	return DateOf(svc.now(), svc.Location)
}

// Availability builds a fresh snapshot. exclude names an order whose own
// committed minutes must not count (when editing it). Failures wrap
// ErrAvailabilitySource: the scheduling step cannot be entered.
func (svc *Service) Availability(ctx context.Context, exclude OrderID) (*Snapshot, error) {
	snap, err := svc.buildSnapshot(ctx, svc.Store, exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvailabilitySource, err)
	}
	return snap, nil
}

func (svc *Service) buildSnapshot(ctx context.Context, st Store, exclude OrderID) (*Snapshot, error) {
	now := svc.now()

	settings, err := st.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	times, err := CategoryTimesOf(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	blocked, err := st.ListBlockedDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked dates: %w", err)
	}
	overrides, err := st.ListDateOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load date overrides: %w", err)
	}

	lookahead := svc.LookaheadDays
	if lookahead <= 0 {
		lookahead = DefaultLookaheadDays
	}
	today := DateOf(now, svc.Location)
	committed, err := st.CommittedUnits(ctx, today, today.AddDays(lookahead-1), exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to load committed orders: %w", err)
	}

	blockedDates := make([]Date, len(blocked))
	for i, b := range blocked {
		blockedDates[i] = b.Date
	}

	return BuildSnapshot(SnapshotInput{
		Now:                 now,
		Location:            svc.Location,
		LeadTimeDays:        settings.LeadTimeDays,
		DefaultDailyMinutes: settings.DefaultWorkMinutes,
		LookaheadDays:       lookahead,
		BlockedDates:        blockedDates,
		DateOverrides:       overrides,
		CommittedMinutes:    committed.Minutes(times),
		CategoryMinutes:     times,
		DefaultTimeSlots:    settings.DefaultTimeSlots,
	}), nil
}

// Evaluate runs the capacity evaluator for a cart against current availability.
func (svc *Service) Evaluate(ctx context.Context, items []LineItem) (Evaluation, error) {
	if err := ValidateLineItems(items); err != nil {
		return Evaluation{}, err
	}
	snap, err := svc.Availability(ctx, "")
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(ExplodeUnits(items), snap), nil
}

// =============================================================================
// COMMIT
// =============================================================================

// CreateOrderRequest is the customer checkout commit.
type CreateOrderRequest struct {
	ID            OrderID // generated when empty
	CustomerRef   string
	Items         []LineItem
	DeliveryDates []DeliveryDate
}

// ReassignRequest is the admin wholesale re-assignment.
type ReassignRequest struct {
	OrderID       OrderID
	DeliveryDates []DeliveryDate
	Override      bool
}

// CommitResult is a committed order plus the dates forced past capacity.
type CommitResult struct {
	Order      *Order
	Overridden []Date
}

// CreateOrder re-checks the customer's assignment against fresh availability
// and persists the order.
func (svc *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CommitResult, error) {
	if err := ValidateLineItems(req.Items); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = OrderID(uuid.New().String())
	}

	var result *CommitResult
	err := svc.Store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetOrder(ctx, id); err == nil {
			return fmt.Errorf("%w: %s", ErrOrderExists, id)
		} else if !errors.Is(err, ErrOrderNotFound) {
			return err
		}

		snap, err := svc.buildSnapshot(ctx, st, "")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAvailabilitySource, err)
		}
		session, err := Replay(snap, req.Items, req.DeliveryDates, PolicyFor(RoleCustomer), false)
		if err != nil {
			return err
		}

		now := svc.now()
		order := Order{
			ID:            id,
			Status:        OrderPending,
			CustomerRef:   req.CustomerRef,
			Items:         req.Items,
			DeliveryDates: ToDeliveryDates(session),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.CreateOrder(ctx, order); err != nil {
			return err
		}
		result = &CommitResult{Order: &order}
		return nil
	})
	if err != nil {
		svc.logger().Info("order commit rejected",
			slog.String("order_id", string(id)),
			slog.String("error", err.Error()))
		return nil, err
	}

	svc.logger().Info("order scheduled",
		slog.String("order_id", string(id)),
		slog.Int("dates", len(result.Order.DeliveryDates)))
	svc.notify(ctx, EventOrderCreated, result)
	return result, nil
}

// ReassignOrder replaces an order's delivery dates (admin path).
func (svc *Service) ReassignOrder(ctx context.Context, req ReassignRequest) (*CommitResult, error) {
	var result *CommitResult
	err := svc.Store.WithTx(ctx, func(st Store) error {
		order, err := st.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if order.Status == OrderCancelled {
			return fmt.Errorf("%w: %s", ErrOrderCancelled, order.ID)
		}

		snap, err := svc.buildSnapshot(ctx, st, order.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAvailabilitySource, err)
		}
		session, err := Replay(snap, order.Items, req.DeliveryDates, PolicyFor(RoleAdmin), req.Override)
		if err != nil {
			return err
		}

		now := svc.now()
		dd := ToDeliveryDates(session)
		if err := st.ReplaceDeliveryDates(ctx, order.ID, dd, now); err != nil {
			return err
		}
		order.DeliveryDates = dd
		order.UpdatedAt = now
		result = &CommitResult{Order: order, Overridden: session.OverriddenDates()}
		return nil
	})
	if err != nil {
		svc.logger().Info("order re-assignment rejected",
			slog.String("order_id", string(req.OrderID)),
			slog.String("error", err.Error()))
		return nil, err
	}

	if len(result.Overridden) > 0 {
		svc.logger().Warn("capacity override committed",
			slog.String("order_id", string(req.OrderID)),
			slog.Any("dates", result.Overridden))
	}
	svc.notify(ctx, EventOrderReassigned, result)
	return result, nil
}

// CancelOrder marks the order cancelled, releasing its capacity.
func (svc *Service) CancelOrder(ctx context.Context, id OrderID) (*Order, error) {
	var (
		order   *Order
		changed bool
	)
	err := svc.Store.WithTx(ctx, func(st Store) error {
		o, err := st.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		order = o
		if o.Status == OrderCancelled {
			return nil
		}
		now := svc.now()
		if err := st.SetOrderStatus(ctx, id, OrderCancelled, now); err != nil {
			return err
		}
		o.Status = OrderCancelled
		o.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		svc.logger().Info("order cancelled", slog.String("order_id", string(id)))
		svc.notify(ctx, EventOrderCancelled, &CommitResult{Order: order})
	}
	return order, nil
}

// GetOrder loads an order.
func (svc *Service) GetOrder(ctx context.Context, id OrderID) (*Order, error) {
	return svc.Store.GetOrder(ctx, id)
}

// OpenSession rehydrates an existing order for editing against a snapshot
// that excludes the order's own minutes.
func (svc *Service) OpenSession(ctx context.Context, id OrderID, role Role) (*Session, error) {
	order, err := svc.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := svc.Availability(ctx, id)
	if err != nil {
		return nil, err
	}
	session, err := Rehydrate(order, snap, PolicyFor(role))
	if err != nil {
		return nil, err
	}
	for _, w := range session.Warnings() {
		svc.logger().Warn("delivery date integrity problem",
			slog.String("order_id", string(id)),
			slog.String("error", w.Error()))
	}
	return session, nil
}

func (svc *Service) notify(ctx context.Context, kind EventKind, result *CommitResult) {
	if svc.Notifier == nil {
		return
	}
	ev := ScheduleEvent{
		ID:            uuid.New().String(),
		Kind:          kind,
		OrderID:       result.Order.ID,
		DeliveryDates: result.Order.DeliveryDates,
		Overridden:    result.Overridden,
		At:            svc.now(),
	}
	if err := svc.Notifier.Notify(ctx, ev); err != nil {
		svc.logger().Warn("failed to publish schedule event",
			slog.String("order_id", string(ev.OrderID)),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
}

// =============================================================================
// REPLAY - Strict rehydration through the allocator
// =============================================================================

// Replay rebuilds a session from requested delivery dates by running every
// date through the allocator's checks against snap. Unlike
// FromDeliveryDates it is strict: bad ids fail, and capacity or
// availability failures come back as StaleSnapshotConflictError (except
// lead-time and out-of-window dates, which no refresh can fix).
func Replay(snap *Snapshot, items []LineItem, dd []DeliveryDate, policy Policy, override bool) (*Session, error) {
	s, err := NewSession(snap, items, policy)
	if err != nil {
		return nil, err
	}
	if len(s.Units()) == 0 {
		return nil, ErrEmptyOrder
	}

	plan, dates, slots, err := decodePlan(s, dd)
	if err != nil {
		return nil, err
	}

	if len(dates) == 1 && len(plan[dates[0]]) == len(s.Units()) && s.Mode() == ModeSingleDate {
		d := dates[0]
		s, err = s.AssignAll(d, AssignOptions{Override: override, TimeSlot: slots[d]})
		if err != nil {
			return nil, commitConflict(d, policy, err)
		}
	} else {
		if s, err = s.SwitchMode(ModeSplit); err != nil {
			return nil, err
		}
		for _, d := range dates {
			next, err := s.AssignBatch(plan[d], d, AssignOptions{Override: override, TimeSlot: slots[d]})
			if err != nil {
				return nil, commitConflict(d, policy, err)
			}
			s = next
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodePlan(s *Session, dd []DeliveryDate) (map[Date][]UnitID, []Date, map[Date]string, error) {
	plan := make(map[Date][]UnitID)
	slots := make(map[Date]string)
	seen := make(map[UnitID]Date)
	for _, entry := range dd {
		for _, raw := range entry.ItemIDs {
			id, err := DecodeUnitID(raw)
			if err != nil {
				return nil, nil, nil, err
			}
			if !s.HasUnit(id) {
				return nil, nil, nil, &UnitIntegrityError{Raw: raw, Date: entry.Date, Err: ErrUnknownUnit}
			}
			if _, dup := seen[id]; dup {
				return nil, nil, nil, &UnitIntegrityError{Raw: raw, Date: entry.Date, Err: ErrDuplicateUnit}
			}
			seen[id] = entry.Date
			plan[entry.Date] = append(plan[entry.Date], id)
		}
		if entry.TimeSlot != "" && slots[entry.Date] == "" {
			slots[entry.Date] = entry.TimeSlot
		}
	}
	return plan, sortedDates(plan), slots, nil
}

// commitConflict turns a customer's capacity shortfall at re-check into a
// stale-snapshot conflict. Blocked, lead-time and out-of-window dates stay
// DateUnavailable since a refresh cannot make them bookable. Admin failures
// stay as they are: the recourse is an override.
func commitConflict(d Date, policy Policy, err error) error {
	if policy.AllowOverride {
		return err
	}
	var dateErr *DateUnavailableError
	if errors.As(err, &dateErr) {
		if dateErr.Reason != ReasonNoCapacity {
			return err
		}
		return &StaleSnapshotConflictError{Date: d, Cause: err}
	}
	if errors.Is(err, ErrCapacityExceeded) {
		return &StaleSnapshotConflictError{Date: d, Cause: err}
	}
	return err
}
