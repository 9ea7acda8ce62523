/*
session.go - Unit Allocator (scheduling session state machine)

PURPOSE:
  Holds the working assignment of an order's units to delivery dates and
  enforces the capacity rules while the customer (checkout) or an admin
  (order edit) builds it.

STATES (per unit):
  Unassigned ──assign(date)──▶ AssignedTo(date) ──unassign──▶ Unassigned

RULES:
  - A unit is assigned to at most one date.
  - assign(unit, date) needs: date not unavailable AND
      RemainingMinutes(date) >= minutes(unit)
    RemainingMinutes subtracts what this session already placed on the date
    from the snapshot baseline.
  - Single-date mode: the whole order moves to one date at once and the sum
    is checked against the date's baseline. Per-unit operations are refused.
  - Split mode: units move one by one or in batches; the session can be
    committed only when nothing is unassigned.

POLICY:
  Policy.AllowOverride separates the admin path (a failed check may be forced
  with AssignOptions.Override) from the customer path (never forced). A forced
  assignment drives RemainingMinutes negative; that is intentional and is
  what later snapshots report as overbooked.

IMMUTABILITY:
  Every transition returns a new *Session; the receiver is never modified,
  so callers can keep the previous state for undo or comparison.

SEE ALSO:
  - evaluator.go: Chooses the initial mode
  - persister.go: Session <-> deliveryDates
*/
package capacity

import "fmt"

// =============================================================================
// MODE & POLICY
// =============================================================================

type Mode string

const (
	ModeSingleDate Mode = "single"
	ModeSplit      Mode = "split"
)

// Policy holds the constraint policy of a scheduling path.
type Policy struct {
	// AllowOverride permits forcing assignments past capacity or onto
	// unavailable dates when AssignOptions.Override is set.
	AllowOverride bool
}

// PolicyFor returns the policy of a role: admins may override, customers may not.
func PolicyFor(role Role) Policy {
	return Policy{AllowOverride: role == RoleAdmin}
}

// AssignOptions tune a single assign transition.
type AssignOptions struct {
	Override bool   // force past a failed check (honored only if Policy.AllowOverride)
	TimeSlot string // sets the date's time slot when non-empty
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the transient scheduling state of one order.
type Session struct {
	snapshot *Snapshot
	policy   Policy
	mode     Mode

	// Immutable after construction, shared between copies.
	items     []LineItem
	units     []Unit
	unitIndex map[UnitID]int
	warnings  []error

	// Copied on every transition.
	assigned  map[UnitID]Date
	timeSlots map[Date]string
	overrides map[Date]bool
}

// NewSession starts a session for items against snap. The mode is split
// when the evaluator says no single day can hold the order.
func NewSession(snap *Snapshot, items []LineItem, policy Policy) (*Session, error) {
	if err := ValidateLineItems(items); err != nil {
		return nil, err
	}
	units := ExplodeUnits(items)
	index := make(map[UnitID]int, len(units))
	for i, u := range units {
		index[u.ID] = i
	}

	s := &Session{
		snapshot:  snap,
		policy:    policy,
		mode:      ModeSingleDate,
		items:     append([]LineItem(nil), items...),
		units:     units,
		unitIndex: index,
		assigned:  make(map[UnitID]Date),
		timeSlots: make(map[Date]string),
		overrides: make(map[Date]bool),
	}
	if s.Evaluate().RequiresSplit {
		s.mode = ModeSplit
	}
	return s, nil
}

func (s *Session) clone() *Session {
	next := *s
	next.assigned = make(map[UnitID]Date, len(s.assigned))
	for k, v := range s.assigned {
		next.assigned[k] = v
	}
	next.timeSlots = make(map[Date]string, len(s.timeSlots))
	for k, v := range s.timeSlots {
		next.timeSlots[k] = v
	}
	next.overrides = make(map[Date]bool, len(s.overrides))
	for k, v := range s.overrides {
		next.overrides[k] = v
	}
	return &next
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Session) Snapshot() *Snapshot { return s.snapshot }
func (s *Session) Policy() Policy      { return s.policy }
func (s *Session) Mode() Mode          { return s.mode }
func (s *Session) Items() []LineItem   { return s.items }
func (s *Session) Units() []Unit       { return s.units }

// Warnings returns the data-integrity problems found while rehydrating.
func (s *Session) Warnings() []error { return s.warnings }

// Evaluate re-runs the capacity evaluator over the session's units.
func (s *Session) Evaluate() Evaluation {
	return Evaluate(s.units, s.snapshot)
}

// HasUnit reports whether id belongs to the session's order.
func (s *Session) HasUnit(id UnitID) bool {
	_, ok := s.unitIndex[id]
	return ok
}

// AssignedDate returns the date a unit is assigned to.
func (s *Session) AssignedDate(id UnitID) (Date, bool) {
	d, ok := s.assigned[id]
	return d, ok
}

// Unassigned returns the unassigned pool in unit order.
func (s *Session) Unassigned() []UnitID {
	var out []UnitID
	for _, u := range s.units {
		if _, ok := s.assigned[u.ID]; !ok {
			out = append(out, u.ID)
		}
	}
	return out
}

// IsComplete reports whether every unit has a date.
func (s *Session) IsComplete() bool {
	return len(s.assigned) == len(s.units)
}

// MinutesOf returns the manufacturing minutes of one unit.
func (s *Session) MinutesOf(id UnitID) Minutes {
	i, ok := s.unitIndex[id]
	if !ok {
		return Minutes{}
	}
	return s.snapshot.MinutesByCategory.Of(s.units[i].Category)
}

// AllocatedMinutes returns the minutes this session placed on d.
func (s *Session) AllocatedMinutes(d Date) Minutes {
	var total Minutes
	for id, at := range s.assigned {
		if at == d {
			total = total.Add(s.MinutesOf(id))
		}
	}
	return total
}

// RemainingMinutes is the snapshot baseline of d minus this session's
// allocations there. Negative after an override.
func (s *Session) RemainingMinutes(d Date) Minutes {
	return s.snapshot.Available(d).Sub(s.AllocatedMinutes(d))
}

// Assignments returns one entry per used date, ascending, units in order.
func (s *Session) Assignments() []DateAssignment {
	byDate := make(map[Date][]UnitID)
	for _, u := range s.units {
		if d, ok := s.assigned[u.ID]; ok {
			byDate[d] = append(byDate[d], u.ID)
		}
	}
	out := make([]DateAssignment, 0, len(byDate))
	for _, d := range sortedDates(byDate) {
		out = append(out, DateAssignment{Date: d, TimeSlot: s.timeSlots[d], Units: byDate[d]})
	}
	return out
}

// ChosenDate returns the single date of a single-date session.
func (s *Session) ChosenDate() (Date, bool) {
	for _, d := range s.assigned {
		return d, true
	}
	return Date{}, false
}

// OverriddenDates returns the dates where an override forced an assignment.
func (s *Session) OverriddenDates() []Date {
	return sortedDates(s.overrides)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// check applies the date and capacity rules for placing required minutes on
// d when remaining minutes are left. It returns whether an override was used.
func (s *Session) check(d Date, required, remaining Minutes, opts AssignOptions) (bool, error) {
	force := opts.Override && s.policy.AllowOverride
	forced := false

	if reason, ok := s.snapshot.Unavailable(d); ok {
		if !force {
			return false, &DateUnavailableError{Date: d, Reason: reason, Overridable: s.policy.AllowOverride}
		}
		forced = true
	}
	if required.GreaterThan(remaining) {
		if !force {
			return false, &CapacityExceededError{
				Date:        d,
				Required:    required,
				Remaining:   remaining,
				Overridable: s.policy.AllowOverride,
			}
		}
		forced = true
	}
	return forced, nil
}

// Assign places one unit on d (split mode).
func (s *Session) Assign(id UnitID, d Date, opts AssignOptions) (*Session, error) {
	return s.AssignBatch([]UnitID{id}, d, opts)
}

// AssignBatch places units on d as one check (split mode). Units already on
// another date move; units already on d are left alone.
func (s *Session) AssignBatch(ids []UnitID, d Date, opts AssignOptions) (*Session, error) {
	if s.mode != ModeSplit {
		return nil, ErrSingleDateMode
	}

	var moving []UnitID
	seen := make(map[UnitID]bool, len(ids))
	var required Minutes
	for _, id := range ids {
		if !s.HasUnit(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if at, ok := s.assigned[id]; ok && at == d {
			continue
		}
		moving = append(moving, id)
		required = required.Add(s.MinutesOf(id))
	}

	if len(moving) == 0 {
		if opts.TimeSlot == "" {
			return s, nil
		}
		next := s.clone()
		next.timeSlots[d] = opts.TimeSlot
		return next, nil
	}

	forced, err := s.check(d, required, s.RemainingMinutes(d), opts)
	if err != nil {
		return nil, err
	}

	next := s.clone()
	for _, id := range moving {
		next.place(id, d)
	}
	if opts.TimeSlot != "" {
		next.timeSlots[d] = opts.TimeSlot
	}
	if forced {
		next.overrides[d] = true
	}
	return next, nil
}

// AssignCategory places every still-unassigned unit of category on d.
func (s *Session) AssignCategory(category CategoryID, d Date, opts AssignOptions) (*Session, error) {
	var ids []UnitID
	for _, u := range s.units {
		if _, ok := s.assigned[u.ID]; !ok && u.Category == category {
			ids = append(ids, u.ID)
		}
	}
	if len(ids) == 0 {
		return s, nil
	}
	return s.AssignBatch(ids, d, opts)
}

// AssignAll moves the whole order to d (single-date mode). The order's total
// minutes are checked against d's baseline, since nothing else in the session
// occupies d once every unit moves there.
func (s *Session) AssignAll(d Date, opts AssignOptions) (*Session, error) {
	if s.mode != ModeSingleDate {
		return nil, ErrSplitMode
	}

	forced, err := s.check(d, s.Evaluate().TotalMinutes, s.snapshot.Available(d), opts)
	if err != nil {
		return nil, err
	}

	next := s.clone()
	clear(next.assigned)
	clear(next.timeSlots)
	clear(next.overrides)
	for _, u := range s.units {
		next.assigned[u.ID] = d
	}
	slot := opts.TimeSlot
	if slot == "" {
		slot = s.timeSlots[d]
	}
	if slot != "" {
		next.timeSlots[d] = slot
	}
	if forced {
		next.overrides[d] = true
	}
	return next, nil
}

// Unassign returns a unit to the pool. In single-date mode the whole order
// is unassigned, since a partial single-date assignment is not valid.
func (s *Session) Unassign(id UnitID) *Session {
	if _, ok := s.assigned[id]; !ok {
		return s
	}
	next := s.clone()
	if s.mode == ModeSingleDate {
		clear(next.assigned)
		clear(next.timeSlots)
		clear(next.overrides)
		return next
	}
	d := next.assigned[id]
	delete(next.assigned, id)
	next.pruneDate(d)
	return next
}

// UnassignDate returns every unit on d to the pool.
func (s *Session) UnassignDate(d Date) *Session {
	next := s.clone()
	for id, at := range next.assigned {
		if at == d {
			delete(next.assigned, id)
		}
	}
	next.pruneDate(d)
	return next
}

// SetTimeSlot labels d's delivery slot.
func (s *Session) SetTimeSlot(d Date, slot string) *Session {
	next := s.clone()
	if slot == "" {
		delete(next.timeSlots, d)
	} else {
		next.timeSlots[d] = slot
	}
	return next
}

// SwitchMode changes between single-date and split mode. Leaving split mode
// clears all assignments; entering single-date mode for an order that needs
// a split is refused unless the policy allows overrides.
func (s *Session) SwitchMode(mode Mode) (*Session, error) {
	if mode == s.mode {
		return s, nil
	}
	next := s.clone()
	next.mode = mode
	if mode == ModeSingleDate {
		if s.Evaluate().RequiresSplit && !s.policy.AllowOverride {
			return nil, ErrSplitRequired
		}
		clear(next.assigned)
		clear(next.timeSlots)
		clear(next.overrides)
	}
	return next, nil
}

// Validate reports whether the session can be committed.
func (s *Session) Validate() error {
	if len(s.units) == 0 {
		return ErrEmptyOrder
	}
	if unassigned := s.Unassigned(); len(unassigned) > 0 {
		return &IncompleteAllocationError{Unassigned: unassigned}
	}
	return nil
}

// place assigns without checks; only for clones under construction.
func (s *Session) place(id UnitID, d Date) {
	prev, had := s.assigned[id]
	s.assigned[id] = d
	if had && prev != d {
		s.pruneDate(prev)
	}
}

// pruneDate forgets per-date state once no unit is left on d. While units
// remain, d stays overridden only if it is still unavailable or over capacity.
func (s *Session) pruneDate(d Date) {
	for _, at := range s.assigned {
		if at == d {
			if s.overrides[d] && !s.snapshot.IsUnavailable(d) && !s.RemainingMinutes(d).IsNegative() {
				delete(s.overrides, d)
			}
			return
		}
	}
	delete(s.timeSlots, d)
	delete(s.overrides, d)
}
