/*
persister.go - Assignment Persister

PURPOSE:
  Translates between the in-memory Session and the order's durable
  deliveryDates structure.

  ToDeliveryDates:   Session        -> [{date, timeSlot, itemIds}]
  FromDeliveryDates: deliveryDates  -> Session (re-opening an order to edit)

ROUND-TRIP LAW:
  FromDeliveryDates(ToDeliveryDates(s)) reproduces s's unit -> date mapping.
  The order of ids within a date is not significant.

REHYDRATION:
  Stored assignments are placed without capacity checks: they describe what
  is already committed, and the snapshot used for editing excludes this
  order's own minutes. Ids that cannot be decoded, do not belong to the
  order, or repeat an earlier id are dropped and reported as warnings on the
  session; the affected units land in the unassigned pool.

SEE ALSO:
  - unitid.go:  The one decoding rule for stored unit ids
  - service.go: Strict variant used at commit time
*/
package capacity

import "fmt"

// ToDeliveryDates collapses the session into one entry per date, ascending.
func ToDeliveryDates(s *Session) []DeliveryDate {
	assignments := s.Assignments()
	out := make([]DeliveryDate, 0, len(assignments))
	for _, a := range assignments {
		ids := make([]string, len(a.Units))
		for i, u := range a.Units {
			ids[i] = u.String()
		}
		out = append(out, DeliveryDate{Date: a.Date, TimeSlot: a.TimeSlot, ItemIDs: ids})
	}
	return out
}

// FromDeliveryDates rebuilds a session from persisted delivery dates.
// Entries sharing a date are merged. Integrity problems become
// Session.Warnings; only invalid line items fail the call.
func FromDeliveryDates(dd []DeliveryDate, items []LineItem, snap *Snapshot, policy Policy) (*Session, error) {
	s, err := NewSession(snap, items, policy)
	if err != nil {
		return nil, err
	}

	next := s.clone()
	var warnings []error
	for _, entry := range dd {
		for _, raw := range entry.ItemIDs {
			id, err := DecodeUnitID(raw)
			if err != nil {
				warnings = append(warnings, err)
				continue
			}
			if !next.HasUnit(id) {
				warnings = append(warnings, &UnitIntegrityError{Raw: raw, Date: entry.Date, Err: ErrUnknownUnit})
				continue
			}
			if at, ok := next.assigned[id]; ok {
				warnings = append(warnings, &UnitIntegrityError{
					Raw:  raw,
					Date: entry.Date,
					Err:  fmt.Errorf("%w (kept on %s)", ErrDuplicateUnit, at),
				})
				continue
			}
			next.assigned[id] = entry.Date
		}
		if entry.TimeSlot != "" && next.timeSlots[entry.Date] == "" && next.hasDate(entry.Date) {
			next.timeSlots[entry.Date] = entry.TimeSlot
		}
	}
	next.warnings = warnings

	switch dates := len(next.Assignments()); {
	case dates > 1:
		next.mode = ModeSplit
	case dates == 1 && next.IsComplete():
		next.mode = ModeSingleDate
	case dates == 1:
		next.mode = ModeSplit
	}
	return next, nil
}

// Rehydrate is FromDeliveryDates for an order record.
func Rehydrate(order *Order, snap *Snapshot, policy Policy) (*Session, error) {
	return FromDeliveryDates(order.DeliveryDates, order.Items, snap, policy)
}

func (s *Session) hasDate(d Date) bool {
	for _, at := range s.assigned {
		if at == d {
			return true
		}
	}
	return false
}
