/*
snapshot.go - Availability Snapshot Builder

PURPOSE:
  Produces the point-in-time view of remaining manufacturing minutes per day
  that a scheduling session works against, plus the set of dates that cannot
  be selected.

FORMULA (per date in the lookahead window):
  available = (override.WorkMinutes ?? defaultDailyMinutes) - committed[date]

  The result may be negative. A negative value is a valid "overbooked"
  state (an admin forced an assignment) and is kept as-is so later checks
  and later viewers see it.

UNAVAILABLE WHEN (first matching reason wins):
  1. blocked          admin blocked the date
  2. override_blocked the date's override marks it blocked
  3. lead_time        date in [today, today+leadTimeDays)
  4. no_capacity      available <= 0
  5. outside_window   before today or past the lookahead window

LIFECYCLE:
  A snapshot is immutable. It is built fresh at the start of a session and
  again at commit time; "today" comes from the Now passed in, never a
  cached value.

SEE ALSO:
  - evaluator.go: Reads AvailableByDate
  - session.go:   Subtracts in-session allocations from the baseline
*/
package capacity

import (
	"sort"
	"time"
)

// DefaultLookaheadDays bounds the snapshot window when none is configured.
const DefaultLookaheadDays = 60

// UnavailableReason explains why a date cannot be selected.
type UnavailableReason string

const (
	ReasonBlocked         UnavailableReason = "blocked"
	ReasonOverrideBlocked UnavailableReason = "override_blocked"
	ReasonLeadTime        UnavailableReason = "lead_time"
	ReasonNoCapacity      UnavailableReason = "no_capacity"
	ReasonOutsideWindow   UnavailableReason = "outside_window"
)

// DateOverride replaces a single day's defaults.
type DateOverride struct {
	Date           Date
	WorkMinutes    *Minutes // total capacity for the day; nil keeps the default
	Blocked        bool
	AvailableHours []string // time slots offered that day; nil keeps the default
}

// SnapshotInput holds everything the builder reads.
type SnapshotInput struct {
	Now                 time.Time
	Location            *time.Location // bakery timezone; nil uses Now's location
	LeadTimeDays        int
	DefaultDailyMinutes Minutes
	LookaheadDays       int
	BlockedDates        []Date
	DateOverrides       []DateOverride
	CommittedMinutes    map[Date]Minutes
	CategoryMinutes     CategoryTimes
	DefaultTimeSlots    []string
}

// Snapshot is the immutable availability view of one scheduling session.
type Snapshot struct {
	Today               Date
	LeadTimeDays        int
	DefaultDailyMinutes Minutes
	LookaheadDays       int
	MinutesByCategory   CategoryTimes
	AvailableByDate     map[Date]Minutes
	BlockedDates        map[Date]bool
	Overrides           map[Date]DateOverride
	DefaultTimeSlots    []string

	unavailable map[Date]UnavailableReason
}

// BuildSnapshot computes the snapshot for in.Now.
func BuildSnapshot(in SnapshotInput) *Snapshot {
	lookahead := in.LookaheadDays
	if lookahead <= 0 {
		lookahead = DefaultLookaheadDays
	}
	leadTime := max(in.LeadTimeDays, 0)

	s := &Snapshot{
		Today:               DateOf(in.Now, in.Location),
		LeadTimeDays:        leadTime,
		DefaultDailyMinutes: in.DefaultDailyMinutes,
		LookaheadDays:       lookahead,
		MinutesByCategory:   make(CategoryTimes, len(in.CategoryMinutes)),
		AvailableByDate:     make(map[Date]Minutes, lookahead),
		BlockedDates:        make(map[Date]bool, len(in.BlockedDates)),
		Overrides:           make(map[Date]DateOverride, len(in.DateOverrides)),
		DefaultTimeSlots:    append([]string(nil), in.DefaultTimeSlots...),
		unavailable:         make(map[Date]UnavailableReason),
	}
	for id, m := range in.CategoryMinutes {
		s.MinutesByCategory[id] = m
	}
	for _, d := range in.BlockedDates {
		s.BlockedDates[d] = true
	}
	for _, o := range in.DateOverrides {
		s.Overrides[o.Date] = o
	}

	leadTimeEnd := s.Today.AddDays(leadTime)
	for _, d := range DateRange(s.Today, lookahead) {
		total := in.DefaultDailyMinutes
		if o, ok := s.Overrides[d]; ok && o.WorkMinutes != nil {
			total = *o.WorkMinutes
		}
		available := total.Sub(in.CommittedMinutes[d])
		s.AvailableByDate[d] = available

		switch {
		case s.BlockedDates[d]:
			s.unavailable[d] = ReasonBlocked
		case s.Overrides[d].Blocked:
			s.unavailable[d] = ReasonOverrideBlocked
		case d.Before(leadTimeEnd):
			s.unavailable[d] = ReasonLeadTime
		case !available.IsPositive():
			s.unavailable[d] = ReasonNoCapacity
		}
	}
	return s
}

// Window returns [from, to) covered by the snapshot.
func (s *Snapshot) Window() (from, to Date) {
	return s.Today, s.Today.AddDays(s.LookaheadDays)
}

// InWindow reports whether d is covered by the snapshot.
func (s *Snapshot) InWindow(d Date) bool {
	_, ok := s.AvailableByDate[d]
	return ok
}

// Available returns the baseline remaining minutes of d: capacity minus
// committed orders, before anything in the current session. Zero outside
// the window.
func (s *Snapshot) Available(d Date) Minutes {
	return s.AvailableByDate[d]
}

// ReportedMinutes is Available floored to whole minutes for display. The
// sign is kept so overbooked days stay visible.
func (s *Snapshot) ReportedMinutes(d Date) Minutes {
	return s.AvailableByDate[d].Floor()
}

// Unavailable returns why d cannot be selected, if it cannot.
func (s *Snapshot) Unavailable(d Date) (UnavailableReason, bool) {
	if !s.InWindow(d) {
		return ReasonOutsideWindow, true
	}
	r, ok := s.unavailable[d]
	return r, ok
}

// IsUnavailable reports whether d is in the unavailable set.
func (s *Snapshot) IsUnavailable(d Date) bool {
	_, ok := s.Unavailable(d)
	return ok
}

// Dates returns the window's dates in ascending order.
func (s *Snapshot) Dates() []Date {
	return sortedDates(s.AvailableByDate)
}

// UnavailableDates returns the unavailable dates inside the window, ascending.
func (s *Snapshot) UnavailableDates() []Date {
	return sortedDates(s.unavailable)
}

// OverbookedDates returns window dates whose available minutes are negative.
func (s *Snapshot) OverbookedDates() []Date {
	var out []Date
	for _, d := range s.Dates() {
		if s.AvailableByDate[d].IsNegative() {
			out = append(out, d)
		}
	}
	return out
}

// TimeSlots returns the time slots offered on d.
func (s *Snapshot) TimeSlots(d Date) []string {
	if o, ok := s.Overrides[d]; ok && o.AvailableHours != nil {
		return o.AvailableHours
	}
	return s.DefaultTimeSlots
}

// SortedBlockedDates returns admin-blocked dates ascending.
func (s *Snapshot) SortedBlockedDates() []Date {
	return sortedDates(s.BlockedDates)
}

// SortedOverrides returns overrides ordered by date.
func (s *Snapshot) SortedOverrides() []DateOverride {
	out := make([]DateOverride, 0, len(s.Overrides))
	for _, d := range sortedDates(s.Overrides) {
		out = append(out, s.Overrides[d])
	}
	return out
}

func sortedDates[V any](m map[Date]V) []Date {
	out := make([]Date, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
