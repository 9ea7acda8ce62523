package capacity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/bakery-scheduler/capacity"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// testNow is mid-morning on day0.
var testNow = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

var day0 = capacity.NewDate(2025, time.March, 3)

// Category A = 30 min/unit, B = 45 min/unit.
var testCatalog = capacity.CategoryTimes{
	"a": capacity.MinutesFromInt(30),
	"b": capacity.MinutesFromInt(45),
}

func mins(v float64) capacity.Minutes { return capacity.NewMinutes(v) }

func minsPtr(v float64) *capacity.Minutes {
	m := mins(v)
	return &m
}

func assertMinutes(t *testing.T, want float64, got capacity.Minutes, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, got.Equal(mins(want)), "expected %v minutes, got %s %v", want, got, msgAndArgs)
}

// cart is 2×A + 1×B = 105 minutes.
func cart() []capacity.LineItem {
	return []capacity.LineItem{
		{ID: "li-a", Category: "a", Quantity: 2},
		{ID: "li-b", Category: "b", Quantity: 1},
	}
}

func unit(li string, n int) capacity.UnitID {
	return capacity.UnitID{LineItem: capacity.LineItemID(li), Ordinal: n}
}

var (
	a0 = unit("li-a", 0)
	a1 = unit("li-a", 1)
	b0 = unit("li-b", 0)
)

// =============================================================================
// SNAPSHOT BUILDER
// =============================================================================

type snapOpt func(*capacity.SnapshotInput)

// withCapacity gives d a total of v minutes.
func withCapacity(d capacity.Date, v float64) snapOpt {
	return func(in *capacity.SnapshotInput) {
		in.DateOverrides = append(in.DateOverrides, capacity.DateOverride{Date: d, WorkMinutes: minsPtr(v)})
	}
}

func withDefault(v float64) snapOpt {
	return func(in *capacity.SnapshotInput) { in.DefaultDailyMinutes = mins(v) }
}

func withLeadTime(days int) snapOpt {
	return func(in *capacity.SnapshotInput) { in.LeadTimeDays = days }
}

func withBlocked(d capacity.Date) snapOpt {
	return func(in *capacity.SnapshotInput) { in.BlockedDates = append(in.BlockedDates, d) }
}

func withCommitted(d capacity.Date, v float64) snapOpt {
	return func(in *capacity.SnapshotInput) { in.CommittedMinutes[d] = mins(v) }
}

// newSnapshot builds a 14-day snapshot starting at day0 with no default
// capacity and no lead time, so only dates given capacity are usable.
func newSnapshot(opts ...snapOpt) *capacity.Snapshot {
	in := capacity.SnapshotInput{
		Now:              testNow,
		Location:         time.UTC,
		LookaheadDays:    14,
		CommittedMinutes: make(map[capacity.Date]capacity.Minutes),
		CategoryMinutes:  testCatalog,
		DefaultTimeSlots: []string{"09:00-12:00", "12:00-15:00"},
	}
	for _, opt := range opts {
		opt(&in)
	}
	return capacity.BuildSnapshot(in)
}

func customerSession(t *testing.T, snap *capacity.Snapshot, items []capacity.LineItem) *capacity.Session {
	t.Helper()
	s, err := capacity.NewSession(snap, items, capacity.PolicyFor(capacity.RoleCustomer))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func adminSession(t *testing.T, snap *capacity.Snapshot, items []capacity.LineItem) *capacity.Session {
	t.Helper()
	s, err := capacity.NewSession(snap, items, capacity.PolicyFor(capacity.RoleAdmin))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}
