/*
errors.go - Centralized error types for the capacity scheduler

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured types when they need the details.

ERROR TAXONOMY:
  CapacityExceeded      (soft)       a date lacks the remaining minutes; admins may override
  DateUnavailable       (hard)       blocked / lead time / no capacity / outside window
  IncompleteAllocation  (validation) units remain unassigned at commit
  StaleSnapshotConflict (commit)     server-side re-check failed; refresh and retry
  MalformedUnitID       (integrity)  a stored unit id cannot be decoded

PROPAGATION:
  None of these should end a scheduling session. Only a failure to read the
  availability inputs at all (store/network) blocks entering the date step.

SEE ALSO:
  - session.go: Raises CapacityExceeded / DateUnavailable / IncompleteAllocation
  - service.go: Raises StaleSnapshotConflict
  - unitid.go:  Raises MalformedUnitID
*/
package capacity

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCapacityExceeded is returned when an assignment needs more minutes
	// than the date has left.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDateUnavailable is returned when the date cannot be selected at all.
	ErrDateUnavailable = errors.New("date unavailable")

	// ErrIncompleteAllocation is returned when units are still unassigned.
	ErrIncompleteAllocation = errors.New("incomplete allocation")

	// ErrStaleSnapshot is returned when a commit-time re-check fails.
	ErrStaleSnapshot = errors.New("availability changed since snapshot was taken")

	// ErrMalformedUnitID is returned for unit ids that cannot be decoded.
	ErrMalformedUnitID = errors.New("malformed unit id")

	// ErrUnknownUnit is returned for unit ids that do not belong to the order.
	ErrUnknownUnit = errors.New("unit does not belong to order")

	// ErrDuplicateUnit is returned when a unit appears on more than one date.
	ErrDuplicateUnit = errors.New("unit assigned more than once")

	// ErrEmptyOrder is returned when committing an order without units.
	ErrEmptyOrder = errors.New("order has no units")

	// ErrInvalidLineItem is returned for malformed line items.
	ErrInvalidLineItem = errors.New("invalid line item")

	// ErrSplitRequired is returned when single-date mode is requested for an
	// order no single day can hold.
	ErrSplitRequired = errors.New("order requires a split assignment")

	// ErrSingleDateMode is returned for per-unit operations in single-date mode.
	ErrSingleDateMode = errors.New("operation not allowed in single-date mode")

	// ErrSplitMode is returned for whole-order operations in split mode.
	ErrSplitMode = errors.New("operation not allowed in split mode")

	// ErrOrderNotFound is returned when a referenced order doesn't exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderExists is returned when creating an order whose id is taken.
	ErrOrderExists = errors.New("order already exists")

	// ErrOrderCancelled is returned when re-assigning a cancelled order.
	ErrOrderCancelled = errors.New("order is cancelled")

	// ErrAvailabilitySource is returned when availability inputs cannot be read.
	ErrAvailabilitySource = errors.New("availability source unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapacityExceededError details a capacity shortfall on one date.
type CapacityExceededError struct {
	Date        Date
	Required    Minutes
	Remaining   Minutes
	Overridable bool // true when the caller's policy may force the assignment
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded on %s: required %s min, remaining %s min",
		e.Date, e.Required, e.Remaining)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// Shortfall returns how many minutes are missing.
func (e *CapacityExceededError) Shortfall() Minutes { return e.Required.Sub(e.Remaining) }

// DateUnavailableError details why a date cannot be selected.
type DateUnavailableError struct {
	Date        Date
	Reason      UnavailableReason
	Overridable bool
}

func (e *DateUnavailableError) Error() string {
	return fmt.Sprintf("date %s unavailable: %s", e.Date, e.Reason)
}

func (e *DateUnavailableError) Unwrap() error { return ErrDateUnavailable }

// IncompleteAllocationError lists the units that still need a date.
type IncompleteAllocationError struct {
	Unassigned []UnitID
}

func (e *IncompleteAllocationError) Error() string {
	ids := make([]string, 0, len(e.Unassigned))
	for _, u := range e.Unassigned {
		ids = append(ids, u.String())
	}
	return fmt.Sprintf("%d unit(s) unassigned: %s", len(e.Unassigned), strings.Join(ids, ", "))
}

func (e *IncompleteAllocationError) Unwrap() error { return ErrIncompleteAllocation }

// StaleSnapshotConflictError is the commit-time re-check failure. Cause is
// the allocator error observed against the fresh snapshot.
type StaleSnapshotConflictError struct {
	Date  Date
	Cause error
}

func (e *StaleSnapshotConflictError) Error() string {
	return fmt.Sprintf("availability changed for %s, refresh and re-allocate: %v", e.Date, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying allocator error.
func (e *StaleSnapshotConflictError) Unwrap() []error { return []error{ErrStaleSnapshot, e.Cause} }

// MalformedUnitIDError carries the raw id that failed to decode.
type MalformedUnitIDError struct {
	Raw    string
	Reason string
}

func (e *MalformedUnitIDError) Error() string {
	return fmt.Sprintf("malformed unit id %q: %s", e.Raw, e.Reason)
}

func (e *MalformedUnitIDError) Unwrap() error { return ErrMalformedUnitID }

// UnitIntegrityError reports a decodable id that does not fit the order
// (unknown line item, ordinal out of range, or a duplicate).
type UnitIntegrityError struct {
	Raw  string
	Date Date
	Err  error
}

func (e *UnitIntegrityError) Error() string {
	return fmt.Sprintf("unit %q on %s: %v", e.Raw, e.Date, e.Err)
}

func (e *UnitIntegrityError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if refreshing availability and retrying may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleSnapshot)
}

// IsOverridable returns true if the failure may be forced with an override.
func IsOverridable(err error) bool {
	var capErr *CapacityExceededError
	if errors.As(err, &capErr) {
		return capErr.Overridable
	}
	var dateErr *DateUnavailableError
	if errors.As(err, &dateErr) {
		return dateErr.Overridable
	}
	return false
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedUnitID) ||
		errors.Is(err, ErrUnknownUnit) ||
		errors.Is(err, ErrDuplicateUnit) ||
		errors.Is(err, ErrInvalidLineItem) ||
		errors.Is(err, ErrIncompleteAllocation) ||
		errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrSplitRequired) ||
		errors.Is(err, ErrSingleDateMode) ||
		errors.Is(err, ErrSplitMode)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
