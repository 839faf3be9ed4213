/*
errors.go - Centralized error types for the commission domain

PURPOSE:
  All domain errors in one place for consistency and discoverability.
  Services wrap these sentinels with context; the HTTP layer recovers
  them into structured ok/message results.

ERROR CATEGORIES:
  1. Permission errors   - actor lacks role or ownership
  2. Lifecycle errors    - locked deals, double settlement
  3. Validation errors   - malformed finalize input, bad rates
  4. Lookup errors       - missing entities

USAGE:
  if errors.Is(err, commission.ErrDealLocked) {
      // surface as a conflict, not a server fault
  }

SEE ALSO:
  - split.go, rates.go: validation call sites
  - engine: command boundary that recovers these
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrForbidden is returned when the actor lacks the role or
	// ownership a command requires.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a referenced entity id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDealLocked is returned when mutating a finalized deal.
	ErrDealLocked = errors.New("deal already finalized")

	// ErrInvalidAmount is returned for a non-positive final sale amount
	// or a negative split base.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidDate is returned when a closing date does not parse as
	// a calendar date (YYYY-MM-DD).
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidStatus is returned when a status is outside the product
	// category's allowed set.
	ErrInvalidStatus = errors.New("status not allowed for product category")

	// ErrInvalidRateConfiguration is returned when the connector rate
	// exceeds the overall rate, or a rate falls outside [0,1].
	ErrInvalidRateConfiguration = errors.New("invalid rate configuration")

	// ErrBelowMinimum is returned when a payout request total is under
	// the minimum payout threshold.
	ErrBelowMinimum = errors.New("below minimum payout amount")

	// ErrAlreadyPaid is returned on a double payout-settlement attempt.
	ErrAlreadyPaid = errors.New("payout request already paid")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BelowMinimumError reports how far a payout request fell short.
type BelowMinimumError struct {
	UserID       string
	AvailableJPY int64
	MinimumJPY   int64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("payout below minimum: available %d yen, minimum %d yen", e.AvailableJPY, e.MinimumJPY)
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimum }

// InvalidStatusError reports a status outside the category's allowed set.
type InvalidStatusError struct {
	Status      DealStatus
	ProductType ProductType
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("status %q not allowed for product type %q", e.Status, e.ProductType)
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input or a
// business-rule violation, as opposed to a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidRateConfiguration) ||
		errors.Is(err, ErrBelowMinimum)
}

// IsConflict returns true if the error indicates the entity is already in
// (or past) the requested state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDealLocked) || errors.Is(err, ErrAlreadyPaid)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden returns true if the error indicates a permission failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
