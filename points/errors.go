/*
errors.go - Error taxonomy of the points engine

PURPOSE:
  All error kinds in one place. Every failure of the core is one of the
  sentinels below, optionally carried by a structured error that adds
  context and unwraps to its sentinel.

ERROR KINDS:
  ErrNotFound            referenced client/item/business/entry absent   (404)
  ErrCrossTenant         item and client belong to different businesses (400)
  ErrInsufficientBalance negative result under a no-overdraft policy    (400)
  ErrForbidden           caller not affiliated with the target business (403)
  ErrValidation          malformed input (zero delta, empty id, ...)    (400)
  ErrPolicyViolation     business policy could not be loaded            (422)

USAGE:
  if errors.Is(err, points.ErrInsufficientBalance) {
      var ib *points.InsufficientBalanceError
      errors.As(err, &ib) // ib.Available, ib.Shortfall
  }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound            = errors.New("not found")
	ErrCrossTenant         = errors.New("cross-tenant operation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrPolicyViolation     = errors.New("business policy unavailable")

	// ErrDuplicateCardID is returned when (business, card id) is already taken.
	// Callers allocating card ids retry on it.
	ErrDuplicateCardID = errors.New("duplicate card id")

	ErrDuplicateSlug  = errors.New("duplicate business slug")
	ErrDuplicateName  = errors.New("duplicate business name")
	ErrDuplicateEmail = errors.New("duplicate user email")

	// ErrInvalidActivationCode is returned when a card claim presents a wrong code
	// or the business has no activation code.
	ErrInvalidActivationCode = errors.New("invalid activation code")

	ErrAlreadyActive = errors.New("card already active")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "client", "item", "business", "entry", "user"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	ClientID  ClientID
	Available int64 // balance before the operation
	Requested int64 // points the operation tried to take
	Shortfall int64 // how far below zero the balance would have gone
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// CrossTenantError describes an item applied to a client of another business.
type CrossTenantError struct {
	ItemID           ItemID
	ItemBusinessID   BusinessID
	ClientID         ClientID
	ClientBusinessID BusinessID
}

func (e *CrossTenantError) Error() string {
	return fmt.Sprintf("item %s belongs to business %s, client %s belongs to business %s",
		e.ItemID, e.ItemBusinessID, e.ClientID, e.ClientBusinessID)
}

func (e *CrossTenantError) Unwrap() error {
	return ErrCrossTenant
}

// InconsistentEntryError is returned when an entry's snapshot does not add up.
type InconsistentEntryError struct {
	Before int64
	Delta  int64
	After  int64
}

func (e *InconsistentEntryError) Error() string {
	return fmt.Sprintf("inconsistent ledger entry: %d + %d != %d", e.Before, e.Delta, e.After)
}

func (e *InconsistentEntryError) Unwrap() error {
	return ErrValidation
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCrossTenant) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateCardID) ||
		errors.Is(err, ErrDuplicateSlug) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrInvalidActivationCode) ||
		errors.Is(err, ErrAlreadyActive)
}
