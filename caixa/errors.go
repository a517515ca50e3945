/*
errors.go - Centralized error types for the cash ledger

PURPOSE:
  All error kinds in one place. Every structured error unwraps to a sentinel,
  so callers branch with errors.Is and read details with errors.As.

ERROR KINDS:
  ConflictError            -> ErrSessionAlreadyOpen
  NotFoundError            -> ErrNotFound
  ValidationError          -> ErrValidation
  InsufficientBalanceError -> ErrInsufficientBalance
  SessionClosedError       -> ErrSessionClosed
  AlreadyClosedError       -> ErrAlreadyClosed

  DiscrepancyWarning is NOT an error. Close records it in the session notes
  and carries on.

STORE ERRORS:
  Stores return the bare sentinels (ErrSessionAlreadyOpen, ErrNotFound,
  ErrSessionClosed, ErrAlreadyClosed, ErrConcurrentModification). The managers
  wrap them into the structured types with the context they hold.

USAGE:
  _, err := guard.Sangria(ctx, id, amount, "deposito", "op-1")
  var insufficient *caixa.InsufficientBalanceError
  if errors.As(err, &insufficient) {
      fmt.Println("short by", insufficient.Shortfall)
  }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package caixa

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSessionAlreadyOpen is returned when opening a session for a scope
	// that already has one OPEN.
	ErrSessionAlreadyOpen = errors.New("a cash session is already open for this scope")

	// ErrNotFound is returned when a referenced session or movement does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input breaks a movement or session rule.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// session's computed balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSessionClosed is returned when writing to a CLOSED session.
	ErrSessionClosed = errors.New("cash session is closed")

	// ErrAlreadyClosed is returned when closing a session twice.
	ErrAlreadyClosed = errors.New("cash session already closed")

	// ErrConcurrentModification is returned by stores when a concurrent writer
	// won a race (e.g. two opens picked the same sequence number). Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports an open() attempted while another session is OPEN.
type ConflictError struct {
	Scope         Scope
	OpenSessionID SessionID // may be empty if the store could not tell
}

func (e *ConflictError) Error() string {
	if e.OpenSessionID == "" {
		return fmt.Sprintf("scope %s: %v", e.Scope, ErrSessionAlreadyOpen)
	}
	return fmt.Sprintf("scope %s: %v (session %s)", e.Scope, ErrSessionAlreadyOpen, e.OpenSessionID)
}

func (e *ConflictError) Unwrap() error { return ErrSessionAlreadyOpen }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string // "session", "open session", "movement"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Resource, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError describes which field broke which rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	SessionID SessionID
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2), e.Shortfall.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// SessionClosedError reports a write against a CLOSED session.
type SessionClosedError struct {
	SessionID SessionID
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, ErrSessionClosed)
}

func (e *SessionClosedError) Unwrap() error { return ErrSessionClosed }

// AlreadyClosedError reports a second close() on the same session.
type AlreadyClosedError struct {
	SessionID SessionID
	ClosedAt  *time.Time
}

func (e *AlreadyClosedError) Error() string {
	if e.ClosedAt == nil {
		return fmt.Sprintf("session %s: %v", e.SessionID, ErrAlreadyClosed)
	}
	return fmt.Sprintf("session %s: %v at %s", e.SessionID, ErrAlreadyClosed, e.ClosedAt.Format(time.RFC3339))
}

func (e *AlreadyClosedError) Unwrap() error { return ErrAlreadyClosed }

// =============================================================================
// DISCREPANCY WARNING - Recorded, never returned as an error
// =============================================================================

// DiscrepancyWarning describes a close where the declared closing balance
// differs from the computed one.
type DiscrepancyWarning struct {
	Expected decimal.Decimal
	Declared decimal.Decimal
}

// Difference is declared - expected: negative means money is missing.
func (w DiscrepancyWarning) Difference() decimal.Decimal {
	return w.Declared.Sub(w.Expected)
}

func (w DiscrepancyWarning) String() string {
	return fmt.Sprintf("DISCREPANCY: expected %s, declared %s, difference %s",
		w.Expected.StringFixed(2), w.Declared.StringFixed(2), w.Difference().StringFixed(2))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrSessionAlreadyOpen) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrAlreadyClosed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
