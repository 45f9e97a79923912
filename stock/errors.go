/*
errors.go - Centralized error types for the stock core

PURPOSE:
  All failure kinds in one place for consistency and discoverability.
  Callers match with errors.Is for classification and errors.As when the
  structured detail (requested/available, from/to state, expected/actual
  version) is needed to render a precise message.

ERROR CATEGORIES:
  1. Lookup errors     - Unknown product/session/task
  2. Validation errors - Non-positive quantity, negative physical count
  3. Stock errors      - Insufficient stock for a removal
  4. Concurrency       - Stale version (recoverable, drives retry)
  5. Lifecycle         - Invalid state transitions, partial reconciliation

PROPAGATION POLICY:
  StaleVersion is retried internally by the reconciliation engine and never
  escapes it. Everything else propagates to the caller as a typed failure;
  nothing is silently swallowed. Partial reconciliation failure is a report
  (ReconciliationIncompleteError), not a hard fault.

SEE ALSO:
  - ledger.go: Produces the stock and concurrency errors
  - inventory package: Produces the lifecycle errors
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrSessionNotFound is returned when a referenced inventory session doesn't exist.
	ErrSessionNotFound = errors.New("inventory session not found")

	// ErrTaskNotFound is returned when a referenced inventory task doesn't exist.
	ErrTaskNotFound = errors.New("inventory task not found")

	// ErrValidation is returned for invalid input: non-positive quantities,
	// negative physical counts, zero deltas.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when a removal exceeds the on-hand
	// quantity. The ledger is left untouched (version unchanged).
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStaleVersion is returned when a compare-and-set finds the ledger
	// changed since the caller's snapshot. Recoverable: re-read and retry.
	ErrStaleVersion = errors.New("stale version")

	// ErrInvalidTransition is returned for state transitions not in the
	// task/session lifecycle tables.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrReconciliationIncomplete reports products left unreconciled after a
	// reconciliation pass. The session stays closed and retryable.
	ErrReconciliationIncomplete = errors.New("reconciliation incomplete")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError details an input rejection.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Msg }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError details a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// StaleVersionError details a compare-and-set conflict.
type StaleVersionError struct {
	ProductID ProductID
	Expected  int64
	Actual    int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("stale version for %s: expected %d, actual %d",
		e.ProductID, e.Expected, e.Actual)
}

func (e *StaleVersionError) Unwrap() error {
	return ErrStaleVersion
}

// SessionConflictError details a concurrent session update: the stored
// session version moved past the caller's read. Matches ErrStaleVersion so
// callers classify it with the product conflict.
type SessionConflictError struct {
	SessionID string
	Expected  int64
	Actual    int64
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("stale session version for %s: expected %d, actual %d",
		e.SessionID, e.Expected, e.Actual)
}

func (e *SessionConflictError) Unwrap() error {
	return ErrStaleVersion
}

// InvalidTransitionError details a rejected lifecycle transition.
// Unfinished is set when closing a session fails because tasks remain open.
type InvalidTransitionError struct {
	From       string
	To         string
	Unfinished int
}

func (e *InvalidTransitionError) Error() string {
	if e.Unfinished > 0 {
		return fmt.Sprintf("invalid transition %s -> %s: %d unfinished tasks",
			e.From, e.To, e.Unfinished)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ReconciliationIncompleteError lists products that could not be reconciled.
// This is a partial-failure report: the caller retries Reconcile for the
// listed products, everything else has already been applied.
type ReconciliationIncompleteError struct {
	SessionID  string
	ProductIDs []ProductID
}

func (e *ReconciliationIncompleteError) Error() string {
	return fmt.Sprintf("reconciliation of session %s incomplete: %d products unreconciled",
		e.SessionID, len(e.ProductIDs))
}

func (e *ReconciliationIncompleteError) Unwrap() error {
	return ErrReconciliationIncomplete
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}
