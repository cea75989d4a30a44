/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place so callers can tell a business-rule
  rejection from a lost race and from a broken database.

ERROR CATEGORIES:
  1. Client errors     - ValidationError, DuplicateRequestError,
                         InsufficientBalanceError, RewardInUseError
  2. Race recovery     - AlreadyProcessedError (refresh and no-op)
  3. Lookup failures   - NotFoundError
  4. Store failures    - StoreError (connectivity, constraint violation)

USAGE:
  Every structured error unwraps to a sentinel, so both styles work:

    if errors.Is(err, loyalty.ErrAlreadyProcessed) { refresh() }

    var insufficient *loyalty.InsufficientBalanceError
    if errors.As(err, &insufficient) { show(insufficient.Shortfall()) }

SEE ALSO:
  - outcome.go: maps errors to UI outcomes
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (non-positive amount, empty name...).
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyProcessed is returned when a conditional update lost the race
	// or the entry had already left the expected state.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrInsufficientBalance is returned when a user cannot afford a reward.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateRequest is returned when a pending redemption already exists
	// for the same user and reward.
	ErrDuplicateRequest = errors.New("duplicate pending request")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrRewardInUse is returned when deleting a reward that redemptions reference.
	ErrRewardInUse = errors.New("reward referenced by redemptions")

	// ErrStore is returned for persistence failures.
	ErrStore = errors.New("store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes bad input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AlreadyProcessedError reports that another actor already moved the entry.
// Callers refresh their view and treat the action as a no-op.
type AlreadyProcessedError struct {
	Kind   ClaimKind
	ID     string
	Status Status // status observed after losing, empty if unknown
}

func (e *AlreadyProcessedError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s %s already processed", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %s already processed (status: %s)", e.Kind, e.ID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error { return ErrAlreadyProcessed }

// InsufficientBalanceError provides details about a stamp shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	RewardID  RewardID
	Available int
	Required  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, required %d, shortfall %d",
		e.Available, e.Required, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many stamps are missing.
func (e *InsufficientBalanceError) Shortfall() int {
	if e.Required <= e.Available {
		return 0
	}
	return e.Required - e.Available
}

// DuplicateRequestError points at the redemption that is still pending.
type DuplicateRequestError struct {
	UserID     UserID
	RewardID   RewardID
	ExistingID RedemptionID
}

func (e *DuplicateRequestError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("reward %s already has a pending redemption for user %s", e.RewardID, e.UserID)
	}
	return fmt.Sprintf("reward %s already has a pending redemption for user %s (%s)",
		e.RewardID, e.UserID, e.ExistingID)
}

func (e *DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind ClaimKind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RewardInUseError is returned by DeleteReward. Deactivate the reward instead.
type RewardInUseError struct {
	RewardID    RewardID
	Redemptions int
}

func (e *RewardInUseError) Error() string {
	return fmt.Sprintf("reward %s is referenced by %d redemption(s); deactivate it instead",
		e.RewardID, e.Redemptions)
}

func (e *RewardInUseError) Unwrap() error { return ErrRewardInUse }

// StoreError wraps a persistence failure. It matches both ErrStore and the
// underlying driver error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// WrapStore wraps err as a StoreError unless it is nil or already a
// domain error.
func WrapStore(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrRewardInUse)
}

// IsAlreadyProcessed returns true for lost conditional updates.
func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDomainError returns true for every error defined in this file.
func IsDomainError(err error) bool {
	return IsClientError(err) || IsAlreadyProcessed(err) || IsNotFound(err) || errors.Is(err, ErrStore)
}
