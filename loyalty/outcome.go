package loyalty

import "errors"

// Outcome is the typed result of a ledger action, rendered by the UI layer.
// The engine never produces user-facing text itself.
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeAlreadyProcessed    Outcome = "already_processed"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeValidationError     Outcome = "validation_error"
	OutcomeDuplicateRequest    Outcome = "duplicate_request"
	OutcomeNotFound            Outcome = "not_found"
	OutcomeRewardInUse         Outcome = "reward_in_use"
	OutcomeStoreError          Outcome = "store_error"
)

// Classify maps an error returned by this package to an Outcome.
// Unknown errors are treated as store errors: retry prompt, logged.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrAlreadyProcessed):
		return OutcomeAlreadyProcessed
	case errors.Is(err, ErrInsufficientBalance):
		return OutcomeInsufficientBalance
	case errors.Is(err, ErrValidation):
		return OutcomeValidationError
	case errors.Is(err, ErrDuplicateRequest):
		return OutcomeDuplicateRequest
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrRewardInUse):
		return OutcomeRewardInUse
	default:
		return OutcomeStoreError
	}
}

// Recoverable reports whether the caller should refresh and carry on
// rather than show a failure.
func (o Outcome) Recoverable() bool {
	return o == OutcomeSuccess || o == OutcomeAlreadyProcessed
}
