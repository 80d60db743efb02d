package contracts

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a proposal or payment is not known to a store.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed or out-of-order request. It is surfaced
// to the caller immediately and never mutates state.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a decision or execution request against a proposal
// whose state does not admit it.
type InvalidStateError struct {
	ProposalID string
	State      ProposalState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("proposal %s is in state %s", e.ProposalID, e.State)
}

// NetworkError wraps a settlement network failure that is retryable by policy:
// the node was unreachable, timed out, or returned a transient error.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// SettlementRejection is an explicit, non-retryable refusal by the settlement
// network. It fails the one payment it belongs to and nothing else.
type SettlementRejection struct {
	Reason FailureReason
}

func (e *SettlementRejection) Error() string { return fmt.Sprintf("settlement rejected: %s", e.Reason) }

// ConsistencyError reports an impossible ledger state, e.g. two Confirmed
// attempts for one payment. It is fatal for the proposal: automated processing
// halts and the conflict is left for manual reconciliation, never resolved by
// picking one side.
type ConsistencyError struct {
	ProposalID string
	PaymentID  string
	Detail     string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency for %s/%s: %s", e.ProposalID, e.PaymentID, e.Detail)
}

// IsValidation reports whether err is (or wraps) a ValidationError or an
// InvalidStateError. Both are caller errors, not engine failures.
func IsValidation(err error) bool {
	var ve *ValidationError
	var se *InvalidStateError
	return errors.As(err, &ve) || errors.As(err, &se)
}

// IsRetryable reports whether err may be retried with a fresh attempt.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var sr *SettlementRejection
	if errors.As(err, &sr) {
		return sr.Reason.Retryable()
	}
	return false
}
