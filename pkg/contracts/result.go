package contracts

import "time"

// ExecutionStatus is the aggregate outcome of a proposal's execution.
type ExecutionStatus string

const (
	ExecutionSuccess        ExecutionStatus = "SUCCESS"
	ExecutionPartialSuccess ExecutionStatus = "PARTIAL_SUCCESS"
	ExecutionFailure        ExecutionStatus = "FAILURE"
)

// PaymentOutcome is the final attempt of one authorized payment, flattened for
// callers.
type PaymentOutcome struct {
	PaymentID string         `json:"payment_id"`
	Recipient string         `json:"recipient_wallet"`
	Amount    string         `json:"amount"`
	Reference string         `json:"reference,omitempty"`
	TxHash    string         `json:"transaction_hash,omitempty"`
	Outcome   AttemptOutcome `json:"status"`
	Reason    FailureReason  `json:"reason,omitempty"`
	Attempts  int            `json:"attempts"`
}

// ExecutionResult is derived from the execution ledger, never hand-edited.
// Status is a pure function of the terminal per-payment outcomes: SUCCESS iff
// every authorized payment confirmed, FAILURE iff none did, PARTIAL_SUCCESS
// otherwise.
type ExecutionResult struct {
	ProposalID  string           `json:"proposal_id"`
	Status      ExecutionStatus  `json:"execution_status"`
	Executed    []PaymentOutcome `json:"executed_payments"`
	Failed      []PaymentOutcome `json:"failed_payments"`
	CompletedAt time.Time        `json:"execution_timestamp"`
}

// AggregateStatus computes the batch status from per-payment confirmation
// flags. confirmed counts payments whose final outcome is Confirmed out of
// total authorized payments.
func AggregateStatus(confirmed, total int) ExecutionStatus {
	switch {
	case total > 0 && confirmed == total:
		return ExecutionSuccess
	case confirmed == 0:
		return ExecutionFailure
	default:
		return ExecutionPartialSuccess
	}
}

// StateForStatus maps an aggregate execution status to the terminal proposal
// state recorded in the store.
func StateForStatus(s ExecutionStatus) ProposalState {
	switch s {
	case ExecutionSuccess:
		return StateSuccess
	case ExecutionPartialSuccess:
		return StatePartialSuccess
	default:
		return StateFailure
	}
}
