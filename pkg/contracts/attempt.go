package contracts

import "time"

// AttemptOutcome is the classification of a single transfer attempt.
type AttemptOutcome string

const (
	// OutcomePending means submitted, not yet final on the settlement network.
	OutcomePending AttemptOutcome = "PENDING"
	// OutcomeConfirmed means final and irreversible; at most one per payment.
	OutcomeConfirmed AttemptOutcome = "CONFIRMED"
	// OutcomeFailed means the attempt will never confirm; Reason says why.
	OutcomeFailed AttemptOutcome = "FAILED"
	// OutcomeSuperseded means a later attempt from the same account confirmed with
	// a higher sequence number, so this one can never land.
	OutcomeSuperseded AttemptOutcome = "SUPERSEDED"
)

// FailureReason classifies why an attempt failed. The retryable set drives the
// backoff controller; everything else terminates the payment.
type FailureReason string

const (
	ReasonInsufficientFunds FailureReason = "INSUFFICIENT_FUNDS"
	ReasonInsufficientGas   FailureReason = "INSUFFICIENT_GAS"
	ReasonInvalidRecipient  FailureReason = "INVALID_RECIPIENT"
	ReasonNetworkTimeout    FailureReason = "NETWORK_TIMEOUT"
	ReasonFeeTooLow         FailureReason = "FEE_TOO_LOW"
	ReasonNodeUnavailable   FailureReason = "NODE_UNAVAILABLE"
	ReasonNonceSuperseded   FailureReason = "NONCE_SUPERSEDED"
	ReasonAttemptsExhausted FailureReason = "ATTEMPTS_EXHAUSTED"
)

// Retryable reports whether a failure with this reason may be re-driven with a
// fresh attempt. Settlement rejections (bad recipient, missing funds) are not.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonNetworkTimeout, ReasonFeeTooLow, ReasonNodeUnavailable:
		return true
	}
	return false
}

// TransferAttempt is one submission of one payment to the settlement network.
// Attempts are append-only; once Confirmed or terminally Failed they are never
// mutated.
type TransferAttempt struct {
	ProposalID  string         `json:"proposal_id"`
	PaymentID   string         `json:"payment_id"`
	Attempt     int            `json:"attempt"` // 1-based
	Account     string         `json:"account"`
	Sequence    uint64         `json:"sequence"`
	TxHash      string         `json:"tx_hash,omitempty"`
	Outcome     AttemptOutcome `json:"outcome"`
	Reason      FailureReason  `json:"reason,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Terminal reports whether the attempt reached a state that will never change.
func (a *TransferAttempt) Terminal() bool {
	switch a.Outcome {
	case OutcomeConfirmed, OutcomeSuperseded:
		return true
	case OutcomeFailed:
		return true
	}
	return false
}
