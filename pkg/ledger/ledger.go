// Package ledger is the append-only execution ledger.
//
// Every transfer attempt is appended before its caller observes the result, so
// a crash between submission and polling is always recoverable from the
// persisted records. Attempts are never deleted; a Pending attempt may be
// resolved exactly once to a terminal outcome.
package ledger

import (
	"context"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// Ledger is the durable record of transfer attempts, keyed by proposal and
// payment identity.
type Ledger interface {
	// Append records a new attempt. The attempt arrives in Pending (or, for
	// submissions rejected before reaching the network, already Failed).
	Append(ctx context.Context, att contracts.TransferAttempt) error

	// Resolve moves a Pending attempt to a terminal outcome. Resolving an
	// attempt that is already terminal is an error; resolving to Confirmed
	// when the payment already has a Confirmed attempt is a ConsistencyError.
	Resolve(ctx context.Context, proposalID, paymentID string, attempt int, outcome contracts.AttemptOutcome, reason contracts.FailureReason) error

	// Attempts returns all attempts for a proposal in append order.
	Attempts(ctx context.Context, proposalID string) ([]contracts.TransferAttempt, error)

	// PaymentAttempts returns all attempts for one payment in attempt order.
	PaymentAttempts(ctx context.Context, proposalID, paymentID string) ([]contracts.TransferAttempt, error)

	// MaxSequence returns the highest sequence number recorded for an account
	// across attempts that are Pending or Confirmed, i.e. numbers that are or
	// may still be live on the settlement network. ok is false when the
	// account has no such attempts.
	MaxSequence(ctx context.Context, account string) (seq uint64, ok bool, err error)
}

// FinalAttempt picks the attempt that decides a payment's outcome: the
// Confirmed attempt if there is exactly one, otherwise the last attempt.
// Two Confirmed attempts are an invariant violation and are reported, never
// resolved by picking one.
func FinalAttempt(proposalID, paymentID string, attempts []contracts.TransferAttempt) (contracts.TransferAttempt, error) {
	var confirmed *contracts.TransferAttempt
	for i := range attempts {
		if attempts[i].Outcome == contracts.OutcomeConfirmed {
			if confirmed != nil {
				return contracts.TransferAttempt{}, &contracts.ConsistencyError{
					ProposalID: proposalID,
					PaymentID:  paymentID,
					Detail:     "two confirmed attempts",
				}
			}
			confirmed = &attempts[i]
		}
	}
	if confirmed != nil {
		return *confirmed, nil
	}
	if len(attempts) == 0 {
		return contracts.TransferAttempt{}, contracts.ErrNotFound
	}
	return attempts[len(attempts)-1], nil
}
