package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// Finalize derives the ExecutionResult for a proposal from persisted attempts
// alone. It is deterministic and idempotent: calling it twice, or calling it
// after a process restart, yields the same result for the same ledger content.
//
// Every authorized payment must have reached a terminal outcome; a payment
// still Pending (or with no attempts at all) means the execution is not done
// and Finalize returns an error rather than guessing.
func Finalize(ctx context.Context, l Ledger, proposalID string, authorized []contracts.PaymentItem, completedAt time.Time) (*contracts.ExecutionResult, error) {
	result := &contracts.ExecutionResult{
		ProposalID:  proposalID,
		Executed:    make([]contracts.PaymentOutcome, 0, len(authorized)),
		Failed:      make([]contracts.PaymentOutcome, 0),
		CompletedAt: completedAt,
	}

	confirmed := 0
	for _, item := range authorized {
		attempts, err := l.PaymentAttempts(ctx, proposalID, item.ID)
		if err != nil {
			return nil, err
		}
		final, err := FinalAttempt(proposalID, item.ID, attempts)
		if err != nil {
			return nil, err
		}
		// A trailing Superseded attempt means a retry never replaced it; the
		// payment is not decided, only a Confirmed or Failed attempt decides.
		if final.Outcome != contracts.OutcomeConfirmed && final.Outcome != contracts.OutcomeFailed {
			return nil, fmt.Errorf("payment %s/%s has no terminal outcome yet", proposalID, item.ID)
		}

		outcome := contracts.PaymentOutcome{
			PaymentID: item.ID,
			Recipient: item.Recipient,
			Amount:    item.Amount.String(),
			Reference: item.Reference,
			TxHash:    final.TxHash,
			Outcome:   final.Outcome,
			Reason:    final.Reason,
			Attempts:  len(attempts),
		}
		if final.Outcome == contracts.OutcomeConfirmed {
			confirmed++
			result.Executed = append(result.Executed, outcome)
		} else {
			result.Failed = append(result.Failed, outcome)
		}
	}

	result.Status = contracts.AggregateStatus(confirmed, len(authorized))
	return result, nil
}
