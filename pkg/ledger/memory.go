package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// MemoryLedger keeps attempts in process memory. Used by tests and the dev
// server; production deployments use the SQL ledger.
type MemoryLedger struct {
	mu       sync.RWMutex
	attempts []contracts.TransferAttempt
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(_ context.Context, att contracts.TransferAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.attempts {
		a := &l.attempts[i]
		if a.ProposalID == att.ProposalID && a.PaymentID == att.PaymentID && a.Attempt == att.Attempt {
			return fmt.Errorf("attempt %d for %s/%s already recorded", att.Attempt, att.ProposalID, att.PaymentID)
		}
	}
	l.attempts = append(l.attempts, att)
	return nil
}

func (l *MemoryLedger) Resolve(_ context.Context, proposalID, paymentID string, attempt int, outcome contracts.AttemptOutcome, reason contracts.FailureReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var target *contracts.TransferAttempt
	for i := range l.attempts {
		a := &l.attempts[i]
		if a.ProposalID != proposalID || a.PaymentID != paymentID {
			continue
		}
		if a.Attempt == attempt {
			target = a
		}
		if outcome == contracts.OutcomeConfirmed && a.Outcome == contracts.OutcomeConfirmed {
			return &contracts.ConsistencyError{
				ProposalID: proposalID,
				PaymentID:  paymentID,
				Detail:     fmt.Sprintf("attempt %d already confirmed", a.Attempt),
			}
		}
	}
	if target == nil {
		return contracts.ErrNotFound
	}
	if target.Terminal() {
		return fmt.Errorf("attempt %d for %s/%s is already %s", attempt, proposalID, paymentID, target.Outcome)
	}
	target.Outcome = outcome
	target.Reason = reason
	return nil
}

func (l *MemoryLedger) Attempts(_ context.Context, proposalID string) ([]contracts.TransferAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]contracts.TransferAttempt, 0)
	for _, a := range l.attempts {
		if a.ProposalID == proposalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *MemoryLedger) PaymentAttempts(_ context.Context, proposalID, paymentID string) ([]contracts.TransferAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]contracts.TransferAttempt, 0)
	for _, a := range l.attempts {
		if a.ProposalID == proposalID && a.PaymentID == paymentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *MemoryLedger) MaxSequence(_ context.Context, account string) (uint64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var max uint64
	found := false
	for _, a := range l.attempts {
		if a.Account != account {
			continue
		}
		if a.Outcome != contracts.OutcomePending && a.Outcome != contracts.OutcomeConfirmed {
			continue
		}
		if !found || a.Sequence > max {
			max = a.Sequence
			found = true
		}
	}
	return max, found, nil
}
