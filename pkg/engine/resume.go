package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/treasuryops/stablepay/pkg/approval"
	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/ledger"
	"github.com/treasuryops/stablepay/pkg/settlement"
)

// ResumeAll picks up every proposal left in Executing by a previous process
// and drives it to a result. When account carries signing material the
// payments are fully re-driven; without it the engine can only resolve
// attempts already on the network, never submit new ones.
func (e *Engine) ResumeAll(ctx context.Context, account contracts.SendingAccount) error {
	ids, err := e.store.ListByState(ctx, contracts.StateExecuting)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.Resume(ctx, id, account); err != nil {
			e.logger.ErrorContext(ctx, "resume failed",
				"proposal_id", id,
				"error", err,
			)
		}
	}
	return nil
}

// Resume continues one interrupted execution from persisted state. The
// authorized payment set is re-derived from the stored proposal and decision;
// no in-memory state from the previous run is needed.
func (e *Engine) Resume(ctx context.Context, proposalID string, account contracts.SendingAccount) error {
	p, err := e.store.Get(ctx, proposalID)
	if err != nil {
		return err
	}
	if p.State != contracts.StateExecuting {
		return &contracts.InvalidStateError{ProposalID: proposalID, State: p.State}
	}
	d, err := e.store.Decision(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("proposal %s is executing without a decision: %w", proposalID, err)
	}
	authorized := approval.Authorized(d, p)
	if len(authorized) == 0 {
		return fmt.Errorf("proposal %s is executing with an empty authorized set", proposalID)
	}

	e.logger.InfoContext(ctx, "resuming execution",
		"proposal_id", proposalID,
		"payments", len(authorized),
		"can_submit", account.PrivateKeyHex != "",
	)

	if account.PrivateKeyHex != "" {
		key, sender, err := settlement.ParseKey(account)
		if err != nil {
			return err
		}
		if err := e.sequencer.Reconcile(ctx, sender.Hex()); err != nil {
			return err
		}
		_, err = e.run(ctx, proposalID, authorized, key, sender)
		return err
	}
	return e.settleFromLedger(ctx, proposalID, authorized)
}

// settleFromLedger resolves what the network already knows about each
// payment's open attempts, then finalizes if every payment is decided.
// Payments that would need a new submission are left untouched.
func (e *Engine) settleFromLedger(ctx context.Context, proposalID string, authorized []contracts.PaymentItem) error {
	undecided := 0
	for _, payment := range authorized {
		attempts, err := e.ledger.PaymentAttempts(ctx, proposalID, payment.ID)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			undecided++
			continue
		}
		last := attempts[len(attempts)-1]
		if !last.Terminal() {
			outcome, reason, err := e.pollToTerminal(ctx, last)
			if err != nil {
				var ce *contracts.ConsistencyError
				if errors.As(err, &ce) {
					return err
				}
				undecided++
				continue
			}
			last.Outcome = outcome
			last.Reason = reason
		}
		switch {
		case last.Outcome == contracts.OutcomeConfirmed:
		case last.Outcome == contracts.OutcomeFailed && !last.Reason.Retryable():
		case last.Outcome == contracts.OutcomeFailed && len(attempts) >= e.opts.Retry.MaxAttempts:
			// Retry budget spent; the failure stands.
		default:
			// A retryable failure with budget left, a superseded slot, or
			// a still-open attempt: decidable only by a new submission,
			// which needs a key. Finalizing now would foreclose the
			// operator re-driving it.
			undecided++
		}
	}
	if undecided > 0 {
		return fmt.Errorf("proposal %s has %d undecided payments and no signing material to re-drive them", proposalID, undecided)
	}

	result, err := ledger.Finalize(ctx, e.ledger, proposalID, authorized, e.now().UTC())
	if err != nil {
		return err
	}
	return e.store.SetResult(ctx, proposalID, result)
}
