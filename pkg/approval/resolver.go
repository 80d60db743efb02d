// Package approval applies human approval decisions to proposals.
//
// The resolver is the single gate between a proposal that is waiting and an
// execution that spends money: it validates the decision, records it together
// with the state transition, and answers replays idempotently.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/store"
)

// Outcome is what a resolved decision authorizes.
type Outcome struct {
	Proposal *contracts.Proposal

	// Authorized holds the payments cleared for execution, in proposal
	// order. Empty for a rejection.
	Authorized []contracts.PaymentItem

	// Replayed is true when the decision had already been applied and this
	// call changed nothing.
	Replayed bool
}

// Resolver validates and applies approval decisions.
type Resolver struct {
	store  store.ProposalStore
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(st store.ProposalStore) *Resolver {
	return &Resolver{
		store:  st,
		logger: slog.Default().With("component", "approval"),
		now:    time.Now,
	}
}

// Resolve applies the decision to its proposal. Exactly one decision is ever
// applied per proposal; replaying an equivalent decision returns the same
// outcome with Replayed set, a conflicting one fails with InvalidStateError.
func (r *Resolver) Resolve(ctx context.Context, d *contracts.ApprovalDecision) (*Outcome, error) {
	p, err := r.store.Get(ctx, d.ProposalID)
	if err != nil {
		return nil, err
	}
	if err := validate(d, p); err != nil {
		return nil, err
	}

	if d.DecidedAt.IsZero() {
		d.DecidedAt = r.now().UTC()
	}
	next := contracts.StateApproving
	if d.Kind == contracts.DecisionRejectAll {
		next = contracts.StateRejected
	}

	if err := r.store.RecordDecision(ctx, d, next); err != nil {
		var ise *contracts.InvalidStateError
		if !errors.As(err, &ise) {
			return nil, err
		}
		// Already decided, or decided concurrently. Equivalent replays
		// succeed with the original outcome; anything else is a conflict.
		return r.replay(ctx, d, p, err)
	}

	r.logger.InfoContext(ctx, "decision applied",
		"proposal_id", d.ProposalID,
		"kind", d.Kind,
		"authorized", len(Authorized(d, p)),
	)
	return &Outcome{Proposal: p, Authorized: Authorized(d, p)}, nil
}

func (r *Resolver) replay(ctx context.Context, d *contracts.ApprovalDecision, p *contracts.Proposal, cause error) (*Outcome, error) {
	prior, err := r.store.Decision(ctx, d.ProposalID)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			// In flight past approval with no decision on record; the
			// proposal was advanced by something other than a decision.
			return nil, cause
		}
		return nil, err
	}
	if !prior.Equivalent(*d) {
		return nil, cause
	}
	return &Outcome{Proposal: p, Authorized: Authorized(prior, p), Replayed: true}, nil
}

// validate checks the decision's shape against its proposal. Partial
// approvals must name a non-empty subset of the proposal's payments.
func validate(d *contracts.ApprovalDecision, p *contracts.Proposal) error {
	if !d.Kind.Valid() {
		return contracts.Validationf("approval_decision", "unknown decision kind %q", d.Kind)
	}
	if d.Kind != contracts.DecisionPartial {
		return nil
	}
	if len(d.ApprovedPayments) == 0 {
		return contracts.Validationf("approved_payments", "partial approval names no payments")
	}
	seen := make(map[string]struct{}, len(d.ApprovedPayments))
	for _, id := range d.ApprovedPayments {
		if _, dup := seen[id]; dup {
			return contracts.Validationf("approved_payments", "duplicate payment id %q", id)
		}
		seen[id] = struct{}{}
		if _, ok := p.Payment(id); !ok {
			return contracts.Validationf("approved_payments", "payment %q is not part of the proposal", id)
		}
	}
	return nil
}

// Authorized returns the payments the decision clears, preserving proposal
// order regardless of how the approved set was spelled.
func Authorized(d *contracts.ApprovalDecision, p *contracts.Proposal) []contracts.PaymentItem {
	switch d.Kind {
	case contracts.DecisionApproveAll:
		out := make([]contracts.PaymentItem, len(p.Payments))
		copy(out, p.Payments)
		return out
	case contracts.DecisionRejectAll:
		return nil
	}
	approved := make(map[string]struct{}, len(d.ApprovedPayments))
	for _, id := range d.ApprovedPayments {
		approved[id] = struct{}{}
	}
	out := make([]contracts.PaymentItem, 0, len(approved))
	for _, item := range p.Payments {
		if _, ok := approved[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out
}
