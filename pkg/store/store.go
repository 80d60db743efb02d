// Package store provides durable keyed storage for proposals, their lifecycle state,
// the decision that gated them and the final execution result.
//
// The store owns proposals exclusively: payments are immutable after creation
// and state only ever moves forward. Decision recording and the matching state
// transition are atomic; a reader never observes one without the other.
package store

import (
	"context"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// ProposalStore is the persistence contract of the proposal lifecycle.
type ProposalStore interface {
	// Create persists a new proposal. The proposal arrives from the drafting
	// collaborator in Proposed state and is stored as AwaitingApproval.
	Create(ctx context.Context, p *contracts.Proposal) error

	// Get returns the proposal, or contracts.ErrNotFound.
	Get(ctx context.Context, id string) (*contracts.Proposal, error)

	// RecordDecision atomically writes the decision and moves the proposal
	// from AwaitingApproval to next (Approving or Rejected). When the
	// proposal is not in AwaitingApproval anymore it returns an
	// InvalidStateError without writing anything; replay handling is the
	// resolver's job, built on Decision.
	RecordDecision(ctx context.Context, d *contracts.ApprovalDecision, next contracts.ProposalState) error

	// Decision returns the recorded decision, or contracts.ErrNotFound when
	// the proposal is undecided.
	Decision(ctx context.Context, proposalID string) (*contracts.ApprovalDecision, error)

	// Transition moves the proposal from exactly `from` to `to`. It fails
	// with an InvalidStateError when the stored state differs from `from`,
	// which also serializes concurrent transitions (compare-and-set).
	Transition(ctx context.Context, id string, from, to contracts.ProposalState) error

	// SetResult atomically stores the execution result and the terminal
	// state derived from it.
	SetResult(ctx context.Context, id string, result *contracts.ExecutionResult) error

	// Result returns the stored execution result, or contracts.ErrNotFound
	// while the proposal has none.
	Result(ctx context.Context, id string) (*contracts.ExecutionResult, error)

	// ListByState returns the IDs of proposals currently in the given state.
	// Used at startup to resume executions interrupted by a crash.
	ListByState(ctx context.Context, state contracts.ProposalState) ([]string, error)
}
