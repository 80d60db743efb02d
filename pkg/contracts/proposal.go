// Package contracts defines the shared data contracts of the payment engine:
// proposals, approval decisions, transfer attempts and execution results.
// All cross-package types live here so that the store, sequencer, settlement
// and engine packages never depend on each other's internals.
package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalState is the lifecycle state of a payment proposal.
//
// Created and Proposed are produced by the drafting collaborator; the engine's
// state machine begins at AwaitingApproval. Rejected, Success, PartialSuccess
// and Failure are terminal and admit no further transitions.
type ProposalState string

const (
	StateCreated          ProposalState = "CREATED"
	StateProposed         ProposalState = "PROPOSED"
	StateAwaitingApproval ProposalState = "AWAITING_APPROVAL"
	StateRejected         ProposalState = "REJECTED"
	StateApproving        ProposalState = "APPROVING"
	StateExecuting        ProposalState = "EXECUTING"
	StateSuccess          ProposalState = "SUCCESS"
	StatePartialSuccess   ProposalState = "PARTIAL_SUCCESS"
	StateFailure          ProposalState = "FAILURE"
)

// Terminal reports whether no further transition is allowed from s.
func (s ProposalState) Terminal() bool {
	switch s {
	case StateRejected, StateSuccess, StatePartialSuccess, StateFailure:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits s -> next.
// Transitions are strictly monotone; there is no path back.
func (s ProposalState) CanTransition(next ProposalState) bool {
	switch s {
	case StateCreated:
		return next == StateProposed
	case StateProposed:
		return next == StateAwaitingApproval
	case StateAwaitingApproval:
		return next == StateRejected || next == StateApproving
	case StateApproving:
		return next == StateExecuting
	case StateExecuting:
		return next == StateSuccess || next == StatePartialSuccess || next == StateFailure
	}
	return false
}

// PaymentItem is one candidate payment inside a proposal. Items are immutable
// after proposal creation and belong to exactly one proposal.
type PaymentItem struct {
	// ID is unique within the owning proposal (e.g. "pay-7f3a").
	ID string `json:"payment_id"`

	// Recipient is the checksummed address the funds go to.
	Recipient string `json:"recipient_wallet"`

	// Amount is the transfer value in whole tokens (fixed-point, > 0).
	Amount decimal.Decimal `json:"amount"`

	// Currency is fixed to the supported settlement token.
	Currency string `json:"currency"`

	// Reference is the free-text purpose carried through to the result.
	Reference string `json:"reference,omitempty"`
}

// Proposal is a batch of candidate payments awaiting a human decision.
// Immutable once created except for state transitions recorded by the engine.
type Proposal struct {
	ID          string        `json:"proposal_id"`
	UserID      string        `json:"user_id"`
	RiskSummary string        `json:"report"`
	Payments    []PaymentItem `json:"payments"`
	State       ProposalState `json:"state"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Payment returns the item with the given ID, or false if the proposal has no
// such item.
func (p *Proposal) Payment(id string) (PaymentItem, bool) {
	for _, item := range p.Payments {
		if item.ID == id {
			return item, true
		}
	}
	return PaymentItem{}, false
}
