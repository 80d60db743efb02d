package contracts

import "time"

// DecisionKind is the kind of human decision applied to a proposal.
type DecisionKind string

const (
	DecisionApproveAll DecisionKind = "APPROVE_ALL"
	DecisionRejectAll  DecisionKind = "REJECT_ALL"
	DecisionPartial    DecisionKind = "PARTIAL"
)

// Valid reports whether k is one of the three known decision kinds.
func (k DecisionKind) Valid() bool {
	return k == DecisionApproveAll || k == DecisionRejectAll || k == DecisionPartial
}

// ApprovalDecision is the human checkpoint outcome for one proposal.
// A proposal consumes exactly one decision; replaying the same decision is
// idempotent, a conflicting second decision is rejected.
type ApprovalDecision struct {
	ProposalID string       `json:"proposal_id"`
	Kind       DecisionKind `json:"approval_decision"`

	// ApprovedPayments lists the authorized item IDs for a Partial decision.
	// Must be a non-empty subset of the proposal's items; ignored otherwise.
	ApprovedPayments []string `json:"approved_payments,omitempty"`

	Comment   string    `json:"comments,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Equivalent reports whether two decisions authorize the same outcome for the
// same proposal. Used to answer replays: ordering of the approved set does not
// matter, the comment does not either.
func (d ApprovalDecision) Equivalent(other ApprovalDecision) bool {
	if d.ProposalID != other.ProposalID || d.Kind != other.Kind {
		return false
	}
	if d.Kind != DecisionPartial {
		return true
	}
	if len(d.ApprovedPayments) != len(other.ApprovedPayments) {
		return false
	}
	seen := make(map[string]struct{}, len(d.ApprovedPayments))
	for _, id := range d.ApprovedPayments {
		seen[id] = struct{}{}
	}
	for _, id := range other.ApprovedPayments {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

// SendingAccount is the treasury account a batch is paid from. The signing key
// arrives with the approval request and is discarded when the execution it
// authorizes completes; it is never written to any store.
type SendingAccount struct {
	Address string `json:"custody_wallet"`

	// PrivateKeyHex is the hex-encoded secp256k1 key supplied per request.
	PrivateKeyHex string `json:"-"`
}
