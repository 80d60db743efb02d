package contracts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to ProposalState
		ok       bool
	}{
		{StateAwaitingApproval, StateApproving, true},
		{StateAwaitingApproval, StateRejected, true},
		{StateApproving, StateExecuting, true},
		{StateExecuting, StateSuccess, true},
		{StateExecuting, StatePartialSuccess, true},
		{StateExecuting, StateFailure, true},
		{StateExecuting, StateAwaitingApproval, false},
		{StateSuccess, StateExecuting, false},
		{StateRejected, StateApproving, false},
		{StateAwaitingApproval, StateExecuting, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []ProposalState{StateRejected, StateSuccess, StatePartialSuccess, StateFailure} {
		assert.True(t, s.Terminal(), "state %s", s)
	}
	for _, s := range []ProposalState{StateProposed, StateAwaitingApproval, StateApproving, StateExecuting} {
		assert.False(t, s.Terminal(), "state %s", s)
	}
}

func TestDecisionEquivalentIgnoresOrderAndComment(t *testing.T) {
	a := ApprovalDecision{
		ProposalID:       "prop-1",
		Kind:             DecisionPartial,
		ApprovedPayments: []string{"pay-1", "pay-2"},
		Comment:          "first",
	}
	b := ApprovalDecision{
		ProposalID:       "prop-1",
		Kind:             DecisionPartial,
		ApprovedPayments: []string{"pay-2", "pay-1"},
		Comment:          "second",
	}
	require.True(t, a.Equivalent(b))

	b.ApprovedPayments = []string{"pay-2"}
	require.False(t, a.Equivalent(b))

	b = ApprovalDecision{ProposalID: "prop-1", Kind: DecisionApproveAll}
	require.False(t, a.Equivalent(b))
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, ExecutionSuccess, AggregateStatus(3, 3))
	assert.Equal(t, ExecutionFailure, AggregateStatus(0, 3))
	assert.Equal(t, ExecutionPartialSuccess, AggregateStatus(1, 3))
	assert.Equal(t, ExecutionPartialSuccess, AggregateStatus(2, 3))
}

func TestRetryableReasons(t *testing.T) {
	retryable := []FailureReason{ReasonNetworkTimeout, ReasonFeeTooLow, ReasonNodeUnavailable}
	for _, r := range retryable {
		assert.True(t, r.Retryable(), "reason %s", r)
	}
	terminal := []FailureReason{ReasonInsufficientFunds, ReasonInvalidRecipient, ReasonInsufficientGas, ReasonNonceSuperseded}
	for _, r := range terminal {
		assert.False(t, r.Retryable(), "reason %s", r)
	}
}

func TestErrorClassifiers(t *testing.T) {
	require.True(t, IsValidation(Validationf("approval_decision", "unknown kind %q", "maybe")))
	require.True(t, IsValidation(&InvalidStateError{ProposalID: "p", State: StateRejected}))
	require.False(t, IsValidation(errors.New("boom")))

	require.True(t, IsRetryable(&NetworkError{Op: "poll", Err: errors.New("timeout")}))
	require.True(t, IsRetryable(&SettlementRejection{Reason: ReasonFeeTooLow}))
	require.False(t, IsRetryable(&SettlementRejection{Reason: ReasonInvalidRecipient}))
}

func TestProposalPaymentLookup(t *testing.T) {
	p := &Proposal{
		ID:       "prop-1",
		Payments: []PaymentItem{{ID: "pay-1"}, {ID: "pay-2"}},
	}
	item, ok := p.Payment("pay-2")
	require.True(t, ok)
	assert.Equal(t, "pay-2", item.ID)
	_, ok = p.Payment("pay-9")
	assert.False(t, ok)
}
