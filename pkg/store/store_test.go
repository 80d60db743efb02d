package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuryops/stablepay/pkg/contracts"

	_ "modernc.org/sqlite"
)

func testProposal(id string) *contracts.Proposal {
	return &contracts.Proposal{
		ID:          id,
		UserID:      "user-1",
		RiskSummary: "low risk; all recipients previously paid",
		Payments: []contracts.PaymentItem{
			{ID: "pay-1", Recipient: "0xR1", Amount: decimal.RequireFromString("1500.00"), Currency: "USDT", Reference: "INV-001"},
			{ID: "pay-2", Recipient: "0xR2", Amount: decimal.RequireFromString("99.50"), Currency: "USDT", Reference: "INV-002"},
		},
		State:     contracts.StateProposed,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s ProposalStore)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })

		s := NewSQLStore(db)
		require.NoError(t, s.Init(context.Background()))
		fn(t, s)
	})
}

func TestCreateAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s ProposalStore) {
		ctx := context.Background()
		p := testProposal("prop-1")
		require.NoError(t, s.Create(ctx, p))

		got, err := s.Get(ctx, "prop-1")
		require.NoError(t, err)
		assert.Equal(t, contracts.StateAwaitingApproval, got.State)
		require.Len(t, got.Payments, 2)
		assert.True(t, got.Payments[0].Amount.Equal(decimal.RequireFromString("1500.00")))
		assert.Equal(t, "INV-002", got.Payments[1].Reference)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, contracts.ErrNotFound)

		assert.Error(t, s.Create(ctx, p), "duplicate create must fail")
	})
}

func TestRecordDecisionAtomicity(t *testing.T) {
	eachStore(t, func(t *testing.T, s ProposalStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, testProposal("prop-1")))

		d := &contracts.ApprovalDecision{
			ProposalID: "prop-1",
			Kind:       contracts.DecisionPartial,
			ApprovedPayments: []string{
				"pay-2",
			},
			Comment:   "hold the big one",
			DecidedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, s.RecordDecision(ctx, d, contracts.StateApproving))

		// Transition and decision are observable together.
		p, err := s.Get(ctx, "prop-1")
		require.NoError(t, err)
		assert.Equal(t, contracts.StateApproving, p.State)

		stored, err := s.Decision(ctx, "prop-1")
		require.NoError(t, err)
		assert.Equal(t, contracts.DecisionPartial, stored.Kind)
		assert.Equal(t, []string{"pay-2"}, stored.ApprovedPayments)

		// A second decision is refused, and identifies the current state.
		err = s.RecordDecision(ctx, d, contracts.StateApproving)
		var ise *contracts.InvalidStateError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, contracts.StateApproving, ise.State)
	})
}

func TestTransitionCompareAndSet(t *testing.T) {
	eachStore(t, func(t *testing.T, s ProposalStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, testProposal("prop-1")))
		require.NoError(t, s.RecordDecision(ctx, &contracts.ApprovalDecision{
			ProposalID: "prop-1", Kind: contracts.DecisionApproveAll, DecidedAt: time.Now().UTC(),
		}, contracts.StateApproving))

		require.NoError(t, s.Transition(ctx, "prop-1", contracts.StateApproving, contracts.StateExecuting))

		// Stale transition loses the race.
		err := s.Transition(ctx, "prop-1", contracts.StateApproving, contracts.StateExecuting)
		var ise *contracts.InvalidStateError
		require.ErrorAs(t, err, &ise)

		// Illegal edges are rejected outright.
		require.Error(t, s.Transition(ctx, "prop-1", contracts.StateExecuting, contracts.StateAwaitingApproval))
	})
}

func TestSetResultAndTerminalState(t *testing.T) {
	eachStore(t, func(t *testing.T, s ProposalStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, testProposal("prop-1")))
		require.NoError(t, s.RecordDecision(ctx, &contracts.ApprovalDecision{
			ProposalID: "prop-1", Kind: contracts.DecisionApproveAll, DecidedAt: time.Now().UTC(),
		}, contracts.StateApproving))
		require.NoError(t, s.Transition(ctx, "prop-1", contracts.StateApproving, contracts.StateExecuting))

		_, err := s.Result(ctx, "prop-1")
		assert.ErrorIs(t, err, contracts.ErrNotFound)

		result := &contracts.ExecutionResult{
			ProposalID:  "prop-1",
			Status:      contracts.ExecutionPartialSuccess,
			Executed:    []contracts.PaymentOutcome{{PaymentID: "pay-1", Outcome: contracts.OutcomeConfirmed}},
			Failed:      []contracts.PaymentOutcome{{PaymentID: "pay-2", Outcome: contracts.OutcomeFailed, Reason: contracts.ReasonInvalidRecipient}},
			CompletedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, s.SetResult(ctx, "prop-1", result))

		p, err := s.Get(ctx, "prop-1")
		require.NoError(t, err)
		assert.Equal(t, contracts.StatePartialSuccess, p.State)

		got, err := s.Result(ctx, "prop-1")
		require.NoError(t, err)
		assert.Equal(t, contracts.ExecutionPartialSuccess, got.Status)
		require.Len(t, got.Failed, 1)
		assert.Equal(t, contracts.ReasonInvalidRecipient, got.Failed[0].Reason)

		// Idempotent replay after a crash keeps the stored result.
		require.NoError(t, s.SetResult(ctx, "prop-1", result))
	})
}

func TestListByState(t *testing.T) {
	eachStore(t, func(t *testing.T, s ProposalStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, testProposal("prop-1")))
		require.NoError(t, s.Create(ctx, testProposal("prop-2")))
		require.NoError(t, s.RecordDecision(ctx, &contracts.ApprovalDecision{
			ProposalID: "prop-2", Kind: contracts.DecisionApproveAll, DecidedAt: time.Now().UTC(),
		}, contracts.StateApproving))
		require.NoError(t, s.Transition(ctx, "prop-2", contracts.StateApproving, contracts.StateExecuting))

		waiting, err := s.ListByState(ctx, contracts.StateAwaitingApproval)
		require.NoError(t, err)
		assert.Equal(t, []string{"prop-1"}, waiting)

		executing, err := s.ListByState(ctx, contracts.StateExecuting)
		require.NoError(t, err)
		assert.Equal(t, []string{"prop-2"}, executing)
	})
}
