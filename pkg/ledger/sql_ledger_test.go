package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuryops/stablepay/pkg/contracts"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// in-memory sqlite must stay on one connection
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := NewSQLLedger(db)
	require.NoError(t, l.Init(ctx))

	att := contracts.TransferAttempt{
		ProposalID:  "prop-1",
		PaymentID:   "pay-1",
		Attempt:     1,
		Account:     "0xAcc1",
		Sequence:    42,
		TxHash:      "0xdeadbeef",
		Outcome:     contracts.OutcomePending,
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, l.Append(ctx, att))

	// The primary key rejects a duplicate attempt number.
	require.Error(t, l.Append(ctx, att))

	got, err := l.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, att.Sequence, got[0].Sequence)
	assert.Equal(t, att.TxHash, got[0].TxHash)
	assert.Equal(t, contracts.OutcomePending, got[0].Outcome)
}

func TestSQLLedgerResolveGuards(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := NewSQLLedger(db)
	require.NoError(t, l.Init(ctx))

	mk := func(payment string, attempt int, seq uint64) contracts.TransferAttempt {
		return contracts.TransferAttempt{
			ProposalID: "prop-1", PaymentID: payment, Attempt: attempt,
			Account: "0xAcc1", Sequence: seq,
			Outcome: contracts.OutcomePending, SubmittedAt: time.Now().UTC(),
		}
	}

	require.NoError(t, l.Append(ctx, mk("pay-1", 1, 1)))
	require.NoError(t, l.Append(ctx, mk("pay-1", 2, 2)))

	require.NoError(t, l.Resolve(ctx, "prop-1", "pay-1", 1, contracts.OutcomeConfirmed, ""))

	// Second confirm for the same payment is an invariant violation.
	err := l.Resolve(ctx, "prop-1", "pay-1", 2, contracts.OutcomeConfirmed, "")
	var ce *contracts.ConsistencyError
	require.ErrorAs(t, err, &ce)

	// Resolving the already-confirmed attempt again fails: not PENDING anymore.
	require.Error(t, l.Resolve(ctx, "prop-1", "pay-1", 1, contracts.OutcomeFailed, contracts.ReasonNetworkTimeout))
}

func TestSQLLedgerMaxSequence(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	l := NewSQLLedger(db)
	require.NoError(t, l.Init(ctx))

	_, ok, err := l.MaxSequence(ctx, "0xAcc1")
	require.NoError(t, err)
	assert.False(t, ok)

	seqs := []uint64{5, 11, 8}
	for i, s := range seqs {
		require.NoError(t, l.Append(ctx, contracts.TransferAttempt{
			ProposalID: "prop-1", PaymentID: "pay-1", Attempt: i + 1,
			Account: "0xAcc1", Sequence: s,
			Outcome: contracts.OutcomePending, SubmittedAt: time.Now().UTC(),
		}))
	}
	// Only Pending/Confirmed attempts count as live.
	require.NoError(t, l.Resolve(ctx, "prop-1", "pay-1", 2, contracts.OutcomeFailed, contracts.ReasonFeeTooLow))

	max, ok, err := l.MaxSequence(ctx, "0xAcc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(8), max)
}
