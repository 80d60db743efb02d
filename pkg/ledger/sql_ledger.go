package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// SQLLedger implements Ledger using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const attemptsSchema = `
CREATE TABLE IF NOT EXISTS transfer_attempts (
	proposal_id TEXT NOT NULL,
	payment_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	account TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	tx_hash TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP NOT NULL,
	PRIMARY KEY (proposal_id, payment_id, attempt)
);
CREATE INDEX IF NOT EXISTS idx_attempts_account ON transfer_attempts (account, sequence);
`

func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, attemptsSchema)
	return err
}

func (l *SQLLedger) Append(ctx context.Context, att contracts.TransferAttempt) error {
	query := `
		INSERT INTO transfer_attempts (proposal_id, payment_id, attempt, account, sequence, tx_hash, outcome, reason, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := l.db.ExecContext(ctx, query,
		att.ProposalID, att.PaymentID, att.Attempt, att.Account, int64(att.Sequence),
		att.TxHash, string(att.Outcome), string(att.Reason), att.SubmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

func (l *SQLLedger) Resolve(ctx context.Context, proposalID, paymentID string, attempt int, outcome contracts.AttemptOutcome, reason contracts.FailureReason) error {
	if outcome == contracts.OutcomeConfirmed {
		var confirmed int
		row := l.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transfer_attempts WHERE proposal_id = $1 AND payment_id = $2 AND outcome = 'CONFIRMED'`,
			proposalID, paymentID,
		)
		if err := row.Scan(&confirmed); err != nil {
			return err
		}
		if confirmed > 0 {
			return &contracts.ConsistencyError{
				ProposalID: proposalID,
				PaymentID:  paymentID,
				Detail:     "payment already has a confirmed attempt",
			}
		}
	}

	query := `
		UPDATE transfer_attempts SET outcome = $1, reason = $2
		WHERE proposal_id = $3 AND payment_id = $4 AND attempt = $5 AND outcome = 'PENDING'
	`
	res, err := l.db.ExecContext(ctx, query, string(outcome), string(reason), proposalID, paymentID, attempt)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("attempt %d for %s/%s is missing or already terminal", attempt, proposalID, paymentID)
	}
	return nil
}

const attemptColumns = `proposal_id, payment_id, attempt, account, sequence, tx_hash, outcome, reason, submitted_at`

func (l *SQLLedger) Attempts(ctx context.Context, proposalID string) ([]contracts.TransferAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM transfer_attempts WHERE proposal_id = $1 ORDER BY payment_id, attempt`
	return l.queryAttempts(ctx, query, proposalID)
}

func (l *SQLLedger) PaymentAttempts(ctx context.Context, proposalID, paymentID string) ([]contracts.TransferAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM transfer_attempts WHERE proposal_id = $1 AND payment_id = $2 ORDER BY attempt`
	return l.queryAttempts(ctx, query, proposalID, paymentID)
}

func (l *SQLLedger) MaxSequence(ctx context.Context, account string) (uint64, bool, error) {
	query := `
		SELECT MAX(sequence) FROM transfer_attempts
		WHERE account = $1 AND outcome IN ('PENDING', 'CONFIRMED')
	`
	var max sql.NullInt64
	if err := l.db.QueryRowContext(ctx, query, account).Scan(&max); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

func (l *SQLLedger) queryAttempts(ctx context.Context, query string, args ...any) ([]contracts.TransferAttempt, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.TransferAttempt, 0)
	for rows.Next() {
		var (
			att      contracts.TransferAttempt
			sequence int64
			outcome  string
			reason   string
		)
		if err := rows.Scan(&att.ProposalID, &att.PaymentID, &att.Attempt, &att.Account, &sequence, &att.TxHash, &outcome, &reason, &att.SubmittedAt); err != nil {
			return nil, err
		}
		att.Sequence = uint64(sequence)
		att.Outcome = contracts.AttemptOutcome(outcome)
		att.Reason = contracts.FailureReason(reason)
		result = append(result, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
