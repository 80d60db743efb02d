package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// SQLStore implements ProposalStore using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const proposalsSchema = `
CREATE TABLE IF NOT EXISTS proposals (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	risk_summary TEXT NOT NULL DEFAULT '',
	payments TEXT NOT NULL,
	state TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	proposal_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	approved_payments TEXT NOT NULL DEFAULT '[]',
	comment TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_results (
	proposal_id TEXT PRIMARY KEY,
	result TEXT NOT NULL,
	completed_at TIMESTAMP NOT NULL
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, proposalsSchema)
	return err
}

func (s *SQLStore) Create(ctx context.Context, p *contracts.Proposal) error {
	payments, err := json.Marshal(p.Payments)
	if err != nil {
		return fmt.Errorf("failed to marshal payments: %w", err)
	}
	query := `
		INSERT INTO proposals (id, user_id, risk_summary, payments, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.RiskSummary, string(payments),
		string(contracts.StateAwaitingApproval), p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*contracts.Proposal, error) {
	query := `SELECT id, user_id, risk_summary, payments, state, created_at FROM proposals WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)

	var (
		p        contracts.Proposal
		payments string
		state    string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.RiskSummary, &payments, &state, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(payments), &p.Payments); err != nil {
		return nil, fmt.Errorf("corrupt payments JSON for proposal %s: %w", id, err)
	}
	p.State = contracts.ProposalState(state)
	return &p, nil
}

func (s *SQLStore) RecordDecision(ctx context.Context, d *contracts.ApprovalDecision, next contracts.ProposalState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET state = $1 WHERE id = $2 AND state = $3`,
		string(next), d.ProposalID, string(contracts.StateAwaitingApproval),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		// Either unknown or already decided; report which.
		p, err := s.Get(ctx, d.ProposalID)
		if err != nil {
			return err
		}
		return &contracts.InvalidStateError{ProposalID: d.ProposalID, State: p.State}
	}

	approved, err := json.Marshal(d.ApprovedPayments)
	if err != nil {
		return fmt.Errorf("failed to marshal approved payments: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO decisions (proposal_id, kind, approved_payments, comment, decided_at) VALUES ($1, $2, $3, $4, $5)`,
		d.ProposalID, string(d.Kind), string(approved), d.Comment, d.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) Decision(ctx context.Context, proposalID string) (*contracts.ApprovalDecision, error) {
	query := `SELECT proposal_id, kind, approved_payments, comment, decided_at FROM decisions WHERE proposal_id = $1`
	row := s.db.QueryRowContext(ctx, query, proposalID)

	var (
		d        contracts.ApprovalDecision
		kind     string
		approved string
	)
	err := row.Scan(&d.ProposalID, &kind, &approved, &d.Comment, &d.DecidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	d.Kind = contracts.DecisionKind(kind)
	if err := json.Unmarshal([]byte(approved), &d.ApprovedPayments); err != nil {
		return nil, fmt.Errorf("corrupt approved payments JSON for %s: %w", proposalID, err)
	}
	return &d, nil
}

func (s *SQLStore) Transition(ctx context.Context, id string, from, to contracts.ProposalState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s for proposal %s", from, to, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET state = $1 WHERE id = $2 AND state = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		p, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return &contracts.InvalidStateError{ProposalID: id, State: p.State}
	}
	return nil
}

func (s *SQLStore) SetResult(ctx context.Context, id string, result *contracts.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	terminal := contracts.StateForStatus(result.Status)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET state = $1 WHERE id = $2 AND state IN ($3, $1)`,
		string(terminal), id, string(contracts.StateExecuting),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		p, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return &contracts.InvalidStateError{ProposalID: id, State: p.State}
	}

	// Idempotent on replay after restart: keep the first stored result.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO execution_results (proposal_id, result, completed_at) VALUES ($1, $2, $3) ON CONFLICT (proposal_id) DO NOTHING`,
		id, string(payload), result.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) Result(ctx context.Context, id string) (*contracts.ExecutionResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM execution_results WHERE proposal_id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	var result contracts.ExecutionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("corrupt result JSON for %s: %w", id, err)
	}
	return &result, nil
}

func (s *SQLStore) ListByState(ctx context.Context, state contracts.ProposalState) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM proposals WHERE state = $1`, string(state))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
