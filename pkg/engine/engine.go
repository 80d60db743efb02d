// Package engine drives approved payments to a terminal outcome.
//
// One Execute call owns one proposal's execution: it fixes the authorized
// payment set, drives every payment through submit/poll/retry cycles, and
// finalizes the aggregate result from the ledger alone. A crash mid-execution
// is recovered by Resume, which re-derives everything from persisted state.
package engine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/ledger"
	"github.com/treasuryops/stablepay/pkg/sequencer"
	"github.com/treasuryops/stablepay/pkg/settlement"
	"github.com/treasuryops/stablepay/pkg/store"
)

// Options tune the execution loop. Zero values fall back to defaults.
type Options struct {
	Retry RetryPolicy

	// PollInterval is the pause between status queries for one attempt.
	PollInterval time.Duration

	// PollTimeout bounds how long one attempt is polled before the engine
	// treats it as stuck and looks for supersession proof.
	PollTimeout time.Duration

	// Concurrency caps payments in flight per Execute call.
	Concurrency int
}

func (o *Options) defaults() {
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 2 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// Metrics receives payment and attempt outcomes. The observability provider
// satisfies it; a nil Metrics records nothing.
type Metrics interface {
	RecordPaymentOutcome(ctx context.Context, outcome contracts.AttemptOutcome, attempts int)
	RecordAttempt(ctx context.Context, outcome contracts.AttemptOutcome, reason contracts.FailureReason)
}

// Engine executes approved proposals against the settlement network.
type Engine struct {
	store     store.ProposalStore
	ledger    ledger.Ledger
	sequencer *sequencer.Sequencer
	submitter *settlement.Submitter
	opts      Options
	logger    *slog.Logger
	metrics   Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// WithMetrics attaches an outcome recorder.
func (e *Engine) WithMetrics(m Metrics) *Engine {
	e.metrics = m
	return e
}

func New(st store.ProposalStore, led ledger.Ledger, seq *sequencer.Sequencer, sub *settlement.Submitter, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		store:     st,
		ledger:    led,
		sequencer: seq,
		submitter: sub,
		opts:      opts,
		logger:    slog.Default().With("component", "engine"),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute drives every authorized payment of the proposal to a terminal
// outcome and stores the aggregate result. The signing material in account is
// used for this call only and never persisted.
func (e *Engine) Execute(ctx context.Context, proposalID string, authorized []contracts.PaymentItem, account contracts.SendingAccount) (*contracts.ExecutionResult, error) {
	key, sender, err := settlement.ParseKey(account)
	if err != nil {
		return nil, err
	}

	if err := e.store.Transition(ctx, proposalID, contracts.StateApproving, contracts.StateExecuting); err != nil {
		return nil, err
	}

	if len(authorized) == 0 {
		return nil, contracts.Validationf("payments", "nothing authorized to execute")
	}

	e.logger.InfoContext(ctx, "execution started",
		"proposal_id", proposalID,
		"payments", len(authorized),
		"account", sender.Hex(),
	)
	return e.run(ctx, proposalID, authorized, key, sender)
}

func (e *Engine) run(ctx context.Context, proposalID string, authorized []contracts.PaymentItem, key *ecdsa.PrivateKey, sender common.Address) (*contracts.ExecutionResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.opts.Concurrency)
	errs := make(chan error, len(authorized))

	for _, payment := range authorized {
		payment := payment
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			err := e.drivePayment(runCtx, proposalID, payment, key, sender)
			var ce *contracts.ConsistencyError
			if errors.As(err, &ce) {
				// Impossible ledger state; stop driving siblings and
				// leave the proposal for manual reconciliation.
				cancel()
			}
			errs <- err
		}()
	}

	var firstErr error
	for range authorized {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		var ce *contracts.ConsistencyError
		if errors.As(firstErr, &ce) {
			return nil, firstErr
		}
	}

	result, err := ledger.Finalize(ctx, e.ledger, proposalID, authorized, e.now().UTC())
	if err != nil {
		// Some payment has no terminal outcome yet; the proposal stays in
		// Executing and a later Resume picks it up.
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, err
	}
	if err := e.store.SetResult(ctx, proposalID, result); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		for _, po := range result.Executed {
			e.metrics.RecordPaymentOutcome(ctx, po.Outcome, po.Attempts)
		}
		for _, po := range result.Failed {
			e.metrics.RecordPaymentOutcome(ctx, po.Outcome, po.Attempts)
		}
	}

	e.logger.InfoContext(ctx, "execution finished",
		"proposal_id", proposalID,
		"status", result.Status,
		"executed", len(result.Executed),
		"failed", len(result.Failed),
	)
	return result, nil
}

// drivePayment submits and polls one payment until it confirms, fails
// non-retryably, or the attempt budget runs out. Each retry consumes a fresh
// sequence number; a Pending prior attempt blocks retrying until it is proven
// superseded.
func (e *Engine) drivePayment(ctx context.Context, proposalID string, payment contracts.PaymentItem, key *ecdsa.PrivateKey, sender common.Address) error {
	prior, err := e.ledger.PaymentAttempts(ctx, proposalID, payment.ID)
	if err != nil {
		return err
	}
	attempt := len(prior)

	// A run interrupted mid-flight left its last attempt Pending in the
	// ledger. Resolve it before considering any new submission.
	if attempt > 0 {
		last := prior[attempt-1]
		if !last.Terminal() {
			outcome, reason, err := e.pollToTerminal(ctx, last)
			if err != nil {
				return err
			}
			switch {
			case outcome == contracts.OutcomeConfirmed:
				return nil
			case outcome == contracts.OutcomeFailed && !reason.Retryable():
				return nil
			}
		} else if last.Outcome == contracts.OutcomeConfirmed ||
			(last.Outcome == contracts.OutcomeFailed && !last.Reason.Retryable()) {
			return nil
		}
	}

	for attempt++; attempt <= e.opts.Retry.MaxAttempts; attempt++ {
		if err := e.sleep(ctx, e.opts.Retry.Delay(proposalID, payment.ID, attempt)); err != nil {
			return err
		}

		var att contracts.TransferAttempt
		_, err := e.sequencer.Submit(ctx, sender.Hex(), func(seq uint64) error {
			var serr error
			att, serr = e.submitter.Submit(ctx, proposalID, payment, attempt, seq, key, sender)
			return serr
		})
		if err != nil {
			var ce *contracts.ConsistencyError
			if errors.As(err, &ce) {
				return err
			}
			if att.Outcome == contracts.OutcomeFailed {
				if att.Reason.Retryable() {
					continue
				}
				return nil
			}
			return err
		}

		outcome, reason, err := e.pollToTerminal(ctx, att)
		if err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordAttempt(ctx, outcome, reason)
		}
		switch outcome {
		case contracts.OutcomeConfirmed:
			return nil
		case contracts.OutcomeFailed:
			if reason.Retryable() {
				continue
			}
			return nil
		case contracts.OutcomeSuperseded:
			continue
		default:
			return fmt.Errorf("payment %s attempt %d left unresolved", payment.ID, attempt)
		}
	}
	return e.markExhausted(ctx, proposalID, payment, sender)
}

// markExhausted records the budget exhaustion when the last real attempt was
// superseded, so the payment still reaches a decisive Failed outcome.
func (e *Engine) markExhausted(ctx context.Context, proposalID string, payment contracts.PaymentItem, sender common.Address) error {
	attempts, err := e.ledger.PaymentAttempts(ctx, proposalID, payment.ID)
	if err != nil {
		return err
	}
	n := len(attempts)
	if n == 0 || attempts[n-1].Outcome != contracts.OutcomeSuperseded {
		return nil
	}
	return e.ledger.Append(ctx, contracts.TransferAttempt{
		ProposalID:  proposalID,
		PaymentID:   payment.ID,
		Attempt:     n + 1,
		Account:     sender.Hex(),
		Outcome:     contracts.OutcomeFailed,
		Reason:      contracts.ReasonAttemptsExhausted,
		SubmittedAt: e.now().UTC(),
	})
}

// pollToTerminal polls one attempt until the network settles it. An attempt
// still Pending after the poll window is checked for supersession; without
// proof it keeps being polled, because resubmitting could double-pay.
func (e *Engine) pollToTerminal(ctx context.Context, att contracts.TransferAttempt) (contracts.AttemptOutcome, contracts.FailureReason, error) {
	for {
		deadline := e.now().Add(e.opts.PollTimeout)
		for {
			outcome, reason, err := e.submitter.Poll(ctx, att)
			if err != nil {
				var ne *contracts.NetworkError
				if !errors.As(err, &ne) {
					return contracts.OutcomePending, "", err
				}
				// Transient; the poll window is the budget for these.
			} else if outcome != contracts.OutcomePending {
				return outcome, reason, nil
			}
			if !e.now().Before(deadline) {
				break
			}
			if err := e.sleep(ctx, e.opts.PollInterval); err != nil {
				return contracts.OutcomePending, "", err
			}
		}

		superseded, err := e.submitter.CheckSuperseded(ctx, att)
		if err != nil {
			return contracts.OutcomePending, "", err
		}
		if superseded {
			return contracts.OutcomeSuperseded, contracts.ReasonNonceSuperseded, nil
		}
		if err := ctx.Err(); err != nil {
			return contracts.OutcomePending, "", err
		}
		e.logger.WarnContext(ctx, "attempt stuck pending, extending poll window",
			"proposal_id", att.ProposalID,
			"payment_id", att.PaymentID,
			"attempt", att.Attempt,
			"sequence", att.Sequence,
		)
	}
}
