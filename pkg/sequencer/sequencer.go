// Package sequencer owns the per-account transaction sequence numbers.
//
// It is the single mutual-exclusion point for an account: submissions from the
// same account are serialized through it, submissions from different accounts
// never block each other. Numbers are strictly increasing and never reused;
// a number consumed by an attempt that later fails stays consumed.
package sequencer

import (
	"context"
	"sync"

	"github.com/treasuryops/stablepay/pkg/ledger"
)

// Sequencer assigns per-account sequence numbers backed by the execution
// ledger for crash recovery.
type Sequencer struct {
	mu       sync.Mutex
	accounts map[string]*account
	ledger   ledger.Ledger
}

type account struct {
	mu         sync.Mutex
	next       uint64
	reconciled bool
}

// New creates a sequencer that reconciles each account's counter against the
// given ledger on first use.
func New(l ledger.Ledger) *Sequencer {
	return &Sequencer{
		accounts: make(map[string]*account),
		ledger:   l,
	}
}

func (s *Sequencer) account(addr string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[addr]
	if !ok {
		a = &account{}
		s.accounts[addr] = a
	}
	return a
}

// reconcileLocked seeds the counter from the highest sequence number the
// ledger has seen as Pending or Confirmed for this account, so that a number
// still in flight on the settlement network is never handed out again after a
// restart. Caller holds a.mu.
func (s *Sequencer) reconcileLocked(ctx context.Context, addr string, a *account) error {
	if a.reconciled {
		return nil
	}
	max, ok, err := s.ledger.MaxSequence(ctx, addr)
	if err != nil {
		return err
	}
	if ok && max >= a.next {
		a.next = max + 1
	}
	a.reconciled = true
	return nil
}

// Next assigns the next sequence number for the account. Safe for concurrent
// callers; callers for the same account are serialized, different accounts
// proceed independently.
func (s *Sequencer) Next(ctx context.Context, addr string) (uint64, error) {
	a := s.account(addr)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := s.reconcileLocked(ctx, addr, a); err != nil {
		return 0, err
	}
	seq := a.next
	a.next++
	return seq, nil
}

// Submit assigns a sequence number and runs fn while holding the account's
// lock, so that two submissions from one account cannot reach the network out
// of order. fn must only cover the build/sign/submit step; confirmation
// polling blocks on network I/O and belongs outside.
//
// The number is consumed whether or not fn succeeds.
func (s *Sequencer) Submit(ctx context.Context, addr string, fn func(seq uint64) error) (uint64, error) {
	a := s.account(addr)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := s.reconcileLocked(ctx, addr, a); err != nil {
		return 0, err
	}
	seq := a.next
	a.next++
	return seq, fn(seq)
}

// Reconcile forces counter reconciliation for an account, used at startup
// before resuming executions.
func (s *Sequencer) Reconcile(ctx context.Context, addr string) error {
	a := s.account(addr)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reconciled = false
	return s.reconcileLocked(ctx, addr, a)
}
