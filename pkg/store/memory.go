package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// MemoryStore is the in-process ProposalStore used by tests and the dev
// server.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*contracts.Proposal
	decisions map[string]*contracts.ApprovalDecision
	results   map[string]*contracts.ExecutionResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]*contracts.Proposal),
		decisions: make(map[string]*contracts.ApprovalDecision),
		results:   make(map[string]*contracts.ExecutionResult),
	}
}

func (s *MemoryStore) Create(_ context.Context, p *contracts.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[p.ID]; exists {
		return fmt.Errorf("proposal %s already exists", p.ID)
	}
	stored := *p
	stored.State = contracts.StateAwaitingApproval
	stored.Payments = append([]contracts.PaymentItem(nil), p.Payments...)
	s.proposals[p.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*contracts.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	cp := *p
	cp.Payments = append([]contracts.PaymentItem(nil), p.Payments...)
	return &cp, nil
}

func (s *MemoryStore) RecordDecision(_ context.Context, d *contracts.ApprovalDecision, next contracts.ProposalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[d.ProposalID]
	if !ok {
		return contracts.ErrNotFound
	}
	if p.State != contracts.StateAwaitingApproval {
		return &contracts.InvalidStateError{ProposalID: d.ProposalID, State: p.State}
	}
	stored := *d
	s.decisions[d.ProposalID] = &stored
	p.State = next
	return nil
}

func (s *MemoryStore) Decision(_ context.Context, proposalID string) (*contracts.ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[proposalID]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to contracts.ProposalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return contracts.ErrNotFound
	}
	if p.State != from {
		return &contracts.InvalidStateError{ProposalID: id, State: p.State}
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s for proposal %s", from, to, id)
	}
	p.State = to
	return nil
}

func (s *MemoryStore) SetResult(_ context.Context, id string, result *contracts.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return contracts.ErrNotFound
	}
	terminal := contracts.StateForStatus(result.Status)
	if p.State != contracts.StateExecuting && p.State != terminal {
		return &contracts.InvalidStateError{ProposalID: id, State: p.State}
	}
	cp := *result
	s.results[id] = &cp
	p.State = terminal
	return nil
}

func (s *MemoryStore) Result(_ context.Context, id string) (*contracts.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[id]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListByState(_ context.Context, state contracts.ProposalState) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, p := range s.proposals {
		if p.State == state {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
