package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treasuryops/stablepay/pkg/approval"
	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/engine"
	"github.com/treasuryops/stablepay/pkg/ledger"
	"github.com/treasuryops/stablepay/pkg/settlement"
	"github.com/treasuryops/stablepay/pkg/store"
)

// Server exposes the proposal lifecycle over HTTP.
type Server struct {
	store    store.ProposalStore
	ledger   ledger.Ledger
	resolver *approval.Resolver
	engine   *engine.Engine
	token    settlement.Token
	logger   *slog.Logger

	executions sync.WaitGroup
}

func NewServer(st store.ProposalStore, led ledger.Ledger, res *approval.Resolver, eng *engine.Engine, token settlement.Token) *Server {
	return &Server{
		store:    st,
		ledger:   led,
		resolver: res,
		engine:   eng,
		token:    token,
		logger:   slog.Default().With("component", "api"),
	}
}

// Routes registers all endpoints on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/proposals", s.handleSubmitProposal)
	mux.HandleFunc("GET /v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /v1/proposals/{id}/approval", s.handleApproval)
	mux.HandleFunc("GET /v1/proposals/{id}/result", s.handleResult)
	mux.HandleFunc("GET /v1/proposals/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Wait blocks until every in-flight execution kicked off by an approval has
// finished. Used during shutdown.
func (s *Server) Wait() { s.executions.Wait() }

type submitRequest struct {
	UserID      string                  `json:"user_id"`
	RiskSummary string                  `json:"report"`
	Payments    []contracts.PaymentItem `json:"payments"`
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if req.UserID == "" {
		WriteBadRequest(w, r, "Missing required field: user_id")
		return
	}
	if len(req.Payments) == 0 {
		WriteBadRequest(w, r, "Proposal carries no payments")
		return
	}

	seen := make(map[string]struct{}, len(req.Payments))
	for i := range req.Payments {
		item := &req.Payments[i]
		if item.ID == "" {
			item.ID = "pay-" + uuid.NewString()[:8]
		}
		if _, dup := seen[item.ID]; dup {
			WriteBadRequest(w, r, "Duplicate payment_id: "+item.ID)
			return
		}
		seen[item.ID] = struct{}{}
		if item.Currency == "" {
			item.Currency = s.token.Symbol
		}
		if item.Currency != s.token.Symbol {
			WriteBadRequest(w, r, "Unsupported currency: "+item.Currency)
			return
		}
		if _, err := settlement.ValidateRecipient(item.Recipient); err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		if err := s.token.ValidateAmount(item.Amount); err != nil {
			WriteBadRequest(w, r, item.ID+": "+err.Error())
			return
		}
	}

	p := &contracts.Proposal{
		ID:          "prop-" + uuid.NewString()[:8],
		UserID:      req.UserID,
		RiskSummary: req.RiskSummary,
		Payments:    req.Payments,
		State:       contracts.StateProposed,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(r.Context(), p); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	p.State = contracts.StateAwaitingApproval

	s.logger.InfoContext(r.Context(), "proposal submitted",
		"proposal_id", p.ID,
		"user_id", p.UserID,
		"payments", len(p.Payments),
	)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type approvalRequest struct {
	contracts.ApprovalDecision
	CustodyWallet string `json:"custody_wallet"`
	PrivateKey    string `json:"private_key"`
}

type approvalResponse struct {
	ProposalID string                  `json:"proposal_id"`
	State      contracts.ProposalState `json:"state"`
	Authorized int                     `json:"authorized_payments"`
	Replayed   bool                    `json:"replayed,omitempty"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	req.ProposalID = r.PathValue("id")

	// Signing material is checked before the decision is recorded: a
	// rejected request must leave the proposal decidable, and once the
	// decision is stored a corrected retry would only replay it.
	account := contracts.SendingAccount{
		Address:       req.CustodyWallet,
		PrivateKeyHex: req.PrivateKey,
	}
	if req.Kind != contracts.DecisionRejectAll {
		if req.PrivateKey == "" {
			WriteBadRequest(w, r, "Missing required field: private_key")
			return
		}
		if _, _, err := settlement.ParseKey(account); err != nil {
			WriteDomainError(w, r, err)
			return
		}
	}

	out, err := s.resolver.Resolve(r.Context(), &req.ApprovalDecision)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	resp := approvalResponse{
		ProposalID: req.ProposalID,
		Authorized: len(out.Authorized),
		Replayed:   out.Replayed,
	}

	if req.Kind == contracts.DecisionRejectAll {
		resp.State = contracts.StateRejected
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if out.Replayed {
		// The first submission already owns the execution; report where the
		// proposal stands now.
		if p, err := s.store.Get(r.Context(), req.ProposalID); err == nil {
			resp.State = p.State
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.startExecution(req.ProposalID, out.Authorized, account)

	resp.State = contracts.StateExecuting
	writeJSON(w, http.StatusAccepted, resp)
}

// startExecution drives the approved payments in the background. The request
// context ends with the response, so the execution runs on its own context.
func (s *Server) startExecution(proposalID string, authorized []contracts.PaymentItem, account contracts.SendingAccount) {
	s.executions.Add(1)
	go func() {
		defer s.executions.Done()
		ctx := context.Background()
		if _, err := s.engine.Execute(ctx, proposalID, authorized, account); err != nil {
			s.logger.ErrorContext(ctx, "execution failed",
				"proposal_id", proposalID,
				"error", err,
			)
		}
	}()
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PaymentProgress is the caller-facing view of one payment's progress, derived
// from the attempt history without exposing it.
type PaymentProgress struct {
	PaymentID string                   `json:"payment_id"`
	Attempts  int                      `json:"attempts"`
	Outcome   contracts.AttemptOutcome `json:"status"`
	TxHash    string                   `json:"transaction_hash,omitempty"`
	Reason    contracts.FailureReason  `json:"reason,omitempty"`
}

type progressResponse struct {
	ProposalID string                  `json:"proposal_id"`
	State      contracts.ProposalState `json:"state"`
	Payments   []PaymentProgress       `json:"payments"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	attempts, err := s.ledger.Attempts(r.Context(), id)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}

	byPayment := make(map[string]*PaymentProgress)
	order := make([]string, 0, len(p.Payments))
	for _, att := range attempts {
		prog, ok := byPayment[att.PaymentID]
		if !ok {
			prog = &PaymentProgress{PaymentID: att.PaymentID}
			byPayment[att.PaymentID] = prog
			order = append(order, att.PaymentID)
		}
		prog.Attempts++
		prog.Outcome = att.Outcome
		prog.Reason = att.Reason
		if att.TxHash != "" {
			prog.TxHash = att.TxHash
		}
	}

	resp := progressResponse{ProposalID: id, State: p.State, Payments: make([]PaymentProgress, 0, len(order))}
	for _, pid := range order {
		resp.Payments = append(resp.Payments, *byPayment[pid])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
