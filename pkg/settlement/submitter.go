package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/ledger"
)

// Submitter turns one approved payment into one signed on-chain transfer.
// Every submission appends its attempt to the execution ledger before the
// caller sees the outcome, so a crash in between is recoverable.
type Submitter struct {
	token   Token
	fees    FeePolicy
	network Network
	ledger  ledger.Ledger
	logger  *slog.Logger
}

// NewSubmitter wires a submitter for the given token and network.
func NewSubmitter(token Token, fees FeePolicy, network Network, lgr ledger.Ledger) *Submitter {
	return &Submitter{
		token:   token,
		fees:    fees,
		network: network,
		ledger:  lgr,
		logger:  slog.Default().With("component", "settlement"),
	}
}

// ParseKey decodes and validates the per-request signing material, checking
// that it actually controls the claimed account address. The key never
// outlives the execution it was supplied for.
func ParseKey(account contracts.SendingAccount) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(account.PrivateKeyHex)
	if err != nil {
		return nil, common.Address{}, contracts.Validationf("private_key", "malformed signing key")
	}
	derived := crypto.PubkeyToAddress(key.PublicKey)
	if account.Address != "" {
		if !common.IsHexAddress(account.Address) {
			return nil, common.Address{}, contracts.Validationf("custody_wallet", "not a valid address: %q", account.Address)
		}
		if common.HexToAddress(account.Address) != derived {
			return nil, common.Address{}, contracts.Validationf("private_key", "key does not control %s", account.Address)
		}
	}
	return key, derived, nil
}

// Submit builds, signs and broadcasts the transfer for a payment under the
// given sequence number, appending exactly one TransferAttempt before it
// returns. A refusal that never reached the network still produces a Failed
// attempt, so the sequence number's consumption is on record.
func (s *Submitter) Submit(ctx context.Context, proposalID string, payment contracts.PaymentItem, attempt int, seq uint64, key *ecdsa.PrivateKey, sender common.Address) (contracts.TransferAttempt, error) {
	att := contracts.TransferAttempt{
		ProposalID:  proposalID,
		PaymentID:   payment.ID,
		Attempt:     attempt,
		Account:     sender.Hex(),
		Sequence:    seq,
		Outcome:     contracts.OutcomePending,
		SubmittedAt: time.Now().UTC(),
	}

	tx, err := s.buildAndSign(ctx, payment, attempt, seq, key)
	if err != nil {
		att.Outcome = contracts.OutcomeFailed
		att.Reason = classify(err)
		if lerr := s.ledger.Append(ctx, att); lerr != nil {
			return att, lerr
		}
		return att, err
	}
	att.TxHash = tx.Hash().Hex()

	// The attempt hits the ledger before the network: if we die during the
	// broadcast, restart recovery sees a Pending attempt and resolves it by
	// querying the network instead of double-submitting.
	if err := s.ledger.Append(ctx, att); err != nil {
		return att, err
	}

	handle, err := s.network.Broadcast(ctx, tx)
	if err != nil {
		var sr *contracts.SettlementRejection
		if !errors.As(err, &sr) {
			// Transport trouble: the request may have reached the node
			// with only the response lost, so the transaction can still
			// land. The attempt stays Pending until a status poll or
			// supersession proof decides it.
			s.logger.WarnContext(ctx, "broadcast outcome unknown",
				"proposal_id", proposalID,
				"payment_id", payment.ID,
				"attempt", attempt,
				"sequence", seq,
				"error", err,
			)
			return att, nil
		}
		if rerr := s.ledger.Resolve(ctx, proposalID, payment.ID, attempt, contracts.OutcomeFailed, sr.Reason); rerr != nil {
			return att, rerr
		}
		att.Outcome = contracts.OutcomeFailed
		att.Reason = sr.Reason
		return att, err
	}

	s.logger.InfoContext(ctx, "transfer submitted",
		"proposal_id", proposalID,
		"payment_id", payment.ID,
		"attempt", attempt,
		"sequence", seq,
		"tx", handle,
	)
	return att, nil
}

// Poll queries the network for the attempt's fate and records terminal
// outcomes in the ledger. Still-pending attempts are returned unchanged.
func (s *Submitter) Poll(ctx context.Context, att contracts.TransferAttempt) (contracts.AttemptOutcome, contracts.FailureReason, error) {
	status, reason, err := s.network.Status(ctx, att.TxHash)
	if err != nil {
		return contracts.OutcomePending, "", &contracts.NetworkError{Op: "status", Err: err}
	}

	switch status {
	case StatusConfirmed:
		if err := s.ledger.Resolve(ctx, att.ProposalID, att.PaymentID, att.Attempt, contracts.OutcomeConfirmed, ""); err != nil {
			return contracts.OutcomePending, "", err
		}
		return contracts.OutcomeConfirmed, "", nil
	case StatusFailed:
		if reason == "" {
			reason = contracts.ReasonNodeUnavailable
		}
		if err := s.ledger.Resolve(ctx, att.ProposalID, att.PaymentID, att.Attempt, contracts.OutcomeFailed, reason); err != nil {
			return contracts.OutcomePending, "", err
		}
		return contracts.OutcomeFailed, reason, nil
	case StatusUnknown:
		// Dropped or never seen; check supersession before giving up on it.
		superseded, err := s.isSuperseded(ctx, att)
		if err != nil {
			return contracts.OutcomePending, "", err
		}
		if superseded {
			if err := s.ledger.Resolve(ctx, att.ProposalID, att.PaymentID, att.Attempt, contracts.OutcomeSuperseded, contracts.ReasonNonceSuperseded); err != nil {
				return contracts.OutcomePending, "", err
			}
			return contracts.OutcomeSuperseded, contracts.ReasonNonceSuperseded, nil
		}
		return contracts.OutcomePending, "", nil
	default:
		return contracts.OutcomePending, "", nil
	}
}

// CheckSuperseded decides whether a stuck Pending attempt is provably unable
// to confirm, and records the Superseded outcome when it is. An unproven
// attempt stays Pending; it may still land and must not be resubmitted.
func (s *Submitter) CheckSuperseded(ctx context.Context, att contracts.TransferAttempt) (bool, error) {
	status, _, err := s.network.Status(ctx, att.TxHash)
	if err != nil {
		return false, &contracts.NetworkError{Op: "status", Err: err}
	}
	if status != StatusUnknown {
		// The transaction is still visible, possibly as the very
		// confirmation that moved the account's sequence. Nonce passage
		// only proves supersession once the network has lost the
		// transaction itself; anything else is settled by polling.
		return false, nil
	}
	superseded, err := s.isSuperseded(ctx, att)
	if err != nil || !superseded {
		return false, err
	}
	if err := s.ledger.Resolve(ctx, att.ProposalID, att.PaymentID, att.Attempt, contracts.OutcomeSuperseded, contracts.ReasonNonceSuperseded); err != nil {
		return false, err
	}
	return true, nil
}

// isSuperseded reports whether the attempt's sequence slot was consumed by a
// different transaction, proving this attempt can never confirm.
func (s *Submitter) isSuperseded(ctx context.Context, att contracts.TransferAttempt) (bool, error) {
	confirmed, ok, err := s.network.ConfirmedSequence(ctx, att.Account)
	if err != nil {
		return false, &contracts.NetworkError{Op: "confirmed_sequence", Err: err}
	}
	return ok && confirmed >= att.Sequence, nil
}

func (s *Submitter) buildAndSign(ctx context.Context, payment contracts.PaymentItem, attempt int, seq uint64, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	recipient, err := ValidateRecipient(payment.Recipient)
	if err != nil {
		return nil, &contracts.SettlementRejection{Reason: contracts.ReasonInvalidRecipient}
	}
	amount, err := s.token.BaseUnits(payment.Amount)
	if err != nil {
		return nil, err
	}

	suggested, err := s.network.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &contracts.NetworkError{Op: "suggest_gas_price", Err: err}
	}
	gasPrice := s.fees.PriceFor(suggested, attempt)

	contract := s.token.Contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    seq,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      s.fees.GasLimit,
		GasPrice: gasPrice,
		Data:     s.token.TransferCalldata(recipient, amount),
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.network.ChainID()), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transfer: %w", err)
	}
	return signed, nil
}

// classify maps an error from the build/broadcast path to a failure reason.
func classify(err error) contracts.FailureReason {
	var sr *contracts.SettlementRejection
	if errors.As(err, &sr) {
		return sr.Reason
	}
	var ne *contracts.NetworkError
	if errors.As(err, &ne) {
		return contracts.ReasonNetworkTimeout
	}
	var ve *contracts.ValidationError
	if errors.As(err, &ve) {
		return contracts.ReasonInvalidRecipient
	}
	return contracts.ReasonNodeUnavailable
}
