package settlement

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// SimNetwork is an in-process settlement network for tests and local runs.
// Outcomes are scripted per recipient; unscripted transfers confirm on the
// first status poll after broadcast.
type SimNetwork struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int

	scripts   map[string][]SimOutcome // recipient address -> outcome queue
	txs       map[string]*simTx       // tx hash -> state
	confirmed map[string]uint64       // sender -> highest confirmed sequence

	broadcasts int
}

// SimOutcome scripts the fate of one broadcast to a recipient.
type SimOutcome struct {
	// RejectOnBroadcast refuses the transaction at submission time with the
	// given reason instead of accepting it into the pool.
	RejectOnBroadcast bool
	// TransportError fails the broadcast with a transport-level error after
	// the transaction reaches the pool; its fate stays unknown to the
	// caller. Combine with Drop for a request that never arrived.
	TransportError bool
	// PendingPolls is how many Status calls report Pending before the
	// terminal outcome is observable.
	PendingPolls int
	// Fail marks the transaction Failed with Reason once the pending polls
	// are spent; otherwise it confirms.
	Fail   bool
	Reason contracts.FailureReason
	// Drop makes the transaction vanish from the pool: Status reports
	// Unknown forever once the pending polls are spent.
	Drop bool
}

type simTx struct {
	sender       string
	sequence     uint64
	pendingPolls int
	outcome      SimOutcome
}

// NewSimNetwork returns a simulator on chain id 1337 with a 20 gwei gas price.
func NewSimNetwork() *SimNetwork {
	return &SimNetwork{
		chainID:   big.NewInt(1337),
		gasPrice:  big.NewInt(20_000_000_000),
		scripts:   make(map[string][]SimOutcome),
		txs:       make(map[string]*simTx),
		confirmed: make(map[string]uint64),
	}
}

// Script queues outcomes for broadcasts whose transfer recipient matches addr.
// Each broadcast consumes one queued outcome in order.
func (n *SimNetwork) Script(recipient string, outcomes ...SimOutcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := normalize(recipient)
	n.scripts[key] = append(n.scripts[key], outcomes...)
}

func (n *SimNetwork) ChainID() *big.Int { return n.chainID }

func (n *SimNetwork) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.gasPrice), nil
}

// SetGasPrice changes the suggested gas price for subsequent broadcasts.
func (n *SimNetwork) SetGasPrice(wei int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gasPrice = big.NewInt(wei)
}

func (n *SimNetwork) Broadcast(ctx context.Context, tx *types.Transaction) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.broadcasts++
	outcome := n.nextOutcome(tx)

	if outcome.RejectOnBroadcast {
		reason := outcome.Reason
		if reason == "" {
			reason = contracts.ReasonInsufficientFunds
		}
		return "", &contracts.SettlementRejection{Reason: reason}
	}
	sender, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return "", &contracts.NetworkError{Op: "broadcast", Err: err}
	}
	hash := tx.Hash().Hex()
	n.txs[hash] = &simTx{
		sender:       sender.Hex(),
		sequence:     tx.Nonce(),
		pendingPolls: outcome.PendingPolls,
		outcome:      outcome,
	}
	if outcome.TransportError {
		// The transaction reached the pool; only the response was lost.
		return "", &contracts.NetworkError{Op: "broadcast", Err: fmt.Errorf("connection reset")}
	}
	return hash, nil
}

func (n *SimNetwork) Status(ctx context.Context, handle string) (TxStatus, contracts.FailureReason, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	tx, ok := n.txs[handle]
	if !ok {
		return StatusUnknown, "", nil
	}
	if tx.pendingPolls > 0 {
		tx.pendingPolls--
		return StatusPending, "", nil
	}
	switch {
	case tx.outcome.Drop:
		return StatusUnknown, "", nil
	case tx.outcome.Fail:
		reason := tx.outcome.Reason
		if reason == "" {
			reason = contracts.ReasonNetworkTimeout
		}
		return StatusFailed, reason, nil
	default:
		if tx.sequence+1 > n.confirmed[tx.sender] {
			n.confirmed[tx.sender] = tx.sequence + 1
		}
		return StatusConfirmed, "", nil
	}
}

func (n *SimNetwork) ConfirmedSequence(ctx context.Context, account string) (uint64, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	next, ok := n.confirmed[normalize(account)]
	if !ok || next == 0 {
		return 0, false, nil
	}
	return next - 1, true, nil
}

// SetConfirmedSequence forces the highest confirmed sequence for an account,
// as if another transaction consumed the slot out of band.
func (n *SimNetwork) SetConfirmedSequence(account string, seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed[normalize(account)] = seq + 1
}

// Broadcasts reports how many transactions were submitted, including refused
// ones.
func (n *SimNetwork) Broadcasts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.broadcasts
}

// nextOutcome pops the queued script for the transfer's recipient, falling
// back to an immediate confirmation. Caller holds the lock.
func (n *SimNetwork) nextOutcome(tx *types.Transaction) SimOutcome {
	recipient, ok := decodeRecipient(tx.Data())
	if !ok {
		return SimOutcome{}
	}
	queue := n.scripts[recipient]
	if len(queue) == 0 {
		return SimOutcome{}
	}
	outcome := queue[0]
	n.scripts[recipient] = queue[1:]
	return outcome
}
