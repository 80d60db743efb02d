package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// TxStatus is the settlement network's view of a submitted transfer.
type TxStatus int

const (
	// StatusUnknown means the network has never seen this handle, or dropped it.
	StatusUnknown TxStatus = iota
	// StatusPending means accepted but not yet final.
	StatusPending
	// StatusConfirmed means final and irreversible.
	StatusConfirmed
	// StatusFailed means included and reverted, or rejected post-acceptance.
	StatusFailed
)

// Network is the settlement-network collaborator: it accepts signed transfer
// instructions and answers status queries by handle. Implementations wrap a
// JSON-RPC node; the simulator stands in for tests and the dev server.
type Network interface {
	// ChainID identifies the chain transactions must be signed for.
	ChainID() *big.Int

	// SuggestGasPrice returns the node's current price estimate.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// Broadcast submits a signed transaction and returns its handle.
	// Explicit refusals surface as *contracts.SettlementRejection,
	// transport problems as *contracts.NetworkError.
	Broadcast(ctx context.Context, tx *types.Transaction) (handle string, err error)

	// Status reports what became of a previously broadcast transaction.
	// For StatusFailed the reason classifies the failure.
	Status(ctx context.Context, handle string) (TxStatus, contracts.FailureReason, error)

	// ConfirmedSequence returns the highest sequence number the network has
	// confirmed for the account. Used to prove a stuck Pending attempt can
	// no longer land: once a later number from the same account confirmed,
	// the earlier one is permanently superseded.
	ConfirmedSequence(ctx context.Context, account string) (uint64, bool, error)
}
