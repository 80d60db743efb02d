package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// RPCNetwork talks to a real node over JSON-RPC.
type RPCNetwork struct {
	client  *ethclient.Client
	chainID *big.Int
}

// Dial connects to the node at url and caches its chain id.
func Dial(ctx context.Context, url string) (*RPCNetwork, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", url, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	return &RPCNetwork{client: client, chainID: chainID}, nil
}

func (n *RPCNetwork) Close() { n.client.Close() }

func (n *RPCNetwork) ChainID() *big.Int { return n.chainID }

func (n *RPCNetwork) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &contracts.NetworkError{Op: "suggest gas price", Err: err}
	}
	return price, nil
}

func (n *RPCNetwork) Broadcast(ctx context.Context, tx *types.Transaction) (string, error) {
	if err := n.client.SendTransaction(ctx, tx); err != nil {
		return "", classifyNodeError(err)
	}
	return tx.Hash().Hex(), nil
}

func (n *RPCNetwork) Status(ctx context.Context, handle string) (TxStatus, contracts.FailureReason, error) {
	hash := common.HexToHash(handle)
	receipt, err := n.client.TransactionReceipt(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		_, _, txErr := n.client.TransactionByHash(ctx, hash)
		if errors.Is(txErr, ethereum.NotFound) {
			return StatusUnknown, "", nil
		}
		if txErr != nil {
			return StatusUnknown, "", &contracts.NetworkError{Op: "transaction by hash", Err: txErr}
		}
		return StatusPending, "", nil
	case err != nil:
		return StatusUnknown, "", &contracts.NetworkError{Op: "transaction receipt", Err: err}
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return StatusConfirmed, "", nil
	}
	// An included but reverted token transfer is a balance failure in
	// practice; the receipt carries no revert reason.
	return StatusFailed, contracts.ReasonInsufficientFunds, nil
}

func (n *RPCNetwork) ConfirmedSequence(ctx context.Context, account string) (uint64, bool, error) {
	next, err := n.client.NonceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return 0, false, &contracts.NetworkError{Op: "nonce at", Err: err}
	}
	if next == 0 {
		return 0, false, nil
	}
	return next - 1, true, nil
}

// classifyNodeError maps node refusals reported as opaque RPC error strings
// onto the failure taxonomy. Anything unrecognized is treated as transport
// trouble and retried.
func classifyNodeError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return &contracts.SettlementRejection{Reason: contracts.ReasonInsufficientFunds}
	case strings.Contains(msg, "intrinsic gas"), strings.Contains(msg, "gas limit"):
		return &contracts.SettlementRejection{Reason: contracts.ReasonInsufficientGas}
	case strings.Contains(msg, "underpriced"), strings.Contains(msg, "fee cap"):
		return &contracts.SettlementRejection{Reason: contracts.ReasonFeeTooLow}
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "already known"):
		return &contracts.SettlementRejection{Reason: contracts.ReasonNonceSuperseded}
	default:
		return &contracts.NetworkError{Op: "broadcast", Err: err}
	}
}
