// Package settlement builds, signs and submits on-chain transfers for the
// supported settlement token, and classifies what the network did with them.
package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/treasuryops/stablepay/pkg/contracts"
)

// transferSelector is the 4-byte selector of ERC-20 transfer(address,uint256).
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// Token describes the settlement token the engine pays out in.
type Token struct {
	Symbol   string
	Contract common.Address
	Decimals int32

	// MinTransfer is the smallest accepted transfer amount in whole tokens.
	MinTransfer decimal.Decimal
}

// USDT is the default settlement token: Tether on Ethereum mainnet,
// 6 decimal places, minimum transfer 0.1.
func USDT() Token {
	return Token{
		Symbol:      "USDT",
		Contract:    common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		Decimals:    6,
		MinTransfer: decimal.RequireFromString("0.1"),
	}
}

// BaseUnits converts a whole-token amount into the token's smallest unit.
// Amounts with more fractional digits than the token carries are rejected
// rather than silently truncated.
func (t Token) BaseUnits(amount decimal.Decimal) (*big.Int, error) {
	shifted := amount.Shift(t.Decimals)
	if !shifted.IsInteger() {
		return nil, contracts.Validationf("amount", "%s has more than %d decimal places", amount, t.Decimals)
	}
	return shifted.BigInt(), nil
}

// TransferCalldata encodes transfer(recipient, amount) for the token contract.
func (t Token) TransferCalldata(recipient common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(recipient.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// ValidateRecipient checks that addr is a well-formed hex address and returns
// its checksummed form.
func ValidateRecipient(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, contracts.Validationf("recipient_wallet", "not a valid address: %q", addr)
	}
	return common.HexToAddress(addr), nil
}

// ValidateAmount checks the basic amount constraints for the token.
func (t Token) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return contracts.Validationf("amount", "must be > 0, got %s", amount)
	}
	if amount.LessThan(t.MinTransfer) {
		return contracts.Validationf("amount", "below minimum %s %s", t.MinTransfer, t.Symbol)
	}
	if _, err := t.BaseUnits(amount); err != nil {
		return err
	}
	return nil
}

// FeePolicy controls gas pricing across attempts.
type FeePolicy struct {
	// GasLimit caps a token transfer; transfers to the USDT contract can
	// consume well above the 21k base cost.
	GasLimit uint64

	// BufferPercent is added on top of the node's suggested gas price.
	BufferPercent int64

	// BumpPercent raises the price again for every retry past the first
	// attempt, so a fee-too-low failure does not repeat itself.
	BumpPercent int64
}

// DefaultFeePolicy mirrors the treasury defaults: 401k gas cap and a 35%
// price buffer.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{GasLimit: 401000, BufferPercent: 35, BumpPercent: 25}
}

// PriceFor computes the gas price for a given 1-based attempt number.
func (p FeePolicy) PriceFor(suggested *big.Int, attempt int) *big.Int {
	if attempt < 1 {
		attempt = 1
	}
	price := new(big.Int).Mul(suggested, big.NewInt(100+p.BufferPercent))
	price.Div(price, big.NewInt(100))
	for i := 1; i < attempt; i++ {
		price.Mul(price, big.NewInt(100+p.BumpPercent))
		price.Div(price, big.NewInt(100))
	}
	return price
}

// String implements fmt.Stringer for log lines.
func (t Token) String() string {
	return fmt.Sprintf("%s@%s", t.Symbol, t.Contract.Hex())
}
