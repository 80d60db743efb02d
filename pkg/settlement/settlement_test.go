package settlement

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/ledger"
)

const recipientA = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

func testAccount(t *testing.T) contracts.SendingAccount {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return contracts.SendingAccount{
		Address:       crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}
}

func testPayment(id, amount string) contracts.PaymentItem {
	return contracts.PaymentItem{
		ID:        id,
		Recipient: recipientA,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "USDT",
	}
}

func TestBaseUnits(t *testing.T) {
	usdt := USDT()

	units, err := usdt.BaseUnits(decimal.RequireFromString("1500.25"))
	require.NoError(t, err)
	assert.Equal(t, "1500250000", units.String())

	units, err = usdt.BaseUnits(decimal.RequireFromString("0.000001"))
	require.NoError(t, err)
	assert.Equal(t, "1", units.String())

	_, err = usdt.BaseUnits(decimal.RequireFromString("0.0000001"))
	assert.True(t, contracts.IsValidation(err), "sub-unit precision must be rejected")
}

func TestValidateAmount(t *testing.T) {
	usdt := USDT()
	assert.NoError(t, usdt.ValidateAmount(decimal.RequireFromString("0.1")))
	assert.Error(t, usdt.ValidateAmount(decimal.RequireFromString("0.09")))
	assert.Error(t, usdt.ValidateAmount(decimal.RequireFromString("-5")))
	assert.Error(t, usdt.ValidateAmount(decimal.Zero))
}

func TestTransferCalldata(t *testing.T) {
	usdt := USDT()
	recipient, err := ValidateRecipient(recipientA)
	require.NoError(t, err)

	data := usdt.TransferCalldata(recipient, big.NewInt(1_000_000))
	require.Len(t, data, 68)
	assert.Equal(t, transferSelector, data[:4])

	got, ok := decodeRecipient(data)
	require.True(t, ok)
	assert.Equal(t, recipientA, got)
}

func TestFeePolicyPriceFor(t *testing.T) {
	p := DefaultFeePolicy()
	suggested := big.NewInt(100)

	first := p.PriceFor(suggested, 1)
	assert.Equal(t, "135", first.String(), "first attempt carries the buffer")

	second := p.PriceFor(suggested, 2)
	assert.True(t, second.Cmp(first) > 0, "retries must bid higher")
}

func TestParseKey(t *testing.T) {
	acct := testAccount(t)

	key, addr, err := ParseKey(acct)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, acct.Address, addr.Hex())

	_, _, err = ParseKey(contracts.SendingAccount{PrivateKeyHex: "zzz"})
	assert.True(t, contracts.IsValidation(err))

	// Key that does not control the claimed address.
	other := testAccount(t)
	_, _, err = ParseKey(contracts.SendingAccount{
		Address:       other.Address,
		PrivateKeyHex: acct.PrivateKeyHex,
	})
	assert.True(t, contracts.IsValidation(err))
}

func newTestSubmitter(t *testing.T) (*Submitter, *SimNetwork, *ledger.MemoryLedger) {
	t.Helper()
	network := NewSimNetwork()
	led := ledger.NewMemoryLedger()
	return NewSubmitter(USDT(), DefaultFeePolicy(), network, led), network, led
}

func TestSubmitAppendsPendingBeforeReturn(t *testing.T) {
	ctx := context.Background()
	sub, _, led := newTestSubmitter(t)
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "25.50"), 1, 0, key, sender)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomePending, att.Outcome)
	assert.NotEmpty(t, att.TxHash)

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, contracts.OutcomePending, persisted[0].Outcome)
	assert.Equal(t, uint64(0), persisted[0].Sequence)
	assert.Equal(t, sender.Hex(), persisted[0].Account)
}

func TestSubmitBroadcastRejection(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	network.Script(recipientA, SimOutcome{
		RejectOnBroadcast: true,
		Reason:            contracts.ReasonInsufficientFunds,
	})
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 0, key, sender)
	require.Error(t, err)
	assert.Equal(t, contracts.OutcomeFailed, att.Outcome)
	assert.Equal(t, contracts.ReasonInsufficientFunds, att.Reason)

	// The rejection is on record even though nothing reached the chain.
	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, contracts.OutcomeFailed, persisted[0].Outcome)
}

func TestSubmitInvalidRecipient(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	bad := testPayment("pay-1", "10")
	bad.Recipient = "not-an-address"

	att, err := sub.Submit(ctx, "prop-1", bad, 1, 0, key, sender)
	require.Error(t, err)
	assert.Equal(t, contracts.OutcomeFailed, att.Outcome)
	assert.Equal(t, contracts.ReasonInvalidRecipient, att.Reason)
	assert.Zero(t, network.Broadcasts(), "refused locally, never broadcast")

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
}

func TestPollConfirms(t *testing.T) {
	ctx := context.Background()
	sub, _, led := newTestSubmitter(t)
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 0, key, sender)
	require.NoError(t, err)

	outcome, _, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeConfirmed, outcome)

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeConfirmed, persisted[0].Outcome)
}

func TestPollFailureReason(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	network.Script(recipientA, SimOutcome{
		Fail:   true,
		Reason: contracts.ReasonFeeTooLow,
	})
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 0, key, sender)
	require.NoError(t, err)

	outcome, reason, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeFailed, outcome)
	assert.Equal(t, contracts.ReasonFeeTooLow, reason)
	assert.True(t, reason.Retryable())

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonFeeTooLow, persisted[0].Reason)
}

func TestPollPendingThenConfirmed(t *testing.T) {
	ctx := context.Background()
	sub, network, _ := newTestSubmitter(t)
	network.Script(recipientA, SimOutcome{PendingPolls: 2})
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 0, key, sender)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outcome, _, err := sub.Poll(ctx, att)
		require.NoError(t, err)
		assert.Equal(t, contracts.OutcomePending, outcome)
	}
	outcome, _, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeConfirmed, outcome)
}

func TestPollSupersededDroppedTx(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	network.Script(recipientA, SimOutcome{Drop: true})
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 7, key, sender)
	require.NoError(t, err)

	// Dropped but the slot is still open, so it could in principle land.
	outcome, _, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomePending, outcome)

	// Once a later sequence from the same account confirmed, it cannot.
	network.SetConfirmedSequence(sender.Hex(), 8)

	outcome, reason, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuperseded, outcome)
	assert.Equal(t, contracts.ReasonNonceSuperseded, reason)

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuperseded, persisted[0].Outcome)
}

func TestCheckSupersededOwnConfirmationIsNotProof(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 0, key, sender)
	require.NoError(t, err)

	// The attempt's own transaction mined, moving the account's sequence
	// past its slot. That must not read as supersession or the engine
	// would resubmit a payment that already went through.
	network.SetConfirmedSequence(sender.Hex(), 0)

	superseded, err := sub.CheckSuperseded(ctx, att)
	require.NoError(t, err)
	assert.False(t, superseded)

	outcome, _, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeConfirmed, outcome)

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, contracts.OutcomeConfirmed, persisted[0].Outcome)
}

func TestCheckSupersededDroppedTx(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	network.Script(recipientA, SimOutcome{Drop: true})
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 3, key, sender)
	require.NoError(t, err)

	superseded, err := sub.CheckSuperseded(ctx, att)
	require.NoError(t, err)
	assert.False(t, superseded, "open slot is not proof")

	network.SetConfirmedSequence(sender.Hex(), 4)

	superseded, err = sub.CheckSuperseded(ctx, att)
	require.NoError(t, err)
	assert.True(t, superseded)

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSuperseded, persisted[0].Outcome)
}

func TestSubmitTransportErrorStaysPending(t *testing.T) {
	ctx := context.Background()
	sub, network, led := newTestSubmitter(t)
	network.Script(recipientA, SimOutcome{TransportError: true})
	acct := testAccount(t)
	key, sender, err := ParseKey(acct)
	require.NoError(t, err)

	// The broadcast response was lost, but the transaction may have
	// reached the node. Failing the attempt here would free its sequence
	// number for a retry that can pay the recipient a second time.
	att, err := sub.Submit(ctx, "prop-1", testPayment("pay-1", "10"), 1, 0, key, sender)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomePending, att.Outcome)

	persisted, err := led.PaymentAttempts(ctx, "prop-1", "pay-1")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, contracts.OutcomePending, persisted[0].Outcome)

	outcome, _, err := sub.Poll(ctx, att)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeConfirmed, outcome)
	assert.Equal(t, 1, network.Broadcasts())
}
