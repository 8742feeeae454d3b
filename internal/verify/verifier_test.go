package verify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygate-labs/paygate/internal/chain"
	"github.com/paygate-labs/paygate/internal/chain/chaintest"
)

const (
	testMint      = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testRecipient = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testPayer     = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func newVerifier(t *testing.T) (*Verifier, *chaintest.Client) {
	t.Helper()
	ledger := chaintest.New()
	ledger.SetDecimals(testMint, 6)
	return New(ledger, zerolog.Nop()), ledger
}

func params(sig, ref, expected string) Params {
	return Params{
		Signature:      sig,
		Reference:      ref,
		ExpectedAmount: decimal.RequireFromString(expected),
		TokenMint:      testMint,
		Recipient:      testRecipient,
	}
}

func TestVerifyExactAmount(t *testing.T) {
	v, ledger := newVerifier(t)
	ledger.SetTransaction(chaintest.Payment("sig-1", "ref-1", testPayer, testRecipient, testMint, 100000))

	res := v.Verify(context.Background(), params("sig-1", "ref-1", "0.10"))
	require.True(t, res.OK)
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, int64(100000), res.Received)
	assert.Equal(t, uint8(6), res.Decimals)
}

func TestVerifyOverPaymentSucceeds(t *testing.T) {
	v, ledger := newVerifier(t)
	ledger.SetTransaction(chaintest.Payment("sig-2", "ref-2", testPayer, testRecipient, testMint, 150000))

	res := v.Verify(context.Background(), params("sig-2", "ref-2", "0.10"))
	require.True(t, res.OK)
	assert.Equal(t, int64(150000), res.Received)
}

func TestVerifyOneUnitShort(t *testing.T) {
	v, ledger := newVerifier(t)
	ledger.SetTransaction(chaintest.Payment("sig-3", "ref-3", testPayer, testRecipient, testMint, 99999))

	res := v.Verify(context.Background(), params("sig-3", "ref-3", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeInsufficientAmount, res.Code)
	assert.Equal(t, int64(99999), res.Received)
}

func TestVerifyReferenceMismatch(t *testing.T) {
	v, ledger := newVerifier(t)
	ledger.SetTransaction(chaintest.Payment("sig-4", "other-ref", testPayer, testRecipient, testMint, 100000))

	res := v.Verify(context.Background(), params("sig-4", "ref-4", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeReferenceMismatch, res.Code)
}

func TestVerifyMissingMemo(t *testing.T) {
	v, ledger := newVerifier(t)
	tx := chaintest.Payment("sig-5", "", testPayer, testRecipient, testMint, 100000)
	ledger.SetTransaction(tx)

	res := v.Verify(context.Background(), params("sig-5", "ref-5", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeReferenceMismatch, res.Code)
}

func TestVerifyNotFound(t *testing.T) {
	v, _ := newVerifier(t)
	res := v.Verify(context.Background(), params("missing", "ref", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestVerifyFailedOnChain(t *testing.T) {
	v, ledger := newVerifier(t)
	tx := chaintest.Payment("sig-6", "ref-6", testPayer, testRecipient, testMint, 100000)
	tx.Failed = true
	ledger.SetTransaction(tx)

	res := v.Verify(context.Background(), params("sig-6", "ref-6", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeFailed, res.Code)
}

func TestVerifyLedgerUnavailable(t *testing.T) {
	v, ledger := newVerifier(t)
	ledger.SetError("sig-7", chain.ErrUnavailable)

	res := v.Verify(context.Background(), params("sig-7", "ref-7", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeUnavailable, res.Code)
}

func TestVerifyDecimalsUnavailable(t *testing.T) {
	v, ledger := newVerifier(t)
	ledger.SetTransaction(chaintest.Payment("sig-8", "ref-8", testPayer, testRecipient, testMint, 100000))
	ledger.DecimalsErr = chain.ErrUnavailable

	res := v.Verify(context.Background(), params("sig-8", "ref-8", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeUnavailable, res.Code)
}

func TestVerifySelfTransferFallback(t *testing.T) {
	v, ledger := newVerifier(t)
	// Recipient balance delta is zero; amount only visible in the transfer
	// instruction.
	ledger.SetTransaction(chaintest.SelfPayment("sig-9", "ref-9", testRecipient, testMint, 100000))

	res := v.Verify(context.Background(), params("sig-9", "ref-9", "0.10"))
	require.True(t, res.OK)
	assert.Equal(t, int64(100000), res.Received)
}

func TestVerifyPaymentToWrongParty(t *testing.T) {
	v, ledger := newVerifier(t)
	// Tokens move between two strangers with the right memo attached; the
	// recipient holds no account in the transaction, so nothing was
	// received and the instruction amount must not be trusted.
	stranger := "BPFLoaderUpgradeab1e11111111111111111111111"
	ledger.SetTransaction(chaintest.Payment("sig-10", "ref-10", testPayer, stranger, testMint, 100000))

	res := v.Verify(context.Background(), params("sig-10", "ref-10", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeInsufficientAmount, res.Code)
	assert.Equal(t, int64(0), res.Received)
}

func TestVerifyNegativeRecipientDelta(t *testing.T) {
	v, ledger := newVerifier(t)
	// The recipient is the one paying out: its balance shrinks, and the
	// transfer instruction amount must not stand in for a receipt.
	ledger.SetTransaction(&chain.Transaction{
		Signature: "sig-11",
		Memo:      "ref-11",
		HasMemo:   true,
		Pre: []chain.TokenBalance{
			{Owner: testRecipient, Mint: testMint, Amount: 100000},
			{Owner: testPayer, Mint: testMint, Amount: 0},
		},
		Post: []chain.TokenBalance{
			{Owner: testRecipient, Mint: testMint, Amount: 0},
			{Owner: testPayer, Mint: testMint, Amount: 100000},
		},
		TransferAmounts: []uint64{100000},
	})

	res := v.Verify(context.Background(), params("sig-11", "ref-11", "0.10"))
	require.False(t, res.OK)
	assert.Equal(t, CodeInsufficientAmount, res.Code)
	assert.Equal(t, int64(-100000), res.Received)
}

func TestVerifyValidation(t *testing.T) {
	v, _ := newVerifier(t)

	res := v.Verify(context.Background(), Params{})
	require.False(t, res.OK)
	assert.Equal(t, CodeValidation, res.Code)

	p := params("sig", "ref", "0.10")
	p.ExpectedAmount = decimal.RequireFromString("-1")
	res = v.Verify(context.Background(), p)
	assert.Equal(t, CodeValidation, res.Code)
}
