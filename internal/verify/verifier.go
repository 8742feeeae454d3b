// Package verify validates claimed on-chain payments against what the ledger
// actually settled. Every outcome is a tagged Result; nothing escapes this
// boundary as an error, so the orchestrator can map each outcome to exactly
// one state transition.
package verify

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/paygate-labs/paygate/internal/amount"
	"github.com/paygate-labs/paygate/internal/chain"
)

// Code tags a verification outcome.
type Code string

const (
	CodeOK                 Code = "ok"
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not-found"
	CodeFailed             Code = "failed"
	CodeReferenceMismatch  Code = "reference-mismatch"
	CodeInsufficientAmount Code = "insufficient-amount"
	CodeUnavailable        Code = "unavailable"
)

// Params describes the payment claim to check.
type Params struct {
	Signature      string
	Reference      string
	ExpectedAmount decimal.Decimal // display units
	TokenMint      string
	Recipient      string
}

// Result is the verifier's verdict. Received and Decimals are only
// meaningful when the transaction was fetched and measured; Result is never
// persisted.
type Result struct {
	OK       bool
	Received int64 // smallest units actually received by the recipient
	Decimals uint8
	Code     Code
	Detail   string
}

func fail(code Code, detail string) Result {
	return Result{Code: code, Detail: detail}
}

// Verifier checks payment claims using the ledger client and exact
// smallest-unit arithmetic.
type Verifier struct {
	ledger chain.Client
	log    zerolog.Logger
}

func New(ledger chain.Client, log zerolog.Logger) *Verifier {
	return &Verifier{ledger: ledger, log: log.With().Str("component", "verify").Logger()}
}

// Verify fetches the finalized transaction, binds it to the expected
// reference via the memo, measures what the recipient received for the mint,
// and compares against the expected amount at the mint's current precision.
// Receiving more than expected succeeds; the excess is treated as an
// intentional over-payment.
func (v *Verifier) Verify(ctx context.Context, p Params) Result {
	if p.Signature == "" || p.Reference == "" || p.TokenMint == "" || p.Recipient == "" {
		return fail(CodeValidation, "signature, reference, mint and recipient are required")
	}
	if p.ExpectedAmount.IsNegative() {
		return fail(CodeValidation, "expected amount must not be negative")
	}

	tx, err := v.ledger.GetFinalizedTransaction(ctx, p.Signature)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrNotFound):
			return fail(CodeNotFound, "transaction not found on ledger")
		case errors.Is(err, chain.ErrInvalidID):
			return fail(CodeValidation, "malformed transaction signature")
		default:
			v.log.Warn().Err(err).Str("signature", p.Signature).Msg("ledger fetch failed")
			return fail(CodeUnavailable, "ledger node unavailable")
		}
	}
	if tx.Failed {
		return fail(CodeFailed, "transaction errored on chain")
	}

	// The memo must match the issued reference byte for byte; absence is a
	// mismatch too, since an unbound payment proves nothing about this
	// request.
	if !tx.HasMemo || tx.Memo != p.Reference {
		return fail(CodeReferenceMismatch, "transaction memo does not match reference")
	}

	decimals, err := v.ledger.GetTokenDecimals(ctx, p.TokenMint)
	if err != nil {
		if errors.Is(err, chain.ErrInvalidID) {
			return fail(CodeValidation, "malformed token mint")
		}
		v.log.Warn().Err(err).Str("mint", p.TokenMint).Msg("token decimals fetch failed")
		return fail(CodeUnavailable, "token decimals unavailable")
	}

	expected, err := amount.ToSmallestUnit(p.ExpectedAmount, decimals)
	if err != nil {
		return fail(CodeValidation, err.Error())
	}

	received := receivedAmount(tx, p.Recipient, p.TokenMint)
	if received < expected {
		v.log.Debug().Int64("received", received).Int64("expected", expected).
			Str("signature", p.Signature).Msg("payment short")
		return Result{Code: CodeInsufficientAmount, Received: received, Decimals: decimals,
			Detail: "received amount below required amount"}
	}

	return Result{OK: true, Code: CodeOK, Received: received, Decimals: decimals}
}

// receivedAmount is the recipient's post-minus-pre token balance delta for
// the mint. A wallet topping up its own custodial record moves nothing
// between owners, so the delta is zero even though the payment is real; in
// that one case the amount encoded in the transfer instruction is used
// instead. The fallback requires the recipient to hold a token account for
// the mint within the transaction: a transfer between strangers that merely
// carries the right memo never counts as received, and a negative delta
// (the recipient paying out) is returned as-is.
func receivedAmount(tx *chain.Transaction, recipient, mint string) int64 {
	delta := sumBalances(tx.Post, recipient, mint) - sumBalances(tx.Pre, recipient, mint)
	if delta != 0 {
		return delta
	}
	if len(tx.TransferAmounts) > 0 && holdsTokenAccount(tx, recipient, mint) {
		return clampToInt64(tx.TransferAmounts[0])
	}
	return delta
}

// holdsTokenAccount reports whether owner appears with a token account for
// mint anywhere in the transaction's balance snapshots.
func holdsTokenAccount(tx *chain.Transaction, owner, mint string) bool {
	for _, balances := range [][]chain.TokenBalance{tx.Pre, tx.Post} {
		for _, tb := range balances {
			if tb.Owner == owner && tb.Mint == mint {
				return true
			}
		}
	}
	return false
}

func sumBalances(balances []chain.TokenBalance, owner, mint string) int64 {
	var sum int64
	for _, tb := range balances {
		if tb.Owner == owner && tb.Mint == mint {
			sum += clampToInt64(tb.Amount)
		}
	}
	return sum
}

func clampToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
