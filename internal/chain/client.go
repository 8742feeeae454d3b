// Package chain is the adapter onto the external ledger network. It is the
// only place in the engine that performs network I/O: everything above it
// works on the normalized Transaction view returned from here.
package chain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the transaction is absent at every confirmation
	// depth queried. Terminal for the proof that referenced it.
	ErrNotFound = errors.New("transaction not found")
	// ErrUnavailable means the ledger node could not be reached or timed
	// out. Retryable by the caller; the engine fails closed on it.
	ErrUnavailable = errors.New("ledger node unavailable")
	// ErrInvalidID means the supplied transaction or mint identifier does
	// not parse. Rejected before any network call.
	ErrInvalidID = errors.New("invalid identifier")
)

// TokenBalance is a token-account balance snapshot within a transaction,
// attributed to the owning wallet.
type TokenBalance struct {
	Owner  string
	Mint   string
	Amount uint64 // smallest units
}

// Transaction is the normalized view of a settled ledger transaction,
// reduced to what payment verification needs.
type Transaction struct {
	Signature string
	Failed    bool // errored on chain

	// Memo is the correlation memo, if any instruction carried one.
	Memo    string
	HasMemo bool

	// Pre and Post are the token balances before and after execution.
	Pre  []TokenBalance
	Post []TokenBalance

	// TransferAmounts are the raw amounts decoded from token-program
	// transfer instructions, used as a fallback when the recipient's
	// balance delta is structurally zero (self-referential transfers).
	TransferAmounts []uint64
}

// Client fetches finalized transactions and token metadata from the ledger
// network.
type Client interface {
	// GetFinalizedTransaction fetches a settled transaction by signature,
	// retrying across confirmation depths before giving up. Returns
	// ErrNotFound, ErrUnavailable or ErrInvalidID.
	GetFinalizedTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetTokenDecimals reports a mint's decimal precision. Decimals are
	// immutable per mint, so implementations may cache.
	GetTokenDecimals(ctx context.Context, mint string) (uint8, error)
}
