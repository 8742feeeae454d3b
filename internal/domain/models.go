package domain

import "time"

// TransferKind classifies an entry in the append-only transfer log.
type TransferKind string

const (
	// KindTopUp credits a budget balance from a verified on-chain payment.
	KindTopUp TransferKind = "top-up"
	// KindMeteredAccess debits a budget balance for one resource access.
	KindMeteredAccess TransferKind = "metered-access"
	// KindOneTimeAccess grants one access from a verified on-chain payment
	// without touching any budget balance.
	KindOneTimeAccess TransferKind = "one-time-access"
)

// TransferRecord is one row of the append-only audit log. Signature is the
// unique key: re-inserting a record for an already-settled transaction is a
// no-op, which is what makes retries and replays idempotent at the storage
// layer.
type TransferRecord struct {
	Signature     string       `json:"signature"`
	Kind          TransferKind `json:"kind"`
	FromAccount   string       `json:"from_account"`
	ToAccount     string       `json:"to_account"`
	Network       string       `json:"network"`
	Amount        int64        `json:"amount"` // smallest units
	TokenDecimals uint8        `json:"token_decimals"`
	TokenSymbol   string       `json:"token_symbol"`
	TokenMint     string       `json:"token_mint"`
	Reference     string       `json:"reference,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// BudgetBalance is one pre-funded balance row per (account, network, mint).
// Amount is in smallest units and never negative; it is only ever mutated
// through the store's atomic credit/debit primitives.
type BudgetBalance struct {
	Account       string    `json:"account"`
	Network       string    `json:"network"`
	TokenMint     string    `json:"token_mint"`
	Amount        int64     `json:"amount"`
	TokenDecimals uint8     `json:"token_decimals"`
	TokenSymbol   string    `json:"token_symbol"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ReferenceClaim marks a correlation reference as consumed. Existence of the
// row is the invariant; ExpiresAt only drives hygiene eviction well past any
// realistic retry horizon.
type ReferenceClaim struct {
	Reference string    `json:"reference"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Invoice is the payment challenge issued when budget is insufficient.
// The wire shape is stable: clients build the payment transaction directly
// from these fields, embedding Reference in the transaction memo.
type Invoice struct {
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"` // display decimal, e.g. "0.10"
	TokenMint   string `json:"tokenMint"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}
