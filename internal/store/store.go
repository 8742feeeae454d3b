// Package store persists balances, the transfer log and claimed references.
// All mutation goes through atomic primitives: the conditional debit, the
// credit upsert and the settle are each a single transaction, so concurrent
// requests against the same account cannot observe or create intermediate
// state. The shared database is what keeps replay protection and balances
// consistent across horizontally scaled instances; nothing in production may
// fall back to process-local state.
package store

import (
	"context"
	"time"

	"github.com/paygate-labs/paygate/internal/domain"
)

// Store is the persistence contract consumed by the paywall engine. There is
// exactly one production implementation (Postgres); the memory subpackage
// exists for tests.
type Store interface {
	// Balance reports the budget in smallest units, zero if no row exists.
	Balance(ctx context.Context, account, network, mint string) (int64, error)

	// BalanceDetail returns the full balance row, or nil if absent.
	BalanceDetail(ctx context.Context, account, network, mint string) (*domain.BudgetBalance, error)

	// Transfers lists the account's transfer log, newest first.
	Transfers(ctx context.Context, account, network string, limit int) ([]domain.TransferRecord, error)

	// Credit records a top-up and increments the payer's budget in one
	// transaction. The transfer insert is keyed by signature: a replayed
	// settled transaction applies nothing and returns false. When the
	// record carries a reference it is claimed in the same transaction;
	// a reference already claimed under a different signature also
	// returns false.
	Credit(ctx context.Context, rec domain.TransferRecord, referenceTTL time.Duration) (bool, error)

	// DebitForAccess atomically checks balance >= amount and decrements,
	// inserting the metered-access record in the same transaction.
	// Returns false with no side effects when the budget is insufficient.
	DebitForAccess(ctx context.Context, rec domain.TransferRecord) (bool, error)

	// SettleAccess claims the reference and appends the one-time-access
	// record atomically. Returns false when either the signature or the
	// reference was already consumed.
	SettleAccess(ctx context.Context, rec domain.TransferRecord, referenceTTL time.Duration) (bool, error)

	// IsReferenceClaimed reports whether a reference has been consumed.
	IsReferenceClaimed(ctx context.Context, reference string) (bool, error)

	// PurgeExpiredReferences drops claims whose expiry lies at least grace
	// in the past. Hygiene only; correctness never depends on eviction.
	PurgeExpiredReferences(ctx context.Context, grace time.Duration) (int64, error)
}
