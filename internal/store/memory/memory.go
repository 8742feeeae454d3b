// Package memory holds an in-process Store used by tests. It mirrors the
// Postgres implementation's atomicity under a single mutex. It must never be
// wired into a deployment: replay protection and balances would diverge the
// moment a second instance starts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paygate-labs/paygate/internal/domain"
	"github.com/paygate-labs/paygate/internal/store"
)

type balanceKey struct {
	account string
	network string
	mint    string
}

// Store keeps everything behind one lock.
type Store struct {
	mu        sync.Mutex
	balances  map[balanceKey]*domain.BudgetBalance
	transfers map[string]domain.TransferRecord
	claims    map[string]domain.ReferenceClaim
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		balances:  make(map[balanceKey]*domain.BudgetBalance),
		transfers: make(map[string]domain.TransferRecord),
		claims:    make(map[string]domain.ReferenceClaim),
	}
}

func (s *Store) Balance(_ context.Context, account, network, mint string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[balanceKey{account, network, mint}]; ok {
		return b.Amount, nil
	}
	return 0, nil
}

func (s *Store) BalanceDetail(_ context.Context, account, network, mint string) (*domain.BudgetBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[balanceKey{account, network, mint}]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) Transfers(_ context.Context, account, network string, limit int) ([]domain.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []domain.TransferRecord
	for _, r := range s.transfers {
		if r.FromAccount == account && r.Network == network {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Credit(_ context.Context, rec domain.TransferRecord, referenceTTL time.Duration) (bool, error) {
	if rec.Amount <= 0 {
		return false, fmt.Errorf("%w: credit amount must be positive", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.transfers[rec.Signature]; dup {
		return false, nil
	}
	if rec.Reference != "" {
		if _, claimed := s.claims[rec.Reference]; claimed {
			return false, nil
		}
	}

	s.insertTransferLocked(rec)
	if rec.Reference != "" {
		s.claimLocked(rec.Reference, referenceTTL)
	}

	key := balanceKey{rec.FromAccount, rec.Network, rec.TokenMint}
	b, ok := s.balances[key]
	if !ok {
		b = &domain.BudgetBalance{
			Account:   rec.FromAccount,
			Network:   rec.Network,
			TokenMint: rec.TokenMint,
		}
		s.balances[key] = b
	}
	b.Amount += rec.Amount
	b.TokenDecimals = rec.TokenDecimals
	b.TokenSymbol = rec.TokenSymbol
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) DebitForAccess(_ context.Context, rec domain.TransferRecord) (bool, error) {
	if rec.Amount <= 0 {
		return false, fmt.Errorf("%w: debit amount must be positive", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey{rec.FromAccount, rec.Network, rec.TokenMint}]
	if !ok || b.Amount < rec.Amount {
		return false, nil
	}
	if _, dup := s.transfers[rec.Signature]; dup {
		return false, nil
	}

	b.Amount -= rec.Amount
	b.UpdatedAt = time.Now().UTC()
	s.insertTransferLocked(rec)
	return true, nil
}

func (s *Store) SettleAccess(_ context.Context, rec domain.TransferRecord, referenceTTL time.Duration) (bool, error) {
	if rec.Reference == "" {
		return false, fmt.Errorf("%w: settle requires a reference", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.transfers[rec.Signature]; dup {
		return false, nil
	}
	if _, claimed := s.claims[rec.Reference]; claimed {
		return false, nil
	}

	s.insertTransferLocked(rec)
	s.claimLocked(rec.Reference, referenceTTL)
	return true, nil
}

func (s *Store) IsReferenceClaimed(_ context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claims[reference]
	return ok, nil
}

func (s *Store) PurgeExpiredReferences(_ context.Context, grace time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-grace)
	var n int64
	for ref, c := range s.claims {
		if c.ExpiresAt.Before(cutoff) {
			delete(s.claims, ref)
			n++
		}
	}
	return n, nil
}

// TransferCount reports the size of the transfer log, for test assertions.
func (s *Store) TransferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *Store) insertTransferLocked(rec domain.TransferRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.transfers[rec.Signature] = rec
}

func (s *Store) claimLocked(reference string, ttl time.Duration) {
	now := time.Now().UTC()
	s.claims[reference] = domain.ReferenceClaim{
		Reference: reference,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
