package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paygate-labs/paygate/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the production Store implementation.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects a pool and verifies connectivity.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// Migrate applies the embedded schema migrations.
func Migrate(dbURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	// golang-migrate's pgx/v5 driver registers the pgx5 scheme.
	url := dbURL
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, scheme) {
			url = "pgx5://" + strings.TrimPrefix(url, scheme)
			break
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("open migration target: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}

func (s *PostgresStore) Balance(ctx context.Context, account, network, mint string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		"SELECT amount FROM balances WHERE account = $1 AND network = $2 AND token_mint = $3",
		account, network, mint,
	).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("balance query", err)
	}
	return balance, nil
}

func (s *PostgresStore) BalanceDetail(ctx context.Context, account, network, mint string) (*domain.BudgetBalance, error) {
	var b domain.BudgetBalance
	err := s.db.QueryRow(ctx,
		`SELECT account, network, token_mint, amount, token_decimals, token_symbol, updated_at
		 FROM balances WHERE account = $1 AND network = $2 AND token_mint = $3`,
		account, network, mint,
	).Scan(&b.Account, &b.Network, &b.TokenMint, &b.Amount, &b.TokenDecimals, &b.TokenSymbol, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("balance detail query", err)
	}
	return &b, nil
}

func (s *PostgresStore) Transfers(ctx context.Context, account, network string, limit int) ([]domain.TransferRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT signature, kind, from_account, to_account, network, amount,
		        token_decimals, token_symbol, token_mint, COALESCE(reference, ''), created_at
		 FROM transfers
		 WHERE from_account = $1 AND network = $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		account, network, limit)
	if err != nil {
		return nil, storageErr("transfers query", err)
	}
	defer rows.Close()

	var out []domain.TransferRecord
	for rows.Next() {
		var r domain.TransferRecord
		if err := rows.Scan(&r.Signature, &r.Kind, &r.FromAccount, &r.ToAccount, &r.Network,
			&r.Amount, &r.TokenDecimals, &r.TokenSymbol, &r.TokenMint, &r.Reference, &r.CreatedAt); err != nil {
			return nil, storageErr("transfers scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("transfers rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Credit(ctx context.Context, rec domain.TransferRecord, referenceTTL time.Duration) (bool, error) {
	if rec.Amount <= 0 {
		return false, fmt.Errorf("%w: credit amount must be positive", domain.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, storageErr("tx begin", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertTransfer(ctx, tx, rec)
	if err != nil {
		return false, err
	}
	if !inserted {
		// Signature already settled; retrying must not double-credit.
		return false, nil
	}

	if rec.Reference != "" {
		claimed, err := claimReference(ctx, tx, rec.Reference, referenceTTL)
		if err != nil {
			return false, err
		}
		if !claimed {
			return false, nil
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balances (account, network, token_mint, amount, token_decimals, token_symbol, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (account, network, token_mint)
		 DO UPDATE SET amount = balances.amount + EXCLUDED.amount,
		               token_decimals = EXCLUDED.token_decimals,
		               token_symbol = EXCLUDED.token_symbol,
		               updated_at = now()`,
		rec.FromAccount, rec.Network, rec.TokenMint, rec.Amount, rec.TokenDecimals, rec.TokenSymbol)
	if err != nil {
		return false, storageErr("balance credit", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("tx commit", err)
	}
	return true, nil
}

func (s *PostgresStore) DebitForAccess(ctx context.Context, rec domain.TransferRecord) (bool, error) {
	if rec.Amount <= 0 {
		return false, fmt.Errorf("%w: debit amount must be positive", domain.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, storageErr("tx begin", err)
	}
	defer tx.Rollback(ctx)

	// The balance check and decrement are one conditional update; two
	// concurrent debits against a balance sufficient for only one cannot
	// both match the WHERE clause.
	tag, err := tx.Exec(ctx,
		`UPDATE balances SET amount = amount - $4, updated_at = now()
		 WHERE account = $1 AND network = $2 AND token_mint = $3 AND amount >= $4`,
		rec.FromAccount, rec.Network, rec.TokenMint, rec.Amount)
	if err != nil {
		return false, storageErr("conditional debit", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	inserted, err := insertTransfer(ctx, tx, rec)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("tx commit", err)
	}
	return true, nil
}

func (s *PostgresStore) SettleAccess(ctx context.Context, rec domain.TransferRecord, referenceTTL time.Duration) (bool, error) {
	if rec.Reference == "" {
		return false, fmt.Errorf("%w: settle requires a reference", domain.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, storageErr("tx begin", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertTransfer(ctx, tx, rec)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	claimed, err := claimReference(ctx, tx, rec.Reference, referenceTTL)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("tx commit", err)
	}
	return true, nil
}

func (s *PostgresStore) IsReferenceClaimed(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM claimed_references WHERE reference = $1)", reference,
	).Scan(&exists)
	if err != nil {
		return false, storageErr("reference query", err)
	}
	return exists, nil
}

func (s *PostgresStore) PurgeExpiredReferences(ctx context.Context, grace time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM claimed_references WHERE expires_at < now() - $1::interval",
		fmt.Sprintf("%d seconds", int64(grace.Seconds())))
	if err != nil {
		return 0, storageErr("reference purge", err)
	}
	return tag.RowsAffected(), nil
}

// insertTransfer appends the record, treating a signature conflict as "not
// inserted" rather than an error. Runs inside the caller's transaction.
func insertTransfer(ctx context.Context, tx pgx.Tx, rec domain.TransferRecord) (bool, error) {
	var ref any
	if rec.Reference != "" {
		ref = rec.Reference
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO transfers (signature, kind, from_account, to_account, network, amount,
		                        token_decimals, token_symbol, token_mint, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (signature) DO NOTHING`,
		rec.Signature, rec.Kind, rec.FromAccount, rec.ToAccount, rec.Network, rec.Amount,
		rec.TokenDecimals, rec.TokenSymbol, rec.TokenMint, ref)
	if err != nil {
		return false, storageErr("transfer insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// claimReference is the single atomic insert-if-absent that enforces
// at-most-once claims. A check followed by an insert would race under
// concurrent duplicate submissions.
func claimReference(ctx context.Context, tx pgx.Tx, reference string, ttl time.Duration) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO claimed_references (reference, claimed_at, expires_at)
		 VALUES ($1, now(), now() + $2::interval)
		 ON CONFLICT (reference) DO NOTHING`,
		reference, fmt.Sprintf("%d seconds", int64(ttl.Seconds())))
	if err != nil {
		return false, storageErr("reference claim", err)
	}
	return tag.RowsAffected() == 1, nil
}
