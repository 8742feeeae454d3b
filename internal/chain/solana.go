package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

// DefaultRPCTimeout bounds a single RPC attempt.
const DefaultRPCTimeout = 10 * time.Second

// SolanaClient implements Client against a Solana JSON-RPC node.
type SolanaClient struct {
	rpc     *rpc.Client
	timeout time.Duration
	log     zerolog.Logger

	// decimals per mint never change once the mint exists, so a
	// process-local cache is safe.
	decimals sync.Map // mint string -> uint8
}

var _ Client = (*SolanaClient)(nil)

// NewSolanaClient builds a client for the given RPC endpoint.
func NewSolanaClient(endpoint string, timeout time.Duration, log zerolog.Logger) *SolanaClient {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &SolanaClient{
		rpc:     rpc.New(endpoint),
		timeout: timeout,
		log:     log.With().Str("component", "chain").Logger(),
	}
}

// GetFinalizedTransaction fetches the transaction at finalized commitment
// and retries once at confirmed, since a lagging node may not have caught up
// to finality yet.
func (c *SolanaClient) GetFinalizedTransaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature %q", ErrInvalidID, signature)
	}

	maxVersion := uint64(0)
	lastErr := error(ErrNotFound)
	for _, commitment := range []rpc.CommitmentType{rpc.CommitmentFinalized, rpc.CommitmentConfirmed} {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.rpc.GetTransaction(attemptCtx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		cancel()
		if err == nil {
			return parseTransaction(signature, out)
		}
		if errors.Is(err, rpc.ErrNotFound) {
			lastErr = ErrNotFound
			continue
		}
		c.log.Warn().Err(err).Str("signature", signature).Str("commitment", string(commitment)).
			Msg("transaction fetch failed")
		lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil, lastErr
}

// GetTokenDecimals reads the mint's decimal count via the token supply. The
// first successful lookup per mint is cached for the process lifetime.
func (c *SolanaClient) GetTokenDecimals(ctx context.Context, mint string) (uint8, error) {
	if v, ok := c.decimals.Load(mint); ok {
		return v.(uint8), nil
	}

	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("%w: mint %q", ErrInvalidID, mint)
	}

	var lastErr error
	for _, commitment := range []rpc.CommitmentType{rpc.CommitmentFinalized, rpc.CommitmentConfirmed} {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.rpc.GetTokenSupply(attemptCtx, pk, commitment)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}
		if out == nil || out.Value == nil {
			lastErr = fmt.Errorf("%w: empty token supply for %s", ErrUnavailable, mint)
			continue
		}
		d := out.Value.Decimals
		c.decimals.Store(mint, d)
		return d, nil
	}
	return 0, lastErr
}

func parseTransaction(signature string, out *rpc.GetTransactionResult) (*Transaction, error) {
	if out == nil || out.Transaction == nil {
		return nil, ErrNotFound
	}
	decoded, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", ErrUnavailable, err)
	}

	tx := &Transaction{Signature: signature}
	if out.Meta != nil {
		tx.Failed = out.Meta.Err != nil
		tx.Pre = flattenTokenBalances(out.Meta.PreTokenBalances)
		tx.Post = flattenTokenBalances(out.Meta.PostTokenBalances)
	}
	tx.Memo, tx.HasMemo = extractMemo(decoded)
	tx.TransferAmounts = extractTransferAmounts(decoded)
	return tx, nil
}
