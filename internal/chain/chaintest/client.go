// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/paygate-labs/paygate/internal/chain"
)

// Client serves canned transactions and decimals. Zero value is usable.
type Client struct {
	mu       sync.Mutex
	txs      map[string]*chain.Transaction
	txErrs   map[string]error
	decimals map[string]uint8

	// DecimalsErr, when set, fails every GetTokenDecimals call.
	DecimalsErr error

	// FetchCalls counts GetFinalizedTransaction invocations.
	FetchCalls int
}

var _ chain.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		txs:      make(map[string]*chain.Transaction),
		txErrs:   make(map[string]error),
		decimals: make(map[string]uint8),
	}
}

// SetTransaction registers a transaction under its signature.
func (c *Client) SetTransaction(tx *chain.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[tx.Signature] = tx
}

// SetError makes fetches of signature return err.
func (c *Client) SetError(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txErrs[signature] = err
}

// SetDecimals registers a mint's decimal count.
func (c *Client) SetDecimals(mint string, d uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decimals[mint] = d
}

func (c *Client) GetFinalizedTransaction(_ context.Context, signature string) (*chain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FetchCalls++
	if err := c.txErrs[signature]; err != nil {
		return nil, err
	}
	tx, ok := c.txs[signature]
	if !ok {
		return nil, chain.ErrNotFound
	}
	return tx, nil
}

func (c *Client) GetTokenDecimals(_ context.Context, mint string) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DecimalsErr != nil {
		return 0, c.DecimalsErr
	}
	d, ok := c.decimals[mint]
	if !ok {
		return 0, chain.ErrUnavailable
	}
	return d, nil
}

// Payment builds a settled transaction in which recipient's balance for mint
// grows by amt and the memo carries reference.
func Payment(signature, reference, payer, recipient, mint string, amt uint64) *chain.Transaction {
	return &chain.Transaction{
		Signature: signature,
		Memo:      reference,
		HasMemo:   reference != "",
		Pre: []chain.TokenBalance{
			{Owner: payer, Mint: mint, Amount: amt},
			{Owner: recipient, Mint: mint, Amount: 0},
		},
		Post: []chain.TokenBalance{
			{Owner: payer, Mint: mint, Amount: 0},
			{Owner: recipient, Mint: mint, Amount: amt},
		},
		TransferAmounts: []uint64{amt},
	}
}

// SelfPayment builds a transaction whose recipient balance delta is zero,
// with the amount present only in the transfer instruction.
func SelfPayment(signature, reference, owner, mint string, amt uint64) *chain.Transaction {
	return &chain.Transaction{
		Signature: signature,
		Memo:      reference,
		HasMemo:   reference != "",
		Pre: []chain.TokenBalance{
			{Owner: owner, Mint: mint, Amount: amt},
		},
		Post: []chain.TokenBalance{
			{Owner: owner, Mint: mint, Amount: amt},
		},
		TransferAmounts: []uint64{amt},
	}
}
