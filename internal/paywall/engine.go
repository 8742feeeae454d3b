// Package paywall decides access to priced resources: debit a pre-funded
// budget, verify a one-time on-chain payment, or challenge the caller with
// an invoice. Side effects are strictly ordered behind verification and go
// through the store's atomic primitives, so a replayed proof or a crashed
// retry can never grant twice.
package paywall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/paygate-labs/paygate/internal/amount"
	"github.com/paygate-labs/paygate/internal/catalog"
	"github.com/paygate-labs/paygate/internal/chain"
	"github.com/paygate-labs/paygate/internal/domain"
	"github.com/paygate-labs/paygate/internal/store"
	"github.com/paygate-labs/paygate/internal/verify"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paygate_paywall_decisions_total",
	Help: "Paywall decisions by outcome and method or denial reason",
}, []string{"decision", "detail"})

// Decision is the terminal state of one evaluation.
type Decision string

const (
	DecisionGranted   Decision = "granted"
	DecisionChallenge Decision = "challenge"
	DecisionDenied    Decision = "denied"
)

// Method says how access was granted.
type Method string

const (
	MethodBudget  Method = "budget"
	MethodPayment Method = "payment"
	MethodFree    Method = "free"
)

// Request is one access attempt against a priced resource. Account enables
// the budget path; Signature+Reference carry a payment proof.
type Request struct {
	Resource  string
	Account   string
	Signature string
	Reference string
}

// Outcome is the engine's verdict. Invoice is set only on DecisionChallenge;
// Reason only on DecisionDenied.
type Outcome struct {
	Decision Decision
	Method   Method
	Invoice  *domain.Invoice
	Reason   domain.DenialReason
}

// DeniedError carries a denial reason out of the top-up flow.
type DeniedError struct {
	Reason domain.DenialReason
	Detail string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied: %s: %s", e.Reason, e.Detail)
}

// TopUpResult reports a successful budget credit.
type TopUpResult struct {
	Credited int64 `json:"credited"` // smallest units actually credited
	Balance  int64 `json:"balance"`  // resulting budget
}

// Config holds engine policy.
type Config struct {
	// Recipient is the custodial wallet payments must land on.
	Recipient string
	// Network tags every persisted row (e.g. mainnet-beta, devnet).
	Network string
	// TokenSymbol is recorded on transfer rows for display purposes.
	TokenSymbol string
	// AccessReferenceTTL bounds the hygiene window of one-time access
	// references; TopUpReferenceTTL the top-up ones. Correctness never
	// depends on either.
	AccessReferenceTTL time.Duration
	TopUpReferenceTTL  time.Duration
}

func (c *Config) applyDefaults() {
	if c.AccessReferenceTTL <= 0 {
		c.AccessReferenceTTL = 5 * time.Minute
	}
	if c.TopUpReferenceTTL <= 0 {
		c.TopUpReferenceTTL = time.Hour
	}
}

// Engine is the paywall orchestrator.
type Engine struct {
	store    store.Store
	verifier *verify.Verifier
	ledger   chain.Client
	catalog  catalog.Catalog
	cfg      Config
	log      zerolog.Logger
}

func New(st store.Store, verifier *verify.Verifier, ledger chain.Client, cat catalog.Catalog, cfg Config, log zerolog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    st,
		verifier: verifier,
		ledger:   ledger,
		catalog:  cat,
		cfg:      cfg,
		log:      log.With().Str("component", "paywall").Logger(),
	}
}

func granted(method Method) Outcome {
	decisionsTotal.WithLabelValues(string(DecisionGranted), string(method)).Inc()
	return Outcome{Decision: DecisionGranted, Method: method}
}

func denied(reason domain.DenialReason) Outcome {
	decisionsTotal.WithLabelValues(string(DecisionDenied), string(reason)).Inc()
	return Outcome{Decision: DecisionDenied, Reason: reason}
}

// Evaluate runs the access state machine for one request.
//
// Order matters: the budget debit is attempted first, then a carried payment
// proof, and only when neither applies is a fresh invoice issued. Granted
// and Denied are terminal; a challenge expects a resubmission carrying the
// invoice's reference.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Outcome, error) {
	price, mint, err := e.catalog.PriceOf(req.Resource)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Outcome{}, domain.ErrResourceUnknown
		}
		return Outcome{}, fmt.Errorf("price lookup: %w", err)
	}
	if price.IsZero() {
		return granted(MethodFree), nil
	}

	if req.Account != "" {
		out, done, err := e.tryBudget(ctx, req.Account, price, mint)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			return out, nil
		}
	}

	if req.Signature != "" && req.Reference != "" {
		return e.redeemProof(ctx, req, price, mint)
	}

	invoice := e.newInvoice(price, mint, fmt.Sprintf("Access to %s", req.Resource))
	decisionsTotal.WithLabelValues(string(DecisionChallenge), "invoice").Inc()
	e.log.Debug().Str("resource", req.Resource).Str("reference", invoice.Reference).
		Msg("challenge issued")
	return Outcome{Decision: DecisionChallenge, Invoice: invoice}, nil
}

// tryBudget attempts the atomic debit. done=false means insufficient funds
// and the caller should fall through to the proof or challenge path.
func (e *Engine) tryBudget(ctx context.Context, account string, price decimal.Decimal, mint string) (Outcome, bool, error) {
	decimals, err := e.ledger.GetTokenDecimals(ctx, mint)
	if err != nil {
		if errors.Is(err, chain.ErrInvalidID) {
			return denied(domain.ReasonValidation), true, nil
		}
		// Fail closed: without the precision there is no safe debit.
		e.log.Warn().Err(err).Str("mint", mint).Msg("decimals unavailable, denying")
		return denied(domain.ReasonUnavailable), true, nil
	}

	priceUnits, err := amount.ToSmallestUnit(price, decimals)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if priceUnits == 0 {
		// Price floors to nothing at this precision.
		return granted(MethodFree), true, nil
	}

	rec := domain.TransferRecord{
		Signature:     "budget-" + uuid.NewString(),
		Kind:          domain.KindMeteredAccess,
		FromAccount:   account,
		ToAccount:     e.cfg.Recipient,
		Network:       e.cfg.Network,
		Amount:        priceUnits,
		TokenDecimals: decimals,
		TokenSymbol:   e.cfg.TokenSymbol,
		TokenMint:     mint,
	}
	ok, err := e.store.DebitForAccess(ctx, rec)
	if err != nil {
		return Outcome{}, false, err
	}
	if !ok {
		return Outcome{}, false, nil
	}
	e.log.Info().Str("account", account).Int64("amount", priceUnits).Str("mint", mint).
		Msg("access granted from budget")
	return granted(MethodBudget), true, nil
}

func (e *Engine) redeemProof(ctx context.Context, req Request, price decimal.Decimal, mint string) (Outcome, error) {
	claimed, err := e.store.IsReferenceClaimed(ctx, req.Reference)
	if err != nil {
		return Outcome{}, err
	}
	if claimed {
		e.log.Warn().Str("reference", req.Reference).Str("signature", req.Signature).
			Msg("replayed payment proof rejected")
		return denied(domain.ReasonReplayAttack), nil
	}

	res := e.verifier.Verify(ctx, verify.Params{
		Signature:      req.Signature,
		Reference:      req.Reference,
		ExpectedAmount: price,
		TokenMint:      mint,
		Recipient:      e.cfg.Recipient,
	})
	if !res.OK {
		return denied(reasonForCode(res.Code)), nil
	}

	rec := domain.TransferRecord{
		Signature:     req.Signature,
		Kind:          domain.KindOneTimeAccess,
		FromAccount:   req.Account,
		ToAccount:     e.cfg.Recipient,
		Network:       e.cfg.Network,
		Amount:        res.Received,
		TokenDecimals: res.Decimals,
		TokenSymbol:   e.cfg.TokenSymbol,
		TokenMint:     mint,
		Reference:     req.Reference,
	}
	ok, err := e.store.SettleAccess(ctx, rec, e.cfg.AccessReferenceTTL)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		// Lost the claim race to a concurrent duplicate submission.
		return denied(domain.ReasonReplayAttack), nil
	}
	e.log.Info().Str("signature", req.Signature).Int64("amount", res.Received).
		Msg("access granted from verified payment")
	return granted(MethodPayment), nil
}

// TopUpInvoice issues a payment challenge for a budget top-up.
func (e *Engine) TopUpInvoice(account string, amt decimal.Decimal, mint string) (*domain.Invoice, error) {
	if account == "" || mint == "" || !amt.IsPositive() {
		return nil, fmt.Errorf("%w: account, mint and a positive amount are required", domain.ErrValidation)
	}
	return e.newInvoice(amt, mint, fmt.Sprintf("Budget top-up for %s", account)), nil
}

// TopUp verifies a payment proof and credits the payer's budget with the
// full received amount. Idempotent per transaction signature.
func (e *Engine) TopUp(ctx context.Context, account, signature, reference, mint string, expected decimal.Decimal) (*TopUpResult, error) {
	if account == "" || signature == "" || reference == "" || mint == "" {
		return nil, fmt.Errorf("%w: account, signature, reference and mint are required", domain.ErrValidation)
	}

	claimed, err := e.store.IsReferenceClaimed(ctx, reference)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, &DeniedError{Reason: domain.ReasonReplayAttack, Detail: "reference already claimed"}
	}

	res := e.verifier.Verify(ctx, verify.Params{
		Signature:      signature,
		Reference:      reference,
		ExpectedAmount: expected,
		TokenMint:      mint,
		Recipient:      e.cfg.Recipient,
	})
	if !res.OK {
		return nil, &DeniedError{Reason: reasonForCode(res.Code), Detail: res.Detail}
	}
	if res.Received <= 0 {
		return nil, &DeniedError{Reason: domain.ReasonInsufficientAmount, Detail: "no amount received"}
	}

	rec := domain.TransferRecord{
		Signature:     signature,
		Kind:          domain.KindTopUp,
		FromAccount:   account,
		ToAccount:     e.cfg.Recipient,
		Network:       e.cfg.Network,
		Amount:        res.Received,
		TokenDecimals: res.Decimals,
		TokenSymbol:   e.cfg.TokenSymbol,
		TokenMint:     mint,
		Reference:     reference,
	}
	applied, err := e.store.Credit(ctx, rec, e.cfg.TopUpReferenceTTL)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &DeniedError{Reason: domain.ReasonReplayAttack, Detail: "transaction already credited"}
	}

	balance, err := e.store.Balance(ctx, account, e.cfg.Network, mint)
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("account", account).Int64("credited", res.Received).Int64("balance", balance).
		Msg("budget topped up")
	return &TopUpResult{Credited: res.Received, Balance: balance}, nil
}

func (e *Engine) newInvoice(amt decimal.Decimal, mint, description string) *domain.Invoice {
	return &domain.Invoice{
		Recipient:   e.cfg.Recipient,
		Amount:      amt.String(),
		TokenMint:   mint,
		Reference:   uuid.NewString(),
		Description: description,
	}
}

func reasonForCode(code verify.Code) domain.DenialReason {
	switch code {
	case verify.CodeNotFound:
		return domain.ReasonNotFound
	case verify.CodeFailed:
		return domain.ReasonFailed
	case verify.CodeReferenceMismatch:
		return domain.ReasonReferenceMismatch
	case verify.CodeInsufficientAmount:
		return domain.ReasonInsufficientAmount
	case verify.CodeUnavailable:
		return domain.ReasonUnavailable
	default:
		return domain.ReasonValidation
	}
}
