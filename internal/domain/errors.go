package domain

import "errors"

// Sentinel errors crossing internal boundaries. Handlers map these onto
// HTTP statuses; the paywall engine maps them onto denial reasons.
var (
	ErrValidation      = errors.New("invalid input")
	ErrResourceUnknown = errors.New("resource not found")
	ErrStorage         = errors.New("storage unavailable")
)

// DenialReason explains a terminal Denied outcome to the caller without
// leaking internals.
type DenialReason string

const (
	ReasonNotFound           DenialReason = "transaction not found"
	ReasonFailed             DenialReason = "transaction failed on chain"
	ReasonReferenceMismatch  DenialReason = "reference mismatch"
	ReasonInsufficientAmount DenialReason = "insufficient amount"
	ReasonReplayAttack       DenialReason = "replay attack"
	ReasonUnavailable        DenialReason = "ledger unavailable"
	ReasonValidation         DenialReason = "invalid request"
)
