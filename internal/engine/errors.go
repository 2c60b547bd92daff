package engine

import "errors"

var (
	// ErrValidation rejects malformed addresses, keys or amounts before any
	// external call is made.
	ErrValidation = errors.New("invalid input")
	// ErrConfiguration means a required credential or setting is absent.
	// Fatal to the specific operation, not the process.
	ErrConfiguration = errors.New("missing configuration")
	// ErrNetworkNotConfigured means no operator wallet exists for the
	// requested network.
	ErrNetworkNotConfigured = errors.New("network not configured")
	// ErrNotConnected means the token has no connected bank account yet.
	ErrNotConnected = errors.New("token has no connected bank account")
	// ErrInsufficientCustody means the operator wallet does not hold the
	// tokens a redemption claims; the caller must transfer them first.
	ErrInsufficientCustody = errors.New("operator does not hold enough tokens")
	// ErrInconsistent flags a half-settled flow (payout without burn, mint
	// without transfer). Surfaced as an operational alert, never retried
	// automatically.
	ErrInconsistent = errors.New("inconsistent settlement state")
)
