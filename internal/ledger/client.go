package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrBackingInsufficient is returned when the token contract rejects a
	// mint that would push total supply past the oracle's backed balance.
	ErrBackingInsufficient = errors.New("backing insufficient for mint")
	// ErrUnauthorized is returned when the submitting signer is not the
	// token's master minter.
	ErrUnauthorized = errors.New("signer is not the token admin")
	// ErrInsufficientBalance is returned by the local pre-check when the
	// operator wallet does not hold enough tokens to burn.
	ErrInsufficientBalance = errors.New("operator balance below requested amount")
	// ErrInvalidBalance is returned when a negative backed balance would be
	// pushed to the oracle.
	ErrInvalidBalance = errors.New("backed balance cannot be negative")
)

// Receipt reports the transaction hash of a confirmed mutating call.
type Receipt struct {
	TxHash string
}

// Client abstracts the on-chain token + oracle interaction. One client is
// bound to one network and one operator signing key; mutating calls block
// until the transaction is confirmed or fails.
type Client interface {
	Decimals(ctx context.Context, token string) (uint8, error)
	AdminAddress(ctx context.Context, token string) (string, error)
	BackingOracle(ctx context.Context, token string) (string, error)
	BalanceOf(ctx context.Context, token, holder string) (*big.Int, error)

	// MintToAdmin mints to the token's admin wallet, preferring the
	// adminMintBacked path when the contract exposes it.
	MintToAdmin(ctx context.Context, token string, amount *big.Int) (Receipt, error)
	Transfer(ctx context.Context, token, to string, amount *big.Int) (Receipt, error)
	// BurnFromOperator burns from the operator wallet. The balance is
	// checked locally first so a short balance fails without spending a
	// transaction.
	BurnFromOperator(ctx context.Context, token string, amount *big.Int) (Receipt, error)

	LinkAccount(ctx context.Context, oracle, token, accountID string) (Receipt, error)
	UpdateBalance(ctx context.Context, oracle, token, accountID string, minorUnits int64) (Receipt, error)

	// OperatorAddress is the engine's own signing identity on this network.
	OperatorAddress() string
}

// HealthChecker is optionally implemented by clients that can probe their
// RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
