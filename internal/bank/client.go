// Package bank wraps the external account aggregator: connection creation,
// account snapshots, transaction listing and payouts.
package bank

import (
	"context"
	"errors"
	"time"
)

// ErrNoAccounts is returned when an item resolves to an empty account list.
var ErrNoAccounts = errors.New("no accounts found for item")

// ConnectSession is the widget hand-off returned by connection creation.
type ConnectSession struct {
	ConnectToken string
	ConnectURL   string
	ExpiresAt    time.Time
}

// Account is one bank account inside an item. Balance is in major currency
// units; conversion to minor units happens at the engine boundary.
type Account struct {
	ID           string
	BalanceMajor float64
	CurrencyCode string
}

// Transaction is a single bank movement. Description carries the free-text
// counterparty field the matcher reads the payment key from.
type Transaction struct {
	ID          string
	Description string
	AmountMajor float64
	Timestamp   time.Time
}

// PaymentRequest asks the aggregator to pay out to an external payment key.
type PaymentRequest struct {
	AccountID    string
	RecipientKey string
	AmountMajor  float64
}

// Client abstracts the aggregator API.
type Client interface {
	CreateConnection(ctx context.Context, redirectTarget string) (ConnectSession, error)
	// FetchAccountSnapshot lists the accounts of a connected item. Fails
	// with ErrNoAccounts when the item has none.
	FetchAccountSnapshot(ctx context.Context, itemID string) ([]Account, error)
	// ListTransactions returns all transactions since the given instant, in
	// fetch order. Each call re-fetches from since; there is no server-side
	// cursor to resume.
	ListTransactions(ctx context.Context, itemID, accountID string, since time.Time) ([]Transaction, error)
	InitiatePayment(ctx context.Context, req PaymentRequest) error
}
