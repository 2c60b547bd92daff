package bank

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory aggregator used when no credentials are
// configured and by tests. Transactions and accounts are seeded per item.
type FakeClient struct {
	mu sync.Mutex

	accounts map[string][]Account
	txs      map[string][]Transaction
	sessions int

	Payments []PaymentRequest

	ListErr error
	PayErr  error
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		accounts: make(map[string][]Account),
		txs:      make(map[string][]Transaction),
	}
}

func (f *FakeClient) SeedAccounts(itemID string, accounts ...Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[itemID] = accounts
}

func (f *FakeClient) SeedTransactions(itemID, accountID string, txs ...Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[itemID+":"+accountID] = append(f.txs[itemID+":"+accountID], txs...)
}

func (f *FakeClient) CreateConnection(_ context.Context, _ string) (ConnectSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	token := fmt.Sprintf("connect-%d", f.sessions)
	return ConnectSession{
		ConnectToken: token,
		ConnectURL:   "https://connect.example/" + token,
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}, nil
}

func (f *FakeClient) FetchAccountSnapshot(_ context.Context, itemID string) ([]Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accounts := f.accounts[itemID]
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	out := make([]Account, len(accounts))
	copy(out, accounts)
	return out, nil
}

// ListTransactions is since-inclusive, like the upstream from filter. Callers
// dedupe boundary transactions themselves.
func (f *FakeClient) ListTransactions(_ context.Context, itemID, accountID string, since time.Time) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var out []Transaction
	for _, tx := range f.txs[itemID+":"+accountID] {
		if !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *FakeClient) InitiatePayment(_ context.Context, req PaymentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PayErr != nil {
		return f.PayErr
	}
	f.Payments = append(f.Payments, req)
	return nil
}
