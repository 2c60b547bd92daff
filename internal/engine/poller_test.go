package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"bankrails/internal/bank"
	"bankrails/internal/ledger"
	"bankrails/internal/processed"
	"bankrails/internal/state"
)

func TestPollerReconcilesConnectedTokens(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.connect(t)
	env.ledger.SetBacking(testToken, 100_000)
	_ = env.eng.LinkPaymentKey(ctx, testToken, "bob@pix", testWallet)

	env.bank.SeedAccounts(testItem, bank.Account{ID: testAcct, BalanceMajor: 1000})
	env.bank.SeedTransactions(testItem, testAcct, bank.Transaction{
		ID: "tx-1", Description: "bob@pix", AmountMajor: 10.00, Timestamp: time.Now().Add(-time.Minute),
	})

	poller := NewPoller(env.eng, 10*time.Millisecond, time.Second)
	poller.Start()
	defer poller.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		balance, _ := env.ledger.BalanceOf(ctx, testToken, testWallet)
		if balance.Cmp(big.NewInt(1000)) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("poller never settled the deposit, balance %s", balance)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// blockingBank parks the first transaction fetch until released, simulating
// an in-flight pass that Stop must drain.
type blockingBank struct {
	*bank.FakeClient
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingBank) ListTransactions(ctx context.Context, itemID, accountID string, since time.Time) ([]bank.Transaction, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.FakeClient.ListTransactions(ctx, itemID, accountID, since)
}

func TestPollerStopDrainsInFlightPass(t *testing.T) {
	ctx := context.Background()
	lc := ledger.NewFakeClient(testAdmin)
	bk := &blockingBank{
		FakeClient: bank.NewFakeClient(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	conns := state.NewMemoryConnectionStore()

	eng := New(Config{
		BaseURL:        "https://backend.test",
		LookBack:       time.Hour,
		BankConfigured: true,
	}, bk, map[string]ledger.Client{"celo": lc}, Stores{
		Connections: conns,
		Links:       state.NewMemoryLinkStore(),
		Cursors:     state.NewMemoryCursorStore(),
		Processed:   processed.NewMemoryStore(),
	})

	_ = conns.Save(ctx, testToken, state.Connection{
		Status: state.StatusConnected, Network: "celo", AccountID: testAcct, ItemID: testItem,
	})
	bk.SeedAccounts(testItem, bank.Account{ID: testAcct, BalanceMajor: 1000})

	poller := NewPoller(eng, 10*time.Millisecond, time.Second)
	poller.Start()

	select {
	case <-bk.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("poller never reached the bank client")
	}

	stopped := make(chan struct{})
	go func() {
		poller.Stop()
		close(stopped)
	}()

	// The pass is still parked; Stop must wait for it.
	select {
	case <-stopped:
		t.Fatalf("Stop returned with a pass in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(bk.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return after the pass drained")
	}
}
