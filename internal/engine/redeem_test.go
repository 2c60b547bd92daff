package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"bankrails/internal/ledger"
)

func TestRedeemRequiresCustody(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.connect(t)

	err := env.eng.Redeem(ctx, RedemptionRequest{
		Token:      testToken,
		PaymentKey: "bob@pix",
		Amount:     100,
		Network:    "celo",
	})
	if !errors.Is(err, ErrInsufficientCustody) {
		t.Fatalf("expected ErrInsufficientCustody, got %v", err)
	}
	if len(env.bank.Payments) != 0 {
		t.Fatalf("expected no payout attempt, got %d", len(env.bank.Payments))
	}
	if env.ledger.BurnCalls != 0 {
		t.Fatalf("expected no burn, got %d", env.ledger.BurnCalls)
	}
}

func TestRedeemPaysOutAndBurns(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.connect(t)

	// The user already moved 100.00 worth of tokens to the operator.
	env.ledger.SetBacking(testToken, 100_000)
	env.ledger.Credit(testToken, testAdmin, big.NewInt(10_000))

	err := env.eng.Redeem(ctx, RedemptionRequest{
		Token:      testToken,
		PaymentKey: "bob@pix",
		Amount:     100,
		Network:    "celo",
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if len(env.bank.Payments) != 1 {
		t.Fatalf("expected one payout, got %d", len(env.bank.Payments))
	}
	payout := env.bank.Payments[0]
	if payout.RecipientKey != "bob@pix" || payout.AmountMajor != 100 {
		t.Fatalf("unexpected payout %+v", payout)
	}
	if payout.AccountID != testAcct {
		t.Fatalf("expected payout from %s, got %s", testAcct, payout.AccountID)
	}

	balance, _ := env.ledger.BalanceOf(ctx, testToken, testAdmin)
	if balance.Sign() != 0 {
		t.Fatalf("expected burned operator balance, got %s", balance)
	}
}

func TestRedeemValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cases := []RedemptionRequest{
		{Token: "0xzz", PaymentKey: "bob@pix", Amount: 10, Network: "celo"},
		{Token: testToken, PaymentKey: "   ", Amount: 10, Network: "celo"},
		{Token: testToken, PaymentKey: "bob@pix", Amount: 0, Network: "celo"},
		{Token: testToken, PaymentKey: "bob@pix", Amount: -3, Network: "celo"},
	}
	for i, req := range cases {
		if err := env.eng.Redeem(ctx, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestRedeemUnknownNetwork(t *testing.T) {
	env := newTestEnv()
	err := env.eng.Redeem(context.Background(), RedemptionRequest{
		Token:      testToken,
		PaymentKey: "bob@pix",
		Amount:     10,
		Network:    "mars",
	})
	if !errors.Is(err, ErrNetworkNotConfigured) {
		t.Fatalf("expected ErrNetworkNotConfigured, got %v", err)
	}
}

func TestRedeemPayoutFailureSkipsBurn(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.connect(t)
	env.ledger.SetBacking(testToken, 100_000)
	env.ledger.Credit(testToken, testAdmin, big.NewInt(10_000))

	env.bank.PayErr = fmt.Errorf("payment rail offline")

	err := env.eng.Redeem(ctx, RedemptionRequest{
		Token:      testToken,
		PaymentKey: "bob@pix",
		Amount:     100,
		Network:    "celo",
	})
	if err == nil {
		t.Fatalf("expected payout error")
	}
	if env.ledger.BurnCalls != 0 {
		t.Fatalf("expected no burn after failed payout, got %d", env.ledger.BurnCalls)
	}
}

// burnFailLedger simulates a burn that fails after the payout already left.
type burnFailLedger struct {
	ledger.Client
}

func (b burnFailLedger) BurnFromOperator(context.Context, string, *big.Int) (ledger.Receipt, error) {
	return ledger.Receipt{}, fmt.Errorf("rpc timeout")
}

func TestRedeemBurnFailureIsInconsistent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.connect(t)
	env.ledger.SetBacking(testToken, 100_000)
	env.ledger.Credit(testToken, testAdmin, big.NewInt(10_000))

	env.eng.ledgers["celo"] = burnFailLedger{Client: env.ledger}

	err := env.eng.Redeem(ctx, RedemptionRequest{
		Token:      testToken,
		PaymentKey: "bob@pix",
		Amount:     100,
		Network:    "celo",
	})
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	if len(env.bank.Payments) != 1 {
		t.Fatalf("expected payout to have been sent, got %d", len(env.bank.Payments))
	}
}
