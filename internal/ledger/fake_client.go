package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// FakeClient is an in-memory ledger used when no chain credentials are
// configured and by tests. It enforces the same invariants the contracts do:
// only the admin signer may mint, and total supply may never exceed the
// oracle's backed balance.
type FakeClient struct {
	mu sync.Mutex

	admin    string
	operator string
	decimals map[string]uint8

	backing  map[string]*big.Int // token -> backed balance in minor units
	supply   map[string]*big.Int // token -> total supply
	balances map[string]map[string]*big.Int
	linked   map[string]string // token -> bank account id

	MintCalls     int
	TransferCalls int
	BurnCalls     int
	PayoutDenied  bool
}

// NewFakeClient builds a fake ledger whose tokens all share one admin. The
// operator defaults to the admin, matching a correctly configured deployment.
func NewFakeClient(admin string) *FakeClient {
	return &FakeClient{
		admin:    admin,
		operator: admin,
		decimals: make(map[string]uint8),
		backing:  make(map[string]*big.Int),
		supply:   make(map[string]*big.Int),
		balances: make(map[string]map[string]*big.Int),
		linked:   make(map[string]string),
	}
}

// SetOperator detaches the signing identity from the admin, for exercising
// the authorization gate.
func (f *FakeClient) SetOperator(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operator = addr
}

// SetDecimals overrides the default of 2 decimals for a token.
func (f *FakeClient) SetDecimals(token string, d uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals[norm(token)] = d
}

// SetBacking seeds the oracle-backed balance without going through
// UpdateBalance, for test setup.
func (f *FakeClient) SetBacking(token string, minorUnits int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backing[norm(token)] = big.NewInt(minorUnits)
}

// Credit puts tokens directly into a holder's balance, for test setup.
func (f *FakeClient) Credit(token, holder string, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credit(norm(token), norm(holder), amount)
}

// Supply reports a token's current total supply.
func (f *FakeClient) Supply(token string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.supplyOf(norm(token)))
}

// LinkedAccount reports the bank account linked to a token in the oracle.
func (f *FakeClient) LinkedAccount(token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linked[norm(token)]
}

func (f *FakeClient) OperatorAddress() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.operator
}

func (f *FakeClient) Decimals(_ context.Context, token string) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.decimals[norm(token)]; ok {
		return d, nil
	}
	return 2, nil
}

func (f *FakeClient) AdminAddress(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admin, nil
}

func (f *FakeClient) BackingOracle(_ context.Context, token string) (string, error) {
	sum := sha256.Sum256([]byte("oracle:" + norm(token)))
	return "0x" + hex.EncodeToString(sum[:20]), nil
}

func (f *FakeClient) BalanceOf(_ context.Context, token, holder string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balanceOf(norm(token), norm(holder))), nil
}

func (f *FakeClient) MintToAdmin(_ context.Context, token string, amount *big.Int) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MintCalls++

	if !strings.EqualFold(f.operator, f.admin) {
		return Receipt{}, ErrUnauthorized
	}

	t := norm(token)
	backed := f.backing[t]
	if backed == nil {
		backed = big.NewInt(0)
	}
	next := new(big.Int).Add(f.supplyOf(t), amount)
	if next.Cmp(backed) > 0 {
		return Receipt{}, ErrBackingInsufficient
	}

	f.supply[t] = next
	f.credit(t, norm(f.admin), amount)
	return Receipt{TxHash: fakeHash("mint", t, amount.String())}, nil
}

func (f *FakeClient) Transfer(_ context.Context, token, to string, amount *big.Int) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransferCalls++

	t := norm(token)
	from := norm(f.operator)
	if f.balanceOf(t, from).Cmp(amount) < 0 {
		return Receipt{}, fmt.Errorf("transfer amount exceeds balance")
	}
	f.debit(t, from, amount)
	f.credit(t, norm(to), amount)
	return Receipt{TxHash: fakeHash("transfer", t, to, amount.String())}, nil
}

func (f *FakeClient) BurnFromOperator(_ context.Context, token string, amount *big.Int) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := norm(token)
	op := norm(f.operator)
	if f.balanceOf(t, op).Cmp(amount) < 0 {
		return Receipt{}, ErrInsufficientBalance
	}

	f.BurnCalls++
	f.debit(t, op, amount)
	f.supply[t] = new(big.Int).Sub(f.supplyOf(t), amount)
	return Receipt{TxHash: fakeHash("burn", t, amount.String())}, nil
}

func (f *FakeClient) LinkAccount(_ context.Context, _, token, accountID string) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked[norm(token)] = accountID
	return Receipt{TxHash: fakeHash("link", token, accountID)}, nil
}

func (f *FakeClient) UpdateBalance(_ context.Context, _, token, accountID string, minorUnits int64) (Receipt, error) {
	if minorUnits < 0 {
		return Receipt{}, ErrInvalidBalance
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backing[norm(token)] = big.NewInt(minorUnits)
	return Receipt{TxHash: fakeHash("update", token, accountID)}, nil
}

func (f *FakeClient) supplyOf(token string) *big.Int {
	if s := f.supply[token]; s != nil {
		return s
	}
	return big.NewInt(0)
}

func (f *FakeClient) balanceOf(token, holder string) *big.Int {
	if m := f.balances[token]; m != nil && m[holder] != nil {
		return m[holder]
	}
	return big.NewInt(0)
}

func (f *FakeClient) credit(token, holder string, amount *big.Int) {
	if f.balances[token] == nil {
		f.balances[token] = make(map[string]*big.Int)
	}
	f.balances[token][holder] = new(big.Int).Add(f.balanceOf(token, holder), amount)
}

func (f *FakeClient) debit(token, holder string, amount *big.Int) {
	f.balances[token][holder] = new(big.Int).Sub(f.balanceOf(token, holder), amount)
}

func norm(s string) string {
	return strings.ToLower(s)
}

func fakeHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "0x" + hex.EncodeToString(sum[:])
}
