// Package engine reconciles bank deposits against on-chain token supply:
// matched deposits become mints, redemptions become payouts plus burns.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bankrails/internal/bank"
	"bankrails/internal/keylock"
	"bankrails/internal/ledger"
	"bankrails/internal/processed"
	"bankrails/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/gommon/log"
)

const defaultLookBack = 5 * time.Minute

// Observer receives settlement outcomes for metrics. All methods must be
// safe for concurrent use.
type Observer interface {
	MintSettled(status string)
	RedemptionSettled(status string)
	ReconcileRun(result string)
	WebhookEvent(kind string)
}

type nopObserver struct{}

func (nopObserver) MintSettled(string)       {}
func (nopObserver) RedemptionSettled(string) {}
func (nopObserver) ReconcileRun(string)      {}
func (nopObserver) WebhookEvent(string)      {}

// Stores bundles the persistence the engine needs.
type Stores struct {
	Connections state.ConnectionStore
	Links       state.LinkStore
	Cursors     state.CursorStore
	Processed   processed.Store
}

type Config struct {
	// BaseURL is the public address the aggregator redirects back to.
	BaseURL string
	// LookBack bounds the first fetch when no cursor exists yet.
	LookBack time.Duration
	// BankConfigured reports whether real aggregator credentials are wired;
	// false means the fallback client is in use.
	BankConfigured bool
	Observer       Observer
}

// Engine is the reconciliation core. One instance serializes work per token
// through an in-process keyed lock; horizontal scaling needs an external
// lock on top.
type Engine struct {
	cfg     Config
	bank    bank.Client
	ledgers map[string]ledger.Client
	stores  Stores
	locks   *keylock.Keyed
	obs     Observer
}

func New(cfg Config, bankClient bank.Client, ledgers map[string]ledger.Client, stores Stores) *Engine {
	if cfg.LookBack <= 0 {
		cfg.LookBack = defaultLookBack
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		cfg:     cfg,
		bank:    bankClient,
		ledgers: ledgers,
		stores:  stores,
		locks:   keylock.New(),
		obs:     obs,
	}
}

func (e *Engine) ledgerFor(network string) (ledger.Client, error) {
	lc, ok := e.ledgers[network]
	if !ok || lc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNetworkNotConfigured, network)
	}
	return lc, nil
}

// ConnectionRequest starts the bank-linkage flow for a token.
type ConnectionRequest struct {
	Token   string
	Network string
}

// ConnectionOffer is handed to the user to complete linkage in the
// aggregator's widget.
type ConnectionOffer struct {
	ConnectURL string    `json:"connectUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// CreateConnection opens an aggregator connect session and records the
// pending connection for the token.
func (e *Engine) CreateConnection(ctx context.Context, req ConnectionRequest) (ConnectionOffer, error) {
	if !common.IsHexAddress(req.Token) {
		return ConnectionOffer{}, fmt.Errorf("%w: token address", ErrValidation)
	}
	if e.bank == nil {
		return ConnectionOffer{}, fmt.Errorf("%w: bank aggregator", ErrConfiguration)
	}
	if e.cfg.BaseURL == "" {
		return ConnectionOffer{}, fmt.Errorf("%w: base url", ErrConfiguration)
	}
	if _, err := e.ledgerFor(req.Network); err != nil {
		return ConnectionOffer{}, err
	}

	session, err := e.bank.CreateConnection(ctx, e.cfg.BaseURL+"/callback/bank")
	if err != nil {
		return ConnectionOffer{}, fmt.Errorf("create bank connection: %w", err)
	}

	conn := state.Connection{
		Status:       state.StatusPending,
		Network:      req.Network,
		ConnectToken: session.ConnectToken,
		ConnectURL:   session.ConnectURL,
		ExpiresAt:    session.ExpiresAt,
	}
	if err := e.stores.Connections.Save(ctx, req.Token, conn); err != nil {
		return ConnectionOffer{}, fmt.Errorf("save connection: %w", err)
	}

	return ConnectionOffer{ConnectURL: session.ConnectURL, ExpiresAt: session.ExpiresAt}, nil
}

// WebhookEvent is the aggregator notification payload. Unknown types are
// ignored, not errors.
type WebhookEvent struct {
	Type   string `json:"type"`
	ItemID string `json:"itemId"`
}

const (
	eventConnectionSuccess = "CONNECTION_SUCCESS"
	eventAccountsUpdated   = "ACCOUNTS_UPDATED"
)

// HandleWebhookEvent reacts to aggregator notifications. Both known kinds
// end in a reconcile pass for the token bound to the item.
func (e *Engine) HandleWebhookEvent(ctx context.Context, event WebhookEvent) error {
	if event.Type == "" {
		return fmt.Errorf("%w: webhook event missing type", ErrValidation)
	}
	e.obs.WebhookEvent(event.Type)

	switch event.Type {
	case eventConnectionSuccess:
		if event.ItemID == "" {
			return fmt.Errorf("%w: %s event missing itemId", ErrValidation, event.Type)
		}
		if err := e.onConnectionSuccess(ctx, event.ItemID); err != nil {
			return err
		}
	case eventAccountsUpdated:
		if event.ItemID == "" {
			return fmt.Errorf("%w: %s event missing itemId", ErrValidation, event.Type)
		}
		if err := e.refreshBacking(ctx, event.ItemID); err != nil {
			return err
		}
	default:
		log.Infof("[Webhook] Ignoring event type %s", event.Type)
		return nil
	}

	token, _, err := e.stores.Connections.FindByItemID(ctx, event.ItemID)
	if err != nil || token == "" {
		return err
	}
	return e.Reconcile(ctx, token)
}

// onConnectionSuccess flips the pending connection to connected, links the
// bank account in the oracle and pushes the first backed balance.
func (e *Engine) onConnectionSuccess(ctx context.Context, itemID string) error {
	accounts, err := e.bank.FetchAccountSnapshot(ctx, itemID)
	if err != nil {
		return fmt.Errorf("fetch accounts for item %s: %w", itemID, err)
	}
	primary := accounts[0]

	token, conn, err := e.stores.Connections.FindByItemID(ctx, itemID)
	if err != nil {
		return err
	}
	if conn == nil {
		// First success event for this item: the aggregator may echo the
		// connect token before we ever saw the item id.
		token, conn, err = e.stores.Connections.FindByConnectToken(ctx, itemID)
		if err != nil {
			return err
		}
	}
	if conn == nil {
		log.Errorf("[Connect] No token found for item %s", itemID)
		return nil
	}

	conn.Status = state.StatusConnected
	conn.AccountID = primary.ID
	conn.ItemID = itemID
	if err := e.stores.Connections.Save(ctx, token, *conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	lc, err := e.ledgerFor(conn.Network)
	if err != nil {
		return err
	}
	oracle, err := lc.BackingOracle(ctx, token)
	if err != nil {
		return fmt.Errorf("resolve oracle: %w", err)
	}
	if _, err := lc.LinkAccount(ctx, oracle, token, primary.ID); err != nil {
		return fmt.Errorf("link account: %w", err)
	}

	minor := minorUnitsFromMajor(primary.BalanceMajor)
	if minor < 0 {
		return fmt.Errorf("account %s: %w", primary.ID, ledger.ErrInvalidBalance)
	}
	if _, err := lc.UpdateBalance(ctx, oracle, token, primary.ID, minor); err != nil {
		return fmt.Errorf("push initial balance: %w", err)
	}

	log.Infof("[Connect] Linked account %s to token %s on %s", primary.ID, token, conn.Network)
	return nil
}

// refreshBacking re-reads the connected account's balance and pushes it to
// the oracle. Runs on ACCOUNTS_UPDATED events and every poll tick.
func (e *Engine) refreshBacking(ctx context.Context, itemID string) error {
	token, conn, err := e.stores.Connections.FindByItemID(ctx, itemID)
	if err != nil {
		return err
	}
	if conn == nil || conn.Status != state.StatusConnected {
		return nil
	}

	accounts, err := e.bank.FetchAccountSnapshot(ctx, itemID)
	if err != nil {
		return fmt.Errorf("fetch accounts for item %s: %w", itemID, err)
	}

	lc, err := e.ledgerFor(conn.Network)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if account.ID != conn.AccountID {
			continue
		}
		minor := minorUnitsFromMajor(account.BalanceMajor)
		if minor < 0 {
			log.Errorf("[Backing] Negative balance for account %s, skipping update", account.ID)
			return nil
		}
		oracle, err := lc.BackingOracle(ctx, token)
		if err != nil {
			return fmt.Errorf("resolve oracle: %w", err)
		}
		if _, err := lc.UpdateBalance(ctx, oracle, token, account.ID, minor); err != nil {
			return fmt.Errorf("update backing: %w", err)
		}
		log.Infof("[Backing] Updated backing for token %s to %d minor units", token, minor)
		return nil
	}
	return nil
}

// LinkPaymentKey binds an external payment key to a destination wallet for a
// token. Input shape is validated; ownership gating is the caller's concern.
func (e *Engine) LinkPaymentKey(ctx context.Context, token, paymentKey, wallet string) error {
	if !common.IsHexAddress(token) {
		return fmt.Errorf("%w: token address", ErrValidation)
	}
	if !common.IsHexAddress(wallet) {
		return fmt.Errorf("%w: wallet address", ErrValidation)
	}
	if strings.TrimSpace(paymentKey) == "" {
		return fmt.Errorf("%w: payment key", ErrValidation)
	}
	return e.stores.Links.Save(ctx, token, paymentKey, wallet)
}

// Health reports the engine's configuration state.
type Health struct {
	BankConfigured bool `json:"bankConfigured"`
}

func (e *Engine) Health() Health {
	return Health{BankConfigured: e.cfg.BankConfigured}
}

// minorUnitsFromMajor converts a major-unit bank balance to centavo-style
// minor units, floored. It shares the decimal-string conversion with deposit
// amounts so a balance of 99.99 backs a 99.99 deposit exactly. Negative
// balances come back as -1.
func minorUnitsFromMajor(major float64) int64 {
	if major < 0 {
		return -1
	}
	units, err := toTokenUnits(major, 2)
	if err != nil || !units.IsInt64() {
		return -1
	}
	return units.Int64()
}
