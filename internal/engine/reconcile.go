package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"bankrails/internal/bank"
	"bankrails/internal/ledger"
	"bankrails/internal/processed"
	"bankrails/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/gommon/log"
)

// Reconcile runs one matching pass for a token: fetch bank transactions
// since the cursor, mint and transfer for every linked deposit, advance the
// cursor. Invocations for the same token are serialized; webhook and timer
// triggers share this path.
func (e *Engine) Reconcile(ctx context.Context, token string) error {
	if !common.IsHexAddress(token) {
		return fmt.Errorf("%w: token address", ErrValidation)
	}

	unlock := e.locks.Lock(strings.ToLower(token))
	defer unlock()

	conn, err := e.stores.Connections.Get(ctx, token)
	if err != nil {
		return err
	}
	if conn == nil || conn.Status != state.StatusConnected {
		e.obs.ReconcileRun("noop")
		return ErrNotConnected
	}

	lc, err := e.ledgerFor(conn.Network)
	if err != nil {
		e.obs.ReconcileRun("error")
		return err
	}

	since, err := e.stores.Cursors.Get(ctx, conn.ItemID, conn.AccountID)
	if err != nil {
		e.obs.ReconcileRun("error")
		return err
	}
	if since.IsZero() {
		since = time.Now().Add(-e.cfg.LookBack)
	}

	txs, err := e.bank.ListTransactions(ctx, conn.ItemID, conn.AccountID, since)
	if err != nil {
		// Transient aggregator failure: leave the cursor untouched so the
		// next trigger retries the same window.
		e.obs.ReconcileRun("error")
		return fmt.Errorf("list transactions: %w", err)
	}
	if len(txs) == 0 {
		e.obs.ReconcileRun("ok")
		return nil
	}

	// Hard safety gate, checked once per batch: minting only proceeds when
	// the operator key is the token's admin.
	admin, err := lc.AdminAddress(ctx, token)
	if err != nil {
		e.obs.ReconcileRun("error")
		return fmt.Errorf("resolve admin: %w", err)
	}
	if !strings.EqualFold(admin, lc.OperatorAddress()) {
		log.Errorf("[Reconcile] Operator %s is not admin %s of token %s, aborting batch",
			lc.OperatorAddress(), admin, token)
		e.obs.ReconcileRun("unauthorized")
		return fmt.Errorf("token %s: %w", token, ledger.ErrUnauthorized)
	}

	decimals, err := lc.Decimals(ctx, token)
	if err != nil {
		e.obs.ReconcileRun("error")
		return fmt.Errorf("resolve decimals: %w", err)
	}

	// The cursor is advanced to the timestamp of the last transaction in
	// the longest clean prefix of the batch. Settled transactions after a
	// failure stay behind the cursor but are remembered in the processed
	// ledger, so the retried fetch skips them without minting twice.
	var watermark time.Time
	cleanPrefix := true

	for _, tx := range txs {
		if err := e.settleDeposit(ctx, lc, token, conn, decimals, tx); err != nil {
			if errors.Is(err, ledger.ErrUnauthorized) {
				e.obs.ReconcileRun("unauthorized")
				return err
			}
			cleanPrefix = false
			continue
		}
		if cleanPrefix && tx.Timestamp.After(watermark) {
			watermark = tx.Timestamp
		}
	}

	if !watermark.IsZero() {
		if err := e.stores.Cursors.Advance(ctx, conn.ItemID, conn.AccountID, watermark); err != nil {
			e.obs.ReconcileRun("error")
			return fmt.Errorf("advance cursor: %w", err)
		}
	}

	e.obs.ReconcileRun("ok")
	return nil
}

// settleDeposit converts and settles a single bank transaction. A non-nil
// error means the transaction must be retried; skips (unlinked key,
// non-positive amount, already settled) are not failures.
func (e *Engine) settleDeposit(ctx context.Context, lc ledger.Client, token string, conn *state.Connection, decimals uint8, tx bank.Transaction) error {
	paymentKey := strings.TrimSpace(tx.Description)
	if paymentKey == "" {
		return nil
	}

	wallet, err := e.stores.Links.Resolve(ctx, token, paymentKey)
	if err != nil {
		log.Errorf("[Reconcile] Link lookup failed for token %s: %v", token, err)
		return err
	}
	if wallet == "" {
		return nil
	}
	if tx.AmountMajor <= 0 {
		return nil
	}

	units, err := toTokenUnits(tx.AmountMajor, decimals)
	if err != nil || units.Sign() <= 0 {
		return nil
	}

	key := processed.Key(conn.ItemID, conn.AccountID, tx.ID, tx.Timestamp, units.String(), tx.Description)
	seen, err := e.stores.Processed.Seen(ctx, key)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	if _, err := lc.MintToAdmin(ctx, token, units); err != nil {
		if errors.Is(err, ledger.ErrUnauthorized) {
			return err
		}
		log.Errorf("[Reconcile] Mint of %s units for token %s failed: %v", units, token, err)
		e.obs.MintSettled("failed")
		return err
	}

	rcpt, err := lc.Transfer(ctx, token, wallet, units)
	if err != nil {
		// Minted but unsent: funds sit in the operator wallet until manual
		// reconciliation. Never auto-reversed.
		log.Errorf("[Reconcile] ALERT %v: minted %s units of %s but transfer to %s failed: %v",
			ErrInconsistent, units, token, wallet, err)
		e.obs.MintSettled("inconsistent")
		return err
	}

	if err := e.stores.Processed.Mark(ctx, key, processed.Record{
		TxHash:      rcpt.TxHash,
		ProcessedAt: time.Now().UTC(),
	}); err != nil {
		// Settled on-chain but unrecorded: the retried fetch will re-mint
		// unless the operator repairs the record first.
		log.Errorf("[Reconcile] ALERT %v: minted %s units of %s (tx %s) but failed to record settlement: %v",
			ErrInconsistent, units, token, rcpt.TxHash, err)
		e.obs.MintSettled("inconsistent")
		return err
	}

	e.obs.MintSettled("settled")
	log.Infof("[Reconcile] Minted %s units of %s to %s", units, token, wallet)
	return nil
}

// toTokenUnits converts a major-unit amount into the token's smallest unit,
// truncating fractional dust below the token's precision. The float is
// rendered via its shortest decimal form so amounts like 19.99 scale
// exactly.
func toTokenUnits(major float64, decimals uint8) (*big.Int, error) {
	if major < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrValidation)
	}
	text := strconv.FormatFloat(major, 'f', -1, 64)

	whole, frac := text, ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		whole, frac = text[:i], text[i+1:]
	}
	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q", ErrValidation, text)
	}
	return units, nil
}
