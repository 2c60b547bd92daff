package engine

import (
	"context"
	"fmt"
	"strings"

	"bankrails/internal/bank"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/gommon/log"
)

// RedemptionRequest asks to convert custodied tokens back into a bank
// payout. The caller must already have transferred the tokens to the
// operator wallet; the engine never pulls funds.
type RedemptionRequest struct {
	Token      string
	PaymentKey string
	Amount     float64
	Network    string
}

// Redeem pays out to the payment key and burns the custodied tokens. Success
// means both the payout submission and the burn confirmation completed. A
// burn failure after a successful payout is a fatal inconsistency surfaced
// to the operator, not reversed.
func (e *Engine) Redeem(ctx context.Context, req RedemptionRequest) error {
	if !common.IsHexAddress(req.Token) {
		e.obs.RedemptionSettled("rejected")
		return fmt.Errorf("%w: token address", ErrValidation)
	}
	if strings.TrimSpace(req.PaymentKey) == "" {
		e.obs.RedemptionSettled("rejected")
		return fmt.Errorf("%w: payment key", ErrValidation)
	}
	if req.Amount <= 0 {
		e.obs.RedemptionSettled("rejected")
		return fmt.Errorf("%w: amount must be > 0", ErrValidation)
	}

	lc, err := e.ledgerFor(req.Network)
	if err != nil {
		e.obs.RedemptionSettled("rejected")
		return err
	}

	decimals, err := lc.Decimals(ctx, req.Token)
	if err != nil {
		e.obs.RedemptionSettled("failed")
		return fmt.Errorf("resolve decimals: %w", err)
	}
	units, err := toTokenUnits(req.Amount, decimals)
	if err != nil {
		e.obs.RedemptionSettled("rejected")
		return err
	}

	balance, err := lc.BalanceOf(ctx, req.Token, lc.OperatorAddress())
	if err != nil {
		e.obs.RedemptionSettled("failed")
		return fmt.Errorf("read operator balance: %w", err)
	}
	if balance.Cmp(units) < 0 {
		e.obs.RedemptionSettled("rejected")
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCustody, balance, units)
	}

	// Payout source account, when one is connected for this token.
	var accountID string
	if conn, err := e.stores.Connections.Get(ctx, req.Token); err == nil && conn != nil {
		accountID = conn.AccountID
	}

	if e.bank == nil {
		e.obs.RedemptionSettled("rejected")
		return fmt.Errorf("%w: bank aggregator", ErrConfiguration)
	}
	if err := e.bank.InitiatePayment(ctx, bank.PaymentRequest{
		AccountID:    accountID,
		RecipientKey: req.PaymentKey,
		AmountMajor:  req.Amount,
	}); err != nil {
		e.obs.RedemptionSettled("failed")
		return fmt.Errorf("initiate payout: %w", err)
	}

	if _, err := lc.BurnFromOperator(ctx, req.Token, units); err != nil {
		// The payout already left the bank; nothing here reverses it.
		log.Errorf("[Redeem] ALERT: payout of %.2f to %s sent but burn failed: %v",
			req.Amount, req.PaymentKey, err)
		e.obs.RedemptionSettled("inconsistent")
		return fmt.Errorf("%w: burn after payout: %v", ErrInconsistent, err)
	}

	e.obs.RedemptionSettled("settled")
	log.Infof("[Redeem] Paid %.2f to %s and burned %s units of %s", req.Amount, req.PaymentKey, units, req.Token)
	return nil
}
