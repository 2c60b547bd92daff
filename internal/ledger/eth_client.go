package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bankrails/internal/contracts"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient talks to the BankBackedToken and BankOracle contracts over JSON-RPC.
type EthClient struct {
	client    *ethclient.Client
	tokenABI  abi.ABI
	oracleABI abi.ABI
	chainID   *big.Int
	operator  common.Address
	transacts *bind.TransactOpts
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting transactions")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(contracts.BankBackedTokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	oracleABI, err := abi.JSON(strings.NewReader(contracts.BankOracleABI))
	if err != nil {
		return nil, fmt.Errorf("parse oracle abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	return &EthClient{
		client:    cli,
		tokenABI:  tokenABI,
		oracleABI: oracleABI,
		chainID:   chainID,
		operator:  crypto.PubkeyToAddress(pk.PublicKey),
		transacts: txOpts,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) OperatorAddress() string {
	return c.operator.Hex()
}

func (c *EthClient) token(addr string) *bind.BoundContract {
	return bind.NewBoundContract(common.HexToAddress(addr), c.tokenABI, c.client, c.client, c.client)
}

func (c *EthClient) oracle(addr string) *bind.BoundContract {
	return bind.NewBoundContract(common.HexToAddress(addr), c.oracleABI, c.client, c.client, c.client)
}

func (c *EthClient) Decimals(ctx context.Context, token string) (uint8, error) {
	var out []interface{}
	if err := c.token(token).Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (c *EthClient) AdminAddress(ctx context.Context, token string) (string, error) {
	var out []interface{}
	if err := c.token(token).Call(&bind.CallOpts{Context: ctx}, &out, "masterMinter"); err != nil {
		return "", fmt.Errorf("masterMinter: %w", err)
	}
	return abi.ConvertType(out[0], new(common.Address)).(*common.Address).Hex(), nil
}

func (c *EthClient) BackingOracle(ctx context.Context, token string) (string, error) {
	var out []interface{}
	if err := c.token(token).Call(&bind.CallOpts{Context: ctx}, &out, "bankOracle"); err != nil {
		return "", fmt.Errorf("bankOracle: %w", err)
	}
	return abi.ConvertType(out[0], new(common.Address)).(*common.Address).Hex(), nil
}

func (c *EthClient) BalanceOf(ctx context.Context, token, holder string) (*big.Int, error) {
	var out []interface{}
	err := c.token(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *EthClient) MintToAdmin(ctx context.Context, token string, amount *big.Int) (Receipt, error) {
	admin, err := c.AdminAddress(ctx, token)
	if err != nil {
		return Receipt{}, err
	}
	to := common.HexToAddress(admin)

	// Prefer the backed path; older token deployments only expose mint.
	rcpt, err := c.transact(ctx, c.token(token), "adminMintBacked", to, amount)
	if err == nil {
		return rcpt, nil
	}
	if mapped := mapRevert(err); mapped == ErrUnauthorized || mapped == ErrBackingInsufficient {
		return Receipt{}, mapped
	}

	rcpt, err = c.transact(ctx, c.token(token), "mint", to, amount)
	if err != nil {
		return Receipt{}, mapRevertOr(err, "mint")
	}
	return rcpt, nil
}

func (c *EthClient) Transfer(ctx context.Context, token, to string, amount *big.Int) (Receipt, error) {
	rcpt, err := c.transact(ctx, c.token(token), "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return Receipt{}, mapRevertOr(err, "transfer")
	}
	return rcpt, nil
}

func (c *EthClient) BurnFromOperator(ctx context.Context, token string, amount *big.Int) (Receipt, error) {
	balance, err := c.BalanceOf(ctx, token, c.operator.Hex())
	if err != nil {
		return Receipt{}, err
	}
	if balance.Cmp(amount) < 0 {
		return Receipt{}, ErrInsufficientBalance
	}

	rcpt, err := c.transact(ctx, c.token(token), "burn", amount)
	if err != nil {
		return Receipt{}, mapRevertOr(err, "burn")
	}
	return rcpt, nil
}

func (c *EthClient) LinkAccount(ctx context.Context, oracle, token, accountID string) (Receipt, error) {
	rcpt, err := c.transact(ctx, c.oracle(oracle), "linkAccount", common.HexToAddress(token), accountID)
	if err != nil {
		return Receipt{}, mapRevertOr(err, "linkAccount")
	}
	return rcpt, nil
}

func (c *EthClient) UpdateBalance(ctx context.Context, oracle, token, accountID string, minorUnits int64) (Receipt, error) {
	if minorUnits < 0 {
		return Receipt{}, ErrInvalidBalance
	}
	rcpt, err := c.transact(ctx, c.oracle(oracle), "updateBalance",
		common.HexToAddress(token), accountID, big.NewInt(minorUnits))
	if err != nil {
		return Receipt{}, mapRevertOr(err, "updateBalance")
	}
	return rcpt, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

// transact submits a mutating call and blocks until the receipt is available.
func (c *EthClient) transact(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (Receipt, error) {
	opts := *c.transacts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, params...)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s tx: %w", method, err)
	}

	receipt, err := waitForReceipt(ctx, c.client, tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s confirm: %w", method, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return Receipt{}, fmt.Errorf("%s reverted in tx %s", method, tx.Hash().Hex())
	}
	return Receipt{TxHash: tx.Hash().Hex()}, nil
}

// waitForReceipt polls until the transaction is mined or the context ends.
func waitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// mapRevert translates known contract revert reasons into sentinel errors.
func mapRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "masterminter"):
		return ErrUnauthorized
	case strings.Contains(msg, "backing"), strings.Contains(msg, "exceeds bank balance"):
		return ErrBackingInsufficient
	}
	return nil
}

func mapRevertOr(err error, method string) error {
	if mapped := mapRevert(err); mapped != nil {
		return mapped
	}
	return fmt.Errorf("%s: %w", method, err)
}
