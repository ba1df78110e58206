// Package executor submits built trade payloads through the agent's
// delegated smart account and reports the outcome as a value.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

const (
	DefaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = time.Second
	defaultDedupTTL       = 2 * time.Minute
)

const accountABIJSON = `[{
	"name": "execute",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [
		{"name": "target", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "data", "type": "bytes"}
	],
	"outputs": []
}]`

var accountABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(accountABIJSON))
	if err != nil {
		panic(fmt.Sprintf("executor: parse abi: %v", err))
	}
	return parsed
}()

// Executor submits a payload and reports the result. Implementations never
// return errors; failures are carried in the result.
type Executor interface {
	Execute(ctx context.Context, payload domain.TxPayload) domain.ExecutionResult
}

// Backend is the RPC surface the chain executor needs; satisfied by
// *chain.Client.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// TxSigner signs with the agent key; satisfied by *crypto.Signer.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Config parameterises a ChainExecutor.
type Config struct {
	Account        common.Address // delegated smart account
	GasLimit       uint64         // 0 estimates per call
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	DedupTTL       time.Duration
}

// ChainExecutor wraps payloads in the smart account's
// execute(target, value, data), signs with the agent key and waits for the
// receipt.
type ChainExecutor struct {
	cfg     Config
	backend Backend
	signer  TxSigner
	dedup   *Dedup
	logger  *slog.Logger
}

// NewChainExecutor creates a ChainExecutor.
func NewChainExecutor(cfg Config, backend Backend, signer TxSigner, logger *slog.Logger) *ChainExecutor {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &ChainExecutor{
		cfg:     cfg,
		backend: backend,
		signer:  signer,
		dedup:   NewDedup(cfg.DedupTTL),
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Execute submits payload. A payload identical to one that succeeded within
// the dedup window is refused without touching the chain.
func (e *ChainExecutor) Execute(ctx context.Context, payload domain.TxPayload) domain.ExecutionResult {
	log := e.logger.With(
		slog.String("variant", payload.Variant),
		slog.String("target", payload.Target.Hex()),
	)

	key := payloadKey(payload)
	if e.dedup.Seen(key) {
		log.WarnContext(ctx, "identical payload already executed, skipping")
		return domain.ExecutionResult{Error: "executor: identical payload executed within dedup window"}
	}

	hash, err := e.submit(ctx, payload)
	if err != nil {
		log.ErrorContext(ctx, "submission failed", slog.String("error", err.Error()))
		return domain.ExecutionResult{Error: err.Error()}
	}
	log.InfoContext(ctx, "transaction sent", slog.String("tx_hash", hash.Hex()))

	receipt, err := e.waitReceipt(ctx, hash)
	if err != nil {
		log.ErrorContext(ctx, "transaction not confirmed",
			slog.String("tx_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.ExecutionResult{TxHash: hash.Hex(), Error: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := fmt.Errorf("executor: tx %s: %w", hash.Hex(), domain.ErrExecutionReverted)
		log.ErrorContext(ctx, "transaction reverted", slog.String("tx_hash", hash.Hex()))
		return domain.ExecutionResult{TxHash: hash.Hex(), Error: err.Error()}
	}

	e.dedup.Mark(key)
	log.InfoContext(ctx, "transaction confirmed",
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return domain.ExecutionResult{Success: true, TxHash: hash.Hex()}
}

func (e *ChainExecutor) submit(ctx context.Context, payload domain.TxPayload) (common.Hash, error) {
	value := payload.Value
	if value == nil {
		value = new(big.Int)
	}
	data, err := accountABI.Pack("execute", payload.Target, value, payload.Data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: pack execute: %w", err)
	}

	from := e.signer.Address()
	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: gas price: %w", err)
	}

	account := e.cfg.Account
	gas := e.cfg.GasLimit
	if gas == 0 {
		est, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &account, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("executor: estimate gas: %w", err)
		}
		gas = est + est/5
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &account,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := e.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("executor: send: %w", err)
	}
	return signed.Hash(), nil
}

func (e *ChainExecutor) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("executor: receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("executor: waiting for receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func payloadKey(p domain.TxPayload) string {
	return p.Target.Hex() + ":" + common.Bytes2Hex(p.Data)
}

var _ Executor = (*ChainExecutor)(nil)
