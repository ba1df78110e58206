package executor

import (
	"context"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// DryRun logs payloads instead of sending them and reports a synthetic hash.
type DryRun struct {
	seq    atomic.Uint64
	logger *slog.Logger
}

// NewDryRun creates a DryRun executor.
func NewDryRun(logger *slog.Logger) *DryRun {
	return &DryRun{logger: logger.With(slog.String("component", "executor"), slog.Bool("dry_run", true))}
}

func (d *DryRun) Execute(ctx context.Context, payload domain.TxPayload) domain.ExecutionResult {
	n := d.seq.Add(1)
	hash := ethcrypto.Keccak256Hash(payload.Target.Bytes(), payload.Data, common.BigToHash(new(big.Int).SetUint64(n)).Bytes())
	d.logger.InfoContext(ctx, "dry run: transaction not sent",
		slog.String("variant", payload.Variant),
		slog.String("target", payload.Target.Hex()),
		slog.String("data", common.Bytes2Hex(payload.Data)),
		slog.String("tx_hash", hash.Hex()),
	)
	return domain.ExecutionResult{Success: true, TxHash: hash.Hex()}
}

var _ Executor = (*DryRun)(nil)
