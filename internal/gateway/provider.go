package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

// PaymentProvider decides whether a proof evidences a real payment.
type PaymentProvider interface {
	VerifyPayment(ctx context.Context, proof domain.PaymentProof) error
}

// MockProvider accepts any proof that looks like a transaction reference:
// a 32-byte hex hash and a positive block number.
type MockProvider struct{}

func (MockProvider) VerifyPayment(_ context.Context, p domain.PaymentProof) error {
	if !isTxHash(p.TransactionHash) {
		return fmt.Errorf("gateway: malformed transaction hash %q: %w", p.TransactionHash, domain.ErrPaymentRejected)
	}
	if p.BlockNumber == 0 {
		return fmt.Errorf("gateway: missing block number: %w", domain.ErrPaymentRejected)
	}
	return nil
}

// TxReader is the subset of the RPC client the chain provider needs.
type TxReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// ChainProvider checks that the referenced transaction was mined, succeeded
// and was sent to the payment address. It does not decode token transfers.
type ChainProvider struct {
	reader TxReader
}

// NewChainProvider creates a ChainProvider reading through reader.
func NewChainProvider(reader TxReader) *ChainProvider {
	return &ChainProvider{reader: reader}
}

func (c *ChainProvider) VerifyPayment(ctx context.Context, p domain.PaymentProof) error {
	if !isTxHash(p.TransactionHash) {
		return fmt.Errorf("gateway: malformed transaction hash %q: %w", p.TransactionHash, domain.ErrPaymentRejected)
	}
	hash := common.HexToHash(p.TransactionHash)

	receipt, err := c.reader.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("gateway: transaction %s not mined: %w", p.TransactionHash, domain.ErrPaymentRejected)
	}
	if err != nil {
		return fmt.Errorf("gateway: receipt %s: %w", p.TransactionHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("gateway: transaction %s failed: %w", p.TransactionHash, domain.ErrPaymentRejected)
	}
	if p.BlockNumber != 0 && receipt.BlockNumber != nil && receipt.BlockNumber.Uint64() != p.BlockNumber {
		return fmt.Errorf("gateway: transaction %s mined in block %d, proof says %d: %w",
			p.TransactionHash, receipt.BlockNumber.Uint64(), p.BlockNumber, domain.ErrPaymentRejected)
	}

	tx, _, err := c.reader.TransactionByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("gateway: transaction %s: %w", p.TransactionHash, err)
	}
	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), p.PaymentAddress) {
		return fmt.Errorf("gateway: transaction %s not sent to payment address: %w", p.TransactionHash, domain.ErrPaymentRejected)
	}
	return nil
}

func isTxHash(s string) bool {
	h, ok := strings.CutPrefix(s, "0x")
	if !ok || len(h) != 64 {
		return false
	}
	for _, r := range h {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

var (
	_ PaymentProvider = MockProvider{}
	_ PaymentProvider = (*ChainProvider)(nil)
)
