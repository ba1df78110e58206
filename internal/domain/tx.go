package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxPayload is a wire-ready call targeting a contract through the delegated
// account.
type TxPayload struct {
	Target  common.Address
	Value   *big.Int
	Data    []byte
	Variant string
}

// ExecutionResult reports the outcome of submitting a TxPayload. Failures are
// carried in Error rather than returned.
type ExecutionResult struct {
	Success bool
	TxHash  string
	Error   string
}
