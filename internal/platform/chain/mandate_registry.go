package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/mandatebot/internal/domain"
)

const mandateRegistryABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"},{"internalType":"address","name":"agent","type":"address"}],"name":"getMandate","outputs":[{"internalType":"address","name":"agent","type":"address"},{"internalType":"uint256","name":"maxTradeSize","type":"uint256"},{"internalType":"bytes32[]","name":"allowedMarkets","type":"bytes32[]"},{"internalType":"uint256","name":"expiryTime","type":"uint256"},{"internalType":"bool","name":"isActive","type":"bool"},{"internalType":"uint256","name":"createdAt","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var mandateRegistryABI = mustParseABI(mandateRegistryABIJSON)

// DefaultCallTimeout bounds registry reads when no timeout is configured.
const DefaultCallTimeout = 5 * time.Second

// MandateRegistry reads delegations from the authorization registry contract.
type MandateRegistry struct {
	caller  Caller
	address common.Address
	timeout time.Duration
}

// NewMandateRegistry creates a reader for the registry at address.
func NewMandateRegistry(caller Caller, address common.Address, timeout time.Duration) *MandateRegistry {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &MandateRegistry{caller: caller, address: address, timeout: timeout}
}

// GetMandate returns the mandate account granted to agent. A zero agent in
// the registry's answer means no mandate exists and yields domain.ErrNotFound.
func (r *MandateRegistry) GetMandate(ctx context.Context, account, agent common.Address) (domain.Mandate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := mandateRegistryABI.Pack("getMandate", account, agent)
	if err != nil {
		return domain.Mandate{}, fmt.Errorf("chain: pack getMandate: %w", err)
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: payload}, nil)
	if err != nil {
		return domain.Mandate{}, fmt.Errorf("chain: getMandate: %w", err)
	}
	out, err := mandateRegistryABI.Unpack("getMandate", res)
	if err != nil {
		return domain.Mandate{}, fmt.Errorf("chain: unpack getMandate: %w", err)
	}
	if len(out) != 6 {
		return domain.Mandate{}, fmt.Errorf("chain: getMandate returned %d values", len(out))
	}

	gotAgent, ok1 := out[0].(common.Address)
	maxSize, ok2 := out[1].(*big.Int)
	markets, ok3 := out[2].([][32]byte)
	expiry, ok4 := out[3].(*big.Int)
	active, ok5 := out[4].(bool)
	created, ok6 := out[5].(*big.Int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return domain.Mandate{}, fmt.Errorf("chain: getMandate: unexpected output types")
	}
	if gotAgent == (common.Address{}) {
		return domain.Mandate{}, domain.ErrNotFound
	}

	allowed := make([]string, 0, len(markets))
	for _, m := range markets {
		allowed = append(allowed, domain.FormatMarketID(m))
	}
	return domain.Mandate{
		Agent:          gotAgent.Hex(),
		MaxTradeSize:   maxSize,
		AllowedMarkets: allowed,
		ExpiryTime:     saturatingInt64(expiry),
		IsActive:       active,
		CreatedAt:      saturatingInt64(created),
	}, nil
}

// saturatingInt64 converts a uint256 timestamp, capping values that do not fit
// in int64. Registries use type(uint256).max for "never expires".
func saturatingInt64(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() < 0 {
		return math.MinInt64
	}
	return math.MaxInt64
}

func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
