// Package chain reads the mandate and market registries and provides the
// lazily-dialled RPC client shared by the executor and payment verifier.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client wraps an ethclient.Client that is dialled on first use, so process
// start does not depend on the RPC endpoint being reachable.
type Client struct {
	url string

	mu  sync.Mutex
	eth *ethclient.Client
}

// NewClient returns a Client for the given RPC URL. No connection is made
// until the first call.
func NewClient(url string) *Client {
	return &Client{url: url}
}

func (c *Client) conn(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		return c.eth, nil
	}
	if c.url == "" {
		return nil, errors.New("chain: rpc url not configured")
	}
	eth, err := ethclient.DialContext(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	c.eth = eth
	return eth, nil
}

// CallContract implements Caller.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	return eth.CallContract(ctx, msg, blockNumber)
}

// PendingNonceAt returns the next nonce for account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	return eth.PendingNonceAt(ctx, account)
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	return eth.SuggestGasPrice(ctx)
}

// EstimateGas estimates the gas needed for msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	return eth.EstimateGas(ctx, msg)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	eth, err := c.conn(ctx)
	if err != nil {
		return err
	}
	return eth.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt of a mined transaction, or
// ethereum.NotFound while it is pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	return eth.TransactionReceipt(ctx, hash)
}

// TransactionByHash returns the transaction with the given hash.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	eth, err := c.conn(ctx)
	if err != nil {
		return nil, false, err
	}
	return eth.TransactionByHash(ctx, hash)
}

// Close releases the underlying connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

var _ Caller = (*Client)(nil)
