package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// Backend is the subset of the JSON-RPC client the adapters use.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client wraps a Backend with ABI-aware read helpers.
type Client struct {
	backend Backend
	logger  *slog.Logger
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rawURL string, timeout time.Duration, logger *slog.Logger) (*Client, *ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec, err := ethclient.DialContext(dialCtx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial: %w", err)
	}
	return NewClient(ec, logger), ec, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, logger *slog.Logger) *Client {
	return &Client{backend: backend, logger: logger.With(slog.String("component", "chain"))}
}

// Backend exposes the underlying RPC backend.
func (c *Client) Backend() Backend { return c.backend }

// Call packs a view call, executes it at the latest block and unpacks the
// outputs.
func (c *Client) Call(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return out, nil
}

// HasCode reports whether a contract is deployed at addr.
func (c *Client) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("chain: code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// Clock reads the latest block header.
func (c *Client) Clock(ctx context.Context) (domain.ClockContext, error) {
	h, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.ClockContext{}, fmt.Errorf("chain: latest header: %w", err)
	}
	return domain.ClockContext{
		Timestamp:   time.Unix(int64(h.Time), 0).UTC(),
		BlockNumber: h.Number.Uint64(),
	}, nil
}

// BalanceOf returns the ERC-20 balance of owner.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

// Allowance returns the ERC-20 allowance owner granted spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.Call(ctx, token, ERC20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

func bigOutput(out []any, i int) (*big.Int, error) {
	if len(out) <= i {
		return nil, fmt.Errorf("chain: expected %d outputs, got %d", i+1, len(out))
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: output %d is %T, want *big.Int", i, out[i])
	}
	return v, nil
}
