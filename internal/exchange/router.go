package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"stakepool/internal/chain"
)

const routerABIJSON = `[
  {"inputs": [{"type": "uint256"}, {"type": "address[]"}], "name": "getAmountsOut", "outputs": [{"type": "uint256[]"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "uint256"}, {"type": "uint256"}, {"type": "address[]"}, {"type": "address"}, {"type": "uint256"}], "name": "swapExactTokensForTokens", "outputs": [{"type": "uint256[]"}], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	routerABI     abi.ABI
	routerABIOnce sync.Once
	routerABIErr  error
)

func routerABIInstance() (abi.ABI, error) {
	routerABIOnce.Do(func() {
		routerABI, routerABIErr = abi.JSON(strings.NewReader(routerABIJSON))
	})
	return routerABI, routerABIErr
}

// V2Router implements Router against a Uniswap V2-style router contract.
type V2Router struct {
	client *chain.Client
	opts   *bind.TransactOpts
	addr   common.Address
	logger *zap.Logger
}

// NewV2Router builds a V2Router at the given contract address.
func NewV2Router(client *chain.Client, opts *bind.TransactOpts, addr common.Address, logger *zap.Logger) *V2Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &V2Router{client: client, opts: opts, addr: addr, logger: logger}
}

// Address returns the router contract address.
func (r *V2Router) Address() common.Address {
	return r.addr
}

// Quote returns getAmountsOut for the path.
func (r *V2Router) Quote(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	parsed, err := routerABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}

	data, err := parsed.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	msg := ethereum.CallMsg{To: &r.addr, Data: data}
	resp, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}
	values, err := parsed.Unpack("getAmountsOut", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amounts type %T", values[0])
	}
	return amounts, nil
}

// Swap submits swapExactTokensForTokens and waits for inclusion. The returned
// amounts are nil; callers measure output via balance delta.
func (r *V2Router) Swap(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline *big.Int) ([]*big.Int, error) {
	if r.opts == nil {
		return nil, fmt.Errorf("router has no transactor")
	}
	parsed, err := routerABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}

	backend := r.client.Backend()
	contract := bind.NewBoundContract(r.addr, parsed, backend, backend, backend)

	opts := *r.opts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, "swapExactTokensForTokens", amountIn, minOut, path, recipient, deadline)
	if err != nil {
		return nil, fmt.Errorf("send swap: %w", err)
	}

	r.logger.Debug("swap submitted", zap.String("tx", tx.Hash().Hex()), zap.String("amount_in", amountIn.String()))

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait swap: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("swap reverted: tx %s", tx.Hash().Hex())
	}

	return nil, nil
}
