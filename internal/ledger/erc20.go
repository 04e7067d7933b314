package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"stakepool/internal/chain"
)

// ERC20 implements Ledger against ERC20 token contracts.
//
// View calls go through eth_call; mutations are submitted as transactions from
// the configured signer and waited to inclusion so a reported success means the
// transfer actually happened.
type ERC20 struct {
	client *chain.Client
	opts   *bind.TransactOpts
	logger *zap.Logger

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewERC20 builds an ERC20 ledger. opts may be nil for a read-only ledger.
func NewERC20(client *chain.Client, opts *bind.TransactOpts, logger *zap.Logger) *ERC20 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ERC20{
		client:   client,
		opts:     opts,
		logger:   logger,
		decimals: make(map[common.Address]uint8),
	}
}

// BalanceOf returns the token balance held by account.
func (e *ERC20) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	values, err := e.call(ctx, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// Allowance returns the amount spender may pull from owner.
func (e *ERC20) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	values, err := e.call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// Decimals returns the token's decimals, cached after the first call.
func (e *ERC20) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	e.mu.RLock()
	dec, ok := e.decimals[token]
	e.mu.RUnlock()
	if ok {
		return dec, nil
	}

	values, err := e.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	raw, err := asBigInt(values[0])
	if err != nil {
		return 0, err
	}
	dec = uint8(raw.Uint64())

	e.mu.Lock()
	e.decimals[token] = dec
	e.mu.Unlock()

	return dec, nil
}

// TransferFrom pulls amount from the owner's approved allowance to the recipient.
func (e *ERC20) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	return e.transact(ctx, token, "transferFrom", from, to, amount)
}

// Transfer sends amount from the signer's balance to the recipient.
func (e *ERC20) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	return e.transact(ctx, token, "transfer", to, amount)
}

// Approve grants spender the right to pull amount from the signer's balance.
func (e *ERC20) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	return e.transact(ctx, token, "approve", spender, amount)
}

func (e *ERC20) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if e.client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	parsed, err := erc20ABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := e.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (e *ERC20) transact(ctx context.Context, token common.Address, method string, args ...interface{}) error {
	if e.client == nil {
		return fmt.Errorf("chain client is nil")
	}
	if e.opts == nil {
		return fmt.Errorf("ledger has no transactor")
	}
	parsed, err := erc20ABIInstance()
	if err != nil {
		return fmt.Errorf("parse erc20 abi: %w", err)
	}

	backend := e.client.Backend()
	contract := bind.NewBoundContract(token, parsed, backend, backend, backend)

	opts := *e.opts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	e.logger.Debug("token tx submitted",
		zap.String("token", token.Hex()),
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()),
	)

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return fmt.Errorf("wait %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s reverted: tx %s", method, tx.Hash().Hex())
	}

	return nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported numeric type %T", value)
	}
}
