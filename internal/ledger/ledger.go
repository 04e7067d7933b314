package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger abstracts the fungible-asset ledger the engine moves value on.
//
// Implementations shape calls only; they hold no pool logic. The engine treats
// every amount as opaque base units and never assumes decimals beyond what
// Decimals reports.
type Ledger interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}
