package valuation

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"stakepool/internal/chain"
)

const feedABIJSON = `[
  {"inputs": [], "name": "latestRoundData", "outputs": [{"type": "uint80"}, {"type": "int256"}, {"type": "uint256"}, {"type": "uint256"}, {"type": "uint80"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

var (
	feedABI     abi.ABI
	feedABIOnce sync.Once
	feedABIErr  error
)

func feedABIInstance() (abi.ABI, error) {
	feedABIOnce.Do(func() {
		feedABI, feedABIErr = abi.JSON(strings.NewReader(feedABIJSON))
	})
	return feedABI, feedABIErr
}

// FeedOpener opens aggregator-style on-chain price feeds.
type FeedOpener struct {
	client *chain.Client
}

// NewFeedOpener builds a FeedOpener over the chain client.
func NewFeedOpener(client *chain.Client) *FeedOpener {
	return &FeedOpener{client: client}
}

// Open returns a Source reading the feed at the given address.
func (o *FeedOpener) Open(oracle common.Address) Source {
	return &feed{client: o.client, addr: oracle}
}

type feed struct {
	client *chain.Client
	addr   common.Address
}

// LatestValue reads latestRoundData and decimals from the aggregator.
func (f *feed) LatestValue(ctx context.Context) (*big.Int, uint64, uint8, error) {
	parsed, err := feedABIInstance()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("parse feed abi: %w", err)
	}

	values, err := f.callMethod(ctx, parsed, "latestRoundData")
	if err != nil {
		return nil, 0, 0, err
	}
	if len(values) < 4 {
		return nil, 0, 0, fmt.Errorf("latestRoundData returned %d values", len(values))
	}
	price, ok := values[1].(*big.Int)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unexpected answer type %T", values[1])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unexpected updatedAt type %T", values[3])
	}

	values, err = f.callMethod(ctx, parsed, "decimals")
	if err != nil {
		return nil, 0, 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return nil, 0, 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}

	return new(big.Int).Set(price), updatedAt.Uint64(), decimals, nil
}

func (f *feed) callMethod(ctx context.Context, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &f.addr, Data: data}
	resp, err := f.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
