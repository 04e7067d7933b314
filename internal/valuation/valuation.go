package valuation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakepool/internal/allowlist"
	"stakepool/internal/ledger"
)

var (
	// ErrNoOracle means the asset has no oracle reference registered.
	ErrNoOracle = errors.New("no oracle registered for asset")
	// ErrStalePrice means the oracle never reported an update timestamp.
	ErrStalePrice = errors.New("oracle price never updated")
	// ErrInvalidPrice means the oracle price is zero or negative.
	ErrInvalidPrice = errors.New("oracle price is not positive")
)

// Source reports the latest value from one price feed.
type Source interface {
	LatestValue(ctx context.Context) (price *big.Int, updatedAt uint64, decimals uint8, err error)
}

// Opener resolves an oracle reference into a Source.
type Opener interface {
	Open(oracle common.Address) Source
}

// Client converts token amounts to settlement-currency value via price oracles.
// Informational only: settlement amounts come from actual liquidation, never
// from here.
type Client struct {
	allow  *allowlist.Allowlist
	ledger ledger.Ledger
	opener Opener
	logger *zap.Logger
}

// NewClient builds a valuation client over the allowlist's oracle references.
func NewClient(allow *allowlist.Allowlist, lgr ledger.Ledger, opener Opener, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{allow: allow, ledger: lgr, opener: opener, logger: logger}
}

var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ValueOf returns amount of asset expressed as an 18-decimal settlement value.
//
// value = amount * price * 10^18 / (10^tokenDecimals * 10^priceDecimals),
// truncating integer division.
func (c *Client) ValueOf(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	oracle, ok := c.allow.Oracle(asset)
	if !ok || oracle == (common.Address{}) {
		return nil, fmt.Errorf("asset %s: %w", asset.Hex(), ErrNoOracle)
	}

	price, updatedAt, priceDecimals, err := c.opener.Open(oracle).LatestValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", oracle.Hex(), err)
	}
	if updatedAt == 0 {
		return nil, fmt.Errorf("oracle %s: %w", oracle.Hex(), ErrStalePrice)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle %s: %w", oracle.Hex(), ErrInvalidPrice)
	}

	tokenDecimals, err := c.ledger.Decimals(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("token decimals: %w", err)
	}

	value := Convert(amount, price, tokenDecimals, priceDecimals)

	c.logger.Debug("valuation",
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()),
		zap.String("value", value.String()),
	)

	return value, nil
}

// Convert scales amount by price into an 18-decimal value with truncation.
func Convert(amount, price *big.Int, tokenDecimals, priceDecimals uint8) *big.Int {
	numerator := new(big.Int).Mul(amount, price)
	numerator.Mul(numerator, wad)

	denominator := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenDecimals)), nil)
	denominator.Mul(denominator, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(priceDecimals)), nil))

	return numerator.Quo(numerator, denominator)
}
