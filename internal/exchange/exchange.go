package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakepool/internal/ledger"
)

var (
	// ErrZeroAmount rejects liquidating nothing.
	ErrZeroAmount = errors.New("liquidation amount is zero")
	// ErrSwapAmountTooLow means the swap could not meet the slippage floor.
	ErrSwapAmountTooLow = errors.New("swap output below minimum acceptable")
	// ErrSwapExpired means the swap executed after its deadline window.
	ErrSwapExpired = errors.New("swap deadline passed")
)

// Router is the external swap service the adapter liquidates through.
type Router interface {
	Address() common.Address
	Quote(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	Swap(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline *big.Int) ([]*big.Int, error)
}

// Config holds liquidation parameters.
type Config struct {
	SettlementToken common.Address
	Custody         common.Address
	SlippageBps     uint64
	DeadlineOffset  time.Duration
}

// Adapter converts pool assets into settlement currency with a slippage floor
// and a bounded deadline. The received amount is measured as the custody
// balance delta, not taken from the router's return value.
type Adapter struct {
	cfg    Config
	router Router
	ledger ledger.Ledger
	now    func() time.Time
	logger *zap.Logger
}

// NewAdapter builds an Adapter with defaults of 50 bps slippage and a 300s
// deadline window.
func NewAdapter(cfg Config, router Router, lgr ledger.Ledger, logger *zap.Logger) *Adapter {
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 50
	}
	if cfg.DeadlineOffset <= 0 {
		cfg.DeadlineOffset = 300 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		router: router,
		ledger: lgr,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the adapter's time source.
func (a *Adapter) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Liquidate swaps amount of asset into the settlement token and returns the
// amount actually received by the custody account.
func (a *Adapter) Liquidate(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return nil, ErrZeroAmount
	}

	path := []common.Address{asset, a.cfg.SettlementToken}

	amounts, err := a.router.Quote(ctx, amount, path)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("quote returned no amounts")
	}
	expected := amounts[len(amounts)-1]

	minOut := new(big.Int).Mul(expected, big.NewInt(int64(10000-a.cfg.SlippageBps)))
	minOut.Quo(minOut, big.NewInt(10000))

	// The router pulls the asset from custody; top up the allowance when it
	// cannot cover this liquidation.
	granted, err := a.ledger.Allowance(ctx, asset, a.cfg.Custody, a.router.Address())
	if err != nil {
		return nil, fmt.Errorf("router allowance: %w", err)
	}
	if granted.Cmp(amount) < 0 {
		if err := a.ledger.Approve(ctx, asset, a.router.Address(), amount); err != nil {
			return nil, fmt.Errorf("approve router: %w", err)
		}
	}

	before, err := a.ledger.BalanceOf(ctx, a.cfg.SettlementToken, a.cfg.Custody)
	if err != nil {
		return nil, fmt.Errorf("balance before swap: %w", err)
	}

	deadline := big.NewInt(a.now().Add(a.cfg.DeadlineOffset).Unix())
	if _, err := a.router.Swap(ctx, amount, minOut, path, a.cfg.Custody, deadline); err != nil {
		return nil, classifySwapError(err)
	}

	after, err := a.ledger.BalanceOf(ctx, a.cfg.SettlementToken, a.cfg.Custody)
	if err != nil {
		return nil, fmt.Errorf("balance after swap: %w", err)
	}

	received := new(big.Int).Sub(after, before)
	if received.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("received %s, floor %s: %w", received, minOut, ErrSwapAmountTooLow)
	}

	a.logger.Info("liquidated",
		zap.String("asset", asset.Hex()),
		zap.String("amount_in", amount.String()),
		zap.String("expected", expected.String()),
		zap.String("received", received.String()),
	)

	return received, nil
}

// classifySwapError maps router revert reasons onto the adapter's sentinels.
func classifySwapError(err error) error {
	if errors.Is(err, ErrSwapAmountTooLow) || errors.Is(err, ErrSwapExpired) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "INSUFFICIENT_OUTPUT_AMOUNT"):
		return fmt.Errorf("%w: %v", ErrSwapAmountTooLow, err)
	case strings.Contains(msg, "EXPIRED"):
		return fmt.Errorf("%w: %v", ErrSwapExpired, err)
	default:
		return fmt.Errorf("swap: %w", err)
	}
}
