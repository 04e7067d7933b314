package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testAsset   = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	settleToken = common.HexToAddress("0x00000000000000000000000000000000000000E2")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	routerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000D2")
)

type stubRouter struct {
	quote   *big.Int
	swapErr error
	credit  *big.Int

	gotMinOut   *big.Int
	gotDeadline *big.Int
	gotPath     []common.Address

	ledger *stubBalances
}

func (r *stubRouter) Address() common.Address {
	return routerAddr
}

func (r *stubRouter) Quote(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return []*big.Int{new(big.Int).Set(amountIn), new(big.Int).Set(r.quote)}, nil
}

func (r *stubRouter) Swap(_ context.Context, _, minOut *big.Int, path []common.Address, _ common.Address, deadline *big.Int) ([]*big.Int, error) {
	r.gotMinOut = new(big.Int).Set(minOut)
	r.gotDeadline = new(big.Int).Set(deadline)
	r.gotPath = path
	if r.swapErr != nil {
		return nil, r.swapErr
	}
	r.ledger.balance.Add(r.ledger.balance, r.credit)
	return nil, nil
}

type approval struct {
	token   common.Address
	spender common.Address
	amount  *big.Int
}

type stubBalances struct {
	balance   *big.Int
	allowance *big.Int
	approvals []approval
}

func (l *stubBalances) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(l.balance), nil
}

func (l *stubBalances) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	if l.allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(l.allowance), nil
}

func (l *stubBalances) TransferFrom(_ context.Context, _, _, _ common.Address, _ *big.Int) error {
	return nil
}

func (l *stubBalances) Transfer(_ context.Context, _, _ common.Address, _ *big.Int) error {
	return nil
}

func (l *stubBalances) Approve(_ context.Context, token, spender common.Address, amount *big.Int) error {
	l.approvals = append(l.approvals, approval{token, spender, new(big.Int).Set(amount)})
	return nil
}

func (l *stubBalances) Decimals(_ context.Context, _ common.Address) (uint8, error) {
	return 18, nil
}

func newTestAdapter(router *stubRouter) *Adapter {
	adapter := NewAdapter(Config{
		SettlementToken: settleToken,
		Custody:         custodyAddr,
		SlippageBps:     50,
		DeadlineOffset:  300 * time.Second,
	}, router, router.ledger, nil)
	adapter.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	return adapter
}

func TestLiquidate(t *testing.T) {
	router := &stubRouter{
		quote:  big.NewInt(2000),
		credit: big.NewInt(1999),
		ledger: &stubBalances{balance: big.NewInt(0)},
	}
	adapter := newTestAdapter(router)

	received, err := adapter.Liquidate(context.Background(), testAsset, big.NewInt(20))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Received is the balance delta, not the quote.
	if received.Int64() != 1999 {
		t.Fatalf("received mismatch: %d", received.Int64())
	}
	// minOut = 2000 * 9950 / 10000 = 1990.
	if router.gotMinOut.Int64() != 1990 {
		t.Fatalf("minOut mismatch: %d", router.gotMinOut.Int64())
	}
	if router.gotDeadline.Int64() != 1700000300 {
		t.Fatalf("deadline mismatch: %d", router.gotDeadline.Int64())
	}
	if len(router.gotPath) != 2 || router.gotPath[0] != testAsset || router.gotPath[1] != settleToken {
		t.Fatalf("path mismatch: %v", router.gotPath)
	}
}

func TestLiquidateZeroAmount(t *testing.T) {
	router := &stubRouter{quote: big.NewInt(1), credit: big.NewInt(1), ledger: &stubBalances{balance: big.NewInt(0)}}
	adapter := newTestAdapter(router)

	if _, err := adapter.Liquidate(context.Background(), testAsset, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := adapter.Liquidate(context.Background(), testAsset, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount for nil, got %v", err)
	}
}

func TestLiquidateClassifiesRouterErrors(t *testing.T) {
	cases := []struct {
		name    string
		swapErr error
		want    error
	}{
		{"slippage", fmt.Errorf("execution reverted: UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT"), ErrSwapAmountTooLow},
		{"expired", fmt.Errorf("execution reverted: UniswapV2Router: EXPIRED"), ErrSwapExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := &stubRouter{
				quote:   big.NewInt(2000),
				swapErr: tc.swapErr,
				ledger:  &stubBalances{balance: big.NewInt(0)},
			}
			adapter := newTestAdapter(router)

			_, err := adapter.Liquidate(context.Background(), testAsset, big.NewInt(20))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLiquidateApprovesRouter(t *testing.T) {
	router := &stubRouter{
		quote:  big.NewInt(2000),
		credit: big.NewInt(1999),
		ledger: &stubBalances{balance: big.NewInt(0)},
	}
	adapter := newTestAdapter(router)

	if _, err := adapter.Liquidate(context.Background(), testAsset, big.NewInt(20)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if len(router.ledger.approvals) != 1 {
		t.Fatalf("approval count mismatch: %d", len(router.ledger.approvals))
	}
	got := router.ledger.approvals[0]
	if got.token != testAsset || got.spender != routerAddr || got.amount.Int64() != 20 {
		t.Fatalf("approval mismatch: %+v", got)
	}

	// A standing allowance covering the amount skips the approve transaction.
	router.ledger.allowance = big.NewInt(100)
	router.ledger.balance = big.NewInt(0)
	if _, err := adapter.Liquidate(context.Background(), testAsset, big.NewInt(20)); err != nil {
		t.Fatalf("liquidate with allowance: %v", err)
	}
	if len(router.ledger.approvals) != 1 {
		t.Fatalf("unexpected extra approval: %+v", router.ledger.approvals)
	}
}

func TestLiquidateRejectsShortDelivery(t *testing.T) {
	// Swap succeeds but the measured delta lands under the floor.
	router := &stubRouter{
		quote:  big.NewInt(2000),
		credit: big.NewInt(1500),
		ledger: &stubBalances{balance: big.NewInt(0)},
	}
	adapter := newTestAdapter(router)

	_, err := adapter.Liquidate(context.Background(), testAsset, big.NewInt(20))
	if !errors.Is(err, ErrSwapAmountTooLow) {
		t.Fatalf("expected ErrSwapAmountTooLow, got %v", err)
	}
}
