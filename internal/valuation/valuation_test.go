package valuation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/internal/allowlist"
)

var (
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	testToken  = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	testOracle = common.HexToAddress("0x00000000000000000000000000000000000000F1")
)

type stubSource struct {
	price     *big.Int
	updatedAt uint64
	decimals  uint8
	err       error
}

func (s *stubSource) LatestValue(_ context.Context) (*big.Int, uint64, uint8, error) {
	return s.price, s.updatedAt, s.decimals, s.err
}

type stubOpener struct {
	source *stubSource
}

func (o *stubOpener) Open(_ common.Address) Source {
	return o.source
}

type stubLedger struct {
	decimals uint8
}

func (l *stubLedger) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (l *stubLedger) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (l *stubLedger) TransferFrom(_ context.Context, _, _, _ common.Address, _ *big.Int) error {
	return nil
}

func (l *stubLedger) Transfer(_ context.Context, _, _ common.Address, _ *big.Int) error {
	return nil
}

func (l *stubLedger) Approve(_ context.Context, _, _ common.Address, _ *big.Int) error {
	return nil
}

func (l *stubLedger) Decimals(_ context.Context, _ common.Address) (uint8, error) {
	return l.decimals, nil
}

func newTestClient(t *testing.T, source *stubSource, tokenDecimals uint8) *Client {
	t.Helper()
	allow := allowlist.New(owner)
	if err := allow.Add(owner, testToken, testOracle); err != nil {
		t.Fatalf("seed allowlist: %v", err)
	}
	return NewClient(allow, &stubLedger{decimals: tokenDecimals}, &stubOpener{source: source}, nil)
}

func TestValueOf(t *testing.T) {
	// 2 tokens (18 decimals) at 3.50 (8-decimal price) is 7e18.
	source := &stubSource{price: big.NewInt(350000000), updatedAt: 1700000000, decimals: 8}
	client := newTestClient(t, source, 18)

	amount, _ := new(big.Int).SetString("2000000000000000000", 10)
	value, err := client.ValueOf(context.Background(), testToken, amount)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	want, _ := new(big.Int).SetString("7000000000000000000", 10)
	if value.Cmp(want) != 0 {
		t.Fatalf("value mismatch: %s != %s", value, want)
	}
}

func TestValueOfErrors(t *testing.T) {
	ctx := context.Background()

	client := newTestClient(t, &stubSource{price: big.NewInt(1), updatedAt: 1, decimals: 8}, 18)
	other := common.HexToAddress("0x00000000000000000000000000000000000000E2")
	if _, err := client.ValueOf(ctx, other, big.NewInt(1)); !errors.Is(err, ErrNoOracle) {
		t.Fatalf("expected ErrNoOracle, got %v", err)
	}

	client = newTestClient(t, &stubSource{price: big.NewInt(100), updatedAt: 0, decimals: 8}, 18)
	if _, err := client.ValueOf(ctx, testToken, big.NewInt(1)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	client = newTestClient(t, &stubSource{price: big.NewInt(0), updatedAt: 1, decimals: 8}, 18)
	if _, err := client.ValueOf(ctx, testToken, big.NewInt(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero price, got %v", err)
	}

	client = newTestClient(t, &stubSource{price: big.NewInt(-5), updatedAt: 1, decimals: 8}, 18)
	if _, err := client.ValueOf(ctx, testToken, big.NewInt(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative price, got %v", err)
	}
}

func TestConvertTruncates(t *testing.T) {
	cases := []struct {
		name          string
		amount        string
		price         string
		tokenDecimals uint8
		priceDecimals uint8
		want          string
	}{
		{"exact", "1000000000000000000", "100000000", 18, 8, "1000000000000000000"},
		{"two_decimal_token", "333", "100000000", 2, 8, "3330000000000000000"},
		{"truncates_to_zero", "1", "1", 18, 8, "0"},
		{"truncates_fraction", "3", "100000000", 18, 8, "3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount, _ := new(big.Int).SetString(tc.amount, 10)
			price, _ := new(big.Int).SetString(tc.price, 10)
			want, _ := new(big.Int).SetString(tc.want, 10)

			got := Convert(amount, price, tc.tokenDecimals, tc.priceDecimals)
			if got.Cmp(want) != 0 {
				t.Fatalf("convert mismatch: %s != %s", got, want)
			}
		})
	}
}
