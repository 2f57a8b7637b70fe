package fee

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/pvzzle/nonceguard/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBalances struct {
	bal   *big.Int
	err   error
	calls int
}

func (s *stubBalances) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	s.calls++
	return s.bal, s.err
}

var watched = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestComputeReplacementFee_Exact(t *testing.T) {
	// 3 wei above 2^64 to make sure nothing passes through uint64 or float64.
	huge, ok := new(big.Int).SetString("18446744073709551619", 10)
	require.True(t, ok)

	tests := []struct {
		name string
		fee  *big.Int
		bump int64
		want string
	}{
		{"ten percent of 100", big.NewInt(100), 10, "110"},
		{"bump 25", big.NewInt(100), 25, "125"},
		{"bump 100", big.NewInt(100), 100, "200"},
		{"fractional", big.NewInt(101), 10, "111.1"},
		{"gwei bump 25", gwei(33), 25, "41250000000"},
		{"beyond uint64 bump 10", huge, 10, "20291418481080506780.9"},
		{"beyond uint64 bump 100", huge, 100, "36893488147419103238"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeReplacementFee(tt.fee, tt.bump)
			want := decimal.RequireFromString(tt.want)
			assert.True(t, got.Equal(want), "got %s want %s", got, want)

			// reference: fee * (100 + bump) / 100 in exact rationals
			ref := new(big.Rat).SetFrac(new(big.Int).Mul(tt.fee, big.NewInt(100+tt.bump)), big.NewInt(100))
			assert.Equal(t, ref.FloatString(1), got.StringFixed(1))
		})
	}
}

func TestBumpFactor(t *testing.T) {
	assert.Equal(t, "1.1", BumpFactor(10).String())
	assert.Equal(t, "1.25", BumpFactor(25).String())
	assert.Equal(t, "2", BumpFactor(100).String())
}

func TestReplacementGasPrice_RoundsUp(t *testing.T) {
	assert.Equal(t, int64(110), ReplacementGasPrice(big.NewInt(100), 10).Int64())
	assert.Equal(t, int64(112), ReplacementGasPrice(big.NewInt(101), 10).Int64())
	assert.Equal(t, int64(0), ReplacementGasPrice(nil, 10).Int64())
}

func TestHasSufficientBalance_Boundary(t *testing.T) {
	tx := &chain.PendingTx{GasPrice: big.NewInt(100), Gas: 21000}
	// threshold = 110, so balance - 21000 must be >= 110
	boundary := big.NewInt(21000 + 110)

	tests := []struct {
		name string
		bal  *big.Int
		want bool
	}{
		{"well funded", big.NewInt(1_000_000), true},
		{"exactly at threshold", boundary, true},
		{"one wei short", new(big.Int).Sub(boundary, big.NewInt(1)), false},
		{"below fee limit", big.NewInt(20000), false},
		{"empty", big.NewInt(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bals := &stubBalances{bal: tt.bal}
			ok, err := NewEscalator(bals).HasSufficientBalance(context.Background(), watched, tx, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, 1, bals.calls)
		})
	}
}

func TestHasSufficientBalance_FractionalThreshold(t *testing.T) {
	tx := &chain.PendingTx{GasPrice: big.NewInt(101), Gas: 0}

	// threshold 111.1: 111 is strictly less, 112 is not
	ok, err := NewEscalator(&stubBalances{bal: big.NewInt(111)}).HasSufficientBalance(context.Background(), watched, tx, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewEscalator(&stubBalances{bal: big.NewInt(112)}).HasSufficientBalance(context.Background(), watched, tx, 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasSufficientBalance_QueryError(t *testing.T) {
	tx := &chain.PendingTx{GasPrice: big.NewInt(100), Gas: 21000}
	bals := &stubBalances{err: errors.New("connection reset")}

	ok, err := NewEscalator(bals).HasSufficientBalance(context.Background(), watched, tx, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkQueryFailed)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, ok)
	assert.Equal(t, 1, bals.calls, "no internal retry")
}

func TestHasSufficientBalance_NilBalance(t *testing.T) {
	tx := &chain.PendingTx{GasPrice: big.NewInt(100), Gas: 21000}

	_, err := NewEscalator(&stubBalances{}).HasSufficientBalance(context.Background(), watched, tx, 10)
	assert.ErrorIs(t, err, ErrNetworkQueryFailed)
}
