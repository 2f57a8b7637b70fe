package fee

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/pvzzle/nonceguard/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MinBumpPercent is the smallest fee bump nodes accept for a same-nonce replacement.
const MinBumpPercent = 10

var ErrNetworkQueryFailed = errors.New("network query failed")

type BalanceReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

var one = decimal.NewFromInt(1)

// BumpFactor returns 1 + bumpPercent/100.
func BumpFactor(bumpPercent int64) decimal.Decimal {
	return one.Add(decimal.New(bumpPercent, -2))
}

// ComputeReplacementFee returns feePerUnit * (1 + bumpPercent/100) without rounding.
func ComputeReplacementFee(feePerUnit *big.Int, bumpPercent int64) decimal.Decimal {
	if feePerUnit == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(feePerUnit, 0).Mul(BumpFactor(bumpPercent))
}

// ReplacementGasPrice is ComputeReplacementFee rounded up to whole wei.
func ReplacementGasPrice(feePerUnit *big.Int, bumpPercent int64) *big.Int {
	return ComputeReplacementFee(feePerUnit, bumpPercent).Ceil().BigInt()
}

type Escalator struct {
	balances BalanceReader
}

func NewEscalator(balances BalanceReader) *Escalator {
	return &Escalator{balances: balances}
}

// HasSufficientBalance reports whether balance - tx.Gas is at least the bumped fee
// per unit. The remainder is compared against the rate, not rate*limit.
func (e *Escalator) HasSufficientBalance(ctx context.Context, account common.Address, tx *chain.PendingTx, bumpPercent int64) (bool, error) {
	bal, err := e.balances.BalanceAt(ctx, account)
	if err != nil {
		return false, fmt.Errorf("%w: balance of %s: %v", ErrNetworkQueryFailed, account.Hex(), err)
	}
	if bal == nil {
		return false, fmt.Errorf("%w: balance of %s: empty result", ErrNetworkQueryFailed, account.Hex())
	}

	limit := new(big.Int).SetUint64(tx.Gas)
	remainder := decimal.NewFromBigInt(new(big.Int).Sub(bal, limit), 0)
	threshold := ComputeReplacementFee(tx.GasPrice, bumpPercent)

	return !remainder.LessThan(threshold), nil
}
