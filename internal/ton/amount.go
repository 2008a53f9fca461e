package ton

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// 1 TON = 1_000_000_000 nanoTON. All engine math stays in decimal; the
// chain boundary converts to big.Int nanotons.

func ToNano(amount decimal.Decimal) *big.Int {
	return amount.Shift(9).Truncate(0).BigInt()
}

func FromNano(nano *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(nano, -9)
}
