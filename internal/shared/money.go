package shared

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// RoundMoney rounds to 2 decimal places, half away from zero. Every monetary
// amount crossing a package boundary goes through this helper so .5 ties never
// depend on call-site rounding modes.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinMoney returns the smaller of two amounts.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NumericToDecimal converts a scanned pgtype.Numeric into a decimal amount.
func NumericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
