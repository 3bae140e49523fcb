package ledger

import (
	"github.com/shopspring/decimal"

	"voucherops/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ComputeFee returns the unrounded fee for amount under the given fee
// configuration. Rounding happens when the deposit record is built.
func ComputeFee(feeType string, feeValue decimal.Decimal, amount decimal.Decimal) (decimal.Decimal, error) {
	if feeValue.IsNegative() {
		return decimal.Zero, invalidf("fee value %s is negative", feeValue)
	}
	switch feeType {
	case domain.FeeTypeFixed:
		return feeValue, nil
	case domain.FeeTypePercentage:
		if amount.IsNegative() {
			return decimal.Zero, invalidf("amount %s is negative", amount)
		}
		return amount.Mul(feeValue).Div(hundred), nil
	default:
		return decimal.Zero, invalidf("unknown fee type %q", feeType)
	}
}

func IsValidFeeType(feeType string) bool {
	return feeType == domain.FeeTypeFixed || feeType == domain.FeeTypePercentage
}
