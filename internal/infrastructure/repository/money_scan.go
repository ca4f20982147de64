package repository

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/brightlane/auctionhouse/internal/domain/values"
)

// moneyFromScan builds a Money value from a raw decimal amount and
// currency code as returned by the driver's row scan.
func moneyFromScan(rawAmount interface{}, currency string) (values.Money, error) {
	dec, err := toDecimal(rawAmount)
	if err != nil {
		return values.Money{}, fmt.Errorf("convert amount: %w", err)
	}
	return values.NewMoney(dec, currency)
}

func toDecimal(raw interface{}) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case *decimal.Decimal:
		return *v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return decimal.NewFromString(v)
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported amount scan type %T", raw)
	}
}
