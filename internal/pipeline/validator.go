package pipeline

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Validate checks the raw batch payload. A payload that is not a JSON
// array of objects is a structural failure and returns a *StructuralError.
// Elements failing field-level checks are dropped and reported, one
// FieldError each, while the remaining elements continue. A batch with
// zero surviving elements is also a structural failure.
func Validate(raw json.RawMessage) ([]RawCoin, []FieldError, error) {
	var coins []RawCoin
	if err := json.Unmarshal(raw, &coins); err != nil {
		return nil, nil, &StructuralError{Reason: "payload is not a sequence of objects", Cause: err}
	}
	if len(coins) == 0 {
		return nil, nil, &StructuralError{Reason: "payload contains no elements"}
	}

	valid := make([]RawCoin, 0, len(coins))
	var rejected []FieldError

	for i, coin := range coins {
		if fieldErr := checkFields(i, coin); fieldErr != nil {
			rejected = append(rejected, *fieldErr)
			continue
		}
		valid = append(valid, coin)
	}

	if len(valid) == 0 {
		return nil, rejected, &StructuralError{Reason: "no element passed field validation"}
	}
	return valid, rejected, nil
}

func checkFields(index int, coin RawCoin) *FieldError {
	if coin.ID == "" {
		return &FieldError{Index: index, Field: "id", Reason: "is empty"}
	}
	if err := checkAmount(index, coin.ID, "current_price", coin.CurrentPrice); err != nil {
		return err
	}
	if err := checkAmount(index, coin.ID, "market_cap", coin.MarketCap); err != nil {
		return err
	}
	if err := checkAmount(index, coin.ID, "total_volume", coin.TotalVolume); err != nil {
		return err
	}
	// price_change_percentage_24h may be negative or absent entirely.
	return nil
}

func checkAmount(index int, coinID, field string, value *decimal.Decimal) *FieldError {
	if value == nil {
		return &FieldError{CoinID: coinID, Index: index, Field: field, Reason: "is missing or null"}
	}
	if value.IsNegative() {
		return &FieldError{CoinID: coinID, Index: index, Field: field, Reason: "is negative"}
	}
	return nil
}
