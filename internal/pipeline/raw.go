package pipeline

import "github.com/shopspring/decimal"

// RawCoin mirrors one element of the CoinGecko /coins/markets response.
// Numeric fields are pointers so the validator can tell a missing or null
// field apart from a legitimate zero.
type RawCoin struct {
	ID                string           `json:"id"`
	Symbol            string           `json:"symbol"`
	Name              string           `json:"name"`
	CurrentPrice      *decimal.Decimal `json:"current_price"`
	MarketCap         *decimal.Decimal `json:"market_cap"`
	TotalVolume       *decimal.Decimal `json:"total_volume"`
	PriceChangePct24h *decimal.Decimal `json:"price_change_percentage_24h"`
	LastUpdated       string           `json:"last_updated"`
}
