package pipeline

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"coinwatch/internal/storage"
)

// Transform normalises a validated batch into canonical records. Every
// record is stamped with the same ingestedAt instant so one run's records
// can be grouped against the previous run's. Pure: identical inputs yield
// identical outputs.
func Transform(coins []RawCoin, ingestedAt time.Time) ([]storage.PriceRecord, error) {
	records := make([]storage.PriceRecord, 0, len(coins))
	for _, coin := range coins {
		if coin.CurrentPrice == nil || coin.MarketCap == nil || coin.TotalVolume == nil {
			return nil, &TransformError{CoinID: coin.ID, Field: "amounts", Cause: errors.New("unvalidated element reached transformer")}
		}

		rec := storage.PriceRecord{
			CoinID:       coin.ID,
			Symbol:       coin.Symbol,
			Name:         coin.Name,
			CurrentPrice: *coin.CurrentPrice,
			MarketCap:    *coin.MarketCap,
			TotalVolume:  *coin.TotalVolume,
			IngestedAt:   ingestedAt,
		}

		if coin.PriceChangePct24h != nil {
			rec.PriceChangePct24h = *coin.PriceChangePct24h
		} else {
			rec.PriceChangePct24h = decimal.Zero
		}

		if coin.LastUpdated != "" {
			sourceUpdated, err := time.Parse(time.RFC3339, coin.LastUpdated)
			if err != nil {
				return nil, &TransformError{CoinID: coin.ID, Field: "last_updated", Cause: err}
			}
			rec.SourceUpdatedAt = sourceUpdated.UTC()
		}

		records = append(records, rec)
	}
	return records, nil
}
