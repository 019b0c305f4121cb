package alerting

import (
	"sort"

	"github.com/shopspring/decimal"

	"coinwatch/internal/storage"
)

// rankEntry is one coin's position input in a market-cap ordering.
type rankEntry struct {
	coinID    string
	marketCap decimal.Decimal
}

// rankSnapshot computes 0-based market-cap ranks: descending by cap,
// ties broken by coin_id ascending so the ordering never depends on
// input or query order.
func rankSnapshot(records []storage.PriceRecord) map[string]int {
	entries := make([]rankEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, rankEntry{coinID: rec.CoinID, marketCap: rec.MarketCap})
	}

	sort.Slice(entries, func(i, j int) bool {
		cmp := entries[i].marketCap.Cmp(entries[j].marketCap)
		if cmp != 0 {
			return cmp > 0
		}
		return entries[i].coinID < entries[j].coinID
	})

	ranks := make(map[string]int, len(entries))
	for i, entry := range entries {
		ranks[entry.coinID] = i
	}
	return ranks
}
