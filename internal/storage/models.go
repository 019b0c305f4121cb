package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage labels recorded in the error log's source column.
const (
	SourceFetch     = "fetch"
	SourceValidate  = "validate"
	SourceTransform = "transform"
	SourceStore     = "store"
	SourceDispatch  = "dispatch"
)

// PriceRecord is one observation of one coin at one ingestion instant.
// Records are append-only; (CoinID, IngestedAt) is unique.
type PriceRecord struct {
	CoinID            string
	Symbol            string
	Name              string
	CurrentPrice      decimal.Decimal
	MarketCap         decimal.Decimal
	TotalVolume       decimal.Decimal
	PriceChangePct24h decimal.Decimal
	SourceUpdatedAt   time.Time
	IngestedAt        time.Time
}

// ErrorLogEntry is one pipeline failure observation, surfaced by the
// show command. Append-only, never updated.
type ErrorLogEntry struct {
	Message    string
	Source     string
	OccurredAt time.Time
}
